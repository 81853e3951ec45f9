package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/snailsec/snailfleet/internal/config"
	"github.com/snailsec/snailfleet/internal/fleet"
	"github.com/snailsec/snailfleet/internal/image"
)

var imageCmd = &cobra.Command{
	Use:   "image",
	Short: "Manage cached base images",
	Long: `Manage the distribution cloud images that fleet instances boot from.

Base images are downloaded once per (distribution, version) pair and
cached in the image directory; instance disks are thin qcow2 overlays
on top of them, so the cache is shared by every fleet.`,
}

func init() {
	imageCmd.AddCommand(imageSetupCmd)
	imageCmd.AddCommand(imageListCmd)
}

var imageSetupCmd = &cobra.Command{
	Use:   "setup <distribution> <version>",
	Short: "Download and cache one base image",
	Long: `Fetch the cloud image for a distribution release and cache it under
its canonical name in the image directory. A valid cached copy is
reused without touching the network, so setup is safe to re-run.

Example:
  snailfleet image setup fedora 42
  snailfleet image setup ubuntu 24.04`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		logger := newLogger(cfg.LogLevel)

		specs, err := fleet.ParseSpecs(args[0]+":"+args[1], fleet.Distribution(cfg.DefaultDistribution))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		fmt.Printf("Setting up base image for %s...\n", specs[0])

		resolver := image.NewResolver(cfg.ImageDir, logger)
		base, err := resolver.Resolve(ctx, specs[0])
		if err != nil {
			return fmt.Errorf("failed to set up image for %s: %w", specs[0], err)
		}

		fmt.Printf("✓ Image ready: %s\n", base.LocalPath)
		return nil
	},
}

var imageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached base images",
	Long: `List the base images cached in the image directory.

The format column is detected from each image's magic bytes, not its
file name, so a mislabeled or truncated download shows up here.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		images, err := image.List(cfg.ImageDir)
		if err != nil {
			return err
		}

		if len(images) == 0 {
			fmt.Printf("No base images found in %s\n", cfg.ImageDir)
			return nil
		}

		fmt.Printf("%-40s %-8s %10s  %s\n", "NAME", "FORMAT", "SIZE", "PATH")
		fmt.Println(strings.Repeat("-", 100))

		for _, img := range images {
			fmt.Printf("%-40s %-8s %8.1fGB  %s\n",
				img.Name,
				img.Format,
				img.SizeGB(),
				img.Path,
			)
		}

		fmt.Printf("\nTotal: %d image(s)\n", len(images))
		return nil
	},
}
