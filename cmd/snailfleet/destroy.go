package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/snailsec/snailfleet/internal/config"
	"github.com/snailsec/snailfleet/internal/disk"
	"github.com/snailsec/snailfleet/internal/fleet"
	"github.com/snailsec/snailfleet/internal/libvirt"
	"github.com/snailsec/snailfleet/internal/vm"
)

var destroyForce bool

var destroyCmd = &cobra.Command{
	Use:   "destroy [vm-name]",
	Short: "Destroy fleet instances",
	Long: `Destroy a single instance by name, or the whole fleet when no name is
given.

Each instance is stopped, its domain undefined, and its overlay disk and
cloud-init seed removed. Whole-fleet teardown matches every domain whose
name starts with the configured prefix and removes the fleet manifest
once everything is gone. Base images are never touched.

Example:
  snailfleet destroy                          # whole fleet, with confirmation
  snailfleet destroy --force                  # whole fleet, no prompt
  snailfleet destroy snail-test-fedora-42-3   # one instance`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		logger := newLogger(cfg.LogLevel)

		client, err := libvirt.Connect(cfg.LibvirtSocket, 5*time.Second)
		if err != nil {
			return fmt.Errorf("failed to connect to libvirt: %w", err)
		}
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close libvirt connection: %v\n", closeErr)
			}
		}()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		disks := disk.NewManager(cfg.ImageDir, cfg.SeedDir, logger)

		if len(args) == 1 {
			name := args[0]
			if !destroyForce && !confirm(fmt.Sprintf("Destroy instance %s?", name)) {
				fmt.Println("Aborted.")
				return nil
			}
			if err := vm.DestroyInstance(ctx, client.Libvirt(), disks, name, logger); err != nil {
				return fmt.Errorf("failed to destroy %s: %w", name, err)
			}
			fmt.Printf("✓ Instance %s destroyed\n", name)
			return nil
		}

		// Whole-fleet teardown. List first so the prompt can say how much
		// it is about to remove.
		instances, err := vm.ListFleet(ctx, client.Libvirt(), cfg.NamePrefix)
		if err != nil {
			return fmt.Errorf("failed to list fleet: %w", err)
		}
		if len(instances) == 0 {
			fmt.Printf("No instances found with prefix %q\n", cfg.NamePrefix)
			if err := fleet.RemoveManifest(cfg.ManifestPath); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to remove manifest %s: %v\n", cfg.ManifestPath, err)
			}
			return nil
		}

		if !destroyForce && !confirm(fmt.Sprintf("Destroy %d instance(s) with prefix %q?", len(instances), cfg.NamePrefix)) {
			fmt.Println("Aborted.")
			return nil
		}

		destroyed, err := vm.DestroyFleet(ctx, client.Libvirt(), disks, cfg.NamePrefix, logger)
		if err != nil {
			return fmt.Errorf("failed to destroy fleet: %w", err)
		}

		if destroyed < len(instances) {
			return fmt.Errorf("destroyed %d of %d instance(s); the manifest was kept for the remainder",
				destroyed, len(instances))
		}

		if err := fleet.RemoveManifest(cfg.ManifestPath); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to remove manifest %s: %v\n", cfg.ManifestPath, err)
		}

		fmt.Printf("✓ Destroyed %d instance(s)\n", destroyed)
		return nil
	},
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyForce, "force", false, "skip the confirmation prompt")
}

// confirm prompts on stdout and reads a y/N answer from stdin. Anything
// other than an explicit yes declines, including a closed stdin.
func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}
