package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/snailsec/snailfleet/internal/config"
	"github.com/snailsec/snailfleet/internal/disk"
	"github.com/snailsec/snailfleet/internal/fleet"
	"github.com/snailsec/snailfleet/internal/image"
	"github.com/snailsec/snailfleet/internal/libvirt"
	"github.com/snailsec/snailfleet/internal/output"
	"github.com/snailsec/snailfleet/internal/vm"
)

var createNoWait bool

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Provision a fleet of test VMs",
	Long: `Provision a fleet of virtual machines from distribution cloud images.

Each instance boots with a cloud-init seed that creates the test user,
installs the snail-core agent, and starts its scan timer. Instances that
already exist are left untouched, so create can be re-run to fill the
gaps after a partial failure.

Base images are downloaded on first use and cached in the image
directory. After provisioning, create waits until every instance has a
DHCP lease (skip with --no-wait) and prints the fleet status.

Example:
  snailfleet create
  snailfleet create --specs fedora:42,debian:12 --count 3
  snailfleet create --specs ubuntu:24.04 --count 1 --memory 4096 --vcpus 4`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		logger := newLogger(cfg.LogLevel)

		specs, err := fleet.ParseSpecs(cfg.DefaultSpecs, fleet.Distribution(cfg.DefaultDistribution))
		if err != nil {
			return err
		}

		// Preflight before any mutation.
		if _, err := exec.LookPath("qemu-img"); err != nil {
			return fmt.Errorf("qemu-img not found in PATH (install qemu-img or qemu-utils): %w", err)
		}

		client, err := libvirt.Connect(cfg.LibvirtSocket, 5*time.Second)
		if err != nil {
			return fmt.Errorf("failed to connect to libvirt: %w", err)
		}
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close libvirt connection: %v\n", closeErr)
			}
		}()

		if err := client.Ping(); err != nil {
			return err
		}

		disks := disk.NewManager(cfg.ImageDir, cfg.SeedDir, logger)
		if err := disks.CheckWritable(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Resolve one base image per spec. A spec whose image cannot be
		// resolved fails only its own instances; the rest of the fleet
		// still provisions.
		resolver := image.NewResolver(cfg.ImageDir, logger)
		images := make(map[fleet.VMSpec]image.BaseImage, len(specs))
		for _, spec := range specs {
			fmt.Printf("Resolving base image for %s...\n", spec)
			base, err := resolver.Resolve(ctx, spec)
			if err != nil {
				logger.Error("failed to resolve base image", "spec", spec.String(), "error", err)
				continue
			}
			images[spec] = base
		}

		prov, err := vm.NewProvisioner(cfg, client.Libvirt(), disks, logger)
		if err != nil {
			return err
		}

		req := fleet.FleetRequest{
			Specs:        specs,
			CountPerSpec: cfg.CountPerSpec,
			NamePrefix:   cfg.NamePrefix,
			MemoryMB:     cfg.MemoryMB,
			VCPUs:        cfg.VCPUs,
			DiskGB:       cfg.DiskGB,
		}
		total := len(req.Instances())

		fmt.Printf("Provisioning %d instance(s) across %d spec(s)...\n", total, len(specs))
		result := prov.ProvisionFleet(ctx, req, images)

		for _, f := range result.Failed {
			fmt.Fprintf(os.Stderr, "  ✗ %s: %v\n", f.Name, f.Err)
		}

		present := append(append([]string{}, result.Created...), result.Skipped...)
		if !createNoWait && len(present) > 0 {
			fmt.Printf("Waiting up to %s for %d instance(s) to acquire addresses...\n",
				cfg.PollTimeout, len(present))
			poll := vm.AwaitReachable(ctx, client.Libvirt(), present, cfg.PollTimeout, cfg.PollInterval, logger)
			if len(poll.Pending) > 0 {
				fmt.Fprintf(os.Stderr, "Warning: %d instance(s) had no address after %s: %v\n",
					len(poll.Pending), cfg.PollTimeout, poll.Pending)
			}
		}

		if len(present) > 0 {
			instances, err := vm.ListFleet(ctx, client.Libvirt(), cfg.NamePrefix)
			if err != nil {
				return fmt.Errorf("failed to list fleet: %w", err)
			}
			formatter, err := output.NewFormatter(output.Options{Format: output.FormatTable})
			if err != nil {
				return err
			}
			table, err := formatter.FormatFleet(instances)
			if err != nil {
				return fmt.Errorf("failed to format output: %w", err)
			}
			fmt.Println()
			fmt.Print(table)
		}

		fmt.Printf("\n✓ Created: %d  Skipped: %d  Failed: %d\n",
			len(result.Created), len(result.Skipped), len(result.Failed))

		if len(result.Failed) > 0 {
			return fmt.Errorf("%d of %d instance(s) failed to provision", len(result.Failed), total)
		}
		return nil
	},
}

func init() {
	createCmd.Flags().String("specs", "fedora:42", "comma-separated distribution:version specs to provision")
	createCmd.Flags().Int("count", 5, "number of instances per spec")
	createCmd.Flags().String("prefix", "snail-test", "name prefix for fleet instances")
	createCmd.Flags().Int("memory", 2048, "memory per instance in MiB")
	createCmd.Flags().Int("vcpus", 2, "vCPUs per instance")
	createCmd.Flags().Int("disk", 20, "boot disk size per instance in GiB")
	createCmd.Flags().Int("parallel", 1, "number of instances provisioned concurrently")
	createCmd.Flags().Duration("wait-timeout", 5*time.Minute, "how long to wait for instances to acquire addresses")
	createCmd.Flags().BoolVar(&createNoWait, "no-wait", false, "return immediately after starting instances")

	_ = viper.BindPFlag("default_specs", createCmd.Flags().Lookup("specs"))
	_ = viper.BindPFlag("count_per_spec", createCmd.Flags().Lookup("count"))
	_ = viper.BindPFlag("name_prefix", createCmd.Flags().Lookup("prefix"))
	_ = viper.BindPFlag("memory_mb", createCmd.Flags().Lookup("memory"))
	_ = viper.BindPFlag("vcpus", createCmd.Flags().Lookup("vcpus"))
	_ = viper.BindPFlag("disk_gb", createCmd.Flags().Lookup("disk"))
	_ = viper.BindPFlag("parallelism", createCmd.Flags().Lookup("parallel"))
	_ = viper.BindPFlag("poll_timeout", createCmd.Flags().Lookup("wait-timeout"))
}
