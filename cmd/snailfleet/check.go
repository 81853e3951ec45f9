package main

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/snailsec/snailfleet/internal/config"
	"github.com/snailsec/snailfleet/internal/disk"
	"github.com/snailsec/snailfleet/internal/libvirt"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the host environment",
	Long: `Check that the host can run fleets: required tools on PATH, libvirt
daemon reachable, and the image and seed directories writable.

Run this once on a new host before the first create.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		logger := newLogger(cfg.LogLevel)

		fmt.Println("Checking host environment...")

		qemuImg, err := exec.LookPath("qemu-img")
		if err != nil {
			return fmt.Errorf("qemu-img not found in PATH (install qemu-img or qemu-utils): %w", err)
		}
		fmt.Printf("✓ qemu-img: %s\n", qemuImg)

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

		ver, err := client.Version()
		if err != nil {
			return err
		}
		fmt.Printf("✓ Libvirt daemon: version %s\n", ver)

		hostname, err := client.Libvirt().ConnectGetHostname()
		if err != nil {
			return fmt.Errorf("failed to get hypervisor hostname: %w", err)
		}
		fmt.Printf("✓ Hypervisor hostname: %s\n", hostname)

		disks := disk.NewManager(cfg.ImageDir, cfg.SeedDir, logger)
		if err := disks.CheckWritable(); err != nil {
			return err
		}
		fmt.Printf("✓ Image directory writable: %s\n", cfg.ImageDir)
		fmt.Printf("✓ Seed directory writable: %s\n", cfg.SeedDir)

		// Only create needs the key pair, but catching a missing one here
		// saves a failed run later.
		if _, err := cfg.AuthorizedKey(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		} else {
			fmt.Printf("✓ SSH public key: %s\n", cfg.PublicKeyPath())
		}

		fmt.Println("\nEnvironment check successful!")
		return nil
	},
}
