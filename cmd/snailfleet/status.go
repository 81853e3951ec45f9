package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/snailsec/snailfleet/internal/config"
	"github.com/snailsec/snailfleet/internal/libvirt"
	"github.com/snailsec/snailfleet/internal/output"
	"github.com/snailsec/snailfleet/internal/probe"
	"github.com/snailsec/snailfleet/internal/vm"
)

var (
	outputFormat string
	noHeaders    bool
	noColor      bool
	probeAgents  bool
)

var statusCmd = &cobra.Command{
	Use:     "status",
	Aliases: []string{"list"},
	Short:   "Show fleet instances and their state",
	Long: `Show every fleet instance with its power state and IP address.

With --probe, each running instance is also contacted over SSH to check
whether the agent bootstrap has finished, adding an AGENT column with
ready, setting-up, or unreachable.

Output formats:
  -o table  Human-readable table (default)
  -o json   JSON array of instances
  -o list   name:address pairs, one per line
  -o ips    bare addresses, one per line

Example:
  snailfleet status
  snailfleet status --probe
  snailfleet status -o ips | xargs -n1 ping -c1`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := output.ValidateFormat(outputFormat); err != nil {
			return err
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
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

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		instances, err := vm.ListFleet(ctx, client.Libvirt(), cfg.NamePrefix)
		if err != nil {
			return fmt.Errorf("failed to list fleet: %w", err)
		}

		if probeAgents {
			prober, err := probe.NewProber(cfg.Username, cfg.SSHKeyPath, cfg.SSHTimeout)
			if err != nil {
				return err
			}
			addrs := make([]string, len(instances))
			for i, inst := range instances {
				addrs[i] = inst.Address
			}
			states := prober.ProbeAll(ctx, addrs, cfg.Parallelism)
			for i := range instances {
				instances[i].Agent = string(states[i])
			}
		}

		formatter, err := output.NewFormatter(output.Options{
			Format:    output.Format(outputFormat),
			NoHeaders: noHeaders,
			NoColor:   noColor,
		})
		if err != nil {
			return err
		}

		result, err := formatter.FormatFleet(instances)
		if err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}

		fmt.Print(result)
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVarP(&outputFormat, "output", "o", "table", "output format: table, json, list, ips")
	statusCmd.Flags().BoolVar(&noHeaders, "no-headers", false, "omit the table header row")
	statusCmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored state output")
	statusCmd.Flags().BoolVar(&probeAgents, "probe", false, "check agent bootstrap over SSH")
}
