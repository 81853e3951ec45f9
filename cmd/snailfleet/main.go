package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "snailfleet",
	Short: "Snailfleet - disposable libvirt VM fleets for agent testing",
	Long: `Snailfleet provisions, inspects, and tears down fleets of short-lived
libvirt VMs used to exercise the snail-core agent across Linux
distributions.

Every guest boots from a distribution cloud image with a cloud-init seed
that creates the test user, installs the agent, and starts its scan
timer, so a fresh fleet is ready for end-to-end runs within minutes of
creation. The whole fleet shares a name prefix and is destroyed in one
command when the run is over.`,
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

// cfgFile is the --config override; empty means the default search path.
var cfgFile string

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: ./snailfleet.yaml or ~/.config/snailfleet.yaml)")
}

func init() {
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(imageCmd)
	rootCmd.AddCommand(checkCmd)
}

// newLogger builds the process logger at the configured level. Log lines
// go to stderr so command output on stdout stays parseable.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
