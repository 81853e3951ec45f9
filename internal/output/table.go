package output

import (
	"bytes"
	"fmt"
	"text/tabwriter"

	"github.com/snailsec/snailfleet/internal/vm"
)

// ANSI color codes
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
)

// TableFormatter formats fleet status as a human-readable table.
type TableFormatter struct {
	// NoHeaders omits the header row.
	NoHeaders bool
	// NoColor prints states without ANSI colors.
	NoColor bool
}

// FormatFleet formats a list of instances as a table. The AGENT column only
// appears when at least one instance carries a probed agent state.
//
// STATE stays in the last column: its color codes are invisible on the
// terminal but count toward tabwriter's width math, which would skew every
// column after it.
func (f *TableFormatter) FormatFleet(instances []vm.InstanceStatus) (string, error) {
	if len(instances) == 0 {
		return "No instances found\n", nil
	}

	withAgent := false
	for _, inst := range instances {
		if inst.Agent != "" {
			withAgent = true
			break
		}
	}

	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	if !f.NoHeaders {
		if withAgent {
			_, _ = fmt.Fprintln(w, "NAME\tADDRESS\tAGENT\tSTATE")
		} else {
			_, _ = fmt.Fprintln(w, "NAME\tADDRESS\tSTATE")
		}
	}

	for _, inst := range instances {
		addr := inst.Address
		if addr == "" {
			addr = "-"
		}

		if withAgent {
			agent := inst.Agent
			if agent == "" {
				agent = "-"
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				inst.Name, addr, agent, f.colorState(inst.State))
		} else {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n",
				inst.Name, addr, f.colorState(inst.State))
		}
	}

	_ = w.Flush()
	return buf.String(), nil
}

// colorState wraps a domain state in the color operators read at a glance:
// green for running, red for shut off, yellow for everything in between.
func (f *TableFormatter) colorState(state string) string {
	if f.NoColor {
		return state
	}

	switch state {
	case "running":
		return colorGreen + state + colorReset
	case "shut off":
		return colorRed + state + colorReset
	default:
		return colorYellow + state + colorReset
	}
}
