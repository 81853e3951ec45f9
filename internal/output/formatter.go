// Package output renders fleet status for terminals and scripts
// (table, JSON, name:address lines, bare addresses).
package output

import (
	"fmt"

	"github.com/snailsec/snailfleet/internal/vm"
)

// Format represents an output format type.
type Format string

const (
	// FormatTable is a human-readable table with colored states.
	FormatTable Format = "table"
	// FormatJSON is a JSON array for machine consumption.
	FormatJSON Format = "json"
	// FormatList prints name:address lines for shell loops.
	FormatList Format = "list"
	// FormatIPs prints assigned addresses only.
	FormatIPs Format = "ips"
)

// Formatter renders a fleet status listing.
type Formatter interface {
	// FormatFleet formats the status of every fleet instance.
	FormatFleet(instances []vm.InstanceStatus) (string, error)
}

// Options contains options for formatting output.
type Options struct {
	// Format specifies the output format.
	Format Format
	// NoHeaders omits headers in table format.
	NoHeaders bool
	// NoColor suppresses ANSI colors in table format.
	NoColor bool
}

// NewFormatter creates a new Formatter based on the specified format.
func NewFormatter(opts Options) (Formatter, error) {
	switch opts.Format {
	case FormatTable:
		return &TableFormatter{NoHeaders: opts.NoHeaders, NoColor: opts.NoColor}, nil
	case FormatJSON:
		return &JSONFormatter{}, nil
	case FormatList:
		return &ListFormatter{}, nil
	case FormatIPs:
		return &IPsFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s (supported: table, json, list, ips)", opts.Format)
	}
}

// ValidateFormat checks if a format string is valid.
func ValidateFormat(format string) error {
	f := Format(format)
	switch f {
	case FormatTable, FormatJSON, FormatList, FormatIPs:
		return nil
	default:
		return fmt.Errorf("invalid format: %s (valid formats: table, json, list, ips)", format)
	}
}
