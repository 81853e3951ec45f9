package output

import (
	"strings"

	"github.com/snailsec/snailfleet/internal/vm"
)

// IPsFormatter prints only the assigned addresses, one per line. Instances
// still waiting on a lease are omitted entirely, so the output feeds
// straight into tools that expect addresses.
type IPsFormatter struct{}

// FormatFleet formats a list of instances as bare addresses.
func (f *IPsFormatter) FormatFleet(instances []vm.InstanceStatus) (string, error) {
	var sb strings.Builder
	for _, inst := range instances {
		if inst.Address == "" {
			continue
		}
		sb.WriteString(inst.Address + "\n")
	}
	return sb.String(), nil
}
