package output

import (
	"fmt"
	"strings"

	"github.com/snailsec/snailfleet/internal/vm"
)

// ListFormatter prints one name:address line per instance, the shape shell
// loops want. Instances without a lease get "-" as the address.
type ListFormatter struct{}

// FormatFleet formats a list of instances as name:address lines.
func (f *ListFormatter) FormatFleet(instances []vm.InstanceStatus) (string, error) {
	var sb strings.Builder
	for _, inst := range instances {
		addr := inst.Address
		if addr == "" {
			addr = "-"
		}
		sb.WriteString(fmt.Sprintf("%s:%s\n", inst.Name, addr))
	}
	return sb.String(), nil
}
