package output

import (
	"encoding/json"
	"fmt"

	"github.com/snailsec/snailfleet/internal/vm"
)

// JSONFormatter formats fleet status as JSON.
type JSONFormatter struct{}

// FormatFleet formats a list of instances as a JSON array.
func (f *JSONFormatter) FormatFleet(instances []vm.InstanceStatus) (string, error) {
	if len(instances) == 0 {
		return "[]\n", nil
	}

	data, err := json.MarshalIndent(instances, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal instances to JSON: %w", err)
	}

	return string(data) + "\n", nil
}
