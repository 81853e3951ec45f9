package vm

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/digitalocean/go-libvirt"

	"github.com/snailsec/snailfleet/internal/fleet"
)

// InstanceStatus is one row of fleet status output.
type InstanceStatus struct {
	Name    string `json:"name"`
	State   string `json:"state"`
	Address string `json:"address,omitempty"`

	// Agent carries the SSH-probed agent setup state ("ready",
	// "setting-up", "unreachable"). Empty unless probing was requested.
	Agent string `json:"agent,omitempty"`
}

// ListFleet returns the status of every domain whose name starts with
// "<prefix>-", sorted with numeric awareness so instance 10 follows 9.
//
// A single misbehaving domain must not break the whole listing: state
// query failures degrade to "unknown" and missing leases to an empty
// address.
func ListFleet(ctx context.Context, lv libvirtClient, prefix string) ([]InstanceStatus, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	domains, _, err := lv.ConnectListAllDomains(1, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}

	fleetPrefix := prefix + "-"
	statuses := make([]InstanceStatus, 0, len(domains))
	for _, dom := range domains {
		if !strings.HasPrefix(dom.Name, fleetPrefix) {
			continue
		}

		addr, _ := leaseAddress(lv, dom)
		statuses = append(statuses, InstanceStatus{
			Name:    dom.Name,
			State:   domainState(lv, dom),
			Address: addr,
		})
	}

	sort.Slice(statuses, func(i, j int) bool {
		return fleet.NaturalLess(statuses[i].Name, statuses[j].Name)
	})

	return statuses, nil
}

func domainState(lv libvirtClient, dom libvirt.Domain) string {
	state, _, err := lv.DomainGetState(dom, 0)
	if err != nil {
		return "unknown"
	}
	return stateToString(state)
}

// stateToString converts a libvirt domain state to a human-readable string.
func stateToString(state int32) string {
	switch state {
	case 0:
		return "no state"
	case 1:
		return "running"
	case 2:
		return "blocked"
	case 3:
		return "paused"
	case 4:
		return "shutdown"
	case 5:
		return "shut off"
	case 6:
		return "crashed"
	case 7:
		return "pmsuspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}
