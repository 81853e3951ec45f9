package vm

import (
	"context"
	"log/slog"
	"time"

	"github.com/digitalocean/go-libvirt"
)

// PollResult reports which instances acquired a DHCP lease before the
// deadline and which were still pending. Both slices preserve the order
// of the names passed in.
type PollResult struct {
	Ready   []string
	Pending []string
}

// AwaitReachable waits until every named domain holds at least one IPv4
// DHCP lease, or until timeout elapses. The first round runs immediately;
// later rounds run every interval. Partial readiness is reported, never
// treated as failure: a fleet where two of ten guests boot slowly is still
// a usable fleet, so this function returns a result rather than an error.
func AwaitReachable(ctx context.Context, lv libvirtClient, names []string, timeout, interval time.Duration, logger *slog.Logger) PollResult {
	if logger == nil {
		logger = slog.Default()
	}
	if len(names) == 0 {
		return PollResult{}
	}
	if interval <= 0 {
		interval = time.Second
	}

	ready := make(map[string]bool, len(names))

	round := func() bool {
		done := true
		for _, name := range names {
			if ready[name] {
				continue
			}
			if addr, ok := lookupLeaseAddress(lv, name); ok {
				ready[name] = true
				logger.Info("instance acquired address", "name", name, "address", addr)
				continue
			}
			done = false
		}
		return done
	}

	logger.Info("waiting for instances to acquire addresses",
		"count", len(names), "timeout", timeout)

	if round() {
		return splitByReadiness(names, ready)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			result := splitByReadiness(names, ready)
			logger.Warn("address polling canceled",
				"ready", len(result.Ready), "pending", len(result.Pending), "error", ctx.Err())
			return result
		case <-deadline.C:
			result := splitByReadiness(names, ready)
			logger.Warn("timed out waiting for addresses",
				"timeout", timeout, "ready", len(result.Ready), "pending", result.Pending)
			return result
		case <-ticker.C:
			if round() {
				return splitByReadiness(names, ready)
			}
		}
	}
}

func splitByReadiness(names []string, ready map[string]bool) PollResult {
	var result PollResult
	for _, name := range names {
		if ready[name] {
			result.Ready = append(result.Ready, name)
		} else {
			result.Pending = append(result.Pending, name)
		}
	}
	return result
}

// lookupLeaseAddress resolves a domain by name and returns its first IPv4
// lease address. Lookup or query failures read as "no lease yet".
func lookupLeaseAddress(lv libvirtClient, name string) (string, bool) {
	dom, err := lv.DomainLookupByName(name)
	if err != nil {
		return "", false
	}
	return leaseAddress(lv, dom)
}

// leaseAddress returns the first IPv4 DHCP lease address held by a domain.
// Guests that have not finished booting report no interfaces; that and any
// query error both read as "no lease yet".
func leaseAddress(lv libvirtClient, dom libvirt.Domain) (string, bool) {
	ifaces, err := lv.DomainInterfaceAddresses(dom, uint32(libvirt.DomainInterfaceAddressesSrcLease), 0)
	if err != nil {
		return "", false
	}

	for _, iface := range ifaces {
		for _, addr := range iface.Addrs {
			if addr.Type == int32(libvirt.IPAddrTypeIpv4) && addr.Addr != "" {
				return addr.Addr, true
			}
		}
	}

	return "", false
}
