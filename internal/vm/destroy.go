package vm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/digitalocean/go-libvirt"

	"github.com/snailsec/snailfleet/internal/fleet"
)

// ErrNotFound reports a destroy request for a domain that is not registered.
var ErrNotFound = errors.New("domain not found")

// domainStateRunning is VIR_DOMAIN_RUNNING.
const domainStateRunning = 1

// DestroyInstance force-stops one instance, undefines it, and removes its
// disk artifacts.
//
// Fleet guests are disposable and hold nothing worth a graceful shutdown,
// so a running domain is destroyed outright. Undefine first asks libvirt
// to scrub managed save state, snapshot and checkpoint metadata, and NVRAM;
// daemons that reject those flags get a plain undefine instead. Artifact
// removal tolerates files that never existed.
func DestroyInstance(ctx context.Context, lv libvirtClient, artifacts artifactStore, name string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dom, err := lv.DomainLookupByName(name)
	if err != nil {
		if libvirt.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("failed to look up domain %s: %w", name, err)
	}

	state, _, err := lv.DomainGetState(dom, 0)
	if err != nil {
		logger.Warn("failed to read domain state, assuming running", "name", name, "error", err)
		state = domainStateRunning
	}

	if state == domainStateRunning {
		if err := lv.DomainDestroy(dom); err != nil {
			logger.Warn("force stop failed", "name", name, "error", err)
		}
	}

	undefineFlags := libvirt.DomainUndefineManagedSave |
		libvirt.DomainUndefineSnapshotsMetadata |
		libvirt.DomainUndefineNvram |
		libvirt.DomainUndefineCheckpointsMetadata
	if err := lv.DomainUndefineFlags(dom, undefineFlags); err != nil {
		if err := lv.DomainUndefine(dom); err != nil {
			return fmt.Errorf("failed to undefine domain %s: %w", name, err)
		}
	}

	if err := artifacts.Remove(name); err != nil {
		logger.Warn("failed to remove disk artifacts", "name", name, "error", err)
	}

	logger.Info("instance destroyed", "name", name)
	return nil
}

// DestroyFleet tears down every domain whose name starts with "<prefix>-"
// and returns the number destroyed. Zero matching domains is a no-op
// success. Per-instance failures are logged and skipped so one stuck guest
// cannot strand the rest of the fleet.
func DestroyFleet(ctx context.Context, lv libvirtClient, artifacts artifactStore, prefix string, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	domains, _, err := lv.ConnectListAllDomains(1, 0)
	if err != nil {
		return 0, fmt.Errorf("failed to list domains: %w", err)
	}

	fleetPrefix := prefix + "-"
	var names []string
	for _, dom := range domains {
		if strings.HasPrefix(dom.Name, fleetPrefix) {
			names = append(names, dom.Name)
		}
	}

	if len(names) == 0 {
		logger.Info("no fleet instances found", "prefix", fleetPrefix)
		return 0, nil
	}

	sort.Slice(names, func(i, j int) bool {
		return fleet.NaturalLess(names[i], names[j])
	})

	destroyed := 0
	for _, name := range names {
		if ctx.Err() != nil {
			logger.Warn("teardown interrupted",
				"destroyed", destroyed, "remaining", len(names)-destroyed, "error", ctx.Err())
			break
		}
		if err := DestroyInstance(ctx, lv, artifacts, name, logger); err != nil {
			logger.Error("failed to destroy instance", "name", name, "error", err)
			continue
		}
		destroyed++
	}

	return destroyed, nil
}
