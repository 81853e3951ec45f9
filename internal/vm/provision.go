package vm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/snailsec/snailfleet/internal/cloudinit"
	"github.com/snailsec/snailfleet/internal/config"
	"github.com/snailsec/snailfleet/internal/fleet"
	"github.com/snailsec/snailfleet/internal/image"
	snaillibvirt "github.com/snailsec/snailfleet/internal/libvirt"

	"github.com/digitalocean/go-libvirt"
)

var (
	// ErrAlreadyExists reports a provision attempt against a domain name
	// that libvirt already knows. The caller records a skip, never an
	// overwrite.
	ErrAlreadyExists = errors.New("domain already exists")

	// ErrBaseImageMissing reports a provision attempt whose base image is
	// not on disk.
	ErrBaseImageMissing = errors.New("base image missing")

	// ErrRegistrationFailed reports a define or start failure from libvirt.
	ErrRegistrationFailed = errors.New("domain registration failed")
)

// Provisioner creates fleet instances.
type Provisioner struct {
	cfg           *config.Config
	lv            libvirtClient
	disks         artifactStore
	authorizedKey string
	logger        *slog.Logger
}

// NewProvisioner builds a Provisioner. The configured SSH public key is
// read and validated here so a missing key pair fails the run before any
// disk is cloned.
func NewProvisioner(cfg *config.Config, lv libvirtClient, disks artifactStore, logger *slog.Logger) (*Provisioner, error) {
	if logger == nil {
		logger = slog.Default()
	}

	key, err := cfg.AuthorizedKey()
	if err != nil {
		return nil, err
	}

	return &Provisioner{
		cfg:           cfg,
		lv:            lv,
		disks:         disks,
		authorizedKey: key,
		logger:        logger,
	}, nil
}

// Provision creates a single instance:
//
//  1. Refuse to touch a domain that already exists (ErrAlreadyExists).
//  2. Verify the base image is on disk (ErrBaseImageMissing).
//  3. Clone a qcow2 overlay on top of the base image.
//  4. Generate and write the cloud-init seed ISO.
//  5. Define the domain and start it.
//
// Disk artifacts are fully staged before libvirt sees the domain. A define
// or start failure wraps ErrRegistrationFailed; a start failure also
// undefines the half-registered domain. Artifacts from a failed attempt
// are removed best-effort so a retry starts clean.
func (p *Provisioner) Provision(ctx context.Context, inst fleet.Instance, base image.BaseImage) error {
	if _, err := p.lv.DomainLookupByName(inst.Name); err == nil {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, inst.Name)
	} else if !libvirt.IsNotFound(err) {
		return fmt.Errorf("failed to look up domain %s: %w", inst.Name, err)
	}

	if _, err := os.Stat(base.LocalPath); err != nil {
		return fmt.Errorf("%w: %s (run: snailfleet image setup %s %s)",
			ErrBaseImageMissing, base.LocalPath, inst.Spec.Distribution, inst.Spec.Version)
	}

	p.logger.Info("provisioning instance",
		"name", inst.Name,
		"distribution", inst.Spec.Distribution,
		"version", inst.Spec.Version)

	diskPath, err := p.disks.CloneDisk(ctx, inst.Name, base.LocalPath, p.cfg.DiskGB)
	if err != nil {
		p.removeArtifacts(inst.Name)
		return fmt.Errorf("failed to clone disk for %s: %w", inst.Name, err)
	}

	isoData, err := cloudinit.GenerateISO(p.seedInput(inst))
	if err != nil {
		p.removeArtifacts(inst.Name)
		return fmt.Errorf("failed to generate seed ISO for %s: %w", inst.Name, err)
	}

	seedPath, err := p.disks.WriteSeed(inst.Name, isoData)
	if err != nil {
		p.removeArtifacts(inst.Name)
		return fmt.Errorf("failed to write seed ISO for %s: %w", inst.Name, err)
	}

	domainXML, err := snaillibvirt.GenerateDomainXML(snaillibvirt.DomainParams{
		Name:         inst.Name,
		Distribution: inst.Spec.Distribution,
		Version:      inst.Spec.Version,
		MemoryMB:     p.cfg.MemoryMB,
		VCPUs:        p.cfg.VCPUs,
		DiskPath:     diskPath,
		SeedPath:     seedPath,
	})
	if err != nil {
		p.removeArtifacts(inst.Name)
		return fmt.Errorf("failed to generate domain XML for %s: %w", inst.Name, err)
	}

	dom, err := p.lv.DomainDefineXML(domainXML)
	if err != nil {
		p.removeArtifacts(inst.Name)
		return fmt.Errorf("%w: define %s: %v", ErrRegistrationFailed, inst.Name, err)
	}

	if err := p.lv.DomainCreate(dom); err != nil {
		if uerr := p.lv.DomainUndefine(dom); uerr != nil {
			p.logger.Warn("failed to undefine domain after start failure",
				"name", inst.Name, "error", uerr)
		}
		p.removeArtifacts(inst.Name)
		return fmt.Errorf("%w: start %s: %v", ErrRegistrationFailed, inst.Name, err)
	}

	p.logger.Info("instance started", "name", inst.Name, "disk", diskPath, "seed", seedPath)
	return nil
}

// FleetFailure records one failed instance within a fleet run.
type FleetFailure struct {
	Name string
	Err  error
}

// FleetResult summarizes one fleet-creation run. Slices preserve request
// order.
type FleetResult struct {
	Created []string
	Skipped []string
	Failed  []FleetFailure
}

// ProvisionFleet expands the request into instances and provisions them
// with at most cfg.Parallelism in flight. Individual failures never cancel
// sibling instances; they are collected in the result instead. After all
// workers finish, the manifest is rewritten with every instance that exists
// (created plus already-present skips) in request order.
func (p *Provisioner) ProvisionFleet(ctx context.Context, req fleet.FleetRequest, images map[fleet.VMSpec]image.BaseImage) *FleetResult {
	instances := req.Instances()

	const (
		outcomeCreated = iota
		outcomeSkipped
		outcomeFailed
	)
	outcomes := make([]int, len(instances))
	failures := make([]error, len(instances))

	g := new(errgroup.Group)
	limit := p.cfg.Parallelism
	if limit < 1 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, inst := range instances {
		// With the go directive below 1.22 the range variables are shared
		// across iterations; rebind them so each worker sees its own pair.
		i, inst := i, inst
		g.Go(func() error {
			base, ok := images[inst.Spec]
			if !ok {
				outcomes[i] = outcomeFailed
				failures[i] = fmt.Errorf("%w: no resolved image for %s", ErrBaseImageMissing, inst.Spec)
				return nil
			}

			err := p.Provision(ctx, inst, base)
			switch {
			case err == nil:
				outcomes[i] = outcomeCreated
			case errors.Is(err, ErrAlreadyExists):
				outcomes[i] = outcomeSkipped
				p.logger.Info("instance already exists, skipping", "name", inst.Name)
			default:
				outcomes[i] = outcomeFailed
				failures[i] = err
				p.logger.Error("failed to provision instance", "name", inst.Name, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait() // workers never return errors

	result := &FleetResult{}
	var present []string
	for i, inst := range instances {
		switch outcomes[i] {
		case outcomeCreated:
			result.Created = append(result.Created, inst.Name)
			present = append(present, inst.Name)
		case outcomeSkipped:
			result.Skipped = append(result.Skipped, inst.Name)
			present = append(present, inst.Name)
		case outcomeFailed:
			result.Failed = append(result.Failed, FleetFailure{Name: inst.Name, Err: failures[i]})
		}
	}

	// A run where nothing exists must not clobber the manifest of an
	// earlier, still-standing fleet.
	if len(present) > 0 {
		if err := fleet.WriteManifest(p.cfg.ManifestPath, present); err != nil {
			p.logger.Warn("failed to write manifest", "path", p.cfg.ManifestPath, "error", err)
		}
	}

	return result
}

func (p *Provisioner) seedInput(inst fleet.Instance) cloudinit.Input {
	return cloudinit.Input{
		Name:          inst.Name,
		Distribution:  inst.Spec.Distribution,
		Username:      p.cfg.Username,
		Password:      p.cfg.Password,
		AuthorizedKey: p.authorizedKey,
		RepoURL:       p.cfg.AgentRepoURL,
		ScanInterval:  p.cfg.ScanInterval,
		Agent: cloudinit.AgentConfig{
			Endpoint:   p.cfg.IngestEndpoint,
			APIKey:     p.cfg.IngestAPIKey,
			Collectors: p.cfg.Collectors,
			OutputDir:  p.cfg.GuestOutputDir,
			LogLevel:   p.cfg.GuestLogLevel,
		},
	}
}

func (p *Provisioner) removeArtifacts(name string) {
	if err := p.disks.Remove(name); err != nil {
		p.logger.Warn("failed to remove disk artifacts", "name", name, "error", err)
	}
}
