// Package fleet defines the fleet request model: parsing of the
// distro:version spec list, deterministic instance naming and ordering,
// and the persisted fleet manifest.
package fleet

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidSpecFormat is returned when a spec token is empty, names an
// unsupported distribution, or has a malformed version.
var ErrInvalidSpecFormat = errors.New("invalid spec format")

// Distribution identifies a supported guest OS distribution.
type Distribution string

const (
	DistributionFedora Distribution = "fedora"
	DistributionDebian Distribution = "debian"
	DistributionUbuntu Distribution = "ubuntu"
	DistributionCentOS Distribution = "centos"
	DistributionRHEL   Distribution = "rhel"
)

// Distributions lists the supported distributions in display order.
var Distributions = []Distribution{
	DistributionFedora,
	DistributionDebian,
	DistributionUbuntu,
	DistributionCentOS,
	DistributionRHEL,
}

// KnownDistribution reports whether d is one of the supported distributions.
func KnownDistribution(d Distribution) bool {
	for _, known := range Distributions {
		if d == known {
			return true
		}
	}
	return false
}

// VMSpec identifies one requested guest variant.
type VMSpec struct {
	Distribution Distribution
	Version      string
}

// String returns the canonical token form, e.g. "fedora:42".
func (s VMSpec) String() string {
	return string(s.Distribution) + ":" + s.Version
}

// versionPattern matches release identifiers like "42", "24.04", or
// "9-stream". Versions feed directly into domain names and file paths,
// so anything outside this set is rejected.
var versionPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// ParseSpecs parses a comma-separated list of distro:version tokens into an
// ordered spec list. Tokens are processed left to right and duplicates are
// preserved; the provisioner still creates distinct indexed VMs for them.
// A token without a colon is treated as a bare version and assigned
// defaultDistro, so "42" parses as fedora:42 with the stock configuration.
//
// Fails with ErrInvalidSpecFormat on an empty token, an unsupported
// distribution, or an empty/malformed version.
func ParseSpecs(raw string, defaultDistro Distribution) ([]VMSpec, error) {
	tokens := strings.Split(raw, ",")
	specs := make([]VMSpec, 0, len(tokens))

	for _, token := range tokens {
		token = strings.ToLower(strings.TrimSpace(token))
		if token == "" {
			return nil, fmt.Errorf("%w: empty spec token in %q", ErrInvalidSpecFormat, raw)
		}

		distro := defaultDistro
		version := token
		if before, after, found := strings.Cut(token, ":"); found {
			distro = Distribution(before)
			version = after
		}

		if !KnownDistribution(distro) {
			return nil, fmt.Errorf("%w: unsupported distribution %q in token %q (supported: %s)",
				ErrInvalidSpecFormat, distro, token, distributionList())
		}
		if !versionPattern.MatchString(version) {
			return nil, fmt.Errorf("%w: invalid version %q in token %q", ErrInvalidSpecFormat, version, token)
		}

		specs = append(specs, VMSpec{Distribution: distro, Version: version})
	}

	return specs, nil
}

// distributionList renders the supported distributions for error messages.
func distributionList() string {
	names := make([]string, len(Distributions))
	for i, d := range Distributions {
		names[i] = string(d)
	}
	return strings.Join(names, ", ")
}
