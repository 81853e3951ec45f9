package libvirt

import (
	"fmt"
	"strconv"

	"libvirt.org/go/libvirtxml"

	"github.com/snailsec/snailfleet/internal/fleet"
)

// DefaultNetwork is the libvirt NAT network guests attach to. Address
// discovery depends on guests taking DHCP leases from this network's
// dnsmasq instance.
const DefaultNetwork = "default"

// libosinfo hint embedded in domain metadata so libvirt picks sensible
// device defaults for the guest OS.
const osinfoMetadataFmt = `<libosinfo:libosinfo xmlns:libosinfo="http://libosinfo.org/xmlns/libvirt/domain/1.0"><libosinfo:os id=%q/></libosinfo:libosinfo>`

// DomainParams describes one guest domain to define.
type DomainParams struct {
	Name         string
	Distribution fleet.Distribution
	Version      string
	MemoryMB     int
	VCPUs        int

	// DiskPath is the qcow2 overlay backing the root disk.
	DiskPath string

	// SeedPath is the cloud-init seed ISO attached as a CDROM.
	SeedPath string
}

// GenerateDomainXML generates libvirt domain XML for a fleet guest.
//
// Guests boot a file-backed qcow2 overlay as a virtio disk, read their
// cloud-init seed from a read-only SATA CDROM, and attach to the default
// NAT network so their addresses can be discovered from DHCP leases.
// Console output goes to a pty serial port; no graphics are configured.
func GenerateDomainXML(p DomainParams) (string, error) {
	if p.Name == "" {
		return "", fmt.Errorf("domain name is required")
	}
	if p.DiskPath == "" {
		return "", fmt.Errorf("domain %s: disk path is required", p.Name)
	}
	if p.SeedPath == "" {
		return "", fmt.Errorf("domain %s: seed ISO path is required", p.Name)
	}
	if p.MemoryMB <= 0 {
		return "", fmt.Errorf("domain %s: memory must be positive, got %d", p.Name, p.MemoryMB)
	}
	if p.VCPUs <= 0 {
		return "", fmt.Errorf("domain %s: vcpus must be positive, got %d", p.Name, p.VCPUs)
	}

	domain := &libvirtxml.Domain{
		Type: "kvm",
		Name: p.Name,
		Metadata: &libvirtxml.DomainMetadata{
			XML: fmt.Sprintf(osinfoMetadataFmt, osinfoID(p.Distribution, p.Version)),
		},
		Memory: &libvirtxml.DomainMemory{
			Value: uint(p.MemoryMB),
			Unit:  "MiB",
		},
		VCPU: &libvirtxml.DomainVCPU{
			Placement: "static",
			Value:     uint(p.VCPUs),
		},
		OS: &libvirtxml.DomainOS{
			Type: &libvirtxml.DomainOSType{
				Arch: "x86_64",
				Type: "hvm",
			},
			BIOS: &libvirtxml.DomainBIOS{
				UseSerial: "yes",
			},
		},
		Features: &libvirtxml.DomainFeatureList{
			ACPI: &libvirtxml.DomainFeature{},
			APIC: &libvirtxml.DomainFeatureAPIC{},
			PAE:  &libvirtxml.DomainFeature{},
		},
		CPU: &libvirtxml.DomainCPU{
			Mode: "host-model",
			Model: &libvirtxml.DomainCPUModel{
				Fallback: "allow",
			},
		},
		Clock: &libvirtxml.DomainClock{
			Offset: "utc",
			Timer: []libvirtxml.DomainTimer{
				{Name: "rtc", TickPolicy: "catchup"},
				{Name: "pit", TickPolicy: "delay"},
				{Name: "hpet", Present: "no"},
			},
		},
		OnPoweroff: "destroy",
		OnReboot:   "restart",
		OnCrash:    "restart",
		Devices: &libvirtxml.DomainDeviceList{
			Disks: []libvirtxml.DomainDisk{
				{
					Device: "disk",
					Driver: &libvirtxml.DomainDiskDriver{
						Name:  "qemu",
						Type:  "qcow2",
						Cache: "none",
					},
					Source: &libvirtxml.DomainDiskSource{
						File: &libvirtxml.DomainDiskSourceFile{
							File: p.DiskPath,
						},
					},
					Target: &libvirtxml.DomainDiskTarget{
						Dev: "vda",
						Bus: "virtio",
					},
					Boot: &libvirtxml.DomainDeviceBoot{
						Order: 1,
					},
				},
				{
					Device: "cdrom",
					Driver: &libvirtxml.DomainDiskDriver{
						Name: "qemu",
						Type: "raw",
					},
					Source: &libvirtxml.DomainDiskSource{
						File: &libvirtxml.DomainDiskSourceFile{
							File: p.SeedPath,
						},
					},
					Target: &libvirtxml.DomainDiskTarget{
						Dev: "sda",
						Bus: "sata",
					},
					ReadOnly: &libvirtxml.DomainDiskReadOnly{},
				},
			},
			Interfaces: []libvirtxml.DomainInterface{
				{
					Source: &libvirtxml.DomainInterfaceSource{
						Network: &libvirtxml.DomainInterfaceSourceNetwork{
							Network: DefaultNetwork,
						},
					},
					Model: &libvirtxml.DomainInterfaceModel{
						Type: "virtio",
					},
				},
			},
			Controllers: []libvirtxml.DomainController{
				{
					Type:  "pci",
					Index: uintPtr(0),
					Model: "pci-root",
				},
			},
			Serials: []libvirtxml.DomainSerial{
				{
					Source: &libvirtxml.DomainChardevSource{
						Pty: &libvirtxml.DomainChardevSourcePty{},
					},
					Target: &libvirtxml.DomainSerialTarget{
						Port: uintPtr(0),
					},
				},
			},
			Consoles: []libvirtxml.DomainConsole{
				{
					Source: &libvirtxml.DomainChardevSource{
						Pty: &libvirtxml.DomainChardevSourcePty{},
					},
					Target: &libvirtxml.DomainConsoleTarget{
						Type: "serial",
						Port: uintPtr(0),
					},
				},
			},
			MemBalloon: &libvirtxml.DomainMemBalloon{
				Model: "virtio",
			},
			RNGs: []libvirtxml.DomainRNG{
				{
					Model: "virtio",
					Backend: &libvirtxml.DomainRNGBackend{
						Random: &libvirtxml.DomainRNGBackendRandom{
							Device: "/dev/urandom",
						},
					},
				},
			},
		},
	}

	xml, err := domain.Marshal()
	if err != nil {
		return "", fmt.Errorf("failed to marshal domain XML for %s: %w", p.Name, err)
	}

	return xml, nil
}

// osinfoID maps a distribution and version to a libosinfo identifier.
// Versions newer than the newest entry the osinfo database is likely to
// carry are clamped to a recent known release; anything unrecognized
// falls back to the generic linux2022 profile.
func osinfoID(distro fleet.Distribution, version string) string {
	major := majorVersion(version)

	switch distro {
	case fleet.DistributionFedora:
		switch {
		case major >= 40:
			return "http://fedoraproject.org/fedora/40"
		case major >= 38:
			return "http://fedoraproject.org/fedora/38"
		}
	case fleet.DistributionDebian:
		switch {
		case major > 12:
			return "http://debian.org/debian/12"
		case major >= 10:
			return fmt.Sprintf("http://debian.org/debian/%d", major)
		}
	case fleet.DistributionUbuntu:
		switch {
		case major >= 24:
			return "http://ubuntu.com/ubuntu/24.04"
		case major >= 22:
			return "http://ubuntu.com/ubuntu/22.04"
		case major >= 20:
			return "http://ubuntu.com/ubuntu/20.04"
		}
	case fleet.DistributionCentOS:
		switch {
		case major >= 9:
			return "http://centos.org/centos-stream/9"
		case major == 8:
			return "http://centos.org/centos-stream/8"
		}
	case fleet.DistributionRHEL:
		if major >= 8 {
			return fmt.Sprintf("http://redhat.com/rhel/%d.0", major)
		}
	}

	return "http://libosinfo.org/linux/2022"
}

// majorVersion parses the leading digits of a version string, so "42",
// "24.04" and "9-stream" yield 42, 24 and 9. Returns 0 when the version
// does not start with a digit.
func majorVersion(version string) int {
	end := 0
	for end < len(version) && version[end] >= '0' && version[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0
	}
	n, err := strconv.Atoi(version[:end])
	if err != nil {
		return 0
	}
	return n
}

func uintPtr(v uint) *uint {
	return &v
}
