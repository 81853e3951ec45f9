package libvirt

import (
	"strings"
	"testing"

	"libvirt.org/go/libvirtxml"

	"github.com/snailsec/snailfleet/internal/fleet"
)

func testParams() DomainParams {
	return DomainParams{
		Name:         "snail-test-fedora-42-1",
		Distribution: fleet.DistributionFedora,
		Version:      "42",
		MemoryMB:     2048,
		VCPUs:        2,
		DiskPath:     "/var/lib/libvirt/images/snail-test-fedora-42-1.qcow2",
		SeedPath:     "/tmp/snail-test-cloudinit/snail-test-fedora-42-1-seed.iso",
	}
}

func TestGenerateDomainXML(t *testing.T) {
	tests := []struct {
		name    string
		params  DomainParams
		wantErr bool
		errMsg  string
	}{
		{
			name:   "fedora guest",
			params: testParams(),
		},
		{
			name: "debian guest",
			params: DomainParams{
				Name:         "snail-test-debian-12-3",
				Distribution: fleet.DistributionDebian,
				Version:      "12",
				MemoryMB:     4096,
				VCPUs:        4,
				DiskPath:     "/var/lib/libvirt/images/snail-test-debian-12-3.qcow2",
				SeedPath:     "/tmp/snail-test-cloudinit/snail-test-debian-12-3-seed.iso",
			},
		},
		{
			name: "minimal resources",
			params: DomainParams{
				Name:         "snail-test-ubuntu-24.04-1",
				Distribution: fleet.DistributionUbuntu,
				Version:      "24.04",
				MemoryMB:     512,
				VCPUs:        1,
				DiskPath:     "/images/a.qcow2",
				SeedPath:     "/seeds/a-seed.iso",
			},
		},
		{
			name: "missing name",
			params: DomainParams{
				Distribution: fleet.DistributionFedora,
				Version:      "42",
				MemoryMB:     2048,
				VCPUs:        2,
				DiskPath:     "/images/a.qcow2",
				SeedPath:     "/seeds/a-seed.iso",
			},
			wantErr: true,
			errMsg:  "name is required",
		},
		{
			name: "missing disk path",
			params: DomainParams{
				Name:         "snail-test-fedora-42-1",
				Distribution: fleet.DistributionFedora,
				Version:      "42",
				MemoryMB:     2048,
				VCPUs:        2,
				SeedPath:     "/seeds/a-seed.iso",
			},
			wantErr: true,
			errMsg:  "disk path is required",
		},
		{
			name: "missing seed path",
			params: DomainParams{
				Name:         "snail-test-fedora-42-1",
				Distribution: fleet.DistributionFedora,
				Version:      "42",
				MemoryMB:     2048,
				VCPUs:        2,
				DiskPath:     "/images/a.qcow2",
			},
			wantErr: true,
			errMsg:  "seed ISO path is required",
		},
		{
			name: "zero memory",
			params: DomainParams{
				Name:         "snail-test-fedora-42-1",
				Distribution: fleet.DistributionFedora,
				Version:      "42",
				VCPUs:        2,
				DiskPath:     "/images/a.qcow2",
				SeedPath:     "/seeds/a-seed.iso",
			},
			wantErr: true,
			errMsg:  "memory must be positive",
		},
		{
			name: "zero vcpus",
			params: DomainParams{
				Name:         "snail-test-fedora-42-1",
				Distribution: fleet.DistributionFedora,
				Version:      "42",
				MemoryMB:     2048,
				DiskPath:     "/images/a.qcow2",
				SeedPath:     "/seeds/a-seed.iso",
			},
			wantErr: true,
			errMsg:  "vcpus must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			xml, err := GenerateDomainXML(tt.params)
			if (err != nil) != tt.wantErr {
				t.Fatalf("GenerateDomainXML() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if tt.errMsg != "" && !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("GenerateDomainXML() error = %v, want error containing %q", err, tt.errMsg)
				}
				return
			}

			if xml == "" {
				t.Fatal("GenerateDomainXML() returned empty XML")
			}

			var domain libvirtxml.Domain
			if err := domain.Unmarshal(xml); err != nil {
				t.Fatalf("Generated XML cannot be unmarshaled: %v\nXML:\n%s", err, xml)
			}

			validateDomainStructure(t, &domain, tt.params)
		})
	}
}

// validateDomainStructure checks the parsed domain against the requested guest.
func validateDomainStructure(t *testing.T, domain *libvirtxml.Domain, p DomainParams) {
	t.Helper()

	if domain.Type != "kvm" {
		t.Errorf("domain type = %v, want kvm", domain.Type)
	}
	if domain.Name != p.Name {
		t.Errorf("domain name = %v, want %v", domain.Name, p.Name)
	}

	// Memory in MiB
	if domain.Memory == nil {
		t.Error("domain memory is nil")
	} else {
		if domain.Memory.Value != uint(p.MemoryMB) {
			t.Errorf("memory value = %v, want %v", domain.Memory.Value, p.MemoryMB)
		}
		if domain.Memory.Unit != "MiB" {
			t.Errorf("memory unit = %v, want MiB", domain.Memory.Unit)
		}
	}

	if domain.VCPU == nil {
		t.Error("domain VCPU is nil")
	} else {
		if domain.VCPU.Value != uint(p.VCPUs) {
			t.Errorf("vcpu value = %v, want %v", domain.VCPU.Value, p.VCPUs)
		}
		if domain.VCPU.Placement != "static" {
			t.Errorf("vcpu placement = %v, want static", domain.VCPU.Placement)
		}
	}

	// BIOS boot (cloud images ship hybrid boot support; BIOS keeps the
	// domain definition portable across hosts without OVMF installed)
	if domain.OS == nil {
		t.Error("domain OS is nil")
	} else {
		if domain.OS.Firmware != "" {
			t.Errorf("OS firmware = %v, want BIOS (empty)", domain.OS.Firmware)
		}
		if domain.OS.Type == nil || domain.OS.Type.Arch != "x86_64" {
			t.Error("OS type arch should be x86_64")
		}
		if domain.OS.Type == nil || domain.OS.Type.Type != "hvm" {
			t.Error("OS type should be hvm")
		}
		if domain.OS.BIOS == nil || domain.OS.BIOS.UseSerial != "yes" {
			t.Error("BIOS useserial should be yes")
		}
	}

	// libosinfo metadata hint
	if domain.Metadata == nil {
		t.Error("domain metadata is nil")
	} else if !strings.Contains(domain.Metadata.XML, "libosinfo") {
		t.Errorf("metadata missing libosinfo hint: %v", domain.Metadata.XML)
	}

	if domain.Features == nil {
		t.Error("domain features is nil")
	} else {
		if domain.Features.ACPI == nil {
			t.Error("ACPI feature missing")
		}
		if domain.Features.APIC == nil {
			t.Error("APIC feature missing")
		}
	}

	if domain.CPU == nil {
		t.Error("domain CPU is nil")
	} else {
		if domain.CPU.Mode != "host-model" {
			t.Errorf("CPU mode = %v, want host-model", domain.CPU.Mode)
		}
		if domain.CPU.Model == nil || domain.CPU.Model.Fallback != "allow" {
			t.Error("CPU model fallback should be allow")
		}
	}

	if domain.Clock == nil {
		t.Error("domain clock is nil")
	} else {
		if domain.Clock.Offset != "utc" {
			t.Errorf("clock offset = %v, want utc", domain.Clock.Offset)
		}
		if len(domain.Clock.Timer) != 3 {
			t.Errorf("clock timers count = %v, want 3", len(domain.Clock.Timer))
		}
	}

	// Transient-friendly lifecycle: poweroff tears down, reboot restarts
	if domain.OnPoweroff != "destroy" {
		t.Errorf("on_poweroff = %v, want destroy", domain.OnPoweroff)
	}
	if domain.OnReboot != "restart" {
		t.Errorf("on_reboot = %v, want restart", domain.OnReboot)
	}
	if domain.OnCrash != "restart" {
		t.Errorf("on_crash = %v, want restart", domain.OnCrash)
	}

	if domain.Devices == nil {
		t.Fatal("domain devices is nil")
	}

	// Exactly two disks: root overlay plus seed ISO
	if len(domain.Devices.Disks) != 2 {
		t.Fatalf("disk count = %v, want 2", len(domain.Devices.Disks))
	}

	bootDisk := domain.Devices.Disks[0]
	if bootDisk.Device != "disk" {
		t.Errorf("boot disk device = %v, want disk", bootDisk.Device)
	}
	if bootDisk.Driver == nil || bootDisk.Driver.Type != "qcow2" {
		t.Error("boot disk driver type should be qcow2")
	}
	if bootDisk.Driver == nil || bootDisk.Driver.Cache != "none" {
		t.Error("boot disk cache should be none")
	}
	if bootDisk.Target == nil || bootDisk.Target.Dev != "vda" {
		t.Error("boot disk target should be vda")
	}
	if bootDisk.Target == nil || bootDisk.Target.Bus != "virtio" {
		t.Error("boot disk bus should be virtio")
	}
	if bootDisk.Boot == nil || bootDisk.Boot.Order != 1 {
		t.Error("boot disk should have boot order 1")
	}
	if bootDisk.Source == nil || bootDisk.Source.File == nil {
		t.Error("boot disk should have a file source")
	} else if bootDisk.Source.File.File != p.DiskPath {
		t.Errorf("boot disk path = %v, want %v", bootDisk.Source.File.File, p.DiskPath)
	}

	cdrom := domain.Devices.Disks[1]
	if cdrom.Device != "cdrom" {
		t.Errorf("seed device = %v, want cdrom", cdrom.Device)
	}
	if cdrom.Driver == nil || cdrom.Driver.Type != "raw" {
		t.Error("seed driver type should be raw")
	}
	if cdrom.Target == nil || cdrom.Target.Dev != "sda" {
		t.Error("seed target should be sda")
	}
	if cdrom.Target == nil || cdrom.Target.Bus != "sata" {
		t.Error("seed bus should be sata")
	}
	if cdrom.ReadOnly == nil {
		t.Error("seed should be readonly")
	}
	if cdrom.Source == nil || cdrom.Source.File == nil {
		t.Error("seed should have a file source")
	} else if cdrom.Source.File.File != p.SeedPath {
		t.Errorf("seed path = %v, want %v", cdrom.Source.File.File, p.SeedPath)
	}

	// Single NIC on the default NAT network, MAC left to libvirt
	if len(domain.Devices.Interfaces) != 1 {
		t.Fatalf("interface count = %v, want 1", len(domain.Devices.Interfaces))
	}
	iface := domain.Devices.Interfaces[0]
	if iface.Source == nil || iface.Source.Network == nil {
		t.Error("interface should have a network source")
	} else if iface.Source.Network.Network != DefaultNetwork {
		t.Errorf("interface network = %v, want %v", iface.Source.Network.Network, DefaultNetwork)
	}
	if iface.MAC != nil {
		t.Errorf("interface MAC should be unset, got %v", iface.MAC.Address)
	}
	if iface.Model == nil || iface.Model.Type != "virtio" {
		t.Error("interface model should be virtio")
	}

	// Serial console wired for virsh console access
	if len(domain.Devices.Serials) == 0 {
		t.Error("no serial devices defined")
	} else {
		serial := domain.Devices.Serials[0]
		if serial.Source == nil || serial.Source.Pty == nil {
			t.Error("serial should have pty source")
		}
		if serial.Target == nil || serial.Target.Port == nil || *serial.Target.Port != 0 {
			t.Error("serial target port should be 0")
		}
	}

	if len(domain.Devices.Consoles) == 0 {
		t.Error("no console devices defined")
	} else {
		console := domain.Devices.Consoles[0]
		if console.Source == nil || console.Source.Pty == nil {
			t.Error("console should have pty source")
		}
		if console.Target == nil || console.Target.Type != "serial" {
			t.Error("console target type should be serial")
		}
	}

	// Headless: no graphics device
	if len(domain.Devices.Graphics) != 0 {
		t.Errorf("graphics count = %v, want 0", len(domain.Devices.Graphics))
	}

	if domain.Devices.MemBalloon == nil {
		t.Error("memballoon device missing")
	} else if domain.Devices.MemBalloon.Model != "virtio" {
		t.Errorf("memballoon model = %v, want virtio", domain.Devices.MemBalloon.Model)
	}

	if len(domain.Devices.RNGs) == 0 {
		t.Error("RNG device missing")
	} else {
		rng := domain.Devices.RNGs[0]
		if rng.Model != "virtio" {
			t.Errorf("RNG model = %v, want virtio", rng.Model)
		}
		if rng.Backend == nil || rng.Backend.Random == nil || rng.Backend.Random.Device != "/dev/urandom" {
			t.Error("RNG backend device should be /dev/urandom")
		}
	}
}

func TestGenerateDomainXML_XMLFormat(t *testing.T) {
	xml, err := GenerateDomainXML(testParams())
	if err != nil {
		t.Fatalf("GenerateDomainXML() error = %v", err)
	}

	requiredElements := []string{
		`<domain type="kvm"`,
		`<name>snail-test-fedora-42-1</name>`,
		`<memory unit="MiB">2048</memory>`,
		`<vcpu placement="static">2</vcpu>`,
		`libosinfo`,
		`id="http://fedoraproject.org/fedora/40"`,
		`<type arch="x86_64"`,
		`<bios useserial="yes"`,
		`<cpu mode="host-model"`,
		`<clock offset="utc"`,
		`<on_poweroff>destroy</on_poweroff>`,
		`<on_reboot>restart</on_reboot>`,
		`<on_crash>restart</on_crash>`,
		`type="qcow2"`,
		`cache="none"`,
		`file="/var/lib/libvirt/images/snail-test-fedora-42-1.qcow2"`,
		`dev="vda"`,
		`bus="virtio"`,
		`<boot order="1"`,
		`<disk type="file" device="cdrom">`,
		`file="/tmp/snail-test-cloudinit/snail-test-fedora-42-1-seed.iso"`,
		`dev="sda"`,
		`bus="sata"`,
		`<readonly`,
		`<interface type="network"`,
		`<source network="default"`,
		`<model type="virtio"`,
		`<serial type="pty"`,
		`<console type="pty"`,
		`<memballoon model="virtio"`,
		`<rng model="virtio"`,
	}

	for _, elem := range requiredElements {
		if !strings.Contains(xml, elem) {
			t.Errorf("Generated XML missing element: %s\n\nGenerated XML:\n%s", elem, xml)
		}
	}

	// EFI firmware would require OVMF on the host; the fleet boots BIOS
	if strings.Contains(xml, `firmware="efi"`) {
		t.Error("Generated XML should not request EFI firmware")
	}
	if strings.Contains(xml, "<graphics") {
		t.Error("Generated XML should not define graphics devices")
	}
	if strings.Contains(xml, "<mac ") {
		t.Error("Generated XML should leave MAC assignment to libvirt")
	}
}

func TestOsinfoID(t *testing.T) {
	tests := []struct {
		name    string
		distro  fleet.Distribution
		version string
		want    string
	}{
		{"fedora 42 clamps to 40", fleet.DistributionFedora, "42", "http://fedoraproject.org/fedora/40"},
		{"fedora 40", fleet.DistributionFedora, "40", "http://fedoraproject.org/fedora/40"},
		{"fedora 38", fleet.DistributionFedora, "38", "http://fedoraproject.org/fedora/38"},
		{"fedora 39", fleet.DistributionFedora, "39", "http://fedoraproject.org/fedora/38"},
		{"old fedora falls back", fleet.DistributionFedora, "30", "http://libosinfo.org/linux/2022"},
		{"debian 12", fleet.DistributionDebian, "12", "http://debian.org/debian/12"},
		{"debian 13 clamps to 12", fleet.DistributionDebian, "13", "http://debian.org/debian/12"},
		{"debian 10", fleet.DistributionDebian, "10", "http://debian.org/debian/10"},
		{"old debian falls back", fleet.DistributionDebian, "9", "http://libosinfo.org/linux/2022"},
		{"ubuntu 24.04", fleet.DistributionUbuntu, "24.04", "http://ubuntu.com/ubuntu/24.04"},
		{"ubuntu 25.04 clamps to LTS", fleet.DistributionUbuntu, "25.04", "http://ubuntu.com/ubuntu/24.04"},
		{"ubuntu 22.04", fleet.DistributionUbuntu, "22.04", "http://ubuntu.com/ubuntu/22.04"},
		{"ubuntu 20.04", fleet.DistributionUbuntu, "20.04", "http://ubuntu.com/ubuntu/20.04"},
		{"centos stream 9", fleet.DistributionCentOS, "9-stream", "http://centos.org/centos-stream/9"},
		{"centos stream 10", fleet.DistributionCentOS, "10-stream", "http://centos.org/centos-stream/9"},
		{"rhel 9", fleet.DistributionRHEL, "9", "http://redhat.com/rhel/9.0"},
		{"unparseable version falls back", fleet.DistributionFedora, "rawhide", "http://libosinfo.org/linux/2022"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := osinfoID(tt.distro, tt.version); got != tt.want {
				t.Errorf("osinfoID(%v, %v) = %v, want %v", tt.distro, tt.version, got, tt.want)
			}
		})
	}
}

func TestMajorVersion(t *testing.T) {
	tests := []struct {
		version string
		want    int
	}{
		{"42", 42},
		{"24.04", 24},
		{"9-stream", 9},
		{"rawhide", 0},
		{"", 0},
	}

	for _, tt := range tests {
		if got := majorVersion(tt.version); got != tt.want {
			t.Errorf("majorVersion(%q) = %v, want %v", tt.version, got, tt.want)
		}
	}
}
