package vm

import (
	"context"

	"github.com/digitalocean/go-libvirt"
)

// libvirtClient defines the libvirt operations needed for fleet management.
// This wraps operations from *libvirt.Libvirt to allow for testing.
//
// In production, this is satisfied by *libvirt.Libvirt directly.
// In tests, this is satisfied by mock implementations.
type libvirtClient interface {
	// DomainLookupByName looks up a domain by name
	DomainLookupByName(name string) (libvirt.Domain, error)

	// DomainDefineXML defines a domain from XML
	DomainDefineXML(xml string) (libvirt.Domain, error)

	// DomainCreate starts a defined domain
	DomainCreate(dom libvirt.Domain) error

	// DomainGetState gets the state of a domain
	DomainGetState(dom libvirt.Domain, flags uint32) (state int32, reason int32, err error)

	// DomainDestroy force-stops a domain
	DomainDestroy(dom libvirt.Domain) error

	// DomainUndefineFlags undefines a domain with cleanup flags
	// (managed save, snapshot metadata, NVRAM, checkpoint metadata)
	DomainUndefineFlags(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error

	// DomainUndefine undefines a domain without flags
	DomainUndefine(dom libvirt.Domain) error

	// ConnectListAllDomains lists all domains, active and inactive
	ConnectListAllDomains(needResults int32, flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error)

	// DomainInterfaceAddresses queries guest interface addresses from the
	// given source (DHCP lease, guest agent, ARP cache)
	DomainInterfaceAddresses(dom libvirt.Domain, source uint32, flags uint32) ([]libvirt.DomainInterface, error)
}

// artifactStore defines the disk artifact operations needed during
// provisioning and teardown.
//
// In production, this is satisfied by *disk.Manager.
// In tests, this is satisfied by mock implementations.
type artifactStore interface {
	// CloneDisk creates a qcow2 overlay for one instance on top of a base image
	CloneDisk(ctx context.Context, name, basePath string, sizeGB int) (string, error)

	// WriteSeed persists the cloud-init seed ISO for one instance
	WriteSeed(name string, isoData []byte) (string, error)

	// Remove deletes an instance's disk artifacts, tolerating absence
	Remove(name string) error
}
