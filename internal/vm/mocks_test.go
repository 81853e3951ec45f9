package vm

import (
	"context"
	"sync"

	"github.com/digitalocean/go-libvirt"
)

// notFoundError mirrors the error libvirt returns for an unknown domain,
// so code using libvirt.IsNotFound sees the real shape.
func notFoundError() error {
	return libvirt.Error{
		Code:    uint32(libvirt.ErrNoDomain),
		Message: "Domain not found",
	}
}

// leaseFor builds the interface-address answer for a guest holding one
// IPv4 DHCP lease.
func leaseFor(addr string) []libvirt.DomainInterface {
	return []libvirt.DomainInterface{
		{
			Name: "vnet0",
			Addrs: []libvirt.DomainIPAddr{
				{Type: int32(libvirt.IPAddrTypeIpv4), Addr: addr, Prefix: 24},
			},
		},
	}
}

// mockLibvirtClient is a mock implementation of the libvirtClient interface
// for testing. Methods hold the mutex while invoking the configured func,
// so funcs may read tracking state without further locking.
type mockLibvirtClient struct {
	mu sync.Mutex

	// Configurable behavior
	domainLookupByNameFunc       func(name string) (libvirt.Domain, error)
	domainDefineXMLFunc          func(xml string) (libvirt.Domain, error)
	domainCreateFunc             func(dom libvirt.Domain) error
	domainGetStateFunc           func(dom libvirt.Domain, flags uint32) (int32, int32, error)
	domainDestroyFunc            func(dom libvirt.Domain) error
	domainUndefineFlagsFunc      func(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error
	domainUndefineFunc           func(dom libvirt.Domain) error
	connectListAllDomainsFunc    func(needResults int32, flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error)
	domainInterfaceAddressesFunc func(dom libvirt.Domain, source uint32, flags uint32) ([]libvirt.DomainInterface, error)

	// Call tracking
	domainLookupByNameCalls       []string
	domainDefineXMLCalls          []string
	domainCreateCalls             []libvirt.Domain
	domainGetStateCalls           []libvirt.Domain
	domainDestroyCalls            []libvirt.Domain
	domainUndefineFlagsCalls      []libvirt.DomainUndefineFlagsValues
	domainUndefineCalls           []libvirt.Domain
	connectListAllDomainsCalls    int
	domainInterfaceAddressesCalls []string
}

// newMockLibvirtClient creates a mock representing a host with no fleet
// domains: lookups miss, defines and starts succeed, listings are empty,
// and no guest holds a lease.
func newMockLibvirtClient() *mockLibvirtClient {
	m := &mockLibvirtClient{}

	m.domainLookupByNameFunc = func(name string) (libvirt.Domain, error) {
		return libvirt.Domain{}, notFoundError()
	}
	m.domainDefineXMLFunc = func(xml string) (libvirt.Domain, error) {
		return libvirt.Domain{Name: "defined"}, nil
	}
	m.domainCreateFunc = func(dom libvirt.Domain) error {
		return nil
	}
	m.domainGetStateFunc = func(dom libvirt.Domain, flags uint32) (int32, int32, error) {
		return domainStateRunning, 1, nil
	}
	m.domainDestroyFunc = func(dom libvirt.Domain) error {
		return nil
	}
	m.domainUndefineFlagsFunc = func(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error {
		return nil
	}
	m.domainUndefineFunc = func(dom libvirt.Domain) error {
		return nil
	}
	m.connectListAllDomainsFunc = func(needResults int32, flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error) {
		return nil, 0, nil
	}
	m.domainInterfaceAddressesFunc = func(dom libvirt.Domain, source uint32, flags uint32) ([]libvirt.DomainInterface, error) {
		return nil, nil
	}

	return m
}

func (m *mockLibvirtClient) DomainLookupByName(name string) (libvirt.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainLookupByNameCalls = append(m.domainLookupByNameCalls, name)
	return m.domainLookupByNameFunc(name)
}

func (m *mockLibvirtClient) DomainDefineXML(xml string) (libvirt.Domain, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainDefineXMLCalls = append(m.domainDefineXMLCalls, xml)
	return m.domainDefineXMLFunc(xml)
}

func (m *mockLibvirtClient) DomainCreate(dom libvirt.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainCreateCalls = append(m.domainCreateCalls, dom)
	return m.domainCreateFunc(dom)
}

func (m *mockLibvirtClient) DomainGetState(dom libvirt.Domain, flags uint32) (int32, int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainGetStateCalls = append(m.domainGetStateCalls, dom)
	return m.domainGetStateFunc(dom, flags)
}

func (m *mockLibvirtClient) DomainDestroy(dom libvirt.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainDestroyCalls = append(m.domainDestroyCalls, dom)
	return m.domainDestroyFunc(dom)
}

func (m *mockLibvirtClient) DomainUndefineFlags(dom libvirt.Domain, flags libvirt.DomainUndefineFlagsValues) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainUndefineFlagsCalls = append(m.domainUndefineFlagsCalls, flags)
	return m.domainUndefineFlagsFunc(dom, flags)
}

func (m *mockLibvirtClient) DomainUndefine(dom libvirt.Domain) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainUndefineCalls = append(m.domainUndefineCalls, dom)
	return m.domainUndefineFunc(dom)
}

func (m *mockLibvirtClient) ConnectListAllDomains(needResults int32, flags libvirt.ConnectListAllDomainsFlags) ([]libvirt.Domain, uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connectListAllDomainsCalls++
	return m.connectListAllDomainsFunc(needResults, flags)
}

func (m *mockLibvirtClient) DomainInterfaceAddresses(dom libvirt.Domain, source uint32, flags uint32) ([]libvirt.DomainInterface, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.domainInterfaceAddressesCalls = append(m.domainInterfaceAddressesCalls, dom.Name)
	return m.domainInterfaceAddressesFunc(dom, source, flags)
}

// mockArtifactStore is a mock implementation of the artifactStore interface
// for testing.
type mockArtifactStore struct {
	mu sync.Mutex

	// Configurable behavior
	cloneDiskFunc func(ctx context.Context, name, basePath string, sizeGB int) (string, error)
	writeSeedFunc func(name string, isoData []byte) (string, error)
	removeFunc    func(name string) error

	// Call tracking
	cloneDiskCalls []string
	writeSeedCalls []string
	removeCalls    []string
}

// newMockArtifactStore creates a mock whose operations all succeed.
func newMockArtifactStore() *mockArtifactStore {
	return &mockArtifactStore{
		cloneDiskFunc: func(_ context.Context, name, _ string, _ int) (string, error) {
			return "/var/lib/libvirt/images/" + name + ".qcow2", nil
		},
		writeSeedFunc: func(name string, _ []byte) (string, error) {
			return "/tmp/snail-test-cloudinit/" + name + "-seed.iso", nil
		},
		removeFunc: func(name string) error {
			return nil
		},
	}
}

func (m *mockArtifactStore) CloneDisk(ctx context.Context, name, basePath string, sizeGB int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cloneDiskCalls = append(m.cloneDiskCalls, name)
	return m.cloneDiskFunc(ctx, name, basePath, sizeGB)
}

func (m *mockArtifactStore) WriteSeed(name string, isoData []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeSeedCalls = append(m.writeSeedCalls, name)
	return m.writeSeedFunc(name, isoData)
}

func (m *mockArtifactStore) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeCalls = append(m.removeCalls, name)
	return m.removeFunc(name)
}
