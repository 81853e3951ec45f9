// Package libvirt provides a client wrapper for interacting with libvirt.
//
// This package wraps github.com/digitalocean/go-libvirt to provide:
//   - Connection management (connect, disconnect, ping)
//   - Domain XML generation for fleet guests
//
// The Client type provides a high-level interface for libvirt operations,
// while exposing the underlying *libvirt.Libvirt for packages that need
// direct access to the libvirt API.
//
// Connection Management:
//
// The package establishes connections to the local libvirt daemon via Unix socket:
//
//	client, err := libvirt.Connect("", 0)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	// Check connection
//	if err := client.Ping(); err != nil {
//	    return err
//	}
//
// Domain XML Generation:
//
// The package generates libvirt domain XML from fleet guest parameters:
//
//	xml, err := libvirt.GenerateDomainXML(libvirt.DomainParams{
//	    Name:         "snail-test-fedora-42-1",
//	    Distribution: fleet.DistributionFedora,
//	    Version:      "42",
//	    MemoryMB:     2048,
//	    VCPUs:        2,
//	    DiskPath:     "/var/lib/libvirt/images/snail-test-fedora-42-1.qcow2",
//	    SeedPath:     "/tmp/snail-test-cloudinit/snail-test-fedora-42-1-seed.iso",
//	})
//	if err != nil {
//	    return err
//	}
//
//	// Define domain in libvirt
//	dom, err := client.Libvirt().DomainDefineXML(xml)
//	if err != nil {
//	    return err
//	}
//
// Consumer-Side Interfaces:
//
// This package does not define interfaces. Instead, consumers (internal/vm)
// define their own client interfaces specifying only the operations they
// need. The *libvirt.Libvirt type satisfies these interfaces implicitly,
// enabling clean dependency injection.
//
// See internal/vm/interfaces.go for the consumer-side interface.
package libvirt
