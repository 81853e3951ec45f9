// Package vm provides high-level fleet management operations.
//
// The package orchestrates the full lifecycle of disposable guests:
//
//   - Provisioner creates instances (existence check, base image check,
//     qcow2 overlay, cloud-init seed, domain define + start) and expands
//     whole fleet requests with bounded parallelism.
//   - AwaitReachable polls DHCP leases until instances are addressable.
//   - ListFleet reports per-instance state and address.
//   - DestroyInstance / DestroyFleet tear guests down and remove their
//     disk artifacts.
//
// All operations talk to libvirt through the package-local libvirtClient
// interface, satisfied by *libvirt.Libvirt in production and by mocks in
// tests. Disk artifacts go through the artifactStore interface, satisfied
// by *disk.Manager.
package vm
