package cloudinit

import (
	"bytes"
	"fmt"

	"github.com/kdomanski/iso9660"
)

// GenerateISO builds the NoCloud seed volume for one guest.
//
// The image contains two files in the root directory:
//   - user-data: cloud-config with the admin user and bootstrap sequence
//   - meta-data: instance identity (instance-id, local-hostname)
//
// The seed carries no network configuration; fleet guests take DHCP
// leases from the default libvirt network, which is also how the poller
// learns their addresses.
//
// The volume label is "CIDATA" as required by the NoCloud datasource.
// Returns the ISO image as a byte slice, ready to be written next to the
// guest's disk.
func GenerateISO(in Input) ([]byte, error) {
	userData, err := GenerateUserData(in)
	if err != nil {
		return nil, fmt.Errorf("failed to generate user-data: %w", err)
	}

	metaData, err := GenerateMetaData(in.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to generate meta-data: %w", err)
	}

	writer, err := iso9660.NewWriter()
	if err != nil {
		return nil, fmt.Errorf("failed to create ISO writer: %w", err)
	}
	defer func() {
		// Cleanup removes the writer's staging files; the image itself
		// is already rendered by then.
		_ = writer.Cleanup()
	}()

	if err := writer.AddFile(bytes.NewReader([]byte(userData)), "user-data"); err != nil {
		return nil, fmt.Errorf("failed to add user-data: %w", err)
	}

	if err := writer.AddFile(bytes.NewReader([]byte(metaData)), "meta-data"); err != nil {
		return nil, fmt.Errorf("failed to add meta-data: %w", err)
	}

	var buf bytes.Buffer

	// The volume identifier must be "CIDATA" (uppercase) for the guest's
	// first-boot agent to recognize the seed.
	if err := writer.WriteTo(&buf, "CIDATA"); err != nil {
		return nil, fmt.Errorf("failed to write ISO image: %w", err)
	}

	return buf.Bytes(), nil
}
