// Package disk manages per-VM artifacts on the host: qcow2 overlay disks
// cloned from base images via qemu-img, and cloud-init seed volumes.
//
// Disks are plain files under the libvirt image directory rather than
// storage-pool volumes; the hypervisor consumes them by path.
package disk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const (
	// DirPermissions are the permissions for created directories.
	DirPermissions = 0o755

	// FilePermissions are the permissions for disk and seed files.
	FilePermissions = 0o644

	// minDiskGB is the floor for overlay disk sizing. qemu-img refuses an
	// overlay smaller than its backing image's virtual size, and cloud
	// base images run up to several GB.
	minDiskGB = 10
)

// Manager creates and removes the on-disk artifacts of fleet VMs.
type Manager struct {
	imageDir string
	seedDir  string
	logger   *slog.Logger
}

// NewManager creates a Manager placing disks in imageDir and seed volumes
// in seedDir.
func NewManager(imageDir, seedDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		imageDir: imageDir,
		seedDir:  seedDir,
		logger:   logger,
	}
}

// DiskPath returns the canonical disk path for a VM name.
func (m *Manager) DiskPath(name string) string {
	return filepath.Join(m.imageDir, name+".qcow2")
}

// SeedPath returns the canonical seed volume path for a VM name.
func (m *Manager) SeedPath(name string) string {
	return filepath.Join(m.seedDir, name+"-seed.iso")
}

// CloneDisk creates a VM's overlay disk backed by the base image at
// basePath. The overlay starts empty and grows copy-on-write, so cloning is
// cheap regardless of base image size. Returns the created disk path.
func (m *Manager) CloneDisk(ctx context.Context, name, basePath string, sizeGB int) (string, error) {
	if _, err := exec.LookPath("qemu-img"); err != nil {
		return "", errors.New("qemu-img not found on PATH")
	}

	if sizeGB < minDiskGB {
		sizeGB = minDiskGB
	}

	diskPath := m.DiskPath(name)

	cmd := exec.CommandContext(ctx,
		"qemu-img", "create",
		"-f", "qcow2",
		"-b", basePath,
		"-F", "qcow2",
		diskPath,
		fmt.Sprintf("%dG", sizeGB),
	)
	if output, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("failed to create disk %s: %w: %s", diskPath, err, strings.TrimSpace(string(output)))
	}

	m.applyQEMUOwnership(diskPath)

	return diskPath, nil
}

// WriteSeed writes a guest's seed ISO, creating the seed directory when
// needed. Returns the written seed path.
func (m *Manager) WriteSeed(name string, isoData []byte) (string, error) {
	if len(isoData) == 0 {
		return "", fmt.Errorf("ISO data cannot be empty")
	}

	if err := os.MkdirAll(m.seedDir, DirPermissions); err != nil {
		return "", fmt.Errorf("failed to create seed directory %s: %w", m.seedDir, err)
	}

	seedPath := m.SeedPath(name)
	if err := os.WriteFile(seedPath, isoData, FilePermissions); err != nil {
		return "", fmt.Errorf("failed to write seed volume %s: %w", seedPath, err)
	}

	m.applyQEMUOwnership(seedPath)

	return seedPath, nil
}

// Remove deletes a VM's disk and seed volume, tolerating files that are
// already gone. Both removals are attempted even if the first fails.
func (m *Manager) Remove(name string) error {
	var errs []error
	for _, path := range []string{m.DiskPath(name), m.SeedPath(name)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("failed to remove %s: %w", path, err))
		}
	}
	return errors.Join(errs...)
}

// CheckWritable verifies the image directory exists and that both the image
// and seed directories accept writes, creating the seed directory if
// missing. Used by environment preflight before any provisioning.
func (m *Manager) CheckWritable() error {
	info, err := os.Stat(m.imageDir)
	if err != nil {
		return fmt.Errorf("image directory %s: %w", m.imageDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("image directory %s is not a directory", m.imageDir)
	}
	if err := probeWrite(m.imageDir); err != nil {
		return fmt.Errorf("image directory %s is not writable: %w", m.imageDir, err)
	}

	if err := os.MkdirAll(m.seedDir, DirPermissions); err != nil {
		return fmt.Errorf("seed directory %s: %w", m.seedDir, err)
	}
	if err := probeWrite(m.seedDir); err != nil {
		return fmt.Errorf("seed directory %s is not writable: %w", m.seedDir, err)
	}

	return nil
}

// probeWrite creates and removes a throwaway file in dir.
func probeWrite(dir string) error {
	f, err := os.CreateTemp(dir, ".writecheck-*")
	if err != nil {
		return err
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(name)
		return err
	}
	return os.Remove(name)
}

// applyQEMUOwnership hands a file to the hypervisor's qemu user.
// Best-effort: unprivileged runs cannot chown, and libvirt's own DAC
// relabeling usually covers it.
func (m *Manager) applyQEMUOwnership(path string) {
	uid, gid, err := qemuUserGroup()
	if err != nil {
		m.logger.Debug("qemu user lookup used fallback", "error", err)
	}

	if err := os.Chown(path, uid, gid); err != nil {
		m.logger.Debug("could not set qemu ownership", "path", path, "error", err)
	}

	if err := os.Chmod(path, FilePermissions); err != nil {
		m.logger.Debug("could not set file permissions", "path", path, "error", err)
	}
}
