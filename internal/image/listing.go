package image

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalImage describes one cached base image in the image directory.
type LocalImage struct {
	Name      string
	Path      string
	Format    Format
	SizeBytes int64
}

// SizeGB returns the image size in gigabytes.
func (i LocalImage) SizeGB() float64 {
	return float64(i.SizeBytes) / (1024 * 1024 * 1024)
}

// List reports the cached base images under imageDir: regular files that
// follow the canonical cloud-base naming and carry a recognized disk image
// signature. Instance overlay disks share the directory and are excluded
// by the naming rule; files without a recognizable signature (leftover
// temp files, truncated downloads) are skipped. Results are ordered by
// file name. A missing directory is an empty cache, not an error.
func List(imageDir string) ([]LocalImage, error) {
	entries, err := os.ReadDir(imageDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read image directory %s: %w", imageDir, err)
	}

	var images []LocalImage
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		name := entry.Name()
		if !strings.Contains(name, "-cloud-base-") || !strings.HasSuffix(name, ".qcow2") {
			continue
		}

		path := filepath.Join(imageDir, name)
		format, err := DetectImageFormat(path)
		if err != nil {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		images = append(images, LocalImage{
			Name:      name,
			Path:      path,
			Format:    format,
			SizeBytes: info.Size(),
		})
	}

	return images, nil
}
