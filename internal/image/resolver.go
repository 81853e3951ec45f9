package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/snailsec/snailfleet/internal/fleet"
)

var (
	// ErrImageNotFound indicates no base image exists locally and none could
	// be located at the distribution's upstream source.
	ErrImageNotFound = errors.New("base image not found")

	// ErrImageInvalid indicates a downloaded file failed verification --
	// too small, HTML-shaped, or missing the expected container magic.
	ErrImageInvalid = errors.New("image failed verification")
)

// BaseImage describes a verified cloud base image on local disk, used as the
// clone source for per-VM disks.
type BaseImage struct {
	Distribution fleet.Distribution `json:"distribution"`
	Version      string             `json:"version"`
	LocalPath    string             `json:"local_path"`
	SourceURL    string             `json:"source_url,omitempty"`
}

// Resolver locates base images for (distribution, version) pairs, downloading
// from upstream mirrors when the canonical local file is absent.
type Resolver struct {
	imageDir string
	client   *http.Client
	logger   *slog.Logger
}

// NewResolver creates a Resolver that caches images under imageDir.
func NewResolver(imageDir string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		imageDir: imageDir,
		// Cloud images run 300-700 MiB; allow slow mirrors.
		client: &http.Client{Timeout: 30 * time.Minute},
		logger: logger,
	}
}

// LocalPath returns the canonical path for a spec's base image inside the
// resolver's image directory. Version dots are replaced by underscores so
// ubuntu point releases produce filesystem-safe names.
func (r *Resolver) LocalPath(spec fleet.VMSpec) string {
	return filepath.Join(r.imageDir, canonicalName(spec))
}

func canonicalName(spec fleet.VMSpec) string {
	version := strings.ReplaceAll(spec.Version, ".", "_")
	return fmt.Sprintf("%s-cloud-base-%s.qcow2", spec.Distribution, version)
}

// Resolve returns a usable base image for spec. A verified local file is
// returned without touching the network; otherwise candidate upstream URLs
// are probed and the first hit is downloaded, verified, and moved into the
// canonical path atomically. On failure no file is left at the canonical
// path.
func (r *Resolver) Resolve(ctx context.Context, spec fleet.VMSpec) (BaseImage, error) {
	local := r.LocalPath(spec)

	if _, err := os.Stat(local); err == nil {
		format, err := DetectImageFormat(local)
		if err != nil {
			return BaseImage{}, fmt.Errorf("cached image %s: %w", local, err)
		}
		if format != FormatQCOW2 {
			return BaseImage{}, fmt.Errorf("cached image %s has format %s, expected %s: %w", local, format, FormatQCOW2, ErrImageInvalid)
		}
		r.logger.Debug("base image already cached", "distribution", spec.Distribution, "version", spec.Version, "path", local)
		return BaseImage{
			Distribution: spec.Distribution,
			Version:      spec.Version,
			LocalPath:    local,
		}, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return BaseImage{}, fmt.Errorf("stat %s: %w", local, err)
	}

	sourceURL, err := r.locate(ctx, spec)
	if err != nil {
		return BaseImage{}, err
	}

	r.logger.Info("downloading base image", "distribution", spec.Distribution, "version", spec.Version, "url", sourceURL)
	if err := r.download(ctx, sourceURL, local); err != nil {
		return BaseImage{}, err
	}
	r.logger.Info("base image ready", "path", local)

	return BaseImage{
		Distribution: spec.Distribution,
		Version:      spec.Version,
		LocalPath:    local,
		SourceURL:    sourceURL,
	}, nil
}

// locate finds a download URL for spec: an exact listing match when the
// distribution publishes an index, then fixed candidate URLs probed with
// HEAD requests.
func (r *Resolver) locate(ctx context.Context, spec fleet.VMSpec) (string, error) {
	listingURL, candidates, err := upstreamCandidates(spec)
	if err != nil {
		return "", fmt.Errorf("%w: %s %s: %v", ErrImageNotFound, spec.Distribution, spec.Version, err)
	}

	if listingURL != "" {
		if name := r.scrapeListing(ctx, listingURL); name != "" {
			return listingURL + name, nil
		}
	}

	for _, candidate := range candidates {
		if r.probe(ctx, candidate) {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w: no upstream image for %s %s", ErrImageNotFound, spec.Distribution, spec.Version)
}

// scrapeListing fetches a directory index and returns the first qcow2 image
// filename it advertises, or "" when the listing is unavailable.
func (r *Resolver) scrapeListing(ctx context.Context, listingURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listingURL, nil)
	if err != nil {
		return ""
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug("listing fetch failed", "url", listingURL, "error", err)
		return ""
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ""
	}

	// Listings are small HTML pages; cap the read at 1 MiB.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ""
	}

	return parseFedoraListing(body)
}

// probe checks candidate existence with a HEAD request.
func (r *Resolver) probe(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug("candidate probe failed", "url", url, "error", err)
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// download streams url into a temp file in the image directory, verifies it,
// then renames it into dest. The temp file is removed on any failure so a
// bad download never occupies the canonical path.
func (r *Resolver) download(ctx context.Context, url, dest string) error {
	if err := os.MkdirAll(r.imageDir, 0o755); err != nil {
		return fmt.Errorf("create image directory %s: %w", r.imageDir, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp(r.imageDir, filepath.Base(dest)+".download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	_, copyErr := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if copyErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("download %s: %w", url, copyErr)
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("finish download: %w", closeErr)
	}

	if err := verifyDownload(tmpPath); err != nil {
		os.Remove(tmpPath)
		return err
	}

	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("set image permissions: %w", err)
	}

	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("move image into place: %w", err)
	}

	return nil
}
