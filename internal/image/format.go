// Package image resolves (distribution, version) pairs to verified local
// base images, downloading from the distribution's upstream mirror when no
// cached copy exists.
package image

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Magic bytes and signatures for disk image format detection
var (
	// qcow2Magic is the magic at the start of QCOW2 files: "QFI" + 0xfb.
	// Reference: https://www.qemu.org/docs/master/interop/qcow2.html
	qcow2Magic = []byte{0x51, 0x46, 0x49, 0xfb}

	// mbrSignature is the boot sector signature at offset 510. GPT disks
	// carry it too, via the protective MBR in the first sector.
	mbrSignature = []byte{0x55, 0xaa}
)

// Format identifies a detected disk image container format.
type Format string

const (
	FormatQCOW2 Format = "qcow2"
	FormatRaw   Format = "raw"
)

// minImageSize is the smallest plausible cloud image. Anything below this
// is a truncated download or an error page, never a bootable disk.
const minImageSize = 1 << 20 // 1 MiB

// DetectImageFormat detects the disk image format by reading magic bytes.
// Returns FormatQCOW2 for QCOW2 images, or FormatRaw for images with an
// MBR boot signature. Returns an error for anything else, so arbitrary
// files never pass as clone sources.
func DetectImageFormat(filePath string) (Format, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	// Read first 4 bytes to check for QCOW2 magic
	magic := make([]byte, 4)
	if _, err := io.ReadFull(f, magic); err != nil {
		return "", fmt.Errorf("file too small to be valid image (< 4 bytes): %w", err)
	}

	if bytes.Equal(magic, qcow2Magic) {
		return FormatQCOW2, nil
	}

	// Not QCOW2, check for a raw image's boot sector signature at offset 510
	if _, err := f.Seek(510, 0); err != nil {
		return "", fmt.Errorf("failed to seek to boot sector signature: %w", err)
	}

	sig := make([]byte, 2)
	if _, err := io.ReadFull(f, sig); err != nil {
		return "", fmt.Errorf("file too small for boot sector (< 512 bytes): %w", err)
	}

	if bytes.Equal(sig, mbrSignature) {
		return FormatRaw, nil
	}

	return "", fmt.Errorf("unsupported or invalid image: not qcow2 and missing boot sector signature (0x55aa at offset 510)")
}

// htmlPrefixes are the signatures of mirror error pages. Some mirrors
// answer missing files with 200 and an HTML body, so downloads must be
// sniffed before they are trusted.
var htmlPrefixes = [][]byte{
	[]byte("<!doctype"),
	[]byte("<html"),
	[]byte("<head"),
}

// looksLikeHTML reports whether data starts with an HTML document marker,
// ignoring leading whitespace and letter case.
func looksLikeHTML(data []byte) bool {
	trimmed := bytes.ToLower(bytes.TrimLeft(data, " \t\r\n"))
	for _, prefix := range htmlPrefixes {
		if bytes.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

// verifyDownload checks that a freshly downloaded file at path is a
// plausible qcow2 cloud image: large enough, not an HTML error page, and
// carrying the qcow2 magic. Returns an error wrapping ErrImageInvalid on
// any failure; the caller owns removal of the rejected file.
func verifyDownload(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: cannot stat download: %v", ErrImageInvalid, err)
	}
	if info.Size() < minImageSize {
		return fmt.Errorf("%w: download is %d bytes, below the %d byte minimum (likely an error page or truncated transfer)",
			ErrImageInvalid, info.Size(), minImageSize)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: cannot open download: %v", ErrImageInvalid, err)
	}
	defer func() { _ = f.Close() }()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return fmt.Errorf("%w: cannot read download header: %v", ErrImageInvalid, err)
	}
	head = head[:n]

	if looksLikeHTML(head) {
		return fmt.Errorf("%w: download is an HTML document, not a disk image", ErrImageInvalid)
	}
	if len(head) < 4 || !bytes.Equal(head[:4], qcow2Magic) {
		return fmt.Errorf("%w: download is missing the qcow2 magic signature", ErrImageInvalid)
	}

	return nil
}
