package fleet

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WriteManifest persists the list of VM names from a fleet-creation run as
// a newline-delimited file at path. The file is fully rewritten on every
// call; downstream tooling treats it as the complete current fleet, so
// stale entries from earlier runs must never survive.
func WriteManifest(path string, names []string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte('\n')
	}

	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write manifest %s: %w", path, err)
	}

	return nil
}

// RemoveManifest deletes the manifest file after a full fleet teardown.
// A missing manifest is not an error.
func RemoveManifest(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove manifest %s: %w", path, err)
	}
	return nil
}
