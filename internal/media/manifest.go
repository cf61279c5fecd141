package media

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ManifestLine renders one concat demuxer entry for path.
// Single quotes are closed, escaped and reopened so the quoted string stays valid.
func ManifestLine(path string) string {
	return "file '" + strings.ReplaceAll(path, "'", `'\''`) + "'\n"
}

// WriteManifest writes one entry per path, preserving order.
func WriteManifest(w io.Writer, paths []string) error {
	for _, p := range paths {
		if _, err := io.WriteString(w, ManifestLine(p)); err != nil {
			return fmt.Errorf("write to concat list: %w", err)
		}
	}
	return nil
}

// createManifest writes the concat list for paths to manifestPath using
// absolute paths.
func createManifest(manifestPath string, paths []string) error {
	abs := make([]string, 0, len(paths))
	for _, p := range paths {
		a, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("get absolute path for %s: %w", p, err)
		}
		abs = append(abs, a)
	}

	f, err := os.OpenFile(manifestPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600) // #nosec G304 - path is inside the render workspace
	if err != nil {
		return fmt.Errorf("create concat list: %w", err)
	}

	if err := WriteManifest(f, abs); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close concat list: %w", err)
	}
	return nil
}
