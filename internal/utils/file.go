package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteFileAtomic streams r into a temp file inside tmpDir and renames it onto path
// once fully written. A failed or partial write never touches path.
func WriteFileAtomic(tmpDir string, path string, r io.Reader) (int64, error) {
	if err := EnsureParent(path); err != nil {
		return 0, fmt.Errorf("ensure parent: %w", err)
	}
	if err := EnsureDir(tmpDir); err != nil {
		return 0, fmt.Errorf("ensure temp dir: %w", err)
	}

	tempFile, err := os.CreateTemp(tmpDir, filepath.Base(path)+".vcsws.tmp.*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()

	success := false
	defer func() {
		if !success {
			tempFile.Close()
			os.Remove(tempPath)
		}
	}()

	n, err := io.Copy(tempFile, r)
	if err != nil {
		return n, fmt.Errorf("write temp file: %w", err)
	}

	if err := tempFile.Sync(); err != nil {
		return n, fmt.Errorf("sync temp file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return n, fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return n, fmt.Errorf("rename temp file to %s: %w", path, err)
	}

	success = true
	return n, nil
}
