package utils

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ResolvePath turns user input into a clean absolute path.
// Surrounding spaces and quotes are stripped and a leading `~` is expanded.
func ResolvePath(path string) (string, error) {
	path = strings.Trim(path, " '\"")
	if path == "" {
		return "", errors.New("path cannot be empty")
	}

	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", errors.New("failed to retrieve home directory")
		}
		path = strings.Replace(path, "~", homeDir, 1)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	return filepath.Clean(absPath), nil
}

// LocalPath converts a wire path back to an OS path under root.
// Paths escaping root are rejected.
func LocalPath(root, wirePath string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(wirePath))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.New("path escapes project root: " + wirePath)
	}
	return filepath.Join(root, clean), nil
}

func EnsureParent(path string) error {
	return EnsureDir(filepath.Dir(path))
}

func EnsureDir(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	return os.MkdirAll(path, 0o755)
}

func DirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func PathExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
