// Package branch persists named branches and the commit records inside them.
package branch

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/openmined/vcsws/internal/utils"
)

const DefaultBranch = "main"

var (
	ErrEmptyCommitName = errors.New("empty commit name")
	ErrInvalidName     = errors.New("invalid name")
	ErrBranchNotFound  = errors.New("branch not found")
	ErrCommitNotFound  = errors.New("commit not found")
)

// Store keeps one directory per branch and one flat file per commit.
type Store struct {
	dir    string
	tmpDir string
}

func NewStore(dir string, tmpDir string) *Store {
	return &Store{dir: dir, tmpDir: tmpDir}
}

func (s *Store) Dir() string {
	return s.dir
}

// Create makes the branch directory. Existing branches are left alone.
func (s *Store) Create(name string) error {
	if err := validName(name); err != nil {
		return err
	}
	path := filepath.Join(s.dir, name)
	if utils.DirExists(path) {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create branch %s: %w", name, err)
	}
	slog.Debug("branch created", "branch", name)
	return nil
}

func (s *Store) Exists(name string) bool {
	if validName(name) != nil {
		return false
	}
	return utils.DirExists(filepath.Join(s.dir, name))
}

// List returns the branch names in sorted order.
func (s *Store) List() ([]string, error) {
	return listEntries(s.dir, true)
}

// Write stores c in branch. A commit with the same name is replaced.
func (s *Store) Write(branch string, c *Commit) (string, error) {
	if c.Name == "" {
		return "", ErrEmptyCommitName
	}
	if err := validName(c.Name); err != nil {
		return "", err
	}
	if !s.Exists(branch) {
		return "", fmt.Errorf("%w: %s", ErrBranchNotFound, branch)
	}

	data, err := c.MarshalText()
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.dir, branch, c.Name)
	if _, err := utils.WriteFileAtomic(s.tmpDir, path, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("write commit %s/%s: %w", branch, c.Name, err)
	}
	slog.Debug("commit written", "branch", branch, "commit", c.Name, "entries", len(c.Entries))
	return path, nil
}

// Commits lists the commit names of branch in sorted order.
func (s *Store) Commits(branch string) ([]string, error) {
	if !s.Exists(branch) {
		return nil, fmt.Errorf("%w: %s", ErrBranchNotFound, branch)
	}
	return listEntries(filepath.Join(s.dir, branch), false)
}

func (s *Store) Read(branch, name string) (*Commit, error) {
	if !s.Exists(branch) {
		return nil, fmt.Errorf("%w: %s", ErrBranchNotFound, branch)
	}
	if err := validName(name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(s.dir, branch, name))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s/%s", ErrCommitNotFound, branch, name)
	} else if err != nil {
		return nil, err
	}
	return ParseCommit(name, data)
}

func listEntries(dir string, dirs bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() == dirs {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
