// Package project holds the session of one vcsws project: its root, manifest,
// ignore policy, branch store and active branch.
package project

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/openmined/vcsws/internal/branch"
	"github.com/openmined/vcsws/internal/fingerprint"
	"github.com/openmined/vcsws/internal/ignore"
	"github.com/openmined/vcsws/internal/utils"
)

const (
	MetaDirName           = ".vcsws"
	ManifestFileName      = "manifest.toml"
	DefaultIgnoreFileName = ".vcswsignore"

	branchesDir = "branches"
	tmpDir      = "tmp"
	logsDir     = "logs"
	lockFile    = "vcsws.lock"
	sessionFile = "session.json"
)

var (
	ErrInvalidProjectPath = errors.New("invalid project path")
	ErrNotInitialized     = errors.New("project not initialized")
	ErrProjectLocked      = errors.New("project locked by another process")
)

type Project struct {
	Name         string
	Root         string
	MetaDir      string
	ManifestPath string
	IgnoreFile   string
	Manifest     *Manifest
	Branches     *branch.Store

	mu     sync.RWMutex
	branch string
	ignore *ignore.List
	flock  *flock.Flock
}

// Init prepares path as a project, creating the metadata directory, the default
// manifest and the main branch when missing. Nothing is created when path is not
// an existing directory.
func Init(path string) (*Project, error) {
	root, err := utils.ResolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProjectPath, err)
	}
	if !utils.DirExists(root) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidProjectPath, root)
	}

	p := newProject(root)
	for _, dir := range []string{p.MetaDir, p.Branches.Dir()} {
		if err := utils.EnsureDir(dir); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if err := writeDefaultManifest(p.ManifestPath, p.Name); err != nil {
		return nil, fmt.Errorf("manifest create: %w", err)
	}
	if err := p.Branches.Create(branch.DefaultBranch); err != nil {
		return nil, err
	}

	if err := p.load(); err != nil {
		return nil, err
	}
	slog.Info("project", "name", p.Name, "root", p.Root, "branch", p.ActiveBranch())
	return p, nil
}

// Open loads an already initialized project rooted at path.
func Open(path string) (*Project, error) {
	root, err := utils.ResolvePath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProjectPath, err)
	}
	if !utils.DirExists(filepath.Join(root, MetaDirName)) {
		return nil, fmt.Errorf("%w: %s", ErrNotInitialized, root)
	}
	return Init(root)
}

func newProject(root string) *Project {
	meta := filepath.Join(root, MetaDirName)
	return &Project{
		Name:         filepath.Base(root),
		Root:         root,
		MetaDir:      meta,
		ManifestPath: filepath.Join(meta, ManifestFileName),
		Branches:     branch.NewStore(filepath.Join(meta, branchesDir), filepath.Join(meta, tmpDir)),
		branch:       branch.DefaultBranch,
		flock:        flock.New(filepath.Join(meta, lockFile)),
	}
}

func (p *Project) load() error {
	m, err := LoadManifest(p.ManifestPath)
	if err != nil {
		return err
	}
	p.Manifest = m
	if m.ProjectName != "" {
		p.Name = m.ProjectName
	}

	ignoreName := DefaultIgnoreFileName
	if m.IgnoreFile != "" {
		ignoreName = m.IgnoreFile
	}
	p.IgnoreFile = filepath.Join(p.MetaDir, ignoreName)

	if err := p.ReloadIgnore(); err != nil {
		return err
	}

	s, err := readSession(p.sessionPath())
	if err != nil {
		slog.Warn("session restore skipped", "error", err)
	} else if s != nil {
		p.Relocate(s.Branch)
	}
	return nil
}

func (p *Project) TmpDir() string {
	return filepath.Join(p.MetaDir, tmpDir)
}

func (p *Project) LogsDir() string {
	return filepath.Join(p.MetaDir, logsDir)
}

func (p *Project) sessionPath() string {
	return filepath.Join(p.MetaDir, sessionFile)
}

// Lock takes an exclusive lock so that only one process drives the project.
func (p *Project) Lock() error {
	locked, err := p.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock project: %w", err)
	}
	if !locked {
		return ErrProjectLocked
	}
	return nil
}

func (p *Project) Unlock() error {
	if !p.flock.Locked() {
		return nil
	}
	if err := p.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock project: %w", err)
	}
	return os.Remove(p.flock.Path())
}

func (p *Project) ActiveBranch() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.branch
}

// Relocate switches the active branch when name is an existing branch. Unknown
// names leave the active branch as it was. Reports whether the switch happened.
func (p *Project) Relocate(name string) bool {
	if !p.Branches.Exists(name) {
		slog.Debug("relocate skipped", "branch", name)
		return false
	}
	p.mu.Lock()
	p.branch = name
	p.mu.Unlock()
	return true
}

func (p *Project) CreateBranch(name string) error {
	return p.Branches.Create(name)
}

// Fingerprint computes a fresh fingerprint set of the project tree.
func (p *Project) Fingerprint() (*fingerprint.Set, error) {
	p.mu.RLock()
	ign := p.ignore
	p.mu.RUnlock()

	return Timed("fingerprint", func() (*fingerprint.Set, error) {
		return fingerprint.Compute(p.Root, ign)
	})
}

// Commit snapshots the project into the active branch under name.
func (p *Project) Commit(name, description string) (*branch.Commit, error) {
	if name == "" {
		return nil, branch.ErrEmptyCommitName
	}

	return Timed("commit", func() (*branch.Commit, error) {
		set, err := p.Fingerprint()
		if err != nil {
			return nil, err
		}
		c := &branch.Commit{Name: name, Description: description, Entries: set.List()}
		if _, err := p.Branches.Write(p.ActiveBranch(), c); err != nil {
			return nil, err
		}
		return c, nil
	})
}

// Ignore records a project relative path in the ignore file and reloads the policy.
// An empty path only reloads.
func (p *Project) Ignore(rel string) (bool, error) {
	added, err := ignore.Append(p.IgnoreFile, p.Root, rel)
	if err != nil {
		return false, err
	}
	return added, p.ReloadIgnore()
}

func (p *Project) ReloadIgnore() error {
	l := ignore.New(p.Root, p.MetaDir)
	if err := l.Load(p.IgnoreFile); err != nil {
		return err
	}
	p.mu.Lock()
	p.ignore = l
	p.mu.Unlock()
	return nil
}

// ShouldIgnore reports whether an absolute path is excluded by the current policy.
func (p *Project) ShouldIgnore(abs string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ignore.ShouldIgnore(abs)
}

func (p *Project) IgnoredPaths() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ignore.Paths()
}

// Checkpoint saves the durable session fields atomically.
func (p *Project) Checkpoint() error {
	return writeSession(p.TmpDir(), p.sessionPath(), &Session{
		Version:      sessionVersion,
		ProjectRoot:  p.Root,
		Branch:       p.ActiveBranch(),
		ManifestPath: p.ManifestPath,
	})
}
