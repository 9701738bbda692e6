package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/openmined/vcsws/internal/branch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func TestInitCreatesLayout(t *testing.T) {
	root := t.TempDir()

	p, err := Init(root)
	require.NoError(t, err)

	assert.DirExists(t, filepath.Join(root, MetaDirName, "branches", "main"))
	assert.FileExists(t, filepath.Join(root, MetaDirName, ManifestFileName))
	assert.Equal(t, "main", p.ActiveBranch())
	assert.Equal(t, filepath.Base(root), p.Manifest.ProjectName)
	assert.Equal(t, filepath.Join(root, MetaDirName, DefaultIgnoreFileName), p.IgnoreFile)
	assert.Contains(t, p.IgnoredPaths(), filepath.Join(root, MetaDirName))
}

func TestInitInvalidPath(t *testing.T) {
	root := t.TempDir()

	_, err := Init(filepath.Join(root, "missing"))
	assert.ErrorIs(t, err, ErrInvalidProjectPath)

	file := filepath.Join(root, "file.txt")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = Init(file)
	assert.ErrorIs(t, err, ErrInvalidProjectPath)
	assert.NoDirExists(t, filepath.Join(root, MetaDirName))

	_, err = Init("  ")
	assert.ErrorIs(t, err, ErrInvalidProjectPath)
}

func TestOpenRequiresInit(t *testing.T) {
	_, err := Open(t.TempDir())
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestManifestCustomIgnoreFile(t *testing.T) {
	root := t.TempDir()
	write(t, root, "secret/key.pem", "k")
	write(t, root, "a.txt", "a")
	write(t, root, ".vcsws/manifest.toml", "project_name = \"demo\"\nvcswsignore = \"myignore\"\n")
	write(t, root, ".vcsws/myignore", "secret\n")

	p, err := Init(root)
	require.NoError(t, err)
	assert.Equal(t, "demo", p.Name)

	set, err := p.Fingerprint()
	require.NoError(t, err)
	_, ok := set.HashOf("secret/key.pem")
	assert.False(t, ok)
	_, ok = set.HashOf("a.txt")
	assert.True(t, ok)
}

func TestFingerprintSkipsMetaDir(t *testing.T) {
	root := t.TempDir()
	write(t, root, "a.txt", "a")

	p, err := Init(root)
	require.NoError(t, err)
	_, err = p.Commit("c1", "one")
	require.NoError(t, err)

	set, err := p.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, 1, set.Len())
}

func TestCommitIdempotent(t *testing.T) {
	root := t.TempDir()
	write(t, root, "a.txt", "a")
	write(t, root, "src/b.go", "package b")

	p, err := Init(root)
	require.NoError(t, err)

	commitPath := filepath.Join(root, MetaDirName, "branches", "main", "c1")

	_, err = p.Commit("c1", "snapshot")
	require.NoError(t, err)
	first, err := os.ReadFile(commitPath)
	require.NoError(t, err)

	_, err = p.Commit("c1", "snapshot")
	require.NoError(t, err)
	second, err := os.ReadFile(commitPath)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestCommitEmptyName(t *testing.T) {
	root := t.TempDir()
	p, err := Init(root)
	require.NoError(t, err)

	before, err := p.Branches.Commits("main")
	require.NoError(t, err)

	_, err = p.Commit("", "nothing")
	assert.ErrorIs(t, err, branch.ErrEmptyCommitName)

	after, err := p.Branches.Commits("main")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRelocate(t *testing.T) {
	p, err := Init(t.TempDir())
	require.NoError(t, err)

	before := p.ActiveBranch()
	assert.False(t, p.Relocate("nope"))
	assert.Equal(t, before, p.ActiveBranch())

	require.NoError(t, p.CreateBranch("dev"))
	assert.True(t, p.Relocate("dev"))
	assert.Equal(t, "dev", p.ActiveBranch())

	_, err = p.Commit("c1", "on dev")
	require.NoError(t, err)
	names, err := p.Branches.Commits("dev")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, names)
}

func TestIgnoreCommand(t *testing.T) {
	root := t.TempDir()
	write(t, root, "a.txt", "a")
	write(t, root, "build/out", "o")

	p, err := Init(root)
	require.NoError(t, err)

	added, err := p.Ignore("build")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = p.Ignore("ghost")
	require.NoError(t, err)
	assert.False(t, added)

	set, err := p.Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, 1, set.Len())
}

func TestCheckpointRestoresBranch(t *testing.T) {
	root := t.TempDir()
	p, err := Init(root)
	require.NoError(t, err)
	require.NoError(t, p.CreateBranch("dev"))
	require.True(t, p.Relocate("dev"))
	require.NoError(t, p.Checkpoint())

	again, err := Open(root)
	require.NoError(t, err)
	assert.Equal(t, "dev", again.ActiveBranch())
}

func TestLock(t *testing.T) {
	root := t.TempDir()
	a, err := Init(root)
	require.NoError(t, err)
	b, err := Open(root)
	require.NoError(t, err)

	require.NoError(t, a.Lock())
	assert.ErrorIs(t, b.Lock(), ErrProjectLocked)
	require.NoError(t, a.Unlock())
	require.NoError(t, b.Lock())
	require.NoError(t, b.Unlock())
}
