package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openmined/vcsws/internal/branch"
	"github.com/openmined/vcsws/internal/project"
	"github.com/openmined/vcsws/internal/reconcile"
	"github.com/openmined/vcsws/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	closeProjectLog()
	return out.String(), err
}

func TestLoadConfigEnv(t *testing.T) {
	t.Setenv("VCSWS_BROKER", "ws://broker.test:9000/ws")
	t.Setenv("VCSWS_REMOTE", "node.test:8765")
	t.Setenv("VCSWS_RECV_TIMEOUT", "5s")

	cfg, err := loadConfig(rootCmd)
	require.NoError(t, err)
	assert.Equal(t, "ws://broker.test:9000/ws", cfg.Broker)
	assert.Equal(t, "node.test:8765", cfg.Remote)
	assert.Equal(t, 5*time.Second, cfg.RecvTimeout)
}

func TestWsURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "127.0.0.1:8765", want: "ws://127.0.0.1:8765/ws"},
		{in: "ws://host:1/ws", want: "ws://host:1/ws"},
		{in: "https://relay.example.com", want: "wss://relay.example.com/ws"},
		{in: "http://host:2/custom", want: "ws://host:2/custom"},
		{in: "", wantErr: true},
		{in: "ftp://host", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := wsURL(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version.Detailed(), strings.TrimSpace(out))
}

func TestProjectCommands(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, "init", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "initialized")

	_, err = run(t, "commit", "-p", dir)
	assert.ErrorIs(t, err, branch.ErrEmptyCommitName)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha"), 0o644))

	out, err = run(t, "status", "-p", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "a.txt")
	assert.Contains(t, out, "1 files")

	out, err = run(t, "commit", "c1", "-m", "first commit", "-p", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "committed c1")

	out, err = run(t, "log", "-p", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "c1")

	out, err = run(t, "show", "c1", "-p", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "first commit")
	assert.Contains(t, out, " : a.txt")

	_, err = run(t, "branch", "feature", "-p", dir)
	require.NoError(t, err)
	out, err = run(t, "branch", "-p", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "* main")
	assert.Contains(t, out, "feature")

	out, err = run(t, "checkout", "missing", "-p", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "not found")

	_, err = run(t, "checkout", "feature", "-p", dir)
	require.NoError(t, err)

	// the session checkpoint carries the branch into the next invocation
	p, err := project.Open(dir)
	require.NoError(t, err)
	assert.Equal(t, "feature", p.ActiveBranch())

	assert.FileExists(t, filepath.Join(dir, project.MetaDirName, "logs", logFileName))
}

func TestStatusRequiresInit(t *testing.T) {
	_, err := run(t, "status", "-p", t.TempDir())
	assert.ErrorIs(t, err, project.ErrNotInitialized)
}

func TestPrintDiff(t *testing.T) {
	var out bytes.Buffer
	printDiff(&out, &reconcile.Diff{
		Moved:   []reconcile.Move{{Hash: "h1", From: "old.txt", To: "new.txt"}},
		Created: []reconcile.Change{{Hash: "h2", Path: "b.txt"}},
		Deleted: []reconcile.Change{{Hash: "h3", Path: "c.txt"}},
	})
	got := out.String()
	assert.Contains(t, got, "[M] old.txt -> new.txt")
	assert.Contains(t, got, "[N] b.txt")
	assert.Contains(t, got, "[D] c.txt")

	out.Reset()
	printDiff(&out, &reconcile.Diff{})
	assert.Equal(t, "up to date\n", out.String())
}
