package deploy

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/openmined/vcsws/internal/client"
	"github.com/openmined/vcsws/internal/project"
	"github.com/openmined/vcsws/internal/utils"
	"github.com/openmined/vcsws/internal/wsproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
}

func newProject(t *testing.T) *project.Project {
	t.Helper()
	p, err := project.Init(t.TempDir())
	require.NoError(t, err)
	return p
}

type served struct {
	res *Result
	err error
}

// start runs a listener for node on a free loopback port and returns its websocket url.
func start(t *testing.T, node *project.Project) (string, <-chan served) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	l := New(node, Config{StatusInterval: 20 * time.Millisecond, RecvTimeout: 5 * time.Second})
	out := make(chan served, 1)
	go func() {
		res, err := l.Serve(ctx, ln)
		out <- served{res, err}
	}()
	return "ws://" + ln.Addr().String() + "/ws", out
}

func wait(t *testing.T, out <-chan served) served {
	t.Helper()
	select {
	case s := <-out:
		return s
	case <-time.After(10 * time.Second):
		t.Fatal("rendezvous did not finish")
		return served{}
	}
}

func TestDeployIgnoresInvalidCommandThenAcceptsPush(t *testing.T) {
	node := newProject(t)
	url, out := start(t, node)
	ctx := context.Background()

	bad, err := wsproto.Dial(ctx, url, nil, 5*time.Second, 0)
	require.NoError(t, err)
	require.NoError(t, bad.SendText(ctx, "push"))
	require.NoError(t, bad.SendText(ctx, "deploy main"))
	require.NoError(t, bad.SendCommand(ctx, wsproto.Sync()))
	bad.Close()

	select {
	case <-out:
		t.Fatal("listener stopped on an invalid command")
	case <-time.After(100 * time.Millisecond):
	}

	local := newProject(t)
	write(t, local.Root, "app/main.go", "package main")
	write(t, local.Root, "README", "readme")

	stats, err := client.New(local, client.Config{URL: url}).Push(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Files)

	s := wait(t, out)
	require.NoError(t, s.err)
	assert.Equal(t, wsproto.CmdPush, s.res.Command.Kind)
	assert.Equal(t, "main", s.res.Command.Branch)
	assert.Len(t, s.res.Diff.Created, 2)

	data, err := os.ReadFile(filepath.Join(node.Root, "app", "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main", string(data))
}

func TestDeployPull(t *testing.T) {
	node := newProject(t)
	write(t, node.Root, "site/index.html", "<html/>")
	url, out := start(t, node)

	local := newProject(t)
	write(t, local.Root, "site/index.html", "old")

	diff, stats, err := client.New(local, client.Config{URL: url}).Pull(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Files)
	assert.Len(t, diff.Updated, 1)

	s := wait(t, out)
	require.NoError(t, s.err)
	assert.Equal(t, wsproto.CmdPull, s.res.Command.Kind)
	assert.Equal(t, 1, s.res.Stats.Files)

	data, err := os.ReadFile(filepath.Join(local.Root, "site", "index.html"))
	require.NoError(t, err)
	assert.Equal(t, "<html/>", string(data))
}

func TestDeployRelocatesToPushedBranch(t *testing.T) {
	node := newProject(t)
	require.NoError(t, node.CreateBranch("feature"))
	url, out := start(t, node)

	local := newProject(t)
	require.NoError(t, local.CreateBranch("feature"))
	require.True(t, local.Relocate("feature"))
	write(t, local.Root, "f.txt", "f")

	_, err := client.New(local, client.Config{URL: url}).Push(context.Background())
	require.NoError(t, err)

	s := wait(t, out)
	require.NoError(t, s.err)
	assert.Equal(t, "feature", node.ActiveBranch())
}

func TestDeployUnknownBranchKeepsActive(t *testing.T) {
	node := newProject(t)
	url, out := start(t, node)

	local := newProject(t)
	require.NoError(t, local.CreateBranch("other"))
	require.True(t, local.Relocate("other"))

	_, err := client.New(local, client.Config{URL: url}).Push(context.Background())
	require.NoError(t, err)

	s := wait(t, out)
	require.NoError(t, s.err)
	assert.Equal(t, "other", s.res.Command.Branch)
	assert.Equal(t, "main", node.ActiveBranch())
}

func TestDeployStopsOnCancel(t *testing.T) {
	node := newProject(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	l := New(node, Config{StatusInterval: 10 * time.Millisecond})
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err = l.Serve(ctx, ln)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDeployPushCannotWriteMetadata(t *testing.T) {
	node := newProject(t)
	manifest, err := os.ReadFile(filepath.Join(node.MetaDir, project.ManifestFileName))
	require.NoError(t, err)
	url, out := start(t, node)
	ctx := context.Background()

	conn, err := wsproto.Dial(ctx, url, nil, 5*time.Second, 0)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SendCommand(ctx, wsproto.Push("main")))
	require.NoError(t, conn.SendJSON(ctx, map[string]string{
		"deadbeef": project.MetaDirName + "/" + project.ManifestFileName,
	}))
	var wanted []string
	require.NoError(t, conn.RecvJSON(ctx, &wanted))
	assert.Empty(t, wanted)

	s := wait(t, out)
	require.NoError(t, s.err)
	assert.False(t, s.res.Diff.HasChanges())

	after, err := os.ReadFile(filepath.Join(node.MetaDir, project.ManifestFileName))
	require.NoError(t, err)
	assert.Equal(t, string(manifest), string(after))
	_, err = project.Open(node.Root)
	assert.NoError(t, err)
}

func TestDeployRunBindsConfiguredAddr(t *testing.T) {
	node := newProject(t)
	addr, err := utils.FreeLocalAddr()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := New(node, Config{Addr: addr, RecvTimeout: 5 * time.Second})
	out := make(chan served, 1)
	go func() {
		res, err := l.Run(ctx)
		out <- served{res, err}
	}()
	require.Eventually(t, func() bool {
		c, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		c.Close()
		return true
	}, 5*time.Second, 10*time.Millisecond)

	local := newProject(t)
	write(t, local.Root, "a.txt", "a")
	_, err = client.New(local, client.Config{URL: "ws://" + addr + "/ws"}).Push(ctx)
	require.NoError(t, err)

	s := wait(t, out)
	require.NoError(t, s.err)
	assert.Len(t, s.res.Diff.Created, 1)
}
