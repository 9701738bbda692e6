package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/openmined/vcsws/internal/project"
	"github.com/openmined/vcsws/internal/version"
	"github.com/openmined/vcsws/internal/wsproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newProject(t *testing.T) *project.Project {
	t.Helper()
	p, err := project.Init(t.TempDir())
	require.NoError(t, err)
	return p
}

func TestConfigDefaults(t *testing.T) {
	c := New(newProject(t), Config{URL: "ws://127.0.0.1:1/ws"})
	assert.Equal(t, wsproto.DefaultRecvTimeout, c.config.RecvTimeout)
	assert.EqualValues(t, wsproto.DefaultMaxMessageSize, c.config.MaxFileSize)
}

func TestPushUnreachable(t *testing.T) {
	c := New(newProject(t), Config{URL: "ws://127.0.0.1:1/ws"})
	_, err := c.Push(context.Background())
	assert.Error(t, err)
}

// A peer that asks for nothing still completes the push.
func TestPushSendsCommandAndVersion(t *testing.T) {
	got := make(chan string, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get(version.HeaderName)
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		conn := wsproto.NewConn(ws, 5*time.Second, 0)
		defer conn.Close()

		ctx := r.Context()
		cmd, err := conn.RecvCommand(ctx)
		if err != nil {
			return
		}
		got <- cmd.String()
		var set map[string]string
		if err := conn.RecvJSON(ctx, &set); err != nil {
			return
		}
		conn.SendJSON(ctx, []string{})
	}))
	defer srv.Close()

	p := newProject(t)
	require.NoError(t, os.WriteFile(filepath.Join(p.Root, "a.txt"), []byte("a"), 0o644))

	c := New(p, Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	stats, err := c.Push(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Files)

	assert.Equal(t, version.Version, <-got)
	assert.Equal(t, "push main", <-got)
}
