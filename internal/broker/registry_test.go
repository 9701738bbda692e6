package broker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/openmined/vcsws/internal/wsproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serverConn returns the accepted side of a fresh websocket connection. The dialled
// side is closed with the test.
func serverConn(t *testing.T) *wsproto.Conn {
	t.Helper()
	accepted := make(chan *websocket.Conn, 1)
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		accepted <- ws
		<-release
	}))
	t.Cleanup(srv.Close)

	ctx := context.Background()
	dialled, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	// keep reading so close handshakes complete
	go func() {
		for {
			if _, _, err := dialled.Read(ctx); err != nil {
				return
			}
		}
	}()
	t.Cleanup(func() {
		close(release)
		dialled.CloseNow()
	})

	select {
	case ws := <-accepted:
		return wsproto.NewConn(ws, time.Second, 0)
	case <-time.After(5 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func startedPeer(t *testing.T, addr string) *Peer {
	t.Helper()
	p := NewPeer(serverConn(t), addr)
	p.Start(context.Background(), time.Minute)
	t.Cleanup(p.Close)
	return p
}

func TestRegistryLastWriterWins(t *testing.T) {
	r := NewRegistry()
	first := startedPeer(t, "10.0.0.1:5000")
	second := startedPeer(t, "10.0.0.1:5000")

	r.Add(first)
	r.Add(second)

	assert.Equal(t, 1, r.Len())
	assert.Same(t, second, r.Snapshot()[0])
	require.Eventually(t, first.IsClosed, 5*time.Second, 10*time.Millisecond)

	assert.False(t, r.Remove(first))
	assert.True(t, r.Remove(second))
	assert.Zero(t, r.Len())
}

func TestRegistryPrune(t *testing.T) {
	r := NewRegistry()
	alive := startedPeer(t, "10.0.0.1:5000")
	dead := startedPeer(t, "10.0.0.2:5000")
	r.Add(alive)
	r.Add(dead)

	dead.Close()
	assert.Equal(t, 1, r.Prune())
	assert.Equal(t, []*Peer{alive}, r.Snapshot())
}

func TestRegistryClearClosesAll(t *testing.T) {
	r := NewRegistry()
	peers := []*Peer{
		startedPeer(t, "10.0.0.2:5000"),
		startedPeer(t, "10.0.0.1:5000"),
	}
	for _, p := range peers {
		r.Add(p)
	}

	snap := r.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "10.0.0.1:5000", snap[0].Addr)

	assert.Equal(t, 2, r.Clear())
	assert.Zero(t, r.Len())
	for _, p := range peers {
		assert.True(t, p.IsClosed())
	}
}

func TestPeerRecvTimeout(t *testing.T) {
	p := startedPeer(t, "10.0.0.1:5000")

	start := time.Now()
	_, err := p.Recv(context.Background(), 50*time.Millisecond)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 2*time.Second)
}
