package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/openmined/vcsws/internal/wsproto"
)

const (
	rxBufferSize   = 8
	shutdownReason = "shutdown"
)

// Peer is a subscribed connection. It keeps reading so that pings are answered and
// replies land in a queue the sync round drains.
type Peer struct {
	ConnID string
	Addr   string
	Closed chan struct{}

	conn      *wsproto.Conn
	rx        chan []byte
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewPeer(conn *wsproto.Conn, addr string) *Peer {
	return &Peer{
		ConnID: uuid.NewString(),
		Addr:   addr,
		Closed: make(chan struct{}),
		conn:   conn,
		rx:     make(chan []byte, rxBufferSize),
	}
}

func (p *Peer) Start(ctx context.Context, pingInterval time.Duration) {
	ctx, p.cancel = context.WithCancel(ctx)
	slog.Debug("peer start", "connId", p.ConnID, "addr", p.Addr)
	p.wg.Add(2)
	go p.readLoop(ctx)
	go p.pingLoop(ctx, pingInterval)
}

// Close ends the subscription and waits for the peer's loops to exit.
func (p *Peer) Close() {
	p.closeConnection(websocket.StatusNormalClosure, shutdownReason)
	p.wg.Wait()
}

func (p *Peer) IsClosed() bool {
	select {
	case <-p.Closed:
		return true
	default:
		return false
	}
}

func (p *Peer) closeConnection(status websocket.StatusCode, reason string) {
	p.closeOnce.Do(func() {
		close(p.Closed)
		p.conn.CloseWith(status, reason)
		if p.cancel != nil {
			p.cancel()
		}
		slog.Debug("peer closed", "connId", p.ConnID, "addr", p.Addr, "reason", reason)
	})
}

func (p *Peer) readLoop(ctx context.Context) {
	defer func() {
		p.wg.Done()
		p.closeConnection(websocket.StatusNormalClosure, shutdownReason)
	}()

	for {
		typ, data, err := p.conn.WS().Read(ctx)
		if err != nil {
			if !wsproto.IsClosed(err) {
				slog.Warn("peer reader", "connId", p.ConnID, "error", err)
			}
			return
		}
		if typ != websocket.MessageText {
			slog.Warn("peer reader unexpected frame", "connId", p.ConnID, "type", typ)
			continue
		}

		select {
		case p.rx <- data:
		case <-p.Closed:
			return
		default:
			slog.Warn("peer reader buffer full", "connId", p.ConnID, "dropped", len(data))
		}
	}
}

func (p *Peer) pingLoop(ctx context.Context, interval time.Duration) {
	defer p.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, interval)
			err := p.conn.WS().Ping(pingCtx)
			cancel()
			if err != nil {
				slog.Debug("peer ping failed", "connId", p.ConnID, "error", err)
				p.closeConnection(websocket.StatusGoingAway, "ping timeout")
				return
			}
		case <-p.Closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Send writes one frame to the subscriber.
func (p *Peer) Send(ctx context.Context, typ websocket.MessageType, data []byte) error {
	if p.IsClosed() {
		return wsproto.ErrConnectionClosed
	}
	return p.conn.SendRaw(ctx, typ, data)
}

// Recv waits up to timeout for the next text frame from the subscriber.
func (p *Peer) Recv(ctx context.Context, timeout time.Duration) ([]byte, error) {
	select {
	case data := <-p.rx:
		return data, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case data := <-p.rx:
		return data, nil
	case <-p.Closed:
		// a reply queued before the close still counts
		select {
		case data := <-p.rx:
			return data, nil
		default:
			return nil, wsproto.ErrConnectionClosed
		}
	case <-timer.C:
		return nil, fmt.Errorf("no reply from %s within %s: %w", p.Addr, timeout, context.DeadlineExceeded)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
