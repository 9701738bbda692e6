// Package broker is the relay server for sync rounds: subscribers register, a sync
// client offers its tree, and the broker fans requested files out to every
// subscriber that wants them.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/openmined/vcsws/internal/version"
	"github.com/openmined/vcsws/internal/wsproto"
)

var ErrRoundInProgress = errors.New("sync round in progress")

type Server struct {
	config   *Config
	server   *http.Server
	registry *Registry
	history  *History

	baseCtx  context.Context
	cancel   context.CancelFunc
	roundMu  sync.Mutex
	rounds   atomic.Int64
	stopOnce sync.Once
}

func New(config *Config) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	config.withDefaults()

	history, err := OpenHistory(config.HistoryPath)
	if err != nil {
		return nil, err
	}

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:   config,
		registry: NewRegistry(),
		history:  history,
		baseCtx:  baseCtx,
		cancel:   cancel,
	}

	handler, err := s.routes()
	if err != nil {
		cancel()
		history.Close()
		return nil, err
	}
	s.server = &http.Server{
		Addr:    config.Addr,
		Handler: handler,
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) Registry() *Registry {
	return s.registry
}

func (s *Server) History() *History {
	return s.history
}

// Rounds reports how many sync rounds have completed.
func (s *Server) Rounds() int64 {
	return s.rounds.Load()
}

// Start serves on Config.Addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("broker listen %s: %w", s.config.Addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	slog.Info("broker start", "addr", ln.Addr().String(), "version", version.Short())
	defer slog.Info("broker stop")

	serveErr := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		s.Stop(context.Background())
		return fmt.Errorf("broker serve: %w", err)
	case <-ctx.Done():
	}

	slog.Info("broker shutdown signal")
	return s.Stop(context.Background())
}

func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	s.cancel()
	closed := s.registry.Clear()
	slog.Info("broker subscribers closed", "count", closed)

	err := s.server.Shutdown(shutdownCtx)
	s.stopOnce.Do(func() {
		if cerr := s.history.Close(); cerr != nil {
			slog.Warn("broker close round history", "error", cerr)
		}
	})
	return err
}

func (s *Server) handleWebsocket(ctx *gin.Context) {
	ws, err := websocket.Accept(ctx.Writer, ctx.Request, nil)
	if err != nil {
		slog.Warn("broker websocket accept", "error", err)
		return
	}
	conn := wsproto.NewConn(ws, s.config.RecvTimeout, s.config.MaxFileSize)
	addr := ctx.Request.RemoteAddr
	reqCtx := ctx.Request.Context()

	for {
		cmd, err := conn.RecvCommand(reqCtx)
		if err != nil {
			slog.Debug("broker receive command", "addr", addr, "error", err)
			conn.Close()
			return
		}

		switch cmd.Kind {
		case wsproto.CmdSubscribe:
			s.subscribe(conn, addr, ctx.GetHeader(version.HeaderName))
			return

		case wsproto.CmdSync:
			if err := s.syncRound(reqCtx, conn, addr); err != nil {
				slog.Error("broker sync round", "client", addr, "error", err)
			}
			conn.Close()
			return

		default:
			slog.Warn("broker ignored command", "addr", addr, "command", cmd.Raw, "error", wsproto.ErrUnexpectedCommand)
		}
	}
}

// subscribe registers the connection. The peer outlives the upgrade request and is
// driven by the server's own context.
func (s *Server) subscribe(conn *wsproto.Conn, addr, peerVersion string) {
	peer := NewPeer(conn, addr)
	s.registry.Add(peer)
	peer.Start(s.baseCtx, s.config.PingInterval)

	go func() {
		<-peer.Closed
		s.registry.Remove(peer)
	}()
	slog.Info("broker subscribed", "addr", addr, "connId", peer.ConnID, "peerVersion", peerVersion, "active", s.registry.Len())
}
