// Package deploy implements the rendezvous listener: a node binds a public address and
// waits for exactly one "push <branch>" or "pull <branch>" before shutting down.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/openmined/vcsws/internal/middlewares"
	"github.com/openmined/vcsws/internal/project"
	"github.com/openmined/vcsws/internal/reconcile"
	"github.com/openmined/vcsws/internal/transfer"
	"github.com/openmined/vcsws/internal/version"
	"github.com/openmined/vcsws/internal/wsproto"
)

// Result describes the single exchange that ended the rendezvous.
type Result struct {
	Command wsproto.Command
	Diff    *reconcile.Diff
	Stats   transfer.Stats
	Err     error
}

type Listener struct {
	config  Config
	project *project.Project
	handler http.Handler

	mu     sync.Mutex
	done   bool
	result chan *Result
}

func New(p *project.Project, config Config) *Listener {
	config.withDefaults()
	l := &Listener{
		config:  config,
		project: p,
		result:  make(chan *Result, 1),
	}
	l.handler = l.routes()
	return l
}

func (l *Listener) routes() http.Handler {
	r := gin.New()
	r.Use(middlewares.Logger())
	r.Use(gin.Recovery())
	r.Use(middlewares.SecurityHeaders())

	r.GET("/healthz", func(c *gin.Context) {
		c.PureJSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ws", l.handleWebsocket)
	return r.Handler()
}

func (l *Listener) Handler() http.Handler {
	return l.handler
}

// Run binds Config.Addr and waits for the rendezvous.
func (l *Listener) Run(ctx context.Context) (*Result, error) {
	ln, err := net.Listen("tcp", l.config.Addr)
	if err != nil {
		return nil, fmt.Errorf("deploy listen %s: %w", l.config.Addr, err)
	}
	return l.Serve(ctx, ln)
}

// Serve accepts connections on ln until one of them issues a valid rendezvous
// command and its transfer finishes, or ctx is cancelled.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) (*Result, error) {
	srv := &http.Server{Handler: l.handler}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	slog.Info("deploy listening", "addr", ln.Addr().String(), "branch", l.project.ActiveBranch())

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("deploy shutdown", "error", err)
		}
		slog.Info("deploy stopped")
	}()

	ticker := time.NewTicker(l.config.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case res := <-l.result:
			return res, res.Err
		case err := <-serveErr:
			return nil, fmt.Errorf("deploy serve: %w", err)
		case <-ticker.C:
			slog.Info("server status ok", "addr", ln.Addr().String())
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *Listener) handleWebsocket(ctx *gin.Context) {
	ws, err := websocket.Accept(ctx.Writer, ctx.Request, nil)
	if err != nil {
		slog.Warn("deploy websocket accept", "error", err)
		return
	}
	conn := wsproto.NewConn(ws, l.config.RecvTimeout, l.config.MaxFileSize)
	defer conn.Close()

	remote := ctx.Request.RemoteAddr
	reqCtx := ctx.Request.Context()

	cmd, err := l.awaitCommand(reqCtx, conn, remote)
	if err != nil {
		slog.Warn("deploy receive command", "remote", remote, "error", err)
		return
	}

	// only the first valid command is served
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		conn.CloseWith(websocket.StatusTryAgainLater, "rendezvous complete")
		return
	}
	l.done = true

	slog.Info("deploy command", "remote", remote, "command", cmd.String(), "peerVersion", ctx.GetHeader(version.HeaderName))
	res := l.exchange(reqCtx, conn, cmd)
	l.result <- res
}

// awaitCommand reads commands until a rendezvous one arrives. Anything else is
// reported and the connection keeps waiting, bounded by the receive timeout.
func (l *Listener) awaitCommand(ctx context.Context, conn *wsproto.Conn, remote string) (wsproto.Command, error) {
	for {
		cmd, err := conn.RecvCommand(ctx)
		if err != nil {
			return cmd, err
		}
		if cmd.Rendezvous() {
			return cmd, nil
		}
		slog.Warn("deploy ignored command", "remote", remote, "command", cmd.Raw, "error", wsproto.ErrUnexpectedCommand)
	}
}

func (l *Listener) exchange(ctx context.Context, conn *wsproto.Conn, cmd wsproto.Command) *Result {
	res := &Result{Command: cmd}
	if !l.project.Relocate(cmd.Branch) {
		slog.Warn("deploy branch not found, keeping active branch", "requested", cmd.Branch, "active", l.project.ActiveBranch())
	}

	switch cmd.Kind {
	case wsproto.CmdPush:
		remote, err := transfer.ReceiveOffer(ctx, conn)
		if err != nil {
			res.Err = err
			return res
		}
		local, err := l.project.Fingerprint()
		if err != nil {
			res.Err = err
			return res
		}
		f := &transfer.Fetcher{Root: l.project.Root, TmpDir: l.project.TmpDir(), Ignore: l.project}
		res.Diff, res.Stats, res.Err = f.Fetch(ctx, conn, local, remote)

	case wsproto.CmdPull:
		set, err := l.project.Fingerprint()
		if err != nil {
			res.Err = err
			return res
		}
		if err := transfer.Offer(ctx, conn, set); err != nil {
			res.Err = err
			return res
		}
		res.Stats, res.Err = transfer.Serve(ctx, conn, l.project.Root, set)
	}

	if res.Err != nil {
		slog.Error("deploy transfer", "command", cmd.String(), "error", res.Err)
	} else {
		slog.Info("deploy transfer done", "command", cmd.String(), "stats", res.Stats)
	}
	return res
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
