// Package client drives the dialing side of every vcsws flow against a deploy node
// (push, pull) or a broker (sync, subscribe).
package client

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openmined/vcsws/internal/fingerprint"
	"github.com/openmined/vcsws/internal/project"
	"github.com/openmined/vcsws/internal/reconcile"
	"github.com/openmined/vcsws/internal/transfer"
	"github.com/openmined/vcsws/internal/version"
	"github.com/openmined/vcsws/internal/wsproto"
)

type Config struct {
	// URL of the remote websocket endpoint, e.g. ws://host:port/ws
	URL         string
	RecvTimeout time.Duration
	MaxFileSize int64
}

func (c *Config) withDefaults() {
	if c.RecvTimeout <= 0 {
		c.RecvTimeout = wsproto.DefaultRecvTimeout
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = wsproto.DefaultMaxMessageSize
	}
}

type Client struct {
	config  Config
	project *project.Project
}

func New(p *project.Project, config Config) *Client {
	config.withDefaults()
	return &Client{config: config, project: p}
}

func (c *Client) dial(ctx context.Context) (*wsproto.Conn, error) {
	conn, err := wsproto.Dial(ctx, c.config.URL, map[string]string{
		version.HeaderName: version.Version,
	}, c.config.RecvTimeout, c.config.MaxFileSize)
	if err != nil {
		return nil, err
	}
	slog.Debug("client connected", "url", c.config.URL)
	return conn, nil
}

func (c *Client) fetcher() *transfer.Fetcher {
	return &transfer.Fetcher{Root: c.project.Root, TmpDir: c.project.TmpDir(), Ignore: c.project}
}

// Push offers the active branch's tree to a deploy node and streams whatever it asks for.
func (c *Client) Push(ctx context.Context) (transfer.Stats, error) {
	return c.offer(ctx, wsproto.Push(c.project.ActiveBranch()))
}

// Sync offers the tree to the broker, which relays it to every subscriber and
// requests the union of what they want.
func (c *Client) Sync(ctx context.Context) (transfer.Stats, error) {
	return c.offer(ctx, wsproto.Sync())
}

func (c *Client) offer(ctx context.Context, cmd wsproto.Command) (transfer.Stats, error) {
	set, err := c.project.Fingerprint()
	if err != nil {
		return transfer.Stats{}, err
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return transfer.Stats{}, err
	}
	defer conn.Close()

	if err := conn.SendCommand(ctx, cmd); err != nil {
		return transfer.Stats{}, fmt.Errorf("send command: %w", err)
	}
	if err := transfer.Offer(ctx, conn, set); err != nil {
		return transfer.Stats{}, err
	}

	stats, err := transfer.Serve(ctx, conn, c.project.Root, set)
	if err != nil {
		return stats, fmt.Errorf("%s: %w", cmd.Kind, err)
	}
	slog.Info("client "+cmd.Kind.String()+" done", "stats", stats)
	return stats, nil
}

// Pull asks a deploy node for the active branch's tree and fetches what differs.
func (c *Client) Pull(ctx context.Context) (*reconcile.Diff, transfer.Stats, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, transfer.Stats{}, err
	}
	defer conn.Close()

	if err := conn.SendCommand(ctx, wsproto.Pull(c.project.ActiveBranch())); err != nil {
		return nil, transfer.Stats{}, fmt.Errorf("send command: %w", err)
	}
	remote, err := transfer.ReceiveOffer(ctx, conn)
	if err != nil {
		return nil, transfer.Stats{}, err
	}
	return c.fetch(ctx, conn, remote, "pull")
}

// Subscribe registers with the broker and blocks until the next sync round delivers
// a tree, then fetches the files this project is missing. The broker ends the
// subscription after one round.
func (c *Client) Subscribe(ctx context.Context) (*reconcile.Diff, transfer.Stats, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, transfer.Stats{}, err
	}
	defer conn.Close()

	if err := conn.SendCommand(ctx, wsproto.Subscribe()); err != nil {
		return nil, transfer.Stats{}, fmt.Errorf("send command: %w", err)
	}
	slog.Info("client subscribed, waiting for sync round", "url", c.config.URL)

	remote, err := transfer.ReceiveOffer(ctx, conn.WithRecvTimeout(0))
	if err != nil {
		return nil, transfer.Stats{}, err
	}
	return c.fetch(ctx, conn, remote, "subscribe")
}

func (c *Client) fetch(ctx context.Context, conn *wsproto.Conn, remote *fingerprint.Set, flow string) (*reconcile.Diff, transfer.Stats, error) {
	local, err := c.project.Fingerprint()
	if err != nil {
		return nil, transfer.Stats{}, err
	}

	diff, stats, err := c.fetcher().Fetch(ctx, conn, local, remote)
	if err != nil {
		return diff, stats, fmt.Errorf("%s: %w", flow, err)
	}
	slog.Info("client "+flow+" done", "diff", diff, "stats", stats)
	return diff, stats, nil
}
