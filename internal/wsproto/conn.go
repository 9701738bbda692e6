// Package wsproto frames the vcsws exchange over a websocket: command tokens and
// JSON payloads travel as text frames, file bodies as binary frames.
package wsproto

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"
)

const (
	DefaultRecvTimeout    = 30 * time.Second
	DefaultMaxMessageSize = 64 * 1024 * 1024 // 64MB per file body
	writeTimeout          = 30 * time.Second
)

var (
	ErrUnexpectedCommand = errors.New("unexpected protocol command")
	ErrUnexpectedFrame   = errors.New("unexpected frame type")
	ErrConnectionClosed  = errors.New("connection closed")
)

// Conn is one side of a half duplex vcsws exchange.
type Conn struct {
	ws          *websocket.Conn
	recvTimeout time.Duration
}

// NewConn wraps ws. A zero recvTimeout makes receives wait for as long as ctx allows.
func NewConn(ws *websocket.Conn, recvTimeout time.Duration, maxMessageSize int64) *Conn {
	if maxMessageSize > 0 {
		ws.SetReadLimit(maxMessageSize)
	}
	return &Conn{ws: ws, recvTimeout: recvTimeout}
}

// Dial connects to a vcsws websocket endpoint.
func Dial(ctx context.Context, url string, header map[string]string, recvTimeout time.Duration, maxMessageSize int64) (*Conn, error) {
	opts := &websocket.DialOptions{HTTPHeader: make(map[string][]string, len(header))}
	for k, v := range header {
		opts.HTTPHeader.Set(k, v)
	}
	ws, _, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return NewConn(ws, recvTimeout, maxMessageSize), nil
}

func (c *Conn) WS() *websocket.Conn {
	return c.ws
}

// WithRecvTimeout returns a view of the same connection with another receive bound.
func (c *Conn) WithRecvTimeout(d time.Duration) *Conn {
	return &Conn{ws: c.ws, recvTimeout: d}
}

func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "done")
}

func (c *Conn) CloseWith(status websocket.StatusCode, reason string) error {
	return c.ws.Close(status, reason)
}

func (c *Conn) SendCommand(ctx context.Context, cmd Command) error {
	return c.SendText(ctx, cmd.String())
}

// RecvCommand reads the next text frame and parses it. Unknown tokens are not an
// error here; callers decide what to do with CmdUnknown.
func (c *Conn) RecvCommand(ctx context.Context) (Command, error) {
	s, err := c.RecvText(ctx)
	if err != nil {
		return Command{}, err
	}
	return ParseCommand(s), nil
}

func (c *Conn) SendText(ctx context.Context, s string) error {
	return c.write(ctx, websocket.MessageText, []byte(s))
}

func (c *Conn) RecvText(ctx context.Context) (string, error) {
	data, err := c.read(ctx, websocket.MessageText)
	return string(data), err
}

func (c *Conn) SendJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.write(ctx, websocket.MessageText, data)
}

func (c *Conn) RecvJSON(ctx context.Context, v any) error {
	data, err := c.read(ctx, websocket.MessageText)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// SendRaw sends data as a frame of the given type, used to forward frames untouched.
func (c *Conn) SendRaw(ctx context.Context, typ websocket.MessageType, data []byte) error {
	return c.write(ctx, typ, data)
}

// RecvRaw reads the next frame of the given type into memory.
func (c *Conn) RecvRaw(ctx context.Context, typ websocket.MessageType) ([]byte, error) {
	return c.read(ctx, typ)
}

// SendFile streams r as a single binary frame.
func (c *Conn) SendFile(ctx context.Context, r io.Reader) (int64, error) {
	w, err := c.ws.Writer(ctx, websocket.MessageBinary)
	if err != nil {
		return 0, classify(err)
	}
	n, err := io.Copy(w, r)
	if err != nil {
		w.Close()
		return n, classify(err)
	}
	return n, classify(w.Close())
}

// RecvFile hands the next binary frame to fn as a stream.
func (c *Conn) RecvFile(ctx context.Context, fn func(io.Reader) error) error {
	ctx, cancel := c.recvContext(ctx)
	defer cancel()

	typ, r, err := c.ws.Reader(ctx)
	if err != nil {
		return classify(err)
	}
	if typ != websocket.MessageBinary {
		return fmt.Errorf("%w: want binary, got %v", ErrUnexpectedFrame, typ)
	}
	if err := fn(r); err != nil {
		return classify(err)
	}
	return nil
}

func (c *Conn) write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return classify(c.ws.Write(ctx, typ, data))
}

func (c *Conn) read(ctx context.Context, want websocket.MessageType) ([]byte, error) {
	ctx, cancel := c.recvContext(ctx)
	defer cancel()

	typ, data, err := c.ws.Read(ctx)
	if err != nil {
		return nil, classify(err)
	}
	if typ != want {
		return nil, fmt.Errorf("%w: want %v, got %v", ErrUnexpectedFrame, want, typ)
	}
	return data, nil
}

func (c *Conn) recvContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.recvTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.recvTimeout)
}

// classify folds the ways a peer can vanish into ErrConnectionClosed.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if IsClosed(err) {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return err
}

// IsClosed reports whether err means the underlying socket is gone.
func IsClosed(err error) bool {
	if errors.Is(err, ErrConnectionClosed) {
		return true
	}
	if websocket.CloseStatus(err) != -1 {
		return true
	}
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled)
}
