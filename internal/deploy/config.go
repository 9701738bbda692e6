package deploy

import (
	"time"

	"github.com/openmined/vcsws/internal/wsproto"
)

const (
	DefaultAddr           = "0.0.0.0:8765"
	DefaultStatusInterval = 10 * time.Second
)

type Config struct {
	// Addr is the public bind address, resolved outside vcsws
	Addr           string
	StatusInterval time.Duration
	RecvTimeout    time.Duration
	MaxFileSize    int64
}

func (c *Config) withDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.StatusInterval <= 0 {
		c.StatusInterval = DefaultStatusInterval
	}
	if c.RecvTimeout <= 0 {
		c.RecvTimeout = wsproto.DefaultRecvTimeout
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = wsproto.DefaultMaxMessageSize
	}
}
