package broker

import (
	"time"

	"github.com/openmined/vcsws/internal/db"
	"github.com/openmined/vcsws/internal/wsproto"
)

const (
	DefaultAddr         = "127.0.0.1:8770"
	DefaultPingInterval = 20 * time.Second
	DefaultRateLimit    = "600-M"
)

type Config struct {
	Addr         string
	PingInterval time.Duration
	RecvTimeout  time.Duration
	// CollectTimeout bounds the wait for subscriber request lists and is kept below
	// RecvTimeout, the wait of the sync client and of subscribers that already answered.
	CollectTimeout time.Duration
	MaxFileSize    int64
	// RateLimit bounds websocket upgrades per client IP, e.g. "600-M". Empty disables it.
	RateLimit string
	// HistoryPath is the sqlite file for round history. Empty keeps it in memory.
	HistoryPath string
}

func DefaultConfig() *Config {
	return &Config{
		Addr:           DefaultAddr,
		PingInterval:   DefaultPingInterval,
		RecvTimeout:    wsproto.DefaultRecvTimeout,
		CollectTimeout: wsproto.DefaultRecvTimeout / 2,
		MaxFileSize:    wsproto.DefaultMaxMessageSize,
		RateLimit:      DefaultRateLimit,
	}
}

func (c *Config) withDefaults() {
	d := DefaultConfig()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.RecvTimeout <= 0 {
		c.RecvTimeout = d.RecvTimeout
	}
	if c.CollectTimeout <= 0 || c.CollectTimeout >= c.RecvTimeout {
		c.CollectTimeout = c.RecvTimeout / 2
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = d.MaxFileSize
	}
	if c.HistoryPath == "" {
		c.HistoryPath = db.Memory
	}
}
