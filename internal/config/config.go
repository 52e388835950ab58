package config

import (
	"time"

	"github.com/samsheff/fade-marketdata/internal/store"
)

// Config is the root configuration for a streamd instance.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	Feed     FeedConfig     `yaml:"feed"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Database DatabaseConfig `yaml:"database"`
	Writer   WriterConfig   `yaml:"writer"`
	Candles  CandlesConfig  `yaml:"candles"`
}

// InstanceConfig identifies this streamd process.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// FeedConfig holds upstream exchange feed settings.
type FeedConfig struct {
	URL                string               `yaml:"url"`
	HeartbeatInterval  time.Duration        `yaml:"heartbeat_interval"`
	PongTimeout        time.Duration        `yaml:"pong_timeout"`
	WriteTimeout       time.Duration        `yaml:"write_timeout"`
	HandshakeTimeout   time.Duration        `yaml:"handshake_timeout"`
	ReconnectBaseDelay time.Duration        `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration        `yaml:"reconnect_max_delay"`
	BufferSize         int                  `yaml:"buffer_size"`
	WarnUnmatched      bool                 `yaml:"warn_unmatched"`
	Subscriptions      []SubscriptionConfig `yaml:"subscriptions"`
}

// SubscriptionConfig maps one upstream token to a market and outcome.
type SubscriptionConfig struct {
	TokenID  string `yaml:"token_id"`
	MarketID string `yaml:"market_id"`
	Outcome  string `yaml:"outcome"`
}

// GatewayConfig holds downstream WebSocket server settings.
type GatewayConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	SendBufferSize  int           `yaml:"send_buffer_size"`
	SnapshotDepth   int           `yaml:"snapshot_depth"`
	SnapshotTimeout time.Duration `yaml:"snapshot_timeout"`
}

// DatabaseConfig holds the event store connection. When Enabled is
// false streamd runs with the in-memory store and loses events on
// restart.
type DatabaseConfig struct {
	Enabled  bool           `yaml:"enabled"`
	Postgres store.DBConfig `yaml:"postgres"`
}

// WriterConfig holds batch writer settings.
type WriterConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// CandlesConfig holds candle aggregator settings.
type CandlesConfig struct {
	TailSize int `yaml:"tail_size"`
}
