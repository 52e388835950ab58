package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultHeartbeatInterval  = 15 * time.Second
	DefaultPongTimeout        = 45 * time.Second
	DefaultFeedWriteTimeout   = 5 * time.Second
	DefaultHandshakeTimeout   = 10 * time.Second
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultFeedBufferSize     = 1000

	DefaultListenAddr      = ":8090"
	DefaultGWWriteTimeout  = 10 * time.Second
	DefaultSendBufferSize  = 256
	DefaultSnapshotDepth   = 50
	DefaultSnapshotTimeout = 5 * time.Second

	DefaultDBPort    = 5432
	DefaultDBSSLMode = "prefer"
	DefaultMaxConns  = 10
	DefaultMinConns  = 2

	DefaultBatchSize     = 500
	DefaultFlushInterval = 1 * time.Second
	DefaultBufferSize    = 10000

	DefaultTailSize = 4096
)

func (c *Config) applyDefaults() {
	// Feed defaults
	if c.Feed.HeartbeatInterval == 0 {
		c.Feed.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Feed.PongTimeout == 0 {
		c.Feed.PongTimeout = DefaultPongTimeout
	}
	if c.Feed.WriteTimeout == 0 {
		c.Feed.WriteTimeout = DefaultFeedWriteTimeout
	}
	if c.Feed.HandshakeTimeout == 0 {
		c.Feed.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Feed.ReconnectBaseDelay == 0 {
		c.Feed.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Feed.ReconnectMaxDelay == 0 {
		c.Feed.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Feed.BufferSize == 0 {
		c.Feed.BufferSize = DefaultFeedBufferSize
	}

	// Gateway defaults
	if c.Gateway.ListenAddr == "" {
		c.Gateway.ListenAddr = DefaultListenAddr
	}
	if c.Gateway.WriteTimeout == 0 {
		c.Gateway.WriteTimeout = DefaultGWWriteTimeout
	}
	if c.Gateway.SendBufferSize == 0 {
		c.Gateway.SendBufferSize = DefaultSendBufferSize
	}
	if c.Gateway.SnapshotDepth == 0 {
		c.Gateway.SnapshotDepth = DefaultSnapshotDepth
	}
	if c.Gateway.SnapshotTimeout == 0 {
		c.Gateway.SnapshotTimeout = DefaultSnapshotTimeout
	}

	// Database defaults
	if c.Database.Postgres.Port == 0 {
		c.Database.Postgres.Port = DefaultDBPort
	}
	if c.Database.Postgres.SSLMode == "" {
		c.Database.Postgres.SSLMode = DefaultDBSSLMode
	}
	if c.Database.Postgres.MaxConns == 0 {
		c.Database.Postgres.MaxConns = DefaultMaxConns
	}
	if c.Database.Postgres.MinConns == 0 {
		c.Database.Postgres.MinConns = DefaultMinConns
	}

	// Writer defaults
	if c.Writer.BatchSize == 0 {
		c.Writer.BatchSize = DefaultBatchSize
	}
	if c.Writer.FlushInterval == 0 {
		c.Writer.FlushInterval = DefaultFlushInterval
	}
	if c.Writer.BufferSize == 0 {
		c.Writer.BufferSize = DefaultBufferSize
	}

	// Candles defaults
	if c.Candles.TailSize == 0 {
		c.Candles.TailSize = DefaultTailSize
	}
}
