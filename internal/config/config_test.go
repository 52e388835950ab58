package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-streamd
feed:
  url: wss://stream.example.com/ws
  subscriptions:
    - token_id: tok-yes
      market_id: m1
      outcome: YES
    - token_id: tok-no
      market_id: m1
      outcome: NO
gateway:
  listen_addr: ":9001"
database:
  enabled: true
  postgres:
    host: localhost
    port: 5432
    name: marketdata
    user: stream
    password: secret
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-streamd" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-streamd")
	}
	if cfg.Feed.URL != "wss://stream.example.com/ws" {
		t.Errorf("Feed.URL = %q, want %q", cfg.Feed.URL, "wss://stream.example.com/ws")
	}
	if len(cfg.Feed.Subscriptions) != 2 {
		t.Fatalf("Subscriptions = %d entries, want 2", len(cfg.Feed.Subscriptions))
	}
	if cfg.Feed.Subscriptions[0].TokenID != "tok-yes" || cfg.Feed.Subscriptions[0].Outcome != "YES" {
		t.Errorf("first subscription = %+v", cfg.Feed.Subscriptions[0])
	}
	if cfg.Gateway.ListenAddr != ":9001" {
		t.Errorf("Gateway.ListenAddr = %q, want :9001", cfg.Gateway.ListenAddr)
	}
	if cfg.Database.Postgres.Host != "localhost" {
		t.Errorf("Database.Postgres.Host = %q, want localhost", cfg.Database.Postgres.Host)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "secret123")

	yaml := `
instance:
  id: test-streamd
feed:
  url: wss://stream.example.com/ws
database:
  enabled: true
  postgres:
    host: localhost
    name: marketdata
    user: stream
    password: ${TEST_DB_PASSWORD}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Database.Postgres.Password != "secret123" {
		t.Errorf("Password = %q, want secret123", cfg.Database.Postgres.Password)
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-streamd
feed:
  url: wss://stream.example.com/ws
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Feed.HeartbeatInterval != 15*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 15s", cfg.Feed.HeartbeatInterval)
	}
	if cfg.Feed.ReconnectMaxDelay != 60*time.Second {
		t.Errorf("ReconnectMaxDelay = %v, want 60s", cfg.Feed.ReconnectMaxDelay)
	}
	if cfg.Gateway.ListenAddr != DefaultListenAddr {
		t.Errorf("ListenAddr = %q, want %q", cfg.Gateway.ListenAddr, DefaultListenAddr)
	}
	if cfg.Writer.BatchSize != DefaultBatchSize {
		t.Errorf("BatchSize = %d, want %d", cfg.Writer.BatchSize, DefaultBatchSize)
	}
	if cfg.Candles.TailSize != DefaultTailSize {
		t.Errorf("TailSize = %d, want %d", cfg.Candles.TailSize, DefaultTailSize)
	}
	if cfg.Database.Postgres.SSLMode != "prefer" {
		t.Errorf("SSLMode = %q, want prefer", cfg.Database.Postgres.SSLMode)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		cfg.Instance.ID = "s1"
		cfg.Feed.URL = "wss://stream.example.com/ws"
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config passes",
			mutate: func(*Config) {},
		},
		{
			name:    "missing instance id",
			mutate:  func(c *Config) { c.Instance.ID = "" },
			wantErr: "instance.id",
		},
		{
			name:    "missing feed url",
			mutate:  func(c *Config) { c.Feed.URL = "" },
			wantErr: "feed.url",
		},
		{
			name: "backoff base above cap",
			mutate: func(c *Config) {
				c.Feed.ReconnectBaseDelay = 2 * time.Minute
			},
			wantErr: "reconnect_base_delay",
		},
		{
			name: "subscription with bad outcome",
			mutate: func(c *Config) {
				c.Feed.Subscriptions = []SubscriptionConfig{
					{TokenID: "tok", MarketID: "m1", Outcome: "MAYBE"},
				}
			},
			wantErr: "feed.subscriptions[0]",
		},
		{
			name: "subscription missing token",
			mutate: func(c *Config) {
				c.Feed.Subscriptions = []SubscriptionConfig{
					{MarketID: "m1", Outcome: "YES"},
				}
			},
			wantErr: "token_id",
		},
		{
			name: "enabled database requires host",
			mutate: func(c *Config) {
				c.Database.Enabled = true
				c.Database.Postgres.Name = "md"
				c.Database.Postgres.User = "u"
				c.Database.Postgres.Password = "p"
			},
			wantErr: "database.postgres.host",
		},
		{
			name:    "zero batch size",
			mutate:  func(c *Config) { c.Writer.BatchSize = -1 },
			wantErr: "writer.batch_size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
