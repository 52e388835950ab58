package config

import (
	"errors"
	"fmt"

	"github.com/samsheff/fade-marketdata/internal/model"
	"github.com/samsheff/fade-marketdata/internal/store"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Feed.URL == "" {
		return errors.New("feed.url is required")
	}
	if c.Feed.ReconnectBaseDelay > c.Feed.ReconnectMaxDelay {
		return fmt.Errorf("feed.reconnect_base_delay (%s) cannot exceed reconnect_max_delay (%s)",
			c.Feed.ReconnectBaseDelay, c.Feed.ReconnectMaxDelay)
	}
	for i, sub := range c.Feed.Subscriptions {
		if sub.TokenID == "" {
			return fmt.Errorf("feed.subscriptions[%d].token_id is required", i)
		}
		if sub.MarketID == "" {
			return fmt.Errorf("feed.subscriptions[%d].market_id is required", i)
		}
		if _, err := model.ParseOutcome(sub.Outcome); err != nil {
			return fmt.Errorf("feed.subscriptions[%d]: %w", i, err)
		}
	}

	if c.Gateway.ListenAddr == "" {
		return errors.New("gateway.listen_addr is required")
	}

	if c.Database.Enabled {
		if err := validateDB(c.Database.Postgres, "database.postgres"); err != nil {
			return err
		}
	}

	if c.Writer.BatchSize < 1 {
		return errors.New("writer.batch_size must be >= 1")
	}
	if c.Writer.BufferSize < 1 {
		return errors.New("writer.buffer_size must be >= 1")
	}

	if c.Candles.TailSize < 1 {
		return errors.New("candles.tail_size must be >= 1")
	}

	return nil
}

func validateDB(db store.DBConfig, prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
