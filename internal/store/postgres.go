package store

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/samsheff/fade-marketdata/internal/model"
)

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// BuildConnString builds a PostgreSQL connection string from config.
func BuildConnString(cfg DBConfig) string {
	// URL-encode password to handle special characters
	escapedPassword := url.QueryEscape(cfg.Password)

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User,
		escapedPassword,
		cfg.Host,
		cfg.Port,
		cfg.Name,
		sslMode,
	)
}

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg DBConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

// Postgres is the durable EventStore backed by a pgx pool.
//
// Schema (events table):
//
//	market_id  text, outcome text, ts bigint, kind text,
//	side text, price text, size text, marker text,
//	best_bid text, best_ask text, mid_price text,
//	source text, received_at bigint,
//	PRIMARY KEY (market_id, outcome, ts, kind)
type Postgres struct {
	db *pgxpool.Pool
}

// NewPostgres wraps an existing pool.
func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// Close releases the underlying pool.
func (p *Postgres) Close() {
	p.db.Close()
}

// Ping verifies the connection is healthy.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

const insertEventSQL = `
	INSERT INTO events (market_id, outcome, ts, kind, side, price, size, marker,
	                    best_bid, best_ask, mid_price, source, received_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
	        (extract(epoch from now()) * 1000)::bigint)
	ON CONFLICT (market_id, outcome, ts, kind) DO NOTHING
`

// InsertEvent stores one event; duplicate dedup keys are skipped.
func (p *Postgres) InsertEvent(ctx context.Context, ev model.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	args := eventArgs(ev, "")
	_, err := p.db.Exec(ctx, insertEventSQL, args...)
	return err
}

// BatchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING,
// counting skipped duplicates.
func (p *Postgres) BatchInsert(ctx context.Context, events []model.Event, source string) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			return 0, err
		}
		batch.Queue(insertEventSQL, eventArgs(ev, source)...)
	}

	results := p.db.SendBatch(ctx, batch)
	defer results.Close()

	conflicts := 0
	for range events {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}
	return conflicts, nil
}

// FindInRange reads events for (scopeID, outcome) in [from, to],
// ascending by timestamp.
func (p *Postgres) FindInRange(ctx context.Context, scopeID string, outcome model.Outcome, kind model.EventKind, from, to int64, limit int) ([]model.Event, error) {
	query := `
		SELECT market_id, outcome, ts, kind, side, price, size, marker, best_bid, best_ask, mid_price
		FROM events
		WHERE market_id = $1 AND outcome = $2 AND ts >= $3 AND ts <= $4
	`
	args := []any{scopeID, string(outcome), from, to}
	if kind != "" {
		query += ` AND kind = $5`
		args = append(args, string(kind))
	}
	query += ` ORDER BY ts ASC`
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// LatestOrderbook returns the tail of the orderbook stream for a market,
// ascending, capped at limit rows.
func (p *Postgres) LatestOrderbook(ctx context.Context, marketID string, outcome model.Outcome, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = 500
	}
	query := fmt.Sprintf(`
		SELECT market_id, outcome, ts, kind, side, price, size, marker, best_bid, best_ask, mid_price
		FROM (
			SELECT market_id, outcome, ts, kind, side, price, size, marker, best_bid, best_ask, mid_price
			FROM events
			WHERE market_id = $1 AND outcome = $2 AND kind = 'orderbook'
			ORDER BY ts DESC
			LIMIT %d
		) tail
		ORDER BY ts ASC
	`, limit)

	rows, err := p.db.Query(ctx, query, marketID, string(outcome))
	if err != nil {
		return nil, fmt.Errorf("query orderbook tail: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// eventArgs flattens an event into insert arguments.
func eventArgs(ev model.Event, source string) []any {
	var side, price, size, marker, bestBid, bestAsk, mid string
	switch ev.Kind {
	case model.KindTrade:
		price = ev.Trade.Price
		size = ev.Trade.Size
	case model.KindOrderbook:
		side = string(ev.Orderbook.Side)
		price = ev.Orderbook.Price
		size = ev.Orderbook.Size
		marker = string(ev.Orderbook.Marker)
	case model.KindPrice:
		bestBid = ev.Price.BestBid
		bestAsk = ev.Price.BestAsk
		mid = ev.Price.MidPrice
	}
	return []any{
		ev.MarketID, string(ev.Outcome), ev.Timestamp, string(ev.Kind),
		side, price, size, marker, bestBid, bestAsk, mid, source,
	}
}

// scanEvents rebuilds canonical events from rows.
func scanEvents(rows pgx.Rows) ([]model.Event, error) {
	var events []model.Event
	for rows.Next() {
		var (
			marketID, outcome, kind   string
			ts                        int64
			side, price, size, marker string
			bestBid, bestAsk, mid     string
		)
		if err := rows.Scan(&marketID, &outcome, &ts, &kind, &side, &price, &size, &marker, &bestBid, &bestAsk, &mid); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}

		switch model.EventKind(kind) {
		case model.KindTrade:
			events = append(events, model.NewTrade(marketID, model.Outcome(outcome), price, size, ts))
		case model.KindOrderbook:
			events = append(events, model.NewOrderbookUpdate(marketID, model.Outcome(outcome), model.Side(side), price, size, ts, model.SnapshotMarker(marker)))
		case model.KindPrice:
			events = append(events, model.NewPriceUpdate(marketID, model.Outcome(outcome), bestBid, bestAsk, mid, ts))
		}
	}
	return events, rows.Err()
}
