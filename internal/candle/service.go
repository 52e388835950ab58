package candle

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/samsheff/fade-marketdata/internal/model"
	"github.com/samsheff/fade-marketdata/internal/pubsub"
	"github.com/samsheff/fade-marketdata/internal/store"
)

var (
	// ErrMissingScope is returned when a query names no market or
	// instrument.
	ErrMissingScope = errors.New("candle query missing scope id")
)

// Config holds aggregator settings.
type Config struct {
	// TailSize bounds the in-memory live trade tail per service.
	TailSize int `yaml:"tail_size"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{TailSize: 4096}
}

// Query selects the candle series to compute. From and To are
// millisecond timestamps, inclusive; both zero means "everything up to
// now", which also switches Limit to most-recent-first truncation.
type Query struct {
	ScopeID  string
	Outcome  model.Outcome
	Interval model.Interval
	From     int64
	To       int64
	Limit    int
}

// Service computes candles from durable events plus a live trade tail.
type Service struct {
	cfg    Config
	logger *slog.Logger
	events store.EventStore

	tailMu sync.Mutex
	tail   []model.Event

	subsMu sync.Mutex
	subs   []*pubsub.Subscription

	now func() time.Time
}

// NewService creates an aggregator. events may be nil; candles are then
// computed from the live tail alone.
func NewService(cfg Config, events store.EventStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TailSize < 1 {
		cfg.TailSize = DefaultConfig().TailSize
	}
	return &Service{
		cfg:    cfg,
		logger: logger,
		events: events,
		now:    time.Now,
	}
}

// Attach subscribes the service to a market's trade channel so queries
// reflect trades that are not yet durable.
func (s *Service) Attach(bus *pubsub.Bus, scopeID string) {
	sub := bus.Subscribe(model.MarketTradesChannel(scopeID), s.Record)
	s.subsMu.Lock()
	s.subs = append(s.subs, sub)
	s.subsMu.Unlock()
}

// Detach cancels every bus subscription. The accumulated tail remains
// queryable.
func (s *Service) Detach() {
	s.subsMu.Lock()
	subs := s.subs
	s.subs = nil
	s.subsMu.Unlock()
	for _, sub := range subs {
		sub.Cancel()
	}
}

// Record adds one live trade to the tail. Non-trade events are ignored.
func (s *Service) Record(ev model.Event) {
	if ev.Kind != model.KindTrade || ev.Trade == nil {
		return
	}
	s.tailMu.Lock()
	defer s.tailMu.Unlock()
	s.tail = append(s.tail, ev)
	if len(s.tail) > s.cfg.TailSize {
		s.tail = s.tail[len(s.tail)-s.cfg.TailSize:]
	}
}

// GetCandles computes the OHLCV series for a query, ascending by open
// time. Buckets containing no trades are absent from the result.
func (s *Service) GetCandles(ctx context.Context, q Query) ([]model.Candle, error) {
	if q.ScopeID == "" {
		return nil, ErrMissingScope
	}
	if _, err := model.ParseInterval(string(q.Interval)); err != nil {
		return nil, err
	}

	explicitWindow := q.From != 0 || q.To != 0
	from, to := q.From, q.To
	if to == 0 {
		to = s.now().UnixMilli()
	}

	trades := s.collectTrades(ctx, q.ScopeID, q.Outcome, from, to)
	if len(trades) == 0 {
		return nil, nil
	}

	candles, skipped := foldBuckets(trades, q.ScopeID, q.Outcome, q.Interval)
	if skipped > 0 {
		s.logger.Warn("skipped trades with non-decimal price or size",
			"scope_id", q.ScopeID,
			"skipped", skipped,
		)
	}

	if q.Limit > 0 && len(candles) > q.Limit {
		if explicitWindow {
			candles = candles[:q.Limit]
		} else {
			candles = candles[len(candles)-q.Limit:]
		}
	}
	return candles, nil
}

// collectTrades merges durable trades with the live tail, deduplicated
// on the event key and sorted ascending. A collaborator failure is
// logged and degrades to tail-only data.
func (s *Service) collectTrades(ctx context.Context, scopeID string, outcome model.Outcome, from, to int64) []model.Event {
	seen := make(map[string]struct{})
	var trades []model.Event

	if s.events != nil {
		durable, err := s.events.FindInRange(ctx, scopeID, outcome, model.KindTrade, from, to, 0)
		if err != nil {
			s.logger.Warn("durable trade fetch failed, serving live tail only",
				"scope_id", scopeID,
				"error", err,
			)
		}
		for _, ev := range durable {
			key := ev.DedupKey()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			trades = append(trades, ev)
		}
	}

	s.tailMu.Lock()
	for _, ev := range s.tail {
		if ev.MarketID != scopeID || ev.Outcome != outcome {
			continue
		}
		if ev.Timestamp < from || ev.Timestamp > to {
			continue
		}
		key := ev.DedupKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		trades = append(trades, ev)
	}
	s.tailMu.Unlock()

	sort.Slice(trades, func(i, j int) bool {
		if trades[i].Timestamp != trades[j].Timestamp {
			return trades[i].Timestamp < trades[j].Timestamp
		}
		return trades[i].DedupKey() < trades[j].DedupKey()
	})
	return trades
}

// bucket accumulates one interval's fold state.
type bucket struct {
	openTime int64
	open     string
	close    string
	high     decimal.Decimal
	highStr  string
	low      decimal.Decimal
	lowStr   string
	volume   decimal.Decimal
}

// foldBuckets partitions trades by floor-division into interval buckets
// and folds each into a candle. Input must be ascending by timestamp.
// Trades whose price or size does not parse as a decimal are skipped
// and counted; one bad row never fails the whole series.
func foldBuckets(trades []model.Event, scopeID string, outcome model.Outcome, iv model.Interval) ([]model.Candle, int) {
	var candles []model.Candle
	var cur *bucket
	skipped := 0

	flush := func() {
		if cur == nil {
			return
		}
		candles = append(candles, model.Candle{
			ScopeID:  scopeID,
			Outcome:  outcome,
			Interval: iv,
			OpenTime: cur.openTime,
			Open:     cur.open,
			High:     cur.highStr,
			Low:      cur.lowStr,
			Close:    cur.close,
			Volume:   cur.volume.String(),
		})
		cur = nil
	}

	for _, ev := range trades {
		price, err := decimal.NewFromString(ev.Trade.Price)
		if err != nil {
			skipped++
			continue
		}
		size, err := decimal.NewFromString(ev.Trade.Size)
		if err != nil {
			skipped++
			continue
		}

		openTime := iv.Truncate(ev.Timestamp)
		if cur == nil || openTime != cur.openTime {
			flush()
			cur = &bucket{
				openTime: openTime,
				open:     ev.Trade.Price,
				close:    ev.Trade.Price,
				high:     price,
				highStr:  ev.Trade.Price,
				low:      price,
				lowStr:   ev.Trade.Price,
				volume:   size,
			}
			continue
		}

		cur.close = ev.Trade.Price
		if price.GreaterThan(cur.high) {
			cur.high = price
			cur.highStr = ev.Trade.Price
		}
		if price.LessThan(cur.low) {
			cur.low = price
			cur.lowStr = ev.Trade.Price
		}
		cur.volume = cur.volume.Add(size)
	}
	flush()

	return candles, skipped
}
