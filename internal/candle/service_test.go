package candle

import (
	"context"
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/samsheff/fade-marketdata/internal/model"
	"github.com/samsheff/fade-marketdata/internal/pubsub"
	"github.com/samsheff/fade-marketdata/internal/store"
)

func newTestService(t *testing.T, mem *store.Memory) *Service {
	t.Helper()
	s := NewService(DefaultConfig(), mem, slog.Default())
	// Pin "now" so no-window queries are reproducible.
	s.now = func() time.Time { return time.UnixMilli(10 * 60 * 1000) }
	return s
}

func seedTrades(t *testing.T, mem *store.Memory, events ...model.Event) {
	t.Helper()
	if _, err := mem.BatchInsert(context.Background(), events, "test"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
}

func TestGetCandles_FoldsMinuteBuckets(t *testing.T) {
	mem := store.NewMemory()
	seedTrades(t, mem,
		model.NewTrade("m1", model.OutcomeYes, "10", "1", 0),
		model.NewTrade("m1", model.OutcomeYes, "12", "2", 30_000),
		model.NewTrade("m1", model.OutcomeYes, "9", "1", 90_000),
	)
	s := newTestService(t, mem)

	got, err := s.GetCandles(context.Background(), Query{
		ScopeID: "m1", Outcome: model.OutcomeYes, Interval: model.Interval1m,
	})
	if err != nil {
		t.Fatalf("GetCandles failed: %v", err)
	}

	want := []model.Candle{
		{
			ScopeID: "m1", Outcome: model.OutcomeYes, Interval: model.Interval1m,
			OpenTime: 0, Open: "10", High: "12", Low: "10", Close: "12", Volume: "3",
		},
		{
			ScopeID: "m1", Outcome: model.OutcomeYes, Interval: model.Interval1m,
			OpenTime: 60_000, Open: "9", High: "9", Low: "9", Close: "9", Volume: "1",
		},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("GetCandles() = %+v, want %+v", got, want)
	}
}

func TestGetCandles_Idempotent(t *testing.T) {
	mem := store.NewMemory()
	seedTrades(t, mem,
		model.NewTrade("m1", model.OutcomeYes, "0.52", "10", 1_000),
		model.NewTrade("m1", model.OutcomeYes, "0.48", "5", 62_000),
		model.NewTrade("m1", model.OutcomeYes, "0.50", "3", 63_000),
	)
	s := newTestService(t, mem)

	q := Query{ScopeID: "m1", Outcome: model.OutcomeYes, Interval: model.Interval1m}
	first, err := s.GetCandles(context.Background(), q)
	if err != nil {
		t.Fatalf("first GetCandles failed: %v", err)
	}
	second, err := s.GetCandles(context.Background(), q)
	if err != nil {
		t.Fatalf("second GetCandles failed: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("recompute diverged:\nfirst  %+v\nsecond %+v", first, second)
	}
}

func TestGetCandles_EmptyBucketsAbsent(t *testing.T) {
	mem := store.NewMemory()
	seedTrades(t, mem,
		model.NewTrade("m1", model.OutcomeYes, "10", "1", 0),
		// Minutes 1..4 are silent.
		model.NewTrade("m1", model.OutcomeYes, "11", "1", 5*60_000),
	)
	s := newTestService(t, mem)

	got, err := s.GetCandles(context.Background(), Query{
		ScopeID: "m1", Outcome: model.OutcomeYes, Interval: model.Interval1m,
	})
	if err != nil {
		t.Fatalf("GetCandles failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d candles, want 2 (empty buckets must be absent)", len(got))
	}
	if got[0].OpenTime != 0 || got[1].OpenTime != 5*60_000 {
		t.Errorf("open times = %d, %d; want 0, 300000", got[0].OpenTime, got[1].OpenTime)
	}
}

func TestGetCandles_MergesLiveTailAndDedups(t *testing.T) {
	mem := store.NewMemory()
	// This trade is durable AND in the live tail; it must count once.
	shared := model.NewTrade("m1", model.OutcomeYes, "10", "1", 0)
	seedTrades(t, mem, shared)

	s := newTestService(t, mem)
	bus := pubsub.NewBus(slog.Default())
	s.Attach(bus, "m1")

	bus.Publish(model.MarketTradesChannel("m1"), shared)
	bus.Publish(model.MarketTradesChannel("m1"), model.NewTrade("m1", model.OutcomeYes, "12", "2", 30_000))
	// Non-trade events on the tail are ignored.
	s.Record(model.NewPriceUpdate("m1", model.OutcomeYes, "0.5", "0.6", "0.55", 31_000))

	got, err := s.GetCandles(context.Background(), Query{
		ScopeID: "m1", Outcome: model.OutcomeYes, Interval: model.Interval1m,
	})
	if err != nil {
		t.Fatalf("GetCandles failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d candles, want 1", len(got))
	}
	if got[0].Volume != "3" {
		t.Errorf("volume = %s, want 3 (shared trade double-counted?)", got[0].Volume)
	}
	if got[0].Open != "10" || got[0].Close != "12" {
		t.Errorf("open/close = %s/%s, want 10/12", got[0].Open, got[0].Close)
	}
}

func TestGetCandles_TailServesWhenStoreAbsent(t *testing.T) {
	s := NewService(DefaultConfig(), nil, slog.Default())
	s.now = func() time.Time { return time.UnixMilli(120_000) }

	s.Record(model.NewTrade("m1", model.OutcomeYes, "0.52", "4", 10_000))

	got, err := s.GetCandles(context.Background(), Query{
		ScopeID: "m1", Outcome: model.OutcomeYes, Interval: model.Interval1m,
	})
	if err != nil {
		t.Fatalf("GetCandles failed: %v", err)
	}
	if len(got) != 1 || got[0].Volume != "4" {
		t.Errorf("GetCandles() = %+v, want one candle with volume 4", got)
	}
}

func TestGetCandles_LimitTakesMostRecentWithoutWindow(t *testing.T) {
	mem := store.NewMemory()
	seedTrades(t, mem,
		model.NewTrade("m1", model.OutcomeYes, "1", "1", 0),
		model.NewTrade("m1", model.OutcomeYes, "2", "1", 60_000),
		model.NewTrade("m1", model.OutcomeYes, "3", "1", 120_000),
	)
	s := newTestService(t, mem)

	t.Run("no window keeps most recent", func(t *testing.T) {
		got, err := s.GetCandles(context.Background(), Query{
			ScopeID: "m1", Outcome: model.OutcomeYes, Interval: model.Interval1m, Limit: 2,
		})
		if err != nil {
			t.Fatalf("GetCandles failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("got %d candles, want 2", len(got))
		}
		if got[0].OpenTime != 60_000 || got[1].OpenTime != 120_000 {
			t.Errorf("open times = %d, %d; want 60000, 120000", got[0].OpenTime, got[1].OpenTime)
		}
	})

	t.Run("explicit window keeps earliest", func(t *testing.T) {
		got, err := s.GetCandles(context.Background(), Query{
			ScopeID: "m1", Outcome: model.OutcomeYes, Interval: model.Interval1m,
			From: 0, To: 180_000, Limit: 2,
		})
		if err != nil {
			t.Fatalf("GetCandles failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("got %d candles, want 2", len(got))
		}
		if got[0].OpenTime != 0 || got[1].OpenTime != 60_000 {
			t.Errorf("open times = %d, %d; want 0, 60000", got[0].OpenTime, got[1].OpenTime)
		}
	})
}

func TestGetCandles_SkipsTradesWithNonDecimalFields(t *testing.T) {
	mem := store.NewMemory()
	seedTrades(t, mem,
		model.NewTrade("m1", model.OutcomeYes, "10", "1", 0),
		model.NewTrade("m1", model.OutcomeYes, "12", "2", 30_000),
	)
	s := newTestService(t, mem)

	// A partial upstream frame can leave a trade with an empty size in
	// the live tail; it must not fail the whole query.
	s.Record(model.NewTrade("m1", model.OutcomeYes, "0.5", "", 40_000))
	s.Record(model.NewTrade("m1", model.OutcomeYes, "bad", "1", 50_000))

	got, err := s.GetCandles(context.Background(), Query{
		ScopeID: "m1", Outcome: model.OutcomeYes, Interval: model.Interval1m,
	})
	if err != nil {
		t.Fatalf("GetCandles failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d candles, want 1", len(got))
	}
	if got[0].Volume != "3" || got[0].Close != "12" {
		t.Errorf("candle = %+v, want volume 3 close 12 from the valid trades only", got[0])
	}
}

func TestGetCandles_FiltersOutcome(t *testing.T) {
	mem := store.NewMemory()
	seedTrades(t, mem,
		model.NewTrade("m1", model.OutcomeYes, "10", "1", 0),
		model.NewTrade("m1", model.OutcomeNo, "90", "7", 0),
	)
	s := newTestService(t, mem)

	got, err := s.GetCandles(context.Background(), Query{
		ScopeID: "m1", Outcome: model.OutcomeNo, Interval: model.Interval1m,
	})
	if err != nil {
		t.Fatalf("GetCandles failed: %v", err)
	}
	if len(got) != 1 || got[0].Open != "90" || got[0].Volume != "7" {
		t.Errorf("GetCandles() = %+v, want the NO-side candle only", got)
	}
}

func TestGetCandles_RejectsBadQueries(t *testing.T) {
	s := newTestService(t, store.NewMemory())

	if _, err := s.GetCandles(context.Background(), Query{
		Outcome: model.OutcomeYes, Interval: model.Interval1m,
	}); err != ErrMissingScope {
		t.Errorf("missing scope error = %v, want ErrMissingScope", err)
	}

	if _, err := s.GetCandles(context.Background(), Query{
		ScopeID: "m1", Outcome: model.OutcomeYes, Interval: "2m",
	}); err == nil {
		t.Error("unsupported interval must be a caller error, got nil")
	}
}
