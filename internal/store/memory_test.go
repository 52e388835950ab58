package store

import (
	"context"
	"testing"

	"github.com/samsheff/fade-marketdata/internal/model"
)

func TestMemory_InsertDeduplicates(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	ev := model.NewTrade("m1", model.OutcomeYes, "0.52", "10", 1000)

	if err := s.InsertEvent(ctx, ev); err != nil {
		t.Fatalf("InsertEvent failed: %v", err)
	}
	// Replay of the same dedup key is a no-op.
	if err := s.InsertEvent(ctx, ev); err != nil {
		t.Fatalf("replayed InsertEvent failed: %v", err)
	}

	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestMemory_BatchInsertCountsConflicts(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	events := []model.Event{
		model.NewTrade("m1", model.OutcomeYes, "0.52", "10", 1000),
		model.NewTrade("m1", model.OutcomeYes, "0.53", "5", 2000),
	}
	if _, err := s.BatchInsert(ctx, events, "ws"); err != nil {
		t.Fatalf("BatchInsert failed: %v", err)
	}

	// Second batch: one duplicate timestamp+kind, one new.
	again := []model.Event{
		model.NewTrade("m1", model.OutcomeYes, "0.52", "10", 1000),
		model.NewTrade("m1", model.OutcomeYes, "0.54", "2", 3000),
	}
	conflicts, err := s.BatchInsert(ctx, again, "ws")
	if err != nil {
		t.Fatalf("BatchInsert failed: %v", err)
	}
	if conflicts != 1 {
		t.Errorf("conflicts = %d, want 1", conflicts)
	}
	if s.Len() != 3 {
		t.Errorf("Len() = %d, want 3", s.Len())
	}
}

func TestMemory_BatchInsertRejectsInvalid(t *testing.T) {
	s := NewMemory()
	bad := []model.Event{{Kind: model.KindTrade, MarketID: "", Outcome: model.OutcomeYes}}
	if _, err := s.BatchInsert(context.Background(), bad, "ws"); err == nil {
		t.Fatal("expected validation error, got nil")
	}
}

func TestMemory_FindInRange(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	seed := []model.Event{
		model.NewTrade("m1", model.OutcomeYes, "0.50", "1", 3000),
		model.NewTrade("m1", model.OutcomeYes, "0.51", "1", 1000),
		model.NewTrade("m1", model.OutcomeYes, "0.52", "1", 2000),
		model.NewTrade("m1", model.OutcomeNo, "0.40", "1", 1500),
		model.NewTrade("m2", model.OutcomeYes, "0.90", "1", 1500),
		model.NewOrderbookUpdate("m1", model.OutcomeYes, model.SideBid, "0.49", "9", 1500, model.MarkerNone),
	}
	if _, err := s.BatchInsert(ctx, seed, "test"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	t.Run("filters scope outcome and kind", func(t *testing.T) {
		got, err := s.FindInRange(ctx, "m1", model.OutcomeYes, model.KindTrade, 0, 10_000, 0)
		if err != nil {
			t.Fatalf("FindInRange failed: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("got %d events, want 3", len(got))
		}
		for i := 1; i < len(got); i++ {
			if got[i].Timestamp < got[i-1].Timestamp {
				t.Errorf("results not ascending: %d before %d", got[i-1].Timestamp, got[i].Timestamp)
			}
		}
	})

	t.Run("honors window", func(t *testing.T) {
		got, err := s.FindInRange(ctx, "m1", model.OutcomeYes, model.KindTrade, 1000, 2000, 0)
		if err != nil {
			t.Fatalf("FindInRange failed: %v", err)
		}
		if len(got) != 2 {
			t.Errorf("got %d events, want 2", len(got))
		}
	})

	t.Run("honors limit", func(t *testing.T) {
		got, err := s.FindInRange(ctx, "m1", model.OutcomeYes, model.KindTrade, 0, 10_000, 1)
		if err != nil {
			t.Fatalf("FindInRange failed: %v", err)
		}
		if len(got) != 1 {
			t.Errorf("got %d events, want 1", len(got))
		}
	})
}

func TestMemory_LatestOrderbook(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	for ts := int64(1); ts <= 5; ts++ {
		s.InsertEvent(ctx, model.NewOrderbookUpdate("m1", model.OutcomeYes, model.SideBid, "0.5", "1", ts, model.MarkerNone))
	}
	s.InsertEvent(ctx, model.NewTrade("m1", model.OutcomeYes, "0.5", "1", 6))

	got, err := s.LatestOrderbook(ctx, "m1", model.OutcomeYes, 3)
	if err != nil {
		t.Fatalf("LatestOrderbook failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	// Most recent three, ascending.
	for i, want := range []int64{3, 4, 5} {
		if got[i].Timestamp != want {
			t.Errorf("event %d ts = %d, want %d", i, got[i].Timestamp, want)
		}
		if got[i].Kind != model.KindOrderbook {
			t.Errorf("event %d kind = %q, want orderbook", i, got[i].Kind)
		}
	}
}
