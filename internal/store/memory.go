package store

import (
	"context"
	"sort"
	"sync"

	"github.com/samsheff/fade-marketdata/internal/model"
)

// Memory is an in-memory EventStore with the same dedup semantics as
// Postgres. Used by tests and when no database is configured.
type Memory struct {
	mu     sync.RWMutex
	events []model.Event
	seen   map[string]struct{}
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{seen: make(map[string]struct{})}
}

// InsertEvent stores one event, skipping duplicates.
func (m *Memory) InsertEvent(ctx context.Context, ev model.Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.insertLocked(ev)
	return nil
}

// BatchInsert stores many events, counting skipped duplicates.
func (m *Memory) BatchInsert(ctx context.Context, events []model.Event, source string) (int, error) {
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			return 0, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	conflicts := 0
	for _, ev := range events {
		if !m.insertLocked(ev) {
			conflicts++
		}
	}
	return conflicts, nil
}

// insertLocked appends unless the dedup key is already present.
func (m *Memory) insertLocked(ev model.Event) bool {
	key := ev.DedupKey()
	if _, dup := m.seen[key]; dup {
		return false
	}
	m.seen[key] = struct{}{}
	m.events = append(m.events, ev)
	return true
}

// FindInRange returns matching events ascending by timestamp.
func (m *Memory) FindInRange(ctx context.Context, scopeID string, outcome model.Outcome, kind model.EventKind, from, to int64, limit int) ([]model.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Event
	for _, ev := range m.events {
		if ev.MarketID != scopeID || ev.Outcome != outcome {
			continue
		}
		if kind != "" && ev.Kind != kind {
			continue
		}
		if ev.Timestamp < from || ev.Timestamp > to {
			continue
		}
		out = append(out, ev)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LatestOrderbook returns the tail of the orderbook stream, ascending.
func (m *Memory) LatestOrderbook(ctx context.Context, marketID string, outcome model.Outcome, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = 500
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.Event
	for _, ev := range m.events {
		if ev.MarketID == marketID && ev.Outcome == outcome && ev.Kind == model.KindOrderbook {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })

	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Len returns the number of stored events.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}
