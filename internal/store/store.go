package store

import (
	"context"

	"github.com/samsheff/fade-marketdata/internal/model"
)

// EventStore is the persistence contract the streaming core consumes.
type EventStore interface {
	// InsertEvent durably stores one event. Replaying the same event is
	// a no-op, not an error.
	InsertEvent(ctx context.Context, ev model.Event) error

	// BatchInsert stores many events at once, tagging them with the
	// ingest source. Returns the number of rows skipped as duplicates.
	BatchInsert(ctx context.Context, events []model.Event, source string) (conflicts int, err error)

	// FindInRange returns events for (scopeID, outcome) with timestamps
	// in [from, to], ascending. limit <= 0 means no limit. kind may be
	// empty to match all kinds.
	FindInRange(ctx context.Context, scopeID string, outcome model.Outcome, kind model.EventKind, from, to int64, limit int) ([]model.Event, error)

	// LatestOrderbook returns the most recent orderbook events for a
	// market, ascending by timestamp. Best effort: used to seed new
	// gateway subscribers with an initial snapshot.
	LatestOrderbook(ctx context.Context, marketID string, outcome model.Outcome, limit int) ([]model.Event, error)
}
