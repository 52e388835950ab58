package model

import (
	"fmt"
	"strings"
)

// Outcome identifies the side of a binary market an event refers to.
type Outcome string

const (
	OutcomeYes Outcome = "YES"
	OutcomeNo  Outcome = "NO"
)

// ParseOutcome validates and canonicalizes an outcome string.
func ParseOutcome(s string) (Outcome, error) {
	switch Outcome(strings.ToUpper(strings.TrimSpace(s))) {
	case OutcomeYes:
		return OutcomeYes, nil
	case OutcomeNo:
		return OutcomeNo, nil
	}
	return "", fmt.Errorf("invalid outcome %q", s)
}

// Side identifies which side of the book an orderbook update touches.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// SnapshotMarker tags the boundaries of a full-book replace. Consumers
// treat the run between start and end as a complete replacement rather
// than an incremental delta.
type SnapshotMarker string

const (
	MarkerNone  SnapshotMarker = ""
	MarkerStart SnapshotMarker = "start"
	MarkerEnd   SnapshotMarker = "end"
)

// EventKind discriminates the Event union.
type EventKind string

const (
	KindTrade     EventKind = "trade"
	KindOrderbook EventKind = "orderbook"
	KindPrice     EventKind = "price"
)

// Trade is an executed trade at a single price.
type Trade struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// OrderbookUpdate is a change to one price level of the book. Marker is
// set on the first and last level of a full-book replace.
type OrderbookUpdate struct {
	Side   Side           `json:"side"`
	Price  string         `json:"price"`
	Size   string         `json:"size"`
	Marker SnapshotMarker `json:"snapshotMarker,omitempty"`
}

// PriceUpdate carries best-bid/best-ask and the derived mid price.
// Empty strings mean the side was absent upstream.
type PriceUpdate struct {
	BestBid  string `json:"bestBid,omitempty"`
	BestAsk  string `json:"bestAsk,omitempty"`
	MidPrice string `json:"midPrice,omitempty"`
}

// Event is the canonical, wire-format-independent representation of a
// market data update. Exactly one of Trade, Orderbook, Price is non-nil,
// matching Kind.
//
// Timestamp is milliseconds since epoch. It is monotonic non-decreasing
// per (MarketID, Outcome) only on a best-effort basis; upstream can
// reorder, so consumers must treat it as a hint, not a total order.
type Event struct {
	Kind      EventKind        `json:"kind"`
	MarketID  string           `json:"marketId"`
	Outcome   Outcome          `json:"outcome"`
	Timestamp int64            `json:"timestamp"`
	Trade     *Trade           `json:"trade,omitempty"`
	Orderbook *OrderbookUpdate `json:"orderbook,omitempty"`
	Price     *PriceUpdate     `json:"price,omitempty"`
}

// NewTrade builds a trade event.
func NewTrade(marketID string, outcome Outcome, price, size string, ts int64) Event {
	return Event{
		Kind:      KindTrade,
		MarketID:  marketID,
		Outcome:   outcome,
		Timestamp: ts,
		Trade:     &Trade{Price: price, Size: size},
	}
}

// NewOrderbookUpdate builds an orderbook level event.
func NewOrderbookUpdate(marketID string, outcome Outcome, side Side, price, size string, ts int64, marker SnapshotMarker) Event {
	return Event{
		Kind:      KindOrderbook,
		MarketID:  marketID,
		Outcome:   outcome,
		Timestamp: ts,
		Orderbook: &OrderbookUpdate{Side: side, Price: price, Size: size, Marker: marker},
	}
}

// NewPriceUpdate builds a best-bid/ask event.
func NewPriceUpdate(marketID string, outcome Outcome, bestBid, bestAsk, mid string, ts int64) Event {
	return Event{
		Kind:      KindPrice,
		MarketID:  marketID,
		Outcome:   outcome,
		Timestamp: ts,
		Price:     &PriceUpdate{BestBid: bestBid, BestAsk: bestAsk, MidPrice: mid},
	}
}

// DedupKey returns the idempotency key used by the persistence layer:
// at-least-once delivery is made idempotent by conflicting on this key.
func (e Event) DedupKey() string {
	return fmt.Sprintf("%s:%s:%d:%s", e.MarketID, e.Outcome, e.Timestamp, e.Kind)
}

// Validate checks the invariants every canonical event must carry.
func (e Event) Validate() error {
	if e.MarketID == "" {
		return fmt.Errorf("event missing market id")
	}
	if e.Outcome != OutcomeYes && e.Outcome != OutcomeNo {
		return fmt.Errorf("event has invalid outcome %q", e.Outcome)
	}
	switch e.Kind {
	case KindTrade:
		if e.Trade == nil {
			return fmt.Errorf("trade event missing payload")
		}
	case KindOrderbook:
		if e.Orderbook == nil {
			return fmt.Errorf("orderbook event missing payload")
		}
	case KindPrice:
		if e.Price == nil {
			return fmt.Errorf("price event missing payload")
		}
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	return nil
}
