package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/samsheff/fade-marketdata/internal/model"
)

// Client-facing channel names. These are the gateway protocol's
// vocabulary, distinct from the bus channel keys they map onto.
const (
	ChannelOrderbook = "orderbook"
	ChannelPrice     = "price"
)

// Error codes returned in error frames.
const (
	codeInvalidSubscription = "INVALID_SUBSCRIPTION"
)

var errSubscriptionScope = errors.New("command must carry exactly one of marketId or instrumentId")

// SnapshotSource provides the initial orderbook state pushed to new
// orderbook subscribers. store.EventStore satisfies it.
type SnapshotSource interface {
	LatestOrderbook(ctx context.Context, marketID string, outcome model.Outcome, limit int) ([]model.Event, error)
}

// command is the inbound client frame.
type command struct {
	Type         string `json:"type"`
	Channel      string `json:"channel"`
	MarketID     string `json:"marketId,omitempty"`
	InstrumentID string `json:"instrumentId,omitempty"`
	Outcome      string `json:"outcome,omitempty"`
}

// validate checks the command and resolves its bus channel and outcome
// filter. An instrument-scoped command has no outcome dimension.
func (c command) validate() (busChannel string, outcome model.Outcome, err error) {
	if c.Type != "subscribe" && c.Type != "unsubscribe" {
		return "", "", fmt.Errorf("unknown command type %q", c.Type)
	}

	switch {
	case c.MarketID != "" && c.InstrumentID == "":
		outcome, err = model.ParseOutcome(c.Outcome)
		if err != nil {
			return "", "", fmt.Errorf("market-scoped command: %w", err)
		}
		switch c.Channel {
		case ChannelOrderbook:
			return model.MarketOrderbookChannel(c.MarketID), outcome, nil
		case ChannelPrice:
			return model.MarketPriceChannel(c.MarketID), outcome, nil
		default:
			return "", "", fmt.Errorf("unknown channel %q", c.Channel)
		}

	case c.InstrumentID != "" && c.MarketID == "":
		if c.Channel != ChannelPrice {
			return "", "", fmt.Errorf("instrument scope supports only the %s channel, got %q", ChannelPrice, c.Channel)
		}
		return model.InstrumentPriceChannel(c.InstrumentID), "", nil

	default:
		return "", "", errSubscriptionScope
	}
}

// connectedFrame is the first message on every connection.
type connectedFrame struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// errorFrame reports a rejected command to the offending client only.
type errorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// snapshotFrame seeds a new orderbook subscriber with recent state.
type snapshotFrame struct {
	Type     string        `json:"type"`
	MarketID string        `json:"marketId"`
	Outcome  model.Outcome `json:"outcome"`
	Events   []model.Event `json:"events"`
}

// liveFrame relays one canonical event to a subscribed client.
type liveFrame struct {
	Type         string        `json:"type"`
	MarketID     string        `json:"marketId,omitempty"`
	InstrumentID string        `json:"instrumentId,omitempty"`
	Outcome      model.Outcome `json:"outcome,omitempty"`
	Payload      model.Event   `json:"payload"`
}
