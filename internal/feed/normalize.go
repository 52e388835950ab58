package feed

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/samsheff/fade-marketdata/internal/model"
)

// flexString accepts a JSON string or number and stores it verbatim as a
// string, preserving decimal precision either way.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// wireLevel accepts a price level as either ["0.52","100"] or
// {"price":"0.52","size":"100"}; the two shapes the upstream is known to
// interleave.
type wireLevel struct {
	Price string
	Size  string
}

func (l *wireLevel) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var arr []flexString
		if err := json.Unmarshal(b, &arr); err != nil {
			return err
		}
		if len(arr) > 0 {
			l.Price = string(arr[0])
		}
		if len(arr) > 1 {
			l.Size = string(arr[1])
		}
		return nil
	}
	var obj struct {
		Price flexString `json:"price"`
		Size  flexString `json:"size"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	l.Price = string(obj.Price)
	l.Size = string(obj.Size)
	return nil
}

// wireChange is one incremental level change inside a price_change frame.
type wireChange struct {
	Price flexString `json:"price"`
	Size  flexString `json:"size"`
	Side  string     `json:"side"`
}

// wireFrame is the superset of fields across every upstream shape the
// client tolerates. Classification happens by shape, not by trusting any
// single discriminator field.
type wireFrame struct {
	EventType string `json:"event_type"`
	Type      string `json:"type"`

	AssetID  string `json:"asset_id"`
	TokenID  string `json:"token_id"`
	Market   string `json:"market"`
	MarketID string `json:"market_id"`
	Outcome  string `json:"outcome"`

	Bids  []wireLevel  `json:"bids"`
	Asks  []wireLevel  `json:"asks"`
	Buys  []wireLevel  `json:"buys"`
	Sells []wireLevel  `json:"sells"`
	Chgs  []wireChange `json:"changes"`

	BestBid flexString `json:"best_bid"`
	BestAsk flexString `json:"best_ask"`

	Price flexString `json:"price"`
	Size  flexString `json:"size"`
	Side  string     `json:"side"`

	Timestamp flexString `json:"timestamp"`
}

// ignorableFrameTypes are upstream control/ack frames that carry no
// market data and are expected in normal operation.
var ignorableFrameTypes = map[string]struct{}{
	"subscribed":   {},
	"unsubscribed": {},
	"connected":    {},
	"ping":         {},
	"pong":         {},
	"ack":          {},
}

// resolveFunc resolves a token id to its market and outcome via the
// subscription token index.
type resolveFunc func(tokenID string) (marketID string, outcome model.Outcome, ok bool)

// normalizeFrame turns one raw frame into zero or more canonical events.
//
// Classification precedence: full-book replace, then level deltas, then
// best-bid/ask, then trade. Frames matching none of the shapes return
// errUnrecognizedFrame; frames whose market cannot be resolved return
// errUnresolvedMarket. nowMillis supplies the timestamp for frames that
// omit one.
func normalizeFrame(data []byte, resolve resolveFunc, nowMillis int64) ([]model.Event, error) {
	var frame wireFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, err
	}

	if _, ok := ignorableFrameTypes[frameType(frame)]; ok {
		return nil, errIgnorableFrame
	}

	marketID, outcome, ok := resolveMarket(frame, resolve)
	if !ok {
		return nil, errUnresolvedMarket
	}

	ts := parseMillis(string(frame.Timestamp), nowMillis)

	bids := append(frame.Bids, frame.Buys...)
	asks := append(frame.Asks, frame.Sells...)

	switch {
	case frameType(frame) == "book" || len(bids) > 0 || len(asks) > 0:
		return bookEvents(marketID, outcome, bids, asks, ts), nil

	case len(frame.Chgs) > 0:
		return deltaEvents(marketID, outcome, frame.Chgs, ts), nil

	case frame.BestBid != "" || frame.BestAsk != "":
		return []model.Event{priceEvent(marketID, outcome, string(frame.BestBid), string(frame.BestAsk), ts)}, nil

	case isTradeFrame(frame):
		// A trade without decimal price and size would poison every
		// consumer that folds it; drop the frame instead.
		if !isDecimal(frame.Price) || !isDecimal(frame.Size) {
			return nil, errUnrecognizedFrame
		}
		return []model.Event{model.NewTrade(marketID, outcome, string(frame.Price), string(frame.Size), ts)}, nil
	}

	return nil, errUnrecognizedFrame
}

func frameType(f wireFrame) string {
	if f.EventType != "" {
		return f.EventType
	}
	return f.Type
}

func isDecimal(s flexString) bool {
	_, err := decimal.NewFromString(string(s))
	return err == nil
}

func isTradeFrame(f wireFrame) bool {
	t := frameType(f)
	if t == "trade" || t == "last_trade_price" {
		return f.Price != ""
	}
	return f.Price != "" && f.Size != ""
}

// resolveMarket prefers explicit fields, falling back to the token index.
func resolveMarket(f wireFrame, resolve resolveFunc) (string, model.Outcome, bool) {
	marketID := f.Market
	if marketID == "" {
		marketID = f.MarketID
	}
	outcome, outErr := model.ParseOutcome(f.Outcome)

	if marketID != "" && outErr == nil {
		return marketID, outcome, true
	}

	token := f.AssetID
	if token == "" {
		token = f.TokenID
	}
	if token == "" || resolve == nil {
		return "", "", false
	}
	return resolve(token)
}

// bookEvents emits one orderbook event per level of a full-book replace,
// tagging the first with the start marker and the last with end.
func bookEvents(marketID string, outcome model.Outcome, bids, asks []wireLevel, ts int64) []model.Event {
	total := len(bids) + len(asks)
	if total == 0 {
		return nil
	}

	events := make([]model.Event, 0, total)
	emit := func(side model.Side, lv wireLevel) {
		events = append(events, model.NewOrderbookUpdate(marketID, outcome, side, lv.Price, lv.Size, ts, model.MarkerNone))
	}
	for _, lv := range bids {
		emit(model.SideBid, lv)
	}
	for _, lv := range asks {
		emit(model.SideAsk, lv)
	}

	events[0].Orderbook.Marker = model.MarkerStart
	events[len(events)-1].Orderbook.Marker = model.MarkerEnd
	if len(events) == 1 {
		// A one-level book is both boundaries; end wins so consumers
		// know the replace is complete.
		events[0].Orderbook.Marker = model.MarkerEnd
	}
	return events
}

// deltaEvents emits one orderbook event per incremental level change.
func deltaEvents(marketID string, outcome model.Outcome, changes []wireChange, ts int64) []model.Event {
	events := make([]model.Event, 0, len(changes))
	for _, ch := range changes {
		events = append(events, model.NewOrderbookUpdate(marketID, outcome, parseSide(ch.Side), string(ch.Price), string(ch.Size), ts, model.MarkerNone))
	}
	return events
}

func parseSide(s string) model.Side {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sell", "ask", "asks":
		return model.SideAsk
	default:
		return model.SideBid
	}
}

// priceEvent builds a PriceUpdate, deriving the mid price when both
// sides are present.
func priceEvent(marketID string, outcome model.Outcome, bestBid, bestAsk string, ts int64) model.Event {
	mid := ""
	if bestBid != "" && bestAsk != "" {
		b, errB := decimal.NewFromString(bestBid)
		a, errA := decimal.NewFromString(bestAsk)
		if errB == nil && errA == nil {
			mid = b.Add(a).Div(decimal.NewFromInt(2)).String()
		}
	}
	return model.NewPriceUpdate(marketID, outcome, bestBid, bestAsk, mid, ts)
}

// parseMillis parses a millisecond timestamp, tolerating second
// resolution, and falls back to now.
func parseMillis(s string, nowMillis int64) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nowMillis
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		// Fractional seconds, e.g. "1700000000.123".
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return nowMillis
		}
		n = int64(f)
	}
	// Heuristic: values below ~Nov 2001 in ms are second-resolution.
	if n > 0 && n < 1_000_000_000_000 {
		n *= 1000
	}
	return n
}
