package feed

import (
	"errors"
	"time"

	"github.com/samsheff/fade-marketdata/internal/model"
)

// Errors
var (
	ErrClosed          = errors.New("feed client closed")
	ErrNotConnected    = errors.New("not connected")
	errStaleConnection = errors.New("connection stale (no pong)")

	errUnrecognizedFrame = errors.New("unrecognized frame shape")
	errUnresolvedMarket  = errors.New("cannot resolve market for frame")
	errIgnorableFrame    = errors.New("ignorable control frame")
)

// Subscription maps an upstream token to a market and outcome. The token
// index built from subscriptions resolves frames that reference only the
// upstream token id.
type Subscription struct {
	TokenID  string
	MarketID string
	Outcome  model.Outcome
}

// Key returns the subscription table key.
func (s Subscription) Key() string {
	return s.MarketID + ":" + string(s.Outcome)
}

// Handler consumes the normalized events produced from one raw frame, in
// the order produced. Handlers run on the read goroutine and must not
// block.
type Handler func(events []model.Event)

// Config configures the feed client.
type Config struct {
	URL                string        // Upstream WebSocket URL
	HeartbeatInterval  time.Duration // Ping cadence
	PongTimeout        time.Duration // Grace window before a silent connection counts as dead
	WriteTimeout       time.Duration // Write deadline for sends
	HandshakeTimeout   time.Duration // Dial handshake deadline
	ReconnectBaseDelay time.Duration // Backoff base
	ReconnectMaxDelay  time.Duration // Backoff cap
	BufferSize         int           // Raw message channel buffer
	WarnUnmatched      bool          // Surface unrecognized frames at warn instead of debug
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval:  15 * time.Second,
		PongTimeout:        45 * time.Second,
		WriteTimeout:       5 * time.Second,
		HandshakeTimeout:   10 * time.Second,
		ReconnectBaseDelay: time.Second,
		ReconnectMaxDelay:  60 * time.Second,
		BufferSize:         1000,
	}
}

// subscribeFrame is the upstream subscribe command.
type subscribeFrame struct {
	Type      string   `json:"type"`
	AssetsIDs []string `json:"assets_ids"`
}

// unsubscribeFrame is the upstream unsubscribe command.
type unsubscribeFrame struct {
	Operation string   `json:"operation"`
	AssetsIDs []string `json:"assets_ids"`
}
