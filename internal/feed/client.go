package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/samsheff/fade-marketdata/internal/model"
)

// connPhase tracks where the client is in its connection lifecycle.
type connPhase int

const (
	phaseIdle connPhase = iota
	phaseConnecting
	phaseConnected
)

// Client is the exchange feed client. One instance owns the single
// upstream connection for the process; it is injected into dependents by
// the composition root, never shared through a global.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	phase  connPhase
	closed bool
	conn   *wsConn
	gen    uint64 // connection generation; stale loops check it before acting

	// Subscription state, keyed by marketID:outcome with a secondary
	// token index for demultiplexing token-only frames. Mutated only
	// under mu; survives disconnects so a later Connect resumes the
	// same feed.
	subs   map[string]Subscription
	tokens map[string]Subscription

	handler Handler

	// Reconnect state: at most one pending timer.
	attempt        int
	reconnectTimer *time.Timer
}

// NewClient creates a feed client. Call OnMessage before Connect.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		logger: logger,
		subs:   make(map[string]Subscription),
		tokens: make(map[string]Subscription),
	}
}

// OnMessage registers the single consumer of normalized events.
// Registering again replaces the previous consumer.
func (c *Client) OnMessage(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Connected reports whether the upstream socket is currently open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == phaseConnected
}

// Connect opens the upstream connection. Idempotent: a no-op when
// already connected or connecting. On success the backoff counter
// resets, the heartbeat starts, and every tracked subscription is
// re-issued upstream. On failure a reconnect is scheduled and the dial
// error returned.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.phase != phaseIdle {
		c.mu.Unlock()
		return nil
	}
	c.phase = phaseConnecting
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := newWSConn(c.cfg, c.logger)
	c.mu.Unlock()

	if err := conn.dial(ctx); err != nil {
		c.mu.Lock()
		c.phase = phaseIdle
		c.scheduleReconnectLocked()
		c.mu.Unlock()
		c.logger.Error("upstream dial failed", "url", c.cfg.URL, "error", err)
		return err
	}

	c.mu.Lock()
	c.phase = phaseConnected
	c.conn = conn
	c.gen++
	gen := c.gen
	c.attempt = 0
	tokens := c.trackedTokensLocked()
	c.mu.Unlock()

	c.logger.Info("upstream connected", "url", c.cfg.URL, "subscriptions", len(tokens))

	go c.runLoop(conn, gen)

	// Flush the subscription table: everything tracked while
	// disconnected plus everything from before the disconnect.
	if len(tokens) > 0 {
		if err := c.sendSubscribe(conn, tokens); err != nil {
			c.logger.Warn("failed to re-issue subscriptions", "error", err)
		}
	}

	return nil
}

// Disconnect closes the socket and stops heartbeat and reconnect
// timers. The subscription table is retained so a later Connect resumes
// the same feed.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	conn := c.conn
	c.conn = nil
	c.phase = phaseIdle
	c.gen++ // invalidate the running loop
	c.attempt = 0
	c.mu.Unlock()

	if conn != nil {
		conn.close()
	}
}

// Close permanently shuts the client down.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Disconnect()
}

// Subscribe tracks a market feed subscription and, if connected, issues
// the upstream subscribe frame immediately. Subscriptions issued while
// disconnected are held and flushed on the next successful Connect.
func (c *Client) Subscribe(sub Subscription) error {
	c.mu.Lock()
	c.subs[sub.Key()] = sub
	c.tokens[sub.TokenID] = sub
	conn := c.connectedConnLocked()
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return c.sendSubscribe(conn, []string{sub.TokenID})
}

// Unsubscribe removes a subscription from the table and the token index
// and, if connected, issues the upstream unsubscribe frame. After it
// returns, token-only frames for this subscription no longer resolve.
func (c *Client) Unsubscribe(sub Subscription) error {
	c.mu.Lock()
	delete(c.subs, sub.Key())
	delete(c.tokens, sub.TokenID)
	conn := c.connectedConnLocked()
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	frame, err := json.Marshal(unsubscribeFrame{Operation: "unsubscribe", AssetsIDs: []string{sub.TokenID}})
	if err != nil {
		return err
	}
	return conn.send(frame)
}

// Subscriptions returns a snapshot of the tracked subscriptions.
func (c *Client) Subscriptions() []Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Subscription, 0, len(c.subs))
	for _, s := range c.subs {
		out = append(out, s)
	}
	return out
}

// connectedConnLocked returns the live conn or nil. Callers hold mu.
func (c *Client) connectedConnLocked() *wsConn {
	if c.phase != phaseConnected {
		return nil
	}
	return c.conn
}

func (c *Client) trackedTokensLocked() []string {
	tokens := make([]string, 0, len(c.tokens))
	for t := range c.tokens {
		tokens = append(tokens, t)
	}
	return tokens
}

func (c *Client) sendSubscribe(conn *wsConn, tokens []string) error {
	frame, err := json.Marshal(subscribeFrame{Type: "market", AssetsIDs: tokens})
	if err != nil {
		return err
	}
	return conn.send(frame)
}

// runLoop consumes raw frames and connection errors for one connection
// generation. The done case covers explicit Disconnect/Close, where the
// read loop exits without an error send.
func (c *Client) runLoop(conn *wsConn, gen uint64) {
	for {
		select {
		case data, ok := <-conn.messages:
			if !ok {
				c.handleDisconnect(conn, gen, nil)
				return
			}
			c.handleFrame(data)
		case err := <-conn.errors:
			c.handleDisconnect(conn, gen, err)
			return
		case <-conn.done:
			c.handleDisconnect(conn, gen, nil)
			return
		}
	}
}

// handleDisconnect reacts to a socket close, error, or stale heartbeat
// by scheduling a reconnect, unless this loop's connection has already
// been superseded.
func (c *Client) handleDisconnect(conn *wsConn, gen uint64, err error) {
	conn.close()

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.phase = phaseIdle
	c.conn = nil
	c.scheduleReconnectLocked()
	c.mu.Unlock()

	c.logger.Warn("upstream disconnected", "error", err)
}

// scheduleReconnectLocked arms the single reconnect timer with the
// capped exponential backoff delay. Callers hold mu.
func (c *Client) scheduleReconnectLocked() {
	if c.closed || c.reconnectTimer != nil {
		return
	}

	delay := backoffDelay(c.cfg.ReconnectBaseDelay, c.cfg.ReconnectMaxDelay, c.attempt)
	c.attempt++

	c.logger.Info("scheduling reconnect", "attempt", c.attempt, "delay", delay)
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		if c.closed || c.phase != phaseIdle {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
		defer cancel()
		c.Connect(ctx) // failure schedules the next attempt
	})
}

// backoffDelay computes min(base * 2^attempt, max).
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 60 * time.Second
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}

// handleFrame normalizes one raw frame and hands the events to the
// registered handler. Nothing here may return an error to the read
// loop: malformed payloads are logged and dropped per frame.
func (c *Client) handleFrame(data []byte) {
	c.mu.Lock()
	handler := c.handler
	c.mu.Unlock()

	events, err := normalizeFrame(data, c.resolveToken, time.Now().UnixMilli())
	if err != nil {
		switch err {
		case errIgnorableFrame:
			c.logger.Debug("ignoring control frame")
		case errUnresolvedMarket:
			c.logger.Debug("dropping frame for unknown market")
		case errUnrecognizedFrame:
			if c.cfg.WarnUnmatched {
				c.logger.Warn("dropping frame with unrecognized shape")
			} else {
				c.logger.Debug("dropping frame with unrecognized shape")
			}
		default:
			c.logger.Warn("dropping unparsable frame", "error", err)
		}
		return
	}

	if len(events) == 0 || handler == nil {
		return
	}
	handler(events)
}

// resolveToken resolves a token id via the subscription token index.
func (c *Client) resolveToken(tokenID string) (string, model.Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.tokens[tokenID]
	if !ok {
		return "", "", false
	}
	return sub.MarketID, sub.Outcome, true
}
