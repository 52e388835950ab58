package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/samsheff/fade-marketdata/internal/model"
	"github.com/samsheff/fade-marketdata/internal/pubsub"
)

// clientSub is one active subscription owned by a connection. While an
// initial snapshot fetch is outstanding, live frames are held so the
// snapshot always reaches the client first.
type clientSub struct {
	busSub  *pubsub.Subscription
	outcome model.Outcome

	mu      sync.Mutex
	waiting bool
	held    [][]byte
}

// clientConn is one downstream WebSocket connection. Its subscription
// table is touched only by the read pump and teardown, which are
// serialized, so subsMu exists for the teardown path alone.
type clientConn struct {
	id     uuid.UUID
	server *Server
	ws     *websocket.Conn
	logger *slog.Logger

	send chan []byte

	subsMu sync.Mutex
	subs   map[string]*clientSub

	closeOnce sync.Once
	done      chan struct{}

	dropped atomic.Int64
}

func newClientConn(s *Server, ws *websocket.Conn) *clientConn {
	id := uuid.New()
	return &clientConn{
		id:     id,
		server: s,
		ws:     ws,
		logger: s.logger.With("conn_id", id.String()),
		send:   make(chan []byte, s.cfg.SendBufferSize),
		subs:   make(map[string]*clientSub),
		done:   make(chan struct{}),
	}
}

// run services the connection until the socket closes or the server
// stops. Blocks until teardown completes.
func (c *clientConn) run(ctx context.Context) {
	go c.writePump()

	c.enqueueJSON(connectedFrame{Type: "connected", Timestamp: time.Now().UnixMilli()})

	go func() {
		select {
		case <-ctx.Done():
			c.close()
		case <-c.done:
		}
	}()

	c.readPump()
	c.close()
}

// readPump parses inbound commands. Any read error ends the connection.
func (c *clientConn) readPump() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("client read failed", "error", err)
			}
			return
		}

		var cmd command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.rejectCommand("malformed command: " + err.Error())
			continue
		}
		c.handleCommand(cmd)
	}
}

// writePump is the sole writer on the socket.
func (c *clientConn) writePump() {
	defer c.ws.Close()
	for {
		select {
		case <-c.done:
			c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			return
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.server.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logger.Debug("client write failed", "error", err)
				c.close()
				return
			}
		}
	}
}

func (c *clientConn) handleCommand(cmd command) {
	busChannel, outcome, err := cmd.validate()
	if err != nil {
		c.rejectCommand(err.Error())
		return
	}

	key := busChannel + "|" + string(outcome)
	switch cmd.Type {
	case "subscribe":
		c.subscribe(key, busChannel, outcome, cmd)
	case "unsubscribe":
		c.unsubscribe(key)
	}
}

func (c *clientConn) subscribe(key, busChannel string, outcome model.Outcome, cmd command) {
	c.subsMu.Lock()
	if _, exists := c.subs[key]; exists {
		c.subsMu.Unlock()
		return
	}
	wantSnapshot := cmd.Channel == ChannelOrderbook && c.server.snapshots != nil
	sub := &clientSub{outcome: outcome, waiting: wantSnapshot}
	sub.busSub = c.server.bus.Subscribe(busChannel, func(ev model.Event) {
		c.relay(sub, cmd, ev)
	})
	c.subs[key] = sub
	c.subsMu.Unlock()

	c.logger.Debug("client subscribed", "channel", busChannel, "outcome", outcome)

	// Seed orderbook subscribers with recent state. Best effort off the
	// command path; a failure is logged and live deltas still flow.
	if wantSnapshot {
		go c.pushSnapshot(sub, cmd.MarketID, outcome)
	}
}

func (c *clientConn) unsubscribe(key string) {
	c.subsMu.Lock()
	sub, ok := c.subs[key]
	if ok {
		delete(c.subs, key)
	}
	c.subsMu.Unlock()
	if ok {
		sub.busSub.Cancel()
	}
}

// relay forwards a bus event if it passes the outcome filter.
// Instrument-scoped subscriptions carry no filter. Frames arriving
// while the subscription's snapshot fetch is outstanding are held and
// flushed after it.
func (c *clientConn) relay(sub *clientSub, cmd command, ev model.Event) {
	if sub.outcome != "" && ev.Outcome != sub.outcome {
		return
	}
	data, err := json.Marshal(liveFrame{
		Type:         string(ev.Kind),
		MarketID:     cmd.MarketID,
		InstrumentID: cmd.InstrumentID,
		Outcome:      sub.outcome,
		Payload:      ev,
	})
	if err != nil {
		c.logger.Error("frame marshal failed", "error", err)
		return
	}

	sub.mu.Lock()
	if sub.waiting {
		if len(sub.held) < c.server.cfg.SendBufferSize {
			sub.held = append(sub.held, data)
		} else {
			c.countDrop()
		}
		sub.mu.Unlock()
		return
	}
	sub.mu.Unlock()

	c.enqueue(data)
}

func (c *clientConn) pushSnapshot(sub *clientSub, marketID string, outcome model.Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), c.server.cfg.SnapshotTimeout)
	defer cancel()

	var snap []byte
	events, err := c.server.snapshots.LatestOrderbook(ctx, marketID, outcome, c.server.cfg.SnapshotDepth)
	if err != nil {
		c.logger.Warn("orderbook snapshot fetch failed",
			"market_id", marketID,
			"outcome", outcome,
			"error", err,
		)
	} else {
		snap, err = json.Marshal(snapshotFrame{
			Type:     "orderbook_snapshot",
			MarketID: marketID,
			Outcome:  outcome,
			Events:   events,
		})
		if err != nil {
			c.logger.Error("snapshot marshal failed", "error", err)
			snap = nil
		}
	}

	// Enqueue the snapshot and the held frames in one critical section
	// so no relay can slip a delta ahead of the snapshot.
	sub.mu.Lock()
	if snap != nil {
		c.enqueue(snap)
	}
	for _, frame := range sub.held {
		c.enqueue(frame)
	}
	sub.held = nil
	sub.waiting = false
	sub.mu.Unlock()
}

func (c *clientConn) rejectCommand(msg string) {
	c.enqueueJSON(errorFrame{Type: "error", Code: codeInvalidSubscription, Message: msg})
}

// enqueueJSON marshals and queues a frame.
func (c *clientConn) enqueueJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("frame marshal failed", "error", err)
		return
	}
	c.enqueue(data)
}

// enqueue queues raw bytes without ever blocking the caller. A full
// send buffer means the client is too slow; the frame is dropped.
func (c *clientConn) enqueue(data []byte) {
	select {
	case c.send <- data:
	case <-c.done:
	default:
		c.countDrop()
	}
}

func (c *clientConn) countDrop() {
	n := c.dropped.Add(1)
	if n == 1 || n%1000 == 0 {
		c.logger.Warn("dropping frames for slow client", "dropped", n)
	}
}

// close tears the connection down exactly once: every owned
// subscription is cancelled before the socket goes away.
func (c *clientConn) close() {
	c.closeOnce.Do(func() {
		c.subsMu.Lock()
		subs := c.subs
		c.subs = make(map[string]*clientSub)
		c.subsMu.Unlock()
		for _, sub := range subs {
			sub.busSub.Cancel()
		}

		close(c.done)
		c.server.removeConn(c.id)
		c.logger.Debug("client connection closed", "cancelled_subs", len(subs))
	})
}
