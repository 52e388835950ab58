package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/samsheff/fade-marketdata/internal/pubsub"
)

// Config holds gateway settings.
type Config struct {
	ListenAddr      string        `yaml:"listen_addr"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	SendBufferSize  int           `yaml:"send_buffer_size"`
	SnapshotDepth   int           `yaml:"snapshot_depth"`
	SnapshotTimeout time.Duration `yaml:"snapshot_timeout"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      ":8090",
		WriteTimeout:    10 * time.Second,
		SendBufferSize:  256,
		SnapshotDepth:   50,
		SnapshotTimeout: 5 * time.Second,
	}
}

// Server upgrades downstream connections and relays bus events to them.
// It implements http.Handler; the composition root mounts it on the ws
// endpoint.
type Server struct {
	cfg       Config
	logger    *slog.Logger
	bus       *pubsub.Bus
	snapshots SnapshotSource
	upgrader  websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connsMu sync.Mutex
	conns   map[uuid.UUID]*clientConn
}

// NewServer creates a gateway. snapshots may be nil, in which case new
// orderbook subscribers start from live deltas only.
func NewServer(cfg Config, bus *pubsub.Bus, snapshots SnapshotSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultConfig().WriteTimeout
	}
	if cfg.SendBufferSize < 1 {
		cfg.SendBufferSize = DefaultConfig().SendBufferSize
	}
	if cfg.SnapshotDepth < 1 {
		cfg.SnapshotDepth = DefaultConfig().SnapshotDepth
	}
	if cfg.SnapshotTimeout <= 0 {
		cfg.SnapshotTimeout = DefaultConfig().SnapshotTimeout
	}
	return &Server{
		cfg:       cfg,
		logger:    logger,
		bus:       bus,
		snapshots: snapshots,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[uuid.UUID]*clientConn),
	}
}

// Start readies the server for connections.
func (s *Server) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.logger.Info("gateway started")
	return nil
}

// Stop closes every live connection and waits for their teardown.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping gateway")
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("gateway stop timed out")
	}

	s.logger.Info("gateway stopped")
	return nil
}

// ServeHTTP upgrades the request and services the connection until it
// closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.ctx == nil || s.ctx.Err() != nil {
		http.Error(w, "gateway not running", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	conn := newClientConn(s, ws)
	s.connsMu.Lock()
	s.conns[conn.id] = conn
	s.connsMu.Unlock()

	s.logger.Info("client connected", "conn_id", conn.id.String(), "remote", r.RemoteAddr)

	s.wg.Add(1)
	defer s.wg.Done()
	conn.run(s.ctx)
}

// ConnectionCount returns the number of live downstream connections.
func (s *Server) ConnectionCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

func (s *Server) removeConn(id uuid.UUID) {
	s.connsMu.Lock()
	delete(s.conns, id)
	s.connsMu.Unlock()
}
