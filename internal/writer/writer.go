package writer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samsheff/fade-marketdata/internal/model"
	"github.com/samsheff/fade-marketdata/internal/pubsub"
	"github.com/samsheff/fade-marketdata/internal/store"
)

// Config holds batch writer settings.
type Config struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
	Source        string        `yaml:"source"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
		Source:        "ws",
	}
}

// Metrics counts writer activity.
type Metrics struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
}

// Writer persists bus events through the EventStore contract.
type Writer struct {
	cfg    Config
	logger *slog.Logger
	events store.EventStore

	buf *Buffer[model.Event]

	subsMu sync.Mutex
	subs   []*pubsub.Subscription

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metricsMu sync.Mutex
	metrics   Metrics
}

// New creates a writer persisting into events.
func New(cfg Config, events store.EventStore, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	return &Writer{
		cfg:    cfg,
		logger: logger,
		events: events,
		buf:    NewBuffer[model.Event](cfg.BufferSize),
	}
}

// Attach subscribes the writer to bus channels. May be called for each
// market the feed tracks.
func (w *Writer) Attach(bus *pubsub.Bus, channels ...string) {
	w.subsMu.Lock()
	defer w.subsMu.Unlock()
	for _, ch := range channels {
		w.subs = append(w.subs, bus.Subscribe(ch, w.enqueue))
	}
}

// enqueue is the bus callback; it must not block.
func (w *Writer) enqueue(ev model.Event) {
	w.buf.Send(ev)
}

// Start begins the flush loop.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("event writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop cancels bus subscriptions, waits for the loop, and flushes the
// remainder.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping event writer")

	w.subsMu.Lock()
	for _, sub := range w.subs {
		sub.Cancel()
	}
	w.subs = nil
	w.subsMu.Unlock()

	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("event writer stop timed out")
	}

	w.buf.Close()
	w.flush(context.Background())

	w.logger.Info("event writer stopped")
	return nil
}

// Stats returns a copy of the current metrics.
func (w *Writer) Stats() Metrics {
	w.metricsMu.Lock()
	defer w.metricsMu.Unlock()
	return w.metrics
}

// flushLoop flushes on the ticker and whenever the buffer passes the
// batch threshold.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	poll := time.NewTicker(10 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		case <-poll.C:
			if w.buf.Len() >= w.cfg.BatchSize {
				w.flush(w.ctx)
			}
		}
	}
}

// flush drains up to one batch and writes it.
func (w *Writer) flush(ctx context.Context) {
	for {
		batch := w.buf.DrainTo(w.cfg.BatchSize)
		if len(batch) == 0 {
			return
		}

		start := time.Now()
		conflicts, err := w.events.BatchInsert(ctx, batch, w.cfg.Source)
		if err != nil {
			w.logger.Error("batch insert failed", "error", err, "count", len(batch))
			w.metricsMu.Lock()
			w.metrics.Errors++
			w.metricsMu.Unlock()
			return
		}

		w.metricsMu.Lock()
		w.metrics.Inserts += int64(len(batch) - conflicts)
		w.metrics.Conflicts += int64(conflicts)
		w.metrics.Flushes++
		w.metricsMu.Unlock()

		w.logger.Debug("flushed events",
			"count", len(batch),
			"conflicts", conflicts,
			"duration", time.Since(start),
		)

		if len(batch) < w.cfg.BatchSize {
			return
		}
	}
}
