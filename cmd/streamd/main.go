package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/samsheff/fade-marketdata/internal/candle"
	"github.com/samsheff/fade-marketdata/internal/config"
	"github.com/samsheff/fade-marketdata/internal/feed"
	"github.com/samsheff/fade-marketdata/internal/gateway"
	"github.com/samsheff/fade-marketdata/internal/model"
	"github.com/samsheff/fade-marketdata/internal/pubsub"
	"github.com/samsheff/fade-marketdata/internal/store"
	"github.com/samsheff/fade-marketdata/internal/version"
	"github.com/samsheff/fade-marketdata/internal/writer"
)

func main() {
	configPath := flag.String("config", "configs/streamd.local.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	slog.SetDefault(logger)

	logger.Info("starting streamd",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"feed_url", cfg.Feed.URL,
		"subscriptions", len(cfg.Feed.Subscriptions),
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Event store: Postgres when configured, in-memory otherwise
	var (
		events store.EventStore
		pg     *store.Postgres
	)
	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Postgres.Host,
			"port", cfg.Database.Postgres.Port,
			"database", cfg.Database.Postgres.Name,
		)
		pool, err := store.Connect(ctx, cfg.Database.Postgres)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		pg = store.NewPostgres(pool)
		defer pg.Close()
		events = pg
		logger.Info("database connected")
	} else {
		logger.Warn("database disabled, events are lost on restart")
		events = store.NewMemory()
	}

	// Pub/sub bus
	bus := pubsub.NewBus(logger)

	// Feed client publishes every normalized event on its channel
	feedClient := feed.NewClient(feed.Config{
		URL:                cfg.Feed.URL,
		HeartbeatInterval:  cfg.Feed.HeartbeatInterval,
		PongTimeout:        cfg.Feed.PongTimeout,
		WriteTimeout:       cfg.Feed.WriteTimeout,
		HandshakeTimeout:   cfg.Feed.HandshakeTimeout,
		ReconnectBaseDelay: cfg.Feed.ReconnectBaseDelay,
		ReconnectMaxDelay:  cfg.Feed.ReconnectMaxDelay,
		BufferSize:         cfg.Feed.BufferSize,
		WarnUnmatched:      cfg.Feed.WarnUnmatched,
	}, logger)
	feedClient.OnMessage(func(evs []model.Event) {
		for _, ev := range evs {
			bus.Publish(model.ChannelFor(ev), ev)
		}
	})

	markets := make(map[string]struct{})
	for _, sub := range cfg.Feed.Subscriptions {
		outcome, _ := model.ParseOutcome(sub.Outcome)
		if err := feedClient.Subscribe(feed.Subscription{
			TokenID:  sub.TokenID,
			MarketID: sub.MarketID,
			Outcome:  outcome,
		}); err != nil {
			logger.Error("subscribe failed", "market_id", sub.MarketID, "error", err)
		}
		markets[sub.MarketID] = struct{}{}
	}

	// Batch writer drains the bus into the store
	eventWriter := writer.New(writer.Config{
		BatchSize:     cfg.Writer.BatchSize,
		FlushInterval: cfg.Writer.FlushInterval,
		BufferSize:    cfg.Writer.BufferSize,
		Source:        cfg.Instance.ID,
	}, events, logger)

	// Candle aggregator tails live trades per market
	candles := candle.NewService(candle.Config{TailSize: cfg.Candles.TailSize}, events, logger)

	for marketID := range markets {
		eventWriter.Attach(bus,
			model.MarketOrderbookChannel(marketID),
			model.MarketPriceChannel(marketID),
			model.MarketTradesChannel(marketID),
		)
		candles.Attach(bus, marketID)
	}

	if err := eventWriter.Start(ctx); err != nil {
		logger.Error("failed to start writer", "error", err)
		os.Exit(1)
	}

	// Downstream gateway
	gw := gateway.NewServer(gateway.Config{
		WriteTimeout:    cfg.Gateway.WriteTimeout,
		SendBufferSize:  cfg.Gateway.SendBufferSize,
		SnapshotDepth:   cfg.Gateway.SnapshotDepth,
		SnapshotTimeout: cfg.Gateway.SnapshotTimeout,
	}, bus, events, logger)
	if err := gw.Start(ctx); err != nil {
		logger.Error("failed to start gateway", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	mux.Handle("/health", healthHandler(pg, feedClient, gw))
	mux.Handle("/candles", candlesHandler(candles, logger))

	httpServer := &http.Server{
		Addr:    cfg.Gateway.ListenAddr,
		Handler: mux,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.Gateway.ListenAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	// Upstream connect; the client reconnects on its own from here
	if err := feedClient.Connect(ctx); err != nil {
		logger.Warn("initial connect failed, retrying in background", "error", err)
	}

	logger.Info("streamd running",
		"instance_id", cfg.Instance.ID,
		"markets", len(markets),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	feedClient.Close()
	candles.Detach()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	gw.Stop(shutdownCtx)
	eventWriter.Stop(shutdownCtx)

	if err := g.Wait(); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	logger.Info("streamd stopped")
}

// healthHandler reports component status.
func healthHandler(pg *store.Postgres, feedClient *feed.Client, gw *gateway.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		if pg != nil {
			if err := pg.Ping(ctx); err != nil {
				health.Status = "unhealthy"
				health.Components["postgres"] = map[string]string{
					"status": "disconnected",
					"error":  err.Error(),
				}
			} else {
				health.Components["postgres"] = "connected"
			}
		} else {
			health.Components["postgres"] = "disabled"
		}

		if feedClient.Connected() {
			health.Components["feed"] = "connected"
		} else {
			health.Components["feed"] = "disconnected"
			if health.Status == "healthy" {
				health.Status = "degraded"
			}
		}

		health.Components["gateway"] = map[string]int{
			"connections": gw.ConnectionCount(),
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})
}

// candlesHandler serves on-demand candle queries:
// /candles?market=m1&outcome=YES&interval=1m&from=0&to=0&limit=100
func candlesHandler(candles *candle.Service, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		outcome, err := model.ParseOutcome(q.Get("outcome"))
		if err != nil && q.Get("outcome") != "" {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		interval, err := model.ParseInterval(q.Get("interval"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		parseInt := func(key string) int64 {
			v, _ := strconv.ParseInt(q.Get(key), 10, 64)
			return v
		}

		result, err := candles.GetCandles(r.Context(), candle.Query{
			ScopeID:  q.Get("market"),
			Outcome:  outcome,
			Interval: interval,
			From:     parseInt("from"),
			To:       parseInt("to"),
			Limit:    int(parseInt("limit")),
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(result); err != nil {
			logger.Debug("candle response write failed", "error", err)
		}
	})
}
