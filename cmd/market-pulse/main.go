package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"market-pulse/internal/config"
	"market-pulse/internal/exchange"
	"market-pulse/internal/exchange/hyperliquid"
	"market-pulse/internal/market"
	"market-pulse/internal/pipeline"
	"market-pulse/internal/ring"
	"market-pulse/internal/server"
	"market-pulse/internal/sink"
	"market-pulse/internal/sink/natsbus"
	"market-pulse/internal/sink/rediscache"
	"market-pulse/internal/state"
)

func main() {
	_ = godotenv.Load() // best-effort: .env is optional

	cfg, err := config.Load("config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config.yaml: %v\n", err)
		os.Exit(1)
	}

	logger := config.NewLogger(cfg.LogLevel)
	logger.Info("market-pulse starting",
		slog.Int("port", cfg.Port),
		slog.String("exchange", cfg.Exchange),
		slog.String("symbol", cfg.Symbol),
		slog.Int("ring_capacity", cfg.RingCapacity),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("exiting", slog.String("err", err.Error()))
		os.Exit(1)
	}
	logger.Info("bye")
}

func run(cfg config.Config, logger *slog.Logger) error {
	decoder, err := exchange.NewDecoder(cfg.Exchange, exchange.Options{MaxSnapshotLevels: cfg.MaxSnapshotLevels})
	if err != nil {
		return fmt.Errorf("%w (available: %v)", err, exchange.Names())
	}
	bboRing, err := ring.New[market.BboSnapshot](cfg.RingCapacity)
	if err != nil {
		return err
	}
	imbRing, err := ring.New[market.ImbalanceStat](cfg.RingCapacity)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st := state.NewState(cfg.Symbol)

	// Persistence
	var recorder *sink.Recorder
	var tradeSink sink.TradeSink
	if cfg.Recorder.Enabled {
		stores, err := openStores(ctx, cfg, logger)
		if err != nil {
			return err
		}
		recorder = sink.NewRecorder(cfg.Symbol, bboRing, imbRing, stores, sink.RecorderOptions{
			QueueSize:     cfg.Recorder.QueueSize,
			FlushInterval: cfg.Recorder.FlushInterval(),
		}, logger)
		defer recorder.Close()
		tradeSink = recorder
	}

	// Pipeline + dashboard. The server is created first so the pipeline can
	// report errors to it; both attach their ring cursors here.
	var srv *server.HTTPServer
	var recStats server.RecorderStats
	if recorder != nil {
		recStats = recorder
	}
	pipe := pipeline.New(pipeline.Options{
		ImbalanceDepth: cfg.ImbalanceDepth,
		OnError:        func(err error) { srv.BroadcastError(err.Error()) },
	}, decoder, bboRing, imbRing, tradeSink, st, logger)
	srv = server.NewHTTPServer(cfg, st, pipe, recStats, bboRing, imbRing, logger)

	feed := hyperliquid.NewFeed(cfg.WSURL, cfg.Symbol, decoder, logger.With("component", "feed"))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		feed.Run(gctx, func(connected bool) {
			st.SetConnected(connected)
			srv.BroadcastStatus()
		})
		return nil
	})
	g.Go(func() error {
		for err := range feed.Errors() {
			logger.Warn("feed error", slog.String("err", err.Error()))
			srv.BroadcastError(err.Error())
		}
		return nil
	})
	g.Go(func() error {
		err := pipe.Run(gctx, feed.Messages())
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error { return srv.RunPump(gctx) })
	if recorder != nil {
		g.Go(func() error { return recorder.Run(gctx) })
	}
	g.Go(func() error {
		logger.Info("HTTP server listening", slog.Int("port", cfg.Port))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		shCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		defer cancel()
		feed.Close()
		return httpSrv.Shutdown(shCtx)
	})

	return g.Wait()
}

func openStores(ctx context.Context, cfg config.Config, logger *slog.Logger) ([]sink.Store, error) {
	var stores []sink.Store
	if cfg.Recorder.LogStore {
		stores = append(stores, sink.NewLogStore(logger))
	}
	if cfg.NATS.Enabled {
		pub, err := natsbus.Connect(natsbus.Config{
			URL:           cfg.NATS.URL,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			ClientName:    "market-pulse-" + cfg.Symbol,
		}, logger)
		if err != nil {
			return nil, err
		}
		stores = append(stores, pub)
	}
	if cfg.Redis.Enabled {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		cache, err := rediscache.New(pingCtx, rediscache.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			KeyPrefix:    cfg.Redis.KeyPrefix,
			TradeHistory: cfg.Redis.TradeHistory,
		})
		if err != nil {
			for _, s := range stores {
				_ = s.Close()
			}
			return nil, err
		}
		stores = append(stores, cache)
	}
	return stores, nil
}
