package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/curvefeed/curvefeed/params"
	"github.com/curvefeed/curvefeed/pkg/api"
	"github.com/curvefeed/curvefeed/pkg/exchange"
	"github.com/curvefeed/curvefeed/pkg/metrics"
	"github.com/curvefeed/curvefeed/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (console only unless LOG_FILE is set)
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.LogFile)
	} else {
		logger, err = util.NewLogger()
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	// ---- Storage ----
	var store *exchange.Store
	if cfg.Storage.DataDir != "" {
		store, err = exchange.NewStore(cfg.Storage.DataDir)
		if err != nil {
			sugar.Fatalw("store_open_failed", "data_dir", cfg.Storage.DataDir, "err", err)
		}
		defer store.Close()
		sugar.Infow("store_opened", "data_dir", cfg.Storage.DataDir)
	} else {
		sugar.Info("persistence disabled - running in-memory only")
	}

	// ---- Metrics ----
	var (
		m        *metrics.Metrics
		gatherer prometheus.Gatherer
	)
	if cfg.Server.EnableMetrics {
		reg := prometheus.NewRegistry()
		m = metrics.New(reg)
		gatherer = reg
	}

	// ---- API Server + Exchange ----
	// The hub is the exchange's notifier, so the server is built first
	// and the exchange is wired to its hub.
	srv := api.NewServer(sugar, nil, m, gatherer)

	exOpts := []exchange.Option{exchange.WithNotifier(srv.Hub())}
	if m != nil {
		exOpts = append(exOpts, exchange.WithMetrics(m))
	}
	ex, err := exchange.New(sugar, store, cfg.Economy.StartingBalance, exOpts...)
	if err != nil {
		sugar.Fatalw("exchange_init_failed", "err", err)
	}
	srv.SetExchange(ex)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sugar.Infow("node_starting",
		"listen_addr", cfg.Server.ListenAddr,
		"starting_balance", cfg.Economy.StartingBalance,
		"posts_loaded", len(ex.Posts().List()),
		"metrics_enabled", cfg.Server.EnableMetrics)

	go func() {
		if err := srv.Start(cfg.Server.ListenAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	<-ctx.Done()
	sugar.Info("node_shutting_down")
}
