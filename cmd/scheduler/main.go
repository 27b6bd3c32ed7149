package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-consensus/internal/config"
	"github.com/example/ride-consensus/internal/consensus"
	"github.com/example/ride-consensus/internal/dispatch"
	"github.com/example/ride-consensus/internal/logging"
	"github.com/example/ride-consensus/internal/reputation"
	"github.com/example/ride-consensus/internal/storage"
	"github.com/example/ride-consensus/internal/survey"
)

// The scheduler is the external clock of the survey lifecycle: every
// tick it opens surveys for rides past the grace offset, sends one
// reminder round, and expires overdue surveys into consensus
// resolution. The sweep is idempotent, so overlapping replicas are
// safe to run.
func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.NewLogger(cfg.LogLevel)

	var store storage.Store
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN)
		if err != nil {
			log.Fatalf("postgres: %v", err)
		}
		store = ps
	} else {
		logger.Warn("no PG_DSN set, sweeping an empty in-memory store")
		store = storage.NewMemoryStore()
	}

	var notifier dispatch.Notifier
	if len(cfg.KafkaBrokers) > 0 {
		kn := dispatch.NewKafkaNotifier(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kn.Close()
		notifier = kn
	} else {
		notifier = &dispatch.LogNotifier{Logger: logger}
	}

	var cache *reputation.Cache
	if cfg.RedisAddr != "" {
		cache = reputation.NewCache(cfg.RedisAddr, cfg.RedisPassword, cfg.ReputationCacheTTL)
		defer cache.Close()
	}
	rep := &reputation.Service{Store: store, Cache: cache, Logger: logger}

	manager := &survey.Manager{
		Store:          store,
		Notifier:       notifier,
		Resolver:       consensus.NewResolver(store, notifier, rep, logger),
		Logger:         logger,
		GraceOffset:    cfg.GraceOffset,
		DeadlineWindow: cfg.DeadlineWindow,
		ReminderAfter:  cfg.ReminderAfter,
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		log.Printf("metrics/health listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("scheduler started",
		"interval", cfg.SweepInterval.String(),
		"grace_offset", cfg.GraceOffset.String(),
		"deadline_window", cfg.DeadlineWindow.String(),
	)

	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()

	// run one sweep immediately rather than waiting a full interval
	sweep(ctx, manager, logger)
	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler shutting down")
			return
		case <-ticker.C:
			sweep(ctx, manager, logger)
		}
	}
}

func sweep(ctx context.Context, m *survey.Manager, logger *slog.Logger) {
	rep := m.Sweep(ctx)
	logger.Info("sweep finished",
		"created", rep.Created,
		"reminded", rep.Reminded,
		"expired", rep.Expired,
		"errors", rep.Errors,
	)
}
