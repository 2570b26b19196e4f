package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/waypointlabs/verdict/internal/api"
	"github.com/waypointlabs/verdict/internal/auth"
	"github.com/waypointlabs/verdict/internal/cache"
	"github.com/waypointlabs/verdict/internal/config"
	"github.com/waypointlabs/verdict/internal/engine"
	"github.com/waypointlabs/verdict/internal/guardrail"
	"github.com/waypointlabs/verdict/internal/logging"
	"github.com/waypointlabs/verdict/internal/metrics"
	"github.com/waypointlabs/verdict/internal/snapshot"
	"github.com/waypointlabs/verdict/internal/store"
	"github.com/waypointlabs/verdict/internal/store/sqlstore"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(os.Args[1:], os.Getenv); err != nil {
		log.Fatalf("verdict-gateway: %v", err)
	}
}

func run(args []string, getenv func(string) string) error {
	fs := flag.NewFlagSet("verdict-gateway", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfgFile := firstNonEmpty(*configPath, getenv("VERDICT_CONFIG_PATH"))
	cfg := config.Default()
	if cfgFile != "" {
		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	cfg.ListenAddr = firstNonEmpty(getenv("VERDICT_LISTEN_ADDR"), cfg.ListenAddr)
	cfg.APIKey = firstNonEmpty(getenv("VERDICT_API_KEY"), cfg.APIKey)
	cfg.Engine.APIKey = firstNonEmpty(getenv("VERDICT_ENGINE_API_KEY"), cfg.Engine.APIKey)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	st, err := newStore(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	provider, err := newCacheProvider(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = provider.Close() }()

	snaps := snapshot.New(provider, cfg.Snapshot.TTL, cfg.Snapshot.LockTTL, logger)
	tracker := guardrail.NewTracker(guardrail.Config{
		CircuitThreshold:   cfg.Guardrail.CircuitThreshold,
		RefusalRateAlert:   cfg.Guardrail.RefusalRateAlert,
		RefusalRateMinimum: cfg.Guardrail.RefusalRateMinimum,
		TopicWindow:        cfg.Guardrail.TopicWindow,
		BreakdownMaxTopics: cfg.Guardrail.BreakdownMaxTopics,
	})

	eng, err := engine.NewGeminiEngine(engine.GeminiConfig{
		APIKey:  cfg.Engine.APIKey,
		BaseURL: cfg.Engine.BaseURL,
		Model:   cfg.Engine.Model,
		Timeout: cfg.Engine.Timeout,
	})
	if err != nil {
		return err
	}
	gateway := engine.NewGateway(eng, logger, tracker)

	registry := prometheus.NewRegistry()
	if err := metrics.Register(registry); err != nil {
		return err
	}

	h := &api.Handler{
		Auth:      auth.NewKeyAuthenticator(cfg.APIKey),
		Evaluate:  api.NewEvaluateService(st, snaps, gateway, tracker, cfg.Assurance.ConfidenceFloor, logger),
		Assurance: api.NewAssuranceService(st, tracker, cfg.Assurance.ConfidenceFloor, logger),
		Store:     st,
		Snapshots: snaps,
		Tracker:   tracker,
		Logger:    logger,
		Metrics:   promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	}

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(h),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("verdict-gateway listening",
			zap.String("addr", cfg.ListenAddr),
			zap.String("db_driver", cfg.DB.Driver),
			zap.String("cache_backend", cfg.Cache.Backend))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newStore(cfg config.Config, logger *zap.Logger) (store.Store, error) {
	switch cfg.DB.Driver {
	case "sqlite":
		return sqlstore.OpenSQLite(cfg.DB.DSN)
	case "memory", "":
		logger.Warn("using in-memory decision store; records do not survive restarts")
		return store.NewInMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.DB.Driver)
	}
}

func newCacheProvider(cfg config.Config, logger *zap.Logger) (cache.Provider, error) {
	switch cfg.Cache.Backend {
	case "valkey":
		return cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			TLS:          cfg.Cache.TLS,
		})
	case "memory", "":
		logger.Warn("using in-memory snapshot cache; locks do not span instances")
		return cache.NewMemoryProvider(), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}
