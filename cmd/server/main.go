package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/gyaneshwarpardhi/safewatch/internal/anomaly"
	"github.com/gyaneshwarpardhi/safewatch/internal/anomaly/rule"
	"github.com/gyaneshwarpardhi/safewatch/internal/api"
	"github.com/gyaneshwarpardhi/safewatch/internal/config"
	"github.com/gyaneshwarpardhi/safewatch/internal/engine"
	"github.com/gyaneshwarpardhi/safewatch/internal/escalation"
	"github.com/gyaneshwarpardhi/safewatch/internal/evidence"
	"github.com/gyaneshwarpardhi/safewatch/internal/identity"
	"github.com/gyaneshwarpardhi/safewatch/internal/logging"
	"github.com/gyaneshwarpardhi/safewatch/internal/notify"
	"github.com/gyaneshwarpardhi/safewatch/internal/pubsub"
	"github.com/gyaneshwarpardhi/safewatch/internal/safety"
	"github.com/gyaneshwarpardhi/safewatch/internal/sos"
	"github.com/gyaneshwarpardhi/safewatch/internal/store/memory"
	"github.com/gyaneshwarpardhi/safewatch/internal/store/postgres"
)

const serviceName = "safewatch"

func main() {
	cfgPath := flag.String("config", "configs/safewatch.yaml", "Path to YAML config")
	flag.Parse()

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := config.NewLoader(*cfgPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg := loader.Config()

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	loader.SetLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Storage ──────────────────────────────────────────────────────────────
	store, closeStore, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer closeStore()

	// ── Fan-out ──────────────────────────────────────────────────────────────
	publisher, closePub, err := openPublishers(cfg, logger)
	if err != nil {
		logger.Fatal("failed to connect publishers", zap.Error(err))
	}
	defer closePub()

	// ── Notifiers ────────────────────────────────────────────────────────────
	svc := notify.NewService(buildNotifiers(cfg.Notify, logger), store, safety.SystemClock{}, logger)
	dispatcher := notify.NewQueue(ctx, svc, cfg.Notify.Workers, cfg.Notify.QueueDepth, logger.Named("notify"))

	// ── SOS lifecycle and escalation ─────────────────────────────────────────
	mgr := sos.NewManager(store,
		sos.WithPublisher(publisher),
		sos.WithDispatcher(dispatcher),
		sos.WithRateLimit(cfg.SOSRateLimit()),
		sos.WithLogger(logger.Named("sos")),
	)
	sched := escalation.NewScheduler(store, mgr,
		escalation.WithPublisher(publisher),
		escalation.WithDispatcher(dispatcher),
		escalation.WithPolicy(cfg.EscalationPolicy()),
		escalation.WithLogger(logger.Named("escalation")),
	)
	go sched.Run(ctx, cfg.Escalation.SweepInterval)

	// ── Evidence ─────────────────────────────────────────────────────────────
	var blobs evidence.BlobStore = evidence.NewMemoryBlobStore()
	if cfg.Evidence.BlobDir != "" {
		dir, err := evidence.NewDirBlobStore(cfg.Evidence.BlobDir)
		if err != nil {
			logger.Fatal("failed to open blob dir", zap.String("dir", cfg.Evidence.BlobDir), zap.Error(err))
		}
		blobs = dir
	}
	collector := evidence.NewCollector(store, blobs, nil, logger.Named("evidence"))

	// ── Sample monitor ───────────────────────────────────────────────────────
	detectors, err := buildDetectors(cfg)
	if err != nil {
		logger.Fatal("failed to compile rules", zap.Error(err))
	}
	mon := engine.New(ctx, mgr, detectors, cfg.Zones, cfg.Engine, logger.Named("monitor"))
	logger.Info("monitor started",
		zap.Strings("detectors", detectors.Names()),
		zap.Int("zones", len(cfg.Zones)),
		zap.Int("workers", cfg.Engine.Workers),
	)

	// ── Hot-reload watcher ───────────────────────────────────────────────────
	loader.OnChange(func(newCfg *config.Config) {
		reg, err := buildDetectors(newCfg)
		if err != nil {
			logger.Warn("hot-reload skipped: rule compile failed", zap.Error(err))
			return
		}
		mon.SwapDetectors(reg)
		mon.SwapZones(newCfg.Zones)
		sched.SetPolicy(newCfg.EscalationPolicy())
		logger.Info("config hot-reloaded",
			zap.Int("detectors", len(reg.Names())),
			zap.Int("zones", len(newCfg.Zones)),
		)
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		logger.Warn("config watcher unavailable (hot-reload disabled)", zap.Error(err))
	} else {
		defer stopWatch()
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	proxies, err := cfg.Server.TrustedProxyPrefixes()
	if err != nil {
		logger.Fatal("invalid trusted proxies", zap.Error(err))
	}
	handler := api.New(api.Deps{
		SOS:            mgr,
		Escalator:      sched,
		Evidence:       collector,
		Monitor:        mon,
		Verifier:       identity.NewJWTVerifier(cfg.Identity.JWTSecret, cfg.Identity.Issuer),
		Logger:         logger.Named("http"),
		RatePerSecond:  cfg.Server.APIRate,
		Burst:          cfg.Server.APIBurst,
		TrustedProxies: proxies,
	})
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	mon.Shutdown()
	dispatcher.Close() // deliver what is already queued
	cancel()           // stop sweeper and worker pools
	logger.Info("goodbye")
}

func openStore(ctx context.Context, conf config.StorageConf, logger *zap.Logger) (safety.Store, func(), error) {
	if conf.Driver != "postgres" {
		logger.Warn("using in-memory store; events are lost on restart")
		return memory.New(), func() {}, nil
	}
	db, err := postgres.Open(conf.DSN, conf.MaxOpenConns, conf.MaxIdleConns)
	if err != nil {
		return nil, nil, err
	}
	st := postgres.New(db, logger.Named("postgres"))
	if err := st.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return st, func() { _ = db.Close() }, nil
}

func openPublishers(cfg *config.Config, logger *zap.Logger) (pubsub.Publisher, func(), error) {
	var (
		pubs    pubsub.Multi
		closers []func()
	)
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pubs = append(pubs, pubsub.NewRedisPublisher(client, cfg.Redis.ChannelPrefix))
		closers = append(closers, func() { _ = client.Close() })
		logger.Info("redis fan-out enabled", zap.String("addr", cfg.Redis.Addr))
	}
	if cfg.NATS.Enabled {
		conn, err := nats.Connect(cfg.NATS.URL, nats.Name(serviceName))
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("nats connect: %w", err)
		}
		pubs = append(pubs, pubsub.NewNATSPublisher(conn, cfg.NATS.SubjectPrefix))
		closers = append(closers, conn.Close)
		logger.Info("nats fan-out enabled", zap.String("url", cfg.NATS.URL))
	}
	if len(pubs) == 0 {
		return pubsub.Noop{}, closeAll, nil
	}
	return pubs, closeAll, nil
}

// buildNotifiers registers a webhook for every configured target and a log
// notifier for the rest of the ladder.
func buildNotifiers(conf config.NotifyConf, logger *zap.Logger) *notify.Registry {
	reg := notify.NewRegistry()
	for _, step := range escalation.DefaultLadder {
		url, ok := conf.Webhooks[string(step.Target)]
		if !ok || url == "" {
			reg.Register(notify.NewLogNotifier(step.Target, logger.Named("notify")))
			continue
		}
		reg.Register(notify.NewWebhookNotifier(step.Target, notify.WebhookOptions{
			URL:     url,
			Timeout: conf.Timeout,
			Retries: conf.Retries,
			Token:   conf.Token,
		}, logger.Named("notify")))
	}
	return reg
}

func buildDetectors(cfg *config.Config) (*anomaly.Registry, error) {
	rules, err := rule.CompileAll(cfg.Rules)
	if err != nil {
		return nil, err
	}
	ds := append(anomaly.Builtin(cfg.Detectors), rule.Detectors(rules)...)
	return anomaly.NewRegistry(ds...), nil
}
