package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/freightwatch/freightwatch/internal/api"
	"github.com/freightwatch/freightwatch/internal/broker"
	"github.com/freightwatch/freightwatch/internal/config"
	"github.com/freightwatch/freightwatch/internal/dispatch"
	"github.com/freightwatch/freightwatch/internal/health"
	"github.com/freightwatch/freightwatch/internal/incident"
	fwlog "github.com/freightwatch/freightwatch/internal/log"
	"github.com/freightwatch/freightwatch/internal/persistence/sqlite"
	"github.com/freightwatch/freightwatch/internal/poller"
	"github.com/freightwatch/freightwatch/internal/replay"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Safe defaults until the config is loaded.
	fwlog.Configure(fwlog.Config{Level: "info", Service: "freightwatch", Version: version})
	logger := fwlog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(fwlog.FieldEvent, "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}

	fwlog.Configure(fwlog.Config{Level: cfg.LogLevel, Service: "freightwatch", Version: version})
	logger = fwlog.WithComponent("daemon")

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().
			Err(err).
			Str(fwlog.FieldEvent, "daemon.failed").
			Msg("daemon exited with error")
	}
	logger.Info().
		Str(fwlog.FieldEvent, "daemon.stopped").
		Msg("shutdown complete")
}

func run(ctx context.Context, cfg config.Config) error {
	logger := fwlog.WithComponent("daemon")

	db, err := sqlite.Open(cfg.DatabasePath, sqlite.DefaultConfig())
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	if err := sqlite.Migrate(ctx, db); err != nil {
		return err
	}
	store := sqlite.NewStore(db)

	registry := broker.New(broker.WithKeepAliveInterval(cfg.KeepAliveInterval))
	defer registry.Shutdown()

	var buffer replay.Buffer
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = client.Close() }()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		buffer = replay.NewRedis(client, cfg.ReplayCapacity)
		logger.Info().
			Str(fwlog.FieldEvent, "replay.redis").
			Str("addr", cfg.RedisAddr).
			Msg("using redis replay tail")
	} else {
		buffer = replay.NewMemory(cfg.ReplayCapacity)
	}

	resolver := dispatch.NewResolver(store)
	dispatcher := dispatch.NewDispatcher(resolver, registry, buffer)
	incidents := incident.NewService(store, dispatcher, incident.Config{
		DelayThreshold:     cfg.DelayThreshold,
		ImbalanceTolerance: cfg.ImbalanceTolerance,
	})

	healthMgr := health.NewManager(version)
	healthMgr.RegisterChecker(&health.DatabaseChecker{DB: db})
	healthMgr.RegisterChecker(&health.BrokerChecker{Counter: registry})

	server := api.New(cfg, registry, buffer, incidents, store, healthMgr)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: event streams stay open indefinitely.
	}

	arrival := poller.New(store, resolver, dispatcher, poller.Config{
		Interval:    cfg.Poller.Interval,
		WindowStart: cfg.Poller.WindowStart,
		WindowEnd:   cfg.Poller.WindowEnd,
	})

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().
			Str(fwlog.FieldEvent, "daemon.listen").
			Str("addr", cfg.ListenAddr).
			Msg("http server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		if err := arrival.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		// Drop all live streams first so Shutdown does not wait for them.
		registry.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
