// SPDX-License-Identifier: MIT

// Command daemon runs the callback dispatch and settlement control plane.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxmill/settled/internal/api"
	"github.com/voxmill/settled/internal/cache"
	"github.com/voxmill/settled/internal/config"
	"github.com/voxmill/settled/internal/dispatch"
	"github.com/voxmill/settled/internal/httpx"
	"github.com/voxmill/settled/internal/ledger"
	"github.com/voxmill/settled/internal/log"
	"github.com/voxmill/settled/internal/pricing"
	"github.com/voxmill/settled/internal/probe"
	"github.com/voxmill/settled/internal/reconcile"
	"github.com/voxmill/settled/internal/store"
	"github.com/voxmill/settled/internal/telemetry"
)

// version is injected at build time via -ldflags.
var version = "dev"

func main() {
	var (
		configPath  = flag.String("config", "", "path to YAML config file (optional)")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	if err := run(*configPath); err != nil {
		logger := log.Base()
		logger.Fatal().Err(err).Msg("daemon exited with error")
	}
}

func run(configPath string) error {
	cfg, err := config.NewLoader(configPath, version).Load()
	if err != nil {
		return err
	}

	log.Configure(log.Config{
		Level:   cfg.LogLevel,
		Service: cfg.LogService,
		Version: cfg.Version,
	})
	logger := log.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.TracingEnabled,
		ServiceName:    cfg.LogService,
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		ExporterType:   cfg.TracingExporter,
		Endpoint:       cfg.TracingEndpoint,
		SamplingRate:   cfg.TracingSampling,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.Open(filepath.Join(cfg.DataDir, cfg.DBFile))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	lg, err := ledger.New(st.DB())
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	var c cache.Cache
	if cfg.RedisAddr != "" {
		c, err = cache.NewRedis(cache.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, log.WithComponent("cache"))
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
	} else {
		c = cache.NewMemory(time.Minute)
	}
	defer func() { _ = c.Close() }()

	calc := pricing.NewService(
		&pricing.StaticSource{Pricing: cfg.Pricing},
		c, cfg.PricingTTL, log.WithComponent("pricing"),
	)

	presigner := &probe.URLPresigner{
		BaseURL: cfg.PresignBaseURL,
		Secret:  cfg.PresignSecret,
		TTL:     cfg.PresignTTL,
	}
	prober := probe.New(presigner, probe.Options{
		Client:   httpx.NewClient(cfg.ProbeTimeout),
		Logger:   log.WithComponent("probe"),
		Schedule: probe.ScheduleWithin(cfg.ProbeMaxWait),
	})

	router := dispatch.New(dispatch.Options{
		Store:     st,
		Ledger:    lg,
		Pricing:   calc,
		Prober:    prober,
		Presigner: presigner,
		Client:    httpx.NewClient(cfg.ProbeTimeout),
		Logger:    log.WithComponent("dispatch"),
	})

	srv := api.New(cfg, router, st, lg).HTTPServer()

	rec := reconcile.New(st, lg, cfg.TaskTimeout, log.WithComponent("reconcile"))
	if err := rec.Start(cfg.ReconcileSchedule); err != nil {
		return fmt.Errorf("start reconciler: %w", err)
	}
	defer rec.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Str("event", "daemon.started").
			Str("addr", cfg.ListenAddr).
			Str("version", cfg.Version).
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Str("event", "daemon.stopping").Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Str("event", "daemon.stopped").Msg("goodbye")
	return nil
}
