package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/waltagan/scraper-api/internal/batch"
	"github.com/waltagan/scraper-api/internal/breaker"
	"github.com/waltagan/scraper-api/internal/config"
	"github.com/waltagan/scraper-api/internal/gate"
	"github.com/waltagan/scraper-api/internal/httpapi"
	"github.com/waltagan/scraper-api/internal/orchestrator"
	"github.com/waltagan/scraper-api/internal/proxy"
	"github.com/waltagan/scraper-api/internal/ratelimit"
	"github.com/waltagan/scraper-api/internal/scrapectx"
	"github.com/waltagan/scraper-api/internal/searchclient"
	"github.com/waltagan/scraper-api/internal/store"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg := config.Load(*configPath)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sink batch.Sink
	if cfg.Database.DSN != "" {
		if err := store.Migrate(cfg.Database.DSN); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
		st, err := store.New(rootCtx, cfg.Database.DSN)
		if err != nil {
			log.Fatalf("connect to database failed: %v", err)
		}
		defer st.Close()
		sink = st
	} else {
		logger.Warn("no database DSN configured, running without persistence")
	}

	sc := scrapectx.New(scrapectx.Options{
		ProxyEndpoints: cfg.Proxies,
		ProxyOptions: proxy.Options{
			MinSuccessRate:  cfg.Pool.MinSuccessRate,
			MinObservations: cfg.Pool.MinObservations,
		},
		GateOptions: gate.Options{
			GlobalConcurrency: cfg.Gate.GlobalConcurrency,
			PerDomainLimit:    cfg.Gate.PerDomainLimit,
			SlowDomainLimit:   cfg.Gate.SlowDomainLimit,
		},
		LimiterOptions: ratelimit.Options{
			DefaultRPM: cfg.RateLimit.RPMDefault,
			SlowRPM:    cfg.RateLimit.RPMSlow,
			BurstSize:  cfg.RateLimit.BurstSize,
		},
		BreakerOptions: breaker.Options{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			RecoveryTimeout:  time.Duration(cfg.Breaker.RecoveryMs) * time.Millisecond,
			HalfOpenMax:      cfg.Breaker.HalfOpenMax,
		},
	})

	if cfg.Pool.HealthCheckURL != "" && len(cfg.Proxies) > 0 {
		timeout := time.Duration(cfg.Pool.HealthCheckTimeout) * time.Millisecond
		hcCtx, cancel := context.WithTimeout(rootCtx, timeout*2)
		sc.Pool.HealthCheck(hcCtx, cfg.Pool.HealthCheckURL, timeout)
		cancel()
	}

	orchCfg := orchestrator.Config{
		MaxRetries:     cfg.Fetch.MaxRetries,
		RescueMinChars: cfg.Subpages.RescueMinChars,
		MaxSubpages:    cfg.Subpages.MaxSubpages,
		BatchSize:      cfg.Subpages.BatchSize,
		ProbeTimeout:   time.Duration(cfg.Fetch.ProbeTimeoutMs) * time.Millisecond,
	}

	var search searchclient.Client = searchclient.NewNoop()

	manager := batch.New(sc, orchCfg, search, sink, batch.Options{
		Concurrency:     cfg.Gate.GlobalConcurrency,
		CompanyDeadline: time.Duration(cfg.Subpages.CompanyDeadlineSec) * time.Second,
	})

	server := httpapi.NewServer(cfg, manager, logger)

	go func() {
		<-rootCtx.Done()
		logger.Info("shutting down")
		if err := server.Shutdown(10 * time.Second); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()

	if err := server.Listen(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
