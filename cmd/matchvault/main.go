// Package main wires together the match crawl service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/matchvault/matchvault/internal/api"
	"github.com/matchvault/matchvault/internal/clock/system"
	"github.com/matchvault/matchvault/internal/config"
	gcmemory "github.com/matchvault/matchvault/internal/gc/memory"
	"github.com/matchvault/matchvault/internal/id/uuid"
	"github.com/matchvault/matchvault/internal/ingest"
	"github.com/matchvault/matchvault/internal/logging"
	"github.com/matchvault/matchvault/internal/metrics"
	"github.com/matchvault/matchvault/internal/orchestrator"
	"github.com/matchvault/matchvault/internal/stats"
	memorystorage "github.com/matchvault/matchvault/internal/storage/memory"
	"github.com/matchvault/matchvault/internal/storage/postgres"
	"github.com/matchvault/matchvault/internal/store"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	seed := flag.String("seed", "", "Comma-separated player IDs to seed on boot")
	autostart := flag.Bool("autostart", true, "Start the crawl loop on boot")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	clock := system.New()
	idGen := uuid.New()

	var (
		queue      store.TaskQueue
		matches    store.MatchStore
		statsStore store.StatsStore
	)
	switch cfg.DB.Provider {
	case "postgres":
		pool, err := postgres.NewPool(ctx, postgres.Config{
			DSN:             cfg.DB.DSN,
			MaxConns:        int32(cfg.DB.MaxConns),
			MinConns:        int32(cfg.DB.MinConns),
			MaxConnLifetime: time.Duration(cfg.DB.ConnLifetimeMin) * time.Minute,
		})
		if err != nil {
			logger.Fatal("postgres init failed", zap.Error(err))
		}
		defer pool.Close()
		queueStore, err := postgres.NewQueueStore(pool, cfg.Crawler.MaxRetries, clock, idGen)
		if err != nil {
			logger.Fatal("queue store init failed", zap.Error(err))
		}
		matchStore, err := postgres.NewMatchStore(pool, clock)
		if err != nil {
			logger.Fatal("match store init failed", zap.Error(err))
		}
		snapStore, err := postgres.NewStatsStore(pool)
		if err != nil {
			logger.Fatal("stats store init failed", zap.Error(err))
		}
		queue, matches, statsStore = queueStore, matchStore, snapStore
		logger.Info("using postgres storage")
	default:
		mem := memorystorage.New(cfg.Crawler.MaxRetries, clock, idGen)
		queue, matches, statsStore = mem, mem, mem
		logger.Info("using in-memory storage")
	}

	// The in-process source stands in until a live game coordinator
	// adapter exists.
	source := gcmemory.New()
	source.SetSessionReady(true)

	pipeline := ingest.New(matches, logger.Named("ingest"))
	recorder := stats.New(statsStore, queue, clock, logger.Named("stats"))
	orch := orchestrator.New(queue, source, pipeline, recorder, orchestrator.Config{
		Interval:         cfg.Crawler.Interval(),
		BatchSize:        cfg.Crawler.BatchSize,
		Concurrency:      cfg.Crawler.Concurrency,
		MinChunkDelay:    cfg.Crawler.MinDelay(),
		MaxRetries:       cfg.Crawler.MaxRetries,
		RateLimitBackoff: cfg.Crawler.RateLimitBackoff(),
		FetchTimeout:     cfg.Crawler.FetchTimeout(),
	}, logger.Named("crawler"))

	if *seed != "" {
		var playerIDs []string
		for _, id := range strings.Split(*seed, ",") {
			if id = strings.TrimSpace(id); id != "" {
				playerIDs = append(playerIDs, id)
			}
		}
		if err := orch.Seed(ctx, playerIDs); err != nil {
			logger.Fatal("seed failed", zap.Error(err))
		}
	}
	if *autostart {
		if err := orch.Start(ctx); err != nil {
			logger.Fatal("crawler start failed", zap.Error(err))
		}
	}

	apiServer := api.NewServer(ctx, orch, recorder, queue, source, cfg, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	orch.Stop()
	if done := orch.Done(); done != nil {
		select {
		case <-done:
		case <-time.After(cfg.Crawler.FetchTimeout() + 5*time.Second):
			logger.Warn("crawler did not stop in time")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
