package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/whale-watch/pkg/ai"
	"github.com/whale-watch/pkg/api"
	"github.com/whale-watch/pkg/archive"
	"github.com/whale-watch/pkg/cache"
	"github.com/whale-watch/pkg/config"
	"github.com/whale-watch/pkg/gateway"
	"github.com/whale-watch/pkg/jobs"
	"github.com/whale-watch/pkg/monitor"
	"github.com/whale-watch/pkg/worker"
)

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()
	log.Info().Msg("🐋 Whale Watch starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config invalid")
	}

	arch, err := archive.NewStore(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("archive init failed")
	}
	defer arch.Close()

	chain := gateway.NewChainClient(cfg)
	price := gateway.NewPriceClient(cfg)
	profiles := cache.New(cfg.CacheTTL, chain.AddressProfile)
	store := jobs.NewMemoryStore(cfg.JobRetention)
	engine := ai.NewEngine(cfg)
	runner := worker.New(cfg, store, price, engine)
	mon := monitor.New(cfg, chain, price, arch, store, runner)
	router := api.NewRouter(cfg, chain, price, profiles, store, runner, arch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutting down...")
		cancel()
	}()

	cr := cron.New()
	cr.AddFunc("0 * * * *", func() {
		n, err := arch.Prune(cfg.ArchiveRetention)
		if err != nil {
			log.Warn().Err(err).Msg("📉 archive prune failed")
		} else if n > 0 {
			log.Info().Int64("pruned", n).Msg("📉 old sightings pruned")
		}
	})
	cr.AddFunc("*/10 * * * *", func() {
		stats, err := arch.GetStats()
		if err != nil {
			return
		}
		size, _ := profiles.Stats()
		log.Info().
			Int64("sightings", stats.Total).
			Float64("total_usd", stats.TotalUSD).
			Int("cached_profiles", size).
			Interface("jobs", store.Count()).
			Msg("📊 status")
	})
	cr.Start()
	defer cr.Stop()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.APIPort),
		Handler:      router.Engine(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return mon.Run(gctx)
	})
	g.Go(func() error {
		log.Info().Int("port", cfg.APIPort).Msg("🌐 API listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutCancel()
		return srv.Shutdown(shutCtx)
	})

	printSummary(cfg, arch)

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("error")
	}
	log.Info().Msg("goodbye 👋")
}

func printSummary(cfg *config.Config, arch *archive.Store) {
	stats, _ := arch.GetStats()
	fmt.Println("\n" + strings.Repeat("═", 60))
	fmt.Println("  🐋 WHALE WATCH - RUNNING")
	fmt.Println(strings.Repeat("═", 60))
	fmt.Printf("  Threshold: %.0f BTC (pro model at %.0f BTC)\n", cfg.WhaleThresholdBTC, cfg.TierThresholdBTC)
	mode := fmt.Sprintf("poll every %s", cfg.ScanInterval)
	if cfg.ChainWSURL != "" {
		mode = "live feed " + cfg.ChainWSURL
	}
	fmt.Printf("  Monitor:   %s\n", mode)
	autoStatus := "❌ detection only (set MONITOR_AUTO_ANALYZE=true)"
	if cfg.AutoAnalyze {
		autoStatus = "✅ every sighting queued for analysis"
	}
	fmt.Printf("  Auto:      %s\n", autoStatus)
	fmt.Printf("  API:       http://localhost:%d\n", cfg.APIPort)
	fmt.Printf("  Models:    %s / %s\n", cfg.AIModel, cfg.AIModelPro)
	fmt.Printf("  Archive:   %d sightings ($%.0f lifetime)\n", stats.Total, stats.TotalUSD)
	fmt.Println(strings.Repeat("═", 60) + "\n")
}
