package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"vidfetch/internal/config"
	"vidfetch/internal/downloader"
	server "vidfetch/internal/http"
	"vidfetch/internal/jobs"
	"vidfetch/internal/store"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	var cfg *config.Config
	if _, err := os.Stat(*configPath); err == nil {
		cfg = config.Load(*configPath)
	} else {
		cfg = config.Default()
	}

	// Set up logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))

	st := store.New(cfg.Storage.StateFile, logger)
	if err := st.Initialize(); err != nil {
		log.Fatalf("job store initialization failed: %v", err)
	}

	grace := time.Duration(cfg.Stream.TeardownGraceSeconds) * time.Second
	bus := jobs.NewBroadcaster(cfg.Stream.QueueSize, grace, logger)
	coord := jobs.NewCoordinator(st, bus, logger)

	reconciler := jobs.NewReconciler(st, bus, jobs.SynthesizePolicy{
		Enabled:     cfg.Progress.SynthesizeWhenIdle,
		StepPercent: cfg.Progress.SynthesizeStepPercent,
	}, logger)

	dl := downloader.New(st, bus, reconciler, coord, downloader.Options{
		YtdlpPath:      cfg.Downloader.YtdlpPath,
		FFmpegPath:     cfg.Downloader.FFmpegPath,
		Format:         cfg.Downloader.Format,
		UserAgent:      cfg.Downloader.UserAgent,
		DownloadsDir:   cfg.Storage.DownloadsDir,
		MaxRetries:     cfg.Downloader.MaxRetries,
		RetryBaseDelay: time.Duration(cfg.Downloader.RetryBaseDelayMs) * time.Millisecond,
	}, logger)

	rootCtx := context.Background()

	if cfg.Retention.Enabled {
		sweeper := jobs.NewSweeper(st, bus,
			time.Duration(cfg.Retention.SweepIntervalSeconds)*time.Second,
			time.Duration(cfg.Retention.MaxAgeMinutes)*time.Minute,
			logger)
		go sweeper.Start(rootCtx)
	}

	s := server.NewServer(cfg, st, bus, coord, dl, logger)
	if err := s.Listen(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
