package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/statlab/gpustats/internal/app"
	"github.com/statlab/gpustats/internal/config"
	"github.com/statlab/gpustats/internal/version"
)

var (
	buildVersion = "dev"
	buildCommit  = ""
	buildTime    = ""
)

func main() {
	version.Set(version.Info{
		Version:   buildVersion,
		Commit:    buildCommit,
		BuildTime: buildTime,
	})

	cfg, err := config.Load()
	if err != nil {
		handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})
		slog.New(handler).Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	flag.IntVar(&cfg.MonitorPID, "pid", cfg.MonitorPID, "Process id to attribute GPU usage to")
	flag.IntVar(&cfg.ParentPID, "ppid", cfg.ParentPID, "Exit when the parent process id no longer matches")
	flag.DurationVar(&cfg.SampleInterval, "interval", cfg.SampleInterval, "Sampling interval")
	flag.Parse()

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})
	logger := slog.New(handler)

	if cfg.SampleInterval <= 0 {
		logger.Error("sampling interval must be > 0", "interval", cfg.SampleInterval)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, logger, cfg); err != nil {
		logger.Error("application error", "err", err)
		os.Exit(1)
	}
}
