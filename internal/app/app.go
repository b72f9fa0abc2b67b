// Package app wires up the samplers and runs the emission loop.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/statlab/gpustats/internal/collector"
	"github.com/statlab/gpustats/internal/config"
	"github.com/statlab/gpustats/internal/version"
)

const timestampField = "_timestamp"

// getppid is swapped out in tests.
var getppid = os.Getppid

// Run bootstraps the collector and streams merged samples to stdout until
// the context is canceled or the configured parent process goes away.
func Run(ctx context.Context, logger *slog.Logger, cfg config.Config) error {
	coll := collector.Build(cfg, logger)
	defer func() {
		if err := coll.Close(); err != nil {
			logger.Warn("collector close", "err", err)
		}
	}()
	return run(ctx, logger, cfg, coll, os.Stdout)
}

func run(ctx context.Context, logger *slog.Logger, cfg config.Config, coll *collector.Collector, out io.Writer) error {
	appLogger := logger.With("component", "app")
	appLogger.Info("monitor started",
		"version", version.Current().Version,
		"sources", coll.SourceNames(),
		"interval", cfg.SampleInterval,
	)

	enc := json.NewEncoder(out)
	emit := func() error {
		sample := coll.Sample(ctx)
		sample.AppendFloat(timestampField, float64(time.Now().UnixNano())/1e9)
		if err := enc.Encode(sample); err != nil {
			return fmt.Errorf("encode sample: %w", err)
		}
		return nil
	}

	if err := emit(); err != nil {
		return err
	}

	ticker := time.NewTicker(cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			appLogger.Info("monitor stopping", "reason", ctx.Err())
			return nil
		case <-ticker.C:
			if cfg.ParentPID != 0 && getppid() != cfg.ParentPID {
				appLogger.Info("parent process exited, shutting down", "parent_pid", cfg.ParentPID)
				return nil
			}
			if err := emit(); err != nil {
				return err
			}
		}
	}
}
