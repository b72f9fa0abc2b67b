// Package collector assembles the hardware samplers available on this host
// and merges their snapshots into a single sample per collection round.
package collector

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/statlab/gpustats/internal/applegpu"
	"github.com/statlab/gpustats/internal/config"
	"github.com/statlab/gpustats/internal/dcgm"
	"github.com/statlab/gpustats/internal/metrics"
	"github.com/statlab/gpustats/internal/nvidiagpu"
)

// Source is a hardware sampler producing one snapshot per call.
type Source interface {
	Name() string
	Sample(ctx context.Context) (*metrics.Sample, error)
	Close() error
}

// Collector samples a fixed set of sources and merges their output.
type Collector struct {
	sources []Source
	logger  *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

// New builds a collector over pre-constructed sources.
func New(logger *slog.Logger, sources ...Source) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		sources: sources,
		logger:  logger.With("component", "collector"),
	}
}

// Build probes the host for supported samplers and wires up each one the
// configuration asks for. A host with no working sampler still yields a
// collector; it just produces empty samples.
func Build(cfg config.Config, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}

	var sources []Source

	apple, err := applegpu.New(logger, cfg.AppleSampleWindow)
	switch {
	case errors.Is(err, applegpu.ErrUnsupported):
		// Not an Apple machine.
	case err != nil:
		logger.Warn("apple telemetry unavailable", "error", err)
	default:
		sources = append(sources, &appleSource{sampler: apple})
	}

	nvidia, err := nvidiagpu.New(nvidiagpu.Options{
		LibraryPath: cfg.NVMLLib,
		Pid:         int32(cfg.MonitorPID),
		DeviceIDs:   cfg.GPUDeviceIDs,
		ProcRoot:    cfg.ProcRoot,
		Logger:      logger,
	})
	if err != nil {
		logger.Debug("nvml unavailable", "error", err)
	} else {
		sources = append(sources, &nvidiaSource{sampler: nvidia})
	}

	if cfg.DCGM.Enable {
		client, err := dcgm.New(dcgm.Options{
			LibraryPath: cfg.DCGM.Lib,
			HostAddress: cfg.DCGM.Addr,
			Logger:      logger,
		})
		if err != nil {
			logger.Warn("dcgm unavailable", "error", err)
		} else {
			sources = append(sources, &dcgmSource{client: client})
		}
	}

	return New(logger, sources...)
}

// SourceNames lists the active sources in sampling order.
func (c *Collector) SourceNames() []string {
	names := make([]string, 0, len(c.sources))
	for _, src := range c.sources {
		names = append(names, src.Name())
	}
	return names
}

// Sample collects one snapshot from every source and merges them in source
// order. A failing source is logged and skipped; the merged sample carries
// whatever the remaining sources produced.
func (c *Collector) Sample(ctx context.Context) *metrics.Sample {
	merged := metrics.NewSample()
	for _, src := range c.sources {
		sample, err := src.Sample(ctx)
		if err != nil {
			c.logger.Warn("sampling failed", "source", src.Name(), "error", err)
			continue
		}
		merged.Merge(sample)
	}
	return merged
}

// Close releases every source. Safe to call more than once.
func (c *Collector) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		for _, src := range c.sources {
			if err := src.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

type appleSource struct {
	sampler *applegpu.Sampler
}

func (s *appleSource) Name() string { return "apple" }

func (s *appleSource) Sample(ctx context.Context) (*metrics.Sample, error) {
	return s.sampler.Sample(ctx)
}

func (s *appleSource) Close() error { return s.sampler.Close() }

type nvidiaSource struct {
	sampler *nvidiagpu.Sampler
}

func (s *nvidiaSource) Name() string { return "nvidia" }

func (s *nvidiaSource) Sample(ctx context.Context) (*metrics.Sample, error) {
	return s.sampler.Sample(ctx)
}

func (s *nvidiaSource) Close() error { return s.sampler.Close() }

type dcgmSource struct {
	client *dcgm.Client
}

func (s *dcgmSource) Name() string { return "dcgm" }

func (s *dcgmSource) Sample(ctx context.Context) (*metrics.Sample, error) {
	return s.client.GetMetrics(ctx)
}

func (s *dcgmSource) Close() error { return s.client.Close() }
