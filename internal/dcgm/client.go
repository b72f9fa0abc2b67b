// Package dcgm reads NVIDIA datacenter profiling metrics (SM activity, pipe
// utilization, PCIe and NVLink throughput) from a DCGM host engine.
//
// All libdcgm calls are funneled through a single worker goroutine pinned to
// its OS thread; Client is the thread-safe handle the rest of the process
// talks to.
package dcgm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/statlab/gpustats/internal/metrics"
)

var (
	// ErrUnsupported is returned by New on platforms without libdcgm.
	ErrUnsupported = errors.New("dcgm: not supported on this platform")

	// ErrWorkerShutdown is returned by GetMetrics after the worker exits.
	ErrWorkerShutdown = errors.New("dcgm: worker has shutdown")

	// ErrNoSupportedFields is returned by New when the host engine supports
	// none of the profiling fields we monitor.
	ErrNoSupportedFields = errors.New("dcgm: no supported profiling fields")
)

const (
	defaultHostAddress = "localhost:5555"

	// Watch cadence handed to dcgmWatchFields.
	watchIntervalUsec  = 2_000_000
	watchMaxKeepAge    = 0.0
	watchMaxKeepSample = 2
)

// profilingAPI is the slice of libdcgm the client needs. The real
// implementation lives in lib_linux.go; tests substitute their own.
type profilingAPI interface {
	SupportedFieldIDs() (map[uint16]struct{}, error)
	CreateFieldGroup(fieldIDs []uint16) (uintptr, error)
	WatchFields(groupID, fieldGroupID uintptr, updateFreqUsec int64, maxKeepAge float64, maxKeepSamples int32) error
	UpdateFields() error
	LatestValues(groupID, fieldGroupID uintptr, sample *metrics.Sample) error
	Close() error
}

// Options configures a Client.
type Options struct {
	// LibraryPath overrides the libdcgm shared object name.
	LibraryPath string
	// HostAddress is the host engine endpoint, "localhost:5555" by default.
	HostAddress string
	Logger      *slog.Logger
}

type getRequest struct {
	resp chan getResult
}

type getResult struct {
	sample *metrics.Sample
	err    error
}

// Client owns the DCGM worker goroutine. Safe for concurrent use.
type Client struct {
	cmds chan getRequest
	quit chan struct{}
	done chan struct{}

	closeOnce sync.Once
	logger    *slog.Logger
}

// newClient filters the field wishlist against what the engine supports,
// creates the field group and watches, and starts the worker. On any setup
// error the api is closed before returning.
func newClient(api profilingAPI, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "dcgm")

	fields := desiredFields
	supported, err := api.SupportedFieldIDs()
	if err != nil {
		// Watch the full wishlist and let unsupported fields come back blank.
		logger.Warn("querying supported profiling fields failed, watching all requested fields", "error", err)
	} else {
		fields = make([]uint16, 0, len(desiredFields))
		for _, id := range desiredFields {
			if _, ok := supported[id]; ok {
				fields = append(fields, id)
			}
		}
	}
	if len(fields) == 0 {
		api.Close()
		return nil, ErrNoSupportedFields
	}
	logger.Debug("monitoring profiling fields", "count", len(fields))

	fieldGroupID, err := api.CreateFieldGroup(fields)
	if err != nil {
		api.Close()
		return nil, fmt.Errorf("creating field group: %w", err)
	}
	if err := api.WatchFields(groupAllGPUs, fieldGroupID, watchIntervalUsec, watchMaxKeepAge, watchMaxKeepSample); err != nil {
		api.Close()
		return nil, fmt.Errorf("watching fields: %w", err)
	}

	c := &Client{
		cmds:   make(chan getRequest),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
	go c.run(api, groupAllGPUs, fieldGroupID)
	return c, nil
}

// run is the worker loop. libdcgm keeps per-thread state, so the goroutine
// stays locked to one OS thread for its whole life.
func (c *Client) run(api profilingAPI, groupID, fieldGroupID uintptr) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(c.done)
	defer func() {
		if err := api.Close(); err != nil {
			c.logger.Warn("closing dcgm connection", "error", err)
		}
	}()

	for {
		select {
		case <-c.quit:
			return
		case req := <-c.cmds:
			req.resp <- c.collect(api, groupID, fieldGroupID)
		}
	}
}

func (c *Client) collect(api profilingAPI, groupID, fieldGroupID uintptr) getResult {
	if err := api.UpdateFields(); err != nil {
		c.logger.Warn("updating fields", "error", err)
	}
	sample := metrics.NewSample()
	if err := api.LatestValues(groupID, fieldGroupID, sample); err != nil {
		return getResult{err: fmt.Errorf("reading latest values: %w", err)}
	}
	return getResult{sample: sample}
}

// GetMetrics asks the worker for the most recent values of every watched
// field. An engine with no data yet yields an empty sample, not an error.
func (c *Client) GetMetrics(ctx context.Context) (*metrics.Sample, error) {
	req := getRequest{resp: make(chan getResult, 1)}
	select {
	case c.cmds <- req:
	case <-c.done:
		return nil, ErrWorkerShutdown
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-req.resp:
		return res.sample, res.err
	case <-c.done:
		return nil, ErrWorkerShutdown
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the worker and disconnects from the host engine. It is safe to
// call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.quit) })
	<-c.done
	return nil
}
