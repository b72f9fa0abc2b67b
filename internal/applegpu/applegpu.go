// Package applegpu samples power, frequency and temperature telemetry
// on Apple Silicon machines. It combines three native sources: IOReport
// subscription deltas for energy counters and performance-state
// residencies, the SMC sensor-key endpoint for temperatures and system
// power, and a one-shot system_profiler run for the SoC inventory.
package applegpu

import "errors"

// ErrUnsupported is returned by New on platforms without the required
// native frameworks.
var ErrUnsupported = errors.New("applegpu: not supported on this platform")

const (
	cpuCoreSubgroup = "CPU Core Performance States"
	gpuDiceSubgroup = "GPU Performance States"
)
