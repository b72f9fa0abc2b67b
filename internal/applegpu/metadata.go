package applegpu

import "github.com/statlab/gpustats/internal/metrics"

// Info is the static chip description recoverable from a sample's
// metadata fields.
type Info struct {
	Name      string
	ECPUCores int
	PCPUCores int
	GPUCores  int
	MemoryGB  int
}

// InfoFromSample projects the chip description out of a completed
// sample. No native calls are made; missing fields stay zero.
func InfoFromSample(s *metrics.Sample) Info {
	var info Info
	if v, ok := s.Get("_apple.chip_name"); ok {
		info.Name = v.String()
	}
	if v, ok := s.Get("_apple.ecpu_cores"); ok {
		info.ECPUCores = int(v.Int())
	}
	if v, ok := s.Get("_apple.pcpu_cores"); ok {
		info.PCPUCores = int(v.Int())
	}
	if v, ok := s.Get("_apple.gpu_cores"); ok {
		info.GPUCores = int(v.Int())
	}
	if v, ok := s.Get("_apple.memory_gb"); ok {
		info.MemoryGB = int(v.Int())
	}
	return info
}
