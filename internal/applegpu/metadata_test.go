package applegpu

import (
	"testing"

	"github.com/statlab/gpustats/internal/metrics"
)

func TestInfoFromSample(t *testing.T) {
	t.Parallel()

	s := metrics.NewSample()
	s.AppendString("_apple.chip_name", "Apple M2 Max")
	s.AppendInt("_apple.ecpu_cores", 4)
	s.AppendInt("_apple.pcpu_cores", 8)
	s.AppendInt("_apple.gpu_cores", 38)
	s.AppendInt("_apple.memory_gb", 96)
	s.AppendFloat("gpu.0.gpu", 55.0)

	info := InfoFromSample(s)
	want := Info{Name: "Apple M2 Max", ECPUCores: 4, PCPUCores: 8, GPUCores: 38, MemoryGB: 96}
	if info != want {
		t.Errorf("InfoFromSample = %+v, want %+v", info, want)
	}
}

func TestInfoFromSampleMissingFields(t *testing.T) {
	t.Parallel()

	info := InfoFromSample(metrics.NewSample())
	if info != (Info{}) {
		t.Errorf("InfoFromSample(empty) = %+v, want zero value", info)
	}
}
