package nvidiagpu

import (
	"fmt"

	"github.com/statlab/gpustats/internal/metrics"
)

// DeviceInfo is the static description of one GPU recovered from a
// sample's metadata fields.
type DeviceInfo struct {
	Name         string
	Architecture string
	CudaCores    int
	MemoryTotal  int64
}

// Metadata is the system-level GPU description.
type Metadata struct {
	GpuCount    int
	GpuType     string
	CudaVersion string
	Devices     []DeviceInfo
}

// MetadataFromSample projects the static GPU description out of a
// completed sample. No native calls are made; absent fields stay zero.
func MetadataFromSample(s *metrics.Sample) Metadata {
	var md Metadata

	count, ok := s.Get("_gpu.count")
	if !ok {
		return md
	}
	md.GpuCount = int(count.Int())

	if v, ok := s.Get("_gpu.0.name"); ok {
		md.GpuType = v.String()
	}
	if v, ok := s.Get("_cuda_version"); ok {
		md.CudaVersion = v.String()
	}

	for i := 0; i < md.GpuCount; i++ {
		var d DeviceInfo
		if v, ok := s.Get(fmt.Sprintf("_gpu.%d.name", i)); ok {
			d.Name = v.String()
		}
		if v, ok := s.Get(fmt.Sprintf("_gpu.%d.memoryTotal", i)); ok {
			d.MemoryTotal = v.Int()
		}
		if v, ok := s.Get(fmt.Sprintf("_gpu.%d.cudaCores", i)); ok {
			d.CudaCores = int(v.Int())
		}
		if v, ok := s.Get(fmt.Sprintf("_gpu.%d.architecture", i)); ok {
			d.Architecture = v.String()
		}
		md.Devices = append(md.Devices, d)
	}
	return md
}
