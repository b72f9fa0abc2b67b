// Package nvidiagpu samples NVIDIA GPU metrics through NVML.
//
// A Sampler owns one NVML session for its lifetime. Static device
// descriptors are collected once at construction; each Sample call
// reads the full dynamic metric set for every monitored device, with
// per-metric availability flags that flip off permanently the first
// time a query fails on a device.
package nvidiagpu

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"github.com/statlab/gpustats/internal/metrics"
)

// Options configures a Sampler.
type Options struct {
	// LibraryPath overrides the platform default NVML library location.
	LibraryPath string
	// Pid is the process whose GPU usage is attributed; 0 disables
	// attribution.
	Pid int32
	// DeviceIDs restricts sampling to the listed device indices. Empty
	// means all devices.
	DeviceIDs []int
	// ProcRoot is the proc filesystem root used for the descendant
	// process walk. Defaults to /proc.
	ProcRoot string
	Logger   *slog.Logger
}

type staticInfo struct {
	name         string
	brand        string
	architecture string
	cudaCores    uint32
}

// Sampler reads metrics from all NVIDIA GPUs visible to NVML.
// Not safe for concurrent use.
type Sampler struct {
	logger      *slog.Logger
	nvml        nvml.Interface
	pid         int32
	deviceIDs   []int
	procRoot    string
	cudaVersion string
	deviceCount int
	static      []staticInfo
	avail       []metricAvailability
}

// New loads NVML and collects the static descriptors of every device.
func New(opts Options) (*Sampler, error) {
	path := opts.LibraryPath
	if path == "" {
		var err error
		if path, err = libraryPath(); err != nil {
			return nil, err
		}
	}

	lib := nvml.New(nvml.WithLibraryPath(path))
	if ret := lib.Init(); ret != nvml.SUCCESS {
		return nil, fmt.Errorf("nvidiagpu: initializing NVML: %s", nvml.ErrorString(ret))
	}
	s, err := newWithInterface(lib, opts)
	if err != nil {
		lib.Shutdown()
		return nil, err
	}
	return s, nil
}

func newWithInterface(lib nvml.Interface, opts Options) (*Sampler, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nvidiagpu")

	procRoot := opts.ProcRoot
	if procRoot == "" {
		procRoot = "/proc"
	}

	cuda, ret := lib.SystemGetCudaDriverVersion()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("nvidiagpu: reading CUDA driver version: %s", nvml.ErrorString(ret))
	}
	count, ret := lib.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("nvidiagpu: counting devices: %s", nvml.ErrorString(ret))
	}

	static := make([]staticInfo, count)
	avail := make([]metricAvailability, count)
	for i := 0; i < count; i++ {
		device, ret := lib.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			return nil, fmt.Errorf("nvidiagpu: device %d: %s", i, nvml.ErrorString(ret))
		}

		si := &static[i]
		if name, ret := device.GetName(); ret == nvml.SUCCESS {
			si.name = name
		} else if pci, ret := device.GetPciInfo(); ret == nvml.SUCCESS {
			si.name = lookupDeviceName(pci.PciDeviceId)
		}
		if brand, ret := device.GetBrand(); ret == nvml.SUCCESS {
			si.brand = brandString(brand)
		}
		if cores, ret := device.GetNumGpuCores(); ret == nvml.SUCCESS {
			si.cudaCores = uint32(cores)
		}
		if arch, ret := device.GetArchitecture(); ret == nvml.SUCCESS {
			si.architecture = architectureString(arch)
		}

		avail[i] = defaultAvailability()
	}

	return &Sampler{
		logger:      logger,
		nvml:        lib,
		pid:         opts.Pid,
		deviceIDs:   opts.DeviceIDs,
		procRoot:    procRoot,
		cudaVersion: fmt.Sprintf("%d.%d", cuda/1000, (cuda%1000)/10),
		deviceCount: count,
		static:      static,
		avail:       avail,
	}, nil
}

func (s *Sampler) monitored(index int) bool {
	if len(s.deviceIDs) == 0 {
		return true
	}
	for _, id := range s.deviceIDs {
		if id == index {
			return true
		}
	}
	return false
}

// Sample reads the current metric set. A device that fails to resolve
// is skipped; individual metric failures disable that metric for the
// device and never fail the call.
func (s *Sampler) Sample(_ context.Context) (*metrics.Sample, error) {
	out := metrics.NewSample()
	out.AppendString("_cuda_version", s.cudaVersion)
	out.AppendInt("_gpu.count", int64(s.deviceCount))

	for di := 0; di < s.deviceCount; di++ {
		if !s.monitored(di) {
			continue
		}
		device, ret := s.nvml.DeviceGetHandleByIndex(di)
		if ret != nvml.SUCCESS {
			continue
		}

		si := s.static[di]
		out.AppendString(fmt.Sprintf("_gpu.%d.name", di), si.name)
		out.AppendString(fmt.Sprintf("_gpu.%d.brand", di), si.brand)
		out.AppendInt(fmt.Sprintf("_gpu.%d.cudaCores", di), int64(si.cudaCores))
		out.AppendString(fmt.Sprintf("_gpu.%d.architecture", di), si.architecture)

		inUse := false
		if s.pid != 0 {
			inUse = s.gpuInUse(device)
		}

		s.sampleDevice(out, device, di, inUse)
	}
	return out, nil
}

func (s *Sampler) sampleDevice(out *metrics.Sample, device nvml.Device, di int, inUse bool) {
	a := &s.avail[di]

	if a.utilization {
		if util, ret := device.GetUtilizationRates(); ret == nvml.SUCCESS {
			out.AppendFloat(fmt.Sprintf("gpu.%d.gpu", di), float64(util.Gpu))
			out.AppendInt(fmt.Sprintf("gpu.%d.memory", di), int64(util.Memory))
			if inUse {
				out.AppendFloat(fmt.Sprintf("gpu.process.%d.gpu", di), float64(util.Gpu))
				out.AppendInt(fmt.Sprintf("gpu.process.%d.memory", di), int64(util.Memory))
			}
		} else {
			a.utilization = false
		}
	}

	if a.memoryInfo {
		if mem, ret := device.GetMemoryInfo(); ret == nvml.SUCCESS {
			allocated := float64(mem.Used) / float64(mem.Total) * 100.0
			out.AppendInt(fmt.Sprintf("_gpu.%d.memoryTotal", di), int64(mem.Total))
			out.AppendFloat(fmt.Sprintf("gpu.%d.memoryAllocated", di), allocated)
			out.AppendInt(fmt.Sprintf("gpu.%d.memoryAllocatedBytes", di), int64(mem.Used))
			if inUse {
				out.AppendFloat(fmt.Sprintf("gpu.process.%d.memoryAllocated", di), allocated)
				out.AppendInt(fmt.Sprintf("gpu.process.%d.memoryAllocatedBytes", di), int64(mem.Used))
			}
		} else {
			a.memoryInfo = false
		}
	}

	if a.temperature {
		if temp, ret := device.GetTemperature(nvml.TEMPERATURE_GPU); ret == nvml.SUCCESS {
			out.AppendFloat(fmt.Sprintf("gpu.%d.temp", di), float64(temp))
			if inUse {
				out.AppendFloat(fmt.Sprintf("gpu.process.%d.temp", di), float64(temp))
			}
		} else {
			a.temperature = false
		}
	}

	if a.powerUsage {
		if power, ret := device.GetPowerUsage(); ret == nvml.SUCCESS {
			watts := float64(power) / 1000.0
			out.AppendFloat(fmt.Sprintf("gpu.%d.powerWatts", di), watts)
			if inUse {
				out.AppendFloat(fmt.Sprintf("gpu.process.%d.powerWatts", di), watts)
			}

			// powerPercent needs both readings; it disappears with
			// either one.
			if a.enforcedPowerLimit {
				if limit, ret := device.GetEnforcedPowerLimit(); ret == nvml.SUCCESS {
					limitWatts := float64(limit) / 1000.0
					percent := watts / limitWatts * 100.0
					out.AppendFloat(fmt.Sprintf("gpu.%d.enforcedPowerLimitWatts", di), limitWatts)
					out.AppendFloat(fmt.Sprintf("gpu.%d.powerPercent", di), percent)
					if inUse {
						out.AppendFloat(fmt.Sprintf("gpu.process.%d.enforcedPowerLimitWatts", di), limitWatts)
						out.AppendFloat(fmt.Sprintf("gpu.process.%d.powerPercent", di), percent)
					}
				} else {
					a.enforcedPowerLimit = false
				}
			}
		} else {
			a.powerUsage = false
		}
	}

	if a.smClock {
		if clock, ret := device.GetClockInfo(nvml.CLOCK_SM); ret == nvml.SUCCESS {
			out.AppendInt(fmt.Sprintf("gpu.%d.smClock", di), int64(clock))
		} else {
			a.smClock = false
		}
	}
	if a.memClock {
		if clock, ret := device.GetClockInfo(nvml.CLOCK_MEM); ret == nvml.SUCCESS {
			out.AppendInt(fmt.Sprintf("gpu.%d.memoryClock", di), int64(clock))
		} else {
			a.memClock = false
		}
	}
	if a.graphicsClock {
		if clock, ret := device.GetClockInfo(nvml.CLOCK_GRAPHICS); ret == nvml.SUCCESS {
			out.AppendInt(fmt.Sprintf("gpu.%d.graphicsClock", di), int64(clock))
		} else {
			a.graphicsClock = false
		}
	}

	// Volatile ECC counters reset with the driver; the aggregate
	// counters stay non-zero after row remapping repairs and would
	// read as a live problem.
	if a.correctedMemoryErrors {
		if errs, ret := device.GetMemoryErrorCounter(nvml.MEMORY_ERROR_TYPE_CORRECTED,
			nvml.VOLATILE_ECC, nvml.MEMORY_LOCATION_DEVICE_MEMORY); ret == nvml.SUCCESS {
			out.AppendInt(fmt.Sprintf("gpu.%d.correctedMemoryErrors", di), int64(errs))
		} else {
			a.correctedMemoryErrors = false
		}
	}
	if a.uncorrectedMemoryErrors {
		if errs, ret := device.GetMemoryErrorCounter(nvml.MEMORY_ERROR_TYPE_UNCORRECTED,
			nvml.VOLATILE_ECC, nvml.MEMORY_LOCATION_DEVICE_MEMORY); ret == nvml.SUCCESS {
			out.AppendInt(fmt.Sprintf("gpu.%d.uncorrectedMemoryErrors", di), int64(errs))
		} else {
			a.uncorrectedMemoryErrors = false
		}
	}

	if a.fanSpeed {
		if speed, ret := device.GetFanSpeed(); ret == nvml.SUCCESS {
			out.AppendInt(fmt.Sprintf("gpu.%d.fanSpeed", di), int64(speed))
		} else {
			a.fanSpeed = false
		}
	}

	if a.encoderUtilization {
		if util, _, ret := device.GetEncoderUtilization(); ret == nvml.SUCCESS {
			out.AppendFloat(fmt.Sprintf("gpu.%d.encoderUtilization", di), float64(util))
		} else {
			a.encoderUtilization = false
		}
	}

	if a.linkGen {
		if gen, ret := device.GetCurrPcieLinkGeneration(); ret == nvml.SUCCESS {
			out.AppendInt(fmt.Sprintf("gpu.%d.pcieLinkGen", di), int64(gen))
		} else {
			a.linkGen = false
		}
	}
	if a.linkSpeed {
		if speed, ret := device.GetPcieSpeed(); ret == nvml.SUCCESS {
			out.AppendInt(fmt.Sprintf("gpu.%d.pcieLinkSpeed", di), int64(speed)*1_000_000)
		} else {
			a.linkSpeed = false
		}
	}
	if a.linkWidth {
		if width, ret := device.GetCurrPcieLinkWidth(); ret == nvml.SUCCESS {
			out.AppendInt(fmt.Sprintf("gpu.%d.pcieLinkWidth", di), int64(width))
		} else {
			a.linkWidth = false
		}
	}
	if a.maxLinkGen {
		if gen, ret := device.GetMaxPcieLinkGeneration(); ret == nvml.SUCCESS {
			out.AppendInt(fmt.Sprintf("gpu.%d.maxPcieLinkGen", di), int64(gen))
		} else {
			a.maxLinkGen = false
		}
	}
	if a.maxLinkWidth {
		if width, ret := device.GetMaxPcieLinkWidth(); ret == nvml.SUCCESS {
			out.AppendInt(fmt.Sprintf("gpu.%d.maxPcieLinkWidth", di), int64(width))
		} else {
			a.maxLinkWidth = false
		}
	}
}

// gpuInUse reports whether the monitored process or any of its
// descendants has a compute or graphics context on device.
func (s *Sampler) gpuInUse(device nvml.Device) bool {
	pids := descendantPIDs(s.procRoot, s.pid)
	if len(pids) == 0 {
		return false
	}

	devicePids := make(map[uint32]struct{})
	if procs, ret := device.GetComputeRunningProcesses(); ret == nvml.SUCCESS {
		for _, p := range procs {
			devicePids[p.Pid] = struct{}{}
		}
	}
	if procs, ret := device.GetGraphicsRunningProcesses(); ret == nvml.SUCCESS {
		for _, p := range procs {
			devicePids[p.Pid] = struct{}{}
		}
	}

	for _, p := range pids {
		if _, ok := devicePids[uint32(p)]; ok {
			return true
		}
	}
	return false
}

// Close shuts the NVML session down. The sampler is unusable after.
func (s *Sampler) Close() error {
	if ret := s.nvml.Shutdown(); ret != nvml.SUCCESS {
		return fmt.Errorf("nvidiagpu: NVML shutdown: %s", nvml.ErrorString(ret))
	}
	return nil
}
