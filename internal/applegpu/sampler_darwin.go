//go:build darwin

package applegpu

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/statlab/gpustats/internal/metrics"
)

// Sampler reads power, frequency and temperature telemetry from the
// IOReport, SMC and HID sources. Not safe for concurrent use; Sample
// blocks for the configured window.
type Sampler struct {
	logger *slog.Logger
	window time.Duration

	soc SocInfo
	ior *reportSubscription
	hid *hidSensors
	smc *smcClient

	// SMC float32 temperature keys found at startup. Empty on machines
	// whose SMC predates them; temperatures then come from HID.
	cpuTempKeys []string
	gpuTempKeys []string
}

// New builds a sampler. window is the delta window each Sample call
// blocks for.
func New(logger *slog.Logger, window time.Duration) (*Sampler, error) {
	logger = logger.With("component", "applegpu")

	soc, err := loadSocInfo()
	if err != nil {
		return nil, fmt.Errorf("reading SoC inventory: %w", err)
	}

	ior, err := newReportSubscription([]channelFilter{
		{Group: "Energy Model"},
		{Group: "CPU Stats", Subgroup: cpuCoreSubgroup},
		{Group: "GPU Stats", Subgroup: gpuDiceSubgroup},
	})
	if err != nil {
		return nil, err
	}

	hid, err := newHIDSensors()
	if err != nil {
		ior.release()
		return nil, err
	}

	endpoint, err := openSMC()
	if err != nil {
		ior.release()
		hid.release()
		return nil, err
	}
	smc := newSMCClient(endpoint)

	cpuKeys, gpuKeys, skipped, err := temperatureKeys(smc)
	if err != nil {
		// No key table readable: fall back to HID sensors.
		logger.Warn("SMC key enumeration failed", "error", err)
	}
	if skipped > 0 {
		logger.Debug("skipped unreadable SMC keys", "count", skipped)
	}
	logger.Debug("sampler ready",
		"chip", soc.ChipName,
		"smc_cpu_keys", len(cpuKeys),
		"smc_gpu_keys", len(gpuKeys))

	return &Sampler{
		logger:      logger,
		window:      window,
		soc:         soc,
		ior:         ior,
		hid:         hid,
		smc:         smc,
		cpuTempKeys: cpuKeys,
		gpuTempKeys: gpuKeys,
	}, nil
}

// Soc returns the static inventory collected at construction.
func (s *Sampler) Soc() SocInfo {
	return s.soc
}

// Sample blocks for the delta window and returns one merged snapshot.
func (s *Sampler) Sample(ctx context.Context) (*metrics.Sample, error) {
	rep, err := s.ior.sample(ctx, s.window)
	if err != nil {
		return nil, err
	}
	defer rep.release()

	var (
		ecpu, pcpu                   []clusterUsage
		gpu                          clusterUsage
		cpuPower, gpuPower, anePower float64
	)
	for {
		item, ok := rep.next()
		if !ok {
			break
		}
		switch {
		case item.Group == "CPU Stats" && item.Subgroup == cpuCoreSubgroup:
			if strings.Contains(item.Channel, "ECPU") {
				u, err := clusterFreq(item.residencies(), s.soc.ECPUFreqs)
				if err != nil {
					return nil, err
				}
				ecpu = append(ecpu, u)
			} else if strings.Contains(item.Channel, "PCPU") {
				u, err := clusterFreq(item.residencies(), s.soc.PCPUFreqs)
				if err != nil {
					return nil, err
				}
				pcpu = append(pcpu, u)
			}

		case item.Group == "GPU Stats" && item.Subgroup == gpuDiceSubgroup:
			// the first table entry is the OFF state
			if item.Channel == "GPUPH" && len(s.soc.GPUFreqs) > 1 {
				u, err := clusterFreq(item.residencies(), s.soc.GPUFreqs[1:])
				if err != nil {
					return nil, err
				}
				gpu = u
			}

		case item.Group == "Energy Model":
			var dst *float64
			switch {
			case item.Channel == "CPU Energy":
				dst = &cpuPower
			case item.Channel == "GPU Energy":
				dst = &gpuPower
			case strings.HasPrefix(item.Channel, "ANE"):
				dst = &anePower
			default:
				continue
			}
			w, err := energyWatts(item.simpleValue(), item.Unit, s.window)
			if err != nil {
				return nil, err
			}
			*dst += w
		}
	}

	ecpuUsage := averageUsage(ecpu, s.soc.ECPUFreqs)
	pcpuUsage := averageUsage(pcpu, s.soc.PCPUFreqs)
	allPower := cpuPower + gpuPower + anePower

	cpuTemp, gpuTemp, err := s.temperatures()
	if err != nil {
		return nil, err
	}

	out := metrics.NewSample()
	out.AppendString("_apple.chip_name", s.soc.ChipName)
	out.AppendInt("_apple.ecpu_cores", int64(s.soc.ECPUCores))
	out.AppendInt("_apple.pcpu_cores", int64(s.soc.PCPUCores))
	out.AppendInt("_apple.gpu_cores", int64(s.soc.GPUCores))
	out.AppendInt("_apple.memory_gb", int64(s.soc.MemoryGB))

	out.AppendFloat("cpu.avg_temp", cpuTemp)
	out.AppendFloat("gpu.0.temp", gpuTemp)

	if ecpuUsage.FreqMHz > 0 {
		out.AppendFloat("cpu.ecpu_freq", float64(ecpuUsage.FreqMHz))
	}
	out.AppendFloat("cpu.ecpu_percent", ecpuUsage.FromMax*100)
	if pcpuUsage.FreqMHz > 0 {
		out.AppendFloat("cpu.pcpu_freq", float64(pcpuUsage.FreqMHz))
	}
	out.AppendFloat("cpu.pcpu_percent", pcpuUsage.FromMax*100)

	if gpu.FreqMHz > 0 {
		out.AppendFloat("gpu.0.freq", float64(gpu.FreqMHz))
	}
	out.AppendFloat("gpu.0.gpu", gpu.FromMax*100)

	out.AppendFloat("cpu.powerWatts", cpuPower)
	out.AppendFloat("gpu.0.powerWatts", gpuPower)
	out.AppendFloat("ane.power", anePower)
	out.AppendFloat("system.powerWatts", s.systemPower(allPower))

	return out, nil
}

// temperatures averages the CPU and GPU sensors, preferring SMC keys
// when the scan found any.
func (s *Sampler) temperatures() (cpu, gpu float64, err error) {
	if len(s.cpuTempKeys) > 0 {
		cpu, err = s.smcAverage(s.cpuTempKeys)
		if err != nil {
			return 0, 0, err
		}
		gpu, err = s.smcAverage(s.gpuTempKeys)
		if err != nil {
			return 0, 0, err
		}
		return cpu, gpu, nil
	}

	var cpuSum, gpuSum float64
	var cpuN, gpuN int
	for _, r := range s.hid.temperatures() {
		switch {
		case strings.HasPrefix(r.Name, "pACC MTR Temp Sensor"),
			strings.HasPrefix(r.Name, "eACC MTR Temp Sensor"):
			cpuSum += r.Value
			cpuN++
		case strings.HasPrefix(r.Name, "GPU MTR Temp Sensor"):
			gpuSum += r.Value
			gpuN++
		}
	}
	return zeroDiv(cpuSum, float64(cpuN)), zeroDiv(gpuSum, float64(gpuN)), nil
}

func (s *Sampler) smcAverage(keys []string) (float64, error) {
	var sum float64
	for _, key := range keys {
		val, err := s.smc.readValue(key)
		if err != nil {
			return 0, err
		}
		f, err := val.float32()
		if err != nil {
			return 0, err
		}
		sum += float64(f)
	}
	return zeroDiv(sum, float64(len(keys))), nil
}

// systemPower reads the SMC total system power, floored at the sum of
// the rail powers. Unreadable on some machines; zero then.
func (s *Sampler) systemPower(allPower float64) float64 {
	val, err := s.smc.readValue("PSTR")
	if err != nil {
		return 0
	}
	f, err := val.float32()
	if err != nil {
		return 0
	}
	return max(float64(f), allPower)
}

// Close releases every native handle. The sampler is unusable after.
func (s *Sampler) Close() error {
	s.ior.release()
	s.hid.release()
	return s.smc.close()
}
