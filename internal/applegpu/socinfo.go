package applegpu

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// SocInfo is the static SoC inventory gathered once at startup.
type SocInfo struct {
	MacModel  string
	ChipName  string
	MemoryGB  int
	ECPUCores int
	PCPUCores int
	GPUCores  int
	ECPUFreqs []uint32
	PCPUFreqs []uint32
	GPUFreqs  []uint32
}

// parseSystemProfiler extracts the chip inventory from the JSON output
// of `system_profiler SPHardwareDataType SPDisplaysDataType
// SPSoftwareDataType -json`. Frequency tables come from the IO registry
// and are filled in separately.
func parseSystemProfiler(data []byte) (SocInfo, error) {
	var doc struct {
		Hardware []struct {
			ChipType         string `json:"chip_type"`
			MachineModel     string `json:"machine_model"`
			PhysicalMemory   string `json:"physical_memory"`
			NumberProcessors string `json:"number_processors"`
		} `json:"SPHardwareDataType"`
		Displays []struct {
			Cores string `json:"sppci_cores"`
		} `json:"SPDisplaysDataType"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return SocInfo{}, fmt.Errorf("parsing system_profiler output: %w", err)
	}
	if len(doc.Hardware) == 0 {
		return SocInfo{}, fmt.Errorf("system_profiler output has no hardware section")
	}
	hw := doc.Hardware[0]

	info := SocInfo{
		ChipName: hw.ChipType,
		MacModel: hw.MachineModel,
	}

	memStr, ok := strings.CutSuffix(hw.PhysicalMemory, " GB")
	if !ok {
		return SocInfo{}, fmt.Errorf("unexpected physical_memory value %q", hw.PhysicalMemory)
	}
	mem, err := strconv.Atoi(memStr)
	if err != nil {
		return SocInfo{}, fmt.Errorf("parsing physical_memory %q: %w", hw.PhysicalMemory, err)
	}
	info.MemoryGB = mem

	// "proc <total>:<performance>:<efficiency>"
	procStr, ok := strings.CutPrefix(hw.NumberProcessors, "proc ")
	if !ok {
		return SocInfo{}, fmt.Errorf("unexpected number_processors value %q", hw.NumberProcessors)
	}
	parts := strings.Split(procStr, ":")
	if len(parts) != 3 {
		return SocInfo{}, fmt.Errorf("unexpected number_processors value %q", hw.NumberProcessors)
	}
	counts := make([]int, 3)
	for i, p := range parts {
		if counts[i], err = strconv.Atoi(p); err != nil {
			return SocInfo{}, fmt.Errorf("parsing number_processors %q: %w", hw.NumberProcessors, err)
		}
	}
	info.PCPUCores = counts[1]
	info.ECPUCores = counts[2]

	if len(doc.Displays) > 0 && doc.Displays[0].Cores != "" {
		cores, err := strconv.Atoi(doc.Displays[0].Cores)
		if err != nil {
			return SocInfo{}, fmt.Errorf("parsing sppci_cores %q: %w", doc.Displays[0].Cores, err)
		}
		info.GPUCores = cores
	}

	return info, nil
}
