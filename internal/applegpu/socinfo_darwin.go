//go:build darwin

package applegpu

import (
	"errors"
	"fmt"
	"os/exec"
)

// loadSocInfo gathers the full SoC inventory: the system_profiler
// fields plus the DVFS frequency tables from the IO registry.
func loadSocInfo() (SocInfo, error) {
	out, err := exec.Command("system_profiler",
		"SPHardwareDataType", "SPDisplaysDataType", "SPSoftwareDataType", "-json").Output()
	if err != nil {
		return SocInfo{}, fmt.Errorf("running system_profiler: %w", err)
	}
	info, err := parseSystemProfiler(out)
	if err != nil {
		return SocInfo{}, err
	}
	if err := fillFrequencyTables(&info); err != nil {
		return SocInfo{}, err
	}
	if len(info.ECPUFreqs) == 0 || len(info.PCPUFreqs) == 0 {
		return SocInfo{}, errors.New("applegpu: no CPU frequency tables in IO registry")
	}
	return info, nil
}

func fillFrequencyTables(info *SocInfo) error {
	iter, err := newServiceIterator("AppleARMIODevice")
	if err != nil {
		return err
	}
	defer iter.release()

	for {
		entry, name, ok := iter.next()
		if !ok {
			return nil
		}
		if name != "pmgr" {
			continue
		}
		props, err := registryProps(entry, name)
		if err != nil {
			return err
		}
		// powermetrics lists the non-sram keys too, but their values
		// are zero on current hardware
		info.ECPUFreqs = dvfsTable(props, "voltage-states1-sram")
		info.PCPUFreqs = dvfsTable(props, "voltage-states5-sram")
		info.GPUFreqs = dvfsTable(props, "voltage-states9")
		cfRelease(props)
	}
}

func dvfsTable(props uintptr, key string) []uint32 {
	ref := cfdictGet(props, key)
	if ref == 0 {
		return nil
	}
	freqs, _ := decodeVoltageStates(cfdataBytes(ref))
	return freqs
}
