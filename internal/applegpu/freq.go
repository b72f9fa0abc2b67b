package applegpu

import "fmt"

// stateResidency is one performance-state entry of an IOReport channel:
// the state's name and the time spent in it during the sample window.
type stateResidency struct {
	Name  string
	Value int64
}

// clusterUsage is the decoded utilisation of one CPU cluster or the GPU:
// the residency-weighted average frequency and the share of the maximum
// frequency actually used.
type clusterUsage struct {
	FreqMHz uint32
	FromMax float64
}

func zeroDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// clusterFreq folds a channel's state residencies against the DVFS
// frequency table. The residency list leads with one extra state (IDLE
// for CPU clusters, OFF for the GPU) that carries no frequency.
func clusterFreq(residencies []stateResidency, freqs []uint32) (clusterUsage, error) {
	if len(freqs) == 0 || len(residencies) <= len(freqs) {
		return clusterUsage{}, fmt.Errorf("applegpu: residency/frequency mismatch: %d vs %d", len(residencies), len(freqs))
	}

	var active, total float64
	for i, r := range residencies {
		total += float64(r.Value)
		if i > 0 {
			active += float64(r.Value)
		}
	}

	var freq float64
	for i, f := range freqs {
		freq += zeroDiv(float64(residencies[i+1].Value), active) * float64(f)
	}

	minFreq := float64(freqs[0])
	maxFreq := float64(freqs[len(freqs)-1])
	fromMax := (max(freq, minFreq) * zeroDiv(active, total)) / maxFreq

	return clusterUsage{FreqMHz: uint32(freq), FromMax: fromMax}, nil
}

// averageUsage averages per-core cluster usages into one figure,
// clamping the frequency to the table's minimum.
func averageUsage(items []clusterUsage, freqs []uint32) clusterUsage {
	var freq, percent float64
	for _, it := range items {
		freq += float64(it.FreqMHz)
		percent += it.FromMax
	}
	n := float64(len(items))
	freq = zeroDiv(freq, n)
	percent = zeroDiv(percent, n)

	if len(freqs) > 0 {
		freq = max(freq, float64(freqs[0]))
	}
	return clusterUsage{FreqMHz: uint32(freq), FromMax: percent}
}
