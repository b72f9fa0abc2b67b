package applegpu

import (
	"math"
	"testing"
)

func TestClusterFreq(t *testing.T) {
	t.Parallel()

	freqs := []uint32{600, 1200, 2400}

	t.Run("all time in top state", func(t *testing.T) {
		t.Parallel()

		residencies := []stateResidency{
			{Name: "IDLE", Value: 0},
			{Name: "P0", Value: 0},
			{Name: "P1", Value: 0},
			{Name: "P2", Value: 1000},
		}
		got, err := clusterFreq(residencies, freqs)
		if err != nil {
			t.Fatalf("clusterFreq: %v", err)
		}
		if got.FreqMHz != 2400 {
			t.Errorf("FreqMHz = %d, want 2400", got.FreqMHz)
		}
		if got.FromMax != 1.0 {
			t.Errorf("FromMax = %v, want 1.0", got.FromMax)
		}
	})

	t.Run("fully idle", func(t *testing.T) {
		t.Parallel()

		residencies := []stateResidency{
			{Name: "IDLE", Value: 1000},
			{Name: "P0", Value: 0},
			{Name: "P1", Value: 0},
			{Name: "P2", Value: 0},
		}
		got, err := clusterFreq(residencies, freqs)
		if err != nil {
			t.Fatalf("clusterFreq: %v", err)
		}
		if got.FreqMHz != 0 {
			t.Errorf("FreqMHz = %d, want 0", got.FreqMHz)
		}
		if got.FromMax != 0 {
			t.Errorf("FromMax = %v, want 0", got.FromMax)
		}
	})

	t.Run("half idle half top", func(t *testing.T) {
		t.Parallel()

		residencies := []stateResidency{
			{Name: "IDLE", Value: 500},
			{Name: "P0", Value: 0},
			{Name: "P1", Value: 0},
			{Name: "P2", Value: 500},
		}
		got, err := clusterFreq(residencies, freqs)
		if err != nil {
			t.Fatalf("clusterFreq: %v", err)
		}
		if got.FreqMHz != 2400 {
			t.Errorf("FreqMHz = %d, want 2400", got.FreqMHz)
		}
		if math.Abs(got.FromMax-0.5) > 1e-9 {
			t.Errorf("FromMax = %v, want 0.5", got.FromMax)
		}
	})

	t.Run("residency list too short", func(t *testing.T) {
		t.Parallel()

		residencies := []stateResidency{
			{Name: "IDLE", Value: 100},
			{Name: "P0", Value: 100},
		}
		if _, err := clusterFreq(residencies, freqs); err == nil {
			t.Error("clusterFreq error = nil, want error")
		}
	})

	t.Run("empty frequency table", func(t *testing.T) {
		t.Parallel()

		if _, err := clusterFreq([]stateResidency{{Name: "IDLE"}}, nil); err == nil {
			t.Error("clusterFreq error = nil, want error")
		}
	})
}

func TestAverageUsage(t *testing.T) {
	t.Parallel()

	freqs := []uint32{600, 2400}

	got := averageUsage([]clusterUsage{
		{FreqMHz: 1000, FromMax: 0.2},
		{FreqMHz: 2000, FromMax: 0.6},
	}, freqs)
	if got.FreqMHz != 1500 {
		t.Errorf("FreqMHz = %d, want 1500", got.FreqMHz)
	}
	if math.Abs(got.FromMax-0.4) > 1e-9 {
		t.Errorf("FromMax = %v, want 0.4", got.FromMax)
	}

	// no per-core data clamps to the table minimum
	got = averageUsage(nil, freqs)
	if got.FreqMHz != 600 {
		t.Errorf("FreqMHz = %d, want 600", got.FreqMHz)
	}
	if got.FromMax != 0 {
		t.Errorf("FromMax = %v, want 0", got.FromMax)
	}
}
