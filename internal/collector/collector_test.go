package collector

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/statlab/gpustats/internal/metrics"
)

type fakeSource struct {
	name string
	fill func(sample *metrics.Sample)

	sampleErr error
	closeErr  error

	sampleCalls int
	closeCalls  int
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Sample(context.Context) (*metrics.Sample, error) {
	f.sampleCalls++
	if f.sampleErr != nil {
		return nil, f.sampleErr
	}
	sample := metrics.NewSample()
	if f.fill != nil {
		f.fill(sample)
	}
	return sample, nil
}

func (f *fakeSource) Close() error {
	f.closeCalls++
	return f.closeErr
}

func TestCollectorMergesInSourceOrder(t *testing.T) {
	t.Parallel()

	first := &fakeSource{
		name: "apple",
		fill: func(sample *metrics.Sample) {
			sample.AppendFloat("cpu.avg_temp", 48.5)
			sample.AppendFloat("shared", 1)
		},
	}
	second := &fakeSource{
		name: "nvidia",
		fill: func(sample *metrics.Sample) {
			sample.AppendFloat("gpu.0.gpu", 80)
			sample.AppendFloat("shared", 2)
		},
	}

	c := New(slog.New(slog.DiscardHandler), first, second)
	sample := c.Sample(context.Background())

	fields := sample.Fields()
	wantOrder := []string{"cpu.avg_temp", "shared", "gpu.0.gpu"}
	if len(fields) != len(wantOrder) {
		t.Fatalf("merged sample has %d fields, want %d", len(fields), len(wantOrder))
	}
	for i, name := range wantOrder {
		if fields[i].Name != name {
			t.Errorf("field %d = %q, want %q", i, fields[i].Name, name)
		}
	}
	// Later sources overwrite on name collisions.
	if got, _ := sample.Get("shared"); got.Float() != 2 {
		t.Errorf("shared = %v, want 2", got.Any())
	}
}

func TestCollectorSkipsFailingSource(t *testing.T) {
	t.Parallel()

	broken := &fakeSource{name: "apple", sampleErr: errors.New("smc read failed")}
	healthy := &fakeSource{
		name: "nvidia",
		fill: func(sample *metrics.Sample) {
			sample.AppendInt("_gpu.count", 1)
		},
	}

	c := New(slog.New(slog.DiscardHandler), broken, healthy)
	sample := c.Sample(context.Background())

	if _, ok := sample.Get("_gpu.count"); !ok {
		t.Error("healthy source output missing from merged sample")
	}
	if sample.Len() != 1 {
		t.Errorf("merged sample has %d fields, want 1", sample.Len())
	}
	if healthy.sampleCalls != 1 {
		t.Errorf("healthy source sampled %d times, want 1", healthy.sampleCalls)
	}
}

func TestCollectorWithoutSources(t *testing.T) {
	t.Parallel()

	c := New(slog.New(slog.DiscardHandler))
	if sample := c.Sample(context.Background()); sample.Len() != 0 {
		t.Errorf("empty collector produced %d fields", sample.Len())
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestCollectorCloseClosesEachSourceOnce(t *testing.T) {
	t.Parallel()

	first := &fakeSource{name: "apple", closeErr: errors.New("smc close failed")}
	second := &fakeSource{name: "nvidia"}

	c := New(slog.New(slog.DiscardHandler), first, second)
	err := c.Close()
	if err == nil {
		t.Fatal("Close succeeded, want error from first source")
	}
	if again := c.Close(); again != err {
		t.Errorf("second Close = %v, want same error", again)
	}
	if first.closeCalls != 1 || second.closeCalls != 1 {
		t.Errorf("close calls = %d/%d, want 1/1", first.closeCalls, second.closeCalls)
	}
}

func TestCollectorSourceNames(t *testing.T) {
	t.Parallel()

	c := New(slog.New(slog.DiscardHandler),
		&fakeSource{name: "apple"},
		&fakeSource{name: "dcgm"},
	)
	names := c.SourceNames()
	if len(names) != 2 || names[0] != "apple" || names[1] != "dcgm" {
		t.Errorf("SourceNames = %v", names)
	}
}
