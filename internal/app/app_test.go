package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/statlab/gpustats/internal/collector"
	"github.com/statlab/gpustats/internal/config"
	"github.com/statlab/gpustats/internal/metrics"
)

type staticSource struct {
	name string
	fill func(sample *metrics.Sample)
}

func (s *staticSource) Name() string { return s.name }

func (s *staticSource) Sample(context.Context) (*metrics.Sample, error) {
	sample := metrics.NewSample()
	if s.fill != nil {
		s.fill(sample)
	}
	return sample, nil
}

func (s *staticSource) Close() error { return nil }

func TestRunEmitsTimestampedJSONLines(t *testing.T) {
	coll := collector.New(slog.New(slog.DiscardHandler), &staticSource{
		name: "fake",
		fill: func(sample *metrics.Sample) {
			sample.AppendFloat("gpu.0.gpu", 55)
		},
	})

	cfg := config.Config{SampleInterval: 10 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()

	var out bytes.Buffer
	if err := run(ctx, slog.New(slog.DiscardHandler), cfg, coll, &out); err != nil {
		t.Fatalf("run: %v", err)
	}

	scanner := bufio.NewScanner(&out)
	lines := 0
	for scanner.Scan() {
		lines++
		var decoded map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", lines, err)
		}
		if _, ok := decoded["gpu.0.gpu"]; !ok {
			t.Errorf("line %d is missing gpu.0.gpu", lines)
		}
		ts, ok := decoded[timestampField].(float64)
		if !ok || ts <= 0 {
			t.Errorf("line %d has bad timestamp %v", lines, decoded[timestampField])
		}
	}
	if lines < 2 {
		t.Errorf("got %d output lines, want at least 2", lines)
	}
}

func TestRunExitsWhenParentChanges(t *testing.T) {
	origGetppid := getppid
	getppid = func() int { return 1 }
	defer func() { getppid = origGetppid }()

	coll := collector.New(slog.New(slog.DiscardHandler))
	cfg := config.Config{SampleInterval: 5 * time.Millisecond, ParentPID: 4321}

	done := make(chan error, 1)
	go func() {
		done <- run(context.Background(), slog.New(slog.DiscardHandler), cfg, coll, &bytes.Buffer{})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("run did not exit after parent pid mismatch")
	}
}
