package config

import (
	"log/slog"
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.SampleInterval != 2*time.Second {
		t.Fatalf("unexpected SampleInterval %s", cfg.SampleInterval)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("unexpected LogLevel %v", cfg.LogLevel)
	}
	if cfg.MonitorPID != 0 {
		t.Fatalf("unexpected MonitorPID %d", cfg.MonitorPID)
	}
	if cfg.ParentPID != 0 {
		t.Fatalf("unexpected ParentPID %d", cfg.ParentPID)
	}
	if cfg.GPUDeviceIDs != nil {
		t.Fatalf("unexpected GPUDeviceIDs %v", cfg.GPUDeviceIDs)
	}
	if cfg.AppleSampleWindow != 500*time.Millisecond {
		t.Fatalf("unexpected AppleSampleWindow %s", cfg.AppleSampleWindow)
	}
	if cfg.ProcRoot != "/proc" {
		t.Fatalf("unexpected ProcRoot %q", cfg.ProcRoot)
	}
	if cfg.DCGM.Enable {
		t.Fatalf("expected DCGM disabled by default")
	}
	if cfg.DCGM.Addr != "localhost:5555" {
		t.Fatalf("unexpected DCGM.Addr %q", cfg.DCGM.Addr)
	}
	if cfg.DCGM.Lib != "libdcgm.so.4" {
		t.Fatalf("unexpected DCGM.Lib %q", cfg.DCGM.Lib)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("APP_SAMPLE_INTERVAL", "500ms")
	t.Setenv("APP_LOG_LEVEL", "debug")
	t.Setenv("APP_MONITOR_PID", "4321")
	t.Setenv("APP_PARENT_PID", "4320")
	t.Setenv("APP_GPU_DEVICE_IDS", "0, 2,3")
	t.Setenv("APP_APPLE_SAMPLE_WINDOW", "250ms")
	t.Setenv("APP_NVML_LIB", "/opt/nvidia/libnvidia-ml.so.1")
	t.Setenv("APP_PROC_ROOT", "/tmp/proc")
	t.Setenv("APP_DCGM_ENABLE", "true")
	t.Setenv("APP_DCGM_ADDR", "dcgm-host:6666")
	t.Setenv("APP_DCGM_LIB", "/opt/dcgm/libdcgm.so.4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.SampleInterval != 500*time.Millisecond {
		t.Fatalf("SampleInterval override failed, got %s", cfg.SampleInterval)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel override failed, got %v", cfg.LogLevel)
	}
	if cfg.MonitorPID != 4321 {
		t.Fatalf("MonitorPID override failed, got %d", cfg.MonitorPID)
	}
	if cfg.ParentPID != 4320 {
		t.Fatalf("ParentPID override failed, got %d", cfg.ParentPID)
	}
	if !reflect.DeepEqual(cfg.GPUDeviceIDs, []int{0, 2, 3}) {
		t.Fatalf("GPUDeviceIDs mismatch: %v", cfg.GPUDeviceIDs)
	}
	if cfg.AppleSampleWindow != 250*time.Millisecond {
		t.Fatalf("AppleSampleWindow override failed, got %s", cfg.AppleSampleWindow)
	}
	if cfg.NVMLLib != "/opt/nvidia/libnvidia-ml.so.1" {
		t.Fatalf("NVMLLib override failed, got %q", cfg.NVMLLib)
	}
	if cfg.ProcRoot != "/tmp/proc" {
		t.Fatalf("ProcRoot override failed, got %q", cfg.ProcRoot)
	}
	if !cfg.DCGM.Enable {
		t.Fatalf("DCGM.Enable override failed")
	}
	if cfg.DCGM.Addr != "dcgm-host:6666" {
		t.Fatalf("DCGM.Addr override failed, got %q", cfg.DCGM.Addr)
	}
	if cfg.DCGM.Lib != "/opt/dcgm/libdcgm.so.4" {
		t.Fatalf("DCGM.Lib override failed, got %q", cfg.DCGM.Lib)
	}
}

func TestLoadInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad interval", "APP_SAMPLE_INTERVAL", "soon"},
		{"zero interval", "APP_SAMPLE_INTERVAL", "0s"},
		{"bad log level", "APP_LOG_LEVEL", "shout"},
		{"bad pid", "APP_MONITOR_PID", "not-a-pid"},
		{"negative pid", "APP_MONITOR_PID", "-1"},
		{"bad parent pid", "APP_PARENT_PID", "-7"},
		{"bad device ids", "APP_GPU_DEVICE_IDS", "0,x"},
		{"empty device ids", "APP_GPU_DEVICE_IDS", " , "},
		{"negative device id", "APP_GPU_DEVICE_IDS", "-2"},
		{"bad window", "APP_APPLE_SAMPLE_WINDOW", "-1s"},
		{"bad dcgm enable", "APP_DCGM_ENABLE", "maybe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load accepted %s=%q", tt.key, tt.value)
			}
		})
	}
}
