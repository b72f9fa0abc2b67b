package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents runtime configuration sourced from environment variables.
type Config struct {
	SampleInterval    time.Duration
	LogLevel          slog.Level
	MonitorPID        int
	ParentPID         int
	GPUDeviceIDs      []int
	AppleSampleWindow time.Duration
	NVMLLib           string
	ProcRoot          string
	DCGM              DCGMConfig
}

// DCGMConfig contains settings for the DCGM profiling client.
type DCGMConfig struct {
	Enable bool
	Addr   string
	Lib    string
}

// Load parses configuration from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		SampleInterval:    2 * time.Second,
		LogLevel:          slog.LevelInfo,
		AppleSampleWindow: 500 * time.Millisecond,
		ProcRoot:          "/proc",
		DCGM: DCGMConfig{
			Enable: false,
			Addr:   "localhost:5555",
			Lib:    "libdcgm.so.4",
		},
	}

	if value := strings.TrimSpace(os.Getenv("APP_SAMPLE_INTERVAL")); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_SAMPLE_INTERVAL: %w", err)
		}
		if duration <= 0 {
			return Config{}, fmt.Errorf("APP_SAMPLE_INTERVAL must be > 0")
		}
		cfg.SampleInterval = duration
	}

	if value := strings.TrimSpace(os.Getenv("APP_LOG_LEVEL")); value != "" {
		level, err := parseLogLevel(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = level
	}

	if value := strings.TrimSpace(os.Getenv("APP_MONITOR_PID")); value != "" {
		pid, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_MONITOR_PID: %w", err)
		}
		if pid < 0 {
			return Config{}, fmt.Errorf("APP_MONITOR_PID must be >= 0")
		}
		cfg.MonitorPID = pid
	}

	if value := strings.TrimSpace(os.Getenv("APP_PARENT_PID")); value != "" {
		pid, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_PARENT_PID: %w", err)
		}
		if pid < 0 {
			return Config{}, fmt.Errorf("APP_PARENT_PID must be >= 0")
		}
		cfg.ParentPID = pid
	}

	if value := strings.TrimSpace(os.Getenv("APP_GPU_DEVICE_IDS")); value != "" {
		ids, err := parseDeviceIDs(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_GPU_DEVICE_IDS: %w", err)
		}
		cfg.GPUDeviceIDs = ids
	}

	if value := strings.TrimSpace(os.Getenv("APP_APPLE_SAMPLE_WINDOW")); value != "" {
		window, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_APPLE_SAMPLE_WINDOW: %w", err)
		}
		if window <= 0 {
			return Config{}, fmt.Errorf("APP_APPLE_SAMPLE_WINDOW must be > 0")
		}
		cfg.AppleSampleWindow = window
	}

	if value := strings.TrimSpace(os.Getenv("APP_NVML_LIB")); value != "" {
		cfg.NVMLLib = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_PROC_ROOT")); value != "" {
		cfg.ProcRoot = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_DCGM_ENABLE")); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_DCGM_ENABLE: %w", err)
		}
		cfg.DCGM.Enable = enabled
	}

	if value := strings.TrimSpace(os.Getenv("APP_DCGM_ADDR")); value != "" {
		cfg.DCGM.Addr = value
	}

	if value := strings.TrimSpace(os.Getenv("APP_DCGM_LIB")); value != "" {
		cfg.DCGM.Lib = value
	}

	return cfg, nil
}

func parseDeviceIDs(value string) ([]int, error) {
	raw := strings.Split(value, ",")
	ids := make([]int, 0, len(raw))
	for _, item := range raw {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		id, err := strconv.Atoi(trimmed)
		if err != nil {
			return nil, fmt.Errorf("device id %q: %w", trimmed, err)
		}
		if id < 0 {
			return nil, fmt.Errorf("device id %d must be >= 0", id)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no device ids")
	}
	return ids, nil
}

func parseLogLevel(input string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", input)
	}
}
