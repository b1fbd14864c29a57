// Package config loads benchrunner settings from BENCH_* environment
// variables and builds the process logger.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr   = ":8080"
	defaultDBPath       = "benchrunner.db"
	defaultScenario     = "Offline"
	defaultWorkload     = "resnet50"
	defaultDevice       = "sim"
	defaultMode         = "performance"
	defaultBatchSize    = 1
	defaultWarmupIters  = 10
	defaultTotalSamples = 5000
	defaultPerfSamples  = 256
	defaultSimStreams   = 4
	defaultSimLatency   = 2 * time.Millisecond
	defaultPrecision    = "f32"

	envListenAddr   = "BENCH_LISTEN_ADDR"
	envDBPath       = "BENCH_DB_PATH"
	envLogLevel     = "BENCH_LOG_LEVEL"
	envScenario     = "BENCH_SCENARIO"
	envWorkload     = "BENCH_WORKLOAD"
	envDevice       = "BENCH_DEVICE"
	envMode         = "BENCH_MODE"
	envBatchSize    = "BENCH_BATCH_SIZE"
	envNireq        = "BENCH_NIREQ"
	envWarmupIters  = "BENCH_WARMUP_ITERS"
	envTotalSamples = "BENCH_TOTAL_SAMPLE_COUNT"
	envPerfSamples  = "BENCH_PERF_SAMPLE_COUNT"
	envSeed         = "BENCH_SEED"
	envSimStreams   = "BENCH_SIM_STREAMS"
	envSimLatencyMS = "BENCH_SIM_LATENCY_MS"
	envPrecision    = "BENCH_INFER_PRECISION"
	envKServeURL    = "BENCH_KSERVE_URL"
	envKServeModel  = "BENCH_KSERVE_MODEL"
	envSettingsFile = "BENCH_SETTINGS_FILE"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	Scenario  string
	Workload  string
	Device    string
	Mode      string
	BatchSize int
	// Nireq is the slot count; 0 uses the device's optimal request count.
	Nireq        int
	WarmupIters  int
	TotalSamples int
	PerfSamples  int
	Seed         uint64
	SettingsFile string

	SimStreams int
	SimLatency time.Duration
	Precision  string

	// KServeURL enables the remote backend when set.
	KServeURL   string
	KServeModel string // defaults to the workload name
}

// Load reads configuration from environment variables with sensible defaults.
// Malformed numbers are reported together.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr:   defaultListenAddr,
		DBPath:       defaultDBPath,
		LogLevel:     slog.LevelInfo,
		Scenario:     defaultScenario,
		Workload:     defaultWorkload,
		Device:       defaultDevice,
		Mode:         defaultMode,
		BatchSize:    defaultBatchSize,
		WarmupIters:  defaultWarmupIters,
		TotalSamples: defaultTotalSamples,
		PerfSamples:  defaultPerfSamples,
		SimStreams:   defaultSimStreams,
		SimLatency:   defaultSimLatency,
		Precision:    defaultPrecision,
	}

	strs := []struct {
		env  string
		into *string
	}{
		{envListenAddr, &cfg.ListenAddr},
		{envDBPath, &cfg.DBPath},
		{envScenario, &cfg.Scenario},
		{envWorkload, &cfg.Workload},
		{envDevice, &cfg.Device},
		{envMode, &cfg.Mode},
		{envSettingsFile, &cfg.SettingsFile},
		{envPrecision, &cfg.Precision},
		{envKServeURL, &cfg.KServeURL},
		{envKServeModel, &cfg.KServeModel},
	}
	for _, s := range strs {
		if v := os.Getenv(s.env); v != "" {
			*s.into = v
		}
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}

	var errs []error
	ints := []struct {
		env  string
		into *int
	}{
		{envBatchSize, &cfg.BatchSize},
		{envNireq, &cfg.Nireq},
		{envWarmupIters, &cfg.WarmupIters},
		{envTotalSamples, &cfg.TotalSamples},
		{envPerfSamples, &cfg.PerfSamples},
		{envSimStreams, &cfg.SimStreams},
	}
	for _, i := range ints {
		v := os.Getenv(i.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errs = append(errs, fmt.Errorf("%s: %q is not a non-negative integer", i.env, v))
			continue
		}
		*i.into = n
	}
	if v := os.Getenv(envSeed); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %q is not an unsigned integer", envSeed, v))
		}
		cfg.Seed = n
	}
	if v := os.Getenv(envSimLatencyMS); v != "" {
		ms, err := strconv.ParseFloat(v, 64)
		if err != nil || ms < 0 {
			errs = append(errs, fmt.Errorf("%s: %q is not a non-negative number", envSimLatencyMS, v))
		} else {
			cfg.SimLatency = time.Duration(ms * float64(time.Millisecond))
		}
	}

	return cfg, errors.Join(errs...)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
