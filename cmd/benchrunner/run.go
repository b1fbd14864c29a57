package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/seantiz/benchrunner/internal/config"
	"github.com/seantiz/benchrunner/internal/engine"
	"github.com/seantiz/benchrunner/internal/loadgen"
	"github.com/seantiz/benchrunner/internal/model"
)

func newRunCmd(cfg config.Config, logger *slog.Logger) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one benchmark in the foreground and print its summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			report, err := runBenchmark(ctx, cfg, logger)
			if err != nil {
				return err
			}
			if asJSON {
				return writeReportJSON(cmd.OutOrStdout(), report)
			}
			writeReport(cmd.OutOrStdout(), report)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.Scenario, "scenario", cfg.Scenario, "SingleStream, MultiStream, Server or Offline")
	f.StringVar(&cfg.Workload, "workload", cfg.Workload, "workload name")
	f.StringVarP(&cfg.Device, "device", "d", cfg.Device, "registered device")
	f.StringVar(&cfg.Mode, "mode", cfg.Mode, "performance or accuracy")
	f.IntVarP(&cfg.BatchSize, "batch-size", "b", cfg.BatchSize, "samples per inference")
	f.IntVar(&cfg.Nireq, "nireq", cfg.Nireq, "inference slots; 0 uses the device's optimal count")
	f.IntVar(&cfg.WarmupIters, "warmup", cfg.WarmupIters, "warm-up iterations")
	f.IntVar(&cfg.TotalSamples, "total-samples", cfg.TotalSamples, "dataset size")
	f.IntVar(&cfg.PerfSamples, "perf-samples", cfg.PerfSamples, "samples loadable at once")
	f.Uint64Var(&cfg.Seed, "seed", cfg.Seed, "sample selection and generation seed")
	f.StringVar(&cfg.SettingsFile, "settings", cfg.SettingsFile, "YAML load generator settings")
	f.BoolVar(&asJSON, "json", false, "print the summary as JSON")

	return cmd
}

func runBenchmark(ctx context.Context, cfg config.Config, logger *slog.Logger) (engine.Report, error) {
	scenario, err := model.ParseScenario(cfg.Scenario)
	if err != nil {
		return engine.Report{}, err
	}

	settings := loadgen.DefaultSettings(scenario)
	if cfg.SettingsFile != "" {
		if settings, err = loadgen.LoadSettings(cfg.SettingsFile, scenario); err != nil {
			return engine.Report{}, err
		}
	}
	settings.Mode = loadgen.Mode(cfg.Mode)
	settings.WarmupIterations = cfg.WarmupIters
	if cfg.Seed != 0 {
		settings.Seed = cfg.Seed
	}

	reg, err := newRegistry(cfg, logger)
	if err != nil {
		return engine.Report{}, err
	}

	plan := engine.Plan{
		Scenario:     scenario,
		Workload:     cfg.Workload,
		Backend:      cfg.Device,
		BatchSize:    cfg.BatchSize,
		Slots:        cfg.Nireq,
		TotalSamples: cfg.TotalSamples,
		PerfSamples:  cfg.PerfSamples,
		Seed:         cfg.Seed,
		Settings:     settings,
	}
	return engine.Benchmark(ctx, reg, plan, logger, func(line string) {
		logger.Info(line)
	})
}

func writeReport(w io.Writer, r engine.Report) {
	s := r.Summary
	fmt.Fprintf(w, "device:      %s (%s)\n", r.Device.Name, r.Device.Device)
	fmt.Fprintf(w, "scenario:    %s %s\n", s.Scenario, s.Mode)
	fmt.Fprintf(w, "slots:       %d\n", r.Slots)
	fmt.Fprintf(w, "queries:     %d\n", s.Queries)
	fmt.Fprintf(w, "samples:     %d\n", s.Samples)
	fmt.Fprintf(w, "duration:    %s\n", s.Duration)
	fmt.Fprintf(w, "throughput:  %.2f samples/s\n", s.QPS)
	fmt.Fprintf(w, "latency:     mean %s p50 %s p90 %s p99 %s max %s\n",
		s.LatencyMean, s.LatencyP50, s.LatencyP90, s.LatencyP99, s.LatencyMax)
	if s.Mode == loadgen.ModeAccuracy {
		fmt.Fprintf(w, "results:     %d samples\n", len(s.Results))
	}
}

func writeReportJSON(w io.Writer, r engine.Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Device  string          `json:"device"`
		Slots   int             `json:"slots"`
		Summary loadgen.Summary `json:"summary"`
	}{r.Device.Name, r.Slots, r.Summary})
}

