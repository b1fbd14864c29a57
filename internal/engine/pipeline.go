package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/seantiz/benchrunner/internal/backend"
	"github.com/seantiz/benchrunner/internal/dataset"
	"github.com/seantiz/benchrunner/internal/loadgen"
	"github.com/seantiz/benchrunner/internal/model"
	"github.com/seantiz/benchrunner/internal/postprocess"
	"github.com/seantiz/benchrunner/internal/scenario"
)

// progressEvery is how many queries pass between progress lines.
const progressEvery = 100

// Plan is everything needed to run one benchmark.
type Plan struct {
	Scenario     model.Scenario
	Workload     string
	Backend      string
	BatchSize    int
	Slots        int // 0 uses the device's optimal request count
	TotalSamples int
	PerfSamples  int
	Seed         uint64
	Settings     loadgen.Settings
}

// Validate checks the plan before any device resource is touched.
func (p Plan) Validate() error {
	var errs []error
	if _, err := model.ParseScenario(string(p.Scenario)); err != nil {
		errs = append(errs, err)
	} else {
		settings := p.Settings
		settings.Scenario = p.Scenario
		if err := settings.WithDefaults().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("settings: %w", err))
		}
	}
	if _, err := model.LookupWorkload(p.Workload); err != nil {
		errs = append(errs, err)
	}
	if p.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("batch size %d must be positive", p.BatchSize))
	}
	if p.Slots < 0 {
		errs = append(errs, fmt.Errorf("slots %d must not be negative", p.Slots))
	}
	if p.TotalSamples <= 0 {
		errs = append(errs, fmt.Errorf("total sample count %d must be positive", p.TotalSamples))
	}
	return errors.Join(errs...)
}

// Report is the outcome of a benchmark.
type Report struct {
	Summary loadgen.Summary
	Slots   int
	Device  backend.Capabilities
}

// Benchmark runs plan to completion on a device from reg. logf receives
// human-readable progress lines.
func Benchmark(ctx context.Context, reg *backend.Registry, plan Plan, logger *slog.Logger, logf func(string)) (Report, error) {
	if err := plan.Validate(); err != nil {
		return Report{}, err
	}
	spec, err := model.LookupWorkload(plan.Workload)
	if err != nil {
		return Report{}, err
	}
	post, err := postprocess.ForWorkload(spec.Name)
	if err != nil {
		return Report{}, err
	}

	b, err := reg.Resolve(plan.Backend)
	if err != nil {
		return Report{}, fmt.Errorf("resolve backend: %w", err)
	}
	caps := b.Capabilities()

	m, err := b.Load(ctx, spec)
	if err != nil {
		return Report{}, fmt.Errorf("load %s on %s: %w", spec.Name, caps.Name, err)
	}
	defer m.Close()

	slots := plan.Slots
	if slots == 0 {
		slots = m.OptimalRequests()
	}
	logf(fmt.Sprintf("loaded %s on %s (%s), %d slots", spec.Name, caps.Name, caps.Device, slots))

	ds, err := dataset.NewSynthetic(spec, plan.TotalSamples, plan.PerfSamples, plan.Seed, logger)
	if err != nil {
		return Report{}, fmt.Errorf("create dataset: %w", err)
	}

	settings := plan.Settings
	settings.Scenario = plan.Scenario
	tracker := loadgen.NewTracker(settings.Mode == loadgen.ModeAccuracy)

	sc, err := scenario.New(plan.Scenario, scenario.Deps{
		Model:     m,
		Workload:  spec,
		Post:      post,
		Dataset:   ds,
		Sink:      tracker,
		Slots:     slots,
		BatchSize: plan.BatchSize,
		Logger:    logger,
	})
	if err != nil {
		return Report{}, err
	}
	ctrl := scenario.NewController(sc, ds, logger)

	runner, err := loadgen.NewRunner(ctrl, tracker, ds, settings, logger)
	if err != nil {
		return Report{}, err
	}
	runner.OnProgress(func(queries int, elapsed time.Duration) {
		if queries%progressEvery == 0 {
			logf(fmt.Sprintf("%d queries issued in %s", queries, elapsed.Round(time.Millisecond)))
		}
	})

	logf(fmt.Sprintf("running %s %s, batch size %d, %d of %d samples loadable",
		plan.Scenario, settings.Mode, plan.BatchSize, ds.PerformanceSampleCount(), ds.TotalSampleCount()))
	sum, err := runner.Run(ctx)
	if err != nil {
		return Report{Slots: slots, Device: caps}, err
	}
	logf(fmt.Sprintf("finished: %d queries, %d samples, %.1f samples/s, p50 %s p90 %s p99 %s",
		sum.Queries, sum.Samples, sum.QPS, sum.LatencyP50, sum.LatencyP90, sum.LatencyP99))
	logger.Info("benchmark finished", "summary", sum)

	return Report{Summary: sum, Slots: slots, Device: caps}, nil
}
