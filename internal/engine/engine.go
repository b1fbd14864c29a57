package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/benchrunner/internal/backend"
	"github.com/seantiz/benchrunner/internal/loadgen"
	"github.com/seantiz/benchrunner/internal/model"
	"github.com/seantiz/benchrunner/internal/store"
)

// DefaultTimeoutS is the default run timeout in seconds when none is specified.
const DefaultTimeoutS = 600

// ErrInvalidPlan is returned by Submit when a run cannot be planned.
var ErrInvalidPlan = errors.New("invalid run")

// Options are the dataset parameters shared by every run.
type Options struct {
	TotalSamples int
	PerfSamples  int
	Seed         uint64
}

// Engine orchestrates asynchronous benchmark execution.
type Engine struct {
	store    store.Store
	registry *backend.Registry
	opts     Options
	logger   *slog.Logger
	wg       sync.WaitGroup
	broker   *LogBroker
}

// NewEngine creates a new execution engine.
func NewEngine(s store.Store, reg *backend.Registry, opts Options, logger *slog.Logger) *Engine {
	return &Engine{
		store:    s,
		registry: reg,
		opts:     opts,
		logger:   logger,
		broker:   NewLogBroker(),
	}
}

// Broker returns the engine's log broker for SSE and WebSocket subscription.
func (e *Engine) Broker() *LogBroker {
	return e.broker
}

// Submit stores the run as pending and launches it on a goroutine. The
// goroutine works on a copy of the run to avoid data races with the caller.
func (e *Engine) Submit(ctx context.Context, r *model.Run, settings loadgen.Settings) error {
	if r.Mode == "" {
		r.Mode = string(loadgen.ModePerformance)
	}
	plan := e.plan(r, settings)
	if err := plan.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPlan, err)
	}
	if err := e.store.CreateRun(ctx, r); err != nil {
		return fmt.Errorf("create run: %w", err)
	}

	rCopy := *r
	e.wg.Go(func() {
		e.execute(&rCopy, plan)
	})

	return nil
}

// Wait blocks until all in-flight runs complete.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func (e *Engine) plan(r *model.Run, settings loadgen.Settings) Plan {
	settings.Mode = loadgen.Mode(r.Mode)
	return Plan{
		Scenario:     model.Scenario(r.Scenario),
		Workload:     r.Workload,
		Backend:      r.Backend,
		BatchSize:    r.BatchSize,
		Slots:        r.Slots,
		TotalSamples: e.opts.TotalSamples,
		PerfSamples:  e.opts.PerfSamples,
		Seed:         e.opts.Seed,
		Settings:     settings,
	}
}

// execute runs the lifecycle pending→running→completed/failed.
func (e *Engine) execute(r *model.Run, plan Plan) {
	// Close the log stream when execution finishes, regardless of outcome.
	defer e.broker.Close(r.ID)

	if err := e.store.UpdateRunStatus(context.Background(), r.ID, model.StatusRunning); err != nil {
		e.logger.Error("failed to transition to running", "run_id", r.ID, "error", err)
		e.finishFailed(r, nil, fmt.Sprintf("failed to start: %v", err))
		return
	}
	start := time.Now().UTC()

	timeoutS := DefaultTimeoutS
	if r.TimeoutS != nil && *r.TimeoutS > 0 {
		timeoutS = *r.TimeoutS
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutS)*time.Second)
	defer cancel()

	// Progress lines go to SQLite for history, then to the broker for live
	// subscribers.
	var seq atomic.Int32
	logf := func(line string) {
		currentSeq := int(seq.Add(1) - 1)
		if err := e.store.InsertLogLine(context.Background(), r.ID, currentSeq, line); err != nil {
			e.logger.Error("failed to persist log line", "run_id", r.ID, "seq", currentSeq, "error", err)
		}
		e.broker.Publish(r.ID, line)
	}

	logger := e.logger.With("run_id", r.ID)
	report, err := Benchmark(ctx, e.registry, plan, logger, logf)
	if err != nil {
		msg := err.Error()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("run timed out after %ds", timeoutS)
		}
		logf("failed: " + msg)
		if report.Slots > 0 {
			r.Slots = report.Slots
		}
		e.finishFailed(r, &start, msg)
		return
	}

	sum := report.Summary
	now := time.Now().UTC()
	dur := int(sum.Duration.Milliseconds())
	completed := &model.Run{
		ID:               r.ID,
		Status:           model.StatusCompleted,
		Slots:            report.Slots,
		QueriesIssued:    sum.Queries,
		SamplesCompleted: sum.Samples,
		DurationMS:       &dur,
		QPS:              sum.QPS,
		LatencyP50MS:     milliseconds(sum.LatencyP50),
		LatencyP90MS:     milliseconds(sum.LatencyP90),
		LatencyP99MS:     milliseconds(sum.LatencyP99),
		StartedAt:        &start,
		FinishedAt:       &now,
	}
	if err := e.store.UpdateRun(context.Background(), completed); err != nil {
		e.logger.Error("failed to update completed run", "run_id", r.ID, "error", err)
	}
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// finishFailed marks a run as failed with the given error message.
// startedAt may be nil if execution never started.
func (e *Engine) finishFailed(run *model.Run, startedAt *time.Time, errMsg string) {
	now := time.Now().UTC()
	var durationMS int
	if startedAt != nil {
		durationMS = int(time.Since(*startedAt).Milliseconds())
	}

	r := &model.Run{
		ID:         run.ID,
		Status:     model.StatusFailed,
		Slots:      run.Slots,
		Error:      errMsg,
		DurationMS: &durationMS,
		StartedAt:  startedAt,
		FinishedAt: &now,
	}

	if err := e.store.UpdateRun(context.Background(), r); err != nil {
		e.logger.Error("failed to update failed run", "run_id", run.ID, "error", err)
	}
}
