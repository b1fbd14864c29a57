// Package scenario drives the slot pools according to the load pattern the
// harness asks for, and sequences a run through its lifecycle states.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/seantiz/benchrunner/internal/backend"
	"github.com/seantiz/benchrunner/internal/dataset"
	"github.com/seantiz/benchrunner/internal/model"
	"github.com/seantiz/benchrunner/internal/postprocess"
)

// Sink receives completed responses. Calls may come from backend goroutines
// and must not retain the response windows after returning.
type Sink interface {
	Complete(responses []model.Response)
}

// Scenario is the capability set every load pattern provides.
type Scenario interface {
	// Name reports the load pattern.
	Name() model.Scenario

	// Warmup pushes n items built from sample through the device without
	// reporting them, then leaves every slot idle and every buffer empty.
	Warmup(ctx context.Context, sample model.SampleIndex, n int) error

	// Issue submits one harness query. Closed-loop scenarios return after the
	// whole query is reported; the server scenario returns once it is started.
	Issue(ctx context.Context, samples []model.QuerySample) error

	// Drain waits for outstanding work and reports anything not yet reported.
	Drain(ctx context.Context) error

	// Reset clears pool buffers and any sticky fault.
	Reset()
}

// Deps are the collaborators a scenario is built from.
type Deps struct {
	Model     backend.Model
	Workload  model.WorkloadSpec
	Post      postprocess.Func
	Dataset   dataset.Provider
	Sink      Sink
	Slots     int // 0 uses the model's optimal request count
	BatchSize int
	Logger    *slog.Logger
}

func (d Deps) validate() error {
	switch {
	case d.Model == nil:
		return errors.New("scenario needs a model")
	case d.Post == nil:
		return errors.New("scenario needs a post-processing func")
	case d.Dataset == nil:
		return errors.New("scenario needs a dataset")
	case d.Sink == nil:
		return errors.New("scenario needs a sink")
	case d.Logger == nil:
		return errors.New("scenario needs a logger")
	case d.BatchSize <= 0:
		return fmt.Errorf("batch size %d must be positive", d.BatchSize)
	}
	return nil
}

// New builds the scenario for kind.
func New(kind model.Scenario, d Deps) (Scenario, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	switch kind {
	case model.SingleStream:
		return newSingleStream(d)
	case model.Offline, model.MultiStream:
		return newClosedLoop(kind, d)
	case model.Server:
		return newServer(d)
	default:
		return nil, fmt.Errorf("scenario %q: %w", kind, model.ErrUnsupportedConfiguration)
	}
}

// warmupQuery repeats sample once per batch position.
func warmupQuery(sample model.SampleIndex, batch int) []model.QuerySample {
	q := make([]model.QuerySample, batch)
	for i := range q {
		q[i] = model.QuerySample{ID: model.ResponseID(i), Index: sample}
	}
	return q
}
