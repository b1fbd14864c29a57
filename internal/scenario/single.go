package scenario

import (
	"context"
	"fmt"

	"github.com/seantiz/benchrunner/internal/model"
	"github.com/seantiz/benchrunner/internal/pool"
)

// singleStream keeps exactly one item in flight using synchronous inference.
type singleStream struct {
	d    Deps
	slot *pool.Slot
}

func newSingleStream(d Deps) (*singleStream, error) {
	req, err := d.Model.NewRequest()
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return &singleStream{
		d:    d,
		slot: pool.NewSlot(0, req, d.Workload.InputNames(), d.Post),
	}, nil
}

func (s *singleStream) Name() model.Scenario { return model.SingleStream }

func (s *singleStream) Warmup(ctx context.Context, sample model.SampleIndex, n int) error {
	if n <= 0 {
		return nil
	}
	item, err := s.d.Dataset.GetSample(warmupQuery(sample, s.d.BatchSize))
	if err != nil {
		return fmt.Errorf("warmup item: %w", err)
	}
	if err := s.slot.Assign(item); err != nil {
		return err
	}
	for range n {
		if _, err := s.slot.InferSync(ctx); err != nil {
			return fmt.Errorf("warmup: %w", err)
		}
	}
	s.slot.Reset()
	return nil
}

func (s *singleStream) Issue(ctx context.Context, samples []model.QuerySample) error {
	items, err := s.d.Dataset.GetSamplesBatchedServer(samples, s.d.BatchSize)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := s.slot.Assign(item); err != nil {
			return err
		}
		responses, err := s.slot.InferSync(ctx)
		if err != nil {
			return err
		}
		s.d.Sink.Complete(responses)
	}
	return nil
}

func (s *singleStream) Drain(context.Context) error { return nil }

func (s *singleStream) Reset() { s.slot.Reset() }
