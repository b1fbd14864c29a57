package scenario

import (
	"context"
	"fmt"

	"github.com/seantiz/benchrunner/internal/model"
	"github.com/seantiz/benchrunner/internal/pool"
)

// server starts each query's items on the open pool and returns at once.
// Completions are reported from the backend's goroutines.
type server struct {
	d    Deps
	pool *pool.OpenPool
}

func newServer(d Deps) (*server, error) {
	p, err := pool.NewOpen(d.Model, d.Slots, d.Workload.InputNames(), d.Post, d.Sink)
	if err != nil {
		return nil, fmt.Errorf("create open pool: %w", err)
	}
	d.Logger.Debug("open pool ready", "slots", p.Size())
	return &server{d: d, pool: p}, nil
}

func (s *server) Name() model.Scenario { return model.Server }

func (s *server) Warmup(ctx context.Context, sample model.SampleIndex, n int) error {
	if n <= 0 {
		return nil
	}
	item, err := s.d.Dataset.GetSample(warmupQuery(sample, s.d.BatchSize))
	if err != nil {
		return fmt.Errorf("warmup item: %w", err)
	}

	s.pool.SetWarmup(true)
	// Reset blocks until every in-flight warm-up slot has completed, so no
	// warm-up response can reach the sink once the flag is cleared.
	defer func() {
		s.pool.Reset()
		s.pool.SetWarmup(false)
	}()
	for range n {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.start(item); err != nil {
			return fmt.Errorf("warmup: %w", err)
		}
	}
	if err := s.pool.WaitIdle(); err != nil {
		return fmt.Errorf("warmup: %w", err)
	}
	return nil
}

func (s *server) Issue(_ context.Context, samples []model.QuerySample) error {
	items, err := s.d.Dataset.GetSamplesBatchedServer(samples, s.d.BatchSize)
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := s.start(item); err != nil {
			return err
		}
	}
	return nil
}

func (s *server) start(item model.Item) error {
	slot, err := s.pool.AcquireIdle()
	if err != nil {
		return err
	}
	if err := slot.Assign(item); err != nil {
		s.pool.Release(slot)
		return err
	}
	slot.Start()
	return nil
}

// Drain waits until no operation is in flight. Every completion has already
// been reported.
func (s *server) Drain(context.Context) error {
	return s.pool.WaitIdle()
}

func (s *server) Reset() { s.pool.Reset() }
