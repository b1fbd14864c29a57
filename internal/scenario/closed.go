package scenario

import (
	"context"
	"errors"
	"fmt"

	"github.com/seantiz/benchrunner/internal/model"
	"github.com/seantiz/benchrunner/internal/pool"
)

// closedLoop submits every item of a query to the closed pool and reports the
// whole wave in one sink call before returning.
type closedLoop struct {
	kind model.Scenario
	d    Deps
	pool *pool.ClosedPool
}

func newClosedLoop(kind model.Scenario, d Deps) (*closedLoop, error) {
	p, err := pool.NewClosed(d.Model, d.Slots, d.Workload.InputNames(), d.Post)
	if err != nil {
		return nil, fmt.Errorf("create closed pool: %w", err)
	}
	d.Logger.Debug("closed pool ready", "scenario", kind, "slots", p.Size())
	return &closedLoop{kind: kind, d: d, pool: p}, nil
}

func (c *closedLoop) Name() model.Scenario { return c.kind }

func (c *closedLoop) Warmup(ctx context.Context, sample model.SampleIndex, n int) error {
	if n <= 0 {
		return nil
	}
	item, err := c.d.Dataset.GetSample(warmupQuery(sample, c.d.BatchSize))
	if err != nil {
		return fmt.Errorf("warmup item: %w", err)
	}
	items := make([]model.Item, n)
	for i := range items {
		items[i] = item
	}
	err = c.submit(ctx, items)
	if err == nil {
		_, err = c.pool.Drain()
	}
	c.pool.Reset()
	if err != nil {
		return fmt.Errorf("warmup: %w", err)
	}
	return nil
}

func (c *closedLoop) items(samples []model.QuerySample) ([]model.Item, error) {
	if c.kind == model.MultiStream {
		return c.d.Dataset.GetSamplesBatchedMultistream(samples, c.d.BatchSize)
	}
	return c.d.Dataset.GetSamplesBatched(samples, c.d.BatchSize)
}

func (c *closedLoop) Issue(ctx context.Context, samples []model.QuerySample) error {
	items, err := c.items(samples)
	if err != nil {
		return err
	}
	if err := c.submit(ctx, items); err != nil {
		if ctx.Err() == nil {
			return err
		}
		// Items started before cancellation are still reported.
		ferr := c.flush()
		c.pool.Reset()
		return errors.Join(err, ferr)
	}
	if err := c.flush(); err != nil {
		return err
	}
	c.pool.Reset()
	return nil
}

// submit starts every item, blocking only for idle slots. When ctx ends it
// stops submitting and leaves what was already started to the caller.
func (c *closedLoop) submit(ctx context.Context, items []model.Item) error {
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		slot, err := c.pool.AcquireIdle()
		if err != nil {
			return err
		}
		if err := slot.Assign(item); err != nil {
			c.pool.Release(slot)
			return err
		}
		slot.Start()
	}
	return nil
}

func (c *closedLoop) Drain(context.Context) error {
	if err := c.flush(); err != nil {
		return err
	}
	c.pool.Reset()
	return nil
}

// flush waits for every started item and reports the accumulated responses.
func (c *closedLoop) flush() error {
	responses, err := c.pool.Drain()
	if err != nil {
		return err
	}
	if len(responses) > 0 {
		c.d.Sink.Complete(responses)
	}
	return nil
}

func (c *closedLoop) Reset() { c.pool.Reset() }
