package pool

import (
	"github.com/seantiz/benchrunner/internal/backend"
	"github.com/seantiz/benchrunner/internal/model"
	"github.com/seantiz/benchrunner/internal/postprocess"
)

// ClosedPool runs a wave of items and returns all of their responses in one
// Drain. Responses accumulate in completion order.
type ClosedPool struct {
	*core
	responses []model.Response
}

// NewClosed creates a closed-loop pool of n slots over m. When n is not
// positive the model's optimal request count is used.
func NewClosed(m backend.Model, n int, inputs []string, post postprocess.Func) (*ClosedPool, error) {
	p := &ClosedPool{}
	c, err := newCore(kindClosed, m, n, inputs, post, p)
	if err != nil {
		return nil, err
	}
	p.core = c
	return p, nil
}

func (p *ClosedPool) onSlotComplete(id int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		p.failLocked(id, err)
		return
	}
	completionsTotal.WithLabelValues(kindClosed, outcomeOK).Inc()
	p.responses = append(p.responses, p.slots[id].responses()...)
	p.toIdleLocked(id)
}

// Drain blocks until every slot is idle and returns the responses accumulated
// since the last Reset. It returns the sticky fault instead if one is recorded.
// The returned windows stay valid until Reset.
func (p *ClosedPool) Drain() ([]model.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.waitAllIdleLocked(); err != nil {
		return nil, err
	}
	return p.responses, nil
}

// Reset clears accumulated responses, every slot buffer and the sticky fault.
// It waits for operations still in flight and reclaims slots left busy by a
// fault. Every acquired slot must have been started or released.
func (p *ClosedPool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.resetLocked()
	p.responses = nil
}
