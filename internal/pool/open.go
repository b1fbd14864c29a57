package pool

import (
	"github.com/seantiz/benchrunner/internal/backend"
	"github.com/seantiz/benchrunner/internal/model"
	"github.com/seantiz/benchrunner/internal/postprocess"
)

// Sink receives the responses of one completed item. It is called from the
// backend's goroutine without any pool lock held and must not retain the
// response windows after returning.
type Sink interface {
	Complete(responses []model.Response)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(responses []model.Response)

// Complete calls f.
func (f SinkFunc) Complete(responses []model.Response) { f(responses) }

// OpenPool reports every completed item to its Sink as soon as the operation
// ends. AcquireIdle is the only backpressure point for the issuer.
type OpenPool struct {
	*core
	sink   Sink
	warmup bool
}

// NewOpen creates an open-loop pool of n slots over m reporting to sink. When
// n is not positive the model's optimal request count is used.
func NewOpen(m backend.Model, n int, inputs []string, post postprocess.Func, sink Sink) (*OpenPool, error) {
	p := &OpenPool{sink: sink}
	c, err := newCore(kindOpen, m, n, inputs, post, p)
	if err != nil {
		return nil, err
	}
	p.core = c
	return p, nil
}

// SetWarmup turns reporting to the sink off (true) or on (false).
func (p *OpenPool) SetWarmup(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.warmup = on
}

func (p *OpenPool) onSlotComplete(id int, err error) {
	p.mu.Lock()
	if err != nil {
		p.failLocked(id, err)
		p.mu.Unlock()
		return
	}
	warmup := p.warmup
	p.mu.Unlock()

	// The slot is still held here, so nothing else touches its buffer.
	slot := p.slots[id]
	if !warmup && p.sink != nil {
		p.sink.Complete(slot.buf.ResponsesFrom(0))
	}
	slot.Reset()

	p.mu.Lock()
	defer p.mu.Unlock()
	completionsTotal.WithLabelValues(kindOpen, outcomeOK).Inc()
	p.toIdleLocked(id)
}

// WaitIdle blocks until every slot is idle or a fault is recorded. It does not
// collect responses.
func (p *OpenPool) WaitIdle() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitAllIdleLocked()
}

// Reset clears slot buffers and the sticky fault, waiting for operations still
// in flight and reclaiming slots left busy by a fault.
func (p *OpenPool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
}
