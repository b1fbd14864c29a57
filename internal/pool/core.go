package pool

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/seantiz/benchrunner/internal/backend"
	"github.com/seantiz/benchrunner/internal/postprocess"
)

// core is the slot bookkeeping shared by both pool kinds. Every slot is in
// exactly one of three places: the idle FIFO, the stranded list (its operation
// ended with an error), or held by an issuer or the backend.
type core struct {
	kind string

	mu       sync.Mutex
	slotFree *sync.Cond // signalled once per slot returned to idle
	quiet    *sync.Cond // broadcast when idle or stranded slots make up the pool, or on fault

	slots    []*Slot
	idle     []int
	stranded []int
	fault    *SlotFault
}

func newCore(kind string, m backend.Model, n int, inputs []string, post postprocess.Func, owner completionHandler) (*core, error) {
	if m == nil {
		return nil, errors.New("nil model")
	}
	if post == nil {
		return nil, errors.New("nil post-processing func")
	}
	if n <= 0 {
		n = m.OptimalRequests()
	}
	if n <= 0 {
		return nil, fmt.Errorf("pool size %d must be positive", n)
	}

	c := &core{
		kind:  kind,
		slots: make([]*Slot, n),
		idle:  make([]int, 0, n),
	}
	c.slotFree = sync.NewCond(&c.mu)
	c.quiet = sync.NewCond(&c.mu)

	for i := range n {
		req, err := m.NewRequest()
		if err != nil {
			return nil, fmt.Errorf("create request %d: %w", i, err)
		}
		s := NewSlot(i, req, inputs, post)
		s.owner = owner
		c.slots[i] = s
		c.idle = append(c.idle, i)
	}
	idleSlots.WithLabelValues(kind).Set(float64(n))
	return c, nil
}

// Size returns the number of slots.
func (c *core) Size() int {
	return len(c.slots)
}

// Idle returns the number of idle slots.
func (c *core) Idle() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.idle)
}

// Fault returns the sticky fault, or nil.
func (c *core) Fault() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fault == nil {
		return nil
	}
	return c.fault
}

// AcquireIdle blocks until a slot is idle and removes it from the idle set, or
// returns the sticky fault without blocking once one is recorded.
func (c *core) AcquireIdle() (*Slot, error) {
	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	for c.fault == nil && len(c.idle) == 0 {
		c.slotFree.Wait()
	}
	acquireWait.WithLabelValues(c.kind).Observe(time.Since(start).Seconds())
	if c.fault != nil {
		return nil, c.fault
	}

	id := c.idle[0]
	c.idle = c.idle[1:]
	idleSlots.WithLabelValues(c.kind).Set(float64(len(c.idle)))
	return c.slots[id], nil
}

// Release returns an acquired slot that was never started, for instance after
// a failed Assign.
func (c *core) Release(s *Slot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toIdleLocked(s.id)
}

func (c *core) toIdleLocked(id int) {
	c.idle = append(c.idle, id)
	idleSlots.WithLabelValues(c.kind).Set(float64(len(c.idle)))
	c.slotFree.Signal()
	if c.quiescentLocked() {
		c.quiet.Broadcast()
	}
}

// failLocked records err from slot id. The slot stays out of the idle set.
func (c *core) failLocked(id int, err error) {
	completionsTotal.WithLabelValues(c.kind, outcomeFault).Inc()
	c.stranded = append(c.stranded, id)
	if c.fault == nil {
		c.fault = &SlotFault{Slot: id, Err: err}
		faultsTotal.WithLabelValues(c.kind).Inc()
	}
	c.slotFree.Broadcast()
	c.quiet.Broadcast()
}

func (c *core) quiescentLocked() bool {
	return len(c.idle)+len(c.stranded) == len(c.slots)
}

// waitAllIdleLocked blocks until every slot is idle or a fault is recorded.
func (c *core) waitAllIdleLocked() error {
	for c.fault == nil && len(c.idle) != len(c.slots) {
		c.quiet.Wait()
	}
	if c.fault != nil {
		return c.fault
	}
	return nil
}

// resetLocked waits for operations still in flight, clears every slot buffer
// and the fault, and returns stranded slots to idle.
func (c *core) resetLocked() {
	for !c.quiescentLocked() {
		c.quiet.Wait()
	}
	for _, s := range c.slots {
		s.Reset()
	}
	for _, id := range c.stranded {
		c.idle = append(c.idle, id)
	}
	c.stranded = c.stranded[:0]
	c.fault = nil
	idleSlots.WithLabelValues(c.kind).Set(float64(len(c.idle)))
	c.slotFree.Broadcast()
}
