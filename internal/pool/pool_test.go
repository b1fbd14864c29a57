package pool_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/benchrunner/internal/model"
	"github.com/seantiz/benchrunner/internal/pool"
)

const (
	blockWindow = 50 * time.Millisecond
	tick        = 2 * time.Millisecond
)

func startItem(t *testing.T, p interface {
	AcquireIdle() (*pool.Slot, error)
}, it model.Item) *pool.Slot {
	t.Helper()
	s, err := p.AcquireIdle()
	require.NoError(t, err)
	require.NoError(t, s.Assign(it))
	s.Start()
	return s
}

func TestNewClosedDefaultsToOptimalRequests(t *testing.T) {
	p, err := pool.NewClosed(newAutoModel(0), 0, inputs, echoPost)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Size())
	assert.Equal(t, 3, p.Idle())
}

func TestNewClosedRejectsNilPost(t *testing.T) {
	_, err := pool.NewClosed(newAutoModel(0), 2, inputs, nil)
	assert.Error(t, err)
}

func TestClosedDrainReturnsEveryResponseOnce(t *testing.T) {
	m := newAutoModel(2 * time.Millisecond)
	p, err := pool.NewClosed(m, 4, inputs, echoPost)
	require.NoError(t, err)

	const items = 50
	next := model.ResponseID(1)
	for range items {
		startItem(t, p, newItem(next, next+1))
		next += 2
		assert.LessOrEqual(t, p.Idle(), p.Size())
	}

	responses, err := p.Drain()
	require.NoError(t, err)
	assert.Equal(t, p.Size(), p.Idle())
	require.Len(t, responses, 2*items)

	seen := make(map[model.ResponseID]bool)
	for _, r := range responses {
		assert.False(t, seen[r.ID], "response %d reported twice", r.ID)
		seen[r.ID] = true
		require.Len(t, r.Data, 1)
		assert.Equal(t, float32(r.ID)*10, r.Data[0])
	}
	assert.Zero(t, m.violations.Load(), "a slot was rebound while in flight")
}

func TestClosedPreservesItemResponseOrder(t *testing.T) {
	p, err := pool.NewClosed(newAutoModel(0), 2, inputs, echoPost)
	require.NoError(t, err)

	startItem(t, p, newItem(5, 3, 9))
	responses, err := p.Drain()
	require.NoError(t, err)

	ids := make([]model.ResponseID, len(responses))
	for i, r := range responses {
		ids[i] = r.ID
	}
	assert.Equal(t, []model.ResponseID{5, 3, 9}, ids)
}

func TestClosedAcquireBlocksUntilCompletion(t *testing.T) {
	m := newManualModel()
	p, err := pool.NewClosed(m, 2, inputs, echoPost)
	require.NoError(t, err)

	startItem(t, p, newItem(1))
	startItem(t, p, newItem(2))
	first := <-m.started
	second := <-m.started

	acquired := make(chan *pool.Slot, 2)
	for range 2 {
		go func() {
			s, err := p.AcquireIdle()
			if err == nil {
				acquired <- s
			}
		}()
	}
	assert.Never(t, func() bool { return len(acquired) > 0 }, blockWindow, tick)

	first.finish(nil)
	require.Eventually(t, func() bool { return len(acquired) == 1 }, time.Second, tick)
	assert.Never(t, func() bool { return len(acquired) > 1 }, blockWindow, tick,
		"one completion woke more than one waiter")

	second.finish(nil)
	require.Eventually(t, func() bool { return len(acquired) == 2 }, time.Second, tick)

	a, b := <-acquired, <-acquired
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Zero(t, p.Idle())
}

func TestClosedFaultWakesWaitersAndIsSticky(t *testing.T) {
	m := newManualModel()
	p, err := pool.NewClosed(m, 2, inputs, echoPost)
	require.NoError(t, err)

	startItem(t, p, newItem(1))
	startItem(t, p, newItem(2))
	slot0 := <-m.started
	slot1 := <-m.started

	blocked := make(chan error, 1)
	go func() {
		_, err := p.AcquireIdle()
		blocked <- err
	}()
	assert.Never(t, func() bool { return len(blocked) > 0 }, blockWindow, tick)

	slot0.finish(errDevice)

	var fault *pool.SlotFault
	select {
	case err := <-blocked:
		require.True(t, errors.As(err, &fault), "acquire error = %v", err)
	case <-time.After(time.Second):
		t.Fatal("blocked acquire was not woken by the fault")
	}
	assert.Equal(t, 0, fault.Slot)
	assert.ErrorIs(t, fault, errDevice)

	// Slot 1 is still in flight; Drain must not wait for it.
	_, err = p.Drain()
	assert.ErrorIs(t, err, errDevice)

	_, err = p.AcquireIdle()
	assert.ErrorIs(t, err, errDevice)

	// A second failure does not replace the first.
	slot1.finish(errors.New("second failure"))
	var again *pool.SlotFault
	require.True(t, errors.As(p.Fault(), &again))
	assert.Equal(t, 0, again.Slot)
}

func TestClosedResetReclaimsFaultedSlots(t *testing.T) {
	m := newManualModel()
	p, err := pool.NewClosed(m, 2, inputs, echoPost)
	require.NoError(t, err)

	startItem(t, p, newItem(1))
	startItem(t, p, newItem(2))
	(<-m.started).finish(errDevice)
	(<-m.started).finish(nil)

	_, err = p.Drain()
	require.Error(t, err)

	p.Reset()
	assert.NoError(t, p.Fault())
	assert.Equal(t, 2, p.Idle())

	responses, err := p.Drain()
	require.NoError(t, err)
	assert.Empty(t, responses)
}

func TestClosedResetWaitsForInFlight(t *testing.T) {
	m := newManualModel()
	p, err := pool.NewClosed(m, 2, inputs, echoPost)
	require.NoError(t, err)

	startItem(t, p, newItem(1))
	startItem(t, p, newItem(2))
	(<-m.started).finish(errDevice)
	pending := <-m.started

	reset := make(chan struct{})
	go func() {
		p.Reset()
		close(reset)
	}()
	assert.Never(t, func() bool {
		select {
		case <-reset:
			return true
		default:
			return false
		}
	}, blockWindow, tick)

	pending.finish(nil)
	select {
	case <-reset:
	case <-time.After(time.Second):
		t.Fatal("Reset did not return after the last operation ended")
	}
	assert.Equal(t, 2, p.Idle())
}

func TestClosedDrainThenResetGivesEmptyDrain(t *testing.T) {
	p, err := pool.NewClosed(newAutoModel(time.Millisecond), 3, inputs, echoPost)
	require.NoError(t, err)

	for id := range model.ResponseID(6) {
		startItem(t, p, newItem(id))
	}
	responses, err := p.Drain()
	require.NoError(t, err)
	assert.Len(t, responses, 6)

	p.Reset()
	done := make(chan []model.Response, 1)
	go func() {
		r, _ := p.Drain()
		done <- r
	}()
	select {
	case r := <-done:
		assert.Empty(t, r)
	case <-time.After(time.Second):
		t.Fatal("drain after reset blocked")
	}
}

func TestClosedPostProcessErrorIsFault(t *testing.T) {
	p, err := pool.NewClosed(newAutoModel(0), 1, inputs, failingPost)
	require.NoError(t, err)

	startItem(t, p, newItem(1))
	_, err = p.Drain()
	var fault *pool.SlotFault
	require.True(t, errors.As(err, &fault))
	assert.Contains(t, fault.Error(), "malformed output")
}

func TestAssignRejectsWrongTensorCount(t *testing.T) {
	p, err := pool.NewClosed(newAutoModel(0), 1, inputs, echoPost)
	require.NoError(t, err)

	s, err := p.AcquireIdle()
	require.NoError(t, err)
	bad := newItem(1)
	bad.Tensors = append(bad.Tensors, bad.Tensors[0])
	assert.ErrorIs(t, s.Assign(bad), pool.ErrInvalidBinding)
	assert.Zero(t, p.Idle())

	p.Release(s)
	assert.Equal(t, 1, p.Idle())
	assert.NoError(t, p.Fault())
}

func TestOpenDeliversEachItemWithoutBlocking(t *testing.T) {
	m := newManualModel()
	sink := &collectSink{}
	p, err := pool.NewOpen(m, 4, inputs, echoPost, sink)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for id := range model.ResponseID(4) {
			s, err := p.AcquireIdle()
			if err != nil {
				return
			}
			if s.Assign(newItem(id, id+100)) != nil {
				return
			}
			s.Start()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("issuing K <= N items blocked")
	}

	for range 4 {
		(<-m.started).finish(nil)
	}
	require.NoError(t, p.WaitIdle())
	require.Equal(t, 4, sink.count())
	for _, call := range sink.calls {
		require.Len(t, call, 2)
		assert.Equal(t, call[0].ID+100, call[1].ID)
	}
}

func TestOpenBackpressure(t *testing.T) {
	m := newManualModel()
	p, err := pool.NewOpen(m, 1, inputs, echoPost, &collectSink{})
	require.NoError(t, err)

	startItem(t, p, newItem(1))
	acquired := make(chan struct{})
	go func() {
		if _, err := p.AcquireIdle(); err == nil {
			close(acquired)
		}
	}()
	assert.Never(t, func() bool {
		select {
		case <-acquired:
			return true
		default:
			return false
		}
	}, blockWindow, tick)

	(<-m.started).finish(nil)
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("acquire not released by completion")
	}
}

func TestOpenWarmupSuppressesSink(t *testing.T) {
	sink := &collectSink{}
	p, err := pool.NewOpen(newAutoModel(time.Millisecond), 2, inputs, echoPost, sink)
	require.NoError(t, err)

	p.SetWarmup(true)
	for id := range model.ResponseID(5) {
		startItem(t, p, newItem(id))
	}
	require.NoError(t, p.WaitIdle())
	assert.Zero(t, sink.count())

	p.SetWarmup(false)
	p.Reset()
	startItem(t, p, newItem(9))
	require.NoError(t, p.WaitIdle())
	assert.Equal(t, 1, sink.count())
}

func TestOpenFaultIsStickyUntilReset(t *testing.T) {
	m := newManualModel()
	sink := &collectSink{}
	p, err := pool.NewOpen(m, 2, inputs, echoPost, sink)
	require.NoError(t, err)

	startItem(t, p, newItem(1))
	(<-m.started).finish(errDevice)

	assert.ErrorIs(t, p.WaitIdle(), errDevice)
	_, err = p.AcquireIdle()
	assert.ErrorIs(t, err, errDevice)
	assert.Zero(t, sink.count())

	p.Reset()
	assert.Equal(t, 2, p.Idle())
	assert.NoError(t, p.WaitIdle())
}

func TestOpenConcurrentIssuers(t *testing.T) {
	m := newAutoModel(time.Millisecond)
	sink := &collectSink{}
	p, err := pool.NewOpen(m, 3, inputs, echoPost, sink)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := range 4 {
		wg.Go(func() {
			for i := range 10 {
				id := model.ResponseID(g*100 + i)
				s, err := p.AcquireIdle()
				if err != nil {
					return
				}
				if s.Assign(newItem(id)) != nil {
					p.Release(s)
					return
				}
				s.Start()
			}
		})
	}
	wg.Wait()
	require.NoError(t, p.WaitIdle())
	assert.Equal(t, 40, sink.count())
	assert.Zero(t, m.violations.Load())
}

func TestSlotInferSync(t *testing.T) {
	m := newAutoModel(0)
	req, err := m.NewRequest()
	require.NoError(t, err)
	s := pool.NewSlot(0, req, inputs, echoPost)

	require.NoError(t, s.Assign(newItem(4, 2)))
	responses, err := s.InferSync(context.Background())
	require.NoError(t, err)
	require.Len(t, responses, 2)
	assert.Equal(t, model.ResponseID(4), responses[0].ID)
	assert.Equal(t, float32(20), responses[1].Data[0])

	m.failOp = 2
	_, err = s.InferSync(context.Background())
	assert.ErrorIs(t, err, errDevice)
}

func TestMetricsRegistered(t *testing.T) {
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)

	found := make(map[string]bool)
	for _, fam := range families {
		found[fam.GetName()] = true
	}
	for _, name := range []string{
		"benchrunner_pool_idle_slots",
		"benchrunner_pool_completions_total",
		"benchrunner_pool_faults_total",
		"benchrunner_pool_acquire_wait_seconds",
	} {
		assert.True(t, found[name], "metric %q not registered", name)
	}
}
