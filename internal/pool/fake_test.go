package pool_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/benchrunner/internal/backend"
	"github.com/seantiz/benchrunner/internal/model"
	"github.com/seantiz/benchrunner/internal/postprocess"
)

var errDevice = errors.New("device lost")

var inputs = []string{"in"}

// fakeModel hands out requests whose operations either complete by themselves
// on a fresh goroutine (auto) or wait for the test to finish them.
type fakeModel struct {
	auto     bool
	maxDelay time.Duration
	failOp   int64 // 1-based operation number that fails; 0 never

	ops        atomic.Int64
	violations atomic.Int64
	started    chan op
}

func newManualModel() *fakeModel {
	return &fakeModel{started: make(chan op, 64)}
}

func newAutoModel(maxDelay time.Duration) *fakeModel {
	return &fakeModel{auto: true, maxDelay: maxDelay}
}

func (m *fakeModel) NewRequest() (backend.Request, error) {
	return &fakeRequest{m: m}, nil
}

func (m *fakeModel) OptimalRequests() int { return 3 }

func (m *fakeModel) Close() error { return nil }

type fakeRequest struct {
	m        *fakeModel
	input    model.Tensor
	out      model.Tensor
	inFlight atomic.Bool
}

func (r *fakeRequest) SetInput(name string, t model.Tensor) error {
	if name != "in" {
		return errors.New("unknown input")
	}
	if r.inFlight.Load() {
		r.m.violations.Add(1)
	}
	r.input = t
	return nil
}

// op is one started operation awaiting completion.
type op struct {
	req  *fakeRequest
	done func(error)
	n    int64
}

// finish completes the operation on the calling goroutine.
func (o op) finish(err error) {
	if err == nil {
		o.req.out = o.req.input
	}
	o.req.inFlight.Store(false)
	o.done(err)
}

func (r *fakeRequest) StartAsync(done func(error)) {
	if !r.inFlight.CompareAndSwap(false, true) {
		r.m.violations.Add(1)
	}
	o := op{req: r, done: done, n: r.m.ops.Add(1)}
	if !r.m.auto {
		r.m.started <- o
		return
	}
	go func() {
		if r.m.maxDelay > 0 {
			time.Sleep(rand.N(r.m.maxDelay))
		}
		var err error
		if r.m.failOp != 0 && o.n == r.m.failOp {
			err = errDevice
		}
		o.finish(err)
	}()
}

func (r *fakeRequest) Infer(_ context.Context) error {
	if n := r.m.ops.Add(1); r.m.failOp != 0 && n == r.m.failOp {
		return errDevice
	}
	r.out = r.input
	return nil
}

func (r *fakeRequest) Output(name string) (model.Tensor, error) {
	if name != "out" {
		return model.Tensor{}, errors.New("unknown output")
	}
	return r.out, nil
}

// echoPost reports each sample's input value as its result.
func echoPost(item model.Item, outputs postprocess.Outputs, buf *model.ResultBuffer) error {
	t, err := outputs.Output("out")
	if err != nil {
		return err
	}
	values, err := t.Float32s()
	if err != nil {
		return err
	}
	for j, id := range item.ResponseIDs {
		buf.Append(id, values[j])
	}
	return nil
}

func failingPost(model.Item, postprocess.Outputs, *model.ResultBuffer) error {
	return errors.New("malformed output")
}

// newItem builds an item whose sample i carries value ids[i]*10.
func newItem(ids ...model.ResponseID) model.Item {
	values := make([]float32, len(ids))
	it := model.Item{ResponseIDs: ids}
	for i, id := range ids {
		values[i] = float32(id) * 10
		it.SampleIndices = append(it.SampleIndices, model.SampleIndex(id)*10)
	}
	it.Tensors = []model.Tensor{model.NewFloat32Tensor([]int{len(ids)}, values)}
	return it
}

// collectSink records every delivery.
type collectSink struct {
	mu    sync.Mutex
	calls [][]model.Response
}

func (s *collectSink) Complete(responses []model.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]model.Response, len(responses))
	for i, r := range responses {
		cp[i] = model.Response{ID: r.ID, Data: append([]float32(nil), r.Data...)}
	}
	s.calls = append(s.calls, cp)
}

func (s *collectSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
