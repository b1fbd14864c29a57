package sim

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/benchrunner/internal/backend"
	"github.com/seantiz/benchrunner/internal/model"
)

// Errors returned by the simulated device.
var (
	ErrInjectedFault   = errors.New("injected device fault")
	ErrClosed          = errors.New("model is closed")
	ErrTooManyRequests = errors.New("request limit reached")
	ErrUnknownTensor   = errors.New("unknown tensor")
)

// Backend implements backend.Backend with a pool of goroutine "execution
// streams". Operations are queued to the streams and their completion callbacks
// run on the stream goroutine, like a real asynchronous device runtime.
type Backend struct {
	cfg    Config
	logger *slog.Logger
}

var _ backend.Backend = (*Backend)(nil)

// NewBackend creates a simulated device.
func NewBackend(cfg Config, logger *slog.Logger) *Backend {
	return &Backend{cfg: cfg.withDefaults(), logger: logger}
}

// Capabilities reports the simulated device's properties.
func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Name:            BackendName,
		Device:          "SIM",
		Precisions:      []string{string(model.DTypeF32), string(model.DTypeF16)},
		OptimalRequests: b.cfg.Streams,
	}
}

// Load compiles the workload and starts the execution streams.
func (b *Backend) Load(ctx context.Context, spec model.WorkloadSpec) (backend.Model, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.cfg.Precision != model.DTypeF32 && b.cfg.Precision != model.DTypeF16 {
		return nil, fmt.Errorf("precision %q: %w", b.cfg.Precision, model.ErrUnsupportedConfiguration)
	}

	m := &Model{
		spec:   spec,
		cfg:    b.cfg,
		logger: b.logger,
		jobs:   make(chan job, maxRequests),
		closed: make(chan struct{}),
	}
	for range b.cfg.Streams {
		m.wg.Go(m.stream)
	}

	b.logger.Debug("sim model loaded",
		"workload", spec.Name,
		"streams", b.cfg.Streams,
		"precision", b.cfg.Precision,
	)
	return m, nil
}

type job struct {
	req  *request
	done func(error)
}

// Model is a workload compiled for the simulated device.
type Model struct {
	spec   model.WorkloadSpec
	cfg    Config
	logger *slog.Logger

	jobs      chan job
	closed    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	// mu orders enqueues against Close: once shut is set no job can enter jobs.
	mu   sync.RWMutex
	shut bool

	ops      atomic.Int64
	requests atomic.Int64
}

var _ backend.Model = (*Model)(nil)

// NewRequest creates a reusable inference context.
func (m *Model) NewRequest() (backend.Request, error) {
	if m.requests.Add(1) > maxRequests {
		m.requests.Add(-1)
		return nil, ErrTooManyRequests
	}
	return &request{
		m:       m,
		inputs:  make(map[string]model.Tensor, len(m.spec.Inputs)),
		outputs: make(map[string]model.Tensor, len(m.spec.Outputs)),
	}, nil
}

// OptimalRequests returns the stream count.
func (m *Model) OptimalRequests() int {
	return m.cfg.Streams
}

// Operations returns the number of operations started so far.
func (m *Model) Operations() int64 {
	return m.ops.Load()
}

// Close stops the execution streams. Jobs still queued complete with ErrClosed.
func (m *Model) Close() error {
	m.closeOnce.Do(func() {
		close(m.closed)
		m.mu.Lock()
		m.shut = true
		m.mu.Unlock()
		m.wg.Wait()
		for {
			select {
			case j := <-m.jobs:
				j.done(ErrClosed)
			default:
				return
			}
		}
	})
	return nil
}

func (m *Model) stream() {
	for {
		select {
		case <-m.closed:
			return
		case j := <-m.jobs:
			busyStreams.Inc()
			err := m.execute(context.Background(), j.req)
			busyStreams.Dec()
			j.done(err)
		}
	}
}

// execute runs one operation for r on the calling goroutine.
func (m *Model) execute(ctx context.Context, r *request) (err error) {
	start := time.Now()
	n := m.ops.Add(1)
	defer func() {
		operationDuration.Observe(time.Since(start).Seconds())
		outcome := outcomeOK
		if err != nil {
			outcome = outcomeFailed
		}
		operationsTotal.WithLabelValues(m.spec.Name, outcome).Inc()
	}()

	batch, err := r.batch()
	if err != nil {
		return err
	}

	if err := m.sleep(ctx, m.cfg.Latency+time.Duration(batch)*m.cfg.PerSample); err != nil {
		return err
	}

	if m.cfg.FailAfter > 0 && n > int64(m.cfg.FailAfter) {
		return fmt.Errorf("operation %d: %w", n, ErrInjectedFault)
	}

	m.synthesize(r, batch)
	return nil
}

func (m *Model) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.closed:
		return ErrClosed
	}
}

// synthesize fills r's outputs. Every sample's values are drawn from a PRNG
// seeded by a hash of that sample's input bytes, so identical inputs always
// produce identical outputs.
func (m *Model) synthesize(r *request, batch int) {
	rngs := make([]*rand.Rand, batch)
	for b := range batch {
		h := fnv.New64a()
		for _, in := range m.spec.Inputs {
			t := r.inputs[in.Name]
			stride := len(t.Data) / batch
			h.Write(t.Data[b*stride : (b+1)*stride])
		}
		seed := h.Sum64()
		rngs[b] = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}

	for _, out := range m.spec.Outputs {
		shape := make([]int, 0, len(out.Shape)+1)
		shape = append(shape, batch)
		per := 1
		for _, d := range out.Shape {
			if d < 0 {
				d = detections
			}
			shape = append(shape, d)
			per *= d
		}

		switch out.DType {
		case model.DTypeI64, model.DTypeI32:
			values := make([]int64, 0, batch*per)
			for b := range batch {
				for range per {
					values = append(values, rngs[b].Int64N(labelRange(out.Name)))
				}
			}
			if out.DType == model.DTypeI64 {
				r.outputs[out.Name] = model.NewInt64Tensor(shape, values)
			} else {
				narrow := make([]int32, len(values))
				for i, v := range values {
					narrow[i] = int32(v)
				}
				r.outputs[out.Name] = model.NewInt32Tensor(shape, narrow)
			}
		default:
			values := make([]float32, 0, batch*per)
			scale := valueScale(out.Name)
			for b := range batch {
				for range per {
					values = append(values, rngs[b].Float32()*scale)
				}
			}
			if m.cfg.Precision == model.DTypeF16 {
				r.outputs[out.Name] = model.NewFloat16Tensor(shape, values)
			} else {
				r.outputs[out.Name] = model.NewFloat32Tensor(shape, values)
			}
		}
	}
}

func valueScale(output string) float32 {
	if output == "boxes" {
		return model.RetinaNetImageSize
	}
	return 1
}

func labelRange(output string) int64 {
	if output == "labels" {
		return 264
	}
	return 1000
}

type request struct {
	m       *Model
	inputs  map[string]model.Tensor
	outputs map[string]model.Tensor
}

var _ backend.Request = (*request)(nil)

func (r *request) SetInput(name string, t model.Tensor) error {
	for _, in := range r.m.spec.Inputs {
		if in.Name != name {
			continue
		}
		if t.DType != in.DType {
			return fmt.Errorf("input %q: dtype %s, want %s", name, t.DType, in.DType)
		}
		if err := t.Validate(); err != nil {
			return fmt.Errorf("input %q: %w", name, err)
		}
		r.inputs[name] = t
		return nil
	}
	return fmt.Errorf("input %q: %w", name, ErrUnknownTensor)
}

func (r *request) StartAsync(done func(error)) {
	r.m.mu.RLock()
	defer r.m.mu.RUnlock()
	if r.m.shut {
		go done(ErrClosed)
		return
	}
	select {
	case <-r.m.closed:
		go done(ErrClosed)
	case r.m.jobs <- job{req: r, done: done}:
	}
}

func (r *request) Infer(ctx context.Context) error {
	select {
	case <-r.m.closed:
		return ErrClosed
	default:
	}
	return r.m.execute(ctx, r)
}

func (r *request) Output(name string) (model.Tensor, error) {
	t, ok := r.outputs[name]
	if !ok {
		return model.Tensor{}, fmt.Errorf("output %q: %w", name, ErrUnknownTensor)
	}
	return t, nil
}

// batch checks every input is bound with a leading batch dimension over the
// input's declared shape and returns that batch size.
func (r *request) batch() (int, error) {
	batch := -1
	for _, in := range r.m.spec.Inputs {
		t, ok := r.inputs[in.Name]
		if !ok {
			return 0, fmt.Errorf("input %q is not bound", in.Name)
		}
		if len(t.Shape) != len(in.Shape)+1 {
			return 0, fmt.Errorf("input %q: shape %v lacks a batch dimension over %v", in.Name, t.Shape, in.Shape)
		}
		for i, d := range in.Shape {
			if d >= 0 && t.Shape[i+1] != d {
				return 0, fmt.Errorf("input %q: shape %v, want [N %v]", in.Name, t.Shape, in.Shape)
			}
		}
		if batch >= 0 && t.Shape[0] != batch {
			return 0, fmt.Errorf("input %q: batch %d disagrees with %d", in.Name, t.Shape[0], batch)
		}
		batch = t.Shape[0]
	}
	if batch <= 0 {
		return 0, errors.New("empty batch")
	}
	return batch, nil
}
