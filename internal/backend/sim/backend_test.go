package sim_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seantiz/benchrunner/internal/backend"
	"github.com/seantiz/benchrunner/internal/backend/sim"
	"github.com/seantiz/benchrunner/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func loadResNet(t *testing.T, cfg sim.Config) backend.Model {
	t.Helper()
	spec, err := model.LookupWorkload(model.WorkloadResNet50)
	require.NoError(t, err)
	m, err := sim.NewBackend(cfg, discardLogger()).Load(context.Background(), spec)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func imageBatch(batch int, fill byte) model.Tensor {
	data := make([]byte, batch*3*224*224)
	for i := range data {
		data[i] = fill + byte(i%7)
	}
	return model.Tensor{DType: model.DTypeU8, Shape: []int{batch, 3, 224, 224}, Data: data}
}

func TestCapabilitiesReportStreams(t *testing.T) {
	b := sim.NewBackend(sim.Config{Streams: 3}, discardLogger())
	caps := b.Capabilities()
	assert.Equal(t, sim.BackendName, caps.Name)
	assert.Equal(t, 3, caps.OptimalRequests)
}

func TestLoadRejectsUnknownPrecision(t *testing.T) {
	spec, err := model.LookupWorkload(model.WorkloadBERT)
	require.NoError(t, err)
	_, err = sim.NewBackend(sim.Config{Precision: model.DTypeI64}, discardLogger()).Load(context.Background(), spec)
	assert.ErrorIs(t, err, model.ErrUnsupportedConfiguration)
}

func TestInferProducesBatchedOutput(t *testing.T) {
	m := loadResNet(t, sim.Config{Streams: 1, Latency: time.Millisecond})
	req, err := m.NewRequest()
	require.NoError(t, err)

	require.NoError(t, req.SetInput("input_tensor:0", imageBatch(2, 1)))
	require.NoError(t, req.Infer(context.Background()))

	out, err := req.Output("softmax_tensor:0")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1001}, out.Shape)
	assert.Equal(t, model.DTypeF32, out.DType)
	require.NoError(t, out.Validate())
}

func TestOutputsAreDeterministic(t *testing.T) {
	m := loadResNet(t, sim.Config{Streams: 2})
	a, err := m.NewRequest()
	require.NoError(t, err)
	b, err := m.NewRequest()
	require.NoError(t, err)

	require.NoError(t, a.SetInput("input_tensor:0", imageBatch(1, 9)))
	require.NoError(t, b.SetInput("input_tensor:0", imageBatch(1, 9)))
	require.NoError(t, a.Infer(context.Background()))
	require.NoError(t, b.Infer(context.Background()))

	outA, err := a.Output("softmax_tensor:0")
	require.NoError(t, err)
	outB, err := b.Output("softmax_tensor:0")
	require.NoError(t, err)
	assert.Equal(t, outA.Data, outB.Data)
}

func TestHalfPrecisionOutputs(t *testing.T) {
	m := loadResNet(t, sim.Config{Precision: model.DTypeF16})
	req, err := m.NewRequest()
	require.NoError(t, err)
	require.NoError(t, req.SetInput("input_tensor:0", imageBatch(1, 0)))
	require.NoError(t, req.Infer(context.Background()))

	out, err := req.Output("softmax_tensor:0")
	require.NoError(t, err)
	assert.Equal(t, model.DTypeF16, out.DType)
	values, err := out.Float32s()
	require.NoError(t, err)
	assert.Len(t, values, 1001)
}

func TestStartAsyncCompletesOnStream(t *testing.T) {
	m := loadResNet(t, sim.Config{Streams: 2, Latency: time.Millisecond})

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for range n {
		req, err := m.NewRequest()
		require.NoError(t, err)
		require.NoError(t, req.SetInput("input_tensor:0", imageBatch(1, 3)))
		wg.Add(1)
		req.StartAsync(func(err error) {
			errs <- err
			wg.Done()
		})
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestFailAfterInjectsFaults(t *testing.T) {
	m := loadResNet(t, sim.Config{Streams: 1, FailAfter: 1})
	req, err := m.NewRequest()
	require.NoError(t, err)
	require.NoError(t, req.SetInput("input_tensor:0", imageBatch(1, 0)))

	require.NoError(t, req.Infer(context.Background()))
	err = req.Infer(context.Background())
	assert.True(t, errors.Is(err, sim.ErrInjectedFault), "second operation error = %v", err)
}

func TestMissingInputFails(t *testing.T) {
	m := loadResNet(t, sim.Config{})
	req, err := m.NewRequest()
	require.NoError(t, err)

	done := make(chan error, 1)
	req.StartAsync(func(err error) { done <- err })
	assert.Error(t, <-done)
}

func TestSetInputValidation(t *testing.T) {
	m := loadResNet(t, sim.Config{})
	req, err := m.NewRequest()
	require.NoError(t, err)

	err = req.SetInput("nope", imageBatch(1, 0))
	assert.ErrorIs(t, err, sim.ErrUnknownTensor)

	err = req.SetInput("input_tensor:0", model.NewFloat32Tensor([]int{1}, []float32{1}))
	assert.Error(t, err)
}

func TestRetinaNetDynamicOutputs(t *testing.T) {
	spec, err := model.LookupWorkload(model.WorkloadRetinaNet)
	require.NoError(t, err)
	m, err := sim.NewBackend(sim.Config{}, discardLogger()).Load(context.Background(), spec)
	require.NoError(t, err)
	defer m.Close()

	req, err := m.NewRequest()
	require.NoError(t, err)
	img := model.Tensor{
		DType: model.DTypeU8,
		Shape: []int{1, 3, 800, 800},
		Data:  make([]byte, 3*800*800),
	}
	require.NoError(t, req.SetInput("images", img))
	require.NoError(t, req.Infer(context.Background()))

	boxes, err := req.Output("boxes")
	require.NoError(t, err)
	scores, err := req.Output("scores")
	require.NoError(t, err)
	labels, err := req.Output("labels")
	require.NoError(t, err)

	require.Len(t, boxes.Shape, 3)
	assert.Equal(t, 4, boxes.Shape[2])
	assert.Equal(t, boxes.Shape[1], scores.Shape[1])
	assert.Equal(t, model.DTypeI64, labels.DType)
}

func TestClosedModelRejectsWork(t *testing.T) {
	m := loadResNet(t, sim.Config{})
	req, err := m.NewRequest()
	require.NoError(t, err)
	require.NoError(t, req.SetInput("input_tensor:0", imageBatch(1, 0)))
	require.NoError(t, m.Close())

	assert.ErrorIs(t, req.Infer(context.Background()), sim.ErrClosed)

	done := make(chan error, 1)
	req.StartAsync(func(err error) { done <- err })
	assert.ErrorIs(t, <-done, sim.ErrClosed)
}

func TestCloseRacingStartAsyncCompletesEveryJob(t *testing.T) {
	const n = 64
	for range 20 {
		m := loadResNet(t, sim.Config{Streams: 2, Latency: time.Millisecond})
		reqs := make([]backend.Request, n)
		for i := range reqs {
			req, err := m.NewRequest()
			require.NoError(t, err)
			require.NoError(t, req.SetInput("input_tensor:0", imageBatch(1, byte(i))))
			reqs[i] = req
		}

		var calls sync.WaitGroup
		var mu sync.Mutex
		counts := make([]int, n)
		calls.Add(n)
		var start sync.WaitGroup
		start.Add(1)
		for i, req := range reqs {
			go func() {
				start.Wait()
				req.StartAsync(func(error) {
					mu.Lock()
					counts[i]++
					mu.Unlock()
					calls.Done()
				})
			}()
		}
		start.Done()
		require.NoError(t, m.Close())

		finished := make(chan struct{})
		go func() { calls.Wait(); close(finished) }()
		select {
		case <-finished:
		case <-time.After(5 * time.Second):
			t.Fatal("completion callback lost after Close")
		}
		mu.Lock()
		for i, c := range counts {
			assert.Equal(t, 1, c, "request %d", i)
		}
		mu.Unlock()
	}
}
