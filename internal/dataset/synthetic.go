package dataset

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/seantiz/benchrunner/internal/model"
)

// bertVocabSize bounds generated token ids.
const bertVocabSize = 30522

// Synthetic generates deterministic samples for a workload. Sample i always
// has the same content for the same seed. Loaded samples live in one arena
// per load cycle, laid out input-major so that a run of consecutively loaded
// samples forms a contiguous batch for every input.
type Synthetic struct {
	spec      model.WorkloadSpec
	total     int
	perfCount int
	seed      uint64
	logger    *slog.Logger

	// strides[i] is the byte size of one sample of input i.
	strides []int

	mu sync.RWMutex
	// arena holds every loaded sample; regions[i] is input i's slice of it.
	arena   []byte
	regions [][]byte
	// position maps a loaded sample index to its place in the load order.
	position map[model.SampleIndex]int
}

var _ Provider = (*Synthetic)(nil)

// NewSynthetic creates a provider of total samples shaped for spec, of which
// perfCount may be loaded at once.
func NewSynthetic(spec model.WorkloadSpec, total, perfCount int, seed uint64, logger *slog.Logger) (*Synthetic, error) {
	if total <= 0 {
		return nil, fmt.Errorf("total sample count %d must be positive", total)
	}
	if perfCount <= 0 || perfCount > total {
		perfCount = total
	}
	strides := make([]int, len(spec.Inputs))
	for i, in := range spec.Inputs {
		n := in.DType.Size()
		if n == 0 {
			return nil, fmt.Errorf("input %q: unknown dtype %q", in.Name, in.DType)
		}
		for _, d := range in.Shape {
			if d < 0 {
				return nil, fmt.Errorf("input %q: dynamic shape %v is not supported", in.Name, in.Shape)
			}
			n *= d
		}
		strides[i] = n
	}
	return &Synthetic{
		spec:      spec,
		total:     total,
		perfCount: perfCount,
		seed:      seed,
		logger:    logger,
		strides:   strides,
	}, nil
}

// Name returns the workload's dataset name.
func (s *Synthetic) Name() string {
	return s.spec.Dataset
}

// TotalSampleCount returns the size of the full sample set.
func (s *Synthetic) TotalSampleCount() int {
	return s.total
}

// PerformanceSampleCount returns how many samples may be loaded at once.
func (s *Synthetic) PerformanceSampleCount() int {
	return s.perfCount
}

// LoadSamplesToRAM allocates a fresh arena and generates indices into it in
// parallel.
func (s *Synthetic) LoadSamplesToRAM(ctx context.Context, indices []model.SampleIndex) error {
	for _, idx := range indices {
		if int(idx) >= s.total {
			return fmt.Errorf("sample %d >= %d: %w", idx, s.total, ErrSampleOutOfRange)
		}
	}

	n := len(indices)
	sampleBytes := 0
	for _, st := range s.strides {
		sampleBytes += st
	}
	arena := make([]byte, n*sampleBytes)
	regions := make([][]byte, len(s.strides))
	off := 0
	for i, st := range s.strides {
		regions[i] = arena[off : off+n*st : off+n*st]
		off += n * st
	}

	position := make(map[model.SampleIndex]int, n)
	for pos, idx := range indices {
		if _, dup := position[idx]; !dup {
			position[idx] = pos
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for pos, idx := range indices {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			for i, st := range s.strides {
				s.generate(idx, i, regions[i][pos*st:(pos+1)*st])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("load samples: %w", err)
	}

	s.mu.Lock()
	s.arena, s.regions, s.position = arena, regions, position
	s.mu.Unlock()

	s.logger.Debug("samples loaded",
		"dataset", s.spec.Dataset,
		"samples", n,
		"bytes", len(arena),
	)
	return nil
}

// UnloadSamplesFromRAM drops the arena. Items handed out earlier keep their
// own reference to it.
func (s *Synthetic) UnloadSamplesFromRAM(_ []model.SampleIndex) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arena, s.regions, s.position = nil, nil, nil
	return nil
}

// GetSample packs samples into one Item, copying.
func (s *Synthetic) GetSample(samples []model.QuerySample) (model.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pack(samples, false)
}

// GetSamplesBatched splits samples into Items of at most batch samples,
// sharing the arena where possible.
func (s *Synthetic) GetSamplesBatched(samples []model.QuerySample, batch int) ([]model.Item, error) {
	return s.batched(samples, batch, true)
}

// GetSamplesBatchedServer splits samples into Items that own their data.
func (s *Synthetic) GetSamplesBatchedServer(samples []model.QuerySample, batch int) ([]model.Item, error) {
	return s.batched(samples, batch, false)
}

// GetSamplesBatchedMultistream splits samples like GetSamplesBatched.
func (s *Synthetic) GetSamplesBatchedMultistream(samples []model.QuerySample, batch int) ([]model.Item, error) {
	return s.batched(samples, batch, true)
}

func (s *Synthetic) batched(samples []model.QuerySample, batch int, share bool) ([]model.Item, error) {
	if batch <= 0 {
		return nil, fmt.Errorf("batch size %d must be positive", batch)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]model.Item, 0, (len(samples)+batch-1)/batch)
	for start := 0; start < len(samples); start += batch {
		end := min(start+batch, len(samples))
		it, err := s.pack(samples[start:end], share)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, nil
}

// pack builds one Item. Callers hold s.mu.
func (s *Synthetic) pack(samples []model.QuerySample, share bool) (model.Item, error) {
	if len(samples) == 0 {
		return model.Item{}, errors.New("empty sample list")
	}
	if s.position == nil {
		return model.Item{}, ErrNotLoaded
	}

	positions := make([]int, len(samples))
	item := model.Item{
		ResponseIDs:   make([]model.ResponseID, len(samples)),
		SampleIndices: make([]model.SampleIndex, len(samples)),
	}
	contiguous := true
	for j, qs := range samples {
		if int(qs.Index) >= s.total {
			return model.Item{}, fmt.Errorf("sample %d >= %d: %w", qs.Index, s.total, ErrSampleOutOfRange)
		}
		pos, ok := s.position[qs.Index]
		if !ok {
			return model.Item{}, fmt.Errorf("sample %d: %w", qs.Index, ErrNotLoaded)
		}
		positions[j] = pos
		if j > 0 && pos != positions[j-1]+1 {
			contiguous = false
		}
		item.ResponseIDs[j] = qs.ID
		item.SampleIndices[j] = qs.Index
	}

	item.Tensors = make([]model.Tensor, len(s.spec.Inputs))
	for i, in := range s.spec.Inputs {
		st := s.strides[i]
		shape := append([]int{len(samples)}, in.Shape...)

		var data []byte
		if share && contiguous {
			first := positions[0]
			data = s.regions[i][first*st : (first+len(samples))*st : (first+len(samples))*st]
		} else {
			data = make([]byte, len(samples)*st)
			for j, pos := range positions {
				copy(data[j*st:(j+1)*st], s.regions[i][pos*st:(pos+1)*st])
			}
		}
		item.Tensors[i] = model.Tensor{DType: in.DType, Shape: shape, Data: data}
	}
	return item, nil
}

// generate fills dst with input i of sample idx.
func (s *Synthetic) generate(idx model.SampleIndex, i int, dst []byte) {
	in := s.spec.Inputs[i]
	rng := rand.New(rand.NewPCG(s.seed, uint64(idx)<<8|uint64(i)))

	switch in.DType {
	case model.DTypeI32:
		n := len(dst) / 4
		for k := range n {
			var v int32
			switch in.Name {
			case "input_ids":
				v = rng.Int32N(bertVocabSize)
			case "input_mask":
				v = 1
			case "segment_ids":
				if k >= n/2 {
					v = 1
				}
			default:
				v = rng.Int32()
			}
			binary.LittleEndian.PutUint32(dst[k*4:], uint32(v))
		}
	default:
		for k := 0; k+8 <= len(dst); k += 8 {
			binary.LittleEndian.PutUint64(dst[k:], rng.Uint64())
		}
		for k := len(dst) &^ 7; k < len(dst); k++ {
			dst[k] = byte(rng.Uint32())
		}
	}
}
