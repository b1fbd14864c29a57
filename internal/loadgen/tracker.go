package loadgen

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/seantiz/benchrunner/internal/model"
)

// ErrResponseMismatch is reported when a response does not match exactly one
// outstanding sample.
var ErrResponseMismatch = errors.New("response mismatch")

// maxRecordedErrors bounds how many mismatch errors are kept verbatim.
const maxRecordedErrors = 16

type outstanding struct {
	query int
	index model.SampleIndex
}

type query struct {
	issued    time.Time
	remaining int
	latency   time.Duration
}

// Tracker allocates response ids for issued queries and receives their
// completions. It is safe for concurrent use and implements scenario.Sink.
type Tracker struct {
	keepResults bool
	now         func() time.Time

	mu        sync.Mutex
	nextID    model.ResponseID
	pending   map[model.ResponseID]outstanding
	queries   []query
	completed int
	errs      []error
	dropped   int
	results   map[model.SampleIndex][]float32
}

// NewTracker returns an empty tracker. With keepResults every response's data
// is copied and kept by sample index.
func NewTracker(keepResults bool) *Tracker {
	t := &Tracker{
		keepResults: keepResults,
		now:         time.Now,
		nextID:      1,
		pending:     make(map[model.ResponseID]outstanding),
	}
	if keepResults {
		t.results = make(map[model.SampleIndex][]float32)
	}
	return t
}

// NewQuery registers a query over indices and returns its samples with fresh
// response ids. The query's latency clock starts now.
func (t *Tracker) NewQuery(indices []model.SampleIndex) []model.QuerySample {
	t.mu.Lock()
	defer t.mu.Unlock()

	q := len(t.queries)
	t.queries = append(t.queries, query{issued: t.now(), remaining: len(indices)})
	samples := make([]model.QuerySample, len(indices))
	for i, idx := range indices {
		id := t.nextID
		t.nextID++
		t.pending[id] = outstanding{query: q, index: idx}
		samples[i] = model.QuerySample{ID: id, Index: idx}
	}
	return samples
}

// Complete records responses. Unknown and repeated ids are recorded as errors.
func (t *Tracker) Complete(responses []model.Response) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for _, r := range responses {
		o, ok := t.pending[r.ID]
		if !ok {
			t.recordLocked(fmt.Errorf("%w: response id %d is not outstanding", ErrResponseMismatch, r.ID))
			continue
		}
		delete(t.pending, r.ID)
		t.completed++
		if t.keepResults {
			t.results[o.index] = append([]float32(nil), r.Data...)
		}
		q := &t.queries[o.query]
		q.remaining--
		if q.remaining == 0 {
			q.latency = now.Sub(q.issued)
		}
	}
}

func (t *Tracker) recordLocked(err error) {
	if len(t.errs) < maxRecordedErrors {
		t.errs = append(t.errs, err)
		return
	}
	t.dropped++
}

// Outstanding returns how many issued samples have not completed.
func (t *Tracker) Outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Queries returns how many queries were issued.
func (t *Tracker) Queries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queries)
}

// Completed returns how many samples completed.
func (t *Tracker) Completed() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completed
}

// Latencies returns the latency of every finished query in seconds, in issue
// order.
func (t *Tracker) Latencies() []float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]float64, 0, len(t.queries))
	for _, q := range t.queries {
		if q.remaining == 0 {
			out = append(out, q.latency.Seconds())
		}
	}
	return out
}

// Results returns the kept response data by sample index.
func (t *Tracker) Results() map[model.SampleIndex][]float32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.results
}

// Err returns the recorded mismatches, or nil.
func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.errs) == 0 {
		return nil
	}
	err := errors.Join(t.errs...)
	if t.dropped > 0 {
		err = fmt.Errorf("%w (and %d more)", err, t.dropped)
	}
	return err
}
