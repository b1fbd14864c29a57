package loadgen

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"golang.org/x/time/rate"
	"gonum.org/v1/gonum/stat"

	"github.com/seantiz/benchrunner/internal/dataset"
	"github.com/seantiz/benchrunner/internal/model"
)

// SUT is the system under test as the load generator drives it.
// *scenario.Controller satisfies it.
type SUT interface {
	Load(ctx context.Context, indices []model.SampleIndex) error
	Warmup(ctx context.Context, n int) error
	Issue(ctx context.Context, samples []model.QuerySample) error
	Drain(ctx context.Context) error
	Reset()
}

// Progress is called after each query is issued.
type Progress func(queries int, elapsed time.Duration)

// Summary describes a finished run.
type Summary struct {
	Scenario model.Scenario `json:"scenario"`
	Mode     Mode           `json:"mode"`
	Queries  int            `json:"queries"`
	Samples  int            `json:"samples"`
	Duration time.Duration  `json:"duration"`
	QPS      float64        `json:"qps"`

	LatencyMean time.Duration `json:"latency_mean"`
	LatencyP50  time.Duration `json:"latency_p50"`
	LatencyP90  time.Duration `json:"latency_p90"`
	LatencyP99  time.Duration `json:"latency_p99"`
	LatencyMax  time.Duration `json:"latency_max"`

	// Results holds each sample's output in accuracy mode.
	Results map[model.SampleIndex][]float32 `json:"-"`
}

// LogValue groups the headline numbers for structured logging.
func (s Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("scenario", string(s.Scenario)),
		slog.String("mode", string(s.Mode)),
		slog.Int("queries", s.Queries),
		slog.Int("samples", s.Samples),
		slog.Duration("duration", s.Duration),
		slog.Float64("qps", s.QPS),
		slog.Duration("p50", s.LatencyP50),
		slog.Duration("p90", s.LatencyP90),
		slog.Duration("p99", s.LatencyP99),
	)
}

// Runner drives one SUT with one settings profile.
type Runner struct {
	sut      SUT
	tracker  *Tracker
	provider dataset.Provider
	settings Settings
	logger   *slog.Logger
	progress Progress
	rng      *rand.Rand
}

// NewRunner validates settings and returns a runner. The tracker must be the
// sink the SUT reports to.
func NewRunner(sut SUT, tracker *Tracker, provider dataset.Provider, settings Settings, logger *slog.Logger) (*Runner, error) {
	settings = settings.WithDefaults()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &Runner{
		sut:      sut,
		tracker:  tracker,
		provider: provider,
		settings: settings,
		logger:   logger,
		rng:      rand.New(rand.NewPCG(settings.Seed, 0x6c6f616467656e)),
	}, nil
}

// OnProgress sets a callback invoked after each issued query.
func (r *Runner) OnProgress(p Progress) {
	r.progress = p
}

// Run executes the test and returns its summary. The SUT is reset before Run
// returns, also on error.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	defer r.sut.Reset()

	start := time.Now()
	var err error
	if r.settings.Mode == ModeAccuracy {
		err = r.runAccuracy(ctx, start)
	} else {
		err = r.runPerformance(ctx, start)
	}
	if err != nil {
		return Summary{}, err
	}
	elapsed := time.Since(start)

	if n := r.tracker.Outstanding(); n > 0 {
		return Summary{}, fmt.Errorf("%w: %d samples never completed", ErrResponseMismatch, n)
	}
	if err := r.tracker.Err(); err != nil {
		return Summary{}, err
	}
	return r.summarize(elapsed), nil
}

// performanceSet picks the samples that stay loaded for the whole test.
func (r *Runner) performanceSet() []model.SampleIndex {
	total := r.provider.TotalSampleCount()
	n := r.provider.PerformanceSampleCount()
	if o := r.settings.PerformanceSampleCount; o > 0 && o < n {
		n = o
	}
	perm := r.rng.Perm(total)[:n]
	set := make([]model.SampleIndex, n)
	for i, p := range perm {
		set[i] = model.SampleIndex(p)
	}
	slices.Sort(set)
	return set
}

func (r *Runner) runPerformance(ctx context.Context, start time.Time) error {
	set := r.performanceSet()
	if err := r.sut.Load(ctx, set); err != nil {
		return err
	}
	if r.settings.WarmupIterations > 0 {
		if err := r.sut.Warmup(ctx, r.settings.WarmupIterations); err != nil {
			return err
		}
	}

	pick := func(n int) []model.SampleIndex {
		out := make([]model.SampleIndex, n)
		for i := range out {
			out[i] = set[r.rng.IntN(len(set))]
		}
		return out
	}
	s := r.settings
	r.logger.Info("issuing queries",
		"scenario", s.Scenario,
		"loaded", len(set),
		"min_queries", s.MinQueryCount,
		"min_duration", s.MinDuration,
	)

	switch s.Scenario {
	case model.Offline:
		n := max(s.MinQueryCount, int(math.Ceil(s.OfflineExpectedQPS*s.MinDuration.Seconds())), 1)
		if err := r.issue(ctx, pick(n), start); err != nil {
			return err
		}
	case model.Server:
		limiter := rate.NewLimiter(rate.Limit(s.TargetQPS), 1)
		for !r.done(start) {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
			if err := r.issue(ctx, pick(1), start); err != nil {
				return err
			}
		}
	default:
		per := 1
		if s.Scenario == model.MultiStream {
			per = s.SamplesPerQuery
		}
		for !r.done(start) {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := r.issue(ctx, pick(per), start); err != nil {
				return err
			}
		}
	}
	return r.sut.Drain(ctx)
}

// done reports whether both minimums are met.
func (r *Runner) done(start time.Time) bool {
	return r.tracker.Queries() >= r.settings.MinQueryCount && time.Since(start) >= r.settings.MinDuration
}

// runAccuracy issues every sample once, one loadable chunk at a time.
func (r *Runner) runAccuracy(ctx context.Context, start time.Time) error {
	total := r.provider.TotalSampleCount()
	chunk := r.provider.PerformanceSampleCount()
	for first := 0; first < total; first += chunk {
		n := min(chunk, total-first)
		indices := make([]model.SampleIndex, n)
		for i := range indices {
			indices[i] = model.SampleIndex(first + i)
		}
		if err := r.sut.Load(ctx, indices); err != nil {
			return err
		}

		per := 1
		switch r.settings.Scenario {
		case model.Offline:
			per = n
		case model.MultiStream:
			per = r.settings.SamplesPerQuery
		}
		for lo := 0; lo < n; lo += per {
			if err := r.issue(ctx, indices[lo:min(lo+per, n)], start); err != nil {
				return err
			}
		}
		if err := r.sut.Drain(ctx); err != nil {
			return err
		}
		r.sut.Reset()
	}
	return nil
}

func (r *Runner) issue(ctx context.Context, indices []model.SampleIndex, start time.Time) error {
	samples := r.tracker.NewQuery(indices)
	if err := r.sut.Issue(ctx, samples); err != nil {
		return err
	}
	if r.progress != nil {
		r.progress(r.tracker.Queries(), time.Since(start))
	}
	return nil
}

func (r *Runner) summarize(elapsed time.Duration) Summary {
	s := Summary{
		Scenario: r.settings.Scenario,
		Mode:     r.settings.Mode,
		Queries:  r.tracker.Queries(),
		Samples:  r.tracker.Completed(),
		Duration: elapsed,
		Results:  r.tracker.Results(),
	}
	if elapsed > 0 {
		s.QPS = float64(s.Samples) / elapsed.Seconds()
	}

	lat := r.tracker.Latencies()
	if len(lat) == 0 {
		return s
	}
	slices.Sort(lat)
	seconds := func(v float64) time.Duration {
		return time.Duration(v * float64(time.Second))
	}
	s.LatencyMean = seconds(stat.Mean(lat, nil))
	s.LatencyP50 = seconds(stat.Quantile(0.50, stat.Empirical, lat, nil))
	s.LatencyP90 = seconds(stat.Quantile(0.90, stat.Empirical, lat, nil))
	s.LatencyP99 = seconds(stat.Quantile(0.99, stat.Empirical, lat, nil))
	s.LatencyMax = seconds(lat[len(lat)-1])
	return s
}
