package kserve

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/benchrunner/internal/backend"
	"github.com/seantiz/benchrunner/internal/model"
)

// Backend constants.
const (
	// BackendName is the name used when registering with the backend registry.
	BackendName = "kserve"

	// DefaultConcurrency is the optimal request count reported when none is configured.
	DefaultConcurrency = 8

	// DefaultTimeout bounds one HTTP inference call.
	DefaultTimeout = 30 * time.Second
)

// ErrClosed is returned for work started on a closed model.
var ErrClosed = errors.New("model is closed")

var requestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "benchrunner_kserve_request_seconds",
		Help:    "Duration of KServe v2 inference calls, in seconds.",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"code"},
)

func init() {
	prometheus.MustRegister(requestDuration)
}

// Config holds configuration for a remote KServe v2 endpoint.
type Config struct {
	// BaseURL is the server root, e.g. http://localhost:8080.
	BaseURL string

	// ModelName overrides the served model name. Defaults to the workload name.
	ModelName string

	// Concurrency is the optimal number of in-flight requests.
	Concurrency int

	// Timeout bounds one inference call.
	Timeout time.Duration

	// Client is the HTTP client to use. Defaults to a client with Timeout.
	Client *http.Client
}

// Backend implements backend.Backend against a server speaking the KServe v2
// (Open Inference Protocol) REST API.
type Backend struct {
	cfg    Config
	logger *slog.Logger
}

var _ backend.Backend = (*Backend)(nil)

// NewBackend creates a KServe backend.
func NewBackend(cfg Config, logger *slog.Logger) (*Backend, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("kserve base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse kserve base URL: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Backend{cfg: cfg, logger: logger}, nil
}

// Capabilities reports the remote endpoint's properties.
func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Name:            BackendName,
		Device:          b.cfg.BaseURL,
		Precisions:      []string{string(model.DTypeF32), string(model.DTypeF16)},
		OptimalRequests: b.cfg.Concurrency,
		Remote:          true,
	}
}

// Load checks that the served model is ready.
func (b *Backend) Load(ctx context.Context, spec model.WorkloadSpec) (backend.Model, error) {
	name := b.cfg.ModelName
	if name == "" {
		name = spec.Name
	}
	modelURL := b.cfg.BaseURL + "/v2/models/" + url.PathEscape(name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, modelURL+"/ready", nil)
	if err != nil {
		return nil, fmt.Errorf("build readiness request: %w", err)
	}
	resp, err := b.cfg.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("check model %q readiness: %w", name, err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("model %q not ready: status %d", name, resp.StatusCode)
	}

	b.logger.Info("kserve model ready", "model", name, "url", modelURL)
	return &Model{
		spec:     spec,
		name:     name,
		inferURL: modelURL + "/infer",
		cfg:      b.cfg,
		closed:   make(chan struct{}),
	}, nil
}

// Model is a served model on a remote KServe endpoint.
type Model struct {
	spec     model.WorkloadSpec
	name     string
	inferURL string
	cfg      Config

	wg        sync.WaitGroup
	closed    chan struct{}
	closeOnce sync.Once
}

var _ backend.Model = (*Model)(nil)

// NewRequest creates a reusable inference context.
func (m *Model) NewRequest() (backend.Request, error) {
	return &request{
		m:       m,
		inputs:  make(map[string]model.Tensor, len(m.spec.Inputs)),
		outputs: make(map[string]model.Tensor, len(m.spec.Outputs)),
	}, nil
}

// OptimalRequests returns the configured concurrency.
func (m *Model) OptimalRequests() int {
	return m.cfg.Concurrency
}

// Close waits for in-flight asynchronous calls.
func (m *Model) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	m.wg.Wait()
	return nil
}

type request struct {
	m       *Model
	seq     int
	inputs  map[string]model.Tensor
	outputs map[string]model.Tensor
}

var _ backend.Request = (*request)(nil)

func (r *request) SetInput(name string, t model.Tensor) error {
	for _, in := range r.m.spec.Inputs {
		if in.Name == name {
			r.inputs[name] = t
			return nil
		}
	}
	return fmt.Errorf("unknown input %q", name)
}

func (r *request) StartAsync(done func(error)) {
	select {
	case <-r.m.closed:
		go done(ErrClosed)
		return
	default:
	}
	r.m.wg.Go(func() {
		done(r.Infer(context.Background()))
	})
}

func (r *request) Infer(ctx context.Context) error {
	body := InferRequest{
		Inputs:  make([]TensorData, 0, len(r.m.spec.Inputs)),
		Outputs: make([]RequestedOutput, 0, len(r.m.spec.Outputs)),
	}
	r.seq++
	body.ID = strconv.Itoa(r.seq)

	for _, in := range r.m.spec.Inputs {
		t, ok := r.inputs[in.Name]
		if !ok {
			return fmt.Errorf("input %q is not bound", in.Name)
		}
		td, err := EncodeTensor(in.Name, t)
		if err != nil {
			return err
		}
		body.Inputs = append(body.Inputs, td)
	}
	for _, out := range r.m.spec.Outputs {
		body.Outputs = append(body.Outputs, RequestedOutput{Name: out.Name})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal infer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.m.inferURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build infer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := r.m.cfg.Client.Do(req)
	if err != nil {
		requestDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return fmt.Errorf("infer %q: %w", r.m.name, err)
	}
	defer resp.Body.Close()
	requestDuration.WithLabelValues(strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
	if err != nil {
		return fmt.Errorf("read infer response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var e ErrorResponse
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("infer %q: status %d: %s", r.m.name, resp.StatusCode, e.Error)
		}
		return fmt.Errorf("infer %q: status %d", r.m.name, resp.StatusCode)
	}

	var out InferResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("decode infer response: %w", err)
	}
	for _, td := range out.Outputs {
		t, err := DecodeTensor(td)
		if err != nil {
			return err
		}
		r.outputs[td.Name] = t
	}
	return nil
}

func (r *request) Output(name string) (model.Tensor, error) {
	t, ok := r.outputs[name]
	if !ok {
		return model.Tensor{}, fmt.Errorf("output %q missing from response", name)
	}
	return t, nil
}
