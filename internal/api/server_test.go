package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seantiz/benchrunner/internal/backend"
	"github.com/seantiz/benchrunner/internal/backend/sim"
	"github.com/seantiz/benchrunner/internal/engine"
	"github.com/seantiz/benchrunner/internal/model"
	"github.com/seantiz/benchrunner/internal/store"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	reg := backend.NewRegistry()
	reg.Register("sim", sim.NewBackend(sim.Config{Streams: 2, Latency: time.Millisecond}, logger))

	eng := engine.NewEngine(s, reg, engine.Options{TotalSamples: 32, PerfSamples: 8, Seed: 1}, logger)
	t.Cleanup(eng.Wait)
	return NewServer(":0", s, reg, eng, logger)
}

// storeRun inserts a run directly and walks it through statuses.
func storeRun(t *testing.T, srv *Server, scenario model.Scenario, statuses ...string) *model.Run {
	t.Helper()
	ctx := context.Background()
	r := &model.Run{
		ID:        model.NewID(),
		Status:    model.StatusPending,
		Scenario:  string(scenario),
		Workload:  model.WorkloadResNet50,
		Backend:   "sim",
		Mode:      "performance",
		BatchSize: 1,
		CreatedAt: time.Now().UTC(),
	}
	if err := srv.store.CreateRun(ctx, r); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	for _, st := range statuses {
		if err := srv.store.UpdateRunStatus(ctx, r.ID, st); err != nil {
			t.Fatalf("→%s: %v", st, err)
		}
		r.Status = st
	}
	return r
}

func TestRequestIDHeader(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/test")
	if err != nil {
		t.Fatalf("GET /test: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestPanicRecovery(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("test panic")
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/panic")
	if err != nil {
		t.Fatalf("GET /panic: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := newTestServer(t)
	srv.Router().Get("/test", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	req, _ := http.NewRequest("OPTIONS", ts.URL+"/test", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "GET")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS /test: %v", err)
	}
	defer resp.Body.Close()

	if v := resp.Header.Get("Access-Control-Allow-Origin"); v != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", v, "*")
	}
}

func TestListBackends(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/backends")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var backends []backend.BackendInfo
	decodeBody(t, resp, &backends)
	if len(backends) != 1 || backends[0].Name != "sim" {
		t.Errorf("backends = %+v, want only sim", backends)
	}
}

func TestListWorkloads(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/workloads")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var workloads []workloadInfo
	decodeBody(t, resp, &workloads)
	if len(workloads) != len(model.Workloads()) {
		t.Fatalf("got %d workloads, want %d", len(workloads), len(model.Workloads()))
	}
	for _, w := range workloads {
		if len(w.Inputs) == 0 || len(w.Outputs) == 0 {
			t.Errorf("workload %s has no tensors", w.Name)
		}
		if len(w.Scenarios) != len(model.Scenarios) {
			t.Errorf("workload %s scenarios = %v", w.Name, w.Scenarios)
		}
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	srv := newTestServer(t)
	srv.addr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil after cancel", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
