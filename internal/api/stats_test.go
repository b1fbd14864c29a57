package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/seantiz/benchrunner/internal/model"
)

func TestGetStatsEmpty(t *testing.T) {
	srv := newTestServer(t)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var stats statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if stats.Total != 0 {
		t.Errorf("total = %d, want 0", stats.Total)
	}
	if stats.AvgDurationMS != 0 {
		t.Errorf("avg_duration_ms = %f, want 0", stats.AvgDurationMS)
	}
}

func TestGetStatsPopulated(t *testing.T) {
	srv := newTestServer(t)
	ctx := context.Background()

	for _, qps := range []float64{10, 20, 30} {
		r := storeRun(t, srv, model.Offline, model.StatusRunning)
		dur := 100
		completed := &model.Run{
			ID: r.ID, Status: model.StatusCompleted, QPS: qps,
			DurationMS: &dur, FinishedAt: ptrTime(time.Now()),
		}
		if err := srv.store.UpdateRun(ctx, completed); err != nil {
			t.Fatalf("UpdateRun: %v", err)
		}
	}

	// One failed server run.
	storeRun(t, srv, model.Server, model.StatusFailed)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/stats")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var stats statsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if stats.Total != 4 {
		t.Errorf("total = %d, want 4", stats.Total)
	}
	if stats.ByStatus["completed"] != 3 {
		t.Errorf("by_status[completed] = %d, want 3", stats.ByStatus["completed"])
	}
	if stats.ByStatus["failed"] != 1 {
		t.Errorf("by_status[failed] = %d, want 1", stats.ByStatus["failed"])
	}
	if stats.ByScenario[string(model.Offline)] != 3 {
		t.Errorf("by_scenario[Offline] = %d, want 3", stats.ByScenario[string(model.Offline)])
	}
	if stats.ByScenario[string(model.Server)] != 1 {
		t.Errorf("by_scenario[Server] = %d, want 1", stats.ByScenario[string(model.Server)])
	}
	if stats.ByBackend["sim"] != 4 {
		t.Errorf("by_backend[sim] = %d, want 4", stats.ByBackend["sim"])
	}
	if stats.AvgDurationMS != 100 {
		t.Errorf("avg_duration_ms = %f, want 100", stats.AvgDurationMS)
	}
	if stats.AvgQPS != 20 {
		t.Errorf("avg_qps = %f, want 20", stats.AvgQPS)
	}
}

func ptrTime(t time.Time) *time.Time { return &t }
