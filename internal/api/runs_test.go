package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/seantiz/benchrunner/internal/model"
)

const quickRunBody = `{"scenario":"offline","workload":"resnet50","backend":"sim","batch_size":2,
	"settings":{"min_query_count":16,"min_duration_ms":1,"warmup_iterations":1}}`

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func postRun(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/v1/runs", "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST /v1/runs: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// waitForRun polls GET /v1/runs/{id} until the run reaches a terminal status.
func waitForRun(t *testing.T, ts *httptest.Server, id string) *model.Run {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, err := http.Get(ts.URL + "/v1/runs/" + id)
		if err != nil {
			t.Fatalf("GET run: %v", err)
		}
		var r model.Run
		decodeBody(t, resp, &r)
		resp.Body.Close()
		if model.IsTerminal(r.Status) {
			return &r
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("run %s did not finish", id)
	return nil
}

func TestCreateRunValid(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postRun(t, ts, quickRunBody)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}

	var r model.Run
	decodeBody(t, resp, &r)
	if len(r.ID) != 26 {
		t.Errorf("ID length = %d, want 26", len(r.ID))
	}
	if r.Status != model.StatusPending {
		t.Errorf("Status = %q, want %q", r.Status, model.StatusPending)
	}
	if r.Scenario != string(model.Offline) {
		t.Errorf("Scenario = %q, want the canonical %q", r.Scenario, model.Offline)
	}
	if r.Mode != "performance" {
		t.Errorf("Mode = %q, want performance", r.Mode)
	}

	done := waitForRun(t, ts, r.ID)
	if done.Status != model.StatusCompleted {
		t.Fatalf("Status = %q (%s), want completed", done.Status, done.Error)
	}
	if done.QueriesIssued != 1 {
		t.Errorf("QueriesIssued = %d, want a single offline query", done.QueriesIssued)
	}
	if done.SamplesCompleted < 16 {
		t.Errorf("SamplesCompleted = %d, want at least 16", done.SamplesCompleted)
	}
}

func TestCreateRunRejected(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "not json"},
		{"missing backend", `{"scenario":"offline","workload":"resnet50"}`},
		{"unknown scenario", `{"scenario":"burst","workload":"resnet50","backend":"sim"}`},
		{"unknown workload", `{"scenario":"server","workload":"gpt","backend":"sim"}`},
		{"negative batch", `{"scenario":"server","workload":"resnet50","backend":"sim","batch_size":-1}`},
		{"bad timeout", `{"scenario":"server","workload":"resnet50","backend":"sim","timeout_s":0}`},
		{"bad settings", `{"scenario":"server","workload":"resnet50","backend":"sim","settings":{"target_qps":-5}}`},
		{"bad mode", `{"scenario":"server","workload":"resnet50","backend":"sim","mode":"fast"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t)
			ts := httptest.NewServer(srv.Router())
			defer ts.Close()

			resp := postRun(t, ts, tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}

			var errResp map[string]string
			decodeBody(t, resp, &errResp)
			if errResp["error"] == "" {
				t.Error("expected error message in response")
			}

			_, total, err := srv.store.ListRuns(t.Context(), 10, 0)
			if err != nil {
				t.Fatalf("ListRuns: %v", err)
			}
			if total != 0 {
				t.Errorf("rejected run was stored")
			}
		})
	}
}

func TestCreateRunUnsupportedScenarioMessage(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp := postRun(t, ts, `{"scenario":"burst","workload":"resnet50","backend":"sim"}`)
	var errResp map[string]string
	decodeBody(t, resp, &errResp)
	if !strings.Contains(errResp["error"], model.ErrUnsupportedConfiguration.Error()) {
		t.Errorf("error = %q, want it to name the unsupported configuration", errResp["error"])
	}
}

func TestCreateRunRateLimited(t *testing.T) {
	srv := newTestServer(t)
	srv.submit = rate.NewLimiter(0, 1)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	first := postRun(t, ts, "not json")
	if first.StatusCode != http.StatusBadRequest {
		t.Fatalf("first status = %d, want 400", first.StatusCode)
	}
	second := postRun(t, ts, "not json")
	if second.StatusCode != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want 429", second.StatusCode)
	}
	if second.Header.Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}

func TestGetRunExisting(t *testing.T) {
	srv := newTestServer(t)
	r := storeRun(t, srv, model.Server)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runs/" + r.ID)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got model.Run
	decodeBody(t, resp, &got)
	if got.ID != r.ID || got.Scenario != string(model.Server) {
		t.Errorf("got %+v, want run %s", got, r.ID)
	}
	if srv.finished.Contains(r.ID) {
		t.Error("pending run was cached")
	}
}

func TestGetRunCachesFinished(t *testing.T) {
	srv := newTestServer(t)
	r := storeRun(t, srv, model.Offline, model.StatusFailed)

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runs/" + r.ID)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()

	cached, ok := srv.finished.Get(r.ID)
	if !ok {
		t.Fatal("finished run was not cached")
	}
	if cached.Status != model.StatusFailed {
		t.Errorf("cached status = %q, want failed", cached.Status)
	}
}

func TestGetRunNotFound(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runs/nonexistent")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListRunsEmpty(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runs")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var list listRunsResponse
	decodeBody(t, resp, &list)
	if list.Runs == nil {
		t.Error("runs = null, want an empty array")
	}
	if list.Total != 0 {
		t.Errorf("total = %d, want 0", list.Total)
	}
	if list.Limit != defaultListLimit {
		t.Errorf("limit = %d, want %d", list.Limit, defaultListLimit)
	}
}

func TestListRunsPagination(t *testing.T) {
	srv := newTestServer(t)
	for range 5 {
		storeRun(t, srv, model.SingleStream)
	}

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/v1/runs?limit=2&offset=1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var list listRunsResponse
	decodeBody(t, resp, &list)
	if len(list.Runs) != 2 {
		t.Errorf("len(runs) = %d, want 2", len(list.Runs))
	}
	if list.Total != 5 {
		t.Errorf("total = %d, want 5", list.Total)
	}
	if list.Offset != 1 {
		t.Errorf("offset = %d, want 1", list.Offset)
	}
}

func TestListRunsClampsLimit(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for _, q := range []string{"limit=0", "limit=1000", "limit=abc", "offset=-3"} {
		resp, err := http.Get(fmt.Sprintf("%s/v1/runs?%s", ts.URL, q))
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		var list listRunsResponse
		decodeBody(t, resp, &list)
		resp.Body.Close()
		if list.Limit != defaultListLimit || list.Offset != 0 {
			t.Errorf("%s: limit=%d offset=%d, want %d and 0", q, list.Limit, list.Offset, defaultListLimit)
		}
	}
}
