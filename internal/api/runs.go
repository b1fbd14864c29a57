package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/benchrunner/internal/engine"
	"github.com/seantiz/benchrunner/internal/loadgen"
	"github.com/seantiz/benchrunner/internal/model"
	"github.com/seantiz/benchrunner/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// createRunRequest is the JSON body for POST /v1/runs.
type createRunRequest struct {
	Scenario  string       `json:"scenario"`
	Workload  string       `json:"workload"`
	Backend   string       `json:"backend"`
	Mode      string       `json:"mode"`
	BatchSize int          `json:"batch_size"`
	Slots     int          `json:"slots"`
	TimeoutS  *int         `json:"timeout_s"`
	Settings  *settingsReq `json:"settings"`
}

// settingsReq overrides load generator settings. Zero fields keep the
// scenario defaults.
type settingsReq struct {
	MinQueryCount          int     `json:"min_query_count"`
	MinDurationMS          int     `json:"min_duration_ms"`
	TargetQPS              float64 `json:"target_qps"`
	SamplesPerQuery        int     `json:"samples_per_query"`
	OfflineExpectedQPS     float64 `json:"offline_expected_qps"`
	PerformanceSampleCount int     `json:"performance_sample_count"`
	WarmupIterations       int     `json:"warmup_iterations"`
	Seed                   uint64  `json:"seed"`
}

func (r *settingsReq) settings() loadgen.Settings {
	if r == nil {
		return loadgen.Settings{}
	}
	return loadgen.Settings{
		MinQueryCount:          r.MinQueryCount,
		MinDuration:            time.Duration(r.MinDurationMS) * time.Millisecond,
		TargetQPS:              r.TargetQPS,
		SamplesPerQuery:        r.SamplesPerQuery,
		OfflineExpectedQPS:     r.OfflineExpectedQPS,
		PerformanceSampleCount: r.PerformanceSampleCount,
		WarmupIterations:       r.WarmupIterations,
		Seed:                   r.Seed,
	}
}

// listRunsResponse wraps the paginated list response.
type listRunsResponse struct {
	Runs   []*model.Run `json:"runs"`
	Total  int          `json:"total"`
	Limit  int          `json:"limit"`
	Offset int          `json:"offset"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Scenario == "" || req.Workload == "" || req.Backend == "" {
		s.writeError(w, http.StatusBadRequest, "scenario, workload and backend are required")
		return
	}
	if req.TimeoutS != nil && *req.TimeoutS <= 0 {
		s.writeError(w, http.StatusBadRequest, "timeout_s must be positive")
		return
	}

	scenario, err := model.ParseScenario(req.Scenario)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.BatchSize == 0 {
		req.BatchSize = 1
	}

	run := &model.Run{
		ID:        model.NewID(),
		Status:    model.StatusPending,
		Scenario:  string(scenario),
		Workload:  req.Workload,
		Backend:   req.Backend,
		Mode:      req.Mode,
		BatchSize: req.BatchSize,
		Slots:     req.Slots,
		TimeoutS:  req.TimeoutS,
		CreatedAt: time.Now().UTC(),
	}

	if err := s.engine.Submit(r.Context(), run, req.Settings.settings()); err != nil {
		if errors.Is(err, engine.ErrInvalidPlan) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("submit run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit run")
		return
	}

	runsSubmittedTotal.WithLabelValues(run.Scenario, run.Workload, run.Backend).Inc()
	s.writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if run, ok := s.runOr404(w, r); ok {
		s.writeJSON(w, http.StatusOK, run)
	}
}

// runOr404 loads the run named by the {id} URL parameter. On failure it writes
// the error response and returns false.
func (s *Server) runOr404(w http.ResponseWriter, r *http.Request) (*model.Run, bool) {
	id := chi.URLParam(r, "id")
	run, err := s.getRun(r, id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "run not found")
		return nil, false
	case err != nil:
		s.logger.Error("get run", "run_id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return nil, false
	}
	return run, true
}

// getRun returns a run, serving finished runs from the cache.
func (s *Server) getRun(r *http.Request, id string) (*model.Run, error) {
	if run, ok := s.finished.Get(id); ok {
		return run, nil
	}
	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if model.IsTerminal(run.Status) {
		s.finished.Add(id, run)
	}
	return run, nil
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	runs, total, err := s.store.ListRuns(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	if runs == nil {
		runs = []*model.Run{}
	}

	s.writeJSON(w, http.StatusOK, listRunsResponse{
		Runs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
