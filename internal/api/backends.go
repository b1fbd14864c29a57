package api

import (
	"net/http"

	"github.com/seantiz/benchrunner/internal/model"
)

func (s *Server) handleListBackends(w http.ResponseWriter, _ *http.Request) {
	backends := s.registry.List()
	s.writeJSON(w, http.StatusOK, backends)
}

// workloadInfo describes one benchmarkable workload.
type workloadInfo struct {
	Name      string             `json:"name"`
	Dataset   string             `json:"dataset"`
	Inputs    []model.TensorSpec `json:"inputs"`
	Outputs   []model.TensorSpec `json:"outputs"`
	Scenarios []model.Scenario   `json:"scenarios"`
}

func (s *Server) handleListWorkloads(w http.ResponseWriter, _ *http.Request) {
	specs := model.Workloads()
	out := make([]workloadInfo, len(specs))
	for i, spec := range specs {
		out[i] = workloadInfo{
			Name:      spec.Name,
			Dataset:   spec.Dataset,
			Inputs:    spec.Inputs,
			Outputs:   spec.Outputs,
			Scenarios: model.Scenarios,
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}
