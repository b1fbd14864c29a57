package model

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// Run status constants.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// validTransitions maps each status to the set of statuses it may transition to.
var validTransitions = map[string]map[string]bool{
	StatusPending: {
		StatusRunning: true,
		StatusFailed:  true,
	},
	StatusRunning: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
}

// ValidTransition reports whether transitioning from one status to another is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// IsTerminal reports whether status is a final run status.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// NewID generates a new ULID string for use as an entity identifier.
func NewID() string {
	return ulid.Make().String()
}

// LogLine represents a single persisted progress line from a benchmark run.
type LogLine struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Seq       int       `json:"seq"`
	Line      string    `json:"line"`
	CreatedAt time.Time `json:"created_at"`
}

// Run is one bounded benchmark execution of a workload under a scenario.
type Run struct {
	ID               string     `json:"id"`
	Status           string     `json:"status"`
	Scenario         string     `json:"scenario"`
	Workload         string     `json:"workload"`
	Backend          string     `json:"backend"`
	Mode             string     `json:"mode"`
	BatchSize        int        `json:"batch_size"`
	Slots            int        `json:"slots"`
	TimeoutS         *int       `json:"timeout_s,omitempty"`
	QueriesIssued    int        `json:"queries_issued"`
	SamplesCompleted int        `json:"samples_completed"`
	DurationMS       *int       `json:"duration_ms,omitempty"`
	QPS              float64    `json:"qps"`
	LatencyP50MS     float64    `json:"latency_p50_ms"`
	LatencyP90MS     float64    `json:"latency_p90_ms"`
	LatencyP99MS     float64    `json:"latency_p99_ms"`
	Error            string     `json:"error,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
}
