// Package loadgen is a small in-process load generator. It picks the sample
// set, issues queries in the pattern a scenario calls for, checks that every
// sample is answered exactly once and summarizes latency and throughput.
package loadgen

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/seantiz/benchrunner/internal/model"
)

// Mode selects what a run measures.
type Mode string

const (
	// ModePerformance issues queries from the loaded sample set until the
	// minimum query count and duration are both met.
	ModePerformance Mode = "performance"

	// ModeAccuracy issues every sample exactly once and keeps the results.
	ModeAccuracy Mode = "accuracy"
)

// Settings control one run. Zero fields take the defaults of DefaultSettings.
type Settings struct {
	Scenario model.Scenario `yaml:"scenario"`
	Mode     Mode           `yaml:"mode"`

	// MinQueryCount is the least number of queries issued. For offline it is
	// the least number of samples in the single query.
	MinQueryCount int `yaml:"min_query_count"`

	// MinDuration is the least time spent issuing queries.
	MinDuration time.Duration `yaml:"min_duration"`

	// TargetQPS paces the server scenario.
	TargetQPS float64 `yaml:"target_qps"`

	// SamplesPerQuery sizes multi-stream queries.
	SamplesPerQuery int `yaml:"samples_per_query"`

	// OfflineExpectedQPS sizes the offline query together with MinDuration.
	OfflineExpectedQPS float64 `yaml:"offline_expected_qps"`

	// PerformanceSampleCount overrides the dataset's loadable sample count.
	PerformanceSampleCount int `yaml:"performance_sample_count"`

	WarmupIterations int    `yaml:"warmup_iterations"`
	Seed             uint64 `yaml:"seed"`
}

// DefaultSettings returns the defaults for scenario.
func DefaultSettings(scenario model.Scenario) Settings {
	return Settings{
		Scenario:           scenario,
		Mode:               ModePerformance,
		MinQueryCount:      64,
		MinDuration:        time.Second,
		TargetQPS:          100,
		SamplesPerQuery:    8,
		OfflineExpectedQPS: 100,
		WarmupIterations:   10,
	}
}

// WithDefaults fills zero fields from DefaultSettings.
func (s Settings) WithDefaults() Settings {
	d := DefaultSettings(s.Scenario)
	if s.Mode == "" {
		s.Mode = d.Mode
	}
	if s.MinQueryCount == 0 {
		s.MinQueryCount = d.MinQueryCount
	}
	if s.MinDuration == 0 {
		s.MinDuration = d.MinDuration
	}
	if s.TargetQPS == 0 {
		s.TargetQPS = d.TargetQPS
	}
	if s.SamplesPerQuery == 0 {
		s.SamplesPerQuery = d.SamplesPerQuery
	}
	if s.OfflineExpectedQPS == 0 {
		s.OfflineExpectedQPS = d.OfflineExpectedQPS
	}
	return s
}

// Validate checks that s describes a runnable test.
func (s Settings) Validate() error {
	var errs []error
	if _, err := model.ParseScenario(string(s.Scenario)); err != nil {
		errs = append(errs, err)
	}
	if s.Mode != ModePerformance && s.Mode != ModeAccuracy {
		errs = append(errs, fmt.Errorf("unknown mode %q", s.Mode))
	}
	if s.MinQueryCount < 0 {
		errs = append(errs, fmt.Errorf("min_query_count %d is negative", s.MinQueryCount))
	}
	if s.MinDuration < 0 {
		errs = append(errs, fmt.Errorf("min_duration %s is negative", s.MinDuration))
	}
	if s.TargetQPS < 0 {
		errs = append(errs, fmt.Errorf("target_qps %g is negative", s.TargetQPS))
	}
	if s.SamplesPerQuery < 0 {
		errs = append(errs, fmt.Errorf("samples_per_query %d is negative", s.SamplesPerQuery))
	}
	if s.WarmupIterations < 0 {
		errs = append(errs, fmt.Errorf("warmup_iterations %d is negative", s.WarmupIterations))
	}
	return errors.Join(errs...)
}

// LoadSettings reads a YAML settings file for scenario. Keys under the
// scenario's own section override the top-level ones:
//
//	min_duration: 10s
//	Server:
//	  target_qps: 250
func LoadSettings(path string, scenario model.Scenario) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}
	return ParseSettings(data, scenario)
}

// ParseSettings decodes YAML settings for scenario.
func ParseSettings(data []byte, scenario model.Scenario) (Settings, error) {
	s := Settings{Scenario: scenario}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}

	var sections map[string]yaml.Node
	if err := yaml.Unmarshal(data, &sections); err != nil {
		return Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	for key, node := range sections {
		if !strings.EqualFold(key, string(scenario)) || node.Kind != yaml.MappingNode {
			continue
		}
		if err := node.Decode(&s); err != nil {
			return Settings{}, fmt.Errorf("parse %s settings: %w", scenario, err)
		}
	}
	s.Scenario = scenario

	s = s.WithDefaults()
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}
