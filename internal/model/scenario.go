package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedConfiguration is returned for an unknown scenario, workload or
// device. It is raised at setup, before any slot exists.
var ErrUnsupportedConfiguration = errors.New("unsupported configuration")

// Scenario names a load pattern dictated by the harness.
type Scenario string

// Supported scenarios.
const (
	SingleStream Scenario = "SingleStream"
	Offline      Scenario = "Offline"
	MultiStream  Scenario = "MultiStream"
	Server       Scenario = "Server"
)

// Scenarios lists every supported scenario.
var Scenarios = []Scenario{SingleStream, Offline, MultiStream, Server}

// ParseScenario resolves a scenario name case-insensitively.
func ParseScenario(name string) (Scenario, error) {
	for _, s := range Scenarios {
		if strings.EqualFold(string(s), name) {
			return s, nil
		}
	}
	return "", fmt.Errorf("scenario %q: %w", name, ErrUnsupportedConfiguration)
}

// ClosedLoop reports whether the scenario drains a wave of work before
// returning to the harness.
func (s Scenario) ClosedLoop() bool {
	return s == Offline || s == MultiStream
}
