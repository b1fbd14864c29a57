package scenario

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/seantiz/benchrunner/internal/dataset"
	"github.com/seantiz/benchrunner/internal/model"
)

// ErrInvalidState is returned when a lifecycle call is made from a state that
// does not allow it.
var ErrInvalidState = errors.New("invalid lifecycle state")

// State is a step of a run's lifecycle.
type State string

const (
	StateIdle     State = "idle"
	StateLoading  State = "loading"
	StateWarmup   State = "warmup"
	StateRunning  State = "running"
	StateDraining State = "draining"
	StateReset    State = "reset"
)

// transitions lists the allowed next states for each state.
var transitions = map[State][]State{
	StateIdle:     {StateLoading},
	StateLoading:  {StateWarmup, StateRunning, StateReset},
	StateWarmup:   {StateRunning, StateReset},
	StateRunning:  {StateRunning, StateDraining, StateReset},
	StateDraining: {StateReset},
	StateReset:    {StateIdle},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Controller sequences one scenario through load, warm-up, issue, drain and
// reset. It owns the dataset's load cycle.
type Controller struct {
	scenario Scenario
	dataset  dataset.Provider
	logger   *slog.Logger

	mu     sync.Mutex
	state  State
	loaded []model.SampleIndex
}

// NewController returns a controller in the idle state.
func NewController(s Scenario, ds dataset.Provider, logger *slog.Logger) *Controller {
	return &Controller{
		scenario: s,
		dataset:  ds,
		logger:   logger,
		state:    StateIdle,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Scenario returns the driven scenario.
func (c *Controller) Scenario() Scenario {
	return c.scenario
}

func (c *Controller) transition(to State) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !CanTransition(c.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidState, c.state, to)
	}
	c.logger.Debug("scenario state", "scenario", c.scenario.Name(), "from", c.state, "to", to)
	c.state = to
	return nil
}

// Load makes indices resident. On failure the controller returns to idle.
func (c *Controller) Load(ctx context.Context, indices []model.SampleIndex) error {
	if len(indices) == 0 {
		return errors.New("no samples to load")
	}
	if err := c.transition(StateLoading); err != nil {
		return err
	}
	if err := c.dataset.LoadSamplesToRAM(ctx, indices); err != nil {
		c.Reset()
		return fmt.Errorf("load samples: %w", err)
	}
	c.mu.Lock()
	c.loaded = append(c.loaded[:0], indices...)
	c.mu.Unlock()
	return nil
}

// Warmup runs n warm-up items built from the first loaded sample.
func (c *Controller) Warmup(ctx context.Context, n int) error {
	if err := c.transition(StateWarmup); err != nil {
		return err
	}
	c.mu.Lock()
	sample := c.loaded[0]
	c.mu.Unlock()

	c.logger.Info("warming up", "scenario", c.scenario.Name(), "iterations", n)
	return c.scenario.Warmup(ctx, sample, n)
}

// Issue submits one query.
func (c *Controller) Issue(ctx context.Context, samples []model.QuerySample) error {
	if err := c.transition(StateRunning); err != nil {
		return err
	}
	return c.scenario.Issue(ctx, samples)
}

// Drain flushes outstanding work after the last query.
func (c *Controller) Drain(ctx context.Context) error {
	if err := c.transition(StateDraining); err != nil {
		return err
	}
	return c.scenario.Drain(ctx)
}

// Reset clears the scenario, unloads the samples and returns to idle. It is a
// no-op when already idle.
func (c *Controller) Reset() {
	c.mu.Lock()
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	c.state = StateReset
	loaded := c.loaded
	c.loaded = nil
	c.mu.Unlock()

	c.scenario.Reset()
	if len(loaded) > 0 {
		if err := c.dataset.UnloadSamplesFromRAM(loaded); err != nil {
			c.logger.Warn("unload samples", "error", err)
		}
	}

	if err := c.transition(StateIdle); err != nil {
		c.logger.Error("reset", "error", err)
	}
}
