// Package dataset provides the sample library the scenarios draw Items from.
package dataset

import (
	"context"
	"errors"

	"github.com/seantiz/benchrunner/internal/model"
)

// Errors returned by providers.
var (
	ErrSampleOutOfRange = errors.New("sample index out of range")
	ErrNotLoaded        = errors.New("sample not loaded")
)

// Provider materializes samples into memory and packs them into Items. Each
// Get variant pairs the returned Items' response ids with the given samples in
// order; an Item holds at most batch samples.
type Provider interface {
	// Name identifies the dataset.
	Name() string

	// TotalSampleCount is the size of the full sample set.
	TotalSampleCount() int

	// PerformanceSampleCount is how many samples fit in memory for a run.
	PerformanceSampleCount() int

	// LoadSamplesToRAM materializes indices, replacing any earlier load.
	LoadSamplesToRAM(ctx context.Context, indices []model.SampleIndex) error

	// UnloadSamplesFromRAM releases the loaded samples.
	UnloadSamplesFromRAM(indices []model.SampleIndex) error

	// GetSample packs all of samples into a single Item.
	GetSample(samples []model.QuerySample) (model.Item, error)

	// GetSamplesBatched packs an offline query. Items over contiguously loaded
	// samples share the load buffer instead of copying.
	GetSamplesBatched(samples []model.QuerySample, batch int) ([]model.Item, error)

	// GetSamplesBatchedServer packs a server query. Items always own their data.
	GetSamplesBatchedServer(samples []model.QuerySample, batch int) ([]model.Item, error)

	// GetSamplesBatchedMultistream packs a multi-stream query, locating each
	// sample in the loaded set.
	GetSamplesBatchedMultistream(samples []model.QuerySample, batch int) ([]model.Item, error)
}
