package sim

import (
	"time"

	"github.com/seantiz/benchrunner/internal/model"
)

// Backend constants.
const (
	// BackendName is the name used when registering with the backend registry.
	BackendName = "sim"

	// DefaultStreams is the number of execution streams when none is configured.
	DefaultStreams = 4

	// DefaultLatency is the base duration of one simulated operation.
	DefaultLatency = 2 * time.Millisecond

	// maxRequests bounds how many requests one compiled model hands out. The
	// job queue is sized to it so StartAsync never blocks.
	maxRequests = 1024

	// detections is the row count substituted for dynamic output dimensions.
	detections = 16
)

// Config holds configuration for the simulated device.
type Config struct {
	// Streams is the number of execution streams, each a goroutine that runs
	// one operation at a time. It is also the device's optimal request count.
	Streams int

	// Latency is the base duration of every operation.
	Latency time.Duration

	// PerSample is added to Latency once per sample in the batch.
	PerSample time.Duration

	// Precision is the element type of floating point outputs: f32 or f16.
	Precision model.DType

	// FailAfter makes every operation after the first FailAfter fail. Zero
	// disables fault injection.
	FailAfter int
}

func (c Config) withDefaults() Config {
	if c.Streams <= 0 {
		c.Streams = DefaultStreams
	}
	if c.Latency < 0 {
		c.Latency = 0
	}
	if c.Precision == "" {
		c.Precision = model.DTypeF32
	}
	return c
}
