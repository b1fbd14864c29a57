package backend

import (
	"context"

	"github.com/seantiz/benchrunner/internal/model"
)

// Backend is the interface that all inference devices must implement. A device
// (simulated streams, a remote KServe endpoint) compiles a workload into a Model
// which then hands out reusable inference requests.
type Backend interface {
	// Load compiles the workload for this device. The context bounds the load
	// itself, not the lifetime of the returned Model.
	Load(ctx context.Context, spec model.WorkloadSpec) (Model, error)

	// Capabilities reports the device name and how much concurrency it favours.
	Capabilities() Capabilities
}

// Model is a workload compiled for a device.
type Model interface {
	// NewRequest creates a reusable inference context bound to this model.
	NewRequest() (Request, error)

	// OptimalRequests is the number of in-flight requests that saturates the
	// device. It sizes the slot pool unless overridden.
	OptimalRequests() int

	// Close releases device resources. Outstanding requests must have completed.
	Close() error
}

// Request is one reusable asynchronous inference context. At most one
// operation may be outstanding per request.
type Request interface {
	// SetInput binds a tensor to a named model input, replacing any prior binding.
	SetInput(name string, t model.Tensor) error

	// StartAsync begins inference and returns without blocking. done is invoked
	// exactly once, on a goroutine owned by the backend, when the operation ends.
	StartAsync(done func(error))

	// Infer runs inference and blocks until it ends.
	Infer(ctx context.Context) error

	// Output returns a named output tensor of the last completed operation. The
	// tensor is owned by the request and is overwritten by the next operation.
	Output(name string) (model.Tensor, error)
}

// Capabilities describes what a backend supports.
type Capabilities struct {
	Name            string   `json:"name"`
	Device          string   `json:"device"`
	Precisions      []string `json:"precisions"`
	OptimalRequests int      `json:"optimal_requests"`
	Remote          bool     `json:"remote"`
}
