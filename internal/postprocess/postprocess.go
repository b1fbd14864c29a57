// Package postprocess turns raw model outputs into per-sample result values
// appended to a slot's result buffer.
package postprocess

import (
	"fmt"

	"github.com/seantiz/benchrunner/internal/model"
)

// Outputs gives access to the output tensors of a completed inference.
type Outputs interface {
	Output(name string) (model.Tensor, error)
}

// Func appends the results for every logical sample of item to buf. It must
// not retain outputs after returning.
type Func func(item model.Item, outputs Outputs, buf *model.ResultBuffer) error

// ForWorkload returns the post-processing routine for a workload.
func ForWorkload(name string) (Func, error) {
	switch name {
	case model.WorkloadResNet50:
		return ResNet50, nil
	case model.WorkloadBERT:
		return BERT, nil
	case model.WorkloadRetinaNet:
		return RetinaNet, nil
	default:
		return nil, fmt.Errorf("post-processing for %q: %w", name, model.ErrUnsupportedConfiguration)
	}
}

func floats(outputs Outputs, name string) (model.Tensor, []float32, error) {
	t, err := outputs.Output(name)
	if err != nil {
		return model.Tensor{}, nil, err
	}
	values, err := t.Float32s()
	if err != nil {
		return model.Tensor{}, nil, fmt.Errorf("output %q: %w", name, err)
	}
	return t, values, nil
}

func checkBatch(item model.Item, values []float32, name string) (int, error) {
	batch := item.BatchSize()
	if batch == 0 || len(item.ResponseIDs) != batch {
		return 0, fmt.Errorf("item has %d samples and %d response ids", batch, len(item.ResponseIDs))
	}
	if len(values)%batch != 0 {
		return 0, fmt.Errorf("output %q has %d values, not divisible by batch %d", name, len(values), batch)
	}
	return len(values) / batch, nil
}
