package model

import (
	"fmt"
	"sort"
)

// Workload names.
const (
	WorkloadResNet50  = "resnet50"
	WorkloadRetinaNet = "retinanet"
	WorkloadBERT      = "bert"
)

// RetinaNet geometry shared by the dataset and post-processing.
const (
	RetinaNetImageSize      = 800
	RetinaNetMaxDetections  = 100
	RetinaNetScoreThreshold = 0.05
)

// BERTSequenceLength is the token count of every bert sample.
const BERTSequenceLength = 384

// TensorSpec describes one named model input or output. A dimension of -1 is
// dynamic.
type TensorSpec struct {
	Name  string `json:"name"`
	DType DType  `json:"dtype"`
	Shape []int  `json:"shape"`
}

// WorkloadSpec describes a benchmarked model and the dataset that feeds it.
type WorkloadSpec struct {
	Name    string       `json:"name"`
	Dataset string       `json:"dataset"`
	Inputs  []TensorSpec `json:"inputs"`
	Outputs []TensorSpec `json:"outputs"`
}

// InputNames returns the input tensor names in binding order.
func (w WorkloadSpec) InputNames() []string {
	names := make([]string, len(w.Inputs))
	for i, in := range w.Inputs {
		names[i] = in.Name
	}
	return names
}

// OutputNames returns the output tensor names.
func (w WorkloadSpec) OutputNames() []string {
	names := make([]string, len(w.Outputs))
	for i, out := range w.Outputs {
		names[i] = out.Name
	}
	return names
}

var workloads = map[string]WorkloadSpec{
	WorkloadResNet50: {
		Name:    WorkloadResNet50,
		Dataset: "imagenet",
		Inputs: []TensorSpec{
			{Name: "input_tensor:0", DType: DTypeU8, Shape: []int{3, 224, 224}},
		},
		Outputs: []TensorSpec{
			{Name: "softmax_tensor:0", DType: DTypeF32, Shape: []int{1001}},
		},
	},
	WorkloadRetinaNet: {
		Name:    WorkloadRetinaNet,
		Dataset: "openimages",
		Inputs: []TensorSpec{
			{Name: "images", DType: DTypeU8, Shape: []int{3, RetinaNetImageSize, RetinaNetImageSize}},
		},
		Outputs: []TensorSpec{
			{Name: "boxes", DType: DTypeF32, Shape: []int{-1, 4}},
			{Name: "scores", DType: DTypeF32, Shape: []int{-1}},
			{Name: "labels", DType: DTypeI64, Shape: []int{-1}},
		},
	},
	WorkloadBERT: {
		Name:    WorkloadBERT,
		Dataset: "squad",
		Inputs: []TensorSpec{
			{Name: "input_ids", DType: DTypeI32, Shape: []int{BERTSequenceLength}},
			{Name: "input_mask", DType: DTypeI32, Shape: []int{BERTSequenceLength}},
			{Name: "segment_ids", DType: DTypeI32, Shape: []int{BERTSequenceLength}},
		},
		Outputs: []TensorSpec{
			{Name: "output_start_logits", DType: DTypeF32, Shape: []int{BERTSequenceLength}},
			{Name: "output_end_logits", DType: DTypeF32, Shape: []int{BERTSequenceLength}},
		},
	},
}

// LookupWorkload returns the spec for a named workload.
func LookupWorkload(name string) (WorkloadSpec, error) {
	w, ok := workloads[name]
	if !ok {
		return WorkloadSpec{}, fmt.Errorf("workload %q: %w", name, ErrUnsupportedConfiguration)
	}
	return w, nil
}

// Workloads returns every known workload sorted by name.
func Workloads() []WorkloadSpec {
	out := make([]WorkloadSpec, 0, len(workloads))
	for _, w := range workloads {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
