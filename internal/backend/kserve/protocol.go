package kserve

import (
	"encoding/json"
	"fmt"

	"github.com/seantiz/benchrunner/internal/model"
)

// MaxResponseSize bounds the body of one inference response (64 MiB).
const MaxResponseSize = 64 << 20

// TensorData is one named tensor in the Open Inference Protocol JSON form.
type TensorData struct {
	Name     string          `json:"name"`
	Shape    []int           `json:"shape"`
	Datatype string          `json:"datatype"`
	Data     json.RawMessage `json:"data"`
}

// RequestedOutput names an output the client wants back.
type RequestedOutput struct {
	Name string `json:"name"`
}

// InferRequest is the body of POST /v2/models/{model}/infer.
type InferRequest struct {
	ID      string            `json:"id,omitempty"`
	Inputs  []TensorData      `json:"inputs"`
	Outputs []RequestedOutput `json:"outputs,omitempty"`
}

// InferResponse is the body returned by a successful inference.
type InferResponse struct {
	ModelName string       `json:"model_name"`
	ID        string       `json:"id,omitempty"`
	Outputs   []TensorData `json:"outputs"`
}

// ErrorResponse is the body returned by a failed call.
type ErrorResponse struct {
	Error string `json:"error"`
}

var datatypes = map[model.DType]string{
	model.DTypeU8:  "UINT8",
	model.DTypeI32: "INT32",
	model.DTypeI64: "INT64",
	model.DTypeF16: "FP16",
	model.DTypeF32: "FP32",
}

// Datatype returns the protocol datatype name for d.
func Datatype(d model.DType) (string, error) {
	name, ok := datatypes[d]
	if !ok {
		return "", fmt.Errorf("dtype %q has no protocol datatype", d)
	}
	return name, nil
}

// EncodeTensor converts a tensor to its JSON wire form. Byte tensors are sent
// as number arrays, not base64.
func EncodeTensor(name string, t model.Tensor) (TensorData, error) {
	dt, err := Datatype(t.DType)
	if err != nil {
		return TensorData{}, err
	}

	var values any
	switch t.DType {
	case model.DTypeU8:
		ints := make([]int, len(t.Data))
		for i, b := range t.Data {
			ints[i] = int(b)
		}
		values = ints
	case model.DTypeI32, model.DTypeI64:
		ints, err := t.Int64s()
		if err != nil {
			return TensorData{}, err
		}
		values = ints
	default:
		floats, err := t.Float32s()
		if err != nil {
			return TensorData{}, err
		}
		values = floats
	}

	data, err := json.Marshal(values)
	if err != nil {
		return TensorData{}, fmt.Errorf("marshal tensor %q: %w", name, err)
	}
	return TensorData{Name: name, Shape: t.Shape, Datatype: dt, Data: data}, nil
}

// DecodeTensor converts a wire tensor back into a model tensor.
func DecodeTensor(td TensorData) (model.Tensor, error) {
	switch td.Datatype {
	case "FP32", "FP16":
		var values []float32
		if err := json.Unmarshal(td.Data, &values); err != nil {
			return model.Tensor{}, fmt.Errorf("decode output %q: %w", td.Name, err)
		}
		if td.Datatype == "FP16" {
			return model.NewFloat16Tensor(td.Shape, values), nil
		}
		return model.NewFloat32Tensor(td.Shape, values), nil
	case "INT64":
		var values []int64
		if err := json.Unmarshal(td.Data, &values); err != nil {
			return model.Tensor{}, fmt.Errorf("decode output %q: %w", td.Name, err)
		}
		return model.NewInt64Tensor(td.Shape, values), nil
	case "INT32":
		var values []int32
		if err := json.Unmarshal(td.Data, &values); err != nil {
			return model.Tensor{}, fmt.Errorf("decode output %q: %w", td.Name, err)
		}
		return model.NewInt32Tensor(td.Shape, values), nil
	default:
		return model.Tensor{}, fmt.Errorf("output %q: unsupported datatype %q", td.Name, td.Datatype)
	}
}
