package model

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// DType is the element type of a tensor.
type DType string

// Supported element types.
const (
	DTypeU8  DType = "u8"
	DTypeI32 DType = "i32"
	DTypeI64 DType = "i64"
	DTypeF16 DType = "f16"
	DTypeF32 DType = "f32"
)

// Size returns the width of one element in bytes, or 0 for an unknown type.
func (d DType) Size() int {
	switch d {
	case DTypeU8:
		return 1
	case DTypeF16:
		return 2
	case DTypeI32, DTypeF32:
		return 4
	case DTypeI64:
		return 8
	default:
		return 0
	}
}

// Tensor is a dense, little-endian, row-major tensor. Data may alias memory owned
// by a dataset arena or a backend; callers must not mutate tensors they did not
// allocate.
type Tensor struct {
	DType DType
	Shape []int
	Data  []byte
}

// NumElements returns the product of the shape dimensions.
func (t Tensor) NumElements() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Validate checks that the data length agrees with shape and element type.
func (t Tensor) Validate() error {
	size := t.DType.Size()
	if size == 0 {
		return fmt.Errorf("unknown dtype %q", t.DType)
	}
	if want := t.NumElements() * size; len(t.Data) != want {
		return fmt.Errorf("tensor %v/%s holds %d bytes, want %d", t.Shape, t.DType, len(t.Data), want)
	}
	return nil
}

// Float32s decodes the tensor as float32 values. f16 tensors are widened.
func (t Tensor) Float32s() ([]float32, error) {
	switch t.DType {
	case DTypeF32:
		out := make([]float32, len(t.Data)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.Data[i*4:]))
		}
		return out, nil
	case DTypeF16:
		out := make([]float32, len(t.Data)/2)
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(t.Data[i*2:])).Float32()
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot read %s tensor as float32", t.DType)
	}
}

// Int64s decodes the tensor as int64 values. i32 tensors are widened.
func (t Tensor) Int64s() ([]int64, error) {
	switch t.DType {
	case DTypeI64:
		out := make([]int64, len(t.Data)/8)
		for i := range out {
			out[i] = int64(binary.LittleEndian.Uint64(t.Data[i*8:]))
		}
		return out, nil
	case DTypeI32:
		out := make([]int64, len(t.Data)/4)
		for i := range out {
			out[i] = int64(int32(binary.LittleEndian.Uint32(t.Data[i*4:])))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("cannot read %s tensor as int64", t.DType)
	}
}

// NewFloat32Tensor encodes values into an f32 tensor.
func NewFloat32Tensor(shape []int, values []float32) Tensor {
	data := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(v))
	}
	return Tensor{DType: DTypeF32, Shape: shape, Data: data}
}

// NewFloat16Tensor narrows values into an f16 tensor.
func NewFloat16Tensor(shape []int, values []float32) Tensor {
	data := make([]byte, len(values)*2)
	for i, v := range values {
		binary.LittleEndian.PutUint16(data[i*2:], float16.Fromfloat32(v).Bits())
	}
	return Tensor{DType: DTypeF16, Shape: shape, Data: data}
}

// NewInt64Tensor encodes values into an i64 tensor.
func NewInt64Tensor(shape []int, values []int64) Tensor {
	data := make([]byte, len(values)*8)
	for i, v := range values {
		binary.LittleEndian.PutUint64(data[i*8:], uint64(v))
	}
	return Tensor{DType: DTypeI64, Shape: shape, Data: data}
}

// NewInt32Tensor encodes values into an i32 tensor.
func NewInt32Tensor(shape []int, values []int32) Tensor {
	data := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(data[i*4:], uint32(v))
	}
	return Tensor{DType: DTypeI32, Shape: shape, Data: data}
}
