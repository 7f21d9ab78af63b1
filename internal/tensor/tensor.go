// Package tensor provides the numeric array representation shared by the
// observation and action codecs. Values are row-major float64 slices with an
// explicit shape, mirroring the nested-list form they take on the wire.
package tensor

import (
	"fmt"
	"math"
)

// Tensor is a row-major numeric array of arbitrary rank.
// A rank-0 tensor holds a single scalar value.
type Tensor struct {
	Data  []float64
	Shape []int
}

// New builds a tensor from flat data and a shape. The product of the shape
// dimensions must equal len(data).
func New(data []float64, shape ...int) (Tensor, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return Tensor{}, fmt.Errorf("tensor: negative dimension %d", d)
		}
		n *= d
	}
	if n != len(data) {
		return Tensor{}, fmt.Errorf("tensor: shape %v wants %d values, got %d", shape, n, len(data))
	}
	return Tensor{Data: data, Shape: shape}, nil
}

// Vector builds a rank-1 tensor over the given values.
func Vector(data ...float64) Tensor {
	return Tensor{Data: data, Shape: []int{len(data)}}
}

// Scalar builds a rank-0 tensor.
func Scalar(v float64) Tensor {
	return Tensor{Data: []float64{v}, Shape: nil}
}

// Zeros builds a zero-filled tensor of the given shape.
func Zeros(shape ...int) Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return Tensor{Data: make([]float64, n), Shape: shape}
}

// Len returns the number of elements.
func (t Tensor) Len() int { return len(t.Data) }

// Rank returns the number of dimensions.
func (t Tensor) Rank() int { return len(t.Shape) }

// At returns the element at the given multi-dimensional index.
func (t Tensor) At(idx ...int) (float64, error) {
	if len(idx) != len(t.Shape) {
		return 0, fmt.Errorf("tensor: index rank %d against shape %v", len(idx), t.Shape)
	}
	flat := 0
	for i, ix := range idx {
		if ix < 0 || ix >= t.Shape[i] {
			return 0, fmt.Errorf("tensor: index %v out of range for shape %v", idx, t.Shape)
		}
		flat = flat*t.Shape[i] + ix
	}
	return t.Data[flat], nil
}

// Equal reports whether two tensors have the same shape and element-wise
// values within tol.
func (t Tensor) Equal(o Tensor, tol float64) bool {
	if len(t.Shape) != len(o.Shape) || len(t.Data) != len(o.Data) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != o.Shape[i] {
			return false
		}
	}
	for i := range t.Data {
		if math.Abs(t.Data[i]-o.Data[i]) > tol {
			return false
		}
	}
	return true
}

// FromNested decodes a nested list as produced by encoding/json (float64 and
// []any values) into a tensor. Ragged nesting or non-numeric leaves are
// rejected.
func FromNested(v any) (Tensor, error) {
	shape, err := nestedShape(v)
	if err != nil {
		return Tensor{}, err
	}
	n := 1
	for _, d := range shape {
		n *= d
	}
	data := make([]float64, 0, n)
	data, err = flatten(v, data)
	if err != nil {
		return Tensor{}, err
	}
	return Tensor{Data: data, Shape: shape}, nil
}

// Nested re-encodes the tensor as nested []any lists ready for JSON
// serialization. A rank-0 tensor encodes as a bare float64.
func (t Tensor) Nested() any {
	if len(t.Shape) == 0 {
		if len(t.Data) == 0 {
			// Zero-value tensor; encode as an empty list rather than panic.
			return []any{}
		}
		return t.Data[0]
	}
	v, _ := nest(t.Data, t.Shape)
	return v
}

func nestedShape(v any) ([]int, error) {
	switch x := v.(type) {
	case float64:
		return nil, nil
	case int:
		return nil, nil
	case []any:
		if len(x) == 0 {
			return []int{0}, nil
		}
		inner, err := nestedShape(x[0])
		if err != nil {
			return nil, err
		}
		// Every sibling must share the first element's shape.
		for _, e := range x[1:] {
			s, err := nestedShape(e)
			if err != nil {
				return nil, err
			}
			if !sameShape(inner, s) {
				return nil, fmt.Errorf("tensor: ragged nested array")
			}
		}
		return append([]int{len(x)}, inner...), nil
	default:
		return nil, fmt.Errorf("tensor: unsupported element %T", v)
	}
}

func flatten(v any, out []float64) ([]float64, error) {
	switch x := v.(type) {
	case float64:
		return append(out, x), nil
	case int:
		return append(out, float64(x)), nil
	case []any:
		var err error
		for _, e := range x {
			out, err = flatten(e, out)
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("tensor: unsupported element %T", v)
	}
}

func nest(data []float64, shape []int) (any, []float64) {
	if len(shape) == 0 {
		return data[0], data[1:]
	}
	out := make([]any, shape[0])
	for i := range out {
		out[i], data = nest(data, shape[1:])
	}
	return out, data
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
