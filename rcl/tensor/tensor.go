// Package tensor provides the small dense tensor type the loader emits.
//
// A Dense tensor is a flat row-major slice plus a shape. It carries the two
// pieces of state a training loop expects on batch inputs: whether gradients
// are tracked, and which device the data has been placed on.
package tensor

import (
	"errors"
	"fmt"
)

// HostDevice is the device name of tensors that live in host memory.
const HostDevice = "cpu"

var (
	ErrShapeMismatch = errors.New("data length does not match shape")
	ErrNegativeDim   = errors.New("negative dimension")
)

// DType names the element type of a tensor.
type DType string

const (
	Int64   DType = "int64"
	Float32 DType = "float32"
)

// Element is the set of element types a Dense tensor can hold.
type Element interface {
	~int64 | ~float32
}

// Handle is device memory bound to a tensor, e.g. an ONNX Runtime value.
type Handle interface {
	Destroy() error
}

// Tensor is the element-type independent view used by device placers.
type Tensor interface {
	Shape() []int
	Len() int
	DType() DType
	Int64s() []int64
	Float32s() []float32
	Device() string
	Bind(device string, h Handle)
	Handle() Handle
	Release() error
	RequiresGrad() bool
	SetRequiresGrad(bool)
}

// Dense is a row-major tensor backed by a single slice.
type Dense[T Element] struct {
	data         []T
	shape        []int
	requiresGrad bool
	device       string
	handle       Handle
}

// New allocates a zero-filled tensor of the given shape.
func New[T Element](shape ...int) (*Dense[T], error) {
	n, err := numel(shape)
	if err != nil {
		return nil, err
	}
	return &Dense[T]{
		data:   make([]T, n),
		shape:  append([]int(nil), shape...),
		device: HostDevice,
	}, nil
}

// FromSlice wraps data with the given shape. The slice is not copied.
func FromSlice[T Element](data []T, shape ...int) (*Dense[T], error) {
	n, err := numel(shape)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("%w: %d elements for shape %v", ErrShapeMismatch, len(data), shape)
	}
	return &Dense[T]{
		data:   data,
		shape:  append([]int(nil), shape...),
		device: HostDevice,
	}, nil
}

// Vector copies values into a new rank-1 tensor.
func Vector[T Element](values []T) *Dense[T] {
	data := make([]T, len(values))
	copy(data, values)
	return &Dense[T]{data: data, shape: []int{len(values)}, device: HostDevice}
}

func numel(shape []int) (int, error) {
	n := 1
	for _, s := range shape {
		if s < 0 {
			return 0, fmt.Errorf("%w: %v", ErrNegativeDim, shape)
		}
		n *= s
	}
	return n, nil
}

func (d *Dense[T]) Shape() []int { return append([]int(nil), d.shape...) }

func (d *Dense[T]) Len() int { return len(d.data) }

// Data exposes the backing slice.
func (d *Dense[T]) Data() []T { return d.data }

// Dim returns the size of axis i.
func (d *Dense[T]) Dim(i int) int { return d.shape[i] }

func (d *Dense[T]) offset(idx []int) int {
	if len(idx) != len(d.shape) {
		panic(fmt.Sprintf("tensor: %d indices for rank %d", len(idx), len(d.shape)))
	}
	off := 0
	for i, x := range idx {
		if x < 0 || x >= d.shape[i] {
			panic(fmt.Sprintf("tensor: index %v out of range for shape %v", idx, d.shape))
		}
		off = off*d.shape[i] + x
	}
	return off
}

// At returns the element at the given multi-index.
func (d *Dense[T]) At(idx ...int) T { return d.data[d.offset(idx)] }

// Set stores v at the given multi-index.
func (d *Dense[T]) Set(v T, idx ...int) { d.data[d.offset(idx)] = v }

// Row returns row i of a rank-2 tensor as a subslice of the backing data.
func (d *Dense[T]) Row(i int) []T {
	if len(d.shape) != 2 {
		panic(fmt.Sprintf("tensor: Row on rank %d tensor", len(d.shape)))
	}
	cols := d.shape[1]
	return d.data[i*cols : (i+1)*cols]
}

// Unsqueeze returns a view with a singleton dimension inserted at axis.
// The view shares data with d and inherits its gradient flag and device.
func (d *Dense[T]) Unsqueeze(axis int) *Dense[T] {
	if axis < 0 {
		axis += len(d.shape) + 1
	}
	if axis < 0 || axis > len(d.shape) {
		panic(fmt.Sprintf("tensor: unsqueeze axis %d out of range for rank %d", axis, len(d.shape)))
	}
	shape := make([]int, 0, len(d.shape)+1)
	shape = append(shape, d.shape[:axis]...)
	shape = append(shape, 1)
	shape = append(shape, d.shape[axis:]...)
	return &Dense[T]{
		data:         d.data,
		shape:        shape,
		requiresGrad: d.requiresGrad,
		device:       d.device,
	}
}

func (d *Dense[T]) DType() DType {
	var zero T
	switch any(zero).(type) {
	case int64:
		return Int64
	case float32:
		return Float32
	}
	return DType(fmt.Sprintf("%T", zero))
}

// Int64s returns the data when the element type is int64, nil otherwise.
func (d *Dense[T]) Int64s() []int64 {
	if s, ok := any(d.data).([]int64); ok {
		return s
	}
	return nil
}

// Float32s returns the data when the element type is float32, nil otherwise.
func (d *Dense[T]) Float32s() []float32 {
	if s, ok := any(d.data).([]float32); ok {
		return s
	}
	return nil
}

func (d *Dense[T]) RequiresGrad() bool { return d.requiresGrad }

func (d *Dense[T]) SetRequiresGrad(v bool) { d.requiresGrad = v }

func (d *Dense[T]) Device() string { return d.device }

func (d *Dense[T]) Handle() Handle { return d.handle }

// Bind records that the tensor has been placed on device, backed by h.
func (d *Dense[T]) Bind(device string, h Handle) {
	d.device = device
	d.handle = h
}

// Release destroys the bound device handle, if any, and moves the tensor
// back to host bookkeeping. Host data is untouched.
func (d *Dense[T]) Release() error {
	h := d.handle
	d.handle = nil
	d.device = HostDevice
	if h == nil {
		return nil
	}
	return h.Destroy()
}
