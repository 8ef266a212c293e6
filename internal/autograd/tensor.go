// Package autograd is a small reverse-mode differentiation engine.
//
// A Tape records one backward closure per differentiable op during the
// forward pass. Backward seeds one or more tensors with upstream gradients
// and replays the closures in reverse, accumulating into the grad slot of
// every tensor that requires a gradient, parameters included.
//
// Tensors are 2-D and backed by gonum dense matrices. Rows index the batch
// (or time*batch) dimension, columns index features.
package autograd

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Tensor is a matrix value with an optional gradient slot.
type Tensor struct {
	name         string
	value        *mat.Dense
	grad         *mat.Dense
	hasGrad      bool
	requiresGrad bool
	leaf         bool
}

// New creates a constant tensor. A nil data slice yields zeros; otherwise
// the data is copied.
func New(r, c int, data []float64) *Tensor {
	return &Tensor{value: newDense(r, c, data), leaf: true}
}

// NewParam creates a named trainable tensor.
func NewParam(name string, r, c int, data []float64) *Tensor {
	t := New(r, c, data)
	t.name = name
	t.requiresGrad = true
	return t
}

// NewLeaf wraps a copy of v as a leaf that records incoming gradients.
func NewLeaf(v mat.Matrix) *Tensor {
	return &Tensor{
		value:        mat.DenseCopyOf(v),
		requiresGrad: true,
		leaf:         true,
	}
}

func newDense(r, c int, data []float64) *mat.Dense {
	if data == nil {
		return mat.NewDense(r, c, nil)
	}
	if len(data) != r*c {
		panic(fmt.Sprintf("autograd: data length %d does not match %dx%d", len(data), r, c))
	}
	buf := make([]float64, len(data))
	copy(buf, data)
	return mat.NewDense(r, c, buf)
}

// Name returns the parameter name, empty for unnamed tensors.
func (t *Tensor) Name() string { return t.name }

// Dims returns the dimensions (rows, cols) of the tensor.
func (t *Tensor) Dims() (int, int) { return t.value.Dims() }

// Value returns the underlying matrix.
func (t *Tensor) Value() *mat.Dense { return t.value }

// Data returns the row-major backing slice of the value.
func (t *Tensor) Data() []float64 { return t.value.RawMatrix().Data }

// At returns the value at (i, j).
func (t *Tensor) At(i, j int) float64 { return t.value.At(i, j) }

// Item returns the single element of a 1x1 tensor.
func (t *Tensor) Item() float64 {
	r, c := t.Dims()
	if r != 1 || c != 1 {
		panic(fmt.Sprintf("autograd: Item on %dx%d tensor", r, c))
	}
	return t.value.At(0, 0)
}

// RequiresGrad reports whether backward accumulates into this tensor.
func (t *Tensor) RequiresGrad() bool { return t.requiresGrad }

// IsLeaf reports whether the tensor has no producing op.
func (t *Tensor) IsLeaf() bool { return t.leaf }

// Grad returns the accumulated gradient, or nil when no gradient has reached
// the tensor since it was created or last zeroed.
func (t *Tensor) Grad() *mat.Dense {
	if !t.hasGrad {
		return nil
	}
	return t.grad
}

// GradData returns the row-major gradient slice, or nil.
func (t *Tensor) GradData() []float64 {
	if !t.hasGrad {
		return nil
	}
	return t.grad.RawMatrix().Data
}

// ZeroGrad clears the gradient slot, keeping its buffer.
func (t *Tensor) ZeroGrad() {
	if t.grad != nil {
		t.grad.Zero()
	}
	t.hasGrad = false
}

// ScaleGrad multiplies the accumulated gradient by s.
func (t *Tensor) ScaleGrad(s float64) {
	if t.hasGrad {
		floats.Scale(s, t.grad.RawMatrix().Data)
	}
}

// CopyValue overwrites the tensor value with src, which must match in shape.
func (t *Tensor) CopyValue(src []float64) {
	dst := t.Data()
	if len(src) != len(dst) {
		panic(fmt.Sprintf("autograd: CopyValue length %d, want %d", len(src), len(dst)))
	}
	copy(dst, src)
}

// Detach returns a new tensor holding a copy of t's values and no history.
// With asLeaf the copy records gradients seeded into it during backward;
// otherwise it is a plain value usable only as a forward input.
func (t *Tensor) Detach(asLeaf bool) *Tensor {
	return &Tensor{
		value:        mat.DenseCopyOf(t.value),
		requiresGrad: asLeaf,
		leaf:         true,
	}
}

// gradBuf returns the gradient buffer, allocating it on first use, and
// marks the tensor as having received a gradient.
func (t *Tensor) gradBuf() []float64 {
	if t.grad == nil {
		r, c := t.Dims()
		t.grad = mat.NewDense(r, c, nil)
	}
	t.hasGrad = true
	return t.grad.RawMatrix().Data
}

func (t *Tensor) accumulate(g mat.Matrix) {
	if t.grad == nil {
		r, c := t.Dims()
		t.grad = mat.NewDense(r, c, nil)
	}
	t.grad.Add(t.grad, g)
	t.hasGrad = true
}

// upstream returns the gradient flowing into an op output, or nil when the
// output did not contribute to anything seeded.
func (t *Tensor) upstream() []float64 {
	if !t.hasGrad {
		return nil
	}
	return t.grad.RawMatrix().Data
}
