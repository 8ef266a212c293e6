package autograd

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNoGrad is returned when a backward seed does not require a gradient.
	ErrNoGrad = errors.New("autograd: seed tensor does not require grad")
	// ErrShape is returned when a seed gradient does not match its tensor.
	ErrShape = errors.New("autograd: seed gradient shape mismatch")
	// ErrTapeConsumed is returned when Backward runs twice on one tape.
	ErrTapeConsumed = errors.New("autograd: tape already consumed by backward")
)

// Tape records the backward closures of the ops executed through it.
// A non-recording tape evaluates ops without building a graph, and the
// outputs it produces never require gradients.
type Tape struct {
	record   bool
	backprop []func()
	consumed bool
}

// NewTape creates a tape. Pass false for inference or snapshot-only passes.
func NewTape(record bool) *Tape {
	return &Tape{record: record}
}

// Recording reports whether ops executed on the tape are differentiable.
func (tp *Tape) Recording() bool { return tp.record }

// Len returns the number of recorded backward closures.
func (tp *Tape) Len() int { return len(tp.backprop) }

// tracks reports whether an op over ins produces a differentiable output.
func (tp *Tape) tracks(ins ...*Tensor) bool {
	if !tp.record {
		return false
	}
	for _, in := range ins {
		if in != nil && in.requiresGrad {
			return true
		}
	}
	return false
}

// output creates an op result, marking it differentiable when any input is.
func (tp *Tape) output(r, c int, ins ...*Tensor) *Tensor {
	return &Tensor{
		value:        mat.NewDense(r, c, nil),
		requiresGrad: tp.tracks(ins...),
	}
}

func (tp *Tape) push(out *Tensor, f func()) {
	if out.requiresGrad {
		tp.backprop = append(tp.backprop, f)
	}
}

// Seed pairs a tensor with the upstream gradient it receives at the start
// of backward. A nil Grad seeds ones, the usual seed for a scalar loss.
type Seed struct {
	Tensor *Tensor
	Grad   mat.Matrix
}

// Backward propagates the seeds through the recorded graph. Every seed is
// applied before any closure runs, so the result equals one backward pass
// of the sum of the seeded sources.
func (tp *Tape) Backward(seeds ...Seed) error {
	if tp.consumed {
		return ErrTapeConsumed
	}
	for i, s := range seeds {
		if s.Tensor == nil || !s.Tensor.requiresGrad {
			return fmt.Errorf("seed %d: %w", i, ErrNoGrad)
		}
		r, c := s.Tensor.Dims()
		if s.Grad == nil {
			buf := s.Tensor.gradBuf()
			for j := range buf {
				buf[j]++
			}
			continue
		}
		gr, gc := s.Grad.Dims()
		if gr != r || gc != c {
			return fmt.Errorf("seed %d: got %dx%d, want %dx%d: %w", i, gr, gc, r, c, ErrShape)
		}
		s.Tensor.accumulate(s.Grad)
	}

	tp.consumed = true
	for i := len(tp.backprop) - 1; i >= 0; i-- {
		tp.backprop[i]()
	}
	tp.backprop = nil
	return nil
}
