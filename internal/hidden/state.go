// Package hidden models recurrent hidden state as a tagged variant: either a
// single tensor or a fixed-arity tuple of nested states.
package hidden

import (
	"fmt"

	"github.com/23skdu/longbow-wordlm/internal/autograd"
)

// State is a hidden-state tensor or a tuple of states. The zero value is an
// empty tuple.
type State struct {
	tensor *autograd.Tensor
	items  []State
}

// Leaf wraps a single tensor.
func Leaf(t *autograd.Tensor) State {
	if t == nil {
		panic("hidden: Leaf of nil tensor")
	}
	return State{tensor: t}
}

// Tuple groups states, preserving order.
func Tuple(items ...State) State {
	cp := make([]State, len(items))
	copy(cp, items)
	return State{items: cp}
}

// IsLeaf reports whether s holds a single tensor.
func (s State) IsLeaf() bool { return s.tensor != nil }

// Tensor returns the wrapped tensor. It panics on a tuple.
func (s State) Tensor() *autograd.Tensor {
	if s.tensor == nil {
		panic("hidden: Tensor on tuple state")
	}
	return s.tensor
}

// Len returns the tuple arity, or 0 for a leaf.
func (s State) Len() int { return len(s.items) }

// At returns the i-th tuple element.
func (s State) At(i int) State {
	if s.tensor != nil {
		panic("hidden: At on leaf state")
	}
	return s.items[i]
}

// Map applies fn to every tensor, returning a state with the same shape.
func (s State) Map(fn func(*autograd.Tensor) *autograd.Tensor) State {
	if s.tensor != nil {
		return Leaf(fn(s.tensor))
	}
	out := make([]State, len(s.items))
	for i, it := range s.items {
		out[i] = it.Map(fn)
	}
	return State{items: out}
}

// Flatten returns the tensors in depth-first order. The order is stable and
// matches Map, so flattened slices of two states with the same structure line
// up element by element.
func (s State) Flatten() []*autograd.Tensor {
	var out []*autograd.Tensor
	s.walk(func(t *autograd.Tensor) { out = append(out, t) })
	return out
}

func (s State) walk(fn func(*autograd.Tensor)) {
	if s.tensor != nil {
		fn(s.tensor)
		return
	}
	for _, it := range s.items {
		it.walk(fn)
	}
}

// SameShape reports whether a and b have identical structure and tensor
// dimensions.
func SameShape(a, b State) bool {
	if a.IsLeaf() != b.IsLeaf() {
		return false
	}
	if a.IsLeaf() {
		ar, ac := a.tensor.Dims()
		br, bc := b.tensor.Dims()
		return ar == br && ac == bc
	}
	if len(a.items) != len(b.items) {
		return false
	}
	for i := range a.items {
		if !SameShape(a.items[i], b.items[i]) {
			return false
		}
	}
	return true
}

// Repackage detaches every tensor in h from its history. With asLeaf the
// copies record gradients seeded into them during backward; otherwise they
// are value snapshots. h is not modified.
func Repackage(h State, asLeaf bool) State {
	return h.Map(func(t *autograd.Tensor) *autograd.Tensor {
		return t.Detach(asLeaf)
	})
}

// Equal reports whether a and b have the same structure and bit-identical
// values.
func Equal(a, b State) bool {
	if !SameShape(a, b) {
		return false
	}
	fa, fb := a.Flatten(), b.Flatten()
	for i := range fa {
		da, db := fa[i].Data(), fb[i].Data()
		for j := range da {
			if da[j] != db[j] {
				return false
			}
		}
	}
	return true
}

// String renders the structure, e.g. ((20x200 20x200) (20x200 20x200)).
func (s State) String() string {
	if s.tensor != nil {
		r, c := s.tensor.Dims()
		return fmt.Sprintf("%dx%d", r, c)
	}
	out := "("
	for i, it := range s.items {
		if i > 0 {
			out += " "
		}
		out += it.String()
	}
	return out + ")"
}
