package bptt

import (
	"errors"
	"fmt"

	"github.com/23skdu/longbow-wordlm/internal/autograd"
	"github.com/23skdu/longbow-wordlm/internal/hidden"
	"gonum.org/v1/gonum/mat"
)

// ErrCheckpointUnreached means backward produced no gradient on a checkpoint
// leaf. The leaf was not part of the recomputed graph, so the relayed
// gradient sum would be wrong.
var ErrCheckpointUnreached = errors.New("bptt: checkpoint leaf received no gradient")

// RelayedGradient carries d(downstream loss)/d(h) across a segment cut, one
// matrix per hidden-state tensor in Flatten order.
type RelayedGradient struct {
	Grads []*mat.Dense
}

// Len returns the number of relayed tensors.
func (r RelayedGradient) Len() int { return len(r.Grads) }

// Empty reports whether there is nothing to relay, as for the last segment.
func (r RelayedGradient) Empty() bool { return len(r.Grads) == 0 }

// seeds pairs each relayed gradient with the matching tensor of h.
func (r RelayedGradient) seeds(h hidden.State) ([]autograd.Seed, error) {
	ts := h.Flatten()
	if len(ts) != len(r.Grads) {
		return nil, fmt.Errorf("relay arity %d does not match hidden state %s", len(r.Grads), h)
	}
	seeds := make([]autograd.Seed, len(ts))
	for i, t := range ts {
		seeds[i] = autograd.Seed{Tensor: t, Grad: r.Grads[i]}
	}
	return seeds, nil
}

// collectRelay reads the gradients backward left on a checkpoint leaf.
func collectRelay(leaf hidden.State, index int) (RelayedGradient, error) {
	ts := leaf.Flatten()
	r := RelayedGradient{Grads: make([]*mat.Dense, len(ts))}
	for i, t := range ts {
		g := t.Grad()
		if g == nil {
			return RelayedGradient{}, fmt.Errorf("checkpoint %d tensor %d: %w", index, i, ErrCheckpointUnreached)
		}
		r.Grads[i] = g
	}
	return r, nil
}
