package bptt

import (
	"fmt"

	"github.com/23skdu/longbow-wordlm/internal/autograd"
	"github.com/23skdu/longbow-wordlm/internal/corpus"
	"github.com/23skdu/longbow-wordlm/internal/hidden"
)

// SegmentResult is the outcome of one segment's backward.
type SegmentResult struct {
	// Loss is the summed token loss of the segment.
	Loss float64
	// Hidden is the differentiable state at the end of the segment.
	Hidden hidden.State
	// Relay is the gradient on the segment's input state, empty for
	// segment 0.
	Relay RelayedGradient
}

// SegmentBackward recomputes segment s from its checkpointed input state
// and backpropagates its summed loss together with relay, the gradient
// flowing into the segment's output state from later segments. Parameter
// gradients accumulate. An empty relay backpropagates the loss alone.
func SegmentBackward(m Model, w Window, s Segment, ckpt CheckpointMap, relay RelayedGradient) (SegmentResult, error) {
	start, ok := ckpt[s.Index-1]
	if !ok {
		return SegmentResult{}, fmt.Errorf("segment %s: no checkpoint %d: %w", s, s.Index-1, ErrCheckpointUnreached)
	}
	input, target := w.slice(s)

	tp := autograd.NewTape(true)
	logits, h := m.Step(tp, input, w.Start+s.Start, start)
	loss := tp.CrossEntropySum(logits, corpus.Flatten(target))

	seeds := []autograd.Seed{{Tensor: loss}}
	if !relay.Empty() {
		rs, err := relay.seeds(h)
		if err != nil {
			return SegmentResult{}, fmt.Errorf("segment %s: %w", s, err)
		}
		seeds = append(seeds, rs...)
	}
	if err := tp.Backward(seeds...); err != nil {
		return SegmentResult{}, fmt.Errorf("segment %s backward: %w", s, err)
	}

	res := SegmentResult{Loss: loss.Item(), Hidden: h}
	if s.Index > 0 {
		next, err := collectRelay(start, s.Index-1)
		if err != nil {
			return SegmentResult{}, err
		}
		res.Relay = next
	}
	return res, nil
}
