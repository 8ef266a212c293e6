package bptt

import (
	"github.com/23skdu/longbow-wordlm/internal/autograd"
	"github.com/23skdu/longbow-wordlm/internal/hidden"
)

// Model is the differentiable step function and the parameter set it reads.
type Model interface {
	// Step runs tokens (T x B ids) from h. start is the absolute time offset
	// of tokens[0]; equal offsets must reproduce equal forward values. It
	// returns (T*B) x V logits in time-major order and the final state.
	Step(tp *autograd.Tape, tokens [][]int, start int, h hidden.State) (*autograd.Tensor, hidden.State)
	Parameters() []*autograd.Tensor
	ZeroGrad()
	InitHidden(batch int) hidden.State
	SetTraining(on bool)
	Training() bool
	SetMaskSeed(seed int64)
}

// Window is one outer window of a token matrix.
type Window struct {
	// Start is the absolute time offset of Input[0].
	Start  int
	Input  [][]int
	Target [][]int
}

func (w Window) width() int {
	if len(w.Input) == 0 {
		return 0
	}
	return len(w.Input[0])
}

func (w Window) slice(s Segment) (input, target [][]int) {
	return w.Input[s.Start:s.End()], w.Target[s.Start:s.End()]
}
