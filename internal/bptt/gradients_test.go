package bptt

import (
	"context"
	"fmt"
	"testing"

	"github.com/23skdu/longbow-wordlm/internal/autograd"
	"github.com/23skdu/longbow-wordlm/internal/hidden"
	"github.com/23skdu/longbow-wordlm/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestComputeGradients_MatchesFullWindow(t *testing.T) {
	ctx := context.Background()
	windows := []struct{ length, step int }{
		{8, 4},
		{10, 4},
		{10, 3},
		{7, 1},
		{5, 35},
	}
	for _, cell := range []model.CellType{model.LSTM, model.GRU, model.RNNTanh} {
		for _, dropout := range []float64{0, 0.3} {
			for _, w := range windows {
				name := fmt.Sprintf("%s/dropout=%v/L=%d/S=%d", cell, dropout, w.length, w.step)
				t.Run(name, func(t *testing.T) {
					m := newTestModel(t, cell, dropout)
					data := testMatrix(w.length + 6)
					h := warmHidden(m, data)
					win := windowAt(data, 4, w.length)
					require.Len(t, win.Input, w.length)

					seg, err := ComputeGradients(ctx, m, win, h, w.step)
					require.NoError(t, err)
					segGrads := snapshotGrads(m.Parameters())

					full, err := FullWindowGradients(ctx, m, win, h)
					require.NoError(t, err)
					fullGrads := snapshotGrads(m.Parameters())

					assert.InDelta(t, full.Loss, seg.Loss, 1e-9)
					assert.Equal(t, (w.length+w.step-1)/w.step, seg.Segments)
					assert.Equal(t, 1, full.Segments)
					assert.True(t, hidden.Equal(full.Hidden, seg.Hidden))
					for i, p := range m.Parameters() {
						require.NotEmpty(t, fullGrads[i], p.Name())
						assert.InDeltaSlice(t, fullGrads[i], segGrads[i], 1e-9, p.Name())
					}
				})
			}
		}
	}
}

func TestCheckpointPass_HiddenStateContinuity(t *testing.T) {
	ctx := context.Background()
	m := newTestModel(t, model.LSTM, 0.3)
	data := testMatrix(16)
	h := warmHidden(m, data)
	win := windowAt(data, 2, 10)
	segs := Segments(10, 3)

	ckpt := CheckpointPass(ctx, m, win, segs, h)
	require.Len(t, ckpt, len(segs))
	assert.True(t, hidden.Equal(h, ckpt[-1]))
	_, hasLast := ckpt[len(segs)-1]
	assert.False(t, hasLast)

	for k, state := range ckpt {
		for _, x := range state.Flatten() {
			assert.True(t, x.IsLeaf(), "checkpoint %d", k)
			assert.True(t, x.RequiresGrad(), "checkpoint %d", k)
		}
	}

	// Recomputing segment k differentiably from checkpoint k-1 lands exactly
	// on checkpoint k.
	for _, s := range segs[:len(segs)-1] {
		input, _ := win.slice(s)
		_, out := m.Step(autograd.NewTape(true), input, win.Start+s.Start, ckpt[s.Index-1])
		assert.True(t, hidden.Equal(ckpt[s.Index], out), "segment %s", s)
	}
}

func TestCheckpointPass_LeavesInputUntouched(t *testing.T) {
	m := newTestModel(t, model.GRU, 0)
	data := testMatrix(12)
	h := warmHidden(m, data)
	before := hidden.Repackage(h, false)

	CheckpointPass(context.Background(), m, windowAt(data, 0, 8), Segments(8, 2), h)
	assert.True(t, hidden.Equal(before, h))
	for _, x := range h.Flatten() {
		assert.False(t, x.RequiresGrad())
	}
}

// detachedModel ignores the hidden state it is given, so checkpoint leaves
// never enter the graph.
type detachedModel struct {
	*model.RNNModel
}

func (d detachedModel) Step(tp *autograd.Tape, tokens [][]int, start int, _ hidden.State) (*autograd.Tensor, hidden.State) {
	return d.RNNModel.Step(tp, tokens, start, d.InitHidden(len(tokens[0])))
}

func TestComputeGradients_UnreachedCheckpointIsFatal(t *testing.T) {
	m := detachedModel{newTestModel(t, model.LSTM, 0)}
	data := testMatrix(12)

	_, err := ComputeGradients(context.Background(), m, windowAt(data, 0, 8), m.InitHidden(3), 4)
	assert.ErrorIs(t, err, ErrCheckpointUnreached)
}

func TestSegmentBackward_RelayArityMismatch(t *testing.T) {
	m := newTestModel(t, model.GRU, 0)
	data := testMatrix(12)
	win := windowAt(data, 0, 8)
	segs := Segments(8, 4)
	ckpt := CheckpointPass(context.Background(), m, win, segs, m.InitHidden(3))

	// GRU state has one tensor per layer.
	relay := RelayedGradient{Grads: []*mat.Dense{mat.NewDense(3, 4, nil)}}
	_, err := SegmentBackward(m, win, segs[0], ckpt, relay)
	assert.ErrorContains(t, err, "relay arity 1")
}

func TestSegmentBackward_ProducesRelay(t *testing.T) {
	m := newTestModel(t, model.LSTM, 0)
	data := testMatrix(12)
	win := windowAt(data, 0, 8)
	segs := Segments(8, 4)
	ckpt := CheckpointPass(context.Background(), m, win, segs, m.InitHidden(3))

	last, err := SegmentBackward(m, win, segs[1], ckpt, RelayedGradient{})
	require.NoError(t, err)
	require.Equal(t, 4, last.Relay.Len())
	assert.Positive(t, last.Loss)
	for i, g := range last.Relay.Grads {
		r, c := g.Dims()
		assert.Equal(t, 3, r, "relay %d", i)
		assert.Equal(t, 4, c, "relay %d", i)
	}

	first, err := SegmentBackward(m, win, segs[0], ckpt, last.Relay)
	require.NoError(t, err)
	assert.True(t, first.Relay.Empty())
}

func TestComputeGradients_EmptyWindow(t *testing.T) {
	m := newTestModel(t, model.GRU, 0)
	_, err := ComputeGradients(context.Background(), m, Window{}, m.InitHidden(3), 4)
	assert.ErrorIs(t, err, ErrEmptyWindow)
}

func TestComputeGradients_TruncatesMismatchedTargets(t *testing.T) {
	m := newTestModel(t, model.GRU, 0)
	data := testMatrix(12)
	win := windowAt(data, 0, 6)
	win.Target = win.Target[:5]

	res, err := ComputeGradients(context.Background(), m, win, m.InitHidden(3), 4)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Steps)
	assert.Equal(t, 15, res.Tokens)
	assert.Equal(t, 2, res.Segments)
}
