package bptt

import (
	"context"
	"math"
	"testing"

	"github.com/23skdu/longbow-wordlm/internal/autograd"
	"github.com/23skdu/longbow-wordlm/internal/corpus"
	"github.com/23skdu/longbow-wordlm/internal/model"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTrainerConfig() Config {
	cfg := DefaultConfig()
	cfg.BPTT = 6
	cfg.BPTTStep = 4
	cfg.BatchSize = 3
	cfg.LR = 1
	cfg.LogInterval = 2
	return cfg
}

func paramValues(ps []*autograd.Tensor) [][]float64 {
	out := make([][]float64, len(ps))
	for i, p := range ps {
		out[i] = append([]float64(nil), p.Data()...)
	}
	return out
}

func TestNewTrainer_InvalidConfig(t *testing.T) {
	cfg := testTrainerConfig()
	cfg.BPTT = 0
	_, err := NewTrainer(newTestModel(t, model.GRU, 0), cfg)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestTrainWindow_MatchesManualStep(t *testing.T) {
	ctx := context.Background()
	cfg := testTrainerConfig()
	data := testMatrix(10)

	m := newTestModel(t, model.LSTM, 0)
	ref := newTestModel(t, model.LSTM, 0)
	tr, err := NewTrainer(m, cfg)
	require.NoError(t, err)

	st := NewTrainingLoopState(cfg.LR)
	st.Hidden = m.InitHidden(3)
	win := windowAt(data, 0, cfg.BPTT)
	ws, err := tr.TrainWindow(ctx, st, win)
	require.NoError(t, err)
	assert.Equal(t, 2, ws.Segments)
	assert.Equal(t, 18, ws.Tokens)

	// Reference: full-window gradients, scaled, clipped and applied by hand.
	res, err := FullWindowGradients(ctx, ref, win, ref.InitHidden(3))
	require.NoError(t, err)
	ps := ref.Parameters()
	ScaleGradients(ps, 1/float64(cfg.BatchSize*cfg.BPTT))
	norm, clipped := ClipGradNorm(ps, cfg.Clip)
	SGD(ps, cfg.LR)

	assert.InDelta(t, res.Loss/18, ws.Loss, 1e-9)
	assert.InDelta(t, norm, ws.GradNorm, 1e-9)
	assert.Equal(t, clipped, ws.Clipped)
	got, want := paramValues(m.Parameters()), paramValues(ps)
	for i := range got {
		assert.InDeltaSlice(t, want[i], got[i], 1e-9)
	}
}

func TestTrainWindow_Normalization(t *testing.T) {
	ctx := context.Background()
	data := testMatrix(10)
	// A 4-step window shorter than bptt.
	win := windowAt(data, 0, 4)

	losses := map[Normalization]float64{}
	for _, n := range []Normalization{NormalizeFixed, NormalizeExact} {
		cfg := testTrainerConfig()
		cfg.Normalize = n
		m := newTestModel(t, model.GRU, 0)
		tr, err := NewTrainer(m, cfg)
		require.NoError(t, err)
		st := NewTrainingLoopState(cfg.LR)
		st.Hidden = m.InitHidden(3)
		ws, err := tr.TrainWindow(ctx, st, win)
		require.NoError(t, err)
		losses[n] = ws.Loss
	}

	// fixed divides by 3*6, exact by 3*4.
	assert.InDelta(t, losses[NormalizeExact]*12, losses[NormalizeFixed]*18, 1e-9)
}

func TestTrainEpoch(t *testing.T) {
	cfg := testTrainerConfig()
	m := newTestModel(t, model.LSTM, 0.2)
	tr, err := NewTrainer(m, cfg)
	require.NoError(t, err)

	data := testMatrix(20) // window starts 0, 6, 12, 18
	before := paramValues(m.Parameters())
	windows := testutil.ToFloat64(windowsTrained)

	st := NewTrainingLoopState(cfg.LR)
	stats, err := tr.TrainEpoch(context.Background(), st, data)
	require.NoError(t, err)

	assert.Equal(t, 4, stats.Windows)
	assert.Equal(t, 4, st.Batch)
	assert.Equal(t, (6+6+6+1)*3, stats.Tokens)
	assert.Positive(t, stats.Loss)
	assert.Equal(t, 4.0, testutil.ToFloat64(windowsTrained)-windows)
	assert.Equal(t, cfg.LR, testutil.ToFloat64(learningRate))
	assert.True(t, m.Training())
	assert.NotEqual(t, before, paramValues(m.Parameters()))
	assert.Equal(t, "((3x4 3x4) (3x4 3x4))", st.Hidden.String())
}

func TestTrainEpoch_LearnsRepeatingSequence(t *testing.T) {
	cfg := testTrainerConfig()
	cfg.LR = 2
	cfg.Clip = 1
	m := newTestModel(t, model.GRU, 0)
	tr, err := NewTrainer(m, cfg)
	require.NoError(t, err)

	ids := make([]int, 3*40)
	for i := range ids {
		ids[i] = i % 4
	}
	data := corpus.Batchify(ids, 3)
	ev := NewEvaluator(m, cfg.BPTT, NormalizeExact)

	first, err := ev.Evaluate(context.Background(), data)
	require.NoError(t, err)
	st := NewTrainingLoopState(cfg.LR)
	for epoch := 0; epoch < 5; epoch++ {
		_, err := tr.TrainEpoch(context.Background(), st, data)
		require.NoError(t, err)
		st.Epoch++
	}
	last, err := ev.Evaluate(context.Background(), data)
	require.NoError(t, err)
	assert.Less(t, last.Loss, first.Loss)
}

func TestTrainEpoch_InterruptBetweenWindows(t *testing.T) {
	cfg := testTrainerConfig()
	m := newTestModel(t, model.GRU, 0)
	tr, err := NewTrainer(m, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	before := paramValues(m.Parameters())

	stats, err := tr.TrainEpoch(ctx, NewTrainingLoopState(cfg.LR), testMatrix(20))
	require.ErrorIs(t, err, ErrInterrupted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, stats.Windows)
	assert.Equal(t, before, paramValues(m.Parameters()))
}

func TestAnneal(t *testing.T) {
	st := NewTrainingLoopState(20)
	assert.True(t, math.IsInf(st.BestValLoss, 1))

	assert.True(t, st.Anneal(5.0, 4))
	assert.Equal(t, 5.0, st.BestValLoss)
	assert.Equal(t, 20.0, st.LR)

	assert.False(t, st.Anneal(5.5, 4))
	assert.Equal(t, 5.0, st.LR)
	assert.Equal(t, 5.0, st.BestValLoss)

	assert.True(t, st.Anneal(4.0, 4))
	assert.Equal(t, 5.0, st.LR)
}
