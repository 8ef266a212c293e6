package bptt

import (
	"math/rand"
	"testing"

	"github.com/23skdu/longbow-wordlm/internal/autograd"
	"github.com/23skdu/longbow-wordlm/internal/corpus"
	"github.com/23skdu/longbow-wordlm/internal/hidden"
	"github.com/23skdu/longbow-wordlm/internal/model"
	"github.com/stretchr/testify/require"
)

const testVocab = 11

func newTestModel(t *testing.T, cell model.CellType, dropout float64) *model.RNNModel {
	t.Helper()
	m, err := model.New(model.Config{
		Type:       cell,
		VocabSize:  testVocab,
		EmbedSize:  5,
		HiddenSize: 4,
		Layers:     2,
		Dropout:    dropout,
	}, 17)
	require.NoError(t, err)
	m.SetMaskSeed(3)
	return m
}

func randomTokens(n int, seed int64) []int {
	rng := rand.New(rand.NewSource(seed))
	ids := make([]int, n)
	for i := range ids {
		ids[i] = rng.Intn(testVocab)
	}
	return ids
}

// testMatrix returns a width-3 matrix with the given number of steps.
func testMatrix(steps int) corpus.TokenMatrix {
	return corpus.Batchify(randomTokens(steps*3, 5), 3)
}

func windowAt(data corpus.TokenMatrix, start, length int) Window {
	input, target := data.Window(start, length)
	return Window{Start: start, Input: input, Target: target}
}

// warmHidden runs a few steps so windows start from a non-zero state.
func warmHidden(m *model.RNNModel, data corpus.TokenMatrix) hidden.State {
	input, _ := data.Window(0, 3)
	_, h := m.Step(autograd.NewTape(false), input, 0, m.InitHidden(data.Width))
	return hidden.Repackage(h, false)
}

func snapshotGrads(ps []*autograd.Tensor) [][]float64 {
	out := make([][]float64, len(ps))
	for i, p := range ps {
		out[i] = append([]float64(nil), p.GradData()...)
	}
	return out
}
