package weights

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/23skdu/longbow-wordlm/internal/bptt"
	"github.com/23skdu/longbow-wordlm/internal/corpus"
	"github.com/23skdu/longbow-wordlm/internal/model"
	"github.com/fxamacker/cbor/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() model.Config {
	return model.Config{
		Type:       model.LSTM,
		VocabSize:  9,
		EmbedSize:  4,
		HiddenSize: 4,
		Layers:     2,
		Dropout:    0.2,
	}
}

func newModel(t *testing.T, seed int64) *model.RNNModel {
	t.Helper()
	m, err := model.New(testConfig(), seed)
	require.NoError(t, err)
	return m
}

func TestCaptureRestore(t *testing.T) {
	src := newModel(t, 1)
	dst := newModel(t, 2)
	require.NotEqual(t, src.Encoder.Data(), dst.Encoder.Data())

	snap := Capture(src.Config, src)
	require.Len(t, snap.Params, len(src.Parameters()))
	assert.Equal(t, "encoder.weight", snap.Params[0].Name)

	require.NoError(t, Restore(dst, snap))
	for i, p := range dst.Parameters() {
		assert.Equal(t, src.Parameters()[i].Data(), p.Data(), p.Name())
	}

	// The snapshot owns its data.
	src.Encoder.Data()[0] = 42
	assert.NotEqual(t, 42.0, snap.Params[0].Data[0])
}

func TestRestore_Mismatch(t *testing.T) {
	src := newModel(t, 1)
	snap := Capture(src.Config, src)

	cfg := testConfig()
	cfg.Type = model.GRU
	other, err := model.New(cfg, 3)
	require.NoError(t, err)
	before := append([]float64(nil), other.Encoder.Data()...)

	assert.ErrorIs(t, Restore(other, snap), ErrMismatch)
	assert.Equal(t, before, other.Encoder.Data())

	snap.Version = 99
	assert.ErrorIs(t, Restore(src, snap), ErrVersion)
}

func TestSaveLoad(t *testing.T) {
	m := newModel(t, 1)
	snap := Capture(m.Config, m)
	snap.Epoch = 3
	snap.ValLoss = 4.25
	snap.LR = 5
	snap.Dictionary = []string{"a", "b", corpus.EOS}

	dir := t.TempDir()
	path := filepath.Join(dir, "model.cbor")
	writes := testutil.ToFloat64(checkpointWrites)
	require.NoError(t, Save(path, snap))
	assert.Equal(t, 1.0, testutil.ToFloat64(checkpointWrites)-writes)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp file left behind")

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, snap, got)

	restored, err := got.Model()
	require.NoError(t, err)
	assert.Equal(t, m.Decoder.Data(), restored.Decoder.Data())
}

func TestSave_OverwritesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.cbor")
	m := newModel(t, 1)

	first := Capture(m.Config, m)
	first.Epoch = 1
	require.NoError(t, Save(path, first))

	second := Capture(m.Config, m)
	second.Epoch = 2
	require.NoError(t, Save(path, second))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Epoch)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.cbor"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	garbage := filepath.Join(dir, "garbage.cbor")
	require.NoError(t, os.WriteFile(garbage, []byte{0xff, 0x00}, 0o644))
	_, err = Load(garbage)
	assert.Error(t, err)

	future := filepath.Join(dir, "future.cbor")
	data, err := cbor.Marshal(Snapshot{Version: 7})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(future, data, 0o644))
	_, err = Load(future)
	assert.ErrorIs(t, err, ErrVersion)
}

// An interrupted run must leave the best snapshot loadable and scoring the
// same validation loss it was saved with.
func TestBestSnapshotSurvivesInterrupt(t *testing.T) {
	ids := make([]int, 3*30)
	for i := range ids {
		ids[i] = (i * 7) % 9
	}
	train := corpus.Batchify(ids, 3)
	valid := corpus.Batchify(ids[:40], 2)

	m := newModel(t, 5)
	cfg := bptt.DefaultConfig()
	cfg.BPTT, cfg.BPTTStep, cfg.BatchSize, cfg.LR, cfg.LogInterval = 5, 2, 3, 1, 100
	tr, err := bptt.NewTrainer(m, cfg)
	require.NoError(t, err)
	ev := bptt.NewEvaluator(m, cfg.BPTT, cfg.Normalize)

	path := filepath.Join(t.TempDir(), "best.cbor")
	st := bptt.NewTrainingLoopState(cfg.LR)
	_, err = tr.TrainEpoch(context.Background(), st, train)
	require.NoError(t, err)
	val, err := ev.Evaluate(context.Background(), valid)
	require.NoError(t, err)
	require.True(t, st.Anneal(val.Loss, 4))

	snap := Capture(m.Config, m)
	snap.ValLoss = val.Loss
	require.NoError(t, Save(path, snap))

	// Second epoch is interrupted before its first window.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	st.Epoch++
	_, err = tr.TrainEpoch(ctx, st, train)
	require.ErrorIs(t, err, bptt.ErrInterrupted)

	loaded, err := Load(path)
	require.NoError(t, err)
	restored, err := loaded.Model()
	require.NoError(t, err)
	got, err := bptt.NewEvaluator(restored, cfg.BPTT, cfg.Normalize).Evaluate(context.Background(), valid)
	require.NoError(t, err)
	assert.Equal(t, loaded.ValLoss, got.Loss)
}
