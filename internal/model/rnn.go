// Package model implements the word-level recurrent language model: an
// embedding encoder, a stack of recurrent layers and a linear decoder.
package model

import (
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"time"

	"github.com/23skdu/longbow-wordlm/internal/autograd"
	"github.com/23skdu/longbow-wordlm/internal/hidden"
)

// RNNModel is the language model. Step is its differentiable step function.
type RNNModel struct {
	Config      Config
	Encoder     *autograd.Tensor // VocabSize x EmbedSize
	Layers      []*RecurrentLayer
	Decoder     *autograd.Tensor // VocabSize x HiddenSize, Encoder when tied
	DecoderBias *autograd.Tensor // 1 x VocabSize

	training bool
	maskSeed int64
}

// RecurrentLayer holds one layer's projections. Gate blocks are laid out
// along columns: i,f,g,o for LSTM and r,z,n for GRU.
type RecurrentLayer struct {
	Cell CellType
	Size int
	Wih  *autograd.Tensor // in x G*H
	Whh  *autograd.Tensor // H x G*H
	Bih  *autograd.Tensor // 1 x G*H
	Bhh  *autograd.Tensor // 1 x G*H
}

// New creates a model with weights drawn from a generator seeded by seed.
func New(cfg Config, seed int64) (*RNNModel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(seed))

	m := &RNNModel{Config: cfg, training: true, maskSeed: seed}
	m.Encoder = autograd.NewParam("encoder.weight", cfg.VocabSize, cfg.EmbedSize,
		uniform(rng, cfg.VocabSize*cfg.EmbedSize, 0.1))

	in := cfg.EmbedSize
	for l := 0; l < cfg.Layers; l++ {
		m.Layers = append(m.Layers, newRecurrentLayer(rng, cfg.Type, l, in, cfg.HiddenSize))
		in = cfg.HiddenSize
	}

	if cfg.Tied {
		m.Decoder = m.Encoder
	} else {
		m.Decoder = autograd.NewParam("decoder.weight", cfg.VocabSize, cfg.HiddenSize,
			uniform(rng, cfg.VocabSize*cfg.HiddenSize, 0.1))
	}
	m.DecoderBias = autograd.NewParam("decoder.bias", 1, cfg.VocabSize, nil)
	return m, nil
}

func newRecurrentLayer(rng *rand.Rand, cell CellType, idx, in, size int) *RecurrentLayer {
	g := cell.gates() * size
	limit := 1 / math.Sqrt(float64(size))
	suffix := "_l" + strconv.Itoa(idx)
	return &RecurrentLayer{
		Cell: cell,
		Size: size,
		Wih:  autograd.NewParam("rnn.weight_ih"+suffix, in, g, uniform(rng, in*g, limit)),
		Whh:  autograd.NewParam("rnn.weight_hh"+suffix, size, g, uniform(rng, size*g, limit)),
		Bih:  autograd.NewParam("rnn.bias_ih"+suffix, 1, g, uniform(rng, g, limit)),
		Bhh:  autograd.NewParam("rnn.bias_hh"+suffix, 1, g, uniform(rng, g, limit)),
	}
}

func uniform(rng *rand.Rand, n int, limit float64) []float64 {
	data := make([]float64, n)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * limit
	}
	return data
}

// Parameters returns the trainable tensors in a stable order. A tied
// decoder is listed once, as the encoder.
func (m *RNNModel) Parameters() []*autograd.Tensor {
	ps := []*autograd.Tensor{m.Encoder}
	for _, l := range m.Layers {
		ps = append(ps, l.Wih, l.Whh, l.Bih, l.Bhh)
	}
	if !m.Config.Tied {
		ps = append(ps, m.Decoder)
	}
	return append(ps, m.DecoderBias)
}

// NumParameters returns the total number of trainable scalars.
func (m *RNNModel) NumParameters() int {
	n := 0
	for _, p := range m.Parameters() {
		r, c := p.Dims()
		n += r * c
	}
	return n
}

// ZeroGrad clears every parameter gradient.
func (m *RNNModel) ZeroGrad() {
	for _, p := range m.Parameters() {
		p.ZeroGrad()
	}
}

// SetTraining switches dropout on or off.
func (m *RNNModel) SetTraining(on bool) { m.training = on }

// Training reports whether dropout is active.
func (m *RNNModel) Training() bool { return m.training }

// SetMaskSeed selects the dropout mask stream. Masks are a pure function of
// this seed, the absolute time offset and the dropout site.
func (m *RNNModel) SetMaskSeed(seed int64) { m.maskSeed = seed }

// InitHidden returns a zero hidden state for the given batch width.
func (m *RNNModel) InitHidden(batch int) hidden.State {
	layer := func() hidden.State {
		hs := make([]hidden.State, m.Config.Layers)
		for i := range hs {
			hs[i] = hidden.Leaf(autograd.New(batch, m.Config.HiddenSize, nil))
		}
		return hidden.Tuple(hs...)
	}
	if m.Config.Type == LSTM {
		return hidden.Tuple(layer(), layer())
	}
	return hidden.Tuple(layer())
}

// Embeddings returns a copy of the word vectors, one row per token id.
func (m *RNNModel) Embeddings() [][]float64 {
	v, e := m.Encoder.Dims()
	data := m.Encoder.Data()
	out := make([][]float64, v)
	for i := range out {
		out[i] = append([]float64(nil), data[i*e:(i+1)*e]...)
	}
	return out
}

// Step runs the model over tokens, a T x B slice of token ids, starting from
// hidden state h. start is the absolute time offset of tokens[0] and keys
// the dropout masks. It returns logits of shape (T*B, VocabSize) in
// time-major row order and the hidden state after the last step.
func (m *RNNModel) Step(tp *autograd.Tape, tokens [][]int, start int, h hidden.State) (*autograd.Tensor, hidden.State) {
	t0 := time.Now()
	defer func() {
		StepDuration.WithLabelValues(string(m.Config.Type), strconv.FormatBool(tp.Recording())).
			Observe(time.Since(t0).Seconds())
	}()

	hs, cs := m.unpack(h)
	outputs := make([]*autograd.Tensor, 0, len(tokens))

	for t, ids := range tokens {
		offset := start + t
		x := tp.Embedding(m.Encoder, ids)
		x = tp.Dropout(x, m.dropoutMask(offset, siteEmbedding, len(ids), m.Config.EmbedSize))

		for l, layer := range m.Layers {
			switch layer.Cell {
			case LSTM:
				hs[l], cs[l] = layer.lstm(tp, x, hs[l], cs[l])
			case GRU:
				hs[l] = layer.gru(tp, x, hs[l])
			default:
				hs[l] = layer.rnn(tp, x, hs[l])
			}
			x = hs[l]
			if l < len(m.Layers)-1 {
				x = tp.Dropout(x, m.dropoutMask(offset, l, len(ids), layer.Size))
			}
		}
		outputs = append(outputs, tp.Dropout(x, m.dropoutMask(offset, siteOutput, len(ids), m.Config.HiddenSize)))
	}

	out := tp.ConcatRows(outputs...)
	logits := tp.AddRow(tp.MatMulT(out, m.Decoder), m.DecoderBias)
	return logits, m.pack(hs, cs)
}

func (m *RNNModel) unpack(h hidden.State) (hs, cs []*autograd.Tensor) {
	want := 1
	if m.Config.Type == LSTM {
		want = 2
	}
	if h.Len() != want {
		panic(fmt.Sprintf("model: hidden state %s does not match %s", h, m.Config.Type))
	}
	hs = h.At(0).Flatten()
	if want == 2 {
		cs = h.At(1).Flatten()
	}
	if len(hs) != len(m.Layers) {
		panic(fmt.Sprintf("model: hidden state has %d layers, model has %d", len(hs), len(m.Layers)))
	}
	return hs, cs
}

func (m *RNNModel) pack(hs, cs []*autograd.Tensor) hidden.State {
	tuple := func(ts []*autograd.Tensor) hidden.State {
		items := make([]hidden.State, len(ts))
		for i, t := range ts {
			items[i] = hidden.Leaf(t)
		}
		return hidden.Tuple(items...)
	}
	if cs == nil {
		return hidden.Tuple(tuple(hs))
	}
	return hidden.Tuple(tuple(hs), tuple(cs))
}

// rnn: h' = act(x·Wih + bih + h·Whh + bhh)
func (l *RecurrentLayer) rnn(tp *autograd.Tape, x, h *autograd.Tensor) *autograd.Tensor {
	pre := tp.Add(tp.Linear(x, l.Wih, l.Bih), tp.Linear(h, l.Whh, l.Bhh))
	if l.Cell == RNNReLU {
		return tp.ReLU(pre)
	}
	return tp.Tanh(pre)
}

// lstm:
//
//	i, f, o = σ(·), g = tanh(·)
//	c' = f⊙c + i⊙g
//	h' = o⊙tanh(c')
func (l *RecurrentLayer) lstm(tp *autograd.Tape, x, h, c *autograd.Tensor) (*autograd.Tensor, *autograd.Tensor) {
	H := l.Size
	gates := tp.Add(tp.Linear(x, l.Wih, l.Bih), tp.Linear(h, l.Whh, l.Bhh))
	i := tp.Sigmoid(tp.Cols(gates, 0, H))
	f := tp.Sigmoid(tp.Cols(gates, H, 2*H))
	g := tp.Tanh(tp.Cols(gates, 2*H, 3*H))
	o := tp.Sigmoid(tp.Cols(gates, 3*H, 4*H))

	cNext := tp.Add(tp.Mul(f, c), tp.Mul(i, g))
	hNext := tp.Mul(o, tp.Tanh(cNext))
	return hNext, cNext
}

// gru:
//
//	r, z = σ(·)
//	n = tanh(x·Win + bin + r⊙(h·Whn + bhn))
//	h' = (1-z)⊙n + z⊙h
func (l *RecurrentLayer) gru(tp *autograd.Tape, x, h *autograd.Tensor) *autograd.Tensor {
	H := l.Size
	gi := tp.Linear(x, l.Wih, l.Bih)
	gh := tp.Linear(h, l.Whh, l.Bhh)
	r := tp.Sigmoid(tp.Add(tp.Cols(gi, 0, H), tp.Cols(gh, 0, H)))
	z := tp.Sigmoid(tp.Add(tp.Cols(gi, H, 2*H), tp.Cols(gh, H, 2*H)))
	n := tp.Tanh(tp.Add(tp.Cols(gi, 2*H, 3*H), tp.Mul(r, tp.Cols(gh, 2*H, 3*H))))
	return tp.Add(tp.Mul(tp.OneMinus(z), n), tp.Mul(z, h))
}
