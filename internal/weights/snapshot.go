// Package weights persists model snapshots as CBOR.
package weights

import (
	"errors"
	"fmt"

	"github.com/23skdu/longbow-wordlm/internal/autograd"
	"github.com/23skdu/longbow-wordlm/internal/model"
)

// Version is the snapshot format version written by Save.
const Version = 1

var (
	// ErrVersion is returned when a snapshot has an unknown format version.
	ErrVersion = errors.New("weights: unsupported snapshot version")
	// ErrMismatch is returned when a snapshot does not fit the target model.
	ErrMismatch = errors.New("weights: snapshot does not match model")
)

// Matrix is one named parameter in row-major order.
type Matrix struct {
	Name string    `cbor:"name"`
	Rows int       `cbor:"rows"`
	Cols int       `cbor:"cols"`
	Data []float64 `cbor:"data"`
}

// Snapshot is a model's parameters plus the training context needed to
// resume or score it.
type Snapshot struct {
	Version    int          `cbor:"version"`
	Config     model.Config `cbor:"config"`
	Params     []Matrix     `cbor:"params"`
	Epoch      int          `cbor:"epoch"`
	ValLoss    float64      `cbor:"val_loss"`
	LR         float64      `cbor:"lr"`
	Dictionary []string     `cbor:"dictionary,omitempty"`
}

// ParameterSet is anything exposing named trainable tensors.
type ParameterSet interface {
	Parameters() []*autograd.Tensor
}

// Capture copies the parameters of m into a snapshot.
func Capture(cfg model.Config, m ParameterSet) *Snapshot {
	ps := m.Parameters()
	snap := &Snapshot{Version: Version, Config: cfg, Params: make([]Matrix, len(ps))}
	for i, p := range ps {
		r, c := p.Dims()
		snap.Params[i] = Matrix{
			Name: p.Name(),
			Rows: r,
			Cols: c,
			Data: append([]float64(nil), p.Data()...),
		}
	}
	return snap
}

// Restore overwrites the parameters of m with the snapshot values. Names,
// order and shapes must match exactly; m is untouched on error.
func Restore(m ParameterSet, snap *Snapshot) error {
	if snap.Version != Version {
		return fmt.Errorf("version %d: %w", snap.Version, ErrVersion)
	}
	ps := m.Parameters()
	if len(ps) != len(snap.Params) {
		return fmt.Errorf("%d parameters, snapshot has %d: %w", len(ps), len(snap.Params), ErrMismatch)
	}
	for i, p := range ps {
		sm := snap.Params[i]
		r, c := p.Dims()
		if sm.Name != p.Name() || sm.Rows != r || sm.Cols != c || len(sm.Data) != r*c {
			return fmt.Errorf("parameter %d: have %s %dx%d, snapshot %s %dx%d: %w",
				i, p.Name(), r, c, sm.Name, sm.Rows, sm.Cols, ErrMismatch)
		}
	}
	for i, p := range ps {
		p.CopyValue(snap.Params[i].Data)
	}
	return nil
}

// Model builds a fresh model from the snapshot config and restores its
// parameters.
func (s *Snapshot) Model() (*model.RNNModel, error) {
	m, err := model.New(s.Config, 0)
	if err != nil {
		return nil, fmt.Errorf("rebuild model: %w", err)
	}
	if err := Restore(m, s); err != nil {
		return nil, err
	}
	return m, nil
}
