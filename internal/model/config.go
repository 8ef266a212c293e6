package model

import (
	"errors"
	"fmt"
	"strings"
)

// CellType selects the recurrent cell.
type CellType string

const (
	RNNTanh CellType = "RNN_TANH"
	RNNReLU CellType = "RNN_RELU"
	LSTM    CellType = "LSTM"
	GRU     CellType = "GRU"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("model: invalid config")

// ParseCellType parses a cell name case-insensitively.
func ParseCellType(s string) (CellType, error) {
	switch c := CellType(strings.ToUpper(s)); c {
	case RNNTanh, RNNReLU, LSTM, GRU:
		return c, nil
	}
	return "", fmt.Errorf("unknown cell type %q (want RNN_TANH, RNN_RELU, LSTM or GRU): %w", s, ErrInvalidConfig)
}

// gates returns how many HiddenSize-wide blocks the cell's input and
// recurrent projections produce.
func (c CellType) gates() int {
	switch c {
	case LSTM:
		return 4
	case GRU:
		return 3
	default:
		return 1
	}
}

// Config holds the configuration for the language model.
type Config struct {
	Type       CellType
	VocabSize  int
	EmbedSize  int
	HiddenSize int
	Layers     int
	Dropout    float64
	// Tied shares the embedding table with the decoder.
	Tied bool
}

// DefaultConfig returns a two-layer LSTM with 200 units.
func DefaultConfig(vocab int) Config {
	return Config{
		Type:       LSTM,
		VocabSize:  vocab,
		EmbedSize:  200,
		HiddenSize: 200,
		Layers:     2,
		Dropout:    0.2,
	}
}

// Validate checks sizes and the tied-weights constraint.
func (c Config) Validate() error {
	if _, err := ParseCellType(string(c.Type)); err != nil {
		return err
	}
	switch {
	case c.VocabSize <= 0:
		return fmt.Errorf("vocab size %d: %w", c.VocabSize, ErrInvalidConfig)
	case c.EmbedSize <= 0 || c.HiddenSize <= 0:
		return fmt.Errorf("embed size %d, hidden size %d: %w", c.EmbedSize, c.HiddenSize, ErrInvalidConfig)
	case c.Layers <= 0:
		return fmt.Errorf("layers %d: %w", c.Layers, ErrInvalidConfig)
	case c.Dropout < 0 || c.Dropout >= 1:
		return fmt.Errorf("dropout %v outside [0, 1): %w", c.Dropout, ErrInvalidConfig)
	case c.Tied && c.EmbedSize != c.HiddenSize:
		return fmt.Errorf("tied weights need embed size == hidden size (%d != %d): %w",
			c.EmbedSize, c.HiddenSize, ErrInvalidConfig)
	}
	return nil
}
