package bptt

import (
	"errors"
	"fmt"
	"strings"
)

// Normalization selects the divisor that turns segment-summed losses and
// gradients into per-token averages.
type Normalization string

const (
	// NormalizeFixed divides by batch width times bptt, even for a short
	// final window.
	NormalizeFixed Normalization = "fixed"
	// NormalizeExact divides by the number of tokens actually in the window.
	NormalizeExact Normalization = "exact"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("bptt: invalid config")

// ParseNormalization parses "fixed" or "exact".
func ParseNormalization(s string) (Normalization, error) {
	switch n := Normalization(strings.ToLower(s)); n {
	case NormalizeFixed, NormalizeExact:
		return n, nil
	}
	return "", fmt.Errorf("unknown normalization %q (want fixed or exact): %w", s, ErrInvalidConfig)
}

// Config holds the truncated BPTT training configuration.
type Config struct {
	// BPTT is the outer window length, one optimizer step per window.
	BPTT int
	// BPTTStep is the sub-window length. Zero means BPTT.
	BPTTStep    int
	Clip        float64
	LR          float64
	BatchSize   int
	LogInterval int
	Normalize   Normalization
	// Seed keys the per-epoch dropout mask stream.
	Seed int64
}

// DefaultConfig mirrors the classic word language model settings.
func DefaultConfig() Config {
	return Config{
		BPTT:        35,
		Clip:        0.25,
		LR:          20,
		BatchSize:   20,
		LogInterval: 200,
		Normalize:   NormalizeFixed,
		Seed:        1111,
	}
}

// Step returns the effective sub-window length.
func (c Config) Step() int {
	if c.BPTTStep <= 0 {
		return c.BPTT
	}
	return c.BPTTStep
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch {
	case c.BPTT <= 0:
		return fmt.Errorf("bptt %d: %w", c.BPTT, ErrInvalidConfig)
	case c.BPTTStep < 0:
		return fmt.Errorf("bptt step %d: %w", c.BPTTStep, ErrInvalidConfig)
	case c.BatchSize <= 0:
		return fmt.Errorf("batch size %d: %w", c.BatchSize, ErrInvalidConfig)
	case c.LR <= 0:
		return fmt.Errorf("learning rate %v: %w", c.LR, ErrInvalidConfig)
	case c.Clip < 0:
		return fmt.Errorf("clip %v: %w", c.Clip, ErrInvalidConfig)
	case c.LogInterval <= 0:
		return fmt.Errorf("log interval %d: %w", c.LogInterval, ErrInvalidConfig)
	}
	if _, err := ParseNormalization(string(c.Normalize)); err != nil {
		return err
	}
	return nil
}
