package model

import "math/rand"

// Dropout sites. Each site draws an independent mask per time step. Site
// l >= 0 is the output of layer l feeding layer l+1.
const (
	siteEmbedding = -1
	siteOutput    = -2
)

// splitmix64 finalizer.
func mix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// dropoutMask returns the scaled keep mask for (seed, offset, site), or nil
// when dropout is inactive. The same arguments always yield the same mask,
// so recomputing a time step reproduces its forward values exactly.
func (m *RNNModel) dropoutMask(offset, site, rows, cols int) []float64 {
	p := m.Config.Dropout
	if !m.training || p == 0 {
		return nil
	}
	key := mix(uint64(m.maskSeed)) ^ mix(uint64(offset)<<8|uint64(uint8(site)))
	rng := rand.New(rand.NewSource(int64(mix(key))))

	keep := 1 / (1 - p)
	mask := make([]float64, rows*cols)
	for i := range mask {
		if rng.Float64() >= p {
			mask[i] = keep
		}
	}
	return mask
}
