// Package randkey generates the shuffled key permutations the CLI
// driver's benchmark scenarios use to exercise random-order insert and
// lookup, as a deterministic, seedable shuffle.
package randkey

import "math/rand"

// Source produces a permutation of [0, n).
type Source interface {
	Permutation(n int) []uint64
}

type shuffled struct {
	rnd *rand.Rand
}

// NewShuffled returns a Source whose Permutation output is a
// Fisher-Yates shuffle of [0, n), reproducible across runs for a given
// seed.
func NewShuffled(seed int64) Source {
	return &shuffled{rnd: rand.New(rand.NewSource(seed))}
}

// Permutation returns a shuffled []uint64 holding each of 0..n-1 once.
func (s *shuffled) Permutation(n int) []uint64 {
	out := make([]uint64, n)
	for i := range out {
		out[i] = uint64(i)
	}
	s.rnd.Shuffle(n, func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
