package feed

import (
	crand "crypto/rand"
	"math/rand/v2"
)

// Rand is the random source used by the shuffler and the sampler.
// *rand.Rand from math/rand/v2 satisfies it.
type Rand interface {
	// IntN returns a uniform value in [0, n). n must be > 0.
	IntN(n int) int
}

// NewRand returns a deterministic source for a fixed seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// NewEntropyRand returns a ChaCha8 source seeded from the OS entropy pool.
// The result is not safe for concurrent use.
func NewEntropyRand() *rand.Rand {
	var seed [32]byte
	// Never fails as of Go 1.24.
	_, _ = crand.Read(seed[:])
	return rand.New(rand.NewChaCha8(seed))
}

// Shuffle permutes s in place with the Fisher-Yates algorithm, walking from
// the last index down to 1 and swapping each element with a uniformly chosen
// one at or below it. Every permutation is equally likely.
func Shuffle[T any](rng Rand, s []T) {
	for i := len(s) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		s[i], s[j] = s[j], s[i]
	}
}
