package world

import (
	"hash/fnv"
	"math/rand/v2"
)

// layoutRNG returns a generator for one layout pass. The same world seed and
// pass name always produce the same arena.
func layoutRNG(seed, pass string) *rand.Rand {
	h := fnv.New128a()
	h.Write([]byte(seed))
	h.Write([]byte{0})
	h.Write([]byte(pass))
	sum := h.Sum(nil)
	var hi, lo uint64
	for i := range 8 {
		hi = hi<<8 | uint64(sum[i])
		lo = lo<<8 | uint64(sum[8+i])
	}
	return rand.New(rand.NewPCG(hi, lo))
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + rng.Float64()*(hi-lo)
}
