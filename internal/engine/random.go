package engine

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Randomizer supplies the two independent draws the engine needs: matching
// priorities and the privacy jitter between executions.
type Randomizer interface {
	// Priority returns a uniform integer in [min, max].
	Priority(min, max int) int
	// Jitter returns a uniform duration in [min, max].
	Jitter(min, max time.Duration) time.Duration
}

type pcgRandomizer struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandomizer returns a PCG-backed Randomizer. A zero seed is replaced with
// one derived from the wall clock.
func NewRandomizer(seed uint64) Randomizer {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &pcgRandomizer{rnd: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (r *pcgRandomizer) Priority(min, max int) int {
	if max <= min {
		return min
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return min + r.rnd.IntN(max-min+1)
}

func (r *pcgRandomizer) Jitter(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return min + time.Duration(r.rnd.Int64N(int64(max-min)+1))
}
