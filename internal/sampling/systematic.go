package sampling

import (
	"fmt"
	"math/rand/v2"
)

// Plan is a deterministic systematic sample over [0, Population).
type Plan struct {
	Population int64
	Size       int64
	Seed       uint64
	Stride     int64
	Start      int64
	Indices    []int64
}

// Systematic selects Size indices from [0, population) with a fixed stride
// floor(population/size) and a seeded random start in [0, stride).
// Identical inputs always produce identical plans.
func Systematic(population, size int64, seed uint64) (*Plan, error) {
	if population <= 0 {
		return nil, fmt.Errorf("%w: population size must be positive, got %d", ErrInvalidParameter, population)
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: sample size must be positive, got %d", ErrInvalidParameter, size)
	}

	stride := population / size
	if stride < 1 {
		return nil, fmt.Errorf("%w: sample size %d exceeds population %d", ErrInsufficientPopulation, size, population)
	}

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	start := rng.Int64N(stride)

	indices := make([]int64, 0, size)
	for i := int64(0); i < size; i++ {
		idx := start + i*stride
		if idx >= population {
			break
		}
		indices = append(indices, idx)
	}

	return &Plan{
		Population: population,
		Size:       size,
		Seed:       seed,
		Stride:     stride,
		Start:      start,
		Indices:    indices,
	}, nil
}

// Fingerprint identifies the plan for checkpoint compatibility checks.
func (p *Plan) Fingerprint() string {
	return fmt.Sprintf("N=%d;n=%d;seed=%d;k=%d;r=%d", p.Population, p.Size, p.Seed, p.Stride, p.Start)
}
