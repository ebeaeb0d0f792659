// Package sampling computes statistically valid sample sizes and selects
// deterministic systematic samples over an ordered population.
package sampling

import (
	"errors"
	"fmt"
	"math"
)

// Sentinel errors for sampling parameters.
var (
	ErrInvalidParameter       = errors.New("invalid sampling parameter")
	ErrInsufficientPopulation = errors.New("insufficient population")
)

// Published z-scores for the common confidence levels.
var zScores = map[float64]float64{
	0.90: 1.645,
	0.95: 1.96,
	0.99: 2.576,
}

// Population describes the population being sampled and the desired precision.
type Population struct {
	Size       int64   // N
	Confidence float64 // e.g. 0.95
	Margin     float64 // e, e.g. 0.05
	Proportion float64 // p, 0.5 is the conservative choice
}

// Validate checks the population invariants.
func (p Population) Validate() error {
	if p.Size <= 0 {
		return fmt.Errorf("%w: population size must be positive, got %d", ErrInvalidParameter, p.Size)
	}
	return p.ValidateParameters()
}

// ValidateParameters checks the statistical inputs alone, so they can be
// rejected before the population has been counted.
func (p Population) ValidateParameters() error {
	if p.Proportion <= 0 || p.Proportion >= 1 {
		return fmt.Errorf("%w: proportion must be in (0,1), got %g", ErrInvalidParameter, p.Proportion)
	}
	if p.Margin <= 0 || p.Margin >= 1 {
		return fmt.Errorf("%w: margin of error must be in (0,1), got %g", ErrInvalidParameter, p.Margin)
	}
	if p.Confidence <= 0 || p.Confidence >= 1 {
		return fmt.Errorf("%w: confidence must be in (0,1), got %g", ErrInvalidParameter, p.Confidence)
	}
	return nil
}

// ZScore returns the two-sided z-score for a confidence level. The published
// table values are used for 90/95/99%; other levels use the inverse normal.
func ZScore(confidence float64) float64 {
	if z, ok := zScores[confidence]; ok {
		return z
	}
	return math.Sqrt2 * math.Erfinv(confidence)
}

// Estimate holds the intermediate and final values of a size calculation.
type Estimate struct {
	Z          float64
	Infinite   float64 // n0, before finite population correction
	Corrected  float64 // n0 / (1 + (n0-1)/N)
	SampleSize int64   // ceil(Corrected), never above N
}

// Estimate computes the Cochran sample size with finite population correction.
func (p Population) Estimate() (Estimate, error) {
	if err := p.Validate(); err != nil {
		return Estimate{}, err
	}

	z := ZScore(p.Confidence)
	n0 := (z * z * p.Proportion * (1 - p.Proportion)) / (p.Margin * p.Margin)
	n := n0 / (1 + (n0-1)/float64(p.Size))

	size := int64(math.Ceil(n))
	if size > p.Size {
		size = p.Size
	}
	if size < 1 {
		size = 1
	}

	return Estimate{Z: z, Infinite: n0, Corrected: n, SampleSize: size}, nil
}

// SampleSize returns the smallest integer sample size meeting the Cochran bound.
func SampleSize(p Population) (int64, error) {
	est, err := p.Estimate()
	if err != nil {
		return 0, err
	}
	return est.SampleSize, nil
}
