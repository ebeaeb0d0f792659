package sampling

import "fmt"

// SizePolicy selects how the final sample size is derived.
type SizePolicy string

const (
	// PolicyCochran uses the formula result as is.
	PolicyCochran SizePolicy = "cochran"
	// PolicyMargin adds a safety margin to the formula result and caps it.
	PolicyMargin SizePolicy = "margin"
	// PolicyFixed uses an explicitly configured size.
	PolicyFixed SizePolicy = "fixed"
)

// Sizing carries the policy and its knobs.
type Sizing struct {
	Policy       SizePolicy
	FixedSize    int64
	SafetyMargin int64
	Cap          int64
}

// Decision records how a sample size was chosen. Both the formula value and
// the final value are kept so they can be audited side by side.
type Decision struct {
	Policy  SizePolicy
	Formula Estimate
	Size    int64
}

// Decide applies the sizing policy to the population.
func Decide(p Population, s Sizing) (Decision, error) {
	est, err := p.Estimate()
	if err != nil {
		return Decision{}, err
	}

	d := Decision{Policy: s.Policy, Formula: est}

	switch s.Policy {
	case PolicyCochran, "":
		d.Policy = PolicyCochran
		d.Size = est.SampleSize
	case PolicyMargin:
		if s.SafetyMargin < 0 {
			return Decision{}, fmt.Errorf("%w: safety margin must not be negative", ErrInvalidParameter)
		}
		d.Size = est.SampleSize + s.SafetyMargin
		if s.Cap > 0 && d.Size > s.Cap {
			d.Size = s.Cap
		}
		// The margin never asks for more records than exist.
		d.Size = min(d.Size, p.Size)
	case PolicyFixed:
		if s.FixedSize <= 0 {
			return Decision{}, fmt.Errorf("%w: fixed sample size must be positive, got %d", ErrInvalidParameter, s.FixedSize)
		}
		d.Size = s.FixedSize
	default:
		return Decision{}, fmt.Errorf("%w: unknown size policy %q", ErrInvalidParameter, s.Policy)
	}

	if d.Size > p.Size {
		return Decision{}, fmt.Errorf("%w: sample size %d exceeds population %d", ErrInsufficientPopulation, d.Size, p.Size)
	}

	return d, nil
}
