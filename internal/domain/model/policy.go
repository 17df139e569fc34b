package model

import "fmt"

// Absolute age limits accepted for eligibility rules.
const (
	AgeFloor   = 0
	AgeCeiling = 100
)

// Policy carries the configurable bounds applied when matches are created
// or their capacity changes.
type Policy struct {
	MinCapacity   int
	MaxCapacity   int
	DefaultMinAge int
	DefaultMaxAge int
}

// DefaultPolicy returns the stock bounds: 2..22 seats, ages 18..60.
func DefaultPolicy() Policy {
	return Policy{
		MinCapacity:   2,
		MaxCapacity:   22,
		DefaultMinAge: 18,
		DefaultMaxAge: 60,
	}
}

// Validate checks that the policy itself is coherent.
func (p Policy) Validate() error {
	if p.MinCapacity < 1 || p.MaxCapacity < p.MinCapacity {
		return fmt.Errorf("%w: capacity bounds %d..%d", ErrInvalidPolicy, p.MinCapacity, p.MaxCapacity)
	}
	if err := ValidateAges(p.DefaultMinAge, p.DefaultMaxAge); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPolicy, err)
	}
	return nil
}

// CheckCapacity reports whether capacity lies within the policy bounds.
func (p Policy) CheckCapacity(capacity int) error {
	if capacity < p.MinCapacity || capacity > p.MaxCapacity {
		return fmt.Errorf("%w: must be between %d and %d", ErrCapacityOutOfBounds, p.MinCapacity, p.MaxCapacity)
	}
	return nil
}

// ValidateAges checks 0 <= minAge <= maxAge <= 100.
func ValidateAges(minAge, maxAge int) error {
	if minAge < AgeFloor || maxAge > AgeCeiling || minAge > maxAge {
		return ErrAgeOutOfBounds
	}
	return nil
}

// DefaultEligibility returns the rules applied when a host sets none.
func (p Policy) DefaultEligibility() Eligibility {
	return Eligibility{MinAge: p.DefaultMinAge, MaxAge: p.DefaultMaxAge, Gender: GenderAny}
}
