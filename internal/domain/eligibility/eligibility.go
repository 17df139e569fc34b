// Package eligibility decides whether a user satisfies a match's age and
// gender rules. It is pure and safe to call from inside store predicates.
package eligibility

import (
	"errors"

	"github.com/okian/matchpoint/internal/domain/model"
)

// Reasons a user fails a rule set.
var (
	ErrTooYoung = errors.New("user is younger than the minimum age")
	ErrTooOld   = errors.New("user is older than the maximum age")
	ErrGender   = errors.New("user does not match the gender rule")
)

// Check returns nil when user satisfies rules, otherwise the first failing
// reason. Age bounds are inclusive. The any and mixed gender rules admit
// everyone; male and female require the same declared gender.
func Check(user model.User, rules model.Eligibility) error {
	if user.Age < rules.MinAge {
		return ErrTooYoung
	}
	if user.Age > rules.MaxAge {
		return ErrTooOld
	}
	switch rules.Gender {
	case model.GenderMale, model.GenderFemale:
		if user.Gender != rules.Gender {
			return ErrGender
		}
	}
	return nil
}

// IsEligible reports whether Check passes.
func IsEligible(user model.User, rules model.Eligibility) bool {
	return Check(user, rules) == nil
}
