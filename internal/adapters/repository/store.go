// Package repository defines the match store contract shared by every
// storage driver, plus the commit rules drivers apply inside their atomic
// section.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/matchpoint/internal/domain/geo"
	"github.com/okian/matchpoint/internal/domain/model"
)

// Predicate inspects the current persisted state. A nil return means the
// predicate holds; a non-nil error is the reason it does not.
type Predicate func(m model.Match) error

// Mutation edits a private copy of the match. Returning an error aborts the
// update without side effects.
type Mutation func(m *model.Match) error

// Query selects matches for discovery. Drivers may return a superset of the
// geo radius (bounding-box prefilter); callers compute exact distances.
type Query struct {
	// Status restricts results to one state when non-empty.
	Status model.Status
	// After keeps only matches whose Datetime is strictly after it when non-zero.
	After time.Time
	// Sport keeps only matches with this sport when non-empty.
	Sport string
	// Near enables the proximity prefilter around a point.
	Near         *geo.Point
	RadiusMeters float64
}

// Store provides access to the authoritative match records.
type Store interface {
	// Create inserts a new match. Returns ErrAlreadyExists on id collision.
	Create(ctx context.Context, m model.Match) (model.Match, error)

	// Get returns a snapshot of the match. Returns ErrNotFound if unknown.
	Get(ctx context.Context, id string) (model.Match, error)

	// ConditionalUpdate evaluates pred against the current persisted state
	// and, only if it holds, applies mut and commits, as one indivisible
	// step. A failed predicate returns ErrNotApplied wrapping its reason and
	// leaves state untouched.
	ConditionalUpdate(ctx context.Context, id string, pred Predicate, mut Mutation) (model.Match, error)

	// Query returns snapshots of the matches selected by q.
	Query(ctx context.Context, q Query) ([]model.Match, error)

	// Count returns the number of stored matches.
	Count(ctx context.Context) int
}

// Apply runs pred and mut against a private copy of current and checks the
// structural invariants of the result. Drivers call it inside their atomic
// section; the returned match carries the bumped version.
func Apply(current model.Match, pred Predicate, mut Mutation, now time.Time) (model.Match, error) {
	if pred != nil {
		if reason := pred(current.Clone()); reason != nil {
			return model.Match{}, fmt.Errorf("%w: %w", ErrNotApplied, reason)
		}
	}
	next := current.Clone()
	if mut != nil {
		if err := mut(&next); err != nil {
			return model.Match{}, fmt.Errorf("%w: %w", ErrNotApplied, err)
		}
	}
	next.ID = current.ID
	next.Host = current.Host
	next.CreatedAt = current.CreatedAt
	if err := next.CheckInvariants(); err != nil {
		return model.Match{}, fmt.Errorf("%w: %w", ErrNotApplied, err)
	}
	next.Version = current.Version + 1
	next.UpdatedAt = now
	return next, nil
}

// Prepare validates a new match and stamps its bookkeeping fields.
func Prepare(m model.Match, now time.Time) (model.Match, error) {
	if m.ID == "" {
		return model.Match{}, fmt.Errorf("%w: id is required", ErrInvalidMatch)
	}
	if err := m.CheckInvariants(); err != nil {
		return model.Match{}, fmt.Errorf("%w: %w", ErrInvalidMatch, err)
	}
	m = m.Clone()
	m.Version = 1
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = m.CreatedAt
	return m, nil
}

// Matches reports whether m passes the non-geo filters of q. Geo bounds are
// applied by the drivers' own prefilter.
func Matches(q Query, m model.Match) bool {
	if q.Status != "" && m.Status != q.Status {
		return false
	}
	if !q.After.IsZero() && !m.Datetime.After(q.After) {
		return false
	}
	if q.Sport != "" && m.Sport != q.Sport {
		return false
	}
	return true
}

// ContextError converts a cancelled or expired context into ErrTransient.
func ContextError(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return nil
}
