// Package storetest is the behavioural contract every repository.Store
// driver must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/matchpoint/internal/adapters/repository"
	"github.com/okian/matchpoint/internal/domain/geo"
	"github.com/okian/matchpoint/internal/domain/model"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) repository.Store

var (
	base     = time.Date(2030, time.June, 1, 18, 0, 0, 0, time.UTC)
	errFull  = errors.New("full")
	errFound = errors.New("already joined")
)

// NewMatch returns a valid scheduled match at base+offset.
func NewMatch(id string, capacity int, offset time.Duration, loc geo.Point) model.Match {
	return model.Match{
		ID:          id,
		Title:       "Sunday kickabout " + id,
		Sport:       "football",
		Datetime:    base.Add(offset),
		Location:    loc,
		Capacity:    capacity,
		Host:        "host-" + id,
		Eligibility: model.Eligibility{MinAge: 18, MaxAge: 60, Gender: model.GenderAny},
		Status:      model.StatusScheduled,
		Visibility:  model.VisibilityPublic,
		Imagery:     []string{},
		CreatedAt:   base.Add(-24 * time.Hour),
	}
}

func joinPredicate(userID string) repository.Predicate {
	return func(m model.Match) error {
		if m.HasParticipant(userID) {
			return errFound
		}
		if m.IsFull() {
			return errFull
		}
		return nil
	}
}

func joinMutation(userID string) repository.Mutation {
	return func(m *model.Match) error {
		m.Participants = append(m.Participants, model.Participant{UserID: userID, JoinedAt: base})
		return nil
	}
}

// Run executes the contract against stores produced by newStore.
func Run(t *testing.T, newStore Factory) { //nolint:funlen // one contract, many cases
	berlin := geo.Point{Lat: 52.52, Lng: 13.405}

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		created, err := s.Create(ctx, NewMatch("m1", 4, time.Hour, berlin))
		require.NoError(t, err)
		require.Equal(t, int64(1), created.Version)

		got, err := s.Get(ctx, "m1")
		require.NoError(t, err)
		require.Equal(t, "m1", got.ID)
		require.Equal(t, "football", got.Sport)
		require.Equal(t, 4, got.Capacity)
		require.Equal(t, "host-m1", got.Host)
		require.True(t, got.Datetime.Equal(base.Add(time.Hour)))
		require.InDelta(t, berlin.Lat, got.Location.Lat, 1e-9)
		require.Equal(t, model.Eligibility{MinAge: 18, MaxAge: 60, Gender: model.GenderAny}, got.Eligibility)
		require.Empty(t, got.Participants)
		require.Equal(t, 1, s.Count(ctx))

		_, err = s.Create(ctx, NewMatch("m1", 4, time.Hour, berlin))
		require.ErrorIs(t, err, repository.ErrAlreadyExists)

		_, err = s.Get(ctx, "missing")
		require.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("create rejects invalid records", func(t *testing.T) {
		s := newStore(t)
		m := NewMatch("m1", 1, time.Hour, berlin)
		m.Participants = []model.Participant{{UserID: "a"}, {UserID: "b"}}

		_, err := s.Create(context.Background(), m)
		require.ErrorIs(t, err, repository.ErrInvalidMatch)
	})

	t.Run("conditional update applies and bumps version", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.Create(ctx, NewMatch("m1", 2, time.Hour, berlin))
		require.NoError(t, err)

		updated, err := s.ConditionalUpdate(ctx, "m1", joinPredicate("u1"), joinMutation("u1"))
		require.NoError(t, err)
		require.Equal(t, int64(2), updated.Version)
		require.True(t, updated.HasParticipant("u1"))

		got, err := s.Get(ctx, "m1")
		require.NoError(t, err)
		require.Len(t, got.Participants, 1)
		require.Equal(t, "u1", got.Participants[0].UserID)
	})

	t.Run("failed predicate leaves state untouched", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.Create(ctx, NewMatch("m1", 2, time.Hour, berlin))
		require.NoError(t, err)
		_, err = s.ConditionalUpdate(ctx, "m1", joinPredicate("u1"), joinMutation("u1"))
		require.NoError(t, err)

		_, err = s.ConditionalUpdate(ctx, "m1", joinPredicate("u1"), joinMutation("u1"))
		require.ErrorIs(t, err, repository.ErrNotApplied)
		require.ErrorIs(t, err, errFound)

		got, err := s.Get(ctx, "m1")
		require.NoError(t, err)
		require.Equal(t, int64(2), got.Version)
		require.Len(t, got.Participants, 1)
	})

	t.Run("mutation breaking invariants is rejected", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.Create(ctx, NewMatch("m1", 2, time.Hour, berlin))
		require.NoError(t, err)

		_, err = s.ConditionalUpdate(ctx, "m1", nil, func(m *model.Match) error {
			m.Participants = append(m.Participants,
				model.Participant{UserID: "a"}, model.Participant{UserID: "b"}, model.Participant{UserID: "c"})
			return nil
		})
		require.ErrorIs(t, err, repository.ErrNotApplied)
		require.ErrorIs(t, err, model.ErrOverCapacity)

		got, err := s.Get(ctx, "m1")
		require.NoError(t, err)
		require.Empty(t, got.Participants)
		require.Equal(t, int64(1), got.Version)
	})

	t.Run("update of unknown match", func(t *testing.T) {
		s := newStore(t)
		_, err := s.ConditionalUpdate(context.Background(), "missing", nil, nil)
		require.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("snapshots are isolated from later writes", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		_, err := s.Create(ctx, NewMatch("m1", 3, time.Hour, berlin))
		require.NoError(t, err)

		snap, err := s.Get(ctx, "m1")
		require.NoError(t, err)
		_, err = s.ConditionalUpdate(ctx, "m1", nil, joinMutation("u1"))
		require.NoError(t, err)
		require.Empty(t, snap.Participants)

		snap.Participants = append(snap.Participants, model.Participant{UserID: "local"})
		got, err := s.Get(ctx, "m1")
		require.NoError(t, err)
		require.False(t, got.HasParticipant("local"))
	})

	t.Run("concurrent joins never exceed capacity", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		const capacity, extra = 5, 15
		_, err := s.Create(ctx, NewMatch("m1", capacity, time.Hour, berlin))
		require.NoError(t, err)

		var applied, rejected atomic.Int64
		var wg sync.WaitGroup
		start := make(chan struct{})
		errs := make(chan error, capacity+extra)
		for i := range capacity + extra {
			wg.Add(1)
			go func(user string) {
				defer wg.Done()
				<-start
				_, err := s.ConditionalUpdate(ctx, "m1", joinPredicate(user), joinMutation(user))
				switch {
				case err == nil:
					applied.Add(1)
				case errors.Is(err, repository.ErrNotApplied):
					rejected.Add(1)
				default:
					errs <- err
				}
			}(fmt.Sprintf("user-%02d", i))
		}
		close(start)
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		require.Equal(t, int64(capacity), applied.Load())
		require.Equal(t, int64(extra), rejected.Load())

		got, err := s.Get(ctx, "m1")
		require.NoError(t, err)
		require.Len(t, got.Participants, capacity)
		require.NoError(t, got.CheckInvariants())
	})

	t.Run("query filters", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		past := NewMatch("past", 4, -2*time.Hour, berlin)
		cancelled := NewMatch("cancelled", 4, 2*time.Hour, berlin)
		cancelled.Status = model.StatusCancelled
		tennis := NewMatch("tennis", 4, 3*time.Hour, berlin)
		tennis.Sport = "tennis"
		near := NewMatch("near", 4, 4*time.Hour, geo.Point{Lat: 52.53, Lng: 13.405})
		far := NewMatch("far", 4, 5*time.Hour, geo.Point{Lat: 48.1351, Lng: 11.582})
		for _, m := range []model.Match{past, cancelled, tennis, near, far} {
			_, err := s.Create(ctx, m)
			require.NoError(t, err)
		}

		all, err := s.Query(ctx, repository.Query{Status: model.StatusScheduled, After: base})
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"tennis", "near", "far"}, ids(all))

		football, err := s.Query(ctx, repository.Query{Status: model.StatusScheduled, After: base, Sport: "football"})
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"near", "far"}, ids(football))

		nearby, err := s.Query(ctx, repository.Query{
			Status:       model.StatusScheduled,
			After:        base,
			Near:         &berlin,
			RadiusMeters: 10_000,
		})
		require.NoError(t, err)
		require.ElementsMatch(t, []string{"tennis", "near"}, ids(nearby))
	})

	t.Run("expired context is transient", func(t *testing.T) {
		s := newStore(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := s.Get(ctx, "m1")
		require.ErrorIs(t, err, repository.ErrTransient)

		_, err = s.ConditionalUpdate(ctx, "m1", nil, nil)
		require.ErrorIs(t, err, repository.ErrTransient)
	})
}

func ids(ms []model.Match) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.ID)
	}
	return out
}
