package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/okian/matchpoint/internal/adapters/repository"
	"github.com/okian/matchpoint/internal/adapters/repository/memory"
	"github.com/okian/matchpoint/internal/adapters/repository/storetest"
	"github.com/okian/matchpoint/internal/domain/geo"
	"github.com/okian/matchpoint/internal/domain/model"
	"github.com/stretchr/testify/require"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.Store {
		return memory.New()
	})
}

func TestUpdateStampsClock(t *testing.T) {
	fixed := time.Date(2029, time.January, 1, 0, 0, 0, 0, time.UTC)
	s := memory.New(memory.WithClock(func() time.Time { return fixed }), memory.WithCellDegrees(0.5))
	ctx := context.Background()

	_, err := s.Create(ctx, storetest.NewMatch("m1", 4, time.Hour, geo.Point{Lat: 1, Lng: 1}))
	require.NoError(t, err)

	got, err := s.ConditionalUpdate(ctx, "m1", nil, func(m *model.Match) error {
		m.Capacity = 6
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, fixed, got.UpdatedAt)
	require.Equal(t, 6, got.Capacity)
}

func TestQueryFollowsRelocation(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	origin := geo.Point{Lat: 10, Lng: 10}

	_, err := s.Create(ctx, storetest.NewMatch("m1", 4, time.Hour, geo.Point{Lat: 40, Lng: 40}))
	require.NoError(t, err)

	hits, err := s.Query(ctx, repository.Query{Near: &origin, RadiusMeters: 1_000})
	require.NoError(t, err)
	require.Empty(t, hits)

	_, err = s.ConditionalUpdate(ctx, "m1", nil, func(m *model.Match) error {
		m.Location = origin
		return nil
	})
	require.NoError(t, err)

	hits, err = s.Query(ctx, repository.Query{Near: &origin, RadiusMeters: 1_000})
	require.NoError(t, err)
	require.Len(t, hits, 1)
}
