package dynamo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/okian/matchpoint/internal/adapters/repository"
	"github.com/okian/matchpoint/internal/adapters/repository/storetest"
	"github.com/okian/matchpoint/internal/domain/geo"
	"github.com/okian/matchpoint/internal/domain/model"
	"github.com/okian/matchpoint/pkg/metrics"
	"github.com/stretchr/testify/require"
)

// fakeDynamo keeps items in memory and honours the two condition
// expressions the store issues.
type fakeDynamo struct {
	mu        sync.Mutex
	items     map[string]map[string]types.AttributeValue
	conflicts int
	failWith  error
}

func newFake() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func idOf(av map[string]types.AttributeValue) string {
	return av["id"].(*types.AttributeValueMemberS).Value
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return nil, f.failWith
	}
	return &dynamodb.GetItemOutput{Item: f.items[idOf(in.Key)]}, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := idOf(in.Item)
	existing, ok := f.items[id]
	conditionFailed := &types.ConditionalCheckFailedException{Message: aws.String("conditional request failed")}

	switch aws.ToString(in.ConditionExpression) {
	case "attribute_not_exists(id)":
		if ok {
			return nil, conditionFailed
		}
	case "version = :expected":
		if f.conflicts > 0 {
			f.conflicts--
			return nil, conditionFailed
		}
		want := in.ExpressionAttributeValues[":expected"].(*types.AttributeValueMemberN).Value
		if !ok || existing["version"].(*types.AttributeValueMemberN).Value != want {
			return nil, conditionFailed
		}
	}
	f.items[id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if in.Select == types.SelectCount {
		return &dynamodb.ScanOutput{Count: int32(len(f.items))}, nil
	}
	out := &dynamodb.ScanOutput{}
	for _, it := range f.items {
		out.Items = append(out.Items, it)
	}
	return out, nil
}

var berlin = geo.Point{Lat: 52.52, Lng: 13.405}

func join(user string) (repository.Predicate, repository.Mutation) {
	return func(m model.Match) error {
			if m.IsFull() {
				return errors.New("full")
			}
			return nil
		}, func(m *model.Match) error {
			m.Participants = append(m.Participants, model.Participant{UserID: user, JoinedAt: time.UnixMilli(5000).UTC()})
			return nil
		}
}

func TestCreateAndGet(t *testing.T) {
	store := New(newFake(), "matches")
	ctx := context.Background()

	m := storetest.NewMatch("m1", 4, time.Hour, berlin)
	m.Imagery = []string{"matches/m1/a.jpg"}
	created, err := store.Create(ctx, m)
	require.NoError(t, err)
	require.Equal(t, int64(1), created.Version)

	got, err := store.Get(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, m.Sport, got.Sport)
	require.True(t, got.Datetime.Equal(m.Datetime))
	require.Equal(t, m.Eligibility, got.Eligibility)
	require.Equal(t, []string{"matches/m1/a.jpg"}, got.Imagery)
	require.Empty(t, got.Participants)

	_, err = store.Create(ctx, m)
	require.ErrorIs(t, err, repository.ErrAlreadyExists)

	_, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, repository.ErrNotFound)
	require.Equal(t, 1, store.Count(ctx))
}

// matchesGauge reads the stored-matches gauge from the metrics registry.
func matchesGauge(t *testing.T) float64 {
	t.Helper()
	families, err := metrics.GetRegistry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == "matchpoint_service_matches" {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatal("matches gauge not registered")
	return 0
}

func TestCreateUpdatesMatchesGauge(t *testing.T) {
	store := New(newFake(), "matches")
	ctx := context.Background()

	metrics.UpdateMatchesTotal(0)
	for _, id := range []string{"g1", "g2", "g3"} {
		_, err := store.Create(ctx, storetest.NewMatch(id, 4, time.Hour, berlin))
		require.NoError(t, err)
	}
	require.Equal(t, float64(3), matchesGauge(t))

	_, err := store.Create(ctx, storetest.NewMatch("g1", 4, time.Hour, berlin))
	require.ErrorIs(t, err, repository.ErrAlreadyExists)
	require.Equal(t, float64(3), matchesGauge(t))
}

func TestConditionalUpdateRetriesAfterConflict(t *testing.T) {
	fake := newFake()
	store := New(fake, "matches")
	ctx := context.Background()
	_, err := store.Create(ctx, storetest.NewMatch("m1", 2, time.Hour, berlin))
	require.NoError(t, err)

	fake.conflicts = 2
	pred, mut := join("u1")
	updated, err := store.ConditionalUpdate(ctx, "m1", pred, mut)
	require.NoError(t, err)
	require.Equal(t, int64(2), updated.Version)

	got, err := store.Get(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, []model.Participant{{UserID: "u1", JoinedAt: time.UnixMilli(5000).UTC()}}, got.Participants)
}

func TestConditionalUpdateExhaustsRetries(t *testing.T) {
	fake := newFake()
	store := New(fake, "matches", WithCASRetries(2))
	ctx := context.Background()
	_, err := store.Create(ctx, storetest.NewMatch("m1", 2, time.Hour, berlin))
	require.NoError(t, err)

	fake.conflicts = 10
	pred, mut := join("u1")
	_, err = store.ConditionalUpdate(ctx, "m1", pred, mut)
	require.ErrorIs(t, err, repository.ErrTransient)
	require.Equal(t, 7, fake.conflicts)
}

func TestConditionalUpdateNotApplied(t *testing.T) {
	store := New(newFake(), "matches")
	ctx := context.Background()
	_, err := store.Create(ctx, storetest.NewMatch("m1", 2, time.Hour, berlin))
	require.NoError(t, err)

	for _, u := range []string{"a", "b"} {
		pred, mut := join(u)
		_, err := store.ConditionalUpdate(ctx, "m1", pred, mut)
		require.NoError(t, err)
	}
	pred, mut := join("c")
	_, err = store.ConditionalUpdate(ctx, "m1", pred, mut)
	require.ErrorIs(t, err, repository.ErrNotApplied)

	got, err := store.Get(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, got.Participants, 2)
	require.Equal(t, int64(3), got.Version)

	_, err = store.ConditionalUpdate(ctx, "missing", pred, mut)
	require.ErrorIs(t, err, repository.ErrNotFound)
}

func TestBackendFailureIsTransient(t *testing.T) {
	fake := newFake()
	fake.failWith = errors.New("throttled")
	store := New(fake, "matches")

	_, err := store.Get(context.Background(), "m1")
	require.ErrorIs(t, err, repository.ErrTransient)
}

func TestQuery(t *testing.T) {
	store := New(newFake(), "matches")
	ctx := context.Background()

	cancelled := storetest.NewMatch("cancelled", 4, time.Hour, berlin)
	cancelled.Status = model.StatusCancelled
	munich := storetest.NewMatch("munich", 4, time.Hour, geo.Point{Lat: 48.1351, Lng: 11.582})
	for _, m := range []model.Match{storetest.NewMatch("here", 4, time.Hour, berlin), cancelled, munich} {
		_, err := store.Create(ctx, m)
		require.NoError(t, err)
	}

	scheduled, err := store.Query(ctx, repository.Query{Status: model.StatusScheduled})
	require.NoError(t, err)
	require.Len(t, scheduled, 2)

	nearby, err := store.Query(ctx, repository.Query{Status: model.StatusScheduled, Near: &berlin, RadiusMeters: 10_000})
	require.NoError(t, err)
	require.Len(t, nearby, 1)
	require.Equal(t, "here", nearby[0].ID)
}

func TestNewFromConfigRequiresTable(t *testing.T) {
	_, err := NewFromConfig(context.Background(), "eu-central-1", "", "")
	require.Error(t, err)
}
