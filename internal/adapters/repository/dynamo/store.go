// Package dynamo provides a DynamoDB-backed match store. Each match is one
// item; conditional updates are a consistent read followed by a PutItem
// guarded by the version attribute.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/okian/matchpoint/internal/adapters/repository"
	"github.com/okian/matchpoint/internal/domain/geo"
	"github.com/okian/matchpoint/internal/domain/model"
	"github.com/okian/matchpoint/pkg/metrics"
)

const driver = "dynamodb"

// API is the subset of the DynamoDB client used by the store.
type API interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Store persists matches in a DynamoDB table keyed by "id".
type Store struct {
	client  API
	table   string
	retries int
	now     func() time.Time
}

var _ repository.Store = (*Store)(nil)

type participantItem struct {
	UserID   string `dynamodbav:"userId"`
	JoinedAt int64  `dynamodbav:"joinedAt"`
}

type item struct {
	ID           string            `dynamodbav:"id"`
	Title        string            `dynamodbav:"title"`
	Sport        string            `dynamodbav:"sport"`
	Datetime     int64             `dynamodbav:"datetime"`
	Lat          float64           `dynamodbav:"lat"`
	Lng          float64           `dynamodbav:"lng"`
	Capacity     int               `dynamodbav:"capacity"`
	Participants []participantItem `dynamodbav:"participants"`
	Host         string            `dynamodbav:"host"`
	MinAge       int               `dynamodbav:"minAge"`
	MaxAge       int               `dynamodbav:"maxAge"`
	Gender       string            `dynamodbav:"gender"`
	Status       string            `dynamodbav:"status"`
	Description  string            `dynamodbav:"description,omitempty"`
	Imagery      []string          `dynamodbav:"imagery,omitempty"`
	Visibility   string            `dynamodbav:"visibility"`
	Version      int64             `dynamodbav:"version"`
	CreatedAt    int64             `dynamodbav:"createdAt"`
	UpdatedAt    int64             `dynamodbav:"updatedAt"`
}

// New creates a store over an existing client.
func New(client API, table string, opts ...Option) *Store {
	s := &Store{client: client, table: table, retries: 5, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewFromConfig loads the default AWS configuration for region and creates
// a store for table. A non-empty endpoint overrides the service endpoint
// (DynamoDB Local).
func NewFromConfig(ctx context.Context, region, endpoint, table string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("dynamodb table is required")
	}
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return New(client, table, opts...), nil
}

func toMillis(value time.Time) int64 { return value.UTC().UnixMilli() }

func fromMillis(value int64) time.Time { return time.UnixMilli(value).UTC() }

func toItem(m model.Match) item {
	it := item{
		ID:           m.ID,
		Title:        m.Title,
		Sport:        m.Sport,
		Datetime:     toMillis(m.Datetime),
		Lat:          m.Location.Lat,
		Lng:          m.Location.Lng,
		Capacity:     m.Capacity,
		Participants: make([]participantItem, 0, len(m.Participants)),
		Host:         m.Host,
		MinAge:       m.Eligibility.MinAge,
		MaxAge:       m.Eligibility.MaxAge,
		Gender:       string(m.Eligibility.Gender),
		Status:       string(m.Status),
		Description:  m.Description,
		Imagery:      m.Imagery,
		Visibility:   string(m.Visibility),
		Version:      m.Version,
		CreatedAt:    toMillis(m.CreatedAt),
		UpdatedAt:    toMillis(m.UpdatedAt),
	}
	for _, p := range m.Participants {
		it.Participants = append(it.Participants, participantItem{UserID: p.UserID, JoinedAt: toMillis(p.JoinedAt)})
	}
	return it
}

func (it item) toMatch() model.Match {
	m := model.Match{
		ID:           it.ID,
		Title:        it.Title,
		Sport:        it.Sport,
		Datetime:     fromMillis(it.Datetime),
		Location:     geo.Point{Lat: it.Lat, Lng: it.Lng},
		Capacity:     it.Capacity,
		Participants: make([]model.Participant, 0, len(it.Participants)),
		Host:         it.Host,
		Eligibility:  model.Eligibility{MinAge: it.MinAge, MaxAge: it.MaxAge, Gender: model.Gender(it.Gender)},
		Status:       model.Status(it.Status),
		Description:  it.Description,
		Imagery:      it.Imagery,
		Visibility:   model.Visibility(it.Visibility),
		Version:      it.Version,
		CreatedAt:    fromMillis(it.CreatedAt),
		UpdatedAt:    fromMillis(it.UpdatedAt),
	}
	for _, p := range it.Participants {
		m.Participants = append(m.Participants, model.Participant{UserID: p.UserID, JoinedAt: fromMillis(p.JoinedAt)})
	}
	return m
}

func key(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"id": &types.AttributeValueMemberS{Value: id}}
}

// Create implements repository.Store.
func (s *Store) Create(ctx context.Context, m model.Match) (model.Match, error) {
	if err := repository.ContextError(ctx); err != nil {
		return model.Match{}, err
	}
	m, err := repository.Prepare(m, s.now())
	if err != nil {
		return model.Match{}, err
	}
	av, err := attributevalue.MarshalMap(toItem(m))
	if err != nil {
		return model.Match{}, fmt.Errorf("marshal match: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		if isConditionFailed(err) {
			return model.Match{}, repository.ErrAlreadyExists
		}
		return model.Match{}, transient("put match", err)
	}

	metrics.UpdateMatchesTotal(s.Count(ctx))
	return m, nil
}

// Get implements repository.Store.
func (s *Store) Get(ctx context.Context, id string) (model.Match, error) {
	if err := repository.ContextError(ctx); err != nil {
		return model.Match{}, err
	}
	start := time.Now()
	defer func() {
		metrics.RecordStoreQueryLatency(driver, float64(time.Since(start).Microseconds())/1000)
	}()
	return s.get(ctx, id)
}

func (s *Store) get(ctx context.Context, id string) (model.Match, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            key(id),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return model.Match{}, transient("get match", err)
	}
	if len(out.Item) == 0 {
		return model.Match{}, repository.ErrNotFound
	}
	var it item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return model.Match{}, fmt.Errorf("unmarshal match %s: %w", id, err)
	}
	return it.toMatch(), nil
}

// ConditionalUpdate implements repository.Store.
func (s *Store) ConditionalUpdate(ctx context.Context, id string, pred repository.Predicate, mut repository.Mutation) (model.Match, error) {
	if err := repository.ContextError(ctx); err != nil {
		return model.Match{}, err
	}
	start := time.Now()
	result := "applied"
	defer func() {
		metrics.RecordStoreUpdateLatency(driver, result, float64(time.Since(start).Microseconds())/1000)
	}()

	for attempt := 0; ; attempt++ {
		current, err := s.get(ctx, id)
		if err != nil {
			result = "error"
			if errors.Is(err, repository.ErrNotFound) {
				result = "not_found"
			}
			return model.Match{}, err
		}
		next, err := repository.Apply(current, pred, mut, s.now())
		if err != nil {
			result = "not_applied"
			return model.Match{}, err
		}
		av, err := attributevalue.MarshalMap(toItem(next))
		if err != nil {
			result = "error"
			return model.Match{}, fmt.Errorf("marshal match: %w", err)
		}
		_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(s.table),
			Item:                av,
			ConditionExpression: aws.String("version = :expected"),
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":expected": &types.AttributeValueMemberN{Value: strconv.FormatInt(current.Version, 10)},
			},
		})
		switch {
		case err == nil:
			return next, nil
		case isConditionFailed(err):
			if attempt >= s.retries {
				result = "exhausted"
				return model.Match{}, fmt.Errorf("%w: compare-and-swap retries exhausted for %s", repository.ErrTransient, id)
			}
			metrics.RecordStoreCASRetry(driver)
		default:
			result = "error"
			return model.Match{}, transient("put match", err)
		}
	}
}

// Query implements repository.Store with a filtered Scan. Geo bounds are
// part of the filter expression; exact distances are checked in process.
func (s *Store) Query(ctx context.Context, q repository.Query) ([]model.Match, error) {
	if err := repository.ContextError(ctx); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		metrics.RecordStoreQueryLatency(driver, float64(time.Since(start).Microseconds())/1000)
	}()

	input := &dynamodb.ScanInput{TableName: aws.String(s.table)}
	names := map[string]string{}
	values := map[string]types.AttributeValue{}
	var filters []string
	if q.Status != "" {
		names["#status"] = "status"
		values[":status"] = &types.AttributeValueMemberS{Value: string(q.Status)}
		filters = append(filters, "#status = :status")
	}
	if !q.After.IsZero() {
		names["#dt"] = "datetime"
		values[":after"] = numberValue(toMillis(q.After))
		filters = append(filters, "#dt > :after")
	}
	if q.Sport != "" {
		values[":sport"] = &types.AttributeValueMemberS{Value: q.Sport}
		filters = append(filters, "sport = :sport")
	}
	if q.Near != nil {
		box := geo.BoundingBox(*q.Near, q.RadiusMeters)
		values[":minLat"] = floatValue(box.MinLat)
		values[":maxLat"] = floatValue(box.MaxLat)
		values[":minLng"] = floatValue(box.MinLng)
		values[":maxLng"] = floatValue(box.MaxLng)
		filters = append(filters, "lat BETWEEN :minLat AND :maxLat")
		if box.WrapsAntimeridian() {
			filters = append(filters, "(lng >= :minLng OR lng <= :maxLng)")
		} else {
			filters = append(filters, "lng BETWEEN :minLng AND :maxLng")
		}
	}
	if len(filters) > 0 {
		input.FilterExpression = aws.String(strings.Join(filters, " AND "))
		input.ExpressionAttributeValues = values
		if len(names) > 0 {
			input.ExpressionAttributeNames = names
		}
	}

	var out []model.Match
	paginator := dynamodb.NewScanPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, transient("scan matches", err)
		}
		var items []item
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, fmt.Errorf("unmarshal scan result: %w", err)
		}
		for _, it := range items {
			m := it.toMatch()
			if !repository.Matches(q, m) {
				continue
			}
			if q.Near != nil && geo.Distance(*q.Near, m.Location) > q.RadiusMeters {
				continue
			}
			out = append(out, m)
		}
	}
	return out, nil
}

// Count implements repository.Store.
func (s *Store) Count(ctx context.Context) int {
	total := 0
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName: aws.String(s.table),
		Select:    types.SelectCount,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return total
		}
		total += int(page.Count)
	}
	return total
}

func numberValue(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

func floatValue(v float64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatFloat(v, 'f', -1, 64)}
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func transient(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", repository.ErrTransient, op, err)
}
