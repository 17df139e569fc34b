package service

import (
	"context"
	"strings"
	"time"

	"github.com/okian/matchpoint/internal/domain/apperror"
	"github.com/okian/matchpoint/internal/domain/dedupe"
	"github.com/okian/matchpoint/internal/domain/geo"
	"github.com/okian/matchpoint/internal/domain/model"
	"github.com/okian/matchpoint/pkg/logger"
	"github.com/okian/matchpoint/pkg/metrics"
)

// CreateSpec describes a new match. Nil pointers take the policy defaults.
type CreateSpec struct {
	Title       string           `json:"title"`
	Sport       string           `json:"sport"`
	Datetime    time.Time        `json:"datetime"`
	Location    geo.Point        `json:"location"`
	Capacity    int              `json:"capacity"`
	MinAge      *int             `json:"minAge,omitempty"`
	MaxAge      *int             `json:"maxAge,omitempty"`
	Gender      model.Gender     `json:"gender,omitempty"`
	Visibility  model.Visibility `json:"visibility,omitempty"`
	Description string           `json:"description,omitempty"`
	Imagery     []string         `json:"imagery,omitempty"`

	// IdempotencyKey makes retries by the same host return the match the
	// first attempt created.
	IdempotencyKey string `json:"-"`
}

// CreateMatch validates the request and stores a new scheduled match hosted by
// hostID.
func (s *Service) CreateMatch(ctx context.Context, hostID string, spec CreateSpec) (model.Match, error) {
	const op = "service.create"
	s.logger.Debug(ctx, "create requested", logger.String("hostID", hostID), logger.String("sport", spec.Sport))

	if hostID == "" {
		return model.Match{}, apperror.NewKind(op, apperror.ErrUnauthenticated)
	}
	m, err := s.buildMatch(op, hostID, spec)
	if err != nil {
		return model.Match{}, err
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	var key string
	if spec.IdempotencyKey != "" {
		key = dedupe.Key(hostID, spec.IdempotencyKey)
		id, claimed := s.deduper.Claim(ctx, key)
		if !claimed {
			if id == "" {
				return model.Match{}, apperror.New(op, apperror.ErrConflict, ErrIdempotencyInFlight)
			}
			s.logger.Debug(ctx, "idempotent create replayed", logger.String("matchID", id))
			existing, err := s.store.Get(ctx, id)
			if err != nil {
				return model.Match{}, storeError(op, err)
			}
			return existing, nil
		}
	}

	created, err := s.store.Create(ctx, m)
	if err != nil {
		if key != "" {
			s.deduper.Release(ctx, key)
		}
		s.logger.Warn(ctx, "create failed", logger.Error(err))
		return model.Match{}, storeError(op, err)
	}
	if key != "" {
		s.deduper.Complete(ctx, key, created.ID)
	}

	metrics.RecordMatchCreated()
	metrics.UpdateMatchesTotal(s.store.Count(ctx))
	s.logger.Info(ctx, "match created",
		logger.String("matchID", created.ID),
		logger.String("hostID", hostID),
		logger.String("sport", created.Sport),
		logger.Int("capacity", created.Capacity),
	)
	return created, nil
}

func (s *Service) buildMatch(op, hostID string, spec CreateSpec) (model.Match, error) {
	sport := strings.TrimSpace(spec.Sport)
	if sport == "" {
		return model.Match{}, apperror.Validation(op, "sport is required")
	}
	if spec.Datetime.IsZero() || !spec.Datetime.After(s.now()) {
		return model.Match{}, apperror.New(op, apperror.ErrValidation, ErrPastDatetime)
	}
	if err := s.policy.CheckCapacity(spec.Capacity); err != nil {
		return model.Match{}, apperror.WrapKind(op, apperror.ErrValidation, err)
	}
	if err := spec.Location.Validate(); err != nil {
		return model.Match{}, apperror.WrapKind(op, apperror.ErrValidation, err)
	}

	rules := s.policy.DefaultEligibility()
	if spec.MinAge != nil {
		rules.MinAge = *spec.MinAge
	}
	if spec.MaxAge != nil {
		rules.MaxAge = *spec.MaxAge
	}
	if err := model.ValidateAges(rules.MinAge, rules.MaxAge); err != nil {
		return model.Match{}, apperror.WrapKind(op, apperror.ErrValidation, err)
	}
	if spec.Gender != "" {
		rules.Gender = model.Gender(strings.ToLower(string(spec.Gender)))
	}
	if !rules.Gender.ValidRule() {
		return model.Match{}, apperror.WrapKind(op, apperror.ErrValidation, model.ErrInvalidGender)
	}

	visibility := model.VisibilityPrivate
	if spec.Visibility != "" {
		visibility = model.Visibility(strings.ToLower(string(spec.Visibility)))
	}
	if !visibility.Valid() {
		return model.Match{}, apperror.WrapKind(op, apperror.ErrValidation, model.ErrInvalidVisibility)
	}

	return model.Match{
		ID:          s.newID(),
		Title:       strings.TrimSpace(spec.Title),
		Sport:       sport,
		Datetime:    spec.Datetime.UTC(),
		Location:    spec.Location,
		Capacity:    spec.Capacity,
		Host:        hostID,
		Eligibility: rules,
		Status:      model.StatusScheduled,
		Description: spec.Description,
		Imagery:     append([]string(nil), spec.Imagery...),
		Visibility:  visibility,
	}, nil
}

// GetMatch returns a snapshot of matchID.
func (s *Service) GetMatch(ctx context.Context, matchID string) (model.Match, error) {
	const op = "service.get"
	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	m, err := s.store.Get(ctx, matchID)
	if err != nil {
		return model.Match{}, storeError(op, err)
	}
	return m, nil
}
