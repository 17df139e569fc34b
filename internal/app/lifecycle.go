package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/okian/matchpoint/internal/adapters/media"
	"github.com/okian/matchpoint/internal/adapters/repository"
	"github.com/okian/matchpoint/internal/domain/apperror"
	"github.com/okian/matchpoint/internal/domain/lifecycle"
	"github.com/okian/matchpoint/internal/domain/model"
	"github.com/okian/matchpoint/pkg/logger"
	"github.com/okian/matchpoint/pkg/metrics"
)

// Apply performs a host-initiated lifecycle action on matchID.
func (s *Service) Apply(ctx context.Context, matchID, hostID string, action lifecycle.Action) (model.Match, error) {
	const op = "service.apply"
	if action == nil {
		return model.Match{}, apperror.WrapKind(op, apperror.ErrValidation, lifecycle.ErrUnknownAction)
	}
	name := action.Name()
	s.logger.Debug(ctx, "lifecycle action requested",
		logger.String("matchID", matchID),
		logger.String("hostID", hostID),
		logger.String("action", name),
	)

	updated, err := s.apply(ctx, op, matchID, hostID, action)
	if err != nil {
		metrics.RecordLifecycleAction(name, apperror.Code(err))
		s.logger.Info(ctx, "lifecycle action rejected",
			logger.String("matchID", matchID),
			logger.String("action", name),
			logger.Error(err),
		)
		return model.Match{}, err
	}

	metrics.RecordLifecycleAction(name, resultSuccess)
	s.logger.Info(ctx, "lifecycle action applied",
		logger.String("matchID", matchID),
		logger.String("action", name),
		logger.String("status", string(updated.Status)),
		logger.Int64("version", updated.Version),
	)
	return updated, nil
}

func (s *Service) apply(ctx context.Context, op, matchID, hostID string, action lifecycle.Action) (model.Match, error) {
	if hostID == "" {
		return model.Match{}, apperror.NewKind(op, apperror.ErrUnauthenticated)
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	snapshot, err := s.store.Get(ctx, matchID)
	if err != nil {
		return model.Match{}, storeError(op, err)
	}
	if err := hostPrecheck(op, snapshot, hostID); err != nil {
		return model.Match{}, err
	}

	guard := hostedAndScheduled(hostID)
	var mut repository.Mutation

	switch a := action.(type) {
	case lifecycle.Cancel:
		mut = func(m *model.Match) error {
			m.Status = model.StatusCancelled
			return nil
		}
	case lifecycle.Close:
		mut = func(m *model.Match) error {
			m.Status = model.StatusCompleted
			return nil
		}
	case lifecycle.Reschedule:
		if a.At.IsZero() || !a.At.After(s.now()) {
			return model.Match{}, apperror.New(op, apperror.ErrValidation, ErrPastDatetime)
		}
		at := a.At.UTC()
		mut = func(m *model.Match) error {
			m.Datetime = at
			return nil
		}
	case lifecycle.UpdateCapacity:
		if err := s.policy.CheckCapacity(a.Capacity); err != nil {
			return model.Match{}, apperror.WrapKind(op, apperror.ErrValidation, err)
		}
		if a.Capacity < snapshot.Occupancy() {
			return model.Match{}, apperror.New(op, apperror.ErrValidation, ErrCapacityBelowOccupancy)
		}
		guard = func(m model.Match) error {
			if err := hostedAndScheduled(hostID)(m); err != nil {
				return err
			}
			if a.Capacity < m.Occupancy() {
				return ErrCapacityBelowOccupancy
			}
			return nil
		}
		mut = func(m *model.Match) error {
			m.Capacity = a.Capacity
			return nil
		}
	default:
		return model.Match{}, apperror.WrapKind(op, apperror.ErrValidation, fmt.Errorf("%w: %s", lifecycle.ErrUnknownAction, action.Name()))
	}

	updated, err := s.store.ConditionalUpdate(ctx, matchID, guard, mut)
	if err != nil {
		return model.Match{}, reclassify(op, err)
	}
	return updated, nil
}

// SetImagery attaches an uploaded object key to matchID's imagery.
func (s *Service) SetImagery(ctx context.Context, matchID, hostID, key string) (model.Match, error) {
	const op = "service.set_imagery"
	key = strings.TrimSpace(key)
	if key == "" {
		return model.Match{}, apperror.Validation(op, "imagery key is required")
	}
	if hostID == "" {
		return model.Match{}, apperror.NewKind(op, apperror.ErrUnauthenticated)
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	guard := func(m model.Match) error {
		if err := hostedAndScheduled(hostID)(m); err != nil {
			return err
		}
		if !slices.Contains(m.Imagery, key) && len(m.Imagery) >= s.maxImages {
			return ErrTooManyImages
		}
		return nil
	}
	updated, err := s.store.ConditionalUpdate(ctx, matchID, guard, func(m *model.Match) error {
		if !slices.Contains(m.Imagery, key) {
			m.Imagery = append(m.Imagery, key)
		}
		return nil
	})
	if err != nil {
		return model.Match{}, reclassify(op, err)
	}
	s.logger.Info(ctx, "imagery attached", logger.String("matchID", matchID), logger.String("key", key))
	return updated, nil
}

// PresignImagery hands the host an upload URL for a new image and records
// the object key on the match.
func (s *Service) PresignImagery(ctx context.Context, matchID, hostID, fileName, contentType string) (media.Upload, model.Match, error) {
	const op = "service.presign_imagery"
	if s.uploader == nil {
		return media.Upload{}, model.Match{}, apperror.New(op, apperror.ErrValidation, ErrMediaDisabled)
	}
	if hostID == "" {
		return media.Upload{}, model.Match{}, apperror.NewKind(op, apperror.ErrUnauthenticated)
	}

	snapshot, err := s.GetMatch(ctx, matchID)
	if err != nil {
		return media.Upload{}, model.Match{}, err
	}
	if err := hostPrecheck(op, snapshot, hostID); err != nil {
		return media.Upload{}, model.Match{}, err
	}

	upload, err := s.uploader.PresignImage(ctx, matchID, fileName, contentType)
	switch {
	case errors.Is(err, media.ErrUnsupportedType), errors.Is(err, media.ErrInvalidFileName):
		return media.Upload{}, model.Match{}, apperror.WrapKind(op, apperror.ErrValidation, err)
	case errors.Is(err, media.ErrNotConfigured):
		return media.Upload{}, model.Match{}, apperror.New(op, apperror.ErrValidation, ErrMediaDisabled)
	case err != nil:
		return media.Upload{}, model.Match{}, apperror.WrapKind(op, apperror.ErrTransient, err)
	}

	updated, err := s.SetImagery(ctx, matchID, hostID, upload.Key)
	if err != nil {
		return media.Upload{}, model.Match{}, err
	}
	return upload, updated, nil
}

func hostPrecheck(op string, m model.Match, hostID string) error {
	switch {
	case m.Host != hostID:
		return apperror.New(op, apperror.ErrAuthorization, ErrNotHost)
	case !m.IsScheduled():
		return apperror.New(op, apperror.ErrInvalidState, ErrNotScheduled)
	}
	return nil
}

func hostedAndScheduled(hostID string) repository.Predicate {
	return func(m model.Match) error {
		switch {
		case m.Host != hostID:
			return ErrNotHost
		case !m.IsScheduled():
			return ErrNotScheduled
		}
		return nil
	}
}

// reclassify maps a failed host-side conditional update onto the error the
// caller sees, using the guard's reason.
func reclassify(op string, err error) error {
	if !errors.Is(err, repository.ErrNotApplied) {
		return storeError(op, err)
	}
	switch {
	case errors.Is(err, ErrNotHost):
		return &apperror.Error{Op: op, Kind: apperror.ErrAuthorization, Reason: ErrNotHost, Err: err}
	case errors.Is(err, ErrNotScheduled):
		return &apperror.Error{Op: op, Kind: apperror.ErrInvalidState, Reason: ErrNotScheduled, Err: err}
	case errors.Is(err, ErrCapacityBelowOccupancy):
		return &apperror.Error{Op: op, Kind: apperror.ErrValidation, Reason: ErrCapacityBelowOccupancy, Err: err}
	case errors.Is(err, ErrTooManyImages):
		return &apperror.Error{Op: op, Kind: apperror.ErrValidation, Reason: ErrTooManyImages, Err: err}
	default:
		return &apperror.Error{Op: op, Kind: apperror.ErrInvalidState, Reason: ErrStateChanged, Err: err}
	}
}
