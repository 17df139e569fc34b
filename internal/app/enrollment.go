package service

import (
	"context"
	"errors"

	"github.com/okian/matchpoint/internal/adapters/repository"
	"github.com/okian/matchpoint/internal/domain/apperror"
	"github.com/okian/matchpoint/internal/domain/eligibility"
	"github.com/okian/matchpoint/internal/domain/model"
	"github.com/okian/matchpoint/pkg/logger"
	"github.com/okian/matchpoint/pkg/metrics"
)

// Join outcome labels.
const (
	resultSuccess    = "success"
	resultConflict   = "conflict"
	resultRaceLost   = "race_lost"
	resultRejected   = "rejected"
	resultNotFound   = "not_found"
	resultError      = "error"
	resultIneligible = "ineligible"
)

// Join enrolls userID into matchID. The snapshot checks only sharpen the
// error reason; the capacity, membership, status and eligibility rules are
// decided by the store's conditional update.
func (s *Service) Join(ctx context.Context, matchID, userID string) (model.Match, error) {
	const op = "service.join"
	metrics.RecordJoinAttempt()
	s.logger.Debug(ctx, "join requested", logger.String("matchID", matchID), logger.String("userID", userID))

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	user, err := s.resolveUser(ctx, op, userID)
	if err != nil {
		metrics.RecordJoinOutcome(resultNotFound)
		return model.Match{}, err
	}

	snapshot, err := s.store.Get(ctx, matchID)
	if err != nil {
		metrics.RecordJoinOutcome(outcomeOf(err))
		return model.Match{}, storeError(op, err)
	}
	if err := joinPrecheck(op, snapshot, user); err != nil {
		metrics.RecordJoinOutcome(outcomeOf(err))
		s.logger.Info(ctx, "join rejected",
			logger.String("matchID", matchID),
			logger.String("userID", userID),
			logger.Error(err),
		)
		return model.Match{}, err
	}

	joinedAt := s.now().UTC()
	updated, err := s.store.ConditionalUpdate(ctx, matchID, canJoin(user), func(m *model.Match) error {
		m.Participants = append(m.Participants, model.Participant{UserID: user.ID, JoinedAt: joinedAt})
		return nil
	})
	switch {
	case errors.Is(err, repository.ErrNotApplied):
		metrics.RecordJoinOutcome(resultRaceLost)
		s.logger.Info(ctx, "join lost the race",
			logger.String("matchID", matchID),
			logger.String("userID", userID),
			logger.Error(err),
		)
		return model.Match{}, &apperror.Error{Op: op, Kind: apperror.ErrConflict, Reason: ErrRaceLost, Err: err}
	case err != nil:
		metrics.RecordJoinOutcome(outcomeOf(err))
		s.logger.Warn(ctx, "join failed", logger.String("matchID", matchID), logger.Error(err))
		return model.Match{}, storeError(op, err)
	}

	metrics.RecordJoinOutcome(resultSuccess)
	s.logger.Info(ctx, "user joined match",
		logger.String("matchID", matchID),
		logger.String("userID", userID),
		logger.Int("occupancy", updated.Occupancy()),
		logger.Int("capacity", updated.Capacity),
	)
	return updated, nil
}

// joinPrecheck classifies why a join cannot succeed against snapshot.
func joinPrecheck(op string, m model.Match, user model.User) error {
	switch {
	case !m.IsScheduled():
		return apperror.New(op, apperror.ErrInvalidState, ErrNotScheduled)
	case m.HasParticipant(user.ID):
		return apperror.New(op, apperror.ErrConflict, ErrAlreadyJoined)
	case m.IsFull():
		return apperror.New(op, apperror.ErrConflict, ErrMatchFull)
	}
	if reason := eligibility.Check(user, m.Eligibility); reason != nil {
		return &apperror.Error{Op: op, Kind: apperror.ErrAuthorization, Reason: ErrIneligible, Err: reason}
	}
	return nil
}

// canJoin is the commit-time guard for a join.
func canJoin(user model.User) repository.Predicate {
	return func(m model.Match) error {
		switch {
		case !m.IsScheduled():
			return ErrNotScheduled
		case m.HasParticipant(user.ID):
			return ErrAlreadyJoined
		case m.IsFull():
			return ErrMatchFull
		}
		if reason := eligibility.Check(user, m.Eligibility); reason != nil {
			return reason
		}
		return nil
	}
}

// Leave removes userID from matchID.
func (s *Service) Leave(ctx context.Context, matchID, userID string) (model.Match, error) {
	const op = "service.leave"
	s.logger.Debug(ctx, "leave requested", logger.String("matchID", matchID), logger.String("userID", userID))

	if userID == "" {
		metrics.RecordLeaveOutcome(resultRejected)
		return model.Match{}, apperror.NewKind(op, apperror.ErrUnauthenticated)
	}

	ctx, cancel := s.storeContext(ctx)
	defer cancel()

	snapshot, err := s.store.Get(ctx, matchID)
	if err != nil {
		metrics.RecordLeaveOutcome(outcomeOf(err))
		return model.Match{}, storeError(op, err)
	}
	if err := leavePrecheck(op, snapshot, userID); err != nil {
		metrics.RecordLeaveOutcome(outcomeOf(err))
		return model.Match{}, err
	}

	updated, err := s.store.ConditionalUpdate(ctx, matchID, canLeave(userID), func(m *model.Match) error {
		m.RemoveParticipant(userID)
		return nil
	})
	switch {
	case errors.Is(err, repository.ErrNotApplied):
		// The guard's reason reflects the state the commit saw.
		var classified error
		if errors.Is(err, ErrNotParticipant) {
			classified = &apperror.Error{Op: op, Kind: apperror.ErrConflict, Reason: ErrNotParticipant, Err: err}
		} else {
			classified = &apperror.Error{Op: op, Kind: apperror.ErrInvalidState, Reason: ErrNotScheduled, Err: err}
		}
		metrics.RecordLeaveOutcome(outcomeOf(classified))
		return model.Match{}, classified
	case err != nil:
		metrics.RecordLeaveOutcome(outcomeOf(err))
		s.logger.Warn(ctx, "leave failed", logger.String("matchID", matchID), logger.Error(err))
		return model.Match{}, storeError(op, err)
	}

	metrics.RecordLeaveOutcome(resultSuccess)
	s.logger.Info(ctx, "user left match",
		logger.String("matchID", matchID),
		logger.String("userID", userID),
		logger.Int("occupancy", updated.Occupancy()),
	)
	return updated, nil
}

func leavePrecheck(op string, m model.Match, userID string) error {
	switch {
	case !m.HasParticipant(userID):
		return apperror.New(op, apperror.ErrConflict, ErrNotParticipant)
	case !m.IsScheduled():
		return apperror.New(op, apperror.ErrInvalidState, ErrNotScheduled)
	}
	return nil
}

func canLeave(userID string) repository.Predicate {
	return func(m model.Match) error {
		switch {
		case !m.HasParticipant(userID):
			return ErrNotParticipant
		case !m.IsScheduled():
			return ErrNotScheduled
		}
		return nil
	}
}

// outcomeOf labels err for the join/leave outcome metrics.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return resultSuccess
	case errors.Is(err, ErrRaceLost):
		return resultRaceLost
	case errors.Is(err, ErrIneligible):
		return resultIneligible
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, apperror.ErrNotFound):
		return resultNotFound
	case errors.Is(err, apperror.ErrConflict):
		return resultConflict
	case errors.Is(err, apperror.ErrInvalidState), errors.Is(err, apperror.ErrValidation):
		return resultRejected
	default:
		return resultError
	}
}
