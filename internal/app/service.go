// Package service implements match enrollment, lifecycle control and
// discovery on top of a MatchStore. It is the dependency the HTTP API
// drives.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/okian/matchpoint/internal/adapters/identity"
	"github.com/okian/matchpoint/internal/adapters/media"
	"github.com/okian/matchpoint/internal/adapters/repository"
	"github.com/okian/matchpoint/internal/adapters/repository/memory"
	"github.com/okian/matchpoint/internal/domain/apperror"
	"github.com/okian/matchpoint/internal/domain/dedupe"
	"github.com/okian/matchpoint/internal/domain/model"
	"github.com/okian/matchpoint/pkg/logger"
	"github.com/okian/matchpoint/pkg/metrics"
)

// Uploader presigns imagery uploads for a match.
type Uploader interface {
	PresignImage(ctx context.Context, matchID, fileName, contentType string) (media.Upload, error)
}

// Service coordinates matches. It holds no locks around match state; every
// mutation goes through the store's conditional update.
type Service struct {
	mu sync.RWMutex

	// Core components
	store     repository.Store
	directory identity.Directory
	deduper   dedupe.Deduper
	uploader  Uploader

	// Configuration
	policy          model.Policy
	storeTimeout    time.Duration
	dedupeSize      int
	defaultRadiusKm float64
	defaultLimit    int
	maxLimit        int
	maxImages       int
	now             func() time.Time
	newID           func() string

	// State
	started bool

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithStore sets the match store. Defaults to the in-memory store.
func WithStore(store repository.Store) Option {
	return func(s *Service) {
		if store != nil {
			s.store = store
		}
	}
}

// WithDirectory sets the user directory consulted for eligibility.
func WithDirectory(dir identity.Directory) Option {
	return func(s *Service) {
		if dir != nil {
			s.directory = dir
		}
	}
}

// WithUploader enables presigned imagery uploads.
func WithUploader(u Uploader) Option {
	return func(s *Service) {
		s.uploader = u
	}
}

// WithPolicy sets the capacity and default age bounds. Incoherent policies
// are ignored.
func WithPolicy(p model.Policy) Option {
	return func(s *Service) {
		if p.Validate() == nil {
			s.policy = p
		}
	}
}

// WithStoreTimeout bounds every store call made by an operation.
func WithStoreTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.storeTimeout = d
		}
	}
}

// WithDedupeSize sets the size of the idempotency key cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithDefaultRadiusKm sets the discovery radius used when none is given.
func WithDefaultRadiusKm(km float64) Option {
	return func(s *Service) {
		if km > 0 {
			s.defaultRadiusKm = km
		}
	}
}

// WithPageLimits sets the default and maximum discovery page sizes.
func WithPageLimits(defaultLimit, maxLimit int) Option {
	return func(s *Service) {
		if defaultLimit > 0 && maxLimit >= defaultLimit {
			s.defaultLimit = defaultLimit
			s.maxLimit = maxLimit
		}
	}
}

// WithClock sets the time source for join stamps and datetime checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator sets the generator for new match ids.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(l logger.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// New constructs a Service. It is usable right away; Start only announces
// it and refreshes gauges.
func New(opts ...Option) *Service {
	s := &Service{
		policy:          model.DefaultPolicy(),
		storeTimeout:    5 * time.Second,
		dedupeSize:      10000,
		defaultRadiusKm: 10,
		defaultLimit:    20,
		maxLimit:        100,
		maxImages:       10,
		now:             time.Now,
		newID:           uuid.NewString,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.store == nil {
		s.store = memory.New()
	}
	if s.directory == nil {
		s.directory = identity.NewMemoryDirectory()
	}
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))
	if s.logger == nil {
		s.logger = logger.Get()
	}
	return s
}

// Start marks the service as serving.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.started = true

	count := s.store.Count(ctx)
	metrics.UpdateMatchesTotal(count)
	s.logger.Info(ctx, "match service started",
		logger.Int("matches", count),
		logger.Int("minCapacity", s.policy.MinCapacity),
		logger.Int("maxCapacity", s.policy.MaxCapacity),
		logger.Duration("storeTimeout", s.storeTimeout),
		logger.Bool("imagery", s.uploader != nil),
	)
	return nil
}

// Stop closes the store if it holds resources.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	s.logger.Info(context.Background(), "stopping match service...")
	if closer, ok := s.store.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.logger.Warn(context.Background(), "closing store failed", logger.Error(err))
		}
	}
	s.started = false
	s.logger.Info(context.Background(), "match service stopped")
}

// Policy returns the active capacity and age policy.
func (s *Service) Policy() model.Policy { return s.policy }

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.storeTimeout)
	defer cancel()

	total := s.store.Count(ctx)
	metrics.UpdateMatchesTotal(total)

	return map[string]interface{}{
		"started":         s.started,
		"totalMatches":    total,
		"idempotencyKeys": s.deduper.Size(),
		"minCapacity":     s.policy.MinCapacity,
		"maxCapacity":     s.policy.MaxCapacity,
		"imagery":         s.uploader != nil,
	}
}

// storeContext bounds a store call by the configured timeout.
func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.storeTimeout)
}

// storeError maps a store error onto an apperror kind for op.
func storeError(op string, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return apperror.New(op, apperror.ErrNotFound, ErrMatchNotFound)
	case errors.Is(err, repository.ErrTransient),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return apperror.WrapKind(op, apperror.ErrTransient, err)
	case errors.Is(err, repository.ErrAlreadyExists):
		return apperror.WrapKind(op, apperror.ErrConflict, err)
	case errors.Is(err, repository.ErrInvalidMatch):
		return apperror.WrapKind(op, apperror.ErrValidation, err)
	default:
		return apperror.Wrap(op, err)
	}
}

// resolveUser looks the caller up in the directory.
func (s *Service) resolveUser(ctx context.Context, op, userID string) (model.User, error) {
	if userID == "" {
		return model.User{}, apperror.NewKind(op, apperror.ErrUnauthenticated)
	}
	u, err := s.directory.User(ctx, userID)
	switch {
	case err == nil:
		return u, nil
	case errors.Is(err, identity.ErrUnknownUser):
		return model.User{}, apperror.New(op, apperror.ErrNotFound, ErrUserNotFound)
	default:
		return model.User{}, apperror.WrapKind(op, apperror.ErrTransient, err)
	}
}
