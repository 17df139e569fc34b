// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/okian/matchpoint/internal/adapters/identity"
	"github.com/okian/matchpoint/internal/adapters/media"
	service "github.com/okian/matchpoint/internal/app"
	"github.com/okian/matchpoint/internal/domain/apperror"
	"github.com/okian/matchpoint/internal/domain/lifecycle"
	"github.com/okian/matchpoint/internal/domain/model"
	"github.com/okian/matchpoint/pkg/logger"
	"github.com/rs/cors"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	List(ctx context.Context, req service.ListRequest) (service.ListResult, error)
	GetMatch(ctx context.Context, matchID string) (model.Match, error)
	CreateMatch(ctx context.Context, hostID string, spec service.CreateSpec) (model.Match, error)
	Join(ctx context.Context, matchID, userID string) (model.Match, error)
	Leave(ctx context.Context, matchID, userID string) (model.Match, error)
	Apply(ctx context.Context, matchID, hostID string, action lifecycle.Action) (model.Match, error)
	PresignImagery(ctx context.Context, matchID, hostID, fileName, contentType string) (media.Upload, model.Match, error)
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler  *HealthHandler
	statsHandler   *StatsHandler
	matchesHandler *MatchesHandler
	auth           identity.Authenticator
	allowedOrigins []string
}

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithAllowedOrigins sets the CORS origin allow-list. Entries may contain
// one "*" wildcard, e.g. "https://*.vercel.app".
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, auth identity.Authenticator, statsProvider StatsProvider, opts ...Option) *Server {
	s := &Server{
		healthHandler:  NewHealthHandler(),
		statsHandler:   NewStatsHandler(statsProvider),
		matchesHandler: NewMatchesHandler(deps),
		auth:           auth,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all HTTP routes to r.
func (s *Server) Register(_ context.Context, r *mux.Router) {
	if r == nil {
		panic("router is nil")
	}
	authed := func(h http.HandlerFunc) http.HandlerFunc { return RequireAuth(s.auth, h) }
	m := s.matchesHandler
	route := func(h http.HandlerFunc, endpoint string) http.HandlerFunc {
		return MetricsMiddleware(Recover(h), endpoint)
	}

	r.HandleFunc("/healthz", route(s.healthHandler.HandleHealth, "/healthz")).Methods(http.MethodGet)
	r.HandleFunc("/metrics", route(s.healthHandler.HandleMetrics, "/metrics")).Methods(http.MethodGet)
	r.HandleFunc("/stats", route(s.statsHandler.HandleStats, "/stats")).Methods(http.MethodGet)

	r.HandleFunc("/matches", route(m.HandleList, "/matches")).Methods(http.MethodGet)
	r.HandleFunc("/matches", route(authed(m.HandleCreate), "/matches")).Methods(http.MethodPost)
	r.HandleFunc("/matches/{id}", route(m.HandleGet, "/matches/{id}")).Methods(http.MethodGet)
	r.HandleFunc("/matches/{id}", route(authed(m.HandleAction), "/matches/{id}")).Methods(http.MethodPatch)
	r.HandleFunc("/matches/{id}/join", route(authed(m.HandleJoin), "/matches/{id}/join")).Methods(http.MethodPost)
	r.HandleFunc("/matches/{id}/leave", route(authed(m.HandleLeave), "/matches/{id}/leave")).Methods(http.MethodPost)
	r.HandleFunc("/matches/{id}/actions", route(authed(m.HandleAction), "/matches/{id}/actions")).Methods(http.MethodPost)
	r.HandleFunc("/matches/{id}/imagery", route(authed(m.HandleImagery), "/matches/{id}/imagery")).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, envelope{Code: "not_found", Error: "route not found"})
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, envelope{Code: "method_not_allowed", Error: "method not allowed"})
	})
}

// CORS wraps h with the configured origin policy.
func (s *Server) CORS(h http.Handler) http.Handler {
	origins := s.allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "Idempotency-Key"},
		// Credentials cannot be combined with a bare "*" origin.
		AllowCredentials: !(len(origins) == 1 && origins[0] == "*"),
	}).Handler(h)
}

// envelope is the response shape shared by every endpoint.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Meta    any    `json:"meta,omitempty"`
	Code    string `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

// writeError renders err using its kind. Errors without a kind are logged
// and reported without detail.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Get().Error(ctx, "request failed", logger.Error(err))
		msg = http.StatusText(status)
	}
	writeJSON(w, status, envelope{Code: apperror.Code(err), Error: msg})
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, op string, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperror.Validation(op, "request body is required")
		}
		return apperror.WrapKind(op, apperror.ErrValidation, fmt.Errorf("%w: %w", ErrBadRequest, err))
	}
	return nil
}
