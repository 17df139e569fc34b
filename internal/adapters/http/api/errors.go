package api

import (
	"errors"
	"net/http"

	"github.com/okian/matchpoint/internal/domain/apperror"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest  = errors.New("bad request")
	ErrMissingAuth = errors.New("no token provided")
	ErrPanic       = errors.New("handler panicked")
)

// statusFor maps an error kind onto an HTTP status.
func statusFor(err error) int {
	switch apperror.KindOf(err) {
	case apperror.ErrValidation:
		return http.StatusBadRequest
	case apperror.ErrUnauthenticated:
		return http.StatusUnauthorized
	case apperror.ErrAuthorization:
		return http.StatusForbidden
	case apperror.ErrNotFound:
		return http.StatusNotFound
	case apperror.ErrConflict, apperror.ErrInvalidState:
		return http.StatusConflict
	case apperror.ErrTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
