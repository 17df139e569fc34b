// Package lifecycle models the host-initiated transitions of a match as a
// closed set of action types.
package lifecycle

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Action names as they appear on the wire.
const (
	NameCancel         = "cancel"
	NameReschedule     = "reschedule"
	NameUpdateCapacity = "update_capacity"
	NameClose          = "close"
)

// Parse errors.
var (
	ErrUnknownAction = errors.New("unknown lifecycle action")
	ErrMissingParam  = errors.New("missing action parameter")
	ErrInvalidParams = errors.New("invalid action parameters")
)

// Action is one of Cancel, Reschedule, UpdateCapacity or Close. The set is
// sealed: only this package can add variants.
type Action interface {
	Name() string
	sealed()
}

// Cancel moves a scheduled match to cancelled.
type Cancel struct{}

// Reschedule moves the match to a new, strictly future start time.
type Reschedule struct {
	At time.Time
}

// UpdateCapacity changes the number of seats.
type UpdateCapacity struct {
	Capacity int
}

// Close marks a scheduled match as completed.
type Close struct{}

func (Cancel) Name() string         { return NameCancel }
func (Reschedule) Name() string     { return NameReschedule }
func (UpdateCapacity) Name() string { return NameUpdateCapacity }
func (Close) Name() string          { return NameClose }

func (Cancel) sealed()         {}
func (Reschedule) sealed()     {}
func (UpdateCapacity) sealed() {}
func (Close) sealed()          {}

// Request is the wire shape of an action. Parameters may be nested under
// params or given at the top level next to action.
type Request struct {
	Action   string          `json:"action"`
	Params   json.RawMessage `json:"params,omitempty"`
	Datetime *time.Time      `json:"datetime,omitempty"`
	Capacity *int            `json:"capacity,omitempty"`
}

type params struct {
	Datetime *time.Time `json:"datetime"`
	Capacity *int       `json:"capacity"`
}

// Parse converts a wire request into an Action.
func Parse(req Request) (Action, error) {
	p := params{Datetime: req.Datetime, Capacity: req.Capacity}
	if raw := strings.TrimSpace(string(req.Params)); raw != "" && raw != "null" {
		var nested params
		if err := json.Unmarshal(req.Params, &nested); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidParams, err)
		}
		if nested.Datetime != nil {
			p.Datetime = nested.Datetime
		}
		if nested.Capacity != nil {
			p.Capacity = nested.Capacity
		}
	}

	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case NameCancel:
		return Cancel{}, nil
	case NameClose:
		return Close{}, nil
	case NameReschedule:
		if p.Datetime == nil {
			return nil, fmt.Errorf("%w: datetime", ErrMissingParam)
		}
		return Reschedule{At: *p.Datetime}, nil
	case NameUpdateCapacity:
		if p.Capacity == nil {
			return nil, fmt.Errorf("%w: capacity", ErrMissingParam)
		}
		return UpdateCapacity{Capacity: *p.Capacity}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, req.Action)
	}
}
