// Package model contains domain models passed between layers.
package model

import (
	"slices"
	"time"

	"github.com/okian/matchpoint/internal/domain/geo"
)

// Status is the lifecycle state of a match.
type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool { return s == StatusCancelled || s == StatusCompleted }

// Gender is both a user's declared gender and a match's gender rule.
type Gender string

const (
	GenderAny    Gender = "any"
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
	GenderMixed  Gender = "mixed"
)

// ValidRule reports whether g may be used as a match gender rule.
func (g Gender) ValidRule() bool {
	switch g {
	case GenderAny, GenderMale, GenderFemale, GenderMixed:
		return true
	}
	return false
}

// Visibility is inert listing metadata.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Valid reports whether v is a known visibility.
func (v Visibility) Valid() bool { return v == VisibilityPublic || v == VisibilityPrivate }

// Eligibility holds the age and gender rules of a match.
type Eligibility struct {
	MinAge int    `json:"minAge"`
	MaxAge int    `json:"maxAge"`
	Gender Gender `json:"gender"`
}

// Participant is an enrolled user.
type Participant struct {
	UserID   string    `json:"userId"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Match is a scheduled, capacity-limited social event.
type Match struct {
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Sport        string        `json:"sport"`
	Datetime     time.Time     `json:"datetime"`
	Location     geo.Point     `json:"location"`
	Capacity     int           `json:"capacity"`
	Participants []Participant `json:"participants"`
	Host         string        `json:"host"`
	Eligibility  Eligibility   `json:"eligibility"`
	Status       Status        `json:"status"`
	Description  string        `json:"description,omitempty"`
	Imagery      []string      `json:"imagery,omitempty"`
	Visibility   Visibility    `json:"visibility"`
	Version      int64         `json:"version"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// Clone returns a deep copy of m.
func (m Match) Clone() Match {
	out := m
	out.Participants = slices.Clone(m.Participants)
	out.Imagery = slices.Clone(m.Imagery)
	return out
}

// HasParticipant reports whether userID is enrolled.
func (m Match) HasParticipant(userID string) bool {
	return slices.ContainsFunc(m.Participants, func(p Participant) bool {
		return p.UserID == userID
	})
}

// Occupancy returns the number of enrolled participants.
func (m Match) Occupancy() int { return len(m.Participants) }

// IsFull reports whether no seat is left.
func (m Match) IsFull() bool { return len(m.Participants) >= m.Capacity }

// IsScheduled reports whether the match still accepts changes.
func (m Match) IsScheduled() bool { return m.Status == StatusScheduled }

// RemoveParticipant drops userID and reports whether it was present.
func (m *Match) RemoveParticipant(userID string) bool {
	i := slices.IndexFunc(m.Participants, func(p Participant) bool {
		return p.UserID == userID
	})
	if i < 0 {
		return false
	}
	m.Participants = slices.Delete(m.Participants, i, i+1)
	return true
}

// CheckInvariants verifies the structural invariants every committed match
// must hold: occupancy within capacity and unique participants.
func (m Match) CheckInvariants() error {
	if len(m.Participants) > m.Capacity {
		return ErrOverCapacity
	}
	seen := make(map[string]struct{}, len(m.Participants))
	for _, p := range m.Participants {
		if _, dup := seen[p.UserID]; dup {
			return ErrDuplicateParticipant
		}
		seen[p.UserID] = struct{}{}
	}
	return nil
}

// User is the identity collaborator's view of a caller.
type User struct {
	ID     string `json:"id" koanf:"id"`
	Age    int    `json:"age" koanf:"age"`
	Gender Gender `json:"gender,omitempty" koanf:"gender"`
}
