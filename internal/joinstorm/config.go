// Package joinstorm fires a burst of concurrent joins at a running
// matchpoint server and checks that capacity held.
package joinstorm

import (
	"errors"
	"time"
)

// Sentinel errors reported by Run.
var (
	ErrInvalidConfig = errors.New("invalid joinstorm config")
	ErrUnhealthy     = errors.New("service is not healthy")
	ErrViolation     = errors.New("capacity invariant violated")
)

// Default settings.
const (
	DefaultURL      = "http://localhost:8080"
	DefaultIssuer   = "matchpoint"
	DefaultCapacity = 10
	DefaultExtra    = 20
	DefaultTimeout  = 30 * time.Second
	tokenTTL        = time.Hour
	playerAge       = 25
	hostAge         = 30
)

// Config holds configuration for one storm.
type Config struct {
	BaseURL  string        // Base URL of the service
	Secret   string        // HS256 secret shared with the server
	Issuer   string        // Token issuer expected by the server
	Capacity int           // Seats in the match under test
	Extra    int           // Joiners beyond capacity
	Workers  int           // Concurrent HTTP workers
	Timeout  time.Duration // HTTP request timeout
	Verbose  bool          // Log every join outcome
}

// Validate checks that the storm can run.
func (c *Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return errors.Join(ErrInvalidConfig, errors.New("url is required"))
	case c.Secret == "":
		return errors.Join(ErrInvalidConfig, errors.New("secret is required"))
	case c.Capacity < 1:
		return errors.Join(ErrInvalidConfig, errors.New("capacity must be positive"))
	case c.Extra < 0:
		return errors.Join(ErrInvalidConfig, errors.New("extra must not be negative"))
	case c.Workers < 1:
		return errors.Join(ErrInvalidConfig, errors.New("workers must be positive"))
	}
	return nil
}

// Stats holds the outcome of a storm.
type Stats struct {
	MatchID      string
	Attempts     int
	Joined       int
	Conflicts    int
	Failed       int
	Participants int
	Distinct     int
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
}
