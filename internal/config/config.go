// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New() to build a Config with defaults.
// - Load layers a YAML file and MATCHPOINT_ env vars on top of the defaults.
// - External errors must be wrapped via this package's error helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/okian/matchpoint/internal/domain/model"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverDynamoDB = "dynamodb"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log encoding: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// StoreDriver selects the match store: memory, sqlite or dynamodb.
	StoreDriver string `koanf:"store_driver"`

	// SQLitePath is the database file for the sqlite driver.
	SQLitePath string `koanf:"sqlite_path"`

	// DynamoDBTable and DynamoDBEndpoint configure the dynamodb driver. An
	// empty endpoint uses the regional AWS endpoint.
	DynamoDBTable    string `koanf:"dynamodb_table"`
	DynamoDBEndpoint string `koanf:"dynamodb_endpoint"`

	// AWSRegion is shared by DynamoDB and S3.
	AWSRegion string `koanf:"aws_region"`

	// StoreTimeout bounds every store call made by the service.
	StoreTimeout time.Duration `koanf:"store_timeout"`

	// CASRetries caps optimistic retries in the sqlite and dynamodb drivers.
	CASRetries int `koanf:"cas_retries"`

	// JWTSecret and JWTIssuer configure bearer token verification.
	JWTSecret string `koanf:"jwt_secret"`
	JWTIssuer string `koanf:"jwt_issuer"`

	// Capacity and default age bounds applied to new matches.
	MinCapacity   int `koanf:"min_capacity"`
	MaxCapacity   int `koanf:"max_capacity"`
	DefaultMinAge int `koanf:"default_min_age"`
	DefaultMaxAge int `koanf:"default_max_age"`

	// DefaultRadiusKm is used by geo listing when no radius is given.
	DefaultRadiusKm float64 `koanf:"default_radius_km"`

	// DefaultPageLimit and MaxPageLimit bound GET /matches?limit.
	DefaultPageLimit int `koanf:"default_page_limit"`
	MaxPageLimit     int `koanf:"max_page_limit"`

	// CORSAllowedOrigins lists allowed origins; entries may hold one "*".
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`

	// MediaBucket enables imagery uploads when set.
	MediaBucket     string        `koanf:"media_bucket"`
	MediaPresignTTL time.Duration `koanf:"media_presign_ttl"`

	// DedupeSize sets the size of the idempotency key cache.
	DedupeSize int `koanf:"dedupe_size"`

	// Users seeds the user directory.
	Users []model.User `koanf:"users"`
}

// New creates a Config with defaults.
func New() *Config {
	policy := model.DefaultPolicy()
	return &Config{
		LogLevel:           "info",
		LogFormat:          "text",
		Addr:               ":8080",
		StoreDriver:        DriverMemory,
		SQLitePath:         "matchpoint.db",
		DynamoDBTable:      "matches",
		AWSRegion:          "us-east-1",
		StoreTimeout:       5 * time.Second,
		CASRetries:         5,
		JWTIssuer:          "matchpoint",
		MinCapacity:        policy.MinCapacity,
		MaxCapacity:        policy.MaxCapacity,
		DefaultMinAge:      policy.DefaultMinAge,
		DefaultMaxAge:      policy.DefaultMaxAge,
		DefaultRadiusKm:    10,
		DefaultPageLimit:   20,
		MaxPageLimit:       100,
		CORSAllowedOrigins: []string{"*"},
		MediaPresignTTL:    5 * time.Minute,
		DedupeSize:         10_000,
	}
}

// Policy returns the match policy described by c.
func (c *Config) Policy() model.Policy {
	return model.Policy{
		MinCapacity:   c.MinCapacity,
		MaxCapacity:   c.MaxCapacity,
		DefaultMinAge: c.DefaultMinAge,
		DefaultMaxAge: c.DefaultMaxAge,
	}
}

// Validate reports the first incoherent setting.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return invalid("addr must not be empty")
	case c.StoreTimeout <= 0:
		return invalid("store_timeout must be positive")
	case c.CASRetries < 1:
		return invalid("cas_retries must be at least 1")
	case c.DefaultRadiusKm <= 0:
		return invalid("default_radius_km must be positive")
	case c.DefaultPageLimit < 1 || c.MaxPageLimit < c.DefaultPageLimit:
		return invalid("page limits must satisfy 1 <= default_page_limit <= max_page_limit")
	case c.DedupeSize < 1:
		return invalid("dedupe_size must be positive")
	}
	if err := c.Policy().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	switch c.StoreDriver {
	case DriverMemory:
	case DriverSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return invalid("sqlite_path is required for the sqlite driver")
		}
	case DriverDynamoDB:
		if strings.TrimSpace(c.DynamoDBTable) == "" {
			return invalid("dynamodb_table is required for the dynamodb driver")
		}
	default:
		return invalid(fmt.Sprintf("unknown store_driver %q", c.StoreDriver))
	}

	for i, u := range c.Users {
		if strings.TrimSpace(u.ID) == "" {
			return invalid(fmt.Sprintf("users[%d]: id is required", i))
		}
		if u.Age < model.AgeFloor || u.Age > model.AgeCeiling {
			return invalid(fmt.Sprintf("users[%d]: age out of range", i))
		}
	}
	return nil
}
