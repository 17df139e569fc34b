package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/okian/matchpoint/internal/domain/model"
)

// Claims are the token claims: the registered set plus optional profile
// attributes used for eligibility.
type Claims struct {
	Age    *int   `json:"age,omitempty"`
	Gender string `json:"gender,omitempty"`
	jwt.RegisteredClaims
}

// JWT authenticates and issues HS256 tokens.
type JWT struct {
	secret    []byte
	issuer    string
	now       func() time.Time
	directory *MemoryDirectory
}

var (
	_ Authenticator = (*JWT)(nil)
	_ Issuer        = (*JWT)(nil)
)

// Option applies a configuration option to JWT.
type Option func(*JWT)

// WithClock sets the time source for issuing and validating tokens.
func WithClock(now func() time.Time) Option {
	return func(j *JWT) {
		if now != nil {
			j.now = now
		}
	}
}

// WithDirectory makes Authenticate record profile claims into d.
func WithDirectory(d *MemoryDirectory) Option {
	return func(j *JWT) {
		j.directory = d
	}
}

// NewJWT creates a JWT authenticator/issuer for secret and issuer.
func NewJWT(secret, issuer string, opts ...Option) (*JWT, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: jwt secret is empty", ErrNotConfigured)
	}
	j := &JWT{secret: []byte(secret), issuer: issuer, now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Authenticate implements Authenticator. The token must be HS256, carry an
// expiry, match the configured issuer and name its user in "sub".
func (j *JWT) Authenticate(_ context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrMissingToken
	}

	var claims Claims
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	}
	if j.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
	}
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	}, parserOpts...)
	if err != nil {
		return "", mapJWTError(err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: subject is empty", ErrInvalidToken)
	}

	if j.directory != nil && claims.Age != nil {
		j.directory.Put(model.User{
			ID:     claims.Subject,
			Age:    *claims.Age,
			Gender: model.Gender(strings.ToLower(claims.Gender)),
		})
	}
	return claims.Subject, nil
}

// Issue implements Issuer.
func (j *JWT) Issue(user model.User, ttl time.Duration) (string, error) {
	if user.ID == "" {
		return "", fmt.Errorf("%w: user id is empty", ErrInvalidToken)
	}
	now := j.now()
	age := user.Age
	claims := Claims{
		Age:    &age,
		Gender: string(user.Gender),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    j.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %w", ErrTokenExpired, err)
	default:
		return fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
}
