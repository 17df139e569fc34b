package dynamo

import "time"

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithCASRetries bounds how often a conditional update is retried after the
// version guard failed.
func WithCASRetries(n int) Option {
	return func(s *Store) {
		if n >= 0 {
			s.retries = n
		}
	}
}

// WithClock sets the time source used for UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}
