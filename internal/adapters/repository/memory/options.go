package memory

import "time"

// Option applies a configuration option to the Store.
type Option func(*Store)

// WithClock sets the time source used for UpdatedAt stamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCellDegrees sets the geo index grid resolution.
func WithCellDegrees(deg float64) Option {
	return func(s *Store) {
		if deg > 0 {
			s.cellDeg = deg
		}
	}
}
