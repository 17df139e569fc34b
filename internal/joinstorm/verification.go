package joinstorm

import (
	"fmt"

	"github.com/okian/matchpoint/internal/domain/model"
)

// verify checks the storm against the match as the server ended up with it:
// exactly Capacity joins succeeded, every other join conflicted, and the
// roster holds Capacity distinct users.
func verify(cfg *Config, final model.Match, stats *Stats) error {
	seen := make(map[string]struct{}, len(final.Participants))
	for _, p := range final.Participants {
		seen[p.UserID] = struct{}{}
	}
	stats.Participants = len(final.Participants)
	stats.Distinct = len(seen)

	switch {
	case stats.Failed != 0:
		return fmt.Errorf("%w: %d joins failed outright", ErrViolation, stats.Failed)
	case stats.Joined != cfg.Capacity:
		return fmt.Errorf("%w: %d joins succeeded, want %d", ErrViolation, stats.Joined, cfg.Capacity)
	case stats.Conflicts != cfg.Extra:
		return fmt.Errorf("%w: %d joins conflicted, want %d", ErrViolation, stats.Conflicts, cfg.Extra)
	case stats.Participants != cfg.Capacity:
		return fmt.Errorf("%w: match holds %d participants, want %d", ErrViolation, stats.Participants, cfg.Capacity)
	case stats.Distinct != stats.Participants:
		return fmt.Errorf("%w: %d duplicate participants", ErrViolation, stats.Participants-stats.Distinct)
	}
	return nil
}
