package identity

import (
	"context"
	"fmt"
	"sync"

	"github.com/okian/matchpoint/internal/domain/model"
)

// MemoryDirectory is an in-process Directory. It is seeded from
// configuration and refreshed from verified token claims.
type MemoryDirectory struct {
	mu    sync.RWMutex
	users map[string]model.User
}

var _ Directory = (*MemoryDirectory)(nil)

// NewMemoryDirectory creates a directory holding users.
func NewMemoryDirectory(users ...model.User) *MemoryDirectory {
	d := &MemoryDirectory{users: make(map[string]model.User, len(users))}
	for _, u := range users {
		d.Put(u)
	}
	return d
}

// Put inserts or replaces a profile. Empty ids are ignored.
func (d *MemoryDirectory) Put(u model.User) {
	if u.ID == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.users[u.ID] = u
}

// User implements Directory.
func (d *MemoryDirectory) User(ctx context.Context, id string) (model.User, error) {
	if err := ctx.Err(); err != nil {
		return model.User{}, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	u, ok := d.users[id]
	if !ok {
		return model.User{}, fmt.Errorf("%w: %s", ErrUnknownUser, id)
	}
	return u, nil
}

// Len returns the number of known users.
func (d *MemoryDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users)
}
