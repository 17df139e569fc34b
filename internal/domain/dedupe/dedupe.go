// Package dedupe tracks idempotency keys for match creation so that a
// retried request returns the match created by the first attempt.
package dedupe

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
)

// Deduper maps idempotency keys to the id of the entity they produced.
type Deduper interface {
	// Claim atomically reserves key. It returns claimed=true when the caller
	// now owns the key. Otherwise it returns the recorded id, which is empty
	// while the owning request is still in flight.
	Claim(ctx context.Context, key string) (id string, claimed bool)

	// Complete records the id produced for a claimed key.
	Complete(ctx context.Context, key, id string)

	// Release drops a claimed key so a later request can retry it. Used when
	// the owning request failed.
	Release(ctx context.Context, key string)

	Size() int64
}

type entry struct {
	key string
	id  string
}

// inMemoryDeduper keeps keys in insertion order and evicts the oldest when
// bounded (maxSize > 0). maxSize <= 0 means unbounded.
type inMemoryDeduper struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List
	maxSize int
	size    atomic.Int64
}

// NewInMemoryDeduper creates a new in-memory deduper with configuration options.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{
		maxSize: 10000,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.entries = make(map[string]*list.Element)
	d.order = list.New()
	return d
}

func (d *inMemoryDeduper) Claim(_ context.Context, key string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.entries[key]; ok {
		return el.Value.(*entry).id, false
	}
	if d.maxSize > 0 && len(d.entries) >= d.maxSize {
		d.evictOldest()
	}
	d.entries[key] = d.order.PushBack(&entry{key: key})
	d.size.Add(1)
	return "", true
}

func (d *inMemoryDeduper) Complete(_ context.Context, key, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.entries[key]; ok {
		el.Value.(*entry).id = id
	}
}

func (d *inMemoryDeduper) Release(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if el, ok := d.entries[key]; ok {
		d.order.Remove(el)
		delete(d.entries, key)
		d.size.Add(-1)
	}
}

// evictOldest must be called with d.mu held.
func (d *inMemoryDeduper) evictOldest() {
	el := d.order.Front()
	if el == nil {
		return
	}
	d.order.Remove(el)
	delete(d.entries, el.Value.(*entry).key)
	d.size.Add(-1)
}

// Size returns the current number of entries in the deduper.
func (d *inMemoryDeduper) Size() int64 {
	return d.size.Load()
}

// Key scopes an idempotency key to the caller that sent it.
func Key(owner, key string) string {
	return owner + "\x00" + key
}
