package service

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/execsync/internal/domain"
)

// Dedup is the in-process domain.SeenSet used when Redis is not configured.
// Keys expire ttl after they were last marked. It is safe for concurrent use.
type Dedup struct {
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
	mu   sync.Mutex
}

// NewDedup creates a Dedup with the given ttl.
func NewDedup(ttl time.Duration) *Dedup {
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

var _ domain.SeenSet = (*Dedup)(nil)

// MarkSeen records key and reports whether it was seen within the ttl.
func (d *Dedup) MarkSeen(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.seen[key]; ok && now.Sub(last) < d.ttl {
		return true, nil
	}
	d.seen[key] = now
	return false, nil
}

// Forget removes keys.
func (d *Dedup) Forget(_ context.Context, keys ...string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, key := range keys {
		delete(d.seen, key)
	}
	return nil
}

// Cleanup drops expired keys. Watch mode calls it once per cycle.
func (d *Dedup) Cleanup() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for key, ts := range d.seen {
		if now.Sub(ts) >= d.ttl {
			delete(d.seen, key)
		}
	}
}

// Len returns the number of tracked keys.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
