package engine

import (
	"sync"
	"time"
)

// Dedup is a TTL index of recently seen event IDs. Telegram long polling can
// redeliver updates after reconnects, so the relay must treat event IDs as
// at-least-once.
type Dedup struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration

	now func() time.Time
}

func NewDedup(ttl time.Duration) *Dedup {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Dedup{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  time.Now,
	}
}

// Seen records id and reports whether it was already present within the TTL.
// The TTL runs from first sight; a duplicate within the window does not extend
// it. An expired entry counts as unseen and starts a fresh window.
func (d *Dedup) Seen(id string) bool {
	if id == "" {
		return false
	}
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if at, ok := d.seen[id]; ok && now.Sub(at) < d.ttl {
		return true
	}
	d.seen[id] = now
	// Piggyback a cheap purge when the map has grown.
	if len(d.seen) > 4096 {
		d.purgeLocked(now)
	}
	return false
}

// Purge drops expired entries. Called by the maintenance janitor.
func (d *Dedup) Purge() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.purgeLocked(d.now())
}

func (d *Dedup) purgeLocked(now time.Time) int {
	removed := 0
	for id, at := range d.seen {
		if now.Sub(at) >= d.ttl {
			delete(d.seen, id)
			removed++
		}
	}
	return removed
}

// Len reports the current index size. Used by the status command.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
