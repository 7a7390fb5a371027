package engine

import (
	"testing"
	"time"
)

func TestDedupSeen(t *testing.T) {
	t.Parallel()
	d := NewDedup(time.Minute)

	if d.Seen("1:100") {
		t.Fatal("first sighting must not count as seen")
	}
	if !d.Seen("1:100") {
		t.Fatal("second sighting within TTL must count as seen")
	}
	if d.Seen("1:101") {
		t.Fatal("distinct id must not count as seen")
	}
	if d.Seen("") {
		t.Fatal("empty id must never count as seen")
	}
}

func TestDedupExpiry(t *testing.T) {
	t.Parallel()
	d := NewDedup(time.Minute)

	base := time.Now()
	d.now = func() time.Time { return base }
	if d.Seen("1:100") {
		t.Fatal("unexpected duplicate")
	}

	d.now = func() time.Time { return base.Add(59 * time.Second) }
	if !d.Seen("1:100") {
		t.Fatal("id inside TTL must be seen")
	}

	d.now = func() time.Time { return base.Add(2*time.Minute + time.Second) }
	if d.Seen("1:100") {
		t.Fatal("expired id must count as unseen again")
	}
}

func TestDedupDuplicateDoesNotExtendTTL(t *testing.T) {
	t.Parallel()
	d := NewDedup(time.Minute)

	base := time.Now()
	d.now = func() time.Time { return base }
	if d.Seen("1:100") {
		t.Fatal("unexpected duplicate")
	}

	// Re-sighted at 50s; the window still closes at 60s from first sight.
	d.now = func() time.Time { return base.Add(50 * time.Second) }
	if !d.Seen("1:100") {
		t.Fatal("id inside TTL must be seen")
	}

	d.now = func() time.Time { return base.Add(70 * time.Second) }
	if d.Seen("1:100") {
		t.Fatal("TTL must run from first sight, not from the last duplicate")
	}
}

func TestDedupPurge(t *testing.T) {
	t.Parallel()
	d := NewDedup(time.Minute)

	base := time.Now()
	d.now = func() time.Time { return base }
	d.Seen("a")
	d.Seen("b")
	d.Seen("c")

	d.now = func() time.Time { return base.Add(2 * time.Minute) }
	if got := d.Purge(); got != 3 {
		t.Fatalf("Purge() = %d, want 3", got)
	}
	if got := d.Len(); got != 0 {
		t.Fatalf("Len() = %d after purge, want 0", got)
	}
}
