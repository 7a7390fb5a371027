package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// DeliveryEntry records the final outcome of one outbound batch.
// Keep it compact and schema-stable.
type DeliveryEntry struct {
	At        time.Time
	Subject   string
	Status    string // "sent" or "failed"
	Transport string // "primary", "fallback" or "none"
	Detail    string // last error, empty on success
}

// InboundEntry records one accepted chat event.
type InboundEntry struct {
	At     time.Time
	Sender string
	Handle string
	Text   string
}
