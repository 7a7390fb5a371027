// Package mail composes flushed batches into outbound messages and delivers
// them over a primary SMTP transport with bounded retries, falling back to an
// HTTP transactional API when the primary is exhausted.
package mail

import "context"

// Message is one outbound email, already composed from a batch.
type Message struct {
	Subject     string
	Body        string
	Attachments []string // path handles from the attachment store
}

// Outcome reports how (and whether) a message was delivered.
type Outcome struct {
	Delivered bool
	Transport string // "primary", "fallback" or "none"
	Err       error
}

const (
	TransportPrimary  = "primary"
	TransportFallback = "fallback"
	TransportNone     = "none"
)

// Transport is a concrete delivery mechanism. "Primary" and "fallback" denote
// preference order, not protocol type.
type Transport interface {
	Name() string
	Send(ctx context.Context, m Message) error
}
