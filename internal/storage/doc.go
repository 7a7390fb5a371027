// Package storage provides the relay's append-only diagnostic records.
//
// It currently supports:
//   - Delivery log appends (one row per flushed batch, final status)
//   - Inbound-message log appends (one row per accepted chat event)
//
// These records are diagnostics only; they are never read back to
// reconstruct in-memory state after a restart.
package storage
