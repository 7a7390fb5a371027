// Package transport defines the platform-neutral surface between the relay
// engine and a chat platform adapter.
package transport

import (
	"context"
	"io"
	"time"
)

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
	UpdateCommand UpdateKind = "command"
)

// Update is a single inbound unit emitted by an adapter.
type Update struct {
	Kind    UpdateKind
	Message *Inbound
	Command *Command
}

// Inbound is one conversational event: text plus optional file attachments.
// Immutable once constructed.
type Inbound struct {
	// EventID uniquely identifies the platform message ("<chatID>:<msgID>").
	EventID      string
	ChatID       int64
	SenderName   string
	SenderHandle string
	Text         string
	Files        []FileRef
	ReceivedAt   time.Time
}

// FileRef is a platform file reference; bytes are fetched lazily via
// Adapter.FetchFile.
type FileRef struct {
	ID            string
	SuggestedName string
	Kind          string // "photo", "document", "video"
}

// Command is an explicit operator command addressed to the bot.
type Command struct {
	Name   string // "start", "send", "status"
	ChatID int64
}

type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	// SendText sends a short acknowledgment back into a conversation.
	SendText(ctx context.Context, chatID int64, text string) error

	// FetchFile opens the raw bytes of a platform file reference.
	// The caller owns the returned reader.
	FetchFile(ctx context.Context, ref FileRef) (io.ReadCloser, error)
}
