package engine

import (
	"sync"
	"time"

	logx "telepost/pkg/logx"
)

// Batch is the immutable result of flushing one conversation buffer.
type Batch struct {
	ChatID       int64
	SenderName   string
	SenderHandle string
	Texts        []string
	Attachments  []string
	Events       int
	CreatedAt    time.Time
	Reason       string // "debounce", "watchdog", "command", "shutdown"
}

// Item is one inbound event folded into a conversation buffer.
type Item struct {
	SenderName   string
	SenderHandle string
	Text         string
	Attachments  []string
}

// buffer accumulates events for a single conversation. Access is guarded by
// the owning Buffers mutex; the timer callback re-enters through flushExpired,
// which takes the lock itself.
//
// gen increments on every timer re-arm. Stop() cannot revoke a timer whose
// callback has already fired and is parked on the mutex, so the callback
// carries the generation it was armed for and flushExpired rejects it once a
// later Append superseded it.
type buffer struct {
	items     []Item
	createdAt time.Time
	timer     *time.Timer
	gen       uint64
}

// Buffers owns all per-conversation buffers and their debounce timers.
//
// Concurrency contract:
//   - Append re-arms the conversation's timer on every event.
//   - Flush removes the buffer and hands the batch off inside one critical
//     section, so concurrent timer/watchdog/command flushes of the same
//     conversation dispatch at most once.
//   - Timer callbacks carry only the chat ID and the arm generation, never a
//     buffer pointer. A timer that fires after a flush finds nothing; a timer
//     that fired concurrently with a re-arming Append fails the generation
//     check. Either way a superseded timer never flushes.
//   - Dispatch runs on a tracked goroutine; Wait() blocks until all handed-off
//     batches finish.
type Buffers struct {
	mu sync.Mutex
	m  map[int64]*buffer

	debounce time.Duration
	dispatch func(Batch)
	wg       sync.WaitGroup

	now func() time.Time
	log logx.Logger
}

func NewBuffers(debounce time.Duration, dispatch func(Batch), log logx.Logger) *Buffers {
	if debounce <= 0 {
		debounce = time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Buffers{
		m:        make(map[int64]*buffer),
		debounce: debounce,
		dispatch: dispatch,
		now:      time.Now,
		log:      log,
	}
}

// Append folds one event into the conversation's buffer and re-arms its
// debounce timer. The buffer's createdAt is set once, on first append, so the
// watchdog ceiling measures total buffer age and not time since last event.
func (b *Buffers) Append(chatID int64, it Item) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.appendLocked(chatID, it)
}

// appendLocked requires b.mu. Every re-arm bumps the buffer's generation, so
// a previously armed timer whose callback already escaped Stop() is rejected
// by flushExpired instead of flushing the fresh window early.
func (b *Buffers) appendLocked(chatID int64, it Item) {
	buf := b.m[chatID]
	if buf == nil {
		buf = &buffer{createdAt: b.now()}
		b.m[chatID] = buf
	}
	buf.items = append(buf.items, it)

	if buf.timer != nil {
		buf.timer.Stop()
	}
	buf.gen++
	gen := buf.gen
	buf.timer = time.AfterFunc(b.debounce, func() {
		b.flushExpired(chatID, gen)
	})
}

// flushExpired is the debounce timer callback. It flushes only when the
// conversation is still buffered and the timer that fired is the one most
// recently armed for it.
func (b *Buffers) flushExpired(chatID int64, gen uint64) {
	b.mu.Lock()
	buf := b.m[chatID]
	if buf == nil || buf.gen != gen {
		b.mu.Unlock()
		return
	}
	b.dispatchLocked(chatID, buf, "debounce")
}

// Flush removes the conversation's buffer, if any, and dispatches its batch on
// a tracked goroutine. Returns false when there was nothing to flush, which
// makes repeated /send commands harmless.
func (b *Buffers) Flush(chatID int64, reason string) bool {
	b.mu.Lock()
	buf := b.m[chatID]
	if buf == nil {
		b.mu.Unlock()
		return false
	}
	b.dispatchLocked(chatID, buf, reason)
	return true
}

// dispatchLocked removes buf from the map and hands its batch to a tracked
// goroutine. Requires b.mu held; releases it.
func (b *Buffers) dispatchLocked(chatID int64, buf *buffer, reason string) {
	delete(b.m, chatID)
	if buf.timer != nil {
		buf.timer.Stop()
		buf.timer = nil
	}
	batch := assemble(chatID, buf, reason)
	b.wg.Add(1)
	b.mu.Unlock()

	go func() {
		defer b.wg.Done()
		b.dispatch(batch)
	}()
}

// FlushStale flushes every buffer older than maxAge. Returns the number of
// conversations flushed.
func (b *Buffers) FlushStale(maxAge time.Duration, reason string) int {
	b.mu.Lock()
	cutoff := b.now().Add(-maxAge)
	var stale []int64
	for chatID, buf := range b.m {
		if !buf.createdAt.After(cutoff) {
			stale = append(stale, chatID)
		}
	}
	b.mu.Unlock()

	flushed := 0
	for _, chatID := range stale {
		if b.Flush(chatID, reason) {
			flushed++
		}
	}
	return flushed
}

// FlushAll flushes every buffered conversation. Used on shutdown.
func (b *Buffers) FlushAll(reason string) int {
	b.mu.Lock()
	ids := make([]int64, 0, len(b.m))
	for chatID := range b.m {
		ids = append(ids, chatID)
	}
	b.mu.Unlock()

	flushed := 0
	for _, chatID := range ids {
		if b.Flush(chatID, reason) {
			flushed++
		}
	}
	return flushed
}

// Len reports the number of buffered conversations.
func (b *Buffers) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.m)
}

// Wait blocks until every dispatched batch has completed.
func (b *Buffers) Wait() { b.wg.Wait() }

func assemble(chatID int64, buf *buffer, reason string) Batch {
	batch := Batch{
		ChatID:    chatID,
		Events:    len(buf.items),
		CreatedAt: buf.createdAt,
		Reason:    reason,
	}
	for _, it := range buf.items {
		// First non-empty sender wins; a conversation buffer is single-sender
		// in practice (private chats), later events just confirm it.
		if batch.SenderName == "" && it.SenderName != "" {
			batch.SenderName = it.SenderName
		}
		if batch.SenderHandle == "" && it.SenderHandle != "" {
			batch.SenderHandle = it.SenderHandle
		}
		if it.Text != "" {
			batch.Texts = append(batch.Texts, it.Text)
		}
		batch.Attachments = append(batch.Attachments, it.Attachments...)
	}
	return batch
}
