package engine

import (
	"sync"
	"testing"
	"time"

	logx "telepost/pkg/logx"
)

type batchRecorder struct {
	mu      sync.Mutex
	batches []Batch
	ch      chan Batch
}

func newBatchRecorder() *batchRecorder {
	return &batchRecorder{ch: make(chan Batch, 16)}
}

func (r *batchRecorder) dispatch(b Batch) {
	r.mu.Lock()
	r.batches = append(r.batches, b)
	r.mu.Unlock()
	r.ch <- b
}

func (r *batchRecorder) wait(t *testing.T, timeout time.Duration) Batch {
	t.Helper()
	select {
	case b := <-r.ch:
		return b
	case <-time.After(timeout):
		t.Fatal("timed out waiting for a flushed batch")
		return Batch{}
	}
}

func (r *batchRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func TestBuffersDebounceFlush(t *testing.T) {
	t.Parallel()
	rec := newBatchRecorder()
	b := NewBuffers(30*time.Millisecond, rec.dispatch, logx.Nop())

	b.Append(7, Item{SenderName: "Ann", SenderHandle: "ann", Text: "one"})
	b.Append(7, Item{Text: "two"})

	batch := rec.wait(t, time.Second)
	if batch.ChatID != 7 {
		t.Fatalf("ChatID = %d, want 7", batch.ChatID)
	}
	if batch.Reason != "debounce" {
		t.Fatalf("Reason = %q, want debounce", batch.Reason)
	}
	if len(batch.Texts) != 2 || batch.Texts[0] != "one" || batch.Texts[1] != "two" {
		t.Fatalf("Texts = %v, want [one two] in arrival order", batch.Texts)
	}
	if batch.SenderName != "Ann" || batch.SenderHandle != "ann" {
		t.Fatalf("sender = %q @%q, want Ann @ann", batch.SenderName, batch.SenderHandle)
	}
	if got := b.Len(); got != 0 {
		t.Fatalf("Len() = %d after flush, want 0", got)
	}
}

func TestBuffersAppendRearmsTimer(t *testing.T) {
	t.Parallel()
	rec := newBatchRecorder()
	b := NewBuffers(60*time.Millisecond, rec.dispatch, logx.Nop())

	b.Append(1, Item{Text: "a"})
	time.Sleep(35 * time.Millisecond)
	b.Append(1, Item{Text: "b"})
	time.Sleep(35 * time.Millisecond)
	// 70ms since first append but only ~35ms since last; nothing must have flushed.
	if got := rec.count(); got != 0 {
		t.Fatalf("flushed %d batches before debounce elapsed", got)
	}

	batch := rec.wait(t, time.Second)
	if batch.Events != 2 {
		t.Fatalf("Events = %d, want 2", batch.Events)
	}
}

func TestBuffersFiredTimerDoesNotFlushRearmedBuffer(t *testing.T) {
	t.Parallel()
	rec := newBatchRecorder()
	b := NewBuffers(40*time.Millisecond, rec.dispatch, logx.Nop())

	b.Append(1, Item{Text: "first"})

	// Hold the lock past the debounce deadline so the timer callback fires
	// and parks on the mutex, then append under the same lock. Stop() in
	// the re-arm cannot revoke the already-fired callback; the generation
	// check has to reject it instead.
	b.mu.Lock()
	time.Sleep(70 * time.Millisecond)
	b.appendLocked(1, Item{Text: "second"})
	b.mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	if got := rec.count(); got != 0 {
		t.Fatalf("superseded timer flushed %d batches, want 0 until the new window elapses", got)
	}
	if got := b.Len(); got != 1 {
		t.Fatalf("Len() = %d, want the conversation still buffered", got)
	}

	batch := rec.wait(t, time.Second)
	if len(batch.Texts) != 2 || batch.Texts[0] != "first" || batch.Texts[1] != "second" {
		t.Fatalf("Texts = %v, want [first second] in one batch", batch.Texts)
	}
	b.Wait()
	if got := rec.count(); got != 1 {
		t.Fatalf("dispatched %d batches, want exactly 1", got)
	}
}

func TestBuffersFlushDispatchesAtMostOnce(t *testing.T) {
	t.Parallel()
	rec := newBatchRecorder()
	b := NewBuffers(time.Hour, rec.dispatch, logx.Nop())

	b.Append(5, Item{Text: "x"})

	first := b.Flush(5, "command")
	second := b.Flush(5, "watchdog")
	if !first {
		t.Fatal("first Flush must report work done")
	}
	if second {
		t.Fatal("second Flush of the same conversation must be a no-op")
	}

	b.Wait()
	if got := rec.count(); got != 1 {
		t.Fatalf("dispatched %d batches, want exactly 1", got)
	}
}

func TestBuffersFlushEmptyConversation(t *testing.T) {
	t.Parallel()
	b := NewBuffers(time.Hour, func(Batch) { t.Error("dispatch must not run") }, logx.Nop())
	if b.Flush(42, "command") {
		t.Fatal("Flush of an unknown conversation must return false")
	}
	b.Wait()
}

func TestBuffersFlushStale(t *testing.T) {
	t.Parallel()
	rec := newBatchRecorder()
	b := NewBuffers(time.Hour, rec.dispatch, logx.Nop())

	base := time.Now()
	b.now = func() time.Time { return base }
	b.Append(1, Item{Text: "old"})

	b.now = func() time.Time { return base.Add(50 * time.Second) }
	b.Append(2, Item{Text: "young"})

	b.now = func() time.Time { return base.Add(80 * time.Second) }
	if got := b.FlushStale(70*time.Second, "watchdog"); got != 1 {
		t.Fatalf("FlushStale flushed %d conversations, want 1", got)
	}

	batch := rec.wait(t, time.Second)
	if batch.ChatID != 1 {
		t.Fatalf("flushed chat %d, want the stale chat 1", batch.ChatID)
	}
	if got := b.Len(); got != 1 {
		t.Fatalf("Len() = %d, want the young conversation still buffered", got)
	}
}

func TestBuffersFlushAll(t *testing.T) {
	t.Parallel()
	rec := newBatchRecorder()
	b := NewBuffers(time.Hour, rec.dispatch, logx.Nop())

	b.Append(1, Item{Text: "a"})
	b.Append(2, Item{Text: "b"})
	b.Append(3, Item{Text: "c"})

	if got := b.FlushAll("shutdown"); got != 3 {
		t.Fatalf("FlushAll flushed %d, want 3", got)
	}
	b.Wait()
	if got := rec.count(); got != 3 {
		t.Fatalf("dispatched %d batches, want 3", got)
	}
}

func TestAssembleNoText(t *testing.T) {
	t.Parallel()
	buf := &buffer{items: []Item{{Attachments: []string{"/tmp/a.jpg"}}}}
	batch := assemble(9, buf, "debounce")
	if len(batch.Texts) != 0 {
		t.Fatalf("Texts = %v, want empty for attachment-only batch", batch.Texts)
	}
	if len(batch.Attachments) != 1 {
		t.Fatalf("Attachments = %v, want the stored handle", batch.Attachments)
	}
}
