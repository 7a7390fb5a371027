package mail

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logx "telepost/pkg/logx"
)

// scriptedTransport fails a fixed number of times, then succeeds.
type scriptedTransport struct {
	name     string
	failures int

	mu    sync.Mutex
	calls int
}

func (s *scriptedTransport) Name() string { return s.name }

func (s *scriptedTransport) Send(ctx context.Context, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return errors.New("boom")
	}
	return nil
}

func (s *scriptedTransport) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func fastRetry(attempts int) Retry {
	return Retry{MaxAttempts: attempts, Base: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestPipelineFirstAttemptSucceeds(t *testing.T) {
	t.Parallel()
	primary := &scriptedTransport{name: TransportPrimary}
	p := NewPipeline(primary, fastRetry(3), logx.Nop())

	out := p.Deliver(context.Background(), Message{Subject: "s"})
	if !out.Delivered || out.Transport != TransportPrimary {
		t.Fatalf("Outcome = %+v, want delivered via primary", out)
	}
	if got := primary.callCount(); got != 1 {
		t.Fatalf("primary called %d times, want 1", got)
	}
}

func TestPipelineRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	primary := &scriptedTransport{name: TransportPrimary, failures: 2}
	p := NewPipeline(primary, fastRetry(3), logx.Nop())

	out := p.Deliver(context.Background(), Message{Subject: "s"})
	if !out.Delivered || out.Transport != TransportPrimary {
		t.Fatalf("Outcome = %+v, want delivered via primary on third attempt", out)
	}
	if got := primary.callCount(); got != 3 {
		t.Fatalf("primary called %d times, want 3", got)
	}
}

func TestPipelineFallbackAfterExhaustion(t *testing.T) {
	t.Parallel()
	primary := &scriptedTransport{name: TransportPrimary, failures: 99}
	fallback := &scriptedTransport{name: TransportFallback}
	p := NewPipeline(primary, fastRetry(3), logx.Nop(), WithFallback(fallback))

	out := p.Deliver(context.Background(), Message{Subject: "s"})
	if !out.Delivered || out.Transport != TransportFallback {
		t.Fatalf("Outcome = %+v, want delivered via fallback", out)
	}
	if out.Err != nil {
		t.Fatalf("Err = %v after successful fallback, want nil", out.Err)
	}
	if got := primary.callCount(); got != 3 {
		t.Fatalf("primary called %d times, want exactly the retry budget", got)
	}
	if got := fallback.callCount(); got != 1 {
		t.Fatalf("fallback called %d times, want exactly once", got)
	}
}

func TestPipelineExhaustionWithoutFallback(t *testing.T) {
	t.Parallel()
	primary := &scriptedTransport{name: TransportPrimary, failures: 99}
	p := NewPipeline(primary, fastRetry(2), logx.Nop())

	out := p.Deliver(context.Background(), Message{Subject: "s"})
	if out.Delivered {
		t.Fatal("delivery must fail when every attempt fails")
	}
	if out.Transport != TransportNone {
		t.Fatalf("Transport = %q, want none", out.Transport)
	}
	if out.Err == nil {
		t.Fatal("Err must carry the last primary error")
	}
}

func TestPipelineFallbackFailureKeepsError(t *testing.T) {
	t.Parallel()
	primary := &scriptedTransport{name: TransportPrimary, failures: 99}
	fallback := &scriptedTransport{name: TransportFallback, failures: 99}
	p := NewPipeline(primary, fastRetry(1), logx.Nop(), WithFallback(fallback))

	out := p.Deliver(context.Background(), Message{Subject: "s"})
	if out.Delivered {
		t.Fatal("delivery must fail when fallback fails too")
	}
	if got := fallback.callCount(); got != 1 {
		t.Fatalf("fallback called %d times, want exactly once", got)
	}
	if out.Err == nil {
		t.Fatal("Err must be set after fallback failure")
	}
}

func TestPipelineCancelledContextStopsRetries(t *testing.T) {
	t.Parallel()
	primary := &scriptedTransport{name: TransportPrimary, failures: 99}
	p := NewPipeline(primary, Retry{MaxAttempts: 5, Base: time.Hour}, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan Outcome, 1)
	go func() { done <- p.Deliver(ctx, Message{Subject: "s"}) }()

	select {
	case out := <-done:
		if out.Delivered {
			t.Fatal("cancelled delivery must not report success")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Deliver blocked on backoff despite cancelled context")
	}
}
