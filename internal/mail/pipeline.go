package mail

import (
	"context"
	"time"

	"telepost/internal/eventbus"
	"telepost/internal/storage"
	logx "telepost/pkg/logx"
)

// Pipeline drives one message through retry-then-fallback delivery.
//
// Rationale for retry-then-fallback (not retry-forever, not fallback-first):
// primary failures are usually transient and recoverable within seconds; the
// fallback API is costlier and rate-limited, so it acts as a circuit breaker
// of last resort.
type Pipeline struct {
	primary  Transport
	fallback Transport // nil when not configured
	retry    Retry

	sendTimeout time.Duration

	store storage.Store // nil when storage disabled
	bus   eventbus.Bus
	log   logx.Logger
}

type PipelineOption func(*Pipeline)

func WithFallback(t Transport) PipelineOption {
	return func(p *Pipeline) { p.fallback = t }
}

func WithStore(s storage.Store) PipelineOption {
	return func(p *Pipeline) { p.store = s }
}

func WithBus(b eventbus.Bus) PipelineOption {
	return func(p *Pipeline) { p.bus = b }
}

func WithSendTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d > 0 {
			p.sendTimeout = d
		}
	}
}

func NewPipeline(primary Transport, retry Retry, log logx.Logger, opts ...PipelineOption) *Pipeline {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := &Pipeline{
		primary:     primary,
		retry:       retry,
		sendTimeout: 30 * time.Second,
		log:         log,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Deliver attempts the primary transport up to the retry ceiling with
// exponential backoff, then the fallback exactly once. The final status is
// appended to the delivery log regardless of outcome.
func (p *Pipeline) Deliver(ctx context.Context, m Message) Outcome {
	out := Outcome{Transport: TransportNone}

	attempts := p.retry.attempts()
	for attempt := 1; attempt <= attempts; attempt++ {
		err := p.sendOnce(ctx, p.primary, m)
		p.publishAttempt(p.primary.Name(), attempt, err)
		if err == nil {
			out.Delivered = true
			out.Transport = TransportPrimary
			p.record(ctx, m, out)
			return out
		}
		out.Err = err
		p.log.Warn("primary send failed",
			logx.Int("attempt", attempt),
			logx.Int("max", attempts),
			logx.Err(err),
		)
		if attempt >= attempts {
			break
		}
		if werr := p.retry.Wait(ctx, attempt); werr != nil {
			p.record(ctx, m, out)
			return out
		}
	}

	if p.fallback != nil {
		err := p.sendOnce(ctx, p.fallback, m)
		p.publishAttempt(p.fallback.Name(), 1, err)
		if err == nil {
			out.Delivered = true
			out.Transport = TransportFallback
			out.Err = nil
			p.record(ctx, m, out)
			return out
		}
		out.Err = err
		p.log.Warn("fallback send failed", logx.Err(err))
	}

	p.record(ctx, m, out)
	return out
}

func (p *Pipeline) sendOnce(ctx context.Context, t Transport, m Message) error {
	callCtx := ctx
	if p.sendTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.sendTimeout)
		defer cancel()
	}
	return t.Send(callCtx, m)
}

func (p *Pipeline) publishAttempt(transport string, attempt int, err error) {
	if p.bus == nil {
		return
	}
	typ := eventbus.TypeDeliveryTried
	data := map[string]any{"transport": transport, "attempt": attempt}
	if err != nil {
		data["error"] = err.Error()
	}
	p.bus.Publish(eventbus.Event{Type: typ, Data: data})
}

func (p *Pipeline) record(ctx context.Context, m Message, out Outcome) {
	status := "failed"
	if out.Delivered {
		status = "sent"
		p.log.Info("delivered", logx.String("subject", m.Subject), logx.String("transport", out.Transport))
	} else {
		p.log.Error("delivery exhausted", logx.String("subject", m.Subject), logx.Err(out.Err))
	}

	if p.bus != nil {
		typ := eventbus.TypeDeliverySent
		if !out.Delivered {
			typ = eventbus.TypeDeliveryFailed
		}
		p.bus.Publish(eventbus.Event{Type: typ, Data: map[string]any{
			"subject":   m.Subject,
			"transport": out.Transport,
		}})
	}

	if p.store == nil {
		return
	}
	detail := ""
	if out.Err != nil {
		detail = out.Err.Error()
	}
	entry := storage.DeliveryEntry{
		At:        time.Now(),
		Subject:   m.Subject,
		Status:    status,
		Transport: out.Transport,
		Detail:    detail,
	}
	// Log writes must never fail a delivery decision.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := p.store.AppendDelivery(wctx, entry); err != nil {
		p.log.Warn("delivery log append failed", logx.Err(err))
	}
}
