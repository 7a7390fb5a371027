package engine

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"telepost/internal/attach"
	"telepost/internal/eventbus"
	"telepost/internal/mail"
	"telepost/internal/transport"
	logx "telepost/pkg/logx"
)

// Notifier reports a delivery outcome back into the originating conversation
// and, on success, reclaims the batch's stored attachments.
//
// Failure keeps the attachments on disk until the janitor sweeps them; the
// batch's texts are gone once flushed, so the sender has to resend them.
type Notifier struct {
	adapter transport.Adapter
	store   *attach.Store
	limiter *rate.Limiter
	bus     eventbus.Bus
	log     logx.Logger
}

func NewNotifier(adapter transport.Adapter, store *attach.Store, bus eventbus.Bus, log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{
		adapter: adapter,
		store:   store,
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
		bus:     bus,
		log:     log,
	}
}

func (n *Notifier) Notify(ctx context.Context, batch Batch, out mail.Outcome) {
	text := "Delivery failed. These messages were not forwarded; please resend them once the mail server is back."
	if out.Delivered {
		text = "Forwarded to email."
	}

	if err := n.limiter.Wait(ctx); err == nil {
		if err := n.adapter.SendText(ctx, batch.ChatID, text); err != nil {
			n.log.Warn("ack send failed", logx.Int64("chat_id", batch.ChatID), logx.Err(err))
		} else if n.bus != nil {
			n.bus.Publish(eventbus.Event{Type: eventbus.TypeAckSent, Data: map[string]any{
				"chat_id":   batch.ChatID,
				"delivered": out.Delivered,
			}})
		}
	}

	if !out.Delivered {
		return
	}
	// Cleanup only after a confirmed send. Remove is idempotent, so a crash
	// between deletes or a repeated notify cannot fail here.
	for _, handle := range batch.Attachments {
		if err := n.store.Remove(handle); err != nil {
			n.log.Warn("attachment cleanup failed", logx.String("path", handle), logx.Err(err))
		}
	}
}
