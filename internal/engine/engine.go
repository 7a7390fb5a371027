// Package engine implements the relay core: inbound deduplication,
// per-conversation buffering with debounce flush, a watchdog that bounds
// buffer age, and handoff of flushed batches to the mail pipeline.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"telepost/internal/attach"
	"telepost/internal/eventbus"
	"telepost/internal/mail"
	"telepost/internal/storage"
	"telepost/internal/transport"
	logx "telepost/pkg/logx"
)

type Config struct {
	DebounceInterval time.Duration
	WatchdogPeriod   time.Duration
	WatchdogCeiling  time.Duration
	DedupTTL         time.Duration
	Workers          int
	QueueSize        int
	SubjectPrefix    string
}

func (c *Config) applyDefaults() {
	if c.DebounceInterval <= 0 {
		c.DebounceInterval = time.Minute
	}
	if c.WatchdogPeriod <= 0 {
		c.WatchdogPeriod = 30 * time.Second
	}
	if c.WatchdogCeiling <= 0 {
		c.WatchdogCeiling = 70 * time.Second
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = 2 * time.Minute
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if strings.TrimSpace(c.SubjectPrefix) == "" {
		c.SubjectPrefix = "Telegram relay"
	}
}

// Deliverer is what the engine needs from the mail pipeline.
type Deliverer interface {
	Deliver(ctx context.Context, m mail.Message) mail.Outcome
}

type Engine struct {
	cfg Config

	adapter  transport.Adapter
	pipeline Deliverer
	notifier *Notifier
	attach   *attach.Store
	store    storage.Store // nil when storage disabled
	bus      eventbus.Bus
	log      logx.Logger

	dedup   *Dedup
	buffers *Buffers

	updates chan transport.Update
	shards  []chan transport.Update
	wg      sync.WaitGroup
	cancel  context.CancelFunc

	runMu   sync.Mutex
	running bool

	startedAt time.Time

	// status counters
	received  atomic.Uint64
	deduped   atomic.Uint64
	delivered atomic.Uint64
	failed    atomic.Uint64
}

func New(cfg Config, adapter transport.Adapter, pipeline Deliverer, att *attach.Store, store storage.Store, bus eventbus.Bus, log logx.Logger) *Engine {
	cfg.applyDefaults()
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		cfg:      cfg,
		adapter:  adapter,
		pipeline: pipeline,
		attach:   att,
		store:    store,
		bus:      bus,
		log:      log,
		dedup:    NewDedup(cfg.DedupTTL),
	}
	e.notifier = NewNotifier(adapter, att, bus, log.With(logx.String("svc", "notify")))
	e.buffers = NewBuffers(cfg.DebounceInterval, e.dispatchBatch, log.With(logx.String("svc", "buffer")))
	return e
}

func (e *Engine) Start(ctx context.Context) error {
	e.runMu.Lock()
	if e.running {
		e.runMu.Unlock()
		return nil
	}
	e.running = true
	e.startedAt = time.Now()
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.updates = make(chan transport.Update, e.cfg.QueueSize)
	e.runMu.Unlock()

	if err := e.adapter.Start(runCtx, e.updates); err != nil {
		cancel()
		e.runMu.Lock()
		e.running = false
		e.cancel = nil
		e.updates = nil
		e.runMu.Unlock()
		return fmt.Errorf("engine: adapter start: %w", err)
	}

	// Updates are sharded by chat ID so each conversation is handled by one
	// worker and its events keep arrival order.
	e.shards = make([]chan transport.Update, e.cfg.Workers)
	for i := range e.shards {
		e.shards[i] = make(chan transport.Update, e.cfg.QueueSize/e.cfg.Workers+1)
		e.wg.Add(1)
		go e.workerLoop(runCtx, e.shards[i])
	}
	e.wg.Add(1)
	go e.routeLoop(runCtx)

	e.wg.Add(1)
	go e.watchdogLoop(runCtx)

	e.log.Info("engine started",
		logx.Duration("debounce", e.cfg.DebounceInterval),
		logx.Duration("watchdog_period", e.cfg.WatchdogPeriod),
		logx.Duration("watchdog_ceiling", e.cfg.WatchdogCeiling),
		logx.Int("workers", e.cfg.Workers),
	)
	return nil
}

func (e *Engine) Stop(ctx context.Context) error {
	e.runMu.Lock()
	wasRunning := e.running
	e.running = false
	cancel := e.cancel
	e.cancel = nil
	e.runMu.Unlock()

	if !wasRunning {
		return nil
	}

	if err := e.adapter.Stop(ctx); err != nil {
		e.log.Warn("adapter stop", logx.Err(err))
	}

	// Flush what is still buffered so shutdown does not silently drop events.
	if n := e.buffers.FlushAll("shutdown"); n > 0 {
		e.log.Info("flushed remaining buffers", logx.Int("count", n))
	}

	done := make(chan struct{})
	go func() {
		e.buffers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		e.log.Warn("shutdown flush timed out")
	}

	if cancel != nil {
		cancel()
	}
	e.wg.Wait()
	return nil
}

// ForceFlush flushes one conversation immediately. Exposed for the /send
// command and for operational tooling.
func (e *Engine) ForceFlush(chatID int64) bool {
	return e.buffers.Flush(chatID, "command")
}

func (e *Engine) routeLoop(ctx context.Context) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-e.updates:
			var chatID int64
			switch {
			case up.Message != nil:
				chatID = up.Message.ChatID
			case up.Command != nil:
				chatID = up.Command.ChatID
			default:
				continue
			}
			shard := e.shards[uint64(chatID)%uint64(len(e.shards))]
			select {
			case <-ctx.Done():
				return
			case shard <- up:
			}
		}
	}
}

func (e *Engine) workerLoop(ctx context.Context, in <-chan transport.Update) {
	defer e.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case up := <-in:
			switch up.Kind {
			case transport.UpdateMessage:
				if up.Message != nil {
					e.handleInbound(ctx, up.Message)
				}
			case transport.UpdateCommand:
				if up.Command != nil {
					e.handleCommand(ctx, up.Command)
				}
			}
		}
	}
}

func (e *Engine) watchdogLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.WatchdogPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := e.buffers.FlushStale(e.cfg.WatchdogCeiling, "watchdog"); n > 0 {
				e.log.Info("watchdog flushed stale buffers", logx.Int("count", n))
			}
		}
	}
}

func (e *Engine) handleInbound(ctx context.Context, in *transport.Inbound) {
	e.received.Add(1)

	if e.dedup.Seen(in.EventID) {
		e.deduped.Add(1)
		e.log.Debug("duplicate event dropped", logx.String("event_id", in.EventID))
		if e.bus != nil {
			e.bus.Publish(eventbus.Event{Type: eventbus.TypeEventDeduped, Data: in.EventID})
		}
		return
	}

	e.appendInboundLog(ctx, in)

	// Fetch and persist attachments up front so the buffer holds only local
	// path handles. A single failed download must not sink the whole event.
	var handles []string
	for _, ref := range in.Files {
		handle, err := e.saveAttachment(ctx, in.EventID, ref)
		if err != nil {
			e.log.Warn("attachment download failed",
				logx.String("event_id", in.EventID),
				logx.String("file_id", ref.ID),
				logx.Err(err),
			)
			continue
		}
		handles = append(handles, handle)
	}

	e.buffers.Append(in.ChatID, Item{
		SenderName:   in.SenderName,
		SenderHandle: in.SenderHandle,
		Text:         in.Text,
		Attachments:  handles,
	})
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeEventBuffered, Data: map[string]any{
			"event_id": in.EventID,
			"chat_id":  in.ChatID,
		}})
	}
}

func (e *Engine) saveAttachment(ctx context.Context, eventID string, ref transport.FileRef) (string, error) {
	rc, err := e.adapter.FetchFile(ctx, ref)
	if err != nil {
		return "", err
	}
	defer rc.Close()
	return e.attach.Save(eventID, rc, ref.SuggestedName)
}

func (e *Engine) handleCommand(ctx context.Context, cmd *transport.Command) {
	switch cmd.Name {
	case "start":
		e.reply(ctx, cmd.ChatID, "Hi! Anything you send here is forwarded to email. Messages are grouped for a short while before sending; use /send to flush immediately and /status for relay state.")
	case "send":
		if e.ForceFlush(cmd.ChatID) {
			e.reply(ctx, cmd.ChatID, "Flushing now.")
		} else {
			e.reply(ctx, cmd.ChatID, "Nothing buffered.")
		}
	case "status":
		e.reply(ctx, cmd.ChatID, e.statusText())
	default:
		e.log.Debug("unknown command ignored", logx.String("name", cmd.Name))
	}
}

func (e *Engine) statusText() string {
	return fmt.Sprintf(
		"up %s\nreceived %d (deduped %d)\nbuffered conversations %d\ndelivered %d, failed %d",
		time.Since(e.startedAt).Round(time.Second),
		e.received.Load(), e.deduped.Load(),
		e.buffers.Len(),
		e.delivered.Load(), e.failed.Load(),
	)
}

func (e *Engine) reply(ctx context.Context, chatID int64, text string) {
	if err := e.adapter.SendText(ctx, chatID, text); err != nil {
		e.log.Warn("reply failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

// dispatchBatch runs on the Buffers handoff goroutine for exactly one batch.
func (e *Engine) dispatchBatch(batch Batch) {
	ctx := context.Background()

	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeBatchFlushed, Data: map[string]any{
			"chat_id": batch.ChatID,
			"events":  batch.Events,
			"reason":  batch.Reason,
		}})
	}
	e.log.Info("batch flushed",
		logx.Int64("chat_id", batch.ChatID),
		logx.Int("events", batch.Events),
		logx.Int("attachments", len(batch.Attachments)),
		logx.String("reason", batch.Reason),
	)

	out := e.pipeline.Deliver(ctx, composeMessage(e.cfg.SubjectPrefix, batch))
	if out.Delivered {
		e.delivered.Add(1)
	} else {
		e.failed.Add(1)
	}
	e.notifier.Notify(ctx, batch, out)
}

// composeMessage renders a batch into an outbound email.
func composeMessage(prefix string, batch Batch) mail.Message {
	sender := batch.SenderName
	if sender == "" {
		sender = "unknown sender"
	}
	subject := fmt.Sprintf("%s: %s (%s)", prefix, sender, time.Now().Format("2006-01-02 15:04"))

	var b strings.Builder
	b.WriteString("From: ")
	b.WriteString(sender)
	if batch.SenderHandle != "" {
		b.WriteString(" (@")
		b.WriteString(batch.SenderHandle)
		b.WriteString(")")
	}
	b.WriteString("\n\n")
	if len(batch.Texts) == 0 {
		b.WriteString("(no text)")
	} else {
		b.WriteString(strings.Join(batch.Texts, "\n\n"))
	}

	return mail.Message{
		Subject:     subject,
		Body:        b.String(),
		Attachments: batch.Attachments,
	}
}

func (e *Engine) appendInboundLog(ctx context.Context, in *transport.Inbound) {
	if e.store == nil {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	err := e.store.AppendInbound(wctx, storage.InboundEntry{
		At:     in.ReceivedAt,
		Sender: in.SenderName,
		Handle: in.SenderHandle,
		Text:   in.Text,
	})
	if err != nil {
		e.log.Warn("inbound log append failed", logx.Err(err))
	}
}

// Dedup exposes the dedup index for the maintenance janitor.
func (e *Engine) Dedup() *Dedup { return e.dedup }
