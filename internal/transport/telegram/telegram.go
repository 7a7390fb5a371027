// Package telegram implements transport.Adapter on top of telebot long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"telepost/internal/transport"
	logx "telepost/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot     *tele.Bot
	out     atomic.Value // stores (chan<- transport.Update)
	runMu   sync.Mutex
	running bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc

	// dropped counts updates dropped because the consumer was slower than the
	// poll loop. Logged periodically to avoid per-update log spam.
	dropped uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b}
	// Ensure atomic.Value is initialized with a stable dynamic type.
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	// Handlers forward to the CURRENT output channel. Start() may swap it.
	a.bot.Handle("/start", func(c tele.Context) error {
		a.emitCommand("start", c)
		return nil
	})
	a.bot.Handle("/send", func(c tele.Context) error {
		a.emitCommand("send", c)
		return nil
	})
	a.bot.Handle("/status", func(c tele.Context) error {
		a.emitCommand("status", c)
		return nil
	})

	a.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil {
			return nil
		}
		a.emitMessage(m, m.Text, nil)
		return nil
	})
	a.bot.Handle(tele.OnPhoto, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Photo == nil {
			return nil
		}
		ref := transport.FileRef{
			ID:            m.Photo.FileID,
			SuggestedName: "photo_" + m.Photo.UniqueID + ".jpg",
			Kind:          "photo",
		}
		a.emitMessage(m, m.Caption, []transport.FileRef{ref})
		return nil
	})
	a.bot.Handle(tele.OnDocument, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Document == nil {
			return nil
		}
		name := m.Document.FileName
		if name == "" {
			name = "document_" + m.Document.UniqueID
		}
		ref := transport.FileRef{ID: m.Document.FileID, SuggestedName: name, Kind: "document"}
		a.emitMessage(m, m.Caption, []transport.FileRef{ref})
		return nil
	})
	a.bot.Handle(tele.OnVideo, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Video == nil {
			return nil
		}
		ref := transport.FileRef{
			ID:            m.Video.FileID,
			SuggestedName: "video_" + m.Video.UniqueID + ".mp4",
			Kind:          "video",
		}
		a.emitMessage(m, m.Caption, []transport.FileRef{ref})
		return nil
	})
}

func (a *Adapter) emitMessage(m *tele.Message, text string, files []transport.FileRef) {
	in := &transport.Inbound{
		EventID:    fmt.Sprintf("%d:%d", m.Chat.ID, m.ID),
		ChatID:     m.Chat.ID,
		Text:       text,
		Files:      files,
		ReceivedAt: m.Time(),
	}
	if m.Sender != nil {
		in.SenderName = m.Sender.FirstName
		in.SenderHandle = m.Sender.Username
	}
	a.send(transport.Update{Kind: transport.UpdateMessage, Message: in})
}

func (a *Adapter) emitCommand(name string, c tele.Context) {
	m := c.Message()
	if m == nil {
		return
	}
	a.send(transport.Update{
		Kind:    transport.UpdateCommand,
		Command: &transport.Command{Name: name, ChatID: m.Chat.ID},
	})
}

func (a *Adapter) send(up transport.Update) {
	v := a.out.Load()
	out, _ := v.(chan<- transport.Update)
	if out == nil {
		return
	}
	select {
	case out <- up:
	default:
		atomic.AddUint64(&a.dropped, 1)
	}
}

func (a *Adapter) Start(ctx context.Context, out chan<- transport.Update) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.out.Store(out)
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.runMu.Unlock()

	// Periodic summary for dropped updates (avoid noisy per-update logs).
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				if n := atomic.SwapUint64(&a.dropped, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
				return
			case <-ticker.C:
				if n := atomic.SwapUint64(&a.dropped, 0); n > 0 {
					a.log.Warn("incoming updates dropped (channel full)", logx.Uint64("count", n), logx.Int("chan_cap", cap(out)))
				}
			}
		}
	}()

	// Stop telebot when the adapter context is cancelled.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		<-runCtx.Done()
		if a.bot != nil {
			a.bot.Stop()
		}
	}()

	// Telebot's Start() blocks until Stop() is called.
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.log.Info("polling started")
		if a.bot != nil {
			a.bot.Start()
		}
		a.log.Info("polling stopped")
	}()

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	wasRunning := a.running
	a.running = false
	cancel := a.cancel
	a.cancel = nil
	var nilOut chan<- transport.Update
	a.out.Store(nilOut)
	a.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	// Grace window: keep shutdown snappy even if getUpdates long-poll is still waiting.
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	t := time.NewTimer(grace)
	defer t.Stop()
	select {
	case <-done:
	case <-t.C:
		a.log.Warn("telegram stop timed out")
	case <-ctx.Done():
	}
	return nil
}

func (a *Adapter) SendText(ctx context.Context, chatID int64, text string) error {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	_, err := a.bot.Send(&tele.Chat{ID: chatID}, text)
	return err
}

func (a *Adapter) FetchFile(ctx context.Context, ref transport.FileRef) (io.ReadCloser, error) {
	if ctx != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
	return a.bot.File(&tele.File{FileID: ref.ID})
}
