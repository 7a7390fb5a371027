// Package app wires configuration, transports, storage, and the relay engine
// into one process lifecycle.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"telepost/internal/attach"
	"telepost/internal/config"
	"telepost/internal/engine"
	"telepost/internal/eventbus"
	"telepost/internal/health"
	"telepost/internal/mail"
	"telepost/internal/maintenance"
	"telepost/internal/storage"
	"telepost/internal/transport/telegram"
	logx "telepost/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	cfg    *config.Config

	logsvc *logx.Service
	log    logx.Logger

	bus     eventbus.Bus
	store   storage.Store
	attach  *attach.Store
	adapter *telegram.Adapter
	engine  *engine.Engine
	janitor *maintenance.Janitor
	health  *health.Server

	wg     sync.WaitGroup
	cancel context.CancelFunc

	cfgSub chan *config.Config
}

func New(cfgPath string) (*App, error) {
	config.LoadDotenv()

	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	config.ApplyEnv(cfg)
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logsvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	mgr.SetLogger(log.With(logx.String("svc", "config")))
	mgr.SetValidator(func(ctx context.Context, c *config.Config) error {
		config.ApplyEnv(c)
		return config.Validate(c)
	})

	return &App{
		cfgMgr: mgr,
		cfg:    cfg,
		logsvc: logsvc,
		log:    log,
		bus:    eventbus.New(),
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	cfg := a.cfg

	if err := a.buildServices(cfg); err != nil {
		cancel()
		return err
	}

	if err := a.engine.Start(runCtx); err != nil {
		cancel()
		return err
	}
	if err := a.janitor.Start(runCtx); err != nil {
		a.log.Warn("janitor start failed", logx.Err(err))
	}
	if err := a.health.Start(runCtx); err != nil {
		a.log.Warn("health server start failed", logx.Err(err))
	}

	// Config hot reload: only logging is applied live, everything else needs
	// a restart and is called out in the log.
	a.cfgSub = a.cfgMgr.Subscribe(1)
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		_ = a.cfgMgr.Watch(runCtx)
	}()
	go a.reloadLoop(runCtx)

	a.health.SetReady(true)
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("relay started")
	return nil
}

func (a *App) buildServices(cfg *config.Config) error {
	slog := func(name string) logx.Logger { return a.log.With(logx.String("svc", name)) }

	a.store = a.openStorage(cfg)
	a.attach = attach.New(attach.Config{Dir: cfg.Attachments.Dir}, slog("attach"))

	pollTimeout, _ := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, slog("telegram"))
	if err != nil {
		return fmt.Errorf("telegram adapter: %w", err)
	}
	a.adapter = adapter

	pipeline, err := a.buildPipeline(cfg)
	if err != nil {
		return err
	}

	engCfg, err := engineConfig(cfg)
	if err != nil {
		return err
	}
	a.engine = engine.New(engCfg, adapter, pipeline, a.attach, a.store, a.bus, slog("engine"))

	sweepAfter, _ := config.ParseDurationField("attachments.sweep_after", cfg.Attachments.SweepAfter)
	purgeEvery, _ := config.ParseDurationField("maintenance.dedup_purge_every", cfg.Maintenance.DedupPurgeEvery)
	sweepEvery, _ := config.ParseDurationField("maintenance.attachment_sweep_every", cfg.Maintenance.AttachmentSweepEvery)
	a.janitor = maintenance.New(maintenance.Config{
		Enabled:              cfg.Maintenance.Enabled,
		DedupPurgeEvery:      purgeEvery,
		AttachmentSweepEvery: sweepEvery,
		AttachmentMaxAge:     sweepAfter,
	}, a.engine.Dedup(), a.attach, slog("janitor"))

	a.health = health.New(health.Config{
		Enabled: cfg.Health.Enabled,
		Addr:    cfg.Health.Addr,
	}, slog("health"))

	return nil
}

func (a *App) openStorage(cfg *config.Config) storage.Store {
	if cfg.Storage == nil {
		return nil
	}
	busy, _ := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	st, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, a.log.With(logx.String("svc", "storage")))
	if err != nil {
		a.log.Warn("storage disabled", logx.Err(err))
		return nil
	}
	return st
}

func (a *App) buildPipeline(cfg *config.Config) (*mail.Pipeline, error) {
	smtpTimeout, _ := config.ParseDurationField("email.smtp.timeout", cfg.Email.SMTP.Timeout)
	primary, err := mail.NewSMTP(mail.SMTPConfig{
		Host:     cfg.Email.SMTP.Host,
		Port:     cfg.Email.SMTP.Port,
		Username: cfg.Email.SMTP.Username,
		Password: cfg.Email.SMTP.Password,
		From:     cfg.Email.SMTP.From,
		To:       cfg.Email.SMTP.To,
		Timeout:  smtpTimeout,
	}, a.log.With(logx.String("svc", "smtp")))
	if err != nil {
		return nil, fmt.Errorf("smtp transport: %w", err)
	}

	retry := mail.DefaultRetry()
	if cfg.Email.RetryMax > 0 {
		retry.MaxAttempts = cfg.Email.RetryMax
	}
	if d, _ := config.ParseDurationField("email.retry_base", cfg.Email.RetryBase); d > 0 {
		retry.Base = d
	}
	if d, _ := config.ParseDurationField("email.retry_max_delay", cfg.Email.RetryMaxDelay); d > 0 {
		retry.MaxDelay = d
	}

	opts := []mail.PipelineOption{mail.WithBus(a.bus)}
	if a.store != nil {
		opts = append(opts, mail.WithStore(a.store))
	}
	if fb := cfg.Email.Fallback; fb != nil {
		from := fb.From
		if strings.TrimSpace(from) == "" {
			from = cfg.Email.SMTP.From
		}
		to := fb.To
		if len(to) == 0 {
			to = cfg.Email.SMTP.To
		}
		fbTimeout, _ := config.ParseDurationField("email.fallback.timeout", fb.Timeout)
		fallback, err := mail.NewHTTPAPI(mail.HTTPConfig{
			Endpoint: fb.Endpoint,
			APIKey:   fb.APIKey,
			From:     from,
			To:       to,
			Timeout:  fbTimeout,
		}, a.log.With(logx.String("svc", "mailapi")))
		if err != nil {
			return nil, fmt.Errorf("fallback transport: %w", err)
		}
		opts = append(opts, mail.WithFallback(fallback))
	}

	return mail.NewPipeline(primary, retry, a.log.With(logx.String("svc", "mail")), opts...), nil
}

func engineConfig(cfg *config.Config) (engine.Config, error) {
	debounce, err := config.ParseDurationField("engine.debounce", cfg.Engine.Debounce)
	if err != nil {
		return engine.Config{}, err
	}
	period, err := config.ParseDurationField("engine.watchdog_period", cfg.Engine.WatchdogPeriod)
	if err != nil {
		return engine.Config{}, err
	}
	ceiling, err := config.ParseDurationField("engine.watchdog_ceiling", cfg.Engine.WatchdogCeiling)
	if err != nil {
		return engine.Config{}, err
	}
	ttl, err := config.ParseDurationField("engine.dedup_ttl", cfg.Engine.DedupTTL)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		DebounceInterval: debounce,
		WatchdogPeriod:   period,
		WatchdogCeiling:  ceiling,
		DedupTTL:         ttl,
		Workers:          cfg.Engine.Workers,
		QueueSize:        cfg.Engine.QueueSize,
		SubjectPrefix:    cfg.Email.SubjectPrefix,
	}, nil
}

func (a *App) reloadLoop(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-a.cfgSub:
			if !ok {
				return
			}
			if cfg == nil {
				continue
			}
			a.logsvc.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.log.Info("logging config applied; other sections take effect on restart")
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	if a.health != nil {
		a.health.SetReady(false)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	if a.engine != nil {
		if err := a.engine.Stop(stopCtx); err != nil {
			a.log.Warn("engine stop", logx.Err(err))
		}
	}
	if a.janitor != nil {
		_ = a.janitor.Stop(stopCtx)
	}
	if a.health != nil {
		_ = a.health.Stop(stopCtx)
	}

	if a.cancel != nil {
		a.cancel()
	}
	if a.cfgSub != nil {
		a.cfgMgr.Unsubscribe(a.cfgSub)
		a.cfgSub = nil
	}
	a.wg.Wait()

	if a.store != nil {
		_ = a.store.Close()
	}
	a.log.Info("relay stopped")
	_ = a.logsvc.Close()
	return nil
}
