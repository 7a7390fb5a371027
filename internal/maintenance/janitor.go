// Package maintenance runs periodic housekeeping: purging the dedup index and
// sweeping orphaned attachments.
package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"telepost/internal/attach"
	"telepost/internal/engine"
	logx "telepost/pkg/logx"
)

type Config struct {
	Enabled bool

	DedupPurgeEvery      time.Duration // default 1m
	AttachmentSweepEvery time.Duration // default 1h
	AttachmentMaxAge     time.Duration // 0 disables the sweep
}

type Janitor struct {
	cfg Config

	dedup *engine.Dedup
	store *attach.Store
	log   logx.Logger

	c *cron.Cron
}

func New(cfg Config, dedup *engine.Dedup, store *attach.Store, log logx.Logger) *Janitor {
	if cfg.DedupPurgeEvery <= 0 {
		cfg.DedupPurgeEvery = time.Minute
	}
	if cfg.AttachmentSweepEvery <= 0 {
		cfg.AttachmentSweepEvery = time.Hour
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Janitor{cfg: cfg, dedup: dedup, store: store, log: log}
}

func (j *Janitor) Start(ctx context.Context) error {
	if !j.cfg.Enabled {
		return nil
	}

	c := cron.New()

	spec := fmt.Sprintf("@every %s", j.cfg.DedupPurgeEvery)
	if _, err := c.AddFunc(spec, j.purgeDedup); err != nil {
		return fmt.Errorf("maintenance: dedup purge schedule: %w", err)
	}

	if j.cfg.AttachmentMaxAge > 0 {
		spec := fmt.Sprintf("@every %s", j.cfg.AttachmentSweepEvery)
		if _, err := c.AddFunc(spec, j.sweepAttachments); err != nil {
			return fmt.Errorf("maintenance: attachment sweep schedule: %w", err)
		}
	}

	c.Start()
	j.c = c
	j.log.Info("janitor started",
		logx.Duration("dedup_purge_every", j.cfg.DedupPurgeEvery),
		logx.Duration("attachment_sweep_every", j.cfg.AttachmentSweepEvery),
		logx.Duration("attachment_max_age", j.cfg.AttachmentMaxAge),
	)
	return nil
}

func (j *Janitor) Stop(ctx context.Context) error {
	if j.c == nil {
		return nil
	}
	stopped := j.c.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
	}
	j.c = nil
	return nil
}

func (j *Janitor) purgeDedup() {
	if j.dedup == nil {
		return
	}
	if n := j.dedup.Purge(); n > 0 {
		j.log.Debug("dedup entries purged", logx.Int("count", n))
	}
}

func (j *Janitor) sweepAttachments() {
	if j.store == nil {
		return
	}
	n, err := j.store.SweepOlderThan(j.cfg.AttachmentMaxAge)
	if err != nil {
		j.log.Warn("attachment sweep failed", logx.Err(err))
		return
	}
	if n > 0 {
		j.log.Info("orphaned attachments removed", logx.Int("count", n))
	}
}
