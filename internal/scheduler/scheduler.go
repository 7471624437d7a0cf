// Package scheduler starts time-deferred campaigns: it periodically scans
// for scheduled campaigns whose start time has arrived and hands each to
// the dispatcher exactly once. The dispatcher's atomic status transition
// (scheduled -> sending) is the claim, so overlapping scan cycles can never
// start the same campaign twice.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"botcast/internal/campaign"
	"botcast/internal/storage"
	"botcast/pkg/logx"
)

// Executor is the slice of the dispatcher the scheduler needs.
type Executor interface {
	Execute(ctx context.Context, id string) error
}

type Config struct {
	Enabled   bool
	PollEvery time.Duration // default 5s
}

type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	store storage.Store
	exec  Executor

	c      *cron.Cron
	runCtx context.Context
	cancel context.CancelFunc
}

func New(cfg Config, store storage.Store, exec Executor, log logx.Logger) *Service {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 5 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, store: store, exec: exec}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.cfg.Enabled {
		s.log.Debug("scheduler disabled")
		return nil
	}
	if s.c != nil {
		return nil
	}

	s.runCtx, s.cancel = context.WithCancel(ctx)
	s.c = cron.New()
	if _, err := s.c.AddFunc(fmt.Sprintf("@every %s", s.cfg.PollEvery), s.scan); err != nil {
		s.c = nil
		s.cancel()
		return err
	}
	s.c.Start()

	// Campaigns scheduled in the past fire immediately at startup; the
	// claim keeps it to exactly once.
	go s.scan()

	s.log.Info("scheduler started", logx.Duration("poll_every", s.cfg.PollEvery))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	cancel := s.cancel
	s.c = nil
	s.cancel = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	if cancel != nil {
		cancel()
	}
	select {
	case <-c.Stop().Done():
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out")
	}
}

func (s *Service) scan() {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	ids, err := s.store.ListScheduledDue(ctx, time.Now())
	if err != nil {
		s.log.Warn("scheduled campaign scan failed", logx.Err(err))
		return
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		err := s.exec.Execute(ctx, id)
		switch {
		case err == nil:
			s.log.Info("scheduled campaign started", logx.String("campaign", id))
		case errors.Is(err, campaign.ErrInvalidState):
			// Lost the claim to a concurrent scan or an explicit execute.
			s.log.Debug("scheduled campaign already claimed", logx.String("campaign", id))
		default:
			s.log.Warn("scheduled campaign failed to start", logx.String("campaign", id), logx.Err(err))
		}
	}
}
