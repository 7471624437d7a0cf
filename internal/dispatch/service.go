package dispatch

import (
	"context"
	"fmt"
	"time"

	"botcast/internal/campaign"
	"botcast/internal/ratelimit"
	"botcast/internal/resolver"
	"botcast/internal/storage"
	"botcast/internal/telegram"
	"botcast/pkg/logx"
)

func New(cfg Config, store storage.Store, res *resolver.Resolver, limiter *ratelimit.Limiter, sender telegram.Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:      cfg.withDefaults(),
		log:      log,
		store:    store,
		resolver: res,
		limiter:  limiter,
		sender:   sender,
		runs:     map[string]*run{},
	}
}

// Apply swaps execution tunables at runtime. Running campaigns keep the
// config they started with; new ones pick up the change.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

// Start makes the service accept Execute calls. Campaign runs are tied to
// ctx, not to the caller's request context, so an HTTP client disconnect
// never aborts a broadcast.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	s.baseCtx = ctx
	s.accepting = true
	s.mu.Unlock()
	s.log.Info("dispatcher started",
		logx.Int("per_bot_workers", s.cfg.PerBotWorkers),
		logx.Int("global_inflight", s.cfg.GlobalInflight))
}

// Stop cancels every active run (persisted as cancelled, same as an
// explicit cancel) and waits for them to drain, best-effort within ctx.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	s.accepting = false
	active := make([]*run, 0, len(s.runs))
	for _, r := range s.runs {
		active = append(active, r)
	}
	s.mu.Unlock()

	for _, r := range active {
		r.cancelled.Store(true)
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.runWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("dispatcher stopped", logx.Int("cancelled_runs", len(active)))
	case <-ctx.Done():
		s.log.Warn("dispatcher stop timed out", logx.Int("active_runs", len(active)))
	}
}

// Execute transitions the campaign into sending and begins dispatch. It
// returns once delivery workers are launched; progress is observable via
// stats polling and Wait. The status transition doubles as the claim, so a
// campaign can never be started twice.
//
// Campaigns already terminal, or currently sending, fail with
// ErrInvalidState. A resolution failure (foreign or unknown bot) is
// surfaced synchronously and drives the campaign to failed without a
// single send.
func (s *Service) Execute(ctx context.Context, id string) error {
	s.mu.Lock()
	if !s.accepting {
		s.mu.Unlock()
		return fmt.Errorf("dispatcher not running")
	}
	cfg := s.cfg
	baseCtx := s.baseCtx
	s.mu.Unlock()

	claimed, err := s.store.TransitionStatus(ctx, id, campaign.StatusDraft, campaign.StatusSending)
	if err != nil {
		return err
	}
	if !claimed {
		claimed, err = s.store.TransitionStatus(ctx, id, campaign.StatusScheduled, campaign.StatusSending)
		if err != nil {
			return err
		}
	}
	if !claimed {
		return fmt.Errorf("execute campaign %s: %w", id, campaign.ErrInvalidState)
	}

	c, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		s.failClaimed(ctx, id)
		return err
	}

	// Targets are resolved now, not at creation, so subscriber-set changes
	// between the two are honored.
	targets, err := s.resolver.Resolve(ctx, c)
	if err != nil {
		s.failClaimed(ctx, id)
		s.log.Warn("target resolution failed", logx.String("campaign", id), logx.Err(err))
		return err
	}
	if err := s.store.SetTotalRecipients(ctx, id, len(targets)); err != nil {
		s.failClaimed(ctx, id)
		return err
	}

	if len(targets) == 0 {
		// Nothing to deliver; the campaign completes immediately.
		if _, err := s.store.TransitionStatus(ctx, id, campaign.StatusSending, campaign.StatusSent); err != nil {
			return err
		}
		s.log.Info("campaign completed with no recipients", logx.String("campaign", id))
		return nil
	}

	runCtx := baseCtx
	cancelCause := context.CancelFunc(nil)
	if cfg.CampaignTimeout > 0 {
		runCtx, cancelCause = context.WithTimeout(runCtx, cfg.CampaignTimeout)
	} else {
		runCtx, cancelCause = context.WithCancel(runCtx)
	}
	r := &run{id: id, ctx: runCtx, cancel: cancelCause, done: make(chan struct{})}

	s.mu.Lock()
	s.runs[id] = r
	s.mu.Unlock()

	s.runWG.Add(1)
	go s.runCampaign(r, cfg, c, targets)

	s.log.Info("campaign dispatch started",
		logx.String("campaign", id),
		logx.Int("recipients", len(targets)),
		logx.Int("bots", len(resolver.CountByBot(targets))))
	return nil
}

// Cancel requests cooperative cancellation. Valid while the campaign is
// scheduled or sending; anything else is ErrInvalidState. In-flight
// provider calls finish; no new sends start once the flag is observed.
func (s *Service) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	r, active := s.runs[id]
	s.mu.Unlock()
	if active {
		r.cancelled.Store(true)
		r.cancel()
		s.log.Info("campaign cancellation requested", logx.String("campaign", id))
		return nil
	}

	// Not running here: a scheduled campaign can still be cancelled before
	// the scheduler claims it.
	moved, err := s.store.TransitionStatus(ctx, id, campaign.StatusScheduled, campaign.StatusCancelled)
	if err != nil {
		return err
	}
	if moved {
		s.log.Info("scheduled campaign cancelled", logx.String("campaign", id))
		return nil
	}
	return fmt.Errorf("cancel campaign %s: %w", id, campaign.ErrInvalidState)
}

// Wait blocks until the campaign's run finishes or ctx expires. Returns
// immediately when no run is active.
func (s *Service) Wait(ctx context.Context, id string) error {
	s.mu.Lock()
	r, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// failClaimed drives a claimed campaign to failed when dispatch cannot
// proceed past the claim. Without it the campaign would sit in sending
// with no run to ever move it out.
func (s *Service) failClaimed(ctx context.Context, id string) {
	if _, err := s.store.TransitionStatus(ctx, id, campaign.StatusSending, campaign.StatusFailed); err != nil {
		s.log.Error("failed to mark claimed campaign failed", logx.String("campaign", id), logx.Err(err))
	}
}

func (s *Service) unregister(id string) {
	s.mu.Lock()
	delete(s.runs, id)
	s.mu.Unlock()
}

// persistCtx returns a short-lived context detached from the run context:
// outcome and status writes must survive campaign cancellation.
func persistCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
