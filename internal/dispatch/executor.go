package dispatch

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"botcast/internal/campaign"
	"botcast/internal/resolver"
	"botcast/internal/telegram"
	"botcast/pkg/logx"
)

// botGroup is one bot's FIFO slice of the resolved target list.
type botGroup struct {
	botID   string
	token   string
	targets []resolver.Target
}

// groupByBot partitions targets per bot, preserving resolution order both
// across groups (first appearance) and within each group.
func groupByBot(targets []resolver.Target) []botGroup {
	index := map[string]int{}
	var groups []botGroup
	for _, t := range targets {
		i, ok := index[t.BotID]
		if !ok {
			i = len(groups)
			index[t.BotID] = i
			groups = append(groups, botGroup{botID: t.BotID, token: t.BotToken})
		}
		groups[i].targets = append(groups[i].targets, t)
	}
	return groups
}

func (s *Service) runCampaign(r *run, cfg Config, c *campaign.Campaign, targets []resolver.Target) {
	defer s.runWG.Done()
	defer close(r.done)
	defer s.unregister(r.id)
	defer r.cancel()
	start := time.Now()

	results := make(chan campaign.DeliveryOutcome, cfg.GlobalInflight)
	globalSlots := make(chan struct{}, cfg.GlobalInflight)

	// Single aggregation point: counter mutation is serialized here even
	// though deliveries are concurrent, so stats only ever move forward.
	aggDone := make(chan struct{})
	var attempted, succeeded, failed int
	go func() {
		defer close(aggDone)
		for o := range results {
			attempted++
			if o.State == campaign.OutcomeDelivered {
				succeeded++
			} else {
				failed++
			}
			pctx, cancel := persistCtx()
			if err := s.store.AppendOutcome(pctx, o); err != nil {
				s.log.Error("outcome persist failed", logx.String("campaign", r.id), logx.Int64("chat_id", o.ChatID), logx.Err(err))
			}
			if err := s.store.UpdateCounters(pctx, r.id, attempted, succeeded, failed); err != nil {
				s.log.Error("counter persist failed", logx.String("campaign", r.id), logx.Err(err))
			}
			cancel()
			s.log.Debug("delivery outcome",
				logx.String("campaign", r.id),
				logx.String("bot", o.BotID),
				logx.Int64("chat_id", o.ChatID),
				logx.String("state", string(o.State)),
				logx.Int("attempts", o.Attempts))
		}
	}()

	workerWG := s.startGroups(r, cfg, c, targets, globalSlots, results)
	workerWG.Wait()
	close(results)
	<-aggDone

	cancelled := r.cancelled.Load() || r.ctx.Err() != nil
	final := finalStatus(cfg.SuccessPolicy, cancelled, len(targets), attempted, succeeded, failed)

	pctx, cancel := persistCtx()
	if _, err := s.store.TransitionStatus(pctx, r.id, campaign.StatusSending, final); err != nil {
		s.log.Error("final status persist failed", logx.String("campaign", r.id), logx.Err(err))
	}
	cancel()

	fields := []logx.Field{
		logx.String("campaign", r.id),
		logx.String("status", string(final)),
		logx.Int("total", len(targets)),
		logx.Int("attempted", attempted),
		logx.Int("succeeded", succeeded),
		logx.Int("failed", failed),
		logx.Duration("dur", time.Since(start)),
	}
	switch {
	case final == campaign.StatusCancelled:
		s.log.Warn("campaign cancelled", fields...)
	case failed > 0:
		s.log.Warn("campaign finished with failures", fields...)
	default:
		s.log.Info("campaign finished", fields...)
	}
}

// finalStatus applies the terminal policy once all workers have drained.
//
// A run that stopped before attempting every target can only mean
// cancellation (or timeout, which is the same thing here). Per-recipient
// failures never escalate under the "any" policy as long as something was
// delivered; "all" demands a clean sheet.
func finalStatus(policy SuccessPolicy, cancelled bool, total, attempted, succeeded, failed int) campaign.Status {
	if cancelled && attempted < total {
		return campaign.StatusCancelled
	}
	if failed == 0 {
		return campaign.StatusSent
	}
	if policy == PolicyAll {
		return campaign.StatusFailed
	}
	if succeeded > 0 {
		return campaign.StatusSent
	}
	return campaign.StatusFailed
}

// startGroups partitions targets per bot and launches each bot's worker
// pool. The returned WaitGroup drains when every worker has exited.
func (s *Service) startGroups(r *run, cfg Config, c *campaign.Campaign, targets []resolver.Target, slots chan struct{}, results chan<- campaign.DeliveryOutcome) *sync.WaitGroup {
	wg := &sync.WaitGroup{}
	for _, g := range groupByBot(targets) {
		// Per-bot FIFO queue, preloaded and closed: workers drain it in
		// resolution order; completion order is not guaranteed.
		queue := make(chan resolver.Target, len(g.targets))
		for _, t := range g.targets {
			queue <- t
		}
		close(queue)

		workers := min(cfg.PerBotWorkers, len(g.targets))
		for i := 0; i < workers; i++ {
			wg.Add(1)
			g := g
			go func() {
				defer wg.Done()
				defer func() {
					if rec := recover(); rec != nil {
						s.log.Error("panic in delivery worker",
							logx.String("campaign", r.id),
							logx.String("bot", g.botID),
							logx.Any("panic", rec),
							logx.String("stack", string(debug.Stack())))
					}
				}()
				s.botWorker(r.ctx, cfg, c, g, queue, slots, results)
			}()
		}
	}
	return wg
}

func (s *Service) botWorker(ctx context.Context, cfg Config, c *campaign.Campaign, g botGroup, queue <-chan resolver.Target, slots chan struct{}, results chan<- campaign.DeliveryOutcome) {
	for {
		// Cancellation wins over queued work.
		select {
		case <-ctx.Done():
			return
		default:
		}

		t, ok := <-queue
		if !ok {
			return
		}

		// Global in-flight ceiling. The slot is released by defer so a
		// panicking delivery can't leak it for the rest of the run.
		select {
		case <-ctx.Done():
			return
		case slots <- struct{}{}:
		}
		o, attemptedAny := func() (campaign.DeliveryOutcome, bool) {
			defer func() { <-slots }()
			return s.deliverOne(ctx, cfg, c, g.token, t)
		}()

		if attemptedAny {
			results <- o
		}
	}
}

// deliverOne drives one recipient to a terminal outcome. The bool result is
// false when cancellation arrived before the first provider call, in which
// case the target counts as never attempted and gets no outcome record.
func (s *Service) deliverOne(ctx context.Context, cfg Config, c *campaign.Campaign, token string, t resolver.Target) (campaign.DeliveryOutcome, bool) {
	o := campaign.DeliveryOutcome{
		CampaignID: c.ID,
		BotID:      t.BotID,
		ChatID:     t.ChatID,
	}
	var lastErr error

	for attempt := 1; attempt <= cfg.RetryMax; attempt++ {
		if err := s.limiter.Acquire(ctx, t.BotID); err != nil {
			// Cancelled while waiting for a slot.
			if attempt == 1 {
				return campaign.DeliveryOutcome{}, false
			}
			o.State = campaign.OutcomeTransientExhausted
			o.LastError = errString(lastErr, err)
			o.At = time.Now()
			return o, true
		}

		// The provider call gets a detached context: an in-flight send is
		// allowed to finish even when the campaign is cancelled mid-call.
		res := s.sender.Send(context.WithoutCancel(ctx), token, t.ChatID, c.Message, c.Options)
		o.Attempts = attempt

		switch res.Outcome {
		case telegram.Delivered:
			o.State = campaign.OutcomeDelivered
			o.At = time.Now()
			return o, true

		case telegram.PermanentFailure:
			o.State = campaign.OutcomePermanentFailure
			o.LastError = errString(res.Err, nil)
			o.At = time.Now()
			return o, true

		case telegram.Throttled:
			// Not a user-visible failure: raise the global backoff and
			// retry; the next Acquire waits the window out.
			s.limiter.Backoff(res.RetryAfter)
			lastErr = res.Err
			s.log.Warn("provider throttled",
				logx.String("campaign", c.ID),
				logx.String("bot", t.BotID),
				logx.Duration("retry_after", res.RetryAfter))

		case telegram.TransientFailure:
			lastErr = res.Err
			if attempt < cfg.RetryMax {
				delay := backoffDelay(cfg, attempt)
				s.log.Debug("delivery retry scheduled",
					logx.String("campaign", c.ID),
					logx.Int64("chat_id", t.ChatID),
					logx.Int("attempt", attempt+1),
					logx.Duration("delay", delay))
				tmr := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					if !tmr.Stop() {
						<-tmr.C
					}
					o.State = campaign.OutcomeTransientExhausted
					o.LastError = errString(lastErr, ctx.Err())
					o.At = time.Now()
					return o, true
				case <-tmr.C:
				}
			}
		}
	}

	o.State = campaign.OutcomeTransientExhausted
	o.LastError = errString(lastErr, nil)
	o.At = time.Now()
	return o, true
}

// backoffDelay grows exponentially from RetryBase, capped at RetryMaxDelay.
// retry starts at 1 (first retry).
func backoffDelay(cfg Config, retry int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d > cfg.RetryMaxDelay {
			break
		}
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}

func errString(primary, fallback error) string {
	if primary != nil {
		return primary.Error()
	}
	if fallback != nil {
		return fallback.Error()
	}
	return ""
}
