// Package ratelimit enforces the provider's per-bot send-rate ceiling with
// one token bucket per bot, plus a global backoff window raised whenever the
// provider signals throttling. While the window is open no bot may send.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type Config struct {
	// RatePerBot is the provider's documented per-bot ceiling in
	// messages/sec. BurstPerBot defaults to RatePerBot.
	RatePerBot  int
	BurstPerBot int
}

func (c Config) withDefaults() Config {
	if c.RatePerBot <= 0 {
		c.RatePerBot = 25
	}
	if c.BurstPerBot <= 0 {
		c.BurstPerBot = c.RatePerBot
	}
	return c
}

// Limiter hands out send slots per bot. Safe for concurrent use.
type Limiter struct {
	mu           sync.Mutex
	cfg          Config
	perBot       map[string]*rate.Limiter
	backoffUntil time.Time
}

func New(cfg Config) *Limiter {
	return &Limiter{
		cfg:    cfg.withDefaults(),
		perBot: map[string]*rate.Limiter{},
	}
}

// Apply swaps the rate config at runtime. Existing buckets are rebuilt so a
// lowered ceiling takes effect for in-flight campaigns too.
func (l *Limiter) Apply(cfg Config) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg.withDefaults()
	l.perBot = map[string]*rate.Limiter{}
}

// Acquire blocks until a send slot for the bot is available, or until ctx is
// cancelled. A cancelled campaign therefore never waits out a token.
//
// The global backoff window is honored both before and after taking a
// token, so a throttling signal raised while we were waiting on the bucket
// still delays the send.
func (l *Limiter) Acquire(ctx context.Context, botID string) error {
	if err := l.waitBackoff(ctx); err != nil {
		return err
	}
	if err := l.bucket(botID).Wait(ctx); err != nil {
		return err
	}
	return l.waitBackoff(ctx)
}

// Backoff opens (or extends) the global backoff window for d. Called with
// the retry-after duration from a provider throttling response.
func (l *Limiter) Backoff(d time.Duration) {
	if d <= 0 {
		return
	}
	until := time.Now().Add(d)
	l.mu.Lock()
	if until.After(l.backoffUntil) {
		l.backoffUntil = until
	}
	l.mu.Unlock()
}

// BackoffRemaining reports how long the global window has left (0 if clear).
func (l *Limiter) BackoffRemaining() time.Duration {
	l.mu.Lock()
	until := l.backoffUntil
	l.mu.Unlock()
	if d := time.Until(until); d > 0 {
		return d
	}
	return 0
}

func (l *Limiter) waitBackoff(ctx context.Context) error {
	for {
		d := l.BackoffRemaining()
		if d <= 0 {
			return nil
		}
		tmr := time.NewTimer(d)
		select {
		case <-ctx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			return ctx.Err()
		case <-tmr.C:
		}
	}
}

func (l *Limiter) bucket(botID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.perBot[botID]
	if !ok {
		b = rate.NewLimiter(rate.Limit(l.cfg.RatePerBot), l.cfg.BurstPerBot)
		l.perBot[botID] = b
	}
	return b
}
