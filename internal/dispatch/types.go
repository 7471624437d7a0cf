package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"botcast/internal/ratelimit"
	"botcast/internal/resolver"
	"botcast/internal/storage"
	"botcast/internal/telegram"
	"botcast/pkg/logx"
)

// SuccessPolicy decides the terminal status of a campaign whose recipients
// partially failed.
type SuccessPolicy string

const (
	// PolicyAny marks the campaign sent whenever at least one send
	// succeeded and no campaign-level error occurred.
	PolicyAny SuccessPolicy = "any"
	// PolicyAll requires every attempted send to succeed.
	PolicyAll SuccessPolicy = "all"
)

type Config struct {
	// PerBotWorkers bounds concurrent deliveries per bot.
	PerBotWorkers int
	// GlobalInflight caps total in-flight deliveries across all bots.
	// This protects the process, not the provider.
	GlobalInflight int
	// RetryMax caps provider calls per recipient (first attempt included).
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// CampaignTimeout caps a campaign's wall-clock duration; hitting it is
	// treated exactly like a cancellation. Zero disables it.
	CampaignTimeout time.Duration
	SuccessPolicy   SuccessPolicy
}

func (c Config) withDefaults() Config {
	if c.PerBotWorkers <= 0 {
		c.PerBotWorkers = 4
	}
	if c.GlobalInflight <= 0 {
		c.GlobalInflight = 32
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 15 * time.Second
	}
	if c.SuccessPolicy != PolicyAll {
		c.SuccessPolicy = PolicyAny
	}
	return c
}

// Service owns all campaign runs in this process.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger

	store    storage.Store
	resolver *resolver.Resolver
	limiter  *ratelimit.Limiter
	sender   telegram.Sender

	baseCtx   context.Context
	accepting bool
	runs      map[string]*run
	runWG     sync.WaitGroup
}

// run is the in-process handle for one sending campaign.
type run struct {
	id        string
	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	cancelled atomic.Bool // explicit cancel or timeout observed
}
