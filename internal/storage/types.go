package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"botcast/internal/campaign"
)

var (
	ErrBotNotFound = errors.New("bot not found")
)

// checkTransition rejects from/to pairs the campaign state machine doesn't
// allow, regardless of the row's current status. Catches caller bugs before
// they reach the database.
func checkTransition(from, to campaign.Status) error {
	if !campaign.CanTransition(from, to) {
		return fmt.Errorf("transition %s -> %s: %w", from, to, campaign.ErrInvalidState)
	}
	return nil
}

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (Path)
//   - "postgres": PostgreSQL (DSN)
//   - "memory": in-process store (tests, dev)
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Bot is a tenant-owned Telegram bot registration.
type Bot struct {
	ID      string
	OwnerID int64
	Token   string
	Active  bool
}

// Subscriber is one chat subscribed to a bot. Read-only from the
// dispatcher's point of view; the marketplace side maintains it.
type Subscriber struct {
	BotID  string
	ChatID int64
	Active bool
}

// Store is the persistence API used by the campaign services.
//
// TransitionStatus is the claim primitive: it atomically moves a campaign
// from one status to another and reports whether the move happened. The
// scheduler and the executor both rely on it to guarantee a campaign is
// started exactly once.
type Store interface {
	CreateCampaign(ctx context.Context, c *campaign.Campaign) error
	GetCampaign(ctx context.Context, id string) (*campaign.Campaign, error)
	TransitionStatus(ctx context.Context, id string, from, to campaign.Status) (bool, error)
	SetTotalRecipients(ctx context.Context, id string, total int) error
	UpdateCounters(ctx context.Context, id string, attempted, succeeded, failed int) error
	ListScheduledDue(ctx context.Context, now time.Time) ([]string, error)

	AppendOutcome(ctx context.Context, o campaign.DeliveryOutcome) error
	ListOutcomes(ctx context.Context, campaignID string) ([]campaign.DeliveryOutcome, error)

	UpsertBot(ctx context.Context, b Bot) error
	GetBot(ctx context.Context, id string) (Bot, error)
	BotsOwnedBy(ctx context.Context, ownerID int64) ([]Bot, error)
	UpsertSubscriber(ctx context.Context, s Subscriber) error
	ActiveSubscribers(ctx context.Context, botID string) ([]int64, error)

	Close() error
}
