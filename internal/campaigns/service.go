// Package campaigns is the campaign lifecycle service: creation with
// validation, and the stats/report read paths. Execution and cancellation
// live in the dispatch package.
package campaigns

import (
	"context"
	"time"

	"github.com/google/uuid"

	"botcast/internal/campaign"
	"botcast/internal/storage"
	"botcast/pkg/logx"
)

type Service struct {
	store storage.Store
	log   logx.Logger
}

func New(store storage.Store, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{store: store, log: log}
}

// CreateInput is the campaign creation payload.
type CreateInput struct {
	OwnerID     int64                 `json:"owner_id"`
	Title       string                `json:"title"`
	Message     campaign.Message      `json:"message"`
	Options     campaign.SendOptions  `json:"options"`
	Targets     []campaign.TargetSpec `json:"targets"`
	ScheduledAt *time.Time            `json:"scheduled_at,omitempty"`
}

// Create validates the input and persists a new campaign. With no
// scheduledAt the campaign lands in draft, awaiting an explicit execute
// call; with one it lands in scheduled so the scheduler picks it up. A
// scheduledAt in the past is allowed and fires on the next scheduler scan.
func (s *Service) Create(ctx context.Context, in CreateInput) (*campaign.Campaign, error) {
	now := time.Now()
	c := &campaign.Campaign{
		ID:          uuid.NewString(),
		OwnerID:     in.OwnerID,
		Title:       in.Title,
		Message:     in.Message,
		Options:     in.Options,
		Targets:     in.Targets,
		Status:      campaign.StatusDraft,
		ScheduledAt: in.ScheduledAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.ScheduledAt != nil {
		c.Status = campaign.StatusScheduled
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.CreateCampaign(ctx, c); err != nil {
		return nil, err
	}
	s.log.Info("campaign created",
		logx.String("campaign", c.ID),
		logx.String("status", string(c.Status)),
		logx.Int("targets", len(c.Targets)))
	return c, nil
}

func (s *Service) Get(ctx context.Context, id string) (*campaign.Campaign, error) {
	return s.store.GetCampaign(ctx, id)
}

// Stats returns the caller-facing progress snapshot. Counters are written
// by a single aggregation point in the executor, so a polling caller never
// observes a decrease.
func (s *Service) Stats(ctx context.Context, id string) (campaign.Stats, error) {
	c, err := s.store.GetCampaign(ctx, id)
	if err != nil {
		return campaign.Stats{}, err
	}
	return c.Stats(), nil
}

// Report returns the per-recipient outcome list with error classification.
// Targets never attempted (cancelled campaigns) have no entry.
func (s *Service) Report(ctx context.Context, id string) ([]campaign.DeliveryOutcome, error) {
	if _, err := s.store.GetCampaign(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListOutcomes(ctx, id)
}
