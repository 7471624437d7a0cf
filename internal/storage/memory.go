package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"botcast/internal/campaign"
)

// memoryStore keeps everything in process memory. Used by tests and by
// dev runs that don't need persistence across restarts.
type memoryStore struct {
	mu        sync.RWMutex
	campaigns map[string]*campaign.Campaign
	outcomes  map[string][]campaign.DeliveryOutcome
	bots      map[string]Bot
	subs      map[string][]Subscriber
}

// NewMemory returns an empty in-process store.
func NewMemory() Store {
	return &memoryStore{
		campaigns: map[string]*campaign.Campaign{},
		outcomes:  map[string][]campaign.DeliveryOutcome{},
		bots:      map[string]Bot{},
		subs:      map[string][]Subscriber{},
	}
}

func (s *memoryStore) CreateCampaign(ctx context.Context, c *campaign.Campaign) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneCampaign(c)
	s.campaigns[c.ID] = cp
	return nil
}

func (s *memoryStore) GetCampaign(ctx context.Context, id string) (*campaign.Campaign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.campaigns[id]
	if !ok {
		return nil, campaign.ErrNotFound
	}
	return cloneCampaign(c), nil
}

func (s *memoryStore) TransitionStatus(ctx context.Context, id string, from, to campaign.Status) (bool, error) {
	if err := checkTransition(from, to); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return false, campaign.ErrNotFound
	}
	if c.Status != from {
		return false, nil
	}
	c.Status = to
	c.UpdatedAt = time.Now()
	return true, nil
}

func (s *memoryStore) SetTotalRecipients(ctx context.Context, id string, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	c.TotalRecipients = total
	c.UpdatedAt = time.Now()
	return nil
}

func (s *memoryStore) UpdateCounters(ctx context.Context, id string, attempted, succeeded, failed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.campaigns[id]
	if !ok {
		return campaign.ErrNotFound
	}
	c.AttemptedRecipients = attempted
	c.SuccessfulSends = succeeded
	c.FailedSends = failed
	c.UpdatedAt = time.Now()
	return nil
}

func (s *memoryStore) ListScheduledDue(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []string
	for id, c := range s.campaigns {
		if c.Status != campaign.StatusScheduled {
			continue
		}
		if c.ScheduledAt == nil || !c.ScheduledAt.After(now) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memoryStore) AppendOutcome(ctx context.Context, o campaign.DeliveryOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[o.CampaignID] = append(s.outcomes[o.CampaignID], o)
	return nil
}

func (s *memoryStore) ListOutcomes(ctx context.Context, campaignID string) ([]campaign.DeliveryOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]campaign.DeliveryOutcome(nil), s.outcomes[campaignID]...), nil
}

func (s *memoryStore) UpsertBot(ctx context.Context, b Bot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bots[b.ID] = b
	return nil
}

func (s *memoryStore) GetBot(ctx context.Context, id string) (Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bots[id]
	if !ok {
		return Bot{}, ErrBotNotFound
	}
	return b, nil
}

func (s *memoryStore) BotsOwnedBy(ctx context.Context, ownerID int64) ([]Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Bot
	for _, b := range s.bots {
		if b.OwnerID == ownerID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memoryStore) UpsertSubscriber(ctx context.Context, sub Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.subs[sub.BotID]
	for i := range list {
		if list[i].ChatID == sub.ChatID {
			list[i] = sub
			return nil
		}
	}
	s.subs[sub.BotID] = append(list, sub)
	return nil
}

func (s *memoryStore) ActiveSubscribers(ctx context.Context, botID string) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []int64
	for _, sub := range s.subs[botID] {
		if sub.Active {
			out = append(out, sub.ChatID)
		}
	}
	return out, nil
}

func (s *memoryStore) Close() error { return nil }

func cloneCampaign(c *campaign.Campaign) *campaign.Campaign {
	cp := *c
	cp.Targets = make([]campaign.TargetSpec, len(c.Targets))
	for i, t := range c.Targets {
		t.ChatIDs = append([]int64(nil), t.ChatIDs...)
		cp.Targets[i] = t
	}
	if c.ScheduledAt != nil {
		at := *c.ScheduledAt
		cp.ScheduledAt = &at
	}
	return &cp
}
