// Package resolver expands a campaign's abstract target specs into a
// concrete, deduplicated list of (bot, chat) pairs.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"botcast/internal/campaign"
	"botcast/internal/storage"
)

// Target is one deliverable (bot, chat) pair. The bot token rides along so
// the executor never goes back to the directory mid-run.
type Target struct {
	BotID    string
	BotToken string
	ChatID   int64
}

// Directory is the slice of the store the resolver reads: bot ownership and
// subscriber lists.
type Directory interface {
	GetBot(ctx context.Context, id string) (storage.Bot, error)
	ActiveSubscribers(ctx context.Context, botID string) ([]int64, error)
}

type Resolver struct {
	dir Directory
}

func New(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve validates ownership and expands every target spec. It is a pure
// read: neither the campaign nor the subscriber set is mutated.
//
// Any bot that doesn't exist, is inactive, or belongs to someone other than
// the campaign owner fails the whole resolution with ErrInvalidTarget; no
// partial list is returned. Duplicate (bot, chat) pairs collapse to one
// target, preserving first-seen order, so overlapping specs stay idempotent.
// Subscribers with active=false are dropped. An empty result is not an
// error.
func (r *Resolver) Resolve(ctx context.Context, c *campaign.Campaign) ([]Target, error) {
	type pair struct {
		bot  string
		chat int64
	}
	seen := map[pair]bool{}
	var out []Target

	for i, spec := range c.Targets {
		bot, err := r.dir.GetBot(ctx, spec.BotID)
		if errors.Is(err, storage.ErrBotNotFound) {
			return nil, fmt.Errorf("%w: target[%d]: unknown bot %q", campaign.ErrInvalidTarget, i, spec.BotID)
		}
		if err != nil {
			return nil, err
		}
		if bot.OwnerID != c.OwnerID {
			return nil, fmt.Errorf("%w: target[%d]: bot %q is not owned by user %d", campaign.ErrInvalidTarget, i, spec.BotID, c.OwnerID)
		}
		if !bot.Active {
			return nil, fmt.Errorf("%w: target[%d]: bot %q is inactive", campaign.ErrInvalidTarget, i, spec.BotID)
		}

		chats := spec.ChatIDs
		if spec.AllSubscribers {
			chats, err = r.dir.ActiveSubscribers(ctx, spec.BotID)
			if err != nil {
				return nil, err
			}
		}
		for _, chatID := range chats {
			if chatID == 0 {
				return nil, fmt.Errorf("%w: target[%d]: chat id must not be zero", campaign.ErrInvalidTarget, i)
			}
			key := pair{bot: spec.BotID, chat: chatID}
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, Target{BotID: spec.BotID, BotToken: bot.Token, ChatID: chatID})
		}
	}
	return out, nil
}

// CountByBot returns how many resolved targets each bot has.
func CountByBot(targets []Target) map[string]int {
	counts := make(map[string]int)
	for _, t := range targets {
		counts[t.BotID]++
	}
	return counts
}
