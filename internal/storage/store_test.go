package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"botcast/internal/campaign"
	"botcast/pkg/logx"
)

// The suite runs against every backend; SQLite gets a throwaway file.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		t.Parallel()
		s := NewMemory()
		t.Cleanup(func() { _ = s.Close() })
		fn(t, s)
	})
	t.Run("sqlite", func(t *testing.T) {
		t.Parallel()
		s, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "botcast.db")}, logx.Nop())
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		t.Cleanup(func() { _ = s.Close() })
		fn(t, s)
	})
}

func storedCampaign(id string, status campaign.Status) *campaign.Campaign {
	now := time.Now().Truncate(time.Millisecond)
	return &campaign.Campaign{
		ID:      id,
		OwnerID: 7,
		Title:   "spring promo",
		Message: campaign.Message{Text: "hello", ParseMode: campaign.ModeHTML},
		Options: campaign.SendOptions{Silent: true},
		Targets: []campaign.TargetSpec{
			{BotID: "bot-a", ChatIDs: []int64{10, 20}},
			{BotID: "bot-b", AllSubscribers: true},
		},
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestCampaignRoundTrip(t *testing.T) {
	t.Parallel()
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		at := time.Now().Add(time.Hour).Truncate(time.Millisecond)
		c := storedCampaign("c1", campaign.StatusScheduled)
		c.ScheduledAt = &at

		if err := s.CreateCampaign(ctx, c); err != nil {
			t.Fatalf("CreateCampaign: %v", err)
		}
		got, err := s.GetCampaign(ctx, "c1")
		if err != nil {
			t.Fatalf("GetCampaign: %v", err)
		}
		if got.Title != c.Title || got.OwnerID != c.OwnerID || got.Status != c.Status {
			t.Errorf("got %+v, want %+v", got, c)
		}
		if got.Message != c.Message || got.Options != c.Options {
			t.Errorf("message/options = %+v/%+v, want %+v/%+v", got.Message, got.Options, c.Message, c.Options)
		}
		if len(got.Targets) != 2 || got.Targets[0].BotID != "bot-a" || !got.Targets[1].AllSubscribers {
			t.Errorf("targets = %+v, want %+v", got.Targets, c.Targets)
		}
		if got.ScheduledAt == nil || !got.ScheduledAt.Equal(at) {
			t.Errorf("ScheduledAt = %v, want %v", got.ScheduledAt, at)
		}
	})
}

func TestGetCampaignNotFound(t *testing.T) {
	t.Parallel()
	forEachStore(t, func(t *testing.T, s Store) {
		_, err := s.GetCampaign(context.Background(), "missing")
		if !errors.Is(err, campaign.ErrNotFound) {
			t.Fatalf("GetCampaign err = %v, want ErrNotFound", err)
		}
	})
}

func TestTransitionStatusIsCompareAndSwap(t *testing.T) {
	t.Parallel()
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.CreateCampaign(ctx, storedCampaign("c1", campaign.StatusDraft)); err != nil {
			t.Fatalf("CreateCampaign: %v", err)
		}

		moved, err := s.TransitionStatus(ctx, "c1", campaign.StatusDraft, campaign.StatusSending)
		if err != nil || !moved {
			t.Fatalf("TransitionStatus = (%v, %v), want (true, nil)", moved, err)
		}
		// Second claim on the same from-status must lose.
		moved, err = s.TransitionStatus(ctx, "c1", campaign.StatusDraft, campaign.StatusSending)
		if err != nil {
			t.Fatalf("TransitionStatus: %v", err)
		}
		if moved {
			t.Fatal("second claim succeeded, want CAS failure")
		}

		got, err := s.GetCampaign(ctx, "c1")
		if err != nil {
			t.Fatalf("GetCampaign: %v", err)
		}
		if got.Status != campaign.StatusSending {
			t.Errorf("status = %s, want sending", got.Status)
		}

		_, err = s.TransitionStatus(ctx, "missing", campaign.StatusDraft, campaign.StatusSending)
		if !errors.Is(err, campaign.ErrNotFound) {
			t.Errorf("TransitionStatus(missing) err = %v, want ErrNotFound", err)
		}
	})
}

func TestTransitionStatusRejectsIllegalMove(t *testing.T) {
	t.Parallel()
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.CreateCampaign(ctx, storedCampaign("c1", campaign.StatusDraft)); err != nil {
			t.Fatalf("CreateCampaign: %v", err)
		}

		// draft -> sent skips sending; the state machine forbids it even
		// though the row is in the requested from-status.
		moved, err := s.TransitionStatus(ctx, "c1", campaign.StatusDraft, campaign.StatusSent)
		if !errors.Is(err, campaign.ErrInvalidState) {
			t.Fatalf("TransitionStatus = (%v, %v), want ErrInvalidState", moved, err)
		}

		got, err := s.GetCampaign(ctx, "c1")
		if err != nil {
			t.Fatalf("GetCampaign: %v", err)
		}
		if got.Status != campaign.StatusDraft {
			t.Errorf("status = %s, want draft untouched", got.Status)
		}
	})
}

func TestTransitionStatusSingleWinner(t *testing.T) {
	t.Parallel()
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.CreateCampaign(ctx, storedCampaign("c1", campaign.StatusScheduled)); err != nil {
			t.Fatalf("CreateCampaign: %v", err)
		}

		const claimers = 8
		var wg sync.WaitGroup
		wins := make(chan bool, claimers)
		for i := 0; i < claimers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				moved, err := s.TransitionStatus(ctx, "c1", campaign.StatusScheduled, campaign.StatusSending)
				if err != nil {
					t.Errorf("TransitionStatus: %v", err)
					return
				}
				wins <- moved
			}()
		}
		wg.Wait()
		close(wins)

		won := 0
		for moved := range wins {
			if moved {
				won++
			}
		}
		if won != 1 {
			t.Errorf("%d claimers won, want exactly 1", won)
		}
	})
}

func TestCountersAndTotal(t *testing.T) {
	t.Parallel()
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.CreateCampaign(ctx, storedCampaign("c1", campaign.StatusSending)); err != nil {
			t.Fatalf("CreateCampaign: %v", err)
		}
		if err := s.SetTotalRecipients(ctx, "c1", 5); err != nil {
			t.Fatalf("SetTotalRecipients: %v", err)
		}
		if err := s.UpdateCounters(ctx, "c1", 3, 2, 1); err != nil {
			t.Fatalf("UpdateCounters: %v", err)
		}

		got, err := s.GetCampaign(ctx, "c1")
		if err != nil {
			t.Fatalf("GetCampaign: %v", err)
		}
		if got.TotalRecipients != 5 || got.AttemptedRecipients != 3 || got.SuccessfulSends != 2 || got.FailedSends != 1 {
			t.Errorf("counters = %d/%d/%d/%d, want 5/3/2/1",
				got.TotalRecipients, got.AttemptedRecipients, got.SuccessfulSends, got.FailedSends)
		}
	})
}

func TestListScheduledDue(t *testing.T) {
	t.Parallel()
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		now := time.Now()

		past := now.Add(-time.Minute)
		future := now.Add(time.Hour)
		for _, c := range []*campaign.Campaign{
			withScheduledAt(storedCampaign("due", campaign.StatusScheduled), past),
			withScheduledAt(storedCampaign("later", campaign.StatusScheduled), future),
			withScheduledAt(storedCampaign("claimed", campaign.StatusSending), past),
			storedCampaign("draft", campaign.StatusDraft),
		} {
			if err := s.CreateCampaign(ctx, c); err != nil {
				t.Fatalf("CreateCampaign(%s): %v", c.ID, err)
			}
		}

		ids, err := s.ListScheduledDue(ctx, now)
		if err != nil {
			t.Fatalf("ListScheduledDue: %v", err)
		}
		if len(ids) != 1 || ids[0] != "due" {
			t.Errorf("ListScheduledDue = %v, want [due]", ids)
		}
	})
}

func withScheduledAt(c *campaign.Campaign, at time.Time) *campaign.Campaign {
	at = at.Truncate(time.Millisecond)
	c.ScheduledAt = &at
	return c
}

func TestOutcomes(t *testing.T) {
	t.Parallel()
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.CreateCampaign(ctx, storedCampaign("c1", campaign.StatusSending)); err != nil {
			t.Fatalf("CreateCampaign: %v", err)
		}

		at := time.Now().Truncate(time.Millisecond)
		outs := []campaign.DeliveryOutcome{
			{CampaignID: "c1", BotID: "bot-a", ChatID: 10, State: campaign.OutcomeDelivered, Attempts: 1, At: at},
			{CampaignID: "c1", BotID: "bot-a", ChatID: 20, State: campaign.OutcomePermanentFailure, Attempts: 1, LastError: "telegram: bot was blocked by the user (403)", At: at},
			{CampaignID: "c1", BotID: "bot-b", ChatID: 10, State: campaign.OutcomeTransientExhausted, Attempts: 3, LastError: "telegram: Bad Gateway (502)", At: at},
		}
		for _, o := range outs {
			if err := s.AppendOutcome(ctx, o); err != nil {
				t.Fatalf("AppendOutcome: %v", err)
			}
		}

		got, err := s.ListOutcomes(ctx, "c1")
		if err != nil {
			t.Fatalf("ListOutcomes: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("ListOutcomes returned %d rows, want 3", len(got))
		}
		byKey := map[string]campaign.DeliveryOutcome{}
		for _, o := range got {
			byKey[fmt.Sprintf("%s/%d", o.BotID, o.ChatID)] = o
		}
		if o := byKey["bot-a/20"]; o.State != campaign.OutcomePermanentFailure || o.LastError == "" {
			t.Errorf("bot-a/20 = %+v, want permanent failure with error text", o)
		}
		if o := byKey["bot-b/10"]; o.Attempts != 3 {
			t.Errorf("bot-b/10 attempts = %d, want 3", o.Attempts)
		}

		empty, err := s.ListOutcomes(ctx, "missing")
		if err != nil {
			t.Fatalf("ListOutcomes(missing): %v", err)
		}
		if len(empty) != 0 {
			t.Errorf("ListOutcomes(missing) = %v, want empty", empty)
		}
	})
}

func TestBotsAndSubscribers(t *testing.T) {
	t.Parallel()
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		if err := s.UpsertBot(ctx, Bot{ID: "bot-a", OwnerID: 1, Token: "t1", Active: true}); err != nil {
			t.Fatalf("UpsertBot: %v", err)
		}
		if err := s.UpsertBot(ctx, Bot{ID: "bot-b", OwnerID: 1, Token: "t2", Active: false}); err != nil {
			t.Fatalf("UpsertBot: %v", err)
		}
		if err := s.UpsertBot(ctx, Bot{ID: "bot-c", OwnerID: 2, Token: "t3", Active: true}); err != nil {
			t.Fatalf("UpsertBot: %v", err)
		}
		// Upsert replaces.
		if err := s.UpsertBot(ctx, Bot{ID: "bot-a", OwnerID: 1, Token: "t1-rotated", Active: true}); err != nil {
			t.Fatalf("UpsertBot: %v", err)
		}

		b, err := s.GetBot(ctx, "bot-a")
		if err != nil {
			t.Fatalf("GetBot: %v", err)
		}
		if b.Token != "t1-rotated" {
			t.Errorf("token = %q, want rotated token", b.Token)
		}
		if _, err := s.GetBot(ctx, "ghost"); !errors.Is(err, ErrBotNotFound) {
			t.Errorf("GetBot(ghost) err = %v, want ErrBotNotFound", err)
		}

		owned, err := s.BotsOwnedBy(ctx, 1)
		if err != nil {
			t.Fatalf("BotsOwnedBy: %v", err)
		}
		if len(owned) != 2 {
			t.Errorf("BotsOwnedBy(1) = %d bots, want 2", len(owned))
		}

		for _, sub := range []Subscriber{
			{BotID: "bot-a", ChatID: 10, Active: true},
			{BotID: "bot-a", ChatID: 20, Active: true},
			{BotID: "bot-a", ChatID: 30, Active: false},
		} {
			if err := s.UpsertSubscriber(ctx, sub); err != nil {
				t.Fatalf("UpsertSubscriber: %v", err)
			}
		}
		// Unsubscribe via upsert.
		if err := s.UpsertSubscriber(ctx, Subscriber{BotID: "bot-a", ChatID: 20, Active: false}); err != nil {
			t.Fatalf("UpsertSubscriber: %v", err)
		}

		active, err := s.ActiveSubscribers(ctx, "bot-a")
		if err != nil {
			t.Fatalf("ActiveSubscribers: %v", err)
		}
		if len(active) != 1 || active[0] != 10 {
			t.Errorf("ActiveSubscribers = %v, want [10]", active)
		}
	})
}
