package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"botcast/internal/campaign"
	"botcast/internal/storage"
	"botcast/pkg/logx"
)

// claimingExecutor mimics the dispatcher's claim semantics: the status
// transition decides the winner, every loser gets ErrInvalidState.
type claimingExecutor struct {
	store storage.Store

	mu       sync.Mutex
	executed []string
}

func (e *claimingExecutor) Execute(ctx context.Context, id string) error {
	claimed, err := e.store.TransitionStatus(ctx, id, campaign.StatusScheduled, campaign.StatusSending)
	if err != nil {
		return err
	}
	if !claimed {
		return fmt.Errorf("execute campaign %s: %w", id, campaign.ErrInvalidState)
	}
	e.mu.Lock()
	e.executed = append(e.executed, id)
	e.mu.Unlock()
	return nil
}

func (e *claimingExecutor) executions(id string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, got := range e.executed {
		if got == id {
			n++
		}
	}
	return n
}

func seedScheduled(t *testing.T, store storage.Store, id string, at time.Time) {
	t.Helper()
	c := &campaign.Campaign{
		ID:          id,
		OwnerID:     1,
		Title:       "promo",
		Message:     campaign.Message{Text: "hi"},
		Targets:     []campaign.TargetSpec{{BotID: "bot-a", ChatIDs: []int64{10}}},
		Status:      campaign.StatusScheduled,
		ScheduledAt: &at,
	}
	if err := store.CreateCampaign(context.Background(), c); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestPastDueFiresImmediately(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory()
	exec := &claimingExecutor{store: store}
	seedScheduled(t, store, "c1", time.Now().Add(-time.Hour))

	s := New(Config{Enabled: true, PollEvery: time.Minute}, store, exec, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop(context.Background())

	// The startup scan fires past-due campaigns without waiting a poll.
	waitFor(t, 3*time.Second, func() bool { return exec.executions("c1") == 1 })
}

func TestDueCampaignStartedExactlyOnce(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory()
	exec := &claimingExecutor{store: store}
	seedScheduled(t, store, "c1", time.Now().Add(-time.Minute))

	// A tight poll interval makes scan cycles overlap with the startup
	// scan; the claim keeps execution to exactly once.
	s := New(Config{Enabled: true, PollEvery: time.Second}, store, exec, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool { return exec.executions("c1") >= 1 })
	time.Sleep(1500 * time.Millisecond) // give further scans a chance to double-fire
	s.Stop(context.Background())

	if n := exec.executions("c1"); n != 1 {
		t.Errorf("campaign executed %d times, want exactly 1", n)
	}
}

func TestFutureCampaignNotStarted(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory()
	exec := &claimingExecutor{store: store}
	seedScheduled(t, store, "c1", time.Now().Add(time.Hour))

	s := New(Config{Enabled: true, PollEvery: time.Second}, store, exec, logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(1500 * time.Millisecond)
	s.Stop(context.Background())

	if n := exec.executions("c1"); n != 0 {
		t.Errorf("future campaign executed %d times, want 0", n)
	}
}

func TestDisabledSchedulerDoesNothing(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory()
	exec := &claimingExecutor{store: store}
	seedScheduled(t, store, "c1", time.Now().Add(-time.Minute))

	s := New(Config{Enabled: false}, store, exec, logx.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	s.Stop(context.Background())

	if n := exec.executions("c1"); n != 0 {
		t.Errorf("disabled scheduler executed %d campaigns, want 0", n)
	}
}
