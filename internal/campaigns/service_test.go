package campaigns

import (
	"context"
	"errors"
	"testing"
	"time"

	"botcast/internal/campaign"
	"botcast/internal/storage"
	"botcast/pkg/logx"
)

func validInput() CreateInput {
	return CreateInput{
		OwnerID: 1,
		Title:   "promo",
		Message: campaign.Message{Text: "hello"},
		Targets: []campaign.TargetSpec{{BotID: "bot-a", ChatIDs: []int64{10}}},
	}
}

func TestCreateDraft(t *testing.T) {
	t.Parallel()

	svc := New(storage.NewMemory(), logx.Nop())
	c, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.ID == "" {
		t.Error("created campaign has no id")
	}
	if c.Status != campaign.StatusDraft {
		t.Errorf("status = %s, want draft without scheduled_at", c.Status)
	}
	if c.CreatedAt.IsZero() || c.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}

	got, err := svc.Get(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "promo" {
		t.Errorf("Get().Title = %q", got.Title)
	}
}

func TestCreateScheduled(t *testing.T) {
	t.Parallel()

	svc := New(storage.NewMemory(), logx.Nop())
	in := validInput()
	at := time.Now().Add(time.Hour)
	in.ScheduledAt = &at

	c, err := svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.Status != campaign.StatusScheduled {
		t.Errorf("status = %s, want scheduled", c.Status)
	}
	if c.ScheduledAt == nil || !c.ScheduledAt.Equal(at) {
		t.Errorf("ScheduledAt = %v, want %v", c.ScheduledAt, at)
	}
}

func TestCreateScheduledInThePast(t *testing.T) {
	t.Parallel()

	// A past start time is legal; such campaigns fire on the next
	// scheduler scan.
	svc := New(storage.NewMemory(), logx.Nop())
	in := validInput()
	at := time.Now().Add(-time.Hour)
	in.ScheduledAt = &at

	c, err := svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.Status != campaign.StatusScheduled {
		t.Errorf("status = %s, want scheduled", c.Status)
	}
}

func TestCreateValidates(t *testing.T) {
	t.Parallel()

	svc := New(storage.NewMemory(), logx.Nop())
	in := validInput()
	in.Title = ""

	_, err := svc.Create(context.Background(), in)
	var verr *campaign.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Create err = %v, want *ValidationError", err)
	}
	if verr.Field != "title" {
		t.Errorf("field = %q, want title", verr.Field)
	}
}

func TestStatsAndReportUnknownCampaign(t *testing.T) {
	t.Parallel()

	svc := New(storage.NewMemory(), logx.Nop())
	if _, err := svc.Stats(context.Background(), "missing"); !errors.Is(err, campaign.ErrNotFound) {
		t.Errorf("Stats err = %v, want ErrNotFound", err)
	}
	if _, err := svc.Report(context.Background(), "missing"); !errors.Is(err, campaign.ErrNotFound) {
		t.Errorf("Report err = %v, want ErrNotFound", err)
	}
}

func TestReportListsOutcomes(t *testing.T) {
	t.Parallel()

	store := storage.NewMemory()
	svc := New(store, logx.Nop())
	c, err := svc.Create(context.Background(), validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	o := campaign.DeliveryOutcome{
		CampaignID: c.ID, BotID: "bot-a", ChatID: 10,
		State: campaign.OutcomeDelivered, Attempts: 1, At: time.Now(),
	}
	if err := store.AppendOutcome(context.Background(), o); err != nil {
		t.Fatal(err)
	}

	got, err := svc.Report(context.Background(), c.ID)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if len(got) != 1 || got[0].State != campaign.OutcomeDelivered {
		t.Errorf("Report = %+v, want the delivered outcome", got)
	}
}
