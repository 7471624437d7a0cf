// Package campaign holds the broadcast campaign domain model: the campaign
// record, its status state machine, target specs, and per-recipient
// delivery outcomes.
package campaign

import (
	"strings"
	"time"
)

// Status is the campaign lifecycle state.
//
// draft -> scheduled -> sending -> {sent | failed | cancelled}
//
// The three terminal states are final; no campaign transitions out of them.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusDraft:
		return to == StatusScheduled || to == StatusSending
	case StatusScheduled:
		return to == StatusSending || to == StatusCancelled
	case StatusSending:
		return to == StatusSent || to == StatusFailed || to == StatusCancelled
	default:
		return false
	}
}

// ParseMode is the message format mode passed through to the provider.
type ParseMode string

const (
	ModePlain    ParseMode = ""         // plain text
	ModeMarkdown ParseMode = "Markdown" // basic markup
	ModeHTML     ParseMode = "HTML"     // extended markup
)

// ValidParseMode reports whether m is one of the supported modes.
func ValidParseMode(m ParseMode) bool {
	switch m {
	case ModePlain, ModeMarkdown, ModeHTML:
		return true
	}
	return false
}

// Message is the broadcast payload.
type Message struct {
	Text      string    `json:"text"`
	ParseMode ParseMode `json:"parse_mode,omitempty"`
}

// SendOptions are per-campaign provider delivery flags.
type SendOptions struct {
	DisablePreview bool `json:"disable_preview,omitempty"`
	Silent         bool `json:"silent,omitempty"`
}

// TargetSpec names recipients for one bot. Either an explicit chat list or
// "all active subscribers of the bot" (AllSubscribers). The resolver turns
// specs into a concrete, deduplicated target list before execution.
type TargetSpec struct {
	BotID          string  `json:"bot_id"`
	AllSubscribers bool    `json:"all_subscribers,omitempty"`
	ChatIDs        []int64 `json:"chat_ids,omitempty"`
}

// Campaign is one message broadcast to a set of recipients.
//
// Counter invariant: SuccessfulSends + FailedSends <= TotalRecipients at all
// times; both counters are monotonically non-decreasing during sending and
// frozen once the status is terminal. For cancelled campaigns
// AttemptedRecipients records how many targets were actually attempted.
type Campaign struct {
	ID      string       `json:"id"`
	OwnerID int64        `json:"owner_id"`
	Title   string       `json:"title"`
	Message Message      `json:"message"`
	Options SendOptions  `json:"options"`
	Targets []TargetSpec `json:"targets"`

	Status      Status     `json:"status"`
	ScheduledAt *time.Time `json:"scheduled_at,omitempty"`

	TotalRecipients     int `json:"total_recipients"`
	AttemptedRecipients int `json:"attempted_recipients"`
	SuccessfulSends     int `json:"successful_sends"`
	FailedSends         int `json:"failed_sends"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Stats is the caller-facing progress snapshot.
type Stats struct {
	TotalRecipients     int    `json:"total_recipients"`
	AttemptedRecipients int    `json:"attempted_recipients"`
	SuccessfulSends     int    `json:"successful_sends"`
	FailedSends         int    `json:"failed_sends"`
	Status              Status `json:"status"`
}

func (c *Campaign) Stats() Stats {
	return Stats{
		TotalRecipients:     c.TotalRecipients,
		AttemptedRecipients: c.AttemptedRecipients,
		SuccessfulSends:     c.SuccessfulSends,
		FailedSends:         c.FailedSends,
		Status:              c.Status,
	}
}

// OutcomeState is the terminal delivery state of one recipient.
type OutcomeState string

const (
	OutcomeDelivered          OutcomeState = "delivered"
	OutcomePermanentFailure   OutcomeState = "permanent_failure"
	OutcomeTransientExhausted OutcomeState = "transient_exhausted"
)

// DeliveryOutcome records one attempted recipient. It is created when the
// target is attempted and never mutated after its terminal state is set.
// Targets never attempted (cancellation) have no outcome record.
type DeliveryOutcome struct {
	CampaignID string       `json:"campaign_id"`
	BotID      string       `json:"bot_id"`
	ChatID     int64        `json:"chat_id"`
	State      OutcomeState `json:"state"`
	Attempts   int          `json:"attempts"`
	LastError  string       `json:"last_error,omitempty"`
	At         time.Time    `json:"at"`
}

// Validate checks creation-time input. Target ownership is checked later, at
// resolution time (see resolver); this only rejects structurally bad input.
func (c *Campaign) Validate() error {
	if strings.TrimSpace(c.Title) == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty", Index: -1}
	}
	if strings.TrimSpace(c.Message.Text) == "" {
		return &ValidationError{Field: "message.text", Reason: "must not be empty", Index: -1}
	}
	if len([]rune(c.Message.Text)) > MaxMessageRunes {
		return &ValidationError{Field: "message.text", Reason: "too long", Index: -1}
	}
	if !ValidParseMode(c.Message.ParseMode) {
		return &ValidationError{Field: "message.parse_mode", Reason: "unknown parse mode", Index: -1}
	}
	if len(c.Targets) == 0 {
		return &ValidationError{Field: "targets", Reason: "at least one target is required", Index: -1}
	}
	for i, t := range c.Targets {
		if strings.TrimSpace(t.BotID) == "" {
			return &ValidationError{Field: "targets", Reason: "bot_id must not be empty", Index: i}
		}
		if !t.AllSubscribers && len(t.ChatIDs) == 0 {
			return &ValidationError{Field: "targets", Reason: "chat_ids required unless all_subscribers is set", Index: i}
		}
		for _, id := range t.ChatIDs {
			if id == 0 {
				return &ValidationError{Field: "targets", Reason: "chat id must not be zero", Index: i}
			}
		}
	}
	return nil
}

// MaxMessageRunes is the provider's text message length ceiling.
const MaxMessageRunes = 4096
