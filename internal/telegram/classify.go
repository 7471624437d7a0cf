package telegram

import (
	"errors"
	"time"

	tele "gopkg.in/telebot.v4"
)

// Outcome is the classification of one provider response.
type Outcome string

const (
	// Delivered: the provider accepted the message.
	Delivered Outcome = "delivered"
	// PermanentFailure: recipient-specific and unrecoverable (bot blocked
	// by the user, chat not found, bad request). Never retried.
	PermanentFailure Outcome = "permanent"
	// Throttled: the provider signalled a rate excess and told us how long
	// to back off. Retried after the backoff clears.
	Throttled Outcome = "throttled"
	// TransientFailure: network trouble or a provider 5xx. Retried with
	// bounded exponential backoff.
	TransientFailure Outcome = "transient"
)

// Result is one classified provider response.
type Result struct {
	Outcome    Outcome
	RetryAfter time.Duration // set when Outcome == Throttled
	Err        error         // nil when Delivered
}

// Classify maps a telebot send error onto the outcome taxonomy.
//
// Telegram reports throttling as a 429 with a retry_after parameter, which
// telebot surfaces as FloodError. Everything else is decided by status code:
// 4xx responses describe this recipient (or this bot token) and retrying
// cannot help; 5xx and transport errors may clear up.
func Classify(err error) Result {
	if err == nil {
		return Result{Outcome: Delivered}
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return Result{
			Outcome:    Throttled,
			RetryAfter: time.Duration(flood.RetryAfter) * time.Second,
			Err:        err,
		}
	}

	var apiErr *tele.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 429:
			return Result{Outcome: Throttled, RetryAfter: time.Second, Err: err}
		case apiErr.Code >= 500:
			return Result{Outcome: TransientFailure, Err: err}
		case apiErr.Code >= 400:
			return Result{Outcome: PermanentFailure, Err: err}
		}
	}

	// Transport errors, timeouts, cancellations.
	return Result{Outcome: TransientFailure, Err: err}
}
