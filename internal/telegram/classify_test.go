package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name           string
		err            error
		want           Outcome
		wantRetryAfter time.Duration
	}{
		{
			name: "nil is delivered",
			err:  nil,
			want: Delivered,
		},
		{
			name:           "flood error is throttled with retry after",
			err:            tele.FloodError{RetryAfter: 7},
			want:           Throttled,
			wantRetryAfter: 7 * time.Second,
		},
		{
			name:           "plain 429 is throttled",
			err:            &tele.Error{Code: 429, Description: "Too Many Requests"},
			want:           Throttled,
			wantRetryAfter: time.Second,
		},
		{
			name: "403 blocked by user is permanent",
			err:  &tele.Error{Code: 403, Description: "Forbidden: bot was blocked by the user"},
			want: PermanentFailure,
		},
		{
			name: "400 chat not found is permanent",
			err:  &tele.Error{Code: 400, Description: "Bad Request: chat not found"},
			want: PermanentFailure,
		},
		{
			name: "502 is transient",
			err:  &tele.Error{Code: 502, Description: "Bad Gateway"},
			want: TransientFailure,
		},
		{
			name: "transport error is transient",
			err:  errors.New("dial tcp: connection refused"),
			want: TransientFailure,
		},
		{
			name: "context deadline is transient",
			err:  context.DeadlineExceeded,
			want: TransientFailure,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := Classify(tc.err)
			if res.Outcome != tc.want {
				t.Fatalf("Classify(%v).Outcome = %s, want %s", tc.err, res.Outcome, tc.want)
			}
			if res.RetryAfter != tc.wantRetryAfter {
				t.Errorf("RetryAfter = %v, want %v", res.RetryAfter, tc.wantRetryAfter)
			}
			if tc.err != nil && res.Err == nil {
				t.Error("Err = nil, want original error carried")
			}
		})
	}
}
