package config

import "time"

// Config is the full daemon configuration. Files may be JSON or YAML; both
// are decoded strictly (unknown keys are rejected) so typos surface early.
//
// All duration fields are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Telegram  TelegramConfig  `json:"telegram"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Scheduler SchedulerConfig `json:"scheduler"`
	HTTP      HTTPConfig      `json:"http"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the campaign store backend.
//
// Driver values: "sqlite" (file path), "postgres" (DSN), "memory".
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`         // sqlite file path
	DSN         string `json:"dsn,omitempty"`          // postgres connection string
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// TelegramConfig controls the outbound provider client.
//
// APIURL overrides the Bot API endpoint (useful for a local test server).
// Offline skips the token verification call at client build time.
type TelegramConfig struct {
	APIURL  string `json:"api_url,omitempty"`
	Offline bool   `json:"offline,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// DispatchConfig controls campaign execution.
//
// Defaults (applied when fields are omitted/zero):
//   - per_bot_workers: 4
//   - global_inflight: 32
//   - rate_per_bot: 25 tokens/sec, burst_per_bot: rate_per_bot
//   - retry_max: 3, retry_base: 500ms, retry_max_delay: 15s
//   - campaign_timeout: 0s (disabled)
//   - success_policy: "any"
type DispatchConfig struct {
	PerBotWorkers  int    `json:"per_bot_workers,omitempty"`
	GlobalInflight int    `json:"global_inflight,omitempty"`
	RatePerBot     int    `json:"rate_per_bot,omitempty"`
	BurstPerBot    int    `json:"burst_per_bot,omitempty"`
	RetryMax       int    `json:"retry_max,omitempty"`
	RetryBase      string `json:"retry_base,omitempty"`
	RetryMaxDelay  string `json:"retry_max_delay,omitempty"`

	// CampaignTimeout caps a single campaign's wall-clock duration.
	// Hitting it behaves exactly like a cancellation. "0s" disables it.
	CampaignTimeout string `json:"campaign_timeout,omitempty"`

	// SuccessPolicy decides the terminal status when some recipients fail:
	// "any" marks the campaign sent whenever at least one send succeeded,
	// "all" requires every attempted send to succeed.
	SuccessPolicy string `json:"success_policy,omitempty"`
}

type SchedulerConfig struct {
	Enabled   bool   `json:"enabled"`
	PollEvery string `json:"poll_every,omitempty"` // default "5s"
}

type HTTPConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default ":8080"
}

// ParseDurationField parses an optional Go duration string; empty means 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	return parseDuration(path, raw)
}

// ParseDurationOrDefault is ParseDurationField with a fallback for
// empty/zero values.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := parseDuration(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
