package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"botcast/internal/campaign"
)

// Campaign rows keep message/options/targets as JSON blobs; the dispatcher
// never queries inside them and the shape follows the API payloads.

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}
	return string(b), nil
}

func decodeJSON(s string, v any) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

func msOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func timeFromMs(ms sql.NullInt64) *time.Time {
	if !ms.Valid {
		return nil
	}
	t := time.UnixMilli(ms.Int64)
	return &t
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

// scanCampaign decodes one campaigns row. The column order must match
// campaignCols.
const campaignCols = `id, owner_id, title, message, options, targets, status, scheduled_at,
	total_recipients, attempted_recipients, successful_sends, failed_sends, created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*campaign.Campaign, error) {
	var (
		c           campaign.Campaign
		msgJSON     string
		optJSON     string
		targetsJSON string
		status      string
		schedMs     sql.NullInt64
		createdMs   int64
		updatedMs   int64
	)
	err := row.Scan(
		&c.ID, &c.OwnerID, &c.Title, &msgJSON, &optJSON, &targetsJSON, &status, &schedMs,
		&c.TotalRecipients, &c.AttemptedRecipients, &c.SuccessfulSends, &c.FailedSends,
		&createdMs, &updatedMs,
	)
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(msgJSON, &c.Message); err != nil {
		return nil, fmt.Errorf("campaign %s message: %w", c.ID, err)
	}
	if err := decodeJSON(optJSON, &c.Options); err != nil {
		return nil, fmt.Errorf("campaign %s options: %w", c.ID, err)
	}
	if err := decodeJSON(targetsJSON, &c.Targets); err != nil {
		return nil, fmt.Errorf("campaign %s targets: %w", c.ID, err)
	}
	c.Status = campaign.Status(status)
	c.ScheduledAt = timeFromMs(schedMs)
	c.CreatedAt = time.UnixMilli(createdMs)
	c.UpdatedAt = time.UnixMilli(updatedMs)
	return &c, nil
}
