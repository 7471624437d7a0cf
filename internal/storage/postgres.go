package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"botcast/internal/campaign"
	"botcast/pkg/logx"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS campaigns (
    id                   TEXT PRIMARY KEY,
    owner_id             BIGINT NOT NULL,
    title                TEXT NOT NULL,
    message              TEXT NOT NULL,
    options              TEXT NOT NULL,
    targets              TEXT NOT NULL,
    status               TEXT NOT NULL,
    scheduled_at         BIGINT,
    total_recipients     INTEGER NOT NULL DEFAULT 0,
    attempted_recipients INTEGER NOT NULL DEFAULT 0,
    successful_sends     INTEGER NOT NULL DEFAULT 0,
    failed_sends         INTEGER NOT NULL DEFAULT 0,
    created_at           BIGINT NOT NULL,
    updated_at           BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_campaigns_due ON campaigns(status, scheduled_at);

CREATE TABLE IF NOT EXISTS delivery_outcomes (
    campaign_id TEXT NOT NULL,
    bot_id      TEXT NOT NULL,
    chat_id     BIGINT NOT NULL,
    state       TEXT NOT NULL,
    attempts    INTEGER NOT NULL,
    last_error  TEXT,
    at          BIGINT NOT NULL,
    PRIMARY KEY (campaign_id, bot_id, chat_id)
);

CREATE TABLE IF NOT EXISTS bots (
    id       TEXT PRIMARY KEY,
    owner_id BIGINT NOT NULL,
    token    TEXT NOT NULL,
    active   BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE INDEX IF NOT EXISTS idx_bots_owner ON bots(owner_id);

CREATE TABLE IF NOT EXISTS subscribers (
    bot_id  TEXT NOT NULL,
    chat_id BIGINT NOT NULL,
    active  BOOLEAN NOT NULL DEFAULT TRUE,
    PRIMARY KEY (bot_id, chat_id)
);`

type postgresStore struct {
	db  *sql.DB
	log logx.Logger
}

func openPostgres(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres dsn is required")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	st := &postgresStore{db: db, log: log}
	if _, err := db.Exec(postgresSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *postgresStore) Close() error { return s.db.Close() }

func (s *postgresStore) CreateCampaign(ctx context.Context, c *campaign.Campaign) error {
	msg, err := encodeJSON(c.Message)
	if err != nil {
		return err
	}
	opt, err := encodeJSON(c.Options)
	if err != nil {
		return err
	}
	targets, err := encodeJSON(c.Targets)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO campaigns (`+campaignCols+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		c.ID, c.OwnerID, c.Title, msg, opt, targets, string(c.Status), msOrNil(c.ScheduledAt),
		c.TotalRecipients, c.AttemptedRecipients, c.SuccessfulSends, c.FailedSends,
		c.CreatedAt.UnixMilli(), c.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *postgresStore) GetCampaign(ctx context.Context, id string) (*campaign.Campaign, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+campaignCols+` FROM campaigns WHERE id = $1`, id)
	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, campaign.ErrNotFound
	}
	return c, err
}

func (s *postgresStore) TransitionStatus(ctx context.Context, id string, from, to campaign.Status) (bool, error) {
	if err := checkTransition(from, to); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(to), time.Now().UnixMilli(), id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		var one int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM campaigns WHERE id = $1`, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return false, campaign.ErrNotFound
		}
		return false, err
	}
	return true, nil
}

func (s *postgresStore) SetTotalRecipients(ctx context.Context, id string, total int) error {
	return s.execOne(ctx,
		`UPDATE campaigns SET total_recipients = $1, updated_at = $2 WHERE id = $3`,
		total, time.Now().UnixMilli(), id)
}

func (s *postgresStore) UpdateCounters(ctx context.Context, id string, attempted, succeeded, failed int) error {
	return s.execOne(ctx,
		`UPDATE campaigns SET attempted_recipients = $1, successful_sends = $2, failed_sends = $3, updated_at = $4
		 WHERE id = $5`,
		attempted, succeeded, failed, time.Now().UnixMilli(), id)
}

func (s *postgresStore) execOne(ctx context.Context, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

func (s *postgresStore) ListScheduledDue(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM campaigns
		 WHERE status = $1 AND (scheduled_at IS NULL OR scheduled_at <= $2)
		 ORDER BY scheduled_at`,
		string(campaign.StatusScheduled), now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *postgresStore) AppendOutcome(ctx context.Context, o campaign.DeliveryOutcome) error {
	if o.At.IsZero() {
		o.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_outcomes (campaign_id, bot_id, chat_id, state, attempts, last_error, at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)
		 ON CONFLICT (campaign_id, bot_id, chat_id) DO NOTHING`,
		o.CampaignID, o.BotID, o.ChatID, string(o.State), o.Attempts, nullStr(o.LastError), o.At.UnixMilli())
	return err
}

func (s *postgresStore) ListOutcomes(ctx context.Context, campaignID string) ([]campaign.DeliveryOutcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT campaign_id, bot_id, chat_id, state, attempts, COALESCE(last_error, ''), at
		 FROM delivery_outcomes WHERE campaign_id = $1 ORDER BY at, bot_id, chat_id`,
		campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []campaign.DeliveryOutcome
	for rows.Next() {
		var (
			o     campaign.DeliveryOutcome
			state string
			atMs  int64
		)
		if err := rows.Scan(&o.CampaignID, &o.BotID, &o.ChatID, &state, &o.Attempts, &o.LastError, &atMs); err != nil {
			return nil, err
		}
		o.State = campaign.OutcomeState(state)
		o.At = time.UnixMilli(atMs)
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *postgresStore) UpsertBot(ctx context.Context, b Bot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bots (id, owner_id, token, active) VALUES ($1,$2,$3,$4)
		 ON CONFLICT (id) DO UPDATE SET owner_id=excluded.owner_id, token=excluded.token, active=excluded.active`,
		b.ID, b.OwnerID, b.Token, b.Active)
	return err
}

func (s *postgresStore) GetBot(ctx context.Context, id string) (Bot, error) {
	var b Bot
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, token, active FROM bots WHERE id = $1`, id).
		Scan(&b.ID, &b.OwnerID, &b.Token, &b.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return Bot{}, ErrBotNotFound
	}
	return b, err
}

func (s *postgresStore) BotsOwnedBy(ctx context.Context, ownerID int64) ([]Bot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, token, active FROM bots WHERE owner_id = $1 ORDER BY id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Bot
	for rows.Next() {
		var b Bot
		if err := rows.Scan(&b.ID, &b.OwnerID, &b.Token, &b.Active); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *postgresStore) UpsertSubscriber(ctx context.Context, sub Subscriber) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers (bot_id, chat_id, active) VALUES ($1,$2,$3)
		 ON CONFLICT (bot_id, chat_id) DO UPDATE SET active=excluded.active`,
		sub.BotID, sub.ChatID, sub.Active)
	return err
}

func (s *postgresStore) ActiveSubscribers(ctx context.Context, botID string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id FROM subscribers WHERE bot_id = $1 AND active ORDER BY chat_id`, botID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
