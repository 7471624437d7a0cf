package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"botcast/internal/campaign"
	"botcast/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) CreateCampaign(ctx context.Context, c *campaign.Campaign) error {
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
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.OwnerID, c.Title, msg, opt, targets, string(c.Status), msOrNil(c.ScheduledAt),
		c.TotalRecipients, c.AttemptedRecipients, c.SuccessfulSends, c.FailedSends,
		c.CreatedAt.UnixMilli(), c.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) GetCampaign(ctx context.Context, id string) (*campaign.Campaign, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+campaignCols+` FROM campaigns WHERE id = ?`, id)
	c, err := scanCampaign(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, campaign.ErrNotFound
	}
	return c, err
}

func (s *sqliteStore) TransitionStatus(ctx context.Context, id string, from, to campaign.Status) (bool, error) {
	if err := checkTransition(from, to); err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE campaigns SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), time.Now().UnixMilli(), id, string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		// Distinguish "wrong state" from "no such campaign".
		var one int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM campaigns WHERE id = ?`, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return false, campaign.ErrNotFound
		}
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) SetTotalRecipients(ctx context.Context, id string, total int) error {
	return s.execOne(ctx,
		`UPDATE campaigns SET total_recipients = ?, updated_at = ? WHERE id = ?`,
		total, time.Now().UnixMilli(), id)
}

func (s *sqliteStore) UpdateCounters(ctx context.Context, id string, attempted, succeeded, failed int) error {
	return s.execOne(ctx,
		`UPDATE campaigns SET attempted_recipients = ?, successful_sends = ?, failed_sends = ?, updated_at = ?
		 WHERE id = ?`,
		attempted, succeeded, failed, time.Now().UnixMilli(), id)
}

func (s *sqliteStore) execOne(ctx context.Context, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return campaign.ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ListScheduledDue(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM campaigns
		 WHERE status = ? AND (scheduled_at IS NULL OR scheduled_at <= ?)
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

func (s *sqliteStore) AppendOutcome(ctx context.Context, o campaign.DeliveryOutcome) error {
	if o.At.IsZero() {
		o.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO delivery_outcomes (campaign_id, bot_id, chat_id, state, attempts, last_error, at)
		 VALUES (?,?,?,?,?,?,?)
		 ON CONFLICT(campaign_id, bot_id, chat_id) DO NOTHING`,
		o.CampaignID, o.BotID, o.ChatID, string(o.State), o.Attempts, nullStr(o.LastError), o.At.UnixMilli())
	return err
}

func (s *sqliteStore) ListOutcomes(ctx context.Context, campaignID string) ([]campaign.DeliveryOutcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT campaign_id, bot_id, chat_id, state, attempts, COALESCE(last_error, ''), at
		 FROM delivery_outcomes WHERE campaign_id = ? ORDER BY at, bot_id, chat_id`,
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

func (s *sqliteStore) UpsertBot(ctx context.Context, b Bot) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bots (id, owner_id, token, active) VALUES (?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET owner_id=excluded.owner_id, token=excluded.token, active=excluded.active`,
		b.ID, b.OwnerID, b.Token, boolToInt(b.Active))
	return err
}

func (s *sqliteStore) GetBot(ctx context.Context, id string) (Bot, error) {
	var (
		b      Bot
		active int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, token, active FROM bots WHERE id = ?`, id).
		Scan(&b.ID, &b.OwnerID, &b.Token, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return Bot{}, ErrBotNotFound
	}
	if err != nil {
		return Bot{}, err
	}
	b.Active = active != 0
	return b, nil
}

func (s *sqliteStore) BotsOwnedBy(ctx context.Context, ownerID int64) ([]Bot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner_id, token, active FROM bots WHERE owner_id = ? ORDER BY id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Bot
	for rows.Next() {
		var (
			b      Bot
			active int
		)
		if err := rows.Scan(&b.ID, &b.OwnerID, &b.Token, &active); err != nil {
			return nil, err
		}
		b.Active = active != 0
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpsertSubscriber(ctx context.Context, sub Subscriber) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscribers (bot_id, chat_id, active) VALUES (?,?,?)
		 ON CONFLICT(bot_id, chat_id) DO UPDATE SET active=excluded.active`,
		sub.BotID, sub.ChatID, boolToInt(sub.Active))
	return err
}

func (s *sqliteStore) ActiveSubscribers(ctx context.Context, botID string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id FROM subscribers WHERE bot_id = ? AND active = 1 ORDER BY chat_id`, botID)
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

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
