// Package telegram is the outbound provider client: it sends one message to
// one (bot, chat) pair through the Telegram Bot API and classifies the
// response. It keeps no delivery state between calls.
package telegram

import (
	"context"
	"net/http"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"botcast/internal/campaign"
	"botcast/pkg/logx"
)

type Config struct {
	// APIURL overrides the Bot API endpoint (local test server, proxy).
	APIURL string
	// Offline skips the getMe verification call when a bot client is
	// first built. Mostly for tests.
	Offline bool
	// Timeout bounds a single API call.
	Timeout time.Duration
}

// Sender is the delivery seam the executor talks to. The production
// implementation is Client; tests substitute a scripted fake.
type Sender interface {
	Send(ctx context.Context, botToken string, chatID int64, msg campaign.Message, opt campaign.SendOptions) Result
}

// Client sends through telebot, building one bot client per token lazily.
// Bot clients are cached: building one verifies the token against the API,
// and we don't want that on every send.
type Client struct {
	cfg  Config
	log  logx.Logger
	http *http.Client

	mu   sync.Mutex
	bots map[string]*tele.Bot
}

func NewClient(cfg Config, log logx.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Client{
		cfg:  cfg,
		log:  log,
		http: &http.Client{Timeout: cfg.Timeout},
		bots: map[string]*tele.Bot{},
	}
}

func (c *Client) Send(ctx context.Context, botToken string, chatID int64, msg campaign.Message, opt campaign.SendOptions) Result {
	if err := ctx.Err(); err != nil {
		return Result{Outcome: TransientFailure, Err: err}
	}

	b, err := c.bot(botToken)
	if err != nil {
		return Classify(err)
	}

	sendOpt := &tele.SendOptions{
		ParseMode:             string(msg.ParseMode),
		DisableWebPagePreview: opt.DisablePreview,
		DisableNotification:   opt.Silent,
	}
	_, err = b.Send(tele.ChatID(chatID), msg.Text, sendOpt)
	return Classify(err)
}

func (c *Client) bot(token string) (*tele.Bot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.bots[token]; ok {
		return b, nil
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   token,
		URL:     c.cfg.APIURL,
		Offline: c.cfg.Offline,
		Client:  c.http,
	})
	if err != nil {
		return nil, err
	}
	c.bots[token] = b
	return b, nil
}
