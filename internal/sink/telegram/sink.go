// Package telegram delivers formatted alerts to a Telegram chat.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"offensebot/pkg/tgtext"
	logx "offensebot/pkg/logx"
)

const (
	defaultAPIURL  = "https://api.telegram.org"
	defaultTimeout = 15 * time.Second
)

type Config struct {
	Token string
	// ChatID is a numeric chat id ("-1001234") or a channel username ("@alerts").
	ChatID string
	// APIURL overrides the Bot API base URL (self-hosted Bot API server).
	APIURL  string
	Timeout time.Duration
	// RatePerSec paces sends; <= 0 means 1 message per second.
	RatePerSec     float64
	DisablePreview bool
}

// Sink sends one message per call. There is no retry: a failed send is
// reported to the caller and forgotten.
type Sink struct {
	cfg     Config
	log     logx.Logger
	bot     *tele.Bot
	to      chatTarget
	limiter *rate.Limiter
}

// chatTarget implements tele.Recipient for both numeric ids and @usernames.
type chatTarget string

func (c chatTarget) Recipient() string { return string(c) }

func New(cfg Config, log logx.Logger) (*Sink, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if strings.TrimSpace(cfg.ChatID) == "" {
		return nil, errors.New("telegram chat id is empty")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 1
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	// Offline skips the getMe round-trip: a one-shot run only ever calls sendMessage.
	b, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimRight(cfg.APIURL, "/"),
		Token:   cfg.Token,
		Client:  &http.Client{Timeout: cfg.Timeout},
		Offline: true,
	})
	if err != nil {
		return nil, err
	}

	return &Sink{
		cfg:     cfg,
		log:     log,
		bot:     b,
		to:      chatTarget(strings.TrimSpace(cfg.ChatID)),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
	}, nil
}

// Send delivers text with Markdown parse mode.
func (s *Sink) Send(ctx context.Context, text string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram rate wait: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	text = tgtext.TruncRunes(text, tgtext.MaxMessageRunes)
	msg, err := s.bot.Send(s.to, text, &tele.SendOptions{
		ParseMode:             tele.ModeMarkdown,
		DisableWebPagePreview: s.cfg.DisablePreview,
	})
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	if msg != nil {
		s.log.Debug("message sent", logx.Int("message_id", msg.ID))
	}
	return nil
}
