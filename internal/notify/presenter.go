// Package notify contains the notification backends used to present due reminders.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/notexe/live-reminder/internal/config"
)

// ErrUnsupported is returned by a presenter whose platform facility is missing.
var ErrUnsupported = errors.New("notifications not supported on this platform")

// Notification is a single message to present.
type Notification struct {
	ID     string // delivery id
	Title  string
	Body   string
	Repeat bool // re-notification of a pinned reminder

	// OnActivate is called when the user clicks the notification.
	// Presenters without click-through ignore it.
	OnActivate func()
}

// Presenter shows a notification on one backend.
type Presenter interface {
	Name() string
	Present(ctx context.Context, n Notification) error
}

// Chain tries presenters in order and stops at the first success.
// The fallback runs when every presenter failed or is unsupported.
type Chain struct {
	presenters []Presenter
	fallback   Presenter
	logger     *zap.Logger
}

// NewChain creates a chain ending in fallback.
func NewChain(logger *zap.Logger, fallback Presenter, presenters ...Presenter) *Chain {
	return &Chain{presenters: presenters, fallback: fallback, logger: logger}
}

func (c *Chain) Name() string { return "chain" }

func (c *Chain) Present(ctx context.Context, n Notification) error {
	for _, p := range c.presenters {
		err := p.Present(ctx, n)
		if err == nil {
			c.logger.Debug("notification presented",
				zap.String("presenter", p.Name()),
				zap.String("delivery_id", n.ID))
			return nil
		}
		if errors.Is(err, ErrUnsupported) {
			c.logger.Debug("presenter unsupported", zap.String("presenter", p.Name()))
			continue
		}
		c.logger.Warn("presenter failed",
			zap.String("presenter", p.Name()),
			zap.String("delivery_id", n.ID),
			zap.Error(err))
	}

	if c.fallback == nil {
		return fmt.Errorf("no presenter could show the notification")
	}
	if err := c.fallback.Present(ctx, n); err != nil {
		return fmt.Errorf("fallback presenter %s failed: %w", c.fallback.Name(), err)
	}
	c.logger.Debug("notification presented by fallback",
		zap.String("presenter", c.fallback.Name()),
		zap.String("delivery_id", n.ID))
	return nil
}

// New builds the chain described by cfg. The log presenter is always the
// fallback, so presentation degrades to a log line at worst. Terminal
// balloons are written to term, or to stderr when term is nil.
func New(cfg config.NotifyConfig, logger *zap.Logger, term io.Writer) (*Chain, error) {
	var presenters []Presenter
	for _, ch := range cfg.ChannelList() {
		switch ch {
		case config.ChannelDesktop:
			presenters = append(presenters, NewDesktop(cfg.AppName, cfg.Urgency, logger.Named("desktop")))
		case config.ChannelTelegram:
			presenters = append(presenters, NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID,
				WithBaseURL(cfg.Telegram.BaseURL)))
		case config.ChannelWebPush:
			wp, err := NewWebPush(cfg.WebPush, cfg.Urgency)
			if err != nil {
				return nil, err
			}
			presenters = append(presenters, wp)
		case config.ChannelTerminal:
			presenters = append(presenters, NewTerminal(term))
		case config.ChannelLog:
			presenters = append(presenters, NewLog(logger))
		default:
			return nil, fmt.Errorf("unknown notification channel: %s", ch)
		}
	}
	return NewChain(logger, NewLog(logger), presenters...), nil
}
