package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/SherClockHolmes/webpush-go"

	"github.com/notexe/live-reminder/internal/config"
)

// ErrSubscriptionGone means the push service dropped the subscription.
var ErrSubscriptionGone = errors.New("push subscription expired")

// Message is the JSON payload delivered to the service worker.
type Message struct {
	Message string `json:"message"`
	Title   string `json:"title"`
	Tag     string `json:"tag,omitempty"`
	Repeat  bool   `json:"repeat,omitempty"`
}

// WebPush delivers notifications to a single browser subscription.
type WebPush struct {
	sub     webpush.Subscription
	options webpush.Options
}

// NewWebPush creates a Web Push presenter from configuration.
func NewWebPush(cfg config.WebPushConfig, urgency string) (*WebPush, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("webpush endpoint is required")
	}
	return &WebPush{
		sub: webpush.Subscription{
			Endpoint: cfg.Endpoint,
			Keys: webpush.Keys{
				Auth:   cfg.Auth,
				P256dh: cfg.P256dh,
			},
		},
		options: webpush.Options{
			Subscriber:      cfg.Subscriber,
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			TTL:             cfg.TTL,
			Urgency:         pushUrgency(urgency),
		},
	}, nil
}

// SetHTTPClient replaces the client used to reach the push service.
func (w *WebPush) SetHTTPClient(c webpush.HTTPClient) {
	w.options.HTTPClient = c
}

func (w *WebPush) Name() string { return "webpush" }

func (w *WebPush) Present(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(Message{
		Message: n.Body,
		Title:   n.Title,
		Tag:     n.ID,
		Repeat:  n.Repeat,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal push message: %w", err)
	}

	opts := w.options
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &w.sub, &opts)
	if err != nil {
		return fmt.Errorf("failed to send push notification: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		return ErrSubscriptionGone
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push service returned %d: %s", resp.StatusCode, msg)
	}
	return nil
}

func pushUrgency(u string) webpush.Urgency {
	switch u {
	case "low":
		return webpush.UrgencyLow
	case "critical":
		return webpush.UrgencyHigh
	default:
		return webpush.UrgencyNormal
	}
}
