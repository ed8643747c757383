package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/gyaneshwarpardhi/safewatch/internal/safety"
)

// WebhookPayload is the JSON body posted for each escalation.
type WebhookPayload struct {
	Event      *safety.Event           `json:"event"`
	Escalation safety.EscalationRecord `json:"escalation"`
}

// WebhookOptions configures a WebhookNotifier.
type WebhookOptions struct {
	URL     string
	Timeout time.Duration
	Retries int
	// Token, when set, is sent as a bearer Authorization header.
	Token string
}

// WebhookNotifier posts escalations to an HTTP endpoint owned by the
// target's dispatch desk.
type WebhookNotifier struct {
	target safety.Target
	url    string
	client *resty.Client
	logger *zap.Logger
}

func NewWebhookNotifier(target safety.Target, opts WebhookOptions, logger *zap.Logger) *WebhookNotifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	client := resty.New().
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if opts.Token != "" {
		client.SetAuthToken(opts.Token)
	}
	return &WebhookNotifier{target: target, url: opts.URL, client: client, logger: logger}
}

func (w *WebhookNotifier) Target() safety.Target { return w.target }

func (w *WebhookNotifier) Notify(ctx context.Context, ev *safety.Event, rec safety.EscalationRecord) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetHeader("X-Safewatch-Event", ev.ID).
		SetBody(WebhookPayload{Event: ev, Escalation: rec}).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("webhook %s: %w", w.target, err)
	}
	if resp.IsError() {
		w.logger.Warn("webhook rejected escalation",
			zap.String("target", string(w.target)),
			zap.String("sos_event_id", ev.ID),
			zap.Int("status_code", resp.StatusCode()),
		)
		return fmt.Errorf("webhook %s: status %d", w.target, resp.StatusCode())
	}
	return nil
}
