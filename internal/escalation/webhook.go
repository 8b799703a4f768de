package escalation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"homeguard/internal/config"
)

// WebhookNotifier delivers JSON payloads to the configured endpoint with
// exponential backoff on transient failures.
type WebhookNotifier struct {
	cfg    config.WebhookConfig
	client *http.Client
	logger *slog.Logger
}

func NewWebhookNotifier(cfg config.WebhookConfig, logger *slog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// Send posts the payload, retrying up to the context deadline. It returns
// the number of retries performed alongside any final error.
func (w *WebhookNotifier) Send(ctx context.Context, payload any) (retries int, err error) {
	if !w.cfg.Enabled || w.cfg.URL == "" {
		return 0, nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal webhook payload: %w", err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	attempt := 0
	op := func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, w.cfg.Method, w.cfg.URL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range w.cfg.Headers {
			req.Header.Set(k, v)
		}
		resp, err := w.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		if resp.StatusCode >= 500 {
			return fmt.Errorf("webhook returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("webhook rejected with %d", resp.StatusCode))
		}
		return nil
	}
	err = backoff.Retry(op, policy)
	retries = attempt - 1
	if err != nil {
		w.logger.Error("webhook delivery failed", "url", w.cfg.URL, "retries", retries, "error", err)
		return retries, err
	}
	w.logger.Debug("webhook delivered", "url", w.cfg.URL, "retries", retries)
	return retries, nil
}
