package escalation

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"homeguard/internal/config"
)

// ServiceCaller abstracts the host's notification service, for VoIP
// providers that route calls through the host rather than direct HTTP.
type ServiceCaller interface {
	CallService(ctx context.Context, service string, data map[string]any) error
}

// CallPlacer places one voice call to one number.
type CallPlacer interface {
	Call(ctx context.Context, number, message string) error
}

// NewCallPlacer builds the configured VoIP provider. A disabled provider
// returns nil, which callers treat as "no calls".
func NewCallPlacer(cfg config.VoIPConfig, host ServiceCaller, logger *slog.Logger) (CallPlacer, error) {
	switch cfg.Provider {
	case config.VoIPDisabled, "":
		return nil, nil
	case config.VoIPShell:
		if cfg.ShellCommand == "" {
			return nil, fmt.Errorf("voip shell provider requires shell_command")
		}
		return &shellCaller{cfg: cfg, logger: logger}, nil
	case config.VoIPNotify:
		if host == nil {
			return nil, fmt.Errorf("voip notify provider requires a host service caller")
		}
		if cfg.NotifyService == "" {
			return nil, fmt.Errorf("voip notify provider requires notify_service")
		}
		return &notifyCaller{cfg: cfg, host: host}, nil
	case config.VoIPRest:
		if cfg.RestURL == "" {
			return nil, fmt.Errorf("voip rest provider requires rest_url")
		}
		return &restCaller{cfg: cfg, client: &http.Client{Timeout: 30 * time.Second}, logger: logger}, nil
	default:
		return nil, fmt.Errorf("unknown voip provider %q", cfg.Provider)
	}
}

// shellCaller invokes an external dialer command. The template expands
// {number} and {message} placeholders.
type shellCaller struct {
	cfg    config.VoIPConfig
	logger *slog.Logger
}

func (c *shellCaller) Call(ctx context.Context, number, message string) error {
	cmdline := strings.ReplaceAll(c.cfg.ShellCommand, "{number}", number)
	cmdline = strings.ReplaceAll(cmdline, "{message}", message)
	cmd := exec.CommandContext(ctx, "sh", "-c", cmdline)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("voip shell command: %w: %s", err, strings.TrimSpace(string(out)))
	}
	c.logger.Info("voip call placed via shell", "number", number)
	return nil
}

type notifyCaller struct {
	cfg  config.VoIPConfig
	host ServiceCaller
}

func (c *notifyCaller) Call(ctx context.Context, number, message string) error {
	return c.host.CallService(ctx, c.cfg.NotifyService, map[string]any{
		"target":  number,
		"message": message,
	})
}

// restCaller posts the call request to an external VoIP gateway, with the
// same placeholder expansion as the shell provider.
type restCaller struct {
	cfg    config.VoIPConfig
	client *http.Client
	logger *slog.Logger
}

func (c *restCaller) Call(ctx context.Context, number, message string) error {
	url := strings.ReplaceAll(c.cfg.RestURL, "{number}", number)
	body := strings.ReplaceAll(c.cfg.RestBody, "{number}", number)
	body = strings.ReplaceAll(body, "{message}", message)

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, c.cfg.RestMethod, url, bytes.NewReader([]byte(body)))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range c.cfg.RestHeaders {
			req.Header.Set(k, v)
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		io.Copy(io.Discard, resp.Body)
		if resp.StatusCode >= 500 {
			return fmt.Errorf("voip gateway returned %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf("voip gateway rejected with %d", resp.StatusCode))
		}
		return nil
	}
	if err := backoff.Retry(op, policy); err != nil {
		return fmt.Errorf("voip rest call: %w", err)
	}
	c.logger.Info("voip call placed via rest", "number", number)
	return nil
}
