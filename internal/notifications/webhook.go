package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kjannette/tulipbot/internal/httputil"
)

type Level string

const (
	Info    Level = "INFO"
	Warning Level = "WARN"
)

// Sender posts operator alerts to a Slack or Discord webhook.
// Alerts are always logged; the webhook is optional.
type Sender struct {
	webhookURL string
	botName    string
	httpClient *http.Client
	retry      httputil.RetryConfig
}

func NewSender(webhookURL, botName string) *Sender {
	if botName == "" {
		botName = "tulipbot"
	}
	return &Sender{
		webhookURL: webhookURL,
		botName:    botName,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    5 * time.Second,
		},
	}
}

// Alert logs msg and, when configured, delivers it to the webhook.
// Delivery errors are logged and swallowed.
func (s *Sender) Alert(ctx context.Context, level Level, msg string) {
	if level == Warning {
		slog.Warn(msg, "component", "alert")
	} else {
		slog.Info(msg, "component", "alert")
	}

	if s.webhookURL == "" {
		return
	}

	body, err := json.Marshal(s.formatPayload(fmt.Sprintf("[%s] %s: %s", s.botName, level, msg)))
	if err != nil {
		slog.Error("marshal alert", "component", "alert", "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := httputil.Do(ctx, s.httpClient, s.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		slog.Error("alert delivery failed", "component", "alert", "err", err)
		return
	}
	resp.Body.Close()
}

func (s *Sender) formatPayload(msg string) map[string]string {
	if strings.Contains(s.webhookURL, "discord") {
		return map[string]string{
			"content":  msg,
			"username": s.botName,
		}
	}
	return map[string]string{
		"text":     fmt.Sprintf("`%s`", msg),
		"username": s.botName,
	}
}

func (s *Sender) Enabled() bool {
	return s.webhookURL != ""
}
