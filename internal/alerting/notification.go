// Package alerting decides whether a persisted check result becomes a
// user-facing notification. The cooldown gate suppresses duplicates per
// (org, site, check) tuple; fan-out delivers to every enabled channel
// with isolated per-channel failures.
package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/siteguard/siteguard-core/internal/models"
)

// Event is the channel-agnostic notification payload.
type Event struct {
	Severity   models.AlertSeverity `json:"severity"`
	Recovery   bool                 `json:"recovery"`
	SiteID     string               `json:"site_id"`
	SiteName   string               `json:"site_name,omitempty"`
	CheckID    string               `json:"check_id"`
	CheckType  models.CheckType     `json:"check_type"`
	Status     models.CheckStatus   `json:"status"`
	Message    string               `json:"message"`
	OccurredAt time.Time            `json:"occurred_at"`
}

// Title renders the one-line summary used by chat channels.
func (e *Event) Title() string {
	site := e.SiteName
	if site == "" {
		site = e.SiteID
	}
	if e.Recovery {
		return fmt.Sprintf("[RECOVERED] %s: %s check back to %s", site, e.CheckType, e.Status)
	}
	return fmt.Sprintf("[%s] %s: %s check reported %s", e.Severity, site, e.CheckType, e.Status)
}

// Sender delivers one event to one notification channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, event *Event) error
}

// webhookSender posts a channel-specific JSON payload to a webhook URL.
type webhookSender struct {
	name    string
	url     string
	client  *http.Client
	payload func(*Event) interface{}
}

func (s *webhookSender) Name() string { return s.name }

func (s *webhookSender) Send(ctx context.Context, event *Event) error {
	body, err := json.Marshal(s.payload(event))
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", s.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", s.name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver to %s: %w", s.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s webhook returned status %d", s.name, resp.StatusCode)
	}
	return nil
}

func NewSlackSender(url string, timeout time.Duration) Sender {
	return &webhookSender{
		name:   "slack",
		url:    url,
		client: &http.Client{Timeout: timeout},
		payload: func(e *Event) interface{} {
			return map[string]string{
				"text": e.Title() + "\n" + e.Message,
			}
		},
	}
}

func NewTeamsSender(url string, timeout time.Duration) Sender {
	return &webhookSender{
		name:   "teams",
		url:    url,
		client: &http.Client{Timeout: timeout},
		payload: func(e *Event) interface{} {
			return map[string]string{
				"@type":    "MessageCard",
				"@context": "https://schema.org/extensions",
				"title":    e.Title(),
				"text":     e.Message,
			}
		},
	}
}

// NewWebhookSender posts the raw event to a generic consumer endpoint.
func NewWebhookSender(url string, timeout time.Duration) Sender {
	return &webhookSender{
		name:   "webhook",
		url:    url,
		client: &http.Client{Timeout: timeout},
		payload: func(e *Event) interface{} {
			return e
		},
	}
}
