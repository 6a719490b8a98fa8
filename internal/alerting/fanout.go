package alerting

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/siteguard/siteguard-core/internal/config"
	"github.com/siteguard/siteguard-core/internal/models"
	"github.com/siteguard/siteguard-core/internal/monitoring"
	"github.com/siteguard/siteguard-core/internal/storage"
	"github.com/siteguard/siteguard-core/pkg/logger"
)

// Fanout delivers one event to every enabled channel of an organization
// plus any globally configured fallback senders. Channels are tried in
// parallel; one broken channel never blocks the others.
type Fanout struct {
	channels storage.ChannelStore
	global   []Sender
	timeout  time.Duration
	log      logger.Logger
}

func NewFanout(channels storage.ChannelStore, global []Sender, timeout time.Duration, log logger.Logger) *Fanout {
	if log == nil {
		log = logger.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Fanout{channels: channels, global: global, timeout: timeout, log: log}
}

// SendersFromConfig builds the global fallback senders from static
// configuration. Per-organization channels from the store take precedence
// at delivery time; these cover deployments without per-org channel rows.
func SendersFromConfig(cfg config.ChannelsConfig, timeout time.Duration) []Sender {
	var senders []Sender
	if cfg.Slack.Enabled && cfg.Slack.WebhookURL != "" {
		senders = append(senders, NewSlackSender(cfg.Slack.WebhookURL, timeout))
	}
	if cfg.Teams.Enabled && cfg.Teams.WebhookURL != "" {
		senders = append(senders, NewTeamsSender(cfg.Teams.WebhookURL, timeout))
	}
	if cfg.Webhook.Enabled && cfg.Webhook.WebhookURL != "" {
		senders = append(senders, NewWebhookSender(cfg.Webhook.WebhookURL, timeout))
	}
	return senders
}

type channelConfig struct {
	WebhookURL string `json:"webhook_url"`
}

func (f *Fanout) senderFor(ch *models.NotificationChannel) Sender {
	var cfg channelConfig
	if err := json.Unmarshal(ch.Config, &cfg); err != nil || cfg.WebhookURL == "" {
		f.log.Warn("notification channel has no usable webhook url", "channel_id", ch.ID, "type", ch.Type)
		return nil
	}
	switch ch.Type {
	case "slack":
		return NewSlackSender(cfg.WebhookURL, f.timeout)
	case "teams":
		return NewTeamsSender(cfg.WebhookURL, f.timeout)
	case "webhook":
		return NewWebhookSender(cfg.WebhookURL, f.timeout)
	default:
		// Email delivery lives outside this pipeline.
		f.log.Debug("skipping unsupported channel type", "channel_id", ch.ID, "type", ch.Type)
		return nil
	}
}

// Deliver fans the event out and reports per-channel success/failure
// counts. Individual delivery errors are logged and counted, never
// returned.
func (f *Fanout) Deliver(ctx context.Context, orgID string, event *Event) models.FanoutResult {
	senders := make([]Sender, 0, len(f.global))
	senders = append(senders, f.global...)

	if f.channels != nil {
		channels, err := f.channels.ListEnabledChannels(ctx, orgID)
		if err != nil {
			f.log.Warn("failed to list notification channels, using global senders only",
				"org_id", orgID, "error", err)
		}
		for _, ch := range channels {
			if s := f.senderFor(ch); s != nil {
				senders = append(senders, s)
			}
		}
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result models.FanoutResult
	)
	for _, sender := range senders {
		wg.Add(1)
		go func(s Sender) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, f.timeout)
			defer cancel()

			if err := s.Send(sendCtx, event); err != nil {
				f.log.Warn("notification delivery failed",
					"channel", s.Name(), "org_id", orgID, "error", err)
				monitoring.RecordNotification(s.Name(), "error")
				mu.Lock()
				result.Failed++
				mu.Unlock()
				return
			}
			monitoring.RecordNotification(s.Name(), "success")
			mu.Lock()
			result.Delivered++
			mu.Unlock()
		}(sender)
	}
	wg.Wait()
	return result
}
