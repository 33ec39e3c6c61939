// Package notify implements Notification Egress (A2): it subscribes to
// the Health Monitor's publish/subscribe bus and relays unhealthy
// transitions and total-provider-exhaustion errors to optional Slack
// and/or Telegram channels. Grounded on the teacher's
// internal/adapter.SlackAdapter/TelegramAdapter Send methods, repurposed
// from chat front-end reply channels (mentat has no chat front-end in
// scope) into one-way alerting egress.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/slack-go/slack"

	"github.com/mentat-sh/mentat/internal/config"
	"github.com/mentat-sh/mentat/internal/health"
)

// Channel is a one-way alert egress target.
type Channel interface {
	Notify(ctx context.Context, message string) error
	Name() string
}

type slackChannel struct {
	client    *slack.Client
	channelID string
}

func newSlackChannel(cfg config.SlackNotifyConfig) *slackChannel {
	return &slackChannel{client: slack.New(cfg.BotToken), channelID: cfg.ChannelID}
}

func (s *slackChannel) Name() string { return "slack" }

func (s *slackChannel) Notify(ctx context.Context, message string) error {
	_, _, err := s.client.PostMessageContext(ctx, s.channelID, slack.MsgOptionText(message, false))
	if err != nil {
		return fmt.Errorf("slack notify: %w", err)
	}
	return nil
}

type telegramChannel struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func newTelegramChannel(cfg config.TelegramNotifyConfig) (*telegramChannel, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram notify: init bot: %w", err)
	}
	return &telegramChannel{bot: bot, chatID: cfg.ChatID}, nil
}

func (t *telegramChannel) Name() string { return "telegram" }

func (t *telegramChannel) Notify(ctx context.Context, message string) error {
	msg := tgbotapi.NewMessage(t.chatID, message)
	_, err := t.bot.Send(msg)
	if err != nil {
		return fmt.Errorf("telegram notify: %w", err)
	}
	return nil
}

// Egress relays Health Monitor events to every configured Channel.
type Egress struct {
	channels []Channel
}

// New builds an Egress from cfg, subscribing it to monitor immediately.
// Channels with Enabled=false are skipped; a channel that fails to
// construct (e.g. an invalid Telegram token) is logged and skipped
// rather than failing startup, since alerting is best-effort.
func New(cfg config.NotifyConfig, monitor *health.Monitor) *Egress {
	e := &Egress{}

	if cfg.Slack.Enabled {
		e.channels = append(e.channels, newSlackChannel(cfg.Slack))
	}
	if cfg.Telegram.Enabled {
		ch, err := newTelegramChannel(cfg.Telegram)
		if err != nil {
			slog.Error("notify: telegram channel disabled", "error", err)
		} else {
			e.channels = append(e.channels, ch)
		}
	}

	if monitor != nil {
		monitor.Subscribe(health.Subscriber{
			OnHealthUpdate:       e.onHealthUpdate,
			OnAllProvidersFailed: e.onAllProvidersFailed,
		})
	}
	return e
}

func (e *Egress) onHealthUpdate(upd health.HealthUpdate) {
	if upd.Status != health.StatusDown && upd.Status != health.StatusDegraded {
		return
	}
	e.broadcast(fmt.Sprintf("service %q is now %s", upd.Service, upd.Status))
}

func (e *Egress) onAllProvidersFailed(evt health.AllProvidersFailedEvent) {
	e.broadcast(fmt.Sprintf("all providers failed: %v", evt.LastErr))
}

func (e *Egress) broadcast(message string) {
	ctx := context.Background()
	for _, ch := range e.channels {
		if err := ch.Notify(ctx, message); err != nil {
			slog.Error("notify: channel delivery failed", "channel", ch.Name(), "error", err)
		}
	}
}

// Stop satisfies registry.Service; Egress holds no long-lived resources
// of its own (the Slack/Telegram clients are plain HTTP clients).
func (e *Egress) Stop(ctx context.Context) error { return nil }
