// Package slackbot posts admin alerts and usage digests to a Slack channel.
package slackbot

import (
	"context"
	"fmt"
	"log"
	"time"

	"findsanity/internal/config"
	"findsanity/internal/httpx"

	"github.com/slack-go/slack"
)

// Notifier is what the moderation gate and scheduler need from Slack.
type Notifier interface {
	UserBlocked(ctx context.Context, userID string, violations int, window time.Duration) error
	Post(ctx context.Context, text string) error
}

type AdminNotifier struct {
	api     *slack.Client
	channel string
}

func NewAdminNotifier(api *slack.Client, channelID string) *AdminNotifier {
	return &AdminNotifier{api: api, channel: channelID}
}

// FromConfig returns a Slack notifier, or a logging no-op when Slack is not
// configured.
func FromConfig(cfg config.Config) Notifier {
	if !cfg.SlackConfigured() {
		log.Printf("slack notifier disabled: slack_bot_token or slack_admin_channel_id not set")
		return Noop{}
	}
	api := slack.New(cfg.SlackBotToken, slack.OptionHTTPClient(httpx.ExternalHTTPClient()))
	return NewAdminNotifier(api, cfg.SlackAdminChannelID)
}

func (n *AdminNotifier) UserBlocked(ctx context.Context, userID string, violations int, window time.Duration) error {
	days := int(window.Hours() / 24)
	msg := fmt.Sprintf(":no_entry: user `%s` was blocked from commenting after %d flagged comments in %d days. run `findsanity unblock %s` to lift it.",
		userID, violations, days, userID)
	return n.Post(ctx, msg)
}

func (n *AdminNotifier) Post(ctx context.Context, text string) error {
	_, _, err := n.api.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return fmt.Errorf("slack post to %s: %w", n.channel, err)
	}
	log.Printf("slack admin message posted channel=%s size=%d", n.channel, len(text))
	return nil
}

type Noop struct{}

func (Noop) UserBlocked(_ context.Context, userID string, violations int, _ time.Duration) error {
	log.Printf("slack notifier disabled, skipping block alert user=%s violations=%d", userID, violations)
	return nil
}

func (Noop) Post(context.Context, string) error { return nil }
