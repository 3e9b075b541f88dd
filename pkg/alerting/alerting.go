// Package alerting notifies a human operator when the Reconciler or the
// webhook ingress detects something the Conflict Resolution Policy cannot
// resolve silently (spec §4.10 step 5, §4.11 "alert if the conflict
// involves a direct booking"). It wraps the same Slack client the teacher
// pack uses for every other operator-facing notification.
package alerting

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/slack-go/slack"
)

// Alert is one operator-facing notification.
type Alert struct {
	PropertyID uuid.UUID
	Channel    string // the channel tag involved, empty if not channel-specific
	Kind       string // e.g. "direct_booking_conflict", "reconcile_drift_threshold"
	Title      string
	Detail     string
}

// Notifier posts Alerts to a single configured Slack channel. If botToken
// is empty it is a no-op, logging instead — the same degrade-gracefully
// convention as pkg/slack.Notifier.
type Notifier struct {
	client    *slack.Client
	channelID string
	logger    *slog.Logger
}

// NewNotifier creates a Notifier.
func NewNotifier(botToken, channelID string, logger *slog.Logger) *Notifier {
	var client *slack.Client
	if botToken != "" {
		client = slack.New(botToken)
	}
	return &Notifier{client: client, channelID: channelID, logger: logger}
}

// IsEnabled reports whether the notifier has a configured Slack client.
func (n *Notifier) IsEnabled() bool {
	return n.client != nil && n.channelID != ""
}

// Post sends alert to the configured channel. A disabled notifier logs at
// warn level instead of failing the caller's operation — an unreachable
// Slack workspace must never block the reconciler or webhook ingress.
func (n *Notifier) Post(ctx context.Context, alert Alert) error {
	if !n.IsEnabled() {
		n.logger.Warn("operator alert (notifier disabled)",
			"kind", alert.Kind, "property_id", alert.PropertyID, "channel", alert.Channel, "title", alert.Title)
		return nil
	}

	text := fmt.Sprintf(":rotating_light: *%s*\n%s\nproperty: `%s`", alert.Title, alert.Detail, alert.PropertyID)
	if alert.Channel != "" {
		text += fmt.Sprintf(" · channel: `%s`", alert.Channel)
	}

	_, _, err := n.client.PostMessageContext(ctx, n.channelID, slack.MsgOptionText(text, false))
	if err != nil {
		n.logger.Error("posting operator alert to slack", "error", err, "kind", alert.Kind)
		return fmt.Errorf("alerting: posting to slack: %w", err)
	}
	return nil
}
