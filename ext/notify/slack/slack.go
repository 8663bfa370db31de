package slack

import (
	"context"
	"fmt"

	api "github.com/slack-go/slack"

	"github.com/odpf/custodian/core/job"
	"github.com/odpf/custodian/internal/telemetry"
)

// Notifier posts job summaries to one slack channel as colored
// attachments.
type Notifier struct {
	client  *api.Client
	channel string
}

func NewNotifier(oauthToken, channel string, opts ...api.Option) *Notifier {
	return &Notifier{
		client:  api.New(oauthToken, opts...),
		channel: channel,
	}
}

func (n *Notifier) Notify(ctx context.Context, summary job.Summary) error {
	attachment := api.Attachment{
		Color: colorFor(summary.Severity),
		Title: summary.Title,
		Text:  summary.Body,
	}
	_, _, err := n.client.PostMessageContext(ctx, n.channel,
		api.MsgOptionAttachments(attachment),
	)
	if err != nil {
		telemetry.NewCounter("notify_slack_send_err", nil).Inc()
		return fmt.Errorf("client.PostMessageContext: %w", err)
	}
	telemetry.NewCounter("notify_slack_sent", nil).Inc()
	return nil
}

func (*Notifier) Name() string {
	return "slack"
}

func colorFor(severity job.Severity) string {
	switch severity {
	case job.SeveritySuccess:
		return "good"
	case job.SeverityWarning:
		return "warning"
	default:
		return "danger"
	}
}
