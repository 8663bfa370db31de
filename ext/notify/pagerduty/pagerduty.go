package pagerduty

import (
	"context"

	"github.com/PagerDuty/go-pagerduty"

	"github.com/odpf/custodian/core/job"
	"github.com/odpf/custodian/internal/telemetry"
)

// EventSender is the page-delivery surface, split out so tests can stub
// the pagerduty API.
type EventSender interface {
	SendEvent(ctx context.Context, event pagerduty.V2Event) error
}

type apiSender struct{}

func (apiSender) SendEvent(ctx context.Context, event pagerduty.V2Event) error {
	_, err := pagerduty.ManageEventWithContext(ctx, event)
	return err
}

// Notifier triggers a pagerduty alert for each job summary.
type Notifier struct {
	routingKey string
	source     string
	sender     EventSender
}

func NewNotifier(routingKey, source string) *Notifier {
	return &Notifier{
		routingKey: routingKey,
		source:     source,
		sender:     apiSender{},
	}
}

// NewNotifierWithSender is used by tests.
func NewNotifierWithSender(routingKey, source string, sender EventSender) *Notifier {
	return &Notifier{
		routingKey: routingKey,
		source:     source,
		sender:     sender,
	}
}

func (n *Notifier) Notify(ctx context.Context, summary job.Summary) error {
	event := pagerduty.V2Event{
		RoutingKey: n.routingKey,
		Action:     "trigger",
		Payload: &pagerduty.V2Payload{
			Summary:  summary.Title,
			Severity: severityFor(summary),
			Source:   n.source,
			Details: map[string]string{
				"message":  summary.Body,
				"priority": string(summary.Priority),
			},
		},
	}
	if err := n.sender.SendEvent(ctx, event); err != nil {
		telemetry.NewCounter("notify_pagerduty_send_err", nil).Inc()
		return err
	}
	telemetry.NewCounter("notify_pagerduty_sent", nil).Inc()
	return nil
}

func (*Notifier) Name() string {
	return "pagerduty"
}

func severityFor(summary job.Summary) string {
	switch {
	case summary.Severity == job.SeverityError && summary.Priority == job.PriorityHigh:
		return "critical"
	case summary.Severity == job.SeverityError:
		return "error"
	case summary.Severity == job.SeverityWarning:
		return "warning"
	default:
		return "info"
	}
}
