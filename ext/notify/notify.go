package notify

import (
	"context"

	"github.com/odpf/custodian/core/job"
)

// Sender delivers a finished-job summary to one notification channel.
type Sender interface {
	Notify(ctx context.Context, summary job.Summary) error
	Name() string
}

// NoopSender is wired when no notification channel is configured.
type NoopSender struct{}

func (NoopSender) Notify(context.Context, job.Summary) error {
	return nil
}

func (NoopSender) Name() string {
	return "noop"
}
