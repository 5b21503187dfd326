package jobs

import (
	"context"

	"github.com/hibiken/asynq"
)

// MailEnqueuer pushes notification tasks onto the asynq queue. It satisfies
// the auth service's Notifier port.
type MailEnqueuer struct {
	client *asynq.Client
}

// NewMailEnqueuer constructs a MailEnqueuer against the given Redis address.
func NewMailEnqueuer(redisAddr string) *MailEnqueuer {
	return &MailEnqueuer{client: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})}
}

// NotifyPasswordReset enqueues the reset email task.
func (e *MailEnqueuer) NotifyPasswordReset(ctx context.Context, email, resetToken string) error {
	task, err := NewPasswordResetEmailTask(email, resetToken)
	if err != nil {
		return err
	}
	_, err = e.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault), asynq.MaxRetry(3))
	return err
}

// Close releases the underlying asynq client.
func (e *MailEnqueuer) Close() error {
	return e.client.Close()
}
