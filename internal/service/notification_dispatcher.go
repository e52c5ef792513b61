package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sis-request-api/pkg/config"
	"github.com/noah-isme/sis-request-api/pkg/jobs"
)

// Notification template keys.
const (
	NotificationRequestSubmitted   = "request.submitted"
	NotificationRequestResubmitted = "request.resubmitted"
	NotificationStepApproved       = "request.step_approved"
	NotificationRequestApproved    = "request.approved"
	NotificationRequestRejected    = "request.rejected"
	NotificationRequestReturned    = "request.returned"
	NotificationRequestCancelled   = "request.cancelled"
	NotificationRequestCompleted   = "request.completed"
	NotificationRequestReminder    = "request.reminder"
)

// RoleRecipient addresses a notification to everyone holding an approval role.
func RoleRecipient(role string) string {
	return "role:" + role
}

// Notifier delivers templated notifications. Implementations must not block for long.
type Notifier interface {
	Notify(ctx context.Context, recipient, templateKey string, payload map[string]interface{}) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, recipient, templateKey string, payload map[string]interface{}) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, recipient, templateKey string, payload map[string]interface{}) error {
	return f(ctx, recipient, templateKey, payload)
}

// LogNotifier writes notifications to the structured log. It is the default sink
// until a delivery channel is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier constructs the log sink.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(ctx context.Context, recipient, templateKey string, payload map[string]interface{}) error {
	n.logger.Info("notification dispatched",
		zap.String("recipient", recipient),
		zap.String("template", templateKey),
		zap.Any("payload", payload),
	)
	return nil
}

type queuedNotification struct {
	Recipient string
	Template  string
	Payload   map[string]interface{}
}

// QueuedNotifier hands notifications to a background worker pool so callers never wait on delivery.
type QueuedNotifier struct {
	next    Notifier
	queue   *jobs.Queue
	metrics *MetricsService
	logger  *zap.Logger
	enabled bool
}

// NewQueuedNotifier wraps next with a retrying worker queue.
func NewQueuedNotifier(next Notifier, cfg config.NotificationConfig, metrics *MetricsService, logger *zap.Logger) *QueuedNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &QueuedNotifier{next: next, metrics: metrics, logger: logger, enabled: cfg.Enabled}
	n.queue = jobs.NewQueue("notifications", n.deliver, jobs.QueueConfig{
		Workers:    cfg.WorkerConcurrency,
		BufferSize: cfg.QueueSize,
		MaxRetries: cfg.WorkerRetries,
		Logger:     logger,
	})
	return n
}

// Start launches the delivery workers.
func (n *QueuedNotifier) Start(ctx context.Context) {
	if n.enabled {
		n.queue.Start(ctx)
	}
}

// Stop drains the workers.
func (n *QueuedNotifier) Stop() {
	n.queue.Stop()
}

// Notify enqueues the notification. Disabled notifiers drop it silently.
func (n *QueuedNotifier) Notify(ctx context.Context, recipient, templateKey string, payload map[string]interface{}) error {
	if !n.enabled {
		return nil
	}
	job := jobs.Job{
		ID:      uuid.NewString(),
		Type:    templateKey,
		Payload: queuedNotification{Recipient: recipient, Template: templateKey, Payload: payload},
	}
	if err := n.queue.Enqueue(job); err != nil {
		n.metrics.RecordNotification(templateKey, "dropped")
		return fmt.Errorf("enqueue notification %s: %w", templateKey, err)
	}
	return nil
}

func (n *QueuedNotifier) deliver(ctx context.Context, job jobs.Job) error {
	msg, ok := job.Payload.(queuedNotification)
	if !ok {
		n.logger.Error("unexpected notification payload", zap.String("job_id", job.ID))
		return nil
	}
	if err := n.next.Notify(ctx, msg.Recipient, msg.Template, msg.Payload); err != nil {
		n.metrics.RecordNotification(msg.Template, "failed")
		return err
	}
	n.metrics.RecordNotification(msg.Template, "sent")
	return nil
}
