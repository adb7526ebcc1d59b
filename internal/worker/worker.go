package worker

import (
	"context"
	"time"

	"agency-hub/internal/broker"
	"agency-hub/internal/notify"
	"agency-hub/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	defaultMaxAttempts = 3
	defaultBackoff     = 2 * time.Second
)

// NotificationWorker delivers queued email jobs from the notifications topic
type NotificationWorker struct {
	consumer    *broker.Consumer
	sender      notify.Sender
	maxAttempts int
	backoff     time.Duration
	logger      *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, sender notify.Sender) *NotificationWorker {
	return &NotificationWorker{
		consumer:    consumer,
		sender:      sender,
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
		logger:      util.Named("notification-worker"),
	}
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

// HandleMessage delivers one job. Undecodable jobs are dropped; a job that
// still fails after the retries is returned as an error and left uncommitted.
func (w *NotificationWorker) HandleMessage(ctx context.Context, msg kafka.Message) error {
	job, err := broker.DecodeNotification(msg)
	if err != nil {
		w.logger.Error("Dropping undecodable notification",
			zap.Int64("offset", msg.Offset), zap.Error(err))
		return nil
	}

	email := notify.Email{
		Kind:    job.Kind,
		To:      job.To,
		Subject: job.Subject,
		HTML:    job.HTML,
		OrderID: job.OrderID,
	}

	var res notify.Result
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		res = w.sender.Send(ctx, email)
		if res.Success {
			util.NotificationsTotal.WithLabelValues(job.Kind, "delivered").Inc()
			w.logger.Info("Notification delivered",
				zap.String("kind", job.Kind),
				zap.String("order_id", job.OrderID),
				zap.Int("attempt", attempt))
			return nil
		}

		w.logger.Warn("Notification delivery failed",
			zap.String("kind", job.Kind),
			zap.String("order_id", job.OrderID),
			zap.Int("attempt", attempt),
			zap.Error(res.Err))

		if attempt == w.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.backoff * time.Duration(attempt)):
		}
	}

	util.NotificationsTotal.WithLabelValues(job.Kind, "undelivered").Inc()
	return res.Err
}
