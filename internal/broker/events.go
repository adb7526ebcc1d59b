package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agency-hub/internal/models"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing order lifecycle events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderEvent stamps and publishes a lifecycle event for order
func (ep *EventPublisher) PublishOrderEvent(ctx context.Context, eventType string, order *models.Order, amount int64, reason string) error {
	event := NewOrderLifecycleEvent(eventType, order, amount, reason)
	return ep.producer.PublishEvent(ctx, orderKey(order.ID), eventType, event)
}

// NewOrderLifecycleEvent snapshots order into an event of the given type.
func NewOrderLifecycleEvent(eventType string, order *models.Order, amount int64, reason string) *models.OrderLifecycleEvent {
	return &models.OrderLifecycleEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: time.Now().UTC(),
		},
		OrderID:       order.ID,
		ClientID:      order.ClientID,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		Total:         order.Total,
		Amount:        amount,
		Reason:        reason,
	}
}

// NotificationQueue enqueues email jobs for the notification worker
type NotificationQueue struct {
	producer *Producer
}

// NewNotificationQueue creates a queue over a producer bound to the notifications topic
func NewNotificationQueue(producer *Producer) *NotificationQueue {
	return &NotificationQueue{producer: producer}
}

// Enqueue publishes one email job and returns its id
func (q *NotificationQueue) Enqueue(ctx context.Context, msg *models.NotificationMessage) (string, error) {
	if msg.EventID == "" {
		msg.EventID = uuid.New().String()
	}
	msg.EventType = "EMAIL"
	msg.Timestamp = time.Now().UTC()

	key := msg.OrderID
	if key == "" {
		key = msg.To
	}
	if err := q.producer.PublishEvent(ctx, key, msg.EventType, msg); err != nil {
		return "", err
	}
	return msg.EventID, nil
}

// DecodeNotification parses a notifications topic message
func DecodeNotification(msg kafka.Message) (*models.NotificationMessage, error) {
	var n models.NotificationMessage
	if err := json.Unmarshal(msg.Value, &n); err != nil {
		return nil, fmt.Errorf("failed to unmarshal notification: %w", err)
	}
	if n.To == "" {
		return nil, fmt.Errorf("notification %s has no recipient", n.EventID)
	}
	return &n, nil
}

func orderKey(orderID string) string {
	return fmt.Sprintf("order-%s", orderID)
}
