package models

import "time"

// Lifecycle event types published to the order events topic
const (
	EventTypeOrderPaid             = "ORDER_PAID"
	EventTypeOrderAwaitingContract = "ORDER_AWAITING_CONTRACT"
	EventTypeOrderCompleted        = "ORDER_COMPLETED"
	EventTypeOrderPaymentFailed    = "ORDER_PAYMENT_FAILED"
	EventTypeOrderRefunded         = "ORDER_REFUNDED"
	EventTypeContractSigned        = "CONTRACT_SIGNED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderLifecycleEvent is published whenever an order changes state.
type OrderLifecycleEvent struct {
	BaseEvent
	OrderID       string `json:"order_id"`
	ClientID      string `json:"client_id"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	Total         int64  `json:"total"`
	Amount        int64  `json:"amount,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// NotificationMessage is an email job carried on the notifications topic.
type NotificationMessage struct {
	BaseEvent
	Kind    string `json:"kind"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	OrderID string `json:"order_id,omitempty"`
}
