package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_total",
		Help: "Payment gateway webhook events by type and outcome",
	}, []string{"type", "outcome"})

	WebhookProcessingLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_processing_latency_seconds",
		Help:    "Latency of webhook event handling",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	OrdersPaidTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_paid_total",
		Help: "Total number of orders whose payment succeeded",
	})

	OrdersAwaitingContractTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_awaiting_contract_total",
		Help: "Total number of orders held for a contract signature",
	})

	OrdersCompletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_completed_total",
		Help: "Total number of orders provisioned and completed",
	})

	OrdersPaymentFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orders_payment_failed_total",
		Help: "Total number of failed order payments",
	})

	OrdersRefundedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_refunded_total",
		Help: "Total number of refunds by kind",
	}, []string{"kind"})

	ContractsSignedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "contracts_signed_total",
		Help: "Total number of signed service contracts",
	})

	DuplicateEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "duplicate_events_total",
		Help: "Events skipped by an idempotency guard",
	}, []string{"guard"})

	ProvisioningLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "provisioning_latency_seconds",
		Help:    "Latency of the provisioning routine",
		Buckets: prometheus.DefBuckets,
	})

	NotificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "notifications_total",
		Help: "Notification sends by kind and outcome",
	}, []string{"kind", "outcome"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
