package models

import (
	"fmt"
	"time"
)

// PaymentDetails is recorded on an order when checkout completes.
type PaymentDetails struct {
	PaymentIntentID string
	PaymentMethod   string
	PaidAt          time.Time
}

// ItemAssignment backfills an order item with the service provisioned for it.
type ItemAssignment struct {
	OrderItemID string
	ServiceID   string
}

// ProvisioningPlan is the full write set that fulfils an order. It is applied
// atomically and only once per order.
type ProvisioningPlan struct {
	OrderID       string
	ClientID      string
	Services      []Service
	Tasks         []Task
	Assignments   []ItemAssignment
	Timeline      TimelineEntry
	Invoice       Invoice
	InvoicePrefix string
	CompletedAt   time.Time
}

// ServiceNames lists provisioned services in plan order.
func (p *ProvisioningPlan) ServiceNames() []string {
	names := make([]string, 0, len(p.Services))
	for _, s := range p.Services {
		names = append(names, s.Name)
	}
	return names
}

// RefundUpdate describes a charge.refunded event applied to an order.
type RefundUpdate struct {
	Full           bool
	AmountRefunded int64
}

// ContractSignature is the signer-provided data captured on the contract.
type ContractSignature struct {
	SignedAt      time.Time
	SignatureData string
	SignedByName  string
	SignedByEmail string
	IPAddress     string
	UserAgent     string
}

// MetricsDelta is added to one day's SalesMetrics row.
type MetricsDelta struct {
	Day             time.Time
	Revenue         int64
	OrderCount      int
	NewCustomers    int
	RefundAmount    int64
	ContractsSigned int
}

// InvoiceNumber formats {prefix}-{year}-{last 6 digits of epoch millis}. The
// year is taken in UTC.
func InvoiceNumber(prefix string, t time.Time) string {
	if prefix == "" {
		prefix = "INV"
	}
	return fmt.Sprintf("%s-%d-%06d", prefix, t.UTC().Year(), t.UnixMilli()%1000000)
}
