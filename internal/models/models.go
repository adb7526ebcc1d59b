package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Order statuses track fulfilment progress.
const (
	OrderStatusPending          = "PENDING"
	OrderStatusProcessing       = "PROCESSING"
	OrderStatusAwaitingContract = "AWAITING_CONTRACT"
	OrderStatusCompleted        = "COMPLETED"
	OrderStatusCancelled        = "CANCELLED"
	OrderStatusRefunded         = "REFUNDED"
)

// Payment statuses track money movement, independently of the order status.
const (
	PaymentStatusPending   = "PENDING"
	PaymentStatusSucceeded = "SUCCEEDED"
	PaymentStatusFailed    = "FAILED"
	PaymentStatusRefunded  = "REFUNDED"
)

// Work item statuses and priorities
const (
	ServiceStatusToDo = "TO_DO"
	TaskStatusToDo    = "TO_DO"

	TaskPriorityLow    = "LOW"
	TaskPriorityMedium = "MEDIUM"
	TaskPriorityHigh   = "HIGH"
)

const InvoiceStatusPaid = "PAID"

// User roles
const (
	RoleAdmin  = "ADMIN"
	RoleStaff  = "STAFF"
	RoleClient = "CLIENT"
)

// User is an authenticated principal.
type User struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	Role      string    `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Client is an agency customer. The aggregate fields are recomputed from orders.
type Client struct {
	ID             string     `db:"id" json:"id"`
	UserID         string     `db:"user_id" json:"user_id"`
	Name           string     `db:"name" json:"name"`
	Email          string     `db:"email" json:"email"`
	LifetimeValue  int64      `db:"lifetime_value" json:"lifetime_value"`
	TotalOrders    int        `db:"total_orders" json:"total_orders"`
	FirstOrderDate *time.Time `db:"first_order_date" json:"first_order_date,omitempty"`
	LastOrderDate  *time.Time `db:"last_order_date" json:"last_order_date,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// ClientStats is the result of re-aggregating a client's successful orders.
type ClientStats struct {
	LifetimeValue  int64      `db:"lifetime_value"`
	TotalOrders    int        `db:"total_orders"`
	FirstOrderDate *time.Time `db:"first_order_date"`
	LastOrderDate  *time.Time `db:"last_order_date"`
}

// DefaultTask is a task blueprint declared on a service template.
type DefaultTask struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority,omitempty"`
}

// DefaultTasks is stored as a JSONB array.
type DefaultTasks []DefaultTask

func (d DefaultTasks) Value() (driver.Value, error) {
	if d == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(d)
}

func (d *DefaultTasks) Scan(src interface{}) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*d = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported default_tasks type %T", src)
	}
	return json.Unmarshal(raw, d)
}

// ServiceTemplate is a catalog entry.
type ServiceTemplate struct {
	ID               string       `db:"id" json:"id"`
	Name             string       `db:"name" json:"name"`
	Type             string       `db:"type" json:"type"`
	Price            int64        `db:"price" json:"price"`
	RequiresContract bool         `db:"requires_contract" json:"requires_contract"`
	ContractTemplate string       `db:"contract_template" json:"contract_template,omitempty"`
	DefaultTasks     DefaultTasks `db:"default_tasks" json:"default_tasks"`
	CreatedAt        time.Time    `db:"created_at" json:"created_at"`
}

// Order represents one checkout.
type Order struct {
	ID                    string     `db:"id" json:"id"`
	ClientID              string     `db:"client_id" json:"client_id"`
	Status                string     `db:"status" json:"status"`
	PaymentStatus         string     `db:"payment_status" json:"payment_status"`
	Total                 int64      `db:"total" json:"total"`
	StripePaymentIntentID *string    `db:"stripe_payment_intent_id" json:"stripe_payment_intent_id,omitempty"`
	PaymentMethod         *string    `db:"payment_method" json:"payment_method,omitempty"`
	RefundedAmount        int64      `db:"refunded_amount" json:"refunded_amount"`
	PaidAt                *time.Time `db:"paid_at" json:"paid_at,omitempty"`
	CompletedAt           *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	ProvisionedAt         *time.Time `db:"provisioned_at" json:"provisioned_at,omitempty"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}

// OrderItem is a line item snapshot taken at purchase time. The contract
// fields are copied too so later template edits do not change what is signed.
type OrderItem struct {
	ID                string  `db:"id" json:"id"`
	OrderID           string  `db:"order_id" json:"order_id"`
	ServiceTemplateID string  `db:"service_template_id" json:"service_template_id"`
	ServiceName       string  `db:"service_name" json:"service_name"`
	Quantity          int     `db:"quantity" json:"quantity"`
	Price             int64   `db:"price" json:"price"`
	RequiresContract  bool    `db:"requires_contract" json:"requires_contract"`
	ContractTemplate  string  `db:"contract_template" json:"-"`
	Position          int     `db:"position" json:"position"`
	ServiceID         *string `db:"service_id" json:"service_id,omitempty"`
}

// ServiceContract is the single contract attached to an order that needs one.
type ServiceContract struct {
	ID              string     `db:"id" json:"id"`
	OrderID         string     `db:"order_id" json:"order_id"`
	TemplateContent string     `db:"template_content" json:"template_content"`
	SignedAt        *time.Time `db:"signed_at" json:"signed_at,omitempty"`
	SignatureData   *string    `db:"signature_data" json:"signature_data,omitempty"`
	SignedByName    *string    `db:"signed_by_name" json:"signed_by_name,omitempty"`
	SignedByEmail   *string    `db:"signed_by_email" json:"signed_by_email,omitempty"`
	IPAddress       *string    `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent       *string    `db:"user_agent" json:"user_agent,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// IsSigned reports whether the contract has been signed.
func (c *ServiceContract) IsSigned() bool {
	return c != nil && c.SignedAt != nil
}

// Service is a provisioned unit of work for a client.
type Service struct {
	ID                string    `db:"id" json:"id"`
	ClientID          string    `db:"client_id" json:"client_id"`
	OrderID           string    `db:"order_id" json:"order_id"`
	ServiceTemplateID string    `db:"service_template_id" json:"service_template_id"`
	Name              string    `db:"name" json:"name"`
	Status            string    `db:"status" json:"status"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
}

type Task struct {
	ID          string    `db:"id" json:"id"`
	ServiceID   string    `db:"service_id" json:"service_id"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description,omitempty"`
	Status      string    `db:"status" json:"status"`
	Priority    string    `db:"priority" json:"priority"`
	Position    int       `db:"position" json:"position"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// TimelineEntry is one row of an order's append-only audit log.
type TimelineEntry struct {
	ID          string    `db:"id" json:"id"`
	OrderID     string    `db:"order_id" json:"order_id"`
	Status      string    `db:"status" json:"status"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

type Invoice struct {
	ID            string    `db:"id" json:"id"`
	OrderID       string    `db:"order_id" json:"order_id"`
	ClientID      string    `db:"client_id" json:"client_id"`
	InvoiceNumber string    `db:"invoice_number" json:"invoice_number"`
	Status        string    `db:"status" json:"status"`
	Subtotal      int64     `db:"subtotal" json:"subtotal"`
	Tax           int64     `db:"tax" json:"tax"`
	Total         int64     `db:"total" json:"total"`
	IssuedAt      time.Time `db:"issued_at" json:"issued_at"`
}

// SalesMetrics is the daily rollup. Date is truncated to midnight UTC.
type SalesMetrics struct {
	Date            time.Time `db:"date" json:"date"`
	Revenue         int64     `db:"revenue" json:"revenue"`
	OrderCount      int       `db:"order_count" json:"order_count"`
	NewCustomers    int       `db:"new_customers" json:"new_customers"`
	RefundAmount    int64     `db:"refund_amount" json:"refund_amount"`
	ContractsSigned int       `db:"contracts_signed" json:"contracts_signed"`
}

// AvgOrderValue is derived from revenue and order count rather than stored.
func (m SalesMetrics) AvgOrderValue() int64 {
	if m.OrderCount == 0 {
		return 0
	}
	return m.Revenue / int64(m.OrderCount)
}

// MetricsDay truncates t to the calendar day used as the SalesMetrics key.
func MetricsDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
