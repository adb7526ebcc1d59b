package service

import (
	"context"
	"sync"
	"time"

	"agency-hub/internal/models"
	"agency-hub/internal/notify"
	"agency-hub/internal/redisclient"
)

// memRepo is an in-memory Repository with the same conditional-claim
// semantics as the Postgres store.
type memRepo struct {
	mu sync.Mutex

	clients   map[string]*models.Client
	templates map[string]models.ServiceTemplate
	orders    map[string]*models.Order
	items     map[string][]models.OrderItem
	contracts map[string]*models.ServiceContract
	invoices  map[string]*models.Invoice
	services  []models.Service
	tasks     []models.Task
	timeline  []models.TimelineEntry
	metrics   map[time.Time]*models.SalesMetrics
	processed map[string]string

	metricsErr error
	// provisionErr fails the next ApplyProvisioning call once.
	provisionErr error
}

func newMemRepo() *memRepo {
	return &memRepo{
		clients:   make(map[string]*models.Client),
		templates: make(map[string]models.ServiceTemplate),
		orders:    make(map[string]*models.Order),
		items:     make(map[string][]models.OrderItem),
		contracts: make(map[string]*models.ServiceContract),
		invoices:  make(map[string]*models.Invoice),
		metrics:   make(map[time.Time]*models.SalesMetrics),
		processed: make(map[string]string),
	}
}

func (r *memRepo) GetClientByID(ctx context.Context, id string) (*models.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (r *memRepo) GetClientByUserID(ctx context.Context, userID string) (*models.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		if c.UserID == userID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memRepo) RecomputeClientStats(ctx context.Context, clientID string) (*models.ClientStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stats models.ClientStats
	for _, o := range r.orders {
		if o.ClientID != clientID || o.PaymentStatus != models.PaymentStatusSucceeded {
			continue
		}
		created := o.CreatedAt
		stats.LifetimeValue += o.Total
		stats.TotalOrders++
		if stats.FirstOrderDate == nil || created.Before(*stats.FirstOrderDate) {
			stats.FirstOrderDate = &created
		}
		if stats.LastOrderDate == nil || created.After(*stats.LastOrderDate) {
			stats.LastOrderDate = &created
		}
	}
	if c, ok := r.clients[clientID]; ok {
		c.LifetimeValue = stats.LifetimeValue
		c.TotalOrders = stats.TotalOrders
		c.FirstOrderDate = stats.FirstOrderDate
		c.LastOrderDate = stats.LastOrderDate
	}
	return &stats, nil
}

func (r *memRepo) GetTemplatesByIDs(ctx context.Context, ids []string) ([]models.ServiceTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ServiceTemplate
	for _, id := range ids {
		if t, ok := r.templates[id]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memRepo) CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	cp := *order
	r.orders[order.ID] = &cp
	r.items[order.ID] = append([]models.OrderItem(nil), items...)
	return nil
}

func (r *memRepo) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[id]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, nil
}

func (r *memRepo) GetOrderByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, o := range r.orders {
		if o.StripePaymentIntentID != nil && *o.StripePaymentIntentID == paymentIntentID {
			cp := *o
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *memRepo) GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.OrderItem(nil), r.items[orderID]...), nil
}

func (r *memRepo) GetContractByOrderID(ctx context.Context, orderID string) (*models.ServiceContract, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.contracts[orderID]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (r *memRepo) GetInvoiceByOrderID(ctx context.Context, orderID string) (*models.Invoice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inv, ok := r.invoices[orderID]; ok {
		cp := *inv
		return &cp, nil
	}
	return nil, nil
}

func (r *memRepo) GetTimeline(ctx context.Context, orderID string) ([]models.TimelineEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.TimelineEntry
	for _, e := range r.timeline {
		if e.OrderID == orderID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *memRepo) GetServicesByOrderID(ctx context.Context, orderID string) ([]models.Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Service
	for _, s := range r.services {
		if s.OrderID == orderID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memRepo) MarkOrderPaid(ctx context.Context, orderID string, p models.PaymentDetails, entry *models.TimelineEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok || (o.PaymentStatus != models.PaymentStatusPending && o.PaymentStatus != models.PaymentStatusFailed) {
		return false, nil
	}
	pi, method, paidAt := p.PaymentIntentID, p.PaymentMethod, p.PaidAt
	o.Status = models.OrderStatusProcessing
	o.PaymentStatus = models.PaymentStatusSucceeded
	o.StripePaymentIntentID = &pi
	o.PaymentMethod = &method
	o.PaidAt = &paidAt
	r.timeline = append(r.timeline, *entry)
	return true, nil
}

func (r *memRepo) AwaitContract(ctx context.Context, contract *models.ServiceContract, entry *models.TimelineEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[contract.OrderID]
	if !ok || o.Status != models.OrderStatusProcessing {
		return false, nil
	}
	o.Status = models.OrderStatusAwaitingContract
	if _, exists := r.contracts[contract.OrderID]; !exists {
		cp := *contract
		r.contracts[contract.OrderID] = &cp
	}
	r.timeline = append(r.timeline, *entry)
	return true, nil
}

func (r *memRepo) ApplyProvisioning(ctx context.Context, plan *models.ProvisioningPlan) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.provisionErr; err != nil {
		r.provisionErr = nil
		return false, err
	}
	o, ok := r.orders[plan.OrderID]
	if !ok || o.ProvisionedAt != nil ||
		(o.Status != models.OrderStatusProcessing && o.Status != models.OrderStatusAwaitingContract) {
		return false, nil
	}
	completed := plan.CompletedAt
	o.Status = models.OrderStatusCompleted
	o.CompletedAt = &completed
	o.ProvisionedAt = &completed

	r.services = append(r.services, plan.Services...)
	r.tasks = append(r.tasks, plan.Tasks...)
	for _, a := range plan.Assignments {
		items := r.items[plan.OrderID]
		for i := range items {
			if items[i].ID == a.OrderItemID {
				sid := a.ServiceID
				items[i].ServiceID = &sid
			}
		}
	}
	r.timeline = append(r.timeline, plan.Timeline)
	inv := plan.Invoice
	r.invoices[plan.OrderID] = &inv
	return true, nil
}

func (r *memRepo) MarkPaymentFailed(ctx context.Context, orderID string, entry *models.TimelineEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.orders[orderID]; ok {
		o.PaymentStatus = models.PaymentStatusFailed
	}
	r.timeline = append(r.timeline, *entry)
	return nil
}

func (r *memRepo) ApplyRefund(ctx context.Context, orderID string, u models.RefundUpdate, entry *models.TimelineEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[orderID]
	if !ok || o.RefundedAmount >= u.AmountRefunded {
		return false, nil
	}
	o.RefundedAmount = u.AmountRefunded
	if u.Full {
		o.Status = models.OrderStatusRefunded
		o.PaymentStatus = models.PaymentStatusRefunded
	}
	r.timeline = append(r.timeline, *entry)
	return true, nil
}

func (r *memRepo) SignContract(ctx context.Context, orderID string, sig models.ContractSignature, entry *models.TimelineEntry) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contracts[orderID]
	if !ok || c.SignedAt != nil {
		return false, nil
	}
	signedAt := sig.SignedAt
	c.SignedAt = &signedAt
	c.SignatureData = &sig.SignatureData
	c.SignedByName = &sig.SignedByName
	c.SignedByEmail = &sig.SignedByEmail
	c.IPAddress = &sig.IPAddress
	c.UserAgent = &sig.UserAgent
	r.timeline = append(r.timeline, *entry)
	return true, nil
}

func (r *memRepo) IncrementSalesMetrics(ctx context.Context, d models.MetricsDelta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.metricsErr != nil {
		return r.metricsErr
	}
	day := models.MetricsDay(d.Day)
	m, ok := r.metrics[day]
	if !ok {
		m = &models.SalesMetrics{Date: day}
		r.metrics[day] = m
	}
	m.Revenue += d.Revenue
	m.OrderCount += d.OrderCount
	m.NewCustomers += d.NewCustomers
	m.RefundAmount += d.RefundAmount
	m.ContractsSigned += d.ContractsSigned
	return nil
}

func (r *memRepo) ListSalesMetrics(ctx context.Context, from, to time.Time) ([]models.SalesMetrics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SalesMetrics
	for day := models.MetricsDay(from); !day.After(models.MetricsDay(to)); day = day.AddDate(0, 0, 1) {
		if m, ok := r.metrics[day]; ok {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (r *memRepo) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.processed[eventID]
	return ok, nil
}

func (r *memRepo) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processed[eventID] = eventType
	return nil
}

// metricsFor returns a copy of one day's row, zero when absent.
func (r *memRepo) metricsFor(t time.Time) models.SalesMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.metrics[models.MetricsDay(t)]; ok {
		return *m
	}
	return models.SalesMetrics{}
}

func (r *memRepo) tasksFor(serviceID string) []models.Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Task
	for _, t := range r.tasks {
		if t.ServiceID == serviceID {
			out = append(out, t)
		}
	}
	return out
}

type fakeClaimer struct {
	mu   sync.Mutex
	held map[string]bool
	keys map[*redisclient.Claim]string
}

func newFakeClaimer() *fakeClaimer {
	return &fakeClaimer{held: make(map[string]bool), keys: make(map[*redisclient.Claim]string)}
}

func (f *fakeClaimer) ClaimEvent(ctx context.Context, eventID string, ttl time.Duration) (*redisclient.Claim, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[eventID] {
		return nil, nil
	}
	f.held[eventID] = true
	claim := &redisclient.Claim{}
	f.keys[claim] = eventID
	return claim, nil
}

func (f *fakeClaimer) Release(ctx context.Context, claim *redisclient.Claim) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, f.keys[claim])
	delete(f.keys, claim)
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (f *fakePublisher) PublishOrderEvent(ctx context.Context, eventType string, order *models.Order, amount int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
	return nil
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []notify.Email
	failOn map[string]bool
}

func (f *fakeSender) Send(ctx context.Context, email notify.Email) notify.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn[email.Kind] || f.failOn["*"] {
		return notify.Result{Err: errSMTPDown}
	}
	f.sent = append(f.sent, email)
	return notify.Result{Success: true, ID: email.Kind}
}

func (f *fakeSender) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	kinds := make([]string, 0, len(f.sent))
	for _, e := range f.sent {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}
