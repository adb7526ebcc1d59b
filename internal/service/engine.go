package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agency-hub/internal/models"
	"agency-hub/internal/notify"
	"agency-hub/internal/payment"
	"agency-hub/internal/redisclient"
	"agency-hub/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Repository is the persistence gateway the engine drives. Every mutating
// method is a conditional claim and reports whether it won.
type Repository interface {
	GetClientByID(ctx context.Context, id string) (*models.Client, error)
	GetClientByUserID(ctx context.Context, userID string) (*models.Client, error)
	RecomputeClientStats(ctx context.Context, clientID string) (*models.ClientStats, error)

	GetTemplatesByIDs(ctx context.Context, ids []string) ([]models.ServiceTemplate, error)

	CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Order, error)
	GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error)
	GetContractByOrderID(ctx context.Context, orderID string) (*models.ServiceContract, error)
	GetInvoiceByOrderID(ctx context.Context, orderID string) (*models.Invoice, error)
	GetTimeline(ctx context.Context, orderID string) ([]models.TimelineEntry, error)
	GetServicesByOrderID(ctx context.Context, orderID string) ([]models.Service, error)

	MarkOrderPaid(ctx context.Context, orderID string, p models.PaymentDetails, entry *models.TimelineEntry) (bool, error)
	AwaitContract(ctx context.Context, contract *models.ServiceContract, entry *models.TimelineEntry) (bool, error)
	ApplyProvisioning(ctx context.Context, plan *models.ProvisioningPlan) (bool, error)
	MarkPaymentFailed(ctx context.Context, orderID string, entry *models.TimelineEntry) error
	ApplyRefund(ctx context.Context, orderID string, r models.RefundUpdate, entry *models.TimelineEntry) (bool, error)
	SignContract(ctx context.Context, orderID string, sig models.ContractSignature, entry *models.TimelineEntry) (bool, error)

	IncrementSalesMetrics(ctx context.Context, d models.MetricsDelta) error
	ListSalesMetrics(ctx context.Context, from, to time.Time) ([]models.SalesMetrics, error)

	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// EventClaimer grants short-lived exclusive ownership of a gateway event.
type EventClaimer interface {
	ClaimEvent(ctx context.Context, eventID string, ttl time.Duration) (*redisclient.Claim, error)
	Release(ctx context.Context, claim *redisclient.Claim) error
}

// EventPublisher announces order lifecycle changes.
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, eventType string, order *models.Order, amount int64, reason string) error
}

// EngineConfig holds the environment-derived settings the engine consumes.
type EngineConfig struct {
	AdminEmail    string
	InvoicePrefix string
	DashboardURL  string
	ClaimTTL      time.Duration
}

// Engine drives orders through payment, contract gating, provisioning and
// invoicing in response to gateway events and contract signatures.
type Engine struct {
	repo     Repository
	claims   EventClaimer
	events   EventPublisher
	sender   notify.Sender
	renderer *notify.Renderer
	cfg      EngineConfig
	now      func() time.Time
	logger   *zap.Logger
}

// NewEngine creates a new order lifecycle engine
func NewEngine(
	repo Repository,
	claims EventClaimer,
	events EventPublisher,
	sender notify.Sender,
	renderer *notify.Renderer,
	cfg EngineConfig,
) *Engine {
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = 5 * time.Minute
	}
	return &Engine{
		repo:     repo,
		claims:   claims,
		events:   events,
		sender:   sender,
		renderer: renderer,
		cfg:      cfg,
		now:      time.Now,
		logger:   util.Named("engine"),
	}
}

// HandleEvent claims a verified gateway event and dispatches it by type.
// Replays of a processed event are no-ops reported as Duplicate.
func (e *Engine) HandleEvent(ctx context.Context, event *payment.Event) (*Outcome, error) {
	ctx, span := util.StartSpan(ctx, "Engine.HandleEvent")
	defer span.End()

	start := time.Now()
	defer func() {
		util.WebhookProcessingLatency.WithLabelValues(event.Type).Observe(time.Since(start).Seconds())
	}()

	if event.ID == "" {
		return nil, ErrMalformedEvent
	}

	claim, err := e.claims.ClaimEvent(ctx, event.ID, e.cfg.ClaimTTL)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("claim event: %w", err)
	}
	if claim == nil {
		util.DuplicateEventsTotal.WithLabelValues("in_flight").Inc()
		e.logger.Info("Event already in flight", zap.String("event_id", event.ID))
		return nil, ErrEventInFlight
	}
	defer func() {
		if err := e.claims.Release(context.Background(), claim); err != nil {
			e.logger.Warn("Failed to release event claim", zap.String("event_id", event.ID), zap.Error(err))
		}
	}()

	processed, err := e.repo.IsEventProcessed(ctx, event.ID)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("check event processed: %w", err)
	}
	if processed {
		util.DuplicateEventsTotal.WithLabelValues("ledger").Inc()
		util.WebhookEventsTotal.WithLabelValues(event.Type, "duplicate").Inc()
		e.logger.Info("Event already processed", zap.String("event_id", event.ID))
		return &Outcome{Duplicate: true}, nil
	}

	var outcome *Outcome
	switch event.Type {
	case payment.EventCheckoutSessionCompleted:
		data, derr := payment.DecodeCheckoutCompleted(event.Raw)
		if derr != nil {
			err = fmt.Errorf("%w: %v", ErrMalformedEvent, derr)
			break
		}
		outcome, err = e.HandleCheckoutCompleted(ctx, data)
	case payment.EventPaymentIntentFailed:
		data, derr := payment.DecodePaymentFailed(event.Raw)
		if derr != nil {
			err = fmt.Errorf("%w: %v", ErrMalformedEvent, derr)
			break
		}
		outcome, err = e.HandlePaymentFailed(ctx, data)
	case payment.EventChargeRefunded:
		data, derr := payment.DecodeChargeRefunded(event.Raw)
		if derr != nil {
			err = fmt.Errorf("%w: %v", ErrMalformedEvent, derr)
			break
		}
		outcome, err = e.HandleChargeRefunded(ctx, data)
	default:
		util.WebhookEventsTotal.WithLabelValues(event.Type, "ignored").Inc()
		e.logger.Info("Ignoring unhandled event type",
			zap.String("event_id", event.ID), zap.String("type", event.Type))
		return &Outcome{}, nil
	}

	if err != nil && !errors.Is(err, ErrMalformedEvent) {
		util.RecordError(span, err)
		util.WebhookEventsTotal.WithLabelValues(event.Type, "error").Inc()
		return nil, err
	}

	// Malformed events are recorded too: a redelivery cannot fix them.
	if merr := e.repo.MarkEventProcessed(ctx, event.ID, event.Type); merr != nil {
		e.logger.Warn("Failed to mark event processed", zap.String("event_id", event.ID), zap.Error(merr))
	}

	if err != nil {
		util.WebhookEventsTotal.WithLabelValues(event.Type, "malformed").Inc()
		e.logger.Error("Malformed event", zap.String("event_id", event.ID), zap.Error(err))
		return nil, err
	}

	util.WebhookEventsTotal.WithLabelValues(event.Type, "processed").Inc()
	return outcome, nil
}

// OrderAggregate is an order with everything provisioning needs.
type OrderAggregate struct {
	Order     *models.Order
	Client    *models.Client
	Items     []models.OrderItem
	Templates map[string]models.ServiceTemplate
}

// ContractItem returns the first item, in purchase order, whose snapshot
// requires a signed contract. Only one contract is created per order.
func (a *OrderAggregate) ContractItem() (models.OrderItem, bool) {
	for _, item := range a.Items {
		if item.RequiresContract {
			return item, true
		}
	}
	return models.OrderItem{}, false
}

func (e *Engine) loadAggregate(ctx context.Context, orderID string) (*OrderAggregate, error) {
	order, err := e.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, notFound(ErrOrderNotFound)
	}
	return e.aggregateFor(ctx, order)
}

func (e *Engine) aggregateFor(ctx context.Context, order *models.Order) (*OrderAggregate, error) {
	client, err := e.repo.GetClientByID(ctx, order.ClientID)
	if err != nil {
		return nil, fmt.Errorf("get client: %w", err)
	}

	items, err := e.repo.GetOrderItems(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}

	ids := make([]string, 0, len(items))
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		if !seen[item.ServiceTemplateID] {
			seen[item.ServiceTemplateID] = true
			ids = append(ids, item.ServiceTemplateID)
		}
	}
	templates, err := e.repo.GetTemplatesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get templates: %w", err)
	}

	agg := &OrderAggregate{
		Order:     order,
		Client:    client,
		Items:     items,
		Templates: make(map[string]models.ServiceTemplate, len(templates)),
	}
	for _, t := range templates {
		agg.Templates[t.ID] = t
	}
	return agg, nil
}

func (e *Engine) timeline(orderID, status, title, description string) *models.TimelineEntry {
	return &models.TimelineEntry{
		ID:          uuid.New().String(),
		OrderID:     orderID,
		Status:      status,
		Title:       title,
		Description: description,
		CreatedAt:   e.now(),
	}
}

func (e *Engine) publish(ctx context.Context, eventType string, order *models.Order, amount int64, reason string) {
	if err := e.events.PublishOrderEvent(ctx, eventType, order, amount, reason); err != nil {
		e.logger.Error("Failed to publish order event",
			zap.String("event_type", eventType), zap.String("order_id", order.ID), zap.Error(err))
	}
}

// recomputeClient refreshes lifetime aggregates. Failures are logged only.
func (e *Engine) recomputeClient(ctx context.Context, clientID string) *models.ClientStats {
	stats, err := e.repo.RecomputeClientStats(ctx, clientID)
	if err != nil {
		e.logger.Error("Failed to recompute client stats", zap.String("client_id", clientID), zap.Error(err))
		return nil
	}
	return stats
}

func (e *Engine) incrementMetrics(ctx context.Context, d models.MetricsDelta) {
	if err := e.repo.IncrementSalesMetrics(ctx, d); err != nil {
		e.logger.Error("Failed to update sales metrics", zap.Time("day", d.Day), zap.Error(err))
	}
}

func (e *Engine) orderURL(orderID string) string {
	return fmt.Sprintf("%s/orders/%s", e.cfg.DashboardURL, orderID)
}

func (e *Engine) emailData(agg *OrderAggregate) notify.Data {
	data := notify.Data{
		OrderID:      agg.Order.ID,
		Total:        notify.FormatMoney(agg.Order.Total),
		Tax:          notify.FormatMoney(0),
		DashboardURL: e.orderURL(agg.Order.ID),
	}
	if agg.Client != nil {
		data.ClientName = agg.Client.Name
		data.ClientEmail = agg.Client.Email
	}
	for _, item := range agg.Items {
		data.Items = append(data.Items, notify.LineItem{
			Name:     item.ServiceName,
			Quantity: item.Quantity,
			Price:    notify.FormatMoney(item.Price),
		})
	}
	return data
}

func clientEmail(agg *OrderAggregate) string {
	if agg.Client == nil {
		return ""
	}
	return agg.Client.Email
}
