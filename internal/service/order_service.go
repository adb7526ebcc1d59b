package service

import (
	"context"
	"fmt"
	"time"

	"agency-hub/internal/models"
	"agency-hub/internal/payment"
	"agency-hub/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CheckoutCreator opens a hosted payment page for an order.
type CheckoutCreator interface {
	CreateSession(ctx context.Context, req payment.CheckoutRequest) (*payment.CheckoutSession, error)
}

// OrderService handles client and admin order operations outside the webhook
// lifecycle.
type OrderService struct {
	repo         Repository
	checkout     CheckoutCreator
	dashboardURL string
	logger       *zap.Logger
}

// NewOrderService creates a new order service
func NewOrderService(repo Repository, checkout CheckoutCreator, dashboardURL string) *OrderService {
	return &OrderService{
		repo:         repo,
		checkout:     checkout,
		dashboardURL: dashboardURL,
		logger:       util.Named("orders"),
	}
}

// CreateOrderRequest represents a request to create an order
type CreateOrderRequest struct {
	Items []OrderItemRequest `json:"items" binding:"required,min=1,dive"`
}

// OrderItemRequest represents an item in an order
type OrderItemRequest struct {
	ServiceTemplateID string `json:"service_template_id" binding:"required"`
	Quantity          int    `json:"quantity" binding:"required,min=1"`
}

// OrderDetail is an order with its items, audit log and fulfilment records.
type OrderDetail struct {
	Order    *models.Order           `json:"order"`
	Items    []models.OrderItem      `json:"items"`
	Contract *models.ServiceContract `json:"contract,omitempty"`
	Invoice  *models.Invoice         `json:"invoice,omitempty"`
	Services []models.Service        `json:"services"`
	Timeline []models.TimelineEntry  `json:"timeline"`
}

// CreateOrder snapshots the requested templates into a PENDING order owned by
// the caller's client record.
func (s *OrderService) CreateOrder(ctx context.Context, userID string, req *CreateOrderRequest) (*OrderDetail, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	client, err := s.clientFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	templates, err := s.validateOrderItems(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		ID:            uuid.New().String(),
		ClientID:      client.ID,
		Status:        models.OrderStatusPending,
		PaymentStatus: models.PaymentStatusPending,
		Total:         calculateTotal(req.Items, templates),
	}

	items := make([]models.OrderItem, 0, len(req.Items))
	for pos, item := range req.Items {
		tmpl := templates[item.ServiceTemplateID]
		items = append(items, models.OrderItem{
			ID:                uuid.New().String(),
			OrderID:           order.ID,
			ServiceTemplateID: tmpl.ID,
			ServiceName:       tmpl.Name,
			Quantity:          item.Quantity,
			Price:             tmpl.Price,
			RequiresContract:  tmpl.RequiresContract,
			ContractTemplate:  tmpl.ContractTemplate,
			Position:          pos,
		})
	}

	if err := s.repo.CreateOrder(ctx, order, items); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	s.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("client_id", client.ID),
		zap.Int64("total", order.Total))

	return &OrderDetail{Order: order, Items: items}, nil
}

// validateOrderItems loads every referenced template, failing on unknown ids
func (s *OrderService) validateOrderItems(ctx context.Context, items []OrderItemRequest) (map[string]models.ServiceTemplate, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if item.Quantity < 1 {
			return nil, badRequest(ErrInvalidInput, "quantity must be at least 1")
		}
		ids = append(ids, item.ServiceTemplateID)
	}

	found, err := s.repo.GetTemplatesByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get templates: %w", err)
	}

	templates := make(map[string]models.ServiceTemplate, len(found))
	for _, t := range found {
		templates[t.ID] = t
	}
	for _, id := range ids {
		if _, ok := templates[id]; !ok {
			return nil, badRequest(ErrInvalidInput, fmt.Sprintf("service template %s not found", id))
		}
	}
	return templates, nil
}

func calculateTotal(items []OrderItemRequest, templates map[string]models.ServiceTemplate) int64 {
	var total int64
	for _, item := range items {
		total += templates[item.ServiceTemplateID].Price * int64(item.Quantity)
	}
	return total
}

// StartCheckout opens a Stripe Checkout Session for an unpaid order.
func (s *OrderService) StartCheckout(ctx context.Context, userID, orderID string) (*payment.CheckoutSession, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.StartCheckout", orderID)
	defer span.End()

	client, order, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus != models.PaymentStatusPending && order.PaymentStatus != models.PaymentStatusFailed {
		return nil, conflict(ErrOrderNotPayable)
	}

	items, err := s.repo.GetOrderItems(ctx, order.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}

	orderURL := fmt.Sprintf("%s/orders/%s", s.dashboardURL, order.ID)
	session, err := s.checkout.CreateSession(ctx, payment.CheckoutRequest{
		Order:         order,
		Items:         items,
		CustomerEmail: client.Email,
		SuccessURL:    orderURL + "?checkout=success",
		CancelURL:     orderURL + "?checkout=cancelled",
	})
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	s.logger.Info("Checkout session created", zap.String("order_id", order.ID), zap.String("session_id", session.ID))
	return session, nil
}

// GetOrder returns one of the caller's own orders.
func (s *OrderService) GetOrder(ctx context.Context, userID, orderID string) (*OrderDetail, error) {
	_, order, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, order)
}

// GetOrderForStaff returns any order.
func (s *OrderService) GetOrderForStaff(ctx context.Context, orderID string) (*OrderDetail, error) {
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	if order == nil {
		return nil, notFound(ErrOrderNotFound)
	}
	return s.detail(ctx, order)
}

func (s *OrderService) detail(ctx context.Context, order *models.Order) (*OrderDetail, error) {
	d := &OrderDetail{Order: order}
	var err error

	if d.Items, err = s.repo.GetOrderItems(ctx, order.ID); err != nil {
		return nil, fmt.Errorf("failed to get order items: %w", err)
	}
	if d.Contract, err = s.repo.GetContractByOrderID(ctx, order.ID); err != nil {
		return nil, fmt.Errorf("failed to get contract: %w", err)
	}
	if d.Invoice, err = s.repo.GetInvoiceByOrderID(ctx, order.ID); err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	if d.Services, err = s.repo.GetServicesByOrderID(ctx, order.ID); err != nil {
		return nil, fmt.Errorf("failed to get services: %w", err)
	}
	if d.Timeline, err = s.repo.GetTimeline(ctx, order.ID); err != nil {
		return nil, fmt.Errorf("failed to get timeline: %w", err)
	}
	return d, nil
}

func (s *OrderService) clientFor(ctx context.Context, userID string) (*models.Client, error) {
	if userID == "" {
		return nil, unauthorized()
	}
	client, err := s.repo.GetClientByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get client: %w", err)
	}
	if client == nil {
		return nil, notFound(ErrClientNotFound)
	}
	return client, nil
}

func (s *OrderService) ownedOrder(ctx context.Context, userID, orderID string) (*models.Client, *models.Order, error) {
	client, err := s.clientFor(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	order, err := s.repo.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get order: %w", err)
	}
	if order == nil || order.ClientID != client.ID {
		return nil, nil, notFound(ErrOrderNotFound)
	}
	return client, order, nil
}

// SalesDay is one SalesMetrics row with the derived average.
type SalesDay struct {
	Date            string `json:"date"`
	Revenue         int64  `json:"revenue"`
	OrderCount      int    `json:"order_count"`
	AvgOrderValue   int64  `json:"avg_order_value"`
	NewCustomers    int    `json:"new_customers"`
	RefundAmount    int64  `json:"refund_amount"`
	ContractsSigned int    `json:"contracts_signed"`
}

// SalesReport lists daily sales rollups in [from, to].
func (s *OrderService) SalesReport(ctx context.Context, from, to time.Time) ([]SalesDay, error) {
	if to.Before(from) {
		return nil, badRequest(ErrInvalidInput, "to must not be before from")
	}
	rows, err := s.repo.ListSalesMetrics(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list sales metrics: %w", err)
	}

	days := make([]SalesDay, 0, len(rows))
	for _, m := range rows {
		days = append(days, SalesDay{
			Date:            m.Date.Format("2006-01-02"),
			Revenue:         m.Revenue,
			OrderCount:      m.OrderCount,
			AvgOrderValue:   m.AvgOrderValue(),
			NewCustomers:    m.NewCustomers,
			RefundAmount:    m.RefundAmount,
			ContractsSigned: m.ContractsSigned,
		})
	}
	return days, nil
}
