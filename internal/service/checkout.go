package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agency-hub/internal/models"
	"agency-hub/internal/notify"
	"agency-hub/internal/payment"
	"agency-hub/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// HandleCheckoutCompleted records the payment, then either parks the order for
// a contract signature or provisions it inline.
func (e *Engine) HandleCheckoutCompleted(ctx context.Context, data *payment.CheckoutCompleted) (*Outcome, error) {
	ctx, span := util.StartSpan(ctx, "Engine.HandleCheckoutCompleted", data.OrderID)
	defer span.End()

	if data.OrderID == "" {
		e.logger.Error("Checkout session has no client_reference_id",
			zap.String("payment_intent_id", data.PaymentIntentID))
		return nil, ErrMalformedEvent
	}

	agg, err := e.loadAggregate(ctx, data.OrderID)
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}
	order := agg.Order
	out := &Outcome{OrderID: order.ID}

	now := e.now()
	method := data.PaymentMethod
	if method == "" {
		method = "card"
	}
	paid := models.PaymentDetails{
		PaymentIntentID: data.PaymentIntentID,
		PaymentMethod:   method,
		PaidAt:          now,
	}
	entry := e.timeline(order.ID, models.OrderStatusProcessing, "Payment received",
		fmt.Sprintf("Payment of %s received via %s", notify.FormatMoney(order.Total), method))

	claimed, err := e.repo.MarkOrderPaid(ctx, order.ID, paid, entry)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("mark order paid: %w", err)
	}

	if claimed {
		order.Status = models.OrderStatusProcessing
		order.PaymentStatus = models.PaymentStatusSucceeded
		order.StripePaymentIntentID = &paid.PaymentIntentID
		order.PaymentMethod = &paid.PaymentMethod
		order.PaidAt = &now

		util.OrdersPaidTotal.Inc()
		e.logger.Info("Order paid", zap.String("order_id", order.ID), zap.Int64("total", order.Total))
		e.publish(ctx, models.EventTypeOrderPaid, order, order.Total, "")
		e.recordSale(ctx, agg, now)
	} else if order.Status != models.OrderStatusProcessing {
		util.DuplicateEventsTotal.WithLabelValues("payment").Inc()
		e.logger.Info("Payment already recorded", zap.String("order_id", order.ID),
			zap.String("status", order.Status))
		out.Duplicate = true
		out.Status = order.Status
		return out, nil
	} else {
		// A previous delivery recorded the payment but stopped before the
		// contract decision.
		e.logger.Warn("Resuming checkout for order left in PROCESSING", zap.String("order_id", order.ID))
	}

	item, needsContract := agg.ContractItem()
	if needsContract {
		err = e.awaitContract(ctx, agg, item, out)
	} else {
		err = e.provision(ctx, agg, out)
	}
	if errors.Is(err, ErrAlreadyProvisioned) || errors.Is(err, errOrderAdvanced) {
		out.Duplicate = true
		out.Status = order.Status
		return out, nil
	}
	if err != nil {
		util.RecordError(span, err)
		return nil, err
	}

	emailData := e.emailData(agg)
	emailData.ContractRequired = needsContract
	e.sendEmail(ctx, out, notify.KindOrderConfirmation, clientEmail(agg), emailData)
	e.sendEmail(ctx, out, notify.KindAdminNewOrder, e.cfg.AdminEmail, emailData)
	if needsContract {
		e.sendEmail(ctx, out, notify.KindContractReady, clientEmail(agg), emailData)
	}

	return out, nil
}

// recordSale refreshes client aggregates and adds the order to today's sales
// row. Neither failure blocks the checkout.
func (e *Engine) recordSale(ctx context.Context, agg *OrderAggregate, now time.Time) {
	newCustomers := 0
	if stats := e.recomputeClient(ctx, agg.Order.ClientID); stats != nil && stats.TotalOrders == 1 {
		newCustomers = 1
	}
	e.incrementMetrics(ctx, models.MetricsDelta{
		Day:          models.MetricsDay(now),
		Revenue:      agg.Order.Total,
		OrderCount:   1,
		NewCustomers: newCustomers,
	})
}

func (e *Engine) awaitContract(ctx context.Context, agg *OrderAggregate, item models.OrderItem, out *Outcome) error {
	order := agg.Order
	contract := &models.ServiceContract{
		ID:              uuid.New().String(),
		OrderID:         order.ID,
		TemplateContent: item.ContractTemplate,
		CreatedAt:       e.now(),
	}
	entry := e.timeline(order.ID, models.OrderStatusAwaitingContract, "Awaiting contract signature",
		fmt.Sprintf("%s requires a signed contract before work begins", item.ServiceName))

	moved, err := e.repo.AwaitContract(ctx, contract, entry)
	if err != nil {
		return fmt.Errorf("await contract: %w", err)
	}
	if !moved {
		util.DuplicateEventsTotal.WithLabelValues("contract").Inc()
		return errOrderAdvanced
	}

	order.Status = models.OrderStatusAwaitingContract
	out.Status = order.Status
	util.OrdersAwaitingContractTotal.Inc()
	e.logger.Info("Order awaiting contract", zap.String("order_id", order.ID))
	e.publish(ctx, models.EventTypeOrderAwaitingContract, order, 0, "")
	return nil
}
