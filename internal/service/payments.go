package service

import (
	"context"
	"fmt"

	"agency-hub/internal/models"
	"agency-hub/internal/notify"
	"agency-hub/internal/payment"
	"agency-hub/internal/util"

	"go.uber.org/zap"
)

const defaultFailureReason = "Payment failed"

// HandlePaymentFailed marks the matching order's payment as failed. An intent
// with no order yet is ignored.
func (e *Engine) HandlePaymentFailed(ctx context.Context, data *payment.PaymentFailed) (*Outcome, error) {
	ctx, span := util.StartSpan(ctx, "Engine.HandlePaymentFailed")
	defer span.End()

	order, err := e.repo.GetOrderByPaymentIntent(ctx, data.PaymentIntentID)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("get order by payment intent: %w", err)
	}
	if order == nil {
		e.logger.Info("No order for failed payment intent", zap.String("payment_intent_id", data.PaymentIntentID))
		return &Outcome{}, nil
	}

	reason := data.Reason
	if reason == "" {
		reason = defaultFailureReason
	}
	entry := e.timeline(order.ID, order.Status, "Payment failed", reason)
	if err := e.repo.MarkPaymentFailed(ctx, order.ID, entry); err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("mark payment failed: %w", err)
	}
	order.PaymentStatus = models.PaymentStatusFailed

	util.OrdersPaymentFailedTotal.Inc()
	e.logger.Warn("Order payment failed", zap.String("order_id", order.ID), zap.String("reason", reason))
	e.publish(ctx, models.EventTypeOrderPaymentFailed, order, 0, reason)

	return &Outcome{OrderID: order.ID, Status: order.Status}, nil
}

// HandleChargeRefunded applies a full or partial refund. Only the amount not
// yet recorded on the order counts towards metrics, so redeliveries add nothing.
func (e *Engine) HandleChargeRefunded(ctx context.Context, data *payment.ChargeRefunded) (*Outcome, error) {
	ctx, span := util.StartSpan(ctx, "Engine.HandleChargeRefunded")
	defer span.End()

	order, err := e.repo.GetOrderByPaymentIntent(ctx, data.PaymentIntentID)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("get order by payment intent: %w", err)
	}
	if order == nil {
		e.logger.Info("No order for refunded charge", zap.String("payment_intent_id", data.PaymentIntentID))
		return &Outcome{}, nil
	}
	out := &Outcome{OrderID: order.ID, Status: order.Status}

	delta := data.AmountRefunded - order.RefundedAmount
	if delta <= 0 {
		util.DuplicateEventsTotal.WithLabelValues("refund").Inc()
		out.Duplicate = true
		return out, nil
	}

	full := data.IsFullRefund()
	status, title, kind := order.Status, "Partial refund issued", "partial"
	if full {
		status, title, kind = models.OrderStatusRefunded, "Order refunded", "full"
	}
	entry := e.timeline(order.ID, status, title,
		fmt.Sprintf("%s refunded (%s of %s in total)", notify.FormatMoney(delta),
			notify.FormatMoney(data.AmountRefunded), notify.FormatMoney(data.Amount)))

	applied, err := e.repo.ApplyRefund(ctx, order.ID, models.RefundUpdate{
		Full:           full,
		AmountRefunded: data.AmountRefunded,
	}, entry)
	if err != nil {
		util.RecordError(span, err)
		return nil, fmt.Errorf("apply refund: %w", err)
	}
	if !applied {
		util.DuplicateEventsTotal.WithLabelValues("refund").Inc()
		out.Duplicate = true
		return out, nil
	}

	order.RefundedAmount = data.AmountRefunded
	if full {
		order.Status = models.OrderStatusRefunded
		order.PaymentStatus = models.PaymentStatusRefunded
	}
	out.Status = order.Status

	util.OrdersRefundedTotal.WithLabelValues(kind).Inc()
	e.logger.Info("Refund applied", zap.String("order_id", order.ID),
		zap.Int64("amount", delta), zap.Bool("full", full))

	// Refunds count against the day the order was placed.
	e.incrementMetrics(ctx, models.MetricsDelta{Day: models.MetricsDay(order.CreatedAt), RefundAmount: delta})
	e.recomputeClient(ctx, order.ClientID)
	e.publish(ctx, models.EventTypeOrderRefunded, order, delta, kind)

	client, err := e.repo.GetClientByID(ctx, order.ClientID)
	if err != nil {
		e.logger.Error("Failed to load client for refund email", zap.String("order_id", order.ID), zap.Error(err))
	}
	agg := &OrderAggregate{Order: order, Client: client}
	refundData := e.emailData(agg)
	refundData.Amount = notify.FormatMoney(delta)
	e.sendEmail(ctx, out, notify.KindRefund, clientEmail(agg), refundData)

	return out, nil
}
