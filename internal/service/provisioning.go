package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"agency-hub/internal/models"
	"agency-hub/internal/notify"
	"agency-hub/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PlanProvisioning computes every write that fulfils an order: one service per
// item, tasks copied from the template's default tasks, the completion
// timeline entry and a paid invoice. It does not touch storage.
func PlanProvisioning(agg *OrderAggregate, now time.Time, invoicePrefix string) *models.ProvisioningPlan {
	order := agg.Order
	plan := &models.ProvisioningPlan{
		OrderID:       order.ID,
		ClientID:      order.ClientID,
		InvoicePrefix: invoicePrefix,
		CompletedAt:   now,
	}

	for _, item := range agg.Items {
		svc := models.Service{
			ID:                uuid.New().String(),
			ClientID:          order.ClientID,
			OrderID:           order.ID,
			ServiceTemplateID: item.ServiceTemplateID,
			Name:              item.ServiceName,
			Status:            models.ServiceStatusToDo,
			CreatedAt:         now,
		}
		plan.Services = append(plan.Services, svc)
		plan.Assignments = append(plan.Assignments, models.ItemAssignment{
			OrderItemID: item.ID,
			ServiceID:   svc.ID,
		})

		tmpl, ok := agg.Templates[item.ServiceTemplateID]
		if !ok {
			continue
		}
		for pos, dt := range tmpl.DefaultTasks {
			priority := dt.Priority
			if priority == "" {
				priority = models.TaskPriorityMedium
			}
			plan.Tasks = append(plan.Tasks, models.Task{
				ID:          uuid.New().String(),
				ServiceID:   svc.ID,
				Title:       dt.Title,
				Description: dt.Description,
				Status:      models.TaskStatusToDo,
				Priority:    priority,
				Position:    pos,
				CreatedAt:   now,
			})
		}
	}

	plan.Timeline = models.TimelineEntry{
		ID:          uuid.New().String(),
		OrderID:     order.ID,
		Status:      models.OrderStatusCompleted,
		Title:       "Services activated",
		Description: fmt.Sprintf("Provisioned: %s", strings.Join(plan.ServiceNames(), ", ")),
		CreatedAt:   now,
	}

	plan.Invoice = models.Invoice{
		ID:            uuid.New().String(),
		OrderID:       order.ID,
		ClientID:      order.ClientID,
		InvoiceNumber: models.InvoiceNumber(invoicePrefix, now),
		Status:        models.InvoiceStatusPaid,
		Subtotal:      order.Total,
		Tax:           0,
		Total:         order.Total,
		IssuedAt:      now,
	}
	return plan
}

// provision applies the plan for an order and sends the completion emails.
// Both the checkout and the contract-sign paths end here.
func (e *Engine) provision(ctx context.Context, agg *OrderAggregate, out *Outcome) error {
	ctx, span := util.StartSpan(ctx, "Engine.provision", agg.Order.ID)
	defer span.End()

	start := time.Now()
	plan := PlanProvisioning(agg, e.now(), e.cfg.InvoicePrefix)

	applied, err := e.repo.ApplyProvisioning(ctx, plan)
	if err != nil {
		util.RecordError(span, err)
		return fmt.Errorf("apply provisioning: %w", err)
	}
	if !applied {
		util.DuplicateEventsTotal.WithLabelValues("provisioning").Inc()
		e.logger.Info("Order already provisioned", zap.String("order_id", agg.Order.ID))
		return conflict(ErrAlreadyProvisioned)
	}
	util.ProvisioningLatency.Observe(time.Since(start).Seconds())
	util.OrdersCompletedTotal.Inc()

	order := agg.Order
	order.Status = models.OrderStatusCompleted
	order.CompletedAt = &plan.CompletedAt
	order.ProvisionedAt = &plan.CompletedAt
	out.Status = order.Status

	e.logger.Info("Order provisioned",
		zap.String("order_id", order.ID),
		zap.Int("services", len(plan.Services)),
		zap.Int("tasks", len(plan.Tasks)),
		zap.String("invoice_number", plan.Invoice.InvoiceNumber))
	e.publish(ctx, models.EventTypeOrderCompleted, order, order.Total, "")

	data := e.emailData(agg)
	data.InvoiceNumber = plan.Invoice.InvoiceNumber
	data.Services = strings.Join(plan.ServiceNames(), ", ")
	e.sendEmail(ctx, out, notify.KindInvoice, clientEmail(agg), data)
	e.sendEmail(ctx, out, notify.KindServiceProvisioned, clientEmail(agg), data)
	return nil
}
