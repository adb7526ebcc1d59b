package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"agency-hub/internal/models"

	"github.com/jmoiron/sqlx"
)

const maxInvoiceNumberAttempts = 5

// CreateOrder inserts an order with its item snapshots
func (s *Store) CreateOrder(ctx context.Context, order *models.Order, items []models.OrderItem) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, order, `
			INSERT INTO orders (id, client_id, status, payment_status, total)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING *`,
			order.ID, order.ClientID, order.Status, order.PaymentStatus, order.Total)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		if len(items) == 0 {
			return nil
		}
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO order_items (id, order_id, service_template_id, service_name, quantity, price,
			                         requires_contract, contract_template, position)
			VALUES (:id, :order_id, :service_template_id, :service_name, :quantity, :price,
			        :requires_contract, :contract_template, :position)`, items)
		if err != nil {
			return fmt.Errorf("insert order items: %w", err)
		}
		return nil
	})
}

// GetOrderByID retrieves an order by ID, returning nil when absent
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByPaymentIntent retrieves the order paid by a Stripe payment intent
func (s *Store) GetOrderByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE stripe_payment_intent_id = $1", paymentIntentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItems retrieves all items for an order in purchase order
func (s *Store) GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY position, id", orderID)
	return items, err
}

// GetContractByOrderID retrieves the contract for an order, returning nil when absent
func (s *Store) GetContractByOrderID(ctx context.Context, orderID string) (*models.ServiceContract, error) {
	var contract models.ServiceContract
	err := s.db.GetContext(ctx, &contract,
		"SELECT * FROM service_contracts WHERE order_id = $1", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &contract, nil
}

// GetInvoiceByOrderID retrieves the invoice for an order, returning nil when absent
func (s *Store) GetInvoiceByOrderID(ctx context.Context, orderID string) (*models.Invoice, error) {
	var invoice models.Invoice
	err := s.db.GetContext(ctx, &invoice, "SELECT * FROM invoices WHERE order_id = $1", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}

// GetTimeline retrieves an order's audit log, oldest first
func (s *Store) GetTimeline(ctx context.Context, orderID string) ([]models.TimelineEntry, error) {
	var entries []models.TimelineEntry
	err := s.db.SelectContext(ctx, &entries,
		"SELECT * FROM order_timeline WHERE order_id = $1 ORDER BY created_at, id", orderID)
	return entries, err
}

// GetServicesByOrderID retrieves the services provisioned for an order
func (s *Store) GetServicesByOrderID(ctx context.Context, orderID string) ([]models.Service, error) {
	var services []models.Service
	err := s.db.SelectContext(ctx, &services,
		"SELECT * FROM services WHERE order_id = $1 ORDER BY created_at, id", orderID)
	return services, err
}

func appendTimeline(ctx context.Context, tx *sqlx.Tx, entry *models.TimelineEntry) error {
	_, err := tx.NamedExecContext(ctx, `
		INSERT INTO order_timeline (id, order_id, status, title, description, created_at)
		VALUES (:id, :order_id, :status, :title, :description, :created_at)`, entry)
	if err != nil {
		return fmt.Errorf("append timeline: %w", err)
	}
	return nil
}

// MarkOrderPaid claims an unpaid order for processing. It returns false when the
// payment was already recorded, in which case nothing is written.
func (s *Store) MarkOrderPaid(ctx context.Context, orderID string, p models.PaymentDetails, entry *models.TimelineEntry) (bool, error) {
	claimed := false
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $2, payment_status = $3, stripe_payment_intent_id = NULLIF($4, ''),
			    payment_method = NULLIF($5, ''), paid_at = $6, updated_at = NOW()
			WHERE id = $1 AND payment_status IN ($7, $8)`,
			orderID, models.OrderStatusProcessing, models.PaymentStatusSucceeded,
			p.PaymentIntentID, p.PaymentMethod, p.PaidAt,
			models.PaymentStatusPending, models.PaymentStatusFailed)
		if err != nil {
			return fmt.Errorf("mark order paid: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		claimed = true
		return appendTimeline(ctx, tx, entry)
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

// AwaitContract attaches the contract to a processing order and parks it in
// AWAITING_CONTRACT. It returns false if the order already left PROCESSING.
func (s *Store) AwaitContract(ctx context.Context, contract *models.ServiceContract, entry *models.TimelineEntry) (bool, error) {
	moved := false
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE orders SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3",
			contract.OrderID, models.OrderStatusAwaitingContract, models.OrderStatusProcessing)
		if err != nil {
			return fmt.Errorf("await contract: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO service_contracts (id, order_id, template_content, created_at)
			VALUES (:id, :order_id, :template_content, :created_at)
			ON CONFLICT (order_id) DO NOTHING`, contract)
		if err != nil {
			return fmt.Errorf("insert contract: %w", err)
		}
		moved = true
		return appendTimeline(ctx, tx, entry)
	})
	if err != nil {
		return false, err
	}
	return moved, nil
}

// ApplyProvisioning writes a provisioning plan in one transaction. The order is
// claimed through provisioned_at, so only the first caller gets true.
func (s *Store) ApplyProvisioning(ctx context.Context, plan *models.ProvisioningPlan) (bool, error) {
	claimed := false
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET status = $2, completed_at = $3, provisioned_at = $3, updated_at = NOW()
			WHERE id = $1 AND provisioned_at IS NULL AND status IN ($4, $5)`,
			plan.OrderID, models.OrderStatusCompleted, plan.CompletedAt,
			models.OrderStatusProcessing, models.OrderStatusAwaitingContract)
		if err != nil {
			return fmt.Errorf("claim provisioning: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		if len(plan.Services) > 0 {
			if _, err := tx.NamedExecContext(ctx, `
				INSERT INTO services (id, client_id, order_id, service_template_id, name, status, created_at)
				VALUES (:id, :client_id, :order_id, :service_template_id, :name, :status, :created_at)`,
				plan.Services); err != nil {
				return fmt.Errorf("insert services: %w", err)
			}
		}

		if len(plan.Tasks) > 0 {
			if _, err := tx.NamedExecContext(ctx, `
				INSERT INTO tasks (id, service_id, title, description, status, priority, position, created_at)
				VALUES (:id, :service_id, :title, :description, :status, :priority, :position, :created_at)`,
				plan.Tasks); err != nil {
				return fmt.Errorf("insert tasks: %w", err)
			}
		}

		for _, a := range plan.Assignments {
			if _, err := tx.ExecContext(ctx,
				"UPDATE order_items SET service_id = $2 WHERE id = $1", a.OrderItemID, a.ServiceID); err != nil {
				return fmt.Errorf("backfill order item: %w", err)
			}
		}

		if err := appendTimeline(ctx, tx, &plan.Timeline); err != nil {
			return err
		}
		if err := insertInvoice(ctx, tx, plan); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

// insertInvoice retries with the following millisecond when the generated
// number is already taken.
func insertInvoice(ctx context.Context, tx *sqlx.Tx, plan *models.ProvisioningPlan) error {
	invoice := &plan.Invoice
	for attempt := 0; attempt < maxInvoiceNumberAttempts; attempt++ {
		if attempt > 0 {
			invoice.InvoiceNumber = models.InvoiceNumber(plan.InvoicePrefix,
				plan.CompletedAt.Add(time.Duration(attempt)*time.Millisecond))
		}
		res, err := tx.NamedExecContext(ctx, `
			INSERT INTO invoices (id, order_id, client_id, invoice_number, status, subtotal, tax, total, issued_at)
			VALUES (:id, :order_id, :client_id, :invoice_number, :status, :subtotal, :tax, :total, :issued_at)
			ON CONFLICT (invoice_number) DO NOTHING`, invoice)
		if err != nil {
			return fmt.Errorf("insert invoice: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return nil
		}
	}
	return fmt.Errorf("insert invoice: no free invoice number after %d attempts", maxInvoiceNumberAttempts)
}

// MarkPaymentFailed records a failed payment attempt on the order
func (s *Store) MarkPaymentFailed(ctx context.Context, orderID string, entry *models.TimelineEntry) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"UPDATE orders SET payment_status = $2, updated_at = NOW() WHERE id = $1",
			orderID, models.PaymentStatusFailed); err != nil {
			return fmt.Errorf("mark payment failed: %w", err)
		}
		return appendTimeline(ctx, tx, entry)
	})
}

// ApplyRefund records a cumulative refunded amount. It returns false when the
// amount was already recorded, so replays do not append or count twice.
func (s *Store) ApplyRefund(ctx context.Context, orderID string, r models.RefundUpdate, entry *models.TimelineEntry) (bool, error) {
	applied := false
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE orders
			SET refunded_amount = $2,
			    status = CASE WHEN $3 THEN $4 ELSE status END,
			    payment_status = CASE WHEN $3 THEN $4 ELSE payment_status END,
			    updated_at = NOW()
			WHERE id = $1 AND refunded_amount < $2`,
			orderID, r.AmountRefunded, r.Full, models.OrderStatusRefunded)
		if err != nil {
			return fmt.Errorf("apply refund: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		applied = true
		return appendTimeline(ctx, tx, entry)
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// SignContract stores the signature if the contract is still unsigned. It
// returns false when another request signed it first.
func (s *Store) SignContract(ctx context.Context, orderID string, sig models.ContractSignature, entry *models.TimelineEntry) (bool, error) {
	signed := false
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE service_contracts
			SET signed_at = $2, signature_data = $3, signed_by_name = $4, signed_by_email = $5,
			    ip_address = $6, user_agent = $7
			WHERE order_id = $1 AND signed_at IS NULL`,
			orderID, sig.SignedAt, sig.SignatureData, sig.SignedByName, sig.SignedByEmail,
			sig.IPAddress, sig.UserAgent)
		if err != nil {
			return fmt.Errorf("sign contract: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}
		signed = true
		return appendTimeline(ctx, tx, entry)
	})
	if err != nil {
		return false, err
	}
	return signed, nil
}
