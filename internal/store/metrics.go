package store

import (
	"context"
	"fmt"
	"time"

	"agency-hub/internal/models"
)

// IncrementSalesMetrics adds a delta to one day's row. The upsert increments in
// place so concurrent writers never lose updates.
func (s *Store) IncrementSalesMetrics(ctx context.Context, d models.MetricsDelta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sales_metrics (date, revenue, order_count, new_customers, refund_amount, contracts_signed)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (date) DO UPDATE SET
			revenue = sales_metrics.revenue + EXCLUDED.revenue,
			order_count = sales_metrics.order_count + EXCLUDED.order_count,
			new_customers = sales_metrics.new_customers + EXCLUDED.new_customers,
			refund_amount = sales_metrics.refund_amount + EXCLUDED.refund_amount,
			contracts_signed = sales_metrics.contracts_signed + EXCLUDED.contracts_signed`,
		models.MetricsDay(d.Day), d.Revenue, d.OrderCount, d.NewCustomers, d.RefundAmount, d.ContractsSigned)
	if err != nil {
		return fmt.Errorf("increment sales metrics: %w", err)
	}
	return nil
}

// ListSalesMetrics returns daily rows in [from, to], oldest first
func (s *Store) ListSalesMetrics(ctx context.Context, from, to time.Time) ([]models.SalesMetrics, error) {
	var rows []models.SalesMetrics
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM sales_metrics WHERE date BETWEEN $1 AND $2 ORDER BY date",
		models.MetricsDay(from), models.MetricsDay(to))
	return rows, err
}
