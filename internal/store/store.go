package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sort"
	"time"

	"agency-hub/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate applies the embedded schema files in name order. Every statement is
// idempotent so it is safe to run on each start.
func (s *Store) Migrate(ctx context.Context) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		schema, err := migrations.ReadFile("migrations/" + name)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, string(schema)); err != nil {
			return fmt.Errorf("failed to run migration %s: %w", name, err)
		}
	}
	return nil
}

// inTx runs fn inside a transaction, committing only when fn returns nil.
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// GetUserByID retrieves a user, returning nil when absent
func (s *Store) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, "SELECT * FROM users WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetClientByID retrieves a client, returning nil when absent
func (s *Store) GetClientByID(ctx context.Context, id string) (*models.Client, error) {
	var client models.Client
	err := s.db.GetContext(ctx, &client, "SELECT * FROM clients WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &client, nil
}

// GetClientByUserID retrieves the client owned by a user, returning nil when absent
func (s *Store) GetClientByUserID(ctx context.Context, userID string) (*models.Client, error) {
	var client models.Client
	err := s.db.GetContext(ctx, &client, "SELECT * FROM clients WHERE user_id = $1", userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &client, nil
}

// RecomputeClientStats re-aggregates a client's successful orders into its
// lifetime fields. It never increments, so replays converge.
func (s *Store) RecomputeClientStats(ctx context.Context, clientID string) (*models.ClientStats, error) {
	query := `
		UPDATE clients c
		SET lifetime_value = agg.lifetime_value,
		    total_orders = agg.total_orders,
		    first_order_date = agg.first_order_date,
		    last_order_date = agg.last_order_date
		FROM (
			SELECT COALESCE(SUM(total), 0) AS lifetime_value,
			       COUNT(*) AS total_orders,
			       MIN(created_at) AS first_order_date,
			       MAX(created_at) AS last_order_date
			FROM orders
			WHERE client_id = $1 AND payment_status = $2
		) agg
		WHERE c.id = $1
		RETURNING c.lifetime_value, c.total_orders, c.first_order_date, c.last_order_date`

	var stats models.ClientStats
	if err := s.db.GetContext(ctx, &stats, query, clientID, models.PaymentStatusSucceeded); err != nil {
		return nil, fmt.Errorf("recompute client stats: %w", err)
	}
	return &stats, nil
}

// GetTemplatesByIDs retrieves multiple service templates by IDs
func (s *Store) GetTemplatesByIDs(ctx context.Context, ids []string) ([]models.ServiceTemplate, error) {
	if len(ids) == 0 {
		return []models.ServiceTemplate{}, nil
	}

	query, args, err := sqlx.In("SELECT * FROM service_templates WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var templates []models.ServiceTemplate
	err = s.db.SelectContext(ctx, &templates, query, args...)
	return templates, err
}

// UpsertTemplate creates or replaces a catalog entry
func (s *Store) UpsertTemplate(ctx context.Context, t *models.ServiceTemplate) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO service_templates (id, name, type, price, requires_contract, contract_template, default_tasks)
		VALUES (:id, :name, :type, :price, :requires_contract, :contract_template, :default_tasks)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			price = EXCLUDED.price,
			requires_contract = EXCLUDED.requires_contract,
			contract_template = EXCLUDED.contract_template,
			default_tasks = EXCLUDED.default_tasks`, t)
	return err
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}
