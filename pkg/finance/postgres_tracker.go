package finance

import (
	"database/sql"
	"errors"
	"fmt"
)

// PostgresTracker implements finance.Tracker backed by PostgreSQL.
// Uses SELECT FOR UPDATE to provide row-level locking for atomic budget checks.
type PostgresTracker struct {
	db *sql.DB
}

// NewPostgresTracker creates a new PostgreSQL-backed budget tracker.
func NewPostgresTracker(db *sql.DB) *PostgresTracker {
	return &PostgresTracker{db: db}
}

const financeBudgetsSchema = `
CREATE TABLE IF NOT EXISTS finance_budgets (
	id TEXT PRIMARY KEY,
	resource_type TEXT NOT NULL,
	budget_limit BIGINT NOT NULL,
	window TEXT NOT NULL,
	consumed BIGINT NOT NULL DEFAULT 0
);
`

// Init creates the finance_budgets table if it does not already exist.
func (t *PostgresTracker) Init() error {
	_, err := t.db.Exec(financeBudgetsSchema)
	return err
}

// EnsureBudget creates budgetID if absent, or updates its resource type,
// limit and window in place if present, leaving Consumed untouched.
func (t *PostgresTracker) EnsureBudget(budgetID, resourceType string, limit int64, window WindowType) error {
	_, err := t.db.Exec(
		`INSERT INTO finance_budgets (id, resource_type, budget_limit, window, consumed)
		 VALUES ($1, $2, $3, $4, 0)
		 ON CONFLICT (id) DO UPDATE SET resource_type = $2, budget_limit = $3, window = $4`,
		budgetID, resourceType, limit, string(window),
	)
	if err != nil {
		return fmt.Errorf("ensure budget failed: %w", err)
	}
	return nil
}

// Check verifies that the given cost fits within the budget. It reads the
// row with a plain query, without a transaction or row lock.
func (t *PostgresTracker) Check(budgetID string, cost Cost) (bool, error) {
	var resourceType string
	var limit, consumed int64

	err := t.db.QueryRow(
		`SELECT resource_type, budget_limit, consumed FROM finance_budgets WHERE id = $1`,
		budgetID,
	).Scan(&resourceType, &limit, &consumed)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, errors.New("budget not found")
		}
		return false, fmt.Errorf("budget check failed: %w", err)
	}

	amount, err := extractAmount(resourceType, cost)
	if err != nil {
		return false, err
	}

	return consumed+amount <= limit, nil
}

// Consume atomically deducts the cost from the budget using SELECT FOR UPDATE.
// This is the core of financial determinism: the row lock prevents double-charge.
func (t *PostgresTracker) Consume(budgetID string, cost Cost) error {
	tx, err := t.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// SELECT FOR UPDATE: locks the row until COMMIT, preventing concurrent consumption
	var resourceType string
	var limit, consumed int64
	err = tx.QueryRow(
		`SELECT resource_type, budget_limit, consumed FROM finance_budgets WHERE id = $1 FOR UPDATE`,
		budgetID,
	).Scan(&resourceType, &limit, &consumed)
	if err != nil {
		if err == sql.ErrNoRows {
			return errors.New("budget not found")
		}
		return fmt.Errorf("budget lock failed: %w", err)
	}

	amount, err := extractAmount(resourceType, cost)
	if err != nil {
		return err
	}

	if consumed+amount > limit {
		return errors.New("budget exceeded")
	}

	_, err = tx.Exec(
		`UPDATE finance_budgets SET consumed = consumed + $1 WHERE id = $2`,
		amount, budgetID,
	)
	if err != nil {
		return fmt.Errorf("budget update failed: %w", err)
	}

	return tx.Commit()
}

// extractAmount determines the cost amount based on the budget's resource type.
func extractAmount(resourceType string, cost Cost) (int64, error) {
	switch resourceType {
	case "USD", "EUR":
		if cost.Money.Currency != resourceType {
			return 0, errors.New("currency mismatch")
		}
		return cost.Money.AmountMinor, nil
	case "TOKENS":
		return cost.Tokens, nil
	case "REQUESTS":
		return cost.Requests, nil
	case "CREDITS":
		return cost.Credits, nil
	default:
		return 0, errors.New("unsupported resource type")
	}
}
