package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS payment_orders (
    payment_reference TEXT PRIMARY KEY,
    subject_id TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS transactions (
    id BIGSERIAL PRIMARY KEY,
    payment_reference TEXT NOT NULL REFERENCES payment_orders (payment_reference),
    correlation_id TEXT,
    reconciliation_key BIGINT,
    payment_order JSONB NOT NULL,
    status TEXT NOT NULL,
    simulation_result JSONB,
    settlement_response TEXT,
    severity TEXT,
    error_message TEXT,
    reconciled BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    modified_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (payment_reference, reconciliation_key)
);

CREATE UNIQUE INDEX IF NOT EXISTS transactions_correlation_id_key
    ON transactions (correlation_id) WHERE correlation_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS transactions_status_idx ON transactions (status, created_at);
CREATE INDEX IF NOT EXISTS transactions_unreconciled_idx
    ON transactions (reconciliation_key) WHERE reconciled = FALSE;

CREATE TABLE IF NOT EXISTS scheduler_locks (
    name TEXT PRIMARY KEY,
    locked_until TIMESTAMPTZ NOT NULL,
    locked_at TIMESTAMPTZ NOT NULL,
    locked_by TEXT NOT NULL
);
`

// EnsureSchema creates the tables the service needs. It is idempotent.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
