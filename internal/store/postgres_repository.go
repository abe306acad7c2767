/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Payment orders are keyed by payment reference; each submission attempt is a row in
 * `transactions` holding the order as JSONB.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/spenn-service/internal/domain"
)

const transactionColumns = `id, payment_reference, reconciliation_key, payment_order, status,
	simulation_result, settlement_response, severity, error_message, reconciled, created_at, modified_at`

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Insert registers the payment reference and its first transaction atomically.
func (r *PostgresRepository) Insert(ctx context.Context, order domain.PaymentOrder) (domain.Transaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return domain.Transaction{}, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO payment_orders (payment_reference, subject_id) VALUES ($1, $2)`,
		order.PaymentReference, order.SubjectID,
	); err != nil {
		return domain.Transaction{}, mapWriteError(err)
	}

	created, err := insertTransaction(ctx, tx, order)
	if err != nil {
		return domain.Transaction{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.Transaction{}, mapWriteError(err)
	}
	return created, nil
}

// InsertExtension adds a transaction to an already registered payment reference.
func (r *PostgresRepository) InsertExtension(ctx context.Context, order domain.PaymentOrder) (domain.Transaction, error) {
	return insertTransaction(ctx, r.db, order)
}

func insertTransaction(ctx context.Context, q queryRower, order domain.PaymentOrder) (domain.Transaction, error) {
	payload, err := json.Marshal(order)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("encode payment order: %w", err)
	}

	query := `
		INSERT INTO transactions (payment_reference, correlation_id, payment_order, status)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + transactionColumns

	created, err := scanTransaction(q.QueryRow(ctx, query,
		order.PaymentReference,
		nullIfEmpty(order.CorrelationID),
		string(payload),
		domain.StatusStarted,
	))
	if err != nil {
		return domain.Transaction{}, mapWriteError(err)
	}
	return created, nil
}

// FindByReference returns every transaction of a payment reference, oldest first.
func (r *PostgresRepository) FindByReference(ctx context.Context, paymentReference string) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE payment_reference = $1
		ORDER BY created_at, id`
	return r.queryTransactions(ctx, query, paymentReference)
}

func (r *PostgresRepository) FindByReferenceAndKey(ctx context.Context, paymentReference string, key domain.ReconciliationKey) (domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE payment_reference = $1 AND reconciliation_key = $2`
	found, err := scanTransaction(r.db.QueryRow(ctx, query, paymentReference, int64(key)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Transaction{}, ErrTransactionNotFound
		}
		return domain.Transaction{}, err
	}
	return found, nil
}

// FindAllByStatus returns at most limit transactions in the given status, oldest first.
func (r *PostgresRepository) FindAllByStatus(ctx context.Context, status domain.TransactionStatus, limit int) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE status = $1
		ORDER BY created_at, id
		LIMIT $2`
	return r.queryTransactions(ctx, query, status, limit)
}

func (r *PostgresRepository) FindUnreconciledNotAfter(ctx context.Context, cutoff domain.ReconciliationKey) ([]domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE reconciled = FALSE
		  AND reconciliation_key IS NOT NULL
		  AND reconciliation_key <= $1
		ORDER BY reconciliation_key`
	return r.queryTransactions(ctx, query, int64(cutoff))
}

func (r *PostgresRepository) UpdateStatusAndKey(ctx context.Context, tx domain.Transaction, status domain.TransactionStatus, key domain.ReconciliationKey) (domain.Transaction, error) {
	query := `UPDATE transactions
		SET status = $2, reconciliation_key = $3, modified_at = NOW()
		WHERE id = $1
		RETURNING ` + transactionColumns
	return r.updateOne(ctx, query, tx.ID, status, int64(key))
}

func (r *PostgresRepository) UpdateSimulationResult(ctx context.Context, tx domain.Transaction, status domain.TransactionStatus, result domain.SimulationResult) (domain.Transaction, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("encode simulation result: %w", err)
	}
	query := `UPDATE transactions
		SET status = $2, simulation_result = $3, modified_at = NOW()
		WHERE id = $1
		RETURNING ` + transactionColumns
	return r.updateOne(ctx, query, tx.ID, status, string(payload))
}

func (r *PostgresRepository) UpdateSettlementResponse(ctx context.Context, paymentReference string, key domain.ReconciliationKey, update SettlementUpdate) error {
	query := `UPDATE transactions
		SET status = $3, settlement_response = $4, severity = $5, error_message = $6, modified_at = NOW()
		WHERE payment_reference = $1 AND reconciliation_key = $2`
	tag, err := r.db.Exec(ctx, query,
		paymentReference,
		int64(key),
		update.Status,
		update.Response,
		nullIfEmpty(update.Severity),
		nullIfEmpty(update.ErrorMessage),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

// Stop fails a transaction that never reached the settlement system.
func (r *PostgresRepository) Stop(ctx context.Context, tx domain.Transaction, errorMessage string) (domain.Transaction, error) {
	query := `UPDATE transactions
		SET status = $2, error_message = $3, modified_at = NOW()
		WHERE id = $1
		RETURNING ` + transactionColumns
	return r.updateOne(ctx, query, tx.ID, domain.StatusFailed, nullIfEmpty(errorMessage))
}

func (r *PostgresRepository) MarkReconciled(ctx context.Context, tx domain.Transaction) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE transactions SET reconciled = TRUE, modified_at = NOW() WHERE id = $1`,
		tx.ID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *PostgresRepository) updateOne(ctx context.Context, query string, args ...any) (domain.Transaction, error) {
	updated, err := scanTransaction(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Transaction{}, ErrTransactionNotFound
		}
		return domain.Transaction{}, err
	}
	return updated, nil
}

func (r *PostgresRepository) queryTransactions(ctx context.Context, query string, args ...any) ([]domain.Transaction, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var (
		t                  domain.Transaction
		key                *int64
		orderJSON          []byte
		simulationJSON     []byte
		settlementResponse *string
		severity           *string
		errorMessage       *string
		created, modified  time.Time
	)
	if err := row.Scan(
		&t.ID,
		&t.PaymentReference,
		&key,
		&orderJSON,
		&t.Status,
		&simulationJSON,
		&settlementResponse,
		&severity,
		&errorMessage,
		&t.Reconciled,
		&created,
		&modified,
	); err != nil {
		return domain.Transaction{}, err
	}

	if err := json.Unmarshal(orderJSON, &t.Order); err != nil {
		return domain.Transaction{}, fmt.Errorf("decode payment order for transaction %d: %w", t.ID, err)
	}
	if len(simulationJSON) > 0 {
		var result domain.SimulationResult
		if err := json.Unmarshal(simulationJSON, &result); err != nil {
			return domain.Transaction{}, fmt.Errorf("decode simulation result for transaction %d: %w", t.ID, err)
		}
		t.SimulationResult = &result
	}
	if key != nil {
		t.Key = domain.ReconciliationKey(*key)
	}
	t.SettlementResponse = deref(settlementResponse)
	t.Severity = deref(severity)
	t.ErrorMessage = deref(errorMessage)
	t.Created = created.UTC()
	t.Modified = modified.UTC()
	return t, nil
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", ErrDuplicateTransaction, pgErr.ConstraintName)
		case "23503":
			return ErrOrderNotFound
		}
	}
	return err
}

func nullIfEmpty(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
