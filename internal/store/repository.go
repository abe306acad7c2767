/**
 * @description
 * This file defines the `Repository` interface, the persistence contract for payment
 * orders and their transactions. Every mutating call returns the stored row so that
 * callers can replace their snapshot wholesale.
 *
 * @dependencies
 * - context: Standard Go library.
 * - internal/domain: The service's domain models.
 */

package store

import (
	"context"
	"errors"

	"github.com/transfa/spenn-service/internal/domain"
)

var (
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrOrderNotFound        = errors.New("payment order not found")
)

// SettlementUpdate is the settlement system's answer for one submitted transaction.
type SettlementUpdate struct {
	Status       domain.TransactionStatus
	Response     string
	Severity     string
	ErrorMessage string
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Insert stores the first transaction of a new payment reference.
	Insert(ctx context.Context, order domain.PaymentOrder) (domain.Transaction, error)
	// InsertExtension stores another transaction under an existing payment reference.
	InsertExtension(ctx context.Context, order domain.PaymentOrder) (domain.Transaction, error)

	FindByReference(ctx context.Context, paymentReference string) ([]domain.Transaction, error)
	FindByReferenceAndKey(ctx context.Context, paymentReference string, key domain.ReconciliationKey) (domain.Transaction, error)
	FindAllByStatus(ctx context.Context, status domain.TransactionStatus, limit int) ([]domain.Transaction, error)
	// FindUnreconciledNotAfter returns keyed, unreconciled transactions with key <= cutoff.
	FindUnreconciledNotAfter(ctx context.Context, cutoff domain.ReconciliationKey) ([]domain.Transaction, error)

	UpdateStatusAndKey(ctx context.Context, tx domain.Transaction, status domain.TransactionStatus, key domain.ReconciliationKey) (domain.Transaction, error)
	UpdateSimulationResult(ctx context.Context, tx domain.Transaction, status domain.TransactionStatus, result domain.SimulationResult) (domain.Transaction, error)
	UpdateSettlementResponse(ctx context.Context, paymentReference string, key domain.ReconciliationKey, update SettlementUpdate) error
	Stop(ctx context.Context, tx domain.Transaction, errorMessage string) (domain.Transaction, error)
	MarkReconciled(ctx context.Context, tx domain.Transaction) error
}

// Locker is a lease-based lock shared between replicas. TryLock returns false when
// another holder owns an unexpired lease. Renew extends a lease the caller still holds
// by another ttl and returns false once it has been lost.
type Locker interface {
	TryLock(ctx context.Context, name string) (bool, error)
	Renew(ctx context.Context, name string) (bool, error)
	Unlock(ctx context.Context, name string) error
}
