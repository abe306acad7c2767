/**
 * @description
 * This file contains the transaction state machine. The `Service` registers payment
 * orders (new, extension, annulment) and hands out `Transaction` sessions that drive a
 * stored transaction through simulation, submission, settlement and reconciliation.
 *
 * Key features:
 * - Decides between a brand-new order and an extension from the reference's history.
 * - Rejects redelivered events by correlation id before any write.
 * - Runs the rate sanity check at registration and again before submission.
 *
 * @dependencies
 * - internal/domain, internal/store: For domain models and data access.
 * - internal/oppdrag: For the settlement codec and reconciliation keys.
 */

package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/transfa/spenn-service/internal/domain"
	"github.com/transfa/spenn-service/internal/oppdrag"
	"github.com/transfa/spenn-service/internal/store"
)

// Service provides the core business logic for payment orders.
type Service struct {
	repo   store.Repository
	codec  *oppdrag.Codec
	keys   *oppdrag.KeyGenerator
	logger *slog.Logger
}

// NewService creates a new service. The codec and key generator are shared by every
// transaction the service hands out.
func NewService(repo store.Repository, codec *oppdrag.Codec, keys *oppdrag.KeyGenerator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:   repo,
		codec:  codec,
		keys:   keys,
		logger: logger.With("component", "service"),
	}
}

// RegisterOrder stores an order with at least one line. A reference seen for the first
// time becomes a new order; otherwise the order must be a valid extension of the last
// transaction for the reference.
func (s *Service) RegisterOrder(ctx context.Context, order domain.PaymentOrder) (domain.Transaction, error) {
	if order.IsAnnulment() {
		return domain.Transaction{}, fmt.Errorf("%w: order %s has no lines", ErrIllegalState, order.PaymentReference)
	}

	existing, err := s.repo.FindByReference(ctx, order.PaymentReference)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("lookup reference %s: %w", order.PaymentReference, err)
	}
	if isRedelivery(existing, order) {
		return domain.Transaction{}, fmt.Errorf("%w: correlation id %s", store.ErrDuplicateTransaction, order.CorrelationID)
	}
	if err := checkRates(order); err != nil {
		return domain.Transaction{}, err
	}

	if len(existing) == 0 {
		s.logger.Info("registering new order", "reference", order.PaymentReference)
		return s.repo.Insert(ctx, order)
	}

	s.logger.Info("registering extension",
		"reference", order.PaymentReference,
		"existing_transactions", len(existing),
	)
	if err := checkExtension(existing, order); err != nil {
		return domain.Transaction{}, err
	}
	return s.repo.InsertExtension(ctx, asExtension(order))
}

// RegisterAnnulment stores a zero-line order cancelling the single transaction of its
// reference. The annulled period is taken from the original order's lines.
func (s *Service) RegisterAnnulment(ctx context.Context, annulment domain.PaymentOrder) (domain.Transaction, error) {
	if !annulment.IsAnnulment() {
		return domain.Transaction{}, fmt.Errorf("%w: annulment of %s has lines", ErrIllegalState, annulment.PaymentReference)
	}

	existing, err := s.repo.FindByReference(ctx, annulment.PaymentReference)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("lookup reference %s: %w", annulment.PaymentReference, err)
	}
	if isRedelivery(existing, annulment) {
		return domain.Transaction{}, fmt.Errorf("%w: correlation id %s", store.ErrDuplicateTransaction, annulment.CorrelationID)
	}
	original, err := checkAnnulment(existing, annulment)
	if err != nil {
		return domain.Transaction{}, err
	}

	s.logger.Info("registering annulment", "reference", annulment.PaymentReference)
	return s.repo.InsertExtension(ctx, withAnnulledPeriod(annulment, original))
}

// FetchTransaction opens a session on the transaction submitted under key.
func (s *Service) FetchTransaction(ctx context.Context, paymentReference string, key domain.ReconciliationKey) (*Transaction, error) {
	tx, err := s.repo.FindByReferenceAndKey(ctx, paymentReference, key)
	if err != nil {
		return nil, err
	}
	return s.session(tx), nil
}

// FetchNew returns at most limit transactions waiting for simulation.
func (s *Service) FetchNew(ctx context.Context, limit int) ([]*Transaction, error) {
	return s.fetchByStatus(ctx, domain.StatusStarted, limit)
}

// FetchSimulated returns at most limit transactions ready for submission.
func (s *Service) FetchSimulated(ctx context.Context, limit int) ([]*Transaction, error) {
	return s.fetchByStatus(ctx, domain.StatusSimulationOK, limit)
}

// FetchUnreconciledNotAfter returns keyed, unreconciled transactions submitted no later
// than cutoff.
func (s *Service) FetchUnreconciledNotAfter(ctx context.Context, cutoff domain.ReconciliationKey) ([]*Transaction, error) {
	txs, err := s.repo.FindUnreconciledNotAfter(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	return s.sessions(txs), nil
}

// History returns every transaction registered under the reference, oldest first.
func (s *Service) History(ctx context.Context, paymentReference string) ([]domain.Transaction, error) {
	return s.repo.FindByReference(ctx, paymentReference)
}

// Codec returns the settlement codec shared by the service.
func (s *Service) Codec() *oppdrag.Codec {
	return s.codec
}

// NextKey hands out a key for a request that is never persisted, such as a side simulation.
func (s *Service) NextKey() domain.ReconciliationKey {
	return s.keys.Next()
}

func (s *Service) fetchByStatus(ctx context.Context, status domain.TransactionStatus, limit int) ([]*Transaction, error) {
	txs, err := s.repo.FindAllByStatus(ctx, status, limit)
	if err != nil {
		return nil, err
	}
	return s.sessions(txs), nil
}

func (s *Service) session(tx domain.Transaction) *Transaction {
	return &Transaction{svc: s, snapshot: tx}
}

func (s *Service) sessions(txs []domain.Transaction) []*Transaction {
	out := make([]*Transaction, 0, len(txs))
	for _, tx := range txs {
		out = append(out, s.session(tx))
	}
	return out
}

func isRedelivery(existing []domain.Transaction, order domain.PaymentOrder) bool {
	if order.CorrelationID == "" {
		return false
	}
	for _, tx := range existing {
		if tx.Order.CorrelationID == order.CorrelationID {
			return true
		}
	}
	return false
}
