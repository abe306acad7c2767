package app

import (
	"context"
	"fmt"

	"github.com/transfa/spenn-service/internal/domain"
	"github.com/transfa/spenn-service/internal/oppdrag"
	"github.com/transfa/spenn-service/internal/store"
)

// Transaction is a session over one stored transaction. It holds a snapshot that is
// replaced wholesale after every repository call and is never modified in place.
// A Transaction is driven by one caller at a time.
type Transaction struct {
	svc      *Service
	snapshot domain.Transaction
}

// Snapshot returns a copy of the current state.
func (t *Transaction) Snapshot() domain.Transaction {
	return t.snapshot.Clone()
}

func (t *Transaction) Status() domain.TransactionStatus {
	return t.snapshot.Status
}

func (t *Transaction) String() string {
	return fmt.Sprintf("Transaction(reference=%s, key=%s)", t.snapshot.PaymentReference, t.snapshot.Key)
}

// SimulationRequest maps a freshly registered transaction to a simulation request.
func (t *Transaction) SimulationRequest() (oppdrag.SimulationRequest, error) {
	if err := t.require("build simulation request", domain.StatusStarted); err != nil {
		return oppdrag.SimulationRequest{}, err
	}
	key := t.snapshot.Order.Key
	if key.IsZero() {
		key = domain.KeyAt(t.snapshot.Created)
	}
	return t.svc.codec.SimulationRequest(t.snapshot.Order, key), nil
}

// SettlementRequest maps a submitted transaction to the settlement document.
func (t *Transaction) SettlementRequest() (*oppdrag.Oppdrag, error) {
	if err := t.require("build settlement request", domain.StatusSentToSettlement); err != nil {
		return nil, err
	}
	return t.svc.codec.OrderRequest(t.snapshot.Order, t.snapshot.Key), nil
}

// RecordSimulationResult stores the simulation outcome. An OK result without a payout
// is only valid for an annulment.
func (t *Transaction) RecordSimulationResult(ctx context.Context, result domain.SimulationResult) error {
	if err := t.require("record simulation result", domain.StatusStarted); err != nil {
		return err
	}
	if result.Status == domain.SimulationOK && result.Recipient == nil && !t.snapshot.Order.IsAnnulment() {
		return fmt.Errorf("%w: simulation of %s returned no payout", ErrIllegalState, t)
	}

	status := domain.StatusSimulationFailed
	if result.Status == domain.SimulationOK {
		status = domain.StatusSimulationOK
	}
	updated, err := t.svc.repo.UpdateSimulationResult(ctx, t.snapshot, status, result)
	if err != nil {
		return fmt.Errorf("store simulation result for %s: %w", t, err)
	}
	t.replace(updated)
	return nil
}

// PrepareForSubmission re-runs the rate checks and assigns the reconciliation key the
// transaction is submitted under. A validation failure leaves the transaction as is.
func (t *Transaction) PrepareForSubmission(ctx context.Context) error {
	if err := t.require("prepare for submission", domain.StatusSimulationOK); err != nil {
		return err
	}
	if err := checkRates(t.snapshot.Order); err != nil {
		return err
	}
	updated, err := t.svc.repo.UpdateStatusAndKey(ctx, t.snapshot, domain.StatusSentToSettlement, t.svc.keys.Next())
	if err != nil {
		return fmt.Errorf("assign key to %s: %w", t, err)
	}
	t.replace(updated)
	return nil
}

// Stop fails a transaction that has not been submitted.
func (t *Transaction) Stop(ctx context.Context, errorMessage string) error {
	if !t.snapshot.Status.IsPreSubmission() {
		return fmt.Errorf("%w: cannot stop %s in status %s", ErrIllegalState, t, t.snapshot.Status)
	}
	updated, err := t.svc.repo.Stop(ctx, t.snapshot, errorMessage)
	if err != nil {
		return fmt.Errorf("stop %s: %w", t, err)
	}
	t.replace(updated)
	return nil
}

// RecordSettlementResponse stores the settlement system's reply and the status it maps to.
func (t *Transaction) RecordSettlementResponse(ctx context.Context, resp oppdrag.SettlementResponse) error {
	if err := t.require("record settlement response", domain.StatusSentToSettlement); err != nil {
		return err
	}
	update := store.SettlementUpdate{
		Status:   resp.Status(),
		Response: resp.Raw,
		Severity: resp.Severity,
	}
	if update.Status == domain.StatusFailed {
		update.ErrorMessage = resp.Description
	}
	ref, key := t.snapshot.PaymentReference, t.snapshot.Key
	if err := t.svc.repo.UpdateSettlementResponse(ctx, ref, key, update); err != nil {
		return fmt.Errorf("store settlement response for %s: %w", t, err)
	}
	updated, err := t.svc.repo.FindByReferenceAndKey(ctx, ref, key)
	if err != nil {
		return fmt.Errorf("reload %s: %w", t, err)
	}
	t.replace(updated)
	return nil
}

// MarkReconciled flags a terminal transaction as reported. It can only happen once.
func (t *Transaction) MarkReconciled(ctx context.Context) error {
	if !t.snapshot.Status.IsTerminal() {
		return fmt.Errorf("%w: cannot reconcile %s in status %s", ErrIllegalState, t, t.snapshot.Status)
	}
	if t.snapshot.Reconciled {
		return fmt.Errorf("%w: %s is already reconciled", ErrIllegalState, t)
	}
	if err := t.svc.repo.MarkReconciled(ctx, t.snapshot); err != nil {
		return fmt.Errorf("mark %s reconciled: %w", t, err)
	}
	next := t.snapshot.Clone()
	next.Reconciled = true
	t.snapshot = next
	return nil
}

func (t *Transaction) require(op string, status domain.TransactionStatus) error {
	if t.snapshot.Status != status {
		return fmt.Errorf("%w: %s requires %s, %s is %s", ErrIllegalState, op, status, t, t.snapshot.Status)
	}
	return nil
}

func (t *Transaction) replace(next domain.Transaction) {
	t.snapshot = next
	transactionTransitionsTotal.WithLabelValues(string(next.Status)).Inc()
}
