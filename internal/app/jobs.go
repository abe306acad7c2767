/**
 * @description
 * Scheduled job implementations. Each job polls for transactions in one status and
 * processes a bounded batch per run: simulation, submission to the settlement queue,
 * and the lease-locked reconciliation sweep.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/transfa/spenn-service/internal/avstemming"
	"github.com/transfa/spenn-service/internal/config"
	"github.com/transfa/spenn-service/internal/domain"
	"github.com/transfa/spenn-service/internal/oppdrag"
	"github.com/transfa/spenn-service/internal/store"
	"github.com/transfa/spenn-service/pkg/rabbitmq"
)

const (
	reconciliationLockName = "reconciliation"

	errNoPayout = "simulation answered OK without a payout"
)

var errLeaseLost = errors.New("reconciliation lease lost")

// Simulator defines the interface for communicating with the simulation service.
type Simulator interface {
	Simulate(ctx context.Context, request oppdrag.SimulationRequest) (domain.SimulationResult, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	svc       *Service
	simulator Simulator
	producer  rabbitmq.Publisher
	outcomes  *OutcomeNotifier
	batches   *avstemming.Builder
	locker    store.Locker
	logger    *slog.Logger
	config    config.Config
	now       func() time.Time
}

// NewJobs creates a new Jobs runner.
func NewJobs(svc *Service, simulator Simulator, producer rabbitmq.Publisher, outcomes *OutcomeNotifier, locker store.Locker, logger *slog.Logger, cfg config.Config) *Jobs {
	if logger == nil {
		logger = slog.Default()
	}
	return &Jobs{
		svc:       svc,
		simulator: simulator,
		producer:  producer,
		outcomes:  outcomes,
		batches:   avstemming.NewBuilder(cfg.Fagomraade, cfg.ReconciliationChunkSize),
		locker:    locker,
		logger:    logger.With("component", "jobs"),
		config:    cfg,
		now:       time.Now,
	}
}

// SimulateNewOrders simulates transactions that were registered since the last run.
func (j *Jobs) SimulateNewOrders() {
	timer := prometheus.NewTimer(jobDuration.WithLabelValues("simulate"))
	defer timer.ObserveDuration()

	if j.simulator == nil {
		j.logger.Warn("simulation service not configured; skipping simulation job")
		return
	}
	ctx := context.Background()

	txs, err := j.svc.FetchNew(ctx, j.config.JobBatchLimit)
	if err != nil {
		j.logger.Error("failed to fetch new transactions", "error", err)
		return
	}
	if len(txs) == 0 {
		return
	}
	j.logger.Info("simulating transactions", "count", len(txs))

	for _, tx := range txs {
		j.simulate(ctx, tx)
	}
}

func (j *Jobs) simulate(ctx context.Context, tx *Transaction) {
	snapshot := tx.Snapshot()
	log := j.logger.With("reference", snapshot.PaymentReference, "transaction_id", snapshot.ID)

	result := domain.SimulationResult{Status: domain.SimulationOK}
	if !snapshot.Order.IsAnnulment() {
		req, err := tx.SimulationRequest()
		if err != nil {
			log.Error("failed to build simulation request", "error", err)
			return
		}
		result, err = j.simulator.Simulate(ctx, req)
		switch {
		case err != nil:
			log.Warn("simulation call failed", "error", err)
			result = domain.SimulationResult{Status: domain.SimulationFailed, ErrorMessage: err.Error()}
		case result.Status == domain.SimulationOK && result.Recipient == nil:
			// An OK reply must carry a payout; anything else fails the simulation.
			result = domain.SimulationResult{Status: domain.SimulationFailed, ErrorMessage: errNoPayout}
		}
	}

	if err := tx.RecordSimulationResult(ctx, result); err != nil {
		log.Error("failed to record simulation result", "error", err)
		return
	}
	if result.Status != domain.SimulationOK {
		log.Warn("simulation failed", "message", result.ErrorMessage)
	}
}

// SubmitSimulatedOrders sends simulated transactions to the settlement system.
func (j *Jobs) SubmitSimulatedOrders() {
	timer := prometheus.NewTimer(jobDuration.WithLabelValues("submit"))
	defer timer.ObserveDuration()
	ctx := context.Background()

	txs, err := j.svc.FetchSimulated(ctx, j.config.JobBatchLimit)
	if err != nil {
		j.logger.Error("failed to fetch simulated transactions", "error", err)
		return
	}
	if len(txs) == 0 {
		return
	}
	j.logger.Info("submitting transactions", "count", len(txs))

	for _, tx := range txs {
		j.submit(ctx, tx)
	}
}

func (j *Jobs) submit(ctx context.Context, tx *Transaction) {
	log := j.logger.With("reference", tx.Snapshot().PaymentReference, "transaction_id", tx.Snapshot().ID)

	if err := tx.PrepareForSubmission(ctx); err != nil {
		if v, ok := IsValidationError(err); ok {
			log.Error("sanity check failed; stopping transaction", "reason", v.Reason, "error", err)
			if stopErr := tx.Stop(ctx, v.Message); stopErr != nil {
				log.Error("failed to stop transaction", "error", stopErr)
				return
			}
			if j.outcomes != nil {
				_ = j.outcomes.Failed(ctx, tx.Snapshot().Order, v.Message)
			}
			return
		}
		log.Error("failed to prepare transaction for submission", "error", err)
		return
	}

	snapshot := tx.Snapshot()
	log = log.With("key", snapshot.Key)

	doc, err := tx.SettlementRequest()
	if err != nil {
		log.Error("failed to build settlement request", "error", err)
		return
	}
	body, err := j.svc.Codec().Marshal(doc)
	if err != nil {
		log.Error("failed to serialize settlement request", "error", err)
		return
	}
	if err := j.producer.Send(ctx, j.config.SettlementQueue, rabbitmq.QueueMessage{
		Body:          body,
		ContentType:   "application/xml",
		ReplyTo:       j.config.SettlementReplyQueue,
		CorrelationID: snapshot.Key.String(),
	}); err != nil {
		// The key is assigned; the transaction stays SENT_TO_SETTLEMENT and is not resent.
		log.Error("failed to send settlement request", "error", err)
		return
	}
	log.Info("sent transaction to settlement")

	if j.outcomes != nil {
		_ = j.outcomes.Transferred(ctx, snapshot)
	}
}

// ReconcileTransactions is the scheduled entry point for the reconciliation sweep.
func (j *Jobs) ReconcileTransactions() {
	timer := prometheus.NewTimer(jobDuration.WithLabelValues("reconcile"))
	defer timer.ObserveDuration()

	result, err := j.Reconcile(context.Background())
	if err != nil {
		j.logger.Error("reconciliation failed", "error", err)
		return
	}
	if result.Skipped {
		j.logger.Info("reconciliation lease held elsewhere; skipping")
		return
	}
	j.logger.Info("reconciliation finished",
		"batch_id", result.BatchID,
		"reconciled", result.Reconciled,
		"excluded", result.Excluded,
		"pending", result.Pending,
	)
}

// ReconciliationResult summarizes one sweep. Pending counts transactions sent to
// settlement without an answer: they are reported as missing and stay unreconciled.
type ReconciliationResult struct {
	BatchID    string
	Reconciled int
	Excluded   int
	Pending    int
	Skipped    bool
}

// Reconcile reports every unreconciled transaction submitted before the configured
// cutoff and marks the terminal ones reconciled once the batch has been sent. Only the
// holder of the reconciliation lease runs the sweep.
func (j *Jobs) Reconcile(ctx context.Context) (ReconciliationResult, error) {
	var result ReconciliationResult

	locked, err := j.locker.TryLock(ctx, reconciliationLockName)
	if err != nil {
		return result, fmt.Errorf("acquire reconciliation lease: %w", err)
	}
	if !locked {
		result.Skipped = true
		return result, nil
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := j.locker.Unlock(unlockCtx, reconciliationLockName); err != nil {
			j.logger.Warn("failed to release reconciliation lease", "error", err)
		}
	}()

	cutoff := avstemming.Cutoff(j.now(), j.config.ReconciliationCutoff)
	txs, err := j.svc.FetchUnreconciledNotAfter(ctx, cutoff)
	if err != nil {
		return result, fmt.Errorf("fetch unreconciled transactions: %w", err)
	}

	sessions := make(map[int64]*Transaction, len(txs))
	snapshots := make([]domain.Transaction, 0, len(txs))
	for _, tx := range txs {
		snapshot := tx.Snapshot()
		sessions[snapshot.ID] = tx
		snapshots = append(snapshots, snapshot)
	}

	batch, err := j.batches.Build(snapshots)
	for _, ex := range batch.Excluded {
		result.Excluded++
		reconciledTransactionsTotal.WithLabelValues("excluded").Inc()
		j.logger.Error("excluding transaction from reconciliation",
			"reference", ex.Transaction.PaymentReference,
			"transaction_id", ex.Transaction.ID,
			"error", ex.Err,
		)
	}
	if errors.Is(err, avstemming.ErrNoTransactions) {
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("build reconciliation batch: %w", err)
	}
	result.BatchID = batch.ID
	for _, tx := range batch.Unanswered {
		result.Pending++
		reconciledTransactionsTotal.WithLabelValues("unanswered").Inc()
		j.logger.Warn("reporting transaction without settlement answer as missing",
			"reference", tx.PaymentReference,
			"transaction_id", tx.ID,
			"key", tx.Key,
		)
	}

	for _, msg := range batch.Messages {
		if err := j.renewLease(ctx); err != nil {
			return result, err
		}
		body, err := avstemming.Marshal(msg)
		if err != nil {
			return result, err
		}
		if err := j.producer.Send(ctx, j.config.ReconciliationQueue, rabbitmq.QueueMessage{
			Body:          body,
			ContentType:   "application/xml",
			CorrelationID: batch.ID,
		}); err != nil {
			return result, fmt.Errorf("send reconciliation %s message: %w", msg.Aksjon.Type, err)
		}
	}

	for _, included := range batch.Included {
		tx := sessions[included.ID]
		if err := tx.MarkReconciled(ctx); err != nil {
			reconciledTransactionsTotal.WithLabelValues("mark_failed").Inc()
			j.logger.Error("failed to mark transaction reconciled", "transaction_id", included.ID, "error", err)
			continue
		}
		reconciledTransactionsTotal.WithLabelValues("reconciled").Inc()
		result.Reconciled++
	}
	return result, nil
}

// renewLease keeps the reconciliation lease alive between messages. Once the lease is
// lost another replica may be sending, so the sweep must stop.
func (j *Jobs) renewLease(ctx context.Context) error {
	held, err := j.locker.Renew(ctx, reconciliationLockName)
	if err != nil {
		return fmt.Errorf("renew reconciliation lease: %w", err)
	}
	if !held {
		return errLeaseLost
	}
	return nil
}
