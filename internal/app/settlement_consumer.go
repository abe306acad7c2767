package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/transfa/spenn-service/internal/oppdrag"
	"github.com/transfa/spenn-service/internal/store"
)

// SettlementResponseConsumer records the settlement system's replies.
type SettlementResponseConsumer struct {
	svc    *Service
	logger *slog.Logger
}

func NewSettlementResponseConsumer(svc *Service, logger *slog.Logger) *SettlementResponseConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettlementResponseConsumer{svc: svc, logger: logger.With("component", "settlement_consumer")}
}

// HandleMessage records one reply. Replies that cannot be matched or parsed are logged
// and acknowledged; only storage failures re-queue.
func (c *SettlementResponseConsumer) HandleMessage(body []byte) bool {
	resp, err := c.svc.Codec().DecodeResponse(body)
	if err != nil {
		c.logger.Error("failed to decode settlement response", "error", err)
		settlementResponsesTotal.WithLabelValues("unreadable").Inc()
		return true
	}
	settlementResponsesTotal.WithLabelValues(severityLabel(resp.Severity)).Inc()
	log := c.logger.With("reference", resp.PaymentReference, "key", resp.Key, "severity", resp.Severity)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	tx, err := c.svc.FetchTransaction(ctx, resp.PaymentReference, resp.Key)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			log.Error("no transaction for settlement response; acknowledging")
			return true
		}
		log.Error("lookup transaction", "error", err)
		return false
	}

	if err := tx.RecordSettlementResponse(ctx, resp); err != nil {
		if errors.Is(err, ErrIllegalState) {
			log.Warn("settlement response for transaction not awaiting one; acknowledging", "error", err)
			return true
		}
		log.Error("failed to record settlement response", "error", err)
		return false
	}

	if resp.Severity != oppdrag.SeverityOK {
		log.Warn("settlement rejected transaction",
			"message_code", resp.MessageCode,
			"description", resp.Description,
		)
	} else {
		log.Info("settlement accepted transaction")
	}
	return true
}

// severityLabel keeps the metric's label set closed whatever the settlement system sends.
func severityLabel(severity string) string {
	switch severity {
	case oppdrag.SeverityOK:
		return "ok"
	case oppdrag.SeverityWarning:
		return "warning"
	case oppdrag.SeverityRejected, oppdrag.SeverityError:
		return "rejected"
	default:
		return "other"
	}
}
