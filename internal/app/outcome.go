package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/spenn-service/internal/domain"
	"github.com/transfa/spenn-service/pkg/rabbitmq"
)

const outcomeEventName = "løsning"

// OutcomeNotifier answers payment needs on the event stream.
type OutcomeNotifier struct {
	producer   rabbitmq.Publisher
	exchange   string
	routingKey string
	logger     *slog.Logger
	now        func() time.Time
}

func NewOutcomeNotifier(producer rabbitmq.Publisher, exchange, routingKey string, logger *slog.Logger) *OutcomeNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutcomeNotifier{
		producer:   producer,
		exchange:   exchange,
		routingKey: routingKey,
		logger:     logger.With("component", "outcome_notifier"),
		now:        time.Now,
	}
}

// Transferred reports that the order behind tx was handed to the settlement system.
func (n *OutcomeNotifier) Transferred(ctx context.Context, tx domain.Transaction) error {
	at := n.now().UTC()
	return n.publish(ctx, tx.Order, domain.PaymentOutcome{
		Status:        domain.OutcomeTransferred,
		TransferredAt: &at,
		Key:           tx.Key,
	})
}

// Failed reports that the order will not be paid.
func (n *OutcomeNotifier) Failed(ctx context.Context, order domain.PaymentOrder, description string) error {
	return n.publish(ctx, order, domain.PaymentOutcome{
		Status:      domain.OutcomeFailed,
		Description: description,
	})
}

func (n *OutcomeNotifier) publish(ctx context.Context, order domain.PaymentOrder, outcome domain.PaymentOutcome) error {
	event := domain.PaymentOutcomeEvent{
		ID:               uuid.NewString(),
		EventName:        outcomeEventName,
		NeedID:           order.CorrelationID,
		CreatedAt:        n.now().UTC(),
		PaymentReference: order.PaymentReference,
		NationalID:       order.SubjectID,
		Solution:         domain.OutcomeSolution{Payment: outcome},
	}
	if err := n.producer.Publish(ctx, n.exchange, n.routingKey, event); err != nil {
		n.logger.Error("failed to publish outcome",
			"reference", order.PaymentReference,
			"status", outcome.Status,
			"error", err,
		)
		return err
	}
	n.logger.Info("published outcome", "reference", order.PaymentReference, "status", outcome.Status, "key", outcome.Key)
	return nil
}
