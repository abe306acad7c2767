package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/transfa/spenn-service/internal/domain"
	"github.com/transfa/spenn-service/internal/oppdrag"
	"github.com/transfa/spenn-service/internal/store"
	"github.com/transfa/spenn-service/pkg/identityclient"
)

// IdentityResolver maps an actor id to a national id.
type IdentityResolver interface {
	Resolve(ctx context.Context, actorID string) (string, error)
}

// PaymentNeedConsumer registers payment and annulment needs from the event stream.
type PaymentNeedConsumer struct {
	svc      *Service
	identity IdentityResolver
	outcomes *OutcomeNotifier
	logger   *slog.Logger
	now      func() time.Time
}

func NewPaymentNeedConsumer(svc *Service, identity IdentityResolver, outcomes *OutcomeNotifier, logger *slog.Logger) *PaymentNeedConsumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentNeedConsumer{
		svc:      svc,
		identity: identity,
		outcomes: outcomes,
		logger:   logger.With("component", "payment_need_consumer"),
		now:      time.Now,
	}
}

// HandleMessage processes one event. Only transient failures re-queue it; events that
// can never succeed are logged and acknowledged.
func (c *PaymentNeedConsumer) HandleMessage(body []byte) bool {
	var event domain.PaymentNeedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		c.logger.Error("failed to unmarshal payload", "error", err)
		return true
	}

	if strings.TrimSpace(event.PaymentReference) == "" {
		c.logger.Warn("missing payment reference in event", "event_id", event.ID)
		return true
	}
	if event.Solution != nil {
		// Already answered, possibly by us.
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := c.processEvent(ctx, event); err != nil {
		c.logger.Error("processing error", "reference", event.PaymentReference, "event_id", event.ID, "error", err)
		return false
	}
	return true
}

func (c *PaymentNeedConsumer) processEvent(ctx context.Context, event domain.PaymentNeedEvent) error {
	need := domain.NeedPayment
	if event.HasNeed(domain.NeedAnnulment) {
		need = domain.NeedAnnulment
	} else if !event.HasNeed(domain.NeedPayment) {
		c.logger.Debug("ignoring event without a known need", "event_id", event.ID, "needs", event.Needs)
		return nil
	}

	nationalID, err := c.nationalID(ctx, event)
	if err != nil {
		// The event is skipped either way; there is no redelivery of payment needs.
		if errors.Is(err, identityclient.ErrNotFound) {
			c.logger.Warn("identity not found; skipping event", "reference", event.PaymentReference, "event_id", event.ID)
		} else {
			c.logger.Error("identity lookup failed; skipping event", "reference", event.PaymentReference, "event_id", event.ID, "error", err)
		}
		paymentNeedsTotal.WithLabelValues(need, needSkipped).Inc()
		return nil
	}

	var (
		order domain.PaymentOrder
		tx    domain.Transaction
	)
	if need == domain.NeedAnnulment {
		order = AnnulmentFromEvent(event, nationalID, c.now())
		tx, err = c.svc.RegisterAnnulment(ctx, order)
	} else {
		var ok bool
		order, ok, err = OrderFromEvent(event, nationalID, c.svc.NextKey(), c.now())
		if err != nil {
			c.logger.Error("malformed payment need", "reference", event.PaymentReference, "event_id", event.ID, "error", err)
			paymentNeedsTotal.WithLabelValues(need, needInvalid).Inc()
			return nil
		}
		if !ok {
			c.logger.Info("nothing to pay; skipping event", "reference", event.PaymentReference, "event_id", event.ID)
			paymentNeedsTotal.WithLabelValues(need, needSkipped).Inc()
			return nil
		}
		tx, err = c.svc.RegisterOrder(ctx, order)
	}

	return c.handleResult(ctx, need, order, tx, err)
}

func (c *PaymentNeedConsumer) handleResult(ctx context.Context, need string, order domain.PaymentOrder, tx domain.Transaction, err error) error {
	log := c.logger.With("reference", order.PaymentReference, "event_id", order.CorrelationID, "need", need)

	if err == nil {
		outcome := needRegistered
		if need == domain.NeedAnnulment {
			outcome = needAnnulled
		}
		paymentNeedsTotal.WithLabelValues(need, outcome).Inc()
		log.Info("registered transaction", "transaction_id", tx.ID)
		return nil
	}

	if errors.Is(err, store.ErrDuplicateTransaction) {
		paymentNeedsTotal.WithLabelValues(need, needDuplicate).Inc()
		log.Info("duplicate event; acknowledging", "error", err)
		return nil
	}
	if v, ok := IsValidationError(err); ok {
		paymentNeedsTotal.WithLabelValues(need, needInvalid).Inc()
		log.Error("sanity check failed", "reason", v.Reason, "error", err)
		c.notifyFailed(ctx, order, v.Message)
		return nil
	}
	if errors.Is(err, ErrAlreadyAnnulled) {
		paymentNeedsTotal.WithLabelValues(need, needInvalid).Inc()
		log.Error("reference already annulled", "error", err)
		c.notifyFailed(ctx, order, err.Error())
		return nil
	}
	if errors.Is(err, ErrIllegalState) {
		log.Error("rejected event in illegal state", "error", err)
		return nil
	}
	return err
}

func (c *PaymentNeedConsumer) notifyFailed(ctx context.Context, order domain.PaymentOrder, description string) {
	if c.outcomes == nil {
		return
	}
	// Publish errors are logged by the notifier; the event itself is done.
	_ = c.outcomes.Failed(ctx, order, description)
}

func (c *PaymentNeedConsumer) nationalID(ctx context.Context, event domain.PaymentNeedEvent) (string, error) {
	if id := strings.TrimSpace(event.NationalID); id != "" {
		return id, nil
	}
	if c.identity == nil {
		return "", fmt.Errorf("%w: event has no national id and no identity service is configured", identityclient.ErrNotFound)
	}
	return c.identity.Resolve(ctx, event.ActorID)
}

// OrderFromEvent builds the payment order for a payment need. It returns false when
// the event has no lines to pay.
func OrderFromEvent(event domain.PaymentNeedEvent, nationalID string, key domain.ReconciliationKey, now time.Time) (domain.PaymentOrder, bool, error) {
	maxDate, err := domain.ParseDate(event.MaxDate)
	if err != nil {
		return domain.PaymentOrder{}, false, fmt.Errorf("maksdato %q: %w", event.MaxDate, err)
	}

	refunds := oppdrag.NewRefunds(event.PaymentReference, event.OrganisationNumber, nationalID, event.Extension)
	for i, line := range event.Lines {
		from, err := domain.ParseDate(line.From)
		if err != nil {
			return domain.PaymentOrder{}, false, fmt.Errorf("line %d fom %q: %w", i, line.From, err)
		}
		to, err := domain.ParseDate(line.To)
		if err != nil {
			return domain.PaymentOrder{}, false, fmt.Errorf("line %d tom %q: %w", i, line.To, err)
		}
		if to.Before(from) {
			return domain.PaymentOrder{}, false, fmt.Errorf("line %d ends before it starts", i)
		}
		refunds.Add(from, to, line.DailyRate, int(math.Round(line.Grade)))
	}

	order, ok := oppdrag.Builder{
		CorrelationID: event.ID,
		Caseworker:    event.Caseworker,
		MaxDate:       maxDate,
		Key:           key,
		Refunds:       refunds,
		Timestamp:     now.UTC(),
	}.Build()
	return order, ok, nil
}

// AnnulmentFromEvent builds the zero-line order cancelling a payment reference.
func AnnulmentFromEvent(event domain.PaymentNeedEvent, nationalID string, now time.Time) domain.PaymentOrder {
	return domain.PaymentOrder{
		CorrelationID:      event.ID,
		PaymentReference:   event.PaymentReference,
		SubjectID:          nationalID,
		OrganisationNumber: event.OrganisationNumber,
		Caseworker:         event.Caseworker,
		Lines:              []domain.PaymentLine{},
		Timestamp:          now.UTC(),
	}
}
