/**
 * @description
 * Order builder. Turns the refund lines of a payment-need event into a payment order
 * addressed to the settlement system. Every refund line is paid to the employer at a
 * daily rate.
 */
package oppdrag

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/spenn-service/internal/domain"
)

// Refunds collects the lines refunded to one employer under one payment reference.
type Refunds struct {
	PaymentReference   string
	OrganisationNumber string
	NationalID         string
	Extension          bool

	lines []domain.PaymentLine
}

// NewRefunds starts an empty set of refund lines.
func NewRefunds(paymentReference, organisationNumber, nationalID string, extension bool) *Refunds {
	return &Refunds{
		PaymentReference:   paymentReference,
		OrganisationNumber: organisationNumber,
		NationalID:         nationalID,
		Extension:          extension,
	}
}

// Add appends a refund line. Line ids are zero-based ordinals in insertion order.
func (r *Refunds) Add(from, to time.Time, dailyRate decimal.Decimal, grade int) {
	r.lines = append(r.lines, domain.PaymentLine{
		ID:        strconv.Itoa(len(r.lines)),
		Rate:      dailyRate,
		RateType:  domain.RateTypeDaily,
		DateFrom:  domain.TruncateDate(from),
		DateTo:    domain.TruncateDate(to),
		PayableTo: r.OrganisationNumber,
		Grade:     grade,
		IsChange:  r.Extension,
	})
}

func (r *Refunds) IsEmpty() bool {
	return r == nil || len(r.lines) == 0
}

// Lines returns a copy of the collected lines.
func (r *Refunds) Lines() []domain.PaymentLine {
	if r == nil {
		return nil
	}
	out := make([]domain.PaymentLine, len(r.lines))
	copy(out, r.lines)
	return out
}

// Builder assembles a payment order.
type Builder struct {
	CorrelationID string
	Caseworker    string
	MaxDate       time.Time
	Key           domain.ReconciliationKey
	Refunds       *Refunds
	Timestamp     time.Time
}

// Build returns the order and true, or false when there is nothing to pay. An empty
// refund set is not an error; callers skip the event.
func (b Builder) Build() (domain.PaymentOrder, bool) {
	if b.Refunds.IsEmpty() {
		return domain.PaymentOrder{}, false
	}
	maxDate := domain.TruncateDate(b.MaxDate)
	return domain.PaymentOrder{
		CorrelationID:      b.CorrelationID,
		PaymentReference:   b.Refunds.PaymentReference,
		SubjectID:          b.Refunds.NationalID,
		OrganisationNumber: b.Refunds.OrganisationNumber,
		Caseworker:         b.Caseworker,
		MaxDate:            &maxDate,
		Lines:              b.Refunds.Lines(),
		Key:                b.Key,
		Timestamp:          b.Timestamp,
	}, true
}
