package app

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/transfa/spenn-service/internal/domain"
)

const (
	// BaseAmount is the base amount (G) the daily-rate ceiling is computed from.
	BaseAmount = 100000
	// WorkingDaysPerYear approximates the number of weekdays in a year.
	WorkingDaysPerYear = 260
)

// MaxDailyRate is the highest daily rate the service will submit: 6.5 G spread over
// the working days of a year.
var MaxDailyRate = decimal.NewFromFloat(6.5).
	Mul(decimal.NewFromInt(BaseAmount)).
	Div(decimal.NewFromInt(WorkingDaysPerYear))

// checkRates rejects lines that are not daily rates or that exceed MaxDailyRate.
func checkRates(order domain.PaymentOrder) error {
	for _, line := range order.Lines {
		if line.RateType != domain.RateTypeDaily {
			return validationErrorf(ReasonUnsupportedRateType,
				"line %s has rate type %s; only daily rates can be checked", line.ID, line.RateType)
		}
		if line.Rate.GreaterThan(MaxDailyRate) {
			return validationErrorf(ReasonRateTooHigh,
				"line %s has daily rate %s, above the ceiling of %s", line.ID, line.Rate, MaxDailyRate)
		}
	}
	return nil
}

// checkExtension validates order as a continuation of the most recently created
// transaction in existing.
func checkExtension(existing []domain.Transaction, order domain.PaymentOrder) error {
	last := latest(existing)
	prefix := "last transaction with reference " + order.PaymentReference

	if last.Order.IsAnnulment() {
		return validationErrorf(ReasonExtendsAnnulment, "%s was an annulment", prefix)
	}

	previous, next := last.Order.Lines, order.Lines
	if len(previous) != 1 || len(next) != 1 || previous[0].ID != next[0].ID {
		return validationErrorf(ReasonNotSimpleExtension, "%s is not a simple extension", prefix)
	}
	if last.Status != domain.StatusFinished {
		return validationErrorf(ReasonPreviousNotFinished, "%s has status %s", prefix, last.Status)
	}
	if last.Order.OrganisationNumber != order.OrganisationNumber {
		return validationErrorf(ReasonOrganisationChanged, "%s has a different organisation number", prefix)
	}
	if last.Order.SubjectID != order.SubjectID {
		return validationErrorf(ReasonSubjectChanged, "%s is registered to a different subject", prefix)
	}

	prevLine, nextLine := previous[0], next[0]
	if !prevLine.DateFrom.Equal(nextLine.DateFrom) {
		return validationErrorf(ReasonDateFromChanged, "%s starts on %s, extension starts on %s",
			prefix, prevLine.DateFrom.Format(domain.DateLayout), nextLine.DateFrom.Format(domain.DateLayout))
	}
	if !nextLine.DateTo.After(prevLine.DateTo) {
		return validationErrorf(ReasonDateToNotExtended, "%s ends on %s, extension must end later than that",
			prefix, prevLine.DateTo.Format(domain.DateLayout))
	}
	if !nextLine.Rate.Equal(prevLine.Rate) {
		return validationErrorf(ReasonRateChanged, "%s has daily rate %s, extension has %s",
			prefix, prevLine.Rate, nextLine.Rate)
	}
	return nil
}

// checkAnnulment validates an annulment against the reference's history and returns
// the original order it cancels.
func checkAnnulment(existing []domain.Transaction, annulment domain.PaymentOrder) (domain.PaymentOrder, error) {
	if len(existing) > 1 {
		for _, tx := range existing {
			if tx.Order.IsAnnulment() {
				return domain.PaymentOrder{}, ErrAlreadyAnnulled
			}
		}
	}
	if len(existing) != 1 {
		return domain.PaymentOrder{}, validationErrorf(ReasonNothingToAnnul,
			"reference %s has %d transactions; exactly one can be annulled", annulment.PaymentReference, len(existing))
	}
	original := existing[0].Order
	if original.IsAnnulment() {
		return domain.PaymentOrder{}, ErrAlreadyAnnulled
	}
	if original.SubjectID != annulment.SubjectID {
		return domain.PaymentOrder{}, validationErrorf(ReasonSubjectChanged,
			"reference %s is registered to a different subject", annulment.PaymentReference)
	}
	return original, nil
}

// withAnnulledPeriod copies the period covered by original onto the annulment.
func withAnnulledPeriod(annulment, original domain.PaymentOrder) domain.PaymentOrder {
	out := annulment.Clone()
	from, to := original.Lines[0].DateFrom, original.Lines[0].DateTo
	for _, line := range original.Lines[1:] {
		if line.DateFrom.Before(from) {
			from = line.DateFrom
		}
		if line.DateTo.After(to) {
			to = line.DateTo
		}
	}
	out.StatusChangeFrom = &from
	out.OriginalOrderTo = &to
	return out
}

// asExtension marks every line of order as a change to the existing order.
func asExtension(order domain.PaymentOrder) domain.PaymentOrder {
	out := order.Clone()
	for i := range out.Lines {
		out.Lines[i].IsChange = true
	}
	return out
}

func latest(txs []domain.Transaction) domain.Transaction {
	sorted := make([]domain.Transaction, len(txs))
	copy(sorted, txs)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Created.Equal(sorted[j].Created) {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].Created.Before(sorted[j].Created)
	})
	return sorted[len(sorted)-1]
}
