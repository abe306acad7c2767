/**
 * @description
 * Core domain models for payment orders (utbetalingsoppdrag). A payment order is the
 * instruction sent to the settlement system; it carries zero or more payment lines.
 * An order with zero lines is an annulment of a previously registered order.
 */
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RateType is the settlement system's code for the period a rate applies to.
type RateType string

const (
	RateTypeDaily       RateType = "DAG"
	RateTypeWeekly      RateType = "UKE"
	RateTypeFortnightly RateType = "14DB"
	RateTypeMonthly     RateType = "MND"
	RateTypeYearly      RateType = "AAR"
	RateTypeOneOff      RateType = "ENG"
)

// DateLayout is the calendar date format used on every wire format in this service.
const DateLayout = "2006-01-02"

// PaymentLine is a single period with a fixed rate paid to one recipient.
type PaymentLine struct {
	ID          string          `json:"id"`
	Rate        decimal.Decimal `json:"rate"`
	RateType    RateType        `json:"rateType"`
	DateFrom    time.Time       `json:"dateFrom"`
	DateTo      time.Time       `json:"dateTo"`
	PayableTo   string          `json:"payableTo"`
	Grade       int             `json:"grade"`
	IsChange    bool            `json:"isChange,omitempty"`
	IsDuplicate bool            `json:"isDuplicate,omitempty"`
}

// PaymentOrder is the instruction for one payment reference.
type PaymentOrder struct {
	CorrelationID      string            `json:"correlationId,omitempty"`
	PaymentReference   string            `json:"paymentReference"`
	SubjectID          string            `json:"subjectId"`
	OrganisationNumber string            `json:"organisationNumber,omitempty"`
	Caseworker         string            `json:"caseworker,omitempty"`
	MaxDate            *time.Time        `json:"maxDate,omitempty"`
	Lines              []PaymentLine     `json:"lines"`
	StatusChangeFrom   *time.Time        `json:"statusChangeFrom,omitempty"`
	OriginalOrderTo    *time.Time        `json:"originalOrderTo,omitempty"`
	Key                ReconciliationKey `json:"key,omitempty"`
	Timestamp          time.Time         `json:"timestamp"`
}

// IsAnnulment reports whether the order cancels a previous order.
func (o PaymentOrder) IsAnnulment() bool {
	return len(o.Lines) == 0
}

// Clone returns a copy that shares no mutable state with o.
func (o PaymentOrder) Clone() PaymentOrder {
	c := o
	if o.Lines != nil {
		c.Lines = make([]PaymentLine, len(o.Lines))
		copy(c.Lines, o.Lines)
	}
	c.MaxDate = cloneTime(o.MaxDate)
	c.StatusChangeFrom = cloneTime(o.StatusChangeFrom)
	c.OriginalOrderTo = cloneTime(o.OriginalOrderTo)
	return c
}

// TotalAmount is the sum of all lines. Daily rates are multiplied by the number of
// weekdays in the line's period; any other rate type counts once.
func (o PaymentOrder) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, line := range o.Lines {
		total = total.Add(line.Amount())
	}
	return total
}

// Amount is the total paid for the line.
func (l PaymentLine) Amount() decimal.Decimal {
	if l.RateType != RateTypeDaily {
		return l.Rate
	}
	return l.Rate.Mul(decimal.NewFromInt(int64(Weekdays(l.DateFrom, l.DateTo))))
}

// Weekdays counts Monday to Friday dates in the inclusive range [from, to].
func Weekdays(from, to time.Time) int {
	from, to = TruncateDate(from), TruncateDate(to)
	if to.Before(from) {
		return 0
	}
	count := 0
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			count++
		}
	}
	return count
}

// Date returns midnight UTC for the given calendar date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// TruncateDate drops the time-of-day part of t, keeping its calendar date.
func TruncateDate(t time.Time) time.Time {
	return Date(t.Year(), t.Month(), t.Day())
}

// ParseDate parses a yyyy-MM-dd calendar date.
func ParseDate(value string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, value, time.UTC)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
