package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	NeedPayment   = "Utbetaling"
	NeedAnnulment = "Annullering"
)

// PaymentNeedEvent is the inbound request (behov) to pay, or cancel, sick-pay refunds for
// one payment reference.
type PaymentNeedEvent struct {
	ID                 string            `json:"@id"`
	EventName          string            `json:"@event_name"`
	Needs              []string          `json:"@behov"`
	NationalID         string            `json:"fødselsnummer"`
	ActorID            string            `json:"aktørId,omitempty"`
	PaymentReference   string            `json:"utbetalingsreferanse"`
	OrganisationNumber string            `json:"organisasjonsnummer"`
	MaxDate            string            `json:"maksdato"`
	Caseworker         string            `json:"saksbehandler"`
	Lines              []PaymentNeedLine `json:"utbetalingslinjer"`
	Extension          bool              `json:"forlengelse"`
	Solution           map[string]any    `json:"@løsning,omitempty"`
}

// HasNeed reports whether the event asks for the given need.
func (e PaymentNeedEvent) HasNeed(need string) bool {
	for _, n := range e.Needs {
		if n == need {
			return true
		}
	}
	return false
}

// PaymentNeedLine is one refund line as sent by the case-handling system.
type PaymentNeedLine struct {
	From      string          `json:"fom"`
	To        string          `json:"tom"`
	DailyRate decimal.Decimal `json:"dagsats"`
	Grade     float64         `json:"grad"`
}

// OutcomeStatus is the status reported back to the case-handling system.
type OutcomeStatus string

const (
	OutcomeTransferred OutcomeStatus = "OVERFØRT"
	OutcomeFailed      OutcomeStatus = "FEIL"
)

// PaymentOutcomeEvent answers a PaymentNeedEvent.
type PaymentOutcomeEvent struct {
	ID               string          `json:"@id"`
	EventName        string          `json:"@event_name"`
	NeedID           string          `json:"@behov_id"`
	CreatedAt        time.Time       `json:"@opprettet"`
	PaymentReference string          `json:"utbetalingsreferanse"`
	NationalID       string          `json:"fødselsnummer,omitempty"`
	Solution         OutcomeSolution `json:"@løsning"`
}

type OutcomeSolution struct {
	Payment PaymentOutcome `json:"Utbetaling"`
}

type PaymentOutcome struct {
	Status        OutcomeStatus     `json:"status"`
	TransferredAt *time.Time        `json:"overføringstidspunkt,omitempty"`
	Key           ReconciliationKey `json:"avstemmingsnøkkel,omitempty"`
	Description   string            `json:"beskrivelse,omitempty"`
}
