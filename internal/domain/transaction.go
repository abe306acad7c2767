package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	StatusStarted          TransactionStatus = "STARTED"
	StatusSimulationOK     TransactionStatus = "SIMULATION_OK"
	StatusSimulationFailed TransactionStatus = "SIMULATION_FAILED"
	StatusSentToSettlement TransactionStatus = "SENT_TO_SETTLEMENT"
	StatusFinished         TransactionStatus = "FINISHED"
	StatusFailed           TransactionStatus = "FAILED"
)

// IsTerminal reports whether the settlement system has given its final answer.
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// IsPreSubmission reports whether the transaction has not yet been sent for settlement.
func (s TransactionStatus) IsPreSubmission() bool {
	switch s {
	case StatusStarted, StatusSimulationOK, StatusSimulationFailed:
		return true
	default:
		return false
	}
}

// Transaction is one submission attempt of a payment order. Several transactions may
// share a payment reference: the original order, extensions, and an annulment.
type Transaction struct {
	ID                 int64             `json:"id"`
	PaymentReference   string            `json:"paymentReference"`
	Key                ReconciliationKey `json:"reconciliationKey,omitempty"`
	Order              PaymentOrder      `json:"order"`
	Status             TransactionStatus `json:"status"`
	SimulationResult   *SimulationResult `json:"simulationResult,omitempty"`
	SettlementResponse string            `json:"settlementResponse,omitempty"`
	Severity           string            `json:"severity,omitempty"`
	ErrorMessage       string            `json:"errorMessage,omitempty"`
	Created            time.Time         `json:"created"`
	Modified           time.Time         `json:"modified"`
	Reconciled         bool              `json:"reconciled"`
}

// Clone returns a deep copy of the transaction snapshot.
func (t Transaction) Clone() Transaction {
	c := t
	c.Order = t.Order.Clone()
	if t.SimulationResult != nil {
		r := *t.SimulationResult
		c.SimulationResult = &r
	}
	return c
}

// SimulationStatus is the outcome of a simulation.
type SimulationStatus string

const (
	SimulationOK     SimulationStatus = "OK"
	SimulationFailed SimulationStatus = "FEIL"
)

// SimulationResult is what the simulation service answered for an order.
type SimulationResult struct {
	Status       SimulationStatus `json:"status"`
	ErrorMessage string           `json:"feilMelding,omitempty"`
	Recipient    *SimulatedPayout `json:"mottaker,omitempty"`
}

// SimulatedPayout is the calculated payout for the subject of the order.
type SimulatedPayout struct {
	SubjectID    string            `json:"gjelderId"`
	SubjectName  string            `json:"gjelderNavn"`
	CalculatedAt string            `json:"datoBeregnet"`
	TotalAmount  decimal.Decimal   `json:"totalBelop"`
	Periods      []SimulatedPeriod `json:"periodeList"`
}

// SimulatedPeriod is one calculated period of a simulated payout.
type SimulatedPeriod struct {
	ID            string          `json:"id"`
	From          string          `json:"faktiskFom"`
	To            string          `json:"faktiskTom"`
	DueDate       string          `json:"forfall"`
	PayableToID   string          `json:"utbetalesTilId"`
	PayableToName string          `json:"utbetalesTilNavn"`
	Account       string          `json:"konto"`
	Amount        decimal.Decimal `json:"belop"`
	Rate          decimal.Decimal `json:"sats"`
	RateType      RateType        `json:"typeSats"`
	Grade         int             `json:"uforegrad"`
}
