package oppdrag

import (
	"time"

	"github.com/transfa/spenn-service/internal/domain"
)

// SimulationRequest asks the simulation service to calculate the payout of an order
// without booking it.
type SimulationRequest struct {
	Order        SimulationOrder `json:"oppdrag"`
	SimulateFrom string          `json:"simuleringsPeriodeFom,omitempty"`
	SimulateTo   string          `json:"simuleringsPeriodeTom,omitempty"`
}

type SimulationOrder struct {
	Change      string           `json:"kodeEndring"`
	Fagomraade  string           `json:"kodeFagomraade"`
	FagsystemID string           `json:"fagsystemId"`
	Frequency   string           `json:"utbetFrekvens"`
	SubjectID   string           `json:"oppdragGjelderId"`
	SubjectFrom string           `json:"datoOppdragGjelderFom"`
	Caseworker  string           `json:"saksbehId"`
	Key         string           `json:"nokkelAvstemming"`
	Unit        string           `json:"enhet"`
	Lines       []SimulationLine `json:"oppdragslinje"`
}

type SimulationLine struct {
	Change         string          `json:"kodeEndringLinje"`
	Status         string          `json:"kodeStatusLinje,omitempty"`
	StatusFrom     string          `json:"datoStatusFom,omitempty"`
	LineID         string          `json:"delytelseId"`
	Classification string          `json:"kodeKlassifik"`
	DateFrom       string          `json:"datoVedtakFom"`
	DateTo         string          `json:"datoVedtakTom"`
	Rate           string          `json:"sats"`
	DeductionOrAdd string          `json:"fradragTillegg"`
	RateType       string          `json:"typeSats"`
	Caseworker     string          `json:"saksbehId"`
	PayableToID    *string         `json:"utbetalesTilId"`
	Reference      string          `json:"henvisning"`
	Grade          int             `json:"grad"`
	Refund         *SimulationInfo `json:"refusjonsInfo,omitempty"`
}

type SimulationInfo struct {
	RecipientID string `json:"refunderesId"`
	MaxDate     string `json:"maksDato,omitempty"`
	DateFrom    string `json:"datoFom"`
}

// SimulationRequest maps an order to a simulation request under the given key. Lines
// paid to an employer carry no direct recipient; the employer is named in the refund
// info instead.
func (c *Codec) SimulationRequest(order domain.PaymentOrder, key domain.ReconciliationKey) SimulationRequest {
	wire := c.OrderRequest(order, key).Oppdrag110

	req := SimulationRequest{
		Order: SimulationOrder{
			Change:      wire.Change,
			Fagomraade:  wire.Fagomraade,
			FagsystemID: wire.FagsystemID,
			Frequency:   wire.Frequency,
			SubjectID:   wire.SubjectID,
			SubjectFrom: wire.SubjectFrom,
			Caseworker:  wire.Caseworker,
			Key:         wire.Avstemming115.Key,
			Unit:        wire.OppdragsEnhet.Unit,
			Lines:       make([]SimulationLine, 0, len(wire.Oppdragslinjer)),
		},
	}

	for _, l := range wire.Oppdragslinjer {
		line := SimulationLine{
			Change:         l.Change,
			Status:         l.Status,
			StatusFrom:     l.StatusFrom,
			LineID:         l.LineID,
			Classification: l.Classification,
			DateFrom:       l.DateFrom,
			DateTo:         l.DateTo,
			Rate:           l.Rate,
			DeductionOrAdd: l.DeductionOrAdd,
			RateType:       l.RateType,
			Caseworker:     l.Caseworker,
			Reference:      l.Reference,
		}
		if l.PayableToID != "" {
			payableTo := l.PayableToID
			line.PayableToID = &payableTo
		}
		if l.Grade != nil {
			line.Grade = l.Grade.Grade
		}
		if l.Refund != nil {
			line.Refund = &SimulationInfo{
				RecipientID: l.Refund.RecipientID,
				MaxDate:     l.Refund.MaxDate,
				DateFrom:    l.Refund.DateFrom,
			}
		}
		req.Order.Lines = append(req.Order.Lines, line)
	}

	if from, to, ok := period(order); ok {
		req.SimulateFrom = from.Format(domain.DateLayout)
		req.SimulateTo = to.Format(domain.DateLayout)
	}
	return req
}

func period(order domain.PaymentOrder) (from, to time.Time, ok bool) {
	for i, line := range order.Lines {
		if i == 0 || line.DateFrom.Before(from) {
			from = line.DateFrom
		}
		if i == 0 || line.DateTo.After(to) {
			to = line.DateTo
		}
	}
	return from, to, len(order.Lines) > 0
}
