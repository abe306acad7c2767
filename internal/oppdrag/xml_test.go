package oppdrag

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/spenn-service/internal/domain"
)

func refundOrder() domain.PaymentOrder {
	maxDate := domain.Date(2011, time.December, 13)
	return domain.PaymentOrder{
		PaymentReference:   "1001",
		SubjectID:          "12345678901",
		OrganisationNumber: "123456789",
		Caseworker:         "Z999999",
		MaxDate:            &maxDate,
		Lines: []domain.PaymentLine{{
			ID:        "0",
			Rate:      decimal.NewFromInt(1234),
			RateType:  domain.RateTypeMonthly,
			DateFrom:  domain.Date(2011, time.January, 1),
			DateTo:    domain.Date(2011, time.January, 31),
			PayableTo: "123456789",
			Grade:     100,
		}},
	}
}

func TestSimulationRequest_RefundLineHasNoDirectRecipient(t *testing.T) {
	codec := NewCodec("")
	key := domain.KeyAt(time.Date(2011, time.February, 1, 8, 0, 0, 0, time.UTC))

	req := codec.SimulationRequest(refundOrder(), key)

	if len(req.Order.Lines) != 1 {
		t.Fatalf("expected one line, got %d", len(req.Order.Lines))
	}
	line := req.Order.Lines[0]
	if line.PayableToID != nil {
		t.Fatalf("expected null direct recipient, got %q", *line.PayableToID)
	}
	if line.Refund == nil {
		t.Fatal("expected refund info")
	}
	if line.Refund.RecipientID != "00123456789" {
		t.Fatalf("expected padded refund recipient, got %q", line.Refund.RecipientID)
	}
	if line.Refund.MaxDate != "2011-12-13" {
		t.Fatalf("expected max date 2011-12-13, got %q", line.Refund.MaxDate)
	}
	if line.Refund.DateFrom != "2011-01-01" {
		t.Fatalf("expected refund from-date 2011-01-01, got %q", line.Refund.DateFrom)
	}
	if req.Order.Fagomraade != DefaultFagomraade || req.Order.Key != key.String() {
		t.Fatalf("unexpected order header %+v", req.Order)
	}
	if req.SimulateFrom != "2011-01-01" || req.SimulateTo != "2011-01-31" {
		t.Fatalf("unexpected simulation period %s..%s", req.SimulateFrom, req.SimulateTo)
	}

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(body), `"utbetalesTilId":null`) {
		t.Fatalf("expected explicit null recipient in %s", body)
	}
}

func TestOrderRequest_RoundTripsThroughXML(t *testing.T) {
	codec := NewCodec("SPREF")
	key := domain.KeyAt(time.Date(2011, time.February, 1, 8, 30, 15, 123456000, time.UTC))
	order := refundOrder()

	data, err := codec.Marshal(codec.OrderRequest(order, key))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), "<tidspktMelding>2011-02-01-08.30.15.123456</tidspktMelding>") {
		t.Fatalf("expected formatted timestamp in %s", data)
	}

	doc, err := codec.Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got, err := doc.PaymentOrder()
	if err != nil {
		t.Fatalf("payment order: %v", err)
	}

	if got.PaymentReference != order.PaymentReference || got.SubjectID != order.SubjectID {
		t.Fatalf("header mismatch: %+v", got)
	}
	if got.OrganisationNumber != order.OrganisationNumber {
		t.Fatalf("expected organisation number %s, got %s", order.OrganisationNumber, got.OrganisationNumber)
	}
	if got.Key != key {
		t.Fatalf("expected key %d, got %d", key, got.Key)
	}
	if len(got.Lines) != 1 {
		t.Fatalf("expected one line, got %d", len(got.Lines))
	}
	line := got.Lines[0]
	want := order.Lines[0]
	if line.ID != want.ID || !line.Rate.Equal(want.Rate) || line.RateType != want.RateType ||
		!line.DateFrom.Equal(want.DateFrom) || !line.DateTo.Equal(want.DateTo) ||
		line.PayableTo != want.PayableTo || line.Grade != want.Grade {
		t.Fatalf("line mismatch: got %+v want %+v", line, want)
	}
	if got.MaxDate == nil || !got.MaxDate.Equal(*order.MaxDate) {
		t.Fatalf("expected max date %v, got %v", order.MaxDate, got.MaxDate)
	}
}

func TestOrderRequest_Annulment(t *testing.T) {
	codec := NewCodec("SPREF")
	from := domain.Date(2011, time.January, 1)
	to := domain.Date(2011, time.March, 31)
	order := domain.PaymentOrder{
		PaymentReference: "1001",
		SubjectID:        "12345678901",
		Caseworker:       "Z999999",
		StatusChangeFrom: &from,
		OriginalOrderTo:  &to,
	}

	doc := codec.OrderRequest(order, domain.KeyAt(time.Now()))
	if doc.Oppdrag110.Change != "ENDR" {
		t.Fatalf("expected ENDR for annulment, got %s", doc.Oppdrag110.Change)
	}
	if len(doc.Oppdrag110.Oppdragslinjer) != 1 || doc.Oppdrag110.Oppdragslinjer[0].Status != "OPPH" {
		t.Fatalf("expected a single stopping line, got %+v", doc.Oppdrag110.Oppdragslinjer)
	}

	data, err := codec.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	parsed, err := codec.Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	back, err := parsed.PaymentOrder()
	if err != nil {
		t.Fatalf("payment order: %v", err)
	}
	if !back.IsAnnulment() {
		t.Fatalf("expected annulment, got %d lines", len(back.Lines))
	}
	if back.StatusChangeFrom == nil || !back.StatusChangeFrom.Equal(from) {
		t.Fatalf("expected status change from %v, got %v", from, back.StatusChangeFrom)
	}
	if back.OriginalOrderTo == nil || !back.OriginalOrderTo.Equal(to) {
		t.Fatalf("expected original order to %v, got %v", to, back.OriginalOrderTo)
	}
}

func TestDecodeResponse(t *testing.T) {
	codec := NewCodec("SPREF")
	tests := []struct {
		name     string
		severity string
		want     domain.TransactionStatus
	}{
		{name: "accepted", severity: "00", want: domain.StatusFinished},
		{name: "warning", severity: "04", want: domain.StatusFailed},
		{name: "rejected", severity: "08", want: domain.StatusFailed},
		{name: "technical", severity: "12", want: domain.StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := `<?xml version="1.0" encoding="UTF-8"?>
<ns2:oppdrag xmlns:ns2="http://www.trygdeetaten.no/skjema/oppdrag">
  <mmel>
    <systemId>231-OPPD</systemId>
    <kodeMelding>B110006F</kodeMelding>
    <alvorlighetsgrad>` + tt.severity + `</alvorlighetsgrad>
    <beskrMelding>Oppdraget finnes fra før</beskrMelding>
  </mmel>
  <oppdrag-110>
    <kodeAksjon>1</kodeAksjon>
    <kodeEndring>NY</kodeEndring>
    <kodeFagomraade>SPREF</kodeFagomraade>
    <fagsystemId>1001</fagsystemId>
    <utbetFrekvens>MND</utbetFrekvens>
    <oppdragGjelderId>12345678901</oppdragGjelderId>
    <datoOppdragGjelderFom>1970-01-01</datoOppdragGjelderFom>
    <saksbehId>Z999999</saksbehId>
    <avstemming-115>
      <kodeKomponent>SP</kodeKomponent>
      <nokkelAvstemming>1296549015123456000</nokkelAvstemming>
      <tidspktMelding>2011-02-01-08.30.15.123456</tidspktMelding>
    </avstemming-115>
  </oppdrag-110>
</ns2:oppdrag>`

			resp, err := codec.DecodeResponse([]byte(raw))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.PaymentReference != "1001" {
				t.Fatalf("expected reference 1001, got %q", resp.PaymentReference)
			}
			if resp.Key != domain.ReconciliationKey(1296549015123456000) {
				t.Fatalf("unexpected key %d", resp.Key)
			}
			if resp.Status() != tt.want {
				t.Fatalf("expected status %s, got %s", tt.want, resp.Status())
			}
			if resp.MessageCode != "B110006F" || resp.Description != "Oppdraget finnes fra før" {
				t.Fatalf("unexpected message %+v", resp)
			}
			if resp.Raw != raw {
				t.Fatal("expected raw response to be kept")
			}
		})
	}
}

func TestDecodeResponse_RejectsResponseWithoutVerdict(t *testing.T) {
	codec := NewCodec("SPREF")
	data, err := codec.Marshal(codec.OrderRequest(refundOrder(), domain.KeyAt(time.Now())))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if _, err := codec.DecodeResponse(data); err == nil {
		t.Fatal("expected error for request document without mmel block")
	}
}

func TestRefundRecipientID(t *testing.T) {
	tests := map[string]string{
		"123456789":   "00123456789",
		"12345678901": "12345678901",
		" 987654321 ": "00987654321",
	}
	for in, want := range tests {
		if got := RefundRecipientID(in); got != want {
			t.Fatalf("RefundRecipientID(%q) = %q, want %q", in, got, want)
		}
	}
}
