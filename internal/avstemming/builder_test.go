package avstemming

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/spenn-service/internal/domain"
)

const rejectedResponse = `<?xml version="1.0" encoding="UTF-8"?>
<oppdrag>
  <mmel>
    <systemId>231-OPPD</systemId>
    <kodeMelding>B110008F</kodeMelding>
    <alvorlighetsgrad>08</alvorlighetsgrad>
    <beskrMelding>Oppdraget finnes fra før</beskrMelding>
  </mmel>
  <oppdrag-110>
    <kodeAksjon>1</kodeAksjon>
    <kodeEndring>NY</kodeEndring>
    <kodeFagomraade>SPREF</kodeFagomraade>
    <fagsystemId>ref-3</fagsystemId>
    <utbetFrekvens>MND</utbetFrekvens>
    <oppdragGjelderId>22222222222</oppdragGjelderId>
    <datoOppdragGjelderFom>1970-01-01</datoOppdragGjelderFom>
    <saksbehId>SPA</saksbehId>
    <avstemming-115>
      <kodeKomponent>SP</kodeKomponent>
      <nokkelAvstemming>3</nokkelAvstemming>
      <tidspktMelding>2019-09-01-12.00.00.000000</tidspktMelding>
    </avstemming-115>
    <oppdrags-enhet-120>
      <typeEnhet>BOS</typeEnhet>
      <enhet>8020</enhet>
      <datoEnhetFom>1970-01-01</datoEnhetFom>
    </oppdrags-enhet-120>
  </oppdrag-110>
</oppdrag>`

func txFor(id int64, subject string, status domain.TransactionStatus, severity string, rate int64) domain.Transaction {
	base := time.Date(2019, time.September, 1, 12, 0, 0, 0, time.UTC)
	return domain.Transaction{
		ID:               id,
		PaymentReference: "ref-" + decimal.NewFromInt(id).String(),
		Key:              domain.KeyAt(base.Add(time.Duration(id) * time.Second)),
		Status:           status,
		Severity:         severity,
		Order: domain.PaymentOrder{
			PaymentReference: "ref-" + decimal.NewFromInt(id).String(),
			SubjectID:        subject,
			Lines: []domain.PaymentLine{{
				ID:       "0",
				Rate:     decimal.NewFromInt(rate),
				RateType: domain.RateTypeDaily,
				// Monday to Friday.
				DateFrom: domain.Date(2019, time.September, 2),
				DateTo:   domain.Date(2019, time.September, 6),
			}},
		},
	}
}

func sample() []domain.Transaction {
	rejected := txFor(3, "22222222222", domain.StatusFailed, "08", 300)
	rejected.SettlementResponse = rejectedResponse
	return []domain.Transaction{
		txFor(1, "11111111111", domain.StatusFinished, "00", 100),
		txFor(2, "22222222222", domain.StatusFailed, "04", 200),
		rejected,
		txFor(4, "11111111111", domain.StatusFailed, "", 400),
		txFor(5, "33333333333", domain.StatusFinished, "00", 500),
	}
}

func newTestBuilder(chunk int) *Builder {
	b := NewBuilder("SYKEPENGER_REFUSJON", chunk)
	b.NewID = func() string { return "batch-1" }
	return b
}

func TestBuild_MessageSequence(t *testing.T) {
	batch, err := newTestBuilder(0).Build(sample())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	msgs := batch.Messages
	if msgs[0].Kind != KindStart || msgs[0].Aksjon.Type != ActionStart {
		t.Fatalf("first message = %v/%s, want start", msgs[0].Kind, msgs[0].Aksjon.Type)
	}
	if last := msgs[len(msgs)-1]; last.Kind != KindEnd || last.Aksjon.Type != ActionEnd {
		t.Fatalf("last message = %v/%s, want end", last.Kind, last.Aksjon.Type)
	}
	totals := msgs[len(msgs)-2]
	if totals.Kind != KindTotals || totals.Total == nil || totals.Basis == nil || totals.Periode == nil {
		t.Fatalf("second to last message is not a totals message: %+v", totals)
	}
	for _, m := range msgs {
		if m.Aksjon.BatchID != "batch-1" || m.Aksjon.SubComponent != "SYKEPENGER_REFUSJON" {
			t.Fatalf("unexpected header %+v", m.Aksjon)
		}
	}
	if msgs[0].Aksjon.KeyFrom != sample()[0].Key.String() || msgs[0].Aksjon.KeyTo != sample()[4].Key.String() {
		t.Fatalf("key range = %s..%s", msgs[0].Aksjon.KeyFrom, msgs[0].Aksjon.KeyTo)
	}
}

func TestBuild_DataMessagesCoverEveryTransactionOnce(t *testing.T) {
	txs := sample()
	batch, err := newTestBuilder(0).Build(txs)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	var got []string
	var subjects []string
	for _, m := range batch.Messages {
		if m.Kind != KindData {
			continue
		}
		subjects = append(subjects, m.Details[0].SubjectID)
		for _, d := range m.Details {
			if d.SubjectID != m.Details[0].SubjectID {
				t.Fatalf("message mixes subjects %s and %s", m.Details[0].SubjectID, d.SubjectID)
			}
			got = append(got, d.TransactionKey)
		}
	}

	want := []string{"ref-1", "ref-4", "ref-2", "ref-3", "ref-5"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("details = %v, want %v", got, want)
	}
	if strings.Join(subjects, ",") != "11111111111,22222222222,33333333333" {
		t.Fatalf("subjects = %v", subjects)
	}
}

func TestBuild_TotalsPartitionByOutcome(t *testing.T) {
	batch, err := newTestBuilder(0).Build(sample())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	totals := batch.Messages[len(batch.Messages)-2]

	// Five weekdays per order.
	if totals.Total.Count != 5 || totals.Total.Amount != "7500.00" || totals.Total.Sign != SignPositive {
		t.Fatalf("total = %+v", totals.Total)
	}
	g := totals.Basis
	if sum := g.AcceptedCount + g.WarningCount + g.RejectedCount + g.MissingCount; sum != 5 {
		t.Fatalf("outcome counts sum to %d, want 5", sum)
	}
	checks := []struct {
		name   string
		count  int
		amount string
		want   int
		wantAm string
	}{
		{"accepted", g.AcceptedCount, g.AcceptedAmount, 2, "3000.00"},
		{"warning", g.WarningCount, g.WarningAmount, 1, "1000.00"},
		{"rejected", g.RejectedCount, g.RejectedAmount, 1, "1500.00"},
		{"missing", g.MissingCount, g.MissingAmount, 1, "2000.00"},
	}
	for _, c := range checks {
		t.Run(c.name, func(t *testing.T) {
			if c.count != c.want || c.amount != c.wantAm {
				t.Fatalf("%s = %d/%s, want %d/%s", c.name, c.count, c.amount, c.want, c.wantAm)
			}
		})
	}
}

func TestBuild_RejectedDetailCarriesSettlementMessage(t *testing.T) {
	batch, err := newTestBuilder(0).Build(sample())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	for _, m := range batch.Messages {
		for _, d := range m.Details {
			if d.TransactionKey != "ref-3" {
				continue
			}
			if d.Type != DetailRejected || d.MessageCode != "B110008F" || d.Severity != "08" {
				t.Fatalf("detail = %+v", d)
			}
			if d.Text != "Oppdraget finnes fra før" {
				t.Fatalf("text = %q", d.Text)
			}
			return
		}
	}
	t.Fatal("rejected transaction missing from data messages")
}

func TestBuild_ChecksumIsOrderIndependent(t *testing.T) {
	txs := sample()
	reversed := make([]domain.Transaction, len(txs))
	for i, tx := range txs {
		reversed[len(txs)-1-i] = tx
	}

	a, err := newTestBuilder(0).Build(txs)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	b, err := newTestBuilder(0).Build(reversed)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if a.Checksum != b.Checksum {
		t.Fatalf("checksum differs: %d vs %d", a.Checksum, b.Checksum)
	}

	c, _ := newTestBuilder(0).Build(txs[:4])
	if c.Checksum == a.Checksum {
		t.Fatal("dropping a transaction must change the checksum")
	}
}

func TestBuild_ChunksLargeSubjects(t *testing.T) {
	var txs []domain.Transaction
	for i := int64(1); i <= 5; i++ {
		txs = append(txs, txFor(i, "11111111111", domain.StatusFinished, "00", 10))
	}
	batch, err := newTestBuilder(2).Build(txs)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	var sizes []int
	for _, m := range batch.Messages {
		if m.Kind == KindData {
			sizes = append(sizes, len(m.Details))
		}
	}
	if len(sizes) != 3 || sizes[0] != 2 || sizes[1] != 2 || sizes[2] != 1 {
		t.Fatalf("chunk sizes = %v, want [2 2 1]", sizes)
	}
}

func TestBuild_AnnulmentContributesNothing(t *testing.T) {
	annulment := txFor(1, "11111111111", domain.StatusFinished, "00", 0)
	annulment.Order.Lines = nil
	batch, err := newTestBuilder(0).Build([]domain.Transaction{annulment})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	total := batch.Messages[len(batch.Messages)-2].Total
	if total.Count != 1 || total.Amount != "0.00" || total.Sign != SignPositive {
		t.Fatalf("total = %+v", total)
	}
}

func TestBuild_NegativeSumHasNegativeSign(t *testing.T) {
	tx := txFor(1, "11111111111", domain.StatusFinished, "00", -100)
	batch, err := newTestBuilder(0).Build([]domain.Transaction{tx})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	total := batch.Messages[len(batch.Messages)-2].Total
	if total.Sign != SignNegative || total.Amount != "500.00" {
		t.Fatalf("total = %+v, want 500.00 with sign F", total)
	}
}

func TestBuild_ExcludesMalformedTransactions(t *testing.T) {
	noKey := txFor(7, "11111111111", domain.StatusFinished, "00", 10)
	noKey.Key = 0
	unsubmitted := txFor(8, "11111111111", domain.StatusSimulationOK, "", 10)
	garbled := txFor(9, "11111111111", domain.StatusFailed, "08", 10)
	garbled.SettlementResponse = "<oppdrag>"

	txs := append(sample(), noKey, unsubmitted, garbled)
	batch, err := newTestBuilder(0).Build(txs)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(batch.Included) != 5 {
		t.Fatalf("included = %d, want 5", len(batch.Included))
	}
	if len(batch.Excluded) != 3 {
		t.Fatalf("excluded = %d, want 3", len(batch.Excluded))
	}
	for _, ex := range batch.Excluded {
		if ex.Err == nil {
			t.Fatalf("exclusion of %d has no reason", ex.Transaction.ID)
		}
	}
}

func TestBuild_ReportsUnansweredAsMissing(t *testing.T) {
	sent := txFor(8, "11111111111", domain.StatusSentToSettlement, "", 10)

	batch, err := newTestBuilder(0).Build(append(sample(), sent))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(batch.Included) != 5 {
		t.Fatalf("included = %d, want 5", len(batch.Included))
	}
	if len(batch.Unanswered) != 1 || batch.Unanswered[0].ID != sent.ID {
		t.Fatalf("unanswered = %+v, want transaction %d", batch.Unanswered, sent.ID)
	}

	var found bool
	for _, m := range batch.Messages {
		for _, d := range m.Details {
			if d.TransactionKey == sent.PaymentReference {
				found = true
				if d.Type != DetailMissing {
					t.Fatalf("detail type = %s, want %s", d.Type, DetailMissing)
				}
			}
		}
	}
	if !found {
		t.Fatal("expected a detail for the unanswered transaction")
	}

	// transactions 4 and 8 have no settlement answer
	totals := batch.Messages[len(batch.Messages)-2]
	if totals.Basis.MissingCount != 2 {
		t.Fatalf("missing count = %d, want 2", totals.Basis.MissingCount)
	}
}

func TestBuild_OnlyUnansweredTransactions(t *testing.T) {
	sent := txFor(1, "11111111111", domain.StatusSentToSettlement, "", 10)

	batch, err := newTestBuilder(0).Build([]domain.Transaction{sent})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(batch.Included) != 0 || len(batch.Unanswered) != 1 {
		t.Fatalf("included = %d, unanswered = %d, want 0 and 1", len(batch.Included), len(batch.Unanswered))
	}
	if len(batch.Messages) != 4 {
		t.Fatalf("messages = %d, want 4", len(batch.Messages))
	}
}

func TestBuild_NothingToReconcile(t *testing.T) {
	unsubmitted := txFor(1, "11111111111", domain.StatusStarted, "", 10)
	batch, err := newTestBuilder(0).Build([]domain.Transaction{unsubmitted})
	if !errors.Is(err, ErrNoTransactions) {
		t.Fatalf("Build() error = %v, want ErrNoTransactions", err)
	}
	if len(batch.Excluded) != 1 {
		t.Fatalf("excluded = %d, want 1", len(batch.Excluded))
	}
}

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		status   domain.TransactionStatus
		severity string
		want     Outcome
	}{
		{domain.StatusFinished, "00", OutcomeAccepted},
		{domain.StatusFailed, "04", OutcomeWarning},
		{domain.StatusFailed, "08", OutcomeRejected},
		{domain.StatusFailed, "12", OutcomeRejected},
		{domain.StatusFailed, "", OutcomeMissing},
		{domain.StatusSentToSettlement, "", OutcomeMissing},
	}
	for _, tt := range tests {
		t.Run(string(tt.status)+"/"+tt.severity, func(t *testing.T) {
			if got := OutcomeOf(domain.Transaction{Status: tt.status, Severity: tt.severity}); got != tt.want {
				t.Fatalf("OutcomeOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMarshal(t *testing.T) {
	batch, err := newTestBuilder(0).Build(sample())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	out, err := Marshal(batch.Messages[len(batch.Messages)-2])
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	for _, want := range []string{"<avstemmingsdata>", "<aksjonType>DATA</aksjonType>", "<totalAntall>5</totalAntall>", "<godkjentFortegn>T</godkjentFortegn>"} {
		if !strings.Contains(string(out), want) {
			t.Fatalf("marshalled message missing %s:\n%s", want, out)
		}
	}
}
