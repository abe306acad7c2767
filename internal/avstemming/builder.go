/**
 * @description
 * Reconciliation batch builder. Groups submitted transactions into the message sequence
 * the settlement system reconciles against: start, per-subject data, totals, end.
 * The builder never mutates its input; marking transactions as reconciled is up to
 * the caller once the batch has been delivered.
 */
package avstemming

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/spenn-service/internal/domain"
	"github.com/transfa/spenn-service/internal/oppdrag"
)

const (
	DefaultChunkSize = 70

	sourceType        = "AVLEV"
	reconciliation    = "GRSN"
	senderComponent   = "SP"
	receiverComponent = "OS"
	userID            = "SPENN"
	periodLayout      = "2006010215"
)

var ErrNoTransactions = errors.New("avstemming: no transactions to reconcile")

// Outcome is how the settlement system ended up treating a transaction.
type Outcome string

const (
	OutcomeAccepted Outcome = "GODKJENT"
	OutcomeWarning  Outcome = "VARSEL"
	OutcomeRejected Outcome = "AVVIST"
	OutcomeMissing  Outcome = "MANGLER"
)

// OutcomeOf classifies a transaction by status and settlement severity. A transaction
// without a settlement answer is reported as missing.
func OutcomeOf(tx domain.Transaction) Outcome {
	switch tx.Status {
	case domain.StatusFinished:
		return OutcomeAccepted
	case domain.StatusFailed:
		switch tx.Severity {
		case oppdrag.SeverityWarning:
			return OutcomeWarning
		case "":
			return OutcomeMissing
		default:
			return OutcomeRejected
		}
	default:
		return OutcomeMissing
	}
}

// Exclusion is a transaction left out of a batch, and why.
type Exclusion struct {
	Transaction domain.Transaction
	Err         error
}

// Batch is the full message sequence for one reconciliation run. Included holds the
// terminal transactions the batch settles. Unanswered transactions are reported as
// missing but stay open until the settlement system answers.
type Batch struct {
	ID         string
	Messages   []Message
	Included   []domain.Transaction
	Unanswered []domain.Transaction
	Excluded   []Exclusion
	Checksum   uint64
}

// Builder assembles reconciliation batches for one subject area.
type Builder struct {
	Fagomraade string
	ChunkSize  int
	NewID      func() string

	codec *oppdrag.Codec
}

func NewBuilder(fagomraade string, chunkSize int) *Builder {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Builder{
		Fagomraade: fagomraade,
		ChunkSize:  chunkSize,
		NewID:      uuid.NewString,
		codec:      oppdrag.NewCodec(fagomraade),
	}
}

type entry struct {
	tx      domain.Transaction
	outcome Outcome
	amount  decimal.Decimal
	mmel    *oppdrag.Mmel
}

// Build produces the batch for txs. A transaction still waiting for its settlement
// answer is reported as missing. Transactions that cannot be reported (no key, never
// submitted, unreadable settlement response) are returned in Excluded and the rest are
// still batched. ErrNoTransactions is returned when nothing is left.
func (b *Builder) Build(txs []domain.Transaction) (Batch, error) {
	var (
		entries  []entry
		excluded []Exclusion
	)
	for _, tx := range txs {
		e, err := b.entryFor(tx)
		if err != nil {
			excluded = append(excluded, Exclusion{Transaction: tx, Err: err})
			continue
		}
		entries = append(entries, e)
	}
	if len(entries) == 0 {
		return Batch{Excluded: excluded}, ErrNoTransactions
	}

	first, last := keyRange(entries)
	id := b.newID()
	head := Aksjon{
		SourceType:         sourceType,
		ReconciliationType: reconciliation,
		SenderComponent:    senderComponent,
		ReceiverComponent:  receiverComponent,
		SubComponent:       b.Fagomraade,
		KeyFrom:            first.String(),
		KeyTo:              last.String(),
		BatchID:            id,
		UserID:             userID,
	}

	batch := Batch{ID: id, Excluded: excluded}
	batch.Messages = append(batch.Messages, message(KindStart, ActionStart, head))
	batch.Messages = append(batch.Messages, b.dataMessages(head, entries)...)

	totals := message(KindTotals, ActionData, head)
	count, amount, sign := summarize(entries)
	batch.Checksum = checksum(entries)
	totals.Total = &Total{
		Count:    count,
		Amount:   amount,
		Sign:     sign,
		Checksum: strconv.FormatUint(batch.Checksum, 10),
	}
	totals.Periode = &Periode{
		From: first.Time().Format(periodLayout),
		To:   last.Time().Format(periodLayout),
	}
	totals.Basis = basis(entries)
	batch.Messages = append(batch.Messages, totals)
	batch.Messages = append(batch.Messages, message(KindEnd, ActionEnd, head))

	for _, e := range entries {
		if e.tx.Status.IsTerminal() {
			batch.Included = append(batch.Included, e.tx)
		} else {
			batch.Unanswered = append(batch.Unanswered, e.tx)
		}
	}
	return batch, nil
}

func (b *Builder) entryFor(tx domain.Transaction) (entry, error) {
	if tx.Key.IsZero() {
		return entry{}, fmt.Errorf("transaction %d has no reconciliation key", tx.ID)
	}
	if !tx.Status.IsTerminal() && tx.Status != domain.StatusSentToSettlement {
		return entry{}, fmt.Errorf("transaction %d has unsubmitted status %s", tx.ID, tx.Status)
	}
	e := entry{tx: tx, outcome: OutcomeOf(tx), amount: tx.Order.TotalAmount()}
	if tx.SettlementResponse != "" {
		doc, err := b.codec.Unmarshal([]byte(tx.SettlementResponse))
		if err != nil {
			return entry{}, fmt.Errorf("transaction %d: %w", tx.ID, err)
		}
		e.mmel = doc.Mmel
	}
	return e, nil
}

func keyRange(entries []entry) (first, last domain.ReconciliationKey) {
	first, last = entries[0].tx.Key, entries[0].tx.Key
	for _, e := range entries[1:] {
		if e.tx.Key < first {
			first = e.tx.Key
		}
		if e.tx.Key > last {
			last = e.tx.Key
		}
	}
	return first, last
}

// dataMessages emits one message per subject, split into chunks of at most ChunkSize.
// Subjects are emitted in sorted order; transactions keep their input order.
func (b *Builder) dataMessages(head Aksjon, entries []entry) []Message {
	bySubject := make(map[string][]entry)
	var subjects []string
	for _, e := range entries {
		subject := e.tx.Order.SubjectID
		if _, ok := bySubject[subject]; !ok {
			subjects = append(subjects, subject)
		}
		bySubject[subject] = append(bySubject[subject], e)
	}
	sort.Strings(subjects)

	var out []Message
	for _, subject := range subjects {
		group := bySubject[subject]
		for start := 0; start < len(group); start += b.chunkSize() {
			end := start + b.chunkSize()
			if end > len(group) {
				end = len(group)
			}
			m := message(KindData, ActionData, head)
			for _, e := range group[start:end] {
				m.Details = append(m.Details, detail(e))
			}
			out = append(out, m)
		}
	}
	return out
}

func (b *Builder) chunkSize() int {
	if b.ChunkSize <= 0 {
		return DefaultChunkSize
	}
	return b.ChunkSize
}

func (b *Builder) newID() string {
	if b.NewID == nil {
		return uuid.NewString()
	}
	return b.NewID()
}

func message(kind Kind, action Action, head Aksjon) Message {
	head.Type = action
	return Message{Kind: kind, Aksjon: head}
}

func detail(e entry) Detail {
	d := Detail{
		Type:           detailType(e.outcome),
		SubjectID:      e.tx.Order.SubjectID,
		TransactionKey: e.tx.PaymentReference,
		Timestamp:      e.tx.Key.Time().Format(oppdrag.TimestampLayout),
	}
	if e.mmel != nil && (d.Type == DetailRejected || d.Type == DetailWarning) {
		d.MessageCode = e.mmel.MessageCode
		d.Severity = e.mmel.Severity
		d.Text = e.mmel.Description
	}
	return d
}

func detailType(o Outcome) DetailType {
	switch o {
	case OutcomeAccepted:
		return DetailAccepted
	case OutcomeWarning:
		return DetailWarning
	case OutcomeRejected:
		return DetailRejected
	default:
		return DetailMissing
	}
}

// summarize reports the magnitude of the summed amount with its sign kept apart.
func summarize(entries []entry) (int, string, Sign) {
	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.amount)
	}
	sign := SignPositive
	if sum.IsNegative() {
		sign = SignNegative
	}
	return len(entries), sum.Abs().StringFixed(2), sign
}

func basis(entries []entry) *Grunnlag {
	byOutcome := make(map[Outcome][]entry)
	for _, e := range entries {
		byOutcome[e.outcome] = append(byOutcome[e.outcome], e)
	}
	g := &Grunnlag{}
	g.AcceptedCount, g.AcceptedAmount, g.AcceptedSign = summarize(byOutcome[OutcomeAccepted])
	g.WarningCount, g.WarningAmount, g.WarningSign = summarize(byOutcome[OutcomeWarning])
	g.RejectedCount, g.RejectedAmount, g.RejectedSign = summarize(byOutcome[OutcomeRejected])
	g.MissingCount, g.MissingAmount, g.MissingSign = summarize(byOutcome[OutcomeMissing])
	return g
}

// checksum folds a per-transaction fingerprint with addition, so the result does not
// depend on the order transactions arrive in.
func checksum(entries []entry) uint64 {
	var sum uint64
	for _, e := range entries {
		sum += xxhash.Sum64String(fmt.Sprintf("%s|%s|%s|%s",
			e.tx.PaymentReference, e.tx.Key, e.tx.Status, e.amount.StringFixed(2)))
	}
	return sum
}

// Cutoff returns the newest key a sweep started at now may include.
func Cutoff(now time.Time, age time.Duration) domain.ReconciliationKey {
	return domain.KeyAt(now.Add(-age))
}
