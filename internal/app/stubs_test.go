package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	"github.com/transfa/spenn-service/internal/domain"
	"github.com/transfa/spenn-service/internal/oppdrag"
	"github.com/transfa/spenn-service/internal/store"
	"github.com/transfa/spenn-service/pkg/rabbitmq"
)

const (
	testSubject      = "12345678901"
	testOrganisation = "999999999"
)

var testClock = time.Date(2019, time.September, 20, 8, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memoryRepoStub keeps transactions in memory with the same write semantics as the
// Postgres repository.
type memoryRepoStub struct {
	store.Repository

	mu     sync.Mutex
	txs    []domain.Transaction
	nextID int64
	clock  time.Time

	extensionCalls int
}

func newMemoryRepo() *memoryRepoStub {
	return &memoryRepoStub{clock: testClock.Add(-24 * time.Hour)}
}

// seed stores a transaction directly, bypassing the service.
func (r *memoryRepoStub) seed(order domain.PaymentOrder, status domain.TransactionStatus, key domain.ReconciliationKey) domain.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(order, status, key)
}

func (r *memoryRepoStub) insertLocked(order domain.PaymentOrder, status domain.TransactionStatus, key domain.ReconciliationKey) domain.Transaction {
	r.nextID++
	r.clock = r.clock.Add(time.Minute)
	tx := domain.Transaction{
		ID:               r.nextID,
		PaymentReference: order.PaymentReference,
		Key:              key,
		Order:            order.Clone(),
		Status:           status,
		Created:          r.clock,
		Modified:         r.clock,
	}
	r.txs = append(r.txs, tx)
	return tx.Clone()
}

func (r *memoryRepoStub) hasReference(ref string) bool {
	for _, tx := range r.txs {
		if tx.PaymentReference == ref {
			return true
		}
	}
	return false
}

func (r *memoryRepoStub) byID(id int64) (*domain.Transaction, error) {
	for i := range r.txs {
		if r.txs[i].ID == id {
			return &r.txs[i], nil
		}
	}
	return nil, store.ErrTransactionNotFound
}

func (r *memoryRepoStub) Insert(ctx context.Context, order domain.PaymentOrder) (domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hasReference(order.PaymentReference) {
		return domain.Transaction{}, store.ErrDuplicateTransaction
	}
	return r.insertLocked(order, domain.StatusStarted, 0), nil
}

func (r *memoryRepoStub) InsertExtension(ctx context.Context, order domain.PaymentOrder) (domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extensionCalls++
	if !r.hasReference(order.PaymentReference) {
		return domain.Transaction{}, store.ErrOrderNotFound
	}
	return r.insertLocked(order, domain.StatusStarted, 0), nil
}

func (r *memoryRepoStub) FindByReference(ctx context.Context, ref string) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range r.txs {
		if tx.PaymentReference == ref {
			out = append(out, tx.Clone())
		}
	}
	return out, nil
}

func (r *memoryRepoStub) FindByReferenceAndKey(ctx context.Context, ref string, key domain.ReconciliationKey) (domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.txs {
		if tx.PaymentReference == ref && tx.Key == key {
			return tx.Clone(), nil
		}
	}
	return domain.Transaction{}, store.ErrTransactionNotFound
}

func (r *memoryRepoStub) FindAllByStatus(ctx context.Context, status domain.TransactionStatus, limit int) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range r.txs {
		if tx.Status == status && (limit <= 0 || len(out) < limit) {
			out = append(out, tx.Clone())
		}
	}
	return out, nil
}

func (r *memoryRepoStub) FindUnreconciledNotAfter(ctx context.Context, cutoff domain.ReconciliationKey) ([]domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Transaction
	for _, tx := range r.txs {
		if !tx.Key.IsZero() && !tx.Reconciled && tx.Key <= cutoff {
			out = append(out, tx.Clone())
		}
	}
	return out, nil
}

func (r *memoryRepoStub) UpdateStatusAndKey(ctx context.Context, tx domain.Transaction, status domain.TransactionStatus, key domain.ReconciliationKey) (domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, err := r.byID(tx.ID)
	if err != nil {
		return domain.Transaction{}, err
	}
	stored.Status = status
	stored.Key = key
	return stored.Clone(), nil
}

func (r *memoryRepoStub) UpdateSimulationResult(ctx context.Context, tx domain.Transaction, status domain.TransactionStatus, result domain.SimulationResult) (domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, err := r.byID(tx.ID)
	if err != nil {
		return domain.Transaction{}, err
	}
	stored.Status = status
	stored.SimulationResult = &result
	return stored.Clone(), nil
}

func (r *memoryRepoStub) UpdateSettlementResponse(ctx context.Context, ref string, key domain.ReconciliationKey, update store.SettlementUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.txs {
		if r.txs[i].PaymentReference == ref && r.txs[i].Key == key {
			r.txs[i].Status = update.Status
			r.txs[i].SettlementResponse = update.Response
			r.txs[i].Severity = update.Severity
			r.txs[i].ErrorMessage = update.ErrorMessage
			return nil
		}
	}
	return store.ErrTransactionNotFound
}

func (r *memoryRepoStub) Stop(ctx context.Context, tx domain.Transaction, errorMessage string) (domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, err := r.byID(tx.ID)
	if err != nil {
		return domain.Transaction{}, err
	}
	stored.Status = domain.StatusFailed
	stored.ErrorMessage = errorMessage
	return stored.Clone(), nil
}

func (r *memoryRepoStub) MarkReconciled(ctx context.Context, tx domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, err := r.byID(tx.ID)
	if err != nil {
		return err
	}
	stored.Reconciled = true
	return nil
}

func (r *memoryRepoStub) get(id int64) domain.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, err := r.byID(id)
	if err != nil {
		return domain.Transaction{}
	}
	return stored.Clone()
}

func (r *memoryRepoStub) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.txs)
}

type publishedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

type sentMessage struct {
	queue string
	msg   rabbitmq.QueueMessage
}

type publisherStub struct {
	mu        sync.Mutex
	published []publishedEvent
	sent      []sentMessage
	sendErr   error
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, publishedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func (p *publisherStub) Send(ctx context.Context, queue string, msg rabbitmq.QueueMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sendErr != nil {
		return p.sendErr
	}
	p.sent = append(p.sent, sentMessage{queue: queue, msg: msg})
	return nil
}

func (p *publisherStub) Close() {}

func (p *publisherStub) outcomes() []domain.PaymentOutcomeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.PaymentOutcomeEvent
	for _, e := range p.published {
		if event, ok := e.body.(domain.PaymentOutcomeEvent); ok {
			out = append(out, event)
		}
	}
	return out
}

type lockerStub struct {
	held     bool
	err      error
	lost     bool
	locked   []string
	renewed  int
	unlocked []string
}

func (l *lockerStub) TryLock(ctx context.Context, name string) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	if l.held {
		return false, nil
	}
	l.locked = append(l.locked, name)
	return true, nil
}

func (l *lockerStub) Renew(ctx context.Context, name string) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.renewed++
	return !l.lost, nil
}

func (l *lockerStub) Unlock(ctx context.Context, name string) error {
	l.unlocked = append(l.unlocked, name)
	return nil
}

var errUnavailable = errors.New("service unavailable")

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("read counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func newTestService(repo store.Repository) *Service {
	clock := testClock
	keys := oppdrag.NewKeyGenerator(func() time.Time { return clock })
	return NewService(repo, oppdrag.NewCodec(oppdrag.DefaultFagomraade), keys, discardLogger())
}

// refundOrder is a single-line daily-rate refund order for one reference.
func refundOrder(ref, correlationID string, from, to time.Time, rate string) domain.PaymentOrder {
	maxDate := domain.Date(2020, time.June, 30)
	return domain.PaymentOrder{
		CorrelationID:      correlationID,
		PaymentReference:   ref,
		SubjectID:          testSubject,
		OrganisationNumber: testOrganisation,
		Caseworker:         "Z999999",
		MaxDate:            &maxDate,
		Lines: []domain.PaymentLine{{
			ID:        "0",
			Rate:      decimal.RequireFromString(rate),
			RateType:  domain.RateTypeDaily,
			DateFrom:  from,
			DateTo:    to,
			PayableTo: testOrganisation,
			Grade:     100,
		}},
		Timestamp: testClock,
	}
}

func annulmentOrder(ref, correlationID string) domain.PaymentOrder {
	return domain.PaymentOrder{
		CorrelationID:      correlationID,
		PaymentReference:   ref,
		SubjectID:          testSubject,
		OrganisationNumber: testOrganisation,
		Lines:              []domain.PaymentLine{},
		Timestamp:          testClock,
	}
}

func okSimulation(order domain.PaymentOrder) domain.SimulationResult {
	return domain.SimulationResult{
		Status: domain.SimulationOK,
		Recipient: &domain.SimulatedPayout{
			SubjectID:   order.SubjectID,
			TotalAmount: order.TotalAmount(),
		},
	}
}

// settlementReply builds the settlement system's reply to the submitted transaction.
func settlementReply(codec *oppdrag.Codec, tx domain.Transaction, severity, code, description string) []byte {
	doc := codec.OrderRequest(tx.Order, tx.Key)
	doc.Mmel = &oppdrag.Mmel{
		SystemID:    "231-OPPD",
		MessageCode: code,
		Severity:    severity,
		Description: description,
	}
	data, err := codec.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return data
}
