package oppdrag

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/transfa/spenn-service/internal/domain"
)

const (
	oppdragNamespace = "http://www.trygdeetaten.no/skjema/oppdrag"

	// TimestampLayout is yyyy-MM-dd-HH.mm.ss.SSSSSS.
	TimestampLayout = "2006-01-02-15.04.05.000000"

	DefaultFagomraade = "SPREF"

	changeNew    = "NY"
	changeUpdate = "ENDR"
	lineStopped  = "OPPH"

	actionSubmit      = "1"
	frequencyMonthly  = "MND"
	componentCode     = "SP"
	unitType          = "BOS"
	unit              = "8020"
	classification    = "SPREFAG-IOP"
	deductionOrAdd    = "T"
	useSchedule       = "N"
	gradeTypeDisabled = "UFOR"
)

var subjectValidFrom = domain.Date(1970, time.January, 1)

// Severity codes (alvorlighetsgrad) returned by the settlement system.
const (
	SeverityOK       = "00"
	SeverityWarning  = "04"
	SeverityRejected = "08"
	SeverityError    = "12"
)

// Oppdrag is the settlement system's order document. Responses echo the request and
// add the Mmel block.
type Oppdrag struct {
	XMLName    xml.Name   `xml:"oppdrag"`
	Xmlns      string     `xml:"xmlns,attr,omitempty"`
	Mmel       *Mmel      `xml:"mmel,omitempty"`
	Oppdrag110 Oppdrag110 `xml:"oppdrag-110"`
}

// Mmel carries the settlement system's verdict.
type Mmel struct {
	SystemID    string `xml:"systemId,omitempty"`
	MessageCode string `xml:"kodeMelding,omitempty"`
	Severity    string `xml:"alvorlighetsgrad"`
	Description string `xml:"beskrMelding,omitempty"`
}

type Oppdrag110 struct {
	Action         string          `xml:"kodeAksjon"`
	Change         string          `xml:"kodeEndring"`
	Fagomraade     string          `xml:"kodeFagomraade"`
	FagsystemID    string          `xml:"fagsystemId"`
	Frequency      string          `xml:"utbetFrekvens"`
	SubjectID      string          `xml:"oppdragGjelderId"`
	SubjectFrom    string          `xml:"datoOppdragGjelderFom"`
	Caseworker     string          `xml:"saksbehId"`
	Avstemming115  Avstemming115   `xml:"avstemming-115"`
	OppdragsEnhet  OppdragsEnhet   `xml:"oppdrags-enhet-120"`
	Oppdragslinjer []Oppdragslinje `xml:"oppdrags-linje-150"`
}

type Avstemming115 struct {
	Component string `xml:"kodeKomponent"`
	Key       string `xml:"nokkelAvstemming"`
	Timestamp string `xml:"tidspktMelding"`
}

type OppdragsEnhet struct {
	Type     string `xml:"typeEnhet"`
	Unit     string `xml:"enhet"`
	UnitFrom string `xml:"datoEnhetFom"`
}

type Oppdragslinje struct {
	Change         string         `xml:"kodeEndringLinje"`
	Status         string         `xml:"kodeStatusLinje,omitempty"`
	StatusFrom     string         `xml:"datoStatusFom,omitempty"`
	LineID         string         `xml:"delytelseId,omitempty"`
	Classification string         `xml:"kodeKlassifik"`
	DateFrom       string         `xml:"datoVedtakFom"`
	DateTo         string         `xml:"datoVedtakTom"`
	Rate           string         `xml:"sats,omitempty"`
	DeductionOrAdd string         `xml:"fradragTillegg"`
	RateType       string         `xml:"typeSats,omitempty"`
	UseSchedule    string         `xml:"brukKjoreplan"`
	Caseworker     string         `xml:"saksbehId"`
	PayableToID    string         `xml:"utbetalesTilId,omitempty"`
	Reference      string         `xml:"henvisning"`
	Grade          *Grad          `xml:"grad-170,omitempty"`
	Attestant      *Attestant     `xml:"attestant-180,omitempty"`
	Refund         *Refusjonsinfo `xml:"refusjonsinfo-156,omitempty"`
}

type Grad struct {
	Type  string `xml:"typeGrad"`
	Grade int    `xml:"grad"`
}

type Attestant struct {
	ID string `xml:"attestantId"`
}

type Refusjonsinfo struct {
	MaxDate     string `xml:"maksDato,omitempty"`
	RecipientID string `xml:"refunderesId"`
	DateFrom    string `xml:"datoFom"`
}

// Codec maps transactions to and from the settlement system's XML format. It holds no
// per-message state and is shared by every caller.
type Codec struct {
	fagomraade string
}

func NewCodec(fagomraade string) *Codec {
	if strings.TrimSpace(fagomraade) == "" {
		fagomraade = DefaultFagomraade
	}
	return &Codec{fagomraade: fagomraade}
}

// Fagomraade is the subject-area code the codec stamps on every order.
func (c *Codec) Fagomraade() string {
	return c.fagomraade
}

// OrderRequest maps an order and the key it is submitted under to the wire document.
func (c *Codec) OrderRequest(order domain.PaymentOrder, key domain.ReconciliationKey) *Oppdrag {
	change := changeNew
	if order.IsAnnulment() || anyChange(order.Lines) {
		change = changeUpdate
	}

	o := &Oppdrag{
		Xmlns: oppdragNamespace,
		Oppdrag110: Oppdrag110{
			Action:      actionSubmit,
			Change:      change,
			Fagomraade:  c.fagomraade,
			FagsystemID: order.PaymentReference,
			Frequency:   frequencyMonthly,
			SubjectID:   order.SubjectID,
			SubjectFrom: subjectValidFrom.Format(domain.DateLayout),
			Caseworker:  order.Caseworker,
			Avstemming115: Avstemming115{
				Component: componentCode,
				Key:       key.String(),
				Timestamp: key.Time().Format(TimestampLayout),
			},
			OppdragsEnhet: OppdragsEnhet{
				Type:     unitType,
				Unit:     unit,
				UnitFrom: subjectValidFrom.Format(domain.DateLayout),
			},
		},
	}

	if order.IsAnnulment() {
		o.Oppdrag110.Oppdragslinjer = []Oppdragslinje{c.annulmentLine(order)}
		return o
	}
	for _, line := range order.Lines {
		o.Oppdrag110.Oppdragslinjer = append(o.Oppdrag110.Oppdragslinjer, c.line(order, line))
	}
	return o
}

func (c *Codec) line(order domain.PaymentOrder, line domain.PaymentLine) Oppdragslinje {
	change := changeNew
	if line.IsChange {
		change = changeUpdate
	}
	l := Oppdragslinje{
		Change:         change,
		LineID:         line.ID,
		Classification: classification,
		DateFrom:       line.DateFrom.Format(domain.DateLayout),
		DateTo:         line.DateTo.Format(domain.DateLayout),
		Rate:           line.Rate.StringFixed(2),
		DeductionOrAdd: deductionOrAdd,
		RateType:       string(line.RateType),
		UseSchedule:    useSchedule,
		Caseworker:     order.Caseworker,
		Reference:      order.PaymentReference,
		Grade:          &Grad{Type: gradeTypeDisabled, Grade: line.Grade},
		Attestant:      &Attestant{ID: order.Caseworker},
	}
	if isRefund(order, line) {
		l.Refund = &Refusjonsinfo{
			MaxDate:     formatOptionalDate(order.MaxDate),
			RecipientID: RefundRecipientID(line.PayableTo),
			DateFrom:    line.DateFrom.Format(domain.DateLayout),
		}
	} else {
		l.PayableToID = line.PayableTo
	}
	return l
}

func (c *Codec) annulmentLine(order domain.PaymentOrder) Oppdragslinje {
	return Oppdragslinje{
		Change:         changeUpdate,
		Status:         lineStopped,
		StatusFrom:     formatOptionalDate(order.StatusChangeFrom),
		Classification: classification,
		DateFrom:       formatOptionalDate(order.StatusChangeFrom),
		DateTo:         formatOptionalDate(order.OriginalOrderTo),
		DeductionOrAdd: deductionOrAdd,
		UseSchedule:    useSchedule,
		Caseworker:     order.Caseworker,
		Reference:      order.PaymentReference,
		Attestant:      &Attestant{ID: order.Caseworker},
	}
}

// Marshal renders the document with an XML declaration.
func (c *Codec) Marshal(o *Oppdrag) ([]byte, error) {
	if o == nil {
		return nil, errors.New("oppdrag: nil document")
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(o); err != nil {
		return nil, fmt.Errorf("oppdrag: marshal: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal parses a request or response document. Namespace prefixes are ignored.
func (c *Codec) Unmarshal(data []byte) (*Oppdrag, error) {
	var o Oppdrag
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = true
	if err := dec.Decode(&o); err != nil {
		return nil, fmt.Errorf("oppdrag: unmarshal: %w", err)
	}
	return &o, nil
}

// PaymentOrder maps the document back to a payment order.
func (o *Oppdrag) PaymentOrder() (domain.PaymentOrder, error) {
	head := o.Oppdrag110
	order := domain.PaymentOrder{
		PaymentReference: head.FagsystemID,
		SubjectID:        head.SubjectID,
		Caseworker:       head.Caseworker,
		Lines:            []domain.PaymentLine{},
	}
	if head.Avstemming115.Key != "" {
		key, err := domain.ParseKey(head.Avstemming115.Key)
		if err != nil {
			return domain.PaymentOrder{}, fmt.Errorf("oppdrag: key %q: %w", head.Avstemming115.Key, err)
		}
		order.Key = key
		order.Timestamp = key.Time()
	}

	for _, l := range head.Oppdragslinjer {
		if l.Status == lineStopped {
			from, err := parseOptionalDate(l.StatusFrom)
			if err != nil {
				return domain.PaymentOrder{}, err
			}
			to, err := parseOptionalDate(l.DateTo)
			if err != nil {
				return domain.PaymentOrder{}, err
			}
			order.StatusChangeFrom, order.OriginalOrderTo = from, to
			continue
		}
		line, err := l.paymentLine()
		if err != nil {
			return domain.PaymentOrder{}, err
		}
		if l.Refund != nil {
			order.OrganisationNumber = line.PayableTo
			if order.MaxDate == nil {
				if order.MaxDate, err = parseOptionalDate(l.Refund.MaxDate); err != nil {
					return domain.PaymentOrder{}, err
				}
			}
		}
		order.Lines = append(order.Lines, line)
	}
	return order, nil
}

func (l Oppdragslinje) paymentLine() (domain.PaymentLine, error) {
	rate, err := decimal.NewFromString(l.Rate)
	if err != nil {
		return domain.PaymentLine{}, fmt.Errorf("oppdrag: line %s rate %q: %w", l.LineID, l.Rate, err)
	}
	from, err := domain.ParseDate(l.DateFrom)
	if err != nil {
		return domain.PaymentLine{}, fmt.Errorf("oppdrag: line %s: %w", l.LineID, err)
	}
	to, err := domain.ParseDate(l.DateTo)
	if err != nil {
		return domain.PaymentLine{}, fmt.Errorf("oppdrag: line %s: %w", l.LineID, err)
	}
	line := domain.PaymentLine{
		ID:        l.LineID,
		Rate:      rate,
		RateType:  domain.RateType(l.RateType),
		DateFrom:  from,
		DateTo:    to,
		PayableTo: l.PayableToID,
		IsChange:  l.Change == changeUpdate,
	}
	if l.Grade != nil {
		line.Grade = l.Grade.Grade
	}
	if l.Refund != nil {
		line.PayableTo = organisationNumberOf(l.Refund.RecipientID)
	}
	return line, nil
}

// SettlementResponse is the part of a settlement reply the service acts on.
type SettlementResponse struct {
	PaymentReference string
	Key              domain.ReconciliationKey
	Severity         string
	MessageCode      string
	Description      string
	Raw              string
}

// Status maps the reply's severity to a transaction status.
func (r SettlementResponse) Status() domain.TransactionStatus {
	if r.Severity == SeverityOK {
		return domain.StatusFinished
	}
	return domain.StatusFailed
}

// DecodeResponse parses a reply from the settlement system.
func (c *Codec) DecodeResponse(data []byte) (SettlementResponse, error) {
	o, err := c.Unmarshal(data)
	if err != nil {
		return SettlementResponse{}, err
	}
	if o.Mmel == nil {
		return SettlementResponse{}, errors.New("oppdrag: response has no mmel block")
	}
	ref := strings.TrimSpace(o.Oppdrag110.FagsystemID)
	if ref == "" {
		return SettlementResponse{}, errors.New("oppdrag: response has no fagsystemId")
	}
	key, err := domain.ParseKey(strings.TrimSpace(o.Oppdrag110.Avstemming115.Key))
	if err != nil {
		return SettlementResponse{}, fmt.Errorf("oppdrag: response key: %w", err)
	}
	return SettlementResponse{
		PaymentReference: ref,
		Key:              key,
		Severity:         strings.TrimSpace(o.Mmel.Severity),
		MessageCode:      o.Mmel.MessageCode,
		Description:      o.Mmel.Description,
		Raw:              string(data),
	}, nil
}

// RefundRecipientID left-pads an organisation number to the 11-digit id the settlement
// system expects for refund recipients.
func RefundRecipientID(organisationNumber string) string {
	id := strings.TrimSpace(organisationNumber)
	if len(id) >= 11 {
		return id
	}
	return strings.Repeat("0", 11-len(id)) + id
}

func organisationNumberOf(recipientID string) string {
	if len(recipientID) == 11 && strings.HasPrefix(recipientID, "00") {
		return recipientID[2:]
	}
	return recipientID
}

func isRefund(order domain.PaymentOrder, line domain.PaymentLine) bool {
	return line.PayableTo != "" && line.PayableTo != order.SubjectID
}

func anyChange(lines []domain.PaymentLine) bool {
	for _, l := range lines {
		if l.IsChange {
			return true
		}
	}
	return false
}

func formatOptionalDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(domain.DateLayout)
}

func parseOptionalDate(value string) (*time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	t, err := domain.ParseDate(value)
	if err != nil {
		return nil, fmt.Errorf("oppdrag: date %q: %w", value, err)
	}
	return &t, nil
}
