package avstemming

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

// Action (aksjonType) says where in a batch a message belongs.
type Action string

const (
	ActionStart Action = "START"
	ActionData  Action = "DATA"
	ActionEnd   Action = "AVSL"
)

// Kind separates the two DATA message shapes: per-subject details and the totals.
type Kind int

const (
	KindStart Kind = iota
	KindData
	KindTotals
	KindEnd
)

// DetailType classifies a transaction in a data message.
type DetailType string

const (
	DetailAccepted DetailType = "GODK"
	DetailWarning  DetailType = "VARS"
	DetailRejected DetailType = "AVVI"
	DetailMissing  DetailType = "MANG"
)

// Sign (fortegn) is T for a non-negative amount and F for a negative one.
type Sign string

const (
	SignPositive Sign = "T"
	SignNegative Sign = "F"
)

// Message is one reconciliation message (avstemmingsdata).
type Message struct {
	XMLName xml.Name  `xml:"avstemmingsdata"`
	Kind    Kind      `xml:"-"`
	Aksjon  Aksjon    `xml:"aksjon"`
	Total   *Total    `xml:"total,omitempty"`
	Periode *Periode  `xml:"periode,omitempty"`
	Basis   *Grunnlag `xml:"grunnlag,omitempty"`
	Details []Detail  `xml:"detalj,omitempty"`
}

type Aksjon struct {
	Type               Action `xml:"aksjonType"`
	SourceType         string `xml:"kildeType"`
	ReconciliationType string `xml:"avstemmingType"`
	SenderComponent    string `xml:"avleverendeKomponentKode"`
	ReceiverComponent  string `xml:"mottakendeKomponentKode"`
	SubComponent       string `xml:"underkomponentKode"`
	KeyFrom            string `xml:"nokkelFom"`
	KeyTo              string `xml:"nokkelTom"`
	BatchID            string `xml:"avleverendeAvstemmingId"`
	UserID             string `xml:"brukerId"`
}

type Total struct {
	Count    int    `xml:"totalAntall"`
	Amount   string `xml:"totalBelop"`
	Sign     Sign   `xml:"fortegn"`
	Checksum string `xml:"kontrollsum"`
}

type Periode struct {
	From string `xml:"datoAvstemtFom"`
	To   string `xml:"datoAvstemtTom"`
}

type Grunnlag struct {
	AcceptedCount  int    `xml:"godkjentAntall"`
	AcceptedAmount string `xml:"godkjentBelop"`
	AcceptedSign   Sign   `xml:"godkjentFortegn"`
	WarningCount   int    `xml:"varselAntall"`
	WarningAmount  string `xml:"varselBelop"`
	WarningSign    Sign   `xml:"varselFortegn"`
	RejectedCount  int    `xml:"avvistAntall"`
	RejectedAmount string `xml:"avvistBelop"`
	RejectedSign   Sign   `xml:"avvistFortegn"`
	MissingCount   int    `xml:"manglerAntall"`
	MissingAmount  string `xml:"manglerBelop"`
	MissingSign    Sign   `xml:"manglerFortegn"`
}

type Detail struct {
	Type           DetailType `xml:"detaljType"`
	SubjectID      string     `xml:"offnr"`
	TransactionKey string     `xml:"avleverendeTransaksjonNokkel"`
	Timestamp      string     `xml:"tidspunkt"`
	MessageCode    string     `xml:"meldingKode,omitempty"`
	Severity       string     `xml:"alvorlighetsgrad,omitempty"`
	Text           string     `xml:"tekstMelding,omitempty"`
}

// Marshal renders a message as an XML document.
func Marshal(m Message) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(m); err != nil {
		return nil, fmt.Errorf("avstemming: marshal %s message: %w", m.Aksjon.Type, err)
	}
	return buf.Bytes(), nil
}
