package domain

import (
	"strings"
	"time"
)

// DataCoding indicates the encoding scheme of the short message.
type DataCoding int

const (
	DataCodingDefault DataCoding = 0 // GSM 7 bit
	DataCodingUCS2    DataCoding = 8 // UCS2 (ISO/IEC-10646)
)

// DataCodingFor selects UCS2 when the text carries any code point outside
// U+0000..U+00FF, the default alphabet otherwise.
func DataCodingFor(text string) DataCoding {
	for _, r := range text {
		if r > 0xFF {
			return DataCodingUCS2
		}
	}
	return DataCodingDefault
}

// NormalizeAddress strips the leading "+" convention used by some
// producers; the gateway expects bare international numbers.
func NormalizeAddress(addr string) string {
	return strings.ReplaceAll(addr, "+", "")
}

// NormalizeHookDestination prefixes a webhook-pushed short destination with
// the country code and collapses a duplicated "9898" prefix to a single
// "98".
func NormalizeHookDestination(to string) string {
	dest := "98" + to
	if strings.HasPrefix(dest, "9898") {
		dest = dest[2:]
	}
	return dest
}

// OutboundMessage is one pending outbox row read for dispatch.
type OutboundMessage struct {
	ID                 string
	SourceAddress      string
	DestinationAddress string
	Text               string
	DataCoding         DataCoding
	CreatedAt          time.Time
}

// MessageSendModel is the wire shape of one message inside a send batch.
// Field names follow the upstream gateway contract; Udh carries the outbox
// row id as the correlation id.
type MessageSendModel struct {
	Udh                string `json:"Udh"`
	MessageText        string `json:"MessageText"`
	SourceAddress      string `json:"SourceAddress"`
	DestinationAddress string `json:"DestinationAddress"`
	DataCoding         int    `json:"DataCoding"`
	HasUdh             bool   `json:"HasUdh"`
}

// SendModelFor normalizes one outbox row into its wire shape.
func SendModelFor(m OutboundMessage) MessageSendModel {
	return MessageSendModel{
		Udh:                m.ID,
		MessageText:        m.Text,
		SourceAddress:      NormalizeAddress(m.SourceAddress),
		DestinationAddress: NormalizeAddress(m.DestinationAddress),
		DataCoding:         int(DataCodingFor(m.Text)),
	}
}

// SendResult is the interpreted per-message outcome of a gateway send,
// ready for the after-send write-back.
type SendResult struct {
	ID       string // outbox row id (correlation)
	ReturnID string // gateway-assigned tracking id
	Parts    int
	Upstream string
	Accepted bool
	SentAt   time.Time
}

// DlrPartStatus is one part of a multi-part message inside a DLR response.
// The upstream serializes tuples as Item1/Item2/Item3.
type DlrPartStatus struct {
	Part   int            `json:"Item1"`
	Status DeliveryStatus `json:"Item2"`
	Time   *time.Time     `json:"Item3"`
}

// DlrStatus is the upstream delivery-state record for one tracking id.
type DlrStatus struct {
	ID             string          `json:"Id"`
	PartStatus     []DlrPartStatus `json:"PartStatus"`
	DeliveryStatus DeliveryStatus  `json:"DeliveryStatus"`
	DeliveryDate   *time.Time      `json:"DeliveryDate"`
	Udh            string          `json:"Udh"`
}

// FullyDelivered reports whether every part reached the handset.
func (d DlrStatus) FullyDelivered() bool {
	if len(d.PartStatus) == 0 {
		return false
	}
	for _, p := range d.PartStatus {
		if p.Status != StatusDelivered {
			return false
		}
	}
	return true
}

// DlrRecord is one delivery write-back row keyed by tracking code.
type DlrRecord struct {
	TrackingCode string
	PartNumber   int
	Status       DeliveryStatus
	DeliveredAt  time.Time
	FullDelivery bool
}

// MoDto is the upstream wire shape of one inbound (MO) message.
type MoDto struct {
	ID                 string    `json:"Id"`
	SourceAddress      string    `json:"SourceAddress"`
	DestinationAddress string    `json:"DestinationAddress"`
	MessageText        string    `json:"MessageText"`
	ReceiveDateTime    time.Time `json:"ReceiveDateTime"`
	IsRead             bool      `json:"IsRead"`
}

// MoRecord is one inbox insert row.
type MoRecord struct {
	SourceAddress      string
	DestinationAddress string
	Text               string
	ReceivedAt         time.Time
}
