// Package sms queues outbound messages and dispatches them to carriers.
package sms

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/thrillee/aegis-smpp/internal/pdu"
	"github.com/thrillee/aegis-smpp/pkg/segmenter"
)

// Envelope is one queued message.
type Envelope struct {
	// CorrelationID identifies the message to whoever queued it; receipts
	// are matched back to it.
	CorrelationID string
	// ConnectorID selects the carrier. Empty means the default one.
	ConnectorID string
	// SystemID is the ESME the message came from, if any.
	SystemID   string
	PDU        pdu.PDU
	Expiration time.Time
	CreatedAt  time.Time
	// Priority envelopes are fetched before all others.
	Priority int
	Attempts int
}

// Expired reports whether the envelope may no longer be sent at now. A
// zero Expiration never expires.
func (e Envelope) Expired(now time.Time) bool {
	return !e.Expiration.IsZero() && !now.Before(e.Expiration)
}

type envelopeJSON struct {
	CorrelationID string    `json:"correlation_id"`
	ConnectorID   string    `json:"connector_id,omitempty"`
	SystemID      string    `json:"system_id,omitempty"`
	PDU           []byte    `json:"pdu"`
	Expiration    time.Time `json:"expiration"`
	CreatedAt     time.Time `json:"created_at"`
	Priority      int       `json:"priority,omitempty"`
	Attempts      int       `json:"attempts,omitempty"`
}

// MarshalJSON stores the PDU in its wire form.
func (e Envelope) MarshalJSON() ([]byte, error) {
	// The sequence number is assigned when the PDU is sent.
	raw, err := pdu.Encode(e.PDU.WithSeq(1))
	if err != nil {
		return nil, fmt.Errorf("sms: encode envelope %s: %w", e.CorrelationID, err)
	}
	return json.Marshal(envelopeJSON{
		CorrelationID: e.CorrelationID,
		ConnectorID:   e.ConnectorID,
		SystemID:      e.SystemID,
		PDU:           raw,
		Expiration:    e.Expiration,
		CreatedAt:     e.CreatedAt,
		Priority:      e.Priority,
		Attempts:      e.Attempts,
	})
}

func (e *Envelope) UnmarshalJSON(b []byte) error {
	var j envelopeJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	p, _, err := pdu.Decode(j.PDU)
	if err != nil {
		return fmt.Errorf("sms: decode envelope %s: %w", j.CorrelationID, err)
	}
	*e = Envelope{
		CorrelationID: j.CorrelationID,
		ConnectorID:   j.ConnectorID,
		SystemID:      j.SystemID,
		PDU:           p,
		Expiration:    j.Expiration,
		CreatedAt:     j.CreatedAt,
		Priority:      j.Priority,
		Attempts:      j.Attempts,
	}
	return nil
}

// Message is plain text to be sent.
type Message struct {
	CorrelationID string
	ConnectorID   string
	Source        string
	Destination   string
	Text          string
	Receipt       bool
	// TTL bounds how long the message may wait in the queue.
	TTL      time.Duration
	Priority int
}

// NewEnvelope encodes m into a submit_sm. Text longer than one
// short_message travels in message_payload and is split when sent.
func NewEnvelope(m Message, seg segmenter.Segmenter, now time.Time) (Envelope, error) {
	if m.Destination == "" {
		return Envelope{}, errors.New("sms: message has no destination")
	}
	payload, coding, err := seg.Encode(m.Text)
	if err != nil {
		return Envelope{}, err
	}
	params := pdu.Params{
		pdu.ParamSourceAddr:      m.Source,
		pdu.ParamDestinationAddr: m.Destination,
		pdu.ParamDataCoding:      coding,
	}
	if m.Receipt {
		params[pdu.ParamRegisteredDelivery] = pdu.ReceiptRequested
	}
	if len(payload) <= segmenter.CapacityFor(coding).Single {
		params[pdu.ParamShortMessage] = payload
	} else {
		params[pdu.ParamMessagePayload] = payload
	}

	env := Envelope{
		CorrelationID: m.CorrelationID,
		ConnectorID:   m.ConnectorID,
		PDU:           pdu.New(pdu.SubmitSM, params),
		CreatedAt:     now,
		Priority:      m.Priority,
	}
	if m.TTL > 0 {
		env.Expiration = now.Add(m.TTL)
	}
	return env, nil
}
