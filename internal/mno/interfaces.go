package mno

import (
	"context"
	"errors"
	"time"

	"github.com/thrillee/aegis-smpp/internal/dlr"
	"github.com/thrillee/aegis-smpp/internal/future"
	"github.com/thrillee/aegis-smpp/internal/pdu"
	"github.com/thrillee/aegis-smpp/internal/session"
)

var (
	// ErrNotBound is returned when a connector has no bound session.
	ErrNotBound = errors.New("mno: connector not bound")
	// ErrUnknownConnector is returned by Manager lookups.
	ErrUnknownConnector = errors.New("mno: unknown connector")
)

// InboundMessage is one logical message received from a carrier: a
// mobile-originated message after reassembly, or a delivery receipt.
type InboundMessage struct {
	ConnectorID string
	// PDU is the merged deliver_sm or data_sm.
	PDU         pdu.PDU
	Source      string
	Destination string
	Payload     []byte
	Coding      pdu.DataCoding
	// Receipt is set for delivery receipts; CorrelationID is then the id
	// the receipted message was submitted under, or empty when unknown.
	Receipt       *dlr.Receipt
	CorrelationID string
	ReceivedAt    time.Time
}

// InboundHandler is called once per logical inbound message. Returning an
// error answers the last part with its status (see errormapper.StatusFor).
type InboundHandler func(ctx context.Context, msg InboundMessage) error

// SubmitResult is the outcome of a submit the carrier accepted.
type SubmitResult struct {
	// MessageID is the carrier's id, taken from the last part's response.
	MessageID string
	Result    session.Result
}

// Connector is one carrier bind.
type Connector interface {
	ID() string
	// Run connects, binds and keeps the bind up until ctx ends.
	Run(ctx context.Context) error
	// SendLongOrShort sends p, splitting it when needed.
	SendLongOrShort(ctx context.Context, p pdu.PDU) (*future.Future[session.Result], error)
	// Submit sends p, waits for the carrier to accept it and remembers
	// the carrier message id for receipt matching.
	Submit(ctx context.Context, correlationID string, p pdu.PDU) (SubmitResult, error)
	Status() string
}
