package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/thrillee/aegis-smpp/internal/pdu"
)

var (
	// ErrSessionClosed rejects every transaction still open when a session
	// ends. All other cancellation errors wrap it.
	ErrSessionClosed = errors.New("smpp: session closed")

	// ErrConnectionCorrupted means PDU boundaries were lost on the stream.
	ErrConnectionCorrupted = fmt.Errorf("smpp: connection corrupted: %w", ErrSessionClosed)

	ErrUnknownSystemID = errors.New("smpp: unknown system_id")
	ErrInvalidPassword = errors.New("smpp: invalid password")
	ErrBindLimit       = errors.New("smpp: bind limit reached")
)

// SessionStateError reports an operation that is not valid in the
// session's current state.
type SessionStateError struct {
	Op    string
	State State
	// Err is ErrSessionClosed when the error cancels outstanding work.
	Err error
}

func (e *SessionStateError) Error() string {
	return fmt.Sprintf("smpp: %s not allowed in state %s", e.Op, e.State)
}

func (e *SessionStateError) Unwrap() error { return e.Err }

func (e *SessionStateError) CommandStatus() pdu.CommandStatus { return pdu.StatusInvBndSts }

// TimeoutError is returned when a request gets no response in time.
type TimeoutError struct {
	Request pdu.PDU
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("smpp: %s timed out after %s", e.Request, e.After)
}

// Timeout lets callers treat the error like a net.Error.
func (e *TimeoutError) Timeout() bool { return true }

// ProtocolMismatchError is an OK response whose type does not answer the
// request.
type ProtocolMismatchError struct {
	Request  pdu.PDU
	Response pdu.PDU
}

func (e *ProtocolMismatchError) Error() string {
	return fmt.Sprintf("smpp: %s answered with %s", e.Request.CommandID(), e.Response.CommandID())
}

// GenericNackError is a generic_nack received for a request.
type GenericNackError struct {
	Request  pdu.PDU
	Response pdu.PDU
}

func (e *GenericNackError) Error() string {
	return fmt.Sprintf("smpp: %s rejected with generic_nack %s", e.Request.CommandID(), e.Response.Status())
}

func (e *GenericNackError) CommandStatus() pdu.CommandStatus { return e.Response.Status() }

// TransactionError is a response with a status other than ESME_ROK.
type TransactionError struct {
	Request  pdu.PDU
	Response pdu.PDU
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("smpp: %s failed: %s", e.Request.CommandID(), e.Response.Status())
}

func (e *TransactionError) CommandStatus() pdu.CommandStatus { return e.Response.Status() }

// ProtocolError is returned by request handlers to answer with Status while
// keeping the session up.
type ProtocolError struct {
	Status pdu.CommandStatus
	Msg    string
}

func (e *ProtocolError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("smpp: protocol error %s", e.Status)
	}
	return fmt.Sprintf("smpp: %s (%s)", e.Msg, e.Status)
}

func (e *ProtocolError) CommandStatus() pdu.CommandStatus { return e.Status }

// InterceptionError carries a status chosen by an external hook, for
// example a routing or charging interceptor that refused the message.
type InterceptionError struct {
	Status pdu.CommandStatus
	Err    error
}

func (e *InterceptionError) Error() string {
	return fmt.Sprintf("smpp: intercepted with %s: %v", e.Status, e.Err)
}

func (e *InterceptionError) Unwrap() error { return e.Err }

func (e *InterceptionError) CommandStatus() pdu.CommandStatus { return e.Status }

// bindStatus picks the status a failed bind is answered with.
func bindStatus(err error) pdu.CommandStatus {
	var pe *ProtocolError
	var ie *InterceptionError
	switch {
	case errors.Is(err, ErrUnknownSystemID):
		return pdu.StatusInvSysID
	case errors.Is(err, ErrInvalidPassword):
		return pdu.StatusInvPaswd
	case errors.As(err, &pe):
		return pe.Status
	case errors.As(err, &ie):
		return ie.Status
	}
	return pdu.StatusBindFail
}
