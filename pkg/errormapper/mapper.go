package errormapper

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/thrillee/aegis-smpp/internal/pdu"
)

// Internal codes to the SMPP status returned to the submitting application.
var internalToSMPP = map[string]pdu.CommandStatus{
	ErrorCodeNoRoute:           pdu.StatusInvDstAdr,
	ErrorCodeInvalidSenderID:   pdu.StatusInvSrcAdr,
	ErrorCodeInvalidMSISDN:     pdu.StatusInvDstAdr,
	ErrorCodeValidationFailure: pdu.StatusInvMsgID,
	ErrorCodeThrottled:         pdu.StatusThrottled,
	ErrorCodeMnoUnavailable:    pdu.StatusMsgQFul,
	ErrorCodeMnoSubmitFail:     pdu.StatusSubmitFail,
	ErrorCodeMnoTimeout:        pdu.StatusSubmitFail,
	ErrorCodeQueueError:        pdu.StatusMsgQFul,
	ErrorCodeSystemError:       pdu.StatusSysErr,
}

// MapErrorCode translates an internal error code to an SMPP status. Unknown
// codes map to ESME_RSYSERR.
func MapErrorCode(internalCode string) pdu.CommandStatus {
	internalCode = strings.ToUpper(internalCode) // Normalize internal code
	if status, ok := internalToSMPP[internalCode]; ok {
		return status
	}
	slog.Debug("No specific mapping found for error code, returning default",
		slog.String("internal_code", internalCode),
		slog.String("default_status", pdu.StatusSysErr.String()),
	)
	return pdu.StatusSysErr
}

// CodedError tags an error with an internal code.
type CodedError struct {
	Code string
	Err  error
}

func (e *CodedError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *CodedError) Unwrap() error { return e.Err }

// WithCode wraps err with an internal code.
func WithCode(code string, err error) error {
	return &CodedError{Code: code, Err: err}
}

// statusCarrier is implemented by every engine error that already knows
// which status to put on the wire.
type statusCarrier interface {
	CommandStatus() pdu.CommandStatus
}

// StatusFor picks the command_status answering a request that failed with
// err. nil maps to ESME_ROK.
func StatusFor(err error) pdu.CommandStatus {
	if err == nil {
		return pdu.StatusOK
	}
	var sc statusCarrier
	if errors.As(err, &sc) {
		return sc.CommandStatus()
	}
	var ce *CodedError
	if errors.As(err, &ce) {
		return MapErrorCode(ce.Code)
	}
	return pdu.StatusSysErr
}

var stateToStat = map[pdu.MessageState]string{
	pdu.StateAccepted:      StatusCodeAccepted,
	pdu.StateUndeliverable: StatusCodeUndeliverable,
	pdu.StateRejected:      StatusCodeRejected,
	pdu.StateDelivered:     StatusCodeDelivered,
	pdu.StateExpired:       StatusCodeExpired,
	pdu.StateDeleted:       StatusCodeDeleted,
	pdu.StateUnknown:       StatusCodeUnknown,
}

// StatForState returns the receipt stat word for a message_state. States
// without a word (ENROUTE, null) report UNKNOWN.
func StatForState(s pdu.MessageState) string {
	if stat, ok := stateToStat[s]; ok {
		return stat
	}
	return StatusCodeUnknown
}

// StateForStat is the inverse of StatForState. ENROUTE is recognised too.
func StateForStat(stat string) pdu.MessageState {
	if strings.EqualFold(stat, "ENROUTE") {
		return pdu.StateEnroute
	}
	for state, s := range stateToStat {
		if strings.EqualFold(s, stat) {
			return state
		}
	}
	return pdu.StateUnknown
}

// ErrUnknownMessageStatus is returned by ReceiptStatus for status strings it
// cannot place.
var ErrUnknownMessageStatus = errors.New("errormapper: unknown message status")

// ReceiptStatus resolves the status a receipt is built for: either a
// command_status name ("ESME_ROK", "ESME_RTHROTTLED", ...) from the submit
// response or a receipt stat word. It returns the stat word, the
// message_state and the numeric err field.
func ReceiptStatus(status string) (stat string, state pdu.MessageState, errCode int, err error) {
	if strings.HasPrefix(status, "ESME_") {
		if status == "ESME_ROK" {
			return StatusCodeAccepted, pdu.StateAccepted, 0, nil
		}
		return StatusCodeUndeliverable, pdu.StateUndeliverable, 10, nil
	}
	switch status {
	case StatusCodeUndeliverable:
		return status, pdu.StateUndeliverable, 10, nil
	case StatusCodeRejected:
		return status, pdu.StateRejected, 20, nil
	case StatusCodeDelivered:
		return status, pdu.StateDelivered, 0, nil
	case StatusCodeExpired:
		return status, pdu.StateExpired, 30, nil
	case StatusCodeDeleted:
		return status, pdu.StateDeleted, 40, nil
	case StatusCodeAccepted:
		return status, pdu.StateAccepted, 0, nil
	case StatusCodeUnknown:
		return status, pdu.StateUnknown, 50, nil
	}
	return "", 0, 0, fmt.Errorf("%w: %q", ErrUnknownMessageStatus, status)
}
