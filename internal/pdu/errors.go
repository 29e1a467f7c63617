package pdu

import (
	"errors"
	"fmt"
)

// EncodingError is returned when a PDU cannot be serialised. It always
// indicates a caller bug: a missing mandatory parameter, a value outside its
// domain or a string that does not fit its field.
type EncodingError struct {
	Command CommandID
	Param   string
	Err     error
}

func (e *EncodingError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("smpp: encode %s: %v", e.Command, e.Err)
	}
	return fmt.Sprintf("smpp: encode %s.%s: %v", e.Command, e.Param, e.Err)
}

func (e *EncodingError) Unwrap() error { return e.Err }

// DecodeKind separates stream-level corruption from recoverable body errors.
type DecodeKind int

const (
	// Parse errors leave the stream framed correctly; the peer gets an error
	// response and the session continues.
	Parse DecodeKind = iota
	// Corrupt errors mean the framing can no longer be trusted.
	Corrupt
)

func (k DecodeKind) String() string {
	if k == Corrupt {
		return "corrupt"
	}
	return "parse"
}

// DecodeError carries the command status the protocol mandates for a
// malformed PDU. Header is populated as far as it could be read so the
// session can address its error response.
type DecodeError struct {
	Kind   DecodeKind
	Status CommandStatus
	Header Header
	Msg    string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("smpp: %s pdu (%s): %s", e.Kind, e.Status, e.Msg)
}

// CommandStatus returns the status to answer the offending PDU with.
func (e *DecodeError) CommandStatus() CommandStatus { return e.Status }

func corruptf(status CommandStatus, format string, args ...any) *DecodeError {
	return &DecodeError{Kind: Corrupt, Status: status, Msg: fmt.Sprintf(format, args...)}
}

func parsef(status CommandStatus, format string, args ...any) *DecodeError {
	return &DecodeError{Kind: Parse, Status: status, Msg: fmt.Sprintf(format, args...)}
}

// IsCorrupt reports whether err is a DecodeError of kind Corrupt.
func IsCorrupt(err error) bool {
	var de *DecodeError
	return errors.As(err, &de) && de.Kind == Corrupt
}

var (
	// errShortRead means a field ran past the end of its enclosing buffer.
	errShortRead = errors.New("unexpected end of data")

	ErrMissingParam = errors.New("missing mandatory parameter")
	ErrUnknownParam = errors.New("parameter not defined for command")
	ErrBadType      = errors.New("value has wrong type")
	ErrOutOfRange   = errors.New("value out of range")
	ErrTooLong      = errors.New("value too long")
	ErrMustBeNull   = errors.New("value must be null")
)
