package sms

import (
	"errors"

	"github.com/thrillee/aegis-smpp/internal/longmsg"
	"github.com/thrillee/aegis-smpp/internal/mno"
	"github.com/thrillee/aegis-smpp/internal/pdu"
	"github.com/thrillee/aegis-smpp/internal/session"
	"github.com/thrillee/aegis-smpp/pkg/codes"
)

var (
	// ErrExpired is reported for envelopes fetched after their expiration.
	ErrExpired = errors.New("sms: message expired before it was sent")
	// ErrRetry marks a report whose envelope goes back on the queue.
	ErrRetry = errors.New("sms: retry")
)

type timeout interface{ Timeout() bool }

// StatusOf names the outcome err describes.
func StatusOf(err error) string {
	var txErr *session.TransactionError
	var tooLong *longmsg.TooLongError
	var encErr *pdu.EncodingError
	switch {
	case err == nil:
		return codes.MsgStatusSent
	case errors.Is(err, ErrExpired):
		return codes.MsgStatusExpired
	case errors.As(err, &tooLong), errors.As(err, &encErr):
		return codes.MsgStatusMalformed
	case errors.As(err, &txErr):
		return codes.MsgStatusRejected
	}
	return codes.MsgStatusFailed
}

// ErrorCode picks the error code stored with a failed report.
func ErrorCode(err error) string {
	var tooLong *longmsg.TooLongError
	var ne timeout
	switch {
	case err == nil:
		return ""
	case errors.As(err, &tooLong):
		return codes.ErrorCodeTooLong
	case errors.As(err, &ne) && ne.Timeout():
		return codes.ErrorCodeTimeout
	case errors.Is(err, mno.ErrNotBound), errors.Is(err, session.ErrSessionClosed):
		return codes.ErrorCodeUnavailable
	}
	return codes.ErrorCodeSystemError
}

// Retryable reports whether sending again later may succeed.
func Retryable(err error) bool {
	var txErr *session.TransactionError
	var ne timeout
	switch {
	case err == nil, errors.Is(err, ErrExpired):
		return false
	case errors.Is(err, mno.ErrNotBound), errors.Is(err, session.ErrSessionClosed):
		return true
	case errors.As(err, &ne) && ne.Timeout():
		return true
	case errors.As(err, &txErr):
		switch txErr.CommandStatus() {
		case pdu.StatusThrottled, pdu.StatusMsgQFul:
			return true
		}
	}
	return false
}
