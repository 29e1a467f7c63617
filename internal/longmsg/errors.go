package longmsg

import (
	"fmt"

	"github.com/thrillee/aegis-smpp/internal/pdu"
)

// TooLongError rejects a message before any part is sent.
type TooLongError struct {
	Parts int
	Max   int
}

func (e *TooLongError) Error() string {
	return fmt.Sprintf("longmsg: message needs %d parts, limit is %d", e.Parts, e.Max)
}

func (e *TooLongError) CommandStatus() pdu.CommandStatus { return pdu.StatusInvMsgLen }

// TransactionError reports a reference number that is already in use or
// that no open group owns.
type TransactionError struct {
	Ref uint16
	Msg string
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("longmsg: ref %d: %s", e.Ref, e.Msg)
}

func (e *TransactionError) CommandStatus() pdu.CommandStatus { return pdu.StatusSysErr }
