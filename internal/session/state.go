package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/looplab/fsm"

	"github.com/thrillee/aegis-smpp/internal/pdu"
)

// State is the SMPP session state.
type State string

const (
	StateNone           State = "NONE"
	StateOpen           State = "OPEN"
	StateBindTXPending  State = "BIND_TX_PENDING"
	StateBindRXPending  State = "BIND_RX_PENDING"
	StateBindTRXPending State = "BIND_TRX_PENDING"
	StateBoundTX        State = "BOUND_TX"
	StateBoundRX        State = "BOUND_RX"
	StateBoundTRX       State = "BOUND_TRX"
	StateUnbindPending  State = "UNBIND_PENDING"
	StateUnbindReceived State = "UNBIND_RECEIVED"
	StateUnbound        State = "UNBOUND"
)

// Bound reports whether st is one of the three bound states.
func (st State) Bound() bool {
	return st == StateBoundTX || st == StateBoundRX || st == StateBoundTRX
}

// Role says which side of the bind a session plays.
type Role int

const (
	// RoleClient binds to a carrier SMSC.
	RoleClient Role = iota
	// RoleServer accepts binds from downstream applications.
	RoleServer
)

func (r Role) String() string {
	if r == RoleServer {
		return "server"
	}
	return "client"
}

func (r Role) peer() Role {
	if r == RoleServer {
		return RoleClient
	}
	return RoleServer
}

// BindType is the role a bind negotiates.
type BindType int

const (
	BindTransmitter BindType = iota + 1
	BindReceiver
	BindTransceiver
)

func (b BindType) String() string {
	switch b {
	case BindTransmitter:
		return "transmitter"
	case BindReceiver:
		return "receiver"
	case BindTransceiver:
		return "transceiver"
	}
	return fmt.Sprintf("BindType(%d)", int(b))
}

// ParseBindType accepts the long names and the tx/rx/trx shorthands.
func ParseBindType(s string) (BindType, error) {
	switch strings.ToLower(s) {
	case "trx", "transceiver":
		return BindTransceiver, nil
	case "tx", "transmitter":
		return BindTransmitter, nil
	case "rx", "receiver":
		return BindReceiver, nil
	}
	return 0, fmt.Errorf("smpp: unsupported bind type %q", s)
}

// Command returns the bind request for b.
func (b BindType) Command() pdu.CommandID {
	switch b {
	case BindTransmitter:
		return pdu.BindTransmitter
	case BindReceiver:
		return pdu.BindReceiver
	}
	return pdu.BindTransceiver
}

func bindTypeOf(id pdu.CommandID) (BindType, bool) {
	switch id {
	case pdu.BindTransmitter:
		return BindTransmitter, true
	case pdu.BindReceiver:
		return BindReceiver, true
	case pdu.BindTransceiver:
		return BindTransceiver, true
	}
	return 0, false
}

func (b BindType) pending() State {
	switch b {
	case BindTransmitter:
		return StateBindTXPending
	case BindReceiver:
		return StateBindRXPending
	}
	return StateBindTRXPending
}

func (b BindType) bound() State {
	switch b {
	case BindTransmitter:
		return StateBoundTX
	case BindReceiver:
		return StateBoundRX
	}
	return StateBoundTRX
}

// canSend reports whether the side playing from may send request id over a
// bind of type b. Session management PDUs are not covered here.
func canSend(from Role, id pdu.CommandID, b BindType) bool {
	if from == RoleClient {
		switch id {
		case pdu.SubmitSM, pdu.SubmitMulti, pdu.DataSM, pdu.QuerySM, pdu.CancelSM, pdu.ReplaceSM:
			return b == BindTransmitter || b == BindTransceiver
		}
		return false
	}
	switch id {
	case pdu.DeliverSM, pdu.DataSM, pdu.AlertNotification:
		return b == BindReceiver || b == BindTransceiver
	}
	return false
}

// Events of the session state machine.
const (
	evOpen           = "open"
	evBindTX         = "bind_tx"
	evBindRX         = "bind_rx"
	evBindTRX        = "bind_trx"
	evBound          = "bound"
	evBindFailed     = "bind_failed"
	evUnbind         = "unbind"
	evUnbindReceived = "unbind_received"
	evClose          = "close"
)

func bindEvent(b BindType) string {
	switch b {
	case BindTransmitter:
		return evBindTX
	case BindReceiver:
		return evBindRX
	}
	return evBindTRX
}

func states(sts ...State) []string {
	out := make([]string, len(sts))
	for i, st := range sts {
		out[i] = string(st)
	}
	return out
}

// newStateMachine builds the transition table. Clients pass through a
// pending state while their bind is in flight; servers do the same while
// the authenticator runs.
func newStateMachine(enter func(ctx context.Context, e *fsm.Event)) *fsm.FSM {
	bound := []State{StateBoundTX, StateBoundRX, StateBoundTRX}
	pending := []State{StateBindTXPending, StateBindRXPending, StateBindTRXPending}
	live := append(append([]State{StateOpen, StateUnbindPending}, bound...), pending...)

	events := fsm.Events{
		{Name: evOpen, Src: states(StateNone), Dst: string(StateOpen)},
		{Name: evBindTX, Src: states(StateOpen), Dst: string(StateBindTXPending)},
		{Name: evBindRX, Src: states(StateOpen), Dst: string(StateBindRXPending)},
		{Name: evBindTRX, Src: states(StateOpen), Dst: string(StateBindTRXPending)},
		{Name: evUnbind, Src: states(bound...), Dst: string(StateUnbindPending)},
		{Name: evUnbindReceived, Src: states(live...), Dst: string(StateUnbindReceived)},
		{Name: evClose, Src: states(append(live, StateNone, StateUnbindReceived)...), Dst: string(StateUnbound)},
	}
	// "bound" leaves each pending state for its own bound state; a failed
	// server-side bind goes back to OPEN through "bind_failed".
	for i, p := range pending {
		events = append(events,
			fsm.EventDesc{Name: evBound, Src: states(p), Dst: string(bound[i])},
			fsm.EventDesc{Name: evBindFailed, Src: states(p), Dst: string(StateOpen)},
		)
	}
	return fsm.NewFSM(string(StateNone), events, fsm.Callbacks{"enter_state": enter})
}
