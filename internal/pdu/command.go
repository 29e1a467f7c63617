package pdu

import (
	"fmt"
	"maps"
	"slices"
)

// CommandID identifies the PDU type carried in the header.
type CommandID uint32

// SMPP v3.4 command IDs.
const (
	GenericNack         CommandID = 0x80000000
	BindReceiver        CommandID = 0x00000001
	BindReceiverResp    CommandID = 0x80000001
	BindTransmitter     CommandID = 0x00000002
	BindTransmitterResp CommandID = 0x80000002
	QuerySM             CommandID = 0x00000003
	QuerySMResp         CommandID = 0x80000003
	SubmitSM            CommandID = 0x00000004
	SubmitSMResp        CommandID = 0x80000004
	DeliverSM           CommandID = 0x00000005
	DeliverSMResp       CommandID = 0x80000005
	Unbind              CommandID = 0x00000006
	UnbindResp          CommandID = 0x80000006
	ReplaceSM           CommandID = 0x00000007
	ReplaceSMResp       CommandID = 0x80000007
	CancelSM            CommandID = 0x00000008
	CancelSMResp        CommandID = 0x80000008
	BindTransceiver     CommandID = 0x00000009
	BindTransceiverResp CommandID = 0x80000009
	Outbind             CommandID = 0x0000000B
	EnquireLink         CommandID = 0x00000015
	EnquireLinkResp     CommandID = 0x80000015
	SubmitMulti         CommandID = 0x00000021
	SubmitMultiResp     CommandID = 0x80000021
	AlertNotification   CommandID = 0x00000102
	DataSM              CommandID = 0x00000103
	DataSMResp          CommandID = 0x80000103
)

const responseBit = 0x80000000

var commandNames = map[CommandID]string{
	GenericNack:         "generic_nack",
	BindReceiver:        "bind_receiver",
	BindReceiverResp:    "bind_receiver_resp",
	BindTransmitter:     "bind_transmitter",
	BindTransmitterResp: "bind_transmitter_resp",
	QuerySM:             "query_sm",
	QuerySMResp:         "query_sm_resp",
	SubmitSM:            "submit_sm",
	SubmitSMResp:        "submit_sm_resp",
	DeliverSM:           "deliver_sm",
	DeliverSMResp:       "deliver_sm_resp",
	Unbind:              "unbind",
	UnbindResp:          "unbind_resp",
	ReplaceSM:           "replace_sm",
	ReplaceSMResp:       "replace_sm_resp",
	CancelSM:            "cancel_sm",
	CancelSMResp:        "cancel_sm_resp",
	BindTransceiver:     "bind_transceiver",
	BindTransceiverResp: "bind_transceiver_resp",
	Outbind:             "outbind",
	EnquireLink:         "enquire_link",
	EnquireLinkResp:     "enquire_link_resp",
	SubmitMulti:         "submit_multi",
	SubmitMultiResp:     "submit_multi_resp",
	AlertNotification:   "alert_notification",
	DataSM:              "data_sm",
	DataSMResp:          "data_sm_resp",
}

// Commands lists every known command ID.
func Commands() []CommandID {
	return slices.Sorted(maps.Keys(commandNames))
}

// Known reports whether id is a defined SMPP v3.4 command.
func (id CommandID) Known() bool {
	_, ok := commandNames[id]
	return ok
}

func (id CommandID) String() string {
	if name, ok := commandNames[id]; ok {
		return name
	}
	return fmt.Sprintf("unknown_command(0x%08X)", uint32(id))
}

// IsResponse reports whether id is a response PDU. generic_nack counts as one.
func (id CommandID) IsResponse() bool {
	return uint32(id)&responseBit != 0
}

// RequiresAck reports whether a request of this type expects a response.
// outbind and alert_notification are fire-and-forget.
func (id CommandID) RequiresAck() bool {
	if id.IsResponse() {
		return false
	}
	return id != Outbind && id != AlertNotification
}

// Response returns the response command ID for a request.
func (id CommandID) Response() (CommandID, bool) {
	if !id.RequiresAck() {
		return 0, false
	}
	resp := CommandID(uint32(id) | responseBit)
	_, ok := commandNames[resp]
	return resp, ok
}

// IsBind reports whether id is one of the three bind requests.
func (id CommandID) IsBind() bool {
	return id == BindTransmitter || id == BindReceiver || id == BindTransceiver
}

// IsDataRequest reports whether id carries message traffic (as opposed to
// session management).
func (id CommandID) IsDataRequest() bool {
	switch id {
	case SubmitSM, SubmitMulti, DeliverSM, DataSM, QuerySM, CancelSM, ReplaceSM:
		return true
	}
	return false
}
