package pdu

import "fmt"

// CommandStatus is the command_status header field.
type CommandStatus uint32

// SMPP v3.4 command status codes.
const (
	StatusOK                 CommandStatus = 0x00000000
	StatusInvMsgLen          CommandStatus = 0x00000001
	StatusInvCmdLen          CommandStatus = 0x00000002
	StatusInvCmdID           CommandStatus = 0x00000003
	StatusInvBndSts          CommandStatus = 0x00000004
	StatusAlyBnd             CommandStatus = 0x00000005
	StatusInvPrtFlg          CommandStatus = 0x00000006
	StatusInvRegDlvFlg       CommandStatus = 0x00000007
	StatusSysErr             CommandStatus = 0x00000008
	StatusInvSrcAdr          CommandStatus = 0x0000000A
	StatusInvDstAdr          CommandStatus = 0x0000000B
	StatusInvMsgID           CommandStatus = 0x0000000C
	StatusBindFail           CommandStatus = 0x0000000D
	StatusInvPaswd           CommandStatus = 0x0000000E
	StatusInvSysID           CommandStatus = 0x0000000F
	StatusCancelFail         CommandStatus = 0x00000011
	StatusReplaceFail        CommandStatus = 0x00000013
	StatusMsgQFul            CommandStatus = 0x00000014
	StatusInvSerTyp          CommandStatus = 0x00000015
	StatusInvNumDests        CommandStatus = 0x00000033
	StatusInvDLName          CommandStatus = 0x00000034
	StatusInvDestFlag        CommandStatus = 0x00000040
	StatusInvSubRep          CommandStatus = 0x00000042
	StatusInvEsmClass        CommandStatus = 0x00000043
	StatusCntSubDL           CommandStatus = 0x00000044
	StatusSubmitFail         CommandStatus = 0x00000045
	StatusInvSrcTon          CommandStatus = 0x00000048
	StatusInvSrcNpi          CommandStatus = 0x00000049
	StatusInvDstTon          CommandStatus = 0x00000050
	StatusInvDstNpi          CommandStatus = 0x00000051
	StatusInvSysTyp          CommandStatus = 0x00000053
	StatusInvRepFlag         CommandStatus = 0x00000054
	StatusInvNumMsgs         CommandStatus = 0x00000055
	StatusThrottled          CommandStatus = 0x00000058
	StatusInvSched           CommandStatus = 0x00000061
	StatusInvExpiry          CommandStatus = 0x00000062
	StatusInvDftMsgID        CommandStatus = 0x00000063
	StatusRxTAppn            CommandStatus = 0x00000064
	StatusRxPAppn            CommandStatus = 0x00000065
	StatusRxRAppn            CommandStatus = 0x00000066
	StatusQueryFail          CommandStatus = 0x00000067
	StatusInvOptParStream    CommandStatus = 0x000000C0
	StatusOptParNotAllwd     CommandStatus = 0x000000C1
	StatusInvParLen          CommandStatus = 0x000000C2
	StatusMissingOptParam    CommandStatus = 0x000000C3
	StatusInvOptParamVal     CommandStatus = 0x000000C4
	StatusDeliveryFailure    CommandStatus = 0x000000FE
	StatusUnknownErr         CommandStatus = 0x000000FF
	StatusSerTypUnauth       CommandStatus = 0x00000100
	StatusProhibited         CommandStatus = 0x00000101
	StatusSerTypUnavail      CommandStatus = 0x00000102
	StatusSerTypDenied       CommandStatus = 0x00000103
	StatusInvDCS             CommandStatus = 0x00000104
	StatusInvSrcAddrSubunit  CommandStatus = 0x00000105
	StatusInvDstAddrSubunit  CommandStatus = 0x00000106
	StatusInvBcastFreqInt    CommandStatus = 0x00000107
	StatusInvBcastAliasName  CommandStatus = 0x00000108
	StatusInvBcastAreaFmt    CommandStatus = 0x00000109
	StatusInvNumBcastAreas   CommandStatus = 0x0000010A
	StatusInvBcastCntType    CommandStatus = 0x0000010B
	StatusInvBcastMsgClass   CommandStatus = 0x0000010C
	StatusBcastFail          CommandStatus = 0x0000010D
	StatusBcastQueryFail     CommandStatus = 0x0000010E
	StatusBcastCancelFail    CommandStatus = 0x0000010F
	StatusInvBcastRep        CommandStatus = 0x00000110
	StatusInvBcastSrvGrp     CommandStatus = 0x00000111
	StatusInvBcastChanInd    CommandStatus = 0x00000112
)

type statusInfo struct {
	name        string
	description string
}

var statuses = map[CommandStatus]statusInfo{
	StatusOK:                {"ESME_ROK", "No error"},
	StatusInvMsgLen:         {"ESME_RINVMSGLEN", "Message Length is invalid"},
	StatusInvCmdLen:         {"ESME_RINVCMDLEN", "Command Length is invalid"},
	StatusInvCmdID:          {"ESME_RINVCMDID", "Invalid Command ID"},
	StatusInvBndSts:         {"ESME_RINVBNDSTS", "Invalid BIND Status for given command"},
	StatusAlyBnd:            {"ESME_RALYBND", "ESME Already in Bound State"},
	StatusInvPrtFlg:         {"ESME_RINVPRTFLG", "Invalid Priority Flag"},
	StatusInvRegDlvFlg:      {"ESME_RINVREGDLVFLG", "Invalid Registered Delivery Flag"},
	StatusSysErr:            {"ESME_RSYSERR", "System Error"},
	StatusInvSrcAdr:         {"ESME_RINVSRCADR", "Invalid Source Address"},
	StatusInvDstAdr:         {"ESME_RINVDSTADR", "Invalid Dest Addr"},
	StatusInvMsgID:          {"ESME_RINVMSGID", "Message ID is invalid"},
	StatusBindFail:          {"ESME_RBINDFAIL", "Bind Failed"},
	StatusInvPaswd:          {"ESME_RINVPASWD", "Invalid Password"},
	StatusInvSysID:          {"ESME_RINVSYSID", "Invalid System ID"},
	StatusCancelFail:        {"ESME_RCANCELFAIL", "Cancel SM Failed"},
	StatusReplaceFail:       {"ESME_RREPLACEFAIL", "Replace SM Failed"},
	StatusMsgQFul:           {"ESME_RMSGQFUL", "Message Queue Full"},
	StatusInvSerTyp:         {"ESME_RINVSERTYP", "Invalid Service Type"},
	StatusInvNumDests:       {"ESME_RINVNUMDESTS", "Invalid number of destinations"},
	StatusInvDLName:         {"ESME_RINVDLNAME", "Invalid Distribution List Name"},
	StatusInvDestFlag:       {"ESME_RINVDESTFLAG", "Destination flag is invalid (submit_multi)"},
	StatusInvSubRep:         {"ESME_RINVSUBREP", "Invalid submit with replace request"},
	StatusInvEsmClass:       {"ESME_RINVESMCLASS", "Invalid esm_class field data"},
	StatusCntSubDL:          {"ESME_RCNTSUBDL", "Cannot Submit to Distribution List"},
	StatusSubmitFail:        {"ESME_RSUBMITFAIL", "submit_sm or submit_multi failed"},
	StatusInvSrcTon:         {"ESME_RINVSRCTON", "Invalid Source address TON"},
	StatusInvSrcNpi:         {"ESME_RINVSRCNPI", "Invalid Source address NPI"},
	StatusInvDstTon:         {"ESME_RINVDSTTON", "Invalid Destination address TON"},
	StatusInvDstNpi:         {"ESME_RINVDSTNPI", "Invalid Destination address NPI"},
	StatusInvSysTyp:         {"ESME_RINVSYSTYP", "Invalid system_type field"},
	StatusInvRepFlag:        {"ESME_RINVREPFLAG", "Invalid replace_if_present flag"},
	StatusInvNumMsgs:        {"ESME_RINVNUMMSGS", "Invalid number of messages"},
	StatusThrottled:         {"ESME_RTHROTTLED", "Throttling error (ESME has exceeded allowed message limits)"},
	StatusInvSched:          {"ESME_RINVSCHED", "Invalid Scheduled Delivery Time"},
	StatusInvExpiry:         {"ESME_RINVEXPIRY", "Invalid message validity period (Expiry time)"},
	StatusInvDftMsgID:       {"ESME_RINVDFTMSGID", "Predefined Message Invalid or Not Found"},
	StatusRxTAppn:           {"ESME_RX_T_APPN", "ESME Receiver Temporary App Error Code"},
	StatusRxPAppn:           {"ESME_RX_P_APPN", "ESME Receiver Permanent App Error Code"},
	StatusRxRAppn:           {"ESME_RX_R_APPN", "ESME Receiver Reject Message Error Code"},
	StatusQueryFail:         {"ESME_RQUERYFAIL", "query_sm request failed"},
	StatusInvOptParStream:   {"ESME_RINVOPTPARSTREAM", "Error in the optional part of the PDU Body"},
	StatusOptParNotAllwd:    {"ESME_ROPTPARNOTALLWD", "Optional Parameter not allowed"},
	StatusInvParLen:         {"ESME_RINVPARLEN", "Invalid Parameter Length"},
	StatusMissingOptParam:   {"ESME_RMISSINGOPTPARAM", "Expected Optional Parameter missing"},
	StatusInvOptParamVal:    {"ESME_RINVOPTPARAMVAL", "Invalid Optional Parameter Value"},
	StatusDeliveryFailure:   {"ESME_RDELIVERYFAILURE", "Delivery Failure (used for data_sm_resp)"},
	StatusUnknownErr:        {"ESME_RUNKNOWNERR", "Unknown Error"},
	StatusSerTypUnauth:      {"ESME_RSERTYPUNAUTH", "ESME Not authorised to use specified service_type"},
	StatusProhibited:        {"ESME_RPROHIBITED", "ESME Prohibited from using specified operation"},
	StatusSerTypUnavail:     {"ESME_RSERTYPUNAVAIL", "Specified service_type is unavailable"},
	StatusSerTypDenied:      {"ESME_RSERTYPDENIED", "Specified service_type is denied"},
	StatusInvDCS:            {"ESME_RINVDCS", "Invalid Data Coding Scheme"},
	StatusInvSrcAddrSubunit: {"ESME_RINVSRCADDRSUBUNIT", "Source Address Sub unit is Invalid"},
	StatusInvDstAddrSubunit: {"ESME_RINVDSTADDRSUBUNIT", "Destination Address Sub unit is Invalid"},
	StatusInvBcastFreqInt:   {"ESME_RINVBCASTFREQINT", "Broadcast Frequency Interval is invalid"},
	StatusInvBcastAliasName: {"ESME_RINVBCASTALIAS_NAME", "Broadcast Alias Name is invalid"},
	StatusInvBcastAreaFmt:   {"ESME_RINVBCASTAREAFMT", "Broadcast Area Format is invalid"},
	StatusInvNumBcastAreas:  {"ESME_RINVNUMBCAST_AREAS", "Number of Broadcast Areas is invalid"},
	StatusInvBcastCntType:   {"ESME_RINVBCASTCNTTYPE", "Broadcast Content Type is invalid"},
	StatusInvBcastMsgClass:  {"ESME_RINVBCASTMSGCLASS", "Broadcast Message Class is invalid"},
	StatusBcastFail:         {"ESME_RBCASTFAIL", "broadcast_sm operation failed"},
	StatusBcastQueryFail:    {"ESME_RBCASTQUERYFAIL", "query_broadcast_sm operation failed"},
	StatusBcastCancelFail:   {"ESME_RBCASTCANCELFAIL", "cancel_broadcast_sm operation failed"},
	StatusInvBcastRep:       {"ESME_RINVBCAST_REP", "Number of Repeated Broadcasts is invalid"},
	StatusInvBcastSrvGrp:    {"ESME_RINVBCASTSRVGRP", "Broadcast Service Group is invalid"},
	StatusInvBcastChanInd:   {"ESME_RINVBCASTCHANIND", "Broadcast Channel Indicator is invalid"},
}

// StatusRange classifies status values that have no defined meaning.
type StatusRange int

const (
	RangeDefined StatusRange = iota
	RangeSMPPExtension
	RangeVendorSpecific
	RangeReserved
)

func (r StatusRange) String() string {
	switch r {
	case RangeSMPPExtension:
		return "RESERVEDSTATUS_SMPP_EXTENSION"
	case RangeVendorSpecific:
		return "RESERVEDSTATUS_VENDOR_SPECIFIC"
	case RangeReserved:
		return "RESERVEDSTATUS"
	}
	return "DEFINED"
}

// Range returns the bucket an undefined status falls into. Carriers emit
// proprietary codes in the upper ranges; those are kept verbatim.
func (s CommandStatus) Range() StatusRange {
	if _, ok := statuses[s]; ok {
		return RangeDefined
	}
	switch {
	case s >= 0x100 && s <= 0x3FF:
		return RangeSMPPExtension
	case s >= 0x400 && s <= 0x4FF:
		return RangeVendorSpecific
	case s >= 0x500:
		return RangeReserved
	}
	return RangeDefined
}

// Known reports whether s is a defined status code.
func (s CommandStatus) Known() bool {
	_, ok := statuses[s]
	return ok
}

func (s CommandStatus) String() string {
	if info, ok := statuses[s]; ok {
		return info.name
	}
	if r := s.Range(); r != RangeDefined {
		return fmt.Sprintf("%s(0x%08X)", r, uint32(s))
	}
	return fmt.Sprintf("UNKNOWN_STATUS(0x%08X)", uint32(s))
}

// Description returns the human readable meaning of s.
func (s CommandStatus) Description() string {
	if info, ok := statuses[s]; ok {
		return info.description
	}
	switch s.Range() {
	case RangeSMPPExtension:
		return "Reserved for SMPP extension"
	case RangeVendorSpecific:
		return "Reserved for SMSC vendor specific errors"
	case RangeReserved:
		return "Reserved"
	}
	return "Unknown status"
}

// decodeStatus validates a wire status. Undefined values below 0x100 are
// rejected; anything above is accepted and bucketed by Range.
func decodeStatus(v uint32) (CommandStatus, error) {
	s := CommandStatus(v)
	if s.Known() || s.Range() != RangeDefined {
		return s, nil
	}
	return s, fmt.Errorf("command_status 0x%08X is not defined", v)
}
