package pdu

import "fmt"

// Tag identifies an optional parameter (TLV).
type Tag uint16

const (
	TagDestAddrSubunit          Tag = 0x0005
	TagDestNetworkType          Tag = 0x0006
	TagDestBearerType           Tag = 0x0007
	TagDestTelematicsID         Tag = 0x0008
	TagSourceAddrSubunit        Tag = 0x000D
	TagSourceNetworkType        Tag = 0x000E
	TagSourceBearerType         Tag = 0x000F
	TagSourceTelematicsID       Tag = 0x0010
	TagQosTimeToLive            Tag = 0x0017
	TagPayloadType              Tag = 0x0019
	TagAdditionalStatusInfoText Tag = 0x001D
	TagReceiptedMessageID       Tag = 0x001E
	TagMsMsgWaitFacilities      Tag = 0x0030
	TagPrivacyIndicator         Tag = 0x0201
	TagSourceSubaddress         Tag = 0x0202
	TagDestSubaddress           Tag = 0x0203
	TagUserMessageReference     Tag = 0x0204
	TagUserResponseCode         Tag = 0x0205
	TagSourcePort               Tag = 0x020A
	TagDestinationPort          Tag = 0x020B
	TagSarMsgRefNum             Tag = 0x020C
	TagLanguageIndicator        Tag = 0x020D
	TagSarTotalSegments         Tag = 0x020E
	TagSarSegmentSeqnum         Tag = 0x020F
	TagScInterfaceVersion       Tag = 0x0210
	TagCallbackNumPresInd       Tag = 0x0302
	TagCallbackNumAtag          Tag = 0x0303
	TagNumberOfMessages         Tag = 0x0304
	TagCallbackNum              Tag = 0x0381
	TagDpfResult                Tag = 0x0420
	TagSetDpf                   Tag = 0x0421
	TagMsAvailabilityStatus     Tag = 0x0422
	TagNetworkErrorCode         Tag = 0x0423
	TagMessagePayload           Tag = 0x0424
	TagDeliveryFailureReason    Tag = 0x0425
	TagMoreMessagesToSend       Tag = 0x0426
	TagMessageState             Tag = 0x0427
	TagUssdServiceOp            Tag = 0x0501
	TagDisplayTime              Tag = 0x1201
	TagSmsSignal                Tag = 0x1203
	TagMsValidity               Tag = 0x1204
	TagAlertOnMessageDelivery   Tag = 0x130C
	TagItsReplyType             Tag = 0x1380
	TagItsSessionInfo           Tag = 0x1383
)

// Vendor specific tags live in this inclusive range.
const (
	VendorTagMin Tag = 0x1400
	VendorTagMax Tag = 0x3FFF
)

// Parameter names used as keys in PDU params.
const (
	ParamSystemID             = "system_id"
	ParamPassword             = "password"
	ParamSystemType           = "system_type"
	ParamInterfaceVersion     = "interface_version"
	ParamAddrTON              = "addr_ton"
	ParamAddrNPI              = "addr_npi"
	ParamAddressRange         = "address_range"
	ParamServiceType          = "service_type"
	ParamSourceAddrTON        = "source_addr_ton"
	ParamSourceAddrNPI        = "source_addr_npi"
	ParamSourceAddr           = "source_addr"
	ParamDestAddrTON          = "dest_addr_ton"
	ParamDestAddrNPI          = "dest_addr_npi"
	ParamDestinationAddr      = "destination_addr"
	ParamDestAddress          = "dest_address"
	ParamEsmeAddrTON          = "esme_addr_ton"
	ParamEsmeAddrNPI          = "esme_addr_npi"
	ParamEsmeAddr             = "esme_addr"
	ParamEsmClass             = "esm_class"
	ParamProtocolID           = "protocol_id"
	ParamPriorityFlag         = "priority_flag"
	ParamScheduleDeliveryTime = "schedule_delivery_time"
	ParamValidityPeriod       = "validity_period"
	ParamRegisteredDelivery   = "registered_delivery"
	ParamReplaceIfPresentFlag = "replace_if_present_flag"
	ParamDataCoding           = "data_coding"
	ParamSmDefaultMsgID       = "sm_default_msg_id"
	ParamShortMessage         = "short_message"
	ParamMessageID            = "message_id"
	ParamUnsuccessSME         = "unsuccess_sme"
	ParamFinalDate            = "final_date"
	ParamMessageState         = "message_state"
	ParamErrorCode            = "error_code"

	ParamDestAddrSubunit          = "dest_addr_subunit"
	ParamDestNetworkType          = "dest_network_type"
	ParamDestBearerType           = "dest_bearer_type"
	ParamDestTelematicsID         = "dest_telematics_id"
	ParamSourceAddrSubunit        = "source_addr_subunit"
	ParamSourceNetworkType        = "source_network_type"
	ParamSourceBearerType         = "source_bearer_type"
	ParamSourceTelematicsID       = "source_telematics_id"
	ParamQosTimeToLive            = "qos_time_to_live"
	ParamPayloadType              = "payload_type"
	ParamAdditionalStatusInfoText = "additional_status_info_text"
	ParamReceiptedMessageID       = "receipted_message_id"
	ParamMsMsgWaitFacilities      = "ms_msg_wait_facilities"
	ParamPrivacyIndicator         = "privacy_indicator"
	ParamSourceSubaddress         = "source_subaddress"
	ParamDestSubaddress           = "dest_subaddress"
	ParamUserMessageReference     = "user_message_reference"
	ParamUserResponseCode         = "user_response_code"
	ParamSourcePort               = "source_port"
	ParamDestinationPort          = "destination_port"
	ParamSarMsgRefNum             = "sar_msg_ref_num"
	ParamLanguageIndicator        = "language_indicator"
	ParamSarTotalSegments         = "sar_total_segments"
	ParamSarSegmentSeqnum         = "sar_segment_seqnum"
	ParamScInterfaceVersion       = "sc_interface_version"
	ParamCallbackNumPresInd       = "callback_num_pres_ind"
	ParamCallbackNumAtag          = "callback_num_atag"
	ParamNumberOfMessages         = "number_of_messages"
	ParamCallbackNum              = "callback_num"
	ParamDpfResult                = "dpf_result"
	ParamSetDpf                   = "set_dpf"
	ParamMsAvailabilityStatus     = "ms_availability_status"
	ParamNetworkErrorCode         = "network_error_code"
	ParamMessagePayload           = "message_payload"
	ParamDeliveryFailureReason    = "delivery_failure_reason"
	ParamMoreMessagesToSend       = "more_messages_to_send"
	ParamUssdServiceOp            = "ussd_service_op"
	ParamDisplayTime              = "display_time"
	ParamSmsSignal                = "sms_signal"
	ParamMsValidity               = "ms_validity"
	ParamAlertOnMessageDelivery   = "alert_on_message_delivery"
	ParamItsReplyType             = "its_reply_type"
	ParamItsSessionInfo           = "its_session_info"

	// ParamVendorSpecific collects TLVs from the vendor range as []VendorSpecific.
	ParamVendorSpecific = "vendor_specific_bypass"
)

func (t Tag) String() string {
	if o, ok := optionsByTag[t]; ok {
		return o.name
	}
	if t.IsVendorSpecific() {
		return fmt.Sprintf("vendor_specific(0x%04X)", uint16(t))
	}
	return fmt.Sprintf("unknown_tag(0x%04X)", uint16(t))
}

// IsVendorSpecific reports whether t falls in the vendor reserved range.
func (t Tag) IsVendorSpecific() bool {
	return t >= VendorTagMin && t <= VendorTagMax
}
