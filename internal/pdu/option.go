package pdu

type option struct {
	tag   Tag
	name  string
	codec codec
}

var optionTable = []option{
	{TagDestAddrSubunit, ParamDestAddrSubunit, enumCodec[AddrSubunit]{}},
	{TagDestNetworkType, ParamDestNetworkType, enumCodec[NetworkType]{}},
	{TagDestBearerType, ParamDestBearerType, enumCodec[BearerType]{}},
	{TagDestTelematicsID, ParamDestTelematicsID, int2()},
	{TagSourceAddrSubunit, ParamSourceAddrSubunit, enumCodec[AddrSubunit]{}},
	{TagSourceNetworkType, ParamSourceNetworkType, enumCodec[NetworkType]{}},
	{TagSourceBearerType, ParamSourceBearerType, enumCodec[BearerType]{}},
	{TagSourceTelematicsID, ParamSourceTelematicsID, int2()},
	{TagQosTimeToLive, ParamQosTimeToLive, int4()},
	{TagPayloadType, ParamPayloadType, enumCodec[PayloadType]{}},
	{TagAdditionalStatusInfoText, ParamAdditionalStatusInfoText, cstringCodec{max: 256}},
	{TagReceiptedMessageID, ParamReceiptedMessageID, cstringCodec{max: 65}},
	{TagMsMsgWaitFacilities, ParamMsMsgWaitFacilities, int1()},
	{TagPrivacyIndicator, ParamPrivacyIndicator, enumCodec[PrivacyIndicator]{}},
	{TagSourceSubaddress, ParamSourceSubaddress, subaddressCodec{}},
	{TagDestSubaddress, ParamDestSubaddress, subaddressCodec{}},
	{TagUserMessageReference, ParamUserMessageReference, int2()},
	{TagUserResponseCode, ParamUserResponseCode, int1()},
	{TagSourcePort, ParamSourcePort, int2()},
	{TagDestinationPort, ParamDestinationPort, int2()},
	{TagSarMsgRefNum, ParamSarMsgRefNum, int2()},
	{TagLanguageIndicator, ParamLanguageIndicator, enumCodec[LanguageIndicator]{}},
	{TagSarTotalSegments, ParamSarTotalSegments, int1()},
	{TagSarSegmentSeqnum, ParamSarSegmentSeqnum, int1()},
	{TagScInterfaceVersion, ParamScInterfaceVersion, int1()},
	{TagCallbackNumPresInd, ParamCallbackNumPresInd, int1()},
	{TagCallbackNumAtag, ParamCallbackNumAtag, octetCodec{}},
	{TagNumberOfMessages, ParamNumberOfMessages, intCodec{size: 1, max: 99}},
	{TagCallbackNum, ParamCallbackNum, callbackNumCodec{}},
	{TagDpfResult, ParamDpfResult, int1()},
	{TagSetDpf, ParamSetDpf, int1()},
	{TagMsAvailabilityStatus, ParamMsAvailabilityStatus, enumCodec[MsAvailabilityStatus]{}},
	{TagNetworkErrorCode, ParamNetworkErrorCode, networkErrorCodec{}},
	{TagMessagePayload, ParamMessagePayload, octetCodec{}},
	{TagDeliveryFailureReason, ParamDeliveryFailureReason, enumCodec[DeliveryFailureReason]{}},
	{TagMoreMessagesToSend, ParamMoreMessagesToSend, enumCodec[MoreMessagesToSend]{}},
	{TagMessageState, ParamMessageState, enumCodec[MessageState]{}},
	{TagUssdServiceOp, ParamUssdServiceOp, octetCodec{}},
	{TagDisplayTime, ParamDisplayTime, enumCodec[DisplayTime]{}},
	{TagSmsSignal, ParamSmsSignal, octetCodec{}},
	{TagMsValidity, ParamMsValidity, int1()},
	{TagAlertOnMessageDelivery, ParamAlertOnMessageDelivery, emptyCodec{}},
	{TagItsReplyType, ParamItsReplyType, int1()},
	{TagItsSessionInfo, ParamItsSessionInfo, int2()},
}

var (
	optionsByTag  = make(map[Tag]option, len(optionTable))
	optionsByName = make(map[string]option, len(optionTable))
)

func init() {
	for _, o := range optionTable {
		optionsByTag[o.tag] = o
		optionsByName[o.name] = o
	}
}

// TagFor returns the tag of an optional parameter name.
func TagFor(name string) (Tag, bool) {
	o, ok := optionsByName[name]
	return o.tag, ok
}
