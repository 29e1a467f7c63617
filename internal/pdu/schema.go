package pdu

// field is one mandatory parameter: its codec and the status reported to
// the peer when its value is malformed.
type field struct {
	name   string
	codec  codec
	status CommandStatus
}

type schema struct {
	mandatory []field
	optional  map[Tag]bool
	// noBodyOnError responses carry no body when status is not OK.
	noBodyOnError bool
}

func (s *schema) mandatoryField(name string) (field, bool) {
	for _, f := range s.mandatory {
		if f.name == name {
			return f, true
		}
	}
	return field{}, false
}

var defaultFields = map[string]field{
	ParamSystemID:             {codec: cstringCodec{max: 16}, status: StatusInvSysID},
	ParamPassword:             {codec: cstringCodec{max: 9}, status: StatusInvPaswd},
	ParamSystemType:           {codec: cstringCodec{max: 13}, status: StatusInvSysTyp},
	ParamInterfaceVersion:     {codec: int1(), status: StatusUnknownErr},
	ParamAddrTON:              {codec: enumCodec[TON]{}, status: StatusUnknownErr},
	ParamAddrNPI:              {codec: enumCodec[NPI]{}, status: StatusUnknownErr},
	ParamAddressRange:         {codec: cstringCodec{max: 41}, status: StatusUnknownErr},
	ParamServiceType:          {codec: cstringCodec{max: 6}, status: StatusInvSerTyp},
	ParamSourceAddrTON:        {codec: enumCodec[TON]{}, status: StatusInvSrcTon},
	ParamSourceAddrNPI:        {codec: enumCodec[NPI]{}, status: StatusInvSrcNpi},
	ParamSourceAddr:           {codec: cstringCodec{max: 21}, status: StatusInvSrcAdr},
	ParamDestAddrTON:          {codec: enumCodec[TON]{}, status: StatusInvDstTon},
	ParamDestAddrNPI:          {codec: enumCodec[NPI]{}, status: StatusInvDstNpi},
	ParamDestinationAddr:      {codec: cstringCodec{max: 21}, status: StatusInvDstAdr},
	ParamDestAddress:          {codec: destAddressCodec{}, status: StatusInvNumDests},
	ParamEsmeAddrTON:          {codec: enumCodec[TON]{}, status: StatusUnknownErr},
	ParamEsmeAddrNPI:          {codec: enumCodec[NPI]{}, status: StatusUnknownErr},
	ParamEsmeAddr:             {codec: cstringCodec{max: 65}, status: StatusUnknownErr},
	ParamEsmClass:             {codec: enumCodec[EsmClass]{}, status: StatusInvEsmClass},
	ParamProtocolID:           {codec: int1(), status: StatusUnknownErr},
	ParamPriorityFlag:         {codec: enumCodec[PriorityFlag]{}, status: StatusInvPrtFlg},
	ParamScheduleDeliveryTime: {codec: timeCodec{}, status: StatusInvSched},
	ParamValidityPeriod:       {codec: timeCodec{}, status: StatusInvExpiry},
	ParamRegisteredDelivery:   {codec: enumCodec[RegisteredDelivery]{}, status: StatusInvRegDlvFlg},
	ParamReplaceIfPresentFlag: {codec: enumCodec[ReplaceIfPresent]{}, status: StatusInvRepFlag},
	ParamDataCoding:           {codec: enumCodec[DataCoding]{}, status: StatusInvDCS},
	ParamSmDefaultMsgID:       {codec: intCodec{size: 1, max: 254}, status: StatusInvDftMsgID},
	ParamShortMessage:         {codec: shortMessageCodec{}, status: StatusInvMsgLen},
	ParamMessageID:            {codec: cstringCodec{max: 65}, status: StatusInvMsgID},
	ParamUnsuccessSME:         {codec: unsuccessCodec{}, status: StatusUnknownErr},
	ParamFinalDate:            {codec: timeCodec{}, status: StatusUnknownErr},
	ParamMessageState:         {codec: enumCodec[MessageState]{}, status: StatusUnknownErr},
	ParamErrorCode:            {codec: int1(), status: StatusUnknownErr},
}

// Per-command replacements for defaultFields.
var fieldOverrides = map[CommandID]map[string]field{
	AlertNotification: {
		ParamSourceAddr: {codec: cstringCodec{max: 65}, status: StatusInvSrcAdr},
	},
	DataSM: {
		ParamSourceAddr:      {codec: cstringCodec{max: 65}, status: StatusInvSrcAdr},
		ParamDestinationAddr: {codec: cstringCodec{max: 65}, status: StatusInvDstAdr},
	},
	DeliverSM: {
		ParamScheduleDeliveryTime: {codec: timeCodec{requireNull: true}, status: StatusInvSched},
		ParamValidityPeriod:       {codec: timeCodec{requireNull: true}, status: StatusInvExpiry},
	},
	DeliverSMResp: {
		ParamMessageID: {codec: cstringCodec{max: 65, requireNull: true}, status: StatusInvMsgID},
	},
}

var (
	bindParams = []string{
		ParamSystemID, ParamPassword, ParamSystemType, ParamInterfaceVersion,
		ParamAddrTON, ParamAddrNPI, ParamAddressRange,
	}
	submitParams = []string{
		ParamServiceType,
		ParamSourceAddrTON, ParamSourceAddrNPI, ParamSourceAddr,
		ParamDestAddrTON, ParamDestAddrNPI, ParamDestinationAddr,
		ParamEsmClass, ParamProtocolID, ParamPriorityFlag,
		ParamScheduleDeliveryTime, ParamValidityPeriod, ParamRegisteredDelivery,
		ParamReplaceIfPresentFlag, ParamDataCoding, ParamSmDefaultMsgID, ParamShortMessage,
	}
	submitMultiParams = []string{
		ParamServiceType,
		ParamSourceAddrTON, ParamSourceAddrNPI, ParamSourceAddr,
		ParamDestAddress,
		ParamEsmClass, ParamProtocolID, ParamPriorityFlag,
		ParamScheduleDeliveryTime, ParamValidityPeriod, ParamRegisteredDelivery,
		ParamReplaceIfPresentFlag, ParamDataCoding, ParamSmDefaultMsgID, ParamShortMessage,
	}
	dataSMParams = []string{
		ParamServiceType,
		ParamSourceAddrTON, ParamSourceAddrNPI, ParamSourceAddr,
		ParamDestAddrTON, ParamDestAddrNPI, ParamDestinationAddr,
		ParamEsmClass, ParamRegisteredDelivery, ParamDataCoding,
	}

	submitOptions = []Tag{
		TagUserMessageReference, TagSourcePort, TagSourceAddrSubunit, TagDestinationPort,
		TagDestAddrSubunit, TagSarMsgRefNum, TagSarTotalSegments, TagSarSegmentSeqnum,
		TagMoreMessagesToSend, TagPayloadType, TagMessagePayload, TagPrivacyIndicator,
		TagCallbackNum, TagCallbackNumPresInd, TagCallbackNumAtag, TagSourceSubaddress,
		TagDestSubaddress, TagUserResponseCode, TagDisplayTime, TagSmsSignal, TagMsValidity,
		TagMsMsgWaitFacilities, TagNumberOfMessages, TagAlertOnMessageDelivery,
		TagLanguageIndicator, TagItsReplyType, TagItsSessionInfo, TagUssdServiceOp,
	}
	submitMultiOptions = []Tag{
		TagUserMessageReference, TagSourcePort, TagSourceAddrSubunit, TagDestinationPort,
		TagDestAddrSubunit, TagSarMsgRefNum, TagSarTotalSegments, TagSarSegmentSeqnum,
		TagMoreMessagesToSend, TagPayloadType, TagMessagePayload, TagPrivacyIndicator,
		TagCallbackNum, TagCallbackNumPresInd, TagCallbackNumAtag, TagSourceSubaddress,
		TagDestSubaddress, TagDisplayTime, TagSmsSignal, TagMsValidity,
		TagMsMsgWaitFacilities, TagAlertOnMessageDelivery, TagLanguageIndicator,
	}
	deliverOptions = []Tag{
		TagSourceNetworkType, TagDestNetworkType, TagUserMessageReference, TagSourcePort,
		TagDestinationPort, TagSarMsgRefNum, TagSarTotalSegments, TagSarSegmentSeqnum,
		TagUserResponseCode, TagPrivacyIndicator, TagPayloadType, TagMessagePayload,
		TagCallbackNum, TagSourceSubaddress, TagDestSubaddress, TagLanguageIndicator,
		TagItsSessionInfo, TagNetworkErrorCode, TagMessageState, TagReceiptedMessageID,
	}
	dataSMOptions = []Tag{
		TagSourcePort, TagSourceAddrSubunit, TagSourceNetworkType, TagSourceBearerType,
		TagSourceTelematicsID, TagDestinationPort, TagDestAddrSubunit, TagDestNetworkType,
		TagDestBearerType, TagDestTelematicsID, TagSarMsgRefNum, TagSarTotalSegments,
		TagSarSegmentSeqnum, TagMoreMessagesToSend, TagQosTimeToLive, TagPayloadType,
		TagMessagePayload, TagSetDpf, TagReceiptedMessageID, TagMessageState,
		TagNetworkErrorCode, TagUserMessageReference, TagPrivacyIndicator, TagCallbackNum,
		TagCallbackNumPresInd, TagCallbackNumAtag, TagSourceSubaddress, TagDestSubaddress,
		TagUserResponseCode, TagDisplayTime, TagSmsSignal, TagMsValidity,
		TagMsMsgWaitFacilities, TagNumberOfMessages, TagAlertOnMessageDelivery,
		TagLanguageIndicator, TagItsReplyType, TagItsSessionInfo,
	}
	dataSMRespOptions = []Tag{
		TagDeliveryFailureReason, TagNetworkErrorCode, TagAdditionalStatusInfoText, TagDpfResult,
	}
)

var schemas = map[CommandID]*schema{}

func define(id CommandID, mandatory []string, optional []Tag, noBodyOnError bool) {
	s := &schema{optional: make(map[Tag]bool, len(optional)), noBodyOnError: noBodyOnError}
	for _, name := range mandatory {
		f, ok := fieldOverrides[id][name]
		if !ok {
			f, ok = defaultFields[name]
		}
		if !ok {
			panic("pdu: no field definition for " + name)
		}
		f.name = name
		s.mandatory = append(s.mandatory, f)
	}
	for _, t := range optional {
		s.optional[t] = true
	}
	schemas[id] = s
}

func init() {
	for _, id := range []CommandID{BindTransmitter, BindReceiver, BindTransceiver} {
		define(id, bindParams, nil, false)
		resp, _ := id.Response()
		define(resp, []string{ParamSystemID}, []Tag{TagScInterfaceVersion}, true)
	}
	define(Outbind, []string{ParamSystemID, ParamPassword}, nil, false)

	define(SubmitSM, submitParams, submitOptions, false)
	define(SubmitSMResp, []string{ParamMessageID}, nil, true)
	define(SubmitMulti, submitMultiParams, submitMultiOptions, false)
	define(SubmitMultiResp, []string{ParamMessageID, ParamUnsuccessSME}, nil, false)
	define(DeliverSM, submitParams, deliverOptions, false)
	define(DeliverSMResp, []string{ParamMessageID}, nil, false)
	define(DataSM, dataSMParams, dataSMOptions, false)
	define(DataSMResp, []string{ParamMessageID}, dataSMRespOptions, false)

	define(QuerySM, []string{ParamMessageID, ParamSourceAddrTON, ParamSourceAddrNPI, ParamSourceAddr}, nil, false)
	define(QuerySMResp, []string{ParamMessageID, ParamFinalDate, ParamMessageState, ParamErrorCode}, nil, false)
	define(CancelSM, []string{
		ParamServiceType, ParamMessageID,
		ParamSourceAddrTON, ParamSourceAddrNPI, ParamSourceAddr,
		ParamDestAddrTON, ParamDestAddrNPI, ParamDestinationAddr,
	}, nil, false)
	define(ReplaceSM, []string{
		ParamMessageID, ParamSourceAddrTON, ParamSourceAddrNPI, ParamSourceAddr,
		ParamScheduleDeliveryTime, ParamValidityPeriod, ParamRegisteredDelivery,
		ParamSmDefaultMsgID, ParamShortMessage,
	}, nil, false)
	define(AlertNotification, []string{
		ParamSourceAddrTON, ParamSourceAddrNPI, ParamSourceAddr,
		ParamEsmeAddrTON, ParamEsmeAddrNPI, ParamEsmeAddr,
	}, []Tag{TagMsAvailabilityStatus}, false)

	for _, id := range []CommandID{
		GenericNack, Unbind, UnbindResp, EnquireLink, EnquireLinkResp, CancelSMResp, ReplaceSMResp,
	} {
		define(id, nil, nil, false)
	}
}

// OptionalAllowed reports whether tag may appear on a PDU of type id.
// Vendor specific tags are accepted everywhere.
func OptionalAllowed(id CommandID, tag Tag) bool {
	if tag.IsVendorSpecific() {
		return true
	}
	s, ok := schemas[id]
	return ok && s.optional[tag]
}

// MandatoryParams lists the mandatory parameter names of id in wire order.
func MandatoryParams(id CommandID) []string {
	s, ok := schemas[id]
	if !ok {
		return nil
	}
	names := make([]string, len(s.mandatory))
	for i, f := range s.mandatory {
		names[i] = f.name
	}
	return names
}
