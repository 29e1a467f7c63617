package pdu

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"
)

func mustEncode(t *testing.T, p PDU) []byte {
	t.Helper()
	b, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode(%#v): %v", p, err)
	}
	return b
}

func expectDecodeError(t *testing.T, b []byte, kind DecodeKind, status CommandStatus) *DecodeError {
	t.Helper()
	_, _, err := Decode(b)
	var de *DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("expected *DecodeError, got %v", err)
	}
	if de.Kind != kind || de.Status != status {
		t.Fatalf("expected %s/%s, got %s/%s (%v)", kind, status, de.Kind, de.Status, de)
	}
	return de
}

// setLength rewrites command_length to match len(b).
func setLength(b []byte) []byte {
	binary.BigEndian.PutUint32(b[0:4], uint32(len(b)))
	return b
}

func appendTLV(b []byte, tag uint16, value []byte) []byte {
	b = binary.BigEndian.AppendUint16(b, tag)
	b = binary.BigEndian.AppendUint16(b, uint16(len(value)))
	return setLength(append(b, value...))
}

func TestDecodeUnbindResp(t *testing.T) {
	b, _ := hex.DecodeString("00000010800000060000000000000005")
	p, n, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != 16 {
		t.Errorf("consumed %d bytes, want 16", n)
	}
	if p.CommandID() != UnbindResp || p.Seq() != 5 || p.Status() != StatusOK {
		t.Errorf("got %s, want unbind_resp seq 5 status OK", p)
	}
}

func TestDecodeCommandLengthBelowHeader(t *testing.T) {
	for n := range uint32(HeaderLen) {
		b := make([]byte, 32)
		binary.BigEndian.PutUint32(b, n)
		binary.BigEndian.PutUint32(b[4:], uint32(EnquireLink))
		binary.BigEndian.PutUint32(b[12:], 1)
		expectDecodeError(t, b, Corrupt, StatusInvCmdLen)
	}
}

func TestRoundTrip(t *testing.T) {
	validity := Time{Year: 2015, Month: 5, Day: 19, Hour: 23, Minute: 26, Second: 57, Offset: 4}
	tests := []struct {
		name string
		pdu  PDU
	}{
		{"bind_transceiver", New(BindTransceiver, Params{
			ParamSystemID: "u1", ParamPassword: "p1", ParamInterfaceVersion: 0x34,
			ParamAddrTON: TONInternational, ParamAddrNPI: NPIISDN,
		}).WithSeq(1)},
		{"bind_transceiver_resp", New(BindTransceiverResp, Params{
			ParamSystemID: "smsc", ParamScInterfaceVersion: 0x34,
		}).WithSeq(1)},
		{"bind_receiver_resp error", New(BindReceiverResp, nil).WithSeq(2).WithStatus(StatusBindFail)},
		{"outbind", New(Outbind, Params{ParamSystemID: "smsc", ParamPassword: "secret"}).WithSeq(3)},
		{"enquire_link", New(EnquireLink, nil).WithSeq(MaxSeq)},
		{"generic_nack zero seq", GenericNackFor(0, StatusInvCmdLen)},
		{"submit_sm mandatory only", New(SubmitSM, Params{
			ParamSourceAddr: "AEGIS", ParamSourceAddrTON: TONAlphanumeric,
			ParamDestinationAddr: "2348012345678", ParamDestAddrTON: TONInternational, ParamDestAddrNPI: NPIISDN,
			ParamShortMessage: []byte("hello world"),
		}).WithSeq(10)},
		{"submit_sm with options", New(SubmitSM, Params{
			ParamServiceType:            "CMT",
			ParamSourceAddr:             "12345",
			ParamDestinationAddr:        "67890",
			ParamEsmClass:               EsmUDHI | EsmModeStoreAndForward,
			ParamProtocolID:             0,
			ParamPriorityFlag:           PriorityFlag(1),
			ParamValidityPeriod:         validity,
			ParamScheduleDeliveryTime:   RelativeTime(2 * time.Hour),
			ParamRegisteredDelivery:     ReceiptRequested,
			ParamDataCoding:             CodingUCS2,
			ParamShortMessage:           []byte{0x00, 0x48, 0x00, 0x69},
			ParamSarMsgRefNum:           513,
			ParamSarTotalSegments:       3,
			ParamSarSegmentSeqnum:       2,
			ParamMoreMessagesToSend:     MoreMessages,
			ParamCallbackNum:            CallbackNum{DigitMode: DigitModeASCII, TON: TONNational, NPI: NPIISDN, Digits: "0800"},
			ParamDestSubaddress:         Subaddress{Type: SubaddressUserSpecified, Value: []byte{1, 2}},
			ParamAlertOnMessageDelivery: struct{}{},
			ParamLanguageIndicator:      LanguageIndicator(1),
			ParamUssdServiceOp:          []byte{0x02},
			ParamItsSessionInfo:         0x0101,
		}).WithSeq(11)},
		{"submit_sm_resp", New(SubmitSMResp, Params{ParamMessageID: "abc-123"}).WithSeq(10)},
		{"submit_sm_resp throttled", New(SubmitSMResp, nil).WithSeq(10).WithStatus(StatusThrottled)},
		{"submit_multi", New(SubmitMulti, Params{
			ParamSourceAddr: "AEGIS",
			ParamDestAddress: []DestAddress{
				{Flag: DestSMEAddress, TON: TONInternational, NPI: NPIISDN, Addr: "2348000000001"},
				{Flag: DestDistributionList, DLName: "staff"},
			},
			ParamShortMessage: []byte("multi"),
		}).WithSeq(12)},
		{"submit_multi_resp", New(SubmitMultiResp, Params{
			ParamMessageID: "m1",
			ParamUnsuccessSME: []UnsuccessSME{
				{TON: TONInternational, NPI: NPIISDN, Addr: "2348000000002", Status: StatusInvDstAdr},
			},
		}).WithSeq(12)},
		{"deliver_sm receipt", New(DeliverSM, Params{
			ParamSourceAddr:         "2348012345678",
			ParamDestinationAddr:    "AEGIS",
			ParamEsmClass:           EsmTypeDeliveryReceipt,
			ParamShortMessage:       []byte("id:42 stat:DELIVRD"),
			ParamReceiptedMessageID: "42",
			ParamMessageState:       StateDelivered,
			ParamNetworkErrorCode:   NetworkErrorCode{Type: 3, Code: 0x0101},
			ParamVendorSpecific: []VendorSpecific{
				{Tag: 0x1400, Value: []byte{0xAA}},
				{Tag: 0x3FFF, Value: []byte{0x01, 0x02}},
			},
		}).WithSeq(13)},
		{"deliver_sm_resp", New(DeliverSMResp, nil).WithSeq(13)},
		{"data_sm", New(DataSM, Params{
			ParamSourceAddr:         strings.Repeat("1", 40),
			ParamDestinationAddr:    "67890",
			ParamMessagePayload:     bytes.Repeat([]byte("x"), 300),
			ParamSourceNetworkType:  NetworkType(1),
			ParamDestBearerType:     BearerType(1),
			ParamQosTimeToLive:      3600,
			ParamSourceTelematicsID: 7,
		}).WithSeq(14)},
		{"data_sm_resp", New(DataSMResp, Params{
			ParamMessageID:                "d1",
			ParamDeliveryFailureReason:    DeliveryFailureReason(2),
			ParamAdditionalStatusInfoText: "network down",
			ParamDpfResult:                1,
		}).WithSeq(14)},
		{"data_sm_resp error", New(DataSMResp, Params{
			ParamMessageID:                "d2",
			ParamDeliveryFailureReason:    DeliveryFailureReason(2),
			ParamNetworkErrorCode:         NetworkErrorCode{Type: 3, Code: 0x0022},
			ParamAdditionalStatusInfoText: "absent subscriber",
		}).WithSeq(14).WithStatus(StatusDeliveryFailure)},
		{"query_sm", New(QuerySM, Params{ParamMessageID: "q1", ParamSourceAddr: "AEGIS"}).WithSeq(15)},
		{"query_sm_resp", New(QuerySMResp, Params{
			ParamMessageID: "q1", ParamFinalDate: validity, ParamMessageState: StateExpired, ParamErrorCode: 4,
		}).WithSeq(15)},
		{"query_sm_resp error", New(QuerySMResp, Params{
			ParamMessageID: "q1", ParamMessageState: StateUndeliverable, ParamErrorCode: 11,
		}).WithSeq(15).WithStatus(StatusQueryFail)},
		{"cancel_sm", New(CancelSM, Params{ParamMessageID: "c1", ParamDestinationAddr: "67890"}).WithSeq(16)},
		{"cancel_sm_resp", New(CancelSMResp, nil).WithSeq(16)},
		{"replace_sm", New(ReplaceSM, Params{
			ParamMessageID: "r1", ParamShortMessage: []byte("new text"), ParamSmDefaultMsgID: 254,
		}).WithSeq(17)},
		{"replace_sm_resp", New(ReplaceSMResp, nil).WithSeq(17)},
		{"alert_notification", New(AlertNotification, Params{
			ParamSourceAddr: "2348012345678", ParamEsmeAddr: "AEGIS", ParamMsAvailabilityStatus: MsAvailabilityStatus(2),
		}).WithSeq(18)},
		{"unbind", New(Unbind, nil).WithSeq(19)},
		{"unbind_resp", New(UnbindResp, nil).WithSeq(19)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := mustEncode(t, tt.pdu)
			if got := binary.BigEndian.Uint32(b); int(got) != len(b) {
				t.Fatalf("command_length %d, frame %d bytes", got, len(b))
			}
			got, n, err := Decode(b)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if n != len(b) {
				t.Errorf("consumed %d of %d bytes", n, len(b))
			}
			if !reflect.DeepEqual(got, tt.pdu) {
				t.Errorf("round trip mismatch\n got  %#v\n want %#v", got, tt.pdu)
			}
		})
	}
}

func TestEncodeNoBodyOnError(t *testing.T) {
	for _, id := range []CommandID{BindTransmitterResp, BindReceiverResp, BindTransceiverResp, SubmitSMResp} {
		p := New(id, Params{ParamSystemID: "ignored", ParamMessageID: "ignored"}).
			WithSeq(4).WithStatus(StatusInvPaswd)
		b := mustEncode(t, p)
		if len(b) != HeaderLen {
			t.Errorf("%s: encoded %d bytes, want header only", id, len(b))
		}
	}
	// An OK response still carries its body.
	b := mustEncode(t, New(BindTransmitterResp, Params{ParamSystemID: "smsc"}).WithSeq(4))
	if len(b) != HeaderLen+5 {
		t.Errorf("bind_transmitter_resp OK encoded %d bytes", len(b))
	}
}

func TestDecodeHeaderOnlyErrorResponse(t *testing.T) {
	// data_sm_resp, ESME_RDELIVERYFAILURE, no body.
	b, _ := hex.DecodeString("0000001080000103000000fe00000009")
	p, _, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.CommandID() != DataSMResp || p.Status() != StatusDeliveryFailure || p.Seq() != 9 {
		t.Errorf("got %s", p)
	}
	if _, ok := p.Param(ParamDeliveryFailureReason); ok {
		t.Error("header-only response grew a delivery_failure_reason")
	}
}

func TestEncodeErrors(t *testing.T) {
	base := New(SubmitSM, Params{ParamDestinationAddr: "123"}).WithSeq(1)
	tests := []struct {
		name  string
		pdu   PDU
		param string
		err   error
	}{
		{"missing mandatory", base.WithoutParam(ParamSourceAddr), ParamSourceAddr, ErrMissingParam},
		{"ton out of domain", base.WithParam(ParamSourceAddrTON, TON(9)), ParamSourceAddrTON, ErrOutOfRange},
		{"npi out of domain", base.WithParam(ParamDestAddrNPI, NPI(2)), ParamDestAddrNPI, ErrOutOfRange},
		{"esm_class type", base.WithParam(ParamEsmClass, EsmClass(0x0C)), ParamEsmClass, ErrOutOfRange},
		{"wrong type", base.WithParam(ParamPriorityFlag, 1), ParamPriorityFlag, ErrBadType},
		{"address overflow", base.WithParam(ParamSourceAddr, strings.Repeat("9", 21)), ParamSourceAddr, ErrTooLong},
		{"short_message overflow", base.WithParam(ParamShortMessage, make([]byte, 255)), ParamShortMessage, ErrTooLong},
		{"option not allowed", base.WithParam(ParamReceiptedMessageID, "x"), ParamReceiptedMessageID, ErrUnknownParam},
		{"unknown param", base.WithParam("colour", "blue"), "colour", ErrUnknownParam},
		{"number_of_messages", base.WithParam(ParamNumberOfMessages, 100), ParamNumberOfMessages, ErrOutOfRange},
		{"deliver_sm schedule must be null",
			New(DeliverSM, Params{ParamScheduleDeliveryTime: RelativeTime(time.Hour)}).WithSeq(1),
			ParamScheduleDeliveryTime, ErrMustBeNull},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Encode(tt.pdu)
			var ee *EncodingError
			if !errors.As(err, &ee) {
				t.Fatalf("expected *EncodingError, got %v", err)
			}
			if ee.Param != tt.param {
				t.Errorf("param %q, want %q", ee.Param, tt.param)
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("error %v does not wrap %v", err, tt.err)
			}
		})
	}

	if _, err := Encode(New(EnquireLink, nil)); err == nil {
		t.Error("expected error for sequence number 0")
	}
	if _, err := Encode(New(EnquireLink, nil).WithSeq(MaxSeq + 1)); err == nil {
		t.Error("expected error for sequence number above MaxSeq")
	}
}

func TestDecodeFieldErrors(t *testing.T) {
	valid := mustEncode(t, New(SubmitSM, nil).WithSeq(9))
	// Offsets into an all-null submit_sm body.
	const (
		sourceTON = HeaderLen + 1
		esmClass  = HeaderLen + 7
		priority  = HeaderLen + 9
	)
	tests := []struct {
		name   string
		offset int
		value  byte
		status CommandStatus
	}{
		{"source ton", sourceTON, 7, StatusInvSrcTon},
		{"source npi", sourceTON + 1, 2, StatusInvSrcNpi},
		{"dest ton", sourceTON + 3, 0xFF, StatusInvDstTon},
		{"esm_class", esmClass, 0x0C, StatusInvEsmClass},
		{"priority", priority, 4, StatusInvPrtFlg},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := bytes.Clone(valid)
			b[tt.offset] = tt.value
			de := expectDecodeError(t, b, Parse, tt.status)
			if de.Header.Seq != 9 || de.Header.ID != SubmitSM {
				t.Errorf("header not carried: %+v", de.Header)
			}
		})
	}
}

func TestDecodeOptionalParameters(t *testing.T) {
	base := mustEncode(t, New(SubmitSM, nil).WithSeq(3))

	t.Run("vendor specific bypass", func(t *testing.T) {
		b := appendTLV(bytes.Clone(base), 0x1401, []byte{1, 2, 3})
		p, _, err := Decode(b)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		list, ok := Get[[]VendorSpecific](p, ParamVendorSpecific)
		if !ok || len(list) != 1 || list[0].Tag != 0x1401 || !bytes.Equal(list[0].Value, []byte{1, 2, 3}) {
			t.Errorf("unexpected vendor list %#v", list)
		}
	})
	t.Run("unknown tag", func(t *testing.T) {
		expectDecodeError(t, appendTLV(bytes.Clone(base), 0x0099, []byte{1}), Parse, StatusOptParNotAllwd)
	})
	t.Run("length longer than value", func(t *testing.T) {
		expectDecodeError(t, appendTLV(bytes.Clone(base), uint16(TagSarMsgRefNum), []byte{0, 1, 2}), Parse, StatusInvParLen)
	})
	t.Run("length shorter than value", func(t *testing.T) {
		expectDecodeError(t, appendTLV(bytes.Clone(base), uint16(TagSarMsgRefNum), []byte{1}), Parse, StatusInvParLen)
	})
	t.Run("invalid value", func(t *testing.T) {
		expectDecodeError(t, appendTLV(bytes.Clone(base), uint16(TagPayloadType), []byte{5}), Parse, StatusInvOptParamVal)
	})
	t.Run("not allowed for command", func(t *testing.T) {
		resp := mustEncode(t, New(BindTransmitterResp, Params{ParamSystemID: "smsc"}).WithSeq(1))
		expectDecodeError(t, appendTLV(resp, uint16(TagReceiptedMessageID), []byte("x\x00")), Parse, StatusOptParNotAllwd)
	})
	t.Run("truncated tlv header", func(t *testing.T) {
		b := setLength(append(bytes.Clone(base), 0x02, 0x0C))
		expectDecodeError(t, b, Parse, StatusInvOptParStream)
	})
}

func TestEncodeOptionalOrder(t *testing.T) {
	p := New(SubmitSM, Params{
		ParamSarSegmentSeqnum: 1,
		ParamSarMsgRefNum:     7,
		ParamSarTotalSegments: 2,
		ParamVendorSpecific:   []VendorSpecific{{Tag: 0x2000, Value: nil}},
		ParamPayloadType:      PayloadType(0),
	}).WithSeq(1)
	b := mustEncode(t, p)
	body := b[len(mustEncode(t, New(SubmitSM, nil).WithSeq(1))):]
	var tags []Tag
	for len(body) >= 4 {
		tags = append(tags, Tag(binary.BigEndian.Uint16(body)))
		n := int(binary.BigEndian.Uint16(body[2:]))
		body = body[4+n:]
	}
	want := []Tag{TagPayloadType, TagSarMsgRefNum, TagSarTotalSegments, TagSarSegmentSeqnum, 0x2000}
	if !reflect.DeepEqual(tags, want) {
		t.Errorf("tags %v, want %v", tags, want)
	}
}

func TestDecodeFraming(t *testing.T) {
	t.Run("padding is consumed", func(t *testing.T) {
		b := setLength(append(mustEncode(t, New(EnquireLink, nil).WithSeq(8)), 0, 0, 0, 0))
		p, n, err := Decode(b)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if n != 20 || p.CommandID() != EnquireLink {
			t.Errorf("got %s consuming %d", p, n)
		}
	})
	t.Run("missing padding", func(t *testing.T) {
		b := mustEncode(t, New(EnquireLink, nil).WithSeq(8))
		binary.BigEndian.PutUint32(b, 24)
		expectDecodeError(t, b, Corrupt, StatusInvCmdLen)
	})
	t.Run("unknown command id", func(t *testing.T) {
		b, _ := hex.DecodeString("00000010000000FF0000000000000001")
		expectDecodeError(t, b, Corrupt, StatusInvCmdID)
	})
	t.Run("truncated mandatory field", func(t *testing.T) {
		b := setLength(append(mustEncode(t, New(EnquireLink, nil).WithSeq(1)), 'A', 'B'))
		binary.BigEndian.PutUint32(b[4:], uint32(SubmitSM))
		expectDecodeError(t, b, Corrupt, StatusInvMsgLen)
	})
	t.Run("undefined status", func(t *testing.T) {
		b, _ := hex.DecodeString("00000010800000150000000900000001")
		de := expectDecodeError(t, b, Parse, StatusUnknownErr)
		if de.Header.ID != EnquireLinkResp {
			t.Errorf("header id %s", de.Header.ID)
		}
	})
	t.Run("vendor status range", func(t *testing.T) {
		b, _ := hex.DecodeString("00000010800000150000040100000001")
		p, _, err := Decode(b)
		if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if p.Status().Range() != RangeVendorSpecific {
			t.Errorf("status %s not in vendor range", p.Status())
		}
		if !strings.HasPrefix(p.Status().String(), "RESERVEDSTATUS_VENDOR_SPECIFIC") {
			t.Errorf("status name %s", p.Status())
		}
	})
}

func TestReadFrame(t *testing.T) {
	a := mustEncode(t, New(EnquireLink, nil).WithSeq(1))
	b := mustEncode(t, New(SubmitSMResp, Params{ParamMessageID: "x"}).WithSeq(2))
	r := bytes.NewReader(append(bytes.Clone(a), b...))

	f1, err := ReadFrame(r, 1024)
	if err != nil || !bytes.Equal(f1, a) {
		t.Fatalf("first frame %x, %v", f1, err)
	}
	f2, err := ReadFrame(r, 1024)
	if err != nil || !bytes.Equal(f2, b) {
		t.Fatalf("second frame %x, %v", f2, err)
	}
	if _, err := ReadFrame(r, 1024); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}

	if _, err := ReadFrame(bytes.NewReader(a[:10]), 1024); err != io.ErrUnexpectedEOF {
		t.Errorf("expected io.ErrUnexpectedEOF, got %v", err)
	}
	if _, err := ReadFrame(bytes.NewReader(b), 16); !IsCorrupt(err) {
		t.Errorf("expected corrupt error for oversized frame, got %v", err)
	}
}
