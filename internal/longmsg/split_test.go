package longmsg

import (
	"bytes"
	"errors"
	"testing"

	"github.com/thrillee/aegis-smpp/internal/pdu"
	"github.com/thrillee/aegis-smpp/pkg/segmenter"
	"github.com/thrillee/aegis-smpp/pkg/udh"
)

func submit(payload []byte, coding pdu.DataCoding) pdu.PDU {
	return pdu.New(pdu.SubmitSM, pdu.Params{
		pdu.ParamSourceAddr:         "sender",
		pdu.ParamDestinationAddr:    "2348012345678",
		pdu.ParamMessagePayload:     payload,
		pdu.ParamDataCoding:         coding,
		pdu.ParamRegisteredDelivery: pdu.ReceiptRequested,
	})
}

func payloadFor(parts int, coding pdu.DataCoding) []byte {
	c := segmenter.CapacityFor(coding)
	n := c.Single
	if parts > 1 {
		n = c.Part*(parts-1) + c.Part/2
	}
	return text(n)
}

func text(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + i%26)
	}
	return b
}

func TestSplitSAR(t *testing.T) {
	for n := 2; n <= 5; n++ {
		payload := payloadFor(n, pdu.CodingDefault)
		base := submit(payload, pdu.CodingDefault)
		parts, err := Split(base, payload, pdu.CodingDefault, MethodSAR, 4242, 5)
		if err != nil {
			t.Fatalf("%d parts: %v", n, err)
		}
		if len(parts) != n {
			t.Fatalf("got %d parts, want %d", len(parts), n)
		}
		var joined []byte
		for i, p := range parts {
			if got := p.IntParam(pdu.ParamSarMsgRefNum); got != 4242 {
				t.Errorf("part %d ref = %d", i, got)
			}
			if got := p.IntParam(pdu.ParamSarTotalSegments); got != n {
				t.Errorf("part %d total = %d", i, got)
			}
			if got := p.IntParam(pdu.ParamSarSegmentSeqnum); got != i+1 {
				t.Errorf("part %d seqnum = %d", i, got)
			}
			if p.Has(pdu.ParamMessagePayload) {
				t.Errorf("part %d still carries message_payload", i)
			}
			if p.EsmClass().UDHI() {
				t.Errorf("part %d has UDHI set", i)
			}
			if p.StringParam(pdu.ParamDestinationAddr) != "2348012345678" {
				t.Errorf("part %d lost the destination", i)
			}
			joined = append(joined, p.BytesParam(pdu.ParamShortMessage)...)
		}
		if !bytes.Equal(joined, payload) {
			t.Errorf("%d parts do not join back to the payload", n)
		}
		if !bytes.Equal(base.BytesParam(pdu.ParamMessagePayload), payload) || base.Has(pdu.ParamSarMsgRefNum) {
			t.Errorf("base PDU was modified")
		}
	}
}

func TestSplitUDH(t *testing.T) {
	for _, coding := range []pdu.DataCoding{pdu.CodingDefault, pdu.CodingUCS2, pdu.CodingLatin1} {
		for n := 2; n <= 5; n++ {
			payload := payloadFor(n, coding)
			parts, err := Split(submit(payload, coding), payload, coding, MethodUDH, 77, 5)
			if err != nil {
				t.Fatalf("%s %d parts: %v", coding, n, err)
			}
			if len(parts) != n {
				t.Fatalf("%s: got %d parts, want %d", coding, len(parts), n)
			}
			var joined []byte
			for i, p := range parts {
				sm := p.BytesParam(pdu.ParamShortMessage)
				if !p.EsmClass().UDHI() {
					t.Errorf("part %d: UDHI not set", i)
				}
				h, body, ok := udh.SplitConcat(sm)
				if !ok {
					t.Fatalf("part %d: no concatenation header in % X", i, sm[:6])
				}
				if h.Ref != 77 || int(h.Total) != n || int(h.Seq) != i+1 {
					t.Errorf("part %d: header %+v", i, h)
				}
				if !bytes.Equal(sm[:6], udh.ConcatHeader(77, uint8(n), uint8(i+1))) {
					t.Errorf("part %d: header bytes % X", i, sm[:6])
				}
				if p.DataCoding() != coding {
					t.Errorf("part %d: data_coding %s", i, p.DataCoding())
				}
				more, _ := pdu.Get[pdu.MoreMessagesToSend](p, pdu.ParamMoreMessagesToSend)
				if want := i < n-1; (more == pdu.MoreMessages) != want {
					t.Errorf("part %d: more_messages_to_send = %v", i, more)
				}
				if p.Has(pdu.ParamSarMsgRefNum) {
					t.Errorf("part %d carries SAR parameters", i)
				}
				joined = append(joined, body...)
			}
			if !bytes.Equal(joined, payload) {
				t.Errorf("%s: %d parts do not join back to the payload", coding, n)
			}
		}
	}
}

func TestSplitFullParts(t *testing.T) {
	for _, method := range []Method{MethodSAR, MethodUDH} {
		for _, coding := range []pdu.DataCoding{pdu.CodingDefault, pdu.CodingUCS2, pdu.CodingLatin1} {
			part := segmenter.CapacityFor(coding).Part
			for n := 1; n <= 5; n++ {
				payload := text(part * n)
				parts, err := Split(submit(payload, coding), payload, coding, method, 9, 5)
				if err != nil {
					t.Fatalf("%s %s x%d: %v", method, coding, n, err)
				}
				if len(parts) != n {
					t.Fatalf("%s %s: %d octets gave %d parts, want %d", method, coding, len(payload), len(parts), n)
				}
				var joined []byte
				for i, p := range parts {
					body := p.BytesParam(pdu.ParamShortMessage)
					if method == MethodUDH {
						_, b, ok := udh.SplitConcat(body)
						if !ok {
							t.Fatalf("%s x%d part %d: no concatenation header", coding, n, i)
						}
						body = b
					}
					if len(body) != part {
						t.Errorf("%s %s x%d part %d: %d octets, want %d", method, coding, n, i, len(body), part)
					}
					joined = append(joined, body...)
				}
				if !bytes.Equal(joined, payload) {
					t.Errorf("%s %s x%d: parts do not join back to the payload", method, coding, n)
				}
			}
		}
	}
}

func TestSplitKeepsUCS2Characters(t *testing.T) {
	payload := payloadFor(3, pdu.CodingUCS2)
	parts, err := Split(submit(payload, pdu.CodingUCS2), payload, pdu.CodingUCS2, MethodSAR, 1, 5)
	if err != nil {
		t.Fatal(err)
	}
	for i, p := range parts {
		if n := len(p.BytesParam(pdu.ParamShortMessage)); n%2 != 0 || n > 134 {
			t.Errorf("part %d has %d octets", i, n)
		}
	}
}

func TestSplitTooLong(t *testing.T) {
	payload := payloadFor(6, pdu.CodingDefault)
	_, err := Split(submit(payload, pdu.CodingDefault), payload, pdu.CodingDefault, MethodSAR, 1, 5)
	var tooLong *TooLongError
	if !errors.As(err, &tooLong) {
		t.Fatalf("err = %v, want TooLongError", err)
	}
	if tooLong.Parts != 6 || tooLong.Max != 5 {
		t.Errorf("got %+v", tooLong)
	}
	if tooLong.CommandStatus() != pdu.StatusInvMsgLen {
		t.Errorf("status = %s", tooLong.CommandStatus())
	}
}

func TestSplitUDHRefRange(t *testing.T) {
	payload := payloadFor(2, pdu.CodingDefault)
	if _, err := Split(submit(payload, pdu.CodingDefault), payload, pdu.CodingDefault, MethodUDH, 256, 5); err == nil {
		t.Fatal("expected an error for a reference above 255")
	}
	if _, err := Split(submit(payload, pdu.CodingDefault), payload, pdu.CodingDefault, MethodSAR, 256, 5); err != nil {
		t.Fatalf("SAR reference 256: %v", err)
	}
}

func TestParseMethod(t *testing.T) {
	if m, err := ParseMethod("UDH"); err != nil || m != MethodUDH {
		t.Errorf("ParseMethod(UDH) = %q, %v", m, err)
	}
	if _, err := ParseMethod("smart"); err == nil {
		t.Error("expected an error for an unknown method")
	}
}
