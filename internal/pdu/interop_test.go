package pdu

import (
	"bytes"
	"testing"

	"github.com/linxGnu/gosmpp/data"
	gpdu "github.com/linxGnu/gosmpp/pdu"
)

// Frames produced here must parse with gosmpp and vice versa.

func TestEncodeParsesWithGosmpp(t *testing.T) {
	b := mustEncode(t, New(EnquireLink, nil).WithSeq(7))
	p, err := gpdu.Parse(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("gosmpp Parse: %v", err)
	}
	if _, ok := p.(*gpdu.EnquireLink); !ok {
		t.Fatalf("gosmpp parsed %T", p)
	}
	if p.GetSequenceNumber() != 7 {
		t.Errorf("sequence %d, want 7", p.GetSequenceNumber())
	}

	sm := New(SubmitSM, Params{
		ParamSourceAddr:      "AEGIS",
		ParamSourceAddrTON:   TONAlphanumeric,
		ParamDestinationAddr: "2348012345678",
		ParamDestAddrTON:     TONInternational,
		ParamDestAddrNPI:     NPIISDN,
		ParamShortMessage:    []byte("hello"),
		ParamSarMsgRefNum:    9,
	}).WithSeq(21)
	p, err = gpdu.Parse(bytes.NewReader(mustEncode(t, sm)))
	if err != nil {
		t.Fatalf("gosmpp Parse submit_sm: %v", err)
	}
	got, ok := p.(*gpdu.SubmitSM)
	if !ok {
		t.Fatalf("gosmpp parsed %T", p)
	}
	if got.SourceAddr.Address() != "AEGIS" || got.DestAddr.Address() != "2348012345678" {
		t.Errorf("addresses %q -> %q", got.SourceAddr.Address(), got.DestAddr.Address())
	}
	if msg, err := got.Message.GetMessage(); err != nil || msg != "hello" {
		t.Errorf("message %q, %v", msg, err)
	}
}

func TestDecodeGosmppFrames(t *testing.T) {
	p := gpdu.NewSubmitSM().(*gpdu.SubmitSM)
	p.SetSequenceNumber(42)
	src := gpdu.NewAddress()
	src.SetTon(5)
	if err := src.SetAddress("BANK"); err != nil {
		t.Fatal(err)
	}
	dst := gpdu.NewAddress()
	dst.SetTon(1)
	dst.SetNpi(1)
	if err := dst.SetAddress("2348099999999"); err != nil {
		t.Fatal(err)
	}
	p.SourceAddr, p.DestAddr = src, dst
	p.RegisteredDelivery = 1
	if err := p.Message.SetMessageWithEncoding("otp 1234", data.GSM7BIT); err != nil {
		t.Fatal(err)
	}

	buf := gpdu.NewBuffer(nil)
	p.Marshal(buf)
	got, n, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len(buf.Bytes()) {
		t.Errorf("consumed %d of %d", n, len(buf.Bytes()))
	}
	if got.CommandID() != SubmitSM || got.Seq() != 42 {
		t.Fatalf("decoded %s", got)
	}
	if got.StringParam(ParamSourceAddr) != "BANK" || got.StringParam(ParamDestinationAddr) != "2348099999999" {
		t.Errorf("addresses %q -> %q", got.StringParam(ParamSourceAddr), got.StringParam(ParamDestinationAddr))
	}
	if ton, _ := Get[TON](got, ParamSourceAddrTON); ton != TONAlphanumeric {
		t.Errorf("source ton %s", ton)
	}
	if got.RegisteredDelivery().Receipt() != ReceiptRequested {
		t.Errorf("registered_delivery %d", got.RegisteredDelivery())
	}
	if string(got.Message()) != "otp 1234" {
		t.Errorf("message %q", got.Message())
	}

	resp, err := got.Ack(StatusOK, Params{ParamMessageID: "gw-1"})
	if err != nil {
		t.Fatal(err)
	}
	r, err := gpdu.Parse(bytes.NewReader(mustEncode(t, resp)))
	if err != nil {
		t.Fatalf("gosmpp Parse submit_sm_resp: %v", err)
	}
	sr, ok := r.(*gpdu.SubmitSMResp)
	if !ok || sr.MessageID != "gw-1" || sr.GetSequenceNumber() != 42 {
		t.Errorf("gosmpp read %#v", r)
	}
}
