package session

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/thrillee/aegis-smpp/internal/pdu"
	"github.com/thrillee/aegis-smpp/internal/stats"
)

type staticAuth map[string]string

func (a staticAuth) Authenticate(_ context.Context, _ *Session, _ BindType, req BindParams) error {
	pw, ok := a[req.SystemID]
	if !ok {
		return ErrUnknownSystemID
	}
	if pw != req.Password {
		return ErrInvalidPassword
	}
	return nil
}

func testConfig() Config {
	return Config{
		SessionInitTimeout: 2 * time.Second,
		ResponseTimeout:    2 * time.Second,
		WindowSize:         4,
		MaxPDUSize:         4096,
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func run(t *testing.T, s *Session) {
	t.Helper()
	go func() { _ = s.Run(context.Background()) }()
	t.Cleanup(func() {
		s.Close()
		waitDone(t, s)
	})
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("%s session did not end", s.Role())
	}
}

// tcpPair returns both ends of a loopback TCP connection. Unlike net.Pipe
// the kernel buffers writes, so two sessions never block on each other.
func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()
	c, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	s, ok := <-accepted
	if !ok {
		t.Fatal("accept failed")
	}
	return c, s
}

func pair(t *testing.T, client, server Options) (*Session, *Session) {
	t.Helper()
	cc, sc := tcpPair(t)
	client.Role = RoleClient
	server.Role = RoleServer
	if server.Authenticator == nil {
		server.Authenticator = staticAuth{"u1": "p1"}
	}
	c := New(cc, testConfig(), client)
	s := New(sc, testConfig(), server)
	run(t, c)
	run(t, s)
	return c, s
}

func bind(t *testing.T, c *Session, bt BindType) {
	t.Helper()
	if _, err := c.Bind(testContext(t), bt, BindParams{SystemID: "u1", Password: "p1"}); err != nil {
		t.Fatalf("bind %s: %v", bt, err)
	}
}

func submit(dest string) pdu.PDU {
	return pdu.New(pdu.SubmitSM, pdu.Params{
		pdu.ParamSourceAddr:      "1000",
		pdu.ParamDestinationAddr: dest,
		pdu.ParamShortMessage:    []byte("hello"),
	})
}

// rawPeer drives one end of a connection with hand-built frames.
type rawPeer struct {
	t    *testing.T
	conn net.Conn
	in   chan pdu.PDU
}

func newRawPeer(t *testing.T, conn net.Conn) *rawPeer {
	r := &rawPeer{t: t, conn: conn, in: make(chan pdu.PDU, 16)}
	go func() {
		defer close(r.in)
		for {
			frame, err := pdu.ReadFrame(conn, 0)
			if err != nil {
				return
			}
			p, _, err := pdu.Decode(frame)
			if err != nil {
				t.Errorf("peer decode: %v", err)
				return
			}
			r.in <- p
		}
	}()
	t.Cleanup(func() { conn.Close() })
	return r
}

func (r *rawPeer) write(p pdu.PDU) {
	r.t.Helper()
	b, err := pdu.Encode(p)
	if err != nil {
		r.t.Fatalf("encode %s: %v", p, err)
	}
	r.writeBytes(b)
}

func (r *rawPeer) writeBytes(b []byte) {
	r.t.Helper()
	if _, err := r.conn.Write(b); err != nil {
		r.t.Fatalf("peer write: %v", err)
	}
}

func (r *rawPeer) expect(id pdu.CommandID) pdu.PDU {
	r.t.Helper()
	select {
	case p, ok := <-r.in:
		if !ok {
			r.t.Fatalf("connection closed while waiting for %s", id)
		}
		if p.CommandID() != id {
			r.t.Fatalf("got %s, want %s", p, id)
		}
		return p
	case <-time.After(3 * time.Second):
		r.t.Fatalf("timed out waiting for %s", id)
	}
	return pdu.PDU{}
}

// quiet fails if the session sends anything within d.
func (r *rawPeer) quiet(d time.Duration) {
	r.t.Helper()
	select {
	case p, ok := <-r.in:
		if ok {
			r.t.Fatalf("unexpected %s", p)
		}
	case <-time.After(d):
	}
}

func (r *rawPeer) ack(req pdu.PDU, status pdu.CommandStatus) {
	r.t.Helper()
	resp, err := req.Ack(status, nil)
	if err != nil {
		r.t.Fatal(err)
	}
	r.write(resp)
}

func rawServer(t *testing.T, cfg Config) (*Session, *rawPeer) {
	t.Helper()
	a, b := net.Pipe()
	s := New(a, cfg, Options{Role: RoleServer, Authenticator: staticAuth{"u1": "p1"}})
	run(t, s)
	return s, newRawPeer(t, b)
}

// rawClient returns a client session bound as bt against a scripted SMSC.
func rawClient(t *testing.T, cfg Config, bt BindType) (*Session, *rawPeer) {
	t.Helper()
	return rawClientWith(t, cfg, bt, Options{})
}

func rawClientWith(t *testing.T, cfg Config, bt BindType, opts Options) (*Session, *rawPeer) {
	t.Helper()
	a, b := net.Pipe()
	opts.Role = RoleClient
	c := New(a, cfg, opts)
	run(t, c)
	peer := newRawPeer(t, b)

	errc := make(chan error, 1)
	go func() {
		_, err := c.Bind(context.Background(), bt, BindParams{SystemID: "u1", Password: "p1"})
		errc <- err
	}()
	peer.ack(peer.expect(bt.Command()), pdu.StatusOK)
	if err := <-errc; err != nil {
		t.Fatalf("bind: %v", err)
	}
	return c, peer
}

// =============================================================================
// Binding
// =============================================================================

func TestBindTransceiver(t *testing.T) {
	client, server := pair(t, Options{}, Options{})

	resp, err := client.Bind(testContext(t), BindTransceiver, BindParams{SystemID: "u1", Password: "p1"})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if resp.CommandID() != pdu.BindTransceiverResp || resp.Status() != pdu.StatusOK {
		t.Fatalf("bind response = %s", resp)
	}
	if got := resp.StringParam(pdu.ParamSystemID); got != "u1" {
		t.Errorf("bind_resp system_id = %q, want u1", got)
	}
	if got := client.State(); got != StateBoundTRX {
		t.Errorf("client state = %s, want %s", got, StateBoundTRX)
	}
	if got := server.State(); got != StateBoundTRX {
		t.Errorf("server state = %s, want %s", got, StateBoundTRX)
	}
	if server.SystemID() != "u1" || server.BindType() != BindTransceiver {
		t.Errorf("server bound %q as %s", server.SystemID(), server.BindType())
	}
}

func TestBindRejected(t *testing.T) {
	tests := []struct {
		name   string
		params BindParams
		want   pdu.CommandStatus
	}{
		{"bad password", BindParams{SystemID: "u1", Password: "nope"}, pdu.StatusInvPaswd},
		{"unknown system_id", BindParams{SystemID: "u9", Password: "p1"}, pdu.StatusInvSysID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := pair(t, Options{}, Options{})
			_, err := client.Bind(testContext(t), BindTransmitter, tt.params)
			var te *TransactionError
			if !errors.As(err, &te) {
				t.Fatalf("Bind error = %v, want *TransactionError", err)
			}
			if got := te.Response.Status(); got != tt.want {
				t.Errorf("status = %s, want %s", got, tt.want)
			}
			waitDone(t, client)
			if !errors.Is(client.Err(), ErrSessionClosed) {
				t.Errorf("client.Err() = %v", client.Err())
			}
		})
	}
}

func TestBindTwice(t *testing.T) {
	s, peer := rawServer(t, testConfig())
	bindPDU := BindParams{SystemID: "u1", Password: "p1"}.pdu(BindTransmitter)

	peer.write(bindPDU.WithSeq(1))
	if resp := peer.expect(pdu.BindTransmitterResp); resp.Status() != pdu.StatusOK {
		t.Fatalf("first bind = %s", resp)
	}
	peer.write(bindPDU.WithSeq(2))
	if resp := peer.expect(pdu.BindTransmitterResp); resp.Status() != pdu.StatusAlyBnd {
		t.Fatalf("second bind = %s, want %s", resp, pdu.StatusAlyBnd)
	}
	if s.State() != StateBoundTX {
		t.Errorf("state = %s", s.State())
	}
}

func TestClientRejectsBindWhenBound(t *testing.T) {
	client, _ := pair(t, Options{}, Options{})
	bind(t, client, BindTransmitter)

	_, err := client.Bind(testContext(t), BindReceiver, BindParams{SystemID: "u1"})
	var se *SessionStateError
	if !errors.As(err, &se) || se.State != StateBoundTX {
		t.Fatalf("second Bind error = %v", err)
	}
}

func TestDeliverRightBehindBindResp(t *testing.T) {
	delivered := make(chan pdu.PDU, 1)
	handler := HandlerFunc(func(_ context.Context, _ *Session, p pdu.PDU) (Response, error) {
		delivered <- p
		return Response{}, nil
	})
	a, b := net.Pipe()
	c := New(a, testConfig(), Options{Role: RoleClient, Handler: handler})
	run(t, c)
	peer := newRawPeer(t, b)

	errc := make(chan error, 1)
	go func() {
		_, err := c.Bind(context.Background(), BindTransceiver, BindParams{SystemID: "u1", Password: "p1"})
		errc <- err
	}()
	req := peer.expect(pdu.BindTransceiver)
	resp, err := req.Ack(pdu.StatusOK, pdu.Params{pdu.ParamSystemID: "smsc"})
	if err != nil {
		t.Fatal(err)
	}
	deliver := pdu.New(pdu.DeliverSM, pdu.Params{
		pdu.ParamSourceAddr:      "2000",
		pdu.ParamDestinationAddr: "1000",
		pdu.ParamShortMessage:    []byte("queued"),
	}).WithSeq(77)
	// Both PDUs in one write, as SMSCs flushing a backlog do.
	frames := append(mustEncode(t, resp), mustEncode(t, deliver)...)
	peer.writeBytes(frames)

	ack := peer.expect(pdu.DeliverSMResp)
	if ack.Seq() != 77 || ack.Status() != pdu.StatusOK {
		t.Fatalf("deliver_sm answered with %s", ack)
	}
	if err := <-errc; err != nil {
		t.Fatalf("Bind: %v", err)
	}
	select {
	case p := <-delivered:
		if string(p.Message()) != "queued" {
			t.Errorf("handler got %q", p.Message())
		}
	case <-time.After(time.Second):
		t.Fatal("handler did not run")
	}
	if c.State() != StateBoundTRX {
		t.Errorf("state = %s, want %s", c.State(), StateBoundTRX)
	}
}

func mustEncode(t *testing.T, p pdu.PDU) []byte {
	t.Helper()
	b, err := pdu.Encode(p)
	if err != nil {
		t.Fatalf("encode %s: %v", p, err)
	}
	return b
}

func TestSessionInitTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.SessionInitTimeout = 50 * time.Millisecond
	s, _ := rawServer(t, cfg)
	waitDone(t, s)
	if !errors.Is(s.Err(), ErrSessionClosed) {
		t.Errorf("Err() = %v", s.Err())
	}
}

// =============================================================================
// Requests
// =============================================================================

func TestSubmitAndDeliver(t *testing.T) {
	serverHandler := HandlerFunc(func(_ context.Context, _ *Session, p pdu.PDU) (Response, error) {
		if p.CommandID() != pdu.SubmitSM {
			t.Errorf("server got %s", p)
		}
		return Response{Params: pdu.Params{pdu.ParamMessageID: "m-1"}}, nil
	})
	delivered := make(chan pdu.PDU, 1)
	clientHandler := HandlerFunc(func(_ context.Context, _ *Session, p pdu.PDU) (Response, error) {
		delivered <- p
		return Response{}, nil
	})
	counters := stats.NewCounters()
	client, server := pair(t, Options{Handler: clientHandler, Stats: counters}, Options{Handler: serverHandler})
	bind(t, client, BindTransceiver)
	ctx := testContext(t)

	res, err := client.Send(ctx, submit("2000"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got := res.Response.StringParam(pdu.ParamMessageID); got != "m-1" {
		t.Errorf("message_id = %q", got)
	}
	if res.Request.Seq() != 2 || res.Response.Seq() != 2 {
		t.Errorf("seq = %d/%d, want 2 after the bind", res.Request.Seq(), res.Response.Seq())
	}

	deliver := pdu.New(pdu.DeliverSM, pdu.Params{
		pdu.ParamSourceAddr:      "2000",
		pdu.ParamDestinationAddr: "1000",
		pdu.ParamShortMessage:    []byte("reply"),
	})
	if _, err := server.Send(ctx, deliver); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if got := string((<-delivered).Message()); got != "reply" {
		t.Errorf("delivered %q", got)
	}

	snap := counters.Snapshot()
	if snap.BindType != "transceiver" || snap.BoundCount != 1 {
		t.Errorf("bind stats = %q x%d", snap.BindType, snap.BoundCount)
	}
	if snap.Outcomes[stats.OutcomeOK] != 2 || snap.Sent[pdu.SubmitSM] != 1 || snap.Received[pdu.DeliverSM] != 1 {
		t.Errorf("stats = %+v", snap)
	}
}

func TestReceiverCannotSubmit(t *testing.T) {
	s, peer := rawServer(t, testConfig())

	peer.write(BindParams{SystemID: "u1", Password: "p1"}.pdu(BindReceiver).WithSeq(1))
	if resp := peer.expect(pdu.BindReceiverResp); resp.Status() != pdu.StatusOK {
		t.Fatalf("bind = %s", resp)
	}
	peer.write(submit("2000").WithSeq(2))
	resp := peer.expect(pdu.SubmitSMResp)
	if resp.Status() != pdu.StatusInvBndSts || resp.Seq() != 2 {
		t.Fatalf("submit_sm over receiver bind = %s", resp)
	}

	// Both sides carry on.
	peer.write(pdu.New(pdu.EnquireLink, nil).WithSeq(3))
	if resp := peer.expect(pdu.EnquireLinkResp); resp.Status() != pdu.StatusOK {
		t.Fatalf("enquire_link = %s", resp)
	}
	if s.State() != StateBoundRX {
		t.Errorf("state = %s", s.State())
	}
}

func TestClientChecksBindTypeBeforeSending(t *testing.T) {
	client, _ := pair(t, Options{}, Options{})
	bind(t, client, BindReceiver)

	_, err := client.SendRequest(testContext(t), submit("2000"))
	var se *SessionStateError
	if !errors.As(err, &se) {
		t.Fatalf("SendRequest error = %v, want *SessionStateError", err)
	}
	if statusOf(err) != pdu.StatusInvBndSts {
		t.Errorf("status = %s", statusOf(err))
	}
	if client.State() != StateBoundRX {
		t.Errorf("state = %s", client.State())
	}
}

func TestHandlerErrorPolicy(t *testing.T) {
	handler := HandlerFunc(func(_ context.Context, _ *Session, p pdu.PDU) (Response, error) {
		switch p.StringParam(pdu.ParamDestinationAddr) {
		case "bad":
			return Response{}, &ProtocolError{Status: pdu.StatusInvDstAdr}
		case "throttle":
			return Response{}, &InterceptionError{Status: pdu.StatusThrottled, Err: errors.New("quota")}
		case "boom":
			return Response{}, errors.New("boom")
		}
		return Response{}, nil
	})
	client, server := pair(t, Options{}, Options{Handler: handler})
	bind(t, client, BindTransmitter)
	ctx := testContext(t)

	for dest, want := range map[string]pdu.CommandStatus{
		"bad":      pdu.StatusInvDstAdr,
		"throttle": pdu.StatusThrottled,
	} {
		_, err := client.Send(ctx, submit(dest))
		var te *TransactionError
		if !errors.As(err, &te) || te.Response.Status() != want {
			t.Fatalf("submit to %s: %v, want %s", dest, err, want)
		}
	}
	if !client.State().Bound() || !server.State().Bound() {
		t.Fatalf("refusals must keep the session bound")
	}

	_, err := client.Send(ctx, submit("boom"))
	var te *TransactionError
	if !errors.As(err, &te) || te.Response.Status() != pdu.StatusRxTAppn {
		t.Fatalf("submit to boom: %v", err)
	}
	// The server unbinds after an unexpected handler failure.
	waitDone(t, client)
	waitDone(t, server)
	if client.Err() != nil || server.Err() != nil {
		t.Errorf("expected clean unbind, got client=%v server=%v", client.Err(), server.Err())
	}
}

func TestNoHandler(t *testing.T) {
	s, peer := rawServer(t, testConfig())
	peer.write(BindParams{SystemID: "u1", Password: "p1"}.pdu(BindTransmitter).WithSeq(1))
	peer.expect(pdu.BindTransmitterResp)

	peer.write(submit("2000").WithSeq(2))
	if resp := peer.expect(pdu.SubmitSMResp); resp.Status() != pdu.StatusRxTAppn {
		t.Fatalf("submit_sm = %s", resp)
	}
	peer.ack(peer.expect(pdu.Unbind), pdu.StatusOK)
	waitDone(t, s)
}

func TestResponseTimeout(t *testing.T) {
	client, peer := rawClient(t, testConfig(), BindTransmitter)
	ctx := testContext(t)

	f, err := client.SendRequestTimeout(ctx, submit("2000"), 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	peer.expect(pdu.SubmitSM)

	_, err = f.Wait(ctx)
	var te *TimeoutError
	if !errors.As(err, &te) || !te.Timeout() {
		t.Fatalf("Wait error = %v, want *TimeoutError", err)
	}
	// A timed out session unbinds.
	peer.ack(peer.expect(pdu.Unbind), pdu.StatusOK)
	waitDone(t, client)
	if client.Err() != nil {
		t.Errorf("Err() = %v", client.Err())
	}
}

func TestWindowLimitsOutstandingRequests(t *testing.T) {
	cfg := testConfig()
	cfg.WindowSize = 1
	client, peer := rawClient(t, cfg, BindTransmitter)

	first, err := client.SendRequest(testContext(t), submit("2000"))
	if err != nil {
		t.Fatal(err)
	}
	req := peer.expect(pdu.SubmitSM)

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := client.SendRequest(short, submit("2001")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second SendRequest error = %v, want deadline exceeded", err)
	}

	peer.ack(req, pdu.StatusOK)
	if _, err := first.Wait(testContext(t)); err != nil {
		t.Fatal(err)
	}
	if _, err := client.SendRequest(testContext(t), submit("2002")); err != nil {
		t.Fatalf("window slot was not released: %v", err)
	}
}

func TestCloseCancelsOutbound(t *testing.T) {
	client, peer := rawClient(t, testConfig(), BindTransmitter)
	f, err := client.SendRequest(testContext(t), submit("2000"))
	if err != nil {
		t.Fatal(err)
	}
	peer.expect(pdu.SubmitSM)

	client.Close()
	if _, err := f.Wait(testContext(t)); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("Wait error = %v, want ErrSessionClosed", err)
	}
	waitDone(t, client)
	if client.OutboundCount() != 0 {
		t.Errorf("outbound left: %d", client.OutboundCount())
	}
}

// =============================================================================
// Timers
// =============================================================================

func TestEnquireLinkWhileBound(t *testing.T) {
	cfg := testConfig()
	cfg.EnquireLinkInterval = 50 * time.Millisecond
	client, peer := rawClient(t, cfg, BindTransmitter)

	for range 2 {
		peer.ack(peer.expect(pdu.EnquireLink), pdu.StatusOK)
	}
	if client.State() != StateBoundTX {
		t.Errorf("state = %s", client.State())
	}
}

func TestNoEnquireLinkBeforeBind(t *testing.T) {
	cfg := testConfig()
	cfg.EnquireLinkInterval = 20 * time.Millisecond
	_, peer := rawServer(t, cfg)
	peer.quiet(100 * time.Millisecond)
}

func TestInactivityTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.InactivityTimeout = 300 * time.Millisecond
	client, peer := rawClient(t, cfg, BindTransmitter)

	// Traffic keeps the session alive.
	peer.write(pdu.New(pdu.EnquireLink, nil).WithSeq(40))
	peer.expect(pdu.EnquireLinkResp)

	// Silence makes it unbind.
	peer.ack(peer.expect(pdu.Unbind), pdu.StatusOK)
	waitDone(t, client)
	if client.Err() != nil {
		t.Errorf("Err() = %v", client.Err())
	}
}

func TestPDUReadTimeoutCorrupts(t *testing.T) {
	cfg := testConfig()
	cfg.PDUReadTimeout = 50 * time.Millisecond
	s, peer := rawServer(t, cfg)

	// A header that never completes.
	peer.writeBytes([]byte{0, 0, 0, 16, 0, 0})
	nack := peer.expect(pdu.GenericNack)
	if nack.Seq() != 0 {
		t.Errorf("generic_nack seq = %d, want 0", nack.Seq())
	}
	waitDone(t, s)
	if !errors.Is(s.Err(), ErrConnectionCorrupted) {
		t.Errorf("Err() = %v", s.Err())
	}
}

// =============================================================================
// Unbind
// =============================================================================

func TestUnbindWaitsForInFlightWork(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	handler := HandlerFunc(func(_ context.Context, _ *Session, _ pdu.PDU) (Response, error) {
		close(started)
		<-release
		return Response{}, nil
	})
	client, peer := rawClientWith(t, testConfig(), BindTransceiver, Options{Handler: handler})
	ctx := testContext(t)

	peer.write(pdu.New(pdu.DeliverSM, pdu.Params{
		pdu.ParamSourceAddr:      "2000",
		pdu.ParamDestinationAddr: "1000",
	}).WithSeq(50))
	<-started

	f, err := client.SendRequest(ctx, submit("2000"))
	if err != nil {
		t.Fatal(err)
	}
	sub := peer.expect(pdu.SubmitSM)

	unbound := make(chan error, 1)
	go func() { unbound <- client.Unbind(ctx) }()

	// The inbound handler is still running.
	peer.quiet(100 * time.Millisecond)
	close(release)
	if resp := peer.expect(pdu.DeliverSMResp); resp.Seq() != 50 {
		t.Fatalf("deliver_sm_resp = %s", resp)
	}

	// The submit_sm is still unanswered.
	peer.quiet(100 * time.Millisecond)
	peer.ack(sub, pdu.StatusOK)
	if _, err := f.Wait(ctx); err != nil {
		t.Fatalf("submit_sm: %v", err)
	}

	peer.ack(peer.expect(pdu.Unbind), pdu.StatusOK)
	if err := <-unbound; err != nil {
		t.Fatalf("Unbind: %v", err)
	}
	waitDone(t, client)
	if client.Err() != nil {
		t.Errorf("Err() = %v", client.Err())
	}
}


func TestUnbind(t *testing.T) {
	client, server := pair(t, Options{}, Options{})
	bind(t, client, BindTransceiver)

	if err := client.Unbind(testContext(t)); err != nil {
		t.Fatalf("Unbind: %v", err)
	}
	waitDone(t, client)
	waitDone(t, server)
	if client.Err() != nil || server.Err() != nil {
		t.Errorf("Err() = %v / %v, want nil", client.Err(), server.Err())
	}
	if client.State() != StateUnbound || server.State() != StateUnbound {
		t.Errorf("states = %s / %s", client.State(), server.State())
	}
}

func TestUnbindRequiresBind(t *testing.T) {
	client, _ := pair(t, Options{}, Options{})
	var se *SessionStateError
	if err := client.Unbind(testContext(t)); !errors.As(err, &se) {
		t.Fatalf("Unbind error = %v", err)
	}
}

func TestPeerUnbindCancelsOutbound(t *testing.T) {
	client, peer := rawClient(t, testConfig(), BindTransmitter)
	f, err := client.SendRequest(testContext(t), submit("2000"))
	if err != nil {
		t.Fatal(err)
	}
	peer.expect(pdu.SubmitSM)

	peer.write(pdu.New(pdu.Unbind, nil).WithSeq(1))
	if resp := peer.expect(pdu.UnbindResp); resp.Status() != pdu.StatusOK || resp.Seq() != 1 {
		t.Fatalf("unbind_resp = %s", resp)
	}
	_, err = f.Wait(testContext(t))
	var se *SessionStateError
	if !errors.As(err, &se) || !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("Wait error = %v", err)
	}
	waitDone(t, client)
	if client.Err() != nil {
		t.Errorf("Err() = %v", client.Err())
	}
}

// =============================================================================
// Stream errors
// =============================================================================

func TestCorruptFrame(t *testing.T) {
	s, peer := rawServer(t, testConfig())

	// command_length below the header size.
	peer.writeBytes([]byte{0, 0, 0, 8, 0, 0, 0, 0})
	nack := peer.expect(pdu.GenericNack)
	if nack.Seq() != 0 || nack.Status() != pdu.StatusInvCmdLen {
		t.Fatalf("generic_nack = %s", nack)
	}
	waitDone(t, s)
	if !errors.Is(s.Err(), ErrConnectionCorrupted) {
		t.Errorf("Err() = %v", s.Err())
	}
}

func TestParseErrorIsAcked(t *testing.T) {
	s, peer := rawServer(t, testConfig())

	// enquire_link with an undefined command_status.
	frame := make([]byte, 16)
	binary.BigEndian.PutUint32(frame[0:], 16)
	binary.BigEndian.PutUint32(frame[4:], uint32(pdu.EnquireLink))
	binary.BigEndian.PutUint32(frame[8:], 0x09)
	binary.BigEndian.PutUint32(frame[12:], 7)
	peer.writeBytes(frame)

	resp := peer.expect(pdu.EnquireLinkResp)
	if resp.Seq() != 7 || resp.Status() != pdu.StatusUnknownErr {
		t.Fatalf("response = %s", resp)
	}

	// Still up, but not bound.
	peer.write(pdu.New(pdu.EnquireLink, nil).WithSeq(8))
	if resp := peer.expect(pdu.EnquireLinkResp); resp.Status() != pdu.StatusInvBndSts {
		t.Fatalf("enquire_link = %s", resp)
	}
	if s.State() != StateOpen {
		t.Errorf("state = %s", s.State())
	}
}

func TestGenericNackWithoutSequenceCorrupts(t *testing.T) {
	client, peer := rawClient(t, testConfig(), BindTransmitter)
	f, err := client.SendRequest(testContext(t), submit("2000"))
	if err != nil {
		t.Fatal(err)
	}
	peer.expect(pdu.SubmitSM)

	peer.write(pdu.GenericNackFor(0, pdu.StatusInvCmdLen))
	if _, err := f.Wait(testContext(t)); !errors.Is(err, ErrConnectionCorrupted) {
		t.Errorf("Wait error = %v", err)
	}
	waitDone(t, client)
	if !errors.Is(client.Err(), ErrConnectionCorrupted) {
		t.Errorf("Err() = %v", client.Err())
	}
}

// =============================================================================
// Internals
// =============================================================================

func idleSession(t *testing.T) *Session {
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	return New(a, testConfig(), Options{Role: RoleClient})
}

func TestSequenceWrap(t *testing.T) {
	s := idleSession(t)
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSeq = pdu.MaxSeq - 1
	if got := s.claimSeq(); got != pdu.MaxSeq {
		t.Fatalf("claimSeq = %d, want %d", got, uint32(pdu.MaxSeq))
	}
	s.outbound[1] = &transaction{}
	if got := s.claimSeq(); got != 2 {
		t.Fatalf("claimSeq after wrap = %d, want 2 (1 is in flight)", got)
	}
}

func TestDuplicateInbound(t *testing.T) {
	s := idleSession(t)
	if err := s.startInbound(5); err != nil {
		t.Fatal(err)
	}
	err := s.startInbound(5)
	var pe *ProtocolError
	if !errors.As(err, &pe) || pe.Status != pdu.StatusUnknownErr {
		t.Fatalf("duplicate startInbound = %v", err)
	}
	s.endInbound(5)
	if err := s.startInbound(5); err != nil {
		t.Fatalf("after endInbound: %v", err)
	}
}

func TestClassify(t *testing.T) {
	req := submit("2000").WithSeq(9)
	tests := []struct {
		name    string
		resp    pdu.PDU
		outcome string
		check   func(error) bool
	}{
		{"ok", pdu.New(pdu.SubmitSMResp, nil), stats.OutcomeOK, func(err error) bool { return err == nil }},
		{"wrong ack", pdu.New(pdu.DeliverSMResp, nil), stats.OutcomeMismatch, func(err error) bool {
			var e *ProtocolMismatchError
			return errors.As(err, &e)
		}},
		{"generic_nack", pdu.GenericNackFor(9, pdu.StatusInvCmdID), stats.OutcomeNack, func(err error) bool {
			var e *GenericNackError
			return errors.As(err, &e) && e.CommandStatus() == pdu.StatusInvCmdID
		}},
		{"error status", pdu.New(pdu.SubmitSMResp, nil).WithStatus(pdu.StatusThrottled), stats.OutcomeError, func(err error) bool {
			var e *TransactionError
			return errors.As(err, &e) && e.CommandStatus() == pdu.StatusThrottled
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, outcome, err := classify(req, tt.resp.WithSeq(9))
			if outcome != tt.outcome {
				t.Errorf("outcome = %q, want %q", outcome, tt.outcome)
			}
			if !tt.check(err) {
				t.Errorf("unexpected error %v", err)
			}
		})
	}
}

func TestBindStatus(t *testing.T) {
	tests := []struct {
		err  error
		want pdu.CommandStatus
	}{
		{ErrUnknownSystemID, pdu.StatusInvSysID},
		{ErrInvalidPassword, pdu.StatusInvPaswd},
		{ErrBindLimit, pdu.StatusBindFail},
		{&ProtocolError{Status: pdu.StatusInvSysTyp}, pdu.StatusInvSysTyp},
		{errors.New("db down"), pdu.StatusBindFail},
	}
	for _, tt := range tests {
		if got := bindStatus(tt.err); got != tt.want {
			t.Errorf("bindStatus(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
