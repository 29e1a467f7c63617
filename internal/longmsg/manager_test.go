package longmsg

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/thrillee/aegis-smpp/internal/future"
	"github.com/thrillee/aegis-smpp/internal/pdu"
	"github.com/thrillee/aegis-smpp/internal/session"
)

type sent struct {
	req pdu.PDU
	out session.Outbound
}

// fakeRequester records requests and lets the test answer them.
type fakeRequester struct {
	mu        sync.Mutex
	seq       uint32
	sent      []sent
	cancelled map[uint32]error
	sendErr   error
}

func newFakeRequester() *fakeRequester {
	return &fakeRequester{cancelled: make(map[uint32]error)}
}

func (f *fakeRequester) SendRequest(_ context.Context, p pdu.PDU) (session.Outbound, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return session.Outbound{}, f.sendErr
	}
	f.seq++
	out := session.Outbound{Seq: f.seq, Future: future.New[session.Result]()}
	f.sent = append(f.sent, sent{req: p.WithSeq(f.seq), out: out})
	return out, nil
}

func (f *fakeRequester) CancelOutbound(seq uint32, err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.sent {
		if s.out.Seq == seq {
			f.cancelled[seq] = err
			return s.out.Reject(err)
		}
	}
	return false
}

func (f *fakeRequester) requests() []sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sent(nil), f.sent...)
}

func (f *fakeRequester) ack(i int) {
	s := f.requests()[i]
	resp, _ := s.req.Ack(pdu.StatusOK, pdu.Params{pdu.ParamMessageID: "msg"})
	s.out.Resolve(session.Result{Request: s.req, Response: resp})
}

func waitFuture(t *testing.T, f *future.Future[session.Result]) (session.Result, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := f.Wait(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		t.Fatal("group result never settled")
	}
	return res, err
}

func longSubmit(parts int) pdu.PDU {
	payload := payloadFor(parts, pdu.CodingDefault)
	return submit(payload, pdu.CodingDefault)
}

func TestShortMessageIsSentAsIs(t *testing.T) {
	req := newFakeRequester()
	m := NewManager(req, DefaultConfig(), nil)

	p := submit([]byte("hello"), pdu.CodingDefault)
	f, err := m.SendLongOrShort(context.Background(), p)
	if err != nil {
		t.Fatal(err)
	}
	reqs := req.requests()
	if len(reqs) != 1 || reqs[0].req.Has(pdu.ParamSarMsgRefNum) {
		t.Fatalf("sent %d requests: %+v", len(reqs), reqs)
	}
	if m.OpenGroups() != 0 {
		t.Errorf("short message opened a group")
	}
	req.ack(0)
	if _, err := waitFuture(t, f); err != nil {
		t.Fatal(err)
	}
}

func TestLongMessageResolvesOnLastAck(t *testing.T) {
	req := newFakeRequester()
	m := NewManager(req, DefaultConfig(), nil)

	f, err := m.SendLongOrShort(context.Background(), longSubmit(3))
	if err != nil {
		t.Fatal(err)
	}
	reqs := req.requests()
	if len(reqs) != 3 {
		t.Fatalf("sent %d parts, want 3", len(reqs))
	}
	ref := reqs[0].req.IntParam(pdu.ParamSarMsgRefNum)
	for i, s := range reqs {
		if s.req.IntParam(pdu.ParamSarMsgRefNum) != ref {
			t.Errorf("part %d has ref %d, want %d", i, s.req.IntParam(pdu.ParamSarMsgRefNum), ref)
		}
	}

	// Acks may come back in any order.
	req.ack(2)
	req.ack(0)
	select {
	case <-f.Done():
		t.Fatal("group settled before every part was acknowledged")
	case <-time.After(50 * time.Millisecond):
	}
	req.ack(1)

	res, err := waitFuture(t, f)
	if err != nil {
		t.Fatal(err)
	}
	if res.Response.CommandID() != pdu.SubmitSMResp {
		t.Errorf("result response = %s", res.Response.CommandID())
	}
	if m.OpenGroups() != 0 {
		t.Errorf("%d groups still open", m.OpenGroups())
	}
}

func TestPartFailureCancelsSiblings(t *testing.T) {
	req := newFakeRequester()
	m := NewManager(req, DefaultConfig(), nil)

	f, err := m.SendLongOrShort(context.Background(), longSubmit(4))
	if err != nil {
		t.Fatal(err)
	}
	reqs := req.requests()
	req.ack(0)

	boom := errors.New("throttled")
	reqs[1].out.Reject(boom)

	if _, err := waitFuture(t, f); !errors.Is(err, boom) {
		t.Fatalf("group err = %v, want %v", err, boom)
	}
	for _, i := range []int{2, 3} {
		if _, err := waitFuture(t, reqs[i].out.Future); !errors.Is(err, boom) {
			t.Errorf("part %d err = %v, want %v", i, err, boom)
		}
	}
	if m.OpenGroups() != 0 {
		t.Errorf("%d groups still open", m.OpenGroups())
	}
}

func TestTooManyPartsRejectedUpFront(t *testing.T) {
	req := newFakeRequester()
	m := NewManager(req, Config{Method: MethodUDH, MaxParts: 3}, nil)

	_, err := m.SendLongOrShort(context.Background(), longSubmit(4))
	var tooLong *TooLongError
	if !errors.As(err, &tooLong) {
		t.Fatalf("err = %v, want TooLongError", err)
	}
	if n := len(req.requests()); n != 0 {
		t.Errorf("%d parts were sent", n)
	}
}

func TestAlreadySegmentedRejected(t *testing.T) {
	m := NewManager(newFakeRequester(), DefaultConfig(), nil)
	p := longSubmit(2).WithParam(pdu.ParamSarMsgRefNum, 9)
	var txErr *TransactionError
	if _, err := m.SendLongOrShort(context.Background(), p); !errors.As(err, &txErr) {
		t.Fatalf("err = %v, want TransactionError", err)
	}
}

func TestSendErrorFailsGroup(t *testing.T) {
	req := newFakeRequester()
	req.sendErr = session.ErrSessionClosed
	m := NewManager(req, DefaultConfig(), nil)

	if _, err := m.SendLongOrShort(context.Background(), longSubmit(2)); !errors.Is(err, session.ErrSessionClosed) {
		t.Fatalf("err = %v", err)
	}
	if m.OpenGroups() != 0 {
		t.Errorf("failed group left open")
	}
}

func TestRefsSkipOpenGroups(t *testing.T) {
	req := newFakeRequester()
	m := NewManager(req, Config{Method: MethodUDH, MaxParts: 5}, nil)

	refs := make(map[int]bool)
	for i := 0; i < 255; i++ {
		if _, err := m.SendLongOrShort(context.Background(), longSubmit(2)); err != nil {
			t.Fatalf("group %d: %v", i, err)
		}
	}
	for _, s := range req.requests() {
		h := s.req.BytesParam(pdu.ParamShortMessage)
		refs[int(h[3])] = true
	}
	if len(refs) != 255 {
		t.Fatalf("open groups use %d distinct refs, want 255", len(refs))
	}
	if refs[0] {
		t.Error("ref 0 was used")
	}

	var txErr *TransactionError
	if _, err := m.SendLongOrShort(context.Background(), longSubmit(2)); !errors.As(err, &txErr) {
		t.Fatalf("err = %v, want TransactionError once every ref is taken", err)
	}

	// Finishing one group frees its ref.
	req.ack(0)
	req.ack(1)
	deadline := time.Now().Add(2 * time.Second)
	for m.OpenGroups() != 254 {
		if time.Now().After(deadline) {
			t.Fatalf("%d groups open", m.OpenGroups())
		}
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := m.SendLongOrShort(context.Background(), longSubmit(2)); err != nil {
		t.Fatalf("after freeing a ref: %v", err)
	}
}

func TestCloseRejectsOpenGroups(t *testing.T) {
	req := newFakeRequester()
	m := NewManager(req, DefaultConfig(), nil)

	f, err := m.SendLongOrShort(context.Background(), longSubmit(2))
	if err != nil {
		t.Fatal(err)
	}
	m.Close(session.ErrSessionClosed)
	if _, err := waitFuture(t, f); !errors.Is(err, session.ErrSessionClosed) {
		t.Fatalf("err = %v", err)
	}
	req.mu.Lock()
	n := len(req.cancelled)
	req.mu.Unlock()
	if n != 2 {
		t.Errorf("%d parts cancelled, want 2", n)
	}
}
