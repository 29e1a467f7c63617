package session

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"time"

	"github.com/thrillee/aegis-smpp/internal/future"
	"github.com/thrillee/aegis-smpp/internal/pdu"
	"github.com/thrillee/aegis-smpp/internal/stats"
)

// Result is a request together with the response that answered it.
type Result struct {
	Request  pdu.PDU
	Response pdu.PDU
}

// Outbound is a request the peer has not answered yet.
type Outbound struct {
	Seq uint32
	*future.Future[Result]
}

type transaction struct {
	req      pdu.PDU
	timer    *time.Timer
	result   *future.Future[Result]
	started  time.Time
	windowed bool
	// onOK runs on the read goroutine when an OK response arrives, before
	// the result is published. An error fails the transaction instead.
	onOK func(Result) error
}

// SendRequest sends a data request (submit_sm, deliver_sm, data_sm, ...)
// with the configured response timeout. The session assigns the sequence
// number; any sequence number set on p is replaced.
func (s *Session) SendRequest(ctx context.Context, p pdu.PDU) (Outbound, error) {
	return s.SendRequestTimeout(ctx, p, s.cfg.ResponseTimeout)
}

// SendRequestTimeout is SendRequest with an explicit response deadline.
// Data requests wait for a free slot in the outbound window; ctx bounds
// that wait only.
func (s *Session) SendRequestTimeout(ctx context.Context, p pdu.PDU, timeout time.Duration) (Outbound, error) {
	id := p.CommandID()
	if !id.IsDataRequest() || !id.RequiresAck() {
		return Outbound{}, &SessionStateError{Op: "send " + id.String(), State: s.State()}
	}
	if err := s.checkOutbound(id); err != nil {
		return Outbound{}, err
	}
	if err := s.window.Acquire(ctx, 1); err != nil {
		return Outbound{}, err
	}
	// The session may have changed state while we waited for the window.
	if err := s.checkOutbound(id); err != nil {
		s.window.Release(1)
		return Outbound{}, err
	}
	return s.sendRequest(p, timeout, true)
}

// Notify sends a request that takes no response, such as
// alert_notification.
func (s *Session) Notify(p pdu.PDU) error {
	id := p.CommandID()
	if id.RequiresAck() || id.IsResponse() {
		return &SessionStateError{Op: "notify " + id.String(), State: s.State()}
	}
	if id == pdu.AlertNotification {
		if err := s.checkOutbound(id); err != nil {
			return err
		}
	}
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	seq := s.claimSeq()
	s.mu.Unlock()
	return s.send(p.WithSeq(seq))
}

// Send sends p and waits for its response.
func (s *Session) Send(ctx context.Context, p pdu.PDU) (Result, error) {
	f, err := s.SendRequest(ctx, p)
	if err != nil {
		return Result{}, err
	}
	return f.Wait(ctx)
}

func (s *Session) checkOutbound(id pdu.CommandID) error {
	st := s.State()
	if !st.Bound() {
		return &SessionStateError{Op: "send " + id.String(), State: st}
	}
	if !canSend(s.role, id, s.BindType()) {
		return &SessionStateError{Op: "send " + id.String(), State: st}
	}
	return nil
}

// sendRequest registers the outbound transaction, then writes p. The
// window slot, if taken, is released when the transaction ends.
func (s *Session) sendRequest(p pdu.PDU, timeout time.Duration, windowed bool) (Outbound, error) {
	return s.sendRequestThen(p, timeout, windowed, nil)
}

// sendRequestThen is sendRequest with a hook applied to the OK response
// before any later PDU is dispatched.
func (s *Session) sendRequestThen(p pdu.PDU, timeout time.Duration, windowed bool, onOK func(Result) error) (Outbound, error) {
	s.mu.Lock()
	if s.corrupted || s.closing {
		corrupted := s.corrupted
		s.mu.Unlock()
		if windowed {
			s.window.Release(1)
		}
		if corrupted {
			return Outbound{}, ErrConnectionCorrupted
		}
		return Outbound{}, ErrSessionClosed
	}
	seq := s.claimSeq()
	p = p.WithSeq(seq)
	t := &transaction{
		req:      p,
		result:   future.New[Result](),
		started:  time.Now(),
		windowed: windowed,
		onOK:     onOK,
	}
	t.timer = time.AfterFunc(timeout, func() { s.responseTimedOut(seq, timeout) })
	s.outbound[seq] = t
	s.mu.Unlock()

	if err := s.send(p); err != nil {
		if t := s.closeOutbound(seq); t != nil {
			s.finish(t, Result{}, err, stats.OutcomeError)
		}
		return Outbound{}, err
	}
	s.logger.DebugContext(s.ctx, "Outbound transaction started",
		slog.String("cmd_id", p.CommandID().String()),
		slog.Uint64("seq_num", uint64(seq)),
	)
	return Outbound{Seq: seq, Future: t.result}, nil
}

// claimSeq returns the next sequence number not held by an open
// transaction, wrapping from 0x7FFFFFFF back to 1. Callers hold s.mu.
func (s *Session) claimSeq() uint32 {
	for {
		s.lastSeq++
		if s.lastSeq > pdu.MaxSeq {
			s.lastSeq = 1
		}
		if _, busy := s.outbound[s.lastSeq]; !busy {
			return s.lastSeq
		}
	}
}

func (s *Session) closeOutbound(seq uint32) *transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.outbound[seq]
	if !ok {
		return nil
	}
	delete(s.outbound, seq)
	return t
}

func (s *Session) finish(t *transaction, res Result, err error, outcome string) {
	t.timer.Stop()
	if t.windowed {
		s.window.Release(1)
	}
	s.stats.TransactionDone(t.req.CommandID(), outcome, time.Since(t.started))
	if err != nil {
		t.result.Reject(err)
		return
	}
	t.result.Resolve(res)
}

// responseReceived matches resp to its outbound transaction and settles it.
func (s *Session) responseReceived(resp pdu.PDU) {
	if resp.CommandID() == pdu.GenericNack {
		s.logger.ErrorContext(s.ctx, "Received generic_nack", slog.String("pdu", resp.String()))
		if resp.Seq() == 0 {
			s.connectionCorrupted()
			return
		}
	}
	t := s.closeOutbound(resp.Seq())
	if t == nil {
		s.logger.ErrorContext(s.ctx, "Response for unknown outbound transaction", slog.String("pdu", resp.String()))
		return
	}
	res, outcome, err := classify(t.req, resp)
	if err == nil && t.onOK != nil {
		if err = t.onOK(res); err != nil {
			res, outcome = Result{}, stats.OutcomeError
		}
	}
	s.finish(t, res, err, outcome)
	if err == nil && resp.CommandID() == pdu.UnbindResp {
		// Record the clean end before the read loop sees the peer hang up.
		s.disconnect(nil)
	}
}

// classify turns a response into the transaction outcome. Only an OK
// response of the exact ack type succeeds.
func classify(req, resp pdu.PDU) (Result, string, error) {
	if resp.Status() == pdu.StatusOK {
		if want, _ := req.CommandID().Response(); resp.CommandID() != want {
			return Result{}, stats.OutcomeMismatch, &ProtocolMismatchError{Request: req, Response: resp}
		}
		return Result{Request: req, Response: resp}, stats.OutcomeOK, nil
	}
	if resp.CommandID() == pdu.GenericNack {
		return Result{}, stats.OutcomeNack, &GenericNackError{Request: req, Response: resp}
	}
	return Result{}, stats.OutcomeError, &TransactionError{Request: req, Response: resp}
}

// responseTimedOut fails the transaction and shuts the session down: a late
// response could no longer be matched safely.
func (s *Session) responseTimedOut(seq uint32, after time.Duration) {
	t := s.closeOutbound(seq)
	if t == nil {
		return
	}
	s.logger.ErrorContext(s.ctx, "Request timed out",
		slog.String("pdu", t.req.String()),
		slog.Duration("after", after),
	)
	s.finish(t, Result{}, &TimeoutError{Request: t.req, After: after}, stats.OutcomeTimeout)
	s.Shutdown()
}

// CancelOutbound rejects the open transaction seq with err. The peer's
// response, if it ever arrives, is dropped.
func (s *Session) CancelOutbound(seq uint32, err error) bool {
	t := s.closeOutbound(seq)
	if t == nil {
		return false
	}
	s.finish(t, Result{}, err, stats.OutcomeCancelled)
	return true
}

func (s *Session) cancelOutbound(err error) {
	s.mu.Lock()
	seqs := slices.Collect(maps.Keys(s.outbound))
	s.mu.Unlock()
	for _, seq := range seqs {
		s.CancelOutbound(seq, err)
	}
}

// OutboundCount is the number of requests awaiting a response.
func (s *Session) OutboundCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outbound)
}

// startInbound tracks a request while its handler runs.
func (s *Session) startInbound(seq uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.inbound[seq]; dup {
		return &ProtocolError{Status: pdu.StatusUnknownErr, Msg: "duplicate inbound sequence number"}
	}
	s.inbound[seq] = make(chan struct{})
	return nil
}

func (s *Session) endInbound(seq uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.inbound[seq]; ok {
		close(ch)
		delete(s.inbound, seq)
	}
}

// waitInbound blocks until every inbound request in flight now is done.
func (s *Session) waitInbound(ctx context.Context) error {
	s.mu.Lock()
	pending := slices.Collect(maps.Values(s.inbound))
	s.mu.Unlock()
	for _, ch := range pending {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// waitOutbound blocks until every outbound request in flight now has
// been answered, cancelled or timed out.
func (s *Session) waitOutbound(ctx context.Context) error {
	s.mu.Lock()
	pending := make([]*future.Future[Result], 0, len(s.outbound))
	for _, t := range s.outbound {
		pending = append(pending, t.result)
	}
	s.mu.Unlock()
	for _, f := range pending {
		select {
		case <-f.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
