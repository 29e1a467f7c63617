// Package session runs one SMPP connection: framing, bind negotiation,
// request/response correlation, keepalive and the unbind handshake.
package session

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"golang.org/x/sync/semaphore"

	"github.com/thrillee/aegis-smpp/internal/logging"
	"github.com/thrillee/aegis-smpp/internal/pdu"
	"github.com/thrillee/aegis-smpp/internal/stats"
)

// Session owns one duplex connection. Reads happen on the goroutine running
// Run; writes, timers and handlers may come from anywhere.
type Session struct {
	id     string
	conn   net.Conn
	cfg    Config
	role   Role
	opts   Options
	stats  stats.Sink
	logger *slog.Logger
	fsm    *fsm.FSM
	window *semaphore.Weighted

	ctx    context.Context // cancelled when the session ends
	cancel context.CancelFunc

	writeMu sync.Mutex

	mu        sync.Mutex
	outbound  map[uint32]*transaction
	inbound   map[uint32]chan struct{}
	lastSeq   uint32
	corrupted bool
	closing   bool
	cause     error
	systemID  string
	bindType  BindType

	timerMu    sync.Mutex
	enquire    *time.Timer
	inactivity *time.Timer
	initTimer  *time.Timer

	handlers sync.WaitGroup
	done     chan struct{}
	endOnce  sync.Once
	err      error
}

// New wraps an established connection. The session is OPEN once New
// returns; Run must be called to start reading.
func New(conn net.Conn, cfg Config, opts Options) *Session {
	def := DefaultConfig()
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = def.ResponseTimeout
	}
	if cfg.SessionInitTimeout <= 0 {
		cfg.SessionInitTimeout = def.SessionInitTimeout
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.MaxPDUSize <= 0 {
		cfg.MaxPDUSize = def.MaxPDUSize
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}
	if opts.Stats == nil {
		opts.Stats = stats.Nop{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Session{
		id:       opts.ID,
		conn:     conn,
		cfg:      cfg,
		role:     opts.Role,
		opts:     opts,
		stats:    opts.Stats,
		logger:   logger.With(slog.String("role", opts.Role.String())),
		window:   semaphore.NewWeighted(int64(cfg.WindowSize)),
		outbound: make(map[uint32]*transaction),
		inbound:  make(map[uint32]chan struct{}),
		done:     make(chan struct{}),
	}
	if opts.Role == RoleClient {
		s.systemID = opts.Bind.SystemID
	}
	s.ctx, s.cancel = context.WithCancel(s.logContext(context.Background()))
	s.fsm = newStateMachine(s.enterState)
	_ = s.fsm.Event(s.ctx, evOpen)
	s.stats.Connected()
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) Role() Role { return s.role }

func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// State returns the current session state.
func (s *Session) State() State { return State(s.fsm.Current()) }

// SystemID is the bound peer's system_id on servers and our own on clients.
func (s *Session) SystemID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.systemID
}

// BindType is zero until a bind has been attempted.
func (s *Session) BindType() BindType {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bindType
}

// Context is cancelled when the session ends.
func (s *Session) Context() context.Context { return s.ctx }

// Done is closed after the session has fully shut down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns why the session ended: nil after a clean unbind, otherwise
// an error wrapping ErrSessionClosed or the transport error.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *Session) logContext(ctx context.Context) context.Context {
	ctx = logging.ContextWithSessionID(ctx, s.id)
	if addr := s.conn.RemoteAddr(); addr != nil {
		ctx = logging.ContextWithRemoteAddr(ctx, addr.String())
	}
	return ctx
}

func (s *Session) enterState(ctx context.Context, e *fsm.Event) {
	s.logger.DebugContext(ctx, "Session state changed",
		slog.String("from", e.Src),
		slog.String("to", e.Dst),
		slog.String("event", e.Event),
	)
	if st := State(e.Dst); st.Bound() {
		s.stats.Bound(s.BindType().String())
	}
}

// transition fires event; an event that is not allowed from the current
// state becomes a SessionStateError.
func (s *Session) transition(event string) error {
	err := s.fsm.Event(s.ctx, event)
	if err == nil {
		return nil
	}
	var noop fsm.NoTransitionError
	if errors.As(err, &noop) {
		return nil
	}
	return &SessionStateError{Op: event, State: s.State()}
}

func (s *Session) isBound() bool { return s.State().Bound() }

// =============================================================================
// Read loop
// =============================================================================

// Run reads and dispatches PDUs until the connection ends or ctx is
// cancelled. It returns Err().
func (s *Session) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	s.logger.InfoContext(s.ctx, "Session started")
	if s.role == RoleServer {
		s.armInitTimer()
	}
	s.activateTimers()

	err := s.readLoop()
	s.end(err)
	return s.err
}

func (s *Session) readLoop() error {
	br := bufio.NewReader(s.conn)
	for {
		// The read timeout only starts once a frame has begun to arrive.
		if _, err := br.Peek(1); err != nil {
			return err
		}
		if s.cfg.PDUReadTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PDUReadTimeout))
		}
		frame, err := pdu.ReadFrame(br, s.cfg.MaxPDUSize)
		_ = s.conn.SetReadDeadline(time.Time{})
		if err != nil {
			var de *pdu.DecodeError
			var ne net.Error
			switch {
			case errors.As(err, &de):
				s.logger.ErrorContext(s.ctx, "Received corrupt PDU", slog.Any("error", err))
				s.corruptDataReceived(de.Status)
				return ErrConnectionCorrupted
			case errors.As(err, &ne) && ne.Timeout():
				s.logger.ErrorContext(s.ctx, "PDU read timed out, stream is now considered corrupt")
				s.corruptDataReceived(pdu.StatusInvCmdLen)
				return ErrConnectionCorrupted
			}
			return err
		}

		p, _, err := pdu.Decode(frame)
		if err != nil {
			if s.decodeFailed(frame, err) {
				return ErrConnectionCorrupted
			}
			continue
		}
		s.stats.PDUReceived(p.CommandID())
		s.activateTimers()
		s.dispatch(p)
	}
}

// decodeFailed answers an undecodable frame and reports whether the
// stream is lost.
func (s *Session) decodeFailed(frame []byte, err error) bool {
	var de *pdu.DecodeError
	if !errors.As(err, &de) {
		s.logger.ErrorContext(s.ctx, "Unexpected decode failure", slog.Any("error", err))
		s.corruptDataReceived(pdu.StatusSysErr)
		return true
	}
	if de.Kind == pdu.Corrupt {
		s.logger.ErrorContext(s.ctx, "Received corrupt PDU",
			slog.Any("error", err),
			slog.String("hex", hex.EncodeToString(frame)),
		)
		s.corruptDataReceived(de.Status)
		return true
	}

	s.logger.ErrorContext(s.ctx, "Received unparsable PDU",
		slog.Any("error", err),
		slog.String("hex", hex.EncodeToString(frame)),
	)
	h := de.Header
	if h.ID.RequiresAck() && h.Seq != 0 {
		req := pdu.New(h.ID, nil).WithSeq(h.Seq)
		if resp, aerr := req.Ack(de.Status, nil); aerr == nil {
			if serr := s.send(resp); serr == nil {
				return false
			}
		}
	}
	_ = s.send(pdu.GenericNackFor(h.Seq, de.Status))
	return false
}

// =============================================================================
// Writing
// =============================================================================

// send writes p as is. Sequence numbers must already be set.
func (s *Session) send(p pdu.PDU) error {
	b, err := pdu.Encode(p)
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	_, err = s.conn.Write(b)
	s.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("smpp: write %s: %w", p.CommandID(), err)
	}
	if s.logger.Enabled(s.ctx, slog.LevelDebug) {
		s.logger.DebugContext(s.ctx, "Sent PDU",
			slog.String("pdu", p.String()),
			slog.String("hex", hex.EncodeToString(b)),
		)
	}
	s.stats.PDUSent(p.CommandID(), p.Seq())
	s.activateTimers()
	return nil
}

// respond acks req with status and params. Params that cannot be encoded
// fall back to a bare ESME_RSYSERR response.
func (s *Session) respond(req pdu.PDU, status pdu.CommandStatus, params pdu.Params) {
	resp, err := req.Ack(status, params)
	if err != nil {
		return
	}
	if err := s.send(resp); err != nil {
		var ee *pdu.EncodingError
		if errors.As(err, &ee) {
			s.logger.ErrorContext(s.ctx, "Response could not be encoded", slog.Any("error", err))
			resp, _ = req.Ack(pdu.StatusSysErr, nil)
			err = s.send(resp)
		}
		if err != nil {
			s.logger.WarnContext(s.ctx, "Failed to send response",
				slog.String("request", req.String()),
				slog.Any("error", err),
			)
		}
	}
}

// =============================================================================
// Timers
// =============================================================================

// activateTimers re-arms the inactivity timer, and the enquire_link timer
// while bound, after any PDU went through.
func (s *Session) activateTimers() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.isEnding() {
		return
	}
	if d := s.cfg.EnquireLinkInterval; d > 0 && s.isBound() {
		if s.enquire == nil {
			s.enquire = time.AfterFunc(d, s.enquireLinkTimerExpired)
		} else {
			s.enquire.Reset(d)
		}
	}
	if d := s.cfg.InactivityTimeout; d > 0 {
		if s.inactivity == nil {
			s.inactivity = time.AfterFunc(d, s.inactivityTimerExpired)
		} else {
			s.inactivity.Reset(d)
		}
	}
}

func (s *Session) cancelEnquireLinkTimer() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.enquire != nil {
		s.enquire.Stop()
		s.enquire = nil
	}
}

func (s *Session) stopTimers() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	for _, t := range []*time.Timer{s.enquire, s.inactivity, s.initTimer} {
		if t != nil {
			t.Stop()
		}
	}
	s.enquire, s.inactivity, s.initTimer = nil, nil, nil
}

// armInitTimer drops server connections that never bind.
func (s *Session) armInitTimer() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	s.initTimer = time.AfterFunc(s.cfg.SessionInitTimeout, func() {
		if st := s.State(); st == StateOpen {
			s.logger.WarnContext(s.ctx, "No bind received in time, disconnecting",
				slog.Duration("timeout", s.cfg.SessionInitTimeout))
			s.disconnect(ErrSessionClosed)
		}
	})
}

func (s *Session) stopInitTimer() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.initTimer != nil {
		s.initTimer.Stop()
		s.initTimer = nil
	}
}

func (s *Session) enquireLinkTimerExpired() {
	if !s.isBound() {
		return
	}
	s.stats.EnquireLinkSent()
	f, err := s.sendRequest(pdu.New(pdu.EnquireLink, nil), s.cfg.ResponseTimeout, false)
	if err != nil {
		s.logger.WarnContext(s.ctx, "Failed to send enquire_link", slog.Any("error", err))
		return
	}
	go func() {
		if _, err := f.Wait(context.Background()); err != nil {
			s.logger.WarnContext(s.ctx, "enquire_link failed", slog.Any("error", err))
		}
	}()
}

func (s *Session) inactivityTimerExpired() {
	s.logger.ErrorContext(s.ctx, "Inactivity timer expired, shutting down",
		slog.Duration("timeout", s.cfg.InactivityTimeout))
	s.Shutdown()
}

// =============================================================================
// Teardown
// =============================================================================

// Shutdown unbinds when bound and the stream is sound, otherwise it
// disconnects. It does not wait.
func (s *Session) Shutdown() {
	s.mu.Lock()
	corrupted := s.corrupted
	s.mu.Unlock()

	st := s.State()
	switch {
	case st.Bound() && !corrupted:
		s.logger.WarnContext(s.ctx, "Shutdown requested, unbinding")
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SessionInitTimeout+s.cfg.ResponseTimeout)
			defer cancel()
			_ = s.Unbind(ctx)
		}()
	case st != StateUnbindReceived && st != StateUnbindPending:
		s.logger.WarnContext(s.ctx, "Shutdown requested, disconnecting")
		s.disconnect(ErrSessionClosed)
	default:
		s.logger.DebugContext(s.ctx, "Shutdown already in progress")
	}
}

// Close drops the connection without unbinding.
func (s *Session) Close() {
	s.disconnect(ErrSessionClosed)
}

// disconnect closes the transport. cause is recorded as the session's
// error; nil marks a clean end.
func (s *Session) disconnect(cause error) {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return
	}
	s.closing = true
	s.cause = cause
	s.mu.Unlock()

	if s.isBound() {
		s.logger.WarnContext(s.ctx, "Disconnecting while bound")
	} else {
		s.logger.InfoContext(s.ctx, "Disconnecting")
	}
	_ = s.transition(evClose)
	_ = s.conn.Close()
}

func (s *Session) isEnding() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

// corruptDataReceived signals the peer and gives up on the stream.
func (s *Session) corruptDataReceived(status pdu.CommandStatus) {
	_ = s.send(pdu.GenericNackFor(0, status))
	s.connectionCorrupted()
}

func (s *Session) connectionCorrupted() {
	s.logger.ErrorContext(s.ctx, "Connection is corrupt, shutting down")
	s.mu.Lock()
	s.corrupted = true
	s.mu.Unlock()
	s.cancelOutbound(ErrConnectionCorrupted)
	s.disconnect(ErrConnectionCorrupted)
}

// end runs once when the read loop has stopped.
func (s *Session) end(readErr error) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		closing, cause := s.closing, s.cause
		s.mu.Unlock()
		if !closing {
			// The peer went away or the transport failed. Hanging up after
			// asking to unbind is a clean end.
			cause = ErrSessionClosed
			switch {
			case s.State() == StateUnbindReceived:
				cause = nil
			case readErr != nil && !errors.Is(readErr, io.EOF):
				cause = fmt.Errorf("%w: %w", ErrSessionClosed, readErr)
			}
			s.disconnect(cause)
		}

		s.stopTimers()
		s.cancel()
		cancelErr := cause
		if cancelErr == nil {
			cancelErr = ErrSessionClosed
		}
		s.cancelOutbound(cancelErr)
		s.handlers.Wait()

		s.err = cause
		s.stats.Disconnected()
		s.logger.InfoContext(s.ctx, "Session ended", slog.Any("cause", cause))
		close(s.done)
	})
}
