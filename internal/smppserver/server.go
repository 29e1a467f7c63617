// Package smppserver accepts ESME binds and feeds their submissions into
// the gateway.
package smppserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
	"golang.org/x/sync/semaphore"

	"github.com/thrillee/aegis-smpp/internal/logging"
	"github.com/thrillee/aegis-smpp/internal/pdu"
	"github.com/thrillee/aegis-smpp/internal/reassembly"
	"github.com/thrillee/aegis-smpp/internal/session"
	"github.com/thrillee/aegis-smpp/internal/stats"
	"github.com/thrillee/aegis-smpp/pkg/errormapper"
)

// Compile-time checks
var (
	_ session.Handler       = (*Server)(nil)
	_ session.Authenticator = (*Server)(nil)
)

// Config holds the listener settings.
type Config struct {
	Addr string
	// SystemID is reported in bind_resp.
	SystemID       string
	MaxConnections int
	Session        session.Config
}

// Submission is one logical message an ESME submitted, after reassembly.
type Submission struct {
	// MessageID is the id returned to the ESME in the last part's response.
	MessageID        string
	SystemID         string
	SessionID        string
	PDU              pdu.PDU
	Source           string
	Destination      string
	Payload          []byte
	Coding           pdu.DataCoding
	ReceiptRequested bool
	ReceivedAt       time.Time
}

// Router takes accepted submissions. An error rejects the submission with
// the status errormapper.StatusFor picks.
type Router interface {
	Route(ctx context.Context, sub Submission) error
}

// RouterFunc adapts a function to Router.
type RouterFunc func(ctx context.Context, sub Submission) error

func (f RouterFunc) Route(ctx context.Context, sub Submission) error { return f(ctx, sub) }

// Options are the collaborators of a Server.
type Options struct {
	Router        Router
	Authenticator session.Authenticator
	Reassembly    reassembly.Store
	Stats         stats.Sink
	Logger        *slog.Logger
}

// Server is the SMSC side of the gateway.
type Server struct {
	cfg        Config
	router     Router
	auth       session.Authenticator
	reassembly reassembly.Store
	stats      stats.Sink
	logger     *slog.Logger
	conns      *semaphore.Weighted

	sessions cmap.ConcurrentMap[string, *session.Session] // by session id
	binds    cmap.ConcurrentMap[string, string]           // bind key -> session id

	mu       sync.Mutex
	listener net.Listener
	closing  bool
	wg       sync.WaitGroup
}

func NewServer(cfg Config, opts Options) (*Server, error) {
	if opts.Router == nil {
		return nil, errors.New("smppserver: a router is required")
	}
	if opts.Authenticator == nil {
		return nil, errors.New("smppserver: an authenticator is required")
	}
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 100
	}
	if opts.Reassembly == nil {
		opts.Reassembly = reassembly.NewMemoryStore(0)
	}
	if opts.Stats == nil {
		opts.Stats = stats.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		cfg:        cfg,
		router:     opts.Router,
		auth:       opts.Authenticator,
		reassembly: opts.Reassembly,
		stats:      opts.Stats,
		logger:     opts.Logger,
		conns:      semaphore.NewWeighted(int64(cfg.MaxConnections)),
		sessions:   cmap.New[*session.Session](),
		binds:      cmap.New[string](),
	}, nil
}

// ListenAndServe listens on Config.Addr and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.logger.Error("Failed to listen on address", slog.String("address", s.cfg.Addr), slog.Any("error", err))
		return fmt.Errorf("smppserver: listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx ends, then unbinds every
// client and waits for their sessions to end.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.listener != nil {
		s.mu.Unlock()
		return errors.New("smppserver: already serving")
	}
	s.listener = ln
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Starting SMPP server", slog.String("address", ln.Addr().String()))
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || s.isClosing() {
				break
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				s.logger.WarnContext(ctx, "Failed to accept connection", slog.Any("error", err))
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return fmt.Errorf("smppserver: accept: %w", err)
		}
		if !s.conns.TryAcquire(1) {
			s.logger.WarnContext(ctx, "Connection limit reached, refusing client",
				slog.String("remote_addr", conn.RemoteAddr().String()),
				slog.Int("max_connections", s.cfg.MaxConnections),
			)
			_ = conn.Close()
			continue
		}
		s.wg.Add(1)
		go s.serveConn(conn)
	}

	timeout := s.cfg.Session.SessionInitTimeout
	if timeout <= 0 {
		timeout = session.DefaultConfig().SessionInitTimeout
	}
	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	s.drain(drainCtx)
	s.logger.Info("SMPP server stopped")
	return nil
}

// Shutdown stops accepting connections and unbinds every client, closing
// the ones still open when ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	ln := s.listener
	s.mu.Unlock()
	s.logger.InfoContext(ctx, "Shutdown requested for SMPP server")
	if ln != nil {
		_ = ln.Close()
	}
	return s.drain(ctx)
}

func (s *Server) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *Server) drain(ctx context.Context) error {
	for t := range s.sessions.IterBuffered() {
		sess := t.Val
		go func() {
			if sess.State().Bound() {
				_ = sess.Unbind(ctx)
			}
			sess.Close()
		}()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.WarnContext(ctx, "Closing client sessions that did not unbind in time")
		for t := range s.sessions.IterBuffered() {
			t.Val.Close()
		}
		<-done
		return ctx.Err()
	}
}

func (s *Server) serveConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.conns.Release(1)

	remote := conn.RemoteAddr().String()
	sess := session.New(conn, s.cfg.Session, session.Options{
		Role:          session.RoleServer,
		Handler:       s,
		Authenticator: s,
		Stats:         s.stats,
		Logger:        s.logger.With(slog.String("remote_addr", remote)),
		Bind:          session.BindParams{SystemID: s.cfg.SystemID},
	})
	ctx := logging.ContextWithRemoteAddr(logging.ContextWithSessionID(context.Background(), sess.ID()), remote)
	s.logger.InfoContext(ctx, "Accepted SMPP connection")
	s.sessions.Set(sess.ID(), sess)

	err := sess.Run(context.Background())

	s.sessions.Remove(sess.ID())
	if id := sess.SystemID(); id != "" {
		s.binds.RemoveCb(bindKey(id, sess.BindType()), func(_ string, owner string, exists bool) bool {
			return exists && owner == sess.ID()
		})
	}
	s.logger.InfoContext(ctx, "Closed SMPP client connection",
		slog.String("system_id", sess.SystemID()),
		slog.Any("error", err),
	)
}

func bindKey(systemID string, t session.BindType) string {
	return systemID + "/" + t.String()
}

// Authenticate checks credentials, then claims the system_id and bind type
// so a second identical bind is refused with ESME_RALYBND.
func (s *Server) Authenticate(ctx context.Context, sess *session.Session, t session.BindType, req session.BindParams) error {
	if err := s.auth.Authenticate(ctx, sess, t, req); err != nil {
		return err
	}
	if !s.binds.SetIfAbsent(bindKey(req.SystemID, t), sess.ID()) {
		s.logger.WarnContext(ctx, "Duplicate bind refused", slog.String("bind_type", t.String()))
		return &session.ProtocolError{Status: pdu.StatusAlyBnd, Msg: "system_id already bound"}
	}
	return nil
}

// HandleRequest answers submit_sm and data_sm. Parts of a long message
// each get their own message_id; the router sees the merged message once
// under the id of the part that completed it.
func (s *Server) HandleRequest(ctx context.Context, sess *session.Session, p pdu.PDU) (session.Response, error) {
	switch p.CommandID() {
	case pdu.SubmitSM, pdu.DataSM:
	default:
		return session.Response{}, &session.ProtocolError{Status: pdu.StatusInvCmdID, Msg: p.CommandID().String() + " is not supported"}
	}

	msgID := uuid.NewString()
	ctx = logging.ContextWithMessageID(ctx, msgID)
	resp := session.Response{Params: pdu.Params{pdu.ParamMessageID: msgID}}

	merged, complete, err := reassembly.New(s.reassembly, "esme:"+sess.SystemID(), s.logger).Accept(ctx, p)
	if err != nil {
		var partErr *reassembly.PartError
		if errors.As(err, &partErr) {
			return session.Response{}, &session.ProtocolError{Status: partErr.CommandStatus(), Msg: partErr.Error()}
		}
		s.logger.ErrorContext(ctx, "Failed to buffer long message part", slog.Any("error", err))
		return session.Response{}, &session.ProtocolError{Status: pdu.StatusSysErr, Msg: "reassembly unavailable"}
	}
	if !complete {
		s.logger.DebugContext(ctx, "Long message part buffered")
		return resp, nil
	}

	sub := Submission{
		MessageID:        msgID,
		SystemID:         sess.SystemID(),
		SessionID:        sess.ID(),
		PDU:              merged,
		Source:           merged.StringParam(pdu.ParamSourceAddr),
		Destination:      merged.StringParam(pdu.ParamDestinationAddr),
		Payload:          merged.Message(),
		Coding:           merged.DataCoding(),
		ReceiptRequested: merged.RegisteredDelivery().Receipt() != pdu.NoReceipt,
		ReceivedAt:       time.Now(),
	}
	if err := s.router.Route(ctx, sub); err != nil {
		status := errormapper.StatusFor(err)
		s.logger.WarnContext(ctx, "Submission rejected",
			slog.String("status", status.String()),
			slog.Any("error", err),
		)
		return session.Response{}, &session.InterceptionError{Status: status, Err: err}
	}
	s.logger.InfoContext(ctx, "Submission accepted",
		slog.String("from", sub.Source),
		slog.String("to", sub.Destination),
		slog.Int("length", len(sub.Payload)),
	)
	return resp, nil
}

// Sessions returns the number of open client connections.
func (s *Server) Sessions() int { return s.sessions.Count() }

// receiverFor finds a bound session of systemID that may receive
// deliver_sm.
func (s *Server) receiverFor(systemID string) (*session.Session, bool) {
	for _, t := range []session.BindType{session.BindTransceiver, session.BindReceiver} {
		id, ok := s.binds.Get(bindKey(systemID, t))
		if !ok {
			continue
		}
		if sess, ok := s.sessions.Get(id); ok && sess.State().Bound() {
			return sess, true
		}
	}
	return nil, false
}
