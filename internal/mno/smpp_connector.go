package mno

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/thrillee/aegis-smpp/internal/dlr"
	"github.com/thrillee/aegis-smpp/internal/future"
	"github.com/thrillee/aegis-smpp/internal/logging"
	"github.com/thrillee/aegis-smpp/internal/longmsg"
	"github.com/thrillee/aegis-smpp/internal/pdu"
	"github.com/thrillee/aegis-smpp/internal/reassembly"
	"github.com/thrillee/aegis-smpp/internal/session"
	"github.com/thrillee/aegis-smpp/internal/stats"
	"github.com/thrillee/aegis-smpp/pkg/codes"
)

// Compile-time check
var _ Connector = (*SMPPConnector)(nil)

const maxReconnectDelay = 5 * time.Minute

// SMPPConnectorConfig holds the bind and timers for one carrier.
type SMPPConnectorConfig struct {
	ID             string
	Addr           string
	BindType       session.BindType
	Bind           session.BindParams
	Session        session.Config
	LongMessage    longmsg.Config
	ConnectTimeout time.Duration
	// ReconnectDelay is the first wait after a lost or refused bind; it
	// doubles on each failure up to five minutes.
	ReconnectDelay time.Duration
}

// ConnectorOptions are the collaborators of an SMPPConnector.
type ConnectorOptions struct {
	DLRStore    dlr.Store
	Reassembly  reassembly.Store
	OnInbound   InboundHandler
	Stats       stats.Sink
	Breaker     *CircuitBreaker
	Logger      *slog.Logger
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)
}

// SMPPConnector keeps one client session bound to a carrier and
// re-establishes it when it drops.
type SMPPConnector struct {
	cfg         SMPPConnectorConfig
	dlrStore    dlr.Store
	reassembler *reassembly.Reassembler
	onInbound   InboundHandler
	stats       stats.Sink
	breaker     *CircuitBreaker
	logger      *slog.Logger
	dial        func(ctx context.Context, network, addr string) (net.Conn, error)

	status atomic.Value // string

	mu       sync.RWMutex
	sess     *session.Session
	longMsgs *longmsg.Manager
}

func NewSMPPConnector(cfg SMPPConnectorConfig, opts ConnectorOptions) (*SMPPConnector, error) {
	if cfg.ID == "" || cfg.Addr == "" {
		return nil, errors.New("mno: connector needs an id and an address")
	}
	if cfg.BindType == 0 {
		cfg.BindType = session.BindTransceiver
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DLRStore == nil {
		opts.DLRStore = dlr.NewMemoryStore(0)
	}
	if opts.Reassembly == nil {
		opts.Reassembly = reassembly.NewMemoryStore(0)
	}
	if opts.Stats == nil {
		opts.Stats = stats.Nop{}
	}
	if opts.Breaker == nil {
		opts.Breaker = NewCircuitBreaker(CircuitBreakerConfig{ConnectorID: cfg.ID, Logger: opts.Logger})
	}
	if opts.DialContext == nil {
		d := &net.Dialer{Timeout: cfg.ConnectTimeout}
		opts.DialContext = d.DialContext
	}

	c := &SMPPConnector{
		cfg:         cfg,
		dlrStore:    opts.DLRStore,
		reassembler: reassembly.New(opts.Reassembly, cfg.ID, opts.Logger),
		onInbound:   opts.OnInbound,
		stats:       opts.Stats,
		breaker:     opts.Breaker,
		logger:      opts.Logger.With(slog.String("connector_id", cfg.ID)),
		dial:        opts.DialContext,
	}
	c.status.Store(codes.StatusDisconnected)
	return c, nil
}

func (c *SMPPConnector) ID() string { return c.cfg.ID }

// Status returns the current connection status.
func (c *SMPPConnector) Status() string {
	return c.status.Load().(string)
}

func (c *SMPPConnector) Breaker() *CircuitBreaker { return c.breaker }

// =============================================================================
// Connection Management & Lifecycle
// =============================================================================

// Run keeps the connector bound until ctx ends. Lost or refused binds are
// retried with a growing delay; the circuit breaker suspends attempts
// after repeated failures.
func (c *SMPPConnector) Run(ctx context.Context) error {
	ctx = logging.ContextWithConnectorID(ctx, c.cfg.ID)
	delay := c.cfg.ReconnectDelay
	for {
		bound := false
		if c.breaker.AllowRequest() {
			var err error
			bound, err = c.runOnce(ctx)
			switch {
			case ctx.Err() != nil:
				c.status.Store(codes.StatusStopped)
				return nil
			case bound:
				delay = c.cfg.ReconnectDelay
				c.logger.WarnContext(ctx, "Carrier session ended", slog.Any("error", err))
			default:
				c.logger.ErrorContext(ctx, "Carrier bind failed",
					slog.Any("error", err),
					slog.Duration("retry_delay", delay),
				)
			}
		} else {
			c.logger.WarnContext(ctx, "Circuit open, skipping bind attempt", slog.Duration("retry_delay", delay))
		}

		select {
		case <-ctx.Done():
			c.status.Store(codes.StatusStopped)
			return nil
		case <-time.After(delay):
		}
		if !bound {
			delay = min(delay*2, maxReconnectDelay)
		}
	}
}

// runOnce dials, binds and serves one session. bound reports whether the
// bind succeeded.
func (c *SMPPConnector) runOnce(ctx context.Context) (bound bool, err error) {
	c.status.Store(codes.StatusConnecting)
	c.logger.InfoContext(ctx, "Connecting to carrier",
		slog.String("addr", c.cfg.Addr),
		slog.String("system_id", c.cfg.Bind.SystemID),
		slog.String("bind_type", c.cfg.BindType.String()),
	)
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	conn, err := c.dial(dialCtx, "tcp", c.cfg.Addr)
	cancel()
	if err != nil {
		c.breaker.RecordFailure()
		c.status.Store(codes.StatusDisconnected)
		return false, fmt.Errorf("mno: dial %s: %w", c.cfg.Addr, err)
	}

	sess := session.New(conn, c.cfg.Session, session.Options{
		Role:    session.RoleClient,
		Handler: c,
		Stats:   c.stats,
		Logger:  c.logger,
		Bind:    c.cfg.Bind,
	})
	// The session outlives ctx long enough to unbind.
	sessCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	defer stop()
	runErr := make(chan error, 1)
	go func() { runErr <- sess.Run(sessCtx) }()

	c.status.Store(codes.StatusBinding)
	if _, err := sess.Bind(ctx, c.cfg.BindType, c.cfg.Bind); err != nil {
		c.breaker.RecordFailure()
		c.status.Store(codes.StatusBindingFailed)
		sess.Close()
		<-runErr
		return false, err
	}
	c.breaker.RecordSuccess()

	mgr := longmsg.NewManager(sess, c.cfg.LongMessage, c.logger)
	c.mu.Lock()
	c.sess, c.longMsgs = sess, mgr
	c.mu.Unlock()
	c.status.Store(codes.StatusBound)
	c.logger.InfoContext(ctx, "Carrier session bound")

	select {
	case err = <-runErr:
	case <-ctx.Done():
		c.status.Store(codes.StatusUnbinding)
		timeout := c.cfg.Session.SessionInitTimeout
		if timeout <= 0 {
			timeout = session.DefaultConfig().SessionInitTimeout
		}
		unbindCtx, cancel := context.WithTimeout(context.Background(), timeout)
		if uerr := sess.Unbind(unbindCtx); uerr != nil {
			c.logger.WarnContext(ctx, "Unbind failed", slog.Any("error", uerr))
		}
		cancel()
		sess.Close()
		err = <-runErr
	}

	c.mu.Lock()
	c.sess, c.longMsgs = nil, nil
	c.mu.Unlock()
	mgr.Close(session.ErrSessionClosed)
	c.status.Store(codes.StatusDisconnected)
	return true, err
}

func (c *SMPPConnector) current() (*session.Session, *longmsg.Manager) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess, c.longMsgs
}

// Shutdown unbinds the current session, if any, and waits for it to end.
// Run keeps reconnecting unless its context is cancelled too.
func (c *SMPPConnector) Shutdown(ctx context.Context) error {
	sess, _ := c.current()
	if sess == nil {
		return nil
	}
	err := sess.Unbind(ctx)
	select {
	case <-sess.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

// =============================================================================
// Message Submission
// =============================================================================

func (c *SMPPConnector) SendLongOrShort(ctx context.Context, p pdu.PDU) (*future.Future[session.Result], error) {
	_, mgr := c.current()
	if mgr == nil {
		return nil, ErrNotBound
	}
	return mgr.SendLongOrShort(ctx, p)
}

func (c *SMPPConnector) Submit(ctx context.Context, correlationID string, p pdu.PDU) (SubmitResult, error) {
	if correlationID != "" {
		ctx = logging.ContextWithMessageID(ctx, correlationID)
	}
	f, err := c.SendLongOrShort(ctx, p)
	if err != nil {
		return SubmitResult{}, err
	}
	res, err := f.Wait(ctx)
	if err != nil {
		c.logger.WarnContext(ctx, "Submit failed", slog.Any("error", err))
		return SubmitResult{}, err
	}
	out := SubmitResult{
		MessageID: res.Response.StringParam(pdu.ParamMessageID),
		Result:    res,
	}
	if correlationID != "" && out.MessageID != "" {
		if err := c.dlrStore.Set(ctx, c.cfg.ID, out.MessageID, correlationID); err != nil {
			// The carrier accepted the message; only receipt matching is lost.
			c.logger.ErrorContext(ctx, "Failed to record carrier message id", slog.Any("error", err))
		}
	}
	c.logger.InfoContext(ctx, "Submit accepted by carrier", slog.String("carrier_msg_id", out.MessageID))
	return out, nil
}

// =============================================================================
// Inbound
// =============================================================================

// HandleRequest receives deliver_sm and data_sm from the carrier.
func (c *SMPPConnector) HandleRequest(ctx context.Context, _ *session.Session, p pdu.PDU) (session.Response, error) {
	switch p.CommandID() {
	case pdu.DeliverSM, pdu.DataSM:
	default:
		c.logger.DebugContext(ctx, "Ignoring request from carrier", slog.String("pdu", p.String()))
		return session.Response{}, nil
	}

	merged, complete, err := c.reassembler.Accept(ctx, p)
	if err != nil {
		var partErr *reassembly.PartError
		if errors.As(err, &partErr) {
			return session.Response{}, &session.ProtocolError{Status: partErr.CommandStatus(), Msg: partErr.Error()}
		}
		c.logger.ErrorContext(ctx, "Failed to buffer long message part", slog.Any("error", err))
		return session.Response{}, &session.ProtocolError{Status: pdu.StatusSysErr, Msg: "reassembly unavailable"}
	}
	if !complete {
		return session.Response{}, nil
	}

	msg := InboundMessage{
		ConnectorID: c.cfg.ID,
		PDU:         merged,
		Source:      merged.StringParam(pdu.ParamSourceAddr),
		Destination: merged.StringParam(pdu.ParamDestinationAddr),
		Payload:     merged.Message(),
		Coding:      merged.DataCoding(),
		ReceivedAt:  time.Now(),
	}
	if merged.EsmClass().IsReceipt() || merged.Has(pdu.ParamReceiptedMessageID) {
		msg.Receipt = dlr.FromPDU(merged)
	}
	if msg.Receipt != nil {
		id, err := c.dlrStore.Get(ctx, c.cfg.ID, msg.Receipt.ID)
		switch {
		case err == nil:
			msg.CorrelationID = id
		case errors.Is(err, dlr.ErrNotFound):
			c.logger.WarnContext(ctx, "Receipt for unknown message", slog.String("carrier_msg_id", msg.Receipt.ID))
		default:
			c.logger.ErrorContext(ctx, "Failed to look up receipt", slog.Any("error", err))
		}
		c.logger.InfoContext(ctx, "Delivery receipt received",
			slog.String("carrier_msg_id", msg.Receipt.ID),
			slog.String("stat", msg.Receipt.Stat),
			slog.String("correlation_id", msg.CorrelationID),
		)
	} else {
		c.logger.InfoContext(ctx, "Message received from carrier",
			slog.String("from", msg.Source),
			slog.String("to", msg.Destination),
			slog.Int("length", len(msg.Payload)),
		)
	}

	if c.onInbound == nil {
		return session.Response{}, nil
	}
	if err := c.onInbound(ctx, msg); err != nil {
		var sc interface{ CommandStatus() pdu.CommandStatus }
		if errors.As(err, &sc) {
			return session.Response{}, &session.InterceptionError{Status: sc.CommandStatus(), Err: err}
		}
		return session.Response{}, &session.InterceptionError{Status: pdu.StatusSysErr, Err: err}
	}
	return session.Response{}, nil
}
