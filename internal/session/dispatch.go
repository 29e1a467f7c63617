package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/thrillee/aegis-smpp/internal/logging"
	"github.com/thrillee/aegis-smpp/internal/pdu"
)

// dispatch routes one decoded PDU. It runs on the read goroutine; anything
// that may block on the peer is moved to a tracked goroutine.
func (s *Session) dispatch(p pdu.PDU) {
	s.logger.DebugContext(s.ctx, "Received PDU", slog.String("pdu", p.GoString()))

	switch p.CommandID() {
	case pdu.GenericNack,
		pdu.BindReceiverResp, pdu.BindTransmitterResp, pdu.BindTransceiverResp,
		pdu.QuerySMResp, pdu.SubmitSMResp, pdu.DeliverSMResp, pdu.UnbindResp,
		pdu.ReplaceSMResp, pdu.CancelSMResp, pdu.EnquireLinkResp,
		pdu.SubmitMultiResp, pdu.DataSMResp:
		s.responseReceived(p)
	case pdu.BindReceiver, pdu.BindTransmitter, pdu.BindTransceiver:
		s.handleBind(p)
	case pdu.Outbind:
		s.handleOutbind(p)
	case pdu.Unbind:
		s.handlePeerUnbind(p)
	case pdu.EnquireLink:
		s.handleEnquireLink(p)
	case pdu.AlertNotification:
		s.handleAlertNotification(p)
	case pdu.SubmitSM, pdu.SubmitMulti, pdu.DeliverSM, pdu.DataSM,
		pdu.QuerySM, pdu.CancelSM, pdu.ReplaceSM:
		s.handleDataRequest(p)
	default:
		// Decode rejects unknown command IDs, so this is a programming error.
		s.logger.ErrorContext(s.ctx, "No dispatch for command", slog.String("pdu", p.String()))
		_ = s.send(pdu.GenericNackFor(p.Seq(), pdu.StatusInvCmdID))
	}
}

// =============================================================================
// Binding
// =============================================================================

// Bind negotiates a bind of type t with the SMSC and returns its bind_resp.
// Any failure disconnects the session.
func (s *Session) Bind(ctx context.Context, t BindType, params BindParams) (pdu.PDU, error) {
	if s.role != RoleClient {
		return pdu.PDU{}, &SessionStateError{Op: "bind", State: s.State()}
	}
	if st := s.State(); st != StateOpen {
		return pdu.PDU{}, &SessionStateError{Op: "bind", State: st}
	}

	s.mu.Lock()
	s.bindType = t
	s.systemID = params.SystemID
	s.mu.Unlock()
	if err := s.transition(bindEvent(t)); err != nil {
		return pdu.PDU{}, err
	}

	s.logger.InfoContext(s.ctx, "Binding",
		slog.String("system_id", params.SystemID),
		slog.String("bind_type", t.String()),
	)
	// The session is bound before the read loop dispatches whatever the
	// SMSC sent behind bind_resp.
	f, err := s.sendRequestThen(params.pdu(t), s.cfg.SessionInitTimeout, false, func(Result) error {
		if err := s.transition(evBound); err != nil {
			return err
		}
		s.activateTimers()
		return nil
	})
	if err != nil {
		s.disconnect(fmt.Errorf("%w: bind: %w", ErrSessionClosed, err))
		return pdu.PDU{}, err
	}
	res, err := f.Wait(ctx)
	if err != nil {
		s.logger.ErrorContext(s.ctx, "Bind failed", slog.Any("error", err))
		s.disconnect(fmt.Errorf("%w: bind: %w", ErrSessionClosed, err))
		return pdu.PDU{}, err
	}
	s.logger.InfoContext(s.ctx, "Bound",
		slog.String("system_id", params.SystemID),
		slog.String("bind_type", t.String()),
		slog.String("smsc_system_id", res.Response.StringParam(pdu.ParamSystemID)),
	)
	return res.Response, nil
}

// handleBind authenticates an inbound bind on a server session.
func (s *Session) handleBind(p pdu.PDU) {
	if s.role == RoleClient {
		s.logger.WarnContext(s.ctx, "Bind received on a client session", slog.String("pdu", p.String()))
		s.respond(p, pdu.StatusInvCmdID, nil)
		return
	}
	if st := s.State(); st != StateOpen {
		s.logger.WarnContext(s.ctx, "Bind received while not open", slog.String("state", string(st)))
		s.respond(p, pdu.StatusAlyBnd, nil)
		return
	}
	t, _ := bindTypeOf(p.CommandID())
	ton, _ := pdu.Get[pdu.TON](p, pdu.ParamAddrTON)
	npi, _ := pdu.Get[pdu.NPI](p, pdu.ParamAddrNPI)
	req := BindParams{
		SystemID:     p.StringParam(pdu.ParamSystemID),
		Password:     p.StringParam(pdu.ParamPassword),
		SystemType:   p.StringParam(pdu.ParamSystemType),
		AddrTON:      ton,
		AddrNPI:      npi,
		AddressRange: p.StringParam(pdu.ParamAddressRange),
	}
	if err := s.transition(bindEvent(t)); err != nil {
		s.respond(p, pdu.StatusAlyBnd, nil)
		return
	}

	err := ErrUnknownSystemID
	if s.opts.Authenticator != nil {
		ctx := logging.ContextWithSystemID(s.ctx, req.SystemID)
		err = s.opts.Authenticator.Authenticate(ctx, s, t, req)
	}
	if err != nil {
		status := bindStatus(err)
		s.logger.WarnContext(s.ctx, "Bind rejected",
			slog.String("system_id", req.SystemID),
			slog.String("status", status.String()),
			slog.Any("error", err),
		)
		_ = s.transition(evBindFailed)
		s.respond(p, status, nil)
		return
	}

	s.mu.Lock()
	s.systemID = req.SystemID
	s.bindType = t
	s.mu.Unlock()
	if err := s.transition(evBound); err != nil {
		s.respond(p, pdu.StatusBindFail, nil)
		return
	}
	s.stopInitTimer()
	s.logger.InfoContext(s.ctx, "Bind accepted",
		slog.String("system_id", req.SystemID),
		slog.String("bind_type", t.String()),
	)
	// bind_resp carries our own system_id when one is configured.
	ours := s.opts.Bind.SystemID
	if ours == "" {
		ours = req.SystemID
	}
	s.respond(p, pdu.StatusOK, pdu.Params{pdu.ParamSystemID: ours})
	s.activateTimers()
}

// handleOutbind answers an SMSC's outbind with a receiver bind.
func (s *Session) handleOutbind(p pdu.PDU) {
	if s.role != RoleClient || s.State() != StateOpen {
		s.logger.ErrorContext(s.ctx, "Unexpected outbind", slog.String("state", string(s.State())))
		s.Shutdown()
		return
	}
	s.logger.InfoContext(s.ctx, "Outbind received, binding as receiver",
		slog.String("smsc_system_id", p.StringParam(pdu.ParamSystemID)))
	s.handlers.Add(1)
	go func() {
		defer s.handlers.Done()
		_, _ = s.Bind(s.ctx, BindReceiver, s.opts.Bind)
	}()
}

// =============================================================================
// Unbinding
// =============================================================================

// Unbind stops taking new work, waits for in-flight transactions in both
// directions, then exchanges unbind/unbind_resp and disconnects. A nil
// return means the session ended cleanly.
func (s *Session) Unbind(ctx context.Context) error {
	if st := s.State(); !st.Bound() {
		return &SessionStateError{Op: "unbind", State: st}
	}
	s.cancelEnquireLinkTimer()
	if err := s.transition(evUnbind); err != nil {
		return err
	}
	s.logger.InfoContext(s.ctx, "Unbinding, waiting for pending transactions")

	if err := s.waitInbound(ctx); err != nil {
		s.disconnect(fmt.Errorf("%w: unbind: %w", ErrSessionClosed, err))
		return err
	}
	if err := s.waitOutbound(ctx); err != nil {
		s.disconnect(fmt.Errorf("%w: unbind: %w", ErrSessionClosed, err))
		return err
	}

	f, err := s.sendRequest(pdu.New(pdu.Unbind, nil), s.cfg.SessionInitTimeout, false)
	if err != nil {
		s.disconnect(fmt.Errorf("%w: unbind: %w", ErrSessionClosed, err))
		return err
	}
	if _, err := f.Wait(ctx); err != nil {
		s.logger.WarnContext(s.ctx, "Unbind was not acknowledged", slog.Any("error", err))
		s.disconnect(fmt.Errorf("%w: unbind: %w", ErrSessionClosed, err))
		return err
	}
	s.disconnect(nil)
	return nil
}

// handlePeerUnbind answers the peer's unbind once in-flight inbound
// requests have been answered. Outbound requests are abandoned.
func (s *Session) handlePeerUnbind(p pdu.PDU) {
	if err := s.transition(evUnbindReceived); err != nil {
		s.logger.WarnContext(s.ctx, "Unbind received in wrong state", slog.String("state", string(s.State())))
		s.respond(p, pdu.StatusInvBndSts, nil)
		return
	}
	s.logger.InfoContext(s.ctx, "Unbind received")
	s.cancelEnquireLinkTimer()
	s.cancelOutbound(&SessionStateError{Op: "unbind received", State: StateUnbindReceived, Err: ErrSessionClosed})

	s.handlers.Add(1)
	go func() {
		defer s.handlers.Done()
		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.SessionInitTimeout)
		defer cancel()
		if err := s.waitInbound(ctx); err != nil {
			s.logger.WarnContext(s.ctx, "Inbound requests still pending at unbind", slog.Any("error", err))
		}
		s.respond(p, pdu.StatusOK, nil)
		s.disconnect(nil)
	}()
}

// =============================================================================
// Keepalive, alerts and data requests
// =============================================================================

func (s *Session) handleEnquireLink(p pdu.PDU) {
	s.stats.EnquireLinkReceived()
	if s.role == RoleServer && !s.isBound() {
		s.respond(p, pdu.StatusInvBndSts, nil)
		return
	}
	s.respond(p, pdu.StatusOK, nil)
}

func (s *Session) handleAlertNotification(p pdu.PDU) {
	st := s.State()
	switch {
	case st == StateUnbindPending:
		s.logger.DebugContext(s.ctx, "Ignoring alert_notification while unbinding")
		return
	case !st.Bound():
		s.logger.ErrorContext(s.ctx, "alert_notification received while not bound", slog.String("state", string(st)))
		s.cancelOutbound(&SessionStateError{Op: "alert_notification", State: st, Err: ErrSessionClosed})
		s.Shutdown()
		return
	case !canSend(s.role.peer(), p.CommandID(), s.BindType()):
		s.logger.WarnContext(s.ctx, "alert_notification not allowed for this bind", slog.String("bind_type", s.BindType().String()))
		return
	case s.opts.Handler == nil:
		return
	}

	s.handlers.Add(1)
	go func() {
		defer s.handlers.Done()
		ctx := logging.ContextWithPDUInfo(s.ctx, p.CommandID().String(), p.Seq())
		if _, err := s.opts.Handler.HandleRequest(ctx, s, p); err != nil {
			s.logger.ErrorContext(ctx, "alert_notification handler failed", slog.Any("error", err))
			s.Shutdown()
		}
	}()
}

func (s *Session) handleDataRequest(p pdu.PDU) {
	st := s.State()
	switch {
	case st == StateUnbindPending:
		s.logger.DebugContext(s.ctx, "Ignoring request while unbinding", slog.String("pdu", p.String()))
		return
	case !st.Bound():
		s.logger.ErrorContext(s.ctx, "Request received while not bound",
			slog.String("pdu", p.String()),
			slog.String("state", string(st)),
		)
		s.cancelOutbound(&SessionStateError{Op: p.CommandID().String(), State: st, Err: ErrSessionClosed})
		s.respond(p, pdu.StatusInvBndSts, nil)
		s.Shutdown()
		return
	case !canSend(s.role.peer(), p.CommandID(), s.BindType()):
		s.logger.WarnContext(s.ctx, "Request not allowed for this bind",
			slog.String("pdu", p.String()),
			slog.String("bind_type", s.BindType().String()),
		)
		s.respond(p, pdu.StatusInvBndSts, nil)
		return
	case s.opts.Handler == nil:
		s.logger.ErrorContext(s.ctx, "No request handler installed", slog.String("pdu", p.String()))
		s.respond(p, pdu.StatusRxTAppn, nil)
		s.Shutdown()
		return
	}

	if err := s.startInbound(p.Seq()); err != nil {
		s.logger.ErrorContext(s.ctx, "Duplicate inbound request", slog.String("pdu", p.String()))
		s.respond(p, statusOf(err), nil)
		return
	}

	s.handlers.Add(1)
	go func() {
		defer s.handlers.Done()
		defer s.endInbound(p.Seq())

		ctx := logging.ContextWithPDUInfo(s.ctx, p.CommandID().String(), p.Seq())
		resp, err := s.opts.Handler.HandleRequest(ctx, s, p)
		if err == nil {
			s.respond(p, resp.Status, resp.Params)
			return
		}
		var pe *ProtocolError
		var ie *InterceptionError
		if errors.As(err, &pe) || errors.As(err, &ie) {
			s.logger.WarnContext(ctx, "Request refused", slog.Any("error", err))
			s.respond(p, statusOf(err), nil)
			return
		}
		s.logger.ErrorContext(ctx, "Request handler failed", slog.Any("error", err))
		s.respond(p, pdu.StatusRxTAppn, nil)
		s.Shutdown()
	}()
}

func statusOf(err error) pdu.CommandStatus {
	var c interface{ CommandStatus() pdu.CommandStatus }
	if errors.As(err, &c) {
		return c.CommandStatus()
	}
	return pdu.StatusSysErr
}
