package smppserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/thrillee/aegis-smpp/internal/dlr"
	"github.com/thrillee/aegis-smpp/internal/logging"
	"github.com/thrillee/aegis-smpp/internal/pdu"
	"github.com/thrillee/aegis-smpp/internal/session"
)

// ErrNoReceiver is returned when no receiver-capable session is bound for
// the system_id.
var ErrNoReceiver = errors.New("smppserver: no receiver bound")

// Deliver sends a deliver_sm or data_sm to a session bound as receiver or
// transceiver with systemID and waits for the response.
func (s *Server) Deliver(ctx context.Context, systemID string, p pdu.PDU) (session.Result, error) {
	ctx = logging.ContextWithSystemID(ctx, systemID)
	sess, ok := s.receiverFor(systemID)
	if !ok {
		s.logger.WarnContext(ctx, "Cannot deliver: no receiver bound")
		return session.Result{}, fmt.Errorf("%w: %q", ErrNoReceiver, systemID)
	}
	res, err := sess.Send(ctx, p)
	if err != nil {
		s.logger.ErrorContext(ctx, "Delivery to client failed", slog.Any("error", err))
		return res, err
	}
	return res, nil
}

// DeliverReceipt builds a delivery receipt for a message accepted from
// systemID and delivers it.
func (s *Server) DeliverReceipt(ctx context.Context, systemID string, req dlr.Request) error {
	if req.Kind == 0 {
		req.Kind = pdu.DeliverSM
	}
	p, err := dlr.Build(req)
	if err != nil {
		return fmt.Errorf("smppserver: build receipt for %s: %w", req.MessageID, err)
	}
	ctx = logging.ContextWithMessageID(ctx, req.MessageID)
	if _, err := s.Deliver(ctx, systemID, p); err != nil {
		return fmt.Errorf("smppserver: deliver receipt for %s: %w", req.MessageID, err)
	}
	s.logger.InfoContext(ctx, "Delivery receipt forwarded", slog.String("status", req.Status))
	return nil
}
