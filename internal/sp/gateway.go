// Package sp connects service providers, the ESMEs bound to our SMPP
// server, with the outbound queue and the carrier connectors.
package sp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/thrillee/aegis-smpp/internal/dlr"
	"github.com/thrillee/aegis-smpp/internal/logging"
	"github.com/thrillee/aegis-smpp/internal/mno"
	"github.com/thrillee/aegis-smpp/internal/pdu"
	"github.com/thrillee/aegis-smpp/internal/session"
	"github.com/thrillee/aegis-smpp/internal/sms"
	"github.com/thrillee/aegis-smpp/internal/smppserver"
	"github.com/thrillee/aegis-smpp/pkg/codes"
	"github.com/thrillee/aegis-smpp/pkg/errormapper"
	"github.com/thrillee/aegis-smpp/pkg/segmenter"
)

// originScope namespaces message id to system_id entries in the DLR store.
const originScope = "esme"

// Deliverer sends PDUs to bound ESMEs. smppserver.Server implements it.
type Deliverer interface {
	Deliver(ctx context.Context, systemID string, p pdu.PDU) (session.Result, error)
	DeliverReceipt(ctx context.Context, systemID string, req dlr.Request) error
}

// Config tunes a Gateway.
type Config struct {
	// ConnectorID is the carrier submissions are sent through; empty
	// means the default connector.
	ConnectorID string
	// MessageTTL is how long a submission may wait in the queue.
	MessageTTL time.Duration
	// MOSystemID receives mobile-originated messages. Empty drops them.
	MOSystemID string
}

// Gateway routes ESME submissions onto the queue and carrier receipts
// back to the ESME that submitted the message.
type Gateway struct {
	cfg       Config
	queue     sms.Queue
	origins   dlr.Store
	deliverer Deliverer
	seg       segmenter.Segmenter
	logger    *slog.Logger
	now       func() time.Time
}

var (
	_ smppserver.Router  = (*Gateway)(nil)
	_ sms.ResultHook     = (*Gateway)(nil).OnResult
	_ mno.InboundHandler = (*Gateway)(nil).HandleInbound
)

func NewGateway(cfg Config, queue sms.Queue, origins dlr.Store, deliverer Deliverer, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		cfg:       cfg,
		queue:     queue,
		origins:   origins,
		deliverer: deliverer,
		seg:       segmenter.NewDefaultSegmenter(),
		logger:    logger,
		now:       time.Now,
	}
}

// Route queues sub. Submissions asking for a receipt remember their
// system_id so the receipt can find its way back.
func (g *Gateway) Route(ctx context.Context, sub smppserver.Submission) error {
	env := sms.Envelope{
		CorrelationID: sub.MessageID,
		ConnectorID:   g.cfg.ConnectorID,
		SystemID:      sub.SystemID,
		PDU:           sub.PDU,
		CreatedAt:     sub.ReceivedAt,
	}
	if g.cfg.MessageTTL > 0 {
		env.Expiration = sub.ReceivedAt.Add(g.cfg.MessageTTL)
	}
	if pf, ok := pdu.Get[pdu.PriorityFlag](sub.PDU, pdu.ParamPriorityFlag); ok {
		env.Priority = int(pf)
	}
	return g.enqueue(ctx, env, sub.ReceiptRequested)
}

// Submit queues a text message on behalf of systemID and returns its
// message id.
func (g *Gateway) Submit(ctx context.Context, systemID string, m sms.Message) (string, error) {
	if m.CorrelationID == "" {
		m.CorrelationID = uuid.NewString()
	}
	if m.ConnectorID == "" {
		m.ConnectorID = g.cfg.ConnectorID
	}
	if m.TTL == 0 {
		m.TTL = g.cfg.MessageTTL
	}
	env, err := sms.NewEnvelope(m, g.seg, g.now())
	if err != nil {
		return "", errormapper.WithCode(errormapper.ErrorCodeValidationFailure, err)
	}
	env.SystemID = systemID
	if err := g.enqueue(logging.ContextWithSystemID(ctx, systemID), env, m.Receipt); err != nil {
		return "", err
	}
	return m.CorrelationID, nil
}

func (g *Gateway) enqueue(ctx context.Context, env sms.Envelope, receipt bool) error {
	ctx = logging.ContextWithMessageID(ctx, env.CorrelationID)
	if receipt && env.SystemID != "" {
		if err := g.origins.Set(ctx, originScope, env.CorrelationID, env.SystemID); err != nil {
			return errormapper.WithCode(errormapper.ErrorCodeQueueError, err)
		}
	}
	if err := g.queue.Push(ctx, env); err != nil {
		g.logger.ErrorContext(ctx, "Failed to queue submission", slog.Any("error", err))
		return errormapper.WithCode(errormapper.ErrorCodeQueueError, err)
	}
	return nil
}

// HandleInbound forwards carrier receipts to the submitting ESME and
// mobile-originated messages to the configured one.
func (g *Gateway) HandleInbound(ctx context.Context, msg mno.InboundMessage) error {
	if msg.Receipt == nil {
		return g.forwardMO(ctx, msg)
	}
	if msg.CorrelationID == "" {
		return nil
	}
	ctx = logging.ContextWithMessageID(ctx, msg.CorrelationID)
	systemID, err := g.origins.Get(ctx, originScope, msg.CorrelationID)
	switch {
	case errors.Is(err, dlr.ErrNotFound):
		g.logger.DebugContext(ctx, "No receipt requested for message")
		return nil
	case err != nil:
		return errormapper.WithCode(errormapper.ErrorCodeSystemError, err)
	}

	stat := msg.Receipt.Stat
	if _, _, _, err := errormapper.ReceiptStatus(stat); err != nil {
		stat = errormapper.StatusCodeUnknown
	}
	// The carrier's receipt runs handset to sender. Build swaps the
	// addresses back, so pass them as the original submission had them.
	req := dlr.Request{
		Kind:        pdu.DeliverSM,
		MessageID:   msg.CorrelationID,
		Source:      dlr.Address{Addr: msg.Destination},
		Destination: dlr.Address{Addr: msg.Source},
		Status:      stat,
		SubmittedAt: receiptTime(msg.Receipt.SubmitDate, msg.ReceivedAt),
		DoneAt:      receiptTime(msg.Receipt.DoneDate, msg.ReceivedAt),
	}
	return g.deliverer.DeliverReceipt(ctx, systemID, req)
}

func (g *Gateway) forwardMO(ctx context.Context, msg mno.InboundMessage) error {
	if g.cfg.MOSystemID == "" {
		g.logger.WarnContext(ctx, "Dropping mobile-originated message, no route configured",
			slog.String("from", msg.Source),
			slog.String("to", msg.Destination),
		)
		return nil
	}
	p := msg.PDU
	if p.CommandID() != pdu.DeliverSM {
		p = pdu.New(pdu.DeliverSM, pdu.Params{
			pdu.ParamSourceAddr:      msg.Source,
			pdu.ParamDestinationAddr: msg.Destination,
			pdu.ParamDataCoding:      msg.Coding,
			pdu.ParamMessagePayload:  msg.Payload,
		})
	}
	if _, err := g.deliverer.Deliver(ctx, g.cfg.MOSystemID, p); err != nil {
		return fmt.Errorf("sp: forward MO to %s: %w", g.cfg.MOSystemID, err)
	}
	return nil
}

// OnResult tells the ESME about messages that never reached the carrier.
// Accepted messages get their receipt from the carrier instead.
func (g *Gateway) OnResult(ctx context.Context, env sms.Envelope, res sms.Result) {
	if res.Err == nil || env.SystemID == "" {
		return
	}
	if _, err := g.origins.Get(ctx, originScope, env.CorrelationID); err != nil {
		return
	}

	var status string
	var txErr *session.TransactionError
	switch {
	case res.Status == codes.MsgStatusExpired:
		status = errormapper.StatusCodeExpired
	case res.Status == codes.MsgStatusMalformed:
		status = errormapper.StatusCodeRejected
	case errors.As(res.Err, &txErr):
		status = txErr.CommandStatus().String()
	default:
		status = errormapper.StatusCodeUndeliverable
	}
	req := dlr.Request{
		Kind:        pdu.DeliverSM,
		MessageID:   env.CorrelationID,
		Source:      address(env.PDU, pdu.ParamSourceAddr, pdu.ParamSourceAddrTON, pdu.ParamSourceAddrNPI),
		Destination: address(env.PDU, pdu.ParamDestinationAddr, pdu.ParamDestAddrTON, pdu.ParamDestAddrNPI),
		Status:      status,
		SubmittedAt: env.CreatedAt,
		DoneAt:      g.now(),
	}
	if err := g.deliverer.DeliverReceipt(ctx, env.SystemID, req); err != nil {
		g.logger.WarnContext(ctx, "Failed to send failure receipt", slog.Any("error", err))
	}
}

func address(p pdu.PDU, addr, ton, npi string) dlr.Address {
	a := dlr.Address{Addr: p.StringParam(addr)}
	a.TON, _ = pdu.Get[pdu.TON](p, ton)
	a.NPI, _ = pdu.Get[pdu.NPI](p, npi)
	return a
}

// receiptTime parses a receipt date, YYMMDDhhmm or YYYYMMDDhhmm, falling
// back to def.
func receiptTime(s string, def time.Time) time.Time {
	for _, layout := range []string{"0601021504", "200601021504", "060102150405"} {
		if len(s) == len(layout) {
			if t, err := time.Parse(layout, s); err == nil {
				return t
			}
		}
	}
	return def
}
