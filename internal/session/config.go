package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/thrillee/aegis-smpp/internal/pdu"
	"github.com/thrillee/aegis-smpp/internal/stats"
)

// Config holds the session timers and limits. Zero durations disable the
// matching timer.
type Config struct {
	SessionInitTimeout  time.Duration
	EnquireLinkInterval time.Duration
	InactivityTimeout   time.Duration
	ResponseTimeout     time.Duration
	PDUReadTimeout      time.Duration
	// WindowSize caps outstanding outbound data requests.
	WindowSize int
	MaxPDUSize int
}

func DefaultConfig() Config {
	return Config{
		SessionInitTimeout:  30 * time.Second,
		EnquireLinkInterval: 10 * time.Second,
		InactivityTimeout:   120 * time.Second,
		ResponseTimeout:     60 * time.Second,
		PDUReadTimeout:      10 * time.Second,
		WindowSize:          100,
		MaxPDUSize:          65536,
	}
}

// BindParams are the credentials and addressing sent in a bind request.
type BindParams struct {
	SystemID     string
	Password     string
	SystemType   string
	AddrTON      pdu.TON
	AddrNPI      pdu.NPI
	AddressRange string
}

func (b BindParams) pdu(t BindType) pdu.PDU {
	return pdu.New(t.Command(), pdu.Params{
		pdu.ParamSystemID:         b.SystemID,
		pdu.ParamPassword:         b.Password,
		pdu.ParamSystemType:       b.SystemType,
		pdu.ParamInterfaceVersion: interfaceVersion,
		pdu.ParamAddrTON:          b.AddrTON,
		pdu.ParamAddrNPI:          b.AddrNPI,
		pdu.ParamAddressRange:     b.AddressRange,
	})
}

const interfaceVersion = 0x34

// Response is what a Handler answers an inbound request with.
type Response struct {
	Status pdu.CommandStatus
	Params pdu.Params
}

// Handler processes inbound data requests (submit_sm, deliver_sm, data_sm,
// ...) and alert_notification. Handlers for different sequence numbers may
// run concurrently. Returning a *ProtocolError or *InterceptionError
// answers with its status; any other error answers ESME_RX_T_APPN and
// shuts the session down.
type Handler interface {
	HandleRequest(ctx context.Context, s *Session, p pdu.PDU) (Response, error)
}

type HandlerFunc func(ctx context.Context, s *Session, p pdu.PDU) (Response, error)

func (f HandlerFunc) HandleRequest(ctx context.Context, s *Session, p pdu.PDU) (Response, error) {
	return f(ctx, s, p)
}

// Authenticator checks server-side bind requests. Return ErrUnknownSystemID,
// ErrInvalidPassword or ErrBindLimit (or a *ProtocolError) to pick the
// bind_resp status.
type Authenticator interface {
	Authenticate(ctx context.Context, s *Session, bindType BindType, req BindParams) error
}

// Options are the collaborators of a session.
type Options struct {
	Role          Role
	Handler       Handler
	Authenticator Authenticator
	Stats         stats.Sink
	Logger        *slog.Logger
	// ID defaults to a random UUID.
	ID string
	// Bind is used by clients to answer an outbind with a receiver bind.
	// Servers only read Bind.SystemID, which bind_resp reports.
	Bind BindParams
}
