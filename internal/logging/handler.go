package logging

import (
	"context"
	"log/slog"
)

type contextKey string

const (
	SessionIDKey   contextKey = "session_id"
	SystemIDKey    contextKey = "system_id"
	ConnectorIDKey contextKey = "connector_id"
	RemoteAddrKey  contextKey = "remote_addr"
	CommandIDKey   contextKey = "cmd_id"
	SeqNumberKey   contextKey = "seq_num"
	MessageIDKey   contextKey = "msg_id"
	RefNumKey      contextKey = "ref_num"
	WorkerIDKey    contextKey = "worker_id"
)

// stringKeys are lifted into every record in this order.
var stringKeys = []contextKey{
	SessionIDKey, SystemIDKey, ConnectorIDKey, RemoteAddrKey, CommandIDKey, MessageIDKey, WorkerIDKey,
}

// ContextHandler wraps another slog.Handler and adds attributes from context.
type ContextHandler struct {
	slog.Handler
}

// NewContextHandler creates a handler that extracts values from context.
func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

// Handle adds context attributes before calling the wrapped handler.
func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if ctx != nil {
		for _, k := range stringKeys {
			if v, ok := ctx.Value(k).(string); ok {
				r.AddAttrs(slog.String(string(k), v))
			}
		}
		if seq, ok := ctx.Value(SeqNumberKey).(uint32); ok {
			r.AddAttrs(slog.Uint64(string(SeqNumberKey), uint64(seq)))
		}
		if ref, ok := ctx.Value(RefNumKey).(uint16); ok {
			r.AddAttrs(slog.Int(string(RefNumKey), int(ref)))
		}
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// Helper functions to add values to context
func ContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}

func ContextWithSystemID(ctx context.Context, systemID string) context.Context {
	return context.WithValue(ctx, SystemIDKey, systemID)
}

func ContextWithConnectorID(ctx context.Context, connectorID string) context.Context {
	return context.WithValue(ctx, ConnectorIDKey, connectorID)
}

func ContextWithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, RemoteAddrKey, addr)
}

func ContextWithMessageID(ctx context.Context, msgID string) context.Context {
	return context.WithValue(ctx, MessageIDKey, msgID)
}

func ContextWithRefNum(ctx context.Context, ref uint16) context.Context {
	return context.WithValue(ctx, RefNumKey, ref)
}

func ContextWithWorkerID(ctx context.Context, workerID string) context.Context {
	return context.WithValue(ctx, WorkerIDKey, workerID)
}

func ContextWithPDUInfo(ctx context.Context, commandID string, seqNumber uint32) context.Context {
	ctx = context.WithValue(ctx, CommandIDKey, commandID)
	return context.WithValue(ctx, SeqNumberKey, seqNumber)
}

// New wraps h so context values show up on every record.
func New(h slog.Handler) *slog.Logger {
	return slog.New(NewContextHandler(h))
}
