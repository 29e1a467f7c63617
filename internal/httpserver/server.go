// Package httpserver serves the operator endpoints and the HTTP submit API.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/thrillee/aegis-smpp/internal/logging"
	"github.com/thrillee/aegis-smpp/internal/sms"
	"github.com/thrillee/aegis-smpp/pkg/errormapper"
)

// Config holds HTTP server specific configuration.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Submitter queues a message on behalf of an authenticated system_id.
type Submitter interface {
	Submit(ctx context.Context, systemID string, m sms.Message) (string, error)
}

// CredentialChecker verifies a system_id and password.
type CredentialChecker interface {
	Check(ctx context.Context, systemID, password string) error
}

// StatusReporter lists connector statuses by connector id.
type StatusReporter interface {
	Statuses() map[string]string
}

// Options are the collaborators of a Server. Nil fields disable the
// routes that need them.
type Options struct {
	Submitter   Submitter
	Credentials CredentialChecker
	Connectors  StatusReporter
	Metrics     http.Handler
	Logger      *slog.Logger
}

type Server struct {
	config     Config
	opts       Options
	logger     *slog.Logger
	httpServer *http.Server
	mu         sync.Mutex
	stopOnce   sync.Once
}

func NewServer(cfg Config, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{config: cfg, opts: opts, logger: opts.Logger}
}

// Handler returns the routes without starting a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok\n"))
	})
	if s.opts.Metrics != nil {
		mux.Handle("GET /metrics", s.opts.Metrics)
	}
	if s.opts.Connectors != nil {
		mux.HandleFunc("GET /connectors", s.handleConnectors)
	}
	if s.opts.Submitter != nil && s.opts.Credentials != nil {
		mux.HandleFunc("POST /sms", s.authMiddleware(s.handleSubmit))
	}
	return mux
}

// ListenAndServe starts the HTTP server and blocks until Shutdown.
func (s *Server) ListenAndServe() error {
	s.mu.Lock()
	if s.httpServer != nil {
		s.mu.Unlock()
		return errors.New("httpserver: already started")
	}
	s.httpServer = &http.Server{
		Addr:         s.config.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("Starting HTTP server", slog.String("address", s.config.Addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("HTTP server ListenAndServe error", slog.Any("error", err))
		return err
	}
	s.logger.Info("HTTP server stopped")
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		srv := s.httpServer
		s.mu.Unlock()
		if srv != nil {
			srv.SetKeepAlivesEnabled(false)
			err = srv.Shutdown(ctx)
		}
	})
	return err
}

type contextKey string

const systemIDKey contextKey = "httpSystemID"

// authMiddleware accepts HTTP Basic credentials or an X-API-Key of the form
// <system_id>_<password>.
func (s *Server) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.ContextWithRemoteAddr(r.Context(), r.RemoteAddr)
		systemID, password, ok := r.BasicAuth()
		if !ok {
			systemID, password, ok = strings.Cut(r.Header.Get("X-API-Key"), "_")
		}
		if !ok || systemID == "" || password == "" {
			s.logger.WarnContext(ctx, "HTTP auth failed: missing credentials")
			writeJSON(ctx, w, http.StatusUnauthorized, map[string]string{"status": "rejected", "error": "unauthorized"})
			return
		}
		ctx = logging.ContextWithSystemID(ctx, systemID)
		if err := s.opts.Credentials.Check(ctx, systemID, password); err != nil {
			writeJSON(ctx, w, http.StatusUnauthorized, map[string]string{"status": "rejected", "error": "unauthorized"})
			return
		}
		ctx = context.WithValue(ctx, systemIDKey, systemID)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

type submitRequest struct {
	From       string `json:"from"`
	To         string `json:"to"`
	Text       string `json:"text"`
	ClientRef  string `json:"client_ref"`
	RequestDLR *bool  `json:"request_dlr"`
	Priority   int    `json:"priority"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	systemID, _ := ctx.Value(systemIDKey).(string)

	var req submitRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.logger.WarnContext(ctx, "Failed to decode HTTP submit body", slog.Any("error", err))
		writeJSON(ctx, w, http.StatusBadRequest, map[string]string{"status": "rejected", "error": "invalid JSON: " + err.Error()})
		return
	}
	if req.From == "" || req.To == "" || req.Text == "" {
		writeJSON(ctx, w, http.StatusBadRequest, map[string]string{"status": "rejected", "error": "from, to and text are required"})
		return
	}
	receipt := true
	if req.RequestDLR != nil {
		receipt = *req.RequestDLR
	}

	id, err := s.opts.Submitter.Submit(ctx, systemID, sms.Message{
		CorrelationID: req.ClientRef,
		Source:        req.From,
		Destination:   req.To,
		Text:          req.Text,
		Receipt:       receipt,
		Priority:      req.Priority,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "HTTP submit rejected", slog.Any("error", err))
		writeJSON(ctx, w, httpStatus(err), map[string]string{"status": "rejected", "error": err.Error()})
		return
	}
	s.logger.InfoContext(logging.ContextWithMessageID(ctx, id), "HTTP message accepted")
	writeJSON(ctx, w, http.StatusAccepted, map[string]string{"status": "accepted", "message_id": id})
}

func (s *Server) handleConnectors(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, s.opts.Connectors.Statuses())
}

func httpStatus(err error) int {
	var coded *errormapper.CodedError
	if !errors.As(err, &coded) {
		return http.StatusInternalServerError
	}
	switch coded.Code {
	case errormapper.ErrorCodeValidationFailure, errormapper.ErrorCodeInvalidMSISDN, errormapper.ErrorCodeInvalidSenderID:
		return http.StatusBadRequest
	case errormapper.ErrorCodeThrottled:
		return http.StatusTooManyRequests
	case errormapper.ErrorCodeQueueError, errormapper.ErrorCodeMnoUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(ctx context.Context, w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(ctx, "Failed to encode HTTP response", slog.Any("error", err))
	}
}
