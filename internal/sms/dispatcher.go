package sms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/thrillee/aegis-smpp/internal/logging"
	"github.com/thrillee/aegis-smpp/internal/pdu"
	"github.com/thrillee/aegis-smpp/internal/workers"
	"github.com/thrillee/aegis-smpp/pkg/codes"
)

// Sender submits one message to a carrier and returns the carrier's
// message id. mno.Manager implements it.
type Sender interface {
	Submit(ctx context.Context, connectorID, correlationID string, p pdu.PDU) (string, error)
}

// DispatcherConfig tunes the dispatch loops.
type DispatcherConfig struct {
	Interval  time.Duration
	BatchSize int
	Workers   int
	// Rate caps submissions per second across all workers; zero means
	// unlimited.
	Rate  rate.Limit
	Burst int
	// SubmitTimeout bounds one submission, including every part of a long
	// message.
	SubmitTimeout time.Duration
	// MaxAttempts is how many times a retryable failure is tried in total.
	MaxAttempts int
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Interval:      500 * time.Millisecond,
		BatchSize:     100,
		Workers:       4,
		SubmitTimeout: 2 * time.Minute,
		MaxAttempts:   3,
	}
}

// Result is the final outcome of one envelope.
type Result struct {
	Status       string
	CarrierMsgID string
	Err          error
}

// ResultHook is called once per envelope when its outcome is final.
type ResultHook func(ctx context.Context, env Envelope, res Result)

// Dispatcher moves envelopes from a Source to a Sender.
type Dispatcher struct {
	src      Source
	sender   Sender
	cfg      DispatcherConfig
	limiter  *rate.Limiter
	onResult ResultHook
	logger   *slog.Logger
	workerID string
	now      func() time.Time
}

func NewDispatcher(src Source, sender Sender, cfg DispatcherConfig, onResult ResultHook, logger *slog.Logger) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = def.SubmitTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.Rate > 0 {
		limiter = rate.NewLimiter(cfg.Rate, max(cfg.Burst, 1))
	}
	if logger == nil {
		logger = slog.Default()
	}
	hostname, _ := os.Hostname()
	return &Dispatcher{
		src:      src,
		sender:   sender,
		cfg:      cfg,
		limiter:  limiter,
		onResult: onResult,
		logger:   logger,
		workerID: fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8]),
		now:      time.Now,
	}
}

// Loops returns one worker loop per configured worker.
func (d *Dispatcher) Loops() []workers.Loop {
	loops := make([]workers.Loop, d.cfg.Workers)
	for i := range loops {
		loops[i] = workers.Loop{
			Name:      fmt.Sprintf("sms-dispatch-%d", i+1),
			Interval:  d.cfg.Interval,
			BatchSize: d.cfg.BatchSize,
			// A batch may wait for the limiter and for every submission.
			Timeout: d.cfg.SubmitTimeout * time.Duration(d.cfg.BatchSize),
			Work:    d.ProcessBatch,
		}
	}
	return loops
}

// ProcessBatch is a workers.WorkerFunc that dispatches up to batchSize
// envelopes.
func (d *Dispatcher) ProcessBatch(ctx context.Context, batchSize int) (int, error) {
	ctx = logging.ContextWithWorkerID(ctx, d.workerID)
	envs, err := d.src.Fetch(ctx, batchSize)
	if err != nil {
		return 0, err
	}
	if len(envs) == 0 {
		return 0, workers.ErrNoWork
	}
	for i, env := range envs {
		if ctx.Err() != nil {
			// Fetched but not attempted: put them back.
			for _, rest := range envs[i:] {
				rest.Attempts--
				d.report(context.WithoutCancel(ctx), rest, fmt.Errorf("%w: %w", ErrRetry, ctx.Err()))
			}
			return i, ctx.Err()
		}
		d.dispatch(ctx, env)
	}
	return len(envs), nil
}

func (d *Dispatcher) dispatch(ctx context.Context, env Envelope) {
	ctx = logging.ContextWithMessageID(ctx, env.CorrelationID)
	if env.ConnectorID != "" {
		ctx = logging.ContextWithConnectorID(ctx, env.ConnectorID)
	}

	if env.Expired(d.now()) {
		d.logger.WarnContext(ctx, "Discarding expired message",
			slog.Time("expiration", env.Expiration),
			slog.Time("created_at", env.CreatedAt),
		)
		d.finish(ctx, env, Result{Status: codes.MsgStatusExpired, Err: ErrExpired})
		return
	}

	if err := d.limiter.Wait(ctx); err != nil {
		env.Attempts--
		d.report(context.WithoutCancel(ctx), env, fmt.Errorf("%w: %w", ErrRetry, err))
		return
	}

	submitCtx, cancel := context.WithTimeout(ctx, d.cfg.SubmitTimeout)
	msgID, err := d.sender.Submit(submitCtx, env.ConnectorID, env.CorrelationID, env.PDU)
	cancel()

	if err != nil && Retryable(err) && env.Attempts+1 < d.cfg.MaxAttempts {
		d.logger.WarnContext(ctx, "Submission failed, requeueing",
			slog.Int("attempt", env.Attempts+1),
			slog.Any("error", err),
		)
		d.report(ctx, env, fmt.Errorf("%w: %w", ErrRetry, err))
		return
	}
	res := Result{Status: StatusOf(err), CarrierMsgID: msgID, Err: err}
	if err != nil {
		d.logger.ErrorContext(ctx, "Submission failed",
			slog.String("status", res.Status),
			slog.String("error_code", ErrorCode(err)),
			slog.Any("error", err),
		)
	} else {
		d.logger.InfoContext(ctx, "Message sent", slog.String("carrier_msg_id", msgID))
	}
	d.finish(ctx, env, res)
}

func (d *Dispatcher) finish(ctx context.Context, env Envelope, res Result) {
	d.report(ctx, env, res.Err)
	if d.onResult != nil {
		d.onResult(ctx, env, res)
	}
}

func (d *Dispatcher) report(ctx context.Context, env Envelope, err error) {
	if rerr := d.src.Report(ctx, env, err); rerr != nil {
		d.logger.ErrorContext(ctx, "Failed to report message outcome",
			slog.String("status", StatusOf(err)),
			slog.Bool("requeue", errors.Is(err, ErrRetry)),
			slog.Any("error", rerr),
		)
	}
}
