// Package longmsg sends messages that do not fit one short_message as a
// group of parts with a single, all-or-nothing result.
package longmsg

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"

	"golang.org/x/time/rate"

	"github.com/thrillee/aegis-smpp/internal/future"
	"github.com/thrillee/aegis-smpp/internal/logging"
	"github.com/thrillee/aegis-smpp/internal/pdu"
	"github.com/thrillee/aegis-smpp/internal/session"
	"github.com/thrillee/aegis-smpp/pkg/segmenter"
)

// Requester is the part of a session the manager drives.
type Requester interface {
	SendRequest(ctx context.Context, p pdu.PDU) (session.Outbound, error)
	CancelOutbound(seq uint32, err error) bool
}

type Config struct {
	Method   Method
	MaxParts int
	// Rate limits PDUs per second, parts included. Zero is unlimited.
	Rate  rate.Limit
	Burst int
}

func DefaultConfig() Config {
	return Config{Method: MethodSAR, MaxParts: 5}
}

// group is one long message in flight.
type group struct {
	ref     uint16
	total   int
	pending int
	seqs    []uint32
	last    session.Result
	err     error
	result  *future.Future[session.Result]
}

// Manager splits and tracks long messages over one session.
type Manager struct {
	req     Requester
	cfg     Config
	limiter *rate.Limiter
	logger  *slog.Logger

	mu      sync.Mutex
	groups  map[uint16]*group
	lastRef uint16
}

func NewManager(req Requester, cfg Config, logger *slog.Logger) *Manager {
	if cfg.Method == "" {
		cfg.Method = MethodSAR
	}
	if logger == nil {
		logger = slog.Default()
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.Rate > 0 {
		limiter = rate.NewLimiter(cfg.Rate, max(cfg.Burst, 1))
	}
	return &Manager{
		req:     req,
		cfg:     cfg,
		limiter: limiter,
		logger:  logger,
		groups:  make(map[uint16]*group),
		// Start somewhere random so a restart does not reuse the
		// references of groups a peer may still be reassembling.
		lastRef: uint16(rand.IntN(cfg.Method.maxRef())),
	}
}

func splittable(id pdu.CommandID) bool {
	return id == pdu.SubmitSM || id == pdu.DeliverSM
}

// SendLongOrShort sends p as is when its message fits one short_message,
// otherwise as a group of parts. The returned future resolves with the
// last part's response once every part is acknowledged, or rejects with
// the first failure.
func (m *Manager) SendLongOrShort(ctx context.Context, p pdu.PDU) (*future.Future[session.Result], error) {
	payload, coding := p.Message(), p.DataCoding()
	if !splittable(p.CommandID()) || segmenter.Count(payload, coding) == 1 {
		out, err := m.send(ctx, p)
		if err != nil {
			return nil, err
		}
		return out.Future, nil
	}

	if n := segmenter.Count(payload, coding); m.cfg.MaxParts > 0 && n > m.cfg.MaxParts {
		return nil, &TooLongError{Parts: n, Max: m.cfg.MaxParts}
	}
	if p.Has(pdu.ParamSarMsgRefNum) || p.EsmClass().UDHI() {
		return nil, &TransactionError{Ref: uint16(p.IntParam(pdu.ParamSarMsgRefNum)), Msg: "message is already segmented"}
	}

	g, err := m.startGroup(segmenter.Count(payload, coding))
	if err != nil {
		return nil, err
	}
	parts, err := Split(p, payload, coding, m.cfg.Method, g.ref, m.cfg.MaxParts)
	if err != nil {
		m.fail(g, err)
		return nil, err
	}

	ctx = logging.ContextWithRefNum(ctx, g.ref)
	m.logger.DebugContext(ctx, "Sending long message",
		slog.Int("parts", len(parts)),
		slog.String("method", string(m.cfg.Method)),
	)
	for _, part := range parts {
		if !m.open(g) {
			// A part already failed; the group result carries why.
			break
		}
		out, err := m.send(ctx, part)
		if err != nil {
			m.logger.ErrorContext(ctx, "Failed to send long message part", slog.Any("error", err))
			m.fail(g, err)
			return nil, err
		}
		if !m.track(g, out.Seq) {
			break
		}
		go m.watch(g, out)
	}
	return g.result, nil
}

func (m *Manager) send(ctx context.Context, p pdu.PDU) (session.Outbound, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return session.Outbound{}, err
	}
	return m.req.SendRequest(ctx, p)
}

// startGroup claims a reference not held by any open group.
func (m *Manager) startGroup(total int) (*group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit := m.cfg.Method.maxRef()
	for range limit {
		m.lastRef++
		if m.lastRef == 0 || int(m.lastRef) > limit {
			m.lastRef = 1
		}
		if _, busy := m.groups[m.lastRef]; busy {
			continue
		}
		g := &group{
			ref:     m.lastRef,
			total:   total,
			pending: total,
			result:  future.New[session.Result](),
		}
		m.groups[g.ref] = g
		return g, nil
	}
	return nil, &TransactionError{Ref: m.lastRef, Msg: "every reference number is in use"}
}

func (m *Manager) open(g *group) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.groups[g.ref] == g
}

// track records a sent part. When the group was torn down while the part
// was being sent, the part is cancelled too.
func (m *Manager) track(g *group, seq uint32) bool {
	m.mu.Lock()
	if m.groups[g.ref] != g {
		err := g.err
		m.mu.Unlock()
		m.req.CancelOutbound(seq, err)
		return false
	}
	g.seqs = append(g.seqs, seq)
	m.mu.Unlock()
	return true
}

// closeGroup removes g; false means it was already closed.
func (m *Manager) closeGroup(g *group) bool {
	if m.groups[g.ref] != g {
		return false
	}
	delete(m.groups, g.ref)
	return true
}

func (m *Manager) watch(g *group, out session.Outbound) {
	// Part futures always settle: the session rejects whatever is still
	// open when it ends.
	res, err := out.Wait(context.Background())
	if err != nil {
		m.fail(g, err)
		return
	}
	m.ack(g, res)
}

func (m *Manager) ack(g *group, res session.Result) {
	m.mu.Lock()
	if m.groups[g.ref] != g {
		m.mu.Unlock()
		return
	}
	g.pending--
	g.last = res
	done := g.pending == 0 && m.closeGroup(g)
	m.mu.Unlock()
	if done {
		m.logger.Debug("Long message acknowledged",
			slog.Int("ref_num", int(g.ref)),
			slog.Int("parts", g.total),
		)
		g.result.Resolve(g.last)
	}
}

// fail tears the group down: siblings still in flight are cancelled with
// err and the group result rejects with it.
func (m *Manager) fail(g *group, err error) {
	m.mu.Lock()
	if !m.closeGroup(g) {
		m.mu.Unlock()
		return
	}
	g.err = err
	seqs := g.seqs
	m.mu.Unlock()

	m.logger.Warn("Long message failed",
		slog.Int("ref_num", int(g.ref)),
		slog.Int("parts", g.total),
		slog.Any("error", err),
	)
	g.result.Reject(err)
	for _, seq := range seqs {
		m.req.CancelOutbound(seq, err)
	}
}

// Close rejects every open group with err.
func (m *Manager) Close(err error) {
	m.mu.Lock()
	groups := make([]*group, 0, len(m.groups))
	for _, g := range m.groups {
		groups = append(groups, g)
	}
	m.mu.Unlock()
	for _, g := range groups {
		m.fail(g, err)
	}
}

// OpenGroups is the number of long messages in flight.
func (m *Manager) OpenGroups() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.groups)
}
