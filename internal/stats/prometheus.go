package stats

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thrillee/aegis-smpp/internal/pdu"
)

// Prometheus owns the SMPP metric vectors on a private registry. It is a
// factory: ForSession returns the Sink a single session reports into.
type Prometheus struct {
	registry *prometheus.Registry

	connections  *prometheus.CounterVec
	binds        *prometheus.CounterVec
	pdus         *prometheus.CounterVec
	enquireLinks *prometheus.CounterVec
	transactions *prometheus.CounterVec

	activeSessions *prometheus.GaugeVec
	boundSessions  *prometheus.GaugeVec

	transactionDuration *prometheus.HistogramVec
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{registry: prometheus.NewRegistry()}

	p.connections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smpp_connections_total",
			Help: "Connections opened, by connector",
		},
		[]string{"connector"},
	)
	p.binds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smpp_binds_total",
			Help: "Successful binds, by connector and bind type",
		},
		[]string{"connector", "bind_type"},
	)
	p.pdus = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smpp_pdus_total",
			Help: "PDUs written or read",
		},
		[]string{"connector", "command_id", "direction"},
	)
	p.enquireLinks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smpp_enquire_links_total",
			Help: "Keepalive requests sent or received",
		},
		[]string{"connector", "direction"},
	)
	p.transactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smpp_transactions_total",
			Help: "Outbound transactions by outcome",
		},
		[]string{"connector", "command_id", "outcome"},
	)

	p.activeSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smpp_active_sessions",
			Help: "Sessions with an open connection",
		},
		[]string{"connector"},
	)
	p.boundSessions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "smpp_bound_sessions",
			Help: "Sessions currently bound",
		},
		[]string{"connector", "bind_type"},
	)

	p.transactionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "smpp_transaction_duration_seconds",
			Help:    "Time from request write to response",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"connector", "command_id"},
	)

	p.registry.MustRegister(
		p.connections,
		p.binds,
		p.pdus,
		p.enquireLinks,
		p.transactions,
		p.activeSessions,
		p.boundSessions,
		p.transactionDuration,
	)
	return p
}

// Registry exposes the private registry, mainly for tests.
func (p *Prometheus) Registry() *prometheus.Registry { return p.registry }

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// ForSession returns a Sink labelled with connector.
func (p *Prometheus) ForSession(connector string) Sink {
	return &promSession{p: p, connector: connector}
}

type promSession struct {
	p         *Prometheus
	connector string
	connected atomic.Bool
	bindType  atomic.Pointer[string]
}

func (s *promSession) Connected() {
	if s.connected.CompareAndSwap(false, true) {
		s.p.connections.WithLabelValues(s.connector).Inc()
		s.p.activeSessions.WithLabelValues(s.connector).Inc()
	}
}

func (s *promSession) Bound(bindType string) {
	if s.bindType.CompareAndSwap(nil, &bindType) {
		s.p.binds.WithLabelValues(s.connector, bindType).Inc()
		s.p.boundSessions.WithLabelValues(s.connector, bindType).Inc()
	}
}

func (s *promSession) Disconnected() {
	if bt := s.bindType.Swap(nil); bt != nil {
		s.p.boundSessions.WithLabelValues(s.connector, *bt).Dec()
	}
	if s.connected.CompareAndSwap(true, false) {
		s.p.activeSessions.WithLabelValues(s.connector).Dec()
	}
}

func (s *promSession) PDUSent(id pdu.CommandID, _ uint32) {
	s.p.pdus.WithLabelValues(s.connector, id.String(), "out").Inc()
}

func (s *promSession) PDUReceived(id pdu.CommandID) {
	s.p.pdus.WithLabelValues(s.connector, id.String(), "in").Inc()
}

func (s *promSession) EnquireLinkSent() {
	s.p.enquireLinks.WithLabelValues(s.connector, "out").Inc()
}

func (s *promSession) EnquireLinkReceived() {
	s.p.enquireLinks.WithLabelValues(s.connector, "in").Inc()
}

func (s *promSession) TransactionDone(id pdu.CommandID, outcome string, d time.Duration) {
	s.p.transactions.WithLabelValues(s.connector, id.String(), outcome).Inc()
	if outcome == OutcomeOK {
		s.p.transactionDuration.WithLabelValues(s.connector, id.String()).Observe(d.Seconds())
	}
}
