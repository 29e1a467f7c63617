// Package stats collects per-session SMPP statistics. A Sink is handed to
// each session when it is built and lives exactly as long as that session.
package stats

import (
	"maps"
	"sync"
	"time"

	"github.com/thrillee/aegis-smpp/internal/pdu"
)

// Transaction outcomes reported to TransactionDone.
const (
	OutcomeOK        = "ok"
	OutcomeError     = "error"
	OutcomeNack      = "generic_nack"
	OutcomeMismatch  = "mismatch"
	OutcomeTimeout   = "timeout"
	OutcomeCancelled = "cancelled"
)

// Sink receives session events. Implementations must be safe for concurrent
// use: the read loop, timers and callers all report through one Sink.
type Sink interface {
	Connected()
	Bound(bindType string)
	Disconnected()
	PDUSent(id pdu.CommandID, seq uint32)
	PDUReceived(id pdu.CommandID)
	EnquireLinkSent()
	EnquireLinkReceived()
	TransactionDone(id pdu.CommandID, outcome string, d time.Duration)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Connected()                                           {}
func (Nop) Bound(string)                                         {}
func (Nop) Disconnected()                                        {}
func (Nop) PDUSent(pdu.CommandID, uint32)                        {}
func (Nop) PDUReceived(pdu.CommandID)                            {}
func (Nop) EnquireLinkSent()                                     {}
func (Nop) EnquireLinkReceived()                                 {}
func (Nop) TransactionDone(pdu.CommandID, string, time.Duration) {}

// Multi fans every event out to each sink in order.
type Multi []Sink

func (m Multi) Connected() {
	for _, s := range m {
		s.Connected()
	}
}

func (m Multi) Bound(bindType string) {
	for _, s := range m {
		s.Bound(bindType)
	}
}

func (m Multi) Disconnected() {
	for _, s := range m {
		s.Disconnected()
	}
}

func (m Multi) PDUSent(id pdu.CommandID, seq uint32) {
	for _, s := range m {
		s.PDUSent(id, seq)
	}
}

func (m Multi) PDUReceived(id pdu.CommandID) {
	for _, s := range m {
		s.PDUReceived(id)
	}
}

func (m Multi) EnquireLinkSent() {
	for _, s := range m {
		s.EnquireLinkSent()
	}
}

func (m Multi) EnquireLinkReceived() {
	for _, s := range m {
		s.EnquireLinkReceived()
	}
}

func (m Multi) TransactionDone(id pdu.CommandID, outcome string, d time.Duration) {
	for _, s := range m {
		s.TransactionDone(id, outcome, d)
	}
}

// Snapshot is a point-in-time copy of Counters.
type Snapshot struct {
	CreatedAt           time.Time
	LastReceivedPDUAt   time.Time
	LastSentPDUAt       time.Time
	LastReceivedElinkAt time.Time
	LastSentElinkAt     time.Time
	LastSeqNumAt        time.Time
	LastSeqNum          uint32
	ConnectedAt         time.Time
	BoundAt             time.Time
	DisconnectedAt      time.Time
	BindType            string
	ConnectedCount      int
	BoundCount          int
	DisconnectedCount   int
	Sent                map[pdu.CommandID]int
	Received            map[pdu.CommandID]int
	Outcomes            map[string]int
}

// Counters keeps connector statistics in memory. One Counters value may
// outlive several sessions of the same connector; counts accumulate.
type Counters struct {
	mu  sync.Mutex
	now func() time.Time
	s   Snapshot
}

func NewCounters() *Counters {
	c := &Counters{now: time.Now}
	c.s.CreatedAt = c.now()
	c.s.Sent = map[pdu.CommandID]int{}
	c.s.Received = map[pdu.CommandID]int{}
	c.s.Outcomes = map[string]int{}
	return c
}

func (c *Counters) Connected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.ConnectedAt = c.now()
	c.s.ConnectedCount++
}

func (c *Counters) Bound(bindType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.BoundAt = c.now()
	c.s.BindType = bindType
	c.s.BoundCount++
}

func (c *Counters) Disconnected() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.DisconnectedAt = c.now()
	c.s.BindType = ""
	c.s.DisconnectedCount++
}

func (c *Counters) PDUSent(id pdu.CommandID, seq uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.s.LastSentPDUAt = now
	c.s.Sent[id]++
	if !id.IsResponse() {
		c.s.LastSeqNum, c.s.LastSeqNumAt = seq, now
	}
}

func (c *Counters) PDUReceived(id pdu.CommandID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.LastReceivedPDUAt = c.now()
	c.s.Received[id]++
}

func (c *Counters) EnquireLinkSent() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.LastSentElinkAt = c.now()
}

func (c *Counters) EnquireLinkReceived() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.LastReceivedElinkAt = c.now()
}

func (c *Counters) TransactionDone(_ pdu.CommandID, outcome string, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.Outcomes[outcome]++
}

// Snapshot returns a copy safe to read without locking.
func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.s
	s.Sent = maps.Clone(c.s.Sent)
	s.Received = maps.Clone(c.s.Received)
	s.Outcomes = maps.Clone(c.s.Outcomes)
	return s
}
