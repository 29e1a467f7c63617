package mno

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/thrillee/aegis-smpp/internal/pdu"
)

// Manager owns the carrier connectors and routes submissions to them.
type Manager struct {
	logger *slog.Logger

	mu         sync.RWMutex
	connectors map[string]Connector
	defaultID  string
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger, connectors: make(map[string]Connector)}
}

// Add registers c. The first connector added becomes the default route.
func (m *Manager) Add(c Connector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.connectors[c.ID()]; dup {
		return fmt.Errorf("mno: connector %q registered twice", c.ID())
	}
	m.connectors[c.ID()] = c
	if m.defaultID == "" {
		m.defaultID = c.ID()
	}
	return nil
}

// GetConnector returns the connector for id, or the default one when id
// is empty.
func (m *Manager) GetConnector(id string) (Connector, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id == "" {
		id = m.defaultID
	}
	c, ok := m.connectors[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConnector, id)
	}
	return c, nil
}

// Submit sends p through the connector id and returns the carrier
// message id.
func (m *Manager) Submit(ctx context.Context, connectorID, correlationID string, p pdu.PDU) (string, error) {
	c, err := m.GetConnector(connectorID)
	if err != nil {
		return "", err
	}
	res, err := c.Submit(ctx, correlationID, p)
	if err != nil {
		return "", err
	}
	return res.MessageID, nil
}

// Statuses reports every connector's status by id.
func (m *Manager) Statuses() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(m.connectors))
	for id, c := range m.connectors {
		out[id] = c.Status()
	}
	return out
}

// Run runs every connector until ctx ends.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.RLock()
	ids := slices.Sorted(maps.Keys(m.connectors))
	conns := make([]Connector, 0, len(ids))
	for _, id := range ids {
		conns = append(conns, m.connectors[id])
	}
	m.mu.RUnlock()

	m.logger.InfoContext(ctx, "Starting carrier connectors", slog.Any("connectors", ids))
	g, ctx := errgroup.WithContext(ctx)
	for _, c := range conns {
		g.Go(func() error { return c.Run(ctx) })
	}
	err := g.Wait()
	m.logger.Info("Carrier connectors stopped")
	return err
}
