package workers

import (
	"context"
	"log/slog"
	"sync"
)

// Manager orchestrates the background worker loops.
type Manager struct {
	logger *slog.Logger
	loops  []Loop
	wg     sync.WaitGroup
}

func NewManager(logger *slog.Logger, loops ...Loop) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger, loops: loops}
}

func (m *Manager) Add(l Loop) { m.loops = append(m.loops, l) }

// Run starts every loop and blocks until ctx ends and all loops returned.
func (m *Manager) Run(ctx context.Context) error {
	m.logger.InfoContext(ctx, "Starting workers", slog.Int("count", len(m.loops)))
	for _, l := range m.loops {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			l.Run(ctx, m.logger)
		}()
	}
	<-ctx.Done()
	m.wg.Wait()
	m.logger.Info("Workers stopped")
	return nil
}
