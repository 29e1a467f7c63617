package notification

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/thrillee/aegis-smpp/internal/logging"
	"github.com/thrillee/aegis-smpp/internal/workers"
	"github.com/thrillee/aegis-smpp/pkg/codes"
)

// StatusSource lists connector statuses by connector id. mno.Manager
// implements it.
type StatusSource interface {
	Statuses() map[string]string
}

// ConnectorWatcher notifies when a connector loses or regains its bind.
// Transitions between unbound states are not reported.
type ConnectorWatcher struct {
	source    StatusSource
	notifier  Notifier
	recipient string
	logger    *slog.Logger

	mu   sync.Mutex
	last map[string]string
}

func NewConnectorWatcher(source StatusSource, notifier Notifier, recipient string, logger *slog.Logger) *ConnectorWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnectorWatcher{
		source:    source,
		notifier:  notifier,
		recipient: recipient,
		logger:    logger,
		last:      make(map[string]string),
	}
}

// Check is a workers.WorkerFunc. It returns the number of notifications
// sent, or workers.ErrNoWork when nothing changed.
func (w *ConnectorWatcher) Check(ctx context.Context, _ int) (int, error) {
	current := w.source.Statuses()

	w.mu.Lock()
	var changes [][3]string
	for _, id := range slices.Sorted(maps.Keys(current)) {
		status := current[id]
		prev, seen := w.last[id]
		w.last[id] = status
		if !seen {
			// The first observation only sets the baseline.
			continue
		}
		if (prev == codes.StatusBound) != (status == codes.StatusBound) {
			changes = append(changes, [3]string{id, prev, status})
		}
	}
	w.mu.Unlock()

	if len(changes) == 0 {
		return 0, workers.ErrNoWork
	}
	sent := 0
	for _, c := range changes {
		id, prev, status := c[0], c[1], c[2]
		subject := fmt.Sprintf("Connector %s is down", id)
		if status == codes.StatusBound {
			subject = fmt.Sprintf("Connector %s is bound again", id)
		}
		body := fmt.Sprintf("Connector %s changed from %s to %s.", id, prev, status)
		if err := w.notifier.Send(logging.ContextWithConnectorID(ctx, id), w.recipient, subject, body); err != nil {
			w.logger.ErrorContext(ctx, "Failed to send notification", slog.String("connector_id", id), slog.Any("error", err))
			continue
		}
		sent++
	}
	return sent, nil
}

// Loop runs Check every interval.
func (w *ConnectorWatcher) Loop(interval time.Duration) workers.Loop {
	return workers.Loop{Name: "connector-watch", Interval: interval, Work: w.Check}
}
