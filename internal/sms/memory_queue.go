package sms

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryQueue is a Queue for single-process use.
type MemoryQueue struct {
	mu       sync.Mutex
	priority []Envelope
	pending  []Envelope
	done     []Record
	failed   []Record
	keep     int
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{keep: DefaultKeep}
}

func (q *MemoryQueue) Push(_ context.Context, env Envelope) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if env.Priority > 0 {
		q.priority = append(q.priority, env)
	} else {
		q.pending = append(q.pending, env)
	}
	return nil
}

func (q *MemoryQueue) Fetch(_ context.Context, n int) ([]Envelope, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []Envelope
	take := func(list *[]Envelope) {
		k := min(n-len(out), len(*list))
		out = append(out, (*list)[:k]...)
		*list = (*list)[k:]
	}
	take(&q.priority)
	take(&q.pending)
	return out, nil
}

func (q *MemoryQueue) Report(ctx context.Context, env Envelope, err error) error {
	if errors.Is(err, ErrRetry) {
		env.Attempts++
		return q.Push(ctx, env)
	}
	rec := newRecord(env, err, time.Now())
	q.mu.Lock()
	defer q.mu.Unlock()
	list := &q.done
	if err != nil {
		list = &q.failed
	}
	*list = append(*list, rec)
	if len(*list) > q.keep {
		*list = (*list)[len(*list)-q.keep:]
	}
	return nil
}

// Len returns the number of pending envelopes.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.priority) + len(q.pending)
}

// Done and Failed return copies of the report lists.
func (q *MemoryQueue) Done() []Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Record(nil), q.done...)
}

func (q *MemoryQueue) Failed() []Record {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Record(nil), q.failed...)
}
