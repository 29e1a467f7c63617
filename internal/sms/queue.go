package sms

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
)

// Source hands out queued envelopes and takes back their outcome.
type Source interface {
	// Fetch removes up to n envelopes from the queue.
	Fetch(ctx context.Context, n int) ([]Envelope, error)
	// Report records the outcome of a fetched envelope. An err wrapping
	// ErrRetry puts the envelope back on the queue.
	Report(ctx context.Context, env Envelope, err error) error
}

// Queue is a Source that also accepts new envelopes.
type Queue interface {
	Source
	Push(ctx context.Context, env Envelope) error
}

// Record is what a report stores in the done and failed lists.
type Record struct {
	Envelope   Envelope  `json:"envelope"`
	Status     string    `json:"status"`
	ErrorCode  string    `json:"error_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	ReportedAt time.Time `json:"reported_at"`
}

func newRecord(env Envelope, err error, now time.Time) Record {
	r := Record{Envelope: env, Status: StatusOf(err), ErrorCode: ErrorCode(err), ReportedAt: now}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// DefaultKeep is how many records the done and failed lists hold.
const DefaultKeep = 10000

// RedisQueue keeps envelopes in Redis lists:
//
//	<name>           pending envelopes
//	<name>:priority  pending envelopes with Priority > 0
//	<name>:done      records of sent envelopes
//	<name>:failed    records of expired, rejected and undecodable envelopes
type RedisQueue struct {
	client *redis.Client
	name   string
	keep   int64
	logger *slog.Logger
}

func NewRedisQueue(client *redis.Client, name string, logger *slog.Logger) *RedisQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisQueue{client: client, name: name, keep: DefaultKeep, logger: logger.With(slog.String("queue", name))}
}

func (q *RedisQueue) priorityKey() string { return q.name + ":priority" }
func (q *RedisQueue) DoneKey() string     { return q.name + ":done" }
func (q *RedisQueue) FailedKey() string   { return q.name + ":failed" }

func (q *RedisQueue) Push(ctx context.Context, env Envelope) error {
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	key := q.name
	if env.Priority > 0 {
		key = q.priorityKey()
	}
	if err := q.client.RPush(ctx, key, b).Err(); err != nil {
		return fmt.Errorf("sms: push %s: %w", env.CorrelationID, err)
	}
	return nil
}

// Fetch pops priority envelopes first. Entries that cannot be decoded are
// moved to the failed list.
func (q *RedisQueue) Fetch(ctx context.Context, n int) ([]Envelope, error) {
	var out []Envelope
	for _, key := range []string{q.priorityKey(), q.name} {
		if len(out) >= n {
			break
		}
		raw, err := q.pop(ctx, key, n-len(out))
		if err != nil {
			return out, err
		}
		for _, item := range raw {
			var env Envelope
			if err := json.Unmarshal([]byte(item), &env); err != nil {
				q.logger.ErrorContext(ctx, "Dropping undecodable envelope", slog.Any("error", err))
				q.client.RPush(ctx, q.FailedKey(), item)
				continue
			}
			out = append(out, env)
		}
	}
	return out, nil
}

// pop removes up to n items from the head of key in one transaction.
func (q *RedisQueue) pop(ctx context.Context, key string, n int) ([]string, error) {
	var rng *redis.StringSliceCmd
	_, err := q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		rng = p.LRange(ctx, key, 0, int64(n-1))
		p.LTrim(ctx, key, int64(n), -1)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("sms: fetch from %s: %w", key, err)
	}
	return rng.Val(), nil
}

func (q *RedisQueue) Report(ctx context.Context, env Envelope, err error) error {
	if errors.Is(err, ErrRetry) {
		env.Attempts++
		return q.Push(ctx, env)
	}
	b, merr := json.Marshal(newRecord(env, err, time.Now()))
	if merr != nil {
		return merr
	}
	key := q.DoneKey()
	if err != nil {
		key = q.FailedKey()
	}
	_, perr := q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, b)
		p.LTrim(ctx, key, -q.keep, -1)
		return nil
	})
	if perr != nil {
		return fmt.Errorf("sms: report %s: %w", env.CorrelationID, perr)
	}
	return nil
}

// Len returns the number of pending envelopes.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	var a, b *redis.IntCmd
	_, err := q.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		a = p.LLen(ctx, q.priorityKey())
		b = p.LLen(ctx, q.name)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return a.Val() + b.Val(), nil
}
