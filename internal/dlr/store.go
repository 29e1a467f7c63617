package dlr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	KeyPrefix  = "dlr:map:"
	DefaultTTL = 7 * 24 * time.Hour
)

// ErrNotFound is returned when no mapping exists or it has expired.
var ErrNotFound = errors.New("dlr: mapping not found")

// Store maps a carrier message id to the caller's correlation id. Entries
// expire; the store is not transactional.
type Store interface {
	Set(ctx context.Context, connectorID, carrierMsgID, correlationID string) error
	Get(ctx context.Context, connectorID, carrierMsgID string) (string, error)
}

func key(connectorID, carrierMsgID string) string {
	return KeyPrefix + connectorID + ":" + carrierMsgID
}

// RedisStore keeps mappings in Redis with a TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisStore(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{client: client, ttl: ttl, logger: logger}
}

func (s *RedisStore) Set(ctx context.Context, connectorID, carrierMsgID, correlationID string) error {
	err := s.client.Set(ctx, key(connectorID, carrierMsgID), correlationID, s.ttl).Err()
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to store DLR mapping",
			slog.String("connector_id", connectorID),
			slog.String("carrier_msg_id", carrierMsgID),
			slog.Any("error", err),
		)
		return fmt.Errorf("dlr: store mapping: %w", err)
	}
	s.logger.DebugContext(ctx, "DLR mapping stored",
		slog.String("carrier_msg_id", carrierMsgID),
		slog.String("correlation_id", correlationID),
	)
	return nil
}

func (s *RedisStore) Get(ctx context.Context, connectorID, carrierMsgID string) (string, error) {
	v, err := s.client.Get(ctx, key(connectorID, carrierMsgID)).Result()
	if errors.Is(err, redis.Nil) {
		s.logger.WarnContext(ctx, "DLR mapping not found", slog.String("carrier_msg_id", carrierMsgID))
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("dlr: load mapping: %w", err)
	}
	return v, nil
}

// MemoryStore is the in-process Store used when no Redis is configured.
// Mappings do not survive a restart.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value   string
	expires time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Set(_ context.Context, connectorID, carrierMsgID, correlationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, e := range s.entries {
		if now.After(e.expires) {
			delete(s.entries, k)
		}
	}
	s.entries[key(connectorID, carrierMsgID)] = memoryEntry{value: correlationID, expires: now.Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, connectorID, carrierMsgID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key(connectorID, carrierMsgID)]
	if !ok || s.now().After(e.expires) {
		return "", ErrNotFound
	}
	return e.value, nil
}
