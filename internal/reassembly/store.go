package reassembly

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	KeyPrefix  = "concat:"
	DefaultTTL = 300 * time.Second
)

// Store holds the parts of messages being reassembled. Buffers outlive a
// connection so that parts arriving across reconnects still meet; a buffer
// that never completes is dropped by its expiry.
type Store interface {
	// Add stores part seq under key and refreshes the expiry. added is
	// false when seq was already stored; count is the number of parts held
	// after the call.
	Add(ctx context.Context, key string, seq int, part []byte) (added bool, count int, err error)
	// Take removes key and returns its parts by segment number. Only one
	// caller gets a non-empty result for a given buffer.
	Take(ctx context.Context, key string) (map[int][]byte, error)
}

// RedisStore keeps each buffer in a hash, one field per part.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Add(ctx context.Context, key string, seq int, part []byte) (bool, int, error) {
	var added *redis.BoolCmd
	var hlen *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		added = pipe.HSetNX(ctx, key, strconv.Itoa(seq), part)
		hlen = pipe.HLen(ctx, key)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return false, 0, fmt.Errorf("reassembly: store part: %w", err)
	}
	return added.Val(), int(hlen.Val()), nil
}

func (s *RedisStore) Take(ctx context.Context, key string) (map[int][]byte, error) {
	var all *redis.StringStringMapCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		all = pipe.HGetAll(ctx, key)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reassembly: load parts: %w", err)
	}
	parts := make(map[int][]byte, len(all.Val()))
	for field, v := range all.Val() {
		seq, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("reassembly: bad part field %q in %s", field, key)
		}
		parts[seq] = []byte(v)
	}
	return parts, nil
}

// MemoryStore is the in-process Store used when no Redis is configured.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	buffers map[string]*memoryBuffer
}

type memoryBuffer struct {
	parts   map[int][]byte
	expires time.Time
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{ttl: ttl, now: time.Now, buffers: make(map[string]*memoryBuffer)}
}

func (s *MemoryStore) Add(_ context.Context, key string, seq int, part []byte) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, b := range s.buffers {
		if now.After(b.expires) {
			delete(s.buffers, k)
		}
	}
	b, ok := s.buffers[key]
	if !ok {
		b = &memoryBuffer{parts: make(map[int][]byte)}
		s.buffers[key] = b
	}
	b.expires = now.Add(s.ttl)
	if _, dup := b.parts[seq]; dup {
		return false, len(b.parts), nil
	}
	b.parts[seq] = append([]byte(nil), part...)
	return true, len(b.parts), nil
}

func (s *MemoryStore) Take(_ context.Context, key string) (map[int][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buffers[key]
	if !ok {
		return nil, nil
	}
	delete(s.buffers, key)
	if s.now().After(b.expires) {
		return nil, nil
	}
	return b.parts, nil
}
