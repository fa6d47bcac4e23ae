package cursor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned when no cursor was saved under the key
var ErrNotFound = errors.New("cursor not found")

// Cursor is the last block whose records were written by every sink
type Cursor struct {
	BlockNum  uint64
	BlockHash string
}

// String encodes the cursor as "<number>:<hash>"
func (c Cursor) String() string {
	return fmt.Sprintf("%d:%s", c.BlockNum, c.BlockHash)
}

// Parse decodes a cursor written by String
func Parse(s string) (Cursor, error) {
	num, hash, ok := strings.Cut(s, ":")
	if !ok {
		return Cursor{}, fmt.Errorf("invalid cursor %q", s)
	}
	n, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("invalid cursor block number %q: %w", num, err)
	}
	return Cursor{BlockNum: n, BlockHash: hash}, nil
}

// Store persists cursors by key
type Store interface {
	Load(ctx context.Context, key string) (Cursor, error)
	Save(ctx context.Context, key string, c Cursor) error
}

// MemoryStore keeps cursors in process memory
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Cursor
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]Cursor),
	}
}

// Load returns the cursor saved under key
func (s *MemoryStore) Load(ctx context.Context, key string) (Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.items[key]
	if !ok {
		return Cursor{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return c, nil
}

// Save stores the cursor under key
func (s *MemoryStore) Save(ctx context.Context, key string, c Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items[key] = c
	return nil
}

// RedisStore keeps cursors in Redis, without expiration
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore creates a store on top of an existing client
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// NewRedisStoreFromURL connects to Redis. Both redis:// URLs and plain host:port are accepted.
func NewRedisStoreFromURL(url string) (*RedisStore, *redis.Client, error) {
	var opts *redis.Options
	if strings.Contains(url, "://") {
		parsed, err := redis.ParseURL(url)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse redis url: %w", err)
		}
		opts = parsed
	} else {
		opts = &redis.Options{Addr: url}
	}
	client := redis.NewClient(opts)
	return NewRedisStore(client), client, nil
}

// Load returns the cursor saved under key
func (s *RedisStore) Load(ctx context.Context, key string) (Cursor, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return Cursor{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return Cursor{}, fmt.Errorf("failed to load cursor %s: %w", key, err)
	}
	return Parse(val)
}

// Save stores the cursor under key
func (s *RedisStore) Save(ctx context.Context, key string, c Cursor) error {
	if err := s.client.Set(ctx, key, c.String(), 0).Err(); err != nil {
		return fmt.Errorf("failed to save cursor %s: %w", key, err)
	}
	return nil
}
