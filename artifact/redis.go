package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore stores blobs in Redis, suitable for sharing artifacts across
// hosts when no shared filesystem is available. Each blob lives in a hash
// with data, size and mtime fields.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisStoreConfig holds configuration for the Redis artifact store.
type RedisStoreConfig struct {
	Addr      string // Redis address (e.g. "localhost:6379")
	Password  string // Redis password
	DB        int    // Redis database number
	KeyPrefix string // key prefix for namespacing (default: "callcache:artifact:")
}

const defaultRedisPrefix = "callcache:artifact:"

// NewRedisStore creates a Redis-backed artifact store.
func NewRedisStore(cfg RedisStoreConfig) *RedisStore {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisStoreFromClient creates a Redis artifact store using an existing
// client.
func NewRedisStoreFromClient(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(checksum string) string {
	return s.prefix + checksum
}

// Put stores the content read from r under checksum. Existing blobs are
// left untouched.
func (s *RedisStore) Put(ctx context.Context, checksum string, r io.Reader) (Info, error) {
	if err := validateChecksum(checksum); err != nil {
		return Info{}, err
	}

	exists, err := s.client.Exists(ctx, s.key(checksum)).Result()
	if err != nil {
		return Info{}, fmt.Errorf("artifact: redis exists: %w", err)
	}
	if exists > 0 {
		return s.Stat(ctx, checksum)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return Info{}, fmt.Errorf("artifact: read content: %w", err)
	}
	if sum := ChecksumBytes(data); sum != checksum {
		return Info{}, fmt.Errorf("%w: got %s, want %s", ErrChecksumMismatch, sum, checksum)
	}

	now := time.Now().UTC()
	// Concurrent writers of the same checksum hold identical content, so
	// last-write-wins is safe.
	fields := map[string]any{
		"data":  data,
		"size":  strconv.FormatInt(int64(len(data)), 10),
		"mtime": now.Format(time.RFC3339Nano),
	}
	if err := s.client.HSet(ctx, s.key(checksum), fields).Err(); err != nil {
		return Info{}, fmt.Errorf("artifact: redis store: %w", err)
	}

	return Info{
		Checksum: checksum,
		Size:     int64(len(data)),
		ModTime:  now,
		URL:      s.url(checksum),
	}, nil
}

func (s *RedisStore) url(checksum string) string {
	return "redis://" + s.client.Options().Addr + "/" + s.key(checksum)
}

// Open returns a reader over the blob content.
func (s *RedisStore) Open(ctx context.Context, checksum string) (io.ReadCloser, error) {
	if err := validateChecksum(checksum); err != nil {
		return nil, err
	}
	data, err := s.client.HGet(ctx, s.key(checksum), "data").Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("artifact: redis read: %w", err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Stat returns metadata for a stored blob without fetching its content.
func (s *RedisStore) Stat(ctx context.Context, checksum string) (Info, error) {
	if err := validateChecksum(checksum); err != nil {
		return Info{}, err
	}
	vals, err := s.client.HMGet(ctx, s.key(checksum), "size", "mtime").Result()
	if err != nil {
		return Info{}, fmt.Errorf("artifact: redis stat: %w", err)
	}
	if vals[0] == nil {
		return Info{}, ErrNotFound
	}

	size, err := strconv.ParseInt(vals[0].(string), 10, 64)
	if err != nil {
		return Info{}, fmt.Errorf("artifact: corrupt size field: %w", err)
	}
	var mtime time.Time
	if vals[1] != nil {
		mtime, _ = time.Parse(time.RFC3339Nano, vals[1].(string))
	}

	return Info{
		Checksum: checksum,
		Size:     size,
		ModTime:  mtime,
		URL:      s.url(checksum),
	}, nil
}

// Delete removes a blob. Idempotent - no error on miss.
func (s *RedisStore) Delete(ctx context.Context, checksum string) error {
	if err := validateChecksum(checksum); err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.key(checksum)).Err(); err != nil {
		return fmt.Errorf("artifact: redis delete: %w", err)
	}
	return nil
}

// Ping verifies Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("artifact: redis unreachable: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)
