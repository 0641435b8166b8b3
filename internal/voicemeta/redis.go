package voicemeta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps every record as a JSON value in one Redis hash
// (<prefix>:voices), keyed by voice id. A record is written with a single
// HSET, so readers never observe a partial record.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithPrefix sets the key prefix for Redis keys. Default is "ttsgateway".
func WithPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewRedisStore creates a Redis-backed store on top of client.
//
// Example:
//
//	store := voicemeta.NewRedisStore(
//	    redis.NewClient(&redis.Options{Addr: "localhost:6379"}),
//	    voicemeta.WithPrefix("tts"),
//	)
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, prefix: "ttsgateway"}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *RedisStore) voicesKey() string  { return s.prefix + ":voices" }
func (s *RedisStore) versionKey() string { return s.prefix + ":version" }

// Load returns every record.
func (s *RedisStore) Load(ctx context.Context) (map[string]Record, error) {
	raw, err := s.client.HGetAll(ctx, s.voicesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("voicemeta redis: load: %w", err)
	}
	out := make(map[string]Record, len(raw))
	for id, val := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(val), &rec); err != nil {
			return nil, fmt.Errorf("voicemeta redis: decode %q: %w", id, err)
		}
		out[id] = rec
	}
	return out, nil
}

// Get returns the record for id.
func (s *RedisStore) Get(ctx context.Context, id string) (Record, error) {
	val, err := s.client.HGet(ctx, s.voicesKey(), id).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("voicemeta redis: get: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(val, &rec); err != nil {
		return Record{}, fmt.Errorf("voicemeta redis: decode %q: %w", id, err)
	}
	return rec, nil
}

// Put inserts or replaces the record for rec.ID and sets the schema version
// marker on first write. Both commands go out in one pipeline.
func (s *RedisStore) Put(ctx context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("voicemeta redis: encode: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.SetNX(ctx, s.versionKey(), SchemaVersion, 0)
	pipe.HSet(ctx, s.voicesKey(), rec.ID, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("voicemeta redis: put %q: %w", rec.ID, err)
	}
	return nil
}

// Delete removes the record for id.
func (s *RedisStore) Delete(ctx context.Context, id string) (bool, error) {
	n, err := s.client.HDel(ctx, s.voicesKey(), id).Result()
	if err != nil {
		return false, fmt.Errorf("voicemeta redis: delete %q: %w", id, err)
	}
	return n > 0, nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
