package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/weftworks/loom/internal/session"
	loomerrors "github.com/weftworks/loom/pkg/errors"
)

// DefaultRedisKeyPrefix namespaces session keys in a shared database.
const DefaultRedisKeyPrefix = "loom:session:"

// RedisOptions configures the Redis-backed store.
type RedisOptions struct {
	// Client is the Redis client to use. Required.
	Client *redis.Client
	// KeyPrefix namespaces the session keys. Defaults to
	// DefaultRedisKeyPrefix.
	KeyPrefix string
	// TTL expires sessions after the given duration. Zero keeps them
	// forever; the TTL is refreshed on every save.
	TTL time.Duration
}

// Redis stores sessions as JSON values in a Redis database, with optional
// TTL-based expiry.
type Redis struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedis validates the options and returns the store.
func NewRedis(opts RedisOptions) (*Redis, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("redis store: client is required")
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &Redis{rdb: opts.Client, prefix: prefix, ttl: opts.TTL}, nil
}

func (r *Redis) keyFor(id string) string {
	return r.prefix + id
}

// Get loads a session by id.
func (r *Redis) Get(ctx context.Context, id string) (*session.Session, error) {
	data, err := r.rdb.Get(ctx, r.keyFor(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, loomerrors.NewSessionNotFoundError(id)
	}
	if err != nil {
		return nil, loomerrors.NewStoreError("get", id, err)
	}
	return decodeSession(id, data)
}

// Save writes the session, refreshing its TTL.
func (r *Redis) Save(ctx context.Context, s *session.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return loomerrors.NewStoreError("save", s.ID, err)
	}
	if err := r.rdb.Set(ctx, r.keyFor(s.ID), data, r.ttl).Err(); err != nil {
		return loomerrors.NewStoreError("save", s.ID, err)
	}
	return nil
}

// Delete removes the session key.
func (r *Redis) Delete(ctx context.Context, id string) error {
	removed, err := r.rdb.Del(ctx, r.keyFor(id)).Result()
	if err != nil {
		return loomerrors.NewStoreError("delete", id, err)
	}
	if removed == 0 {
		return loomerrors.NewSessionNotFoundError(id)
	}
	return nil
}

// List scans for session keys with the given id prefix.
func (r *Redis) List(ctx context.Context, prefix string) ([]string, error) {
	var (
		ids    []string
		cursor uint64
	)
	match := r.prefix + prefix + "*"
	for {
		keys, next, err := r.rdb.Scan(ctx, cursor, match, 128).Result()
		if err != nil {
			return nil, loomerrors.NewStoreError("list", match, err)
		}
		for _, key := range keys {
			ids = append(ids, strings.TrimPrefix(key, r.prefix))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	sort.Strings(ids)
	return ids, nil
}
