package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces session keys in a shared Redis.
const DefaultRedisPrefix = "interpay:grant:"

// redisPutScript stores a session and indexes it atomically.
// KEYS[1] = session key, KEYS[2] = index sorted set
// ARGV[1] = JSON payload, ARGV[2] = created-at score, ARGV[3] = session key
var redisPutScript = redis.NewScript(`
local existed = redis.call("EXISTS", KEYS[1])
redis.call("SET", KEYS[1], ARGV[1])
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[3])
return existed
`)

// RedisSessionStore keeps sessions in Redis so pending approvals survive a
// restart without a SQL database. Each session is a JSON string under
// <prefix><key>; a sorted set <prefix>index orders them by creation time.
type RedisSessionStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisSessionStore creates a Redis-backed session store. An empty
// prefix uses DefaultRedisPrefix.
func NewRedisSessionStore(client redis.UniversalClient, prefix string) *RedisSessionStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisSessionStore{client: client, prefix: prefix}
}

func (r *RedisSessionStore) key(k string) string { return r.prefix + k }
func (r *RedisSessionStore) index() string       { return r.prefix + "index" }

func (r *RedisSessionStore) Put(ctx context.Context, s *Session) (bool, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return false, fmt.Errorf("marshal session: %w", err)
	}
	existed, err := redisPutScript.Run(ctx, r.client,
		[]string{r.key(s.Key), r.index()},
		payload, s.CreatedAt.UnixMilli(), s.Key,
	).Int()
	if err != nil {
		return false, fmt.Errorf("redis put session: %w", err)
	}
	return existed == 1, nil
}

func (r *RedisSessionStore) Get(ctx context.Context, key string) (*Session, error) {
	payload, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get session: %w", err)
	}
	return decodeSession(payload)
}

func (r *RedisSessionStore) Delete(ctx context.Context, key string) error {
	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, r.key(key))
		pipe.ZRem(ctx, r.index(), key)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete session: %w", err)
	}
	if del.Val() == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (r *RedisSessionStore) List(ctx context.Context) ([]*Session, error) {
	keys, err := r.client.ZRange(ctx, r.index(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list sessions: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	values, err := r.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list sessions: %w", err)
	}

	result := make([]*Session, 0, len(values))
	var stale []any
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			// Payload gone but index entry left behind.
			stale = append(stale, keys[i])
			continue
		}
		s, err := decodeSession([]byte(str))
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	if len(stale) > 0 {
		_ = r.client.ZRem(ctx, r.index(), stale...).Err()
	}
	return result, nil
}

// Ping checks connectivity, used by readiness probes.
func (r *RedisSessionStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
