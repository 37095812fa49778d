package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix  = "envoy:dialog:"
	lockPrefix = "envoy:dialog-lock:"

	lockTTL   = 30 * time.Second
	lockRetry = 50 * time.Millisecond
)

// RedisStore keeps state in Redis as JSON with a sliding expiry, so several
// responder processes can share it. Its Locker uses SET NX with a TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisStore connects using a redis:// URL and pings the server.
func NewRedisStore(ctx context.Context, url string, ttl time.Duration, logger *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client, ttl: ttl, logger: logger}, nil
}

func (r *RedisStore) Close() error { return r.client.Close() }

func (r *RedisStore) Get(ctx context.Context, userID string) (*DialogState, bool, error) {
	data, err := r.client.Get(ctx, keyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get state %s: %w", userID, err)
	}
	var s DialogState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, false, fmt.Errorf("decode state %s: %w", userID, err)
	}
	if s.CollectedData == nil {
		s.CollectedData = New(userID).CollectedData
	}
	return &s, true, nil
}

func (r *RedisStore) Put(ctx context.Context, s *DialogState) error {
	c := s.Clone()
	c.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode state %s: %w", s.UserID, err)
	}
	if err := r.client.Set(ctx, keyPrefix+s.UserID, data, r.ttl).Err(); err != nil {
		return fmt.Errorf("put state %s: %w", s.UserID, err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, keyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("delete state %s: %w", userID, err)
	}
	return nil
}

func (r *RedisStore) Len(ctx context.Context) (int, error) {
	var n int
	iter := r.client.Scan(ctx, 0, keyPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("scan states: %w", err)
	}
	return n, nil
}

// Lock polls SET NX until it wins or ctx is done. The token guards release
// so an expired lock taken over by another process is not deleted.
func (r *RedisStore) Lock(ctx context.Context, userID string) (func(), error) {
	key := lockPrefix + userID
	token := uuid.NewString()

	for {
		ok, err := r.client.SetNX(ctx, key, token, lockTTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", userID, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetry):
		}
	}

	return func() {
		// Release with a fresh context so a cancelled turn still unlocks.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
			r.logger.Warn("failed to release dialog lock", "user_id", userID, "error", err)
		}
	}, nil
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
