package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/modelproof/xaibench/internal/model"
	"github.com/modelproof/xaibench/internal/resilience"
)

const redisKeyPrefix = "xaibench:explanation:"

// Redis is the shared cache backend for multi-instance deployments.
// Artifacts are stored as JSON with a TTL; hit counting uses a sibling
// counter key so the artifact itself stays immutable.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	retry  resilience.RetryConfig
	hits   atomic.Int64

	mu   sync.Mutex
	pins map[string]int
}

// NewRedis connects to the given address and verifies the connection.
func NewRedis(ctx context.Context, addr string, db int, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, eris.Wrap(err, "cache: redis ping")
	}
	return &Redis{
		client: client,
		ttl:    ttl,
		retry:  resilience.DefaultRetryConfig(),
		pins:   make(map[string]int),
	}, nil
}

func (r *Redis) Get(ctx context.Context, key string) (*model.Explanation, error) {
	var raw []byte
	err := resilience.Do(ctx, r.retry, func(ctx context.Context) error {
		b, err := r.client.Get(ctx, redisKeyPrefix+key).Bytes()
		if err != nil {
			return err
		}
		raw = b
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "cache: redis get")
	}

	var exp model.Explanation
	if jsonErr := json.Unmarshal(raw, &exp); jsonErr != nil {
		// Corruption is a miss, never an answer.
		zap.L().Warn("cache: corrupt redis artifact, treating as miss",
			zap.String("key", key), zap.Error(jsonErr))
		r.drop(ctx, key)
		return nil, nil
	}
	if vErr := validate(&exp); vErr != nil {
		zap.L().Warn("cache: invalid redis artifact, treating as miss",
			zap.String("key", key), zap.Error(vErr))
		r.drop(ctx, key)
		return nil, nil
	}

	hits, err := r.client.Incr(ctx, redisKeyPrefix+key+":hits").Result()
	if err == nil {
		exp.CacheHits = hits
	}
	r.hits.Add(1)
	return &exp, nil
}

func (r *Redis) Put(ctx context.Context, key string, exp *model.Explanation) error {
	if err := validate(exp); err != nil {
		return err
	}
	raw, err := json.Marshal(exp)
	if err != nil {
		return eris.Wrap(err, "cache: marshal artifact")
	}
	err = resilience.Do(ctx, r.retry, func(ctx context.Context) error {
		return r.client.Set(ctx, redisKeyPrefix+key, raw, r.ttl).Err()
	})
	return eris.Wrap(err, "cache: redis set")
}

// Pin extends the artifact's TTL while a job references it; Redis has no
// hard pinning, so pinned keys are refreshed instead of exempted.
func (r *Redis) Pin(key string) {
	r.mu.Lock()
	r.pins[key]++
	r.mu.Unlock()
	if r.ttl > 0 {
		r.client.Expire(context.Background(), redisKeyPrefix+key, r.ttl)
	}
}

func (r *Redis) Unpin(key string) {
	r.mu.Lock()
	if r.pins[key] > 1 {
		r.pins[key]--
	} else {
		delete(r.pins, key)
	}
	r.mu.Unlock()
}

func (r *Redis) Hits() int64 { return r.hits.Load() }

// Close releases the underlying connection pool.
func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) drop(ctx context.Context, key string) {
	if err := r.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		zap.L().Warn("cache: failed to drop corrupt artifact", zap.String("key", key), zap.Error(err))
	}
}

var _ Cache = (*Redis)(nil)
