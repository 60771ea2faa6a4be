package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBreakerStore keeps breaker state in Redis so a trip by one process
// stops the stampede from every other process. Keys:
//
//	<prefix>:<service>:open     set while the cool-down runs (TTL = cooldown)
//	<prefix>:<service>:tripped  outlives :open by the half-open window
//	<prefix>:<service>:probe    SET NX lock held by the half-open prober
type RedisBreakerStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisBreakerStore constructs a Redis-backed breaker store.
func NewRedisBreakerStore(client redis.Cmdable, prefix string) *RedisBreakerStore {
	if prefix == "" {
		prefix = "breaker"
	}
	return &RedisBreakerStore{client: client, prefix: prefix}
}

func (s *RedisBreakerStore) key(service, suffix string) string {
	return s.prefix + ":" + service + ":" + suffix
}

func (s *RedisBreakerStore) State(ctx context.Context, service string) (BreakerState, error) {
	if s.client == nil {
		return BreakerClosed, errors.New("redis breaker store: nil client")
	}
	vals, err := s.client.MGet(ctx, s.key(service, "open"), s.key(service, "tripped")).Result()
	if err != nil {
		return BreakerClosed, err
	}
	switch {
	case len(vals) > 0 && vals[0] != nil:
		return BreakerOpen, nil
	case len(vals) > 1 && vals[1] != nil:
		return BreakerHalfOpen, nil
	default:
		return BreakerClosed, nil
	}
}

func (s *RedisBreakerStore) Trip(ctx context.Context, service string, cooldown, halfOpenWindow time.Duration) error {
	if s.client == nil {
		return errors.New("redis breaker store: nil client")
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.key(service, "open"), string(BreakerOpen), cooldown)
		pipe.Set(ctx, s.key(service, "tripped"), "1", cooldown+halfOpenWindow)
		pipe.Del(ctx, s.key(service, "probe"))
		return nil
	})
	return err
}

func (s *RedisBreakerStore) AcquireProbe(ctx context.Context, service string, ttl time.Duration) (bool, error) {
	if s.client == nil {
		return false, errors.New("redis breaker store: nil client")
	}
	return s.client.SetNX(ctx, s.key(service, "probe"), "1", ttl).Result()
}

func (s *RedisBreakerStore) Reset(ctx context.Context, service string) error {
	if s.client == nil {
		return errors.New("redis breaker store: nil client")
	}
	return s.client.Del(ctx, s.key(service, "open"), s.key(service, "tripped"), s.key(service, "probe")).Err()
}
