package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dayCounterTTL   = 48 * time.Hour
	monthCounterTTL = 35 * 24 * time.Hour
)

// ReserveResult is the outcome of a spend reservation.
type ReserveResult int

const (
	Reserved ReserveResult = iota
	DailyCeilingExceeded
	MonthlyCeilingExceeded
)

func (r ReserveResult) String() string {
	switch r {
	case Reserved:
		return "reserved"
	case DailyCeilingExceeded:
		return "daily ceiling exceeded"
	case MonthlyCeilingExceeded:
		return "monthly ceiling exceeded"
	default:
		return "unknown"
	}
}

// Cache is the Redis-backed interface for counters, leases and notifications.
// Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)

	// ReserveSpend atomically adds micros to the day and month counters for at
	// unless either would exceed its limit.
	ReserveSpend(ctx context.Context, at time.Time, micros, dailyLimit, monthlyLimit int64) (ReserveResult, error)
	// ReleaseSpend returns a reservation made at the given time.
	ReleaseSpend(ctx context.Context, at time.Time, micros int64) error
	Spend(ctx context.Context, at time.Time) (daily, monthly int64, err error)

	AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	ReleaseLease(ctx context.Context, key, owner string) (bool, error)

	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription delivers pub/sub payloads until closed.
type Subscription interface {
	Messages() <-chan string
	Close() error
}

// RedisCache implements the Cache interface using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// --- Spend counters ---

func (c *RedisCache) ReserveSpend(ctx context.Context, at time.Time, micros, dailyLimit, monthlyLimit int64) (ReserveResult, error) {
	code, err := reserveScript.Run(ctx, c.client,
		[]string{SpendDayKey(at), SpendMonthKey(at)},
		micros, dailyLimit, monthlyLimit,
		int64(dayCounterTTL/time.Second), int64(monthCounterTTL/time.Second),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("reserve spend: %w", err)
	}
	return ReserveResult(code), nil
}

func (c *RedisCache) ReleaseSpend(ctx context.Context, at time.Time, micros int64) error {
	if micros <= 0 {
		return nil
	}
	err := releaseScript.Run(ctx, c.client, []string{SpendDayKey(at), SpendMonthKey(at)}, micros).Err()
	if err != nil {
		return fmt.Errorf("release spend: %w", err)
	}
	return nil
}

func (c *RedisCache) Spend(ctx context.Context, at time.Time) (int64, int64, error) {
	vals, err := c.client.MGet(ctx, SpendDayKey(at), SpendMonthKey(at)).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("read spend: %w", err)
	}
	var out [2]int64
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("parse spend counter: %w", err)
		}
		out[i] = n
	}
	return out[0], out[1], nil
}

// --- Leases ---

func (c *RedisCache) AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	return ok, nil
}

func (c *RedisCache) ReleaseLease(ctx context.Context, key, owner string) (bool, error) {
	n, err := releaseLeaseScript.Run(ctx, c.client, []string{key}, owner).Int()
	if err != nil {
		return false, fmt.Errorf("release lease: %w", err)
	}
	return n == 1, nil
}

// --- Pub/sub ---

func (c *RedisCache) Publish(ctx context.Context, channel, message string) error {
	return c.client.Publish(ctx, channel, message).Err()
}

func (c *RedisCache) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := c.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	sub := &redisSubscription{ps: ps, out: make(chan string, 16)}
	go sub.forward()
	return sub, nil
}

type redisSubscription struct {
	ps  *redis.PubSub
	out chan string
}

func (s *redisSubscription) forward() {
	defer close(s.out)
	for msg := range s.ps.Channel() {
		select {
		case s.out <- msg.Payload:
		default:
		}
	}
}

func (s *redisSubscription) Messages() <-chan string { return s.out }

func (s *redisSubscription) Close() error { return s.ps.Close() }
