package testsupport

import (
	"context"
	"sync"
	"time"

	"github.com/kiranshivaraju/castkeeper/internal/cache"
)

// MemCache is an in-memory cache.Cache. TTLs are recorded but never expire
// on their own; tests advance state explicitly.
type MemCache struct {
	mu       sync.Mutex
	kv       map[string][]byte
	counters map[string]int64
	leases   map[string]string
	subs     map[string][]*memSub
	faults   map[string][]error

	Published []Published
}

type Published struct {
	Channel string
	Message string
}

var _ cache.Cache = (*MemCache)(nil)

func NewMemCache() *MemCache {
	return &MemCache{
		kv:       make(map[string][]byte),
		counters: make(map[string]int64),
		leases:   make(map[string]string),
		subs:     make(map[string][]*memSub),
		faults:   make(map[string][]error),
	}
}

// FailNext makes the next n calls of op return err.
func (c *MemCache) FailNext(op string, err error, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < n; i++ {
		c.faults[op] = append(c.faults[op], err)
	}
}

func (c *MemCache) fault(op string) error {
	q := c.faults[op]
	if len(q) == 0 {
		return nil
	}
	c.faults[op] = q[1:]
	return q[0]
}

func (c *MemCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fault("Set"); err != nil {
		return err
	}
	c.kv[key] = append([]byte(nil), value...)
	return nil
}

func (c *MemCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fault("Get"); err != nil {
		return nil, false, err
	}
	v, ok := c.kv[key]
	return v, ok, nil
}

func (c *MemCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.kv, key)
	return nil
}

func (c *MemCache) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fault("Ping")
}

func (c *MemCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fault("IncrWithExpiry"); err != nil {
		return 0, err
	}
	c.counters[key]++
	return c.counters[key], nil
}

func (c *MemCache) ReserveSpend(ctx context.Context, at time.Time, micros, dailyLimit, monthlyLimit int64) (cache.ReserveResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fault("ReserveSpend"); err != nil {
		return 0, err
	}
	day, month := cache.SpendDayKey(at), cache.SpendMonthKey(at)
	if c.counters[day]+micros > dailyLimit {
		return cache.DailyCeilingExceeded, nil
	}
	if c.counters[month]+micros > monthlyLimit {
		return cache.MonthlyCeilingExceeded, nil
	}
	c.counters[day] += micros
	c.counters[month] += micros
	return cache.Reserved, nil
}

func (c *MemCache) ReleaseSpend(ctx context.Context, at time.Time, micros int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fault("ReleaseSpend"); err != nil {
		return err
	}
	for _, k := range []string{cache.SpendDayKey(at), cache.SpendMonthKey(at)} {
		v, ok := c.counters[k]
		if !ok {
			continue
		}
		v -= micros
		if v < 0 {
			v = 0
		}
		c.counters[k] = v
	}
	return nil
}

func (c *MemCache) Spend(ctx context.Context, at time.Time) (int64, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fault("Spend"); err != nil {
		return 0, 0, err
	}
	return c.counters[cache.SpendDayKey(at)], c.counters[cache.SpendMonthKey(at)], nil
}

func (c *MemCache) AcquireLease(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fault("AcquireLease"); err != nil {
		return false, err
	}
	if _, held := c.leases[key]; held {
		return false, nil
	}
	c.leases[key] = owner
	return true, nil
}

func (c *MemCache) ReleaseLease(ctx context.Context, key, owner string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.leases[key] != owner {
		return false, nil
	}
	delete(c.leases, key)
	return true, nil
}

// LeaseHolder returns the current owner of key, or "".
func (c *MemCache) LeaseHolder(key string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leases[key]
}

func (c *MemCache) Publish(ctx context.Context, channel, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fault("Publish"); err != nil {
		return err
	}
	c.Published = append(c.Published, Published{Channel: channel, Message: message})
	for _, s := range c.subs[channel] {
		select {
		case s.ch <- message:
		default:
		}
	}
	return nil
}

func (c *MemCache) Subscribe(ctx context.Context, channel string) (cache.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.fault("Subscribe"); err != nil {
		return nil, err
	}
	s := &memSub{ch: make(chan string, 16), owner: c, channel: channel}
	c.subs[channel] = append(c.subs[channel], s)
	return s, nil
}

type memSub struct {
	ch      chan string
	owner   *MemCache
	channel string
	once    sync.Once
}

func (s *memSub) Messages() <-chan string { return s.ch }

func (s *memSub) Close() error {
	s.once.Do(func() {
		c := s.owner
		c.mu.Lock()
		defer c.mu.Unlock()
		subs := c.subs[s.channel]
		for i, x := range subs {
			if x == s {
				c.subs[s.channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(s.ch)
	})
	return nil
}
