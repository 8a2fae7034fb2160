// Package ratelimit implements fixed-window request budgets keyed by caller.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

type Limiter interface {
	// Allow counts one request for key and reports whether it fits in limit
	// requests per window.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
}

type window struct {
	start time.Time
	count int
}

// Memory is a process-local fixed-window limiter.
type Memory struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{windows: make(map[string]*window), now: time.Now}
}

func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) Allow(_ context.Context, key string, limit int, win time.Duration) (Decision, error) {
	if limit <= 0 || win <= 0 {
		return Decision{Allowed: true}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || now.Sub(w.start) >= win {
		if len(m.windows) > 1024 {
			m.sweep(now, win)
		}
		w = &window{start: now}
		m.windows[key] = w
	}

	if w.count >= limit {
		return Decision{RetryAfter: w.start.Add(win).Sub(now)}, nil
	}
	w.count++
	return Decision{Allowed: true}, nil
}

func (m *Memory) sweep(now time.Time, win time.Duration) {
	for k, w := range m.windows {
		if now.Sub(w.start) >= win {
			delete(m.windows, k)
		}
	}
}

// Redis shares budgets between instances through INCR/PEXPIRE counters.
type Redis struct {
	client *redis.Client
	prefix string
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, prefix: "opsdash:ratelimit:"}
}

func (r *Redis) Allow(ctx context.Context, key string, limit int, win time.Duration) (Decision, error) {
	if limit <= 0 || win <= 0 {
		return Decision{Allowed: true}, nil
	}

	k := r.prefix + key
	count, err := r.client.Incr(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit incr: %w", err)
	}
	if count == 1 {
		if err := r.client.PExpire(ctx, k, win).Err(); err != nil {
			return Decision{}, fmt.Errorf("rate limit expire: %w", err)
		}
	}
	if count <= int64(limit) {
		return Decision{Allowed: true}, nil
	}

	ttl, err := r.client.PTTL(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit ttl: %w", err)
	}
	if ttl < 0 {
		// Counter lost its expiry; restore it so the key cannot block forever.
		_ = r.client.PExpire(ctx, k, win).Err()
		ttl = win
	}
	return Decision{RetryAfter: ttl}, nil
}
