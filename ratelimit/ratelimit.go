/*
ratelimit.go - Throttling for door scans

PURPOSE:
  A scanner that hammers the validation endpoint with guessed codes is
  slowed down per caller. Two implementations share one interface:
  Memory for a single process, Redis when several servers sit behind a
  balancer and must share counters.

SEE ALSO:
  - api/handlers.go: POST /api/scan consults a Limiter before validating
*/
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter decides whether one more attempt under key is allowed now.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// =============================================================================
// IN-PROCESS
// =============================================================================

// Memory keeps one token bucket per key.
type Memory struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	idle    time.Duration
	buckets map[string]*bucket
	sweeps  int
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewMemory allows perSecond attempts per key with the given burst.
func NewMemory(perSecond float64, burst int) *Memory {
	return &Memory{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idle:    10 * time.Minute,
		buckets: make(map[string]*bucket),
	}
}

// Allow implements Limiter. It never returns an error.
func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(m.limit, m.burst)}
		m.buckets[key] = b
	}
	b.lastSeen = now

	m.sweeps++
	if m.sweeps%256 == 0 {
		m.evictIdle(now)
	}
	return b.lim.AllowN(now, 1), nil
}

func (m *Memory) evictIdle(now time.Time) {
	for k, b := range m.buckets {
		if now.Sub(b.lastSeen) > m.idle {
			delete(m.buckets, k)
		}
	}
}

// =============================================================================
// REDIS
// =============================================================================

// Redis counts attempts per key in fixed windows shared by every server.
type Redis struct {
	client    *redis.Client
	limit     int64
	window    time.Duration
	keyPrefix string
}

// NewRedis allows limit attempts per key in each window.
func NewRedis(client *redis.Client, limit int, window time.Duration) *Redis {
	return &Redis{
		client:    client,
		limit:     int64(limit),
		window:    window,
		keyPrefix: "tickets:scan:",
	}
}

// Allow implements Limiter.
func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	slot := time.Now().UnixNano() / int64(r.window)
	k := fmt.Sprintf("%s%s:%d", r.keyPrefix, key, slot)

	var incr *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.Expire(ctx, k, r.window)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to count scan attempt: %w", err)
	}
	return incr.Val() <= r.limit, nil
}

// WindowLimit converts a per-second rate and burst into a count per window.
func WindowLimit(perSecond float64, burst int, window time.Duration) int {
	return burst + int(perSecond*window.Seconds())
}
