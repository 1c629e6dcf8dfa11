// Package cache provides a time-based cache around a single remote fetch.
//
// Concurrent Get calls that find the value expired collapse into one fetch;
// every caller joined to that fetch receives its result or its error.
package cache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"k8s.io/utils/clock"

	"boardbot/internal/metrics"
)

// FetchFunc loads a fresh value. prev is the last successfully fetched value
// (the zero value before the first success).
type FetchFunc[T any] func(ctx context.Context, prev T) (T, error)

type Option func(*options)

type options struct {
	clock clock.PassiveClock
	name  string
}

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c clock.PassiveClock) Option {
	return func(o *options) { o.clock = c }
}

// WithName labels the cache in metrics.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// Cache holds one value of type T. A ttl <= 0 means every Get fetches
// (unless it joins a fetch already in flight).
type Cache[T any] struct {
	fetch FetchFunc[T]
	ttl   time.Duration
	clock clock.PassiveClock
	name  string

	sf singleflight.Group

	mu     sync.RWMutex
	data   T
	last   time.Time
	loaded bool
	// gen changes on Invalidate; fetches started under an older gen don't store.
	gen uint64
}

func New[T any](fetch FetchFunc[T], ttl time.Duration, opts ...Option) *Cache[T] {
	o := options{clock: clock.RealClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[T]{fetch: fetch, ttl: ttl, clock: o.clock, name: o.name}
}

// Expired reports whether the next Get would need a fetch.
func (c *Cache[T]) Expired() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expiredLocked()
}

func (c *Cache[T]) expiredLocked() bool {
	return !c.loaded || c.clock.Since(c.last) >= c.ttl
}

// Invalidate forces the next Get to fetch. The last value is still handed to fetch as prev.
// A fetch already in flight still answers its callers but is not stored.
func (c *Cache[T]) Invalidate() {
	c.mu.Lock()
	c.loaded = false
	c.gen++
	c.mu.Unlock()
}

// Get returns the cached value, fetching it first when expired.
//
// A fetch runs detached from the caller's cancellation so other joined
// callers still get the result; ctx only bounds how long this caller waits.
// A failed fetch leaves the previous value untouched and the next Get retries.
func (c *Cache[T]) Get(ctx context.Context) (T, error) {
	c.mu.RLock()
	if !c.expiredLocked() {
		v := c.data
		c.mu.RUnlock()
		return v, nil
	}
	gen := c.gen
	c.mu.RUnlock()

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.sf.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
		c.mu.RLock()
		prev, fresh := c.data, !c.expiredLocked()
		c.mu.RUnlock()
		// Another fetch completed between the expiry check and joining.
		if fresh {
			return prev, nil
		}

		v, err := c.fetch(fetchCtx, prev)
		if c.name != "" {
			metrics.IncCacheFetch(c.name, err == nil)
		}
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.gen == gen {
			c.data, c.last, c.loaded = v, c.clock.Now(), true
		}
		c.mu.Unlock()
		return v, nil
	})

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			var zero T
			return zero, res.Err
		}
		// A nil interface T arrives as a nil any; comma-ok yields the zero value.
		v, _ := res.Val.(T)
		return v, nil
	}
}
