// Package listcache memoizes directory listings per scope.
//
// Entries expire after a fixed TTL and the cache holds at most Capacity
// entries, evicting the least recently used. Concurrent misses for the same
// scope share a single compute.
package listcache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/3leaps/lakeview/pkg/listing"
)

const (
	// DefaultTTL is how long a listing stays valid.
	DefaultTTL = 24 * time.Hour

	// DefaultCapacity is the maximum number of cached listings.
	DefaultCapacity = 500
)

// ErrComputeFailed indicates the listing for a scope could not be computed.
var ErrComputeFailed = errors.New("listing compute failed")

// ComputeError is returned to every waiter of a failed compute.
type ComputeError struct {
	ScopeKey string
	Err      error
}

// Error implements the error interface.
func (e *ComputeError) Error() string {
	return fmt.Sprintf("%s for %q: %v", ErrComputeFailed, e.ScopeKey, e.Err)
}

// Unwrap exposes both ErrComputeFailed and the underlying cause.
func (e *ComputeError) Unwrap() []error {
	return []error{ErrComputeFailed, e.Err}
}

// IsComputeFailed returns true if the error came from a failed compute.
func IsComputeFailed(err error) bool {
	return errors.Is(err, ErrComputeFailed)
}

// ComputeFunc produces the listing for a scope on a cache miss.
type ComputeFunc func(ctx context.Context) (*listing.Listing, error)

// Config configures a Cache.
type Config struct {
	// TTL is the entry lifetime. Zero uses DefaultTTL.
	TTL time.Duration

	// Capacity is the maximum entry count. Zero uses DefaultCapacity.
	Capacity int

	// Clock overrides time.Now for expiry checks.
	Clock func() time.Time
}

// Entry is a cached listing.
type Entry struct {
	Listing   *listing.Listing
	CreatedAt time.Time
	ScopeKey  string
}

// Stats are cumulative cache counters.
type Stats struct {
	Hits            uint64 `json:"hits"`
	Misses          uint64 `json:"misses"`
	Computes        uint64 `json:"computes"`
	ComputeFailures uint64 `json:"compute_failures"`

	// Evictions counts entries removed for any reason: capacity, expiry,
	// or invalidation.
	Evictions uint64 `json:"evictions"`

	Entries int `json:"entries"`
}

// Cache is safe for concurrent use.
type Cache struct {
	lru   *expirable.LRU[string, *Entry]
	group singleflight.Group
	ttl   time.Duration
	now   func() time.Time

	hits      atomic.Uint64
	misses    atomic.Uint64
	computes  atomic.Uint64
	failures  atomic.Uint64
	evictions atomic.Uint64
}

// New creates a cache.
func New(cfg Config) (*Cache, error) {
	if cfg.TTL < 0 {
		return nil, fmt.Errorf("listcache: ttl must be >= 0, got %s", cfg.TTL)
	}
	if cfg.Capacity < 0 {
		return nil, fmt.Errorf("listcache: capacity must be >= 0, got %d", cfg.Capacity)
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	c := &Cache{ttl: cfg.TTL, now: cfg.Clock}
	c.lru = expirable.NewLRU[string, *Entry](cfg.Capacity, func(string, *Entry) {
		c.evictions.Add(1)
	}, cfg.TTL)
	return c, nil
}

// GetOrCompute returns the cached listing for scope, computing it on a miss.
//
// At most one compute runs per scope at a time; concurrent callers wait for
// it and share its result. The compute runs detached from the caller's
// cancellation, so a caller whose ctx ends gets ctx.Err() while the flight
// continues for the others. A failed compute is not cached and every waiter
// receives a *ComputeError.
func (c *Cache) GetOrCompute(ctx context.Context, scope listing.Scope, compute ComputeFunc) (*listing.Listing, error) {
	key := scope.Key()

	if e, ok := c.lookup(key); ok {
		c.hits.Add(1)
		return e.Listing, nil
	}
	c.misses.Add(1)

	ch := c.group.DoChan(key, func() (any, error) {
		// A flight that finished after our lookup may have filled the slot.
		if e, ok := c.lookup(key); ok {
			return e.Listing, nil
		}

		c.computes.Add(1)
		l, err := compute(context.WithoutCancel(ctx))
		if err == nil && l == nil {
			err = errors.New("compute returned no listing")
		}
		if err != nil {
			c.failures.Add(1)
			return nil, &ComputeError{ScopeKey: key, Err: err}
		}

		c.lru.Add(key, &Entry{Listing: l, CreatedAt: c.now(), ScopeKey: key})
		return l, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*listing.Listing), nil
	}
}

// Peek returns the cached entry for scope without updating recency or stats.
func (c *Cache) Peek(scope listing.Scope) (Entry, bool) {
	e, ok := c.lru.Peek(scope.Key())
	if !ok || c.expired(e) {
		return Entry{}, false
	}
	return *e, true
}

// Invalidate drops the entry for scope. A compute already in flight for the
// scope is kept: callers arriving after Invalidate join it rather than
// starting a second query, so a key never has more than one compute running.
func (c *Cache) Invalidate(scope listing.Scope) {
	c.lru.Remove(scope.Key())
}

// Purge drops every entry.
func (c *Cache) Purge() {
	c.lru.Purge()
}

// Len returns the number of cached entries, including any expired entries
// not yet reclaimed.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:            c.hits.Load(),
		Misses:          c.misses.Load(),
		Computes:        c.computes.Load(),
		ComputeFailures: c.failures.Load(),
		Evictions:       c.evictions.Load(),
		Entries:         c.lru.Len(),
	}
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func (c *Cache) lookup(key string) (*Entry, bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if c.expired(e) {
		c.lru.Remove(key)
		return nil, false
	}
	return e, true
}

func (c *Cache) expired(e *Entry) bool {
	return c.now().Sub(e.CreatedAt) >= c.ttl
}
