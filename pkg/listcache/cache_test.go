package listcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/lakeview/pkg/inventory"
	"github.com/3leaps/lakeview/pkg/listing"
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func listingFor(scope listing.Scope, keys ...string) *listing.Listing {
	rows := make([]inventory.Row, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, inventory.Row{Key: scope.Prefix + k, Size: 1})
	}
	return listing.BuildSlice(scope, rows)
}

func countingCompute(counter *atomic.Int32, l *listing.Listing) ComputeFunc {
	return func(context.Context) (*listing.Listing, error) {
		counter.Add(1)
		return l, nil
	}
}

func TestNew(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, c.TTL())
	assert.Zero(t, c.Len())

	_, err = New(Config{TTL: -time.Second})
	assert.Error(t, err)

	_, err = New(Config{Capacity: -1})
	assert.Error(t, err)
}

func TestGetOrCompute_HitAfterMiss(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)

	scope := listing.MustResolve("a")
	want := listingFor(scope, "x.txt")

	var calls atomic.Int32
	got, err := c.GetOrCompute(context.Background(), scope, countingCompute(&calls, want))
	require.NoError(t, err)
	assert.Same(t, want, got)

	got, err = c.GetOrCompute(context.Background(), listing.MustResolve("/a/"), countingCompute(&calls, nil))
	require.NoError(t, err)
	assert.Same(t, want, got, "equivalent paths share a cache key")

	assert.Equal(t, int32(1), calls.Load())

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Computes)
	assert.Equal(t, 1, stats.Entries)
}

func TestGetOrCompute_SingleFlight(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)

	scope := listing.MustResolve("hot/path")
	want := listingFor(scope, "a", "b")

	var calls atomic.Int32
	release := make(chan struct{})
	compute := func(context.Context) (*listing.Listing, error) {
		calls.Add(1)
		<-release
		return want, nil
	}

	const workers = 32
	var (
		wg      sync.WaitGroup
		started sync.WaitGroup
		results = make([]*listing.Listing, workers)
		errs    = make([]error, workers)
	)
	started.Add(workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started.Done()
			results[i], errs[i] = c.GetOrCompute(context.Background(), scope, compute)
		}(i)
	}

	started.Wait()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, want, results[i])
	}
}

func TestGetOrCompute_TTLExpiry(t *testing.T) {
	clock := newFakeClock()
	c, err := New(Config{TTL: time.Hour, Clock: clock.Now})
	require.NoError(t, err)

	scope := listing.MustResolve("a")
	var calls atomic.Int32
	compute := countingCompute(&calls, listingFor(scope, "x"))

	_, err = c.GetOrCompute(context.Background(), scope, compute)
	require.NoError(t, err)

	clock.Advance(59 * time.Minute)
	_, err = c.GetOrCompute(context.Background(), scope, compute)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "fresh entry is a hit")

	clock.Advance(time.Minute)
	_, err = c.GetOrCompute(context.Background(), scope, compute)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load(), "entry at TTL is a miss")

	_, ok := c.Peek(scope)
	assert.True(t, ok)
	clock.Advance(2 * time.Hour)
	_, ok = c.Peek(scope)
	assert.False(t, ok)
}

func TestGetOrCompute_CapacityEvictsLRU(t *testing.T) {
	c, err := New(Config{Capacity: 2})
	require.NoError(t, err)

	a, b, d := listing.MustResolve("a"), listing.MustResolve("b"), listing.MustResolve("d")
	var calls atomic.Int32
	get := func(s listing.Scope) {
		t.Helper()
		_, err := c.GetOrCompute(context.Background(), s, countingCompute(&calls, listingFor(s, "f")))
		require.NoError(t, err)
	}

	get(a)
	get(b)
	get(a) // a becomes most recently used
	get(d) // evicts b

	assert.Equal(t, 2, c.Len())
	_, ok := c.Peek(a)
	assert.True(t, ok)
	_, ok = c.Peek(b)
	assert.False(t, ok)
	_, ok = c.Peek(d)
	assert.True(t, ok)

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestGetOrCompute_FailureNotCached(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)

	scope := listing.MustResolve("broken")
	cause := &inventory.QueryError{Op: "GetQueryExecution", Backend: inventory.BackendAthena, Err: inventory.ErrQueryThrottled}

	var calls atomic.Int32
	release := make(chan struct{})
	failing := func(context.Context) (*listing.Listing, error) {
		calls.Add(1)
		<-release
		return nil, cause
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.GetOrCompute(context.Background(), scope, failing)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, err := range errs {
		require.Error(t, err)
		assert.True(t, IsComputeFailed(err))
		assert.True(t, errors.Is(err, inventory.ErrQueryThrottled))

		var ce *ComputeError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, scope.Key(), ce.ScopeKey)
	}
	assert.Zero(t, c.Len())

	want := listingFor(scope, "ok")
	got, err := c.GetOrCompute(context.Background(), scope, countingCompute(&calls, want))
	require.NoError(t, err)
	assert.Same(t, want, got)
	assert.Equal(t, int32(2), calls.Load(), "failure was not cached")
	assert.Equal(t, uint64(1), c.Stats().ComputeFailures)
}

func TestGetOrCompute_NilListingIsFailure(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)

	_, err = c.GetOrCompute(context.Background(), listing.Root(), func(context.Context) (*listing.Listing, error) {
		return nil, nil
	})
	require.Error(t, err)
	assert.True(t, IsComputeFailed(err))
	assert.Zero(t, c.Len())
}

func TestGetOrCompute_WaiterCancellation(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)

	scope := listing.MustResolve("slow")
	want := listingFor(scope, "x")

	release := make(chan struct{})
	computeCtxErr := make(chan error, 1)
	compute := func(ctx context.Context) (*listing.Listing, error) {
		<-release
		computeCtxErr <- ctx.Err()
		return want, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.GetOrCompute(ctx, scope, compute)
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(release)
	assert.NoError(t, <-computeCtxErr, "compute is detached from the caller")

	require.Eventually(t, func() bool {
		_, ok := c.Peek(scope)
		return ok
	}, time.Second, 5*time.Millisecond)

	got, err := c.GetOrCompute(context.Background(), scope, func(context.Context) (*listing.Listing, error) {
		t.Fatal("unexpected compute")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Same(t, want, got)
}

func TestInvalidateAndPurge(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)

	a, b := listing.MustResolve("a"), listing.MustResolve("b")
	var calls atomic.Int32
	for _, s := range []listing.Scope{a, b} {
		_, err := c.GetOrCompute(context.Background(), s, countingCompute(&calls, listingFor(s, "f")))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, c.Len())

	c.Invalidate(a)
	assert.Equal(t, 1, c.Len())
	_, ok := c.Peek(a)
	assert.False(t, ok)

	_, err = c.GetOrCompute(context.Background(), a, countingCompute(&calls, listingFor(a, "f")))
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())

	c.Purge()
	assert.Zero(t, c.Len())
}

func TestInvalidate_DuringCompute(t *testing.T) {
	c, err := New(Config{})
	require.NoError(t, err)

	scope := listing.MustResolve("busy")
	first := listingFor(scope, "a")

	var calls, running, maxRunning atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	track := func(l *listing.Listing, block bool) ComputeFunc {
		return func(context.Context) (*listing.Listing, error) {
			calls.Add(1)
			n := running.Add(1)
			defer running.Add(-1)
			for {
				m := maxRunning.Load()
				if n <= m || maxRunning.CompareAndSwap(m, n) {
					break
				}
			}
			if block {
				close(entered)
				<-release
			}
			return l, nil
		}
	}

	var wg sync.WaitGroup
	results := make([]*listing.Listing, 2)
	errs := make([]error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = c.GetOrCompute(context.Background(), scope, track(first, true))
	}()
	<-entered

	c.Invalidate(scope)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = c.GetOrCompute(context.Background(), scope, track(listingFor(scope, "b"), false))
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), maxRunning.Load())
	assert.Same(t, first, results[0])
	assert.Same(t, first, results[1])

	got, ok := c.Peek(scope)
	require.True(t, ok)
	assert.Same(t, first, got.Listing)
	assert.Equal(t, uint64(1), c.Stats().Computes)
}

func TestComputeError(t *testing.T) {
	err := &ComputeError{ScopeKey: "/|a/", Err: errors.New("boom")}
	assert.Equal(t, `listing compute failed for "/|a/": boom`, err.Error())
	assert.True(t, errors.Is(err, ErrComputeFailed))
}
