package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
	mu  sync.Mutex
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(t *testing.T) (*Cache, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)}
	c := New(Config{
		Clock:        clock.Now,
		VolatileTTL:  30 * time.Second,
		ReferenceTTL: 10 * time.Minute,
	})
	t.Cleanup(c.Close)
	return c, clock
}

func TestCache(t *testing.T) {
	t.Run("basic operations", func(t *testing.T) {
		c, _ := newTestCache(t)

		_, found := c.Get("non-existent")
		assert.False(t, found)

		c.Set(TierVolatile, "key1", 42)
		v, found := c.Get("key1")
		assert.True(t, found)
		assert.Equal(t, 42, v)
		assert.Equal(t, 1, c.Len())

		c.Clear()
		assert.Equal(t, 0, c.Len())
		_, found = c.Get("key1")
		assert.False(t, found)
	})

	t.Run("tiers expire independently", func(t *testing.T) {
		c, clock := newTestCache(t)

		c.Set(TierVolatile, "wallets", "w")
		c.Set(TierReference, "categories", "c")

		clock.Advance(31 * time.Second)
		_, found := c.Get("wallets")
		assert.False(t, found)
		_, found = c.Get("categories")
		assert.True(t, found)

		clock.Advance(10 * time.Minute)
		_, found = c.Get("categories")
		assert.False(t, found)
	})

	t.Run("purge removes expired entries", func(t *testing.T) {
		c, clock := newTestCache(t)
		c.Set(TierVolatile, "a", 1)
		c.Set(TierReference, "b", 2)

		clock.Advance(time.Minute)
		c.purgeExpired()
		assert.Equal(t, 1, c.Len())
	})

	t.Run("invalidate prefix", func(t *testing.T) {
		c, _ := newTestCache(t)
		c.Set(TierVolatile, "transactions:w1:0:0", 1)
		c.Set(TierVolatile, "transactions:w2:0:0", 2)
		c.Set(TierVolatile, "history:w1:7", 3)
		c.Set(TierReference, "categories", 4)

		c.InvalidatePrefix("transactions:", "history:w1")
		assert.Equal(t, 1, c.Len())
		_, found := c.Get("categories")
		assert.True(t, found)
	})

	t.Run("close is idempotent", func(t *testing.T) {
		c, _ := newTestCache(t)
		c.Close()
		c.Close()
	})
}

func TestNilCache(t *testing.T) {
	var c *Cache
	c.Set(TierVolatile, "k", 1)
	_, found := c.Get("k")
	assert.False(t, found)
	c.Invalidate("k")
	c.InvalidatePrefix("k")
	c.Clear()
	c.Close()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, uint64(0), c.Generation())

	calls := 0
	for i := 0; i < 3; i++ {
		v, err := Load(c, TierVolatile, "k", nil, func() (int, error) {
			calls++
			return 7, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 7, v)
	}
	assert.Equal(t, 3, calls, "a nil cache must always load")
}

func TestDisabledCacheIsNil(t *testing.T) {
	assert.Nil(t, New(Config{Disabled: true}))
}

func TestLoad(t *testing.T) {
	t.Run("caches loaded value", func(t *testing.T) {
		c, _ := newTestCache(t)
		calls := 0
		load := func() (int, error) {
			calls++
			return 5, nil
		}

		for i := 0; i < 3; i++ {
			v, err := Load(c, TierVolatile, "k", nil, load)
			require.NoError(t, err)
			assert.Equal(t, 5, v)
		}
		assert.Equal(t, 1, calls)
	})

	t.Run("errors are not cached", func(t *testing.T) {
		c, _ := newTestCache(t)
		boom := errors.New("boom")

		_, err := Load(c, TierVolatile, "k", nil, func() (int, error) { return 0, boom })
		require.ErrorIs(t, err, boom)
		assert.Equal(t, 0, c.Len())
	})

	t.Run("type mismatch is a miss", func(t *testing.T) {
		c, _ := newTestCache(t)
		c.Set(TierVolatile, "k", "not an int")

		v, err := Load(c, TierVolatile, "k", nil, func() (int, error) { return 9, nil })
		require.NoError(t, err)
		assert.Equal(t, 9, v)

		cached, found := c.Get("k")
		require.True(t, found)
		assert.Equal(t, 9, cached)
	})

	t.Run("callers get copies", func(t *testing.T) {
		c, _ := newTestCache(t)
		clone := func(s []string) []string { return append([]string(nil), s...) }
		load := func() ([]string, error) { return []string{"a", "b"}, nil }

		first, err := Load(c, TierVolatile, "k", clone, load)
		require.NoError(t, err)
		first[0] = "mutated"

		second, err := Load(c, TierVolatile, "k", clone, load)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, second)
	})

	t.Run("load racing an invalidation is not cached", func(t *testing.T) {
		c, _ := newTestCache(t)

		v, err := Load(c, TierVolatile, "k", nil, func() (int, error) {
			// A mutation lands while the read is in flight.
			c.InvalidatePrefix("k")
			return 1, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, v)

		_, found := c.Get("k")
		assert.False(t, found)
	})

	t.Run("concurrent misses share one load", func(t *testing.T) {
		c, _ := newTestCache(t)
		var calls atomic.Int32
		release := make(chan struct{})

		var wg sync.WaitGroup
		results := make([]int, 10)
		for i := range results {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				v, err := Load(c, TierVolatile, "k", nil, func() (int, error) {
					calls.Add(1)
					<-release
					return 3, nil
				})
				assert.NoError(t, err)
				results[i] = v
			}(i)
		}

		time.Sleep(20 * time.Millisecond)
		close(release)
		wg.Wait()

		for _, v := range results {
			assert.Equal(t, 3, v)
		}
		assert.LessOrEqual(t, calls.Load(), int32(10))
		assert.GreaterOrEqual(t, calls.Load(), int32(1))
	})
}
