package cache

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is a manually advanced time source for deterministic TTL tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// newTestCache builds a string cache with a sweep interval long enough that
// the background sweeper never interferes with a deterministic test.
func newTestCache(t *testing.T, opts ...Option[string, string]) *Cache[string, string] {
	t.Helper()
	c := New[string, string](time.Minute, time.Hour, opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// TestCacheSetGet tests the basic write and read path.
func TestCacheSetGet(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.Set("alpha", "one"))

	got, err := c.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, "one", got)

	_, err = c.Get("missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

// TestCacheDefaultTTL tests that Set applies the constructor TTL.
func TestCacheDefaultTTL(t *testing.T) {
	clk := newFakeClock()
	c := New[string, string](time.Minute, time.Hour, WithClock[string, string](clk.Now))
	defer c.Close()

	require.NoError(t, c.Set("alpha", "one"))

	exp, err := c.ExpiresAt("alpha")
	require.NoError(t, err)
	assert.True(t, exp.Equal(clk.Now().Add(time.Minute)))
	assert.True(t, exp.After(clk.Now()))
}

// TestCacheExpiredEntryInvisible tests that an entry past its TTL behaves as
// absent for every read even before the sweeper removes it.
func TestCacheExpiredEntryInvisible(t *testing.T) {
	clk := newFakeClock()
	c := newTestCache(t, WithClock[string, string](clk.Now))

	require.NoError(t, c.SetTTL("alpha", "one", 10*time.Second))
	assert.True(t, c.Exists("alpha"))

	clk.Advance(10 * time.Second)

	_, err := c.Get("alpha")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.False(t, c.Exists("alpha"))

	_, err = c.ExpiresAt("alpha")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	keys, err := c.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)

	// Physically still resident until a sweep pass runs.
	assert.Equal(t, 1, c.Len())
}

// TestCacheSetTTLNonPositive tests that a zero or negative TTL stores an
// entry that is born expired: invisible to reads, reclaimed with an expired
// event by the next sweep.
func TestCacheSetTTLNonPositive(t *testing.T) {
	clk := newFakeClock()
	c := newTestCache(t, WithClock[string, string](clk.Now))

	var expired int
	c.Subscribe(EventExpired, func(Event[string, string]) { expired++ })

	require.NoError(t, c.SetTTL("zero", "v", 0))
	require.NoError(t, c.SetTTL("negative", "v", -time.Second))

	assert.False(t, c.Exists("zero"))
	assert.False(t, c.Exists("negative"))
	assert.Equal(t, 2, c.Len())

	c.sweepOnce()
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 2, expired)
}

// TestCacheOverwrite tests that writing an existing key replaces both the
// value and the expiry.
func TestCacheOverwrite(t *testing.T) {
	clk := newFakeClock()
	c := newTestCache(t, WithClock[string, string](clk.Now))

	require.NoError(t, c.SetTTL("alpha", "v1", 10*time.Second))
	clk.Advance(5 * time.Second)
	require.NoError(t, c.SetTTL("alpha", "v2", 10*time.Second))

	// Past the first deadline but inside the second.
	clk.Advance(7 * time.Second)

	got, err := c.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, "v2", got)
}

// TestCacheDelete tests removal of present and absent keys.
func TestCacheDelete(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.Set("alpha", "one"))
	require.NoError(t, c.Del("alpha"))

	_, err := c.Get("alpha")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	_, err = c.ExpiresAt("alpha")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	// Deleting a key that was never there is not an error.
	assert.NoError(t, c.Del("alpha"))
}

// TestCacheMDel tests bulk deletion with a mix of present and absent keys.
func TestCacheMDel(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.Set("a", "1"))
	require.NoError(t, c.Set("b", "2"))
	require.NoError(t, c.Set("c", "3"))

	require.NoError(t, c.MDel("a", "b", "ghost"))

	assert.False(t, c.Exists("a"))
	assert.False(t, c.Exists("b"))
	assert.True(t, c.Exists("c"))
}

// TestCacheMGetPartial tests that bulk reads omit misses instead of failing,
// unlike Get.
func TestCacheMGetPartial(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.Set("a", "1"))
	require.NoError(t, c.Set("b", "2"))

	got, err := c.MGet("a", "b", "ghost")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, got)

	_, err = c.Get("ghost")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

// TestCacheKeysSorted tests that enumeration order is stable across calls
// and independent of insertion order.
func TestCacheKeysSorted(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.Set("pear", "1"))
	require.NoError(t, c.Set("apple", "2"))
	require.NoError(t, c.Set("plum", "3"))

	first, err := c.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"apple", "pear", "plum"}, first)

	second, err := c.Keys()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

// TestCacheList tests the full decoded snapshot, skipping expired entries.
func TestCacheList(t *testing.T) {
	clk := newFakeClock()
	c := newTestCache(t, WithClock[string, string](clk.Now))

	require.NoError(t, c.SetTTL("short", "gone", 5*time.Second))
	require.NoError(t, c.SetTTL("a", "1", time.Hour))
	require.NoError(t, c.SetTTL("b", "2", time.Hour))

	clk.Advance(10 * time.Second)

	got, err := c.List()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, got)
}

// pickyCodec passes tokens through but refuses to decode any token carrying
// the "bad:" prefix, leaving some stored entries readable and others not.
type pickyCodec struct{}

func (pickyCodec) Encode(s string) (Token, error) { return Token(s), nil }

func (pickyCodec) Decode(tok Token) (string, error) {
	if strings.HasPrefix(string(tok), "bad:") {
		return "", errors.New("unreadable token")
	}
	return string(tok), nil
}

// TestCacheKeysPartialDecode tests that enumeration skips stored keys the
// codec can no longer read and reports them without dropping the rest.
func TestCacheKeysPartialDecode(t *testing.T) {
	c := New[string, string](time.Minute, time.Hour,
		WithKeyCodec[string, string](pickyCodec{}))
	defer c.Close()

	require.NoError(t, c.Set("ok-a", "1"))
	require.NoError(t, c.Set("ok-b", "2"))
	require.NoError(t, c.Set("bad:x", "3"))

	keys, err := c.Keys()
	assert.Equal(t, []string{"ok-a", "ok-b"}, keys)

	require.Error(t, err)
	var cerr *CodecError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "decode", cerr.Op)
	assert.Equal(t, "key", cerr.What)
}

// TestCacheListPartialDecode tests the snapshot's partial-success contract:
// undecodable entries are reported, surviving entries still come back.
func TestCacheListPartialDecode(t *testing.T) {
	c := New[string, string](time.Minute, time.Hour,
		WithKeyCodec[string, string](pickyCodec{}))
	defer c.Close()

	require.NoError(t, c.Set("ok-a", "1"))
	require.NoError(t, c.Set("bad:x", "2"))

	got, err := c.List()
	assert.Equal(t, map[string]string{"ok-a": "1"}, got)

	var cerr *CodecError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "key", cerr.What)
}

// TestCacheMGetPartialDecode tests that a value decode failure is reported
// per key and does not abort the remaining keys.
func TestCacheMGetPartialDecode(t *testing.T) {
	c := New[string, string](time.Minute, time.Hour,
		WithValueCodec[string, string](pickyCodec{}))
	defer c.Close()

	require.NoError(t, c.Set("a", "fine"))
	require.NoError(t, c.Set("b", "bad:broken"))

	got, err := c.MGet("a", "b", "ghost")
	assert.Equal(t, map[string]string{"a": "fine"}, got)

	require.Error(t, err)
	var cerr *CodecError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "decode", cerr.Op)
	assert.Equal(t, "value", cerr.What)
	assert.Contains(t, err.Error(), "mget b")
}

// TestCacheFlush tests that Flush discards everything at once.
func TestCacheFlush(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.Set("a", "1"))
	require.NoError(t, c.Set("b", "2"))

	require.NoError(t, c.Flush())

	assert.Equal(t, 0, c.Len())
	_, err := c.Get("a")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

// TestCacheClose tests shutdown semantics: idempotent, writes rejected,
// reads still served from the frozen contents.
func TestCacheClose(t *testing.T) {
	c := New[string, string](time.Minute, time.Hour)

	require.NoError(t, c.Set("alpha", "one"))
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	assert.ErrorIs(t, c.Set("beta", "two"), ErrClosed)
	assert.ErrorIs(t, c.Del("alpha"), ErrClosed)
	assert.ErrorIs(t, c.Flush(), ErrClosed)

	got, err := c.Get("alpha")
	require.NoError(t, err)
	assert.Equal(t, "one", got)
}

// TestCacheCloseStopsSweeper tests that no expired events are delivered once
// Close has returned, even when an entry expires afterwards.
func TestCacheCloseStopsSweeper(t *testing.T) {
	c := New[string, string](time.Minute, 50*time.Millisecond)

	var expired atomic.Int64
	c.Subscribe(EventExpired, func(Event[string, string]) { expired.Add(1) })

	// Still live at Close time; its TTL elapses during the wait below.
	require.NoError(t, c.SetTTL("doomed", "v", 150*time.Millisecond))
	require.NoError(t, c.Close())

	// Several sweep ticks would have fired by now.
	time.Sleep(500 * time.Millisecond)

	assert.EqualValues(t, 0, expired.Load())
	assert.Equal(t, 1, c.Len())
	assert.False(t, c.Exists("doomed"))
}

type point struct {
	X int
	Y int
}

// TestCacheStructuralKeys tests that two distinct pointers with equal
// pointees address the same entry.
func TestCacheStructuralKeys(t *testing.T) {
	c := New[*point, string](time.Minute, time.Hour)
	defer c.Close()

	a := &point{X: 1, Y: 2}
	b := &point{X: 1, Y: 2}
	other := &point{X: 3, Y: 4}

	require.NoError(t, c.Set(a, "first"))

	got, err := c.Get(b)
	require.NoError(t, err)
	assert.Equal(t, "first", got)

	_, err = c.Get(other)
	assert.ErrorIs(t, err, ErrKeyNotFound)

	// Overwriting through the second pointer stays a single entry.
	require.NoError(t, c.Set(b, "second"))
	assert.Equal(t, 1, c.Len())
}

// TestCacheCompositeValues tests storing and restoring a nested value shape
// through the default codec.
func TestCacheCompositeValues(t *testing.T) {
	type payload struct {
		Name   string
		Scores []int
		Tags   map[string]string
	}

	c := New[string, payload](time.Minute, time.Hour)
	defer c.Close()

	in := payload{
		Name:   "doc",
		Scores: []int{3, 1, 2},
		Tags:   map[string]string{"env": "test", "tier": "gold"},
	}
	require.NoError(t, c.Set("p", in))

	out, err := c.Get("p")
	require.NoError(t, err)
	assert.Equal(t, in, out)

	// The returned copy does not alias the stored one.
	out.Tags["env"] = "mutated"
	again, err := c.Get("p")
	require.NoError(t, err)
	assert.Equal(t, "test", again.Tags["env"])
}

// TestCacheConcurrentAccess tests the store under a parallel mixed workload.
func TestCacheConcurrentAccess(t *testing.T) {
	c := newTestCache(t)

	const goroutines = 100
	const opsPerGoroutine = 20

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(id int) {
			defer wg.Done()
			for i := 0; i < opsPerGoroutine; i++ {
				key := fmt.Sprintf("key-%d-%d", id, i)
				if err := c.Set(key, "value"); err != nil {
					t.Errorf("set %s: %v", key, err)
					return
				}
				if _, err := c.Get(key); err != nil {
					t.Errorf("get %s: %v", key, err)
					return
				}
				if i%3 == 0 {
					if err := c.Del(key); err != nil {
						t.Errorf("del %s: %v", key, err)
						return
					}
				}
			}
		}(g)
	}
	wg.Wait()

	keys, err := c.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, c.Len())
}

// TestCacheSweeperEvictsExpired tests the background sweeper end to end with
// real timers.
func TestCacheSweeperEvictsExpired(t *testing.T) {
	c := New[string, string](30*time.Millisecond, 20*time.Millisecond)
	defer c.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, c.Set(fmt.Sprintf("key-%d", i), "value"))
	}
	require.Equal(t, 5, c.Len())

	assert.Eventually(t, func() bool { return c.Len() == 0 },
		2*time.Second, 10*time.Millisecond, "sweeper should reclaim expired entries")
}

// TestCacheSweepOncePhysicalRemoval tests a single sweep pass against a
// stepped clock.
func TestCacheSweepOncePhysicalRemoval(t *testing.T) {
	clk := newFakeClock()
	c := newTestCache(t, WithClock[string, string](clk.Now))

	require.NoError(t, c.SetTTL("stale", "v", 10*time.Second))
	require.NoError(t, c.SetTTL("fresh", "v", time.Hour))

	clk.Advance(30 * time.Second)
	c.sweepOnce()

	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Exists("fresh"))
}
