// Package cache implements an in-memory key/value store with per-entry TTL,
// a background expiration sweeper and lifecycle notifications. Keys and
// values are held in canonical token form, so any encodable shape can serve
// as either, and equality between keys is structural.
package cache

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// Fallbacks applied when the constructor receives non-positive durations.
	fallbackTTL           = 5 * time.Minute
	fallbackSweepInterval = 30 * time.Second
)

// entry is one stored record. Key and value both live in canonical token
// form. Entries are immutable once stored: an overwrite installs a new
// entry, which lets reads release the lock before decoding.
type entry struct {
	keyToken   Token
	valueToken Token
	createdAt  time.Time
	expiresAt  time.Time
}

// expired reports whether the entry's TTL elapsed. An expired entry is
// logically absent even while the sweeper has not reclaimed it yet.
func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.After(now)
}

// Cache is a thread-safe in-memory TTL cache. K and V travel through the
// configured codecs, so both can be composite shapes; two keys that encode
// to the same token are the same key. Every Cache owns one sweeper
// goroutine, started by New and stopped by Close.
type Cache[K comparable, V any] struct {
	mu    sync.RWMutex
	store map[Token]*entry

	ttl        time.Duration
	sweepEvery time.Duration

	keyCodec   Codec[K]
	valueCodec Codec[V]

	events *notifier[K, V]
	logger *zap.Logger
	now    func() time.Time

	flight singleflight.Group

	sweeperStop chan struct{}
	sweeperWg   sync.WaitGroup
	closed      bool
}

// New builds a cache and starts its expiration sweeper. defaultTTL applies
// to writes that do not carry their own TTL; sweepInterval is the pause
// between sweep passes. Non-positive durations fall back to 5m and 30s.
func New[K comparable, V any](defaultTTL, sweepInterval time.Duration, opts ...Option[K, V]) *Cache[K, V] {
	if defaultTTL <= 0 {
		defaultTTL = fallbackTTL
	}
	if sweepInterval <= 0 {
		sweepInterval = fallbackSweepInterval
	}

	c := &Cache[K, V]{
		store:       make(map[Token]*entry),
		ttl:         defaultTTL,
		sweepEvery:  sweepInterval,
		keyCodec:    JSONCodec[K]{},
		valueCodec:  JSONCodec[V]{},
		events:      newNotifier[K, V](),
		logger:      zap.NewNop(),
		now:         time.Now,
		sweeperStop: make(chan struct{}),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	c.sweeperWg.Add(1)
	go c.sweep()

	c.logger.Debug("cache created",
		zap.Duration("default_ttl", c.ttl),
		zap.Duration("sweep_interval", c.sweepEvery))

	return c
}

// Close stops the sweeper and rejects further writes. It is idempotent and
// blocks until the sweeper goroutine has exited. Reads keep working on the
// frozen contents.
func (c *Cache[K, V]) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.sweeperStop)
	c.sweeperWg.Wait()

	c.logger.Debug("cache closed")
	return nil
}

// Get returns the value stored under key. Absent and expired keys both fail
// with ErrKeyNotFound, and reading never refreshes a TTL. The returned value
// is a fresh decoded copy that does not alias the store.
func (c *Cache[K, V]) Get(key K) (V, error) {
	var zero V

	tok, err := c.encodeKey(key)
	if err != nil {
		return zero, err
	}
	return c.getToken(tok)
}

// Exists reports whether Get would succeed for key. It never fails: a key
// the codec rejects simply does not exist.
func (c *Cache[K, V]) Exists(key K) bool {
	tok, err := c.encodeKey(key)
	if err != nil {
		return false
	}

	c.mu.RLock()
	ent, ok := c.store[tok]
	c.mu.RUnlock()

	return ok && !ent.expired(c.now())
}

// ExpiresAt returns the absolute expiry time of a live entry. Absent and
// expired keys fail with ErrKeyNotFound.
func (c *Cache[K, V]) ExpiresAt(key K) (time.Time, error) {
	tok, err := c.encodeKey(key)
	if err != nil {
		return time.Time{}, err
	}

	c.mu.RLock()
	ent, ok := c.store[tok]
	c.mu.RUnlock()

	if !ok || ent.expired(c.now()) {
		return time.Time{}, ErrKeyNotFound
	}
	return ent.expiresAt, nil
}

// Set stores value under key with the cache's default TTL, overwriting any
// existing entry, and emits a set event.
func (c *Cache[K, V]) Set(key K, value V) error {
	return c.SetTTL(key, value, c.ttl)
}

// SetTTL stores value under key, expiring ttl from now. A non-positive ttl
// stores an entry that is already expired: invisible to every read and
// reclaimed, with an expired event, by the next sweep.
func (c *Cache[K, V]) SetTTL(key K, value V, ttl time.Duration) error {
	keyTok, err := c.encodeKey(key)
	if err != nil {
		return err
	}
	valTok, err := c.encodeValue(value)
	if err != nil {
		return err
	}

	now := c.now()
	ent := &entry{
		keyToken:   keyTok,
		valueToken: valTok,
		createdAt:  now,
		expiresAt:  now.Add(ttl),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.store[keyTok] = ent
	c.mu.Unlock()

	c.publish(EventSet, ent)
	return nil
}

// Del removes key if present and emits a del event carrying the removed
// pair. Deleting an absent key is a no-op: nil error, no event.
func (c *Cache[K, V]) Del(key K) error {
	tok, err := c.encodeKey(key)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	ent, ok := c.store[tok]
	if ok {
		delete(c.store, tok)
	}
	c.mu.Unlock()

	if ok {
		c.publish(EventDel, ent)
	}
	return nil
}

// MDel removes every key in keys with Del semantics. Keys are independent:
// one that fails to encode does not stop the rest, and the failures come
// back joined into a single error.
func (c *Cache[K, V]) MDel(keys ...K) error {
	var errs []error
	for _, key := range keys {
		if err := c.Del(key); err != nil {
			errs = append(errs, fmt.Errorf("del %v: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// MGet returns the live entries among keys as a key to value map. Absent and
// expired keys are silently omitted, so a partial result is not an error,
// unlike Get. Codec failures are collected per key and joined; they never
// abort the remaining keys.
func (c *Cache[K, V]) MGet(keys ...K) (map[K]V, error) {
	out := make(map[K]V, len(keys))
	var errs []error

	now := c.now()
	for _, key := range keys {
		tok, err := c.keyCodec.Encode(key)
		if err != nil {
			errs = append(errs, fmt.Errorf("mget %v: %w", key, encodeErr("key", err)))
			continue
		}

		c.mu.RLock()
		ent, ok := c.store[tok]
		c.mu.RUnlock()

		if !ok || ent.expired(now) {
			continue
		}

		val, err := c.valueCodec.Decode(ent.valueToken)
		if err != nil {
			errs = append(errs, fmt.Errorf("mget %v: %w", key, decodeErr("value", err)))
			continue
		}
		out[key] = val
	}

	return out, errors.Join(errs...)
}

// Keys returns the decoded keys of every live entry, ordered by canonical
// token so two calls over the same contents agree. Keys whose tokens no
// longer decode are skipped and reported in the joined error.
func (c *Cache[K, V]) Keys() ([]K, error) {
	now := c.now()

	c.mu.RLock()
	toks := make([]Token, 0, len(c.store))
	for tok, ent := range c.store {
		if !ent.expired(now) {
			toks = append(toks, tok)
		}
	}
	c.mu.RUnlock()

	sort.Slice(toks, func(i, j int) bool { return toks[i] < toks[j] })

	keys := make([]K, 0, len(toks))
	var errs []error
	for _, tok := range toks {
		key, err := c.keyCodec.Decode(tok)
		if err != nil {
			errs = append(errs, decodeErr("key", err))
			continue
		}
		keys = append(keys, key)
	}

	return keys, errors.Join(errs...)
}

// List returns a decoded snapshot of every live entry. It is the bulk read
// over the whole store, with the same partial-result contract as MGet.
func (c *Cache[K, V]) List() (map[K]V, error) {
	now := c.now()

	c.mu.RLock()
	live := make([]*entry, 0, len(c.store))
	for _, ent := range c.store {
		if !ent.expired(now) {
			live = append(live, ent)
		}
	}
	c.mu.RUnlock()

	out := make(map[K]V, len(live))
	var errs []error
	for _, ent := range live {
		key, err := c.keyCodec.Decode(ent.keyToken)
		if err != nil {
			errs = append(errs, decodeErr("key", err))
			continue
		}
		val, err := c.valueCodec.Decode(ent.valueToken)
		if err != nil {
			errs = append(errs, decodeErr("value", err))
			continue
		}
		out[key] = val
	}

	return out, errors.Join(errs...)
}

// Flush atomically discards every entry, live or expired, and emits exactly
// one flush event regardless of the prior size.
func (c *Cache[K, V]) Flush() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	n := len(c.store)
	c.store = make(map[Token]*entry)
	c.mu.Unlock()

	c.logger.Debug("cache flushed", zap.Int("entries", n))
	c.events.emit(Event[K, V]{Kind: EventFlush})
	return nil
}

// Len counts physically resident entries. The count may include expired
// entries the sweeper has not reclaimed yet; Keys reports only live ones.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// Subscribe registers fn for one event kind and returns a handle for
// Unsubscribe. Handlers for a kind run in registration order.
func (c *Cache[K, V]) Subscribe(kind EventKind, fn Handler[K, V]) Subscription {
	return c.events.subscribe(kind, fn)
}

// Unsubscribe removes a previously registered handler and reports whether
// the subscription was still active.
func (c *Cache[K, V]) Unsubscribe(sub Subscription) bool {
	return c.events.unsubscribe(sub)
}

func (c *Cache[K, V]) encodeKey(key K) (Token, error) {
	tok, err := c.keyCodec.Encode(key)
	if err != nil {
		return "", encodeErr("key", err)
	}
	return tok, nil
}

func (c *Cache[K, V]) encodeValue(value V) (Token, error) {
	tok, err := c.valueCodec.Encode(value)
	if err != nil {
		return "", encodeErr("value", err)
	}
	return tok, nil
}

func (c *Cache[K, V]) getToken(tok Token) (V, error) {
	var zero V

	c.mu.RLock()
	ent, ok := c.store[tok]
	c.mu.RUnlock()

	if !ok || ent.expired(c.now()) {
		return zero, ErrKeyNotFound
	}

	val, err := c.valueCodec.Decode(ent.valueToken)
	if err != nil {
		return zero, decodeErr("value", err)
	}
	return val, nil
}

// publish decodes an entry back into caller-facing form and emits it. A
// stored token that no longer decodes is an internal fault: it turns into an
// error event while the triggering operation still succeeds.
func (c *Cache[K, V]) publish(kind EventKind, ent *entry) {
	key, err := c.keyCodec.Decode(ent.keyToken)
	if err != nil {
		c.fault(decodeErr("key", err))
		return
	}
	val, err := c.valueCodec.Decode(ent.valueToken)
	if err != nil {
		c.fault(decodeErr("value", err))
		return
	}
	c.events.emit(Event[K, V]{Kind: kind, Key: key, Value: val})
}

// fault reports an internal fault on the event channel. Background work has
// no caller to hand an error to, so the event stream is the only witness.
func (c *Cache[K, V]) fault(err error) {
	c.logger.Warn("cache internal fault", zap.Error(err))
	c.events.emit(Event[K, V]{Kind: EventError, Err: err})
}
