package cache

import (
	"errors"
)

// Fetch returns the value under key, running loadFn to produce and store it
// on a miss. Concurrent callers missing on the same key share one loadFn
// invocation, and exactly one set event fires for the stored result. The
// entry is written with the cache's default TTL. When loadFn fails, every
// waiting caller receives the error and nothing is cached.
func (c *Cache[K, V]) Fetch(key K, loadFn func() (V, error)) (V, error) {
	var zero V

	tok, err := c.encodeKey(key)
	if err != nil {
		return zero, err
	}

	val, err := c.getToken(tok)
	if err == nil {
		return val, nil
	}
	if !errors.Is(err, ErrKeyNotFound) {
		return zero, err
	}

	res, err, _ := c.flight.Do(string(tok), func() (any, error) {
		// A concurrent flight may have stored the value between our miss and
		// joining the group.
		if val, err := c.getToken(tok); err == nil {
			return val, nil
		}

		val, err := loadFn()
		if err != nil {
			return nil, err
		}
		if err := c.Set(key, val); err != nil {
			return nil, err
		}
		return val, nil
	})
	if err != nil {
		return zero, err
	}

	// A loader may legally produce a nil V when V is an interface type, in
	// which case res is a nil any.
	got, _ := res.(V)
	return got, nil
}
