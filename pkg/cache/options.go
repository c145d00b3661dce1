package cache

import (
	"time"

	"go.uber.org/zap"
)

// Option customizes a Cache at construction time.
type Option[K comparable, V any] func(*Cache[K, V])

// WithKeyCodec replaces the default JSON key codec.
func WithKeyCodec[K comparable, V any](codec Codec[K]) Option[K, V] {
	return func(c *Cache[K, V]) {
		if codec != nil {
			c.keyCodec = codec
		}
	}
}

// WithValueCodec replaces the default JSON value codec.
func WithValueCodec[K comparable, V any](codec Codec[V]) Option[K, V] {
	return func(c *Cache[K, V]) {
		if codec != nil {
			c.valueCodec = codec
		}
	}
}

// WithLogger attaches a logger. The default is a no-op logger, so the cache
// stays silent unless a caller opts in.
func WithLogger[K comparable, V any](logger *zap.Logger) Option[K, V] {
	return func(c *Cache[K, V]) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the time source used for TTL arithmetic. Tests use it
// to step through expirations without sleeping.
func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(c *Cache[K, V]) {
		if now != nil {
			c.now = now
		}
	}
}
