package cache

import (
	"time"

	"go.uber.org/zap"
)

// sweep is the active expiration loop: idle between ticks, scan on tick,
// until Close. Reads treat expired entries as absent already; the sweeper is
// what reclaims the memory of entries nobody touches again.
func (c *Cache[K, V]) sweep() {
	defer c.sweeperWg.Done()

	ticker := time.NewTicker(c.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-c.sweeperStop:
			return
		case <-ticker.C:
			c.sweepOnce()
		}
	}
}

// sweepOnce removes every entry whose TTL elapsed and then notifies
// listeners. Removal happens in one critical section, notification after the
// lock is released, so a slow handler cannot stall readers or writers. The
// sweeper is the only code path that evicts on expiry, which keeps the
// expired event at exactly one per entry.
func (c *Cache[K, V]) sweepOnce() {
	now := c.now()

	c.mu.Lock()
	var evicted []*entry
	for tok, ent := range c.store {
		if ent.expired(now) {
			delete(c.store, tok)
			evicted = append(evicted, ent)
		}
	}
	remaining := len(c.store)
	c.mu.Unlock()

	if len(evicted) == 0 {
		return
	}

	c.logger.Debug("sweep pass finished",
		zap.Int("evicted", len(evicted)),
		zap.Int("remaining", remaining))

	for _, ent := range evicted {
		c.publish(EventExpired, ent)
	}
}
