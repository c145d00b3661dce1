// Package metrics exposes a cache's lifecycle as Prometheus collectors. The
// adapter is fed entirely by the cache's event stream plus a Len-backed
// gauge, so it adds no locking of its own to the cache hot path.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bitradius/memcache-helper/pkg/cache"
)

// Metrics holds the collectors for one observed cache.
type Metrics struct {
	Sets        prometheus.Counter
	Expirations prometheus.Counter
	Deletes     prometheus.Counter
	Flushes     prometheus.Counter
	Faults      prometheus.Counter
	Entries     prometheus.GaugeFunc

	reg    prometheus.Registerer
	detach func()
}

// Observe registers collectors for c on reg and subscribes them to the
// cache's events. A nil reg falls back to the default registerer. namespace
// prefixes every metric name, so one registry can carry several caches.
func Observe[K comparable, V any](c *cache.Cache[K, V], reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		reg: reg,
		Sets: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "sets_total",
			Help:      "Total number of successful writes.",
		}),
		Expirations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "expirations_total",
			Help:      "Total number of entries reclaimed by the sweeper.",
		}),
		Deletes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "deletes_total",
			Help:      "Total number of explicit deletions.",
		}),
		Flushes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "flushes_total",
			Help:      "Total number of full flushes.",
		}),
		Faults: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "faults_total",
			Help:      "Total number of internal faults reported on the error event.",
		}),
		Entries: factory.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Entries physically resident in the store, expired included.",
		}, func() float64 {
			return float64(c.Len())
		}),
	}

	subs := []cache.Subscription{
		c.Subscribe(cache.EventSet, func(cache.Event[K, V]) { m.Sets.Inc() }),
		c.Subscribe(cache.EventExpired, func(cache.Event[K, V]) { m.Expirations.Inc() }),
		c.Subscribe(cache.EventDel, func(cache.Event[K, V]) { m.Deletes.Inc() }),
		c.Subscribe(cache.EventFlush, func(cache.Event[K, V]) { m.Flushes.Inc() }),
		c.Subscribe(cache.EventError, func(cache.Event[K, V]) { m.Faults.Inc() }),
	}
	m.detach = func() {
		for _, sub := range subs {
			c.Unsubscribe(sub)
		}
	}

	return m
}

// Unregister detaches the event subscriptions and removes the collectors
// from the registerer. Use it when a cache is torn down before the process
// exits; otherwise the Entries gauge keeps reading a dead cache.
func (m *Metrics) Unregister() {
	m.detach()
	for _, col := range []prometheus.Collector{
		m.Sets, m.Expirations, m.Deletes, m.Flushes, m.Faults, m.Entries,
	} {
		m.reg.Unregister(col)
	}
}
