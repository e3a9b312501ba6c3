// Package bucketcache implements a two-level, bounded in-memory cache of
// serialized buckets: a bounded top-level mapping from Metric to a
// per-metric concurrent map of bucket number to serialized payload, with
// affinity eviction driven by processing ticks. Each cache instance is
// fixed to one window.Duration; a roll-up chain wires up one instance per
// level rather than sharing a single cache across every window width.
package bucketcache

import (
	"math"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/kloudmate/windowcore/internal/metric"
	"github.com/kloudmate/windowcore/internal/window"
)

// Config carries the cache's enumerated options.
type Config struct {
	Enabled      bool
	IsEnabledFor func(metric.Type) bool
	MaxMetrics   int64
	MaxStore     int64
}

// byteCache is the shared core behind both the histogram and counter
// top-level caches. Its unit of occupancy accounting is the serialized
// byte payload, per the data model: a nil/zero-length slice encodes the
// EmptyBucket sentinel.
//
// Each byteCache instance serves exactly one window.Duration: it caches
// buckets produced at one level of the roll-up chain, never two. This is
// what lets the per-metric map stay keyed on the bare bucket number —
// a bucket number only means one thing once the duration is fixed.
type byteCache struct {
	mu             sync.RWMutex
	entries        map[metric.Metric]*sync.Map
	nCachedMetrics atomic.Int64
	lastKnownTick  atomic.Int64
	cfg            Config
	duration       window.Duration
	logger         *zap.Logger
	kindName       string
}

// noPriorTick is the lastKnownTick sentinel meaning "never marked yet",
// distinct from any real rebased bucket-number so the first MarkProcessedTick
// call never evicts against a meaningless zero baseline.
const noPriorTick = math.MinInt64

func newByteCache(cfg Config, duration window.Duration, logger *zap.Logger, kindName string) *byteCache {
	c := &byteCache{
		entries:  make(map[metric.Metric]*sync.Map),
		cfg:      cfg,
		duration: duration,
		logger:   logger,
		kindName: kindName,
	}
	c.lastKnownTick.Store(noPriorTick)
	return c
}

func (c *byteCache) enabledFor(t metric.Type) bool {
	if !c.cfg.Enabled {
		return false
	}
	if c.cfg.IsEnabledFor == nil {
		return true
	}
	return c.cfg.IsEnabledFor(t)
}

// getOrCreateEntry admits a new metric into the cache using an
// atomic increment-then-check: overshoot past MaxMetrics is corrected by
// decrementing and refusing admission, so the metric simply will not be
// cached this turn.
func (c *byteCache) getOrCreateEntry(m metric.Metric) (*sync.Map, bool) {
	c.mu.RLock()
	if e, ok := c.entries[m]; ok {
		c.mu.RUnlock()
		return e, true
	}
	c.mu.RUnlock()

	n := c.nCachedMetrics.Add(1)
	if n > c.cfg.MaxMetrics {
		c.nCachedMetrics.Add(-1)
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[m]; ok {
		c.nCachedMetrics.Add(-1)
		return e, true
	}
	e := &sync.Map{}
	c.entries[m] = e
	return e, true
}

// MultiSet inserts each present bucket under its bucket-number and backfills
// every unfilled slot in [from, to) with the EmptyBucket sentinel (a
// zero-length byte slice). A collision on an already-present bucket-number
// is logged as a warning and resolved by replacing the existing entry.
//
// from and to must be expressed at c.duration; a mismatch means the caller
// wired this cache instance to the wrong window level, so the call is
// refused rather than silently mixing bucket numbers from two durations.
func (c *byteCache) MultiSet(m metric.Metric, from, to window.BucketNumber, present map[int64][]byte) {
	if !c.enabledFor(m.Type) {
		return
	}
	if !from.Duration.Equal(c.duration) {
		c.logger.Warn("bucket cache duration mismatch on write, refusing",
			zap.String("kind", c.kindName), zap.String("metric", m.Name),
			zap.String("cache_duration", c.duration.String()), zap.String("got_duration", from.Duration.String()))
		return
	}
	if to.Number-from.Number-1 > c.cfg.MaxStore {
		return
	}

	entry, ok := c.getOrCreateEntry(m)
	if !ok {
		c.logger.Warn("bucket cache admission refused, metric will not be cached this turn",
			zap.String("kind", c.kindName), zap.String("metric", m.Name))
		return
	}

	for n := from.Number; n < to.Number; n++ {
		val, has := present[n]
		if !has {
			val = []byte{}
		}
		if _, loaded := entry.LoadOrStore(n, val); loaded {
			c.logger.Warn("bucket cache collision, replacing existing entry",
				zap.String("kind", c.kindName), zap.String("metric", m.Name), zap.Int64("bucket", n))
			entry.Store(n, val)
		}
	}
}

// MultiGet removes and collects every bucket-number in [from, to). It is
// disabled entirely when c.duration is the raw duration (a cache never
// exists for the raw level, but this stays as a defensive guard) or when
// from.Duration doesn't match c.duration. A hit requires every slot in
// the range to be present (sentinel-only ranges still count as a hit);
// partial coverage reports a miss and returns nothing, leaving whatever
// partial state existed removed from the cache regardless.
func (c *byteCache) MultiGet(m metric.Metric, from, to window.BucketNumber) (map[int64][]byte, bool) {
	if c.duration.IsRaw() || !from.Duration.Equal(c.duration) {
		return nil, false
	}

	c.mu.RLock()
	entry, ok := c.entries[m]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}

	result := make(map[int64][]byte)
	for n := from.Number; n < to.Number; n++ {
		if v, loaded := entry.LoadAndDelete(n); loaded {
			result[n] = v.([]byte)
		}
	}

	want := to.Number - from.Number
	if int64(len(result)) != want {
		return nil, false
	}
	return result, true
}

// MarkProcessedTick rebases the tick's raw-duration bucket number onto
// c.duration and atomically swaps lastKnownTick to the result. When the
// swap changes the value, every cached metric (across the whole cache, not
// just the metric that triggered this call) with no bucket covering the
// previous tick's (rebased) bucket-number has its entire entry dropped.
func (c *byteCache) MarkProcessedTick(triggering metric.Metric, tick window.Tick) {
	rebased := tick.BucketNumber.Rebase(c.duration).Number
	prev := c.lastKnownTick.Swap(rebased)
	if prev == rebased || prev == noPriorTick {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for m, entry := range c.entries {
		if _, covers := entry.Load(prev); covers {
			continue
		}
		delete(c.entries, m)
		c.nCachedMetrics.Add(-1)
		c.logger.Debug("bucket cache affinity eviction",
			zap.String("kind", c.kindName), zap.String("metric", m.Name), zap.Int64("prev_tick", prev))
	}
}

// HistogramCache is the top-level cache for Timer/Gauge-derived buckets at
// one fixed window.Duration.
type HistogramCache struct {
	core *byteCache
}

// NewHistogramCache creates a HistogramCache that serves buckets at duration.
// A roll-up chain needs one instance per non-raw window level, not one
// instance shared across the whole chain — otherwise bucket numbers from
// different durations collide in the same per-metric map.
func NewHistogramCache(cfg Config, duration window.Duration, logger *zap.Logger) *HistogramCache {
	return &HistogramCache{core: newByteCache(cfg, duration, logger, "histogram")}
}

// CounterCache is the top-level cache for Counter-derived buckets at one
// fixed window.Duration.
type CounterCache struct {
	core *byteCache
}

// NewCounterCache creates a CounterCache that serves buckets at duration.
func NewCounterCache(cfg Config, duration window.Duration, logger *zap.Logger) *CounterCache {
	return &CounterCache{core: newByteCache(cfg, duration, logger, "counter")}
}
