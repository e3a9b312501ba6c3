package bucketcache

import (
	"github.com/kloudmate/windowcore/internal/bucket"
	"github.com/kloudmate/windowcore/internal/metric"
	"github.com/kloudmate/windowcore/internal/window"
)

// MultiSet inserts the given non-empty counter buckets under their
// bucket-numbers, backfilling [from, to) gaps with EmptyBucket sentinels.
func (c *CounterCache) MultiSet(m metric.Metric, from, to window.BucketNumber, buckets []bucket.CounterBucket) {
	present := make(map[int64][]byte, len(buckets))
	for _, b := range buckets {
		if b.IsEmpty() {
			continue
		}
		present[b.Num.Number] = bucket.SerializeCounterBucket(b)
	}
	c.core.MultiSet(m, from, to, present)
}

// MultiGet returns the counter buckets covering [from, to) and whether the
// read was a hit.
func (c *CounterCache) MultiGet(m metric.Metric, from, to window.BucketNumber) ([]bucket.CounterBucket, bool) {
	raw, hit := c.core.MultiGet(m, from, to)
	if !hit {
		return nil, false
	}

	result := make([]bucket.CounterBucket, 0, len(raw))
	for n := from.Number; n < to.Number; n++ {
		bn := window.BucketNumber{Number: n, Duration: from.Duration}
		data := raw[n]
		if len(data) == 0 {
			result = append(result, bucket.EmptyCounterBucket())
			continue
		}
		b, ok := bucket.DeserializeCounterBucket(data)
		if !ok {
			result = append(result, bucket.CounterBucket{Num: bn})
			continue
		}
		result = append(result, b)
	}
	return result, true
}

// MarkProcessedTick records the metric's processing tick and triggers
// affinity eviction across the whole cache when the tick changes.
func (c *CounterCache) MarkProcessedTick(m metric.Metric, tick window.Tick) {
	c.core.MarkProcessedTick(m, tick)
}
