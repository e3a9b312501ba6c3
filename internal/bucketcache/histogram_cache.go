package bucketcache

import (
	"github.com/kloudmate/windowcore/internal/bucket"
	"github.com/kloudmate/windowcore/internal/metric"
	"github.com/kloudmate/windowcore/internal/window"
)

// MultiSet inserts the given non-empty histogram buckets under their
// bucket-numbers, backfilling [from, to) gaps with EmptyBucket sentinels.
func (c *HistogramCache) MultiSet(m metric.Metric, from, to window.BucketNumber, buckets []bucket.HistogramBucket) error {
	present := make(map[int64][]byte, len(buckets))
	for _, b := range buckets {
		if b.IsEmpty() {
			continue
		}
		data, err := bucket.SerializeHistogramBucket(b)
		if err != nil {
			return err
		}
		present[b.Num.Number] = data
	}
	c.core.MultiSet(m, from, to, present)
	return nil
}

// MultiGet returns the histogram buckets covering [from, to) and whether
// the read was a hit. A corrupt payload degrades to a neutral-default
// (all-zero histogram) bucket rather than failing the read.
func (c *HistogramCache) MultiGet(m metric.Metric, from, to window.BucketNumber) ([]bucket.HistogramBucket, bool) {
	raw, hit := c.core.MultiGet(m, from, to)
	if !hit {
		return nil, false
	}

	result := make([]bucket.HistogramBucket, 0, len(raw))
	for n := from.Number; n < to.Number; n++ {
		bn := window.BucketNumber{Number: n, Duration: from.Duration}
		data := raw[n]
		if len(data) == 0 {
			result = append(result, bucket.HistogramBucket{Num: window.Undefined, Hist: nil})
			continue
		}
		b, ok := bucket.DeserializeHistogramBucket(data)
		if !ok {
			result = append(result, bucket.HistogramBucket{Num: bn, Hist: bucket.NewHistogram(bucket.DefaultRelativeAccuracy)})
			continue
		}
		result = append(result, b)
	}
	return result, true
}

// MarkProcessedTick records the metric's processing tick and triggers
// affinity eviction across the whole cache when the tick changes.
func (c *HistogramCache) MarkProcessedTick(m metric.Metric, tick window.Tick) {
	c.core.MarkProcessedTick(m, tick)
}
