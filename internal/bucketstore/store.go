// Package bucketstore implements the BucketStore contract against
// ClickHouse: slice/store/remove over the raw and derived-window bucket
// tables, batched the way a ClickHouse writer batches metric
// rows.
package bucketstore

import (
	"context"

	"github.com/kloudmate/windowcore/internal/bucket"
	"github.com/kloudmate/windowcore/internal/metric"
	"github.com/kloudmate/windowcore/internal/window"
)

// HistogramStore is the bucket-store contract for Timer/Gauge-derived
// histogram buckets.
type HistogramStore interface {
	// Slice returns buckets with timestamps in [from, to] (both inclusive),
	// ordered by timestamp ascending, up to limit rows. Each row holds one
	// serialized bucket; several rows may share a (metric, timestamp), and a
	// row whose payload fails to decode is dropped. The inclusive lower bound is intentional: the processor relies on it to
	// re-fetch (and garbage-collect) a source row exactly at H on a
	// re-process, even though that row will not trigger a new emission.
	Slice(ctx context.Context, m metric.Metric, from, to window.Timestamp, limit int) ([]bucket.HistogramBucket, error)

	// Store appends one row per bucket, keyed by (metric, timestamp) and
	// tagged with windowDuration's name, batched in chunks of
	// InsertChunkSize. No TTL is applied by the store itself.
	Store(ctx context.Context, m metric.Metric, windowDuration window.Duration, buckets []bucket.HistogramBucket) error

	// Remove deletes rows by (metric, timestamp) for each bucket.
	Remove(ctx context.Context, m metric.Metric, windowDuration window.Duration, buckets []bucket.HistogramBucket) error
}

// CounterStore is the bucket-store contract for Counter-derived buckets.
type CounterStore interface {
	Slice(ctx context.Context, m metric.Metric, from, to window.Timestamp, limit int) ([]bucket.CounterBucket, error)
	Store(ctx context.Context, m metric.Metric, windowDuration window.Duration, buckets []bucket.CounterBucket) error
	Remove(ctx context.Context, m metric.Metric, windowDuration window.Duration, buckets []bucket.CounterBucket) error
}
