// Package metastore tracks per-metric bookkeeping that outlives any single
// process run: the high-water mark H for each window, and first-sight
// membership so the ingest path can tell a brand-new metric from one it has
// already seen.
package metastore

import (
	"context"

	"github.com/kloudmate/windowcore/internal/metric"
	"github.com/kloudmate/windowcore/internal/window"
)

// Store is the meta-store contract backing high-water-mark tracking and
// metric membership.
type Store interface {
	// GetLastProcessed returns the high-water mark H for (m, windowDuration).
	// absent reports true when no mark has ever been recorded, in which
	// case H should be treated as negative infinity by the caller.
	GetLastProcessed(ctx context.Context, m metric.Metric, windowDuration window.Duration) (ts window.Timestamp, absent bool, err error)

	// UpdateLastProcessed advances H to ts. Callers are expected to have
	// already checked ts is strictly greater than the current H.
	UpdateLastProcessed(ctx context.Context, m metric.Metric, windowDuration window.Duration, ts window.Timestamp) error

	// Insert records that m has been seen.
	Insert(ctx context.Context, m metric.Metric, mtype metric.Type) error

	// Contains reports whether m has been seen before, consulting the
	// in-memory membership cache before the column store.
	Contains(ctx context.Context, m metric.Metric) (bool, error)
}
