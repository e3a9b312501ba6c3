// Package summarystore persists derived Summaries to ClickHouse,
// one table per summary kind, upserted keyed by (metric, timestamp).
package summarystore

import (
	"context"

	"github.com/kloudmate/windowcore/internal/bucket"
	"github.com/kloudmate/windowcore/internal/metric"
	"github.com/kloudmate/windowcore/internal/window"
)

// StatisticStore persists StatisticSummary rows (Timer metrics).
type StatisticStore interface {
	Store(ctx context.Context, m metric.Metric, windowDuration window.Duration, summaries []bucket.StatisticSummary) error
}

// GaugeStore persists GaugeSummary rows (Gauge metrics).
type GaugeStore interface {
	Store(ctx context.Context, m metric.Metric, windowDuration window.Duration, summaries []bucket.GaugeSummary) error
}

// CounterStore persists CounterSummary rows (Counter metrics).
type CounterStore interface {
	Store(ctx context.Context, m metric.Metric, windowDuration window.Duration, summaries []bucket.CounterSummary) error
}
