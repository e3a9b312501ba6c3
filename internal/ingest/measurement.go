// Package ingest implements the measurement store path: taking
// batches of raw samples, grouping them onto the coarse ingest granule,
// folding them into raw (1ms) buckets, and appending those to the raw
// bucket store for the window processor to later roll up.
package ingest

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/kloudmate/windowcore/internal/bucket"
	"github.com/kloudmate/windowcore/internal/bucketstore"
	"github.com/kloudmate/windowcore/internal/metastore"
	"github.com/kloudmate/windowcore/internal/metric"
	"github.com/kloudmate/windowcore/internal/window"
)

// CoarseGranule is the fixed grouping window measurements are batched by
// before being folded into raw buckets.
var CoarseGranule = window.Duration{Millis: 5000, Name: "5s"}

// Sample is one (timestamp, values) pair within a MetricMeasurement.
type Sample struct {
	TS     window.Timestamp
	Values []float64
}

// MetricMeasurement is one metric's worth of raw samples submitted to the
// measurement store path in a single batch.
type MetricMeasurement struct {
	Metric  metric.Metric
	Samples []Sample
}

// Store is the measurement store path's dependency surface.
type Store struct {
	RawHistograms bucketstore.HistogramStore
	RawCounters   bucketstore.CounterStore
	Meta          metastore.Store
	Logger        *zap.Logger
}

// Report summarizes the outcome of one StoreMetricMeasurements call, one
// entry per metric in the input batch.
type Report struct {
	Metric           metric.Metric
	BucketsAppended  int
	NegativesDropped int
	Unsupported      bool
}

// StoreMetricMeasurements dispatches by type, groups by the coarse
// ingest granule, folds into raw buckets, appends, and registers
// first-sight metadata. tick is consulted only to log a reprocessing
// warning; it never gates storage (see DESIGN.md's open-question
// decision on alreadyProcessed).
func (s *Store) StoreMetricMeasurements(ctx context.Context, tick window.Tick, batch []MetricMeasurement) ([]Report, error) {
	reports := make([]Report, 0, len(batch))

	for _, mm := range batch {
		if len(mm.Samples) == 0 {
			continue
		}

		switch mm.Metric.Type {
		case metric.Timer, metric.Gauge:
			report, err := s.storeHistogramPath(ctx, tick, mm)
			if err != nil {
				return reports, err
			}
			reports = append(reports, report)
		case metric.Counter:
			report, err := s.storeCounterPath(ctx, tick, mm)
			if err != nil {
				return reports, err
			}
			reports = append(reports, report)
		default:
			s.Logger.Warn("discarding measurements for unsupported metric type",
				zap.String("metric", mm.Metric.Name), zap.Int8("type", int8(mm.Metric.Type)))
			reports = append(reports, Report{Metric: mm.Metric, Unsupported: true})
		}
	}

	return reports, nil
}

func groupByCoarseGranule(samples []Sample) map[int64][]float64 {
	groups := make(map[int64][]float64)
	for _, sample := range samples {
		aligned := sample.TS.AlignedTo(CoarseGranule)
		groups[int64(aligned)] = append(groups[int64(aligned)], sample.Values...)
	}
	return groups
}

func sortedGroupKeys(groups map[int64][]float64) []int64 {
	keys := make([]int64, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (s *Store) storeHistogramPath(ctx context.Context, tick window.Tick, mm MetricMeasurement) (Report, error) {
	report := Report{Metric: mm.Metric}
	groups := groupByCoarseGranule(mm.Samples)
	buckets := make([]bucket.HistogramBucket, 0, len(groups))

	for _, groupTS := range sortedGroupKeys(groups) {
		rawBn := window.Timestamp(groupTS).ToBucketNumberOf(window.RawDuration)
		if tick.AlreadyProcessed(rawBn) {
			s.Logger.Warn("measurement group falls behind the current processing tick, storing anyway",
				zap.String("metric", mm.Metric.Name), zap.Int64("raw_bucket", rawBn.Number))
		}

		h := bucket.NewHistogram(bucket.DefaultRelativeAccuracy)
		for _, v := range groups[groupTS] {
			if v < 0 {
				report.NegativesDropped++
				continue
			}
			h.RecordValue(v)
		}
		buckets = append(buckets, bucket.HistogramBucket{Num: rawBn, Hist: h})
	}

	if report.NegativesDropped > 0 {
		s.Logger.Warn("dropped negative histogram sample values",
			zap.String("metric", mm.Metric.Name), zap.Int("count", report.NegativesDropped))
	}

	if len(buckets) > 0 {
		if err := s.RawHistograms.Store(ctx, mm.Metric, window.RawDuration, buckets); err != nil {
			return report, fmt.Errorf("append raw histogram buckets: %w", err)
		}
		report.BucketsAppended = len(buckets)
	}

	if err := s.registerFirstSight(ctx, mm.Metric); err != nil {
		return report, err
	}
	return report, nil
}

func (s *Store) storeCounterPath(ctx context.Context, tick window.Tick, mm MetricMeasurement) (Report, error) {
	report := Report{Metric: mm.Metric}
	groups := groupByCoarseGranule(mm.Samples)
	buckets := make([]bucket.CounterBucket, 0, len(groups))

	for _, groupTS := range sortedGroupKeys(groups) {
		rawBn := window.Timestamp(groupTS).ToBucketNumberOf(window.RawDuration)
		if tick.AlreadyProcessed(rawBn) {
			s.Logger.Warn("measurement group falls behind the current processing tick, storing anyway",
				zap.String("metric", mm.Metric.Name), zap.Int64("raw_bucket", rawBn.Number))
		}

		var counts int64
		for _, v := range groups[groupTS] {
			if v < 0 {
				report.NegativesDropped++
				continue
			}
			counts += int64(v)
		}
		buckets = append(buckets, bucket.CounterBucket{Num: rawBn, Counts: counts})
	}

	if report.NegativesDropped > 0 {
		s.Logger.Warn("dropped negative counter sample values",
			zap.String("metric", mm.Metric.Name), zap.Int("count", report.NegativesDropped))
	}

	if len(buckets) > 0 {
		if err := s.RawCounters.Store(ctx, mm.Metric, window.RawDuration, buckets); err != nil {
			return report, fmt.Errorf("append raw counter buckets: %w", err)
		}
		report.BucketsAppended = len(buckets)
	}

	if err := s.registerFirstSight(ctx, mm.Metric); err != nil {
		return report, err
	}
	return report, nil
}

func (s *Store) registerFirstSight(ctx context.Context, m metric.Metric) error {
	seen, err := s.Meta.Contains(ctx, m)
	if err != nil {
		return fmt.Errorf("check metric membership: %w", err)
	}
	if seen {
		return nil
	}
	if err := s.Meta.Insert(ctx, m, m.Type); err != nil {
		return fmt.Errorf("insert metric membership: %w", err)
	}
	return nil
}
