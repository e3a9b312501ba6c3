// Package processor implements the window roll-up algorithm: pull source
// buckets accumulated since the high-water mark, fold them into the next
// coarser window's buckets, persist derived summaries, and advance the
// high-water mark. One concrete processor exists per bucket kind
// (Histogram, Counter) rather than a single generic type, matching the
// rest of the bucket model's tagged-sum-over-two-kinds shape.
package processor

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/kloudmate/windowcore/internal/bucket"
	"github.com/kloudmate/windowcore/internal/bucketcache"
	"github.com/kloudmate/windowcore/internal/bucketstore"
	"github.com/kloudmate/windowcore/internal/metastore"
	"github.com/kloudmate/windowcore/internal/metric"
	"github.com/kloudmate/windowcore/internal/summarystore"
	"github.com/kloudmate/windowcore/internal/window"
)

// negativeInfinity stands in for an absent high-water mark: every real
// bucket timestamp sorts after it.
const negativeInfinity = window.Timestamp(math.MinInt64)

// Completion reports the outcome of one process invocation.
type Completion struct {
	Metric           metric.Metric
	Window           window.Duration
	SourcesRead      int
	SourcesRemoved   int
	SummariesEmitted int
	CacheHit         bool
	NoOp             bool
}

// HistogramProcessor implements the roll-up algorithm for Timer and Gauge metrics, whose
// source buckets are Histograms. The summary variant emitted (Statistic vs
// Gauge) is chosen per-call from the metric's type.
type HistogramProcessor struct {
	Window       window.Duration
	SourceWindow window.Duration

	Source      bucketstore.HistogramStore
	Target      bucketstore.HistogramStore      // next window's source store; nil at the last configured window
	SourceCache *bucketcache.HistogramCache      // cache for SourceWindow buckets, populated by the processor one level down
	Cache       *bucketcache.HistogramCache      // cache for this processor's own Window, read by the processor one level up
	Meta        metastore.Store
	Stats       summarystore.StatisticStore
	Gauges      summarystore.GaugeStore

	Logger     *zap.Logger
	SliceLimit int
}

// Process consumes all source histogram buckets with timestamps in
// [H, executionTimestamp] (both inclusive; a row exactly at H is fetched
// and removed but never re-emitted, which is what makes a re-process a
// no-op), emits summaries at Window, advances H, and removes the sources.
func (p *HistogramProcessor) Process(ctx context.Context, m metric.Metric, executionTimestamp window.Timestamp) (Completion, error) {
	completion := Completion{Metric: m, Window: p.Window}

	h, absent, err := p.Meta.GetLastProcessed(ctx, m, p.Window)
	if err != nil {
		return completion, fmt.Errorf("fetch high-water mark: %w", err)
	}
	if absent {
		h = negativeInfinity
	}

	sources, cacheHit, err := p.fetchSources(ctx, m, h, executionTimestamp)
	if err != nil {
		return completion, fmt.Errorf("slice source histogram buckets: %w", err)
	}
	completion.CacheHit = cacheHit
	completion.SourcesRead = len(sources)

	if len(sources) == 0 {
		completion.NoOp = true
		return completion, nil
	}

	groups := partitionHistogramSources(sources, p.Window)

	type emission struct {
		bn   window.BucketNumber
		hist bucket.HistogramBucket
	}
	var emissions []emission
	var minBn, maxBn window.BucketNumber
	newH := h

	for _, g := range groups {
		if int64(g.bn.StartTimestamp()) <= int64(h) {
			continue
		}
		merged := bucket.MergeHistogramBuckets(g.bn, g.members, bucket.DefaultRelativeAccuracy)
		emissions = append(emissions, emission{bn: g.bn, hist: merged})
		if len(emissions) == 1 || g.bn.Less(minBn) {
			minBn = g.bn
		}
		if len(emissions) == 1 || maxBn.Less(g.bn) {
			maxBn = g.bn
		}
		if int64(merged.Num.StartTimestamp()) > int64(newH) {
			newH = merged.Num.StartTimestamp()
		}
	}

	// Persisted newest-first so a reader scanning the target store sees the
	// most recent bucket without having to read past older ones.
	sort.Slice(emissions, func(i, j int) bool { return emissions[j].bn.Less(emissions[i].bn) })

	statSummaries := make([]bucket.StatisticSummary, 0, len(emissions))
	gaugeSummaries := make([]bucket.GaugeSummary, 0, len(emissions))
	derived := make([]bucket.HistogramBucket, 0, len(emissions))

	for _, e := range emissions {
		derived = append(derived, e.hist)
		switch m.Type {
		case metric.Timer:
			statSummaries = append(statSummaries, bucket.DeriveStatisticSummary(e.hist))
		case metric.Gauge:
			gaugeSummaries = append(gaugeSummaries, bucket.DeriveGaugeSummary(e.hist))
		}
	}

	if len(statSummaries) > 0 {
		if err := p.Stats.Store(ctx, m, p.Window, statSummaries); err != nil {
			return completion, fmt.Errorf("persist statistic summaries: %w", err)
		}
	}
	if len(gaugeSummaries) > 0 {
		if err := p.Gauges.Store(ctx, m, p.Window, gaugeSummaries); err != nil {
			return completion, fmt.Errorf("persist gauge summaries: %w", err)
		}
	}
	completion.SummariesEmitted = len(statSummaries) + len(gaugeSummaries)

	if p.Target != nil && len(derived) > 0 {
		if err := p.Target.Store(ctx, m, p.Window, derived); err != nil {
			return completion, fmt.Errorf("publish derived buckets to next window's source store: %w", err)
		}
	}
	if p.Cache != nil && len(derived) > 0 {
		if err := p.Cache.MultiSet(m, minBn, maxBn.Next(), derived); err != nil {
			p.Logger.Warn("failed to populate bucket cache with derived buckets",
				zap.String("metric", m.Name), zap.Error(err))
		}
	}

	if newH != h {
		if err := p.Meta.UpdateLastProcessed(ctx, m, p.Window, newH); err != nil {
			return completion, fmt.Errorf("advance high-water mark: %w", err)
		}
	}

	if err := p.Source.Remove(ctx, m, p.SourceWindow, sources); err != nil {
		p.Logger.Warn("failed to remove consumed source buckets, garbage will be retried",
			zap.String("metric", m.Name), zap.Error(err))
	} else {
		completion.SourcesRemoved = len(sources)
	}

	return completion, nil
}

// fetchSources tries the bucket cache before falling through to the
// column store: the cache exists precisely to let the very next
// tick's processor avoid re-reading buckets this window just published.
func (p *HistogramProcessor) fetchSources(ctx context.Context, m metric.Metric, from, to window.Timestamp) ([]bucket.HistogramBucket, bool, error) {
	if p.SourceCache != nil && !p.SourceWindow.IsRaw() && from != negativeInfinity {
		fromBn := from.ToBucketNumberOf(p.SourceWindow)
		toBn := to.ToBucketNumberOf(p.SourceWindow)
		if toBn.Number > fromBn.Number {
			if cached, hit := p.SourceCache.MultiGet(m, fromBn, toBn); hit {
				return cached, true, nil
			}
		}
	}

	sources, err := p.Source.Slice(ctx, m, from, to, p.SliceLimit)
	return sources, false, err
}

type histogramGroup struct {
	bn      window.BucketNumber
	members []bucket.HistogramBucket
}

func partitionHistogramSources(sources []bucket.HistogramBucket, target window.Duration) []histogramGroup {
	index := make(map[int64]int)
	var groups []histogramGroup
	for _, src := range sources {
		if src.IsEmpty() {
			continue
		}
		targetBn := src.Num.Rebase(target)
		if i, ok := index[targetBn.Number]; ok {
			groups[i].members = append(groups[i].members, src)
			continue
		}
		index[targetBn.Number] = len(groups)
		groups = append(groups, histogramGroup{bn: targetBn, members: []bucket.HistogramBucket{src}})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].bn.Less(groups[j].bn) })
	return groups
}

// CounterProcessor implements the roll-up algorithm for Counter metrics, whose source
// buckets are plain summed counts.
type CounterProcessor struct {
	Window       window.Duration
	SourceWindow window.Duration

	Source      bucketstore.CounterStore
	Target      bucketstore.CounterStore
	SourceCache *bucketcache.CounterCache // cache for SourceWindow buckets, populated by the processor one level down
	Cache       *bucketcache.CounterCache // cache for this processor's own Window, read by the processor one level up
	Meta        metastore.Store
	Counts      summarystore.CounterStore

	Logger     *zap.Logger
	SliceLimit int
}

// Process consumes all source counter buckets with timestamps in
// [H, executionTimestamp] (both inclusive, matching HistogramProcessor),
// emits summaries at Window, advances H, and removes the sources.
func (p *CounterProcessor) Process(ctx context.Context, m metric.Metric, executionTimestamp window.Timestamp) (Completion, error) {
	completion := Completion{Metric: m, Window: p.Window}

	h, absent, err := p.Meta.GetLastProcessed(ctx, m, p.Window)
	if err != nil {
		return completion, fmt.Errorf("fetch high-water mark: %w", err)
	}
	if absent {
		h = negativeInfinity
	}

	sources, cacheHit, err := p.fetchSources(ctx, m, h, executionTimestamp)
	if err != nil {
		return completion, fmt.Errorf("slice source counter buckets: %w", err)
	}
	completion.CacheHit = cacheHit
	completion.SourcesRead = len(sources)

	if len(sources) == 0 {
		completion.NoOp = true
		return completion, nil
	}

	groups := partitionCounterSources(sources, p.Window)

	type emission struct {
		bn     window.BucketNumber
		bucket bucket.CounterBucket
	}
	var emissions []emission
	var minBn, maxBn window.BucketNumber
	newH := h

	for _, g := range groups {
		if int64(g.bn.StartTimestamp()) <= int64(h) {
			continue
		}
		merged := bucket.MergeCounterBuckets(g.bn, g.members)
		emissions = append(emissions, emission{bn: g.bn, bucket: merged})
		if len(emissions) == 1 || g.bn.Less(minBn) {
			minBn = g.bn
		}
		if len(emissions) == 1 || maxBn.Less(g.bn) {
			maxBn = g.bn
		}
		if int64(merged.Num.StartTimestamp()) > int64(newH) {
			newH = merged.Num.StartTimestamp()
		}
	}

	// Persisted newest-first, matching HistogramProcessor.
	sort.Slice(emissions, func(i, j int) bool { return emissions[j].bn.Less(emissions[i].bn) })

	summaries := make([]bucket.CounterSummary, 0, len(emissions))
	derived := make([]bucket.CounterBucket, 0, len(emissions))
	for _, e := range emissions {
		derived = append(derived, e.bucket)
		summaries = append(summaries, bucket.DeriveCounterSummary(e.bucket))
	}

	if len(summaries) > 0 {
		if err := p.Counts.Store(ctx, m, p.Window, summaries); err != nil {
			return completion, fmt.Errorf("persist counter summaries: %w", err)
		}
	}
	completion.SummariesEmitted = len(summaries)

	if p.Target != nil && len(derived) > 0 {
		if err := p.Target.Store(ctx, m, p.Window, derived); err != nil {
			return completion, fmt.Errorf("publish derived buckets to next window's source store: %w", err)
		}
	}
	if p.Cache != nil && len(derived) > 0 {
		p.Cache.MultiSet(m, minBn, maxBn.Next(), derived)
	}

	if newH != h {
		if err := p.Meta.UpdateLastProcessed(ctx, m, p.Window, newH); err != nil {
			return completion, fmt.Errorf("advance high-water mark: %w", err)
		}
	}

	if err := p.Source.Remove(ctx, m, p.SourceWindow, sources); err != nil {
		p.Logger.Warn("failed to remove consumed source buckets, garbage will be retried",
			zap.String("metric", m.Name), zap.Error(err))
	} else {
		completion.SourcesRemoved = len(sources)
	}

	return completion, nil
}

// fetchSources mirrors HistogramProcessor.fetchSources: try the bucket
// cache for the source window before falling through to the column store.
func (p *CounterProcessor) fetchSources(ctx context.Context, m metric.Metric, from, to window.Timestamp) ([]bucket.CounterBucket, bool, error) {
	if p.SourceCache != nil && !p.SourceWindow.IsRaw() && from != negativeInfinity {
		fromBn := from.ToBucketNumberOf(p.SourceWindow)
		toBn := to.ToBucketNumberOf(p.SourceWindow)
		if toBn.Number > fromBn.Number {
			if cached, hit := p.SourceCache.MultiGet(m, fromBn, toBn); hit {
				return cached, true, nil
			}
		}
	}

	sources, err := p.Source.Slice(ctx, m, from, to, p.SliceLimit)
	return sources, false, err
}

type counterGroup struct {
	bn      window.BucketNumber
	members []bucket.CounterBucket
}

func partitionCounterSources(sources []bucket.CounterBucket, target window.Duration) []counterGroup {
	index := make(map[int64]int)
	var groups []counterGroup
	for _, src := range sources {
		if src.IsEmpty() {
			continue
		}
		targetBn := src.Num.Rebase(target)
		if i, ok := index[targetBn.Number]; ok {
			groups[i].members = append(groups[i].members, src)
			continue
		}
		index[targetBn.Number] = len(groups)
		groups = append(groups, counterGroup{bn: targetBn, members: []bucket.CounterBucket{src}})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].bn.Less(groups[j].bn) })
	return groups
}
