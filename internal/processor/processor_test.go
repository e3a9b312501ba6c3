package processor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kloudmate/windowcore/internal/bucket"
	"github.com/kloudmate/windowcore/internal/bucketcache"
	"github.com/kloudmate/windowcore/internal/errs"
	"github.com/kloudmate/windowcore/internal/metric"
	"github.com/kloudmate/windowcore/internal/window"
)

var w30s = window.Duration{Millis: 30000, Name: "30s"}
var w5m = window.Duration{Millis: 300000, Name: "5m"}

func newTestHistogramProcessor(source *fakeHistogramStore, target *fakeHistogramStore, meta *fakeMetaStore, stats *fakeStatStore) *HistogramProcessor {
	return &HistogramProcessor{
		Window:       w30s,
		SourceWindow: window.RawDuration,
		Source:       source,
		Target:       target,
		Meta:         meta,
		Stats:        stats,
		Gauges:       &fakeGaugeStore{},
		Logger:       zap.NewNop(),
		SliceLimit:   10000,
	}
}

func rawHistogramBucket(n int64, values ...float64) bucket.HistogramBucket {
	h := bucket.NewHistogram(bucket.DefaultRelativeAccuracy)
	for _, v := range values {
		h.RecordValue(v)
	}
	return bucket.HistogramBucket{Num: window.BucketNumber{Number: n, Duration: window.RawDuration}, Hist: h}
}

func valuesRange(from, to int) []float64 {
	out := make([]float64, 0, to-from+1)
	for v := from; v <= to; v++ {
		out = append(out, float64(v))
	}
	return out
}

func TestProcessTwoBucketSummaryOver30sFromRaw(t *testing.T) {
	source := newFakeHistogramStore()
	m := metric.Metric{Name: "latency", Type: metric.Timer}
	source.rows[m] = []bucket.HistogramBucket{
		rawHistogramBucket(1, valuesRange(1, 50)...),
		rawHistogramBucket(2, valuesRange(51, 100)...),
		rawHistogramBucket(30001, 100, 100),
	}

	target := newFakeHistogramStore()
	meta := newFakeMetaStore()
	stats := &fakeStatStore{}
	p := newTestHistogramProcessor(source, target, meta, stats)

	completion, err := p.Process(context.Background(), m, window.Timestamp(30001))
	require.NoError(t, err)

	assert.Equal(t, 3, completion.SourcesRead)
	assert.Equal(t, 3, completion.SourcesRemoved)
	assert.Equal(t, 2, completion.SummariesEmitted)
	require.Len(t, stats.stored, 2)

	// newest-first: target bucket 1 (from n=30001) is stored before bucket 0.
	first, second := stats.stored[0], stats.stored[1]
	assert.Equal(t, 100.0, first.Min)
	assert.Equal(t, int64(2), first.Count)
	assert.InDelta(t, 100, first.Mean, 0.5)

	assert.Equal(t, 1.0, second.Min)
	assert.Equal(t, 100.0, second.Max)
	assert.Equal(t, int64(100), second.Count)
	assert.InDelta(t, 50.5, second.Mean, 0.5)
	assert.InDelta(t, 50, second.P50, 2)
	assert.InDelta(t, 80, second.P80, 2)
	assert.InDelta(t, 99, second.P99, 2)

	newH, absent, err := meta.GetLastProcessed(context.Background(), m, w30s)
	require.NoError(t, err)
	assert.False(t, absent)
	assert.Equal(t, window.Timestamp(30000), newH)

	assert.Empty(t, source.rows[m])
}

func TestProcessReprocessIsNoOp(t *testing.T) {
	source := newFakeHistogramStore()
	m := metric.Metric{Name: "latency", Type: metric.Timer}
	source.rows[m] = []bucket.HistogramBucket{rawHistogramBucket(15000, 1, 2, 3)}

	target := newFakeHistogramStore()
	meta := newFakeMetaStore()
	meta.hwm[m] = map[string]window.Timestamp{w30s.Name: window.Timestamp(15000)}
	stats := &fakeStatStore{}
	p := newTestHistogramProcessor(source, target, meta, stats)

	completion, err := p.Process(context.Background(), m, window.Timestamp(15000))
	require.NoError(t, err)

	assert.Equal(t, 0, completion.SummariesEmitted)
	assert.Empty(t, stats.stored)
	assert.Equal(t, 1, completion.SourcesRemoved)
	assert.Empty(t, source.rows[m])
}

func TestProcessPropagatesHighWaterMarkFetchError(t *testing.T) {
	source := newFakeHistogramStore()
	m := metric.Metric{Name: "latency", Type: metric.Timer}
	source.rows[m] = []bucket.HistogramBucket{rawHistogramBucket(1, 1, 2, 3)}

	target := newFakeHistogramStore()
	meta := newFakeMetaStore()
	meta.getErr = fmt.Errorf("query high-water mark: %w: connection reset", errs.Transient)
	stats := &fakeStatStore{}
	p := newTestHistogramProcessor(source, target, meta, stats)

	_, err := p.Process(context.Background(), m, window.Timestamp(30000))
	require.Error(t, err)
	assert.True(t, errs.IsTransient(err))
	assert.Empty(t, stats.stored)
	assert.Len(t, source.rows[m], 1)
}

func TestProcessEmptySourceSliceIsNoOp(t *testing.T) {
	source := newFakeHistogramStore()
	m := metric.Metric{Name: "latency", Type: metric.Timer}

	target := newFakeHistogramStore()
	meta := newFakeMetaStore()
	stats := &fakeStatStore{}
	p := newTestHistogramProcessor(source, target, meta, stats)

	completion, err := p.Process(context.Background(), m, window.Timestamp(30000))
	require.NoError(t, err)

	assert.True(t, completion.NoOp)
	assert.Equal(t, 0, completion.SourcesRemoved)
	assert.Empty(t, stats.stored)

	_, absent, err := meta.GetLastProcessed(context.Background(), m, w30s)
	require.NoError(t, err)
	assert.True(t, absent)
}

func TestProcessDerivedBucketsPublishedToNextWindowSourceAndCache(t *testing.T) {
	source := newFakeHistogramStore()
	m := metric.Metric{Name: "latency", Type: metric.Timer}
	source.rows[m] = []bucket.HistogramBucket{rawHistogramBucket(1, 10, 20)}

	target := newFakeHistogramStore()
	meta := newFakeMetaStore()
	stats := &fakeStatStore{}
	cache := bucketcache.NewHistogramCache(bucketcache.Config{
		Enabled:      true,
		IsEnabledFor: func(metric.Type) bool { return true },
		MaxMetrics:   1000,
		MaxStore:     1000,
	}, w30s, zap.NewNop())

	p := newTestHistogramProcessor(source, target, meta, stats)
	p.Cache = cache

	_, err := p.Process(context.Background(), m, window.Timestamp(30000))
	require.NoError(t, err)

	require.Len(t, target.rows[m], 1)
	assert.Equal(t, int64(0), target.rows[m][0].Num.Number)

	got, hit := cache.MultiGet(m, window.BucketNumber{Number: 0, Duration: w30s}, window.BucketNumber{Number: 1, Duration: w30s})
	require.True(t, hit)
	require.Len(t, got, 1)
	assert.Equal(t, int64(2), got[0].Hist.Count())
}

// A single Process call spanning raw buckets 1, 2, and 30001 emits two
// target buckets (0 and 1). Emissions are persisted newest-first, so the
// cache range must be derived from the emissions' min/max bucket numbers,
// not from derived[0]/derived[len-1] positions.
func TestProcessMultiBucketEmissionPopulatesCacheAcrossWholeRange(t *testing.T) {
	source := newFakeHistogramStore()
	m := metric.Metric{Name: "latency", Type: metric.Timer}
	source.rows[m] = []bucket.HistogramBucket{
		rawHistogramBucket(1, valuesRange(1, 50)...),
		rawHistogramBucket(2, valuesRange(51, 100)...),
		rawHistogramBucket(30001, 100, 100),
	}

	target := newFakeHistogramStore()
	meta := newFakeMetaStore()
	stats := &fakeStatStore{}
	cache := bucketcache.NewHistogramCache(bucketcache.Config{
		Enabled:      true,
		IsEnabledFor: func(metric.Type) bool { return true },
		MaxMetrics:   1000,
		MaxStore:     1000,
	}, w30s, zap.NewNop())

	p := newTestHistogramProcessor(source, target, meta, stats)
	p.Cache = cache

	completion, err := p.Process(context.Background(), m, window.Timestamp(30001))
	require.NoError(t, err)
	assert.Equal(t, 2, completion.SummariesEmitted)

	got, hit := cache.MultiGet(m, window.BucketNumber{Number: 0, Duration: w30s}, window.BucketNumber{Number: 2, Duration: w30s})
	require.True(t, hit)
	require.Len(t, got, 2)
	assert.Equal(t, int64(100), got[0].Hist.Count())
	assert.Equal(t, int64(2), got[1].Hist.Count())
}

func TestProcessCounterMergesAndEmitsSummary(t *testing.T) {
	source := newFakeCounterStore()
	m := metric.Metric{Name: "requests", Type: metric.Counter}
	source.rows[m] = []bucket.CounterBucket{
		{Num: window.BucketNumber{Number: 1, Duration: window.RawDuration}, Counts: 3},
		{Num: window.BucketNumber{Number: 2, Duration: window.RawDuration}, Counts: 6},
	}

	target := newFakeCounterStore()
	meta := newFakeMetaStore()
	counts := &fakeCounterSummaryStore{}
	p := &CounterProcessor{
		Window:       w30s,
		SourceWindow: window.RawDuration,
		Source:       source,
		Target:       target,
		Meta:         meta,
		Counts:       counts,
		Logger:       zap.NewNop(),
		SliceLimit:   10000,
	}

	completion, err := p.Process(context.Background(), m, window.Timestamp(30000))
	require.NoError(t, err)

	assert.Equal(t, 1, completion.SummariesEmitted)
	require.Len(t, counts.stored, 1)
	assert.Equal(t, int64(9), counts.stored[0].Count)
	assert.Empty(t, source.rows[m])
}

func TestCounterProcessReadsFromSourceCacheOnHit(t *testing.T) {
	// Source store is left empty: a correct result here can only have come
	// from SourceCache, proving the counter path actually reads the cache
	// instead of always falling through to the column store.
	source := newFakeCounterStore()
	m := metric.Metric{Name: "requests", Type: metric.Counter}

	target := newFakeCounterStore()
	meta := newFakeMetaStore()
	meta.hwm[m] = map[string]window.Timestamp{w5m.Name: window.Timestamp(-1)}
	counts := &fakeCounterSummaryStore{}

	sourceCache := bucketcache.NewCounterCache(bucketcache.Config{
		Enabled:      true,
		IsEnabledFor: func(metric.Type) bool { return true },
		MaxMetrics:   1000,
		MaxStore:     1000,
	}, w30s, zap.NewNop())

	cachedBucket := bucket.CounterBucket{Num: window.BucketNumber{Number: 0, Duration: w30s}, Counts: 7}
	rangeFrom := window.BucketNumber{Number: -1, Duration: w30s}
	rangeTo := window.BucketNumber{Number: 10, Duration: w30s}
	sourceCache.MultiSet(m, rangeFrom, rangeTo, []bucket.CounterBucket{cachedBucket})

	p := &CounterProcessor{
		Window:       w5m,
		SourceWindow: w30s,
		Source:       source,
		Target:       target,
		SourceCache:  sourceCache,
		Meta:         meta,
		Counts:       counts,
		Logger:       zap.NewNop(),
		SliceLimit:   10000,
	}

	completion, err := p.Process(context.Background(), m, window.Timestamp(300000))
	require.NoError(t, err)

	assert.True(t, completion.CacheHit)
	assert.Equal(t, 11, completion.SourcesRead)
	require.Len(t, counts.stored, 1)
	assert.Equal(t, int64(7), counts.stored[0].Count)
}
