package processor

import (
	"context"
	"sort"

	"github.com/kloudmate/windowcore/internal/bucket"
	"github.com/kloudmate/windowcore/internal/metric"
	"github.com/kloudmate/windowcore/internal/window"
)

// fakeHistogramStore is an in-memory HistogramStore double keyed by metric
// and bucket-number, good enough to exercise the processor's algorithm
// without a ClickHouse connection.
type fakeHistogramStore struct {
	rows map[metric.Metric][]bucket.HistogramBucket
}

func newFakeHistogramStore() *fakeHistogramStore {
	return &fakeHistogramStore{rows: make(map[metric.Metric][]bucket.HistogramBucket)}
}

func (f *fakeHistogramStore) Slice(_ context.Context, m metric.Metric, from, to window.Timestamp, limit int) ([]bucket.HistogramBucket, error) {
	var out []bucket.HistogramBucket
	for _, b := range f.rows[m] {
		ts := b.Num.StartTimestamp()
		if int64(ts) >= int64(from) && int64(ts) <= int64(to) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Num.Less(out[j].Num) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeHistogramStore) Store(_ context.Context, m metric.Metric, _ window.Duration, buckets []bucket.HistogramBucket) error {
	f.rows[m] = append(f.rows[m], buckets...)
	return nil
}

func (f *fakeHistogramStore) Remove(_ context.Context, m metric.Metric, _ window.Duration, buckets []bucket.HistogramBucket) error {
	toRemove := make(map[int64]bool, len(buckets))
	for _, b := range buckets {
		toRemove[b.Num.Number] = true
	}
	var kept []bucket.HistogramBucket
	for _, b := range f.rows[m] {
		if !toRemove[b.Num.Number] {
			kept = append(kept, b)
		}
	}
	f.rows[m] = kept
	return nil
}

type fakeCounterStore struct {
	rows map[metric.Metric][]bucket.CounterBucket
}

func newFakeCounterStore() *fakeCounterStore {
	return &fakeCounterStore{rows: make(map[metric.Metric][]bucket.CounterBucket)}
}

func (f *fakeCounterStore) Slice(_ context.Context, m metric.Metric, from, to window.Timestamp, limit int) ([]bucket.CounterBucket, error) {
	var out []bucket.CounterBucket
	for _, b := range f.rows[m] {
		ts := b.Num.StartTimestamp()
		if int64(ts) >= int64(from) && int64(ts) <= int64(to) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Num.Less(out[j].Num) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeCounterStore) Store(_ context.Context, m metric.Metric, _ window.Duration, buckets []bucket.CounterBucket) error {
	f.rows[m] = append(f.rows[m], buckets...)
	return nil
}

func (f *fakeCounterStore) Remove(_ context.Context, m metric.Metric, _ window.Duration, buckets []bucket.CounterBucket) error {
	toRemove := make(map[int64]bool, len(buckets))
	for _, b := range buckets {
		toRemove[b.Num.Number] = true
	}
	var kept []bucket.CounterBucket
	for _, b := range f.rows[m] {
		if !toRemove[b.Num.Number] {
			kept = append(kept, b)
		}
	}
	f.rows[m] = kept
	return nil
}

type fakeMetaStore struct {
	hwm    map[metric.Metric]map[string]window.Timestamp
	getErr error // when set, GetLastProcessed returns this instead of a real lookup
}

func newFakeMetaStore() *fakeMetaStore {
	return &fakeMetaStore{hwm: make(map[metric.Metric]map[string]window.Timestamp)}
}

func (f *fakeMetaStore) GetLastProcessed(_ context.Context, m metric.Metric, w window.Duration) (window.Timestamp, bool, error) {
	if f.getErr != nil {
		return 0, false, f.getErr
	}
	byWindow, ok := f.hwm[m]
	if !ok {
		return 0, true, nil
	}
	ts, ok := byWindow[w.Name]
	if !ok {
		return 0, true, nil
	}
	return ts, false, nil
}

func (f *fakeMetaStore) UpdateLastProcessed(_ context.Context, m metric.Metric, w window.Duration, ts window.Timestamp) error {
	byWindow, ok := f.hwm[m]
	if !ok {
		byWindow = make(map[string]window.Timestamp)
		f.hwm[m] = byWindow
	}
	byWindow[w.Name] = ts
	return nil
}

func (f *fakeMetaStore) Insert(_ context.Context, m metric.Metric, _ metric.Type) error { return nil }
func (f *fakeMetaStore) Contains(_ context.Context, m metric.Metric) (bool, error)      { return false, nil }

type fakeStatStore struct {
	stored []bucket.StatisticSummary
}

func (f *fakeStatStore) Store(_ context.Context, _ metric.Metric, _ window.Duration, summaries []bucket.StatisticSummary) error {
	f.stored = append(f.stored, summaries...)
	return nil
}

type fakeGaugeStore struct {
	stored []bucket.GaugeSummary
}

func (f *fakeGaugeStore) Store(_ context.Context, _ metric.Metric, _ window.Duration, summaries []bucket.GaugeSummary) error {
	f.stored = append(f.stored, summaries...)
	return nil
}

type fakeCounterSummaryStore struct {
	stored []bucket.CounterSummary
}

func (f *fakeCounterSummaryStore) Store(_ context.Context, _ metric.Metric, _ window.Duration, summaries []bucket.CounterSummary) error {
	f.stored = append(f.stored, summaries...)
	return nil
}
