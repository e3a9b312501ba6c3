package bucket

import (
	"math"
	"testing"

	"github.com/kloudmate/windowcore/internal/window"
)

func TestHistogramRecordAndPercentiles(t *testing.T) {
	h := NewHistogram(DefaultRelativeAccuracy)
	for i := 1; i <= 50; i++ {
		h.RecordValue(float64(i))
	}
	for i := 51; i <= 100; i++ {
		h.RecordValue(float64(i))
	}

	if h.Count() != 100 {
		t.Fatalf("expected count 100, got %d", h.Count())
	}
	if h.Min() != 1 {
		t.Errorf("expected min 1, got %f", h.Min())
	}
	if h.Max() != 100 {
		t.Errorf("expected max 100, got %f", h.Max())
	}
	if math.Abs(h.Mean()-50.5) > 0.01 {
		t.Errorf("expected mean ~50.5, got %f", h.Mean())
	}
	if p50 := h.Percentile(50); math.Abs(p50-50) > 2 {
		t.Errorf("expected p50 ~50 (+-2), got %f", p50)
	}
}

func TestHistogramMerge(t *testing.T) {
	a := NewHistogram(DefaultRelativeAccuracy)
	a.RecordValue(1)
	a.RecordValue(2)

	b := NewHistogram(DefaultRelativeAccuracy)
	b.RecordValue(3)
	b.RecordValue(4)

	a.Merge(b)

	if a.Count() != 4 {
		t.Fatalf("expected merged count 4, got %d", a.Count())
	}
	if a.Sum() != 10 {
		t.Errorf("expected merged sum 10, got %f", a.Sum())
	}
	if a.Min() != 1 || a.Max() != 4 {
		t.Errorf("expected min=1 max=4, got min=%f max=%f", a.Min(), a.Max())
	}
}

func TestMergeCounterBuckets(t *testing.T) {
	raw := window.RawDuration
	target := window.BucketNumber{Number: 0, Duration: window.Duration{Millis: 30000}}

	members := []CounterBucket{
		{Num: window.BucketNumber{Number: 1, Duration: raw}, Counts: 9},
		{Num: window.BucketNumber{Number: 2, Duration: raw}, Counts: 3},
		EmptyCounterBucket(),
	}

	merged := MergeCounterBuckets(target, members)
	if merged.Counts != 12 {
		t.Fatalf("expected merged counts 12, got %d", merged.Counts)
	}
	if !merged.Num.Equal(target) {
		t.Errorf("expected merged bucket number to equal target")
	}
}

func TestDeriveStatisticSummaryTwoBucketScenario(t *testing.T) {
	raw := window.RawDuration
	w30s := window.Duration{Millis: 30000, Name: "30s"}

	h1 := NewHistogram(DefaultRelativeAccuracy)
	for i := 1; i <= 50; i++ {
		h1.RecordValue(float64(i))
	}
	b1 := HistogramBucket{Num: window.BucketNumber{Number: 1, Duration: raw}, Hist: h1}

	h2 := NewHistogram(DefaultRelativeAccuracy)
	for i := 51; i <= 100; i++ {
		h2.RecordValue(float64(i))
	}
	b2 := HistogramBucket{Num: window.BucketNumber{Number: 2, Duration: raw}, Hist: h2}

	target := b1.Num.Rebase(w30s)
	merged := MergeHistogramBuckets(target, []HistogramBucket{b1, b2}, DefaultRelativeAccuracy)

	summary := DeriveStatisticSummary(merged)
	if summary.Count != 100 {
		t.Fatalf("expected count 100, got %d", summary.Count)
	}
	if summary.Min != 1 || summary.Max != 100 {
		t.Errorf("expected min=1 max=100, got min=%f max=%f", summary.Min, summary.Max)
	}
	if math.Abs(summary.Mean-50.5) > 0.01 {
		t.Errorf("expected mean ~50.5, got %f", summary.Mean)
	}
}
