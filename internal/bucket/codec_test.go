package bucket

import (
	"testing"

	"github.com/kloudmate/windowcore/internal/window"
)

func TestCounterBucketRoundTrip(t *testing.T) {
	b := CounterBucket{Num: window.BucketNumber{Number: 42, Duration: window.Duration{Millis: 5000}}, Counts: 9}

	data := SerializeCounterBucket(b)
	got, ok := DeserializeCounterBucket(data)
	if !ok {
		t.Fatalf("expected successful decode")
	}
	if got != b {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, b)
	}
}

func TestHistogramBucketRoundTrip(t *testing.T) {
	h := NewHistogram(DefaultRelativeAccuracy)
	h.RecordValue(1)
	h.RecordValue(50)
	h.RecordValue(100)

	b := HistogramBucket{Num: window.BucketNumber{Number: 7, Duration: window.Duration{Millis: 30000}}, Hist: h}

	data, err := SerializeHistogramBucket(b)
	if err != nil {
		t.Fatalf("serialize failed: %v", err)
	}

	got, ok := DeserializeHistogramBucket(data)
	if !ok {
		t.Fatalf("expected successful decode")
	}
	if !got.Num.Equal(b.Num) {
		t.Fatalf("bucket number mismatch: got %+v want %+v", got.Num, b.Num)
	}
	if got.Hist.Count() != 3 {
		t.Fatalf("expected count 3, got %d", got.Hist.Count())
	}
	if got.Hist.Min() != 1 || got.Hist.Max() != 100 {
		t.Fatalf("expected min=1 max=100, got min=%f max=%f", got.Hist.Min(), got.Hist.Max())
	}
}

func TestDeserializeHistogramBucketUnknownVersion(t *testing.T) {
	_, ok := DeserializeHistogramBucket([]byte{99, 1, 2, 3})
	if ok {
		t.Fatalf("expected unknown version to report ok=false")
	}
}

func TestDeserializeCounterBucketUnknownVersion(t *testing.T) {
	_, ok := DeserializeCounterBucket([]byte{99, 1, 2, 3})
	if ok {
		t.Fatalf("expected unknown version to report ok=false")
	}
}

func TestSummaryRoundTrips(t *testing.T) {
	stat := StatisticSummary{TS: 30000, P50: 1, P80: 2, P90: 3, P95: 4, P99: 5, P999: 6, Min: 0, Max: 10, Mean: 5, Count: 100}
	got, ok := DeserializeStatisticSummary(SerializeStatisticSummary(stat))
	if !ok || got != stat {
		t.Fatalf("statistic summary round-trip mismatch: got %+v want %+v (ok=%v)", got, stat, ok)
	}

	gauge := GaugeSummary{TS: 30000, Min: 1, Max: 2, Mean: 1.5, Count: 10}
	gotGauge, ok := DeserializeGaugeSummary(SerializeGaugeSummary(gauge))
	if !ok || gotGauge != gauge {
		t.Fatalf("gauge summary round-trip mismatch: got %+v want %+v (ok=%v)", gotGauge, gauge, ok)
	}

	counter := CounterSummary{TS: 30000, Count: 9}
	gotCounter, ok := DeserializeCounterSummary(SerializeCounterSummary(counter))
	if !ok || gotCounter != counter {
		t.Fatalf("counter summary round-trip mismatch: got %+v want %+v (ok=%v)", gotCounter, counter, ok)
	}
}
