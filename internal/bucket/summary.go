package bucket

import "github.com/kloudmate/windowcore/internal/window"

// SummaryKind tags the three Summary variants.
type SummaryKind int8

const (
	StatisticSummaryKind SummaryKind = iota
	CounterSummaryKind
	GaugeSummaryKind
)

// Summary is the minimal shared surface of the three summary variants.
type Summary interface {
	Timestamp() window.Timestamp
	SummaryKind() SummaryKind
}

// StatisticSummary is the compact statistical projection derived from a
// Timer's merged histogram bucket: the configured percentiles plus the
// moments read directly off the histogram.
type StatisticSummary struct {
	TS                                        window.Timestamp
	P50, P80, P90, P95, P99, P999             float64
	Min, Max, Mean                            float64
	Count                                     int64
}

func (s StatisticSummary) Timestamp() window.Timestamp { return s.TS }
func (s StatisticSummary) SummaryKind() SummaryKind     { return StatisticSummaryKind }

// DeriveStatisticSummary reads percentiles and moments off a merged
// histogram bucket, per the configured percentile set (P50, P80, P90, P95,
// P99, P999).
func DeriveStatisticSummary(b HistogramBucket) StatisticSummary {
	ts := b.Num.StartTimestamp()
	if b.Hist == nil {
		return StatisticSummary{TS: ts}
	}
	h := b.Hist
	return StatisticSummary{
		TS:    ts,
		P50:   h.Percentile(50),
		P80:   h.Percentile(80),
		P90:   h.Percentile(90),
		P95:   h.Percentile(95),
		P99:   h.Percentile(99),
		P999:  h.Percentile(99.9),
		Min:   h.Min(),
		Max:   h.Max(),
		Mean:  h.Mean(),
		Count: h.Count(),
	}
}

// GaugeSummary is the moments-only projection for Gauge metrics: no
// percentiles are read, even though gauge samples are folded into a
// Histogram the same way timer samples are (per the measurement store
// path's shared "histogram path" for Timer and Gauge).
type GaugeSummary struct {
	TS              window.Timestamp
	Min, Max, Mean  float64
	Count           int64
}

func (s GaugeSummary) Timestamp() window.Timestamp { return s.TS }
func (s GaugeSummary) SummaryKind() SummaryKind     { return GaugeSummaryKind }

// DeriveGaugeSummary reads only the moments off a merged histogram bucket.
func DeriveGaugeSummary(b HistogramBucket) GaugeSummary {
	ts := b.Num.StartTimestamp()
	if b.Hist == nil {
		return GaugeSummary{TS: ts}
	}
	h := b.Hist
	return GaugeSummary{TS: ts, Min: h.Min(), Max: h.Max(), Mean: h.Mean(), Count: h.Count()}
}

// CounterSummary is the projection for Counter metrics: just the summed count.
type CounterSummary struct {
	TS    window.Timestamp
	Count int64
}

func (s CounterSummary) Timestamp() window.Timestamp { return s.TS }
func (s CounterSummary) SummaryKind() SummaryKind     { return CounterSummaryKind }

// DeriveCounterSummary reads the summed count off a merged counter bucket.
func DeriveCounterSummary(b CounterBucket) CounterSummary {
	return CounterSummary{TS: b.Num.StartTimestamp(), Count: b.Counts}
}
