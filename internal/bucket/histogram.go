package bucket

import (
	"math"

	"github.com/DataDog/sketches-go/ddsketch"
)

// DefaultRelativeAccuracy mirrors the accuracy used for DDSketch elsewhere
// in this codebase's ecosystem: +/-1% per bucket.
const DefaultRelativeAccuracy = 0.01

// Histogram is the opaque high-dynamic-range recording structure the
// window processor folds raw samples into and merges across groups. It is
// backed by a DDSketch quantile sketch for percentiles, with min/max/count/
// sum tracked alongside since DDSketch does not expose moments directly.
//
// Histogram is not safe for concurrent use: the concurrency model assumes a
// single (metric, window) pair is never processed by more than one goroutine
// at a time, so no internal locking is implemented here.
type Histogram struct {
	sketch *ddsketch.DDSketch
	count  int64
	sum    float64
	min    float64
	max    float64
}

// NewHistogram creates an empty Histogram with the given relative accuracy.
func NewHistogram(relativeAccuracy float64) *Histogram {
	sketch, err := ddsketch.NewDefaultDDSketch(relativeAccuracy)
	if err != nil {
		// Only invalid accuracy values (<=0 or >=1) cause this; fall back
		// to the default rather than propagating a constructor error for
		// what is effectively a configuration typo.
		sketch, _ = ddsketch.NewDefaultDDSketch(DefaultRelativeAccuracy)
	}
	return &Histogram{
		sketch: sketch,
		min:    math.MaxFloat64,
		max:    -math.MaxFloat64,
	}
}

// RecordValue folds a single non-negative sample into the histogram.
// Callers are responsible for filtering negative values before calling
// this (see ingest's drop-and-warn policy); RecordValue itself does not
// re-validate.
func (h *Histogram) RecordValue(v float64) {
	h.sketch.Add(v)
	h.count++
	h.sum += v
	if v < h.min {
		h.min = v
	}
	if v > h.max {
		h.max = v
	}
}

// Merge folds other's recorded values into h by summation of internal
// sketch bins, matching the "merge by summation of internal counts"
// contract for histogram buckets.
func (h *Histogram) Merge(other *Histogram) {
	if other == nil || other.count == 0 {
		return
	}
	h.sketch.MergeWith(other.sketch)
	h.count += other.count
	h.sum += other.sum
	if other.min < h.min {
		h.min = other.min
	}
	if other.max > h.max {
		h.max = other.max
	}
}

// Count returns the number of samples folded into h.
func (h *Histogram) Count() int64 { return h.count }

// Sum returns the sum of all recorded samples.
func (h *Histogram) Sum() float64 { return h.sum }

// Mean returns the arithmetic mean of all recorded samples, or 0 if empty.
func (h *Histogram) Mean() float64 {
	if h.count == 0 {
		return 0
	}
	return h.sum / float64(h.count)
}

// Min returns the minimum recorded value, or 0 if empty.
func (h *Histogram) Min() float64 {
	if h.count == 0 {
		return 0
	}
	return h.min
}

// Max returns the maximum recorded value, or 0 if empty.
func (h *Histogram) Max() float64 {
	if h.count == 0 {
		return 0
	}
	return h.max
}

// Quantile returns the value at the given quantile in [0, 1]. It returns 0
// if the histogram is empty or the sketch cannot answer (e.g. q out of range).
func (h *Histogram) Quantile(q float64) float64 {
	if h.count == 0 {
		return 0
	}
	v, err := h.sketch.GetValueAtQuantile(q)
	if err != nil {
		return 0
	}
	return v
}

// Percentile is Quantile expressed on a 0-100 scale, matching the
// configured percentiles named in the data model (P50, P80, ...).
func (h *Histogram) Percentile(p float64) float64 { return h.Quantile(p / 100.0) }
