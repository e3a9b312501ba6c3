package bucket

import "github.com/kloudmate/windowcore/internal/window"

// Kind distinguishes the two bucket arms the core maintains. It replaces
// the dynamic-dispatch bucket hierarchy of the source system with a plain
// tagged sum, per the re-architecture guidance: a shared BucketNumber field
// on each concrete variant rather than an inheritance marker.
type Kind int8

const (
	HistogramKind Kind = iota
	CounterKind
)

// Bucket is the minimal shared surface both variants implement.
type Bucket interface {
	BucketNumber() window.BucketNumber
	Kind() Kind
	IsEmpty() bool
}

// HistogramBucket pairs a bucket-number with a Histogram. A nil Hist marks
// the EmptyBucket sentinel variant: the bucket-number is then Undefined
// and there is no summary to derive from it.
type HistogramBucket struct {
	Num  window.BucketNumber
	Hist *Histogram
}

func (b HistogramBucket) BucketNumber() window.BucketNumber { return b.Num }
func (b HistogramBucket) Kind() Kind                         { return HistogramKind }
func (b HistogramBucket) IsEmpty() bool                      { return b.Hist == nil }

// EmptyHistogramBucket constructs the EmptyBucket sentinel for the
// histogram arm.
func EmptyHistogramBucket() HistogramBucket {
	return HistogramBucket{Num: window.Undefined, Hist: nil}
}

// CounterBucket pairs a bucket-number with an integer count. Empty marks
// the EmptyBucket sentinel variant.
type CounterBucket struct {
	Num    window.BucketNumber
	Counts int64
	Empty  bool
}

func (b CounterBucket) BucketNumber() window.BucketNumber { return b.Num }
func (b CounterBucket) Kind() Kind                         { return CounterKind }
func (b CounterBucket) IsEmpty() bool                      { return b.Empty }

// EmptyCounterBucket constructs the EmptyBucket sentinel for the counter arm.
func EmptyCounterBucket() CounterBucket {
	return CounterBucket{Num: window.Undefined, Empty: true}
}

// MergeHistogramBuckets folds a non-empty set of source histogram buckets
// into a single bucket at targetBN, by histogram union.
func MergeHistogramBuckets(targetBN window.BucketNumber, members []HistogramBucket, relativeAccuracy float64) HistogramBucket {
	h := NewHistogram(relativeAccuracy)
	for _, m := range members {
		if m.Hist != nil {
			h.Merge(m.Hist)
		}
	}
	return HistogramBucket{Num: targetBN, Hist: h}
}

// MergeCounterBuckets folds a non-empty set of source counter buckets into
// a single bucket at targetBN, by integer summation.
func MergeCounterBuckets(targetBN window.BucketNumber, members []CounterBucket) CounterBucket {
	var total int64
	for _, m := range members {
		if !m.Empty {
			total += m.Counts
		}
	}
	return CounterBucket{Num: targetBN, Counts: total}
}
