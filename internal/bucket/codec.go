package bucket

import (
	"bytes"
	"encoding/binary"
	"math"

	"google.golang.org/protobuf/proto"

	"github.com/DataDog/sketches-go/ddsketch"
	"github.com/DataDog/sketches-go/ddsketch/pb/sketchpb"
	"github.com/kloudmate/windowcore/internal/window"
)

// Version 1 is the only defined wire version. Readers must reject unknown
// versions by returning a neutral default rather than panicking, so this
// core keeps working across rolling upgrades that introduce version 2+.
const codecVersion byte = 1

func putVarint(buf *bytes.Buffer, v int64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func putUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func putFloat64(buf *bytes.Buffer, v float64) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], math.Float64bits(v))
	buf.Write(tmp[:])
}

func readFloat64(r *bytes.Reader) (float64, error) {
	var tmp [8]byte
	if _, err := r.Read(tmp[:]); err != nil {
		return 0, err
	}
	return math.Float64frombits(binary.BigEndian.Uint64(tmp[:])), nil
}

// SerializeHistogramBucket encodes a non-empty histogram bucket. Callers
// must never pass the EmptyBucket sentinel here — empty slots are encoded
// as a zero-length byte slice directly by the bucket cache, bypassing this
// codec entirely.
func SerializeHistogramBucket(b HistogramBucket) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteByte(codecVersion)
	putVarint(buf, b.Num.Number)
	putVarint(buf, b.Num.Duration.Millis)

	if b.Hist == nil {
		putUvarint(buf, 0)
		putVarint(buf, 0)
		putFloat64(buf, 0)
		putFloat64(buf, 0)
		putFloat64(buf, 0)
		return buf.Bytes(), nil
	}

	pb := b.Hist.sketch.ToProto()
	payload, err := proto.Marshal(pb)
	if err != nil {
		return nil, err
	}
	putUvarint(buf, uint64(len(payload)))
	buf.Write(payload)
	putVarint(buf, b.Hist.count)
	putFloat64(buf, b.Hist.sum)
	putFloat64(buf, b.Hist.min)
	putFloat64(buf, b.Hist.max)
	return buf.Bytes(), nil
}

// DeserializeHistogramBucket decodes a histogram bucket previously written
// by SerializeHistogramBucket. If data carries an unrecognized version (or
// is malformed), ok is false and the returned bucket is the zero value —
// callers substitute the neutral default and continue rather than halting.
func DeserializeHistogramBucket(data []byte) (b HistogramBucket, ok bool) {
	if len(data) == 0 {
		return HistogramBucket{}, false
	}
	r := bytes.NewReader(data)
	version, err := r.ReadByte()
	if err != nil || version != codecVersion {
		return HistogramBucket{}, false
	}

	number, err := binary.ReadVarint(r)
	if err != nil {
		return HistogramBucket{}, false
	}
	millis, err := binary.ReadVarint(r)
	if err != nil {
		return HistogramBucket{}, false
	}
	bn := window.BucketNumber{Number: number, Duration: window.Duration{Millis: millis}}

	payloadLen, err := binary.ReadUvarint(r)
	if err != nil {
		return HistogramBucket{}, false
	}

	if payloadLen == 0 {
		// Encoded empty-histogram moments; skip the trailing fixed fields.
		if _, err := binary.ReadVarint(r); err != nil {
			return HistogramBucket{}, false
		}
		for i := 0; i < 3; i++ {
			if _, err := readFloat64(r); err != nil {
				return HistogramBucket{}, false
			}
		}
		return HistogramBucket{Num: bn, Hist: NewHistogram(DefaultRelativeAccuracy)}, true
	}

	payload := make([]byte, payloadLen)
	if _, err := r.Read(payload); err != nil {
		return HistogramBucket{}, false
	}

	var pb sketchpb.DDSketch
	if err := proto.Unmarshal(payload, &pb); err != nil {
		return HistogramBucket{}, false
	}
	sketch, err := ddsketch.FromProto(&pb)
	if err != nil {
		return HistogramBucket{}, false
	}

	count, err := binary.ReadVarint(r)
	if err != nil {
		return HistogramBucket{}, false
	}
	sum, err := readFloat64(r)
	if err != nil {
		return HistogramBucket{}, false
	}
	min, err := readFloat64(r)
	if err != nil {
		return HistogramBucket{}, false
	}
	max, err := readFloat64(r)
	if err != nil {
		return HistogramBucket{}, false
	}

	return HistogramBucket{Num: bn, Hist: &Histogram{sketch: sketch, count: count, sum: sum, min: min, max: max}}, true
}

// SerializeCounterBucket encodes a non-empty counter bucket.
func SerializeCounterBucket(b CounterBucket) []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte(codecVersion)
	putVarint(buf, b.Num.Number)
	putVarint(buf, b.Num.Duration.Millis)
	putVarint(buf, b.Counts)
	return buf.Bytes()
}

// DeserializeCounterBucket decodes a counter bucket, applying the same
// unknown-version-is-corruption handling as DeserializeHistogramBucket.
func DeserializeCounterBucket(data []byte) (b CounterBucket, ok bool) {
	if len(data) == 0 {
		return CounterBucket{}, false
	}
	r := bytes.NewReader(data)
	version, err := r.ReadByte()
	if err != nil || version != codecVersion {
		return CounterBucket{}, false
	}
	number, err := binary.ReadVarint(r)
	if err != nil {
		return CounterBucket{}, false
	}
	millis, err := binary.ReadVarint(r)
	if err != nil {
		return CounterBucket{}, false
	}
	counts, err := binary.ReadVarint(r)
	if err != nil {
		return CounterBucket{}, false
	}
	bn := window.BucketNumber{Number: number, Duration: window.Duration{Millis: millis}}
	return CounterBucket{Num: bn, Counts: counts}, true
}
