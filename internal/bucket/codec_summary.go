package bucket

import (
	"bytes"
	"encoding/binary"

	"github.com/kloudmate/windowcore/internal/window"
)

// SerializeStatisticSummary encodes a StatisticSummary for the summary
// store's summaryBlob column.
func SerializeStatisticSummary(s StatisticSummary) []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte(codecVersion)
	putVarint(buf, int64(s.TS))
	for _, v := range []float64{s.P50, s.P80, s.P90, s.P95, s.P99, s.P999, s.Min, s.Max, s.Mean} {
		putFloat64(buf, v)
	}
	putVarint(buf, s.Count)
	return buf.Bytes()
}

// DeserializeStatisticSummary decodes a StatisticSummary; unknown versions
// or malformed payloads yield the all-zero neutral default and ok=false.
func DeserializeStatisticSummary(data []byte) (s StatisticSummary, ok bool) {
	r := bytes.NewReader(data)
	version, err := r.ReadByte()
	if err != nil || version != codecVersion {
		return StatisticSummary{}, false
	}
	ts, err := binary.ReadVarint(r)
	if err != nil {
		return StatisticSummary{}, false
	}
	vals := make([]float64, 9)
	for i := range vals {
		v, err := readFloat64(r)
		if err != nil {
			return StatisticSummary{}, false
		}
		vals[i] = v
	}
	count, err := binary.ReadVarint(r)
	if err != nil {
		return StatisticSummary{}, false
	}
	return StatisticSummary{
		TS: window.Timestamp(ts),
		P50: vals[0], P80: vals[1], P90: vals[2], P95: vals[3], P99: vals[4], P999: vals[5],
		Min: vals[6], Max: vals[7], Mean: vals[8],
		Count: count,
	}, true
}

// SerializeGaugeSummary encodes a GaugeSummary.
func SerializeGaugeSummary(s GaugeSummary) []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte(codecVersion)
	putVarint(buf, int64(s.TS))
	putFloat64(buf, s.Min)
	putFloat64(buf, s.Max)
	putFloat64(buf, s.Mean)
	putVarint(buf, s.Count)
	return buf.Bytes()
}

// DeserializeGaugeSummary decodes a GaugeSummary.
func DeserializeGaugeSummary(data []byte) (s GaugeSummary, ok bool) {
	r := bytes.NewReader(data)
	version, err := r.ReadByte()
	if err != nil || version != codecVersion {
		return GaugeSummary{}, false
	}
	ts, err := binary.ReadVarint(r)
	if err != nil {
		return GaugeSummary{}, false
	}
	min, err := readFloat64(r)
	if err != nil {
		return GaugeSummary{}, false
	}
	max, err := readFloat64(r)
	if err != nil {
		return GaugeSummary{}, false
	}
	mean, err := readFloat64(r)
	if err != nil {
		return GaugeSummary{}, false
	}
	count, err := binary.ReadVarint(r)
	if err != nil {
		return GaugeSummary{}, false
	}
	return GaugeSummary{TS: window.Timestamp(ts), Min: min, Max: max, Mean: mean, Count: count}, true
}

// SerializeCounterSummary encodes a CounterSummary.
func SerializeCounterSummary(s CounterSummary) []byte {
	buf := &bytes.Buffer{}
	buf.WriteByte(codecVersion)
	putVarint(buf, int64(s.TS))
	putVarint(buf, s.Count)
	return buf.Bytes()
}

// DeserializeCounterSummary decodes a CounterSummary.
func DeserializeCounterSummary(data []byte) (s CounterSummary, ok bool) {
	r := bytes.NewReader(data)
	version, err := r.ReadByte()
	if err != nil || version != codecVersion {
		return CounterSummary{}, false
	}
	ts, err := binary.ReadVarint(r)
	if err != nil {
		return CounterSummary{}, false
	}
	count, err := binary.ReadVarint(r)
	if err != nil {
		return CounterSummary{}, false
	}
	return CounterSummary{TS: window.Timestamp(ts), Count: count}, true
}
