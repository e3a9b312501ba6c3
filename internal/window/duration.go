// Package window provides the alignment arithmetic that underlies every
// bucket and tick in the aggregation core: integer millisecond math only,
// no floating point, so bucket boundaries never drift.
package window

import "fmt"

// Duration is a configured window width, expressed in whole milliseconds.
// Name (e.g. "30s") labels the window in logs, table names and the
// window_name column of stored rows; Equal compares widths only.
type Duration struct {
	Millis int64
	Name   string
}

// RawDuration is the finest bucket width, fixed at 1 millisecond.
var RawDuration = Duration{Millis: 1, Name: "raw"}

// ToMillis returns the duration's width in milliseconds.
func (d Duration) ToMillis() int64 { return d.Millis }

func (d Duration) String() string {
	if d.Name != "" {
		return d.Name
	}
	return fmt.Sprintf("%dms", d.Millis)
}

// Equal reports whether two durations have the same width.
func (d Duration) Equal(other Duration) bool { return d.Millis == other.Millis }

// IsRaw reports whether d is the raw (1ms) duration.
func (d Duration) IsRaw() bool { return d.Millis == RawDuration.Millis }
