package waveform

import (
	"fmt"
	"time"

	xerrors "github.com/agonzales-usgs/xmax-1.07/internal/errors"
)

// TimeInterval is a half-open time range [Start, End) in Unix
// milliseconds. The zero value is the empty interval at the epoch.
//
// TimeInterval is an immutable value type; all operations return new
// values. The one mutating accumulator is Span, used only to collect the
// aggregate range over a set of channels.
type TimeInterval struct {
	Start int64
	End   int64
}

// NewInterval creates a TimeInterval, rejecting start > end.
func NewInterval(startMs, endMs int64) (TimeInterval, error) {
	if startMs > endMs {
		return TimeInterval{}, fmt.Errorf("start %d after end %d: %w", startMs, endMs, xerrors.ErrMalformedInterval)
	}
	return TimeInterval{Start: startMs, End: endMs}, nil
}

// MustInterval is NewInterval for literals; it panics on a malformed range.
func MustInterval(startMs, endMs int64) TimeInterval {
	iv, err := NewInterval(startMs, endMs)
	if err != nil {
		panic(err)
	}
	return iv
}

// Empty reports whether the interval contains no points.
func (iv TimeInterval) Empty() bool {
	return iv.Start >= iv.End
}

// Duration returns the interval length.
func (iv TimeInterval) Duration() time.Duration {
	return time.Duration(iv.End-iv.Start) * time.Millisecond
}

// StartTime returns the start as a time.Time.
func (iv TimeInterval) StartTime() time.Time {
	return time.UnixMilli(iv.Start)
}

// EndTime returns the end as a time.Time.
func (iv TimeInterval) EndTime() time.Time {
	return time.UnixMilli(iv.End)
}

// ContainsPoint reports whether the timestamp falls inside the interval.
func (iv TimeInterval) ContainsPoint(ms int64) bool {
	return ms >= iv.Start && ms < iv.End
}

// Contains reports whether other lies fully inside iv.
func (iv TimeInterval) Contains(other TimeInterval) bool {
	return other.Start >= iv.Start && other.End <= iv.End
}

// Overlaps reports whether the two intervals share any point.
func (iv TimeInterval) Overlaps(other TimeInterval) bool {
	return iv.Start < other.End && other.Start < iv.End
}

// Intersect returns the common sub-interval and whether one exists.
func Intersect(a, b TimeInterval) (TimeInterval, bool) {
	start := max64(a.Start, b.Start)
	end := min64(a.End, b.End)
	if start >= end {
		return TimeInterval{}, false
	}
	return TimeInterval{Start: start, End: end}, true
}

// Union returns the smallest interval covering both a and b.
func Union(a, b TimeInterval) TimeInterval {
	return TimeInterval{Start: min64(a.Start, b.Start), End: max64(a.End, b.End)}
}

// String returns a human-readable representation for logs.
func (iv TimeInterval) String() string {
	return fmt.Sprintf("[%s, %s)",
		iv.StartTime().UTC().Format("2006-01-02T15:04:05.000"),
		iv.EndTime().UTC().Format("2006-01-02T15:04:05.000"))
}

// Span accumulates a min/max time range over a set of values. Unlike
// TimeInterval it mutates in place; it exists only to build the
// all-channels aggregate range.
type Span struct {
	start int64
	end   int64
	set   bool
}

// GrowToInclude extends the span to cover the timestamp.
func (s *Span) GrowToInclude(ms int64) {
	if !s.set {
		s.start, s.end, s.set = ms, ms, true
		return
	}
	if ms < s.start {
		s.start = ms
	}
	if ms > s.end {
		s.end = ms
	}
}

// GrowToIncludeInterval extends the span to cover the interval.
func (s *Span) GrowToIncludeInterval(iv TimeInterval) {
	s.GrowToInclude(iv.Start)
	s.GrowToInclude(iv.End)
}

// Interval returns the accumulated range and whether anything was added.
func (s *Span) Interval() (TimeInterval, bool) {
	if !s.set {
		return TimeInterval{}, false
	}
	return TimeInterval{Start: s.start, End: s.end}, true
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
