// Package waveform holds the core data model for seismic waveform time
// series: time intervals, contiguous sample runs (segments), per-channel
// segment collections, and the discontinuity rules that number them.
package waveform

import (
	"context"
	"fmt"
	"math"

	xerrors "github.com/agonzales-usgs/xmax-1.07/internal/errors"
)

// Thresholds parameterize discontinuity detection, expressed as multiples
// of the expected sample interval (1/sampleRate).
type Thresholds struct {
	// GapFactor is the multiple beyond which a delta counts as a gap.
	GapFactor float64
	// BreakFactor is the multiple beyond which a delta counts as a break.
	BreakFactor float64
}

// DefaultThresholds returns the default gap/break factors.
func DefaultThresholds() Thresholds {
	return Thresholds{GapFactor: 1.5, BreakFactor: 10.0}
}

// IsDataGap reports whether the delta between a segment end and the next
// segment start exceeds the gap threshold for the given sample rate.
// A break is also a gap.
func IsDataGap(prevEndMs, nextStartMs int64, sampleRate float64, th Thresholds) bool {
	return exceeds(prevEndMs, nextStartMs, sampleRate, th.GapFactor)
}

// IsDataBreak reports whether the delta between a segment end and the
// next segment start exceeds the break threshold for the given sample
// rate, splitting the trace into a new logical series.
func IsDataBreak(prevEndMs, nextStartMs int64, sampleRate float64, th Thresholds) bool {
	return exceeds(prevEndMs, nextStartMs, sampleRate, th.BreakFactor)
}

func exceeds(prevEndMs, nextStartMs int64, sampleRate float64, factor float64) bool {
	if sampleRate <= 0 {
		return false
	}
	delta := math.Abs(float64(nextStartMs - prevEndMs))
	expected := 1000.0 / sampleRate
	return delta > factor*expected
}

// SegmentData is a slice of samples cut from a segment, carrying enough
// context to place each sample in time.
type SegmentData struct {
	StartMs    int64
	SampleRate float64
	Samples    []int32
}

// Empty reports whether the slice holds no samples.
func (d SegmentData) Empty() bool {
	return len(d.Samples) == 0
}

// TimeRange returns the half-open range covered by the slice.
func (d SegmentData) TimeRange() TimeInterval {
	return TimeInterval{Start: d.StartMs, End: d.StartMs + durationMs(len(d.Samples), d.SampleRate)}
}

// Segment is a single contiguous run of samples from one source for one
// channel. Its sample payload is in exactly one of three states: resident
// in memory, resident on an associated spill file, or absent (re-readable
// from the originating source).
//
// A Segment is not internally synchronized; the owning channel's lock
// guards all mutation.
type Segment struct {
	source Source

	startMs     int64
	sampleRate  float64
	sampleCount int

	// dataOff is the sample payload offset within the source file,
	// -1 when the source does not support offset reads.
	dataOff int64

	data     []int32
	spill    *SpillFile
	spillOff int64

	// Serial numbers are valid only immediately after a channel sort.
	segmentSerial    int
	sourceSerial     int
	continuitySerial int
}

// NewSegment creates an unloaded segment backed by its source.
func NewSegment(src Source, startMs int64, sampleRate float64, sampleCount int, dataOff int64) *Segment {
	return &Segment{
		source:      src,
		startMs:     startMs,
		sampleRate:  sampleRate,
		sampleCount: sampleCount,
		dataOff:     dataOff,
		spillOff:    -1,
	}
}

// NewResidentSegment creates a segment whose payload is already in
// memory. Used when splitting segments during range deletion.
func NewResidentSegment(src Source, d SegmentData) *Segment {
	return &Segment{
		source:      src,
		startMs:     d.StartMs,
		sampleRate:  d.SampleRate,
		sampleCount: len(d.Samples),
		dataOff:     -1,
		data:        d.Samples,
		spillOff:    -1,
	}
}

// NewPlaceholderSegment creates the zero-length marker segment that tags
// a network-backed channel.
func NewPlaceholderSegment(src Source) *Segment {
	return &Segment{source: src, dataOff: -1, spillOff: -1}
}

func (s *Segment) Source() Source       { return s.source }
func (s *Segment) StartMs() int64       { return s.startMs }
func (s *Segment) SampleRate() float64  { return s.sampleRate }
func (s *Segment) SampleCount() int     { return s.sampleCount }
func (s *Segment) DataOffset() int64    { return s.dataOff }
func (s *Segment) SpillOffset() int64   { return s.spillOff }

// EndMs returns the end of the covered range: start + count/rate.
func (s *Segment) EndMs() int64 {
	return s.startMs + durationMs(s.sampleCount, s.sampleRate)
}

// TimeRange returns the half-open range covered by the segment.
func (s *Segment) TimeRange() TimeInterval {
	return TimeInterval{Start: s.startMs, End: s.EndMs()}
}

// IsPlaceholder reports whether this is the zero-length live-feed marker.
func (s *Segment) IsPlaceholder() bool {
	return s.sampleCount == 0 && s.sampleRate == 0 && s.dataOff == -1
}

// Resident reports whether the payload is in memory.
func (s *Segment) Resident() bool {
	return s.data != nil
}

// SegmentSerial increments between segments separated by a break.
func (s *Segment) SegmentSerial() int { return s.segmentSerial }

// SourceSerial increments when the originating source changes.
func (s *Segment) SourceSerial() int { return s.sourceSerial }

// ContinuitySerial increments between segments separated by a gap that is
// not a break.
func (s *Segment) ContinuitySerial() int { return s.continuitySerial }

func (s *Segment) setSerials(segment, source, continuity int) {
	s.segmentSerial = segment
	s.sourceSerial = source
	s.continuitySerial = continuity
}

// SetData installs an in-memory payload. The count must match the
// segment's declared sample count.
func (s *Segment) SetData(samples []int32) error {
	if len(samples) != s.sampleCount {
		return fmt.Errorf("payload has %d samples, segment declares %d: %w",
			len(samples), s.sampleCount, xerrors.ErrSourceParse)
	}
	s.data = samples
	return nil
}

// SetSpill re-associates the segment with a spill file. Called from the
// owning channel so the whole collection shares one file.
func (s *Segment) SetSpill(sp *SpillFile) {
	s.spill = sp
	if sp == nil {
		s.spillOff = -1
	}
}

// SetSpillOffset records where the payload lives inside the spill file.
func (s *Segment) SetSpillOffset(off int64) {
	s.spillOff = off
}

// Load makes the payload resident. It is idempotent: an already-loaded
// segment is untouched. The payload comes from the spill file when a
// slot exists, otherwise from the originating source.
func (s *Segment) Load(ctx context.Context) error {
	if s.data != nil {
		return nil
	}
	if s.sampleCount == 0 {
		s.data = []int32{}
		return nil
	}

	if s.spill != nil && s.spillOff >= 0 {
		samples, err := s.spill.ReadBlock(s.spillOff)
		if err != nil {
			return xerrors.Wrapf(err, "spill read at %d", s.spillOff)
		}
		return s.SetData(samples)
	}

	if s.source == nil {
		return xerrors.ErrNotResident
	}
	samples, err := s.source.LoadSegment(ctx, s)
	if err != nil {
		return xerrors.Wrapf(err, "load from %s", s.source.Name())
	}
	return s.SetData(samples)
}

// Drop releases the in-memory payload. If a spill slot exists the payload
// stays retrievable from disk; otherwise the next Load re-reads the
// original source.
func (s *Segment) Drop() {
	s.data = nil
}

// Spill writes the resident payload to the spill file and records the
// block offset, so a later Drop/Load round trip avoids the source.
func (s *Segment) Spill() error {
	if s.spill == nil {
		return fmt.Errorf("no spill target: %w", xerrors.ErrNotResident)
	}
	if s.data == nil {
		return xerrors.ErrNotResident
	}
	off, err := s.spill.StoreBlock(s.data)
	if err != nil {
		return err
	}
	s.spillOff = off
	return nil
}

// Data returns the sub-slice of resident samples whose timestamps fall in
// iv. The result is empty when iv does not intersect the segment or the
// payload is not resident.
func (s *Segment) Data(iv TimeInterval) SegmentData {
	if s.data == nil || s.sampleRate <= 0 {
		return SegmentData{StartMs: s.startMs, SampleRate: s.sampleRate}
	}

	first := indexCeil(iv.Start-s.startMs, s.sampleRate)
	if first < 0 {
		first = 0
	}
	end := indexCeil(iv.End-s.startMs, s.sampleRate)
	if end > s.sampleCount {
		end = s.sampleCount
	}
	if first >= end {
		return SegmentData{StartMs: s.startMs, SampleRate: s.sampleRate}
	}

	return SegmentData{
		StartMs:    s.startMs + durationMs(first, s.sampleRate),
		SampleRate: s.sampleRate,
		Samples:    s.data[first:end],
	}
}

// MinMax returns the extremes of the resident payload.
func (s *Segment) MinMax() (minV, maxV int32, ok bool) {
	if len(s.data) == 0 {
		return 0, 0, false
	}
	minV, maxV = s.data[0], s.data[0]
	for _, v := range s.data[1:] {
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	return minV, maxV, true
}

// String returns a debug representation.
func (s *Segment) String() string {
	src := "<none>"
	if s.source != nil {
		src = s.source.Name()
	}
	return fmt.Sprintf("segment{%s rate=%g count=%d src=%s}", s.TimeRange(), s.sampleRate, s.sampleCount, src)
}

// durationMs converts a sample count at a rate into milliseconds.
func durationMs(count int, rate float64) int64 {
	if rate <= 0 {
		return 0
	}
	return int64(math.Round(float64(count) * 1000.0 / rate))
}

// indexCeil returns the first sample index at or after the relative
// millisecond offset.
func indexCeil(relMs int64, rate float64) int {
	return int(math.Ceil(float64(relMs) * rate / 1000.0))
}
