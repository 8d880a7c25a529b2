package waveform

import xerrors "github.com/agonzales-usgs/xmax-1.07/internal/errors"

// Filter is an opaque sample transform. The core never looks inside a
// filter; it only applies it and caches the result under its identity.
type Filter interface {
	// ID identifies the filter for derivative caching. Two filters with
	// the same ID must produce the same output for the same input.
	ID() string

	// Apply transforms a sample array. It must not mutate its input and
	// must preserve length.
	Apply(samples []int32) []int32
}

// SegmentCache owns one initial segment plus transient filtered
// derivatives keyed by filter identity. Derivatives are pure caches:
// never serialized, always reconstructable by re-applying the filter.
//
// Ordering is by the initial segment's start time only; entries with
// equal start times compare equal regardless of other fields. Callers
// must not rely on this as a total order over distinct segments.
//
// SegmentCache is not internally synchronized; the owning channel's lock
// guards all access.
type SegmentCache struct {
	initial  *Segment
	filtered map[string]*Segment
}

// NewSegmentCache wraps a segment.
func NewSegmentCache(seg *Segment) *SegmentCache {
	return &SegmentCache{initial: seg}
}

// Segment returns the original, unfiltered segment.
func (c *SegmentCache) Segment() *Segment {
	return c.initial
}

// SetSegment replaces the initial data and invalidates derivatives.
func (c *SegmentCache) SetSegment(seg *Segment) {
	c.initial = seg
	c.filtered = nil
}

// Filtered returns the segment transformed by f, caching the derivative.
// A nil filter returns the initial segment. The initial payload must be
// resident.
func (c *SegmentCache) Filtered(f Filter) (*Segment, error) {
	if f == nil {
		return c.initial, nil
	}
	if cached, ok := c.filtered[f.ID()]; ok {
		return cached, nil
	}
	if !c.initial.Resident() {
		return nil, xerrors.ErrNotResident
	}

	derived := NewResidentSegment(c.initial.Source(), SegmentData{
		StartMs:    c.initial.StartMs(),
		SampleRate: c.initial.SampleRate(),
		Samples:    f.Apply(c.initial.data),
	})
	if c.filtered == nil {
		c.filtered = make(map[string]*Segment)
	}
	c.filtered[f.ID()] = derived
	return derived, nil
}

// DropDerivatives clears the filter cache only.
func (c *SegmentCache) DropDerivatives() {
	c.filtered = nil
}

// Drop clears filter derivatives, then drops the underlying segment.
func (c *SegmentCache) Drop() {
	c.filtered = nil
	c.initial.Drop()
}

// Before reports the start-time weak ordering between cache entries.
func (c *SegmentCache) Before(other *SegmentCache) bool {
	return c.initial.StartMs() < other.initial.StartMs()
}
