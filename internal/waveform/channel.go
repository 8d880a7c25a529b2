package waveform

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/DataDog/sketches-go/ddsketch"
	"golang.org/x/sync/singleflight"

	xerrors "github.com/agonzales-usgs/xmax-1.07/internal/errors"
	"github.com/agonzales-usgs/xmax-1.07/internal/logging"
	"github.com/agonzales-usgs/xmax-1.07/internal/station"
)

// Kind tags the two channel variants. A channel is either backed by
// static file data or by a live feed, never both; every dual-path
// operation dispatches on the tag once at its top.
type Kind int

const (
	// FileBacked channels hold real segments parsed from files.
	FileBacked Kind = iota
	// NetworkBacked channels hold a single zero-length marker segment
	// and delegate data queries to a live SocketSource.
	NetworkBacked
)

// Channel owns the ordered segment collection for one
// station/network/location/channel tuple. Identity is the four-part SNCL
// tuple, independent of data content.
//
// The segment list is kept sorted by start time after every integrity
// check; gap/break/continuity serials are valid only immediately after a
// Sort. All reads and mutations of the list and of the loaded flags are
// guarded by the channel lock.
type Channel struct {
	channelName string
	sta         *station.Station
	network     string
	location    string

	mu       sync.Mutex
	segments []*SegmentCache
	kind     Kind
	feed     SocketSource

	sampleRate     float64
	loaded         bool
	loadingStarted bool
	scale          float64

	serialPath string
	spill      *SpillFile

	thresholds Thresholds

	flight singleflight.Group
	log    interface {
		Debug(msg string, args ...any)
		Warn(msg string, args ...any)
	}
}

// NewChannel creates an empty file-backed channel.
func NewChannel(channelName string, sta *station.Station, network, location string) *Channel {
	return &Channel{
		channelName: strings.TrimSpace(channelName),
		sta:         sta,
		network:     strings.TrimSpace(network),
		location:    strings.TrimSpace(location),
		scale:       1.0,
		thresholds:  DefaultThresholds(),
		log:         logging.Component("channel"),
	}
}

func (c *Channel) ChannelName() string       { return c.channelName }
func (c *Channel) Station() *station.Station { return c.sta }
func (c *Channel) Network() string           { return c.network }
func (c *Channel) Location() string          { return c.location }

// Name returns the dotted SNCL identity, e.g. "IU.ANMO.00.BHZ".
func (c *Channel) Name() string {
	return fmt.Sprintf("%s.%s.%s.%s", c.network, c.StationName(), c.location, c.channelName)
}

// StationName returns the station's trimmed name, empty when unset.
func (c *Channel) StationName() string {
	if c.sta == nil {
		return ""
	}
	return c.sta.Name
}

// ChannelType is the last character of the channel name, used as a
// pagination grouping unit.
func (c *Channel) ChannelType() string {
	if c.channelName == "" {
		return ""
	}
	return c.channelName[len(c.channelName)-1:]
}

// Equal reports SNCL identity equality, independent of content.
func (c *Channel) Equal(other *Channel) bool {
	if other == nil {
		return false
	}
	return c.channelName == other.channelName &&
		c.StationName() == other.StationName() &&
		c.network == other.network &&
		c.location == other.location
}

// SetThresholds configures the gap/break factors used by Sort.
func (c *Channel) SetThresholds(th Thresholds) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.thresholds = th
}

// Scale returns the multiplier applied to sample values in statistics.
func (c *Channel) Scale() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scale
}

// SetScale sets the sample value multiplier.
func (c *Channel) SetScale(scale float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scale = scale
}

// SampleRate returns the channel sample rate, adopted from its segments.
func (c *Channel) SampleRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sampleRate
}

// IsNetworkDataProvider reports whether the channel is backed by a live
// feed rather than static files.
func (c *Channel) IsNetworkDataProvider() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kind == NetworkBacked
}

// Feed returns the live source of a network-backed channel, nil otherwise.
func (c *Channel) Feed() SocketSource {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.feed
}

// Loaded reports whether the channel's data is resident. A false value
// means cached ranges must not be trusted; trigger a Load instead.
func (c *Channel) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// LoadingStarted reports whether a load is in progress.
func (c *Channel) LoadingStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadingStarted
}

// SerialPath returns the temp-storage slot this channel was serialized
// to, empty if never dumped.
func (c *Channel) SerialPath() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.serialPath
}

// SetSerialPath records the temp-storage slot path.
func (c *Channel) SetSerialPath(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.serialPath = path
}

// AddSegment appends a new cache entry and adopts the segment's sample
// rate. It does not re-sort; sorting is an explicit batched step after
// parsing.
func (c *Channel) AddSegment(seg *Segment) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.spill != nil {
		seg.SetSpill(c.spill)
	}
	c.segments = append(c.segments, NewSegmentCache(seg))
	c.sampleRate = seg.SampleRate()
}

// AddNetworkMarker installs the zero-length placeholder segment and tags
// the channel network-backed. Any previously held segments are discarded.
func (c *Channel) AddNetworkMarker(src SocketSource) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.segments = []*SegmentCache{NewSegmentCache(NewPlaceholderSegment(src))}
	c.kind = NetworkBacked
	c.feed = src
	c.sampleRate = 0
}

// SegmentCount returns the number of cache entries.
func (c *Channel) SegmentCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.segments)
}

// Sources returns the originating source of every segment, in order.
func (c *Channel) Sources() []Source {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Source, 0, len(c.segments))
	for _, sc := range c.segments {
		out = append(out, sc.Segment().Source())
	}
	return out
}

// SourceAt returns the source holding data at the given time, nil if none.
func (c *Channel) SourceAt(ms int64) Source {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sc := range c.segments {
		if sc.Segment().TimeRange().ContainsPoint(ms) {
			return sc.Segment().Source()
		}
	}
	return nil
}

// TimeRange returns the aggregate range of contained data. Network
// channels report an unbounded range; an empty channel reports none.
func (c *Channel) TimeRange() (TimeInterval, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timeRangeLocked()
}

func (c *Channel) timeRangeLocked() (TimeInterval, bool) {
	if c.kind == NetworkBacked {
		return TimeInterval{Start: 0, End: math.MaxInt64}, true
	}
	if len(c.segments) == 0 {
		return TimeInterval{}, false
	}
	return TimeInterval{
		Start: c.segments[0].Segment().StartMs(),
		End:   c.segments[len(c.segments)-1].Segment().EndMs(),
	}, true
}

// RawData returns every segment. Network channels delegate to the live
// feed, falling back to cached segments when the fetch yields nothing.
func (c *Channel) RawData(ctx context.Context) ([]*Segment, error) {
	c.mu.Lock()
	kind, feed := c.kind, c.feed
	c.mu.Unlock()

	if kind == NetworkBacked {
		segs, err := feed.RawData(ctx, c)
		if err != nil {
			return nil, err
		}
		if len(segs) > 0 {
			return segs, nil
		}
		// Live fetch came back empty; serve the cached markers.
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Segment, 0, len(c.segments))
	for _, sc := range c.segments {
		out = append(out, sc.Segment())
	}
	return out, nil
}

// RawDataRange returns the segments whose range intersects iv. Network
// channels delegate to the feed's range-aware fetch.
func (c *Channel) RawDataRange(ctx context.Context, iv TimeInterval) ([]*Segment, error) {
	c.mu.Lock()
	kind, feed := c.kind, c.feed
	c.mu.Unlock()

	if kind == NetworkBacked {
		return feed.RawDataRange(ctx, c, iv)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.loaded = false
	c.loadingStarted = true
	var out []*Segment
	for _, sc := range c.segments {
		seg := sc.Segment()
		if iv.Overlaps(seg.TimeRange()) {
			out = append(out, seg)
		}
	}
	c.loadingStarted = false
	c.loaded = true
	return out, nil
}

// PointAt returns the sample value at the given time, or false when no
// segment covers it.
func (c *Channel) PointAt(ctx context.Context, ms int64) (int32, bool, error) {
	iv := TimeInterval{Start: ms, End: ms + 1}
	segs, err := c.RawDataRange(ctx, iv)
	if err != nil || len(segs) == 0 {
		return 0, false, err
	}
	seg := segs[0]
	if err := c.loadSegment(ctx, seg); err != nil {
		return 0, false, err
	}
	d := seg.Data(iv)
	if d.Empty() {
		return 0, false, nil
	}
	return d.Samples[0], true, nil
}

// DataLength returns the total number of samples intersecting iv.
func (c *Channel) DataLength(ctx context.Context, iv TimeInterval) (int, error) {
	data, err := c.AdjustedData(ctx, iv)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range data {
		n += len(d.Samples)
	}
	return n, nil
}

// AdjustedData returns the in-range sample slices of every intersecting
// segment, loading payloads as needed.
func (c *Channel) AdjustedData(ctx context.Context, iv TimeInterval) ([]SegmentData, error) {
	segs, err := c.RawDataRange(ctx, iv)
	if err != nil {
		return nil, err
	}

	out := make([]SegmentData, 0, len(segs))
	for _, seg := range segs {
		cut, ok := Intersect(iv, seg.TimeRange())
		if !ok {
			continue
		}
		if err := c.loadSegment(ctx, seg); err != nil {
			return nil, err
		}
		if d := seg.Data(cut); !d.Empty() {
			out = append(out, d)
		}
	}
	return out, nil
}

// loadSegment loads one segment's payload under the channel lock.
func (c *Channel) loadSegment(ctx context.Context, seg *Segment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return seg.Load(ctx)
}

// Load makes every segment payload resident, walking the
// unloaded -> loading -> loaded transition. Concurrent calls collapse to
// a single underlying load.
func (c *Channel) Load(ctx context.Context) error {
	_, err, _ := c.flight.Do("load", func() (interface{}, error) {
		return nil, c.load(ctx, TimeInterval{Start: math.MinInt64, End: math.MaxInt64})
	})
	return err
}

// LoadRange loads payloads of segments intersecting iv.
func (c *Channel) LoadRange(ctx context.Context, iv TimeInterval) error {
	return c.load(ctx, iv)
}

func (c *Channel) load(ctx context.Context, iv TimeInterval) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.loadingStarted = true
	defer func() { c.loadingStarted = false }()

	for _, sc := range c.segments {
		seg := sc.Segment()
		if !iv.Overlaps(seg.TimeRange()) {
			continue
		}
		if err := seg.Load(ctx); err != nil {
			return xerrors.Wrapf(err, "load %s", c.Name())
		}
	}
	c.loaded = true
	return nil
}

// Drop releases every segment's in-memory payload and all filter
// derivatives, returning the channel to the unloaded state.
func (c *Channel) Drop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sc := range c.segments {
		sc.Drop()
	}
	c.loaded = false
}

// Filtered returns the filter-transformed view of every cache entry
// intersecting iv. Payloads are loaded as needed.
func (c *Channel) Filtered(ctx context.Context, iv TimeInterval, f Filter) ([]*Segment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*Segment
	for _, sc := range c.segments {
		seg := sc.Segment()
		if !iv.Overlaps(seg.TimeRange()) {
			continue
		}
		if err := seg.Load(ctx); err != nil {
			return nil, err
		}
		derived, err := sc.Filtered(f)
		if err != nil {
			return nil, err
		}
		out = append(out, derived)
	}
	return out, nil
}

// Sort orders all segments by start time, then performs a single forward
// pass assigning the segment/source/continuity serials. Runs after every
// batch of additions from parsing, never per segment.
func (c *Channel) Sort() {
	c.mu.Lock()
	defer c.mu.Unlock()

	sort.SliceStable(c.segments, func(i, j int) bool {
		return c.segments[i].Before(c.segments[j])
	})

	var prev *Segment
	segmentNumber, sourceNumber, continuityNumber := 0, 0, 0
	for _, sc := range c.segments {
		seg := sc.Segment()
		if prev != nil {
			switch {
			case IsDataBreak(prev.EndMs(), seg.StartMs(), seg.SampleRate(), c.thresholds):
				segmentNumber++
			case IsDataGap(prev.EndMs(), seg.StartMs(), seg.SampleRate(), c.thresholds):
				continuityNumber++
			}
			if !sameSource(prev.Source(), seg.Source()) {
				sourceNumber++
			}
		}
		seg.setSerials(segmentNumber, sourceNumber, continuityNumber)
		prev = seg
	}
}

// DeleteRange removes, splits, or trims segments intersecting iv.
// Reconstructed sub-segments are sliced from the original resident
// payload, never re-parsed from the source. The new segment list is built
// aside and swapped in under the channel lock.
func (c *Channel) DeleteRange(ctx context.Context, iv TimeInterval) error {
	c.mu.Lock()
	kind, feed := c.kind, c.feed
	c.mu.Unlock()

	if kind == NetworkBacked {
		return feed.DeleteRange(ctx, c, iv)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.loaded = false
	c.loadingStarted = true
	defer func() {
		c.loadingStarted = false
		c.loaded = true
	}()

	next := make([]*SegmentCache, 0, len(c.segments))
	for _, sc := range c.segments {
		seg := sc.Segment()
		tr := seg.TimeRange()

		switch {
		case iv.Contains(tr):
			// Fully inside the deleted range.
			sc.Drop()

		case tr.Contains(iv) && tr != iv:
			// Segment straddles the range: keep both flanks.
			if err := seg.Load(ctx); err != nil {
				return err
			}
			if before := seg.Data(TimeInterval{Start: tr.Start, End: iv.Start}); !before.Empty() {
				next = append(next, NewSegmentCache(NewResidentSegment(seg.Source(), cloneData(before))))
			}
			if after := seg.Data(TimeInterval{Start: iv.End, End: tr.End}); !after.Empty() {
				next = append(next, NewSegmentCache(NewResidentSegment(seg.Source(), cloneData(after))))
			}
			sc.Drop()

		case tr.Overlaps(iv):
			// Partial overlap: keep the non-overlapping portion.
			if err := seg.Load(ctx); err != nil {
				return err
			}
			var keep TimeInterval
			if tr.Start < iv.Start {
				keep = TimeInterval{Start: tr.Start, End: iv.Start}
			} else {
				keep = TimeInterval{Start: iv.End, End: tr.End}
			}
			if d := seg.Data(keep); !d.Empty() {
				next = append(next, NewSegmentCache(NewResidentSegment(seg.Source(), cloneData(d))))
			}
			sc.Drop()

		default:
			next = append(next, sc)
		}
	}
	c.segments = next
	return nil
}

// SetSpillTarget associates every segment of the collection with a spill
// file at the given path. An empty path detaches and closes the current
// spill file.
func (c *Channel) SetSpillTarget(path string, compress bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if path == "" {
		if c.spill != nil {
			if err := c.spill.Close(); err != nil {
				c.log.Warn("close spill file", "channel", c.Name(), "error", err)
			}
			c.spill = nil
		}
		for _, sc := range c.segments {
			sc.Segment().SetSpill(nil)
		}
		return nil
	}

	sp, err := OpenSpill(path, compress)
	if err != nil {
		return err
	}
	c.spill = sp
	for _, sc := range c.segments {
		sc.Segment().SetSpill(sp)
	}
	return nil
}

// ForEachSegment runs fn over every cache entry under the channel lock.
// Used by the temp-storage codec; fn must not call back into the channel.
func (c *Channel) ForEachSegment(fn func(*SegmentCache) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, sc := range c.segments {
		if err := fn(sc); err != nil {
			return err
		}
	}
	return nil
}

// MinMax returns the extremes over every intersecting sample in iv.
func (c *Channel) MinMax(ctx context.Context, iv TimeInterval) (minV, maxV int32, err error) {
	data, err := c.AdjustedData(ctx, iv)
	if err != nil {
		return 0, 0, err
	}
	found := false
	for _, d := range data {
		for _, v := range d.Samples {
			if !found {
				minV, maxV, found = v, v, true
				continue
			}
			if v < minV {
				minV = v
			}
			if v > maxV {
				maxV = v
			}
		}
	}
	if !found {
		return 0, 0, xerrors.ErrNoData
	}
	return minV, maxV, nil
}

// Median returns the median of all samples intersecting iv, scaled by
// the channel scale. NaN when nothing intersects.
func (c *Channel) Median(ctx context.Context, iv TimeInterval) (float64, error) {
	samples, err := c.concatSamples(ctx, iv)
	if err != nil {
		return 0, err
	}
	if len(samples) == 0 {
		return math.NaN(), nil
	}

	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	mid := len(samples) / 2
	var median float64
	if len(samples)%2 == 1 {
		median = float64(samples[mid])
	} else {
		median = (float64(samples[mid-1]) + float64(samples[mid])) / 2
	}
	return median * c.Scale(), nil
}

// StdDev returns the standard deviation of all scaled samples
// intersecting iv around the given mean. NaN when nothing intersects.
func (c *Channel) StdDev(ctx context.Context, iv TimeInterval, mean float64) (float64, error) {
	data, err := c.AdjustedData(ctx, iv)
	if err != nil {
		return 0, err
	}

	scale := c.Scale()
	n := 0
	variance := 0.0
	for _, d := range data {
		n += len(d.Samples)
		for _, v := range d.Samples {
			diff := scale*float64(v) - mean
			variance += diff * diff
		}
	}
	if n == 0 {
		return math.NaN(), nil
	}
	return math.Sqrt(variance / float64(n)), nil
}

// Percentile returns an approximate quantile (0 <= q <= 1) of all scaled
// samples intersecting iv, using a DDSketch with 1% relative accuracy.
// NaN when nothing intersects.
func (c *Channel) Percentile(ctx context.Context, iv TimeInterval, q float64) (float64, error) {
	data, err := c.AdjustedData(ctx, iv)
	if err != nil {
		return 0, err
	}

	sketch, err := ddsketch.NewDefaultDDSketch(0.01)
	if err != nil {
		return 0, fmt.Errorf("create sketch: %w", err)
	}

	scale := c.Scale()
	n := 0
	for _, d := range data {
		for _, v := range d.Samples {
			if err := sketch.Add(scale * float64(v)); err != nil {
				return 0, fmt.Errorf("sketch add: %w", err)
			}
			n++
		}
	}
	if n == 0 {
		return math.NaN(), nil
	}
	return sketch.GetValueAtQuantile(q)
}

func (c *Channel) concatSamples(ctx context.Context, iv TimeInterval) ([]int32, error) {
	data, err := c.AdjustedData(ctx, iv)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, d := range data {
		total += len(d.Samples)
	}
	out := make([]int32, 0, total)
	for _, d := range data {
		out = append(out, d.Samples...)
	}
	return out, nil
}

// String returns a debug representation.
func (c *Channel) String() string {
	return "channel " + c.Name()
}

func sameSource(a, b Source) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Key() == b.Key()
}

// cloneData copies the sample slice so split segments own their payload.
func cloneData(d SegmentData) SegmentData {
	out := make([]int32, len(d.Samples))
	copy(out, d.Samples)
	d.Samples = out
	return d
}
