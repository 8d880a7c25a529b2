package source

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/agonzales-usgs/xmax-1.07/internal/logging"
	"github.com/agonzales-usgs/xmax-1.07/internal/waveform"
)

// Feed is the opaque live data provider behind a socket source. Protocol
// details live entirely on the other side of this interface.
type Feed interface {
	// Name identifies the feed endpoint for logs and source identity.
	Name() string

	// Fetch returns sample runs for the channel intersecting iv.
	Fetch(ctx context.Context, channel string, iv waveform.TimeInterval) ([]waveform.SegmentData, error)

	// Delete discards feed-side data for the channel intersecting iv.
	Delete(ctx context.Context, channel string, iv waveform.TimeInterval) error
}

// ChannelID names one channel a live source provides.
type ChannelID struct {
	Channel  string
	Station  string
	Network  string
	Location string
}

// LiveSource adapts a Feed into a SocketSource. Parsing installs a
// network marker per configured channel; data queries go to the feed,
// with a small ring of recently fetched segments kept per channel so an
// empty live answer can still serve the last known data.
type LiveSource struct {
	feed      Feed
	channels  []ChannelID
	sessionID string

	recent *recentRing
}

// NewLiveSource creates a socket source serving the given channels.
func NewLiveSource(feed Feed, channels []ChannelID) *LiveSource {
	return &LiveSource{
		feed:      feed,
		channels:  channels,
		sessionID: uuid.NewString(),
		recent:    newRecentRing(defaultRecentCapacity),
	}
}

// Name returns the feed endpoint name.
func (ls *LiveSource) Name() string {
	return ls.feed.Name()
}

// Key returns the source identity. Each live session is distinct.
func (ls *LiveSource) Key() string {
	return fmt.Sprintf("live:%s:%s", ls.feed.Name(), ls.sessionID)
}

// Parse registers a network-backed channel per configured channel ID.
func (ls *LiveSource) Parse(ctx context.Context, reg waveform.ChannelAdder) ([]*waveform.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log := logging.Component("source")

	channels := make([]*waveform.Channel, 0, len(ls.channels))
	for _, id := range ls.channels {
		sta := reg.GetOrAddStation(id.Station)
		ch := reg.GetOrAddChannel(id.Channel, sta, id.Network, id.Location)
		ch.AddNetworkMarker(ls)
		channels = append(channels, ch)
	}

	log.Debug("live source registered", "feed", ls.feed.Name(), "session", ls.sessionID, "channels", len(channels))
	return channels, nil
}

// LoadSegment is not supported: live segments arrive resident.
func (ls *LiveSource) LoadSegment(ctx context.Context, seg *waveform.Segment) ([]int32, error) {
	return nil, fmt.Errorf("live source %s cannot reload segments", ls.feed.Name())
}

// RawData fetches everything the feed currently holds for the channel.
// An empty answer falls back to the recent ring.
func (ls *LiveSource) RawData(ctx context.Context, ch *waveform.Channel) ([]*waveform.Segment, error) {
	full := waveform.TimeInterval{Start: 0, End: int64(1) << 62}
	return ls.fetch(ctx, ch, full)
}

// RawDataRange fetches feed data intersecting iv.
func (ls *LiveSource) RawDataRange(ctx context.Context, ch *waveform.Channel, iv waveform.TimeInterval) ([]*waveform.Segment, error) {
	return ls.fetch(ctx, ch, iv)
}

// DeleteRange discards feed-side data intersecting iv and forgets
// matching recent segments.
func (ls *LiveSource) DeleteRange(ctx context.Context, ch *waveform.Channel, iv waveform.TimeInterval) error {
	ls.recent.forget(ch.Name(), iv)
	return ls.feed.Delete(ctx, ch.Name(), iv)
}

func (ls *LiveSource) fetch(ctx context.Context, ch *waveform.Channel, iv waveform.TimeInterval) ([]*waveform.Segment, error) {
	runs, err := ls.feed.Fetch(ctx, ch.Name(), iv)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", ls.feed.Name(), err)
	}
	if len(runs) == 0 {
		return ls.recent.snapshot(ch.Name(), iv), nil
	}

	segs := make([]*waveform.Segment, 0, len(runs))
	for _, run := range runs {
		seg := waveform.NewResidentSegment(ls, run)
		segs = append(segs, seg)
		ls.recent.push(ch.Name(), seg)
	}
	return segs, nil
}
