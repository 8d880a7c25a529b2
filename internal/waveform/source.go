package waveform

import (
	"context"

	"github.com/agonzales-usgs/xmax-1.07/internal/station"
)

// ChannelAdder is the registry surface a source needs while parsing:
// channel and station lookup-or-create by identity.
type ChannelAdder interface {
	GetOrAddChannel(channelName string, sta *station.Station, network, location string) *Channel
	GetOrAddStation(name string) *station.Station
}

// Source is a data source (file or live feed) that parses itself into
// channels and segments.
type Source interface {
	// Name returns a human-readable source name for logs.
	Name() string

	// Key returns the identity used for de-duplication in the registry's
	// source set. Two sources with the same key are the same source.
	Key() string

	// Parse populates channels and segments through the registry and
	// returns the channels it touched.
	Parse(ctx context.Context, reg ChannelAdder) ([]*Channel, error)

	// LoadSegment reads the sample payload of a segment previously
	// produced by this source's Parse.
	LoadSegment(ctx context.Context, seg *Segment) ([]int32, error)
}

// SocketSource is a live-feed source. A network-backed channel delegates
// its data queries to the source instead of its cached segment list.
type SocketSource interface {
	Source

	// RawData fetches all live data currently held for the channel.
	RawData(ctx context.Context, ch *Channel) ([]*Segment, error)

	// RawDataRange fetches live data intersecting the interval.
	RawDataRange(ctx context.Context, ch *Channel, iv TimeInterval) ([]*Segment, error)

	// DeleteRange discards live data intersecting the interval.
	DeleteRange(ctx context.Context, ch *Channel, iv TimeInterval) error
}
