package source

import (
	"context"
	"testing"

	"github.com/agonzales-usgs/xmax-1.07/internal/waveform"
)

// scriptedFeed replays canned runs per channel.
type scriptedFeed struct {
	name    string
	runs    map[string][]waveform.SegmentData
	deletes int
}

func (f *scriptedFeed) Name() string { return f.name }

func (f *scriptedFeed) Fetch(ctx context.Context, channel string, iv waveform.TimeInterval) ([]waveform.SegmentData, error) {
	var out []waveform.SegmentData
	for _, d := range f.runs[channel] {
		if iv.Overlaps(d.TimeRange()) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *scriptedFeed) Delete(ctx context.Context, channel string, iv waveform.TimeInterval) error {
	f.deletes++
	var kept []waveform.SegmentData
	for _, d := range f.runs[channel] {
		if !iv.Overlaps(d.TimeRange()) {
			kept = append(kept, d)
		}
	}
	f.runs[channel] = kept
	return nil
}

func TestLiveSourceRegistersNetworkChannels(t *testing.T) {
	feed := &scriptedFeed{name: "edge-1", runs: map[string][]waveform.SegmentData{}}
	ls := NewLiveSource(feed, []ChannelID{
		{Channel: "BHZ", Station: "ANMO", Network: "IU", Location: "00"},
	})

	adder := newStubAdder()
	channels, err := ls.Parse(context.Background(), adder)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(channels) != 1 {
		t.Fatalf("got %d channels", len(channels))
	}
	if !channels[0].IsNetworkDataProvider() {
		t.Fatal("channel should be network-backed")
	}
	if iv, ok := channels[0].TimeRange(); !ok || iv.Start != 0 {
		t.Fatalf("network channel range = %v, %v", iv, ok)
	}
}

func TestLiveSourceSessionKeysDiffer(t *testing.T) {
	feed := &scriptedFeed{name: "edge-1", runs: map[string][]waveform.SegmentData{}}
	a := NewLiveSource(feed, nil)
	b := NewLiveSource(feed, nil)
	if a.Key() == b.Key() {
		t.Fatal("distinct sessions must have distinct keys")
	}
}

func TestLiveSourceFetchAndRecentFallback(t *testing.T) {
	name := "IU.ANMO.00.BHZ"
	feed := &scriptedFeed{name: "edge-1", runs: map[string][]waveform.SegmentData{
		name: {{StartMs: 0, SampleRate: 1.0, Samples: []int32{1, 2, 3}}},
	}}
	ls := NewLiveSource(feed, []ChannelID{
		{Channel: "BHZ", Station: "ANMO", Network: "IU", Location: "00"},
	})

	adder := newStubAdder()
	channels, err := ls.Parse(context.Background(), adder)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	ch := channels[0]

	segs, err := ls.RawDataRange(context.Background(), ch, waveform.MustInterval(0, 10000))
	if err != nil {
		t.Fatalf("RawDataRange: %v", err)
	}
	if len(segs) != 1 || !segs[0].Resident() {
		t.Fatalf("expected one resident segment, got %d", len(segs))
	}

	// Feed goes quiet: the recent ring serves the last answer.
	feed.runs[name] = nil
	segs, err = ls.RawDataRange(context.Background(), ch, waveform.MustInterval(0, 10000))
	if err != nil {
		t.Fatalf("RawDataRange: %v", err)
	}
	if len(segs) != 1 {
		t.Fatalf("ring fallback returned %d segments, want 1", len(segs))
	}

	// Deleting the range clears the ring too.
	if err := ls.DeleteRange(context.Background(), ch, waveform.MustInterval(0, 10000)); err != nil {
		t.Fatalf("DeleteRange: %v", err)
	}
	segs, _ = ls.RawDataRange(context.Background(), ch, waveform.MustInterval(0, 10000))
	if len(segs) != 0 {
		t.Fatalf("after delete got %d segments, want 0", len(segs))
	}
}

func TestRecentRingEvictsOldest(t *testing.T) {
	r := newRecentRing(2)

	mk := func(start int64) *waveform.Segment {
		return waveform.NewResidentSegment(nil, waveform.SegmentData{
			StartMs: start, SampleRate: 1.0, Samples: []int32{1},
		})
	}

	r.push("a", mk(0))
	r.push("a", mk(1000))
	r.push("a", mk(2000)) // evicts the first

	got := r.snapshot("a", waveform.MustInterval(0, 10000))
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].StartMs() != 1000 || got[1].StartMs() != 2000 {
		t.Fatalf("wrong survivors: %d, %d", got[0].StartMs(), got[1].StartMs())
	}
}
