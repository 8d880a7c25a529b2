package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	xerrors "github.com/agonzales-usgs/xmax-1.07/internal/errors"
	"github.com/agonzales-usgs/xmax-1.07/internal/station"
	"github.com/agonzales-usgs/xmax-1.07/internal/waveform"
)

// stubAdder collects channels the way the registry does.
type stubAdder struct {
	stations *station.Book
	channels map[string]*waveform.Channel
}

func newStubAdder() *stubAdder {
	return &stubAdder{stations: station.NewBook(), channels: make(map[string]*waveform.Channel)}
}

func (a *stubAdder) GetOrAddStation(name string) *station.Station {
	return a.stations.GetOrAdd(name)
}

func (a *stubAdder) GetOrAddChannel(channelName string, sta *station.Station, network, location string) *waveform.Channel {
	ch := waveform.NewChannel(channelName, sta, network, location)
	if existing, ok := a.channels[ch.Name()]; ok {
		return existing
	}
	a.channels[ch.Name()] = ch
	return ch
}

func writeTestBlockFile(t *testing.T, dir string, blocks []Block) string {
	t.Helper()
	path := filepath.Join(dir, "data"+BlockFileExt)
	if err := WriteBlockFile(path, blocks); err != nil {
		t.Fatalf("WriteBlockFile: %v", err)
	}
	return path
}

func TestFileSourceRoundTrip(t *testing.T) {
	samples := []int32{10, -20, 30, -40}
	path := writeTestBlockFile(t, t.TempDir(), []Block{
		{Network: "IU", Station: "ANMO", Location: "00", Channel: "BHZ",
			StartMs: 1000, SampleRate: 40.0, Samples: samples},
		{Network: "IU", Station: "ANMO", Location: "00", Channel: "BHZ",
			StartMs: 5000, SampleRate: 40.0, Samples: []int32{7}},
	})

	fs := NewFileSource(path)
	adder := newStubAdder()
	channels, err := fs.Parse(context.Background(), adder)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(channels) != 1 {
		t.Fatalf("got %d channels, want 1", len(channels))
	}
	ch := channels[0]
	if ch.Name() != "IU.ANMO.00.BHZ" {
		t.Fatalf("channel = %s", ch.Name())
	}
	if ch.SegmentCount() != 2 {
		t.Fatalf("got %d segments", ch.SegmentCount())
	}

	// Parsing is lazy: payloads come off disk only on load.
	segs, err := ch.RawData(context.Background())
	if err != nil {
		t.Fatalf("RawData: %v", err)
	}
	if segs[0].Resident() {
		t.Fatal("segment should not be resident before load")
	}
	if err := segs[0].Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	d := segs[0].Data(segs[0].TimeRange())
	if len(d.Samples) != len(samples) {
		t.Fatalf("got %d samples, want %d", len(d.Samples), len(samples))
	}
	for i, v := range samples {
		if d.Samples[i] != v {
			t.Fatalf("sample %d = %d, want %d", i, d.Samples[i], v)
		}
	}
}

func TestScanFindsBlockFiles(t *testing.T) {
	dir := t.TempDir()
	writeTestBlockFile(t, dir, []Block{{Network: "IU", Station: "ANMO", Channel: "BHZ", SampleRate: 1, Samples: []int32{1}}})
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	sources, err := Scan(dir)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(sources) != 1 {
		t.Fatalf("got %d sources, want 1", len(sources))
	}
}

func TestScanBlockFileDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	path := writeTestBlockFile(t, dir, []Block{
		{Network: "IU", Station: "ANMO", Channel: "BHZ", SampleRate: 1, Samples: []int32{1, 2, 3}},
	})

	// Flip a payload byte past the headers.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	raw[len(raw)-1] ^= 0xFF
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	_, err = NewFileSource(path).Parse(context.Background(), newStubAdder())
	if !xerrors.Is(err, xerrors.ErrChecksum) {
		t.Fatalf("expected checksum error, got %v", err)
	}
}

func TestScanBlockFileRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus"+BlockFileExt)
	if err := os.WriteFile(path, make([]byte, 64), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := NewFileSource(path).Parse(context.Background(), newStubAdder())
	if !xerrors.Is(err, xerrors.ErrBadMagic) {
		t.Fatalf("expected bad magic error, got %v", err)
	}
}
