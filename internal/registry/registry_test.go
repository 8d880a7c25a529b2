package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/agonzales-usgs/xmax-1.07/internal/config"
	xerrors "github.com/agonzales-usgs/xmax-1.07/internal/errors"
	"github.com/agonzales-usgs/xmax-1.07/internal/event"
	"github.com/agonzales-usgs/xmax-1.07/internal/source"
	"github.com/agonzales-usgs/xmax-1.07/internal/waveform"
)

func newTestRegistry(t *testing.T, mutate func(*config.Config)) *Registry {
	t.Helper()
	base := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(base, "data")
	cfg.TempDir = filepath.Join(base, "temp")
	if mutate != nil {
		mutate(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatal(err)
	}
	return New(cfg, event.NewBus())
}

// addTestChannel registers a channel holding one resident run so span
// and ordering logic have something to chew on.
func addTestChannel(r *Registry, stationName, channelName string, startMs int64) *waveform.Channel {
	sta := r.GetOrAddStation(stationName)
	ch := r.GetOrAddChannel(channelName, sta, "IU", "00")
	ch.AddSegment(waveform.NewResidentSegment(nil, waveform.SegmentData{
		StartMs: startMs, SampleRate: 1.0, Samples: []int32{1, 2, 3},
	}))
	ch.Sort()
	return ch
}

func writeBlockFile(t *testing.T, dir, name string, blocks []source.Block) string {
	t.Helper()
	path := filepath.Join(dir, name+source.BlockFileExt)
	if err := source.WriteBlockFile(path, blocks); err != nil {
		t.Fatalf("WriteBlockFile: %v", err)
	}
	return path
}

func TestGetOrAddChannelIdentity(t *testing.T) {
	r := newTestRegistry(t, nil)
	sta := r.GetOrAddStation("ANMO")

	a := r.GetOrAddChannel("BHZ", sta, "IU", "00")
	b := r.GetOrAddChannel("BHZ", sta, "IU", "00")
	if a != b {
		t.Fatal("same identity must resolve to the same channel")
	}

	c := r.GetOrAddChannel("BHZ", sta, "IU", "10")
	if c == a {
		t.Fatal("different location must create a distinct channel")
	}
	if len(r.AllChannels()) != 2 {
		t.Fatalf("got %d channels, want 2", len(r.AllChannels()))
	}

	got, err := r.GetChannel("BHZ", sta, "IU", "00")
	if err != nil || got != a {
		t.Fatalf("GetChannel = %v, %v", got, err)
	}
	if _, err := r.GetChannel("LHZ", sta, "IU", "00"); !xerrors.Is(err, xerrors.ErrChannelNotFound) {
		t.Fatalf("expected channel-not-found, got %v", err)
	}
}

func TestAddDataSourcesDeduplicates(t *testing.T) {
	r := newTestRegistry(t, nil)
	path := writeBlockFile(t, r.cfg.DataDir, "a", []source.Block{
		{Network: "IU", Station: "ANMO", Location: "00", Channel: "BHZ", SampleRate: 1, Samples: []int32{1}},
	})

	first, err := r.AddDataSource(context.Background(), source.NewFileSource(path))
	if err != nil {
		t.Fatalf("AddDataSource: %v", err)
	}
	if len(first) != 1 {
		t.Fatalf("got %d channels, want 1", len(first))
	}

	// The same path is the same source identity: a second add is a no-op.
	again, err := r.AddDataSource(context.Background(), source.NewFileSource(path))
	if err != nil {
		t.Fatalf("AddDataSource: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("duplicate source touched %d channels, want 0", len(again))
	}
	if len(r.AllSources()) != 1 {
		t.Fatalf("got %d sources, want 1", len(r.AllSources()))
	}
	if first[0].SegmentCount() != 1 {
		t.Fatalf("duplicate source must not add segments, got %d", first[0].SegmentCount())
	}
}

func TestAddDataSourcesSkipsUnparseable(t *testing.T) {
	r := newTestRegistry(t, nil)
	good := writeBlockFile(t, r.cfg.DataDir, "good", []source.Block{
		{Network: "IU", Station: "ANMO", Location: "00", Channel: "BHZ", SampleRate: 1, Samples: []int32{1}},
	})
	bad := filepath.Join(r.cfg.DataDir, "bad"+source.BlockFileExt)
	if err := os.WriteFile(bad, make([]byte, 32), 0o644); err != nil {
		t.Fatal(err)
	}

	touched, err := r.AddDataSources(context.Background(), []waveform.Source{
		source.NewFileSource(bad),
		source.NewFileSource(good),
	})
	if err != nil {
		t.Fatalf("AddDataSources: %v", err)
	}
	if len(touched) != 1 {
		t.Fatalf("got %d channels, want 1", len(touched))
	}

	// The failed source is released so a later retry is possible.
	if len(r.AllSources()) != 1 {
		t.Fatalf("got %d sources, want 1", len(r.AllSources()))
	}
}

func TestCheckDataIntegrityDropsEmptyChannels(t *testing.T) {
	r := newTestRegistry(t, nil)
	sta := r.GetOrAddStation("ANMO")
	empty := r.GetOrAddChannel("BHZ", sta, "IU", "00")
	full := addTestChannel(r, "COLA", "BHZ", 0)

	r.CheckDataIntegrity([]*waveform.Channel{empty, full})

	channels := r.AllChannels()
	if len(channels) != 1 || channels[0] != full {
		t.Fatalf("expected only the non-empty channel to survive, got %d", len(channels))
	}
	if _, err := r.GetChannel("BHZ", sta, "IU", "00"); !xerrors.Is(err, xerrors.ErrChannelNotFound) {
		t.Fatalf("dropped channel still resolvable: %v", err)
	}
}

func TestAggregateTimeInterval(t *testing.T) {
	r := newTestRegistry(t, nil)
	if _, ok := r.AllDataTimeInterval(); ok {
		t.Fatal("empty registry should have no span")
	}

	a := addTestChannel(r, "ANMO", "BHZ", 1000)
	b := addTestChannel(r, "COLA", "BHZ", 10000)
	r.CheckDataIntegrity([]*waveform.Channel{a, b})

	iv, ok := r.AllDataTimeInterval()
	if !ok {
		t.Fatal("span should be set")
	}
	if iv.Start != 1000 || iv.End != 13000 {
		t.Fatalf("span = [%d, %d), want [1000, 13000)", iv.Start, iv.End)
	}

	r.DeleteChannel(b)
	iv, ok = r.AllDataTimeInterval()
	if !ok || iv.End != 4000 {
		t.Fatalf("span after delete = [%d, %d), %v", iv.Start, iv.End, ok)
	}
}

func names(channels []*waveform.Channel) []string {
	out := make([]string, len(channels))
	for i, ch := range channels {
		out[i] = ch.Name()
	}
	return out
}

func sameNames(a []string, b ...string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestTracePagination(t *testing.T) {
	r := newTestRegistry(t, func(c *config.Config) {
		c.Panel.CountUnit = config.UnitTrace
		c.Panel.UnitsInFrame = 2
	})
	var all []*waveform.Channel
	for _, sta := range []string{"AAK", "BBK", "CCK", "DDK", "EEK"} {
		all = append(all, addTestChannel(r, sta, "BHZ", 0))
	}
	r.CheckDataIntegrity(all)

	if r.HasPreviousChannelSet() {
		t.Fatal("fresh registry should have no previous set")
	}

	set, err := r.NextChannelSet()
	if err != nil {
		t.Fatalf("NextChannelSet: %v", err)
	}
	if !sameNames(names(set), "IU.AAK.00.BHZ", "IU.BBK.00.BHZ") {
		t.Fatalf("first set = %v", names(set))
	}

	set, err = r.NextChannelSet()
	if err != nil {
		t.Fatalf("NextChannelSet: %v", err)
	}
	if !sameNames(names(set), "IU.CCK.00.BHZ", "IU.DDK.00.BHZ") {
		t.Fatalf("second set = %v", names(set))
	}

	// The last window holds the single leftover trace.
	set, err = r.NextChannelSet()
	if err != nil {
		t.Fatalf("NextChannelSet: %v", err)
	}
	if !sameNames(names(set), "IU.EEK.00.BHZ") {
		t.Fatalf("third set = %v", names(set))
	}
	if r.HasNextChannelSet() {
		t.Fatal("no further set should be available")
	}
	if _, err := r.NextChannelSet(); !xerrors.Is(err, xerrors.ErrLastChannelSet) {
		t.Fatalf("expected last-channel-set, got %v", err)
	}

	// Stepping back from the end re-centers on the middle window.
	set, err = r.PreviousChannelSet()
	if err != nil {
		t.Fatalf("PreviousChannelSet: %v", err)
	}
	if !sameNames(names(set), "IU.CCK.00.BHZ", "IU.DDK.00.BHZ") {
		t.Fatalf("previous set = %v", names(set))
	}
	if r.ChannelSetStartIndex() != 2 || r.ChannelSetEndIndex() != 4 {
		t.Fatalf("window = [%d, %d)", r.ChannelSetStartIndex(), r.ChannelSetEndIndex())
	}
}

func TestStationPagination(t *testing.T) {
	r := newTestRegistry(t, func(c *config.Config) {
		c.Panel.CountUnit = config.UnitStation
		c.Panel.UnitsInFrame = 1
		c.Panel.Order = config.OrderStation
	})
	all := []*waveform.Channel{
		addTestChannel(r, "ANMO", "BH1", 0),
		addTestChannel(r, "ANMO", "BH2", 0),
		addTestChannel(r, "COLA", "BHZ", 0),
	}
	r.CheckDataIntegrity(all)

	// One station per window: ANMO brings two traces, COLA one.
	set, err := r.NextChannelSet()
	if err != nil {
		t.Fatalf("NextChannelSet: %v", err)
	}
	if len(set) != 2 || set[0].StationName() != "ANMO" || set[1].StationName() != "ANMO" {
		t.Fatalf("first station window = %v", names(set))
	}

	set, err = r.NextChannelSet()
	if err != nil {
		t.Fatalf("NextChannelSet: %v", err)
	}
	if len(set) != 1 || set[0].StationName() != "COLA" {
		t.Fatalf("second station window = %v", names(set))
	}
}

func TestAllUnitPaginationIsOneWindow(t *testing.T) {
	r := newTestRegistry(t, func(c *config.Config) {
		c.Panel.CountUnit = config.UnitAll
	})
	all := []*waveform.Channel{
		addTestChannel(r, "ANMO", "BHZ", 0),
		addTestChannel(r, "COLA", "BHZ", 0),
	}
	r.CheckDataIntegrity(all)

	set, err := r.NextChannelSet()
	if err != nil {
		t.Fatalf("NextChannelSet: %v", err)
	}
	if len(set) != 2 {
		t.Fatalf("got %d traces, want 2", len(set))
	}
	if _, err := r.NextChannelSet(); !xerrors.Is(err, xerrors.ErrLastChannelSet) {
		t.Fatalf("expected last-channel-set, got %v", err)
	}
}

func TestLoadDataParsesBlockFiles(t *testing.T) {
	r := newTestRegistry(t, nil)
	writeBlockFile(t, r.cfg.DataDir, "a", []source.Block{
		{Network: "IU", Station: "ANMO", Location: "00", Channel: "BHZ",
			StartMs: 1000, SampleRate: 40.0, Samples: []int32{1, 2, 3, 4}},
	})

	if err := r.LoadData(context.Background()); err != nil {
		t.Fatalf("LoadData: %v", err)
	}

	channels := r.AllChannels()
	if len(channels) != 1 {
		t.Fatalf("got %d channels, want 1", len(channels))
	}
	if channels[0].Name() != "IU.ANMO.00.BHZ" {
		t.Fatalf("channel = %s", channels[0].Name())
	}
	if _, ok := r.AllDataTimeInterval(); !ok {
		t.Fatal("span should be set after load")
	}
}

func TestReLoadDataResetsState(t *testing.T) {
	r := newTestRegistry(t, func(c *config.Config) {
		c.Panel.UnitsInFrame = 1
	})
	writeBlockFile(t, r.cfg.DataDir, "a", []source.Block{
		{Network: "IU", Station: "ANMO", Location: "00", Channel: "BHZ", SampleRate: 1, Samples: []int32{1}},
		{Network: "IU", Station: "COLA", Location: "00", Channel: "BHZ", SampleRate: 1, Samples: []int32{2}},
	})

	if err := r.LoadData(context.Background()); err != nil {
		t.Fatalf("LoadData: %v", err)
	}
	if _, err := r.NextChannelSet(); err != nil {
		t.Fatalf("NextChannelSet: %v", err)
	}

	if err := r.ReLoadData(context.Background()); err != nil {
		t.Fatalf("ReLoadData: %v", err)
	}
	if len(r.AllChannels()) != 2 {
		t.Fatalf("got %d channels after reload", len(r.AllChannels()))
	}

	// The pagination cursor rewound to the top of the list.
	set, err := r.NextChannelSet()
	if err != nil {
		t.Fatalf("NextChannelSet: %v", err)
	}
	if !sameNames(names(set), "IU.ANMO.00.BHZ") {
		t.Fatalf("first set after reload = %v", names(set))
	}
}

func TestDumpDataAndRestore(t *testing.T) {
	r := newTestRegistry(t, nil)
	writeBlockFile(t, r.cfg.DataDir, "a", []source.Block{
		{Network: "IU", Station: "ANMO", Location: "00", Channel: "BHZ",
			StartMs: 0, SampleRate: 1.0, Samples: []int32{5, 6, 7}},
	})

	hooked := 0
	err := r.DumpData(context.Background(), func(ch *waveform.Channel) error {
		hooked++
		return nil
	})
	if err != nil {
		t.Fatalf("DumpData: %v", err)
	}
	if hooked != 1 {
		t.Fatalf("hook ran %d times, want 1", hooked)
	}
	if len(r.AllChannels()) != 0 {
		t.Fatalf("dumped channels should leave the registry, got %d", len(r.AllChannels()))
	}
	slots, err := r.storage.AllSlots()
	if err != nil || len(slots) != 1 {
		t.Fatalf("slots = %v, %v", slots, err)
	}

	// A fresh registry over an empty data dir restores from the slots.
	restored := New(r.cfg, event.NewBus())
	restored.cfg.UseTempData = true
	for _, f := range mustGlob(t, filepath.Join(r.cfg.DataDir, "*"+source.BlockFileExt)) {
		if err := os.Remove(f); err != nil {
			t.Fatal(err)
		}
	}
	if err := restored.LoadData(context.Background()); err != nil {
		t.Fatalf("LoadData: %v", err)
	}

	channels := restored.AllChannels()
	if len(channels) != 1 {
		t.Fatalf("got %d restored channels, want 1", len(channels))
	}
	ch := channels[0]
	if ch.Name() != "IU.ANMO.00.BHZ" {
		t.Fatalf("restored channel = %s", ch.Name())
	}
	data, err := ch.AdjustedData(context.Background(), waveform.MustInterval(0, 10000))
	if err != nil {
		t.Fatalf("AdjustedData: %v", err)
	}
	if len(data) != 1 || len(data[0].Samples) != 3 || data[0].Samples[0] != 5 {
		t.Fatalf("restored data = %+v", data)
	}
}

func TestRestoreSkipsPresentChannels(t *testing.T) {
	r := newTestRegistry(t, nil)
	writeBlockFile(t, r.cfg.DataDir, "a", []source.Block{
		{Network: "IU", Station: "ANMO", Location: "00", Channel: "BHZ",
			StartMs: 0, SampleRate: 1.0, Samples: []int32{5, 6, 7}},
	})
	if err := r.DumpData(context.Background(), nil); err != nil {
		t.Fatalf("DumpData: %v", err)
	}

	restored := New(r.cfg, event.NewBus())
	restored.cfg.UseTempData = true
	present := addTestChannel(restored, "ANMO", "BHZ", 0)

	if err := restored.restoreTempData(context.Background()); err != nil {
		t.Fatalf("restoreTempData: %v", err)
	}
	if len(restored.AllChannels()) != 1 {
		t.Fatalf("got %d channels, want 1", len(restored.AllChannels()))
	}
	if present.SegmentCount() != 1 {
		t.Fatalf("present channel gained segments: %d", present.SegmentCount())
	}
}

func mustGlob(t *testing.T, pattern string) []string {
	t.Helper()
	matches, err := filepath.Glob(pattern)
	if err != nil {
		t.Fatal(err)
	}
	return matches
}
