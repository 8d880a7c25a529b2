// Package registry owns the channel catalog: it discovers and parses
// data sources, merges their channels, maintains ordering and the
// aggregate time range, pages the catalog for display, and round-trips
// channels through temporary storage.
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/agonzales-usgs/xmax-1.07/internal/config"
	xerrors "github.com/agonzales-usgs/xmax-1.07/internal/errors"
	"github.com/agonzales-usgs/xmax-1.07/internal/event"
	"github.com/agonzales-usgs/xmax-1.07/internal/logging"
	"github.com/agonzales-usgs/xmax-1.07/internal/response"
	"github.com/agonzales-usgs/xmax-1.07/internal/source"
	"github.com/agonzales-usgs/xmax-1.07/internal/station"
	"github.com/agonzales-usgs/xmax-1.07/internal/tempstore"
	"github.com/agonzales-usgs/xmax-1.07/internal/waveform"
)

// ChannelFactory builds new channels during source parsing. Replaceable
// so callers can supply customized channel types.
type ChannelFactory func(channelName string, sta *station.Station, network, location string) *waveform.Channel

// Registry is the central data module. It is explicitly constructed and
// carries all of its state; there are no package-level singletons.
//
// The channel list and source set are guarded by mu. Notifications go
// out on the event bus after the critical section, never inside it.
type Registry struct {
	cfg     *config.Config
	bus     *event.Bus
	storage *tempstore.Storage

	stations   *station.Book
	respLoader *response.Loader
	respCache  *response.Cache

	factory ChannelFactory

	mu       sync.RWMutex
	channels []*waveform.Channel
	byName   map[string]*waveform.Channel
	sources  map[string]waveform.Source

	span    waveform.TimeInterval
	spanSet bool

	// Pagination cursor over the ordered channel list.
	markerPosition int
	windowSize     int
	viewFrom       int
	viewTo         int

	log interface {
		Debug(msg string, args ...any)
		Info(msg string, args ...any)
		Warn(msg string, args ...any)
	}
}

// New creates a registry bound to the configuration and event bus.
// Response files are searched in "." first, then the configured
// response directories.
func New(cfg *config.Config, bus *event.Bus) *Registry {
	respDirs := append([]string{"."}, cfg.ResponseDirs...)
	loader := response.NewLoader(respDirs)

	r := &Registry{
		cfg:        cfg,
		bus:        bus,
		storage:    tempstore.NewStorage(cfg.TempDir, compressTemp(cfg)),
		stations:   station.NewBook(),
		respLoader: loader,
		respCache:  response.NewCache(loader),
		byName:     make(map[string]*waveform.Channel),
		sources:    make(map[string]waveform.Source),
		log:        logging.Component("registry"),
	}
	r.factory = r.defaultFactory
	return r
}

func compressTemp(cfg *config.Config) bool {
	return cfg.Compression.Algorithm != "none"
}

func (r *Registry) defaultFactory(channelName string, sta *station.Station, network, location string) *waveform.Channel {
	ch := waveform.NewChannel(channelName, sta, network, location)
	ch.SetThresholds(waveform.Thresholds{
		GapFactor:   r.cfg.Gaps.GapFactor,
		BreakFactor: r.cfg.Gaps.BreakFactor,
	})
	return ch
}

// SetChannelFactory replaces the channel factory used for new channels.
func (r *Registry) SetChannelFactory(f ChannelFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factory = f
}

// Storage exposes the temporary storage area.
func (r *Registry) Storage() *tempstore.Storage {
	return r.storage
}

func channelKey(channelName, stationName, network, location string) string {
	return fmt.Sprintf("%s.%s.%s.%s", network, stationName, location, channelName)
}

// GetOrAddChannel returns the channel with the given identity, creating
// it through the factory when absent. Creation and lookup are atomic.
func (r *Registry) GetOrAddChannel(channelName string, sta *station.Station, network, location string) *waveform.Channel {
	probe := r.factory(channelName, sta, network, location)
	key := channelKey(probe.ChannelName(), probe.StationName(), probe.Network(), probe.Location())

	r.mu.Lock()
	if existing, ok := r.byName[key]; ok {
		r.mu.Unlock()
		return existing
	}
	r.byName[key] = probe
	r.channels = append(r.channels, probe)
	r.mu.Unlock()

	r.bus.Publish(event.Event{Type: event.TypeChannelAdded, Channel: probe.Name()})
	return probe
}

// GetChannel returns the channel with the given identity.
func (r *Registry) GetChannel(channelName string, sta *station.Station, network, location string) (*waveform.Channel, error) {
	probe := r.factory(channelName, sta, network, location)
	key := channelKey(probe.ChannelName(), probe.StationName(), probe.Network(), probe.Location())

	r.mu.RLock()
	defer r.mu.RUnlock()
	if ch, ok := r.byName[key]; ok {
		return ch, nil
	}
	return nil, fmt.Errorf("%s: %w", key, xerrors.ErrChannelNotFound)
}

// GetOrAddStation returns the station with the given name, creating it
// if absent.
func (r *Registry) GetOrAddStation(name string) *station.Station {
	return r.stations.GetOrAdd(name)
}

// GetStation returns the station with the given name.
func (r *Registry) GetStation(name string) (*station.Station, error) {
	if s := r.stations.Get(name); s != nil {
		return s, nil
	}
	return nil, fmt.Errorf("%s: %w", name, xerrors.ErrStationNotFound)
}

// AllStations returns a snapshot of the station book.
func (r *Registry) AllStations() []*station.Station {
	return r.stations.All()
}

// AllChannels returns a snapshot of the ordered channel list.
func (r *Registry) AllChannels() []*waveform.Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*waveform.Channel, len(r.channels))
	copy(out, r.channels)
	return out
}

// ChannelsBySource returns the channels holding at least one segment
// from the given source.
func (r *Registry) ChannelsBySource(src waveform.Source) []*waveform.Channel {
	r.mu.RLock()
	channels := make([]*waveform.Channel, len(r.channels))
	copy(channels, r.channels)
	r.mu.RUnlock()

	var out []*waveform.Channel
	for _, ch := range channels {
		for _, s := range ch.Sources() {
			if s != nil && s.Key() == src.Key() {
				out = append(out, ch)
				break
			}
		}
	}
	return out
}

// AllSources returns a snapshot of the registered sources.
func (r *Registry) AllSources() []waveform.Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]waveform.Source, 0, len(r.sources))
	for _, s := range r.sources {
		out = append(out, s)
	}
	return out
}

// AllDataTimeInterval returns the aggregate time range over every
// channel, false when no channel has data.
func (r *Registry) AllDataTimeInterval() (waveform.TimeInterval, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.span, r.spanSet
}

// DeleteChannel removes the channel from the registry. The channel's
// data is left untouched; callers drop it separately if wanted.
func (r *Registry) DeleteChannel(ch *waveform.Channel) {
	r.DeleteChannels([]*waveform.Channel{ch})
}

// DeleteChannels removes the given channels from the registry.
func (r *Registry) DeleteChannels(toDelete []*waveform.Channel) {
	doomed := make(map[*waveform.Channel]struct{}, len(toDelete))
	for _, ch := range toDelete {
		doomed[ch] = struct{}{}
	}

	r.mu.Lock()
	kept := r.channels[:0]
	var removed []*waveform.Channel
	for _, ch := range r.channels {
		if _, ok := doomed[ch]; ok {
			delete(r.byName, channelKey(ch.ChannelName(), ch.StationName(), ch.Network(), ch.Location()))
			removed = append(removed, ch)
			continue
		}
		kept = append(kept, ch)
	}
	r.channels = kept
	spanChanged := r.updateSpanLocked()
	r.mu.Unlock()

	for _, ch := range removed {
		r.bus.Publish(event.Event{Type: event.TypeChannelDeleted, Channel: ch.Name()})
	}
	if spanChanged {
		r.publishSpan()
	}
}

// AddDataSource parses one source into the registry. See AddDataSources.
func (r *Registry) AddDataSource(ctx context.Context, src waveform.Source) ([]*waveform.Channel, error) {
	return r.AddDataSources(ctx, []waveform.Source{src})
}

// AddDataSources parses the given sources in parallel, bounded by
// load.parallelism. Sources already registered (by identity) are
// skipped, as are sources that fail to parse; a parse failure is logged,
// not fatal. Returns the channels the new sources touched, after the
// integrity check ordered and renumbered them.
func (r *Registry) AddDataSources(ctx context.Context, srcs []waveform.Source) ([]*waveform.Channel, error) {
	fresh := r.claimSources(srcs)
	if len(fresh) == 0 {
		return nil, nil
	}

	var (
		touchedMu sync.Mutex
		touched   []*waveform.Channel
		seen      = make(map[*waveform.Channel]struct{})
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Load.Parallelism)
	for _, src := range fresh {
		g.Go(func() error {
			r.log.Debug("parsing source", "source", src.Name())
			channels, err := r.parseSource(gctx, src)
			if err != nil {
				r.log.Warn("source skipped", "source", src.Name(), "error", err)
				r.releaseSource(src)
				return nil
			}
			touchedMu.Lock()
			for _, ch := range channels {
				if _, ok := seen[ch]; !ok {
					seen[ch] = struct{}{}
					touched = append(touched, ch)
				}
			}
			touchedMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	spanChanged := r.CheckDataIntegrity(touched)
	if spanChanged {
		r.publishSpan()
	} else {
		r.bus.Publish(event.Event{Type: event.TypeSourceAdded})
	}
	return touched, nil
}

// claimSources registers the not-yet-known sources and returns them.
func (r *Registry) claimSources(srcs []waveform.Source) []waveform.Source {
	r.mu.Lock()
	defer r.mu.Unlock()

	var fresh []waveform.Source
	for _, src := range srcs {
		if _, ok := r.sources[src.Key()]; ok {
			continue
		}
		r.sources[src.Key()] = src
		fresh = append(fresh, src)
	}
	return fresh
}

func (r *Registry) releaseSource(src waveform.Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sources, src.Key())
}

// parseSource runs one source parse under the configured source timeout.
func (r *Registry) parseSource(ctx context.Context, src waveform.Source) ([]*waveform.Channel, error) {
	if r.cfg.Load.SourceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.Load.SourceTimeout)
		defer cancel()
	}
	return src.Parse(ctx, r)
}

// CheckDataIntegrity sorts every touched channel (dropping channels left
// with no segments), re-sorts the channel list under the configured
// panel order, and recomputes the aggregate span. Reports whether the
// span changed.
func (r *Registry) CheckDataIntegrity(touched []*waveform.Channel) bool {
	var empty []*waveform.Channel
	for _, ch := range touched {
		if ch.SegmentCount() == 0 {
			r.log.Warn("dropping channel with no data", "channel", ch.Name())
			empty = append(empty, ch)
			continue
		}
		ch.Sort()
	}
	if len(empty) > 0 {
		r.DeleteChannels(empty)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.sortChannelsLocked()
	return r.updateSpanLocked()
}

func (r *Registry) sortChannelsLocked() {
	order := r.cfg.Panel.Order
	sort.SliceStable(r.channels, func(i, j int) bool {
		return waveform.Less(order, r.channels[i], r.channels[j])
	})
}

// updateSpanLocked recomputes the aggregate range and reports change.
func (r *Registry) updateSpanLocked() bool {
	var span waveform.Span
	for _, ch := range r.channels {
		if iv, ok := ch.TimeRange(); ok {
			span.GrowToIncludeInterval(iv)
		}
	}
	iv, ok := span.Interval()
	changed := ok != r.spanSet || iv != r.span
	r.span, r.spanSet = iv, ok
	return changed
}

func (r *Registry) publishSpan() {
	r.mu.RLock()
	iv, ok := r.span, r.spanSet
	r.mu.RUnlock()
	if !ok {
		return
	}
	r.bus.Publish(event.Event{
		Type:    event.TypeTimeRangeChanged,
		StartMs: iv.Start,
		EndMs:   iv.End,
	})
}

// LoadData performs the startup load: when use_temp_data is set, restore
// channels from temporary storage (skipping identities already present),
// then discover and parse block files under data_dir, then load the
// station file. Station file problems are logged and leave the station
// book unchanged.
func (r *Registry) LoadData(ctx context.Context) error {
	r.log.Debug("load begin")

	if r.cfg.UseTempData {
		if err := r.restoreTempData(ctx); err != nil {
			return err
		}
	}

	files, err := source.Scan(r.cfg.DataDir)
	if err != nil {
		return xerrors.Wrap(err, "discover data files")
	}
	srcs := make([]waveform.Source, len(files))
	for i, f := range files {
		srcs[i] = f
	}
	if _, err := r.AddDataSources(ctx, srcs); err != nil {
		return err
	}

	r.loadStations()

	r.bus.Publish(event.Event{Type: event.TypeDataReloaded})
	r.log.Info("load complete", "channels", len(r.AllChannels()), "sources", len(r.AllSources()), "stations", r.stations.Len())
	return nil
}

// restoreTempData parses every temp-storage slot whose channel identity
// is not already present.
func (r *Registry) restoreTempData(ctx context.Context) error {
	slots, err := r.storage.AllSlots()
	if err != nil {
		return err
	}

	var restored []*waveform.Channel
	for _, slot := range slots {
		ss := tempstore.NewSlotSource(slot, compressTemp(r.cfg))
		name, err := ss.Identity()
		if err != nil {
			r.log.Warn("slot skipped", "slot", slot, "error", err)
			continue
		}
		if r.hasChannelNamed(name) {
			r.log.Debug("slot skipped, channel present", "slot", slot, "channel", name)
			continue
		}
		channels, err := r.AddDataSource(ctx, ss)
		if err != nil {
			return err
		}
		restored = append(restored, channels...)
	}
	if len(restored) > 0 {
		r.log.Info("restored from temp storage", "channels", len(restored))
	}
	return nil
}

func (r *Registry) hasChannelNamed(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ch := range r.channels {
		if ch.Name() == name {
			return true
		}
	}
	return false
}

// loadStations fills the station book from the configured station file.
func (r *Registry) loadStations() {
	if r.cfg.StationFile == "" {
		return
	}
	if err := r.stations.LoadFile(r.cfg.StationFile); err != nil {
		r.log.Warn("station file not loaded", "file", r.cfg.StationFile, "error", err)
	}
}

// ReLoadData resets the registry (pagination cursor, channels, sources,
// stations) and runs LoadData again. It is not atomic with respect to
// concurrent readers: a reader between the clear and the reload sees an
// empty registry.
func (r *Registry) ReLoadData(ctx context.Context) error {
	r.mu.Lock()
	r.markerPosition = 0
	r.windowSize = 0
	r.viewFrom = 0
	r.viewTo = 0
	r.channels = nil
	r.byName = make(map[string]*waveform.Channel)
	r.sources = make(map[string]waveform.Source)
	r.span, r.spanSet = waveform.TimeInterval{}, false
	r.mu.Unlock()

	r.stations.Clear()
	r.respCache.Clear()

	return r.LoadData(ctx)
}

// DumpHook runs against each channel after its data is loaded and
// before it is dumped, for callers that maintain per-channel caches.
type DumpHook func(*waveform.Channel) error

// DumpData clears the temporary storage area, re-parses any data files
// not yet registered, runs the integrity check, then serializes every
// file-backed channel to its slot, removing it from the registry and
// dropping its payload. Destructive: it requires exclusive access to
// the registry for its duration.
func (r *Registry) DumpData(ctx context.Context, hook DumpHook) error {
	r.log.Debug("dump begin")

	if err := r.storage.DeleteAll(); err != nil {
		return err
	}

	files, err := source.Scan(r.cfg.DataDir)
	if err != nil {
		return xerrors.Wrap(err, "discover data files")
	}
	srcs := make([]waveform.Source, len(files))
	for i, f := range files {
		srcs[i] = f
	}
	if _, err := r.AddDataSources(ctx, srcs); err != nil {
		return err
	}
	r.CheckDataIntegrity(r.AllChannels())

	dumped := 0
	for _, ch := range r.AllChannels() {
		if ch.IsNetworkDataProvider() {
			r.log.Debug("network channel not dumped", "channel", ch.Name())
			continue
		}
		if err := ch.Load(ctx); err != nil {
			return xerrors.Wrapf(err, "dump %s", ch.Name())
		}
		if hook != nil {
			if err := hook(ch); err != nil {
				return xerrors.Wrapf(err, "dump hook %s", ch.Name())
			}
		}
		if _, err := r.storage.DumpChannel(ctx, ch); err != nil {
			return err
		}
		r.DeleteChannel(ch)
		ch.Drop()
		dumped++
	}

	r.bus.Publish(event.Event{Type: event.TypeDataDumped})
	r.log.Info("dump complete", "channels", dumped)
	return nil
}

// Response locates and reads the response file for the identity,
// bypassing the cache.
func (r *Registry) Response(network, stationName, location, channel string) (*response.Response, error) {
	return r.respLoader.Load(network, stationName, location, channel)
}

// ResponseCached returns the memoized response for the identity.
func (r *Registry) ResponseCached(network, stationName, location, channel string) (*response.Response, error) {
	return r.respCache.Load(network, stationName, location, channel)
}
