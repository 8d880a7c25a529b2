package source

import (
	"sync"

	"github.com/agonzales-usgs/xmax-1.07/internal/waveform"
)

const defaultRecentCapacity = 256

// recentRing is a bounded circular buffer of recently fetched live
// segments, keyed by channel name. When full, the oldest entry is
// overwritten.
//
// recentRing is safe for concurrent use.
type recentRing struct {
	mu       sync.RWMutex
	entries  []recentEntry
	head     int
	count    int
	capacity int
}

type recentEntry struct {
	channel string
	seg     *waveform.Segment
}

func newRecentRing(capacity int) *recentRing {
	if capacity <= 0 {
		capacity = defaultRecentCapacity
	}
	return &recentRing{
		entries:  make([]recentEntry, capacity),
		capacity: capacity,
	}
}

// push adds a segment, overwriting the oldest entry when full.
func (r *recentRing) push(channel string, seg *waveform.Segment) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.head] = recentEntry{channel: channel, seg: seg}
	r.head = (r.head + 1) % r.capacity
	if r.count < r.capacity {
		r.count++
	}
}

// snapshot returns the buffered segments for a channel intersecting iv,
// oldest first.
func (r *recentRing) snapshot(channel string, iv waveform.TimeInterval) []*waveform.Segment {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*waveform.Segment
	start := (r.head - r.count + r.capacity) % r.capacity
	for i := 0; i < r.count; i++ {
		e := r.entries[(start+i)%r.capacity]
		if e.channel == channel && iv.Overlaps(e.seg.TimeRange()) {
			out = append(out, e.seg)
		}
	}
	return out
}

// forget drops buffered segments for a channel intersecting iv.
func (r *recentRing) forget(channel string, iv waveform.TimeInterval) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := (r.head - r.count + r.capacity) % r.capacity
	kept := make([]recentEntry, 0, r.count)
	for i := 0; i < r.count; i++ {
		e := r.entries[(start+i)%r.capacity]
		if e.channel == channel && iv.Overlaps(e.seg.TimeRange()) {
			continue
		}
		kept = append(kept, e)
	}

	r.entries = make([]recentEntry, r.capacity)
	copy(r.entries, kept)
	r.head = len(kept) % r.capacity
	r.count = len(kept)
}
