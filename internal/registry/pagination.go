package registry

import (
	"github.com/agonzales-usgs/xmax-1.07/internal/config"
	xerrors "github.com/agonzales-usgs/xmax-1.07/internal/errors"
	"github.com/agonzales-usgs/xmax-1.07/internal/event"
	"github.com/agonzales-usgs/xmax-1.07/internal/waveform"
)

// The channel list can be far longer than one screen, so a display
// window slides over it. The window is measured in counting units
// (whole list, traces, distinct channels, channel types, or stations)
// configured by panel.count_unit and panel.units_in_frame; the window
// size in traces therefore varies with the data around the cursor.

// NextChannelSet advances the display window and returns its traces.
// Returns ErrLastChannelSet when the window is already at the end.
func (r *Registry) NextChannelSet() ([]*waveform.Channel, error) {
	r.mu.Lock()

	size := r.windowSizeLocked(true)
	if size == 0 || r.markerPosition+size > len(r.channels) {
		r.mu.Unlock()
		return nil, xerrors.ErrLastChannelSet
	}

	r.viewFrom = r.markerPosition
	r.viewTo = minInt(r.markerPosition+size, len(r.channels))
	r.markerPosition += size
	r.windowSize = size
	out := make([]*waveform.Channel, r.viewTo-r.viewFrom)
	copy(out, r.channels[r.viewFrom:r.viewTo])
	from, to := r.viewFrom, r.viewTo
	r.mu.Unlock()

	r.bus.Publish(event.Event{Type: event.TypeChannelSetChanged})
	r.log.Debug("next channel set", "from", from, "to", to)
	return out, nil
}

// PreviousChannelSet moves the display window back and returns its
// traces. Returns ErrFirstChannelSet when the window is already at the
// start.
func (r *Registry) PreviousChannelSet() ([]*waveform.Channel, error) {
	r.mu.Lock()

	size := r.windowSizeLocked(false)
	if size == 0 || r.markerPosition <= 1 {
		r.mu.Unlock()
		return nil, xerrors.ErrFirstChannelSet
	}

	r.markerPosition = maxInt(r.markerPosition-r.windowSize-size, 0)
	r.viewFrom = r.markerPosition
	r.viewTo = minInt(r.markerPosition+size, len(r.channels))
	r.windowSize = 0
	out := make([]*waveform.Channel, r.viewTo-r.viewFrom)
	copy(out, r.channels[r.viewFrom:r.viewTo])
	from, to := r.viewFrom, r.viewTo
	r.mu.Unlock()

	r.bus.Publish(event.Event{Type: event.TypeChannelSetChanged})
	r.log.Debug("previous channel set", "from", from, "to", to)
	return out, nil
}

// HasNextChannelSet reports whether NextChannelSet would succeed.
func (r *Registry) HasNextChannelSet() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	size := r.windowSizeLocked(true)
	return size != 0 && r.markerPosition+size <= len(r.channels)
}

// HasPreviousChannelSet reports whether PreviousChannelSet would succeed.
func (r *Registry) HasPreviousChannelSet() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.markerPosition > 1
}

// ChannelSetStartIndex returns the current window's starting index.
func (r *Registry) ChannelSetStartIndex() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.viewFrom
}

// ChannelSetEndIndex returns the current window's ending index.
func (r *Registry) ChannelSetEndIndex() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.viewTo
}

// windowSizeLocked computes the next window's size in traces, scanning
// forward from the cursor or backward from just before the current
// window. Caller holds mu.
func (r *Registry) windowSizeLocked(forward bool) int {
	unit := r.cfg.Panel.CountUnit
	unitsInFrame := r.cfg.Panel.UnitsInFrame

	switch unit {
	case config.UnitAll:
		return len(r.channels)

	case config.UnitTrace:
		if forward {
			if r.markerPosition+unitsInFrame < len(r.channels) {
				return unitsInFrame
			}
			return len(r.channels) - r.markerPosition
		}
		if r.markerPosition-unitsInFrame >= 0 {
			return unitsInFrame
		}
		return unitsInFrame - r.markerPosition

	case config.UnitChannel:
		return r.countGroupedLocked(forward, unitsInFrame, func(ch *waveform.Channel) string {
			return ch.ChannelName()
		})

	case config.UnitChannelType:
		return r.countGroupedLocked(forward, unitsInFrame, func(ch *waveform.Channel) string {
			return ch.ChannelType()
		})

	case config.UnitStation:
		return r.countGroupedLocked(forward, unitsInFrame, func(ch *waveform.Channel) string {
			return ch.StationName()
		})
	}
	return 0
}

// countGroupedLocked counts traces until unitsInFrame distinct group
// keys have been passed, walking forward from the cursor or backward
// from markerPosition-windowSize-1.
func (r *Registry) countGroupedLocked(forward bool, unitsInFrame int, key func(*waveform.Channel) string) int {
	groups := 0
	traces := 0
	current := ""
	haveCurrent := false

	if forward {
		for i := r.markerPosition; i < len(r.channels); i++ {
			k := key(r.channels[i])
			if !haveCurrent || k != current {
				current, haveCurrent = k, true
				groups++
				if groups > unitsInFrame {
					return traces
				}
			}
			traces++
		}
		return traces
	}

	for i := r.markerPosition - r.windowSize - 1; i >= 0; i-- {
		k := key(r.channels[i])
		if !haveCurrent || k != current {
			current, haveCurrent = k, true
			groups++
			if groups > unitsInFrame {
				return traces
			}
		}
		traces++
	}
	return traces
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
