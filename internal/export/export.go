// Package export serializes time-range slices of a channel into
// interchange formats: miniSEED, plain ASCII, XML, SAC ASCII, and
// Parquet. Every exporter accepts an optional filter applied to the
// sample data before encoding.
package export

import (
	"context"
	"math"

	xerrors "github.com/agonzales-usgs/xmax-1.07/internal/errors"
	"github.com/agonzales-usgs/xmax-1.07/internal/logging"
	"github.com/agonzales-usgs/xmax-1.07/internal/waveform"
)

// sliceData resolves the in-range sample slices for an export, routing
// through the filter-derivative cache when a filter is given.
func sliceData(ctx context.Context, ch *waveform.Channel, iv waveform.TimeInterval, f waveform.Filter) ([]waveform.SegmentData, error) {
	if f == nil {
		return ch.AdjustedData(ctx, iv)
	}

	segs, err := ch.Filtered(ctx, iv, f)
	if err != nil {
		return nil, err
	}
	out := make([]waveform.SegmentData, 0, len(segs))
	for _, seg := range segs {
		cut, ok := waveform.Intersect(iv, seg.TimeRange())
		if !ok {
			continue
		}
		if d := seg.Data(cut); !d.Empty() {
			out = append(out, d)
		}
	}
	return out, nil
}

// requireData fails with ErrNoData when the slice is empty.
func requireData(data []waveform.SegmentData, ch *waveform.Channel) error {
	for _, d := range data {
		if !d.Empty() {
			return nil
		}
	}
	return xerrors.Wrapf(xerrors.ErrNoData, "export %s", ch.Name())
}

// sampleTimeMs returns the timestamp of the i-th sample of a slice.
func sampleTimeMs(d waveform.SegmentData, i int) int64 {
	return d.StartMs + int64(math.Round(float64(i)*1000.0/d.SampleRate))
}

var log = logging.Component("export")
