package export

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	xerrors "github.com/agonzales-usgs/xmax-1.07/internal/errors"
	"github.com/agonzales-usgs/xmax-1.07/internal/waveform"
)

// SAC unset markers.
const (
	sacUnsetF = -12345.0
	sacUnsetI = -12345
	sacUnsetK = "-12345"
)

// SAC header geometry: 70 floats, 40 ints, 24 eight-character words
// (kevnm spans two), then the sample values. All numeric fields are
// written 5 per line.
const (
	sacFloatCount = 70
	sacIntCount   = 40
	sacWordCount  = 24
)

// DumpSacAscii writes the channel's samples in iv as a SAC ASCII file.
// SAC holds exactly one evenly sampled trace, so the slice must be a
// single contiguous segment; a gapped slice fails before any byte is
// written.
func DumpSacAscii(ctx context.Context, w io.Writer, ch *waveform.Channel, iv waveform.TimeInterval, f waveform.Filter) error {
	data, err := sliceData(ctx, ch, iv, f)
	if err != nil {
		return err
	}
	if err := requireData(data, ch); err != nil {
		return err
	}
	if len(data) > 1 {
		return xerrors.Wrapf(xerrors.ErrGappedSlice, "sac export %s", ch.Name())
	}

	d := data[0]
	bw := bufio.NewWriter(w)
	if err := writeSacHeader(bw, ch, d); err != nil {
		return err
	}
	for i := 0; i < len(d.Samples); i += 5 {
		end := i + 5
		if end > len(d.Samples) {
			end = len(d.Samples)
		}
		for _, v := range d.Samples[i:end] {
			if _, err := fmt.Fprintf(bw, "%15.7g", float64(v)); err != nil {
				return fmt.Errorf("write sac sample: %w", err)
			}
		}
		if _, err := fmt.Fprintln(bw); err != nil {
			return fmt.Errorf("write sac sample: %w", err)
		}
	}
	return bw.Flush()
}

func writeSacHeader(bw *bufio.Writer, ch *waveform.Channel, d waveform.SegmentData) error {
	floats := make([]float64, sacFloatCount)
	for i := range floats {
		floats[i] = sacUnsetF
	}
	duration := float64(len(d.Samples)-1) / d.SampleRate
	floats[0] = 1.0 / d.SampleRate // delta
	floats[5] = 0.0                // b: begin time relative to reference
	floats[6] = duration           // e
	if minV, maxV, ok := minMaxSamples(d.Samples); ok {
		floats[1] = float64(minV) // depmin
		floats[2] = float64(maxV) // depmax
	}

	ints := make([]int, sacIntCount)
	for i := range ints {
		ints[i] = sacUnsetI
	}
	start := time.UnixMilli(d.StartMs).UTC()
	ints[0] = start.Year()
	ints[1] = start.YearDay()
	ints[2] = start.Hour()
	ints[3] = start.Minute()
	ints[4] = start.Second()
	ints[5] = start.Nanosecond() / 1e6
	ints[6] = 6 // nvhdr
	ints[9] = len(d.Samples)
	ints[15] = 1 // iftype: time series
	ints[35] = 1 // leven: evenly spaced

	words := make([]string, sacWordCount)
	for i := range words {
		words[i] = sacUnsetK
	}
	words[0] = ch.StationName()
	words[3] = ch.Location() // khole carries the location code
	words[20] = ch.ChannelName()
	words[21] = ch.Network()

	for i := 0; i < sacFloatCount; i += 5 {
		for _, v := range floats[i : i+5] {
			if _, err := fmt.Fprintf(bw, "%15.7g", v); err != nil {
				return fmt.Errorf("write sac float header: %w", err)
			}
		}
		if _, err := fmt.Fprintln(bw); err != nil {
			return fmt.Errorf("write sac float header: %w", err)
		}
	}
	for i := 0; i < sacIntCount; i += 5 {
		for _, v := range ints[i : i+5] {
			if _, err := fmt.Fprintf(bw, "%10d", v); err != nil {
				return fmt.Errorf("write sac int header: %w", err)
			}
		}
		if _, err := fmt.Fprintln(bw); err != nil {
			return fmt.Errorf("write sac int header: %w", err)
		}
	}
	for i := 0; i < sacWordCount; i += 3 {
		for _, s := range words[i : i+3] {
			if _, err := fmt.Fprintf(bw, "%-8s", s); err != nil {
				return fmt.Errorf("write sac char header: %w", err)
			}
		}
		if _, err := fmt.Fprintln(bw); err != nil {
			return fmt.Errorf("write sac char header: %w", err)
		}
	}
	return nil
}

func minMaxSamples(samples []int32) (minV, maxV int32, ok bool) {
	if len(samples) == 0 {
		return 0, 0, false
	}
	minV, maxV = samples[0], samples[0]
	for _, v := range samples[1:] {
		if v < minV {
			minV = v
		}
		if v > maxV {
			maxV = v
		}
	}
	return minV, maxV, true
}
