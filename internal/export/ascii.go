package export

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/agonzales-usgs/xmax-1.07/internal/waveform"
)

// DumpASCII writes the channel's samples in iv as plain text: one header
// line per contiguous run, then one "timestamp value" line per sample.
func DumpASCII(ctx context.Context, w io.Writer, ch *waveform.Channel, iv waveform.TimeInterval, f waveform.Filter) error {
	data, err := sliceData(ctx, ch, iv, f)
	if err != nil {
		return err
	}
	if err := requireData(data, ch); err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	for _, d := range data {
		start := time.UnixMilli(d.StartMs).UTC().Format(time.RFC3339Nano)
		if _, err := fmt.Fprintf(bw, "# %s start=%s rate=%g count=%d\n",
			ch.Name(), start, d.SampleRate, len(d.Samples)); err != nil {
			return fmt.Errorf("write ascii header: %w", err)
		}
		for i, v := range d.Samples {
			if _, err := fmt.Fprintf(bw, "%d %d\n", sampleTimeMs(d, i), v); err != nil {
				return fmt.Errorf("write ascii sample: %w", err)
			}
		}
	}
	return bw.Flush()
}
