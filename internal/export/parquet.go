package export

import (
	"context"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/agonzales-usgs/xmax-1.07/internal/waveform"
)

// SampleRow is one sample in Parquet format. Identity columns are
// dictionary-friendly and zstd-compressed.
type SampleRow struct {
	Network     string  `parquet:"network,zstd"`
	Station     string  `parquet:"station,zstd"`
	Location    string  `parquet:"location,zstd"`
	Channel     string  `parquet:"channel,zstd"`
	TimestampMs int64   `parquet:"timestamp_ms"`
	SampleRate  float64 `parquet:"sample_rate"`
	Value       int32   `parquet:"value"`
}

// DumpParquet writes the channel's samples in iv as a Parquet file with
// one row per sample and zstd column compression.
func DumpParquet(ctx context.Context, w io.Writer, ch *waveform.Channel, iv waveform.TimeInterval, f waveform.Filter) error {
	data, err := sliceData(ctx, ch, iv, f)
	if err != nil {
		return err
	}
	if err := requireData(data, ch); err != nil {
		return err
	}

	pw := parquet.NewGenericWriter[SampleRow](w, parquet.Compression(&parquet.Zstd))

	for _, d := range data {
		rows := make([]SampleRow, len(d.Samples))
		for i, v := range d.Samples {
			rows[i] = SampleRow{
				Network:     ch.Network(),
				Station:     ch.StationName(),
				Location:    ch.Location(),
				Channel:     ch.ChannelName(),
				TimestampMs: sampleTimeMs(d, i),
				SampleRate:  d.SampleRate,
				Value:       v,
			}
		}
		if _, err := pw.Write(rows); err != nil {
			return fmt.Errorf("write parquet rows: %w", err)
		}
	}

	if err := pw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}
