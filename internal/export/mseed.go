package export

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/agonzales-usgs/xmax-1.07/internal/waveform"
)

// miniSEED record geometry: 512-byte records, 48-byte fixed header,
// blockette 1000 at offset 48, sample data at offset 64. Samples use
// encoding 3 (big-endian 32-bit integers), so each record carries up to
// (512-64)/4 = 112 samples.
const (
	mseedRecordSize    = 512
	mseedDataOffset    = 64
	mseedBlocketteOff  = 48
	mseedSamplesPerRec = (mseedRecordSize - mseedDataOffset) / 4
	mseedRecordLenExp  = 9 // 2^9 = 512
	mseedEncodingInt32 = 3
)

// DumpMseed writes the channel's samples in iv as miniSEED records. A
// segment that fails to encode is logged and skipped; the export
// continues with the remaining segments.
func DumpMseed(ctx context.Context, w io.Writer, ch *waveform.Channel, iv waveform.TimeInterval, f waveform.Filter) error {
	data, err := sliceData(ctx, ch, iv, f)
	if err != nil {
		return err
	}
	if err := requireData(data, ch); err != nil {
		return err
	}

	seq := 1
	for _, d := range data {
		n, err := writeMseedSegment(w, ch, d, seq)
		seq += n
		if err != nil {
			log.Warn("mseed segment skipped", "channel", ch.Name(), "start", d.StartMs, "error", err)
			continue
		}
	}
	return nil
}

// writeMseedSegment encodes one contiguous slice as a run of records,
// returning how many records were written.
func writeMseedSegment(w io.Writer, ch *waveform.Channel, d waveform.SegmentData, seq int) (int, error) {
	if d.SampleRate <= 0 {
		return 0, fmt.Errorf("sample rate %g not encodable", d.SampleRate)
	}

	written := 0
	for off := 0; off < len(d.Samples); off += mseedSamplesPerRec {
		end := off + mseedSamplesPerRec
		if end > len(d.Samples) {
			end = len(d.Samples)
		}
		rec := buildMseedRecord(ch, d, off, end, seq+written)
		if _, err := w.Write(rec); err != nil {
			return written, fmt.Errorf("write record: %w", err)
		}
		written++
	}
	return written, nil
}

func buildMseedRecord(ch *waveform.Channel, d waveform.SegmentData, off, end, seq int) []byte {
	rec := make([]byte, mseedRecordSize)

	// Fixed section of the data header.
	copy(rec[0:6], fmt.Sprintf("%06d", seq%1000000))
	rec[6] = 'D'
	rec[7] = ' '
	copy(rec[8:13], padRight(ch.StationName(), 5))
	copy(rec[13:15], padRight(ch.Location(), 2))
	copy(rec[15:18], padRight(ch.ChannelName(), 3))
	copy(rec[18:20], padRight(ch.Network(), 2))

	putBTime(rec[20:30], sampleTimeMs(d, off))

	binary.BigEndian.PutUint16(rec[30:32], uint16(end-off))
	factor, multiplier := mseedRate(d.SampleRate)
	binary.BigEndian.PutUint16(rec[32:34], uint16(factor))
	binary.BigEndian.PutUint16(rec[34:36], uint16(multiplier))
	rec[39] = 1 // one blockette follows
	binary.BigEndian.PutUint16(rec[44:46], mseedDataOffset)
	binary.BigEndian.PutUint16(rec[46:48], mseedBlocketteOff)

	// Blockette 1000: encoding, word order, record length.
	b := rec[mseedBlocketteOff:]
	binary.BigEndian.PutUint16(b[0:2], 1000)
	binary.BigEndian.PutUint16(b[2:4], 0)
	b[4] = mseedEncodingInt32
	b[5] = 1 // big-endian
	b[6] = mseedRecordLenExp

	for i, v := range d.Samples[off:end] {
		binary.BigEndian.PutUint32(rec[mseedDataOffset+i*4:], uint32(v))
	}
	return rec
}

// putBTime encodes a Unix-millisecond timestamp as a SEED BTIME.
func putBTime(b []byte, ms int64) {
	t := time.UnixMilli(ms).UTC()
	binary.BigEndian.PutUint16(b[0:2], uint16(t.Year()))
	binary.BigEndian.PutUint16(b[2:4], uint16(t.YearDay()))
	b[4] = byte(t.Hour())
	b[5] = byte(t.Minute())
	b[6] = byte(t.Second())
	b[7] = 0
	binary.BigEndian.PutUint16(b[8:10], uint16(t.Nanosecond()/100000)) // 0.0001 s units
}

// mseedRate converts a sample rate in Hz to the SEED factor/multiplier
// pair: positive factor for samples per second, negative for seconds per
// sample.
func mseedRate(rate float64) (int16, int16) {
	if rate >= 1 {
		return int16(math.Round(rate)), 1
	}
	return int16(-math.Round(1 / rate)), 1
}

func padRight(s string, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	copy(b, s)
	return b
}
