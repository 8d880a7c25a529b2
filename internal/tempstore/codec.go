package tempstore

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"

	xerrors "github.com/agonzales-usgs/xmax-1.07/internal/errors"
	"github.com/agonzales-usgs/xmax-1.07/internal/waveform"
)

// Slot metadata file format (binary, little-endian):
//   - Header: 8 bytes magic + 4 bytes version
//   - Records: [4 bytes length][4 bytes crc32][payload]
//
// The first record describes the channel; each following record
// describes one segment. Sample payloads live in the sibling payload
// file as spill blocks, addressed by the offsets the segment records
// carry, so restored segments load lazily.
const (
	slotMagic       = 0x534C4F54303101 // "SLOT0" + version 1
	slotVersion     = 1
	slotHeaderSize  = 12
	slotRecordSize  = 8
	segmentMetaSize = 28 // i64 start + f64 rate + u32 count + i64 offset
)

type segmentMeta struct {
	StartMs     int64
	SampleRate  float64
	SampleCount int
	SpillOff    int64
}

// DumpChannel serializes the channel into a slot: every segment payload
// is spilled to the slot's payload file and dropped from memory, then
// the metadata file is written. The channel keeps the payload file as
// its spill target, so it stays usable after the dump. Returns the slot
// metadata path.
func (st *Storage) DumpChannel(ctx context.Context, ch *waveform.Channel) (string, error) {
	if ch.IsNetworkDataProvider() {
		return "", fmt.Errorf("channel %s is network-backed, nothing to dump", ch.Name())
	}
	if err := os.MkdirAll(st.dir, 0o755); err != nil {
		return "", fmt.Errorf("create temp dir: %w", err)
	}

	slotPath := st.SlotPath(ch.Name())
	pp := payloadPath(slotPath)
	if err := os.Remove(pp); err != nil && !os.IsNotExist(err) {
		return "", fmt.Errorf("reset slot payload: %w", err)
	}
	if err := ch.SetSpillTarget(pp, st.compress); err != nil {
		return "", err
	}

	var metas []segmentMeta
	err := ch.ForEachSegment(func(sc *waveform.SegmentCache) error {
		seg := sc.Segment()
		if err := seg.Load(ctx); err != nil {
			return err
		}
		if err := seg.Spill(); err != nil {
			return err
		}
		seg.Drop()
		metas = append(metas, segmentMeta{
			StartMs:     seg.StartMs(),
			SampleRate:  seg.SampleRate(),
			SampleCount: seg.SampleCount(),
			SpillOff:    seg.SpillOffset(),
		})
		return nil
	})
	if err != nil {
		return "", xerrors.Wrapf(err, "dump %s", ch.Name())
	}

	if err := writeSlotFile(slotPath, ch, metas); err != nil {
		return "", err
	}
	ch.SetSerialPath(slotPath)

	st.log.Debug("channel dumped", "channel", ch.Name(), "slot", slotPath, "segments", len(metas))
	return slotPath, nil
}

func writeSlotFile(path string, ch *waveform.Channel, metas []segmentMeta) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create slot file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)

	header := make([]byte, slotHeaderSize)
	binary.LittleEndian.PutUint64(header[0:8], slotMagic)
	binary.LittleEndian.PutUint32(header[8:12], slotVersion)
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write slot header: %w", err)
	}

	if err := writeRecord(w, encodeChannelHeader(ch, len(metas))); err != nil {
		return err
	}
	for _, m := range metas {
		if err := writeRecord(w, encodeSegmentMeta(m)); err != nil {
			return err
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush slot file: %w", err)
	}
	return f.Sync()
}

func writeRecord(w io.Writer, payload []byte) error {
	record := make([]byte, slotRecordSize)
	binary.LittleEndian.PutUint32(record[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(record[4:8], crc32.ChecksumIEEE(payload))
	if _, err := w.Write(record); err != nil {
		return fmt.Errorf("write record header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write record payload: %w", err)
	}
	return nil
}

func encodeChannelHeader(ch *waveform.Channel, segments int) []byte {
	buf := make([]byte, 0, 64)
	buf = appendString(buf, ch.Network())
	buf = appendString(buf, ch.StationName())
	buf = appendString(buf, ch.Location())
	buf = appendString(buf, ch.ChannelName())
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(ch.SampleRate()))
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(ch.Scale()))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(segments))
	return buf
}

func encodeSegmentMeta(m segmentMeta) []byte {
	buf := make([]byte, 0, segmentMetaSize)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(m.StartMs))
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(m.SampleRate))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(m.SampleCount))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(m.SpillOff))
	return buf
}

type slotHeader struct {
	Network    string
	Station    string
	Location   string
	Channel    string
	SampleRate float64
	Scale      float64
	Segments   int
}

func readSlotFile(path string) (slotHeader, []segmentMeta, error) {
	var hdr slotHeader

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return hdr, nil, fmt.Errorf("slot %s: %w", path, xerrors.ErrSlotNotFound)
		}
		return hdr, nil, fmt.Errorf("open slot file: %w", err)
	}
	defer f.Close()

	header := make([]byte, slotHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return hdr, nil, fmt.Errorf("read slot header: %w", err)
	}
	if magic := binary.LittleEndian.Uint64(header[0:8]); magic != slotMagic {
		return hdr, nil, fmt.Errorf("%s: magic %x: %w", path, magic, xerrors.ErrBadMagic)
	}
	if version := binary.LittleEndian.Uint32(header[8:12]); version != slotVersion {
		return hdr, nil, fmt.Errorf("%s: version %d: %w", path, version, xerrors.ErrBadVersion)
	}

	payload, err := readRecord(f)
	if err != nil {
		return hdr, nil, fmt.Errorf("%s: channel record: %w", path, err)
	}
	hdr, err = decodeChannelHeader(payload)
	if err != nil {
		return hdr, nil, fmt.Errorf("%s: channel record: %w", path, err)
	}

	metas := make([]segmentMeta, 0, hdr.Segments)
	for i := 0; i < hdr.Segments; i++ {
		payload, err := readRecord(f)
		if err != nil {
			return hdr, nil, fmt.Errorf("%s: segment record %d: %w", path, i, err)
		}
		m, err := decodeSegmentMeta(payload)
		if err != nil {
			return hdr, nil, fmt.Errorf("%s: segment record %d: %w", path, i, err)
		}
		metas = append(metas, m)
	}
	return hdr, metas, nil
}

func readRecord(f *os.File) ([]byte, error) {
	record := make([]byte, slotRecordSize)
	if _, err := io.ReadFull(f, record); err != nil {
		return nil, fmt.Errorf("read record header: %w", err)
	}
	length := binary.LittleEndian.Uint32(record[0:4])
	wantCRC := binary.LittleEndian.Uint32(record[4:8])

	payload := make([]byte, length)
	if _, err := io.ReadFull(f, payload); err != nil {
		return nil, fmt.Errorf("read record payload: %w", err)
	}
	if got := crc32.ChecksumIEEE(payload); got != wantCRC {
		return nil, fmt.Errorf("crc %x != %x: %w", got, wantCRC, xerrors.ErrCorruptSlot)
	}
	return payload, nil
}

func decodeChannelHeader(payload []byte) (slotHeader, error) {
	var hdr slotHeader
	var err error
	offset := 0

	if hdr.Network, offset, err = readString(payload, offset); err != nil {
		return hdr, fmt.Errorf("network: %w", err)
	}
	if hdr.Station, offset, err = readString(payload, offset); err != nil {
		return hdr, fmt.Errorf("station: %w", err)
	}
	if hdr.Location, offset, err = readString(payload, offset); err != nil {
		return hdr, fmt.Errorf("location: %w", err)
	}
	if hdr.Channel, offset, err = readString(payload, offset); err != nil {
		return hdr, fmt.Errorf("channel: %w", err)
	}

	if offset+20 > len(payload) {
		return hdr, fmt.Errorf("payload too short for channel header: %w", xerrors.ErrCorruptSlot)
	}
	hdr.SampleRate = math.Float64frombits(binary.LittleEndian.Uint64(payload[offset:]))
	offset += 8
	hdr.Scale = math.Float64frombits(binary.LittleEndian.Uint64(payload[offset:]))
	offset += 8
	hdr.Segments = int(binary.LittleEndian.Uint32(payload[offset:]))
	return hdr, nil
}

func decodeSegmentMeta(payload []byte) (segmentMeta, error) {
	var m segmentMeta
	if len(payload) < segmentMetaSize {
		return m, fmt.Errorf("payload too short for segment meta: %w", xerrors.ErrCorruptSlot)
	}
	m.StartMs = int64(binary.LittleEndian.Uint64(payload[0:8]))
	m.SampleRate = math.Float64frombits(binary.LittleEndian.Uint64(payload[8:16]))
	m.SampleCount = int(binary.LittleEndian.Uint32(payload[16:20]))
	m.SpillOff = int64(binary.LittleEndian.Uint64(payload[20:28]))
	return m, nil
}

// SlotSource restores a dumped channel from its slot. Parsing recreates
// the channel with its segments backed by the slot's payload file, so
// sample data stays on disk until a load asks for it.
type SlotSource struct {
	slotPath string
	compress bool
}

// NewSlotSource creates a source restoring the slot at the given
// metadata path.
func NewSlotSource(slotPath string, compress bool) *SlotSource {
	return &SlotSource{slotPath: slotPath, compress: compress}
}

// Name returns the slot file base name.
func (ss *SlotSource) Name() string {
	return filepath.Base(ss.slotPath)
}

// Key returns the source identity: the cleaned slot path.
func (ss *SlotSource) Key() string {
	return filepath.Clean(ss.slotPath)
}

// Identity returns the dotted SNCL name of the channel the slot holds,
// read from the slot header without restoring anything.
func (ss *SlotSource) Identity() (string, error) {
	hdr, _, err := readSlotFile(ss.slotPath)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s.%s.%s.%s", hdr.Network, hdr.Station, hdr.Location, hdr.Channel), nil
}

// Parse restores the slot's channel and its segment metadata. If the
// registry already holds a channel with the same identity and data, the
// restore still attaches the payload file so dropped segments reload
// from it.
func (ss *SlotSource) Parse(ctx context.Context, reg waveform.ChannelAdder) ([]*waveform.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hdr, metas, err := readSlotFile(ss.slotPath)
	if err != nil {
		return nil, err
	}

	sta := reg.GetOrAddStation(hdr.Station)
	ch := reg.GetOrAddChannel(hdr.Channel, sta, hdr.Network, hdr.Location)
	ch.SetScale(hdr.Scale)
	if err := ch.SetSpillTarget(payloadPath(ss.slotPath), ss.compress); err != nil {
		return nil, err
	}

	for _, m := range metas {
		seg := waveform.NewSegment(ss, m.StartMs, m.SampleRate, m.SampleCount, -1)
		seg.SetSpillOffset(m.SpillOff)
		ch.AddSegment(seg)
	}
	ch.SetSerialPath(ss.slotPath)

	return []*waveform.Channel{ch}, nil
}

// LoadSegment is unreachable in normal operation: restored segments read
// their payload through the slot's spill file.
func (ss *SlotSource) LoadSegment(ctx context.Context, seg *waveform.Segment) ([]int32, error) {
	return nil, fmt.Errorf("slot %s: payload file detached: %w", ss.Name(), xerrors.ErrNotResident)
}

// appendString appends a length-prefixed string to the buffer.
func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// readString reads a length-prefixed string from the buffer.
func readString(data []byte, offset int) (string, int, error) {
	if offset+2 > len(data) {
		return "", offset, fmt.Errorf("data too short for string length: %w", xerrors.ErrCorruptSlot)
	}
	length := int(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2
	if offset+length > len(data) {
		return "", offset, fmt.Errorf("data too short for string content: %w", xerrors.ErrCorruptSlot)
	}
	return string(data[offset : offset+length]), offset + length, nil
}
