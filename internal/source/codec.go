// Package source provides the data sources that populate the registry:
// waveform block files discovered on disk, and live socket feeds.
package source

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"

	xerrors "github.com/agonzales-usgs/xmax-1.07/internal/errors"
)

// Waveform block file format (binary, little-endian):
//   - Header: 8 bytes magic + 4 bytes version
//   - Records: [4 bytes length][4 bytes crc32][payload]
//
// Record payload:
//   - Network, Station, Location, Channel (2-byte length-prefixed strings)
//   - StartMs (8 bytes)
//   - SampleRate (8 bytes, float64)
//   - SampleCount (4 bytes)
//   - Samples (SampleCount x 4 bytes, int32)
const (
	blockMagic       = 0x5746424C4B303101 // "WFBLK0" + version 1
	blockVersion     = 1
	blockHeaderSize  = 12 // 8 bytes magic + 4 bytes version
	recordHeaderSize = 8  // 4 bytes length + 4 bytes crc
)

// BlockFileExt is the extension the directory scanner picks up.
const BlockFileExt = ".trc"

// Block is one contiguous run of samples in a block file.
type Block struct {
	Network    string
	Station    string
	Location   string
	Channel    string
	StartMs    int64
	SampleRate float64
	Samples    []int32
}

// blockMeta is a parsed record with the payload left on disk.
type blockMeta struct {
	Network     string
	Station     string
	Location    string
	Channel     string
	StartMs     int64
	SampleRate  float64
	SampleCount int

	// SampleOff is the absolute file offset of the sample bytes.
	SampleOff int64
}

// WriteBlockFile writes blocks to a new waveform block file.
func WriteBlockFile(path string, blocks []Block) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create block file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)

	header := make([]byte, blockHeaderSize)
	binary.LittleEndian.PutUint64(header[0:8], blockMagic)
	binary.LittleEndian.PutUint32(header[8:12], blockVersion)
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for i, b := range blocks {
		payload := encodeBlock(b)
		record := make([]byte, recordHeaderSize)
		binary.LittleEndian.PutUint32(record[0:4], uint32(len(payload)))
		binary.LittleEndian.PutUint32(record[4:8], crc32.ChecksumIEEE(payload))
		if _, err := w.Write(record); err != nil {
			return fmt.Errorf("block %d: write record header: %w", i, err)
		}
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("block %d: write payload: %w", i, err)
		}
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush block file: %w", err)
	}
	return f.Sync()
}

func encodeBlock(b Block) []byte {
	buf := make([]byte, 0, 64+len(b.Samples)*4)
	buf = appendString(buf, b.Network)
	buf = appendString(buf, b.Station)
	buf = appendString(buf, b.Location)
	buf = appendString(buf, b.Channel)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(b.StartMs))
	buf = binary.LittleEndian.AppendUint64(buf, floatBits(b.SampleRate))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(b.Samples)))
	for _, v := range b.Samples {
		buf = binary.LittleEndian.AppendUint32(buf, uint32(v))
	}
	return buf
}

// scanBlockFile reads every record, verifying checksums, and returns
// block metadata. Sample payloads stay on disk; only their offsets are
// retained.
func scanBlockFile(path string) ([]blockMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open block file: %w", err)
	}
	defer f.Close()

	header := make([]byte, blockHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if magic := binary.LittleEndian.Uint64(header[0:8]); magic != blockMagic {
		return nil, fmt.Errorf("%s: magic %x: %w", path, magic, xerrors.ErrBadMagic)
	}
	if version := binary.LittleEndian.Uint32(header[8:12]); version != blockVersion {
		return nil, fmt.Errorf("%s: version %d: %w", path, version, xerrors.ErrBadVersion)
	}

	var metas []blockMeta
	offset := int64(blockHeaderSize)
	recHeader := make([]byte, recordHeaderSize)
	for {
		if _, err := io.ReadFull(f, recHeader); err != nil {
			if err == io.EOF {
				return metas, nil
			}
			return nil, fmt.Errorf("read record header at %d: %w", offset, err)
		}
		length := binary.LittleEndian.Uint32(recHeader[0:4])
		wantCRC := binary.LittleEndian.Uint32(recHeader[4:8])

		payload := make([]byte, length)
		if _, err := io.ReadFull(f, payload); err != nil {
			return nil, fmt.Errorf("read payload at %d: %w", offset, err)
		}
		if got := crc32.ChecksumIEEE(payload); got != wantCRC {
			return nil, fmt.Errorf("record at %d: crc %x != %x: %w", offset, got, wantCRC, xerrors.ErrChecksum)
		}

		meta, prefixLen, err := decodeBlockMeta(payload)
		if err != nil {
			return nil, fmt.Errorf("record at %d: %w", offset, err)
		}
		meta.SampleOff = offset + recordHeaderSize + int64(prefixLen)
		metas = append(metas, meta)

		offset += recordHeaderSize + int64(length)
	}
}

// decodeBlockMeta parses a record payload, returning the metadata and
// the byte length of the prefix ahead of the sample array.
func decodeBlockMeta(payload []byte) (blockMeta, int, error) {
	var m blockMeta
	var err error
	offset := 0

	if m.Network, offset, err = readString(payload, offset); err != nil {
		return m, 0, fmt.Errorf("network: %w", err)
	}
	if m.Station, offset, err = readString(payload, offset); err != nil {
		return m, 0, fmt.Errorf("station: %w", err)
	}
	if m.Location, offset, err = readString(payload, offset); err != nil {
		return m, 0, fmt.Errorf("location: %w", err)
	}
	if m.Channel, offset, err = readString(payload, offset); err != nil {
		return m, 0, fmt.Errorf("channel: %w", err)
	}

	if offset+20 > len(payload) {
		return m, 0, fmt.Errorf("payload too short for block header: %w", xerrors.ErrSourceParse)
	}
	m.StartMs = int64(binary.LittleEndian.Uint64(payload[offset:]))
	offset += 8
	m.SampleRate = floatFromBits(binary.LittleEndian.Uint64(payload[offset:]))
	offset += 8
	m.SampleCount = int(binary.LittleEndian.Uint32(payload[offset:]))
	offset += 4

	if offset+m.SampleCount*4 > len(payload) {
		return m, 0, fmt.Errorf("payload too short for %d samples: %w", m.SampleCount, xerrors.ErrSourceParse)
	}
	return m, offset, nil
}

// readSamples reads count int32 samples at an absolute file offset.
func readSamples(f *os.File, off int64, count int) ([]int32, error) {
	raw := make([]byte, count*4)
	if _, err := f.ReadAt(raw, off); err != nil {
		return nil, fmt.Errorf("read samples at %d: %w", off, err)
	}
	samples := make([]int32, count)
	for i := range samples {
		samples[i] = int32(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return samples, nil
}

// appendString appends a length-prefixed string to the buffer.
func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func floatBits(v float64) uint64 {
	return math.Float64bits(v)
}

func floatFromBits(b uint64) float64 {
	return math.Float64frombits(b)
}

// readString reads a length-prefixed string from the buffer.
func readString(data []byte, offset int) (string, int, error) {
	if offset+2 > len(data) {
		return "", offset, fmt.Errorf("data too short for string length: %w", xerrors.ErrSourceParse)
	}
	length := int(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2
	if offset+length > len(data) {
		return "", offset, fmt.Errorf("data too short for string content: %w", xerrors.ErrSourceParse)
	}
	return string(data[offset : offset+length]), offset + length, nil
}
