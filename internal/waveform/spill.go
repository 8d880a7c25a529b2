package waveform

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/klauspost/compress/zstd"

	xerrors "github.com/agonzales-usgs/xmax-1.07/internal/errors"
)

// Spill block codecs.
const (
	spillCodecRaw  byte = 0
	spillCodecZstd byte = 1
)

// spillBlockHeader is [1 byte codec][4 bytes sample count][4 bytes stored length].
const spillBlockHeaderSize = 9

// SpillFile is a random-access file holding sample payload blocks for the
// segments of one channel collection. Blocks are append-only; a segment
// remembers the offset of its block.
//
// SpillFile is safe for concurrent use.
type SpillFile struct {
	mu       sync.Mutex
	path     string
	f        *os.File
	compress bool

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// OpenSpill opens (or creates) a spill file. When compress is set, block
// payloads are zstd-compressed.
func OpenSpill(path string, compress bool) (*SpillFile, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open spill file: %w", err)
	}

	sp := &SpillFile{path: path, f: f, compress: compress}

	sp.dec, err = zstd.NewReader(nil)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create decoder: %w", err)
	}
	if compress {
		sp.enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			sp.dec.Close()
			f.Close()
			return nil, fmt.Errorf("create encoder: %w", err)
		}
	}

	return sp, nil
}

// Path returns the file path backing this spill area.
func (sp *SpillFile) Path() string {
	return sp.path
}

// StoreBlock appends a sample payload and returns its block offset.
func (sp *SpillFile) StoreBlock(samples []int32) (int64, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	off, err := sp.f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("seek spill end: %w", err)
	}

	raw := make([]byte, len(samples)*4)
	for i, v := range samples {
		binary.LittleEndian.PutUint32(raw[i*4:], uint32(v))
	}

	codec := spillCodecRaw
	stored := raw
	if sp.compress {
		codec = spillCodecZstd
		stored = sp.enc.EncodeAll(raw, make([]byte, 0, len(raw)/2))
	}

	header := make([]byte, spillBlockHeaderSize)
	header[0] = codec
	binary.LittleEndian.PutUint32(header[1:5], uint32(len(samples)))
	binary.LittleEndian.PutUint32(header[5:9], uint32(len(stored)))

	if _, err := sp.f.Write(header); err != nil {
		return 0, fmt.Errorf("write spill header: %w", err)
	}
	if _, err := sp.f.Write(stored); err != nil {
		return 0, fmt.Errorf("write spill block: %w", err)
	}

	return off, nil
}

// ReadBlock reads the sample payload stored at the given block offset.
func (sp *SpillFile) ReadBlock(off int64) ([]int32, error) {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	header := make([]byte, spillBlockHeaderSize)
	if _, err := sp.f.ReadAt(header, off); err != nil {
		return nil, fmt.Errorf("read spill header: %w", err)
	}

	codec := header[0]
	count := int(binary.LittleEndian.Uint32(header[1:5]))
	storedLen := int(binary.LittleEndian.Uint32(header[5:9]))

	stored := make([]byte, storedLen)
	if _, err := sp.f.ReadAt(stored, off+spillBlockHeaderSize); err != nil {
		return nil, fmt.Errorf("read spill block: %w", err)
	}

	var raw []byte
	switch codec {
	case spillCodecRaw:
		raw = stored
	case spillCodecZstd:
		var err error
		raw, err = sp.dec.DecodeAll(stored, make([]byte, 0, count*4))
		if err != nil {
			return nil, fmt.Errorf("decompress spill block: %w", err)
		}
	default:
		return nil, fmt.Errorf("spill codec %d: %w", codec, xerrors.ErrBadVersion)
	}

	if len(raw) != count*4 {
		return nil, fmt.Errorf("spill block has %d bytes, expected %d: %w", len(raw), count*4, xerrors.ErrChecksum)
	}

	samples := make([]int32, count)
	for i := range samples {
		samples[i] = int32(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return samples, nil
}

// Close closes the spill file. Stored blocks become unreadable.
func (sp *SpillFile) Close() error {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	sp.dec.Close()
	if sp.enc != nil {
		sp.enc.Close()
	}
	return sp.f.Close()
}
