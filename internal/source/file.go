package source

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agonzales-usgs/xmax-1.07/internal/logging"
	"github.com/agonzales-usgs/xmax-1.07/internal/waveform"
)

// FileSource is a waveform block file on disk. Parsing registers its
// segments lazily: sample payloads stay in the file until a segment load
// asks for them.
type FileSource struct {
	path string
}

// NewFileSource creates a source for the given block file path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Name returns the file base name.
func (fs *FileSource) Name() string {
	return filepath.Base(fs.path)
}

// Key returns the source identity: the cleaned absolute-ish path.
func (fs *FileSource) Key() string {
	return filepath.Clean(fs.path)
}

// Path returns the underlying file path.
func (fs *FileSource) Path() string {
	return fs.path
}

// Parse scans the block file and registers one segment per block,
// returning the channels it touched.
func (fs *FileSource) Parse(ctx context.Context, reg waveform.ChannelAdder) ([]*waveform.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	log := logging.Component("source")

	metas, err := scanBlockFile(fs.path)
	if err != nil {
		return nil, err
	}

	touched := make(map[*waveform.Channel]struct{})
	var channels []*waveform.Channel
	for _, m := range metas {
		sta := reg.GetOrAddStation(m.Station)
		ch := reg.GetOrAddChannel(m.Channel, sta, m.Network, m.Location)
		ch.AddSegment(waveform.NewSegment(fs, m.StartMs, m.SampleRate, m.SampleCount, m.SampleOff))
		if _, ok := touched[ch]; !ok {
			touched[ch] = struct{}{}
			channels = append(channels, ch)
		}
	}

	log.Debug("block file parsed", "file", fs.Name(), "blocks", len(metas), "channels", len(channels))
	return channels, nil
}

// LoadSegment reads a segment's sample payload from the block file.
func (fs *FileSource) LoadSegment(ctx context.Context, seg *waveform.Segment) ([]int32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if seg.DataOffset() < 0 {
		return nil, fmt.Errorf("segment has no offset into %s", fs.Name())
	}

	f, err := os.Open(fs.path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", fs.path, err)
	}
	defer f.Close()

	return readSamples(f, seg.DataOffset(), seg.SampleCount())
}

// Scan returns a file source for every block file under dir, ordered by
// path for deterministic parse order.
func Scan(dir string) ([]*FileSource, error) {
	var sources []*FileSource
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), BlockFileExt) {
			sources = append(sources, NewFileSource(path))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	sort.Slice(sources, func(i, j int) bool { return sources[i].path < sources[j].path })
	return sources, nil
}
