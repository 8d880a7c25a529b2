// Package response locates and caches instrument response files. A
// response file is named RESP.<network>.<station>.<location>.<channel>
// and is searched for across a configured list of candidate directories.
package response

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	xerrors "github.com/agonzales-usgs/xmax-1.07/internal/errors"
	"github.com/agonzales-usgs/xmax-1.07/internal/logging"
)

// Response is the content of one instrument response file. A Response
// with Found unset is the tagged empty value cached for a channel whose
// file could not be located.
type Response struct {
	Network  string
	Station  string
	Location string
	Channel  string

	// Path is the file the content came from, empty when not found.
	Path string

	// Content is the raw response file content.
	Content []byte

	// Found reports whether a file was located.
	Found bool
}

// FileName returns the canonical response file name for the identity.
func FileName(network, station, location, channel string) string {
	return fmt.Sprintf("RESP.%s.%s.%s.%s", network, station, location, channel)
}

// Loader searches candidate directories, in order, for response files.
type Loader struct {
	dirs []string
	log  interface {
		Debug(msg string, args ...any)
	}
}

// NewLoader creates a loader searching the given directories in order.
// Duplicates and empty entries are dropped.
func NewLoader(dirs []string) *Loader {
	seen := make(map[string]struct{}, len(dirs))
	var cleaned []string
	for _, d := range dirs {
		if d == "" {
			continue
		}
		d = filepath.Clean(d)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		cleaned = append(cleaned, d)
	}
	return &Loader{dirs: cleaned, log: logging.Component("response")}
}

// Load locates and reads the response file for the identity. The first
// directory holding a file with the exact canonical name wins. Returns
// ErrResponseNotFound when no directory has it.
func (l *Loader) Load(network, station, location, channel string) (*Response, error) {
	name := FileName(network, station, location, channel)
	for _, dir := range l.dirs {
		path := filepath.Join(dir, name)
		content, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		l.log.Debug("response located", "file", name, "dir", dir)
		return &Response{
			Network:  network,
			Station:  station,
			Location: location,
			Channel:  channel,
			Path:     path,
			Content:  content,
			Found:    true,
		}, nil
	}
	return nil, fmt.Errorf("%s: %w", name, xerrors.ErrResponseNotFound)
}

// Cache memoizes loads per channel identity. Misses are cached too, as
// tagged empty responses, so an absent file is probed at most once.
//
// Cache is safe for concurrent use.
type Cache struct {
	loader *Loader

	mu      sync.Mutex
	entries map[string]*Response
}

// NewCache creates a memoizing cache over the loader.
func NewCache(loader *Loader) *Cache {
	return &Cache{loader: loader, entries: make(map[string]*Response)}
}

// Load returns the cached response for the identity, loading it on first
// use. A cached miss keeps returning ErrResponseNotFound without
// touching the filesystem again.
func (c *Cache) Load(network, station, location, channel string) (*Response, error) {
	key := FileName(network, station, location, channel)

	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.entries[key]; ok {
		if !r.Found {
			return nil, fmt.Errorf("%s: %w", key, xerrors.ErrResponseNotFound)
		}
		return r, nil
	}

	r, err := c.loader.Load(network, station, location, channel)
	if err != nil {
		if xerrors.IsNotFound(err) {
			c.entries[key] = &Response{
				Network:  network,
				Station:  station,
				Location: location,
				Channel:  channel,
			}
		}
		return nil, err
	}
	c.entries[key] = r
	return r, nil
}

// Clear drops every cached entry, hits and misses alike.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Response)
}
