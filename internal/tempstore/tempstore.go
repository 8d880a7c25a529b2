// Package tempstore persists channel collections to a temporary storage
// area so a later session can restore them without re-parsing the
// original sources. Each channel occupies one slot: a metadata file plus
// a payload file the restored segments read lazily.
package tempstore

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/agonzales-usgs/xmax-1.07/internal/logging"
)

const (
	// SlotExt is the extension of slot metadata files.
	SlotExt = ".ser"
	// payloadExt is the extension of slot payload files.
	payloadExt = ".spill"
)

// Storage manages the temporary slot directory.
type Storage struct {
	dir      string
	compress bool
	log      interface {
		Debug(msg string, args ...any)
		Warn(msg string, args ...any)
	}
}

// NewStorage creates a storage area rooted at dir. When compress is set,
// dumped payloads are zstd-compressed.
func NewStorage(dir string, compress bool) *Storage {
	return &Storage{
		dir:      dir,
		compress: compress,
		log:      logging.Component("tempstore"),
	}
}

// Dir returns the slot directory.
func (st *Storage) Dir() string {
	return st.dir
}

// SlotPath returns the metadata file path for the named channel.
func (st *Storage) SlotPath(channelName string) string {
	return filepath.Join(st.dir, channelName+SlotExt)
}

func payloadPath(slotPath string) string {
	return strings.TrimSuffix(slotPath, SlotExt) + payloadExt
}

// AllSlots returns the metadata file path of every slot in the storage
// area, sorted by path. A missing directory yields an empty list.
func (st *Storage) AllSlots() ([]string, error) {
	entries, err := os.ReadDir(st.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read temp dir: %w", err)
	}

	var slots []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), SlotExt) {
			slots = append(slots, filepath.Join(st.dir, e.Name()))
		}
	}
	sort.Strings(slots)
	return slots, nil
}

// DeleteSlot removes one slot's metadata and payload files.
func (st *Storage) DeleteSlot(slotPath string) error {
	if err := os.Remove(slotPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete slot: %w", err)
	}
	if err := os.Remove(payloadPath(slotPath)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete slot payload: %w", err)
	}
	return nil
}

// DeleteAll removes every slot in the storage area.
func (st *Storage) DeleteAll() error {
	slots, err := st.AllSlots()
	if err != nil {
		return err
	}
	for _, slot := range slots {
		if err := st.DeleteSlot(slot); err != nil {
			return err
		}
	}
	st.log.Debug("temp storage cleared", "dir", st.dir, "slots", len(slots))
	return nil
}
