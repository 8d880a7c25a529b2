// Package station holds station metadata and the registry-wide station
// book shared across all channels.
package station

import (
	"strings"
	"sync"
)

// Station describes a recording site. Identity is the trimmed name;
// the remaining fields are metadata filled from the station file.
type Station struct {
	Name      string
	Network   string
	LongName  string
	StartDate string
	EndDate   string
	Latitude  float64
	Longitude float64
	Elevation float64
	Depth     float64
}

// New creates a station with the given (trimmed) name.
func New(name string) *Station {
	return &Station{Name: strings.TrimSpace(name)}
}

// Book is the shared station registry, keyed by trimmed name.
//
// Book is safe for concurrent use.
type Book struct {
	mu       sync.RWMutex
	stations map[string]*Station
}

// NewBook creates an empty station book.
func NewBook() *Book {
	return &Book{stations: make(map[string]*Station)}
}

// GetOrAdd returns the station with the given name, creating it if absent.
func (b *Book) GetOrAdd(name string) *Station {
	name = strings.TrimSpace(name)

	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok := b.stations[name]; ok {
		return s
	}
	s := &Station{Name: name}
	b.stations[name] = s
	return s
}

// Get returns the station with the given name, or nil if not found.
func (b *Book) Get(name string) *Station {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stations[strings.TrimSpace(name)]
}

// All returns a snapshot of every station in the book.
func (b *Book) All() []*Station {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*Station, 0, len(b.stations))
	for _, s := range b.stations {
		out = append(out, s)
	}
	return out
}

// Len returns the number of stations in the book.
func (b *Book) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.stations)
}

// Clear removes every station from the book.
func (b *Book) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stations = make(map[string]*Station)
}
