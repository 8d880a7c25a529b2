// Package errors consolidates sentinel errors and wrapping helpers for
// the waveform data core.
//
// Errors fall into a few caller-visible families:
//   - not-found conditions (channel, station, response, temp slot)
//   - pagination boundaries (first/last channel set) — recoverable
//     navigation failures, not faults
//   - export preconditions (gapped SAC slice)
//   - data/format corruption (block files, temp slots)
package errors

import (
	"errors"
	"fmt"
)

var (
	// Not found errors
	ErrNotFound         = errors.New("not found")
	ErrChannelNotFound  = errors.New("channel not found")
	ErrStationNotFound  = errors.New("station not found")
	ErrResponseNotFound = errors.New("response file not found")
	ErrSlotNotFound     = errors.New("temp storage slot not found")

	// Pagination boundary errors
	ErrLastChannelSet  = errors.New("this is the last channel set")
	ErrFirstChannelSet = errors.New("this is the first channel set")

	// Export precondition errors
	ErrGappedSlice = errors.New("interval contains gaps")
	ErrNoData      = errors.New("no data in interval")

	// Data state errors
	ErrNotResident       = errors.New("segment data not resident")
	ErrMalformedInterval = errors.New("malformed time interval")

	// Format/parse errors
	ErrSourceParse = errors.New("source parse failed")
	ErrCorruptSlot = errors.New("corrupt temp storage slot")
	ErrBadMagic    = errors.New("bad file magic")
	ErrBadVersion  = errors.New("unsupported format version")
	ErrChecksum    = errors.New("checksum mismatch")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrMissingField  = errors.New("missing required field")
)

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrChannelNotFound) ||
		errors.Is(err, ErrStationNotFound) ||
		errors.Is(err, ErrResponseNotFound) ||
		errors.Is(err, ErrSlotNotFound)
}

// IsBoundary returns true if err signals a pagination navigation limit.
// Callers treat these as end-of-navigation, not as faults.
func IsBoundary(err error) bool {
	return errors.Is(err, ErrLastChannelSet) ||
		errors.Is(err, ErrFirstChannelSet)
}

// IsCorrupt returns true if err indicates on-disk data damage.
func IsCorrupt(err error) bool {
	return errors.Is(err, ErrCorruptSlot) ||
		errors.Is(err, ErrBadMagic) ||
		errors.Is(err, ErrBadVersion) ||
		errors.Is(err, ErrChecksum)
}

// IsValidation returns true if err is a configuration validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// NewNotFound creates a not-found error with context.
func NewNotFound(entityType, identifier string) error {
	return fmt.Errorf("%s '%s': %w", entityType, identifier, ErrNotFound)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}
