package log

import (
	"errors"
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects events when reading a capture.
// Zero-valued fields match everything.
type Filter struct {
	SessionID   string
	ApplianceID string
	Layer       *Layer
	Category    *Category
	Since       time.Time
	Until       time.Time
}

func (f Filter) matches(e Event) bool {
	switch {
	case f.SessionID != "" && e.SessionID != f.SessionID:
		return false
	case f.ApplianceID != "" && e.ApplianceID != f.ApplianceID:
		return false
	case f.Layer != nil && e.Layer != *f.Layer:
		return false
	case f.Category != nil && e.Category != *f.Category:
		return false
	case !f.Since.IsZero() && e.Timestamp.Before(f.Since):
		return false
	case !f.Until.IsZero() && !e.Timestamp.Before(f.Until):
		return false
	}
	return true
}

// Reader streams events from a capture file.
type Reader struct {
	file    *os.File
	decoder *cbor.Decoder
	filter  Filter
}

// NewReader opens a capture file and returns every event in it.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens a capture file and returns matching events only.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{file: f, decoder: NewDecoder(f), filter: filter}, nil
}

// Next returns the next matching event, or io.EOF at the end of the file.
func (r *Reader) Next() (Event, error) {
	for {
		var e Event
		if err := r.decoder.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				return Event{}, io.EOF
			}
			return Event{}, err
		}
		if r.filter.matches(e) {
			return e, nil
		}
	}
}

// Close closes the capture file.
func (r *Reader) Close() error {
	return r.file.Close()
}
