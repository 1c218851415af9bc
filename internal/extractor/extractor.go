// Package extractor splits a receiver byte stream into frames. Each wire
// format has its own Extractor; an instance must only be driven by one
// listener at a time.
package extractor

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownFormat = errors.New("unknown feed format")

// Format names a receiver wire format
type Format string

const (
	FormatBeast       Format = "beast"
	FormatAVR         Format = "avr"
	FormatBaseStation Format = "basestation"
)

// Kind says how the bytes of a frame should be interpreted
type Kind int

const (
	KindModeS Kind = iota
	KindBaseStation
)

// Frame is one message cut from the stream. Data may alias a buffer owned
// by the extractor and is only valid until the next call to Extract, use
// Clone to keep it.
type Frame struct {
	Kind Kind
	Data []byte

	// Malformed frames were recognised by their framing but could not be
	// decoded. Data is nil.
	Malformed bool

	Timestamp   uint64
	IsMlat      bool
	HasSignal   bool
	SignalLevel int
}

// Clone returns a copy of the frame that owns its data
func (f Frame) Clone() Frame {
	c := f
	if f.Data != nil {
		c.Data = append([]byte(nil), f.Data...)
	}
	return c
}

// Extractor cuts complete frames from the front of buffer. consumed is the
// number of bytes that the caller can drop, the rest is a partial frame that
// should be presented again with more data appended.
type Extractor interface {
	Extract(buffer []byte) (frames []Frame, consumed int)
}

// ParseFormat maps a configuration value onto a Format
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatBeast, FormatAVR, FormatBaseStation:
		return f, nil
	case "sbs", "sbs1", "port30003":
		return FormatBaseStation, nil
	case "raw":
		return FormatAVR, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// New creates an extractor for format
func New(format Format) (Extractor, error) {
	switch format {
	case FormatBeast:
		return &Beast{}, nil
	case FormatAVR:
		return &AVR{}, nil
	case FormatBaseStation:
		return &BaseStation{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
}
