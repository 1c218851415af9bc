package extractor

import (
	"bytes"
	"encoding/hex"
	"strconv"
)

// Longest AVR line: '@', 12 hex timestamp, 28 hex frame, ';'
const avrMaxLine = 1 + 12 + 28 + 1

// AVR extracts frames from the text format used by dump1090 on port 30002:
// "*<hex>;" for plain frames and "@<timestamp><hex>;" for timestamped ones.
type AVR struct {
	scratch []byte
}

// Extract implements Extractor
func (a *AVR) Extract(buffer []byte) ([]Frame, int) {
	a.scratch = a.scratch[:0]
	var frames []Frame

	i := 0
	for i < len(buffer) {
		c := buffer[i]
		if c != '*' && c != '@' {
			i++
			continue
		}

		end := bytes.IndexByte(buffer[i+1:], ';')
		if end < 0 {
			if len(buffer)-i > avrMaxLine {
				// No terminator where one should be, skip to the next marker
				frames = append(frames, Frame{Kind: KindModeS, Malformed: true})
				i++
				continue
			}
			return frames, i
		}

		body := buffer[i+1 : i+1+end]
		next := i + 1 + end + 1
		if idx := bytes.IndexAny(body, "*@"); idx >= 0 {
			// Truncated line followed by a new one
			frames = append(frames, Frame{Kind: KindModeS, Malformed: true})
			i += 1 + idx
			continue
		}
		i = next

		frame := Frame{Kind: KindModeS}
		if c == '@' {
			if len(body) < 12 {
				frames = append(frames, Frame{Kind: KindModeS, Malformed: true})
				continue
			}
			ts, err := strconv.ParseUint(string(body[:12]), 16, 64)
			if err != nil {
				frames = append(frames, Frame{Kind: KindModeS, Malformed: true})
				continue
			}
			frame.Timestamp = ts
			body = body[12:]
		}

		if len(body) != 14 && len(body) != 28 {
			frames = append(frames, Frame{Kind: KindModeS, Malformed: true})
			continue
		}
		start := len(a.scratch)
		a.scratch = append(a.scratch, make([]byte, len(body)/2)...)
		if _, err := hex.Decode(a.scratch[start:], body); err != nil {
			a.scratch = a.scratch[:start]
			frames = append(frames, Frame{Kind: KindModeS, Malformed: true})
			continue
		}
		frame.Data = a.scratch[start:]
		frames = append(frames, frame)
	}
	return frames, i
}
