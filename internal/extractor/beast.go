package extractor

import "bytes"

const beastEscape = 0x1A

var mlatMagic = []byte{0xFF, 0x00, 0x4D, 0x4C, 0x41, 0x54}

// Beast extracts frames from the Mode-S Beast binary format. Every frame
// starts with 0x1A and a type byte, and 0x1A inside a frame is doubled.
type Beast struct {
	scratch []byte
}

func beastPayloadLength(frameType byte) int {
	switch frameType {
	case '1':
		return 2
	case '2':
		return 7
	case '3', '4':
		return 14
	}
	return 0
}

// Extract implements Extractor
func (b *Beast) Extract(buffer []byte) ([]Frame, int) {
	b.scratch = b.scratch[:0]
	var frames []Frame

	i := 0
	for i < len(buffer) {
		if buffer[i] != beastEscape {
			i++
			continue
		}
		if i+1 >= len(buffer) {
			return frames, i
		}
		frameType := buffer[i+1]
		payload := beastPayloadLength(frameType)
		if payload == 0 {
			// Escaped data or a type we don't know, resync on the next marker
			if frameType == beastEscape {
				i += 2
			} else {
				i++
			}
			continue
		}

		start := len(b.scratch)
		need := 7 + payload
		j := i + 2
		complete, broken := false, false
		for j < len(buffer) {
			c := buffer[j]
			if c == beastEscape {
				if j+1 >= len(buffer) {
					break
				}
				if buffer[j+1] != beastEscape {
					broken = true
					break
				}
				j++
			}
			b.scratch = append(b.scratch, c)
			j++
			if len(b.scratch)-start == need {
				complete = true
				break
			}
		}

		if broken {
			// A new frame started before this one finished
			b.scratch = b.scratch[:start]
			frames = append(frames, Frame{Kind: KindModeS, Malformed: true})
			i = j
			continue
		}
		if !complete {
			b.scratch = b.scratch[:start]
			return frames, i
		}

		body := b.scratch[start:]
		i = j
		if frameType == '1' || frameType == '4' {
			// Mode A/C and receiver status are not Mode-S frames
			b.scratch = b.scratch[:start]
			continue
		}

		var ts uint64
		for _, c := range body[:6] {
			ts = ts<<8 | uint64(c)
		}
		frames = append(frames, Frame{
			Kind:        KindModeS,
			Data:        body[7:],
			Timestamp:   ts,
			IsMlat:      bytes.Equal(body[:6], mlatMagic),
			HasSignal:   true,
			SignalLevel: int(body[6]),
		})
	}
	return frames, i
}
