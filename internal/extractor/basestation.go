package extractor

import "bytes"

const baseStationMaxLine = 4096

// BaseStation extracts newline terminated CSV lines from an SBS-1 style
// feed. Frame data aliases the input buffer.
type BaseStation struct{}

// Extract implements Extractor
func (BaseStation) Extract(buffer []byte) ([]Frame, int) {
	var frames []Frame

	i := 0
	for i < len(buffer) {
		end := bytes.IndexByte(buffer[i:], '\n')
		if end < 0 {
			if len(buffer)-i > baseStationMaxLine {
				frames = append(frames, Frame{Kind: KindBaseStation, Malformed: true})
				return frames, len(buffer)
			}
			return frames, i
		}

		line := bytes.TrimSpace(buffer[i : i+end])
		i += end + 1
		if len(line) == 0 {
			continue
		}
		if len(line) > baseStationMaxLine {
			frames = append(frames, Frame{Kind: KindBaseStation, Malformed: true})
			continue
		}
		frames = append(frames, Frame{Kind: KindBaseStation, Data: line})
	}
	return frames, i
}
