package extractor

import (
	"bytes"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/saviobatista/modes-feed/internal/testutils"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("Invalid hex %q: %v", s, err)
	}
	return b
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		input    string
		expected Format
		wantErr  bool
	}{
		{"beast", FormatBeast, false},
		{" AVR ", FormatAVR, false},
		{"raw", FormatAVR, false},
		{"sbs", FormatBaseStation, false},
		{"basestation", FormatBaseStation, false},
		{"json", "", true},
	}

	for _, tt := range tests {
		got, err := ParseFormat(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.expected {
			t.Errorf("ParseFormat(%q) = %q, expected %q", tt.input, got, tt.expected)
		}
	}
}

func TestNew(t *testing.T) {
	for _, f := range []Format{FormatBeast, FormatAVR, FormatBaseStation} {
		if _, err := New(f); err != nil {
			t.Errorf("New(%q) unexpected error: %v", f, err)
		}
	}
	if _, err := New("nmea"); !errors.Is(err, ErrUnknownFormat) {
		t.Errorf("Expected ErrUnknownFormat, got %v", err)
	}
}

func TestBeast_Extract(t *testing.T) {
	long := mustHex(t, "8D4840D6202CC371C32CE0576098")
	short := []byte{0x5D, 0x48, 0x40, 0xD6, 0x1A, 0x00, 0x00}

	var stream []byte
	stream = append(stream, 0x00, 0x42) // noise before the first marker
	stream = append(stream, testutils.BeastFrame(long, 0x0102030405, 0x80)...)
	stream = append(stream, testutils.BeastFrame(short, 7, 0x1A)...)

	b := &Beast{}
	frames, consumed := b.Extract(stream)
	if consumed != len(stream) {
		t.Errorf("Expected %d bytes consumed, got %d", len(stream), consumed)
	}
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(frames))
	}
	if !bytes.Equal(frames[0].Data, long) {
		t.Errorf("Expected % X, got % X", long, frames[0].Data)
	}
	if frames[0].Timestamp != 0x0102030405 || frames[0].SignalLevel != 0x80 || !frames[0].HasSignal {
		t.Errorf("Unexpected frame metadata %+v", frames[0])
	}
	if !bytes.Equal(frames[1].Data, short) {
		t.Errorf("Expected escaped bytes restored, got % X", frames[1].Data)
	}
	if frames[1].SignalLevel != 0x1A {
		t.Errorf("Expected signal 0x1A, got 0x%02X", frames[1].SignalLevel)
	}
}

func TestBeast_PartialFrame(t *testing.T) {
	long := mustHex(t, "8D4840D6202CC371C32CE0576098")
	encoded := testutils.BeastFrame(long, 1, 10)

	b := &Beast{}
	for _, cut := range []int{1, 2, 9, len(encoded) - 1} {
		frames, consumed := b.Extract(encoded[:cut])
		if len(frames) != 0 || consumed != 0 {
			t.Errorf("Cut at %d: expected nothing, got %d frames and %d consumed", cut, len(frames), consumed)
		}
	}

	// The remainder plus more data completes the frame
	frames, consumed := b.Extract(encoded)
	if len(frames) != 1 || consumed != len(encoded) {
		t.Errorf("Expected one frame, got %d (consumed %d)", len(frames), consumed)
	}
}

func TestBeast_BrokenFrameResyncs(t *testing.T) {
	long := mustHex(t, "8D4840D6202CC371C32CE0576098")
	good := testutils.BeastFrame(long, 1, 10)
	broken := good[:10]

	stream := append(append([]byte{}, broken...), good...)
	b := &Beast{}
	frames, consumed := b.Extract(stream)
	if consumed != len(stream) {
		t.Errorf("Expected all bytes consumed, got %d of %d", consumed, len(stream))
	}
	if len(frames) != 2 || !frames[0].Malformed || frames[1].Malformed {
		t.Fatalf("Expected a malformed frame then a good one, got %+v", frames)
	}
	if !bytes.Equal(frames[1].Data, long) {
		t.Errorf("Expected % X, got % X", long, frames[1].Data)
	}
}

func TestBeast_SkipsModeACAndStatus(t *testing.T) {
	stream := []byte{0x1A, '1', 0, 0, 0, 0, 0, 1, 5, 0x12, 0x34}
	b := &Beast{}
	frames, consumed := b.Extract(stream)
	if len(frames) != 0 || consumed != len(stream) {
		t.Errorf("Expected Mode A/C to be consumed silently, got %d frames, %d consumed", len(frames), consumed)
	}
}

func TestBeast_Mlat(t *testing.T) {
	msg := mustHex(t, "8D4840D6202CC371C32CE0576098")
	ts := uint64(0xFF004D4C4154)
	b := &Beast{}
	frames, _ := b.Extract(testutils.BeastFrame(msg, ts, 1))
	if len(frames) != 1 || !frames[0].IsMlat {
		t.Errorf("Expected MLAT frame, got %+v", frames)
	}
}

func TestAVR_Extract(t *testing.T) {
	input := "*8D4840D6202CC371C32CE0576098;\r\n" +
		"@0000000012348D40621D58C382D690C8AC2863A7;\n" +
		"*02E99619FACDAE;\n" +
		"*ZZ;\n" +
		"*8D4840D6202C"

	a := &AVR{}
	frames, consumed := a.Extract([]byte(input))

	expectedConsumed := len(input) - len("*8D4840D6202C")
	if consumed != expectedConsumed {
		t.Errorf("Expected %d consumed, got %d", expectedConsumed, consumed)
	}
	if len(frames) != 4 {
		t.Fatalf("Expected 4 frames, got %d", len(frames))
	}
	if !bytes.Equal(frames[0].Data, mustHex(t, "8D4840D6202CC371C32CE0576098")) {
		t.Errorf("Unexpected first frame % X", frames[0].Data)
	}
	if frames[1].Timestamp != 0x1234 || len(frames[1].Data) != 14 {
		t.Errorf("Unexpected timestamped frame %+v", frames[1])
	}
	if len(frames[2].Data) != 7 {
		t.Errorf("Expected short frame, got %d bytes", len(frames[2].Data))
	}
	if !frames[3].Malformed {
		t.Error("Expected invalid hex to be malformed")
	}
}

func TestAVR_TruncatedLine(t *testing.T) {
	input := "*8D4840D6*8D4840D6202CC371C32CE0576098;\n"
	a := &AVR{}
	frames, consumed := a.Extract([]byte(input))
	if consumed != len(input) {
		t.Errorf("Expected %d consumed, got %d", len(input), consumed)
	}
	if len(frames) != 2 || !frames[0].Malformed || frames[1].Malformed {
		t.Errorf("Expected malformed then good frame, got %+v", frames)
	}
}

func TestAVR_ClonedFrameSurvivesNextCall(t *testing.T) {
	a := &AVR{}
	frames, _ := a.Extract([]byte("*8D4840D6202CC371C32CE0576098;\n"))
	kept := frames[0].Clone()

	a.Extract([]byte("*8D40621D58C382D690C8AC2863A7;\n"))
	if !bytes.Equal(kept.Data, mustHex(t, "8D4840D6202CC371C32CE0576098")) {
		t.Errorf("Expected clone to keep its bytes, got % X", kept.Data)
	}
}

func TestBaseStation_Extract(t *testing.T) {
	line1 := testutils.MockBaseStationLine(3, "4840D6")
	line2 := testutils.MockBaseStationLine(1, "40621D")
	input := line1 + "\r\n\n" + line2 + "\n" + "MSG,3,1"

	frames, consumed := BaseStation{}.Extract([]byte(input))
	if consumed != len(input)-len("MSG,3,1") {
		t.Errorf("Expected partial line to remain, consumed %d", consumed)
	}
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(frames))
	}
	if string(frames[0].Data) != line1 || frames[0].Kind != KindBaseStation {
		t.Errorf("Unexpected first line %q", frames[0].Data)
	}
	if string(frames[1].Data) != line2 {
		t.Errorf("Unexpected second line %q", frames[1].Data)
	}
}

func TestBaseStation_OverlongLine(t *testing.T) {
	input := bytes.Repeat([]byte("x"), baseStationMaxLine+1)
	frames, consumed := BaseStation{}.Extract(input)
	if consumed != len(input) || len(frames) != 1 || !frames[0].Malformed {
		t.Errorf("Expected overlong line to be dropped as malformed, got %d frames, %d consumed", len(frames), consumed)
	}
}
