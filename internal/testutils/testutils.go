package testutils

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/saviobatista/modes-feed/internal/cpr"
	"github.com/saviobatista/modes-feed/internal/modes"
)

const callsignCharset = "#ABCDEFGHIJKLMNOPQRSTUVWXYZ##### ###############0123456789######"

// MockBaseStationLine creates a BaseStation MSG line for testing
func MockBaseStationLine(msgType int, hexIdent string) string {
	return fmt.Sprintf("MSG,%d,1,1,%s,1,2024/01/15,10:30:00.000,2024/01/15,10:30:00.000,TEST123,35000,450,180,40.7128,-74.0060,0,1200,0,0,0,0", msgType, hexIdent)
}

// SetBits writes value into ME bits first..last, numbered from 1
func SetBits(me []byte, first, last, value int) {
	for b := last; b >= first; b-- {
		i := b - 1
		mask := byte(1 << (7 - uint(i%8)))
		if value&1 != 0 {
			me[i/8] |= mask
		} else {
			me[i/8] &^= mask
		}
		value >>= 1
	}
}

// AirbornePositionME builds a type 11 airborne position at 38000ft
func AirbornePositionME(lat, lon float64, odd bool) []byte {
	c := cpr.Encode(lat, lon, odd, false)
	me := make([]byte, 7)
	SetBits(me, 1, 5, 11)
	SetBits(me, 9, 20, 0xC38)
	if odd {
		SetBits(me, 22, 22, 1)
	}
	SetBits(me, 23, 39, int(c.Lat))
	SetBits(me, 40, 56, int(c.Lon))
	return me
}

// SurfacePositionME builds a type 7 surface position with the given
// movement code
func SurfacePositionME(lat, lon float64, odd bool, movement int) []byte {
	c := cpr.Encode(lat, lon, odd, true)
	me := make([]byte, 7)
	SetBits(me, 1, 5, 7)
	SetBits(me, 6, 12, movement)
	if odd {
		SetBits(me, 22, 22, 1)
	}
	SetBits(me, 23, 39, int(c.Lat))
	SetBits(me, 40, 56, int(c.Lon))
	return me
}

// IdentificationME builds a type 4 identification message
func IdentificationME(callsign string) []byte {
	me := make([]byte, 7)
	SetBits(me, 1, 5, 4)
	padded := fmt.Sprintf("%-8s", strings.ToUpper(callsign))
	for i := 0; i < 8; i++ {
		start := 9 + i*6
		SetBits(me, start, start+5, strings.IndexByte(callsignCharset, padded[i]))
	}
	return me
}

// OperationalStatusME builds a type 31 airborne operational status
func OperationalStatusME(version int) []byte {
	me := make([]byte, 7)
	SetBits(me, 1, 5, 31)
	SetBits(me, 41, 43, version)
	return me
}

// ExtendedSquitter builds a 112 bit DF17, DF18 or DF19 frame with valid parity
func ExtendedSquitter(df, capability int, icao uint32, me []byte) []byte {
	msg := make([]byte, modes.LongFrameBytes)
	msg[0] = byte(df<<3 | capability&0x07)
	msg[1] = byte(icao >> 16)
	msg[2] = byte(icao >> 8)
	msg[3] = byte(icao)
	copy(msg[4:11], me)
	modes.SetParity(msg, 0)
	return msg
}

// AllCall builds a DF11 reply from icao with the given interrogator overlay
func AllCall(icao uint32, interrogator uint32) []byte {
	msg := make([]byte, modes.ShortFrameBytes)
	msg[0] = byte(modes.DFAllCall<<3 | 5)
	msg[1] = byte(icao >> 16)
	msg[2] = byte(icao >> 8)
	msg[3] = byte(icao)
	modes.SetParity(msg, interrogator)
	return msg
}

// AddressParity builds a surveillance or Comm-B frame whose parity field is
// overlaid with icao, as a transponder replying to an interrogation does
func AddressParity(msg []byte, icao uint32) []byte {
	out := make([]byte, len(msg))
	copy(out, msg)
	modes.SetParity(out, icao)
	return out
}

// BeastFrame encodes msg in the Beast binary format
func BeastFrame(msg []byte, timestamp uint64, signal byte) []byte {
	frameType := byte('3')
	if len(msg) == modes.ShortFrameBytes {
		frameType = '2'
	}

	body := make([]byte, 0, 7+len(msg))
	for i := 5; i >= 0; i-- {
		body = append(body, byte(timestamp>>(8*uint(i))))
	}
	body = append(body, signal)
	body = append(body, msg...)

	out := []byte{0x1A, frameType}
	for _, b := range body {
		out = append(out, b)
		if b == 0x1A {
			out = append(out, 0x1A)
		}
	}
	return out
}

// AVRFrame encodes msg as an AVR text line
func AVRFrame(msg []byte) string {
	return "*" + strings.ToUpper(hex.EncodeToString(msg)) + ";\n"
}

// WaitForCondition waits for a condition to be true with timeout
func WaitForCondition(condition func() bool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for condition")
		case <-ticker.C:
			if condition() {
				return nil
			}
		}
	}
}
