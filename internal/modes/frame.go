package modes

import (
	"errors"
	"fmt"
)

const (
	ShortFrameBits  = 56
	LongFrameBits   = 112
	ShortFrameBytes = ShortFrameBits / 8
	LongFrameBytes  = LongFrameBits / 8
)

// Downlink formats handled by the decoder
const (
	DFShortAirAir      = 0
	DFSurveillanceAlt  = 4
	DFSurveillanceID   = 5
	DFAllCall          = 11
	DFLongAirAir       = 16
	DFExtendedSquitter = 17
	DFNonTransponder   = 18
	DFMilitarySquitter = 19
	DFCommBAltitude    = 20
	DFCommBIdentity    = 21
)

var (
	ErrFrameLength               = errors.New("invalid frame length")
	ErrUnsupportedDownlinkFormat = errors.New("unsupported downlink format")
	ErrBadParity                 = errors.New("bad parity")
)

// Frame is a decoded Mode-S reply. Icao may be unreliable when HasParity is
// false, the address was recovered from the address/parity field.
type Frame struct {
	DownlinkFormat int
	// Capability holds the three bits after the downlink format: CA for
	// DF11/17, CF for DF18, AF for DF19 and FS for DF4/5/20/21.
	Capability         int
	Icao               uint32
	HasParity          bool
	ParityInterrogator uint32
	Raw                []byte
}

// Decode parses a 56 or 112 bit Mode-S frame. The bytes are copied.
func Decode(msg []byte) (*Frame, error) {
	if len(msg) != ShortFrameBytes && len(msg) != LongFrameBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameLength, len(msg))
	}

	df := int(msg[0] >> 3)
	want, ok := frameLength(df)
	if !ok {
		return nil, fmt.Errorf("%w: DF%d", ErrUnsupportedDownlinkFormat, df)
	}
	if want != len(msg) {
		return nil, fmt.Errorf("%w: DF%d with %d bytes", ErrFrameLength, df, len(msg))
	}

	raw := make([]byte, len(msg))
	copy(raw, msg)

	f := &Frame{
		DownlinkFormat: df,
		Capability:     int(msg[0] & 0x07),
		Raw:            raw,
	}

	residual := Residual(raw)
	announced := uint32(raw[1])<<16 | uint32(raw[2])<<8 | uint32(raw[3])

	switch df {
	case DFAllCall:
		// Low 7 bits carry the interrogator code
		if residual&0xFFFF80 != 0 {
			return nil, fmt.Errorf("%w: DF11 residual %06X", ErrBadParity, residual)
		}
		f.Icao = announced
		f.HasParity = true
		f.ParityInterrogator = residual
	case DFExtendedSquitter, DFNonTransponder:
		if residual != 0 {
			return nil, fmt.Errorf("%w: DF%d residual %06X", ErrBadParity, df, residual)
		}
		f.Icao = announced
		f.HasParity = true
	case DFMilitarySquitter:
		f.Icao = announced
		if f.Capability == 0 && residual == 0 {
			f.HasParity = true
		}
	default:
		f.Icao = residual
	}

	return f, nil
}

func frameLength(df int) (int, bool) {
	switch df {
	case DFShortAirAir, DFSurveillanceAlt, DFSurveillanceID, DFAllCall:
		return ShortFrameBytes, true
	case DFLongAirAir, DFExtendedSquitter, DFNonTransponder, DFMilitarySquitter, DFCommBAltitude, DFCommBIdentity:
		return LongFrameBytes, true
	}
	return 0, false
}

// IcaoString formats the address the way feeds present it
func (f *Frame) IcaoString() string {
	return fmt.Sprintf("%06X", f.Icao)
}

// IsTisb reports whether the frame is TIS-B traffic relayed by a ground station
func (f *Frame) IsTisb() bool {
	if f.DownlinkFormat != DFNonTransponder {
		return false
	}
	switch f.Capability {
	case 2, 3, 4, 5:
		return true
	}
	return false
}

// IsMilitary reports whether the frame is a military extended squitter
func (f *Frame) IsMilitary() bool {
	return f.DownlinkFormat == DFMilitarySquitter
}

// ExtendedSquitter returns the 56 bit ME field when the frame carries an
// ADS-B payload in the standard layout.
func (f *Frame) ExtendedSquitter() ([]byte, bool) {
	switch f.DownlinkFormat {
	case DFExtendedSquitter:
	case DFNonTransponder:
		switch f.Capability {
		case 0, 1, 2, 5, 6:
		default:
			return nil, false
		}
	case DFMilitarySquitter:
		if f.Capability != 0 {
			return nil, false
		}
	default:
		return nil, false
	}
	return f.Raw[4:11], true
}

// CommB returns the 56 bit MB field of DF20/21 replies
func (f *Frame) CommB() ([]byte, bool) {
	if f.DownlinkFormat != DFCommBAltitude && f.DownlinkFormat != DFCommBIdentity {
		return nil, false
	}
	return f.Raw[4:11], true
}

// Altitude decodes the 13 bit altitude code of DF0/4/16/20
func (f *Frame) Altitude() (int, bool) {
	switch f.DownlinkFormat {
	case DFShortAirAir, DFSurveillanceAlt, DFLongAirAir, DFCommBAltitude:
		return DecodeAC13(f.field13())
	}
	return 0, false
}

// Squawk decodes the 13 bit identity code of DF5/21
func (f *Frame) Squawk() (string, bool) {
	switch f.DownlinkFormat {
	case DFSurveillanceID, DFCommBIdentity:
		return fmt.Sprintf("%04X", GillhamFromID13(f.field13())), true
	}
	return "", false
}

func (f *Frame) field13() int {
	return int(f.Raw[2]&0x1F)<<8 | int(f.Raw[3])
}

// OnGround returns the ground state implied by the frame's flight status,
// vertical status or capability field, when it can be determined.
func (f *Frame) OnGround() (bool, bool) {
	switch f.DownlinkFormat {
	case DFShortAirAir, DFLongAirAir:
		return f.Raw[0]&0x04 != 0, true
	case DFSurveillanceAlt, DFSurveillanceID, DFCommBAltitude, DFCommBIdentity:
		switch f.Capability {
		case 0, 2:
			return false, true
		case 1, 3:
			return true, true
		}
	case DFAllCall, DFExtendedSquitter:
		switch f.Capability {
		case 4:
			return true, true
		case 5:
			return false, true
		}
	}
	return false, false
}

// Alert reports the alert condition carried in the flight status field
func (f *Frame) Alert() (bool, bool) {
	switch f.DownlinkFormat {
	case DFSurveillanceAlt, DFSurveillanceID, DFCommBAltitude, DFCommBIdentity:
		return f.Capability >= 2 && f.Capability <= 4, true
	}
	return false, false
}
