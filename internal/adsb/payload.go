// Package adsb decodes the 56 bit ME field of extended squitter messages.
package adsb

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/saviobatista/modes-feed/internal/cpr"
	"github.com/saviobatista/modes-feed/internal/modes"
)

var (
	ErrPayloadLength = errors.New("ME field must be 7 bytes")
	ErrUnknownType   = errors.New("unhandled ADS-B type code")
)

// MessageType is the broad class of an ADS-B payload
type MessageType int

const (
	MessageIdentification MessageType = iota + 1
	MessageSurfacePosition
	MessageAirbornePosition
	MessageAirborneVelocity
	MessageAircraftStatus
	MessageTargetState
	MessageOperationalStatus
)

const charset = "#ABCDEFGHIJKLMNOPQRSTUVWXYZ##### ###############0123456789######"

// Payload is a decoded ME field. Exactly one of the message pointers is set.
type Payload struct {
	TypeCode int
	Subtype  int
	Type     MessageType

	Identification    *Identification
	AirbornePosition  *AirbornePosition
	SurfacePosition   *SurfacePosition
	AirborneVelocity  *AirborneVelocity
	AircraftStatus    *AircraftStatus
	TargetState       *TargetState
	OperationalStatus *OperationalStatus
}

// Identification carries the callsign and emitter category
type Identification struct {
	Category int
	Callsign string
}

// AirbornePosition is a type 9-18 or 20-22 message
type AirbornePosition struct {
	SurveillanceStatus int
	Altitude           *int
	// Type codes 20-22 report GNSS height rather than pressure altitude
	AltitudeIsGeometric bool
	Cpr                 cpr.Coordinate
}

// SurfacePosition is a type 5-8 message
type SurfacePosition struct {
	GroundSpeed *float64
	Track       *float64
	Cpr         cpr.Coordinate
}

// AirborneVelocity is a type 19 message. Subtypes 1 and 2 report ground
// speed and track, 3 and 4 report airspeed and heading.
type AirborneVelocity struct {
	Speed                   *float64
	SpeedIsTrueAirspeed     bool
	IsAirspeed              bool
	Track                   *float64
	VerticalRate            *int
	VerticalRateIsGeometric bool
	GeometricAltitudeDelta  *int
}

// AircraftStatus is a type 28 subtype 1 emergency/priority message
type AircraftStatus struct {
	EmergencyState int
	Squawk         string
}

// TargetState is a type 29 subtype 1 target state and status message
type TargetState struct {
	SelectedAltitude      *int
	SelectedAltitudeIsFms bool
	PressureSetting       *float64
	SelectedHeading       *float64
}

// OperationalStatus is a type 31 message
type OperationalStatus struct {
	Version   int
	IsSurface bool
}

// bits extracts ME bits first..last, numbered from 1 as in the ICAO documents
func bits(me []byte, first, last int) int {
	v := 0
	for b := first; b <= last; b++ {
		i := b - 1
		v <<= 1
		if me[i/8]&(1<<(7-uint(i%8))) != 0 {
			v |= 1
		}
	}
	return v
}

// Decode parses an ME field
func Decode(me []byte) (*Payload, error) {
	if len(me) != 7 {
		return nil, ErrPayloadLength
	}

	p := &Payload{
		TypeCode: bits(me, 1, 5),
		Subtype:  bits(me, 6, 8),
	}

	switch tc := p.TypeCode; {
	case tc >= 1 && tc <= 4:
		p.Type = MessageIdentification
		p.Identification = &Identification{
			Category: p.Subtype,
			Callsign: decodeCallsign(me),
		}
	case tc >= 5 && tc <= 8:
		p.Type = MessageSurfacePosition
		p.SurfacePosition = decodeSurfacePosition(me)
	case (tc >= 9 && tc <= 18) || (tc >= 20 && tc <= 22):
		p.Type = MessageAirbornePosition
		p.AirbornePosition = decodeAirbornePosition(me, tc >= 20)
	case tc == 19:
		v, err := decodeVelocity(me, p.Subtype)
		if err != nil {
			return nil, err
		}
		p.Type = MessageAirborneVelocity
		p.AirborneVelocity = v
	case tc == 28 && p.Subtype == 1:
		p.Type = MessageAircraftStatus
		p.AircraftStatus = &AircraftStatus{
			EmergencyState: bits(me, 9, 11),
			Squawk:         fmt.Sprintf("%04X", modes.GillhamFromID13(bits(me, 12, 24))),
		}
	case tc == 29 && bits(me, 6, 7) == 1:
		p.Type = MessageTargetState
		p.TargetState = decodeTargetState(me)
	case tc == 31 && p.Subtype <= 1:
		p.Type = MessageOperationalStatus
		p.OperationalStatus = &OperationalStatus{
			Version:   bits(me, 41, 43),
			IsSurface: p.Subtype == 1,
		}
	default:
		return nil, fmt.Errorf("%w: %d/%d", ErrUnknownType, p.TypeCode, p.Subtype)
	}

	return p, nil
}

func decodeCallsign(me []byte) string {
	var sb strings.Builder
	for i := 0; i < 8; i++ {
		start := 9 + i*6
		sb.WriteByte(charset[bits(me, start, start+5)])
	}
	return strings.TrimRight(sb.String(), " ")
}

func decodeAirbornePosition(me []byte, geometric bool) *AirbornePosition {
	p := &AirbornePosition{
		SurveillanceStatus:  bits(me, 6, 7),
		AltitudeIsGeometric: geometric,
		Cpr: cpr.Coordinate{
			Odd: bits(me, 22, 22) == 1,
			Lat: uint32(bits(me, 23, 39)),
			Lon: uint32(bits(me, 40, 56)),
		},
	}

	field := bits(me, 9, 20)
	if geometric {
		// GNSS height in metres
		if field != 0 {
			alt := int(math.Round(float64(field) * 3.28084))
			p.Altitude = &alt
		}
	} else if alt, ok := modes.DecodeAC12(field); ok {
		p.Altitude = &alt
	}
	return p
}

func decodeSurfacePosition(me []byte) *SurfacePosition {
	p := &SurfacePosition{
		Cpr: cpr.Coordinate{
			Odd:     bits(me, 22, 22) == 1,
			Lat:     uint32(bits(me, 23, 39)),
			Lon:     uint32(bits(me, 40, 56)),
			Surface: true,
		},
	}
	if speed, ok := decodeMovement(bits(me, 6, 12)); ok {
		p.GroundSpeed = &speed
	}
	if bits(me, 13, 13) == 1 {
		track := float64(bits(me, 14, 20)) * 360 / 128
		p.Track = &track
	}
	return p
}

// decodeMovement converts the non-linear surface movement field to knots
func decodeMovement(mov int) (float64, bool) {
	switch {
	case mov == 0 || mov > 124:
		return 0, false
	case mov == 1:
		return 0, true
	case mov <= 8:
		return 0.125 + float64(mov-2)*0.125, true
	case mov <= 12:
		return 1 + float64(mov-9)*0.25, true
	case mov <= 38:
		return 2 + float64(mov-13)*0.5, true
	case mov <= 93:
		return 15 + float64(mov-39), true
	case mov <= 108:
		return 70 + float64(mov-94)*2, true
	case mov <= 123:
		return 100 + float64(mov-109)*5, true
	default:
		return 175, true
	}
}

func decodeVelocity(me []byte, subtype int) (*AirborneVelocity, error) {
	if subtype < 1 || subtype > 4 {
		return nil, fmt.Errorf("%w: velocity subtype %d", ErrUnknownType, subtype)
	}

	v := &AirborneVelocity{}
	multiplier := 1.0
	if subtype == 2 || subtype == 4 {
		multiplier = 4
	}

	if subtype <= 2 {
		ew := bits(me, 15, 24)
		ns := bits(me, 26, 35)
		if ew != 0 && ns != 0 {
			vx := float64(ew-1) * multiplier
			if bits(me, 14, 14) == 1 {
				vx = -vx
			}
			vy := float64(ns-1) * multiplier
			if bits(me, 25, 25) == 1 {
				vy = -vy
			}
			speed := math.Hypot(vx, vy)
			track := math.Mod(math.Atan2(vx, vy)*180/math.Pi+360, 360)
			v.Speed = &speed
			v.Track = &track
		}
	} else {
		v.IsAirspeed = true
		if bits(me, 14, 14) == 1 {
			heading := float64(bits(me, 15, 24)) * 360 / 1024
			v.Track = &heading
		}
		v.SpeedIsTrueAirspeed = bits(me, 25, 25) == 1
		if as := bits(me, 26, 35); as != 0 {
			speed := float64(as-1) * multiplier
			v.Speed = &speed
		}
	}

	v.VerticalRateIsGeometric = bits(me, 36, 36) == 0
	if vr := bits(me, 38, 46); vr != 0 {
		rate := (vr - 1) * 64
		if bits(me, 37, 37) == 1 {
			rate = -rate
		}
		v.VerticalRate = &rate
	}

	if diff := bits(me, 50, 56); diff != 0 {
		delta := (diff - 1) * 25
		if bits(me, 49, 49) == 1 {
			delta = -delta
		}
		v.GeometricAltitudeDelta = &delta
	}

	return v, nil
}

func decodeTargetState(me []byte) *TargetState {
	t := &TargetState{
		SelectedAltitudeIsFms: bits(me, 9, 9) == 1,
	}
	if alt := bits(me, 10, 20); alt != 0 {
		a := (alt - 1) * 32
		t.SelectedAltitude = &a
	}
	if baro := bits(me, 21, 29); baro != 0 {
		mb := 800 + float64(baro-1)*0.8
		t.PressureSetting = &mb
	}
	if bits(me, 30, 30) == 1 {
		heading := float64(bits(me, 31, 39)) * 180 / 256
		t.SelectedHeading = &heading
	}
	return t
}

// DecodeCommBIdentification extracts a BDS 2,0 callsign from a Comm-B MB
// field. Other registers can share the 0x20 header so the result is only a
// candidate.
func DecodeCommBIdentification(mb []byte) (string, bool) {
	if len(mb) != 7 || mb[0] != 0x20 {
		return "", false
	}
	callsign := decodeCallsign(mb)
	if callsign == "" || strings.ContainsRune(callsign, '#') || strings.Contains(callsign, " ") {
		return "", false
	}
	return callsign, true
}
