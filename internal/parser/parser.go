// Package parser converts BaseStation (SBS-1, port 30003) lines into
// aircraft updates. These feeds are already decoded by the receiver so the
// translator is bypassed.
package parser

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/saviobatista/modes-feed/internal/icao"
	"github.com/saviobatista/modes-feed/internal/types"
)

var (
	ErrInvalidFormat      = errors.New("invalid BaseStation message")
	ErrUnsupportedMessage = errors.New("unsupported BaseStation message")
)

// TransmissionType is the second field of a MSG line
type TransmissionType int

const (
	TransmissionIdentification   TransmissionType = 1
	TransmissionSurfacePosition  TransmissionType = 2
	TransmissionAirbornePosition TransmissionType = 3
	TransmissionAirborneVelocity TransmissionType = 4
	TransmissionSurveillanceAlt  TransmissionType = 5
	TransmissionSurveillanceID   TransmissionType = 6
	TransmissionAirToAir         TransmissionType = 7
	TransmissionAllCall          TransmissionType = 8
)

// Field positions in a MSG line
const (
	fieldMessageType = iota
	fieldTransmission
	fieldSession
	fieldAircraftID
	fieldHexIdent
	fieldFlightID
	fieldDateGenerated
	fieldTimeGenerated
	fieldDateLogged
	fieldTimeLogged
	fieldCallsign
	fieldAltitude
	fieldGroundSpeed
	fieldTrack
	fieldLatitude
	fieldLongitude
	fieldVerticalRate
	fieldSquawk
	fieldAlert
	fieldEmergency
	fieldSPI
	fieldOnGround
	fieldCount
)

// downlinkFormats maps transmission types onto the downlink format that
// normally carries them
var downlinkFormats = map[TransmissionType]int{
	TransmissionIdentification:   17,
	TransmissionSurfacePosition:  17,
	TransmissionAirbornePosition: 17,
	TransmissionAirborneVelocity: 17,
	TransmissionSurveillanceAlt:  4,
	TransmissionSurveillanceID:   5,
	TransmissionAirToAir:         16,
	TransmissionAllCall:          11,
}

// ParseMessage parses a raw MSG line into an update
func ParseMessage(raw string, receivedUtc time.Time) (*types.AircraftUpdate, error) {
	fields := strings.Split(strings.TrimSpace(raw), ",")
	if len(fields) < fieldCount {
		return nil, fmt.Errorf("%w: expected at least %d fields, got %d", ErrInvalidFormat, fieldCount, len(fields))
	}
	if fields[fieldMessageType] != "MSG" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMessage, fields[fieldMessageType])
	}

	tt, err := strconv.Atoi(fields[fieldTransmission])
	if err != nil {
		return nil, fmt.Errorf("%w: transmission type: %v", ErrInvalidFormat, err)
	}
	df, ok := downlinkFormats[TransmissionType(tt)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown transmission type %d", ErrInvalidFormat, tt)
	}

	address, err := icao.Parse(fields[fieldHexIdent])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}

	u := &types.AircraftUpdate{
		Icao:            icao.Format(address),
		ReceivedUtc:     receivedUtc,
		DownlinkFormat:  df,
		TransponderType: types.TransponderModeS,
	}
	if df == 17 {
		u.TransponderType = types.TransponderAdsb
	}

	if callsign := strings.TrimSpace(fields[fieldCallsign]); callsign != "" {
		u.Callsign = &callsign
	}
	if alt, err := strconv.Atoi(fields[fieldAltitude]); err == nil {
		u.Altitude = &alt
	}
	if speed, err := strconv.ParseFloat(fields[fieldGroundSpeed], 64); err == nil {
		u.GroundSpeed = &speed
	}
	if track, err := strconv.ParseFloat(fields[fieldTrack], 64); err == nil {
		u.Track = &track
	}
	lat, latErr := strconv.ParseFloat(fields[fieldLatitude], 64)
	lon, lonErr := strconv.ParseFloat(fields[fieldLongitude], 64)
	if latErr == nil && lonErr == nil {
		u.Latitude = &lat
		u.Longitude = &lon
	}
	if vr, err := strconv.Atoi(fields[fieldVerticalRate]); err == nil {
		u.VerticalRate = &vr
	}
	if squawk := strings.TrimSpace(fields[fieldSquawk]); squawk != "" {
		if n, err := strconv.Atoi(squawk); err == nil {
			squawk = fmt.Sprintf("%04d", n)
			u.Squawk = &squawk
		}
	}
	if emergency, ok := parseFlag(fields[fieldEmergency]); ok {
		u.Emergency = &emergency
	}
	if onGround, ok := parseFlag(fields[fieldOnGround]); ok {
		u.OnGround = &onGround
	}

	return u, nil
}

// parseFlag reads the boolean columns, which receivers write as 0/1 or
// 0/-1 and leave empty when unknown
func parseFlag(s string) (bool, bool) {
	switch strings.TrimSpace(s) {
	case "":
		return false, false
	case "0":
		return false, true
	}
	return true, true
}
