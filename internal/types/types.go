package types

import (
	"time"
)

// AltitudeType qualifies an altitude or vertical rate
type AltitudeType int

const (
	AltitudeBarometric AltitudeType = iota
	AltitudeGeometric
)

func (a AltitudeType) String() string {
	if a == AltitudeGeometric {
		return "geometric"
	}
	return "barometric"
}

// SpeedType qualifies a speed reading
type SpeedType int

const (
	SpeedGround SpeedType = iota
	SpeedIndicatedAir
	SpeedTrueAir
)

func (s SpeedType) String() string {
	switch s {
	case SpeedIndicatedAir:
		return "ias"
	case SpeedTrueAir:
		return "tas"
	default:
		return "ground"
	}
}

// TransponderType is a hint about the equipment that sent a message
type TransponderType int

const (
	TransponderUnknown TransponderType = iota
	TransponderModeS
	TransponderAdsb
	TransponderAdsb0
	TransponderAdsb1
	TransponderAdsb2
)

func (t TransponderType) String() string {
	switch t {
	case TransponderModeS:
		return "mode-s"
	case TransponderAdsb:
		return "ads-b"
	case TransponderAdsb0:
		return "ads-b v0"
	case TransponderAdsb1:
		return "ads-b v1"
	case TransponderAdsb2:
		return "ads-b v2"
	default:
		return "unknown"
	}
}

// AircraftUpdate is the decoded content of a single message. Nil fields were
// not present in the message.
type AircraftUpdate struct {
	Icao              string          `json:"icao"`
	ReceivedUtc       time.Time       `json:"received_utc"`
	Source            string          `json:"source"`
	IsOutOfBand       bool            `json:"is_out_of_band,omitempty"`
	DownlinkFormat    int             `json:"downlink_format"`
	TransponderType   TransponderType `json:"transponder_type"`
	SignalLevel       *int            `json:"signal_level,omitempty"`
	Callsign          *string         `json:"callsign,omitempty"`
	CallsignIsSuspect bool            `json:"callsign_is_suspect,omitempty"`
	Altitude          *int            `json:"altitude,omitempty"`
	AltitudeType      AltitudeType    `json:"altitude_type"`
	Latitude          *float64        `json:"latitude,omitempty"`
	Longitude         *float64        `json:"longitude,omitempty"`
	GroundSpeed       *float64        `json:"ground_speed,omitempty"`
	SpeedType         SpeedType       `json:"speed_type"`
	Track             *float64        `json:"track,omitempty"`
	TrackIsHeading    bool            `json:"track_is_heading,omitempty"`
	VerticalRate      *int            `json:"vertical_rate,omitempty"`
	VerticalRateType  AltitudeType    `json:"vertical_rate_type"`
	Squawk            *string         `json:"squawk,omitempty"`
	Emergency         *bool           `json:"emergency,omitempty"`
	OnGround          *bool           `json:"on_ground,omitempty"`
	TargetAltitude    *int            `json:"target_altitude,omitempty"`
	TargetHeading     *float64        `json:"target_heading,omitempty"`
	PressureSetting   *float64        `json:"pressure_setting,omitempty"`
}

// HasPosition reports whether the update carries a resolved position
func (u *AircraftUpdate) HasPosition() bool {
	return u.Latitude != nil && u.Longitude != nil
}

// Clone returns a shallow copy of the update. Pointer fields are shared,
// updates are never mutated after publication.
func (u *AircraftUpdate) Clone() *AircraftUpdate {
	c := *u
	return &c
}

// PositionReset is raised when a provisional position has been contradicted
type PositionReset struct {
	Icao   string    `json:"icao"`
	Source string    `json:"source"`
	Time   time.Time `json:"time"`
}

// RawFrame is a frame as received, hex encoded for transport
type RawFrame struct {
	Hex       string    `json:"hex"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// Aircraft is the merged state of an aircraft as held in the aircraft table
type Aircraft struct {
	Icao             string          `json:"icao"`
	SessionID        string          `json:"session_id"`
	FirstSeen        time.Time       `json:"first_seen"`
	LastSeen         time.Time       `json:"last_seen"`
	Source           string          `json:"source"`
	Messages         uint64          `json:"messages"`
	TransponderType  TransponderType `json:"transponder_type"`
	Callsign         string          `json:"callsign,omitempty"`
	CallsignSuspect  bool            `json:"callsign_suspect,omitempty"`
	Altitude         *int            `json:"altitude,omitempty"`
	AltitudeType     AltitudeType    `json:"altitude_type"`
	Latitude         *float64        `json:"latitude,omitempty"`
	Longitude        *float64        `json:"longitude,omitempty"`
	PositionTime     time.Time       `json:"position_time,omitempty"`
	GroundSpeed      *float64        `json:"ground_speed,omitempty"`
	SpeedType        SpeedType       `json:"speed_type"`
	Track            *float64        `json:"track,omitempty"`
	TrackIsHeading   bool            `json:"track_is_heading,omitempty"`
	VerticalRate     *int            `json:"vertical_rate,omitempty"`
	VerticalRateType AltitudeType    `json:"vertical_rate_type"`
	Squawk           string          `json:"squawk,omitempty"`
	Emergency        bool            `json:"emergency,omitempty"`
	OnGround         *bool           `json:"on_ground,omitempty"`
	TargetAltitude   *int            `json:"target_altitude,omitempty"`
	TargetHeading    *float64        `json:"target_heading,omitempty"`
	PressureSetting  *float64        `json:"pressure_setting,omitempty"`
	SignalLevel      *int            `json:"signal_level,omitempty"`
}
