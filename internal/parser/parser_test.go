package parser

import (
	"errors"
	"testing"
	"time"

	"github.com/saviobatista/modes-feed/internal/testutils"
	"github.com/saviobatista/modes-feed/internal/types"
)

func TestParseMessage(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name    string
		raw     string
		wantErr error
		check   func(t *testing.T, u *types.AircraftUpdate)
	}{
		{
			name: "airborne position",
			raw:  "MSG,3,1,1,abc123,1,2024/01/15,10:30:00.000,2024/01/15,10:30:00.000,,35000,,,40.7128,-74.0060,,,0,0,0,0",
			check: func(t *testing.T, u *types.AircraftUpdate) {
				if u.Icao != "ABC123" {
					t.Errorf("Expected ICAO ABC123, got %s", u.Icao)
				}
				if u.Altitude == nil || *u.Altitude != 35000 {
					t.Errorf("Expected altitude 35000, got %v", u.Altitude)
				}
				if !u.HasPosition() || *u.Latitude != 40.7128 || *u.Longitude != -74.0060 {
					t.Errorf("Expected position 40.7128,-74.0060, got %v,%v", u.Latitude, u.Longitude)
				}
				if u.GroundSpeed != nil || u.Track != nil || u.Callsign != nil {
					t.Error("Expected empty fields to stay absent")
				}
				if u.OnGround == nil || *u.OnGround {
					t.Errorf("Expected airborne, got %v", u.OnGround)
				}
				if u.DownlinkFormat != 17 || u.TransponderType != types.TransponderAdsb {
					t.Errorf("Expected DF17 ADS-B, got DF%d %v", u.DownlinkFormat, u.TransponderType)
				}
			},
		},
		{
			name: "identification",
			raw:  "MSG,1,1,1,4840D6,1,2024/01/15,10:30:00.000,2024/01/15,10:30:00.000,KLM1023 ,,,,,,,,,,,",
			check: func(t *testing.T, u *types.AircraftUpdate) {
				if u.Callsign == nil || *u.Callsign != "KLM1023" {
					t.Errorf("Expected callsign KLM1023, got %v", u.Callsign)
				}
				if u.OnGround != nil || u.Emergency != nil {
					t.Error("Expected unknown flags to stay absent")
				}
			},
		},
		{
			name: "surveillance identity with emergency",
			raw:  "MSG,6,1,1,4840D6,1,2024/01/15,10:30:00.000,2024/01/15,10:30:00.000,,,,,,,,7700,0,-1,0,-1",
			check: func(t *testing.T, u *types.AircraftUpdate) {
				if u.Squawk == nil || *u.Squawk != "7700" {
					t.Errorf("Expected squawk 7700, got %v", u.Squawk)
				}
				if u.Emergency == nil || !*u.Emergency {
					t.Errorf("Expected emergency, got %v", u.Emergency)
				}
				if u.OnGround == nil || !*u.OnGround {
					t.Errorf("Expected on ground, got %v", u.OnGround)
				}
				if u.DownlinkFormat != 5 || u.TransponderType != types.TransponderModeS {
					t.Errorf("Expected DF5 Mode-S, got DF%d %v", u.DownlinkFormat, u.TransponderType)
				}
			},
		},
		{
			name: "leading zero squawk",
			raw:  "MSG,6,1,1,4840D6,1,2024/01/15,10:30:00.000,2024/01/15,10:30:00.000,,,,,,,,0123,,,,",
			check: func(t *testing.T, u *types.AircraftUpdate) {
				if u.Squawk == nil || *u.Squawk != "0123" {
					t.Errorf("Expected squawk 0123, got %v", u.Squawk)
				}
			},
		},
		{name: "too few fields", raw: "MSG,3,1,1", wantErr: ErrInvalidFormat},
		{name: "unknown transmission type", raw: "MSG,99,1,1,4840D6,1,,,,,,,,,,,,,,,,", wantErr: ErrInvalidFormat},
		{name: "bad address", raw: "MSG,3,1,1,XYZ,1,,,,,,,,,,,,,,,,", wantErr: ErrInvalidFormat},
		{name: "status line", raw: "STA,,1,1,4840D6,1,,,,,,,,,,,,,,,,", wantErr: ErrUnsupportedMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := ParseMessage(tt.raw, now)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseMessage() unexpected error: %v", err)
			}
			if !u.ReceivedUtc.Equal(now) {
				t.Errorf("Expected received time %v, got %v", now, u.ReceivedUtc)
			}
			tt.check(t, u)
		})
	}
}

func TestParseMessage_MockLine(t *testing.T) {
	u, err := ParseMessage(testutils.MockBaseStationLine(3, "4840D6"), time.Now())
	if err != nil {
		t.Fatalf("ParseMessage() unexpected error: %v", err)
	}
	if u.Callsign == nil || *u.Callsign != "TEST123" {
		t.Errorf("Expected callsign TEST123, got %v", u.Callsign)
	}
	if u.GroundSpeed == nil || *u.GroundSpeed != 450 {
		t.Errorf("Expected ground speed 450, got %v", u.GroundSpeed)
	}
	if u.Squawk == nil || *u.Squawk != "1200" {
		t.Errorf("Expected squawk 1200, got %v", u.Squawk)
	}
}

func BenchmarkParseMessage(b *testing.B) {
	line := testutils.MockBaseStationLine(3, "4840D6")
	now := time.Now()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = ParseMessage(line, now)
	}
}
