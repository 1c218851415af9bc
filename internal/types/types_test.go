package types

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestAircraftUpdate_HasPosition(t *testing.T) {
	lat, lon := 51.5, -0.12

	tests := []struct {
		name   string
		update AircraftUpdate
		want   bool
	}{
		{"no position", AircraftUpdate{Icao: "400000"}, false},
		{"latitude only", AircraftUpdate{Icao: "400000", Latitude: &lat}, false},
		{"full position", AircraftUpdate{Icao: "400000", Latitude: &lat, Longitude: &lon}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.update.HasPosition(); got != tt.want {
				t.Errorf("Expected HasPosition %v, got %v", tt.want, got)
			}
		})
	}
}

func TestAircraftUpdate_AbsentFieldsOmitted(t *testing.T) {
	update := AircraftUpdate{
		Icao:        "4840D6",
		ReceivedUtc: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Source:      "home",
	}

	data, err := json.Marshal(update)
	if err != nil {
		t.Fatalf("Failed to marshal AircraftUpdate: %v", err)
	}

	for _, field := range []string{"latitude", "altitude", "callsign", "on_ground", "squawk"} {
		if strings.Contains(string(data), `"`+field+`"`) {
			t.Errorf("Expected %s to be omitted, got %s", field, data)
		}
	}
}

func TestAircraftUpdate_Clone(t *testing.T) {
	alt := 38000
	original := &AircraftUpdate{Icao: "40621D", Altitude: &alt}

	clone := original.Clone()
	clone.IsOutOfBand = true

	if original.IsOutOfBand {
		t.Error("Expected original to be unchanged by clone modification")
	}
	if *clone.Altitude != 38000 {
		t.Errorf("Expected altitude 38000, got %d", *clone.Altitude)
	}
}

func TestTypeStrings(t *testing.T) {
	if AltitudeGeometric.String() != "geometric" {
		t.Errorf("Expected geometric, got %s", AltitudeGeometric.String())
	}
	if SpeedTrueAir.String() != "tas" {
		t.Errorf("Expected tas, got %s", SpeedTrueAir.String())
	}
	if TransponderAdsb2.String() != "ads-b v2" {
		t.Errorf("Expected ads-b v2, got %s", TransponderAdsb2.String())
	}
	if TransponderType(99).String() != "unknown" {
		t.Errorf("Expected unknown, got %s", TransponderType(99).String())
	}
}
