package translator

import (
	"fmt"
	"time"

	"github.com/saviobatista/modes-feed/internal/cpr"
)

// Settings controls how raw frames are accepted and how positions are
// decoded. Speeds are in knots.
type Settings struct {
	ReceiverLocation           *cpr.Position
	ReceiverRangeKilometres    float64
	SuppressReceiverRangeCheck bool

	UseLocalDecodeForInitialPosition bool
	// LocalDecodeConfirmationKilometres is how far a global decode may be
	// from the position implied by a provisional local fix.
	LocalDecodeConfirmationKilometres float64

	AirborneGlobalPositionLimit    time.Duration
	FastSurfaceGlobalPositionLimit time.Duration
	SlowSurfaceGlobalPositionLimit time.Duration

	AcceptableAirborneSpeed   float64
	AcceptableTransitionSpeed float64
	AcceptableSurfaceSpeed    float64

	AcceptIcaoInPI0Count          int
	AcceptIcaoInPI0Milliseconds   int
	AcceptIcaoInNonPICount        int
	AcceptIcaoInNonPIMilliseconds int

	IgnoreInvalidCodeBlockInParityMessages bool
	IgnoreInvalidCodeBlockInOtherMessages  bool
	IgnoreMilitaryExtendedSquitter         bool
	SuppressTisbDecoding                   bool

	TrackingTimeoutSeconds int
}

// DefaultSettings returns the settings used when a feed does not override them
func DefaultSettings() Settings {
	return Settings{
		ReceiverRangeKilometres:           650,
		UseLocalDecodeForInitialPosition:  false,
		LocalDecodeConfirmationKilometres: 2,
		AirborneGlobalPositionLimit:       10 * time.Second,
		FastSurfaceGlobalPositionLimit:    25 * time.Second,
		SlowSurfaceGlobalPositionLimit:    50 * time.Second,
		AcceptableAirborneSpeed:           2500,
		AcceptableTransitionSpeed:         500,
		AcceptableSurfaceSpeed:            150,
		AcceptIcaoInPI0Count:              1,
		AcceptIcaoInPI0Milliseconds:       1000,
		AcceptIcaoInNonPICount:            0,
		AcceptIcaoInNonPIMilliseconds:     5000,
		TrackingTimeoutSeconds:            600,
	}
}

// Validate checks that every threshold is usable
func (s Settings) Validate() error {
	if s.ReceiverLocation != nil {
		if s.ReceiverLocation.Lat < -90 || s.ReceiverLocation.Lat > 90 {
			return fmt.Errorf("receiver latitude %v out of range", s.ReceiverLocation.Lat)
		}
		if s.ReceiverLocation.Lon < -180 || s.ReceiverLocation.Lon > 180 {
			return fmt.Errorf("receiver longitude %v out of range", s.ReceiverLocation.Lon)
		}
	}
	if !s.SuppressReceiverRangeCheck && s.ReceiverRangeKilometres <= 0 {
		return fmt.Errorf("receiver range must be positive, got %v", s.ReceiverRangeKilometres)
	}
	if s.LocalDecodeConfirmationKilometres <= 0 {
		return fmt.Errorf("local decode confirmation distance must be positive, got %v", s.LocalDecodeConfirmationKilometres)
	}
	for name, d := range map[string]time.Duration{
		"airborne global position limit":     s.AirborneGlobalPositionLimit,
		"fast surface global position limit": s.FastSurfaceGlobalPositionLimit,
		"slow surface global position limit": s.SlowSurfaceGlobalPositionLimit,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}
	for name, v := range map[string]float64{
		"acceptable airborne speed":   s.AcceptableAirborneSpeed,
		"acceptable transition speed": s.AcceptableTransitionSpeed,
		"acceptable surface speed":    s.AcceptableSurfaceSpeed,
	} {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, v)
		}
	}
	if s.AcceptIcaoInPI0Count < 0 || s.AcceptIcaoInNonPICount < 0 {
		return fmt.Errorf("ICAO acceptance counts cannot be negative")
	}
	if s.AcceptIcaoInPI0Count > 0 && s.AcceptIcaoInPI0Milliseconds <= 0 {
		return fmt.Errorf("PI0 acceptance window must be positive when a count is set")
	}
	if s.AcceptIcaoInNonPICount > 0 && s.AcceptIcaoInNonPIMilliseconds <= 0 {
		return fmt.Errorf("non-PI acceptance window must be positive when a count is set")
	}
	if s.TrackingTimeoutSeconds <= 0 {
		return fmt.Errorf("tracking timeout must be positive, got %d", s.TrackingTimeoutSeconds)
	}
	return nil
}

func (s *Settings) trackingTimeout() time.Duration {
	return time.Duration(s.TrackingTimeoutSeconds) * time.Second
}
