// Package translator turns decoded Mode-S frames into aircraft updates. It
// keeps per-address tracking state to decide which addresses can be trusted
// and to resolve CPR positions.
package translator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/saviobatista/modes-feed/internal/adsb"
	"github.com/saviobatista/modes-feed/internal/icao"
	"github.com/saviobatista/modes-feed/internal/modes"
	"github.com/saviobatista/modes-feed/internal/types"
)

const sweepInterval = time.Minute

// PositionResetHandler receives the address whose position was discarded
type PositionResetHandler func(icao string, at time.Time)

// Translator converts frames into updates. It is safe for concurrent use,
// frames for different addresses are processed independently.
type Translator struct {
	settings atomic.Pointer[Settings]
	states   *stateStore
	logger   logrus.FieldLogger

	lastSweep atomic.Int64

	handlersMu    sync.RWMutex
	resetHandlers []PositionResetHandler
}

// New creates a translator. The settings are validated.
func New(settings Settings, logger logrus.FieldLogger) (*Translator, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	t := &Translator{
		states: newStateStore(),
		logger: logger,
	}
	t.settings.Store(&settings)
	return t, nil
}

// ApplySettings replaces the settings. Invalid settings are rejected and
// the current ones stay in effect.
func (t *Translator) ApplySettings(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	t.settings.Store(&settings)
	return nil
}

// Settings returns a copy of the settings in effect
func (t *Translator) Settings() Settings {
	return *t.settings.Load()
}

// AddPositionResetHandler registers a handler called whenever a provisional
// position is contradicted by a global decode. Handlers run on the
// goroutine that called Translate.
func (t *Translator) AddPositionResetHandler(h PositionResetHandler) {
	t.handlersMu.Lock()
	t.resetHandlers = append(t.resetHandlers, h)
	t.handlersMu.Unlock()
}

// TrackedAddresses returns the number of addresses with tracking state
func (t *Translator) TrackedAddresses() int {
	return t.states.count()
}

// Purge drops tracking state for addresses silent for longer than the
// tracking timeout, measured against now.
func (t *Translator) Purge(now time.Time) int {
	s := t.settings.Load()
	return t.states.purge(now, s.trackingTimeout())
}

func (t *Translator) maybeSweep(now time.Time) {
	last := t.lastSweep.Load()
	if last == 0 {
		t.lastSweep.CompareAndSwap(0, now.UnixNano())
		return
	}
	if now.UnixNano()-last < int64(sweepInterval) {
		return
	}
	if t.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		if n := t.Purge(now); n > 0 {
			t.logger.WithField("purged", n).Debug("Purged tracking state")
		}
	}
}

// Translate converts a frame, and its ADS-B payload when it has one, into
// an update. It returns nil when the frame is rejected.
func (t *Translator) Translate(receivedUtc time.Time, frame *modes.Frame, payload *adsb.Payload) *types.AircraftUpdate {
	if frame == nil {
		return nil
	}
	s := t.settings.Load()

	if frame.IsMilitary() && s.IgnoreMilitaryExtendedSquitter {
		return nil
	}
	if frame.IsTisb() && s.SuppressTisbDecoding {
		return nil
	}
	checkBlock := s.IgnoreInvalidCodeBlockInOtherMessages
	if frame.HasParity {
		checkBlock = s.IgnoreInvalidCodeBlockInParityMessages
	}
	if checkBlock && !icao.IsAllocated(frame.Icao) {
		return nil
	}

	t.maybeSweep(receivedUtc)

	var update *types.AircraftUpdate
	var reset bool
	for {
		st := t.states.get(frame.Icao)
		st.mu.Lock()
		if st.removed {
			st.mu.Unlock()
			continue
		}
		update, reset = t.translateLocked(st, s, receivedUtc, frame, payload)
		st.mu.Unlock()
		break
	}

	if reset {
		address := frame.IcaoString()
		t.logger.WithField("icao", address).Info("Position reset, local decode contradicted by global decode")
		t.handlersMu.RLock()
		handlers := t.resetHandlers
		t.handlersMu.RUnlock()
		for _, h := range handlers {
			h(address, receivedUtc)
		}
	}
	return update
}

func (t *Translator) translateLocked(st *trackingState, s *Settings, now time.Time, frame *modes.Frame, payload *adsb.Payload) (*types.AircraftUpdate, bool) {
	if !st.lastSeen.IsZero() && now.Sub(st.lastSeen) > s.trackingTimeout() {
		st.reset()
	}
	if now.After(st.lastSeen) {
		st.lastSeen = now
	}

	if !t.accept(st, s, now, frame) {
		return nil, false
	}

	u := &types.AircraftUpdate{
		Icao:            frame.IcaoString(),
		ReceivedUtc:     now,
		DownlinkFormat:  frame.DownlinkFormat,
		TransponderType: types.TransponderModeS,
	}

	if alt, ok := frame.Altitude(); ok {
		u.Altitude = &alt
	}
	if squawk, ok := frame.Squawk(); ok {
		u.Squawk = &squawk
	}
	if onGround, ok := frame.OnGround(); ok {
		u.OnGround = &onGround
	}
	if mb, ok := frame.CommB(); ok && !st.trustedCallsign {
		if callsign, ok := adsb.DecodeCommBIdentification(mb); ok {
			u.Callsign = &callsign
			u.CallsignIsSuspect = true
		}
	}

	reset := false
	if payload != nil {
		reset = t.applyPayload(st, s, u, now, payload)
	}

	switch frame.DownlinkFormat {
	case modes.DFExtendedSquitter, modes.DFNonTransponder, modes.DFMilitarySquitter:
		u.TransponderType = adsbTransponder(st.adsbVersion)
	}

	return u, reset
}

// accept runs the ICAO acceptance gate
func (t *Translator) accept(st *trackingState, s *Settings, now time.Time, frame *modes.Frame) bool {
	if st.accepted {
		return true
	}

	switch {
	case frame.HasParity && frame.ParityInterrogator != 0:
		st.accepted = true
	case frame.HasParity:
		window := time.Duration(s.AcceptIcaoInPI0Milliseconds) * time.Millisecond
		st.pi0Sightings = recordSighting(st.pi0Sightings, now, window, s.AcceptIcaoInPI0Count)
		st.accepted = s.AcceptIcaoInPI0Count <= 0 || len(st.pi0Sightings) >= s.AcceptIcaoInPI0Count
	default:
		window := time.Duration(s.AcceptIcaoInNonPIMilliseconds) * time.Millisecond
		st.nonPISightings = recordSighting(st.nonPISightings, now, window, s.AcceptIcaoInNonPICount)
		st.accepted = s.AcceptIcaoInNonPICount <= 0 || len(st.nonPISightings) >= s.AcceptIcaoInNonPICount
	}

	if st.accepted {
		st.pi0Sightings, st.nonPISightings = nil, nil
	}
	return st.accepted
}

func (t *Translator) applyPayload(st *trackingState, s *Settings, u *types.AircraftUpdate, now time.Time, p *adsb.Payload) bool {
	reset := false

	switch {
	case p.Identification != nil:
		if callsign := p.Identification.Callsign; callsign != "" {
			u.Callsign = &callsign
			u.CallsignIsSuspect = false
			st.trustedCallsign = true
		}

	case p.AirbornePosition != nil:
		ap := p.AirbornePosition
		if ap.Altitude != nil {
			alt := *ap.Altitude
			u.Altitude = &alt
			if ap.AltitudeIsGeometric {
				u.AltitudeType = types.AltitudeGeometric
			}
		}
		onGround := false
		u.OnGround = &onGround
		var pos *resolvedPosition
		pos, reset = t.decodePosition(st, s, now, ap.Cpr)
		setPosition(u, pos)

	case p.SurfacePosition != nil:
		sp := p.SurfacePosition
		onGround := true
		u.OnGround = &onGround
		if sp.GroundSpeed != nil {
			speed := *sp.GroundSpeed
			u.GroundSpeed = &speed
			st.groundSpeed, st.hasGroundSpeed = speed, true
		}
		if sp.Track != nil {
			track := *sp.Track
			u.Track = &track
		}
		var pos *resolvedPosition
		pos, reset = t.decodePosition(st, s, now, sp.Cpr)
		setPosition(u, pos)

	case p.AirborneVelocity != nil:
		v := p.AirborneVelocity
		if v.Speed != nil {
			speed := *v.Speed
			u.GroundSpeed = &speed
			switch {
			case !v.IsAirspeed:
				st.groundSpeed, st.hasGroundSpeed = speed, true
			case v.SpeedIsTrueAirspeed:
				u.SpeedType = types.SpeedTrueAir
			default:
				u.SpeedType = types.SpeedIndicatedAir
			}
		}
		if v.Track != nil {
			track := *v.Track
			u.Track = &track
			u.TrackIsHeading = v.IsAirspeed
		}
		if v.VerticalRate != nil {
			rate := *v.VerticalRate
			u.VerticalRate = &rate
			if v.VerticalRateIsGeometric {
				u.VerticalRateType = types.AltitudeGeometric
			}
		}

	case p.AircraftStatus != nil:
		squawk := p.AircraftStatus.Squawk
		u.Squawk = &squawk
		emergency := p.AircraftStatus.EmergencyState != 0
		u.Emergency = &emergency

	case p.TargetState != nil:
		ts := p.TargetState
		if ts.SelectedAltitude != nil {
			alt := *ts.SelectedAltitude
			u.TargetAltitude = &alt
		}
		if ts.SelectedHeading != nil {
			heading := *ts.SelectedHeading
			u.TargetHeading = &heading
		}
		if ts.PressureSetting != nil {
			mb := *ts.PressureSetting
			u.PressureSetting = &mb
		}

	case p.OperationalStatus != nil:
		st.adsbVersion = p.OperationalStatus.Version + 1
	}

	return reset
}

func setPosition(u *types.AircraftUpdate, pos *resolvedPosition) {
	if pos == nil {
		return
	}
	lat, lon := pos.pos.Lat, pos.pos.Lon
	u.Latitude = &lat
	u.Longitude = &lon
}

func adsbTransponder(version int) types.TransponderType {
	switch version {
	case 1:
		return types.TransponderAdsb0
	case 2:
		return types.TransponderAdsb1
	case 3:
		return types.TransponderAdsb2
	}
	return types.TransponderAdsb
}
