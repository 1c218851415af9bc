package translator

import (
	"time"

	"github.com/saviobatista/modes-feed/internal/cpr"
)

const (
	kilometresPerNauticalMile = 1.852
	slowSurfaceKnots          = 25
)

type speedClass int

const (
	speedAirborne speedClass = iota
	speedSurface
	speedTransition
)

// pairWindow is how far apart an even and odd frame may be and still be
// decoded together
func (st *trackingState) pairWindow(s *Settings, surface bool) time.Duration {
	if !surface {
		return s.AirborneGlobalPositionLimit
	}
	if st.hasGroundSpeed && st.groundSpeed <= slowSurfaceKnots {
		return s.SlowSurfaceGlobalPositionLimit
	}
	return s.FastSurfaceGlobalPositionLimit
}

// decodePosition stores the coordinate and tries to resolve a position from
// it. The second result is true when a provisional position was found to be
// wrong and has been discarded.
func (t *Translator) decodePosition(st *trackingState, s *Settings, now time.Time, c cpr.Coordinate) (*resolvedPosition, bool) {
	window := st.pairWindow(s, c.Surface)

	current := &cprFrame{coord: c, received: now}
	opposite := &st.odd
	if c.Odd {
		opposite = &st.even
	}
	if o := *opposite; o != nil {
		if o.coord.Surface != c.Surface || now.Sub(o.received) > window {
			*opposite = nil
		}
	}
	if c.Odd {
		st.odd = current
	} else {
		st.even = current
	}

	if st.even != nil && st.odd != nil {
		var ref *cpr.Position
		if c.Surface {
			ref = s.ReceiverLocation
			if st.position != nil {
				ref = &st.position.pos
			}
		}
		if global, ok := cpr.DecodeGlobal(st.even.coord, st.odd.coord, c.Odd, ref); ok {
			if st.position != nil && st.position.provisional {
				local, ok := cpr.DecodeLocal(c, st.position.pos)
				if !ok || cpr.DistanceKm(local, global) > s.LocalDecodeConfirmationKilometres {
					st.clearPosition()
					return nil, true
				}
			}
			if !st.isReasonable(s, now, global, c.Surface) {
				return nil, false
			}
			st.position = &resolvedPosition{
				pos:      global,
				received: now,
				onGround: c.Surface,
				global:   true,
			}
			st.forceGlobal = false
			return st.position, false
		}
	}

	if st.forceGlobal {
		return nil, false
	}

	var ref *cpr.Position
	switch {
	case s.UseLocalDecodeForInitialPosition && st.position != nil:
		ref = &st.position.pos
	case c.Surface && s.ReceiverLocation != nil && st.position == nil:
		ref = s.ReceiverLocation
	default:
		return nil, false
	}

	local, ok := cpr.DecodeLocal(c, *ref)
	if !ok || !st.isReasonable(s, now, local, c.Surface) {
		return nil, false
	}
	st.position = &resolvedPosition{
		pos:         local,
		received:    now,
		onGround:    c.Surface,
		provisional: true,
	}
	return st.position, false
}

// isReasonable rejects positions outside receiver range or implying an
// impossible speed since the last accepted position.
func (st *trackingState) isReasonable(s *Settings, now time.Time, pos cpr.Position, onGround bool) bool {
	if !s.SuppressReceiverRangeCheck && s.ReceiverLocation != nil {
		if cpr.DistanceKm(*s.ReceiverLocation, pos) > s.ReceiverRangeKilometres {
			return false
		}
	}

	prev := st.position
	if prev == nil {
		return true
	}

	elapsed := now.Sub(prev.received)
	if elapsed < time.Second {
		elapsed = time.Second
	}
	knots := cpr.DistanceKm(prev.pos, pos) / kilometresPerNauticalMile / elapsed.Hours()

	var limit float64
	switch classify(prev.onGround, onGround) {
	case speedSurface:
		limit = s.AcceptableSurfaceSpeed
	case speedTransition:
		limit = s.AcceptableTransitionSpeed
	default:
		limit = s.AcceptableAirborneSpeed
	}
	return knots <= limit
}

func classify(wasOnGround, onGround bool) speedClass {
	switch {
	case wasOnGround && onGround:
		return speedSurface
	case !wasOnGround && !onGround:
		return speedAirborne
	}
	return speedTransition
}
