package feed

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/saviobatista/modes-feed/internal/types"
)

// EvictionHandler is called with the final state of an aircraft that timed out
type EvictionHandler func(a *types.Aircraft)

// AircraftList is the table of aircraft currently tracked by a feed.
// Entries expire after the aircraft timeout without updates.
type AircraftList struct {
	cache   *cache.Cache
	timeout atomic.Int64

	// mu serialises read-modify-write of entries
	mu sync.Mutex

	handlersMu sync.RWMutex
	onEvicted  []EvictionHandler
}

// NewAircraftList creates a table whose entries expire after timeout
func NewAircraftList(timeout time.Duration) *AircraftList {
	cleanup := timeout / 4
	if cleanup < 10*time.Millisecond {
		cleanup = 10 * time.Millisecond
	}
	if cleanup > 10*time.Second {
		cleanup = 10 * time.Second
	}

	l := &AircraftList{cache: cache.New(timeout, cleanup)}
	l.timeout.Store(int64(timeout))
	l.cache.OnEvicted(l.evicted)
	return l
}

// SetTimeout changes the expiry applied from the next update of each aircraft
func (l *AircraftList) SetTimeout(timeout time.Duration) {
	if timeout > 0 {
		l.timeout.Store(int64(timeout))
	}
}

// Timeout returns the current expiry
func (l *AircraftList) Timeout() time.Duration {
	return time.Duration(l.timeout.Load())
}

// AddEvictionHandler registers h for aircraft that time out or are removed
func (l *AircraftList) AddEvictionHandler(h EvictionHandler) {
	l.handlersMu.Lock()
	defer l.handlersMu.Unlock()
	l.onEvicted = append(l.onEvicted, h)
}

func (l *AircraftList) evicted(_ string, v interface{}) {
	a, ok := v.(*types.Aircraft)
	if !ok {
		return
	}
	l.handlersMu.RLock()
	handlers := l.onEvicted
	l.handlersMu.RUnlock()
	for _, h := range handlers {
		h(a)
	}
}

// Apply merges an update into the table and returns a copy of the new
// state. Fields absent from the update keep their previous values.
func (l *AircraftList) Apply(u *types.AircraftUpdate) *types.Aircraft {
	l.mu.Lock()
	defer l.mu.Unlock()

	var a types.Aircraft
	if v, found := l.cache.Get(u.Icao); found {
		a = *v.(*types.Aircraft)
	} else {
		a = types.Aircraft{
			Icao:      u.Icao,
			SessionID: uuid.NewString(),
			FirstSeen: u.ReceivedUtc,
		}
	}
	merge(&a, u)

	stored := a
	l.cache.Set(u.Icao, &stored, l.Timeout())
	return &a
}

func merge(a *types.Aircraft, u *types.AircraftUpdate) {
	if u.ReceivedUtc.After(a.LastSeen) {
		a.LastSeen = u.ReceivedUtc
	}
	if u.ReceivedUtc.Before(a.FirstSeen) {
		a.FirstSeen = u.ReceivedUtc
	}
	a.Source = u.Source
	a.Messages++

	if u.TransponderType > a.TransponderType {
		a.TransponderType = u.TransponderType
	}
	if u.Callsign != nil {
		a.Callsign = *u.Callsign
		a.CallsignSuspect = u.CallsignIsSuspect
	}
	if u.Altitude != nil {
		a.Altitude = u.Altitude
		a.AltitudeType = u.AltitudeType
	}
	// positions come from the owning source only
	if u.HasPosition() && !u.IsOutOfBand {
		a.Latitude = u.Latitude
		a.Longitude = u.Longitude
		a.PositionTime = u.ReceivedUtc
	}
	if u.GroundSpeed != nil {
		a.GroundSpeed = u.GroundSpeed
		a.SpeedType = u.SpeedType
	}
	if u.Track != nil {
		a.Track = u.Track
		a.TrackIsHeading = u.TrackIsHeading
	}
	if u.VerticalRate != nil {
		a.VerticalRate = u.VerticalRate
		a.VerticalRateType = u.VerticalRateType
	}
	if u.Squawk != nil {
		a.Squawk = *u.Squawk
	}
	if u.Emergency != nil {
		a.Emergency = *u.Emergency
	}
	if u.OnGround != nil {
		a.OnGround = u.OnGround
	}
	if u.TargetAltitude != nil {
		a.TargetAltitude = u.TargetAltitude
	}
	if u.TargetHeading != nil {
		a.TargetHeading = u.TargetHeading
	}
	if u.PressureSetting != nil {
		a.PressureSetting = u.PressureSetting
	}
	if u.SignalLevel != nil {
		a.SignalLevel = u.SignalLevel
	}
}

// ResetPosition forgets the position of an aircraft after a position reset
func (l *AircraftList) ResetPosition(r types.PositionReset) {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, expiry, found := l.cache.GetWithExpiration(r.Icao)
	if !found {
		return
	}
	a := *v.(*types.Aircraft)
	a.Latitude = nil
	a.Longitude = nil
	a.PositionTime = time.Time{}

	remaining := time.Until(expiry)
	if expiry.IsZero() {
		remaining = cache.NoExpiration
	} else if remaining <= 0 {
		return
	}
	l.cache.Set(r.Icao, &a, remaining)
}

// Get returns a copy of the state of an aircraft
func (l *AircraftList) Get(icao string) (*types.Aircraft, bool) {
	v, found := l.cache.Get(icao)
	if !found {
		return nil, false
	}
	a := *v.(*types.Aircraft)
	return &a, true
}

// Remove drops an aircraft, raising the eviction handlers
func (l *AircraftList) Remove(icao string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache.Delete(icao)
}

// Count returns the number of aircraft in the table, including expired
// entries not yet cleaned up
func (l *AircraftList) Count() int {
	return l.cache.ItemCount()
}

// Snapshot returns copies of all live aircraft ordered by ICAO
func (l *AircraftList) Snapshot() []*types.Aircraft {
	items := l.cache.Items()
	list := make([]*types.Aircraft, 0, len(items))
	for _, item := range items {
		a := *item.Object.(*types.Aircraft)
		list = append(list, &a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Icao < list[j].Icao })
	return list
}

// Clear drops every aircraft without raising the eviction handlers
func (l *AircraftList) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache.Flush()
}
