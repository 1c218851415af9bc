package translator

import (
	"sync"
	"time"

	"github.com/saviobatista/modes-feed/internal/cpr"
)

const shardCount = 64

type cprFrame struct {
	coord    cpr.Coordinate
	received time.Time
}

type resolvedPosition struct {
	pos      cpr.Position
	received time.Time
	onGround bool
	global   bool
	// A local fix stays provisional until a global decode agrees with it
	provisional bool
}

// trackingState is everything remembered about one address. Guarded by mu.
type trackingState struct {
	mu      sync.Mutex
	removed bool

	lastSeen time.Time

	accepted       bool
	pi0Sightings   []time.Time
	nonPISightings []time.Time

	even *cprFrame
	odd  *cprFrame

	position    *resolvedPosition
	forceGlobal bool

	groundSpeed    float64
	hasGroundSpeed bool

	trustedCallsign bool
	adsbVersion     int // version+1, zero when unknown
}

// reset forgets everything, as if the address had never been seen
func (s *trackingState) reset() {
	s.accepted = false
	s.pi0Sightings = nil
	s.nonPISightings = nil
	s.even, s.odd = nil, nil
	s.position = nil
	s.forceGlobal = false
	s.groundSpeed, s.hasGroundSpeed = 0, false
	s.trustedCallsign = false
	s.adsbVersion = 0
}

func (s *trackingState) clearPosition() {
	s.even, s.odd = nil, nil
	s.position = nil
	s.forceGlobal = true
}

type shard struct {
	mu     sync.Mutex
	states map[uint32]*trackingState
}

type stateStore struct {
	shards [shardCount]shard
}

func newStateStore() *stateStore {
	st := &stateStore{}
	for i := range st.shards {
		st.shards[i].states = make(map[uint32]*trackingState)
	}
	return st
}

func (st *stateStore) shardFor(icao uint32) *shard {
	return &st.shards[(icao^icao>>12)%shardCount]
}

// get returns the state for an address, creating it if needed. The shard
// lock is released before returning, callers lock the state itself.
func (st *stateStore) get(icao uint32) *trackingState {
	sh := st.shardFor(icao)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	s, ok := sh.states[icao]
	if !ok {
		s = &trackingState{}
		sh.states[icao] = s
	}
	return s
}

// purge drops states that have seen no traffic for longer than timeout
func (st *stateStore) purge(now time.Time, timeout time.Duration) int {
	purged := 0
	for i := range st.shards {
		sh := &st.shards[i]
		sh.mu.Lock()
		for icao, s := range sh.states {
			s.mu.Lock()
			if now.Sub(s.lastSeen) > timeout {
				s.removed = true
				delete(sh.states, icao)
				purged++
			}
			s.mu.Unlock()
		}
		sh.mu.Unlock()
	}
	return purged
}

func (st *stateStore) count() int {
	n := 0
	for i := range st.shards {
		sh := &st.shards[i]
		sh.mu.Lock()
		n += len(sh.states)
		sh.mu.Unlock()
	}
	return n
}

// recordSighting appends now and drops sightings that have left the window.
// At most limit sightings are kept.
func recordSighting(sightings []time.Time, now time.Time, window time.Duration, limit int) []time.Time {
	kept := sightings[:0]
	for _, t := range sightings {
		if now.Sub(t) <= window {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	if limit > 0 && len(kept) > limit {
		kept = kept[len(kept)-limit:]
	}
	return kept
}
