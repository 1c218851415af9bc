package stats

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// DownlinkFormats is the number of Mode-S downlink format codes
const DownlinkFormats = 32

// Store persists statistics snapshots
type Store interface {
	StoreFeedStats(snapshot Snapshot) error
}

// Stats tracks the traffic of one feed. Counters are lock-free.
type Stats struct {
	feed string

	totalMessages  atomic.Uint64
	badMessages    atomic.Uint64
	updates        atomic.Uint64
	positionResets atomic.Uint64
	outOfBand      atomic.Uint64

	downlinkFormats [DownlinkFormats]atomic.Uint64

	startTime time.Time

	mu              sync.RWMutex
	lastMessageTime time.Time
	store           Store
}

// Snapshot is a point in time copy of the counters
type Snapshot struct {
	Feed                 string                  `json:"feed"`
	Time                 time.Time               `json:"time"`
	TotalMessages        uint64                  `json:"total_messages"`
	BadMessages          uint64                  `json:"bad_messages"`
	Updates              uint64                  `json:"updates"`
	PositionResets       uint64                  `json:"position_resets"`
	OutOfBand            uint64                  `json:"out_of_band"`
	DownlinkFormatCounts [DownlinkFormats]uint64 `json:"downlink_formats"`
	LastMessageTime      time.Time               `json:"last_message_time"`
	Uptime               time.Duration           `json:"uptime"`
}

// New creates a new Stats instance for feed
func New(feed string) *Stats {
	return &Stats{
		feed:      feed,
		startTime: time.Now(),
	}
}

// SetStore sets where Persist writes snapshots
func (s *Stats) SetStore(store Store) {
	s.mu.Lock()
	s.store = store
	s.mu.Unlock()
}

// IncrementTotalMessages counts a frame taken from the stream
func (s *Stats) IncrementTotalMessages() {
	s.totalMessages.Add(1)
}

// IncrementBadMessages counts a frame that produced no update
func (s *Stats) IncrementBadMessages() {
	s.badMessages.Add(1)
}

// IncrementUpdates counts an update that was emitted
func (s *Stats) IncrementUpdates() {
	s.updates.Add(1)
}

// IncrementPositionResets counts a discarded provisional position
func (s *Stats) IncrementPositionResets() {
	s.positionResets.Add(1)
}

// IncrementOutOfBand counts a merged update from a non-owning source
func (s *Stats) IncrementOutOfBand() {
	s.outOfBand.Add(1)
}

// IncrementDownlinkFormat counts a decoded frame by downlink format
func (s *Stats) IncrementDownlinkFormat(df int) {
	if df >= 0 && df < DownlinkFormats {
		s.downlinkFormats[df].Add(1)
	}
}

func (s *Stats) TotalMessages() uint64 { return s.totalMessages.Load() }

func (s *Stats) BadMessages() uint64 { return s.badMessages.Load() }

func (s *Stats) Updates() uint64 { return s.updates.Load() }

// UpdateLastMessageTime records when the latest frame arrived
func (s *Stats) UpdateLastMessageTime(t time.Time) {
	s.mu.Lock()
	if t.After(s.lastMessageTime) {
		s.lastMessageTime = t
	}
	s.mu.Unlock()
}

// Snapshot returns a copy of the current statistics
func (s *Stats) Snapshot() Snapshot {
	s.mu.RLock()
	last := s.lastMessageTime
	s.mu.RUnlock()

	snap := Snapshot{
		Feed:            s.feed,
		Time:            time.Now().UTC(),
		TotalMessages:   s.totalMessages.Load(),
		BadMessages:     s.badMessages.Load(),
		Updates:         s.updates.Load(),
		PositionResets:  s.positionResets.Load(),
		OutOfBand:       s.outOfBand.Load(),
		LastMessageTime: last,
		Uptime:          time.Since(s.startTime),
	}
	for i := range s.downlinkFormats {
		snap.DownlinkFormatCounts[i] = s.downlinkFormats[i].Load()
	}
	return snap
}

// String returns a string representation of the statistics
func (s *Stats) String() string {
	snap := s.Snapshot()
	return fmt.Sprintf(
		"Feed: %s\n"+
			"Total Messages: %d\n"+
			"Bad Messages: %d\n"+
			"Updates: %d\n"+
			"Position Resets: %d\n"+
			"Out Of Band: %d\n"+
			"Last Message Time: %s\n"+
			"Uptime: %s",
		snap.Feed,
		snap.TotalMessages,
		snap.BadMessages,
		snap.Updates,
		snap.PositionResets,
		snap.OutOfBand,
		snap.LastMessageTime,
		snap.Uptime.Round(time.Second),
	)
}

// Persist stores the current statistics
func (s *Stats) Persist() error {
	s.mu.RLock()
	store := s.store
	s.mu.RUnlock()
	if store == nil {
		return fmt.Errorf("statistics store not set")
	}
	return store.StoreFeedStats(s.Snapshot())
}

// StartPersistence persists statistics every interval until ctx is done
func (s *Stats) StartPersistence(ctx context.Context, interval time.Duration, logger logrus.FieldLogger) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final persistence before shutdown
			if err := s.Persist(); err != nil {
				logger.WithError(err).WithField("feed", s.feed).Error("Failed to persist final statistics")
			}
			return
		case <-ticker.C:
			if err := s.Persist(); err != nil {
				logger.WithError(err).WithField("feed", s.feed).Error("Failed to persist statistics")
			}
		}
	}
}
