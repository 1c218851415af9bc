// Package merged combines the updates of several listeners into one feed.
// Each aircraft is owned by the receiver that reported it first, updates
// from the other receivers are passed on but tagged as out of band.
package merged

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/saviobatista/modes-feed/internal/connector"
	"github.com/saviobatista/modes-feed/internal/listener"
	"github.com/saviobatista/modes-feed/internal/stats"
	"github.com/saviobatista/modes-feed/internal/types"
)

const (
	DefaultIcaoTimeout = 5000 * time.Millisecond

	sweepInterval = time.Minute
)

var ErrNoListeners = errors.New("merged feed needs at least one listener")

// Settings controls ownership of aircraft between receivers
type Settings struct {
	IcaoTimeout                  time.Duration
	IgnoreAircraftWithNoPosition bool
}

func DefaultSettings() Settings {
	return Settings{IcaoTimeout: DefaultIcaoTimeout}
}

func (s Settings) Validate() error {
	if s.IcaoTimeout <= 0 {
		return fmt.Errorf("ICAO timeout must be positive, got %v", s.IcaoTimeout)
	}
	return nil
}

type owner struct {
	source   string
	lastSeen time.Time
}

// MergedFeed republishes the updates of its listeners
type MergedFeed struct {
	name      string
	listeners []*listener.Listener
	settings  atomic.Pointer[Settings]
	stats     *stats.Stats
	logger    logrus.FieldLogger

	mu        sync.Mutex
	owners    map[string]*owner
	lastSweep time.Time

	handlersMu     sync.RWMutex
	updateHandlers []listener.UpdateHandler
	resetHandlers  []listener.PositionResetHandler
	errorHandlers  []listener.ErrorHandler
}

// New subscribes to listeners. The listeners should not be shared with
// another merged feed.
func New(name string, listeners []*listener.Listener, settings Settings, logger logrus.FieldLogger) (*MergedFeed, error) {
	if len(listeners) == 0 {
		return nil, ErrNoListeners
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	m := &MergedFeed{
		name:      name,
		listeners: append([]*listener.Listener(nil), listeners...),
		stats:     stats.New(name),
		logger:    logger.WithField("feed", name),
		owners:    make(map[string]*owner),
	}
	m.settings.Store(&settings)

	for _, l := range m.listeners {
		l.AddUpdateHandler(m.handleUpdate)
		l.AddPositionResetHandler(m.handleReset)
		l.AddErrorHandler(m.handleError)
	}
	return m, nil
}

func (m *MergedFeed) Name() string { return m.name }

func (m *MergedFeed) Listeners() []*listener.Listener {
	return append([]*listener.Listener(nil), m.listeners...)
}

// ApplySettings replaces the ownership settings. The ownership table is kept.
func (m *MergedFeed) ApplySettings(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	m.settings.Store(&settings)
	return nil
}

func (m *MergedFeed) Settings() Settings {
	return *m.settings.Load()
}

func (m *MergedFeed) AddUpdateHandler(h listener.UpdateHandler) {
	m.handlersMu.Lock()
	m.updateHandlers = append(m.updateHandlers, h)
	m.handlersMu.Unlock()
}

func (m *MergedFeed) AddPositionResetHandler(h listener.PositionResetHandler) {
	m.handlersMu.Lock()
	m.resetHandlers = append(m.resetHandlers, h)
	m.handlersMu.Unlock()
}

func (m *MergedFeed) AddErrorHandler(h listener.ErrorHandler) {
	m.handlersMu.Lock()
	m.errorHandlers = append(m.errorHandlers, h)
	m.handlersMu.Unlock()
}

// Connect starts every listener that has a connector
func (m *MergedFeed) Connect() error {
	var errs []error
	for _, l := range m.listeners {
		if err := l.Connect(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", l.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (m *MergedFeed) Close() {
	for _, l := range m.listeners {
		l.Close()
	}
}

// TotalMessages is the sum over all listeners
func (m *MergedFeed) TotalMessages() uint64 {
	var n uint64
	for _, l := range m.listeners {
		n += l.TotalMessages()
	}
	return n
}

// TotalBadMessages is the sum over all listeners
func (m *MergedFeed) TotalBadMessages() uint64 {
	var n uint64
	for _, l := range m.listeners {
		n += l.TotalBadMessages()
	}
	return n
}

// Statistics sums the frame counters of the listeners. Updates and out of
// band counts are those republished by the merge.
func (m *MergedFeed) Statistics() stats.Snapshot {
	total := m.stats.Snapshot()
	for _, l := range m.listeners {
		snap := l.Statistics().Snapshot()
		total.TotalMessages += snap.TotalMessages
		total.BadMessages += snap.BadMessages
		total.PositionResets += snap.PositionResets
		for i := range total.DownlinkFormatCounts {
			total.DownlinkFormatCounts[i] += snap.DownlinkFormatCounts[i]
		}
		if snap.LastMessageTime.After(total.LastMessageTime) {
			total.LastMessageTime = snap.LastMessageTime
		}
	}
	return total
}

// Owner returns the receiver that currently owns icao
func (m *MergedFeed) Owner(icao string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.owners[icao]
	if !ok {
		return "", false
	}
	return o.source, true
}

func (m *MergedFeed) handleUpdate(u *types.AircraftUpdate) {
	s := m.settings.Load()
	if s.IgnoreAircraftWithNoPosition && !u.HasPosition() {
		return
	}

	outOfBand := m.claim(s, u.Icao, u.Source, u.ReceivedUtc)
	if outOfBand {
		m.stats.IncrementOutOfBand()
		u = u.Clone()
		u.IsOutOfBand = true
	}
	m.stats.IncrementUpdates()
	m.stats.UpdateLastMessageTime(u.ReceivedUtc)

	m.handlersMu.RLock()
	handlers := m.updateHandlers
	m.handlersMu.RUnlock()
	for _, h := range handlers {
		h(u)
	}
}

// claim decides ownership of icao for a message from source at now and
// reports whether the message is out of band
func (m *MergedFeed) claim(s *Settings, icao, source string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sweep(s, now)

	o, ok := m.owners[icao]
	switch {
	case !ok:
		m.owners[icao] = &owner{source: source, lastSeen: now}
		return false
	case o.source == source:
		if now.After(o.lastSeen) {
			o.lastSeen = now
		}
		return false
	case now.Sub(o.lastSeen) > s.IcaoTimeout:
		m.logger.WithFields(logrus.Fields{
			"icao": icao,
			"from": o.source,
			"to":   source,
		}).Debug("Aircraft ownership changed")
		o.source = source
		o.lastSeen = now
		return false
	}
	return true
}

// sweep drops owners that have been silent for longer than the timeout,
// at most once per sweepInterval of message time. Callers hold mu.
func (m *MergedFeed) sweep(s *Settings, now time.Time) {
	if now.Sub(m.lastSweep) < sweepInterval {
		return
	}
	m.lastSweep = now
	for icao, o := range m.owners {
		if now.Sub(o.lastSeen) > s.IcaoTimeout {
			delete(m.owners, icao)
		}
	}
}

func (m *MergedFeed) handleReset(r types.PositionReset) {
	m.handlersMu.RLock()
	handlers := m.resetHandlers
	m.handlersMu.RUnlock()
	for _, h := range handlers {
		h(r)
	}
}

func (m *MergedFeed) handleError(e connector.BackgroundError) {
	m.handlersMu.RLock()
	handlers := m.errorHandlers
	m.handlersMu.RUnlock()
	for _, h := range handlers {
		h(e)
	}
}
