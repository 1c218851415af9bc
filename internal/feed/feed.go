// Package feed ties the receivers of a feed to the table of aircraft they
// are tracking. A feed with one receiver is served by its listener, a feed
// with several by a merged feed over their listeners.
package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/saviobatista/modes-feed/internal/config"
	"github.com/saviobatista/modes-feed/internal/connector"
	"github.com/saviobatista/modes-feed/internal/extractor"
	"github.com/saviobatista/modes-feed/internal/listener"
	"github.com/saviobatista/modes-feed/internal/merged"
	"github.com/saviobatista/modes-feed/internal/stats"
	"github.com/saviobatista/modes-feed/internal/types"
)

var (
	ErrClosed          = errors.New("feed is closed")
	ErrUnknownReceiver = errors.New("unknown receiver")
)

// source is what a Listener and a MergedFeed have in common
type source interface {
	Connect() error
	Close()
	TotalMessages() uint64
	TotalBadMessages() uint64
	AddUpdateHandler(h listener.UpdateHandler)
	AddPositionResetHandler(h listener.PositionResetHandler)
	AddErrorHandler(h listener.ErrorHandler)
}

// pipeline is the set of objects built from one configuration
type pipeline struct {
	cfg       config.FeedConfig
	listeners []*listener.Listener
	merged    *merged.MergedFeed
	cancel    context.CancelFunc
}

func (p *pipeline) source() source {
	if p.merged != nil {
		return p.merged
	}
	return p.listeners[0]
}

func (p *pipeline) listener(name string) *listener.Listener {
	for _, l := range p.listeners {
		if l.Name() == name {
			return l
		}
	}
	return nil
}

// persistence remembers where statistics go so that a rebuilt pipeline
// keeps persisting
type persistence struct {
	ctx      context.Context
	store    stats.Store
	interval time.Duration
}

// Feed is the composition root of one configured feed
type Feed struct {
	logger   logrus.FieldLogger
	aircraft *AircraftList

	mu      sync.Mutex
	current *pipeline
	started bool
	closed  bool
	persist *persistence

	handlersMu     sync.RWMutex
	updateHandlers []listener.UpdateHandler
	resetHandlers  []listener.PositionResetHandler
	errorHandlers  []listener.ErrorHandler
	rawHandlers    []listener.RawFrameHandler
}

// New validates cfg and builds the feed. Nothing connects until Start.
func New(cfg config.FeedConfig, logger logrus.FieldLogger) (*Feed, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	cfg = cloneConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f := &Feed{
		logger:   logger.WithField("feed", cfg.Name),
		aircraft: NewAircraftList(cfg.AircraftTimeout),
	}
	p, err := f.build(cfg)
	if err != nil {
		return nil, err
	}
	f.current = p
	return f, nil
}

func cloneConfig(cfg config.FeedConfig) config.FeedConfig {
	cfg.Receivers = append([]config.ReceiverConfig(nil), cfg.Receivers...)
	return cfg
}

// build creates the listeners of cfg and, for more than one receiver, the
// merged feed over them
func (f *Feed) build(cfg config.FeedConfig) (*pipeline, error) {
	settings, err := cfg.TranslatorSettings()
	if err != nil {
		return nil, err
	}

	p := &pipeline{cfg: cfg}
	for _, r := range cfg.Receivers {
		format, err := extractor.ParseFormat(r.Format)
		if err != nil {
			return nil, fmt.Errorf("receiver %s: %w", r.Name, err)
		}
		logger := f.logger.WithField("receiver", r.Name)
		conn, err := NewConnector(r, logger)
		if err != nil {
			return nil, fmt.Errorf("receiver %s: %w", r.Name, err)
		}
		l, err := listener.New(conn, listener.Options{
			Name:     r.Name,
			Format:   format,
			Settings: settings,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("receiver %s: %w", r.Name, err)
		}
		l.AddRawFrameHandler(f.handleRawFrame)
		p.listeners = append(p.listeners, l)
	}

	if len(p.listeners) > 1 {
		m, err := merged.New(cfg.Name, p.listeners, cfg.MergeSettings(), f.logger)
		if err != nil {
			return nil, err
		}
		p.merged = m
	}

	src := p.source()
	src.AddUpdateHandler(f.handleUpdate)
	src.AddPositionResetHandler(f.handleReset)
	src.AddErrorHandler(f.handleError)
	return p, nil
}

// Name returns the name of the feed
func (f *Feed) Name() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current.cfg.Name
}

// Config returns the configuration in effect
func (f *Feed) Config() config.FeedConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneConfig(f.current.cfg)
}

// IsMerged reports whether the feed merges several receivers
func (f *Feed) IsMerged() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current.merged != nil
}

// Aircraft returns the aircraft table
func (f *Feed) Aircraft() *AircraftList { return f.aircraft }

func (f *Feed) AddUpdateHandler(h listener.UpdateHandler) {
	f.handlersMu.Lock()
	defer f.handlersMu.Unlock()
	f.updateHandlers = append(f.updateHandlers, h)
}

func (f *Feed) AddPositionResetHandler(h listener.PositionResetHandler) {
	f.handlersMu.Lock()
	defer f.handlersMu.Unlock()
	f.resetHandlers = append(f.resetHandlers, h)
}

func (f *Feed) AddErrorHandler(h listener.ErrorHandler) {
	f.handlersMu.Lock()
	defer f.handlersMu.Unlock()
	f.errorHandlers = append(f.errorHandlers, h)
}

// AddRawFrameHandler registers h for every frame of every receiver
func (f *Feed) AddRawFrameHandler(h listener.RawFrameHandler) {
	f.handlersMu.Lock()
	defer f.handlersMu.Unlock()
	f.rawHandlers = append(f.rawHandlers, h)
}

// Start connects every receiver of the feed
func (f *Feed) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if f.started {
		return nil
	}
	if err := f.current.source().Connect(); err != nil {
		return err
	}
	f.started = true
	f.logger.WithField("receivers", len(f.current.listeners)).Info("Feed started")
	return nil
}

// Close disconnects every receiver. A closed feed cannot be restarted.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.started = false
	f.stop(f.current)
	f.logger.Info("Feed closed")
}

func (f *Feed) stop(p *pipeline) {
	if p.cancel != nil {
		p.cancel()
	}
	p.source().Close()
}

// ApplyConfiguration switches the feed to cfg. Settings changes are applied
// in place. A change of receivers builds a new pipeline and, when the feed
// is running, connects it before the old one is closed. An invalid cfg
// leaves the current configuration in effect.
func (f *Feed) ApplyConfiguration(cfg config.FeedConfig) error {
	cfg = cloneConfig(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	settings, err := cfg.TranslatorSettings()
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}

	old := f.current
	if sameReceivers(old.cfg, cfg) {
		for _, l := range old.listeners {
			if err := l.ApplySettings(settings); err != nil {
				return err
			}
		}
		if old.merged != nil {
			if err := old.merged.ApplySettings(cfg.MergeSettings()); err != nil {
				return err
			}
		}
		old.cfg = cfg
		f.aircraft.SetTimeout(cfg.AircraftTimeout)
		f.logger.Info("Feed settings applied")
		return nil
	}

	p, err := f.build(cfg)
	if err != nil {
		return err
	}
	if f.started {
		if err := p.source().Connect(); err != nil {
			p.source().Close()
			return err
		}
	}
	if f.persist != nil {
		f.startPersistence(p)
	}
	f.stop(old)
	f.current = p
	f.aircraft.SetTimeout(cfg.AircraftTimeout)
	f.logger.WithField("receivers", len(p.listeners)).Info("Feed rebuilt")
	return nil
}

func sameReceivers(a, b config.FeedConfig) bool {
	if a.Name != b.Name || len(a.Receivers) != len(b.Receivers) {
		return false
	}
	for i := range a.Receivers {
		if a.Receivers[i] != b.Receivers[i] {
			return false
		}
	}
	return true
}

// TotalMessages returns the number of frames received by the feed
func (f *Feed) TotalMessages() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current.source().TotalMessages()
}

// TotalBadMessages returns the number of frames that produced no update
func (f *Feed) TotalBadMessages() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current.source().TotalBadMessages()
}

// Statistics returns the counters of the feed
func (f *Feed) Statistics() stats.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	var snap stats.Snapshot
	if f.current.merged != nil {
		snap = f.current.merged.Statistics()
	} else {
		snap = f.current.listeners[0].Statistics().Snapshot()
	}
	snap.Feed = f.current.cfg.Name
	return snap
}

// ProcessBytes feeds data to the named receiver as if it had been read
// from its connection
func (f *Feed) ProcessBytes(receiver string, receivedUtc time.Time, data []byte) error {
	f.mu.Lock()
	l := f.current.listener(receiver)
	f.mu.Unlock()
	if l == nil {
		return fmt.Errorf("%w: %s", ErrUnknownReceiver, receiver)
	}
	l.ProcessBytes(receivedUtc, data)
	return nil
}

// StartPersistence writes the statistics of every receiver, and of the
// merged feed when there is one, to store every interval until ctx is done
func (f *Feed) StartPersistence(ctx context.Context, store stats.Store, interval time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.persist = &persistence{ctx: ctx, store: store, interval: interval}
	f.startPersistence(f.current)
}

func (f *Feed) startPersistence(p *pipeline) {
	ctx, cancel := context.WithCancel(f.persist.ctx)
	p.cancel = cancel

	for _, l := range p.listeners {
		l.Statistics().SetStore(f.persist.store)
		go l.Statistics().StartPersistence(ctx, f.persist.interval, f.logger.WithField("receiver", l.Name()))
	}
	if p.merged == nil {
		return
	}

	m, store, interval, name := p.merged, f.persist.store, f.persist.interval, p.cfg.Name
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := store.StoreFeedStats(m.Statistics()); err != nil {
					f.logger.WithError(err).WithField("feed", name).Error("Failed to persist merged statistics")
				}
			}
		}
	}()
}

func (f *Feed) handleUpdate(u *types.AircraftUpdate) {
	f.aircraft.Apply(u)

	f.handlersMu.RLock()
	handlers := f.updateHandlers
	f.handlersMu.RUnlock()
	for _, h := range handlers {
		h(u)
	}
}

func (f *Feed) handleReset(r types.PositionReset) {
	f.aircraft.ResetPosition(r)

	f.handlersMu.RLock()
	handlers := f.resetHandlers
	f.handlersMu.RUnlock()
	for _, h := range handlers {
		h(r)
	}
}

func (f *Feed) handleError(e connector.BackgroundError) {
	f.handlersMu.RLock()
	handlers := f.errorHandlers
	f.handlersMu.RUnlock()
	for _, h := range handlers {
		h(e)
	}
}

func (f *Feed) handleRawFrame(frame types.RawFrame) {
	f.handlersMu.RLock()
	handlers := f.rawHandlers
	f.handlersMu.RUnlock()
	for _, h := range handlers {
		h(frame)
	}
}
