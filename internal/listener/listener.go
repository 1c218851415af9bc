// Package listener turns the byte stream of a receiver into aircraft
// updates. Each connection gets its own extractor and buffer, all of them
// share one translator.
package listener

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/saviobatista/modes-feed/internal/adsb"
	"github.com/saviobatista/modes-feed/internal/connector"
	"github.com/saviobatista/modes-feed/internal/extractor"
	"github.com/saviobatista/modes-feed/internal/modes"
	"github.com/saviobatista/modes-feed/internal/parser"
	"github.com/saviobatista/modes-feed/internal/stats"
	"github.com/saviobatista/modes-feed/internal/translator"
	"github.com/saviobatista/modes-feed/internal/types"
)

const (
	DefaultReadBufferSize = 4096

	// maxPendingBytes bounds the partial frame carried between reads. A
	// stream that never yields a frame boundary is discarded.
	maxPendingBytes = 64 * 1024
)

var ErrNoConnector = errors.New("listener has no connector")

type UpdateHandler func(update *types.AircraftUpdate)

type PositionResetHandler func(reset types.PositionReset)

type ErrorHandler func(err connector.BackgroundError)

type RawFrameHandler func(frame types.RawFrame)

// Options configures a Listener. Name identifies the receiver and becomes
// the Source of every update. Zero Settings mean translator.DefaultSettings.
type Options struct {
	Name           string
	Format         extractor.Format
	Settings       translator.Settings
	Logger         logrus.FieldLogger
	ReadBufferSize int
	Now            func() time.Time
}

// Listener reads frames from the connections of a connector and publishes
// the updates they produce
type Listener struct {
	name       string
	format     extractor.Format
	connector  *connector.Connector
	translator *translator.Translator
	stats      *stats.Stats
	logger     logrus.FieldLogger
	bufferSize int
	now        func() time.Time

	handlersMu     sync.RWMutex
	updateHandlers []UpdateHandler
	resetHandlers  []PositionResetHandler
	errorHandlers  []ErrorHandler
	rawHandlers    []RawFrameHandler

	replayMu sync.Mutex
	replay   *session
}

// session is the extraction state of one byte stream
type session struct {
	extractor extractor.Extractor
	pending   []byte
}

// New creates a listener. conn may be nil for a listener that is only fed
// through ProcessBytes.
func New(conn *connector.Connector, opts Options) (*Listener, error) {
	if opts.Format == "" {
		opts.Format = extractor.FormatBeast
	}
	if _, err := extractor.New(opts.Format); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = DefaultReadBufferSize
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Settings == (translator.Settings{}) {
		opts.Settings = translator.DefaultSettings()
	}
	if opts.Name == "" && conn != nil {
		opts.Name = conn.Name()
	}

	logger := opts.Logger.WithFields(logrus.Fields{"source": opts.Name, "format": string(opts.Format)})
	tr, err := translator.New(opts.Settings, logger)
	if err != nil {
		return nil, fmt.Errorf("create translator: %w", err)
	}

	l := &Listener{
		name:       opts.Name,
		format:     opts.Format,
		connector:  conn,
		translator: tr,
		stats:      stats.New(opts.Name),
		logger:     logger,
		bufferSize: opts.ReadBufferSize,
		now:        opts.Now,
	}
	tr.AddPositionResetHandler(l.positionReset)
	if conn != nil {
		conn.AddObserver(connector.ObserverFuncs{
			OnEvent: l.connectionEvent,
			OnError: l.backgroundError,
		})
	}
	return l, nil
}

func (l *Listener) Name() string { return l.name }

func (l *Listener) Connector() *connector.Connector { return l.connector }

// Statistics returns the counters of the listener
func (l *Listener) Statistics() *stats.Stats { return l.stats }

// TotalMessages is the number of frames extracted from the stream
func (l *Listener) TotalMessages() uint64 { return l.stats.TotalMessages() }

// TotalBadMessages is the number of extracted frames that produced no update
func (l *Listener) TotalBadMessages() uint64 { return l.stats.BadMessages() }

func (l *Listener) AddUpdateHandler(h UpdateHandler) {
	l.handlersMu.Lock()
	l.updateHandlers = append(l.updateHandlers, h)
	l.handlersMu.Unlock()
}

func (l *Listener) AddPositionResetHandler(h PositionResetHandler) {
	l.handlersMu.Lock()
	l.resetHandlers = append(l.resetHandlers, h)
	l.handlersMu.Unlock()
}

func (l *Listener) AddErrorHandler(h ErrorHandler) {
	l.handlersMu.Lock()
	l.errorHandlers = append(l.errorHandlers, h)
	l.handlersMu.Unlock()
}

// AddRawFrameHandler registers h for every Mode-S frame that decoded
func (l *Listener) AddRawFrameHandler(h RawFrameHandler) {
	l.handlersMu.Lock()
	l.rawHandlers = append(l.rawHandlers, h)
	l.handlersMu.Unlock()
}

// ApplySettings replaces the translator settings. Invalid settings are
// rejected and the current ones stay in effect.
func (l *Listener) ApplySettings(settings translator.Settings) error {
	return l.translator.ApplySettings(settings)
}

func (l *Listener) Settings() translator.Settings {
	return l.translator.Settings()
}

// Connect starts the connector. It returns without waiting for a connection.
func (l *Listener) Connect() error {
	if l.connector == nil {
		return ErrNoConnector
	}
	l.connector.EstablishConnection()
	return nil
}

// Close shuts the connector down and waits for its connections to finish
func (l *Listener) Close() {
	if l.connector != nil {
		l.connector.CloseConnection()
	}
}

// ProcessBytes feeds data through the same path as bytes read from a
// connection. Partial frames are carried over to the next call.
func (l *Listener) ProcessBytes(receivedUtc time.Time, data []byte) {
	l.replayMu.Lock()
	defer l.replayMu.Unlock()
	if l.replay == nil {
		l.replay = l.newSession()
	}
	l.process(l.replay, receivedUtc, data)
}

func (l *Listener) newSession() *session {
	ext, _ := extractor.New(l.format)
	return &session{extractor: ext}
}

func (l *Listener) connectionEvent(e connector.Event) {
	if e.Type != connector.EventConnectionEstablished {
		return
	}
	l.logger.WithField("connection", e.Connection.ID().String()).Info("Receiver connected")
	l.startReading(e.Connection)
}

func (l *Listener) backgroundError(e connector.BackgroundError) {
	l.handlersMu.RLock()
	handlers := l.errorHandlers
	l.handlersMu.RUnlock()
	for _, h := range handlers {
		h(e)
	}
}

func (l *Listener) startReading(conn *connector.Connection) {
	s := l.newSession()
	var onRead connector.ReadCallback
	onRead = func(c *connector.Connection, buf []byte, n int) {
		if n == 0 {
			l.logger.WithField("connection", c.ID().String()).Info("Receiver disconnected")
			return
		}
		l.process(s, l.now().UTC(), buf[:n])
		if err := c.Read(buf, onRead); err != nil {
			l.logger.WithError(err).WithField("connection", c.ID().String()).Debug("Read loop stopped")
		}
	}
	if err := conn.Read(make([]byte, l.bufferSize), onRead); err != nil {
		l.logger.WithError(err).Warn("Failed to start reading")
	}
}

func (l *Listener) process(s *session, receivedUtc time.Time, data []byte) {
	s.pending = append(s.pending, data...)
	frames, consumed := s.extractor.Extract(s.pending)
	for i := range frames {
		l.handleFrame(receivedUtc, &frames[i])
	}

	remaining := copy(s.pending, s.pending[consumed:])
	s.pending = s.pending[:remaining]
	if len(s.pending) > maxPendingBytes {
		l.logger.WithField("bytes", len(s.pending)).Warn("Discarding unframed data")
		s.pending = s.pending[:0]
	}
}

func (l *Listener) handleFrame(receivedUtc time.Time, f *extractor.Frame) {
	l.stats.IncrementTotalMessages()
	l.stats.UpdateLastMessageTime(receivedUtc)

	update := l.decode(receivedUtc, f)
	if update == nil {
		l.stats.IncrementBadMessages()
		return
	}
	update.Source = l.name
	if f.HasSignal {
		level := f.SignalLevel
		update.SignalLevel = &level
	}
	l.stats.IncrementUpdates()

	l.handlersMu.RLock()
	handlers := l.updateHandlers
	l.handlersMu.RUnlock()
	for _, h := range handlers {
		h(update)
	}
}

func (l *Listener) decode(receivedUtc time.Time, f *extractor.Frame) *types.AircraftUpdate {
	if f.Malformed {
		return nil
	}

	if f.Kind == extractor.KindBaseStation {
		update, err := parser.ParseMessage(string(f.Data), receivedUtc)
		if err != nil {
			if !errors.Is(err, parser.ErrUnsupportedMessage) {
				l.logger.WithError(err).Debug("Failed to parse BaseStation line")
			}
			return nil
		}
		return update
	}

	frame, err := modes.Decode(f.Data)
	if err != nil {
		return nil
	}
	l.stats.IncrementDownlinkFormat(frame.DownlinkFormat)
	l.publishRaw(receivedUtc, f.Data)

	var payload *adsb.Payload
	if me, ok := frame.ExtendedSquitter(); ok {
		// Frames with an undecodable payload still carry an address and
		// drive the acceptance gate
		payload, _ = adsb.Decode(me)
	}
	return l.translator.Translate(receivedUtc, frame, payload)
}

func (l *Listener) publishRaw(receivedUtc time.Time, data []byte) {
	l.handlersMu.RLock()
	handlers := l.rawHandlers
	l.handlersMu.RUnlock()
	if len(handlers) == 0 {
		return
	}
	raw := types.RawFrame{
		Hex:       strings.ToUpper(hex.EncodeToString(data)),
		Timestamp: receivedUtc,
		Source:    l.name,
	}
	for _, h := range handlers {
		h(raw)
	}
}

func (l *Listener) positionReset(icao string, at time.Time) {
	l.stats.IncrementPositionResets()
	reset := types.PositionReset{Icao: icao, Source: l.name, Time: at}

	l.handlersMu.RLock()
	handlers := l.resetHandlers
	l.handlersMu.RUnlock()
	for _, h := range handlers {
		h(reset)
	}
}
