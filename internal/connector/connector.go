// Package connector maintains long lived byte stream links to receivers.
// An active connector dials out and keeps redialling, a passive connector
// listens and accepts inbound connections.
package connector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	DefaultStaleTimeout   = 10 * time.Second
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 30 * time.Second
	authenticationTimeout = 10 * time.Second
)

// DialFunc opens an outbound stream
type DialFunc func(ctx context.Context) (io.ReadWriteCloser, error)

// ListenFunc opens the listener of a passive connector
type ListenFunc func(ctx context.Context) (net.Listener, error)

// Options configures a Connector. Zero values pick the defaults.
type Options struct {
	Name   string
	Logger logrus.FieldLogger

	StaleTimeout   time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// Authentication is sent by active connectors after connecting and
	// checked by passive connectors before a connection is accepted
	Authentication Authentication

	// IsSingleConnection makes a passive connector drop its current
	// connection when a new one is accepted
	IsSingleConnection bool

	// Now overrides the clock, for tests
	Now func() time.Time
}

// Connector owns the connections to one receiver or listening endpoint
type Connector struct {
	opts    Options
	passive bool
	dial    DialFunc
	listen  ListenFunc

	logger  logrus.FieldLogger
	limiter *rate.Limiter
	events  observers

	bytesRead      atomic.Uint64
	bytesWritten   atomic.Uint64
	staleDiscarded atomic.Uint64

	mu          sync.Mutex
	connections map[*Connection]struct{}
	listener    net.Listener
	cancel      context.CancelFunc
	established bool

	wg sync.WaitGroup
}

// NewActive creates a connector that dials out with dial
func NewActive(dial DialFunc, opts Options) *Connector {
	c := newConnector(opts)
	c.dial = dial
	return c
}

// NewPassive creates a connector that accepts connections from listen
func NewPassive(listen ListenFunc, opts Options) *Connector {
	c := newConnector(opts)
	c.passive = true
	c.listen = listen
	return c
}

func newConnector(opts Options) *Connector {
	if opts.StaleTimeout <= 0 {
		opts.StaleTimeout = DefaultStaleTimeout
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = DefaultInitialBackoff
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = DefaultMaxBackoff
		if opts.MaxBackoff < opts.InitialBackoff {
			opts.MaxBackoff = opts.InitialBackoff
		}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Connector{
		opts:        opts,
		logger:      logger.WithField("connector", opts.Name),
		limiter:     rate.NewLimiter(rate.Every(time.Second), 5),
		connections: make(map[*Connection]struct{}),
	}
}

func (c *Connector) now() time.Time { return c.opts.Now() }

// Name returns the connector's name
func (c *Connector) Name() string { return c.opts.Name }

// IsPassive reports whether the connector accepts rather than dials
func (c *Connector) IsPassive() bool { return c.passive }

// AddObserver registers an observer for lifecycle events and background
// errors
func (c *Connector) AddObserver(o Observer) {
	c.events.add(o)
}

// BytesRead returns the bytes read across every connection so far
func (c *Connector) BytesRead() uint64 { return c.bytesRead.Load() }

// BytesWritten returns the bytes sent across every connection so far
func (c *Connector) BytesWritten() uint64 { return c.bytesWritten.Load() }

// StaleBytesDiscarded returns the queued bytes dropped as stale across every
// connection so far
func (c *Connector) StaleBytesDiscarded() uint64 { return c.staleDiscarded.Load() }

// Connections returns the open connections
func (c *Connector) Connections() []*Connection {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Connection, 0, len(c.connections))
	for conn := range c.connections {
		out = append(out, conn)
	}
	return out
}

// ListenAddr returns the bound address of a passive connector, or nil
// before it is listening
func (c *Connector) ListenAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// EstablishConnection starts connecting or listening in the background and
// returns immediately. Progress is reported through observers.
func (c *Connector) EstablishConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.established {
		return
	}
	c.established = true

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(1)
	if c.passive {
		go c.acceptLoop(ctx)
	} else {
		go c.dialLoop(ctx)
	}
}

// CloseConnection stops connecting, closes every connection and waits for
// background work to drain. The connector can be established again
// afterwards. It must not be called from a read callback of one of its own
// connections.
func (c *Connector) CloseConnection() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.established = false
	if c.listener != nil {
		c.listener.Close()
		c.listener = nil
	}
	conns := make([]*Connection, 0, len(c.connections))
	for conn := range c.connections {
		conns = append(conns, conn)
	}
	c.mu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}
	c.wg.Wait()
}

func (c *Connector) reportError(component string, err error) {
	if c.limiter.Allow() {
		c.logger.WithField("component", component).WithError(err).Warn("Background error")
	}
	c.events.err(BackgroundError{Time: c.now(), Component: component, Err: err})
}

func (c *Connector) recoverPanic(component string, cleanup func()) {
	if r := recover(); r != nil {
		c.reportError(component, fmt.Errorf("panic: %v", r))
		if cleanup != nil {
			cleanup()
		}
	}
}

// register opens the connection for application data and announces it
func (c *Connector) register(ctx context.Context, conn *Connection) bool {
	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		return false
	}
	var replaced []*Connection
	if c.opts.IsSingleConnection {
		for existing := range c.connections {
			replaced = append(replaced, existing)
		}
	}
	c.connections[conn] = struct{}{}
	c.wg.Add(1)
	c.mu.Unlock()

	for _, old := range replaced {
		old.Close()
		old.wg.Wait()
	}

	conn.start()
	go func() {
		defer c.wg.Done()
		conn.wg.Wait()
	}()
	conn.setStatus(StatusConnected)
	c.events.event(Event{
		Type:       EventConnectionEstablished,
		Connector:  c.opts.Name,
		Connection: conn,
		Status:     StatusConnected,
		Time:       c.now(),
	})
	return true
}

func (c *Connector) connectionClosed(conn *Connection) {
	c.mu.Lock()
	delete(c.connections, conn)
	c.mu.Unlock()

	c.events.event(Event{
		Type:       EventConnectionClosed,
		Connector:  c.opts.Name,
		Connection: conn,
		Status:     StatusClosed,
		Time:       c.now(),
	})
}

func (c *Connector) dialLoop(ctx context.Context) {
	defer c.wg.Done()
	defer c.recoverPanic(c.opts.Name, nil)

	backoff := newBackoff(c.opts.InitialBackoff, c.opts.MaxBackoff)
	var disconnected time.Time
	first := true

	for ctx.Err() == nil {
		if first {
			c.logger.Info("Connecting")
			first = false
		}

		stream, err := c.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.reportError(c.opts.Name, fmt.Errorf("dial: %w", err))
			if disconnected.IsZero() {
				disconnected = c.now()
			}
			if !sleepCtx(ctx, backoff.next()) {
				return
			}
			continue
		}
		backoff.reset()

		conn := newConnection(c, stream)
		if auth := c.opts.Authentication; auth != nil {
			if err := auth.SendResponse(stream); err != nil {
				stream.Close()
				c.reportError(c.opts.Name, fmt.Errorf("authentication: %w", err))
				if !sleepCtx(ctx, backoff.next()) {
					return
				}
				continue
			}
		}

		if !c.register(ctx, conn) {
			stream.Close()
			return
		}
		c.logReconnect(disconnected)
		disconnected = time.Time{}

		select {
		case <-ctx.Done():
			conn.Close()
			return
		case <-conn.done:
		}
		disconnected = c.now()
		if !sleepCtx(ctx, c.opts.InitialBackoff) {
			return
		}
	}
}

// logReconnect reports how long the link was down
func (c *Connector) logReconnect(disconnected time.Time) {
	if disconnected.IsZero() {
		c.logger.Info("Connected")
		return
	}
	duration := c.now().Sub(disconnected)
	switch {
	case duration < 10*time.Second:
		c.logger.Infof("A connection hiccup of %.1f seconds happened", duration.Seconds())
	default:
		c.logger.Infof("Connection reestablished after %.1f minutes", duration.Minutes())
	}
}

func (c *Connector) acceptLoop(ctx context.Context) {
	defer c.wg.Done()
	defer c.recoverPanic(c.opts.Name, nil)

	backoff := newBackoff(c.opts.InitialBackoff, c.opts.MaxBackoff)
	for ctx.Err() == nil {
		ln, err := c.listen(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.reportError(c.opts.Name, fmt.Errorf("listen: %w", err))
			if !sleepCtx(ctx, backoff.next()) {
				return
			}
			continue
		}
		backoff.reset()

		c.mu.Lock()
		if ctx.Err() != nil {
			c.mu.Unlock()
			ln.Close()
			return
		}
		c.listener = ln
		c.mu.Unlock()
		c.logger.WithField("address", ln.Addr().String()).Info("Listening")

		for {
			stream, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					break
				}
				c.reportError(c.opts.Name, fmt.Errorf("accept: %w", err))
				if !sleepCtx(ctx, backoff.next()) {
					return
				}
				continue
			}
			configureTCP(stream, c.logger)

			c.wg.Add(1)
			go c.acceptConnection(ctx, newConnection(c, stream))
		}

		c.mu.Lock()
		if c.listener == ln {
			c.listener = nil
		}
		c.mu.Unlock()
	}
}

func (c *Connector) acceptConnection(ctx context.Context, conn *Connection) {
	defer c.wg.Done()
	defer c.recoverPanic(conn.component(), func() { conn.stream.Close() })

	if auth := c.opts.Authentication; auth != nil {
		if err := authenticate(conn.stream, auth); err != nil {
			c.logger.WithField("connection", conn.id).WithError(err).Warn("Rejected connection")
			conn.Close()
			return
		}
	}
	if !c.register(ctx, conn) {
		conn.stream.Close()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
