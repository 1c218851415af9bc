package connector

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	ErrConnectionClosed    = errors.New("connection closed")
	ErrConnectionAbandoned = errors.New("connection abandoned")
	ErrReadInProgress      = errors.New("read already in progress")
)

// ReadCallback receives the bytes of a completed read. n is zero when the
// connection has closed.
type ReadCallback func(c *Connection, buf []byte, n int)

type readRequest struct {
	buf      []byte
	callback ReadCallback
}

type queuedWrite struct {
	data     []byte
	queued   time.Time
	deadline time.Duration
}

// Connection is one byte stream endpoint. Reads and writes are serviced by
// a reader and a writer goroutine, calls never block on I/O.
type Connection struct {
	id      uuid.UUID
	created time.Time
	owner   *Connector
	stream  io.ReadWriteCloser

	staleTimeout time.Duration
	now          func() time.Time

	status    atomic.Int32
	abandoned atomic.Bool

	bytesRead      atomic.Uint64
	bytesWritten   atomic.Uint64
	staleDiscarded atomic.Uint64

	readPending atomic.Bool
	reads       chan readRequest

	writeMu     sync.Mutex
	writeQueue  []queuedWrite
	writeSignal chan struct{}

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newConnection(owner *Connector, stream io.ReadWriteCloser) *Connection {
	c := &Connection{
		id:           uuid.New(),
		created:      owner.now(),
		owner:        owner,
		stream:       stream,
		staleTimeout: owner.opts.StaleTimeout,
		now:          owner.now,
		reads:        make(chan readRequest, 1),
		writeSignal:  make(chan struct{}, 1),
		done:         make(chan struct{}),
	}
	c.status.Store(int32(StatusConnecting))
	return c
}

// start launches the reader and writer
func (c *Connection) start() {
	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
}

// ID uniquely identifies the connection
func (c *Connection) ID() uuid.UUID { return c.id }

// Created is when the underlying stream was opened or accepted
func (c *Connection) Created() time.Time { return c.created }

// Status returns the current lifecycle state
func (c *Connection) Status() Status { return Status(c.status.Load()) }

// BytesRead returns the number of bytes read so far
func (c *Connection) BytesRead() uint64 { return c.bytesRead.Load() }

// BytesWritten returns the number of bytes sent so far
func (c *Connection) BytesWritten() uint64 { return c.bytesWritten.Load() }

// StaleBytesDiscarded returns the number of queued bytes dropped because
// they waited longer than their stale timeout
func (c *Connection) StaleBytesDiscarded() uint64 { return c.staleDiscarded.Load() }

// Connector returns the connector that owns the connection
func (c *Connection) Connector() *Connector { return c.owner }

func (c *Connection) usable() error {
	if c.abandoned.Load() {
		return ErrConnectionAbandoned
	}
	if c.Status() == StatusClosed {
		return ErrConnectionClosed
	}
	return nil
}

// Read asks for the next chunk of data to be read into buf. callback runs
// on the reader goroutine once data arrives, and may issue the next Read.
// Only one read can be outstanding.
func (c *Connection) Read(buf []byte, callback ReadCallback) error {
	if err := c.usable(); err != nil {
		return err
	}
	if len(buf) == 0 || callback == nil {
		return fmt.Errorf("read needs a buffer and a callback")
	}
	if !c.readPending.CompareAndSwap(false, true) {
		return ErrReadInProgress
	}
	c.reads <- readRequest{buf: buf, callback: callback}
	return nil
}

// Write queues a copy of data using the connection's default stale timeout
func (c *Connection) Write(data []byte) error {
	return c.WriteWithTimeout(data, c.staleTimeout)
}

// WriteWithTimeout queues a copy of data. If the data is still queued
// staleTimeout after this call it is discarded rather than sent.
func (c *Connection) WriteWithTimeout(data []byte, staleTimeout time.Duration) error {
	if err := c.usable(); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}

	c.writeMu.Lock()
	c.writeQueue = append(c.writeQueue, queuedWrite{
		data:     append([]byte(nil), data...),
		queued:   c.now(),
		deadline: staleTimeout,
	})
	c.writeMu.Unlock()

	select {
	case c.writeSignal <- struct{}{}:
	default:
	}
	return nil
}

// Close shuts the stream down. It does not wait for the reader and writer
// goroutines, so it is safe to call from a read callback.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.setStatus(StatusClosed)
		close(c.done)
		if err := c.stream.Close(); err != nil {
			c.owner.logger.WithError(err).WithField("connection", c.id).Debug("Error closing stream")
		}
		c.owner.connectionClosed(c)
	})
}

// Abandon closes the connection permanently, every later call fails with
// ErrConnectionAbandoned
func (c *Connection) Abandon() {
	c.abandoned.Store(true)
	c.Close()
}

func (c *Connection) setStatus(s Status) {
	if Status(c.status.Swap(int32(s))) == s {
		return
	}
	c.owner.events.event(Event{
		Type:       EventConnectionStateChanged,
		Connector:  c.owner.opts.Name,
		Connection: c,
		Status:     s,
		Time:       c.now(),
	})
}

func (c *Connection) component() string {
	return fmt.Sprintf("%s/%s", c.owner.opts.Name, c.id)
}

func (c *Connection) readLoop() {
	defer c.wg.Done()
	defer c.owner.recoverPanic(c.component(), c.Close)

	for {
		var req readRequest
		select {
		case <-c.done:
			return
		case req = <-c.reads:
		}

		for {
			n, err := c.stream.Read(req.buf)
			if n > 0 {
				c.bytesRead.Add(uint64(n))
				c.owner.bytesRead.Add(uint64(n))
				c.readPending.Store(false)
				req.callback(c, req.buf, n)
				break
			}
			if err != nil {
				if !errors.Is(err, io.EOF) && c.Status() != StatusClosed {
					c.owner.reportError(c.component(), fmt.Errorf("read: %w", err))
				}
				c.Close()
				c.readPending.Store(false)
				req.callback(c, req.buf, 0)
				return
			}
			// Serial ports return nothing on read timeouts
			select {
			case <-c.done:
				c.readPending.Store(false)
				req.callback(c, req.buf, 0)
				return
			default:
			}
		}
	}
}

func (c *Connection) writeLoop() {
	defer c.wg.Done()
	defer c.owner.recoverPanic(c.component(), c.Close)

	for {
		select {
		case <-c.done:
			return
		case <-c.writeSignal:
		}

		for {
			c.writeMu.Lock()
			if len(c.writeQueue) == 0 {
				c.writeMu.Unlock()
				break
			}
			w := c.writeQueue[0]
			c.writeQueue = c.writeQueue[1:]
			c.writeMu.Unlock()

			if c.now().Sub(w.queued) > w.deadline {
				c.staleDiscarded.Add(uint64(len(w.data)))
				c.owner.staleDiscarded.Add(uint64(len(w.data)))
				continue
			}

			n, err := c.stream.Write(w.data)
			c.bytesWritten.Add(uint64(n))
			c.owner.bytesWritten.Add(uint64(n))
			if err != nil {
				if c.Status() != StatusClosed {
					c.owner.reportError(c.component(), fmt.Errorf("write: %w", err))
				}
				c.Close()
				return
			}
		}
	}
}
