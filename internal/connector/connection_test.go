package connector

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/saviobatista/modes-feed/internal/testutils"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// blockingStream holds its first write until release is closed
type blockingStream struct {
	mu      sync.Mutex
	written bytes.Buffer

	writes   atomic.Int32
	started  chan struct{}
	release  chan struct{}
	closed   chan struct{}
	closeOne sync.Once
}

func newBlockingStream() *blockingStream {
	return &blockingStream{
		started: make(chan struct{}),
		release: make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

func (s *blockingStream) Read(p []byte) (int, error) {
	<-s.closed
	return 0, io.EOF
}

func (s *blockingStream) Write(p []byte) (int, error) {
	if s.writes.Add(1) == 1 {
		close(s.started)
		<-s.release
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written.Write(p)
}

func (s *blockingStream) Close() error {
	s.closeOne.Do(func() { close(s.closed) })
	return nil
}

func (s *blockingStream) Written() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written.String()
}

func startConnection(t *testing.T, c *Connector, stream io.ReadWriteCloser) *Connection {
	t.Helper()
	conn := newConnection(c, stream)
	if !c.register(context.Background(), conn) {
		t.Fatal("register() refused the connection")
	}
	t.Cleanup(c.CloseConnection)
	return conn
}

func TestConnection_StaleWriteDiscarded(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)}
	c := NewActive(nil, Options{Name: "test", Now: clock.Now})
	stream := newBlockingStream()
	conn := startConnection(t, c, stream)

	if err := conn.Write([]byte("first")); err != nil {
		t.Fatalf("Write() unexpected error: %v", err)
	}
	<-stream.started

	if err := conn.WriteWithTimeout([]byte("stale"), 0); err != nil {
		t.Fatalf("WriteWithTimeout() unexpected error: %v", err)
	}
	clock.Advance(time.Millisecond)
	close(stream.release)

	err := testutils.WaitForCondition(func() bool { return conn.StaleBytesDiscarded() == 5 }, 2*time.Second)
	if err != nil {
		t.Fatalf("Expected 5 stale bytes, got %d", conn.StaleBytesDiscarded())
	}

	if err := conn.Write([]byte("fresh")); err != nil {
		t.Fatalf("Write() unexpected error: %v", err)
	}
	err = testutils.WaitForCondition(func() bool { return stream.Written() == "firstfresh" }, 2*time.Second)
	if err != nil {
		t.Errorf("Expected firstfresh on the wire, got %q", stream.Written())
	}
	if conn.BytesWritten() != 10 || c.BytesWritten() != 10 {
		t.Errorf("Expected 10 bytes written, got %d/%d", conn.BytesWritten(), c.BytesWritten())
	}
	if c.StaleBytesDiscarded() != 5 {
		t.Errorf("Expected connector stale count 5, got %d", c.StaleBytesDiscarded())
	}
}

func TestConnection_ReadAndOrderlyClose(t *testing.T) {
	var closedEvents atomic.Int32
	c := NewActive(nil, Options{Name: "test"})
	c.AddObserver(ObserverFuncs{OnEvent: func(e Event) {
		if e.Type == EventConnectionClosed {
			closedEvents.Add(1)
		}
	}})

	client, server := net.Pipe()
	conn := startConnection(t, c, server)
	if conn.Status() != StatusConnected {
		t.Errorf("Expected connected, got %v", conn.Status())
	}

	results := make(chan []byte, 4)
	var cb ReadCallback
	cb = func(conn *Connection, buf []byte, n int) {
		results <- append([]byte(nil), buf[:n]...)
		if n > 0 {
			if err := conn.Read(buf, cb); err != nil {
				t.Errorf("Read() unexpected error: %v", err)
			}
		}
	}
	if err := conn.Read(make([]byte, 64), cb); err != nil {
		t.Fatalf("Read() unexpected error: %v", err)
	}
	if err := conn.Read(make([]byte, 64), cb); !errors.Is(err, ErrReadInProgress) {
		t.Errorf("Expected ErrReadInProgress, got %v", err)
	}

	go client.Write([]byte("hello"))
	if got := <-results; string(got) != "hello" {
		t.Errorf("Expected hello, got %q", got)
	}
	if conn.BytesRead() != 5 {
		t.Errorf("Expected 5 bytes read, got %d", conn.BytesRead())
	}

	client.Close()
	if got := <-results; len(got) != 0 {
		t.Errorf("Expected zero length read on close, got %q", got)
	}
	if conn.Status() != StatusClosed {
		t.Errorf("Expected closed, got %v", conn.Status())
	}

	conn.Close()
	if n := closedEvents.Load(); n != 1 {
		t.Errorf("Expected one closed event, got %d", n)
	}
	if err := conn.Write([]byte("x")); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Expected ErrConnectionClosed, got %v", err)
	}
	if len(c.Connections()) != 0 {
		t.Errorf("Expected no connections, got %d", len(c.Connections()))
	}
}

func TestConnection_Abandon(t *testing.T) {
	c := NewActive(nil, Options{Name: "test"})
	conn := startConnection(t, c, newBlockingStream())

	conn.Abandon()
	if err := conn.Read(make([]byte, 8), func(*Connection, []byte, int) {}); !errors.Is(err, ErrConnectionAbandoned) {
		t.Errorf("Expected ErrConnectionAbandoned from Read, got %v", err)
	}
	if err := conn.Write([]byte("x")); !errors.Is(err, ErrConnectionAbandoned) {
		t.Errorf("Expected ErrConnectionAbandoned from Write, got %v", err)
	}
	if conn.Status() != StatusClosed {
		t.Errorf("Expected closed, got %v", conn.Status())
	}
}

func TestBackoff(t *testing.T) {
	b := newBackoff(time.Second, 5*time.Second)
	expected := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, want := range expected {
		if got := b.next(); got != want {
			t.Errorf("Step %d: expected %v, got %v", i, want, got)
		}
	}
	b.reset()
	if got := b.next(); got != time.Second {
		t.Errorf("Expected reset to initial delay, got %v", got)
	}
}

func TestStatusString(t *testing.T) {
	tests := map[Status]string{
		StatusConnecting: "connecting",
		StatusConnected:  "connected",
		StatusClosed:     "closed",
		Status(9):        "unknown",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("Expected %q, got %q", want, s.String())
		}
	}
}

// quietPort behaves like a serial port on Linux: a read that times out
// with no data returns io.EOF
type quietPort struct {
	data   chan []byte
	closed chan struct{}
	once   sync.Once
}

func newQuietPort() *quietPort {
	return &quietPort{data: make(chan []byte, 1), closed: make(chan struct{})}
}

func (p *quietPort) Read(b []byte) (int, error) {
	select {
	case d := <-p.data:
		return copy(b, d), nil
	case <-p.closed:
		return 0, errors.New("file already closed")
	case <-time.After(5 * time.Millisecond):
		return 0, io.EOF
	}
}

func (p *quietPort) Write(b []byte) (int, error) { return len(b), nil }

func (p *quietPort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func TestConnection_QuietSerialPortStaysOpen(t *testing.T) {
	var closedEvents atomic.Int32
	c := NewActive(nil, Options{Name: "serial"})
	c.AddObserver(ObserverFuncs{OnEvent: func(e Event) {
		if e.Type == EventConnectionClosed {
			closedEvents.Add(1)
		}
	}})

	port := newQuietPort()
	conn := startConnection(t, c, serialStream{port})

	results := make(chan []byte, 1)
	if err := conn.Read(make([]byte, 64), func(_ *Connection, buf []byte, n int) {
		results <- append([]byte(nil), buf[:n]...)
	}); err != nil {
		t.Fatalf("Read() unexpected error: %v", err)
	}

	// Several read timeouts pass with no data
	time.Sleep(100 * time.Millisecond)
	if conn.Status() != StatusConnected {
		t.Errorf("Expected connected after quiet period, got %v", conn.Status())
	}
	if n := closedEvents.Load(); n != 0 {
		t.Errorf("Expected no closed events, got %d", n)
	}

	port.data <- []byte("*8D4840D6;")
	select {
	case got := <-results:
		if string(got) != "*8D4840D6;" {
			t.Errorf("Expected frame after quiet period, got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected data after quiet period")
	}
}

func TestSerialStream_PassesErrorsAndData(t *testing.T) {
	port := newQuietPort()
	s := serialStream{port}

	n, err := s.Read(make([]byte, 8))
	if n != 0 || err != nil {
		t.Errorf("Expected empty read on timeout, got %d, %v", n, err)
	}

	port.data <- []byte("abc")
	if n, err := s.Read(make([]byte, 8)); n != 3 || err != nil {
		t.Errorf("Expected 3 bytes, got %d, %v", n, err)
	}

	port.Close()
	if _, err := s.Read(make([]byte, 8)); err == nil {
		t.Error("Expected error from a closed port")
	}
}

func TestConnector_CloseWaitsForInFlightCallback(t *testing.T) {
	c := NewActive(nil, Options{Name: "test"})
	client, server := net.Pipe()
	defer client.Close()
	conn := startConnection(t, c, server)

	entered := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool
	if err := conn.Read(make([]byte, 64), func(_ *Connection, _ []byte, n int) {
		if n == 0 {
			return
		}
		close(entered)
		<-release
		finished.Store(true)
	}); err != nil {
		t.Fatalf("Read() unexpected error: %v", err)
	}

	go client.Write([]byte("hello"))
	<-entered

	closed := make(chan struct{})
	go func() {
		c.CloseConnection()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("CloseConnection() returned while a callback was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("CloseConnection() never returned")
	}
	if !finished.Load() {
		t.Error("Expected callback to finish before CloseConnection returned")
	}
}
