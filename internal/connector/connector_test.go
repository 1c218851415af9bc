package connector

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/saviobatista/modes-feed/internal/testutils"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []Event
	errors []BackgroundError
}

func (r *eventRecorder) ConnectionEvent(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) BackgroundError(e BackgroundError) {
	r.mu.Lock()
	r.errors = append(r.errors, e)
	r.mu.Unlock()
}

func (r *eventRecorder) count(t EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (r *eventRecorder) errorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errors)
}

func startPassive(t *testing.T, opts Options) (*Connector, string) {
	t.Helper()
	c := NewPassive(TCPListener("127.0.0.1:0"), opts)
	c.EstablishConnection()
	t.Cleanup(c.CloseConnection)

	if err := testutils.WaitForCondition(func() bool { return c.ListenAddr() != nil }, 2*time.Second); err != nil {
		t.Fatal("Passive connector never started listening")
	}
	return c, c.ListenAddr().String()
}

// collect reads from conn until want bytes have arrived
func collect(t *testing.T, conn *Connection, want int) string {
	t.Helper()
	var mu sync.Mutex
	var got bytes.Buffer
	var cb ReadCallback
	cb = func(conn *Connection, buf []byte, n int) {
		mu.Lock()
		got.Write(buf[:n])
		mu.Unlock()
		if n > 0 {
			_ = conn.Read(buf, cb)
		}
	}
	if err := conn.Read(make([]byte, 256), cb); err != nil {
		t.Fatalf("Read() unexpected error: %v", err)
	}
	_ = testutils.WaitForCondition(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got.Len() >= want
	}, 2*time.Second)
	mu.Lock()
	defer mu.Unlock()
	return got.String()
}

func TestConnector_ActiveToPassiveWithPassphrase(t *testing.T) {
	auth := PassphraseAuthentication{Passphrase: "secret"}
	passiveEvents := &eventRecorder{}
	passive, addr := startPassive(t, Options{Name: "passive", Authentication: auth})
	passive.AddObserver(passiveEvents)

	active := NewActive(TCPDialer(addr, time.Second), Options{Name: "active", Authentication: auth})
	active.EstablishConnection()
	defer active.CloseConnection()

	err := testutils.WaitForCondition(func() bool {
		return len(passive.Connections()) == 1 && len(active.Connections()) == 1
	}, 2*time.Second)
	if err != nil {
		t.Fatalf("Expected one connection each side, got %d/%d", len(passive.Connections()), len(active.Connections()))
	}

	if err := active.Connections()[0].Write([]byte("*8D4840D6202CC371C32CE0576098;\n")); err != nil {
		t.Fatalf("Write() unexpected error: %v", err)
	}
	got := collect(t, passive.Connections()[0], 31)
	if got != "*8D4840D6202CC371C32CE0576098;\n" {
		t.Errorf("Expected frame without passphrase bytes, got %q", got)
	}
	if passiveEvents.count(EventConnectionEstablished) != 1 {
		t.Errorf("Expected one established event, got %d", passiveEvents.count(EventConnectionEstablished))
	}

	active.CloseConnection()
	if len(active.Connections()) != 0 {
		t.Errorf("Expected active connections to be closed, got %d", len(active.Connections()))
	}
	if active.BytesWritten() != 31 {
		t.Errorf("Expected 31 bytes written, got %d", active.BytesWritten())
	}
}

func TestConnector_PassiveRejectsBadPassphrase(t *testing.T) {
	events := &eventRecorder{}
	passive, addr := startPassive(t, Options{Name: "passive", Authentication: PassphraseAuthentication{Passphrase: "secret"}})
	passive.AddObserver(events)

	tests := []string{"wrong\n", "far too long a passphrase\n"}
	for _, response := range tests {
		client, err := net.Dial("tcp", addr)
		if err != nil {
			t.Fatalf("Dial() unexpected error: %v", err)
		}
		_, _ = io.WriteString(client, response)

		// The passive side closes the socket
		_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, err := client.Read(make([]byte, 1)); err == nil {
			t.Errorf("Expected %q to be rejected", response)
		}
		client.Close()
	}

	if err := testutils.WaitForCondition(func() bool { return events.count(EventConnectionClosed) == 2 }, 2*time.Second); err != nil {
		t.Errorf("Expected two closed events, got %d", events.count(EventConnectionClosed))
	}
	if events.count(EventConnectionEstablished) != 0 {
		t.Error("Expected no connection to be established")
	}
	if len(passive.Connections()) != 0 {
		t.Errorf("Expected no connections, got %d", len(passive.Connections()))
	}
}

func TestConnector_SingleConnection(t *testing.T) {
	passive, addr := startPassive(t, Options{Name: "passive", IsSingleConnection: true})

	first, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial() unexpected error: %v", err)
	}
	defer first.Close()
	if err := testutils.WaitForCondition(func() bool { return len(passive.Connections()) == 1 }, 2*time.Second); err != nil {
		t.Fatal("First connection never accepted")
	}
	original := passive.Connections()[0]

	second, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial() unexpected error: %v", err)
	}
	defer second.Close()

	err = testutils.WaitForCondition(func() bool {
		conns := passive.Connections()
		return len(conns) == 1 && conns[0] != original
	}, 2*time.Second)
	if err != nil {
		t.Fatal("Second connection never replaced the first")
	}
	if original.Status() != StatusClosed {
		t.Errorf("Expected first connection closed, got %v", original.Status())
	}
}

func TestConnector_ActiveReconnects(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() unexpected error: %v", err)
	}
	defer ln.Close()

	var accepted atomic.Int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepted.Add(1)
			conn.Close()
		}
	}()

	active := NewActive(TCPDialer(ln.Addr().String(), time.Second), Options{
		Name:           "active",
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     20 * time.Millisecond,
	})
	active.AddObserver(ObserverFuncs{OnEvent: func(e Event) {
		if e.Type == EventConnectionEstablished {
			// Reading notices the remote close
			_ = e.Connection.Read(make([]byte, 16), func(*Connection, []byte, int) {})
		}
	}})
	active.EstablishConnection()
	defer active.CloseConnection()

	if err := testutils.WaitForCondition(func() bool { return accepted.Load() >= 3 }, 3*time.Second); err != nil {
		t.Errorf("Expected repeated reconnects, got %d", accepted.Load())
	}
}

func TestConnector_DialErrorsAreReported(t *testing.T) {
	events := &eventRecorder{}
	dialErr := errors.New("no route")
	active := NewActive(func(ctx context.Context) (io.ReadWriteCloser, error) {
		return nil, dialErr
	}, Options{Name: "receiver", InitialBackoff: 5 * time.Millisecond, MaxBackoff: 10 * time.Millisecond})
	active.AddObserver(events)
	active.EstablishConnection()

	if err := testutils.WaitForCondition(func() bool { return events.errorCount() >= 2 }, 2*time.Second); err != nil {
		t.Fatalf("Expected background errors, got %d", events.errorCount())
	}

	done := make(chan struct{})
	go func() {
		active.CloseConnection()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("CloseConnection() did not return")
	}

	events.mu.Lock()
	defer events.mu.Unlock()
	first := events.errors[0]
	if first.Component != "receiver" || !errors.Is(first.Err, dialErr) {
		t.Errorf("Unexpected background error %+v", first)
	}
}

func TestPassphraseAuthentication(t *testing.T) {
	auth := PassphraseAuthentication{Passphrase: "secret"}

	var sent strings.Builder
	if err := auth.SendResponse(&sent); err != nil {
		t.Fatalf("SendResponse() unexpected error: %v", err)
	}
	if sent.String() != "secret\n" {
		t.Errorf("Expected secret\\n, got %q", sent.String())
	}

	tests := []struct {
		response string
		complete bool
		valid    bool
	}{
		{"secret\n", true, true},
		{"secret\r\n", true, true},
		{"secr", false, false},
		{"Secret\n", true, false},
	}
	for _, tt := range tests {
		if got := auth.ResponseIsComplete([]byte(tt.response)); got != tt.complete {
			t.Errorf("ResponseIsComplete(%q) = %v, expected %v", tt.response, got, tt.complete)
		}
		if got := auth.ResponseIsValid([]byte(tt.response)); got != tt.valid {
			t.Errorf("ResponseIsValid(%q) = %v, expected %v", tt.response, got, tt.valid)
		}
	}
	if auth.MaximumResponseLength() != 8 {
		t.Errorf("Expected maximum length 8, got %d", auth.MaximumResponseLength())
	}
}
