package connector

import (
	"sync"
	"time"
)

// Status is the lifecycle state of a Connection
type Status int

const (
	StatusConnecting Status = iota
	StatusConnected
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusClosed:
		return "closed"
	}
	return "unknown"
}

// EventType identifies a lifecycle event
type EventType int

const (
	EventConnectionEstablished EventType = iota
	EventConnectionStateChanged
	EventConnectionClosed
)

func (e EventType) String() string {
	switch e {
	case EventConnectionEstablished:
		return "established"
	case EventConnectionStateChanged:
		return "state changed"
	case EventConnectionClosed:
		return "closed"
	}
	return "unknown"
}

// Event describes a change to one Connection of a Connector
type Event struct {
	Type       EventType
	Connector  string
	Connection *Connection
	Status     Status
	Time       time.Time
}

// BackgroundError is a fault caught in connect, read or write work
type BackgroundError struct {
	Time time.Time
	// Component is the connector name, suffixed with the connection ID
	// when the fault belongs to a single connection
	Component string
	Err       error
}

// Observer receives connector events. Calls are made from the connector's
// background goroutines and must not block for long.
type Observer interface {
	ConnectionEvent(Event)
	BackgroundError(BackgroundError)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnEvent func(Event)
	OnError func(BackgroundError)
}

func (o ObserverFuncs) ConnectionEvent(e Event) {
	if o.OnEvent != nil {
		o.OnEvent(e)
	}
}

func (o ObserverFuncs) BackgroundError(e BackgroundError) {
	if o.OnError != nil {
		o.OnError(e)
	}
}

type observers struct {
	mu   sync.RWMutex
	list []Observer
}

func (o *observers) add(obs Observer) {
	o.mu.Lock()
	o.list = append(o.list, obs)
	o.mu.Unlock()
}

func (o *observers) snapshot() []Observer {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.list
}

func (o *observers) event(e Event) {
	for _, obs := range o.snapshot() {
		obs.ConnectionEvent(e)
	}
}

func (o *observers) err(e BackgroundError) {
	for _, obs := range o.snapshot() {
		obs.BackgroundError(e)
	}
}
