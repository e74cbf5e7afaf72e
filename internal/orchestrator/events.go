// Package orchestrator drives the two coupled Sender/Receiver state
// machines (spec §4.7) that tie the crypto, BLE, P2P, and transfer
// packages into one end-to-end send or receive.
package orchestrator

import (
	"sync"

	"github.com/catshare/engine/internal/engineerr"
)

// LogLevel mirrors zerolog's level names for events surfaced to
// front-ends that have no direct access to the process log.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// EventKind discriminates the Event union.
type EventKind string

const (
	EventLog          EventKind = "log"
	EventStateChanged EventKind = "stateChanged"
	EventDeviceFound  EventKind = "deviceFound"
	EventProgress     EventKind = "progress"
	EventError        EventKind = "error"
)

// Event is the single shape published on an orchestrator's event
// stream; Kind identifies which of the other fields is populated.
type Event struct {
	Kind EventKind

	Log          LogEvent
	StateChanged SessionState
	DeviceFound  DeviceFoundEvent
	Progress     ProgressEvent
	Error        ErrorEvent
}

// LogEvent is a human-readable line meant for a front-end status panel.
type LogEvent struct {
	Level LogLevel
	Text  string
}

// DeviceFoundEvent reports one scan hit during receiver discovery.
type DeviceFoundEvent struct {
	MAC          string
	Name         string
	BrandID      uint16
	RSSI         int
	Supports5GHz bool
}

// ProgressEvent reports transfer progress. Sender and Receiver fill in
// Bytes and Total only; SpeedBps and EtaSec are never computed and are
// always zero.
type ProgressEvent struct {
	Bytes    int64
	Total    int64
	SpeedBps float64
	EtaSec   float64
}

// ErrorEvent surfaces a closed engineerr.Kind plus message to callers
// that have no reason to depend on internal/engineerr directly.
type ErrorEvent struct {
	Kind    engineerr.Kind
	Message string
}

// eventBus fans published events out to subscribers. A subscriber only
// receives events published after it subscribes (spec §4.7: "new
// subscribers receive subsequent events only").
type eventBus struct {
	mu     sync.Mutex
	subs   []chan Event
	closed bool
}

func newEventBus() *eventBus {
	return &eventBus{}
}

// subscribe registers a new consumer and returns a receive-only channel
// of events published from this point forward. The channel is closed
// when the bus itself is closed.
func (b *eventBus) subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, 64)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// publish delivers ev to every current subscriber. A slow subscriber
// whose buffer is full has the event dropped for it rather than
// blocking the publisher — the stream is best-effort, not a queue the
// orchestrator depends on for its own correctness.
func (b *eventBus) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// close shuts the bus down, closing every subscriber channel.
func (b *eventBus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}

func (b *eventBus) logf(level LogLevel, text string) {
	b.publish(Event{Kind: EventLog, Log: LogEvent{Level: level, Text: text}})
}

func (b *eventBus) stateChanged(s SessionState) {
	b.publish(Event{Kind: EventStateChanged, StateChanged: s})
}

func (b *eventBus) deviceFound(d DeviceFoundEvent) {
	b.publish(Event{Kind: EventDeviceFound, DeviceFound: d})
}

func (b *eventBus) progress(p ProgressEvent) {
	b.publish(Event{Kind: EventProgress, Progress: p})
}

func (b *eventBus) errorf(kind engineerr.Kind, message string) {
	b.publish(Event{Kind: EventError, Error: ErrorEvent{Kind: kind, Message: message}})
}
