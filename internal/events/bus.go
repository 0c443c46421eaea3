// Package events provides a small in-process publish/subscribe bus used to
// notify the HTTP layer (SSE stream, status monitor) of state changes inside
// the running competition without coupling it to the scheduler or memstore.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EventType identifies the kind of event carried by an Event.
type EventType string

const (
	// DayAdvanced fires once the scheduler finishes one trade date for every agent.
	DayAdvanced EventType = "DAY_ADVANCED"
	// TradeExecuted fires on every recorded buy or sell.
	TradeExecuted EventType = "TRADE_EXECUTED"
	// AgentNodeFailed fires when a pipeline node returns a non-nil error for an agent/date.
	AgentNodeFailed EventType = "AGENT_NODE_FAILED"
	// ReflectionRecorded fires when an agent's periodic reflection has been persisted.
	ReflectionRecorded EventType = "REFLECTION_RECORDED"
	// SessionStatusChanged fires when a session transitions running/completed/aborted.
	SessionStatusChanged EventType = "SESSION_STATUS_CHANGED"
	// ProgressChanged fires when the status monitor's periodic check sees the
	// current date or session status change.
	ProgressChanged EventType = "PROGRESS_CHANGED"
	// ErrorOccurred fires for any ArenaError surfaced above the node boundary.
	ErrorOccurred EventType = "ERROR_OCCURRED"
	// LogFileChanged fires when the log tail watcher observes new bytes.
	LogFileChanged EventType = "LOG_FILE_CHANGED"
)

// Event is one occurrence on the bus.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Module    string                 `json:"module"`
	Data      map[string]interface{} `json:"data"`
}

type subscriber struct {
	eventType EventType
	handler   func(*Event)
}

// Bus is a synchronous fan-out publisher. Handlers run on the emitting
// goroutine; a slow handler is the caller's problem, so SSE fan-out uses a
// buffered channel handler rather than blocking work.
type Bus struct {
	mu   sync.RWMutex
	subs []subscriber
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers handler to run for every event of the given type.
// Returns an unsubscribe function.
func (b *Bus) Subscribe(eventType EventType, handler func(*Event)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := len(b.subs)
	b.subs = append(b.subs, subscriber{eventType: eventType, handler: handler})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if id < len(b.subs) {
			b.subs[id].handler = nil
			b.subs[id].eventType = ""
		}
	}
}

// Emit publishes an event to every matching subscriber.
func (b *Bus) Emit(eventType EventType, module string, data map[string]interface{}) {
	event := &Event{Type: eventType, Timestamp: time.Now(), Module: module, Data: data}
	b.mu.RLock()
	handlers := make([]func(*Event), 0, len(b.subs))
	for _, s := range b.subs {
		if s.eventType == eventType {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(event)
	}
}

// Manager wraps a Bus with structured logging of every emission, matching
// the competition's append-only audit trail for operational events (as
// distinct from the domain's own session/trade/daily-asset tables).
type Manager struct {
	bus *Bus
	log zerolog.Logger
}

// NewManager constructs a logging wrapper around bus.
func NewManager(bus *Bus, log zerolog.Logger) *Manager {
	return &Manager{bus: bus, log: log.With().Str("component", "events").Logger()}
}

// Emit publishes and logs an event.
func (m *Manager) Emit(eventType EventType, module string, data map[string]interface{}) {
	m.bus.Emit(eventType, module, data)
	eventJSON, _ := json.Marshal(data)
	m.log.Debug().
		Str("event_type", string(eventType)).
		Str("module", module).
		RawJSON("data", eventJSON).
		Msg("event emitted")
}

// EmitError emits an ErrorOccurred event carrying the error's message and op context.
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	data := map[string]interface{}{"error": err.Error()}
	for k, v := range context {
		data[k] = v
	}
	m.Emit(ErrorOccurred, module, data)
}
