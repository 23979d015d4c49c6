package engine

import "time"

// EventKind names what changed.
type EventKind string

const (
	EventAdded      EventKind = "added"
	EventRemoved    EventKind = "removed"
	EventChanged    EventKind = "changed"
	EventStatus     EventKind = "status"
	EventOffline    EventKind = "offline"
	EventView       EventKind = "view"
	EventSelection  EventKind = "selection"
	EventSaved      EventKind = "saved"
	EventSaveFailed EventKind = "save_failed"
)

// Event is published to subscribers after the engine changes state.
type Event struct {
	Kind     EventKind `json:"kind"`
	EntityID string    `json:"entity_id,omitempty"`
	Source   string    `json:"source,omitempty"`
	Status   string    `json:"status,omitempty"`
	Error    string    `json:"error,omitempty"`
	Time     time.Time `json:"time"`
}

// Subscribe returns a channel of engine events. Slow subscribers miss
// events rather than stall the engine. The channel is closed by Unsubscribe
// or when the engine stops.
func (e *Engine) Subscribe() chan Event {
	ch := make(chan Event, 32)
	e.listenersMu.Lock()
	if e.closed {
		close(ch)
	} else {
		e.listeners[ch] = struct{}{}
	}
	e.listenersMu.Unlock()
	return ch
}

// Unsubscribe removes a listener and closes its channel.
func (e *Engine) Unsubscribe(ch chan Event) {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()

	if _, ok := e.listeners[ch]; ok {
		delete(e.listeners, ch)
		close(ch)
	}
}

func (e *Engine) emit(ev Event) {
	ev.Time = e.opts.Clock.Now()

	e.listenersMu.RLock()
	defer e.listenersMu.RUnlock()
	for ch := range e.listeners {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (e *Engine) closeListeners() {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()

	for ch := range e.listeners {
		close(ch)
	}
	e.listeners = make(map[chan Event]struct{})
	e.closed = true
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
