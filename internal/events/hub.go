// Package events fans engine state changes out to live subscribers (the SSE
// endpoint) and keeps a short history for clients that connect late.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Step state change event types.
const (
	StepInFlight    = "step.in_flight"
	StepReady       = "step.ready"
	StepFailed      = "step.failed"
	StepWaiting     = "step.waiting"
	StepInvalidated = "step.invalidated"
)

type Event struct {
	ID      int64     `json:"id"`
	Type    string    `json:"type"`
	StepID  string    `json:"step_id,omitempty"`
	Session string    `json:"session,omitempty"`
	At      time.Time `json:"at"`
	Data    []byte    `json:"data"` // JSON payload
}

// Matches reports whether ev belongs to session. The empty session matches
// every event.
func (ev Event) Matches(session string) bool {
	return session == "" || ev.Session == session
}

// Publisher is what the engine needs from a hub.
type Publisher interface {
	Publish(eventType, session, stepID string, data any)
}

type subscriber struct {
	session string
	ch      chan Event
}

// Hub is an in-memory pub/sub. Publishing never blocks: a subscriber whose
// buffer is full misses the event and can catch up from History.
type Hub struct {
	now func() time.Time

	mu      sync.Mutex
	lastID  int64
	history []Event // oldest first, at most limit entries
	limit   int
	subs    map[*subscriber]struct{}
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		now:     time.Now,
		history: make([]Event, 0, capacity),
		limit:   capacity,
		subs:    make(map[*subscriber]struct{}),
	}
}

func (h *Hub) Publish(eventType, session, stepID string, data any) {
	payload := []byte("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastID++
	ev := Event{
		ID:      h.lastID,
		Type:    eventType,
		StepID:  stepID,
		Session: session,
		At:      h.now().UTC(),
		Data:    payload,
	}

	if len(h.history) == h.limit {
		copy(h.history, h.history[1:])
		h.history = h.history[:h.limit-1]
	}
	h.history = append(h.history, ev)

	for sub := range h.subs {
		if !ev.Matches(sub.session) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Subscribe registers a live listener for session ("" for all sessions).
// The returned cancel func closes the channel and may be called twice.
func (h *Hub) Subscribe(session string) (<-chan Event, func()) {
	sub := &subscriber{session: session, ch: make(chan Event, 128)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			close(sub.ch)
			h.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// History returns retained events for session with ID > afterID, oldest
// first.
func (h *Hub) History(afterID int64, session string) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, len(h.history))
	for _, ev := range h.history {
		if ev.ID > afterID && ev.Matches(session) {
			out = append(out, ev)
		}
	}
	return out
}
