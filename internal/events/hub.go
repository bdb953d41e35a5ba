// Package events is the panel's in-process activity feed. Control actions
// and configuration edits are published here and streamed to watchers.
package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the panel.
const (
	BotStarted       = "bot.started"
	BotStopped       = "bot.stopped"
	BotRestarted     = "bot.restarted"
	BotControlFailed = "bot.control_failed"
	BotExited        = "bot.exited"
	RuleCreated      = "rule.created"
	RuleUpdated      = "rule.updated"
	RuleDeleted      = "rule.deleted"
	SettingsUpdated  = "settings.updated"
)

// DefaultCapacity is the ring size used when none is given.
const DefaultCapacity = 100

type Event struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Hub is an in-memory pub/sub with a small ring buffer for late clients.
type Hub struct {
	nextID atomic.Int64
	now    func() time.Time

	mu    sync.Mutex
	ring  []Event
	start int
	size  int

	subs      map[int]chan Event
	nextSubID int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Hub{
		now:  time.Now,
		ring: make([]Event, capacity),
		subs: make(map[int]chan Event),
	}
}

// Publish records an event and fans it out. data is marshalled to JSON; a
// nil or unmarshalable value becomes an empty object.
func (h *Hub) Publish(eventType string, data any) Event {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	ev := Event{
		ID:   h.nextID.Add(1),
		Type: eventType,
		At:   h.now().UTC(),
		Data: payload,
	}
	h.pushLocked(ev)
	for _, ch := range h.subs {
		// Slow subscribers drop events rather than block the publisher.
		select {
		case ch <- ev:
		default:
		}
	}
	return ev
}

// Subscribe returns a channel of future events and a cancel func that closes
// it. Cancel is safe to call more than once.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Event, 64)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// SnapshotSince returns buffered events with ID > lastID, oldest-first.
// If lastID is 0, the full ring buffer snapshot is returned.
func (h *Hub) SnapshotSince(lastID int64) []Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Event, 0, h.size)
	for i := 0; i < h.size; i++ {
		ev := h.ring[(h.start+i)%len(h.ring)]
		if lastID == 0 || ev.ID > lastID {
			out = append(out, ev)
		}
	}
	return out
}

// LatestID returns the id of the most recently published event, or 0.
func (h *Hub) LatestID() int64 {
	return h.nextID.Load()
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) pushLocked(ev Event) {
	capacity := len(h.ring)
	if h.size < capacity {
		h.ring[(h.start+h.size)%capacity] = ev
		h.size++
		return
	}
	// Overwrite oldest.
	h.ring[h.start] = ev
	h.start = (h.start + 1) % capacity
}
