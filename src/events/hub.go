package events

import (
	"sync"
	"time"

	logger "github.com/sirupsen/logrus"
)

const (
	TypeAccepted           = "accepted"
	TypeClaimed            = "claimed"
	TypeExecuted           = "executed"
	TypeFailed             = "failed"
	TypeStale              = "stale"
	TypeInvariantViolation = "invariant_violation"
)

// Event is one signal lifecycle transition.
type Event struct {
	Type      string    `json:"type"`
	SignalID  uint      `json:"signal_id"`
	UserID    uint      `json:"user_id"`
	AccountID *uint     `json:"broker_account_id,omitempty"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	WorkerID  string    `json:"worker_id,omitempty"`
	At        time.Time `json:"at"`
}

// Hub fans events out to subscribers. Publish never blocks: a subscriber whose
// buffer is full misses the event.
type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	buffer int
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{subs: make(map[int]chan Event), buffer: buffer}
}

// Publish delivers e to every subscriber. A nil hub is a no-op.
func (h *Hub) Publish(e Event) {
	if h == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.subs {
		select {
		case ch <- e:
		default:
			logger.WithFields(map[string]interface{}{
				"subscriber": id,
				"signal_id":  e.SignalID,
				"type":       e.Type,
			}).Warn("Event subscriber lagging, dropping event")
		}
	}
}

// Subscribe returns a channel of events and a function that ends the subscription
// and closes the channel.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan Event, h.buffer)
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the current subscriber count.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
