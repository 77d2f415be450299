// internal/poller/events.go
package poller

import (
	"sync"
	"time"

	"release-tracker/internal/model"
)

// EventType labels the kinds of engine events observers can receive.
type EventType string

const (
	// EventStateChanged fires when the engine enters or leaves Running.
	EventStateChanged EventType = "state_changed"
	// EventUpdateDetected fires once per newly persisted update.
	EventUpdateDetected EventType = "update_detected"
	// EventCycleCompleted fires after every poll cycle, manual or scheduled.
	EventCycleCompleted EventType = "cycle_completed"
)

// Event is a push notification from the engine. The payload field matching
// the type is set; the others are nil.
type Event struct {
	Type    EventType             `json:"type"`
	Time    time.Time             `json:"time"`
	Running *bool                 `json:"running,omitempty"`
	Update  *model.DetectedUpdate `json:"update,omitempty"`
	Cycle   *model.CycleResult    `json:"cycle,omitempty"`
}

// subscriberBuffer is the per-subscriber channel capacity. A consumer that
// falls this far behind starts losing events instead of stalling the engine.
const subscriberBuffer = 100

type hub struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[chan Event]struct{})}
}

func (h *hub) subscribe() chan Event {
	ch := make(chan Event, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *hub) unsubscribe(ch chan Event) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

func (h *hub) publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			// Subscriber buffer is full; drop rather than block.
		}
	}
}
