package watcher

import (
	"sync"

	"github.com/sirupsen/logrus"

	"lid-inspector/internal/domain"
)

type EventType string

const (
	EventInspection EventType = "inspection"
	EventCleared    EventType = "cleared"
	EventSettings   EventType = "settings"
)

// Event is pushed to subscribers whenever the operator view changes.
type Event struct {
	Type       EventType
	Inspection *domain.Inspection
	Counters   domain.Counters
	Settings   domain.Settings
}

const subscriberBuffer = 16

type hub struct {
	logger *logrus.Logger

	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
	closed bool
}

func newHub(logger *logrus.Logger) *hub {
	return &hub{logger: logger, subs: make(map[int]chan Event)}
}

func (h *hub) subscribe() (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Event, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// publish never blocks; a subscriber that falls behind misses events.
func (h *hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subs {
		select {
		case ch <- ev:
		default:
			h.logger.Debugf("subscriber %d lagging, dropped %s event", id, ev.Type)
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
