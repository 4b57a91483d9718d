package realtime

import (
	"errors"
	"strings"
	"sync"
)

const DefaultSubscriberBuffer = 32

// Hub fans events out to in-process subscribers by room. Delivery never
// blocks: a subscriber whose buffer is full misses the event and is expected
// to refetch on its own schedule.
type Hub struct {
	mu               sync.RWMutex
	rooms            map[string]*room
	nextID           uint64
	subscriberBuffer int
	onDrop           func(evt Event, subscriber uint64)
}

type room struct {
	subs map[uint64]*Subscription
}

type Subscription struct {
	hub   *Hub
	id    uint64
	rooms []string
	ch    chan Event
	once  sync.Once
}

func NewHub(subscriberBuffer int) *Hub {
	if subscriberBuffer <= 0 {
		subscriberBuffer = DefaultSubscriberBuffer
	}
	return &Hub{
		rooms:            make(map[string]*room),
		subscriberBuffer: subscriberBuffer,
	}
}

// OnDrop registers a callback for events a subscriber could not accept.
func (h *Hub) OnDrop(fn func(evt Event, subscriber uint64)) {
	h.mu.Lock()
	h.onDrop = fn
	h.mu.Unlock()
}

// Subscribe registers one channel across rooms.
func (h *Hub) Subscribe(rooms ...string) (*Subscription, error) {
	if h == nil {
		return nil, errors.New("hub_unavailable")
	}
	cleaned := make([]string, 0, len(rooms))
	for _, r := range rooms {
		if r = strings.TrimSpace(r); r != "" {
			cleaned = append(cleaned, r)
		}
	}
	cleaned = dedupeRooms(cleaned)
	if len(cleaned) == 0 {
		return nil, errors.New("invalid_room")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	sub := &Subscription{
		hub:   h,
		id:    h.nextID,
		rooms: cleaned,
		ch:    make(chan Event, h.subscriberBuffer),
	}
	for _, name := range cleaned {
		current := h.rooms[name]
		if current == nil {
			current = &room{subs: make(map[uint64]*Subscription)}
			h.rooms[name] = current
		}
		current.subs[sub.id] = sub
	}
	return sub, nil
}

// Deliver sends evt once to every subscriber of any of its rooms and
// returns the number of subscribers reached.
func (h *Hub) Deliver(evt Event) int {
	if h == nil {
		return 0
	}
	h.mu.RLock()
	targets := make(map[uint64]*Subscription)
	for _, name := range evt.Rooms {
		current := h.rooms[name]
		if current == nil {
			continue
		}
		for id, sub := range current.subs {
			targets[id] = sub
		}
	}
	onDrop := h.onDrop
	h.mu.RUnlock()

	delivered := 0
	for id, sub := range targets {
		select {
		case sub.ch <- evt:
			delivered++
		default:
			if onDrop != nil {
				onDrop(evt, id)
			}
		}
	}
	return delivered
}

// Subscribers returns the number of live subscriptions in a room.
func (h *Hub) Subscribers(name string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if current := h.rooms[name]; current != nil {
		return len(current.subs)
	}
	return 0
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, name := range sub.rooms {
		current := h.rooms[name]
		if current == nil {
			continue
		}
		delete(current.subs, sub.id)
		if len(current.subs) == 0 {
			delete(h.rooms, name)
		}
	}
}

func (s *Subscription) Events() <-chan Event {
	if s == nil {
		return nil
	}
	return s.ch
}

func (s *Subscription) ID() uint64 {
	return s.id
}

func (s *Subscription) Close() {
	if s == nil || s.hub == nil {
		return
	}
	s.once.Do(func() {
		s.hub.unsubscribe(s)
	})
}
