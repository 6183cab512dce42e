package broadcast

import (
	"context"
	"log"
	"sync"

	"github.com/google/uuid"
)

const sendBufSize = 256

// Hub is an in-process broadcast channel. Each Join returns a member with its
// own delivery goroutine, so a slow member never blocks the publisher.
type Hub struct {
	members    map[*HubChannel]bool
	register   chan *HubChannel
	unregister chan *HubChannel
	broadcast  chan Event
	quit       chan struct{}
	stopOnce   sync.Once
}

func NewHub() *Hub {
	return &Hub{
		members:    make(map[*HubChannel]bool),
		register:   make(chan *HubChannel),
		unregister: make(chan *HubChannel),
		broadcast:  make(chan Event, sendBufSize),
		quit:       make(chan struct{}),
	}
}

// Run is the hub's event loop. Call it in a goroutine; it returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case m := <-h.register:
			h.members[m] = true
			log.Printf("broadcast hub: member %s joined (%d total)", m.origin, len(h.members))

		case m := <-h.unregister:
			if _, ok := h.members[m]; ok {
				delete(h.members, m)
				close(m.send)
				log.Printf("broadcast hub: member %s left (%d total)", m.origin, len(h.members))
			}

		case e := <-h.broadcast:
			for m := range h.members {
				if m.origin == e.Origin {
					continue
				}
				select {
				case m.send <- e:
				default:
					log.Printf("broadcast hub: dropping %s for slow member %s", e.Type, m.origin)
				}
			}

		case <-h.quit:
			for m := range h.members {
				delete(h.members, m)
				close(m.send)
			}
			return
		}
	}
}

func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}

// Join adds a new member to the hub. The hub must be running.
func (h *Hub) Join() *HubChannel {
	m := &HubChannel{
		hub:    h,
		origin: uuid.NewString(),
		send:   make(chan Event, sendBufSize),
		done:   make(chan struct{}),
	}
	m.handlers.origin = m.origin
	go m.pump()
	select {
	case h.register <- m:
	case <-h.quit:
		close(m.send)
	}
	return m
}

// HubChannel is one member of a Hub.
type HubChannel struct {
	hub       *Hub
	origin    string
	send      chan Event
	done      chan struct{}
	handlers  handlers
	closeOnce sync.Once
}

func (m *HubChannel) Origin() string { return m.origin }

func (m *HubChannel) Publish(ctx context.Context, e Event) error {
	select {
	case <-m.done:
		return ErrClosed
	case <-m.hub.quit:
		return ErrClosed
	default:
	}
	e.Origin = m.origin
	select {
	case m.hub.broadcast <- e:
		return nil
	case <-m.hub.quit:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *HubChannel) Subscribe(h Handler) {
	m.handlers.add(h)
}

func (m *HubChannel) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
		select {
		case m.hub.unregister <- m:
		case <-m.hub.quit:
		}
	})
	return nil
}

func (m *HubChannel) pump() {
	for e := range m.send {
		m.handlers.dispatch(e)
	}
}
