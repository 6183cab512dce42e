package broadcast

import (
	"context"
	"errors"
	"sync"
)

var ErrClosed = errors.New("broadcast: channel closed")

type Handler func(Event)

// Channel is one context's membership of a named broadcast channel. Events
// published through a Channel reach every other member, never the publisher.
type Channel interface {
	Publish(ctx context.Context, e Event) error
	Subscribe(h Handler)
	Close() error
}

// handlers fans an event out to the subscribed handlers of one member.
type handlers struct {
	origin string
	mu     sync.RWMutex
	list   []Handler
}

func (hs *handlers) add(h Handler) {
	hs.mu.Lock()
	defer hs.mu.Unlock()
	hs.list = append(hs.list, h)
}

func (hs *handlers) dispatch(e Event) {
	if e.Origin == hs.origin {
		return
	}
	hs.mu.RLock()
	list := append([]Handler(nil), hs.list...)
	hs.mu.RUnlock()
	for _, h := range list {
		h(e)
	}
}
