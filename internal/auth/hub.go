package auth

import (
	"sync"

	"example.com/vedabloom/internal/domain"
)

// Hub is an in-process identity provider. Listeners receive the current
// identity on registration and every change afterwards, in order.
type Hub struct {
	mu        sync.Mutex
	current   *domain.Identity
	listeners map[uint64]func(*domain.Identity)
	next      uint64
}

// NewHub constructs a signed-out Hub.
func NewHub() *Hub {
	return &Hub{listeners: make(map[uint64]func(*domain.Identity))}
}

// OnIdentityChange implements domain.IdentitySource.
func (h *Hub) OnIdentityChange(fn func(*domain.Identity)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.next++
	id := h.next
	h.listeners[id] = fn
	fn(copyIdentity(h.current))

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.listeners, id)
		})
	}
}

// SetIdentity signs identity in, replacing any previous one.
func (h *Hub) SetIdentity(identity domain.Identity) {
	h.publish(&identity)
}

// SignOut clears the current identity.
func (h *Hub) SignOut() {
	h.publish(nil)
}

// Current returns the signed-in identity, or nil.
func (h *Hub) Current() *domain.Identity {
	h.mu.Lock()
	defer h.mu.Unlock()
	return copyIdentity(h.current)
}

func (h *Hub) publish(identity *domain.Identity) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.current = copyIdentity(identity)
	for _, fn := range h.listeners {
		fn(copyIdentity(identity))
	}
}

func copyIdentity(identity *domain.Identity) *domain.Identity {
	if identity == nil {
		return nil
	}
	out := *identity
	return &out
}
