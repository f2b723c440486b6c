package capture

import "sync"

// PageLoad is emitted when a tab finishes loading url.
type PageLoad struct {
	TabID int    `json:"tab_id"`
	URL   string `json:"url"`
}

// PageEvents delivers page-load notifications. The returned func unsubscribes.
type PageEvents interface {
	OnPageLoadComplete(handler func(PageLoad)) func()
}

// Hub is an in-process PageEvents implementation fed by the API server.
type Hub struct {
	mu       sync.RWMutex
	handlers map[int]func(PageLoad)
	next     int
}

// NewHub returns a Hub with no subscribers.
func NewHub() *Hub {
	return &Hub{handlers: make(map[int]func(PageLoad))}
}

func (h *Hub) OnPageLoadComplete(handler func(PageLoad)) func() {
	if handler == nil {
		return func() {}
	}
	h.mu.Lock()
	id := h.next
	h.next++
	h.handlers[id] = handler
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.handlers, id)
		h.mu.Unlock()
	}
}

// PageLoadComplete delivers ev to every subscriber synchronously.
func (h *Hub) PageLoadComplete(ev PageLoad) {
	h.mu.RLock()
	handlers := make([]func(PageLoad), 0, len(h.handlers))
	for _, fn := range h.handlers {
		handlers = append(handlers, fn)
	}
	h.mu.RUnlock()
	for _, fn := range handlers {
		fn(ev)
	}
}
