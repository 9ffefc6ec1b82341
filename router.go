package connector

import "sync"

// router fans pushed events out to the handlers registered per name.
type router struct {
	mu       sync.RWMutex
	handlers map[string][]EventHandler
}

func newRouter() *router {
	return &router{handlers: make(map[string][]EventHandler)}
}

func (r *router) register(name string, h EventHandler) {
	if h == nil {
		return
	}
	r.mu.Lock()
	r.handlers[name] = append(r.handlers[name], h)
	r.mu.Unlock()
}

func (r *router) handlersFor(name string) []EventHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.handlers[name]
	out := make([]EventHandler, len(list))
	copy(out, list)
	return out
}

// dispatch enqueues every handler for ev.Route in registration order and
// returns how many were enqueued.
func (r *router) dispatch(ev Response, d Dispatcher) int {
	list := r.handlersFor(ev.Route)
	for _, h := range list {
		h := h
		d.Enqueue(func() { h(ev) })
	}
	return len(list)
}

func (r *router) clear() {
	r.mu.Lock()
	r.handlers = make(map[string][]EventHandler)
	r.mu.Unlock()
}

func (r *router) len(name string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[name])
}
