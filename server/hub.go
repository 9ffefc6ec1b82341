package server

import (
	"github.com/oarkflow/connector/metrics"
	"github.com/oarkflow/connector/storage"
	"github.com/oarkflow/connector/storage/memory"
)

// hub tracks established sessions by id.
type hub struct {
	sessions storage.IMap[string, *Session]
}

func newHub() *hub {
	return &hub{sessions: memory.New[string, *Session]()}
}

func (h *hub) add(s *Session) {
	h.sessions.Set(s.ID(), s)
	metrics.ServerSessions.Inc()
}

func (h *hub) remove(s *Session) {
	if _, ok := h.sessions.Get(s.ID()); !ok {
		return
	}
	h.sessions.Del(s.ID())
	metrics.ServerSessions.Dec()
}

func (h *hub) get(id string) (*Session, bool) {
	return h.sessions.Get(id)
}

func (h *hub) list() []*Session {
	list := make([]*Session, 0, h.sessions.Size())
	h.sessions.ForEach(func(_ string, s *Session) bool {
		list = append(list, s)
		return true
	})
	return list
}

func (h *hub) size() int {
	return h.sessions.Size()
}
