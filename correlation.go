package connector

import (
	"sync"
	"time"

	"github.com/oarkflow/connector/logger"
)

// pending is one in-flight request.
type pending struct {
	id        uint32
	route     string
	callback  Callback
	createdAt time.Time
}

// correlationTable maps request ids to their callbacks. Ids grow
// monotonically; on wraparound 0 and ids still pending are skipped.
type correlationTable struct {
	mu      sync.Mutex
	next    uint32
	entries map[uint32]pending
	logger  logger.Logger
}

func newCorrelationTable(log logger.Logger) *correlationTable {
	return &correlationTable{entries: make(map[uint32]pending), logger: log}
}

func (t *correlationTable) allocate() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		t.next++
		if t.next == 0 {
			t.logger.Debug("request id wrapped around")
			continue
		}
		if _, used := t.entries[t.next]; !used {
			return t.next
		}
	}
}

func (t *correlationTable) register(id uint32, p pending) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, used := t.entries[id]; used {
		return ErrDuplicateID
	}
	p.id = id
	if p.createdAt.IsZero() {
		p.createdAt = time.Now()
	}
	t.entries[id] = p
	return nil
}

// resolve removes and returns the entry for id.
func (t *correlationTable) resolve(id uint32) (pending, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	return p, ok
}

// clear empties the table and returns what was discarded. Discarded
// callbacks are never invoked.
func (t *correlationTable) clear() []pending {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]pending, 0, len(t.entries))
	for _, p := range t.entries {
		out = append(out, p)
	}
	t.entries = make(map[uint32]pending)
	return out
}

// expire removes and returns entries created more than timeout before now.
func (t *correlationTable) expire(now time.Time, timeout time.Duration) []pending {
	if timeout <= 0 {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []pending
	for id, p := range t.entries {
		if now.Sub(p.createdAt) >= timeout {
			out = append(out, p)
			delete(t.entries, id)
		}
	}
	return out
}

func (t *correlationTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
