package connector

import (
	"errors"
	"math"
	"sort"
	"testing"
	"time"

	"github.com/oarkflow/connector/logger"
)

func TestCorrelationTable_AllocateIsMonotonic(t *testing.T) {
	table := newCorrelationTable(logger.NewNullLogger())
	for want := uint32(1); want <= 5; want++ {
		if got := table.allocate(); got != want {
			t.Errorf("expected id %d, got %d", want, got)
		}
	}
}

func TestCorrelationTable_WraparoundSkipsZeroAndPending(t *testing.T) {
	table := newCorrelationTable(logger.NewNullLogger())
	if err := table.register(1, pending{route: "old"}); err != nil {
		t.Fatal(err)
	}
	table.next = math.MaxUint32 - 1

	if got := table.allocate(); got != math.MaxUint32 {
		t.Errorf("expected max id, got %d", got)
	}
	if got := table.allocate(); got != 2 {
		t.Errorf("expected 2 after wraparound, got %d", got)
	}
}

func TestCorrelationTable_RegisterResolve(t *testing.T) {
	table := newCorrelationTable(logger.NewNullLogger())
	var called int
	id := table.allocate()
	if err := table.register(id, pending{route: "item.buy", callback: func(Response) { called++ }}); err != nil {
		t.Fatal(err)
	}
	if err := table.register(id, pending{route: "other"}); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID, got %v", err)
	}

	p, ok := table.resolve(id)
	if !ok || p.route != "item.buy" || p.id != id || p.createdAt.IsZero() {
		t.Fatalf("unexpected entry %+v %v", p, ok)
	}
	if _, ok := table.resolve(id); ok {
		t.Error("resolve must remove the entry")
	}
	if called != 0 {
		t.Error("the table never invokes callbacks")
	}
}

func TestCorrelationTable_Clear(t *testing.T) {
	table := newCorrelationTable(logger.NewNullLogger())
	for i := 0; i < 3; i++ {
		table.register(table.allocate(), pending{})
	}
	dropped := table.clear()
	ids := make([]int, 0, len(dropped))
	for _, p := range dropped {
		ids = append(ids, int(p.id))
	}
	sort.Ints(ids)
	if len(ids) != 3 || ids[0] != 1 || ids[2] != 3 {
		t.Errorf("unexpected discarded ids %v", ids)
	}
	if table.len() != 0 {
		t.Errorf("expected empty table, got %d", table.len())
	}
}

func TestCorrelationTable_Expire(t *testing.T) {
	table := newCorrelationTable(logger.NewNullLogger())
	now := time.Now()
	table.register(1, pending{createdAt: now.Add(-time.Minute)})
	table.register(2, pending{createdAt: now})

	if got := table.expire(now, 0); got != nil {
		t.Errorf("zero timeout must expire nothing, got %d", len(got))
	}
	expired := table.expire(now, 30*time.Second)
	if len(expired) != 1 || expired[0].id != 1 {
		t.Errorf("unexpected expired entries %+v", expired)
	}
	if table.len() != 1 {
		t.Errorf("expected one entry left, got %d", table.len())
	}
}
