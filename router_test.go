package connector

import (
	"testing"

	"github.com/go-test/deep"
)

func TestRouter_DispatchInRegistrationOrder(t *testing.T) {
	r := newRouter()
	var calls []int
	for i := 1; i <= 3; i++ {
		i := i
		r.register("onChat", func(Response) { calls = append(calls, i) })
	}
	r.register("onChat", nil)

	var queued []func()
	d := DispatcherFunc(func(fn func()) { queued = append(queued, fn) })
	if n := r.dispatch(Response{Route: "onChat"}, d); n != 3 {
		t.Fatalf("expected 3 handlers, got %d", n)
	}
	if len(calls) != 0 {
		t.Fatal("handlers must only run through the dispatcher")
	}
	for _, fn := range queued {
		fn()
	}
	if diff := deep.Equal(calls, []int{1, 2, 3}); diff != nil {
		t.Error(diff)
	}
}

func TestRouter_UnknownEventIsNoop(t *testing.T) {
	r := newRouter()
	d := DispatcherFunc(func(func()) { t.Error("nothing should be enqueued") })
	if n := r.dispatch(Response{Route: "onNothing"}, d); n != 0 {
		t.Errorf("expected 0, got %d", n)
	}
}

func TestRouter_Clear(t *testing.T) {
	r := newRouter()
	r.register("a", func(Response) {})
	r.register("b", func(Response) {})
	if r.len("a") != 1 || len(r.handlersFor("b")) != 1 {
		t.Fatal("expected registrations")
	}
	r.clear()
	if r.len("a") != 0 || r.len("b") != 0 {
		t.Error("clear must remove every registration")
	}
}
