package channel

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oarkflow/connector/codec"
	"github.com/oarkflow/connector/consts"
)

type recorder struct {
	packets chan codec.Packet
	states  chan State
	errs    chan error
}

func newRecorder(ch Channel) *recorder {
	r := &recorder{
		packets: make(chan codec.Packet, 16),
		states:  make(chan State, 16),
		errs:    make(chan error, 16),
	}
	ch.OnPacket(func(p codec.Packet) { r.packets <- p })
	ch.OnState(func(s State, err error) {
		r.states <- s
		r.errs <- err
	})
	return r
}

func (r *recorder) waitState(t *testing.T, want State) error {
	t.Helper()
	select {
	case got := <-r.states:
		err := <-r.errs
		if got != want {
			t.Fatalf("expected state %s, got %s (%v)", want, got, err)
		}
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for state %s", want)
	}
	return nil
}

func (r *recorder) waitPacket(t *testing.T) codec.Packet {
	t.Helper()
	select {
	case p := <-r.packets:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for packet")
	}
	return codec.Packet{}
}

func TestPipe_RoundTrip(t *testing.T) {
	client, peer := NewPipe()
	rec := newRecorder(client)
	if err := client.Send(codec.Packet{Type: consts.Heartbeat}); !errors.Is(err, ErrNotOpen) {
		t.Errorf("expected ErrNotOpen before Open, got %v", err)
	}
	if err := client.Open(context.Background(), "pipe://a"); err != nil {
		t.Fatal(err)
	}
	rec.waitState(t, Opened)
	if peer.Address() != "pipe://a" {
		t.Errorf("unexpected address %q", peer.Address())
	}

	if err := client.Send(codec.Packet{Type: consts.Data, Body: []byte("up")}); err != nil {
		t.Fatal(err)
	}
	if p, ok := peer.Recv(time.Second); !ok || string(p.Body) != "up" {
		t.Errorf("peer did not receive packet: %v %v", p, ok)
	}
	for i := 0; i < 3; i++ {
		peer.Send(codec.Packet{Type: consts.Data, Body: []byte{byte(i)}})
	}
	for i := 0; i < 3; i++ {
		if p := rec.waitPacket(t); p.Body[0] != byte(i) {
			t.Errorf("packet %d out of order: %v", i, p.Body)
		}
	}

	client.Close()
	rec.waitState(t, Closed)
	if !peer.Closed() {
		t.Error("peer should observe the close")
	}
	if err := client.Send(codec.Packet{Type: consts.Heartbeat}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after Close, got %v", err)
	}
}

func TestPipe_FailReportsOnce(t *testing.T) {
	client, peer := NewPipe()
	rec := newRecorder(client)
	if err := client.Open(context.Background(), "pipe://a"); err != nil {
		t.Fatal(err)
	}
	rec.waitState(t, Opened)
	peer.Fail(nil)
	if err := rec.waitState(t, Failed); !errors.Is(err, ErrPeerFailed) {
		t.Errorf("expected ErrPeerFailed, got %v", err)
	}
	client.Close()
	select {
	case s := <-rec.states:
		t.Errorf("unexpected extra state %s", s)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPipe_OpenError(t *testing.T) {
	client, peer := NewPipe()
	peer.OpenErr = errors.New("refused")
	if err := client.Open(context.Background(), "x"); err == nil || err.Error() != "refused" {
		t.Errorf("expected refused, got %v", err)
	}
}

func TestTCP_EchoServer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			p, err := codec.ReadPacket(conn)
			if err != nil {
				return
			}
			codec.WritePacket(conn, p)
		}
	}()

	client := NewTCP(NewDialer(WithConnectTimeout(time.Second)))
	rec := newRecorder(client)
	if err := client.Open(context.Background(), "tcp://"+ln.Addr().String()); err != nil {
		t.Fatal(err)
	}
	rec.waitState(t, Opened)
	if client.RemoteAddr() != ln.Addr().String() {
		t.Errorf("unexpected remote addr %q", client.RemoteAddr())
	}
	if err := client.Send(codec.Packet{Type: consts.Data, Body: []byte("ping")}); err != nil {
		t.Fatal(err)
	}
	if p := rec.waitPacket(t); string(p.Body) != "ping" {
		t.Errorf("expected echo, got %q", p.Body)
	}
	client.Close()
	rec.waitState(t, Closed)
}

func TestTCP_ServerHangupIsClosed(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			conn.Close()
		}
	}()
	client := NewTCP(nil)
	rec := newRecorder(client)
	if err := client.Open(context.Background(), ln.Addr().String()); err != nil {
		t.Fatal(err)
	}
	rec.waitState(t, Opened)
	rec.waitState(t, Closed)
}

func TestDialer_RetriesThenFails(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	var failures int
	d := NewDialer(
		WithMaxRetries(3),
		WithRetryBackoff(5*time.Millisecond),
		WithMaxBackoff(10*time.Millisecond),
		WithOnConnectionError(func(error) { failures++ }),
	)
	_, err = d.DialTCP(context.Background(), addr)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if !strings.Contains(err.Error(), "after 3 attempts") {
		t.Errorf("unexpected error %v", err)
	}
	if failures != 3 {
		t.Errorf("expected 3 failures, got %d", failures)
	}
}

func TestDialer_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewDialer().DialTCP(ctx, "127.0.0.1:1")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestWebSocket_EchoServer(t *testing.T) {
	upgrader := websocket.Upgrader{Subprotocols: []string{SubProtocol}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		for {
			mt, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			// Echo twice in one message to exercise batched decoding.
			ws.WriteMessage(mt, append(append([]byte{}, data...), data...))
		}
	}))
	defer srv.Close()

	client := DefaultFactory(NewDialer())("ws" + strings.TrimPrefix(srv.URL, "http"))
	if _, ok := client.(*WebSocket); !ok {
		t.Fatalf("expected websocket channel, got %T", client)
	}
	rec := newRecorder(client)
	if err := client.Open(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http")); err != nil {
		t.Fatal(err)
	}
	rec.waitState(t, Opened)
	if err := client.Send(codec.Packet{Type: consts.Data, Body: []byte("hi")}); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if p := rec.waitPacket(t); string(p.Body) != "hi" {
			t.Errorf("expected echo, got %q", p.Body)
		}
	}
	client.Close()
	rec.waitState(t, Closed)
}

func TestDefaultFactory_TCP(t *testing.T) {
	if _, ok := DefaultFactory(nil)("127.0.0.1:3010").(*TCP); !ok {
		t.Error("expected TCP channel for host:port")
	}
}
