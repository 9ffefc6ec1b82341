package server

import (
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-test/deep"
	"github.com/oarkflow/json"
	"golang.org/x/time/rate"

	"github.com/oarkflow/connector"
	"github.com/oarkflow/connector/logger"
)

const waitLimit = 3 * time.Second

type client struct {
	t      *testing.T
	queue  *connector.Queue
	conn   *connector.Connector
	states []connector.NetState
}

func newClient(t *testing.T, opts ...connector.Option) *client {
	t.Helper()
	c := &client{t: t, queue: connector.NewQueue(nil)}
	conn, err := connector.New(c.queue, append([]connector.Option{connector.WithLogger(logger.NewNullLogger())}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	conn.OnNetState(func(s connector.NetState) { c.states = append(c.states, s) })
	c.conn = conn
	t.Cleanup(conn.Disconnect)
	return c
}

func (c *client) drainUntil(what string, cond func() bool) {
	c.t.Helper()
	deadline := time.Now().Add(waitLimit)
	for time.Now().Before(deadline) {
		c.queue.Drain()
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	c.t.Fatalf("timed out waiting for %s", what)
}

func (c *client) hasState(s connector.NetState) bool {
	for _, got := range c.states {
		if got == s {
			return true
		}
	}
	return false
}

// connect dials address and waits until the server registered the session.
func (c *client) connect(serv *Server, address string, user any) connector.Response {
	c.t.Helper()
	var ready *connector.Response
	want := len(serv.Sessions()) + 1
	c.conn.Connect(address, user, func(r connector.Response) { ready = &r })
	c.drainUntil("ready", func() bool { return ready != nil && len(serv.Sessions()) >= want })
	return *ready
}

func (c *client) request(route string, payload any) connector.Response {
	c.t.Helper()
	var res *connector.Response
	c.conn.Request(route, payload, func(r connector.Response) { res = &r })
	c.drainUntil("response to "+route, func() bool { return res != nil })
	return *res
}

func newServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	serv, err := New(append([]Option{WithLogger(logger.NewNullLogger())}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}
	serv.OnHandshake(func(s *Session, user json.RawMessage) (any, error) {
		var hello struct {
			U string `json:"u"`
		}
		if err := json.Unmarshal(user, &hello); err != nil || hello.U == "" {
			return nil, NewError(401, "who are you")
		}
		s.Set("user", hello.U)
		return map[string]bool{"ok": true}, nil
	})
	serv.Handle("item.buy", func(s *Session, payload json.RawMessage) (any, error) {
		var req struct {
			ID int `json:"id"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, err
		}
		if req.ID == 0 {
			return nil, NewError(403, "no such item")
		}
		user, _ := s.Get("user")
		return map[string]any{"bought": true, "id": req.ID, "by": user}, nil
	})
	t.Cleanup(serv.Shutdown)
	return serv
}

func listenTCP(t *testing.T, serv *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go serv.Serve(ln)
	return "tcp://" + ln.Addr().String()
}

func payload(t *testing.T, raw json.RawMessage) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("payload %s: %v", raw, err)
	}
	return m
}

func TestServer_RequestOverTCP(t *testing.T) {
	serv := newServer(t)
	address := listenTCP(t, serv)
	c := newClient(t)

	ready := c.connect(serv, address, map[string]string{"u": "alice"})
	if diff := deep.Equal(payload(t, ready.Payload), map[string]any{"ok": true}); diff != nil {
		t.Errorf("handshake result: %v", diff)
	}
	res := c.request("item.buy", map[string]int{"id": 7})
	if res.Err != nil {
		t.Fatalf("unexpected error %v", res.Err)
	}
	want := map[string]any{"bought": true, "id": float64(7), "by": "alice"}
	if diff := deep.Equal(payload(t, res.Payload), want); diff != nil {
		t.Error(diff)
	}
}

func TestServer_ErrorResponses(t *testing.T) {
	serv := newServer(t)
	serv.Handle("broken", func(*Session, json.RawMessage) (any, error) {
		return nil, errors.New("database down")
	})
	serv.Handle("panics", func(*Session, json.RawMessage) (any, error) {
		panic("oops")
	})
	address := listenTCP(t, serv)
	c := newClient(t)
	c.connect(serv, address, map[string]string{"u": "alice"})

	cases := []struct {
		route   string
		payload any
		code    int
	}{
		{"item.buy", map[string]int{"id": 0}, 403},
		{"nowhere", nil, 404},
		{"broken", nil, 500},
		{"panics", nil, 500},
	}
	for _, tc := range cases {
		res := c.request(tc.route, tc.payload)
		var serverErr *connector.ServerError
		if !errors.As(res.Err, &serverErr) {
			t.Errorf("%s: expected a server error, got %v", tc.route, res.Err)
			continue
		}
		if serverErr.Code != tc.code {
			t.Errorf("%s: expected code %d, got %d", tc.route, tc.code, serverErr.Code)
		}
	}
	if c.conn.State() != connector.StateConnected {
		t.Error("error responses must not drop the session")
	}
}

func TestServer_HandshakeRejected(t *testing.T) {
	serv := newServer(t)
	address := listenTCP(t, serv)
	c := newClient(t)
	readyCalled := false
	c.conn.Connect(address, map[string]string{}, func(connector.Response) { readyCalled = true })
	c.drainUntil("error state", func() bool { return c.hasState(connector.NetError) })
	if readyCalled {
		t.Error("onReady must not run")
	}
	if len(serv.Sessions()) != 0 {
		t.Error("rejected client must not be registered")
	}
}

func TestServer_PushBroadcastAndNotify(t *testing.T) {
	serv := newServer(t)
	notified := make(chan string, 1)
	serv.HandleNotify("chat.send", func(s *Session, payload json.RawMessage) {
		notified <- string(payload)
	})
	address := listenTCP(t, serv)
	c := newClient(t)
	var events []connector.Response
	c.conn.On("onChat", func(r connector.Response) { events = append(events, r) })
	c.connect(serv, address, map[string]string{"u": "alice"})

	c.conn.Notify("chat.send", map[string]string{"msg": "hi"})
	select {
	case got := <-notified:
		if got != `{"msg":"hi"}` {
			t.Errorf("unexpected notify payload %s", got)
		}
	case <-time.After(waitLimit):
		t.Fatal("notify never reached the server")
	}

	if n := serv.Broadcast("onChat", map[string]string{"from": "server"}); n != 1 {
		t.Errorf("expected one recipient, got %d", n)
	}
	sessions := serv.Sessions()
	if err := sessions[0].Push("onChat", map[string]string{"from": "direct"}); err != nil {
		t.Fatal(err)
	}
	c.drainUntil("events", func() bool { return len(events) == 2 })
	if diff := deep.Equal(payload(t, events[1].Payload), map[string]any{"from": "direct"}); diff != nil {
		t.Error(diff)
	}
	if s, ok := serv.Session(sessions[0].ID()); !ok || s != sessions[0] {
		t.Error("session lookup by id failed")
	}
}

func TestServer_KickAndDisconnectHooks(t *testing.T) {
	serv := newServer(t)
	disconnected := make(chan string, 1)
	serv.OnDisconnect(func(s *Session) { disconnected <- s.ID() })
	address := listenTCP(t, serv)
	c := newClient(t)
	c.connect(serv, address, map[string]string{"u": "alice"})

	s := serv.Sessions()[0]
	if err := s.Kick("maintenance"); err != nil {
		t.Fatalf("kick: %v", err)
	}
	c.drainUntil("kicked", func() bool { return c.hasState(connector.NetKicked) })
	select {
	case id := <-disconnected:
		if id != s.ID() {
			t.Errorf("unexpected session %s", id)
		}
	case <-time.After(waitLimit):
		t.Fatal("OnDisconnect not called")
	}
	if err := s.Push("onChat", nil); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("expected ErrSessionClosed, got %v", err)
	}
	if len(serv.Sessions()) != 0 {
		t.Error("kicked session must be removed")
	}
}

func TestServer_ClientDisconnect(t *testing.T) {
	serv := newServer(t)
	connected := make(chan struct{}, 1)
	disconnected := make(chan struct{}, 1)
	serv.OnConnect(func(*Session) { connected <- struct{}{} })
	serv.OnDisconnect(func(*Session) { disconnected <- struct{}{} })
	address := listenTCP(t, serv)
	c := newClient(t)
	c.connect(serv, address, map[string]string{"u": "alice"})
	<-connected

	c.conn.Disconnect()
	select {
	case <-disconnected:
	case <-time.After(waitLimit):
		t.Fatal("server did not notice the disconnect")
	}
}

func TestServer_WebSocketWithRouteDict(t *testing.T) {
	serv := newServer(t, WithRouteDict(map[string]uint16{"item.buy": 1, "onChat": 2}))
	httpServer := httptest.NewServer(serv)
	defer httpServer.Close()

	c := newClient(t)
	var events int
	c.conn.On("onChat", func(connector.Response) { events++ })
	c.connect(serv, "ws"+strings.TrimPrefix(httpServer.URL, "http"), map[string]string{"u": "bob"})

	res := c.request("item.buy", map[string]int{"id": 3})
	if diff := deep.Equal(payload(t, res.Payload), map[string]any{"bought": true, "id": float64(3), "by": "bob"}); diff != nil {
		t.Error(diff)
	}
	serv.Broadcast("onChat", nil)
	c.drainUntil("event", func() bool { return events == 1 })
}

func TestServer_RateLimit(t *testing.T) {
	serv := newServer(t, WithRateLimit(rate.Every(time.Hour), 1))
	address := listenTCP(t, serv)
	c := newClient(t)
	c.connect(serv, address, map[string]string{"u": "alice"})

	if res := c.request("item.buy", map[string]int{"id": 1}); res.Err != nil {
		t.Fatalf("first request: %v", res.Err)
	}
	res := c.request("item.buy", map[string]int{"id": 2})
	var serverErr *connector.ServerError
	if !errors.As(res.Err, &serverErr) || serverErr.Code != 429 {
		t.Errorf("expected 429, got %v", res.Err)
	}
}

func TestServer_EncryptedSession(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	serv := newServer(t, WithEncryptionKey(key), WithCompression(0))
	address := listenTCP(t, serv)
	c := newClient(t, connector.WithEncryptionKey(key))
	c.connect(serv, address, map[string]string{"u": "alice"})

	res := c.request("item.buy", map[string]int{"id": 9})
	if res.Err != nil {
		t.Fatal(res.Err)
	}
	if got := payload(t, res.Payload)["id"]; got != float64(9) {
		t.Errorf("unexpected id %v", got)
	}
}

func TestServer_HeartbeatReplies(t *testing.T) {
	serv := newServer(t, WithHeartbeat(0))
	address := listenTCP(t, serv)
	c := newClient(t, connector.WithHeartbeat(20*time.Millisecond))
	c.connect(serv, address, map[string]string{"u": "alice"})

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		c.queue.Drain()
		time.Sleep(5 * time.Millisecond)
	}
	if c.conn.State() != connector.StateConnected {
		t.Errorf("expected the session to stay up, states %v", c.states)
	}
}

func TestServer_HandshakeTimeoutClosesIdleClient(t *testing.T) {
	serv := newServer(t, WithHandshakeTimeout(30*time.Millisecond))
	address := listenTCP(t, serv)
	conn, err := net.Dial("tcp", strings.TrimPrefix(address, "tcp://"))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(waitLimit))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err == nil {
		t.Error("expected the server to hang up")
	}
}

func TestServer_Shutdown(t *testing.T) {
	serv := newServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	served := make(chan error, 1)
	go func() { served <- serv.Serve(ln) }()
	c := newClient(t)
	c.connect(serv, "tcp://"+ln.Addr().String(), map[string]string{"u": "alice"})

	serv.Shutdown()
	select {
	case err := <-served:
		if !errors.Is(err, ErrServerClosed) {
			t.Errorf("expected ErrServerClosed, got %v", err)
		}
	case <-time.After(waitLimit):
		t.Fatal("Serve did not return")
	}
	c.drainUntil("closed", func() bool { return c.hasState(connector.NetClosed) })
	if c.conn.State() != connector.StateDisconnected {
		t.Errorf("expected DISCONNECTED, got %s", c.conn.State())
	}
}
