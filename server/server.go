// Package server is a reference backend for the connector protocol. It
// accepts TCP and WebSocket clients, performs the handshake, answers
// requests through registered handlers and pushes events to sessions.
package server

import (
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/oarkflow/json"

	"github.com/oarkflow/connector/channel"
	"github.com/oarkflow/connector/codec"
	"github.com/oarkflow/connector/logger"
)

// HandlerFunc answers a request. The result is encoded as the response body;
// a returned error becomes an error response.
type HandlerFunc func(s *Session, payload json.RawMessage) (any, error)

// NotifyFunc consumes a notify.
type NotifyFunc func(s *Session, payload json.RawMessage)

// HandshakeFunc validates the client's handshake payload. Its result is
// returned to the client as the handshake user data; an error rejects the
// client.
type HandshakeFunc func(s *Session, user json.RawMessage) (any, error)

type Server struct {
	opts     Options
	logger   logger.Logger
	codec    *codec.Codec
	hub      *hub
	upgrader *websocket.Upgrader

	l            sync.RWMutex
	handlers     map[string]HandlerFunc
	notifies     map[string]NotifyFunc
	onHandshake  HandshakeFunc
	onConnect    func(*Session)
	onDisconnect func(*Session)
	listeners    map[net.Listener]struct{}
	pending      map[*Session]struct{}
	closed       bool
}

func New(opts ...Option) (*Server, error) {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = logger.NewNullLogger()
	}
	serializer := codec.NewSerializer(options.serialization)
	if err := serializer.SetEncryptionKey(options.encryptionKey); err != nil {
		return nil, err
	}
	c := codec.NewCodec(serializer)
	if len(options.routes) > 0 {
		c.SetDict(codec.NewRouteDict(options.routes))
	}
	return &Server{
		opts:   options,
		logger: options.logger,
		codec:  c,
		hub:    newHub(),
		upgrader: &websocket.Upgrader{
			Subprotocols: []string{channel.SubProtocol},
			CheckOrigin:  options.checkOrigin,
		},
		handlers:  make(map[string]HandlerFunc),
		notifies:  make(map[string]NotifyFunc),
		listeners: make(map[net.Listener]struct{}),
		pending:   make(map[*Session]struct{}),
	}, nil
}

// Handle registers the handler for requests on route.
func (serv *Server) Handle(route string, h HandlerFunc) {
	serv.l.Lock()
	serv.handlers[route] = h
	serv.l.Unlock()
}

// HandleNotify registers the handler for notifies on route.
func (serv *Server) HandleNotify(route string, h NotifyFunc) {
	serv.l.Lock()
	serv.notifies[route] = h
	serv.l.Unlock()
}

func (serv *Server) OnHandshake(h HandshakeFunc) {
	serv.l.Lock()
	serv.onHandshake = h
	serv.l.Unlock()
}

// OnConnect is called once a session completed its handshake.
func (serv *Server) OnConnect(fn func(*Session)) {
	serv.l.Lock()
	serv.onConnect = fn
	serv.l.Unlock()
}

// OnDisconnect is called when an established session goes away.
func (serv *Server) OnDisconnect(fn func(*Session)) {
	serv.l.Lock()
	serv.onDisconnect = fn
	serv.l.Unlock()
}

// Serve accepts stream clients on ln until Shutdown. It always returns a
// non-nil error, ErrServerClosed after Shutdown.
func (serv *Server) Serve(ln net.Listener) error {
	serv.l.Lock()
	if serv.closed {
		serv.l.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	serv.listeners[ln] = struct{}{}
	serv.l.Unlock()
	defer func() {
		serv.l.Lock()
		delete(serv.listeners, ln)
		serv.l.Unlock()
	}()

	serv.logger.Info("listening", logger.F("address", ln.Addr().String()))
	for {
		conn, err := ln.Accept()
		if err != nil {
			if serv.isClosed() {
				return ErrServerClosed
			}
			serv.logger.Error("accept failed", logger.Err(err))
			return err
		}
		serv.attach(channel.NewTCPConn(conn, serv.logger), conn.RemoteAddr().String())
	}
}

// ServeHTTP upgrades the request to a websocket session.
func (serv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if serv.isClosed() {
		http.Error(w, ErrServerClosed.Error(), http.StatusServiceUnavailable)
		return
	}
	ws, err := serv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		serv.logger.Warn("websocket upgrade failed", logger.Err(err))
		return
	}
	serv.attach(channel.NewWebSocketConn(ws, serv.logger), r.RemoteAddr)
}

func (serv *Server) attach(conn sessionConn, remote string) {
	s := newSession(serv, conn, remote)
	serv.l.Lock()
	if serv.closed {
		serv.l.Unlock()
		conn.Close()
		return
	}
	serv.pending[s] = struct{}{}
	serv.l.Unlock()
	serv.logger.Debug("session attached", logger.F("session", s.ID()), logger.F("remote", remote))
	s.start()
}

// Broadcast pushes data on route to every established session and returns
// how many sessions it reached.
func (serv *Server) Broadcast(route string, data any) int {
	n := 0
	for _, s := range serv.hub.list() {
		if err := s.Push(route, data); err != nil {
			serv.logger.Warn("broadcast push failed", logger.F("session", s.ID()), logger.Err(err))
			continue
		}
		n++
	}
	return n
}

// Sessions returns the established sessions.
func (serv *Server) Sessions() []*Session {
	return serv.hub.list()
}

// Session looks up an established session by id.
func (serv *Server) Session(id string) (*Session, bool) {
	return serv.hub.get(id)
}

// Shutdown stops every listener and closes all sessions.
func (serv *Server) Shutdown() {
	serv.l.Lock()
	if serv.closed {
		serv.l.Unlock()
		return
	}
	serv.closed = true
	listeners := make([]net.Listener, 0, len(serv.listeners))
	for ln := range serv.listeners {
		listeners = append(listeners, ln)
	}
	pending := make([]*Session, 0, len(serv.pending))
	for s := range serv.pending {
		pending = append(pending, s)
	}
	serv.l.Unlock()

	serv.logger.Info("shutting down", logger.F("sessions", serv.hub.size()))
	for _, ln := range listeners {
		ln.Close()
	}
	for _, s := range pending {
		s.Close()
	}
	for _, s := range serv.hub.list() {
		s.Close()
	}
}

func (serv *Server) isClosed() bool {
	serv.l.RLock()
	defer serv.l.RUnlock()
	return serv.closed
}

func (serv *Server) detach(s *Session) {
	serv.l.Lock()
	delete(serv.pending, s)
	serv.l.Unlock()
}

func (serv *Server) handshakeDict() map[string]uint16 {
	return serv.codec.Dict().Map()
}
