package server

import (
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oarkflow/json"
	"github.com/oarkflow/xid"
	"golang.org/x/time/rate"

	"github.com/oarkflow/connector/channel"
	"github.com/oarkflow/connector/codec"
	"github.com/oarkflow/connector/consts"
	"github.com/oarkflow/connector/logger"
	"github.com/oarkflow/connector/storage"
	"github.com/oarkflow/connector/storage/memory"
)

// sessionConn is a server side channel whose read loop is started
// explicitly.
type sessionConn interface {
	channel.Channel
	Start()
}

type handshakeRequest struct {
	Sys struct {
		Type      string `json:"type"`
		Version   string `json:"version"`
		Heartbeat int    `json:"heartbeat"`
	} `json:"sys"`
	User json.RawMessage `json:"user"`
}

type handshakeSys struct {
	Heartbeat int               `json:"heartbeat"`
	Dict      map[string]uint16 `json:"dict,omitempty"`
}

type handshakeResponse struct {
	Code int             `json:"code"`
	Sys  *handshakeSys   `json:"sys,omitempty"`
	User json.RawMessage `json:"user,omitempty"`
}

// Session is one client attached to the server.
type Session struct {
	id       string
	remote   string
	serv     *Server
	conn     sessionConn
	context  storage.IMap[string, any]
	limiter  *rate.Limiter
	lastSeen atomic.Int64

	l           sync.Mutex
	handshaked  bool
	established bool
	closed      bool
	done        chan struct{}
	closeOnce   sync.Once
}

func newSession(serv *Server, conn sessionConn, remote string) *Session {
	s := &Session{
		id:      xid.New().String(),
		remote:  remote,
		serv:    serv,
		conn:    conn,
		context: memory.New[string, any](),
		done:    make(chan struct{}),
	}
	if serv.opts.rateLimit > 0 {
		s.limiter = rate.NewLimiter(serv.opts.rateLimit, serv.opts.rateBurst)
	}
	return s
}

func (s *Session) start() {
	s.touch()
	s.conn.OnPacket(s.handlePacket)
	s.conn.OnState(func(state channel.State, err error) {
		if state == channel.Closed || state == channel.Failed {
			if err != nil {
				s.serv.logger.Debug("session channel failed", logger.F("session", s.id), logger.Err(err))
			}
			s.finish()
		}
	})
	go s.watch()
	s.conn.Start()
}

func (s *Session) ID() string {
	return s.id
}

// RemoteAddr is the client address as seen by the listener.
func (s *Session) RemoteAddr() string {
	return s.remote
}

func (s *Session) Set(key string, val any) {
	s.context.Set(key, val)
}

func (s *Session) Get(key string) (any, bool) {
	return s.context.Get(key)
}

// Context exposes the session attributes.
func (s *Session) Context() storage.IMap[string, any] {
	return s.context
}

// Push sends an event on route to the client.
func (s *Session) Push(route string, data any) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	body, err := codec.Marshal(data)
	if err != nil {
		return err
	}
	pkt, err := s.serv.codec.EncodePacket(&codec.Message{Type: consts.Push, Route: route, Body: body})
	if err != nil {
		return err
	}
	return s.conn.Send(pkt)
}

// Kick tells the client why it is being dropped, then closes the session.
func (s *Session) Kick(reason string) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	body, err := json.Marshal(map[string]string{consts.ReasonKey: reason})
	if err != nil {
		return err
	}
	err = s.conn.Send(codec.Packet{Type: consts.Kick, Body: body})
	s.Close()
	return err
}

// Close drops the client.
func (s *Session) Close() error {
	s.l.Lock()
	if s.closed {
		s.l.Unlock()
		return nil
	}
	s.closed = true
	s.l.Unlock()
	err := s.conn.Close()
	s.finish()
	return err
}

func (s *Session) isClosed() bool {
	s.l.Lock()
	defer s.l.Unlock()
	return s.closed
}

func (s *Session) touch() {
	s.lastSeen.Store(time.Now().UnixNano())
}

// finish runs once when the channel is gone, whoever noticed first.
func (s *Session) finish() {
	s.closeOnce.Do(func() {
		s.l.Lock()
		s.closed = true
		established := s.established
		s.l.Unlock()
		close(s.done)
		s.conn.Close()
		s.serv.detach(s)
		if !established {
			return
		}
		s.serv.hub.remove(s)
		s.serv.l.RLock()
		fn := s.serv.onDisconnect
		s.serv.l.RUnlock()
		if fn != nil {
			fn(s)
		}
		s.serv.logger.Info("session disconnected", logger.F("session", s.id))
	})
}

// watch enforces the handshake deadline and heartbeat liveness.
func (s *Session) watch() {
	opts := s.serv.opts
	tick := opts.heartbeat / 2
	if opts.heartbeat <= 0 || (opts.handshakeTimeout > 0 && opts.handshakeTimeout/2 < tick) {
		tick = opts.handshakeTimeout / 2
	}
	if tick <= 0 {
		return
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	started := time.Now()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.l.Lock()
			established := s.established
			s.l.Unlock()
			if !established {
				if opts.handshakeTimeout > 0 && time.Since(started) > opts.handshakeTimeout {
					s.serv.logger.Warn("handshake timed out", logger.F("session", s.id))
					s.Close()
					return
				}
				continue
			}
			if opts.heartbeat > 0 && time.Since(time.Unix(0, s.lastSeen.Load())) > 2*opts.heartbeat {
				s.serv.logger.Warn("heartbeat timed out", logger.F("session", s.id))
				s.Close()
				return
			}
		}
	}
}

func (s *Session) handlePacket(p codec.Packet) {
	s.touch()
	switch p.Type {
	case consts.Handshake:
		s.handleHandshake(p.Body)
	case consts.HandshakeAck:
		s.handleHandshakeAck()
	case consts.Heartbeat:
		if err := s.conn.Send(codec.Packet{Type: consts.Heartbeat}); err != nil {
			s.serv.logger.Debug("heartbeat reply failed", logger.F("session", s.id), logger.Err(err))
		}
	case consts.Data:
		s.handleData(p.Body)
	default:
		s.serv.logger.Warn("unexpected packet from client", logger.F("session", s.id), logger.F("type", p.Type.String()))
	}
}

func (s *Session) handleHandshake(body []byte) {
	s.l.Lock()
	if s.handshaked {
		s.l.Unlock()
		s.serv.logger.Warn("duplicate handshake", logger.F("session", s.id))
		return
	}
	s.handshaked = true
	s.l.Unlock()

	var req handshakeRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.reject(consts.CodeBadHandshake, err)
		return
	}
	var result any
	s.serv.l.RLock()
	onHandshake := s.serv.onHandshake
	s.serv.l.RUnlock()
	if onHandshake != nil {
		res, err := onHandshake(s, req.User)
		if err != nil {
			code := consts.CodeBadHandshake
			var e *Error
			if stderrors.As(err, &e) {
				code = e.Code
			}
			s.reject(code, err)
			return
		}
		result = res
	}
	user, err := codec.Marshal(result)
	if err != nil {
		s.reject(consts.CodeServerError, err)
		return
	}
	res := handshakeResponse{
		Code: consts.CodeOK,
		Sys: &handshakeSys{
			Heartbeat: int(s.serv.opts.heartbeat / time.Second),
			Dict:      s.serv.handshakeDict(),
		},
		User: json.RawMessage(user),
	}
	data, err := json.Marshal(res)
	if err != nil {
		s.reject(consts.CodeServerError, err)
		return
	}
	if err := s.conn.Send(codec.Packet{Type: consts.Handshake, Body: data}); err != nil {
		s.Close()
	}
}

func (s *Session) reject(code int, reason error) {
	s.serv.logger.Warn("handshake rejected", logger.F("session", s.id), logger.F("code", code), logger.Err(reason))
	user, _ := json.Marshal(map[string]string{"error": reason.Error()})
	data, err := json.Marshal(handshakeResponse{Code: code, User: json.RawMessage(user)})
	if err == nil {
		s.conn.Send(codec.Packet{Type: consts.Handshake, Body: data})
	}
	s.Close()
}

func (s *Session) handleHandshakeAck() {
	s.l.Lock()
	if !s.handshaked || s.established || s.closed {
		s.l.Unlock()
		return
	}
	s.established = true
	s.l.Unlock()

	s.serv.detach(s)
	s.serv.hub.add(s)
	s.serv.logger.Info("session connected", logger.F("session", s.id), logger.F("remote", s.remote))
	s.serv.l.RLock()
	fn := s.serv.onConnect
	s.serv.l.RUnlock()
	if fn != nil {
		fn(s)
	}
}

func (s *Session) handleData(body []byte) {
	s.l.Lock()
	established := s.established
	s.l.Unlock()
	if !established {
		s.serv.logger.Warn("data before handshake", logger.F("session", s.id))
		return
	}
	msg, err := s.serv.codec.Decode(body)
	if err != nil {
		s.serv.logger.Warn("dropping undecodable message", logger.F("session", s.id), logger.Err(err))
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		s.serv.logger.Warn("rate limited", logger.F("session", s.id), logger.F(consts.RouteKey, msg.Route))
		if msg.Type == consts.Request {
			s.respondError(msg.ID, NewError(429, ErrRateLimited.Error()))
		}
		return
	}
	switch msg.Type {
	case consts.Request:
		s.serv.l.RLock()
		h, ok := s.serv.handlers[msg.Route]
		s.serv.l.RUnlock()
		if !ok {
			s.respondError(msg.ID, NewError(404, ErrUnknownRoute.Error()+": "+msg.Route))
			return
		}
		go s.serve(h, msg)
	case consts.Notify:
		s.serv.l.RLock()
		h, ok := s.serv.notifies[msg.Route]
		s.serv.l.RUnlock()
		if !ok {
			s.serv.logger.Debug("no notify handler", logger.F(consts.RouteKey, msg.Route))
			return
		}
		go h(s, json.RawMessage(msg.Body))
	default:
		s.serv.logger.Warn("unexpected message from client", logger.F("session", s.id), logger.F("type", msg.Type.String()))
	}
}

func (s *Session) serve(h HandlerFunc, msg *codec.Message) {
	defer func() {
		if r := recover(); r != nil {
			s.serv.logger.Error("handler panicked", logger.F(consts.RouteKey, msg.Route), logger.F("panic", r))
			s.respondError(msg.ID, NewError(consts.CodeServerError, "internal error"))
		}
	}()
	result, err := h(s, json.RawMessage(msg.Body))
	if err != nil {
		var e *Error
		if !stderrors.As(err, &e) {
			e = NewError(consts.CodeServerError, err.Error())
		}
		s.respondError(msg.ID, e)
		return
	}
	body, err := codec.Marshal(result)
	if err != nil {
		s.respondError(msg.ID, NewError(consts.CodeServerError, err.Error()))
		return
	}
	s.respond(&codec.Message{Type: consts.Response, ID: msg.ID, Body: body})
}

func (s *Session) respondError(id uint32, e *Error) {
	body, err := json.Marshal(e)
	if err != nil {
		return
	}
	s.respond(&codec.Message{Type: consts.Response, ID: id, Body: body, Error: true})
}

func (s *Session) respond(msg *codec.Message) {
	pkt, err := s.serv.codec.EncodePacket(msg)
	if err == nil {
		err = s.conn.Send(pkt)
	}
	if err != nil {
		s.serv.logger.Warn("failed to send response", logger.F("session", s.id), logger.F(consts.RequestKey, msg.ID), logger.Err(err))
	}
}
