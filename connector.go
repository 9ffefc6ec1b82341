// Package connector is a client session for request/response/push servers.
//
// A Connector correlates requests with their responses, routes pushed events
// to named handlers and reports network state changes. Every user callback is
// handed to a Dispatcher instead of being run on the network goroutine, so a
// host with a single-threaded main loop can drain completions from there.
package connector

import (
	"context"
	"sync"
	"time"

	"github.com/oarkflow/json"
	"github.com/oarkflow/xid"

	"github.com/oarkflow/connector/channel"
	"github.com/oarkflow/connector/codec"
	"github.com/oarkflow/connector/consts"
	"github.com/oarkflow/connector/logger"
	"github.com/oarkflow/connector/metrics"
	"github.com/oarkflow/connector/storage"
	"github.com/oarkflow/connector/storage/memory"
)

// Response is delivered to request callbacks, event handlers and the
// onReady callback of Connect.
type Response struct {
	ID      uint32
	Route   string
	Payload json.RawMessage
	// Err is a *ServerError for error responses and ErrRequestTimeout for
	// expired requests.
	Err error
}

func (r Response) Unmarshal(v any) error {
	return codec.Unmarshal(r.Payload, v)
}

type (
	Callback     func(Response)
	EventHandler func(Response)
)

type handshakeSys struct {
	Type      string            `json:"type,omitempty"`
	Version   string            `json:"version,omitempty"`
	Heartbeat int               `json:"heartbeat"`
	Dict      map[string]uint16 `json:"dict,omitempty"`
}

type handshakeRequest struct {
	Sys  handshakeSys    `json:"sys"`
	User json.RawMessage `json:"user"`
}

type handshakeResponse struct {
	Code int             `json:"code"`
	Sys  handshakeSys    `json:"sys"`
	User json.RawMessage `json:"user,omitempty"`
}

// Connector is one client session. All methods are safe for concurrent use
// and none of them block on the network.
type Connector struct {
	opts       Options
	dispatcher Dispatcher
	logger     logger.Logger
	codec      *codec.Codec
	table      *correlationTable
	router     *router
	attrs      storage.IMap[string, any]

	mu         sync.Mutex
	state      SessionState
	ch         channel.Channel
	id         string
	address    string
	onReady    func(Response)
	cancelOpen context.CancelFunc
	handshake  *time.Timer
	heartbeat  *heartbeat
	sweeper    chan struct{}

	subsMu sync.RWMutex
	subs   []func(NetState)
}

// New creates a disconnected Connector. dispatcher receives every callback
// the connector produces and must not be nil.
func New(dispatcher Dispatcher, opts ...Option) (*Connector, error) {
	if dispatcher == nil {
		return nil, ErrNilDispatcher
	}
	options := setupOptions(opts...)
	serializer := codec.NewSerializer(options.serialization)
	if err := serializer.SetEncryptionKey(options.encryptionKey); err != nil {
		return nil, err
	}
	return &Connector{
		opts:       options,
		dispatcher: dispatcher,
		logger:     options.logger,
		codec:      codec.NewCodec(serializer),
		table:      newCorrelationTable(options.logger),
		router:     newRouter(),
		attrs:      memory.New[string, any](),
	}, nil
}

// Connect opens a channel to address and performs the handshake with user as
// the handshake payload. onReady receives the server's handshake result once
// the session is Connected. Calling Connect while connecting or connected is
// a no-op.
func (c *Connector) Connect(address string, user any, onReady func(Response)) {
	c.mu.Lock()
	if c.state != StateDisconnected {
		state := c.state
		c.mu.Unlock()
		c.logger.Warn("connect ignored, connector is already active",
			logger.F(consts.AddressKey, address),
			logger.F(consts.StateKey, state.String()))
		return
	}
	body, err := codec.Marshal(user)
	if err != nil {
		c.mu.Unlock()
		c.logger.Error("connect dropped, handshake payload not encodable", logger.Err(err))
		return
	}
	ch := c.opts.factory(address)
	ctx, cancel := context.WithCancel(context.Background())
	c.state = StateConnecting
	c.ch = ch
	c.id = xid.New().String()
	c.address = address
	c.onReady = onReady
	c.cancelOpen = cancel
	c.mu.Unlock()

	c.logger.Info("connecting", logger.F(consts.AddressKey, address), logger.F("session", c.ID()))
	ch.OnPacket(func(p codec.Packet) { c.handlePacket(ch, p) })
	ch.OnState(func(s channel.State, err error) { c.handleChannelState(ch, s, err) })
	c.emit(NetConnecting)
	go c.open(ctx, ch, address, body)
}

func (c *Connector) open(ctx context.Context, ch channel.Channel, address string, user []byte) {
	if err := ch.Open(ctx, address); err != nil {
		c.logger.Error("failed to open channel", logger.F(consts.AddressKey, address), logger.Err(err))
		c.lose(ch, NetError, err)
		return
	}
	body, err := json.Marshal(handshakeRequest{
		Sys: handshakeSys{
			Type:      c.opts.clientType,
			Version:   c.opts.clientVersion,
			Heartbeat: 1,
		},
		User: json.RawMessage(user),
	})
	if err != nil {
		c.lose(ch, NetError, err)
		return
	}
	c.mu.Lock()
	if c.ch != ch {
		c.mu.Unlock()
		return
	}
	if c.opts.handshakeTimeout > 0 {
		c.handshake = time.AfterFunc(c.opts.handshakeTimeout, func() { c.handshakeExpired(ch) })
	}
	c.mu.Unlock()
	if err := ch.Send(codec.Packet{Type: consts.Handshake, Body: body}); err != nil {
		c.logger.Error("failed to send handshake", logger.Err(err))
		c.lose(ch, NetError, err)
	}
}

func (c *Connector) handshakeExpired(ch channel.Channel) {
	c.mu.Lock()
	expired := c.ch == ch && c.state == StateConnecting
	c.mu.Unlock()
	if expired {
		c.logger.Warn("handshake timed out", logger.F("timeout", c.opts.handshakeTimeout.String()))
		c.lose(ch, NetTimeout, ErrHandshakeTimeout)
	}
}

// Request sends payload to route and calls cb with the matching response.
// While not connected the request is logged and dropped; cb never runs.
func (c *Connector) Request(route string, payload any, cb Callback) {
	ch, ok := c.connectedChannel("request", route)
	if !ok {
		return
	}
	body, err := codec.Marshal(payload)
	if err != nil {
		c.logger.Error("request dropped, payload not encodable", logger.F(consts.RouteKey, route), logger.Err(err))
		return
	}
	id := c.table.allocate()
	if err := c.table.register(id, pending{route: route, callback: cb}); err != nil {
		c.logger.Error("request dropped", logger.F(consts.RequestKey, id), logger.Err(err))
		return
	}
	metrics.PendingRequests.Inc()
	pkt, err := c.codec.EncodePacket(&codec.Message{Type: consts.Request, ID: id, Route: route, Body: body})
	if err == nil {
		err = ch.Send(pkt)
	}
	if err != nil {
		if _, ok := c.table.resolve(id); ok {
			metrics.PendingRequests.Dec()
		}
		c.logger.Error("failed to send request", logger.F(consts.RouteKey, route), logger.F(consts.RequestKey, id), logger.Err(err))
		return
	}
	metrics.RequestsSent.Inc()
	c.logger.Debug("request sent", logger.F(consts.RouteKey, route), logger.F(consts.RequestKey, id))
}

// RequestRoute is Request with an empty payload.
func (c *Connector) RequestRoute(route string, cb Callback) {
	c.Request(route, nil, cb)
}

// Notify sends payload to route without expecting a response.
func (c *Connector) Notify(route string, payload any) {
	ch, ok := c.connectedChannel("notify", route)
	if !ok {
		return
	}
	body, err := codec.Marshal(payload)
	if err != nil {
		c.logger.Error("notify dropped, payload not encodable", logger.F(consts.RouteKey, route), logger.Err(err))
		return
	}
	pkt, err := c.codec.EncodePacket(&codec.Message{Type: consts.Notify, Route: route, Body: body})
	if err == nil {
		err = ch.Send(pkt)
	}
	if err != nil {
		c.logger.Error("failed to send notify", logger.F(consts.RouteKey, route), logger.Err(err))
		return
	}
	metrics.NotifiesSent.Inc()
}

func (c *Connector) connectedChannel(op, route string) (channel.Channel, bool) {
	c.mu.Lock()
	ch, state := c.ch, c.state
	c.mu.Unlock()
	if state != StateConnected || ch == nil {
		c.logger.Warn(op+" dropped", logger.F(consts.RouteKey, route), logger.F(consts.StateKey, state.String()), logger.Err(ErrNotConnected))
		return nil, false
	}
	return ch, true
}

// On registers h for pushes on event. Handlers for the same event run in
// registration order. Registrations survive channel loss but not Disconnect.
func (c *Connector) On(event string, h EventHandler) {
	c.router.register(event, h)
}

// OnNetState subscribes fn to network state changes.
func (c *Connector) OnNetState(fn func(NetState)) {
	if fn == nil {
		return
	}
	c.subsMu.Lock()
	c.subs = append(c.subs, fn)
	c.subsMu.Unlock()
}

// Disconnect closes the session. Pending requests are discarded without
// their callbacks running, and event handlers and net state subscribers are
// removed after they are told NetDisconnected. Disconnect is idempotent.
func (c *Connector) Disconnect() {
	c.mu.Lock()
	ch := c.ch
	c.resetLocked()
	c.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
	c.discardPending()

	c.subsMu.Lock()
	subs := c.subs
	c.subs = nil
	c.subsMu.Unlock()
	c.router.clear()

	if ch != nil {
		c.logger.Info("disconnected", logger.F("session", c.ID()))
		c.emitTo(subs, NetDisconnected)
	}
}

// resetLocked returns the connector to Disconnected and stops every timer
// bound to the current channel. c.mu must be held.
func (c *Connector) resetLocked() {
	if c.cancelOpen != nil {
		c.cancelOpen()
		c.cancelOpen = nil
	}
	if c.handshake != nil {
		c.handshake.Stop()
		c.handshake = nil
	}
	c.heartbeat.stop()
	c.heartbeat = nil
	if c.sweeper != nil {
		close(c.sweeper)
		c.sweeper = nil
	}
	c.ch = nil
	c.onReady = nil
	c.state = StateDisconnected
}

func (c *Connector) discardPending() {
	if dropped := c.table.clear(); len(dropped) > 0 {
		metrics.PendingRequests.Sub(float64(len(dropped)))
		c.logger.Debug("discarded pending requests", logger.F("count", len(dropped)))
	}
}

// lose tears down ch after the transport went away. Handlers and
// subscribers stay registered so the caller can reconnect.
func (c *Connector) lose(ch channel.Channel, state NetState, err error) {
	c.mu.Lock()
	if c.ch != ch {
		c.mu.Unlock()
		return
	}
	c.resetLocked()
	c.mu.Unlock()

	ch.Close()
	c.discardPending()
	c.logger.Warn("connection lost",
		logger.F("session", c.ID()),
		logger.F(consts.StateKey, state.String()),
		logger.Err(err))
	c.emit(state)
}

func (c *Connector) handleChannelState(ch channel.Channel, s channel.State, err error) {
	switch s {
	case channel.Opened:
		// Subscribers already saw NetConnecting from Connect; the next state
		// they see is the handshake outcome.
		c.logger.Debug("channel opened", logger.F("session", c.ID()))
	case channel.Closed:
		c.lose(ch, NetClosed, nil)
	case channel.Failed:
		c.lose(ch, NetError, err)
	}
}

func (c *Connector) handlePacket(ch channel.Channel, p codec.Packet) {
	c.mu.Lock()
	current := c.ch == ch
	hb := c.heartbeat
	c.mu.Unlock()
	if !current {
		metrics.FramesDropped.WithLabelValues(metrics.ReasonStale).Inc()
		return
	}
	hb.touch()

	switch p.Type {
	case consts.Handshake:
		c.handleHandshake(ch, p.Body)
	case consts.Heartbeat:
	case consts.Data:
		c.handleData(p.Body)
	case consts.Kick:
		c.logger.Warn("kicked by server", logger.F(consts.ReasonKey, string(p.Body)))
		c.lose(ch, NetKicked, ErrKicked)
	default:
		c.logger.Warn("unexpected packet", logger.F("type", p.Type.String()))
	}
}

func (c *Connector) handleHandshake(ch channel.Channel, body []byte) {
	var res handshakeResponse
	if err := json.Unmarshal(body, &res); err != nil {
		c.logger.Error("invalid handshake response", logger.Err(err))
		c.lose(ch, NetError, err)
		return
	}
	if res.Code != consts.CodeOK {
		c.logger.Error("handshake rejected", logger.F("code", res.Code), logger.F("user", string(res.User)))
		c.lose(ch, NetError, ErrHandshakeRejected)
		return
	}
	c.mu.Lock()
	if c.ch != ch || c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	c.codec.SetDict(codec.NewRouteDict(res.Sys.Dict))
	if c.handshake != nil {
		c.handshake.Stop()
		c.handshake = nil
	}
	c.mu.Unlock()

	// The server accepts data only after the ack, so it goes out before
	// Request can observe StateConnected.
	if err := ch.Send(codec.Packet{Type: consts.HandshakeAck}); err != nil {
		c.lose(ch, NetError, err)
		return
	}

	c.mu.Lock()
	if c.ch != ch || c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	c.state = StateConnected
	onReady := c.onReady
	c.onReady = nil
	interval := c.opts.heartbeat
	if interval <= 0 {
		interval = time.Duration(res.Sys.Heartbeat) * time.Second
	}
	if interval > 0 {
		c.heartbeat = c.newHeartbeat(ch, interval)
		c.heartbeat.start()
	}
	if c.opts.requestTimeout > 0 {
		c.sweeper = make(chan struct{})
		go c.sweep(c.sweeper, c.opts.requestTimeout)
	}
	c.mu.Unlock()

	c.logger.Info("connected",
		logger.F("session", c.ID()),
		logger.F("heartbeat", interval.String()),
		logger.F("routes", len(res.Sys.Dict)))
	c.emit(NetConnected)
	if onReady != nil {
		ready := Response{Route: "handshake", Payload: res.User}
		if len(ready.Payload) == 0 {
			ready.Payload = json.RawMessage("{}")
		}
		c.dispatcher.Enqueue(func() { onReady(ready) })
	}
}

func (c *Connector) newHeartbeat(ch channel.Channel, interval time.Duration) *heartbeat {
	hb := newHeartbeat(interval,
		func() error { return ch.Send(codec.Packet{Type: consts.Heartbeat}) },
		func() { c.lose(ch, NetTimeout, ErrHeartbeatTimeout) })
	hb.onFailure = func(err error) {
		c.logger.Warn("failed to send heartbeat", logger.Err(err))
	}
	return hb
}

func (c *Connector) handleData(body []byte) {
	msg, err := c.codec.Decode(body)
	if err != nil {
		metrics.FramesDropped.WithLabelValues(metrics.ReasonDecode).Inc()
		c.logger.Warn("dropping undecodable message", logger.Err(err))
		return
	}
	switch {
	case msg.ID != 0:
		c.handleResponse(msg)
	case msg.Route != "":
		ev := Response{Route: msg.Route, Payload: json.RawMessage(msg.Body)}
		n := c.router.dispatch(ev, c.dispatcher)
		metrics.Events.WithLabelValues(boolLabel(n > 0)).Inc()
		if n == 0 {
			c.logger.Debug("no handler for event", logger.F(consts.RouteKey, msg.Route))
		}
	default:
		metrics.FramesDropped.WithLabelValues(metrics.ReasonMalformed).Inc()
		c.logger.Warn("dropping message without id or route", logger.F("type", msg.Type.String()), logger.Err(ErrMalformed))
	}
}

func (c *Connector) handleResponse(msg *codec.Message) {
	p, ok := c.table.resolve(msg.ID)
	if !ok {
		metrics.Responses.WithLabelValues(metrics.ResultUnmatched).Inc()
		c.logger.Warn("dropping response for unknown request", logger.F(consts.RequestKey, msg.ID))
		return
	}
	metrics.PendingRequests.Dec()
	metrics.Responses.WithLabelValues(metrics.ResultMatched).Inc()
	if p.callback == nil {
		return
	}
	res := Response{ID: msg.ID, Route: p.route, Payload: json.RawMessage(msg.Body)}
	if msg.Error {
		res.Err = newServerError(msg.Body)
	}
	cb := p.callback
	c.dispatcher.Enqueue(func() { cb(res) })
}

// sweep expires requests older than timeout until stop is closed.
func (c *Connector) sweep(stop chan struct{}, timeout time.Duration) {
	tick := timeout / 2
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			for _, p := range c.table.expire(now, timeout) {
				metrics.PendingRequests.Dec()
				metrics.Responses.WithLabelValues(metrics.ResultTimeout).Inc()
				c.logger.Warn("request timed out", logger.F(consts.RouteKey, p.route), logger.F(consts.RequestKey, p.id))
				if p.callback == nil {
					continue
				}
				cb, res := p.callback, Response{ID: p.id, Route: p.route, Err: ErrRequestTimeout}
				c.dispatcher.Enqueue(func() { cb(res) })
			}
		}
	}
}

func (c *Connector) emit(state NetState) {
	c.subsMu.RLock()
	subs := make([]func(NetState), len(c.subs))
	copy(subs, c.subs)
	c.subsMu.RUnlock()
	c.emitTo(subs, state)
}

func (c *Connector) emitTo(subs []func(NetState), state NetState) {
	metrics.StateChanges.WithLabelValues(state.String()).Inc()
	c.logger.Debug("network state", logger.F(consts.StateKey, state.String()))
	if len(subs) == 0 {
		return
	}
	c.dispatcher.Enqueue(func() {
		for _, fn := range subs {
			fn(state)
		}
	})
}

func (c *Connector) State() SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ID identifies the current (or last) connect cycle.
func (c *Connector) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Address returns the address passed to the last Connect.
func (c *Connector) Address() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.address
}

// Pending reports how many requests await a response.
func (c *Connector) Pending() int {
	return c.table.len()
}

// Set stores a caller attribute on the connector.
func (c *Connector) Set(key string, value any) {
	c.attrs.Set(key, value)
}

func (c *Connector) Get(key string) (any, bool) {
	return c.attrs.Get(key)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
