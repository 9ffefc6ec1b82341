package channel

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/oarkflow/connector/codec"
	"github.com/oarkflow/connector/logger"
)

// SubProtocol is negotiated on the websocket upgrade.
const SubProtocol = "connector"

// WebSocket is a Channel carrying packets in binary websocket messages. One
// message may hold several packets.
type WebSocket struct {
	base
	dialer  *Dialer
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func NewWebSocket(dialer *Dialer) *WebSocket {
	if dialer == nil {
		dialer = NewDialer()
	}
	return &WebSocket{base: newBase(dialer.logger), dialer: dialer}
}

// NewWebSocketConn wraps an upgraded server side connection. The read loop
// starts with Start.
func NewWebSocketConn(ws *websocket.Conn, log logger.Logger) *WebSocket {
	return &WebSocket{base: newBase(log), dialer: NewDialer(WithLogger(log)), ws: ws}
}

func (w *WebSocket) Open(ctx context.Context, address string) error {
	wd := &websocket.Dialer{
		HandshakeTimeout: w.dialer.connectTimeout,
		TLSClientConfig:  w.dialer.tlsConfig,
		Subprotocols:     []string{SubProtocol},
	}
	err := w.dialer.retry(ctx, address, func(ctx context.Context) error {
		ws, _, err := wd.DialContext(ctx, address, nil)
		if err != nil {
			return err
		}
		w.mu.Lock()
		w.ws = ws
		w.mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}
	if w.isClosing() {
		w.ws.Close()
		return ErrClosed
	}
	w.Start()
	return nil
}

// Start reports Opened and begins reading messages.
func (w *WebSocket) Start() {
	w.emit(Opened, nil)
	go w.readLoop()
}

func (w *WebSocket) readLoop() {
	w.mu.RLock()
	ws := w.ws
	w.mu.RUnlock()
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			w.logger.Debug("websocket read loop stopped", logger.Err(err))
			ws.Close()
			w.finish(normalizeWSErr(err))
			return
		}
		packets, err := codec.DecodePackets(data)
		for _, p := range packets {
			w.deliver(p)
		}
		if err != nil {
			w.logger.Warn("dropping undecodable websocket message", logger.Err(err))
		}
	}
}

func (w *WebSocket) Send(p codec.Packet) error {
	w.mu.RLock()
	ws := w.ws
	w.mu.RUnlock()
	if ws == nil || w.isClosing() {
		return ErrClosed
	}
	data, err := codec.EncodePacket(p)
	if err != nil {
		return err
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.dialer.writeTimeout > 0 {
		ws.SetWriteDeadline(time.Now().Add(w.dialer.writeTimeout))
	}
	return ws.WriteMessage(websocket.BinaryMessage, data)
}

func (w *WebSocket) Close() error {
	if !w.markClosing() {
		return nil
	}
	w.mu.RLock()
	ws := w.ws
	w.mu.RUnlock()
	if ws == nil {
		return nil
	}
	w.writeMu.Lock()
	deadline := time.Now().Add(time.Second)
	ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	w.writeMu.Unlock()
	return ws.Close()
}

func normalizeWSErr(err error) error {
	if err == nil || err == io.EOF ||
		websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
		strings.HasSuffix(err.Error(), "use of closed network connection") {
		return nil
	}
	return err
}
