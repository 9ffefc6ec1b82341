package channel

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/oarkflow/connector/codec"
	"github.com/oarkflow/connector/logger"
)

// TCP is a Channel over a byte stream using codec packet framing.
type TCP struct {
	base
	dialer  *Dialer
	conn    net.Conn
	writeMu sync.Mutex
}

func NewTCP(dialer *Dialer) *TCP {
	if dialer == nil {
		dialer = NewDialer()
	}
	return &TCP{base: newBase(dialer.logger), dialer: dialer}
}

// NewTCPConn wraps an already established connection, as servers do for
// accepted sockets. The read loop starts with Start.
func NewTCPConn(conn net.Conn, log logger.Logger) *TCP {
	return &TCP{base: newBase(log), dialer: NewDialer(WithLogger(log)), conn: conn}
}

func (t *TCP) Open(ctx context.Context, address string) error {
	conn, err := t.dialer.DialTCP(ctx, strings.TrimPrefix(address, "tcp://"))
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	if t.isClosing() {
		conn.Close()
		return ErrClosed
	}
	t.Start()
	return nil
}

// Start reports Opened and begins reading packets.
func (t *TCP) Start() {
	t.emit(Opened, nil)
	go t.readLoop()
}

func (t *TCP) readLoop() {
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()
	reader := bufio.NewReader(conn)
	for {
		p, err := codec.ReadPacket(reader)
		if err != nil {
			t.logger.Debug("tcp read loop stopped", logger.F("remote", conn.RemoteAddr().String()), logger.Err(err))
			conn.Close()
			t.finish(normalizeReadErr(err))
			return
		}
		t.deliver(p)
	}
}

func (t *TCP) Send(p codec.Packet) error {
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()
	if conn == nil || t.isClosing() {
		return ErrClosed
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.dialer.writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(t.dialer.writeTimeout))
	}
	return codec.WritePacket(conn, p)
}

func (t *TCP) Close() error {
	if !t.markClosing() {
		return nil
	}
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// RemoteAddr returns the peer address, or "" before Open.
func (t *TCP) RemoteAddr() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.conn == nil {
		return ""
	}
	return t.conn.RemoteAddr().String()
}
