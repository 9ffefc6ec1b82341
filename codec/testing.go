package codec

import (
	"bytes"
	"net"
	"sync"
	"time"

	"github.com/oarkflow/errors"
)

// ErrMockClosed is returned by MockConn after Close.
var ErrMockClosed = errors.New("connection closed")

// MockConn implements net.Conn over in-memory buffers for codec tests.
type MockConn struct {
	ReadBuffer  *bytes.Buffer
	WriteBuffer *bytes.Buffer
	IsClosed    bool
	ReadErr     error
	WriteErr    error
	mu          sync.Mutex
}

// NewMockConn creates a new mock connection
func NewMockConn() *MockConn {
	return &MockConn{
		ReadBuffer:  bytes.NewBuffer(nil),
		WriteBuffer: bytes.NewBuffer(nil),
	}
}

func (m *MockConn) Read(b []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.IsClosed {
		return 0, ErrMockClosed
	}
	if m.ReadErr != nil {
		return 0, m.ReadErr
	}
	return m.ReadBuffer.Read(b)
}

func (m *MockConn) Write(b []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.IsClosed {
		return 0, ErrMockClosed
	}
	if m.WriteErr != nil {
		return 0, m.WriteErr
	}
	return m.WriteBuffer.Write(b)
}

// Loopback moves everything written so far into the read buffer, simulating
// the peer echoing the bytes back.
func (m *MockConn) Loopback() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ReadBuffer.Write(m.WriteBuffer.Bytes())
	m.WriteBuffer.Reset()
}

func (m *MockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.IsClosed = true
	return nil
}

func (m *MockConn) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
}

func (m *MockConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0}
}

func (m *MockConn) SetDeadline(t time.Time) error      { return nil }
func (m *MockConn) SetReadDeadline(t time.Time) error  { return nil }
func (m *MockConn) SetWriteDeadline(t time.Time) error { return nil }
