// Package channel provides the message channels a connector talks through.
//
// A Channel is an opaque duplex pipe of codec packets. It delivers inbound
// packets and state changes from its own goroutine; callers must not assume
// which one.
package channel

import (
	"context"
	"strings"
	"sync"

	"github.com/oarkflow/connector/codec"
	"github.com/oarkflow/connector/logger"
)

// State is a transport level state reported by a Channel.
type State int

const (
	Opened State = iota + 1
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Opened:
		return "OPENED"
	case Closed:
		return "CLOSED"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Channel is a bidirectional packet transport.
type Channel interface {
	// Open connects to address and starts delivering packets. It blocks until
	// the transport is usable or fails.
	Open(ctx context.Context, address string) error
	Send(p codec.Packet) error
	// Close tears the transport down. It is safe to call more than once.
	Close() error
	// OnPacket and OnState must be set before Open.
	OnPacket(fn func(codec.Packet))
	OnState(fn func(State, error))
}

// Factory creates a fresh channel for an address.
type Factory func(address string) Channel

// DefaultFactory returns WebSocket channels for ws:// and wss:// addresses and
// TCP channels for everything else.
func DefaultFactory(dialer *Dialer) Factory {
	return func(address string) Channel {
		if strings.HasPrefix(address, "ws://") || strings.HasPrefix(address, "wss://") {
			return NewWebSocket(dialer)
		}
		return NewTCP(dialer)
	}
}

// base carries the callback plumbing shared by every channel. It guarantees
// that exactly one terminal state (Closed or Failed) is reported.
type base struct {
	mu       sync.RWMutex
	onPacket func(codec.Packet)
	onState  func(State, error)
	done     sync.Once
	closing  chan struct{}
	logger   logger.Logger
}

func newBase(log logger.Logger) base {
	if log == nil {
		log = logger.NewNullLogger()
	}
	return base{closing: make(chan struct{}), logger: log}
}

func (b *base) OnPacket(fn func(codec.Packet)) {
	b.mu.Lock()
	b.onPacket = fn
	b.mu.Unlock()
}

func (b *base) OnState(fn func(State, error)) {
	b.mu.Lock()
	b.onState = fn
	b.mu.Unlock()
}

func (b *base) deliver(p codec.Packet) {
	b.mu.RLock()
	fn := b.onPacket
	b.mu.RUnlock()
	if fn != nil {
		fn(p)
	}
}

func (b *base) emit(state State, err error) {
	b.mu.RLock()
	fn := b.onState
	b.mu.RUnlock()
	if fn != nil {
		fn(state, err)
	}
}

// finish reports the terminal state once. A read error that follows a local
// Close is reported as a clean Closed.
func (b *base) finish(err error) {
	b.done.Do(func() {
		if b.isClosing() || err == nil {
			b.emit(Closed, nil)
			return
		}
		b.emit(Failed, err)
	})
}

func (b *base) markClosing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-b.closing:
		return false
	default:
		close(b.closing)
		return true
	}
}

func (b *base) isClosing() bool {
	select {
	case <-b.closing:
		return true
	default:
		return false
	}
}
