package channel

import (
	"context"
	"sync"
	"time"

	"github.com/oarkflow/connector/codec"
)

const pipeBuffer = 256

// Pipe is an in-memory Channel. The other end is driven through the
// PipePeer returned by NewPipe, which plays the server in tests.
type Pipe struct {
	base
	peer   *PipePeer
	opened bool
}

// PipePeer is the far end of a Pipe.
type PipePeer struct {
	pipe     *Pipe
	toClient chan codec.Packet
	fromPeer chan codec.Packet
	mu       sync.Mutex
	// OpenErr, when set before Open, makes Open fail with it.
	OpenErr error
	address string
}

// NewPipe returns a connected client channel and its peer.
func NewPipe() (*Pipe, *PipePeer) {
	p := &Pipe{base: newBase(nil)}
	peer := &PipePeer{
		pipe:     p,
		toClient: make(chan codec.Packet, pipeBuffer),
		fromPeer: make(chan codec.Packet, pipeBuffer),
	}
	p.peer = peer
	return p, peer
}

func (p *Pipe) Open(ctx context.Context, address string) error {
	p.peer.mu.Lock()
	openErr := p.peer.OpenErr
	p.peer.address = address
	p.peer.mu.Unlock()
	if openErr != nil {
		return openErr
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	p.opened = true
	p.mu.Unlock()
	p.emit(Opened, nil)
	go p.readLoop()
	return nil
}

// readLoop delivers peer packets one at a time, preserving order.
func (p *Pipe) readLoop() {
	for {
		select {
		case <-p.closing:
			p.finish(nil)
			return
		case pkt := <-p.peer.toClient:
			p.deliver(pkt)
		}
	}
}

func (p *Pipe) Send(pkt codec.Packet) error {
	p.mu.RLock()
	opened := p.opened
	p.mu.RUnlock()
	if !opened {
		return ErrNotOpen
	}
	if p.isClosing() {
		return ErrClosed
	}
	select {
	case p.peer.fromPeer <- pkt:
		return nil
	case <-p.closing:
		return ErrClosed
	}
}

func (p *Pipe) Close() error {
	if p.markClosing() {
		p.mu.RLock()
		opened := p.opened
		p.mu.RUnlock()
		if !opened {
			p.finish(nil)
		}
	}
	return nil
}

// Address returns the address the client opened.
func (peer *PipePeer) Address() string {
	peer.mu.Lock()
	defer peer.mu.Unlock()
	return peer.address
}

// Send queues a packet for delivery to the client.
func (peer *PipePeer) Send(pkt codec.Packet) {
	select {
	case peer.toClient <- pkt:
	case <-peer.pipe.closing:
	}
}

// Recv waits up to timeout for the next packet the client sent.
func (peer *PipePeer) Recv(timeout time.Duration) (codec.Packet, bool) {
	select {
	case pkt := <-peer.fromPeer:
		return pkt, true
	case <-time.After(timeout):
		return codec.Packet{}, false
	}
}

// Fail simulates a transport failure observed by the client.
func (peer *PipePeer) Fail(err error) {
	if err == nil {
		err = ErrPeerFailed
	}
	peer.pipe.done.Do(func() {
		peer.pipe.emit(Failed, err)
	})
	peer.pipe.markClosing()
}

// Closed reports whether the client side closed the pipe.
func (peer *PipePeer) Closed() bool {
	return peer.pipe.isClosing()
}
