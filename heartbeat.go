package connector

import (
	"sync"
	"sync/atomic"
	"time"
)

// minHeartbeatInterval bounds how often a heartbeat may fire.
const minHeartbeatInterval = 10 * time.Millisecond

// heartbeat keeps one channel alive. It sends a ping every interval and
// reports a timeout when nothing was received for the timeout window.
type heartbeat struct {
	interval     time.Duration
	timeout      time.Duration
	send         func() error
	onTimeout    func()
	onFailure    func(error)
	lastReceived atomic.Int64
	stopCh       chan struct{}
	stopOnce     sync.Once
	startOnce    sync.Once

	heartbeatsSent   atomic.Uint64
	heartbeatsRecv   atomic.Uint64
	failedHeartbeats atomic.Uint64
}

func newHeartbeat(interval time.Duration, send func() error, onTimeout func()) *heartbeat {
	if interval < minHeartbeatInterval {
		interval = minHeartbeatInterval
	}
	return &heartbeat{
		interval:  interval,
		timeout:   2 * interval,
		send:      send,
		onTimeout: onTimeout,
		stopCh:    make(chan struct{}),
	}
}

func (hb *heartbeat) start() {
	hb.startOnce.Do(func() {
		hb.lastReceived.Store(time.Now().UnixNano())
		go hb.run()
	})
}

func (hb *heartbeat) stop() {
	if hb == nil {
		return
	}
	hb.stopOnce.Do(func() { close(hb.stopCh) })
}

// touch records inbound traffic of any kind.
func (hb *heartbeat) touch() {
	if hb == nil {
		return
	}
	hb.lastReceived.Store(time.Now().UnixNano())
	hb.heartbeatsRecv.Add(1)
}

func (hb *heartbeat) stats() map[string]uint64 {
	return map[string]uint64{
		"sent":     hb.heartbeatsSent.Load(),
		"received": hb.heartbeatsRecv.Load(),
		"failed":   hb.failedHeartbeats.Load(),
	}
}

func (hb *heartbeat) run() {
	sendTicker := time.NewTicker(hb.interval)
	defer sendTicker.Stop()
	checkTicker := time.NewTicker(hb.interval / 2)
	defer checkTicker.Stop()

	for {
		select {
		case <-hb.stopCh:
			return
		case <-sendTicker.C:
			if err := hb.send(); err != nil {
				hb.failedHeartbeats.Add(1)
				if hb.onFailure != nil {
					hb.onFailure(err)
				}
				continue
			}
			hb.heartbeatsSent.Add(1)
		case <-checkTicker.C:
			last := time.Unix(0, hb.lastReceived.Load())
			if time.Since(last) > hb.timeout {
				hb.stop()
				hb.onTimeout()
				return
			}
		}
	}
}
