package channel

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/jpillora/backoff"
	"golang.org/x/time/rate"

	"github.com/oarkflow/connector/logger"
)

// Dialer establishes the underlying connections for TCP and WebSocket
// channels, retrying with exponential backoff.
type Dialer struct {
	connectTimeout    time.Duration
	writeTimeout      time.Duration
	maxRetries        int
	retryBackoff      time.Duration
	maxBackoff        time.Duration
	keepAliveEnabled  bool
	keepAlivePeriod   time.Duration
	tlsConfig         *tls.Config
	onConnectionError func(error)
	logger            logger.Logger
}

func NewDialer(opts ...Option) *Dialer {
	d := &Dialer{
		connectTimeout:   5 * time.Second,
		writeTimeout:     10 * time.Second,
		maxRetries:       1,
		retryBackoff:     250 * time.Millisecond,
		maxBackoff:       5 * time.Second,
		keepAliveEnabled: true,
		keepAlivePeriod:  30 * time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.maxRetries < 1 {
		d.maxRetries = 1
	}
	if d.logger == nil {
		d.logger = logger.NewNullLogger()
	}
	return d
}

// DialTCP opens a TCP (or TLS) connection to address.
func (d *Dialer) DialTCP(ctx context.Context, address string) (net.Conn, error) {
	var conn net.Conn
	err := d.retry(ctx, address, func(ctx context.Context) error {
		c, err := d.dialOnce(ctx, address)
		if err != nil {
			return err
		}
		conn = c
		return nil
	})
	return conn, err
}

func (d *Dialer) dialOnce(ctx context.Context, address string) (net.Conn, error) {
	if d.connectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.connectTimeout)
		defer cancel()
	}
	nd := &net.Dialer{}
	if d.keepAliveEnabled {
		nd.KeepAlive = d.keepAlivePeriod
	} else {
		nd.KeepAlive = -1
	}
	if d.tlsConfig != nil {
		td := &tls.Dialer{NetDialer: nd, Config: d.tlsConfig}
		return td.DialContext(ctx, "tcp", address)
	}
	return nd.DialContext(ctx, "tcp", address)
}

// retry runs attempt up to maxRetries times. Attempts are paced by a limiter
// whose interval follows an exponential backoff capped at maxBackoff.
func (d *Dialer) retry(ctx context.Context, address string, attempt func(context.Context) error) error {
	b := &backoff.Backoff{Min: d.retryBackoff, Max: d.maxBackoff, Factor: 2}
	limiter := rate.NewLimiter(rate.Every(d.retryBackoff), 1)
	var err error
	for i := 0; i < d.maxRetries; i++ {
		if werr := limiter.Wait(ctx); werr != nil {
			if err == nil {
				err = werr
			}
			break
		}
		if err = attempt(ctx); err == nil {
			d.logger.Debug("connected", logger.F("address", address), logger.F("attempt", i+1))
			return nil
		}
		wait := b.Duration()
		d.logger.Warn("failed to connect",
			logger.F("address", address),
			logger.F("attempt", i+1),
			logger.F("max_retries", d.maxRetries),
			logger.F("retry_in", wait.String()),
			logger.Err(err))
		if d.onConnectionError != nil {
			d.onConnectionError(err)
		}
		limiter.SetLimit(rate.Every(wait))
	}
	return fmt.Errorf("failed to connect to %s after %d attempts: %w", address, d.maxRetries, err)
}
