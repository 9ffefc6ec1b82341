package channel

import (
	"crypto/tls"
	"time"

	"github.com/oarkflow/connector/logger"
)

type Option func(*Dialer)

func WithMaxRetries(maxRetries int) Option {
	return func(d *Dialer) {
		d.maxRetries = maxRetries
	}
}

func WithRetryBackoff(retryBackoff time.Duration) Option {
	return func(d *Dialer) {
		d.retryBackoff = retryBackoff
	}
}

func WithMaxBackoff(maxBackoff time.Duration) Option {
	return func(d *Dialer) {
		d.maxBackoff = maxBackoff
	}
}

func WithConnectTimeout(connectTimeout time.Duration) Option {
	return func(d *Dialer) {
		d.connectTimeout = connectTimeout
	}
}

func WithWriteTimeout(writeTimeout time.Duration) Option {
	return func(d *Dialer) {
		d.writeTimeout = writeTimeout
	}
}

func WithKeepAlive(enabled bool, period time.Duration) Option {
	return func(d *Dialer) {
		d.keepAliveEnabled = enabled
		d.keepAlivePeriod = period
	}
}

func WithTLS(config *tls.Config) Option {
	return func(d *Dialer) {
		d.tlsConfig = config
	}
}

func WithOnConnectionError(fn func(error)) Option {
	return func(d *Dialer) {
		d.onConnectionError = fn
	}
}

func WithLogger(log logger.Logger) Option {
	return func(d *Dialer) {
		d.logger = log
	}
}
