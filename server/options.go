package server

import (
	"net/http"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/time/rate"

	"github.com/oarkflow/connector/codec"
	"github.com/oarkflow/connector/logger"
)

type Options struct {
	logger           logger.Logger
	heartbeat        time.Duration
	handshakeTimeout time.Duration
	routes           map[string]uint16
	rateLimit        rate.Limit
	rateBurst        int
	serialization    *codec.SerializationConfig
	encryptionKey    []byte
	checkOrigin      func(r *http.Request) bool
}

type Option func(*Options)

func defaultOptions() Options {
	return Options{
		logger:           logger.NewDefaultLogger(),
		heartbeat:        30 * time.Second,
		handshakeTimeout: 10 * time.Second,
		serialization:    codec.DefaultSerializationConfig(),
		checkOrigin:      func(r *http.Request) bool { return true },
	}
}

func WithLogger(log logger.Logger) Option {
	return func(opts *Options) {
		opts.logger = log
	}
}

// WithHeartbeat sets the interval announced to clients. Sessions silent for
// twice the interval are closed. Zero disables heartbeats.
func WithHeartbeat(interval time.Duration) Option {
	return func(opts *Options) {
		opts.heartbeat = interval
	}
}

func WithHandshakeTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.handshakeTimeout = timeout
	}
}

// WithRouteDict announces route codes so clients can compress routes.
func WithRouteDict(routes map[string]uint16) Option {
	return func(opts *Options) {
		opts.routes = routes
	}
}

// WithRateLimit caps inbound data messages per session.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(opts *Options) {
		opts.rateLimit = limit
		opts.rateBurst = burst
	}
}

func WithCompression(level int) Option {
	return func(opts *Options) {
		if level == 0 {
			level = gzip.DefaultCompression
		}
		opts.serialization.EnableCompression = true
		opts.serialization.CompressionLevel = level
	}
}

func WithEncryptionKey(key []byte) Option {
	return func(opts *Options) {
		opts.encryptionKey = key
	}
}

func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(opts *Options) {
		opts.checkOrigin = fn
	}
}
