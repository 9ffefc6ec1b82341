package connector

import (
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/oarkflow/connector/channel"
	"github.com/oarkflow/connector/codec"
	"github.com/oarkflow/connector/consts"
	"github.com/oarkflow/connector/logger"
)

type Options struct {
	logger           logger.Logger
	factory          channel.Factory
	dialerOptions    []channel.Option
	serialization    *codec.SerializationConfig
	encryptionKey    []byte
	handshakeTimeout time.Duration
	requestTimeout   time.Duration
	heartbeat        time.Duration
	clientType       string
	clientVersion    string
}

type Option func(*Options)

func defaultOptions() Options {
	return Options{
		logger:           logger.NewDefaultLogger(),
		serialization:    codec.DefaultSerializationConfig(),
		handshakeTimeout: 10 * time.Second,
		clientType:       consts.ClientType,
		clientVersion:    consts.ClientVersion,
	}
}

func setupOptions(opts ...Option) Options {
	options := defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = logger.NewNullLogger()
	}
	if options.factory == nil {
		dialerOptions := append([]channel.Option{channel.WithLogger(options.logger)}, options.dialerOptions...)
		options.factory = channel.DefaultFactory(channel.NewDialer(dialerOptions...))
	}
	return options
}

func WithLogger(log logger.Logger) Option {
	return func(opts *Options) {
		opts.logger = log
	}
}

// WithChannelFactory replaces the TCP/WebSocket factory, e.g. with pipes in
// tests.
func WithChannelFactory(factory channel.Factory) Option {
	return func(opts *Options) {
		opts.factory = factory
	}
}

// WithDialer passes options to the dialer of the default channel factory.
func WithDialer(dialerOptions ...channel.Option) Option {
	return func(opts *Options) {
		opts.dialerOptions = append(opts.dialerOptions, dialerOptions...)
	}
}

func WithHandshakeTimeout(val time.Duration) Option {
	return func(opts *Options) {
		opts.handshakeTimeout = val
	}
}

// WithRequestTimeout fails requests unanswered after val with
// ErrRequestTimeout. Zero, the default, waits forever.
func WithRequestTimeout(val time.Duration) Option {
	return func(opts *Options) {
		opts.requestTimeout = val
	}
}

// WithHeartbeat overrides the heartbeat interval negotiated at handshake.
func WithHeartbeat(val time.Duration) Option {
	return func(opts *Options) {
		opts.heartbeat = val
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

// WithEncryptionKey seals message bodies with a 32 byte chacha20poly1305 key
// shared with the server.
func WithEncryptionKey(key []byte) Option {
	return func(opts *Options) {
		opts.encryptionKey = key
	}
}

func WithClientInfo(clientType, version string) Option {
	return func(opts *Options) {
		opts.clientType = clientType
		opts.clientVersion = version
	}
}
