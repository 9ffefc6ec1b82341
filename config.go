package connector

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/oarkflow/json"

	"github.com/oarkflow/connector/channel"
	"github.com/oarkflow/connector/logger"
)

// Config is the file form of the connector options. Durations are strings
// such as "5s" or "250ms".
type Config struct {
	Address           string          `json:"address"`
	Handshake         json.RawMessage `json:"handshake,omitempty"`
	ConnectTimeout    string          `json:"connect_timeout,omitempty"`
	WriteTimeout      string          `json:"write_timeout,omitempty"`
	HandshakeTimeout  string          `json:"handshake_timeout,omitempty"`
	RequestTimeout    string          `json:"request_timeout,omitempty"`
	Heartbeat         string          `json:"heartbeat,omitempty"`
	MaxRetries        int             `json:"max_retries,omitempty"`
	RetryBackoff      string          `json:"retry_backoff,omitempty"`
	MaxBackoff        string          `json:"max_backoff,omitempty"`
	EnableCompression bool            `json:"enable_compression,omitempty"`
	CompressionLevel  int             `json:"compression_level,omitempty"`
	// EncryptionKey is a hex encoded 32 byte key.
	EncryptionKey string    `json:"encryption_key,omitempty"`
	TLS           TLSConfig `json:"tls"`
	// LogLevel "silent" disables logging.
	LogLevel  string `json:"log_level,omitempty"`
	AdminAddr string `json:"admin_addr,omitempty"`
}

type TLSConfig struct {
	Enable             bool   `json:"enable"`
	CAPath             string `json:"ca_path,omitempty"`
	ServerName         string `json:"server_name,omitempty"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify,omitempty"`
}

// LoadConfig reads and validates a JSON config file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Address) == "" {
		return fmt.Errorf("address is required")
	}
	durations := map[string]string{
		"connect_timeout":   c.ConnectTimeout,
		"write_timeout":     c.WriteTimeout,
		"handshake_timeout": c.HandshakeTimeout,
		"request_timeout":   c.RequestTimeout,
		"heartbeat":         c.Heartbeat,
		"retry_backoff":     c.RetryBackoff,
		"max_backoff":       c.MaxBackoff,
	}
	for name, value := range durations {
		if _, err := parseDuration(value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	if c.EncryptionKey != "" {
		key, err := hex.DecodeString(c.EncryptionKey)
		if err != nil {
			return fmt.Errorf("invalid encryption_key: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("encryption_key must be 32 bytes, got %d", len(key))
		}
	}
	if c.TLS.CAPath != "" && !c.TLS.Enable {
		return fmt.Errorf("tls.ca_path set but tls is disabled")
	}
	return nil
}

// Options converts the config into connector options. The config must have
// passed Validate.
func (c *Config) Options() ([]Option, error) {
	var opts []Option
	if strings.EqualFold(c.LogLevel, "silent") {
		opts = append(opts, WithLogger(logger.NewNullLogger()))
	}

	var dialerOpts []channel.Option
	if d, _ := parseDuration(c.ConnectTimeout); d > 0 {
		dialerOpts = append(dialerOpts, channel.WithConnectTimeout(d))
	}
	if d, _ := parseDuration(c.WriteTimeout); d > 0 {
		dialerOpts = append(dialerOpts, channel.WithWriteTimeout(d))
	}
	if d, _ := parseDuration(c.RetryBackoff); d > 0 {
		dialerOpts = append(dialerOpts, channel.WithRetryBackoff(d))
	}
	if d, _ := parseDuration(c.MaxBackoff); d > 0 {
		dialerOpts = append(dialerOpts, channel.WithMaxBackoff(d))
	}
	if c.MaxRetries > 0 {
		dialerOpts = append(dialerOpts, channel.WithMaxRetries(c.MaxRetries))
	}
	if c.TLS.Enable {
		tlsConfig, err := c.TLS.build()
		if err != nil {
			return nil, err
		}
		dialerOpts = append(dialerOpts, channel.WithTLS(tlsConfig))
	}
	if len(dialerOpts) > 0 {
		opts = append(opts, WithDialer(dialerOpts...))
	}

	if d, _ := parseDuration(c.HandshakeTimeout); d > 0 {
		opts = append(opts, WithHandshakeTimeout(d))
	}
	if d, _ := parseDuration(c.RequestTimeout); d > 0 {
		opts = append(opts, WithRequestTimeout(d))
	}
	if d, _ := parseDuration(c.Heartbeat); d > 0 {
		opts = append(opts, WithHeartbeat(d))
	}
	if c.EnableCompression {
		opts = append(opts, WithCompression(c.CompressionLevel))
	}
	if c.EncryptionKey != "" {
		key, err := hex.DecodeString(c.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("invalid encryption_key: %w", err)
		}
		opts = append(opts, WithEncryptionKey(key))
	}
	return opts, nil
}

func (t TLSConfig) build() (*tls.Config, error) {
	config := &tls.Config{
		ServerName:         t.ServerName,
		InsecureSkipVerify: t.InsecureSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}
	if t.CAPath != "" {
		caCert, err := os.ReadFile(t.CAPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("no certificates found in %s", t.CAPath)
		}
		config.RootCAs = pool
	}
	return config, nil
}

func parseDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration")
	}
	return d, nil
}
