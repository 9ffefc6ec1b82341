package connector

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oarkflow/connector/logger"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "connector.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `{
		"address": "ws://127.0.0.1:3250",
		"handshake": {"u": "alice"},
		"handshake_timeout": "3s",
		"request_timeout": "250ms",
		"heartbeat": "5s",
		"max_retries": 3,
		"retry_backoff": "100ms",
		"enable_compression": true,
		"encryption_key": "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f",
		"log_level": "silent"
	}`)
	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if config.Address != "ws://127.0.0.1:3250" || config.MaxRetries != 3 {
		t.Errorf("unexpected config %+v", config)
	}
	opts, err := config.Options()
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	options := setupOptions(opts...)
	if options.handshakeTimeout != 3*time.Second {
		t.Errorf("handshake timeout %s", options.handshakeTimeout)
	}
	if options.requestTimeout != 250*time.Millisecond {
		t.Errorf("request timeout %s", options.requestTimeout)
	}
	if options.heartbeat != 5*time.Second {
		t.Errorf("heartbeat %s", options.heartbeat)
	}
	if !options.serialization.EnableCompression {
		t.Error("compression should be enabled")
	}
	if len(options.encryptionKey) != 32 {
		t.Errorf("expected a 32 byte key, got %d", len(options.encryptionKey))
	}
	if _, ok := options.logger.(*logger.NullLogger); !ok {
		t.Errorf("silent log level should select the null logger, got %T", options.logger)
	}
	if len(options.dialerOptions) != 2 {
		t.Errorf("expected retry and backoff dialer options, got %d", len(options.dialerOptions))
	}

	if _, err := New(NewQueue(nil), opts...); err != nil {
		t.Errorf("config options should build a connector: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	cases := map[string]struct {
		config Config
		want   string
	}{
		"missing address": {Config{}, "address is required"},
		"bad duration":    {Config{Address: "a", Heartbeat: "soon"}, "invalid heartbeat"},
		"negative":        {Config{Address: "a", RequestTimeout: "-1s"}, "invalid request_timeout"},
		"retries":         {Config{Address: "a", MaxRetries: -1}, "max_retries"},
		"key not hex":     {Config{Address: "a", EncryptionKey: "zz"}, "invalid encryption_key"},
		"short key":       {Config{Address: "a", EncryptionKey: "0011"}, "32 bytes"},
		"ca without tls":  {Config{Address: "a", TLS: TLSConfig{CAPath: "ca.pem"}}, "tls is disabled"},
	}
	for name, tc := range cases {
		err := tc.config.Validate()
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Errorf("%s: expected error containing %q, got %v", name, tc.want, err)
		}
	}
	valid := Config{Address: "127.0.0.1:3010", ConnectTimeout: "1s"}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected an error for a missing file")
	}
	if _, err := LoadConfig(writeConfig(t, `{"address":`)); err == nil {
		t.Error("expected a parse error")
	}
	if _, err := LoadConfig(writeConfig(t, `{"address":""}`)); err == nil {
		t.Error("expected a validation error")
	}
}

func TestConfig_TLSMissingCA(t *testing.T) {
	config := Config{Address: "a", TLS: TLSConfig{Enable: true, CAPath: filepath.Join(t.TempDir(), "ca.pem")}}
	if err := config.Validate(); err != nil {
		t.Fatal(err)
	}
	if _, err := config.Options(); err == nil {
		t.Error("expected an error for an unreadable CA file")
	}
}
