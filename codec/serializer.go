package codec

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/oarkflow/errors"
	"github.com/oarkflow/json"
	"golang.org/x/crypto/chacha20poly1305"
)

// Error definitions for serialization
var (
	ErrSerializationFailed   = errors.New("serialization failed")
	ErrDeserializationFailed = errors.New("deserialization failed")
	ErrCompressionFailed     = errors.New("compression failed")
	ErrDecompressionFailed   = errors.New("decompression failed")
	ErrEncryptionFailed      = errors.New("encryption failed")
	ErrDecryptionFailed      = errors.New("decryption failed")
	ErrInvalidKey            = errors.New("invalid encryption key")
)

// SerializationConfig holds body serialization configuration
type SerializationConfig struct {
	EnableCompression    bool
	CompressionLevel     int
	CompressionThreshold int
	MaxCompressionRatio  float64
	EncryptionKey        []byte
}

// DefaultSerializationConfig returns default configuration
func DefaultSerializationConfig() *SerializationConfig {
	return &SerializationConfig{
		EnableCompression:    false,
		CompressionLevel:     gzip.DefaultCompression,
		CompressionThreshold: 256,
		MaxCompressionRatio:  0.8, // Only compress if we save at least 20%
	}
}

// Serializer turns payloads into message bodies and back. Compression and
// encryption are recorded in the message flag byte, so a peer configured with
// the same key can decode bodies regardless of its own compression setting.
type Serializer struct {
	config *SerializationConfig
	aead   cipher.AEAD
	mu     sync.RWMutex
}

// NewSerializer creates a serializer; nil config means plain JSON bodies.
func NewSerializer(config *SerializationConfig) *Serializer {
	if config == nil {
		config = DefaultSerializationConfig()
	}
	return &Serializer{config: config}
}

// SetEncryptionKey installs a 32 byte chacha20poly1305 key. An empty key
// disables encryption.
func (s *Serializer) SetEncryptionKey(key []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(key) == 0 {
		s.config.EncryptionKey = nil
		s.aead = nil
		return nil
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	s.config.EncryptionKey = key
	s.aead = aead
	return nil
}

// Marshal converts a payload into JSON. Raw JSON passes through untouched and
// nil becomes an empty object.
func Marshal(v any) ([]byte, error) {
	if v == nil {
		return []byte("{}"), nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return rawOrEmpty(raw), nil
	}
	if raw, ok := v.([]byte); ok {
		return rawOrEmpty(raw), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	return data, nil
}

func rawOrEmpty(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}

// Unmarshal decodes a JSON body into v.
func Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: empty data", ErrDeserializationFailed)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrDeserializationFailed, err)
	}
	return nil
}

// Encode applies optional compression and encryption to body and returns the
// flag bits describing what was applied.
func (s *Serializer) Encode(body []byte) ([]byte, byte, error) {
	s.mu.RLock()
	config := s.config
	aead := s.aead
	s.mu.RUnlock()

	var flags byte
	data := body
	if config.EnableCompression && len(data) > config.CompressionThreshold {
		compressed, err := compress(data, config.CompressionLevel)
		// Keep the plain body when compression fails or does not pay off.
		if err == nil && float64(len(compressed))/float64(len(data)) <= config.MaxCompressionRatio {
			data = compressed
			flags |= flagCompressed
		}
	}
	if aead != nil {
		encrypted, err := encrypt(aead, data)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
		}
		data = encrypted
		flags |= flagEncrypted
	}
	return data, flags, nil
}

// Decode reverses Encode for the given flag bits.
func (s *Serializer) Decode(data []byte, flags byte) ([]byte, error) {
	if flags&flagEncrypted != 0 {
		s.mu.RLock()
		aead := s.aead
		s.mu.RUnlock()
		if aead == nil {
			return nil, fmt.Errorf("%w: no key configured", ErrDecryptionFailed)
		}
		decrypted, err := decrypt(aead, data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
		}
		data = decrypted
	}
	if flags&flagCompressed != 0 {
		decompressed, err := decompress(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
		}
		data = decompressed
	}
	return data, nil
}

func compress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	writer, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	reader, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(io.LimitReader(reader, MaxBodyLength+1)); err != nil {
		return nil, err
	}
	if buf.Len() > MaxBodyLength {
		return nil, fmt.Errorf("inflated body exceeds %d bytes", MaxBodyLength)
	}
	return buf.Bytes(), nil
}

// encrypt seals data as nonce | timestamp | ciphertext, with the timestamp
// authenticated as associated data.
func encrypt(aead cipher.AEAD, data []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	timestampBytes := make([]byte, 8)
	binary.BigEndian.PutUint64(timestampBytes, uint64(time.Now().Unix()))
	ciphertext := aead.Seal(nil, nonce, data, timestampBytes)

	result := make([]byte, 0, len(nonce)+len(timestampBytes)+len(ciphertext))
	result = append(result, nonce...)
	result = append(result, timestampBytes...)
	return append(result, ciphertext...), nil
}

func decrypt(aead cipher.AEAD, data []byte) ([]byte, error) {
	nonceSize := aead.NonceSize()
	if len(data) < nonceSize+8 {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce := data[:nonceSize]
	timestampBytes := data[nonceSize : nonceSize+8]
	return aead.Open(nil, nonce, data[nonceSize+8:], timestampBytes)
}
