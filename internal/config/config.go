package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds call-relay-service configuration.
type Config struct {
	AppEnv   string // APP_ENV
	AppHost  string // APP_HOST
	HTTPPort string // APP_PORT or HTTP_PORT
	LogLevel string // LOG_LEVEL

	// WebSocket
	WSReadBufferSize  int
	WSWriteBufferSize int
	WSMaxMessageSize  int64
	WSSendBuffer      int

	// WebSocket URL returned by GET /status (e.g. wss://chat.example.com)
	WSBaseURL string

	// Chat
	Identities         []string // CHAT_IDENTITIES, exactly two
	AttachmentMaxBytes int

	// Call
	CallRingTimeout time.Duration
	CallCooldown    time.Duration
}

// Load loads config from environment (.env if present).
func Load() (*Config, error) {
	_ = godotenv.Load()

	readBuf, err := intEnv("WS_READ_BUFFER_SIZE", 4096)
	if err != nil {
		return nil, err
	}
	writeBuf, err := intEnv("WS_WRITE_BUFFER_SIZE", 4096)
	if err != nil {
		return nil, err
	}
	// base64 inflates a 2 MiB attachment to ~2.7 MiB, so the frame limit sits above it
	maxMsg, err := strconv.ParseInt(getEnv("WS_MAX_MESSAGE_SIZE", "4194304"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("config: WS_MAX_MESSAGE_SIZE: %w", err)
	}
	sendBuf, err := intEnv("WS_SEND_BUFFER", 256)
	if err != nil {
		return nil, err
	}
	maxAtt, err := intEnv("ATTACHMENT_MAX_BYTES", 2<<20)
	if err != nil {
		return nil, err
	}
	ring, err := intEnv("CALL_RING_TIMEOUT", 30)
	if err != nil {
		return nil, err
	}
	cooldown, err := intEnv("CALL_COOLDOWN", 5)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		AppHost:            getEnv("APP_HOST", "0.0.0.0"),
		HTTPPort:           firstEnv("APP_PORT", "HTTP_PORT", "PORT", "3000"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		WSReadBufferSize:   readBuf,
		WSWriteBufferSize:  writeBuf,
		WSMaxMessageSize:   maxMsg,
		WSSendBuffer:       sendBuf,
		WSBaseURL:          getEnv("WS_BASE_URL", ""),
		Identities:         splitList(getEnv("CHAT_IDENTITIES", "rav,mon")),
		AttachmentMaxBytes: maxAtt,
		CallRingTimeout:    time.Duration(ring) * time.Second,
		CallCooldown:       time.Duration(cooldown) * time.Second,
	}
	return cfg, nil
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return errors.New("config: APP_PORT is required")
	}
	if len(c.Identities) != 2 {
		return fmt.Errorf("config: CHAT_IDENTITIES must name exactly two users, got %d", len(c.Identities))
	}
	if c.Identities[0] == c.Identities[1] {
		return errors.New("config: CHAT_IDENTITIES must be distinct")
	}
	if c.AttachmentMaxBytes <= 0 {
		return errors.New("config: ATTACHMENT_MAX_BYTES must be positive")
	}
	if need := MinFrameSize(c.AttachmentMaxBytes); c.WSMaxMessageSize < need {
		return fmt.Errorf("config: WS_MAX_MESSAGE_SIZE must be at least %d for ATTACHMENT_MAX_BYTES=%d", need, c.AttachmentMaxBytes)
	}
	if c.CallRingTimeout <= 0 || c.CallCooldown <= 0 {
		return errors.New("config: CALL_RING_TIMEOUT and CALL_COOLDOWN must be positive")
	}
	return nil
}

// frameOverhead leaves room for the envelope, the file name and message text.
const frameOverhead = 64 << 10

// MinFrameSize is the smallest WebSocket frame limit that still carries a base64
// attachment of attachmentMax bytes, so an oversize attachment gets an error reply
// instead of hitting the read limit, which closes the connection.
func MinFrameSize(attachmentMax int) int64 {
	return int64(base64.StdEncoding.EncodedLen(attachmentMax)) + frameOverhead
}

// Addr returns listen address for HTTP server.
func (c *Config) Addr() string {
	return c.AppHost + ":" + c.HTTPPort
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func intEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func firstEnv(keysAndDef ...string) string {
	if len(keysAndDef) == 0 {
		return ""
	}
	def := keysAndDef[len(keysAndDef)-1]
	keys := keysAndDef[:len(keysAndDef)-1]
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
