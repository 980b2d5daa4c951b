package connection

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// Close codes without a constant in gorilla/websocket.
const (
	CloseNoStatus = websocket.CloseNoStatusReceived // 1005
	CloseAbnormal = websocket.CloseAbnormalClosure  // 1006
)

// StompSubprotocols are offered on every upgrade, most preferred first.
var StompSubprotocols = []string{"v12.stomp", "v11.stomp", "v10.stomp"}

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// CloseError describes how the socket went away. It mirrors the browser
// CloseEvent: code, reason and whether the closing handshake completed.
type CloseError struct {
	Code     int
	Reason   string
	WasClean bool
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("websocket closed: code %d", e.Code)
	}
	return fmt.Sprintf("websocket closed: code %d: %s", e.Code, e.Reason)
}

// DialError is returned when the WebSocket upgrade fails. StatusCode is zero
// when no HTTP response was received.
type DialError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DialError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("dial %s: http %d %s: %v", e.URL, e.StatusCode, http.StatusText(e.StatusCode), e.Err)
	}
	return fmt.Sprintf("dial %s: %v", e.URL, e.Err)
}

func (e *DialError) Unwrap() error { return e.Err }

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., wss://api.example.com/ws)
	Header           http.Header   // Extra upgrade request headers
	Subprotocols     []string      // Sec-WebSocket-Protocol offers
	UserAgent        string        // User-Agent upgrade header (empty = omit)
	HandshakeTimeout time.Duration // Upgrade request timeout
	PingInterval     time.Duration // Keepalive ping period
	PingTimeout      time.Duration // Max time without ping/pong before considering connection stale
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Subprotocols:     StompSubprotocols,
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PingTimeout:      90 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       256,
	}
}
