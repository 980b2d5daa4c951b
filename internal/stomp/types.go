package stomp

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// Errors
var (
	ErrNotConnected     = errors.New("stomp: not connected")
	ErrAlreadyConnected = errors.New("stomp: already connected")
	ErrClosed           = errors.New("stomp: session closed")
	ErrHandshakeTimeout = errors.New("stomp: handshake timeout")
	ErrHeartbeatTimeout = errors.New("stomp: server heart-beat timeout")
	ErrTransportClosed  = errors.New("stomp: transport closed")
	ErrNilHandler       = errors.New("stomp: nil message handler")
	ErrInvalidHeartbeat = errors.New("stomp: invalid heart-beat header")
	ErrEmptyDestination = errors.New("stomp: empty destination")
)

const (
	defaultAcceptVersion = "1.2,1.1,1.0"
	contentTypeJSON      = "application/json"
)

// ServerError is an ERROR frame received from the broker.
type ServerError struct {
	Message string // "message" header
	Body    string // Frame body, usually a longer description
	Status  int    // Numeric status when the broker reports one, else 0
}

func (e *ServerError) Error() string {
	var b strings.Builder
	b.WriteString("stomp: server error")
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if body := strings.TrimSpace(e.Body); body != "" {
		b.WriteString(": ")
		b.WriteString(body)
	}
	return b.String()
}

// parseStatus extracts a status code from an explicit "status" header or a
// leading three-digit code in the message ("401 Unauthorized").
func parseStatus(header, message string) int {
	if n, err := strconv.Atoi(strings.TrimSpace(header)); err == nil {
		return n
	}
	if len(message) >= 3 {
		if n, err := strconv.Atoi(message[:3]); err == nil && (len(message) == 3 || message[3] == ' ') {
			return n
		}
	}
	return 0
}

// Message is an inbound MESSAGE frame.
type Message struct {
	Destination  string
	Subscription string
	MessageID    string
	ContentType  string
	Body         []byte
	ReceivedAt   time.Time
}

// MessageHandler receives messages for one subscription. Handlers run on the
// session's read goroutine; a slow handler delays later frames.
type MessageHandler func(Message)

// Subscription is an active SUBSCRIBE.
type Subscription interface {
	// ID returns the subscription id sent to the broker.
	ID() string

	// Destination returns the subscribed topic.
	Destination() string

	// Unsubscribe stops delivery. Safe to call more than once.
	Unsubscribe() error
}

// Config configures a STOMP session.
type Config struct {
	Host              string        // "host" CONNECT header; empty = omit
	AcceptVersion     string        // "accept-version" CONNECT header
	HeartbeatOutgoing time.Duration // Smallest interval we can send heart-beats at (0 = never)
	HeartbeatIncoming time.Duration // Interval we want to receive heart-beats at (0 = never)
	HandshakeTimeout  time.Duration // Max wait for CONNECTED (0 = no limit)
	DisconnectTimeout time.Duration // Max wait for the DISCONNECT receipt
	Debug             bool          // Trace every frame at Debug level
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		AcceptVersion:     defaultAcceptVersion,
		HeartbeatOutgoing: 10 * time.Second,
		HeartbeatIncoming: 10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		DisconnectTimeout: 2 * time.Second,
	}
}

// formatHeartbeat renders a heart-beat header value in milliseconds.
func formatHeartbeat(out, in time.Duration) string {
	return strconv.FormatInt(out.Milliseconds(), 10) + "," + strconv.FormatInt(in.Milliseconds(), 10)
}

// parseHeartbeat parses a heart-beat header value. A missing header means "0,0".
func parseHeartbeat(v string) (sx, sy time.Duration, err error) {
	if v == "" {
		return 0, 0, nil
	}
	parts := strings.Split(v, ",")
	if len(parts) != 2 {
		return 0, 0, ErrInvalidHeartbeat
	}
	x, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil || x < 0 {
		return 0, 0, ErrInvalidHeartbeat
	}
	y, err := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if err != nil || y < 0 {
		return 0, 0, ErrInvalidHeartbeat
	}
	return time.Duration(x) * time.Millisecond, time.Duration(y) * time.Millisecond, nil
}

// negotiateHeartbeat applies the STOMP 1.2 rule: each direction is the larger
// of what one side offers and the other wants, or disabled if either is zero.
func negotiateHeartbeat(cx, cy, sx, sy time.Duration) (out, in time.Duration) {
	if cx > 0 && sy > 0 {
		out = max(cx, sy)
	}
	if cy > 0 && sx > 0 {
		in = max(cy, sx)
	}
	return out, in
}
