package realtime

import (
	"errors"
	"fmt"
)

// Errors
var (
	ErrEmptyGroupID      = errors.New("realtime: empty group id")
	ErrNoTokenProvider   = errors.New("realtime: token provider is required")
	ErrNoDialer          = errors.New("realtime: dialer is required")
	ErrNoToken           = errors.New("realtime: no access token available")
	ErrMaxAttempts       = errors.New("Max connection attempts reached")
	ErrNotConnected      = errors.New("realtime: not connected")
	ErrClosed            = errors.New("realtime: manager disconnected")
	ErrConnectInProgress = errors.New("realtime: connect already in progress")
)

// ErrorKind classifies a connect failure.
type ErrorKind int

const (
	// KindAuthentication means no token was available or the service
	// refused the credential.
	KindAuthentication ErrorKind = iota + 1

	// KindTransport means the socket closed or the handshake failed for a
	// reason other than authorization.
	KindTransport
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindTransport:
		return "transport"
	default:
		return "unknown"
	}
}

// ConnectError is a terminal Connect failure.
type ConnectError struct {
	Kind    ErrorKind
	Attempt int // 1-based handshake attempt that failed
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("realtime: %s error (attempt %d): %v", e.Kind, e.Attempt, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err is an authentication failure, including
// an exhausted retry budget.
func IsAuthError(err error) bool {
	if errors.Is(err, ErrMaxAttempts) {
		return true
	}
	var ce *ConnectError
	return errors.As(err, &ce) && ce.Kind == KindAuthentication
}
