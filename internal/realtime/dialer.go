package realtime

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rickgao/groupshare/internal/connection"
	"github.com/rickgao/groupshare/internal/stomp"
	"github.com/rickgao/groupshare/internal/version"
)

// Session is a pub/sub session with the realtime service. stomp.Client
// satisfies it.
type Session interface {
	Connect(ctx context.Context, headers map[string]string) error
	Subscribe(destination string, handler stomp.MessageHandler) (stomp.Subscription, error)
	Send(destination string, headers map[string]string, body []byte) error
	Disconnect() error
	Close() error
	Done() <-chan struct{}
	Err() error
}

var _ Session = stomp.Client(nil)

// Dialer opens the transport to the service endpoint and wraps it in a
// session that has not yet performed its handshake.
type Dialer func(ctx context.Context) (Session, error)

// TokenProvider supplies the bearer token for the handshake. An empty token
// with a nil error means the user is not signed in.
type TokenProvider interface {
	AccessToken(ctx context.Context) (string, error)
}

// tokenInvalidator is implemented by providers that cache tokens.
type tokenInvalidator interface {
	Invalidate()
}

// WebSocketDialer returns a Dialer that opens a WebSocket with connCfg and
// runs STOMP over it with stompCfg.
func WebSocketDialer(connCfg connection.ClientConfig, stompCfg stomp.Config, logger *slog.Logger) Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	if connCfg.UserAgent == "" {
		connCfg.UserAgent = version.UserAgent()
	}
	if len(connCfg.Subprotocols) == 0 {
		connCfg.Subprotocols = connection.StompSubprotocols
	}

	return func(ctx context.Context) (Session, error) {
		conn := connection.NewClient(connCfg, logger)
		if err := conn.Connect(ctx); err != nil {
			return nil, fmt.Errorf("open transport: %w", err)
		}
		return stomp.NewClient(conn, stompCfg, logger), nil
	}
}
