package config

import "time"

// Config is the root configuration for a realtime client.
type Config struct {
	Service   ServiceConfig   `yaml:"service"`
	Auth      AuthConfig      `yaml:"auth"`
	Session   SessionConfig   `yaml:"session"`
	Transport TransportConfig `yaml:"transport"`
	Log       LogConfig       `yaml:"log"`
}

// ServiceConfig locates the realtime service.
type ServiceConfig struct {
	WSURL string `yaml:"ws_url"` // STOMP-over-WebSocket endpoint
}

// AuthConfig selects where the bearer token comes from. The first non-empty
// source wins: token, token_env, token_file.
type AuthConfig struct {
	Token       string        `yaml:"token"`
	TokenEnv    string        `yaml:"token_env"`
	TokenFile   string        `yaml:"token_file"`
	RefreshSkew time.Duration `yaml:"refresh_skew"` // Refresh a JWT this long before exp
}

// SessionConfig holds STOMP session and retry settings.
type SessionConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`        // Handshake attempts across the session's lifetime
	RetryDelay        time.Duration `yaml:"retry_delay"`         // Wait after an authorization failure
	AuthFailureMarker *string       `yaml:"auth_failure_marker"` // Error text that marks an authorization failure; "" disables
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`   // Max wait for CONNECTED
	DisconnectTimeout time.Duration `yaml:"disconnect_timeout"`  // Max wait for the DISCONNECT receipt
	HeartbeatOutgoing time.Duration `yaml:"heartbeat_outgoing"`  // Negative disables
	HeartbeatIncoming time.Duration `yaml:"heartbeat_incoming"`  // Negative disables
	Debug             bool          `yaml:"debug"`               // Trace every frame
}

// AuthMarker returns the configured marker, or the default when unset.
func (s SessionConfig) AuthMarker() string {
	if s.AuthFailureMarker == nil {
		return DefaultAuthFailureMarker
	}
	return *s.AuthFailureMarker
}

// TransportConfig holds WebSocket settings.
type TransportConfig struct {
	PingInterval     time.Duration `yaml:"ping_interval"` // Negative disables
	PingTimeout      time.Duration `yaml:"ping_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	BufferSize       int           `yaml:"buffer_size"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}
