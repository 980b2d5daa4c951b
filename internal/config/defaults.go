package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultTokenEnv          = "GROUPSHARE_TOKEN"
	DefaultRefreshSkew       = 30 * time.Second
	DefaultMaxAttempts       = 3
	DefaultRetryDelay        = 1 * time.Second
	DefaultAuthFailureMarker = "401"
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultDisconnectTimeout = 2 * time.Second
	DefaultHeartbeat         = 10 * time.Second
	DefaultPingInterval      = 30 * time.Second
	DefaultPingTimeout       = 90 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
	DefaultDialTimeout       = 10 * time.Second
	DefaultBufferSize        = 256
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "text"
)

func (c *Config) applyDefaults() {
	// Auth defaults
	if c.Auth.Token == "" && c.Auth.TokenEnv == "" && c.Auth.TokenFile == "" {
		c.Auth.TokenEnv = DefaultTokenEnv
	}
	if c.Auth.RefreshSkew == 0 {
		c.Auth.RefreshSkew = DefaultRefreshSkew
	}

	// Session defaults
	if c.Session.MaxAttempts == 0 {
		c.Session.MaxAttempts = DefaultMaxAttempts
	}
	if c.Session.RetryDelay == 0 {
		c.Session.RetryDelay = DefaultRetryDelay
	}
	if c.Session.AuthFailureMarker == nil {
		marker := DefaultAuthFailureMarker
		c.Session.AuthFailureMarker = &marker
	}
	if c.Session.HandshakeTimeout == 0 {
		c.Session.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Session.DisconnectTimeout == 0 {
		c.Session.DisconnectTimeout = DefaultDisconnectTimeout
	}
	if c.Session.HeartbeatOutgoing == 0 {
		c.Session.HeartbeatOutgoing = DefaultHeartbeat
	}
	if c.Session.HeartbeatIncoming == 0 {
		c.Session.HeartbeatIncoming = DefaultHeartbeat
	}

	// Transport defaults
	if c.Transport.PingInterval == 0 {
		c.Transport.PingInterval = DefaultPingInterval
	}
	if c.Transport.PingTimeout == 0 {
		c.Transport.PingTimeout = DefaultPingTimeout
	}
	if c.Transport.WriteTimeout == 0 {
		c.Transport.WriteTimeout = DefaultWriteTimeout
	}
	if c.Transport.HandshakeTimeout == 0 {
		c.Transport.HandshakeTimeout = DefaultDialTimeout
	}
	if c.Transport.BufferSize == 0 {
		c.Transport.BufferSize = DefaultBufferSize
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}
