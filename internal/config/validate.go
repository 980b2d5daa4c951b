package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Service.WSURL == "" {
		return errors.New("service.ws_url is required")
	}
	u, err := url.Parse(c.Service.WSURL)
	if err != nil {
		return fmt.Errorf("service.ws_url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("service.ws_url must use ws or wss, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("service.ws_url must include a host")
	}

	if c.Auth.RefreshSkew < 0 {
		return errors.New("auth.refresh_skew must be >= 0")
	}

	if c.Session.MaxAttempts < 1 {
		return errors.New("session.max_attempts must be >= 1")
	}
	if c.Session.RetryDelay < 0 {
		return errors.New("session.retry_delay must be >= 0")
	}
	if c.Session.HandshakeTimeout < 0 {
		return errors.New("session.handshake_timeout must be >= 0")
	}

	if c.Transport.BufferSize < 1 {
		return errors.New("transport.buffer_size must be >= 1")
	}
	if c.Transport.PingInterval > 0 && c.Transport.PingTimeout > 0 && c.Transport.PingTimeout <= c.Transport.PingInterval {
		return fmt.Errorf("transport.ping_timeout (%v) must be greater than transport.ping_interval (%v)",
			c.Transport.PingTimeout, c.Transport.PingInterval)
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown level %q", s)
	}
	return level, nil
}
