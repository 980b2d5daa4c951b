package stomp

import (
	"errors"
	"testing"
	"time"
)

func TestParseHeartbeat(t *testing.T) {
	tests := []struct {
		value   string
		sx, sy  time.Duration
		wantErr bool
	}{
		{"", 0, 0, false},
		{"0,0", 0, 0, false},
		{"10000,5000", 10 * time.Second, 5 * time.Second, false},
		{" 250 , 100 ", 250 * time.Millisecond, 100 * time.Millisecond, false},
		{"10000", 0, 0, true},
		{"a,b", 0, 0, true},
		{"-1,0", 0, 0, true},
		{"1,2,3", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			sx, sy, err := parseHeartbeat(tt.value)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidHeartbeat) {
					t.Errorf("expected ErrInvalidHeartbeat, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if sx != tt.sx || sy != tt.sy {
				t.Errorf("parseHeartbeat(%q) = %v,%v, want %v,%v", tt.value, sx, sy, tt.sx, tt.sy)
			}
		})
	}
}

func TestNegotiateHeartbeat(t *testing.T) {
	s := time.Second

	tests := []struct {
		name           string
		cx, cy, sx, sy time.Duration
		out, in        time.Duration
	}{
		{"both disabled", 0, 0, 0, 0, 0, 0},
		{"server disabled", 10 * s, 10 * s, 0, 0, 0, 0},
		{"client disabled", 0, 0, 10 * s, 10 * s, 0, 0},
		{"larger wins", 10 * s, 10 * s, 5 * s, 20 * s, 20 * s, 10 * s},
		{"outgoing only", 10 * s, 0, 5 * s, 5 * s, 10 * s, 0},
		{"incoming only", 0, 4 * s, 8 * s, 5 * s, 0, 8 * s},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, in := negotiateHeartbeat(tt.cx, tt.cy, tt.sx, tt.sy)
			if out != tt.out || in != tt.in {
				t.Errorf("negotiateHeartbeat = %v,%v, want %v,%v", out, in, tt.out, tt.in)
			}
		})
	}
}

func TestFormatHeartbeat(t *testing.T) {
	if got := formatHeartbeat(10*time.Second, 500*time.Millisecond); got != "10000,500" {
		t.Errorf("formatHeartbeat = %q, want %q", got, "10000,500")
	}
	if got := formatHeartbeat(0, 0); got != "0,0" {
		t.Errorf("formatHeartbeat = %q, want %q", got, "0,0")
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		header, message string
		want            int
	}{
		{"", "401 Unauthorized", 401},
		{"403", "Forbidden", 403},
		{"", "401", 401},
		{"", "4010 things", 0},
		{"", "Unauthorized", 0},
		{"", "", 0},
		{"", "Failed: 401", 0},
	}

	for _, tt := range tests {
		if got := parseStatus(tt.header, tt.message); got != tt.want {
			t.Errorf("parseStatus(%q, %q) = %d, want %d", tt.header, tt.message, got, tt.want)
		}
	}
}

func TestServerError_Error(t *testing.T) {
	tests := []struct {
		err  *ServerError
		want string
	}{
		{&ServerError{}, "stomp: server error"},
		{&ServerError{Message: "401 Unauthorized"}, "stomp: server error: 401 Unauthorized"},
		{&ServerError{Message: "bad", Body: "details\n"}, "stomp: server error: bad: details"},
	}

	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.AcceptVersion != "1.2,1.1,1.0" {
		t.Errorf("AcceptVersion = %q", cfg.AcceptVersion)
	}
	if cfg.HeartbeatOutgoing != 10*time.Second || cfg.HeartbeatIncoming != 10*time.Second {
		t.Errorf("heart-beat = %v,%v, want 10s,10s", cfg.HeartbeatOutgoing, cfg.HeartbeatIncoming)
	}
	if cfg.HandshakeTimeout != 10*time.Second {
		t.Errorf("HandshakeTimeout = %v, want 10s", cfg.HandshakeTimeout)
	}
	if cfg.DisconnectTimeout != 2*time.Second {
		t.Errorf("DisconnectTimeout = %v, want 2s", cfg.DisconnectTimeout)
	}
}
