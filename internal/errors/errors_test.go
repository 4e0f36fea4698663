package errors

import (
	"fmt"
	"io"
	"net"
	"testing"
)

func TestNetworkError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  NetworkError
		want string
	}{
		{
			name: "retryable",
			err:  NetworkError{Op: "dial", Addr: "example.com:80", Err: io.EOF, Retryable: true},
			want: "dial example.com:80: EOF (retryable)",
		},
		{
			name: "non-retryable",
			err:  NetworkError{Op: "listen", Addr: ":8080", Err: fmt.Errorf("bind failed")},
			want: "listen :8080: bind failed",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNetworkError_Unwrap(t *testing.T) {
	err := &NetworkError{Op: "dial", Addr: "x", Err: io.EOF}
	if !Is(err, io.EOF) {
		t.Error("should unwrap to io.EOF")
	}
}

func TestSSHError_Format(t *testing.T) {
	err := WrapSSH("handshake", "core-sw1.example.net", 22, fmt.Errorf("connection refused"))
	want := "ssh handshake core-sw1.example.net:22: connection refused"
	if got := err.Error(); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestSSHError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("auth fail")
	err := WrapSSH("auth", "host", 22, inner)
	if !Is(err, inner) {
		t.Error("should unwrap to inner error")
	}
}

func TestConfigError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  ConfigError
		want string
	}{
		{
			name: "with value and hint",
			err: ConfigError{
				Field:   "port",
				Value:   99999,
				Message: "out of range 1-65535",
				Hint:    "use a port between 1 and 65535",
			},
			want: "config: --port=99999: out of range 1-65535\n  hint: use a port between 1 and 65535",
		},
		{
			name: "missing value no hint",
			err: ConfigError{
				Field:   "inventory",
				Message: "required when no hosts are given",
			},
			want: "config: --inventory: required when no hosts are given",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got:\n%s\nwant:\n%s", got, tt.want)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	inner := fmt.Errorf("connection refused")
	err := Wrap("dial", "10.0.0.1:22", inner)

	if err.Op != "dial" || err.Addr != "10.0.0.1:22" {
		t.Errorf("wrong fields: Op=%q Addr=%q", err.Op, err.Addr)
	}
	if !Is(err, inner) {
		t.Error("should unwrap to inner error")
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"retryable network", &NetworkError{Op: "dial", Addr: "x", Err: io.EOF, Retryable: true}, true},
		{"non-retryable network", &NetworkError{Op: "dial", Addr: "x", Err: io.EOF, Retryable: false}, false},
		{"wrapped non-retryable network", fmt.Errorf("attempt 2: %w", &NetworkError{Op: "read", Err: io.EOF}), false},
		{"plain error", fmt.Errorf("device busy"), true},
		{"account", &AccountUnavailableError{Err: ErrPoolExhausted}, true},
		{"circuit open", fmt.Errorf("r1: %w", ErrCircuitOpen), false},
		{"unknown protocol", &UnknownProtocolError{Protocol: "x"}, false},
		{"host key", &SSHError{Op: "handshake", Err: fmt.Errorf("%w: r1", ErrHostKeyMismatch)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOrchestrationErrors_Format(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"unknown protocol", &UnknownProtocolError{Protocol: "telnetx"}, `unknown protocol "telnetx"`},
		{
			"unknown protocol with known",
			&UnknownProtocolError{Protocol: "telnetx", Known: []string{"ssh", "telnet"}},
			`unknown protocol "telnetx" (have ssh, telnet)`,
		},
		{
			"account by name",
			&AccountUnavailableError{Account: "admin", Err: ErrAccountBusy},
			`account "admin" unavailable: account is at its session limit`,
		},
		{
			"account by host",
			&AccountUnavailableError{Host: "10.0.0.1", Err: ErrPoolExhausted},
			"no account for host 10.0.0.1: account pool exhausted",
		},
		{
			"setup",
			&ConnectionSetupError{Protocol: "pseudo", Host: "r1.toml", Op: "fixture", Err: io.ErrUnexpectedEOF},
			"fixture pseudo connection to r1.toml: unexpected EOF",
		},
		{"panic", &WorkRoutineError{Host: "r1", Panic: "boom"}, "work routine for r1 panicked: boom"},
		{"close", &ChannelCloseError{Err: io.ErrClosedPipe}, "close coordination channel: io: read/write on closed pipe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAccountUnavailableError_Unwrap(t *testing.T) {
	err := &AccountUnavailableError{Host: "h", Err: ErrHostUnauthorized}
	if !Is(err, ErrHostUnauthorized) {
		t.Error("should unwrap to ErrHostUnauthorized")
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unknown protocol", &UnknownProtocolError{Protocol: "x"}, true},
		{"wrapped setup", fmt.Errorf("attempt 1: %w", &ConnectionSetupError{Err: io.EOF}), true},
		{"account", &AccountUnavailableError{Err: ErrPoolExhausted}, false},
		{"host key", fmt.Errorf("%w: r1", ErrHostKeyMismatch), true},
		{"plain", io.EOF, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanent(tt.err); got != tt.want {
				t.Errorf("IsPermanent() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyRetryable_NetOpError(t *testing.T) {
	opErr := &net.OpError{
		Op:  "dial",
		Net: "tcp",
		Err: &net.DNSError{IsTemporary: true},
	}
	if !classifyRetryable(opErr) {
		t.Error("temporary OpError should be retryable")
	}
}

func TestSentinels(t *testing.T) {
	// Verify sentinel errors are distinct.
	sentinels := []error{
		ErrNotConnected, ErrNotAuthenticated, ErrCircuitOpen,
		ErrTimeout, ErrAuthFailed, ErrHostKeyMismatch, ErrUnknownCommand,
		ErrPoolExhausted, ErrHostUnauthorized, ErrAccountBusy,
		ErrCoordinatorStopped, ErrChannelClosed,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && Is(a, b) {
				t.Errorf("sentinel %d and %d should not match", i, j)
			}
		}
	}
}
