// Package errors provides the error taxonomy for hostrun.
//
// The types carry structured context (protocol, host, account, operation)
// so that the retry layer can decide what is worth another attempt and so
// that a failed run can be diagnosed from the error string alone.
package errors

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrNotConnected       = errors.New("not connected")
	ErrNotAuthenticated   = errors.New("not authenticated")
	ErrCircuitOpen        = errors.New("circuit breaker is open")
	ErrTimeout            = errors.New("operation timed out")
	ErrAuthFailed         = errors.New("authentication failed")
	ErrHostKeyMismatch    = errors.New("host key mismatch")
	ErrUnknownCommand     = errors.New("unknown command")
	ErrPoolExhausted      = errors.New("account pool exhausted")
	ErrHostUnauthorized   = errors.New("no account is valid for host")
	ErrAccountBusy        = errors.New("account is at its session limit")
	ErrCoordinatorStopped = errors.New("account coordinator is not running")
	ErrChannelClosed      = errors.New("coordination channel is closed")
)

// ── Orchestration errors ─────────────────────────────────────────────

// UnknownProtocolError is returned when a host names a protocol that has
// no registered transport.  It is raised when the action is built, before
// any coordination happens.
type UnknownProtocolError struct {
	Protocol string
	Known    []string // registered names, for the message
}

func (e *UnknownProtocolError) Error() string {
	if len(e.Known) == 0 {
		return fmt.Sprintf("unknown protocol %q", e.Protocol)
	}
	return fmt.Sprintf("unknown protocol %q (have %s)", e.Protocol, strings.Join(e.Known, ", "))
}

// AccountUnavailableError reports that the coordinator could not supply a
// credential.  Err is one of the pool sentinels or a context error.
type AccountUnavailableError struct {
	Account string // requested account name, empty for host requests
	Host    string // host address for host requests
	Err     error
}

func (e *AccountUnavailableError) Error() string {
	if e.Account != "" {
		return fmt.Sprintf("account %q unavailable: %v", e.Account, e.Err)
	}
	return fmt.Sprintf("no account for host %s: %v", e.Host, e.Err)
}

func (e *AccountUnavailableError) Unwrap() error { return e.Err }

// ConnectionSetupError wraps failures while building the transport or
// loading a fixture into it.
type ConnectionSetupError struct {
	Protocol string
	Host     string
	Op       string // "create", "fixture"
	Err      error
}

func (e *ConnectionSetupError) Error() string {
	return fmt.Sprintf("%s %s connection to %s: %v", e.Op, e.Protocol, e.Host, e.Err)
}

func (e *ConnectionSetupError) Unwrap() error { return e.Err }

// WorkRoutineError is returned when a work routine panics.  Ordinary
// errors returned by a routine are passed through untouched.
type WorkRoutineError struct {
	Host  string
	Panic interface{}
}

func (e *WorkRoutineError) Error() string {
	return fmt.Sprintf("work routine for %s panicked: %v", e.Host, e.Panic)
}

// ChannelCloseError reports a failed close of the coordination channel.
// It is only returned when nothing failed before it.
type ChannelCloseError struct {
	Err error
}

func (e *ChannelCloseError) Error() string {
	return fmt.Sprintf("close coordination channel: %v", e.Err)
}

func (e *ChannelCloseError) Unwrap() error { return e.Err }

// ── Structured error types ───────────────────────────────────────────

// NetworkError represents a failure in a network operation.
type NetworkError struct {
	Op        string // operation: "dial", "write", "read"
	Addr      string // network address involved
	Err       error  // underlying error
	Retryable bool   // whether the caller should retry
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// SSHError represents an SSH-specific failure with host context.
type SSHError struct {
	Op   string // "handshake", "auth", "session", "exec"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the user (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a NetworkError, automatically detecting retryability
// from the underlying error.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// ── Classification helpers ───────────────────────────────────────────

// IsRetryable reports whether another attempt at the same host might
// succeed.  Permanent failures and an open circuit never are.  A wrapped
// network error carries its own verdict.  Anything else (a busy device,
// an exhausted pool, a failing routine) is worth another try.
func IsRetryable(err error) bool {
	if err == nil || IsPermanent(err) || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return true
}

// IsPermanent reports whether another attempt cannot succeed: the
// protocol is unknown, the transport could not even be built, or the
// host presented a key that is not trusted.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrHostKeyMismatch) {
		return true
	}
	var upe *UnknownProtocolError
	if errors.As(err, &upe) {
		return true
	}
	var cse *ConnectionSetupError
	return errors.As(err, &cse)
}

// classifyRetryable inspects standard library error types.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Temporary() //nolint:staticcheck // Temporary is deprecated but still useful
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() //nolint:staticcheck
	}
	return false
}

// ── Re-exports for convenience ───────────────────────────────────────

// As is [errors.As].
func As(err error, target interface{}) bool { return errors.As(err, target) }

// Is is [errors.Is].
func Is(err, target error) bool { return errors.Is(err, target) }

// New is [errors.New].
func New(text string) error { return errors.New(text) }

// Unwrap is [errors.Unwrap].
func Unwrap(err error) error { return errors.Unwrap(err) }

// Join is [errors.Join].
func Join(errs ...error) error { return errors.Join(errs...) }
