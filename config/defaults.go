package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across CLI flags, inventory parsing, and environment variable
// loading.

const (
	// DefaultProtocol is used for hosts given without a scheme.
	DefaultProtocol = "ssh"

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22

	// DefaultConnTimeout is the TCP/SSH connection and per-command
	// timeout.
	DefaultConnTimeout = 30 * time.Second

	// DefaultWorkers is how many hosts are worked on at once.
	DefaultWorkers = 8

	// DefaultRetries is how many extra attempts a failing host gets.
	DefaultRetries = 2

	// DefaultRetryDelay is the wait before the first retry; it doubles
	// up to DefaultMaxRetryDelay.
	DefaultRetryDelay = 500 * time.Millisecond

	// DefaultMaxRetryDelay caps the backoff between attempts.
	DefaultMaxRetryDelay = 10 * time.Second

	// DefaultBreakerFailures is how many consecutive failed attempts
	// across the batch open the circuit breaker.
	DefaultBreakerFailures = 10

	// DefaultBreakerReset is how long the breaker stays open.
	DefaultBreakerReset = 30 * time.Second

	// DefaultAccountSessions is how many concurrent sessions one
	// inventory account may hold when it does not say.
	DefaultAccountSessions = 1
)
