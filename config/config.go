// Package config defines the runtime configuration for hostrun and
// provides helpers for parsing gateway specifications and loading host
// inventories.
package config

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	hrerr "hostrun/internal/errors"
)

// Config holds every tuneable for a single hostrun batch.
type Config struct {
	// ── Targets ──────────────────────────────────────────────────────
	Hosts     []string // host names or URLs from the command line
	Inventory string   // TOML inventory with [[account]] and [[host]]
	Protocol  string   // protocol for hosts given without a scheme

	// ── Work ─────────────────────────────────────────────────────────
	Commands []string // --exec, in order
	Script   string   // file with one command per line

	// ── Credentials ──────────────────────────────────────────────────
	User        string
	Password    string // from the prompt or HOSTRUN_PASSWORD
	AskPassword bool
	SSHKeyPath  string

	// ── SSH ──────────────────────────────────────────────────────────
	Gateway        string // [user@]host[:port] jump host
	StrictHostKey  bool
	KnownHostsPath string

	// ── Execution ────────────────────────────────────────────────────
	Workers int
	Retries int // extra attempts after the first
	Timeout time.Duration
	LogDir  string
	DryRun  bool

	// ── Output ───────────────────────────────────────────────────────
	Verbose int
}

// Default returns a Config populated from defaults.go.
func Default() *Config {
	return &Config{
		Protocol: DefaultProtocol,
		Workers:  DefaultWorkers,
		Retries:  DefaultRetries,
		Timeout:  DefaultConnTimeout,
	}
}

// Attempts is the total number of tries per host.
func (c *Config) Attempts() int { return c.Retries + 1 }

// ── Gateway-spec parser ──────────────────────────────────────────────

// tunnelRe matches [user@]host[:port].
var tunnelRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:]+)(?::(\d+))?$`)

// ParseTunnelSpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseTunnelSpec(spec string) (user, host string, port int, err error) {
	m := tunnelRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid gateway spec %q – expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid gateway port %q", m[3])
		}
	}
	if host == "" {
		return "", "", 0, fmt.Errorf("gateway host is required")
	}
	return user, host, port, nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is internally consistent.
// Every failure is a *errors.ConfigError.
func (c *Config) Validate() error {
	if len(c.Hosts) == 0 && c.Inventory == "" {
		return &hrerr.ConfigError{
			Field:   "host",
			Message: "at least one host is required",
			Hint:    "pass hosts as arguments or use --inventory <file>",
		}
	}

	if len(c.Commands) > 0 && c.Script != "" {
		return &hrerr.ConfigError{
			Field:   "script",
			Value:   c.Script,
			Message: "--exec and --script are mutually exclusive",
		}
	}

	if c.Protocol == "" {
		return &hrerr.ConfigError{
			Field:   "protocol",
			Message: "must not be empty",
			Hint:    "use one of ssh, ssh2, telnet, pseudo, dummy",
		}
	}

	if c.Workers < 1 {
		return &hrerr.ConfigError{
			Field:   "workers",
			Value:   c.Workers,
			Message: "must be at least 1",
		}
	}

	if c.Retries < 0 {
		return &hrerr.ConfigError{
			Field:   "retries",
			Value:   c.Retries,
			Message: "must not be negative",
		}
	}

	if c.Timeout < 0 {
		return &hrerr.ConfigError{
			Field:   "timeout",
			Value:   c.Timeout,
			Message: "must not be negative",
		}
	}

	if c.Gateway != "" {
		if _, _, _, err := ParseTunnelSpec(c.Gateway); err != nil {
			return &hrerr.ConfigError{
				Field:   "gateway",
				Value:   c.Gateway,
				Message: err.Error(),
				Hint:    "expected [user@]host[:port], e.g. ops@bastion:2222",
			}
		}
	}

	if c.AskPassword && c.Password != "" {
		return &hrerr.ConfigError{
			Field:   "ask-password",
			Message: "password already set from HOSTRUN_PASSWORD",
			Hint:    "unset HOSTRUN_PASSWORD or drop --ask-password",
		}
	}

	return nil
}
