package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the HOSTRUN_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	// Targets
	if v := os.Getenv("HOSTRUN_INVENTORY"); v != "" {
		cfg.Inventory = v
	}
	if v := os.Getenv("HOSTRUN_PROTOCOL"); v != "" {
		cfg.Protocol = strings.ToLower(v)
	}

	// Credentials
	if v := os.Getenv("HOSTRUN_USER"); v != "" {
		cfg.User = v
	}
	if v := os.Getenv("HOSTRUN_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv("HOSTRUN_SSH_KEY"); v != "" {
		cfg.SSHKeyPath = v
	}

	// SSH
	if v := os.Getenv("HOSTRUN_GATEWAY"); v != "" {
		cfg.Gateway = v
	}
	if envBool("HOSTRUN_STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := os.Getenv("HOSTRUN_KNOWN_HOSTS"); v != "" {
		cfg.KnownHostsPath = v
	}

	// Execution
	if v := envInt("HOSTRUN_WORKERS"); v > 0 {
		cfg.Workers = v
	}
	if v, ok := envIntSet("HOSTRUN_RETRIES"); ok && v >= 0 {
		cfg.Retries = v
	}
	if v := envInt("HOSTRUN_TIMEOUT"); v > 0 {
		cfg.Timeout = secondsDuration(v)
	}
	if v := os.Getenv("HOSTRUN_LOGDIR"); v != "" {
		cfg.LogDir = v
	}

	// Output
	if v := envInt("HOSTRUN_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	n, _ := envIntSet(key)
	return n
}

// envIntSet distinguishes an explicit "0" from an unset variable.
func envIntSet(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func secondsDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
