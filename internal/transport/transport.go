// Package transport provides the protocol implementations a host action
// can talk through, and the registry that maps protocol names to them.
//
// A Transport knows how to reach one device and move text to and from
// it.  What is said over the connection is the work routine's business;
// the connection adapter sits between the two and forwards everything
// the transport receives to the action's log.
package transport

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"hostrun/internal/account"
	"hostrun/internal/host"
)

// Dialer opens outbound network connections.  Implementations include
// a plain TCP dialer and an SSH-tunnelled dialer that routes traffic
// through a gateway.
type Dialer interface {
	// Dial establishes a connection to the given network address.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close releases any long-lived resources held by the dialer
	// (e.g. an SSH session).  Stateless dialers return nil.
	Close() error
}

// Transport is the shared connect/read/write capability of every
// protocol.
type Transport interface {
	// Connect reaches the host.  No credentials are used yet.
	Connect(ctx context.Context, h *host.Host) error

	// Authenticate logs in with a.
	Authenticate(ctx context.Context, a *account.Account) error

	// Execute sends one command and returns its output without the
	// trailing prompt.
	Execute(ctx context.Context, command string) (string, error)

	// Send writes raw data without waiting for a reply.
	Send(data string) error

	// OnData registers the single sink for every chunk received from
	// the host.  Later calls replace the sink.
	OnData(fn func([]byte))

	// Close tears the connection down.  It is safe to call twice.
	Close() error
}

// FixtureLoader is implemented by offline transports that replay a
// scripted device instead of talking to a real one.
type FixtureLoader interface {
	LoadFixture(path string) error
}

// ── Params ───────────────────────────────────────────────────────────

// Params carries opaque per-run construction settings.  Each transport
// picks the keys it understands and ignores the rest.
type Params map[string]string

// Well-known parameter keys.
const (
	ParamTimeout       = "timeout"        // per-operation timeout, Go duration
	ParamPrompt        = "prompt"         // regexp for the device prompt
	ParamGateway       = "gateway"        // [user@]host[:port] SSH jump host
	ParamGatewayKey    = "gateway_key"    // key file for the jump host
	ParamStrictHostKey = "strict_hostkey" // verify host keys
	ParamKnownHosts    = "known_hosts"    // known_hosts path
)

// String returns p[key] or def when unset.
func (p Params) String(key, def string) string {
	if v, ok := p[key]; ok && v != "" {
		return v
	}
	return def
}

// Duration parses p[key] as a Go duration (or bare seconds).
func (p Params) Duration(key string, def time.Duration) time.Duration {
	v := p.String(key, "")
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if sec, err := strconv.Atoi(v); err == nil {
		return time.Duration(sec) * time.Second
	}
	return def
}

// Bool reports whether p[key] is "1", "true" or "yes".
func (p Params) Bool(key string) bool {
	switch strings.ToLower(p.String(key, "")) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// Clone returns an independent copy.
func (p Params) Clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
