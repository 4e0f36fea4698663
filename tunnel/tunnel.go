// Package tunnel wraps golang.org/x/crypto/ssh for the rest of hostrun.
// An [SSHClient] is used two ways: as the ssh transport's session to a
// target device, and as a jump host that other transports dial through.
package tunnel

import (
	"context"
	"net"
)

// Tunnel abstracts an encrypted channel through which TCP connections
// can be forwarded.
type Tunnel interface {
	// Connect establishes the tunnel to the gateway.
	Connect(ctx context.Context) error

	// Dial opens a connection to address through the tunnel.
	Dial(ctx context.Context, network, address string) (net.Conn, error)

	// Close tears down the tunnel and frees resources.
	Close() error

	// IsAlive reports whether the underlying connection is still up.
	IsAlive() bool
}

// DialFunc opens the raw connection an SSH handshake runs over.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)
