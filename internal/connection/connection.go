// Package connection binds one transport to the host action that owns
// it.
//
// A work routine talks to the remote host only through a Connection:
// the transport's received data is re-published on DataReceived, and
// the credential used to log in is obtained through the owner so the
// owner's acquisition policy applies.
package connection

import (
	"context"
	"sync"

	"hostrun/internal/account"
	hrerr "hostrun/internal/errors"
	"hostrun/internal/event"
	"hostrun/internal/host"
	"hostrun/internal/transport"
	"hostrun/util"
)

// Owner is the side of a host action a connection needs.
type Owner interface {
	// AcquireAccount returns an unresolved proxy for a, or for the
	// owner's default when a is nil.
	AcquireAccount(a *account.Account) *account.Proxy
	// LogEvent records data received from the host.
	LogEvent(data []byte)
	// LogSent records data written to the host.
	LogSent(data []byte)
	// Host is the target of the connection.
	Host() *host.Host
}

// Connection is the adapter handed to work routines.
type Connection struct {
	// DataReceived fires for every chunk the transport reads.
	DataReceived event.Event[[]byte]

	Logger *util.Logger

	owner     Owner
	transport transport.Transport

	mu    sync.Mutex
	proxy *account.Proxy
}

// New wraps t for owner.  Transport data is forwarded to DataReceived
// from this point on.
func New(owner Owner, t transport.Transport, logger *util.Logger) *Connection {
	if logger == nil {
		logger = util.NewLogger(0)
	}
	c := &Connection{owner: owner, transport: t, Logger: logger}
	t.OnData(c.DataReceived.Emit)
	return c
}

// Host returns the target host.
func (c *Connection) Host() *host.Host { return c.owner.Host() }

// Transport exposes the underlying transport for protocol-specific use.
func (c *Connection) Transport() transport.Transport { return c.transport }

// Account returns the account used by Login, or nil.
func (c *Connection) Account() *account.Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proxy == nil {
		return nil
	}
	return c.proxy.Account()
}

// Connect opens the transport to the owner's host.
func (c *Connection) Connect(ctx context.Context) error {
	h := c.owner.Host()
	c.Logger.Verbose("%s: connecting via %s", h.Name(), h.Protocol())
	return c.transport.Connect(ctx, h)
}

// Login authenticates with a, or with whatever the owner's policy
// picks when a is nil.  This is where the coordinator is first asked
// for a credential.  A failed login gives the lease back.
func (c *Connection) Login(ctx context.Context, a *account.Account) error {
	proxy := c.owner.AcquireAccount(a)
	acct, err := proxy.Acquire(ctx)
	if err != nil {
		return err
	}

	c.Logger.Debug("%s: logging in as %s (%s)", c.owner.Host().Name(), acct, proxy.Resolution().Source)
	if err := c.transport.Authenticate(ctx, acct); err != nil {
		if rerr := proxy.Release(ctx); rerr != nil {
			c.Logger.Warn("%s: release %s: %v", c.owner.Host().Name(), acct, rerr)
		}
		return err
	}

	c.mu.Lock()
	prev := c.proxy
	c.proxy = proxy
	c.mu.Unlock()
	if prev != nil {
		prev.Release(ctx) //nolint:errcheck
	}
	return nil
}

// Execute runs one command and returns its output.
func (c *Connection) Execute(ctx context.Context, command string) (string, error) {
	out, err := c.transport.Execute(ctx, command)
	if !unsent(err) {
		c.owner.LogSent([]byte(command + "\n"))
	}
	return out, err
}

// Send writes raw data to the host.
func (c *Connection) Send(data string) error {
	err := c.transport.Send(data)
	if err == nil {
		c.owner.LogSent([]byte(data))
	}
	return err
}

// unsent reports whether err means nothing reached the host.
func unsent(err error) bool {
	return hrerr.Is(err, hrerr.ErrNotConnected) || hrerr.Is(err, hrerr.ErrNotAuthenticated)
}

// Close shuts the transport and gives back the account lease.
func (c *Connection) Close() error {
	err := c.transport.Close()

	c.mu.Lock()
	proxy := c.proxy
	c.proxy = nil
	c.mu.Unlock()

	if proxy != nil {
		ctx, cancel := context.WithTimeout(context.Background(), account.DefaultCloseTimeout)
		defer cancel()
		err = hrerr.Join(err, proxy.Release(ctx))
	}
	return err
}
