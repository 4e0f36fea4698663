package tunnel

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	hrerr "hostrun/internal/errors"
	"hostrun/util"
)

// SSHConfig holds everything needed to reach and log into an SSH host.
type SSHConfig struct {
	User          string
	Password      string
	Host          string
	Port          int
	KeyPath       string
	StrictHostKey bool
	KnownHosts    string
	ConnTimeout   time.Duration

	// Dial replaces the plain TCP dial, e.g. to hop through a gateway.
	Dial DialFunc
}

// SSHClient implements [Tunnel] over an ssh.Client and can also run
// commands and interactive shells on the remote side.
type SSHClient struct {
	config *SSHConfig
	client *ssh.Client
	logger *util.Logger
	mu     sync.RWMutex
	alive  bool
}

var _ Tunnel = (*SSHClient)(nil)

// NewSSHClient creates a client that is ready to [SSHClient.Connect].
func NewSSHClient(cfg *SSHConfig, logger *util.Logger) *SSHClient {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnTimeout == 0 {
		cfg.ConnTimeout = 30 * time.Second
	}
	return &SSHClient{config: cfg, logger: logger}
}

// Addr returns host:port of the SSH server.
func (c *SSHClient) Addr() string {
	return util.FormatAddr(c.config.Host, c.config.Port)
}

// Connect dials the SSH server and completes the handshake.
func (c *SSHClient) Connect(ctx context.Context) error {
	addr := c.Addr()
	dial := c.config.Dial
	if dial == nil {
		var d net.Dialer
		dial = d.DialContext
	}

	c.logger.Debug("SSH: dialing %s as %s", addr, c.config.User)
	conn, err := dial(ctx, "tcp", addr)
	if err != nil {
		return hrerr.Wrap("dial", addr, err)
	}
	if err := c.Handshake(conn); err != nil {
		conn.Close()
		return err
	}
	return nil
}

// Handshake runs the SSH handshake and authentication over an already
// open connection.  The client owns conn afterwards.
func (c *SSHClient) Handshake(conn net.Conn) error {
	authMethods, err := BuildAuthMethods(c.config)
	if err != nil {
		return hrerr.WrapSSH("auth", c.config.Host, c.config.Port, err)
	}

	hkCallback, err := hostKeyCallback(c.config)
	if err != nil {
		return hrerr.WrapSSH("hostkey", c.config.Host, c.config.Port, err)
	}

	sshCfg := &ssh.ClientConfig{
		User:            c.config.User,
		Auth:            authMethods,
		HostKeyCallback: hkCallback,
		Timeout:         c.config.ConnTimeout,
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, c.Addr(), sshCfg)
	if err != nil {
		return hrerr.WrapSSH("handshake", c.config.Host, c.config.Port, err)
	}

	client := ssh.NewClient(sshConn, chans, reqs)

	c.mu.Lock()
	c.client = client
	c.alive = true
	c.mu.Unlock()

	go c.monitor()

	return nil
}

// Dial forwards a connection through the SSH server.
func (c *SSHClient) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	client, err := c.current()
	if err != nil {
		return nil, err
	}

	c.logger.Debug("tunnel: dialing %s %s", network, address)
	conn, err := client.Dial(network, address)
	if err != nil {
		return nil, fmt.Errorf("tunnel dial %s: %w", address, err)
	}
	return conn, nil
}

// Run executes cmd in a fresh session and returns its combined output.
// Cancelling ctx closes the session.
func (c *SSHClient) Run(ctx context.Context, cmd string) ([]byte, error) {
	client, err := c.current()
	if err != nil {
		return nil, err
	}
	sess, err := client.NewSession()
	if err != nil {
		return nil, hrerr.WrapSSH("session", c.config.Host, c.config.Port, err)
	}
	defer sess.Close()

	stop := context.AfterFunc(ctx, func() { sess.Close() })
	defer stop()

	var out bytes.Buffer
	sess.Stdout = &out
	sess.Stderr = &out
	if err := sess.Run(cmd); err != nil {
		if ctx.Err() != nil {
			return out.Bytes(), ctx.Err()
		}
		return out.Bytes(), hrerr.WrapSSH("exec", c.config.Host, c.config.Port, err)
	}
	return out.Bytes(), nil
}

// NewSession opens a raw session for callers that drive a shell.
func (c *SSHClient) NewSession() (*ssh.Session, error) {
	client, err := c.current()
	if err != nil {
		return nil, err
	}
	sess, err := client.NewSession()
	if err != nil {
		return nil, hrerr.WrapSSH("session", c.config.Host, c.config.Port, err)
	}
	return sess, nil
}

// Close shuts down the SSH connection.
func (c *SSHClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.alive = false
	if c.client != nil {
		err := c.client.Close()
		c.client = nil
		return err
	}
	return nil
}

// IsAlive reports whether the connection is still up.
func (c *SSHClient) IsAlive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.alive
}

func (c *SSHClient) current() (*ssh.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.alive || c.client == nil {
		return nil, hrerr.ErrNotConnected
	}
	return c.client, nil
}

// monitor blocks until the SSH connection closes and flips the alive flag.
func (c *SSHClient) monitor() {
	c.mu.RLock()
	client := c.client
	c.mu.RUnlock()
	if client == nil {
		return
	}

	err := client.Wait()

	c.mu.Lock()
	c.alive = false
	c.mu.Unlock()

	if err != nil {
		c.logger.Debug("SSH connection to %s closed: %v", c.Addr(), err)
	} else {
		c.logger.Debug("SSH connection to %s closed", c.Addr())
	}
}
