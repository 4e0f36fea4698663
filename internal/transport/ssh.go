package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"hostrun/config"
	"hostrun/internal/account"
	hrerr "hostrun/internal/errors"
	"hostrun/internal/host"
	"hostrun/tunnel"
	"hostrun/util"
)

// SSH runs each command in its own exec session.  Raw writes through
// [SSH.Send] go to a shell session opened on first use.
type SSH struct {
	dialer     Dialer
	timeout    time.Duration
	strict     bool
	knownHosts string
	logger     *util.Logger

	mu     sync.Mutex
	target *host.Host
	conn   net.Conn
	client *tunnel.SSHClient
	shell  io.WriteCloser
	onData func([]byte)
}

var _ Transport = (*SSH)(nil)

// NewSSH builds an unconnected SSH transport.
func NewSSH(params Params, logger *util.Logger) (*SSH, error) {
	dialer, err := NewDialer(params, logger)
	if err != nil {
		return nil, err
	}
	return &SSH{
		dialer:     dialer,
		timeout:    params.Duration(ParamTimeout, config.DefaultConnTimeout),
		strict:     params.Bool(ParamStrictHostKey),
		knownHosts: params.String(ParamKnownHosts, ""),
		logger:     logger,
	}, nil
}

// OnData registers the receive sink.
func (s *SSH) OnData(fn func([]byte)) {
	s.mu.Lock()
	s.onData = fn
	s.mu.Unlock()
}

// Connect opens the TCP connection.  The SSH handshake waits for
// Authenticate because it needs the account.
func (s *SSH) Connect(ctx context.Context, h *host.Host) error {
	addr, err := util.DialAddr(h.Address(), h.Port(), config.DefaultSSHPort)
	if err != nil {
		return err
	}
	s.logger.Verbose("ssh: connecting to %s", addr)

	conn, err := s.dialer.Dial(ctx, "tcp", addr)
	if err != nil {
		return hrerr.Wrap("dial", addr, err)
	}

	s.mu.Lock()
	s.target = h
	s.conn = conn
	s.mu.Unlock()
	return nil
}

// Authenticate performs the SSH handshake as a.  A failed handshake
// drops the connection, so the caller must Connect again.  Logging in
// again after a success replaces the session over a fresh connection.
func (s *SSH) Authenticate(ctx context.Context, a *account.Account) error {
	if a == nil {
		return hrerr.ErrAuthFailed
	}
	s.mu.Lock()
	prev, target := s.client, s.target
	s.mu.Unlock()
	if prev != nil {
		s.dropSession()
		if err := s.Connect(ctx, target); err != nil {
			return err
		}
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return hrerr.ErrNotConnected
	}

	hostname, port := splitTarget(conn.RemoteAddr().String(), target)
	client := tunnel.NewSSHClient(&tunnel.SSHConfig{
		User:          a.Name,
		Password:      a.Password,
		KeyPath:       a.KeyPath,
		Host:          hostname,
		Port:          port,
		StrictHostKey: s.strict,
		KnownHosts:    s.knownHosts,
		ConnTimeout:   s.timeout,
	}, s.logger)

	if d, ok := ctx.Deadline(); ok {
		conn.SetDeadline(d) //nolint:errcheck
	}
	err := client.Handshake(conn)
	conn.SetDeadline(time.Time{}) //nolint:errcheck
	if err != nil {
		s.mu.Lock()
		if s.conn == conn {
			s.conn = nil
		}
		s.mu.Unlock()
		conn.Close() //nolint:errcheck
		return err
	}

	s.mu.Lock()
	s.client = client
	s.mu.Unlock()
	return nil
}

// dropSession closes the shell and SSH client, which owns the
// underlying connection.  The dialer stays open.
func (s *SSH) dropSession() {
	s.mu.Lock()
	shell, client := s.shell, s.client
	s.shell, s.client, s.conn = nil, nil, nil
	s.mu.Unlock()
	if shell != nil {
		shell.Close() //nolint:errcheck
	}
	if client != nil {
		client.Close() //nolint:errcheck
	}
}

// Execute runs command in a new session.
func (s *SSH) Execute(ctx context.Context, command string) (string, error) {
	client, err := s.current()
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	out, err := client.Run(ctx, command)
	if len(out) > 0 {
		s.emit(out)
	}
	return strings.TrimRight(string(out), "\r\n"), err
}

// Send writes data to an interactive shell, starting one if needed.
func (s *SSH) Send(data string) error {
	w, err := s.shellWriter()
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, data)
	return err
}

// Close ends the shell, the SSH connection and the dialer.
func (s *SSH) Close() error {
	s.mu.Lock()
	shell, client, conn := s.shell, s.client, s.conn
	s.shell, s.client, s.conn = nil, nil, nil
	s.mu.Unlock()

	var errs []error
	if shell != nil {
		shell.Close() //nolint:errcheck // the session usually reports io.EOF here
	}
	switch {
	case client != nil:
		errs = append(errs, client.Close())
	case conn != nil:
		errs = append(errs, conn.Close())
	}
	errs = append(errs, s.dialer.Close())
	return hrerr.Join(errs...)
}

func (s *SSH) current() (*tunnel.SSHClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		if s.conn == nil {
			return nil, hrerr.ErrNotConnected
		}
		return nil, hrerr.ErrNotAuthenticated
	}
	return s.client, nil
}

func (s *SSH) shellWriter() (io.Writer, error) {
	client, err := s.current()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shell != nil {
		return s.shell, nil
	}

	sess, err := client.NewSession()
	if err != nil {
		return nil, err
	}
	stdin, err := sess.StdinPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("ssh shell stdin: %w", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		sess.Close()
		return nil, fmt.Errorf("ssh shell stdout: %w", err)
	}
	sess.Stderr = sess.Stdout
	if err := sess.Shell(); err != nil {
		sess.Close()
		return nil, fmt.Errorf("ssh shell: %w", err)
	}

	go s.pump(stdout)
	s.shell = &shellCloser{WriteCloser: stdin, sess: sess}
	return s.shell, nil
}

// pump forwards shell output to the data sink until the session ends.
func (s *SSH) pump(r io.Reader) {
	buf := util.GetBuf()
	defer util.PutBuf(buf)
	for {
		n, err := r.Read(*buf)
		if n > 0 {
			s.emit(append([]byte(nil), (*buf)[:n]...))
		}
		if err != nil {
			return
		}
	}
}

func (s *SSH) emit(b []byte) {
	s.mu.Lock()
	fn := s.onData
	s.mu.Unlock()
	if fn != nil {
		fn(b)
	}
}

type shellCloser struct {
	io.WriteCloser
	sess interface{ Close() error }
}

func (c *shellCloser) Close() error {
	c.WriteCloser.Close()
	return c.sess.Close()
}

// splitTarget names the SSH server for host-key checks: the configured
// host name when there is one, else the dialled address.
func splitTarget(remote string, h *host.Host) (string, int) {
	hostname, portStr, err := net.SplitHostPort(remote)
	port := config.DefaultSSHPort
	if err == nil {
		fmt.Sscanf(portStr, "%d", &port) //nolint:errcheck
	}
	if h != nil {
		if hn, _, err := net.SplitHostPort(h.Address()); err == nil {
			hostname = hn
		} else {
			hostname = h.Address()
		}
		if h.Port() > 0 {
			port = h.Port()
		}
	}
	return hostname, port
}
