package transport

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"hostrun/internal/account"
	hrerr "hostrun/internal/errors"
	"hostrun/internal/host"
	"hostrun/util"
)

// fakeSSHServer accepts password logins for user/password and answers
// exec requests from a fixed table.  "fail" exits with status 1.
func fakeSSHServer(t *testing.T, user, password string) *host.Host {
	t.Helper()

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)

	cfg := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pw []byte) (*ssh.Permissions, error) {
			if c.User() == user && string(pw) == password {
				return nil, nil
			}
			return nil, fmt.Errorf("password rejected for %q", c.User())
		},
	}
	cfg.AddHostKey(signer)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go serveSSH(conn, cfg)
		}
	}()

	return host.New("127.0.0.1",
		host.WithProtocol(ProtocolSSH),
		host.WithPort(ln.Addr().(*net.TCPAddr).Port))
}

func serveSSH(conn net.Conn, cfg *ssh.ServerConfig) {
	defer conn.Close()
	_, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)

	for nc := range chans {
		if nc.ChannelType() != "session" {
			nc.Reject(ssh.UnknownChannelType, "sessions only") //nolint:errcheck
			continue
		}
		ch, creqs, err := nc.Accept()
		if err != nil {
			return
		}
		go serveSession(ch, creqs)
	}
}

func serveSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()
	for req := range reqs {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
				req.Reply(false, nil) //nolint:errcheck
				return
			}
			req.Reply(true, nil) //nolint:errcheck

			status := uint32(0)
			switch payload.Command {
			case "hostname":
				io.WriteString(ch, "sw1\n") //nolint:errcheck
			case "fail":
				io.WriteString(ch.Stderr(), "permission denied\n") //nolint:errcheck
				status = 1
			default:
				io.WriteString(ch, payload.Command+"\n") //nolint:errcheck
			}
			ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{status})) //nolint:errcheck
			return
		case "shell":
			req.Reply(true, nil) //nolint:errcheck
			go io.Copy(ch, ch) //nolint:errcheck
		default:
			req.Reply(false, nil) //nolint:errcheck
		}
	}
}

func newTestSSH(t *testing.T) *SSH {
	t.Helper()
	s, err := NewSSH(Params{ParamTimeout: "2s"}, util.NewLogger(0))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSSH_LoginAndExecute(t *testing.T) {
	h := fakeSSHServer(t, "netops", "s3cret")
	s := newTestSSH(t)

	var received []byte
	s.OnData(func(b []byte) { received = append(received, b...) })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, s.Connect(ctx, h))
	require.NoError(t, s.Authenticate(ctx, &account.Account{Name: "netops", Password: "s3cret"}))

	out, err := s.Execute(ctx, "hostname")
	require.NoError(t, err)
	assert.Equal(t, "sw1", out)
	assert.Equal(t, "sw1\n", string(received))

	out, err = s.Execute(ctx, "show clock")
	require.NoError(t, err)
	assert.Equal(t, "show clock", out)
}

func TestSSH_ExecuteNonZeroExit(t *testing.T) {
	h := fakeSSHServer(t, "netops", "s3cret")
	s := newTestSSH(t)

	ctx := context.Background()
	require.NoError(t, s.Connect(ctx, h))
	require.NoError(t, s.Authenticate(ctx, &account.Account{Name: "netops", Password: "s3cret"}))

	out, err := s.Execute(ctx, "fail")
	require.Error(t, err)
	assert.Equal(t, "permission denied", out)

	var sshErr *hrerr.SSHError
	require.ErrorAs(t, err, &sshErr)
	assert.Equal(t, "exec", sshErr.Op)

	var exitErr *ssh.ExitError
	require.ErrorAs(t, err, &exitErr)
	assert.Equal(t, 1, exitErr.ExitStatus())
}

func TestSSH_WrongPassword(t *testing.T) {
	h := fakeSSHServer(t, "netops", "s3cret")
	s := newTestSSH(t)

	ctx := context.Background()
	require.NoError(t, s.Connect(ctx, h))
	err := s.Authenticate(ctx, &account.Account{Name: "netops", Password: "wrong"})
	require.Error(t, err)

	var sshErr *hrerr.SSHError
	require.ErrorAs(t, err, &sshErr)
	assert.Equal(t, "handshake", sshErr.Op)

	// The failed handshake dropped the connection.
	_, err = s.Execute(ctx, "hostname")
	assert.ErrorIs(t, err, hrerr.ErrNotConnected)
	assert.ErrorIs(t, s.Authenticate(ctx, &account.Account{Name: "netops", Password: "s3cret"}), hrerr.ErrNotConnected)

	require.NoError(t, s.Connect(ctx, h))
	require.NoError(t, s.Authenticate(ctx, &account.Account{Name: "netops", Password: "s3cret"}))
	out, err := s.Execute(ctx, "hostname")
	require.NoError(t, err)
	assert.Equal(t, "sw1", out)
}

func TestSSH_LoginAgainReplacesSession(t *testing.T) {
	h := fakeSSHServer(t, "netops", "s3cret")
	s := newTestSSH(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	acct := &account.Account{Name: "netops", Password: "s3cret"}
	require.NoError(t, s.Connect(ctx, h))
	require.NoError(t, s.Authenticate(ctx, acct))
	first, err := s.current()
	require.NoError(t, err)

	require.NoError(t, s.Authenticate(ctx, acct))
	second, err := s.current()
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.False(t, first.IsAlive())
	out, err := s.Execute(ctx, "hostname")
	require.NoError(t, err)
	assert.Equal(t, "sw1", out)
}

func TestSSH_NotConnected(t *testing.T) {
	s := newTestSSH(t)

	_, err := s.Execute(context.Background(), "hostname")
	assert.ErrorIs(t, err, hrerr.ErrNotConnected)
	assert.ErrorIs(t, s.Authenticate(context.Background(), &account.Account{Name: "x"}), hrerr.ErrNotConnected)
	assert.ErrorIs(t, s.Send("hostname\n"), hrerr.ErrNotConnected)
}

func TestSSH_SendUsesShell(t *testing.T) {
	h := fakeSSHServer(t, "netops", "s3cret")
	s := newTestSSH(t)

	got := make(chan []byte, 8)
	s.OnData(func(b []byte) { got <- b })

	ctx := context.Background()
	require.NoError(t, s.Connect(ctx, h))
	require.NoError(t, s.Authenticate(ctx, &account.Account{Name: "netops", Password: "s3cret"}))
	require.NoError(t, s.Send("terminal length 0\n"))

	var buf []byte
	deadline := time.After(3 * time.Second)
	for string(buf) != "terminal length 0\n" {
		select {
		case b := <-got:
			buf = append(buf, b...)
		case <-deadline:
			t.Fatalf("shell echo not received, got %q", buf)
		}
	}
}

func TestSplitTarget(t *testing.T) {
	hn, port := splitTarget("10.1.1.1:2222", nil)
	assert.Equal(t, "10.1.1.1", hn)
	assert.Equal(t, 2222, port)

	hn, port = splitTarget("10.1.1.1:22", host.New("core-sw1", host.WithPort(8022)))
	assert.Equal(t, "core-sw1", hn)
	assert.Equal(t, 8022, port)
}
