package transport

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostrun/internal/account"
	hrerr "hostrun/internal/errors"
	"hostrun/internal/host"
	"hostrun/util"
)

// fakeRouter is a loopback telnet device: it negotiates one option,
// asks for credentials and answers "show version".
func fakeRouter(t *testing.T, user, password string) *host.Host {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		send := func(b []byte) { conn.Write(b) } //nolint:errcheck

		// IAC DO ECHO, then the login banner.
		send([]byte{iacIAC, iacDO, 1})
		send([]byte("\r\nUser Access Verification\r\n\r\nUsername: "))
		gotUser := readLine(r)
		send([]byte("Password: "))
		gotPass := readLine(r)
		if gotUser != user || gotPass != password {
			send([]byte("\r\n% Authentication failed\r\n"))
			return
		}
		send([]byte("\r\nr1#"))

		for {
			cmd := readLine(r)
			if cmd == "" {
				return
			}
			switch cmd {
			case "show version":
				send([]byte("show version\r\nCisco IOS Software, Version 15.2\r\nuptime is 3 weeks\r\nr1#"))
			default:
				send([]byte(cmd + "\r\n% Invalid input\r\nr1#"))
			}
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return host.New("127.0.0.1", host.WithProtocol("telnet"), host.WithPort(addr.Port), host.WithName("r1"))
}

// readLine skips telnet option replies and returns one CRLF line.
func readLine(r *bufio.Reader) string {
	var sb strings.Builder
	for {
		b, err := r.ReadByte()
		if err != nil {
			return sb.String()
		}
		if b == iacIAC {
			r.ReadByte() //nolint:errcheck
			r.ReadByte() //nolint:errcheck
			continue
		}
		if b == '\n' {
			return strings.TrimRight(sb.String(), "\r")
		}
		sb.WriteByte(b)
	}
}

func TestTelnet_LoginAndExecute(t *testing.T) {
	h := fakeRouter(t, "admin", "s3cret")

	tel, err := NewTelnet(Params{ParamTimeout: "2s"}, util.NewLogger(0))
	require.NoError(t, err)
	defer tel.Close()

	var mu sync.Mutex
	var received strings.Builder
	tel.OnData(func(b []byte) {
		mu.Lock()
		received.Write(b)
		mu.Unlock()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	require.NoError(t, tel.Connect(ctx, h))
	require.NoError(t, tel.Authenticate(ctx, &account.Account{Name: "admin", Password: "s3cret"}))

	out, err := tel.Execute(ctx, "show version")
	require.NoError(t, err)
	assert.Equal(t, "Cisco IOS Software, Version 15.2\nuptime is 3 weeks", out)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, received.String(), "Username:")
	assert.NotContains(t, received.String(), string([]byte{iacIAC}))
}

func TestTelnet_AuthFailed(t *testing.T) {
	h := fakeRouter(t, "admin", "s3cret")

	tel, err := NewTelnet(Params{ParamTimeout: "2s"}, util.NewLogger(0))
	require.NoError(t, err)
	defer tel.Close()

	ctx := context.Background()
	require.NoError(t, tel.Connect(ctx, h))
	err = tel.Authenticate(ctx, &account.Account{Name: "admin", Password: "wrong"})
	assert.ErrorIs(t, err, hrerr.ErrAuthFailed)
}

func TestTelnet_Timeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
			time.Sleep(time.Second)
		}
	}()

	tel, err := NewTelnet(Params{ParamTimeout: "100ms"}, util.NewLogger(0))
	require.NoError(t, err)
	defer tel.Close()

	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, tel.Connect(context.Background(), host.New("127.0.0.1", host.WithPort(port))))
	err = tel.Authenticate(context.Background(), &account.Account{Name: "a"})
	assert.ErrorIs(t, err, hrerr.ErrTimeout)
}

func TestTelnet_NotConnected(t *testing.T) {
	tel, err := NewTelnet(nil, util.NewLogger(0))
	require.NoError(t, err)

	_, err = tel.Execute(context.Background(), "show version")
	assert.ErrorIs(t, err, hrerr.ErrNotConnected)
	assert.NoError(t, tel.Close())
}

func TestTelnet_BadPrompt(t *testing.T) {
	_, err := NewTelnet(Params{ParamPrompt: "("}, util.NewLogger(0))
	assert.Error(t, err)
}

func TestIACFilter(t *testing.T) {
	var f iacFilter

	// DO ECHO, WILL SGA, a subnegotiation and an escaped 0xFF.
	in := []byte{'a', iacIAC, iacDO, 1, 'b', iacIAC, iacWILL, 3, iacIAC, iacSB, 24, 1, iacIAC, iacSE, 'c', iacIAC, iacIAC}
	clean, reply := f.filter(in)

	assert.Equal(t, []byte{'a', 'b', 'c', 0xFF}, clean)
	assert.Equal(t, []byte{iacIAC, iacWONT, 1, iacIAC, iacDONT, 3}, reply)
}

func TestIACFilter_SplitAcrossReads(t *testing.T) {
	var f iacFilter

	clean, reply := f.filter([]byte{'x', iacIAC})
	assert.Equal(t, []byte{'x'}, clean)
	assert.Empty(t, reply)

	clean, reply = f.filter([]byte{iacDO, 31, 'y'})
	assert.Equal(t, []byte{'y'}, clean)
	assert.Equal(t, []byte{iacIAC, iacWONT, 31}, reply)
}
