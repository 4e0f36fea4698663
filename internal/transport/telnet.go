package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"hostrun/config"
	"hostrun/internal/account"
	hrerr "hostrun/internal/errors"
	"hostrun/internal/host"
	"hostrun/util"
)

// DefaultTelnetPort is used when neither the host nor its address
// carries a port.
const DefaultTelnetPort = 23

var (
	// defaultPrompt matches a typical CLI prompt at the very end of the
	// received text: "r1#", "admin@fw1> ", "[user@box ~]$ ".
	defaultPrompt  = regexp.MustCompile(`(?:^|[\r\n])[^\r\n]{0,80}?[>#$%] ?$`)
	loginPrompt    = regexp.MustCompile(`(?i)(?:user ?name|login)\s*: ?$`)
	passwordPrompt = regexp.MustCompile(`(?i)password\s*: ?$`)
	loginFailed    = regexp.MustCompile(`(?i)(?:login incorrect|authentication failed|access denied|bad password)`)
)

// Telnet speaks line-oriented telnet to network devices.  Option
// negotiation is refused wholesale, which every device falls back from
// to a plain NVT.
type Telnet struct {
	dialer  Dialer
	timeout time.Duration
	prompt  *regexp.Regexp
	logger  *util.Logger

	mu     sync.Mutex
	conn   net.Conn
	onData func([]byte)
	iac    iacFilter
	buf    bytes.Buffer
}

var _ Transport = (*Telnet)(nil)

// NewTelnet builds an unconnected telnet transport.
func NewTelnet(params Params, logger *util.Logger) (*Telnet, error) {
	prompt := defaultPrompt
	if p := params.String(ParamPrompt, ""); p != "" {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("prompt: %w", err)
		}
		prompt = re
	}
	dialer, err := NewDialer(params, logger)
	if err != nil {
		return nil, err
	}
	return &Telnet{
		dialer:  dialer,
		timeout: params.Duration(ParamTimeout, config.DefaultConnTimeout),
		prompt:  prompt,
		logger:  logger,
	}, nil
}

// OnData registers the receive sink.
func (t *Telnet) OnData(fn func([]byte)) {
	t.mu.Lock()
	t.onData = fn
	t.mu.Unlock()
}

// Connect dials the host.
func (t *Telnet) Connect(ctx context.Context, h *host.Host) error {
	addr, err := util.DialAddr(h.Address(), h.Port(), DefaultTelnetPort)
	if err != nil {
		return err
	}
	t.logger.Verbose("telnet: connecting to %s", addr)

	conn, err := t.dialer.Dial(ctx, "tcp", addr)
	if err != nil {
		return hrerr.Wrap("dial", addr, err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	return nil
}

// Authenticate answers the username and password prompts.  Devices that
// go straight to a command prompt are accepted as-is.
func (t *Telnet) Authenticate(ctx context.Context, a *account.Account) error {
	if a == nil {
		return hrerr.ErrAuthFailed
	}
	which, _, err := t.expect(ctx, loginPrompt, passwordPrompt, t.prompt)
	if err != nil {
		return err
	}
	if which == 2 {
		return nil
	}
	if which == 0 {
		if err := t.write(a.Name + "\r\n"); err != nil {
			return err
		}
		if _, _, err := t.expect(ctx, passwordPrompt); err != nil {
			return err
		}
	}
	if err := t.write(a.Password + "\r\n"); err != nil {
		return err
	}

	which, _, err = t.expect(ctx, t.prompt, loginFailed, loginPrompt)
	if err != nil {
		return err
	}
	if which != 0 {
		return hrerr.ErrAuthFailed
	}
	return nil
}

// Execute sends command and collects output up to the next prompt.
// The echoed command line is stripped.
func (t *Telnet) Execute(ctx context.Context, command string) (string, error) {
	if err := t.write(command + "\r\n"); err != nil {
		return "", err
	}
	_, out, err := t.expect(ctx, t.prompt)
	if err != nil {
		return out, err
	}
	out = strings.ReplaceAll(out, "\r\n", "\n")
	if first, rest, ok := strings.Cut(out, "\n"); ok && strings.TrimSpace(first) == strings.TrimSpace(command) {
		out = rest
	}
	return strings.TrimRight(out, "\r\n"), nil
}

// Send writes data as-is.
func (t *Telnet) Send(data string) error {
	return t.write(data)
}

// Close closes the connection and the dialer behind it.
func (t *Telnet) Close() error {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	return hrerr.Join(err, t.dialer.Close())
}

// ── I/O ──────────────────────────────────────────────────────────────

func (t *Telnet) write(s string) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return hrerr.ErrNotConnected
	}
	if _, err := conn.Write([]byte(s)); err != nil {
		return hrerr.Wrap("write", conn.RemoteAddr().String(), err)
	}
	return nil
}

// expect reads until one of res matches the end of the pending text.
// It returns the index of the match and the text before it; matched
// text is consumed.
func (t *Telnet) expect(ctx context.Context, res ...*regexp.Regexp) (int, string, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return -1, "", hrerr.ErrNotConnected
	}

	deadline := time.Now().Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	buf := util.GetBuf()
	defer util.PutBuf(buf)

	for {
		if i, before, ok := t.match(res); ok {
			return i, before, nil
		}
		if err := ctx.Err(); err != nil {
			return -1, t.buf.String(), err
		}

		conn.SetReadDeadline(deadline) //nolint:errcheck
		n, err := conn.Read(*buf)
		if n > 0 {
			t.receive(conn, (*buf)[:n])
		}
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return -1, t.buf.String(), fmt.Errorf("%w waiting for %v", hrerr.ErrTimeout, res)
			}
			return -1, t.buf.String(), hrerr.Wrap("read", conn.RemoteAddr().String(), err)
		}
	}
}

func (t *Telnet) match(res []*regexp.Regexp) (int, string, bool) {
	text := t.buf.String()
	for i, re := range res {
		loc := re.FindStringIndex(text)
		if loc == nil {
			continue
		}
		t.buf.Reset()
		t.buf.WriteString(text[loc[1]:])
		return i, text[:loc[0]], true
	}
	return -1, "", false
}

func (t *Telnet) receive(conn net.Conn, data []byte) {
	clean, reply := t.iac.filter(data)
	if len(reply) > 0 {
		conn.Write(reply) //nolint:errcheck
	}
	if len(clean) == 0 {
		return
	}
	t.buf.Write(clean)

	t.mu.Lock()
	fn := t.onData
	t.mu.Unlock()
	if fn != nil {
		fn(append([]byte(nil), clean...))
	}
}

// ── option negotiation ───────────────────────────────────────────────

const (
	iacSE   = 240
	iacSB   = 250
	iacWILL = 251
	iacWONT = 252
	iacDO   = 253
	iacDONT = 254
	iacIAC  = 255
)

type iacState int

const (
	stData iacState = iota
	stIAC
	stOption // after WILL/WONT/DO/DONT
	stSub
	stSubIAC
)

// iacFilter strips telnet commands from a byte stream and produces the
// refusals to send back.  It keeps state across reads so sequences may
// straddle packet boundaries.
type iacFilter struct {
	state iacState
	verb  byte
}

func (f *iacFilter) filter(in []byte) (clean, reply []byte) {
	for _, b := range in {
		switch f.state {
		case stData:
			if b == iacIAC {
				f.state = stIAC
				continue
			}
			if b != 0 {
				clean = append(clean, b)
			}
		case stIAC:
			switch b {
			case iacIAC:
				clean = append(clean, b)
				f.state = stData
			case iacWILL, iacWONT, iacDO, iacDONT:
				f.verb = b
				f.state = stOption
			case iacSB:
				f.state = stSub
			default:
				f.state = stData
			}
		case stOption:
			switch f.verb {
			case iacDO:
				reply = append(reply, iacIAC, iacWONT, b)
			case iacWILL:
				reply = append(reply, iacIAC, iacDONT, b)
			}
			f.state = stData
		case stSub:
			if b == iacIAC {
				f.state = stSubIAC
			}
		case stSubIAC:
			if b == iacSE {
				f.state = stData
			} else {
				f.state = stSub
			}
		}
	}
	return clean, reply
}
