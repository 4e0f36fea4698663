package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"hostrun/internal/account"
	hrerr "hostrun/internal/errors"
	"hostrun/internal/host"
	"hostrun/util"
)

// Pseudo is an offline device driven by a [Fixture].  It never touches
// the network, which makes it the transport of choice for tests and
// dry runs.  The dummy protocol is a Pseudo without a fixture that
// echoes every command back.
type Pseudo struct {
	logger *util.Logger
	echo   bool

	mu            sync.Mutex
	fixture       *Fixture
	onData        func([]byte)
	connected     bool
	authenticated bool
	user          string
}

var (
	_ Transport     = (*Pseudo)(nil)
	_ FixtureLoader = (*Pseudo)(nil)
)

// NewPseudo returns a device with an empty script.  Load one with
// [Pseudo.LoadFixture] before use.
func NewPseudo(_ Params, logger *util.Logger) *Pseudo {
	return &Pseudo{logger: logger, fixture: &Fixture{}}
}

// NewDummy returns a device that echoes every command.
func NewDummy(_ Params, logger *util.Logger) *Pseudo {
	return &Pseudo{logger: logger, fixture: &Fixture{}, echo: true}
}

// LoadFixture replaces the device script with the fixture at path.
func (p *Pseudo) LoadFixture(path string) error {
	f, err := LoadFixture(path)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.fixture = f
	p.mu.Unlock()
	p.logger.Debug("pseudo: loaded %d commands from %s", len(f.Commands), path)
	return nil
}

// SetFixture installs an in-memory fixture.
func (p *Pseudo) SetFixture(f *Fixture) error {
	if err := f.compile(); err != nil {
		return err
	}
	p.mu.Lock()
	p.fixture = f
	p.mu.Unlock()
	return nil
}

// OnData registers the receive sink.
func (p *Pseudo) OnData(fn func([]byte)) {
	p.mu.Lock()
	p.onData = fn
	p.mu.Unlock()
}

// Connect marks the device as connected and plays the banner.
func (p *Pseudo) Connect(_ context.Context, h *host.Host) error {
	p.mu.Lock()
	p.connected = true
	banner := p.fixture.Banner
	p.mu.Unlock()

	p.logger.Debug("pseudo: connected to %s", h.Name())
	if banner != "" {
		p.emit(banner + "\n")
	}
	return nil
}

// Authenticate checks a against the fixture's login, if it has one.
func (p *Pseudo) Authenticate(_ context.Context, a *account.Account) error {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return hrerr.ErrNotConnected
	}
	login := p.fixture.Login
	if login != nil && (a == nil || a.Name != login.User || a.Password != login.Password) {
		p.mu.Unlock()
		return hrerr.ErrAuthFailed
	}
	p.authenticated = true
	if a != nil {
		p.user = a.Name
	}
	prompt := p.fixture.Prompt
	p.mu.Unlock()

	if prompt != "" {
		p.emit(prompt)
	}
	return nil
}

// User returns the name the device was logged into with.
func (p *Pseudo) User() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.user
}

// Execute looks command up in the fixture.
func (p *Pseudo) Execute(_ context.Context, command string) (string, error) {
	p.mu.Lock()
	if err := p.ready(); err != nil {
		p.mu.Unlock()
		return "", err
	}
	f, echo := p.fixture, p.echo
	p.mu.Unlock()

	cmd := strings.TrimSpace(command)
	resp, ok := f.Respond(cmd)
	var err error
	switch {
	case ok:
	case echo:
		resp = cmd
	default:
		resp = f.Unknown
		err = fmt.Errorf("%w: %q", hrerr.ErrUnknownCommand, cmd)
	}

	p.emit(cmd + "\n" + resp + "\n" + f.Prompt)
	return resp, err
}

// Send feeds each complete line of data to the device as a command.
func (p *Pseudo) Send(data string) error {
	p.mu.Lock()
	err := p.ready()
	p.mu.Unlock()
	if err != nil {
		return err
	}
	for _, line := range strings.Split(data, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if _, err := p.Execute(context.Background(), line); err != nil {
			p.logger.Debug("pseudo: %v", err)
		}
	}
	return nil
}

// Close disconnects the device.
func (p *Pseudo) Close() error {
	p.mu.Lock()
	p.connected = false
	p.authenticated = false
	p.mu.Unlock()
	return nil
}

func (p *Pseudo) ready() error {
	if !p.connected {
		return hrerr.ErrNotConnected
	}
	if p.fixture.Login != nil && !p.authenticated {
		return hrerr.ErrNotAuthenticated
	}
	return nil
}

func (p *Pseudo) emit(s string) {
	p.mu.Lock()
	fn := p.onData
	p.mu.Unlock()
	if fn != nil {
		fn([]byte(s))
	}
}
