// Package action runs one unit of work against one host.
//
// A HostAction owns a single attempt: it builds the transport for the
// host's protocol, hands the caller's routine a connection, and closes
// its coordination channel on every way out.  Retrying is left to the
// caller, which tells the action which attempt it is through
// [HostAction.SetAttempt].
package action

import (
	"context"
	"fmt"

	"hostrun/internal/account"
	"hostrun/internal/connection"
	hrerr "hostrun/internal/errors"
	"hostrun/internal/host"
	"hostrun/internal/metrics"
	"hostrun/internal/transport"
	"hostrun/util"
)

// Func is a work routine.  It is called exactly once per Execute with
// the connection for the action's host.
type Func func(ctx context.Context, conn *connection.Connection) error

// HostAction is a single attempt at running a Func against a host.
type HostAction struct {
	ch      account.Channel
	fn      Func
	host    *host.Host
	account *account.Account // host default, copied at construction
	params  transport.Params
	factory transport.Factory
	attempt int

	registry *transport.Registry
	logDir   string
	logger   *util.Logger
	metrics  *metrics.Collector
	sink     *sessionLog
}

var _ connection.Owner = (*HostAction)(nil)

// Option configures a HostAction.
type Option func(*HostAction)

// WithRegistry resolves protocols from r instead of the default registry.
func WithRegistry(r *transport.Registry) Option {
	return func(a *HostAction) { a.registry = r }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *util.Logger) Option {
	return func(a *HostAction) { a.logger = l }
}

// WithLogDir writes received data to <dir>/<LogName()>.
func WithLogDir(dir string) Option {
	return func(a *HostAction) { a.logDir = dir }
}

// WithMetrics records the action in c.
func WithMetrics(c *metrics.Collector) Option {
	return func(a *HostAction) { a.metrics = c }
}

// New prepares an action.  The host's protocol is resolved here, so an
// unregistered protocol fails before anything touches ch.
func New(ch account.Channel, fn Func, h *host.Host, params transport.Params, opts ...Option) (*HostAction, error) {
	a := &HostAction{
		ch:       ch,
		fn:       fn,
		host:     h,
		account:  h.Account(),
		params:   params.Clone(),
		attempt:  1,
		registry: transport.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.logger == nil {
		a.logger = util.NewLogger(0)
	}
	a.logger = a.logger.With("host", h.Name())

	factory, err := a.registry.Lookup(h.Protocol())
	if err != nil {
		return nil, err
	}
	a.factory = factory
	return a, nil
}

// Host returns the target host.
func (a *HostAction) Host() *host.Host { return a.host }

// SetAttempt records which attempt this is, starting at 1.
func (a *HostAction) SetAttempt(n int) {
	if n < 1 {
		n = 1
	}
	a.attempt = n
}

// Attempt returns the attempt number.
func (a *HostAction) Attempt() int { return a.attempt }

// LogName is the session log file name: "<log id>.log" on the first
// attempt and "<log id>_retryN.log" on retry N.
func (a *HostAction) LogName() string {
	if a.attempt > 1 {
		return fmt.Sprintf("%s_retry%d.log", a.host.LogName(), a.attempt-1)
	}
	return a.host.LogName() + ".log"
}

// AcquireAccount returns a proxy for acct, else for the host's default
// account, else for whatever the coordinator assigns to the host.  The
// coordinator is not contacted until the proxy is acquired.
func (a *HostAction) AcquireAccount(acct *account.Account) *account.Proxy {
	res := account.Resolve(acct, a.account, a.host.Address())
	a.logger.Debug("account resolution: %s", res)
	return account.NewProxy(a.ch, res)
}

// LogEvent records data received from the host.
func (a *HostAction) LogEvent(data []byte) {
	a.metrics.BytesReceived(int64(len(data)))
	if a.sink != nil {
		if _, err := a.sink.Write(data); err != nil {
			a.logger.Warn("session log %s: %v", a.sink.path, err)
		}
		return
	}
	a.logger.Debug("recv %q", data)
}

// LogSent records data written to the host.
func (a *HostAction) LogSent(data []byte) {
	a.metrics.BytesSent(int64(len(data)))
	a.logger.Debug("sent %q", data)
}

// Execute builds the connection, runs the routine and closes the
// coordination channel.  Routine errors are returned unchanged; a panic
// becomes a *errors.WorkRoutineError once cleanup is done.  A failed
// channel close is only returned when nothing failed before it.
func (a *HostAction) Execute(ctx context.Context) (err error) {
	a.metrics.ActionStarted()
	a.logger.Verbose("attempt %d via %s", a.attempt, a.host.Protocol())

	var conn *connection.Connection
	defer func() {
		if r := recover(); r != nil {
			err = &hrerr.WorkRoutineError{Host: a.host.Name(), Panic: r}
		}
		if conn != nil {
			if cerr := conn.Close(); cerr != nil {
				a.logger.Warn("close connection: %v", cerr)
			}
		}
		if a.sink != nil {
			a.sink.Close() //nolint:errcheck
		}
		if cerr := a.ch.Close(); cerr != nil {
			if err == nil {
				err = &hrerr.ChannelCloseError{Err: cerr}
			} else {
				a.logger.Warn("close coordination channel: %v", cerr)
			}
		}
		a.metrics.ActionFinished(err)
	}()

	conn, err = a.createConnection()
	if err != nil {
		return err
	}
	return a.fn(ctx, conn)
}

// createConnection instantiates the transport and wraps it.  Pseudo
// hosts name their fixture file in the address.
func (a *HostAction) createConnection() (*connection.Connection, error) {
	proto := a.host.Protocol()
	t, err := a.factory(a.params, a.logger)
	if err != nil {
		return nil, &hrerr.ConnectionSetupError{Protocol: proto, Host: a.host.Address(), Op: "create", Err: err}
	}

	if proto == transport.ProtocolPseudo {
		fl, ok := t.(transport.FixtureLoader)
		if !ok {
			err = fmt.Errorf("%T cannot load fixtures", t)
		} else {
			err = fl.LoadFixture(a.host.Address())
		}
		if err != nil {
			t.Close() //nolint:errcheck
			return nil, &hrerr.ConnectionSetupError{Protocol: proto, Host: a.host.Address(), Op: "fixture", Err: err}
		}
	}

	if a.logDir != "" {
		a.sink = newSessionLog(a.logDir, a.LogName())
	}
	conn := connection.New(a, t, a.logger)
	conn.DataReceived.Listen(a.LogEvent)
	return conn, nil
}
