package account

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"

	hrerr "hostrun/internal/errors"
	"hostrun/internal/metrics"
	"hostrun/util"
)

// Lease is one credential on loan from the coordinator.
type Lease struct {
	ID      string
	Account *Account
}

// ── requests ─────────────────────────────────────────────────────────

type op int

const (
	opForAccount op = iota
	opForHost
	opRelease
	opClosePipe
)

type request struct {
	op      op
	pipe    string
	account *Account // opForAccount
	host    string   // opForHost
	lease   string   // opRelease
	reply   chan response
}

type response struct {
	lease    *Lease
	released int
	err      error
}

// ── Manager ──────────────────────────────────────────────────────────

type entry struct {
	account *Account
	inUse   int
}

type leaseRecord struct {
	pipe  string
	entry *entry // nil for accounts outside the pool
	lease *Lease
}

// Manager is the account coordinator.  All pool state is owned by the
// goroutine running [Manager.Run]; everything else talks to it through
// pipes.
type Manager struct {
	reqs    chan request
	done    chan struct{}
	started atomic.Bool

	logger  *util.Logger
	metrics *metrics.Collector

	// owned by Run
	pool   []*entry
	byName map[string]*entry
	leases map[string]*leaseRecord
	next   int
}

// ManagerOption configures a [Manager].
type ManagerOption func(*Manager)

// WithLogger sets the coordinator's logger.
func WithLogger(l *util.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics records leases on c.
func WithMetrics(c *metrics.Collector) ManagerOption {
	return func(m *Manager) { m.metrics = c }
}

// NewManager builds a coordinator over accounts.  Later accounts with a
// duplicate name are ignored.
func NewManager(accounts []*Account, opts ...ManagerOption) *Manager {
	m := &Manager{
		reqs:   make(chan request),
		done:   make(chan struct{}),
		byName: make(map[string]*entry),
		leases: make(map[string]*leaseRecord),
		logger: util.NewLogger(0),
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, a := range accounts {
		if a == nil || m.byName[a.Name] != nil {
			continue
		}
		e := &entry{account: a}
		m.pool = append(m.pool, e)
		m.byName[a.Name] = e
	}
	return m
}

// Start runs the coordinator in a new goroutine until ctx is done.
func (m *Manager) Start(ctx context.Context) {
	m.started.Store(true)
	go m.Run(ctx) //nolint:errcheck
}

// Run serves requests until ctx is cancelled.  It may be called once.
func (m *Manager) Run(ctx context.Context) error {
	m.started.Store(true)
	defer close(m.done)

	m.logger.Debug("account coordinator: serving %d pooled accounts", len(m.pool))
	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("account coordinator: stopped with %d leases outstanding", len(m.leases))
			return ctx.Err()
		case req := <-m.reqs:
			req.reply <- m.handle(req)
		}
	}
}

// Pipe opens a new coordination channel for one host action.
func (m *Manager) Pipe() *Pipe {
	return &Pipe{id: uuid.NewString(), m: m}
}

// Size returns the number of pooled accounts.
func (m *Manager) Size() int { return len(m.pool) }

// call delivers req to the Run goroutine and waits for its answer.
// A lease granted after ctx expired stays tied to the pipe and is
// returned when the pipe closes.
func (m *Manager) call(ctx context.Context, req request) (response, error) {
	if !m.started.Load() {
		return response{}, hrerr.ErrCoordinatorStopped
	}
	req.reply = make(chan response, 1)

	select {
	case m.reqs <- req:
	case <-m.done:
		return response{}, hrerr.ErrCoordinatorStopped
	case <-ctx.Done():
		return response{}, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		return resp, nil
	case <-m.done:
		return response{}, hrerr.ErrCoordinatorStopped
	case <-ctx.Done():
		return response{}, ctx.Err()
	}
}

// ── request handling (Run goroutine only) ────────────────────────────

func (m *Manager) handle(req request) response {
	switch req.op {
	case opForAccount:
		return m.forAccount(req.pipe, req.account)
	case opForHost:
		return m.forHost(req.pipe, req.host)
	case opRelease:
		return m.release(req.lease)
	case opClosePipe:
		return m.closePipe(req.pipe)
	}
	return response{}
}

func (m *Manager) forAccount(pipe string, a *Account) response {
	e := m.byName[a.Name]
	if e != nil {
		if e.inUse >= e.account.sessionLimit() {
			return response{err: hrerr.ErrAccountBusy}
		}
		e.inUse++
	}
	return response{lease: m.grant(pipe, e, a)}
}

func (m *Manager) forHost(pipe, host string) response {
	var (
		best       *entry
		authorized bool
	)
	n := len(m.pool)
	for i := 0; i < n; i++ {
		e := m.pool[(m.next+i)%n]
		if !e.account.ValidFor(host) {
			continue
		}
		authorized = true
		if e.inUse >= e.account.sessionLimit() {
			continue
		}
		if best == nil || e.inUse < best.inUse {
			best = e
		}
	}
	switch {
	case !authorized:
		return response{err: hrerr.ErrHostUnauthorized}
	case best == nil:
		return response{err: hrerr.ErrPoolExhausted}
	}
	m.next = (m.next + 1) % n
	best.inUse++
	return response{lease: m.grant(pipe, best, best.account)}
}

func (m *Manager) grant(pipe string, e *entry, a *Account) *Lease {
	l := &Lease{ID: uuid.NewString(), Account: a}
	m.leases[l.ID] = &leaseRecord{pipe: pipe, entry: e, lease: l}
	m.metrics.AccountLeased()
	m.logger.Debug("account coordinator: leased %s to pipe %s", a.Name, pipe)
	return l
}

func (m *Manager) release(id string) response {
	rec, ok := m.leases[id]
	if !ok {
		return response{}
	}
	delete(m.leases, id)
	if rec.entry != nil {
		rec.entry.inUse--
	}
	m.metrics.AccountReleased()
	m.logger.Debug("account coordinator: released %s from pipe %s", rec.lease.Account.Name, rec.pipe)
	return response{released: 1}
}

func (m *Manager) closePipe(pipe string) response {
	released := 0
	for id, rec := range m.leases {
		if rec.pipe == pipe {
			released += m.release(id).released
		}
	}
	return response{released: released}
}
