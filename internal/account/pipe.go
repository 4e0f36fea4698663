package account

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	hrerr "hostrun/internal/errors"
)

// DefaultCloseTimeout bounds how long [Pipe.Close] waits for the
// coordinator to acknowledge.
const DefaultCloseTimeout = 5 * time.Second

// Channel is the coordination channel a host action holds.  It is used
// from one goroutine at a time and closed exactly once by the action.
type Channel interface {
	// AcquireAccount sends a {forAccount} request.
	AcquireAccount(ctx context.Context, a *Account) (*Lease, error)
	// AcquireForHost sends a {forHost} request.
	AcquireForHost(ctx context.Context, address string) (*Lease, error)
	// Release returns one lease early.
	Release(ctx context.Context, l *Lease) error
	// Close returns every outstanding lease and retires the channel.
	Close() error
}

// Pipe is the [Manager]'s implementation of [Channel].
type Pipe struct {
	id string
	m  *Manager

	requests atomic.Int64
	closed   atomic.Bool
	once     sync.Once
	closeErr error
}

var _ Channel = (*Pipe)(nil)

// ID returns the pipe's identifier as seen by the coordinator.
func (p *Pipe) ID() string { return p.id }

// Requests returns how many account requests went through the pipe.
func (p *Pipe) Requests() int64 { return p.requests.Load() }

// Closed reports whether Close has been called.
func (p *Pipe) Closed() bool { return p.closed.Load() }

// AcquireAccount leases a specific account.
func (p *Pipe) AcquireAccount(ctx context.Context, a *Account) (*Lease, error) {
	if a == nil {
		return nil, hrerr.New("nil account")
	}
	return p.acquire(ctx, request{op: opForAccount, account: a})
}

// AcquireForHost lets the coordinator pick an account for address.
func (p *Pipe) AcquireForHost(ctx context.Context, address string) (*Lease, error) {
	return p.acquire(ctx, request{op: opForHost, host: address})
}

func (p *Pipe) acquire(ctx context.Context, req request) (*Lease, error) {
	if p.Closed() {
		return nil, hrerr.ErrChannelClosed
	}
	p.requests.Add(1)
	req.pipe = p.id
	resp, err := p.m.call(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp.lease, resp.err
}

// Release returns l to the pool.  Releasing through a closed pipe is a
// no-op because Close already returned everything.
func (p *Pipe) Release(ctx context.Context, l *Lease) error {
	if l == nil || p.Closed() {
		return nil
	}
	_, err := p.m.call(ctx, request{op: opRelease, pipe: p.id, lease: l.ID})
	return err
}

// Close returns all leases taken through the pipe.  Only the first call
// talks to the coordinator; later calls return the first result.
func (p *Pipe) Close() error {
	p.once.Do(func() {
		p.closed.Store(true)
		ctx, cancel := context.WithTimeout(context.Background(), DefaultCloseTimeout)
		defer cancel()
		_, p.closeErr = p.m.call(ctx, request{op: opClosePipe, pipe: p.id})
	})
	return p.closeErr
}
