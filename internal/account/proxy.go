package account

import (
	"context"
	"sync"

	hrerr "hostrun/internal/errors"
)

// Proxy is a lazily resolved handle to one credential.  Constructing it
// is free; [Proxy.Acquire] is the first point that talks to the
// coordinator.
type Proxy struct {
	ch  Channel
	res Resolution

	mu    sync.Mutex
	lease *Lease
}

// NewProxy builds a proxy that will obtain its account as res says.
func NewProxy(ch Channel, res Resolution) *Proxy {
	return &Proxy{ch: ch, res: res}
}

// NewAccountProxy builds a proxy bound to a.
func NewAccountProxy(ch Channel, a *Account) *Proxy {
	return NewProxy(ch, Resolution{Kind: ForAccount, Source: SourceExplicit, Account: a})
}

// NewHostProxy builds a proxy the coordinator will bind for address.
func NewHostProxy(ch Channel, address string) *Proxy {
	return NewProxy(ch, Resolution{Kind: ForHost, Source: SourceCoordinator, Host: address})
}

// Resolution returns how the proxy obtains its account.
func (p *Proxy) Resolution() Resolution { return p.res }

// Account returns the leased account, or nil before Acquire succeeds.
func (p *Proxy) Account() *Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lease == nil {
		return nil
	}
	return p.lease.Account
}

// Acquire resolves the proxy to a concrete account, blocking on the
// coordinator if needed.  Repeated calls return the same account.
// Every failure is an *errors.AccountUnavailableError.
func (p *Proxy) Acquire(ctx context.Context) (*Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lease != nil {
		return p.lease.Account, nil
	}

	var (
		l   *Lease
		err error
	)
	if p.res.Kind == ForAccount {
		l, err = p.ch.AcquireAccount(ctx, p.res.Account)
	} else {
		l, err = p.ch.AcquireForHost(ctx, p.res.Host)
	}
	if err != nil {
		return nil, p.unavailable(err)
	}
	p.lease = l
	return l.Account, nil
}

// Release returns the lease, if any.  It is safe to call more than once.
func (p *Proxy) Release(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.lease == nil {
		return nil
	}
	err := p.ch.Release(ctx, p.lease)
	p.lease = nil
	return err
}

func (p *Proxy) unavailable(err error) error {
	var aue *hrerr.AccountUnavailableError
	if hrerr.As(err, &aue) {
		return err
	}
	if p.res.Kind == ForAccount {
		return &hrerr.AccountUnavailableError{Account: p.res.Account.Name, Err: err}
	}
	return &hrerr.AccountUnavailableError{Host: p.res.Host, Err: err}
}
