package account

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	hrerr "hostrun/internal/errors"
	"hostrun/internal/metrics"
)

func startManager(t *testing.T, accounts []*Account, opts ...ManagerOption) *Manager {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m := NewManager(accounts, opts...)
	m.Start(ctx)
	return m
}

func TestManager_ForHostLeastLoaded(t *testing.T) {
	a := &Account{Name: "a", Sessions: 2}
	b := &Account{Name: "b", Sessions: 2}
	m := startManager(t, []*Account{a, b})
	ctx := context.Background()

	p1, p2, p3 := m.Pipe(), m.Pipe(), m.Pipe()

	l1, err := p1.AcquireForHost(ctx, "r1")
	require.NoError(t, err)
	l2, err := p2.AcquireForHost(ctx, "r2")
	require.NoError(t, err)
	assert.NotEqual(t, l1.Account.Name, l2.Account.Name, "second lease should go to the idle account")

	// Both accounts now carry one session; either may be picked, but
	// after this one account is full and the next pick must be the other.
	l3, err := p3.AcquireForHost(ctx, "r3")
	require.NoError(t, err)
	l4, err := p3.AcquireForHost(ctx, "r4")
	require.NoError(t, err)
	assert.NotEqual(t, l3.Account.Name, l4.Account.Name)

	_, err = m.Pipe().AcquireForHost(ctx, "r5")
	assert.ErrorIs(t, err, hrerr.ErrPoolExhausted)
}

func TestManager_ForHostUnauthorized(t *testing.T) {
	m := startManager(t, []*Account{{Name: "lab", Hosts: []string{"lab-*"}}})

	_, err := m.Pipe().AcquireForHost(context.Background(), "core-1")
	assert.ErrorIs(t, err, hrerr.ErrHostUnauthorized)

	l, err := m.Pipe().AcquireForHost(context.Background(), "lab-7")
	require.NoError(t, err)
	assert.Equal(t, "lab", l.Account.Name)
}

func TestManager_ForAccount(t *testing.T) {
	pooled := &Account{Name: "admin"}
	m := startManager(t, []*Account{pooled})
	ctx := context.Background()

	requested := &Account{Name: "admin", Password: "from-cli"}
	l, err := m.Pipe().AcquireAccount(ctx, requested)
	require.NoError(t, err)
	assert.Same(t, requested, l.Account, "the exact requested account is returned")

	_, err = m.Pipe().AcquireAccount(ctx, &Account{Name: "admin"})
	assert.ErrorIs(t, err, hrerr.ErrAccountBusy)

	// Accounts outside the pool are granted without a limit.
	adhoc := &Account{Name: "guest"}
	for i := 0; i < 3; i++ {
		l, err := m.Pipe().AcquireAccount(ctx, adhoc)
		require.NoError(t, err)
		assert.Same(t, adhoc, l.Account)
	}
}

func TestPipe_CloseReleasesLeases(t *testing.T) {
	c := metrics.New()
	m := startManager(t, []*Account{{Name: "only"}}, WithMetrics(c))
	ctx := context.Background()

	p := m.Pipe()
	_, err := p.AcquireForHost(ctx, "r1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, c.ActiveLeases())

	_, err = m.Pipe().AcquireForHost(ctx, "r2")
	require.ErrorIs(t, err, hrerr.ErrPoolExhausted)

	require.NoError(t, p.Close())
	assert.True(t, p.Closed())
	assert.EqualValues(t, 0, c.ActiveLeases())

	_, err = m.Pipe().AcquireForHost(ctx, "r2")
	assert.NoError(t, err)
}

func TestPipe_CloseOnce(t *testing.T) {
	m := startManager(t, nil)
	p := m.Pipe()

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	_, err := p.AcquireForHost(context.Background(), "r1")
	assert.ErrorIs(t, err, hrerr.ErrChannelClosed)
	assert.NoError(t, p.Release(context.Background(), &Lease{ID: "x"}))
}

func TestPipe_ReleaseSingleLease(t *testing.T) {
	m := startManager(t, []*Account{{Name: "only"}})
	ctx := context.Background()
	p := m.Pipe()

	l, err := p.AcquireForHost(ctx, "r1")
	require.NoError(t, err)
	require.NoError(t, p.Release(ctx, l))

	_, err = p.AcquireForHost(ctx, "r1")
	assert.NoError(t, err)
	assert.EqualValues(t, 2, p.Requests())
}

func TestManager_Stopped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewManager([]*Account{{Name: "a"}})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Run(ctx)
	}()
	cancel()
	<-done

	p := m.Pipe()
	_, err := p.AcquireForHost(context.Background(), "r1")
	assert.ErrorIs(t, err, hrerr.ErrCoordinatorStopped)
	assert.ErrorIs(t, p.Close(), hrerr.ErrCoordinatorStopped)
}

func TestManager_NotStarted(t *testing.T) {
	m := NewManager(nil)
	_, err := m.Pipe().AcquireForHost(context.Background(), "r1")
	assert.ErrorIs(t, err, hrerr.ErrCoordinatorStopped)
}

func TestManager_DuplicateNames(t *testing.T) {
	m := NewManager([]*Account{{Name: "a"}, {Name: "a"}, nil, {Name: "b"}})
	assert.Equal(t, 2, m.Size())
}

func TestProxy_LazyAcquire(t *testing.T) {
	m := startManager(t, []*Account{{Name: "pool"}})
	p := m.Pipe()

	proxy := NewProxy(p, Resolve(nil, nil, "r1"))
	assert.Nil(t, proxy.Account())
	assert.Zero(t, p.Requests(), "building a proxy must not contact the coordinator")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	a, err := proxy.Acquire(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pool", a.Name)

	again, err := proxy.Acquire(ctx)
	require.NoError(t, err)
	assert.Same(t, a, again)
	assert.EqualValues(t, 1, p.Requests())

	require.NoError(t, proxy.Release(ctx))
	require.NoError(t, proxy.Release(ctx))
	assert.Nil(t, proxy.Account())
}

func TestProxy_ExplicitAccountBinding(t *testing.T) {
	pooled := &Account{Name: "pool"}
	m := startManager(t, []*Account{pooled})
	explicit := &Account{Name: "explicit"}

	proxy := NewProxy(m.Pipe(), Resolve(explicit, &Account{Name: "default"}, "r1"))
	a, err := proxy.Acquire(context.Background())
	require.NoError(t, err)
	assert.Same(t, explicit, a)
	assert.Equal(t, SourceExplicit, proxy.Resolution().Source)
}

func TestProxy_UnavailableError(t *testing.T) {
	m := startManager(t, nil)

	_, err := NewHostProxy(m.Pipe(), "r1").Acquire(context.Background())
	var aue *hrerr.AccountUnavailableError
	require.ErrorAs(t, err, &aue)
	assert.Equal(t, "r1", aue.Host)
	assert.ErrorIs(t, err, hrerr.ErrHostUnauthorized)

	busy := &Account{Name: "x"}
	m2 := startManager(t, []*Account{busy})
	_, err = NewAccountProxy(m2.Pipe(), busy).Acquire(context.Background())
	require.NoError(t, err)
	_, err = NewAccountProxy(m2.Pipe(), busy).Acquire(context.Background())
	require.ErrorAs(t, err, &aue)
	assert.Equal(t, "x", aue.Account)
}

func TestProxy_ContextTimeout(t *testing.T) {
	// A manager that is marked started but never serves.
	m := NewManager(nil)
	m.started.Store(true)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewHostProxy(m.Pipe(), "r1").Acquire(ctx)
	var aue *hrerr.AccountUnavailableError
	require.ErrorAs(t, err, &aue)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
