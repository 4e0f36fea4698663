// Package queue runs a work routine against many hosts.
//
// Each host gets its own retry loop.  Every attempt is a fresh
// action.HostAction with a fresh coordination channel, and the attempt
// number from the backoff loop becomes the action's attempt counter (and
// so its log name).  Workers are bounded with an errgroup; per-host
// failures are collected, never cancelling the rest of the batch.
package queue

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"hostrun/internal/account"
	"hostrun/internal/action"
	hrerr "hostrun/internal/errors"
	"hostrun/internal/host"
	"hostrun/internal/metrics"
	"hostrun/internal/retry"
	"hostrun/internal/transport"
	"hostrun/util"
)

// DefaultWorkers is the number of hosts worked on at once.
const DefaultWorkers = 8

// Result is the outcome for one host.
type Result struct {
	Host     *host.Host
	Attempts int // 0 when no attempt was made
	Err      error
	Duration time.Duration
}

// Queue drives host actions through the coordinator.
type Queue struct {
	manager  *account.Manager
	workers  int
	backoff  retry.Backoff
	breaker  *retry.CircuitBreaker
	params   transport.Params
	registry *transport.Registry
	logDir   string
	logger   *util.Logger
	metrics  *metrics.Collector
}

// Option configures a Queue.
type Option func(*Queue)

// WithWorkers bounds concurrency.  n < 1 means DefaultWorkers.
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithBackoff sets the per-host retry policy.  Its Retryable and
// OnRetry hooks are replaced by the queue's own.
func WithBackoff(b *retry.Backoff) Option {
	return func(q *Queue) {
		if b != nil {
			q.backoff = *b
		}
	}
}

// WithBreaker installs a circuit breaker shared by all hosts.
func WithBreaker(cb *retry.CircuitBreaker) Option {
	return func(q *Queue) { q.breaker = cb }
}

// WithParams sets the transport construction parameters.
func WithParams(p transport.Params) Option {
	return func(q *Queue) { q.params = p.Clone() }
}

// WithRegistry resolves protocols from r.
func WithRegistry(r *transport.Registry) Option {
	return func(q *Queue) { q.registry = r }
}

// WithLogDir enables per-host session logs under dir.
func WithLogDir(dir string) Option {
	return func(q *Queue) { q.logDir = dir }
}

// WithLogger sets the logger.
func WithLogger(l *util.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithMetrics records actions and retries in c.
func WithMetrics(c *metrics.Collector) Option {
	return func(q *Queue) { q.metrics = c }
}

// New builds a queue on top of a running coordinator.
func New(m *account.Manager, opts ...Option) *Queue {
	q := &Queue{
		manager:  m,
		workers:  DefaultWorkers,
		backoff:  *retry.DefaultBackoff(),
		registry: transport.Default(),
		params:   transport.Params{},
	}
	for _, o := range opts {
		o(q)
	}
	if q.logger == nil {
		q.logger = util.NewLogger(0)
	}
	if q.breaker == nil {
		q.breaker = retry.NewCircuitBreaker(&retry.CircuitBreakerConfig{
			OnStateChange: func(from, to retry.State) {
				q.logger.Warn("circuit breaker %s -> %s", from, to)
			},
		})
	}
	return q
}

// Run works fn through every host and returns one Result per host, in
// input order.  The error aggregates every host failure; use
// multierr.Errors to split it.
func (q *Queue) Run(ctx context.Context, hosts []*host.Host, fn action.Func) ([]Result, error) {
	results := make([]Result, len(hosts))

	var g errgroup.Group
	g.SetLimit(q.workers)
	for i, h := range hosts {
		if err := ctx.Err(); err != nil {
			results[i] = Result{Host: h, Err: err}
			continue
		}
		g.Go(func() error {
			results[i] = q.runHost(ctx, h, fn)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never fail

	var errs error
	for _, r := range results {
		if r.Err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", r.Host.Name(), r.Err))
		}
	}
	return results, errs
}

func (q *Queue) runHost(ctx context.Context, h *host.Host, fn action.Func) Result {
	start := time.Now()
	log := q.logger.With("host", h.Name())
	res := Result{Host: h}

	// An unknown protocol fails before any channel is opened.
	if _, err := q.registry.Lookup(h.Protocol()); err != nil {
		log.Error("%v", err)
		res.Err = err
		return res
	}

	b := q.backoff
	b.Retryable = hrerr.IsRetryable
	b.OnRetry = func(attempt int, err error, wait time.Duration) {
		q.metrics.Retry()
		log.Warn("attempt %d failed: %v (retrying in %v)", attempt, err, wait.Truncate(time.Millisecond))
	}

	res.Err = b.Do(ctx, func(attempt int) error {
		return q.breaker.Execute(func() error {
			res.Attempts = attempt
			return q.attempt(ctx, h, fn, attempt, log)
		})
	})
	res.Duration = time.Since(start)

	if res.Err != nil {
		log.Error("failed after %d attempt(s): %v", res.Attempts, res.Err)
	} else {
		log.Verbose("done in %v", res.Duration.Truncate(time.Millisecond))
	}
	return res
}

// attempt runs one HostAction on a fresh coordination channel.
func (q *Queue) attempt(ctx context.Context, h *host.Host, fn action.Func, n int, log *util.Logger) error {
	pipe := q.manager.Pipe()
	a, err := action.New(pipe, fn, h, q.params,
		action.WithRegistry(q.registry),
		action.WithLogger(q.logger),
		action.WithLogDir(q.logDir),
		action.WithMetrics(q.metrics),
	)
	if err != nil {
		pipe.Close() //nolint:errcheck
		return err
	}
	a.SetAttempt(n)
	log.Debug("attempt %d, channel %s, log %s", n, pipe.ID(), a.LogName())
	return a.Execute(ctx)
}
