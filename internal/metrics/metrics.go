// Package metrics provides lightweight, lock-free counters and gauges
// for tracking a hostrun batch: actions, retries, account leases and
// the bytes seen on host connections.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for a batch of host actions.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	actionsActive    atomic.Int64
	actionsTotal     atomic.Int64
	actionsSucceeded atomic.Int64
	actionsFailed    atomic.Int64
	retries          atomic.Int64
	leasesActive     atomic.Int64
	leasesTotal      atomic.Int64
	bytesIn          atomic.Int64
	bytesOut         atomic.Int64
	errorsTotal      atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Action metrics ───────────────────────────────────────────────────

// ActionStarted increments both the active and total counters.
func (c *Collector) ActionStarted() {
	if c == nil {
		return
	}
	c.actionsActive.Add(1)
	c.actionsTotal.Add(1)
}

// ActionFinished decrements the active gauge and counts the outcome.
func (c *Collector) ActionFinished(err error) {
	if c == nil {
		return
	}
	c.actionsActive.Add(-1)
	if err != nil {
		c.actionsFailed.Add(1)
		c.RecordError(err.Error())
		return
	}
	c.actionsSucceeded.Add(1)
}

// ActiveActions returns the number of actions currently executing.
func (c *Collector) ActiveActions() int64 {
	if c == nil {
		return 0
	}
	return c.actionsActive.Load()
}

// TotalActions returns the number of actions ever started, retries
// included.
func (c *Collector) TotalActions() int64 {
	if c == nil {
		return 0
	}
	return c.actionsTotal.Load()
}

// Retry records that a host is being attempted again.
func (c *Collector) Retry() {
	if c == nil {
		return
	}
	c.retries.Add(1)
}

// Retries returns the total retry count.
func (c *Collector) Retries() int64 {
	if c == nil {
		return 0
	}
	return c.retries.Load()
}

// ── Account metrics ──────────────────────────────────────────────────

// AccountLeased records a credential handed out by the coordinator.
func (c *Collector) AccountLeased() {
	if c == nil {
		return
	}
	c.leasesActive.Add(1)
	c.leasesTotal.Add(1)
}

// AccountReleased records a credential returned to the coordinator.
func (c *Collector) AccountReleased() {
	if c == nil {
		return
	}
	c.leasesActive.Add(-1)
}

// ActiveLeases returns the number of credentials currently on loan.
func (c *Collector) ActiveLeases() int64 {
	if c == nil {
		return 0
	}
	return c.leasesActive.Load()
}

// ── I/O metrics ──────────────────────────────────────────────────────

// BytesReceived records n bytes read from a host.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesIn.Add(n)
}

// BytesSent records n bytes written to a host.
func (c *Collector) BytesSent(n int64) {
	if c == nil {
		return
	}
	c.bytesOut.Add(n)
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// ── Error metrics ────────────────────────────────────────────────────

// RecordError increments the error counter and stores the message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.errorsTotal.Add(1)
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ErrorCount returns the total number of errors recorded.
func (c *Collector) ErrorCount() int64 {
	if c == nil {
		return 0
	}
	return c.errorsTotal.Load()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	ActionsActive    int64  `json:"actions_active"`
	ActionsTotal     int64  `json:"actions_total"`
	ActionsSucceeded int64  `json:"actions_succeeded"`
	ActionsFailed    int64  `json:"actions_failed"`
	Retries          int64  `json:"retries"`
	LeasesActive     int64  `json:"leases_active"`
	LeasesTotal      int64  `json:"leases_total"`
	BytesIn          int64  `json:"bytes_in"`
	BytesOut         int64  `json:"bytes_out"`
	ErrorsTotal      int64  `json:"errors_total"`
	LastError        string `json:"last_error,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:           time.Since(c.startTime).Truncate(time.Second).String(),
		ActionsActive:    c.actionsActive.Load(),
		ActionsTotal:     c.actionsTotal.Load(),
		ActionsSucceeded: c.actionsSucceeded.Load(),
		ActionsFailed:    c.actionsFailed.Load(),
		Retries:          c.retries.Load(),
		LeasesActive:     c.leasesActive.Load(),
		LeasesTotal:      c.leasesTotal.Load(),
		BytesIn:          c.bytesIn.Load(),
		BytesOut:         c.bytesOut.Load(),
		ErrorsTotal:      c.errorsTotal.Load(),
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as an indented JSON string.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.MarshalIndent(s, "", "  ")
	return string(data)
}
