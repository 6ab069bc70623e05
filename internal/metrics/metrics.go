// Package metrics provides lock-free counters for one print job: open
// attempts, bytes delivered, credit grants, status changes and errors.
//
// A nil *Collector is a valid no-op receiver, so callers never need to
// nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for a print job.
type Collector struct {
	openAttempts  atomic.Int64
	bytesSent     atomic.Int64
	bytesBack     atomic.Int64
	creditGrants  atomic.Int64
	fragmentsSent atomic.Int64
	statusChanges atomic.Int64
	ticklesSent   atomic.Int64
	errorsTotal   atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	openedAt     time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Session ──────────────────────────────────────────────────────────

// OpenAttempt counts one open handshake attempt.
func (c *Collector) OpenAttempt() {
	if c == nil {
		return
	}
	c.openAttempts.Add(1)
}

// SessionOpened stamps the moment the printer accepted the session.
func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.openedAt = time.Now()
	c.mu.Unlock()
}

// OpenAttempts returns the number of open handshakes tried.
func (c *Collector) OpenAttempts() int64 {
	if c == nil {
		return 0
	}
	return c.openAttempts.Load()
}

// ── Data ─────────────────────────────────────────────────────────────

// CreditGranted counts one send-data credit received from the printer.
func (c *Collector) CreditGranted() {
	if c == nil {
		return
	}
	c.creditGrants.Add(1)
}

// DataSent records one data response of n bytes split into frags
// fragments.
func (c *Collector) DataSent(n int64, frags int) {
	if c == nil {
		return
	}
	c.bytesSent.Add(n)
	c.fragmentsSent.Add(int64(frags))
}

// BackChannel records n bytes received from the printer.
func (c *Collector) BackChannel(n int64) {
	if c == nil {
		return
	}
	c.bytesBack.Add(n)
}

// BytesSent returns the job bytes delivered so far.
func (c *Collector) BytesSent() int64 {
	if c == nil {
		return 0
	}
	return c.bytesSent.Load()
}

// CreditGrants returns the number of credits received.
func (c *Collector) CreditGrants() int64 {
	if c == nil {
		return 0
	}
	return c.creditGrants.Load()
}

// FragmentsSent returns the number of data fragments sent.
func (c *Collector) FragmentsSent() int64 {
	if c == nil {
		return 0
	}
	return c.fragmentsSent.Load()
}

// ── Keepalive / status ───────────────────────────────────────────────

// TickleSent counts one keepalive request.
func (c *Collector) TickleSent() {
	if c == nil {
		return
	}
	c.ticklesSent.Add(1)
}

// StatusChanged counts one logged printer status change.
func (c *Collector) StatusChanged() {
	if c == nil {
		return
	}
	c.statusChanges.Add(1)
}

// StatusChanges returns the number of logged status changes.
func (c *Collector) StatusChanges() int64 {
	if c == nil {
		return 0
	}
	return c.statusChanges.Load()
}

// ── Errors ───────────────────────────────────────────────────────────

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
	Elapsed          string `json:"elapsed"`
	OpenAttempts     int64  `json:"open_attempts"`
	ConnectedFor     string `json:"connected_for,omitempty"`
	BytesSent        int64  `json:"bytes_sent"`
	BytesBack        int64  `json:"bytes_back_channel"`
	CreditGrants     int64  `json:"credit_grants"`
	FragmentsSent    int64  `json:"fragments_sent"`
	StatusChanges    int64  `json:"status_changes"`
	TicklesSent      int64  `json:"tickles_sent"`
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
		Elapsed:       time.Since(c.startTime).Truncate(time.Millisecond).String(),
		OpenAttempts:  c.openAttempts.Load(),
		BytesSent:     c.bytesSent.Load(),
		BytesBack:     c.bytesBack.Load(),
		CreditGrants:  c.creditGrants.Load(),
		FragmentsSent: c.fragmentsSent.Load(),
		StatusChanges: c.statusChanges.Load(),
		TicklesSent:   c.ticklesSent.Load(),
		ErrorsTotal:   c.errorsTotal.Load(),
	}
	if !c.openedAt.IsZero() {
		s.ConnectedFor = time.Since(c.openedAt).Truncate(time.Millisecond).String()
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
