package pap

import (
	"bytes"

	"gopap/internal/metrics"
	"gopap/util"
)

const (
	commentOpen  = "%%["
	commentClose = "]%%"

	maxStatusLen = 254
)

// StatusReporter logs printer status strings when they change.
type StatusReporter struct {
	logger  *util.Logger
	metrics *metrics.Collector
	last    []byte
	seen    bool
}

// NewStatusReporter returns a reporter that has seen no status yet.
func NewStatusReporter(logger *util.Logger, m *metrics.Collector) *StatusReporter {
	if logger == nil {
		logger = util.Discard()
	}
	return &StatusReporter{logger: logger, metrics: m}
}

// Update records raw and logs it as a status comment if it differs
// from the previous status.  It reports whether a line was logged.
func (r *StatusReporter) Update(raw []byte) bool {
	if len(raw) > maxStatusLen {
		raw = raw[:maxStatusLen]
	}
	if r.seen && bytes.Equal(raw, r.last) {
		return false
	}
	r.last = append(r.last[:0], raw...)
	r.seen = true
	r.metrics.StatusChanged()
	r.logger.Info("%s", FormatStatus(raw))
	return true
}

// Last returns the most recent status text.
func (r *StatusReporter) Last() string {
	return string(r.last)
}

// FormatStatus renders raw as a "%%[ ... ]%%" comment, passing it
// through when the printer already sent one.
func FormatStatus(raw []byte) string {
	if len(raw) > len(commentOpen) && bytes.HasPrefix(raw, []byte(commentOpen)) {
		return string(raw)
	}
	return commentOpen + " " + string(raw) + " " + commentClose
}
