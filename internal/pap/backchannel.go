package pap

import (
	"bytes"
	"io"

	"gopap/internal/metrics"
	"gopap/util"
)

// BackChannel receives the printer's Data packets.  The raw bytes go
// to the writer; PostScript status comments found in them are logged.
type BackChannel struct {
	w           io.Writer
	logger      *util.Logger
	metrics     *metrics.Collector
	errorLogged bool
}

// NewBackChannel writes printer output to w.  A nil w discards it.
func NewBackChannel(w io.Writer, logger *util.Logger, m *metrics.Collector) *BackChannel {
	if w == nil {
		w = io.Discard
	}
	if logger == nil {
		logger = util.Discard()
	}
	return &BackChannel{w: w, logger: logger, metrics: m}
}

// Write copies p to the back-channel writer and logs its comments.
func (b *BackChannel) Write(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	b.metrics.BackChannel(int64(len(p)))
	if _, err := b.w.Write(p); err != nil {
		return err
	}

	for _, c := range Comments(p) {
		switch {
		case hasFoldPrefix(c, "%%[ Error:"):
			// Kept below info so the spooler does not stop the queue.
			b.logger.Debug("%s", c)
			b.errorLogged = true
		case hasFoldPrefix(c, "%%[ Flushing"):
			b.logger.Debug("%s", c)
		default:
			b.logger.Info("%s", c)
		}
	}
	return nil
}

// ErrorLogged reports whether the printer sent an error comment.
func (b *BackChannel) ErrorLogged() bool { return b.errorLogged }

// Comments returns every complete "%%[ ... ]%%" comment in p, with CR
// and LF replaced by spaces.
func Comments(p []byte) []string {
	var out []string
	for {
		start := bytes.Index(p, []byte(commentOpen))
		if start < 0 {
			return out
		}
		end := bytes.Index(p[start:], []byte(commentClose))
		if end < 0 {
			return out
		}
		end += start + len(commentClose)

		c := append([]byte(nil), p[start:end]...)
		for i, ch := range c {
			if ch == '\r' || ch == '\n' {
				c[i] = ' '
			}
		}
		out = append(out, string(c))
		p = p[end:]
	}
}

func hasFoldPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && bytes.EqualFold([]byte(s[:len(prefix)]), []byte(prefix))
}
