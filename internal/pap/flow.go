package pap

import (
	"fmt"

	"gopap/internal/atp"
	paperr "gopap/internal/errors"
	"gopap/internal/metrics"
	"gopap/util"
)

// PendingCredit is a printer SendData request we have not answered
// yet.  Dest is where the request came from, which need not be the
// session address.
type PendingCredit struct {
	TID         atp.TID
	Dest        atp.Addr
	ExactlyOnce bool
}

// Fragments splits data into Data response fragments of at most
// maxFrag bytes.  Only the last fragment carries the EOF flag.  An
// empty data slice yields one empty fragment so EOF can be signalled.
func Fragments(connID uint8, data []byte, eof bool, quantum, maxFrag int) ([]atp.Fragment, error) {
	if len(data) > quantum*maxFrag {
		return nil, fmt.Errorf("%w: %d bytes, window is %d×%d",
			paperr.ErrFragmentTooLarge, len(data), quantum, maxFrag)
	}
	n := (len(data) + maxFrag - 1) / maxFrag
	if n == 0 {
		n = 1
	}
	frags := make([]atp.Fragment, n)
	for i := range frags {
		end := (i + 1) * maxFrag
		if end > len(data) {
			end = len(data)
		}
		h := Header{ConnID: connID, Type: Data, EOF: eof && i == n-1}
		frags[i] = atp.Fragment{UserData: h.Encode(), Data: data[i*maxFrag : end]}
	}
	return frags, nil
}

// Flow pairs printer credit with job data.  At most one credit and
// one chunk are held at a time.
type Flow struct {
	ep      atp.Endpoint
	connID  uint8
	quantum int
	maxFrag int
	logger  *util.Logger
	metrics *metrics.Collector

	credit  *PendingCredit
	chunk   *chunk
	eofSent bool
	sent    int64
}

// NewFlow returns a Flow answering credit on ep for session connID.
func NewFlow(ep atp.Endpoint, connID uint8, quantum, maxFrag int, logger *util.Logger, m *metrics.Collector) *Flow {
	if logger == nil {
		logger = util.Discard()
	}
	return &Flow{
		ep:      ep,
		connID:  connID,
		quantum: quantum,
		maxFrag: maxFrag,
		logger:  logger,
		metrics: m,
	}
}

// Window is the largest chunk one credit grant can carry.
func (f *Flow) Window() int { return f.quantum * f.maxFrag }

// OnCreditGranted answers c at once if data (or EOF) is buffered and
// otherwise remembers it.  It reports whether a Data response was sent.
func (f *Flow) OnCreditGranted(c PendingCredit) (bool, error) {
	f.metrics.CreditGranted()
	if f.eofSent {
		f.logger.Debug("credit tid %d after EOF, ignoring", c.TID)
		return false, nil
	}
	if f.credit != nil {
		f.logger.Debug("credit tid %d replaces unanswered tid %d", c.TID, f.credit.TID)
	}
	f.credit = &c
	if f.chunk == nil {
		return false, nil
	}
	return true, f.fulfill()
}

// OnDataAvailable answers the pending credit with ch if there is one
// and otherwise buffers ch.  It reports whether a response was sent.
func (f *Flow) OnDataAvailable(ch *chunk) (bool, error) {
	if f.chunk != nil {
		return false, fmt.Errorf("pap: chunk buffered while another is pending")
	}
	f.chunk = ch
	if f.credit == nil || f.eofSent {
		return false, nil
	}
	return true, f.fulfill()
}

func (f *Flow) fulfill() error {
	c, ch := f.credit, f.chunk
	f.credit, f.chunk = nil, nil
	defer ch.release()

	frags, err := Fragments(f.connID, ch.data, ch.eof, f.quantum, f.maxFrag)
	if err != nil {
		return err
	}
	if ch.eof {
		f.logger.Debug("-> %s %d bytes with EOF", Data, len(ch.data))
	} else {
		f.logger.Debug("-> %s %d bytes", Data, len(ch.data))
	}
	if err := f.ep.Respond(c.Dest, c.TID, c.ExactlyOnce, frags); err != nil {
		return paperr.Wrap("send data", c.Dest.String(), err)
	}

	f.sent += int64(len(ch.data))
	f.metrics.DataSent(int64(len(ch.data)), len(frags))
	if ch.eof {
		f.eofSent = true
	}
	return nil
}

// Pending returns the unanswered credit, if any.
func (f *Flow) Pending() *PendingCredit { return f.credit }

// Buffered reports whether a chunk is waiting for credit.
func (f *Flow) Buffered() bool { return f.chunk != nil }

// EOFSent reports whether end-of-job has been signalled.
func (f *Flow) EOFSent() bool { return f.eofSent }

// Sent is the number of job bytes delivered.
func (f *Flow) Sent() int64 { return f.sent }
