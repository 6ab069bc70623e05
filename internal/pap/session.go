package pap

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"gopap/internal/atp"
	paperr "gopap/internal/errors"
	"gopap/internal/metrics"
	"gopap/util"
)

// State is a session's lifecycle stage.
type State int

const (
	Closed State = iota
	Opening
	Open
	Closing
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Opening:
		return "opening"
	case Open:
		return "open"
	case Closing:
		return "closing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Config is the caller-owned session policy.
type Config struct {
	StatusInterval time.Duration // 0 disables status polling
	WaitEOF        bool          // wait for the printer's own EOF
	CloseDelay     time.Duration // pause before CloseConn unless WaitEOF
	MaxFragment    int
	Quantum        int // fragments we accept per SendData
	TickleInterval time.Duration
	Watchdog       time.Duration
}

// DefaultConfig returns the stock policy.
func DefaultConfig() Config {
	return Config{
		StatusInterval: 5 * time.Second,
		CloseDelay:     2 * time.Second,
		MaxFragment:    512,
		Quantum:        8,
		TickleInterval: 10 * time.Second,
		Watchdog:       120 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxFragment <= 0 || c.MaxFragment > atp.MaxData {
		c.MaxFragment = d.MaxFragment
	}
	if c.Quantum <= 0 || c.Quantum > atp.MaxFragments {
		c.Quantum = d.Quantum
	}
	if c.TickleInterval <= 0 {
		c.TickleInterval = d.TickleInterval
	}
	if c.Watchdog <= 0 {
		c.Watchdog = d.Watchdog
	}
	return c
}

var (
	openPolicy  = atp.RetryPolicy{Interval: 2 * time.Second, MaxRetries: 5}
	closePolicy = atp.RetryPolicy{Interval: 2 * time.Second, MaxRetries: 5}
)

// unreachableStatus is reported when an OpenConn gets no answer at all.
const unreachableStatus = "Destination unreachable"

// tracked is a transaction Close must abort.  Inbound credit TIDs are
// numbered by the printer and are matched apart from ours.
type tracked struct {
	tid     atp.TID
	inbound bool
	kind    string
}

// Session is one PAP connection to a printer.  It is not safe for
// concurrent use: Open, Run and Close belong to one goroutine.
type Session struct {
	ep      atp.Endpoint
	printer atp.Addr // where OpenConn and SendStatus go
	addr    atp.Addr // printer's session socket, set by Open
	connID  uint8
	state   State
	quantum int // printer's flow quantum
	seq     Sequence
	cfg     Config

	status  *StatusReporter
	logger  *util.Logger
	metrics *metrics.Collector

	outstanding []tracked
	wasOpen     bool
	peerClosed  bool
	closed      bool

	// OnStateChange, when set, observes every transition.
	OnStateChange func(from, to State)

	sleep func(ctx context.Context, d time.Duration) error
	rand  *rand.Rand
}

// NewSession prepares a session to printer over ep.  The session owns
// ep and closes it in Close.
func NewSession(ep atp.Endpoint, printer atp.Addr, cfg Config, logger *util.Logger, m *metrics.Collector) *Session {
	if logger == nil {
		logger = util.Discard()
	}
	return &Session{
		ep:      ep,
		printer: printer,
		cfg:     cfg.withDefaults(),
		status:  NewStatusReporter(logger, m),
		logger:  logger,
		metrics: m,
		sleep:   sleepCtx,
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ConnectContext derives the context an Open handshake runs under:
// detached from ctx's cancellation so a half-open session is never
// abandoned, and bounded by timeout unless timeout is 0.
func ConnectContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	detached := context.WithoutCancel(ctx)
	if timeout <= 0 {
		return context.WithCancel(detached)
	}
	return context.WithTimeout(detached, timeout)
}

// State returns the current lifecycle stage.
func (s *Session) State() State { return s.state }

// ConnID returns the connection id chosen by Open.
func (s *Session) ConnID() uint8 { return s.connID }

// Quantum returns the printer's flow quantum.
func (s *Session) Quantum() int { return s.quantum }

// Addr returns the printer's session address.
func (s *Session) Addr() atp.Addr { return s.addr }

// Status returns the session's status reporter.
func (s *Session) Status() *StatusReporter { return s.status }

func (s *Session) setState(to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	s.logger.Debug("session %s -> %s", from, to)
	if s.OnStateChange != nil {
		s.OnStateChange(from, to)
	}
}

// Open runs the OpenConn handshake until the printer accepts or ctx
// ends.  Unanswered requests and refusals are retried after a second;
// every status string the printer returns is reported.
func (s *Session) Open(ctx context.Context) error {
	if s.state != Closed || s.closed {
		return fmt.Errorf("pap: open in state %s", s.state)
	}
	s.setState(Opening)
	s.connID = NewConnID(s.rand)
	s.logger.Info("Opening connection")

	start := time.Now()
	lastErr := paperr.ErrHostUnreachable
	for {
		waited := time.Since(start) / time.Second
		if waited > 0xFFFF {
			waited = 0xFFFF
		}
		req := atp.Request{
			UserData: Header{ConnID: s.connID, Type: OpenConn}.Encode(),
			Data: OpenRequest{
				Socket:   s.ep.LocalSocket(),
				Quantum:  uint8(s.cfg.Quantum),
				WaitTime: uint16(waited),
			}.Marshal(),
			ExactlyOnce: true,
			Bitmap:      0x01,
		}

		s.metrics.OpenAttempt()
		s.logger.Debug("-> %s", OpenConn)
		resp, err := s.ep.Transact(ctx, s.printer, req, openPolicy)
		switch {
		case err == nil:
			done, err := s.handleOpenReply(resp)
			if err != nil {
				s.setState(Closed)
				return err
			}
			if done {
				return nil
			}
			lastErr = paperr.ErrTimeout
		case ctx.Err() != nil:
			s.setState(Closed)
			return fmt.Errorf("open %s: %w", s.printer, lastErr)
		case errors.Is(err, atp.ErrClosed):
			s.setState(Closed)
			return paperr.Wrap("open", s.printer.String(), err)
		default:
			s.logger.Debug("open %s: %v", s.printer, err)
			s.status.Update([]byte(unreachableStatus))
			lastErr = paperr.ErrHostUnreachable
		}

		if err := s.sleep(ctx, time.Second); err != nil {
			s.setState(Closed)
			return fmt.Errorf("open %s: %w", s.printer, lastErr)
		}
	}
}

// handleOpenReply reports done once the printer has accepted.
func (s *Session) handleOpenReply(resp *atp.Response) (bool, error) {
	h := Decode(resp.UserData())
	reply, err := ParseOpenReply(resp.Data())
	if err != nil || h.Type != OpenConnReply || (reply.Result == 0 && h.ConnID != s.connID) {
		return false, fmt.Errorf("open %s: %w: got %s conn %d, want %s conn %d",
			s.printer, paperr.ErrProtocolMismatch, h.Type, h.ConnID, OpenConnReply, s.connID)
	}
	s.logger.Debug("<- %s, status %d", h.Type, reply.Result)
	s.status.Update(reply.Status)

	if reply.Result != 0 {
		return false, nil
	}
	if reply.Quantum == 0 {
		return false, fmt.Errorf("open %s: %w: zero flow quantum", s.printer, paperr.ErrProtocolMismatch)
	}
	s.quantum = int(reply.Quantum)
	if s.quantum > atp.MaxFragments {
		s.quantum = atp.MaxFragments
	}
	s.addr = s.printer.WithSocket(reply.Socket)
	s.wasOpen = true
	s.metrics.SessionOpened()
	s.setState(Open)
	return true, nil
}

// track registers one of our transactions for Close to abort.
func (s *Session) track(tid atp.TID, kind string) {
	s.outstanding = append(s.outstanding, tracked{tid: tid, kind: kind})
}

// trackCredit registers the printer's unanswered SendData.
func (s *Session) trackCredit(tid atp.TID) {
	s.outstanding = append(s.outstanding, tracked{tid: tid, inbound: true, kind: "data credit"})
}

// untrack forgets our tid once it has completed.
func (s *Session) untrack(tid atp.TID) { s.forget(tid, false) }

// untrackCredit forgets a credit once it has been answered or replaced.
func (s *Session) untrackCredit(tid atp.TID) { s.forget(tid, true) }

func (s *Session) forget(tid atp.TID, inbound bool) {
	for i, t := range s.outstanding {
		if t.tid == tid && t.inbound == inbound {
			s.outstanding = append(s.outstanding[:i], s.outstanding[i+1:]...)
			return
		}
	}
}

// peerClose acknowledges a CloseConn request from the printer.
func (s *Session) peerClose(req *atp.Request, expected bool) {
	reply := []atp.Fragment{{UserData: Header{ConnID: s.connID, Type: CloseConnReply}.Encode()}}
	if err := s.ep.Respond(req.Src, req.TID, req.ExactlyOnce, reply); err != nil {
		s.logger.Debug("close reply: %v", err)
	}
	s.peerClosed = true
	s.setState(Closing)
	if expected {
		s.logger.Warn("printer closed the connection after the job was sent")
	} else {
		s.logger.Error("printer closed the connection before the job was sent")
	}
}

// Close aborts outstanding transactions, sends CloseConn if the
// session was open and releases the endpoint.  Only the first call
// does anything.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	if s.wasOpen {
		s.setState(Closing)
		for _, t := range s.outstanding {
			s.logger.Debug("aborting %s tid %d", t.kind, t.tid)
			if err := s.ep.Abort(t.tid); err != nil {
				s.logger.Debug("abort tid %d: %v", t.tid, err)
			}
		}
		s.outstanding = nil

		if !s.cfg.WaitEOF && s.cfg.CloseDelay > 0 {
			s.sleep(context.Background(), s.cfg.CloseDelay) //nolint:errcheck
		}

		if !s.peerClosed {
			s.logger.Debug("-> %s", CloseConn)
			req := atp.Request{
				UserData:    Header{ConnID: s.connID, Type: CloseConn}.Encode(),
				ExactlyOnce: true,
				Bitmap:      0x01,
			}
			ctx, cancel := context.WithTimeout(context.Background(),
				closePolicy.Interval*time.Duration(closePolicy.MaxRetries+1))
			if _, err := s.ep.Transact(ctx, s.addr, req, closePolicy); err != nil {
				s.logger.Debug("close request: %v", err)
			}
			cancel()
		}
	}

	s.setState(Closed)
	return s.ep.Close()
}
