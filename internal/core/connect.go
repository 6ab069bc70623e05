package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopap/internal/atp"
	paperr "gopap/internal/errors"
	"gopap/internal/metrics"
	"gopap/internal/pap"
	"gopap/internal/retry"
	"gopap/internal/sidechannel"
	"gopap/internal/transport"
	"gopap/util"
)

// PrintMode delivers one job to one printer.
type PrintMode struct {
	Dialer         transport.Dialer
	Network        string
	Address        string // printer gateway host:port
	Socket         uint8  // printer's PAP listener socket
	Session        pap.Config
	ConnectTimeout time.Duration // 0 → unlimited
	JobFile        string        // empty or "-" → stdin
	ControlSocket  string
	Backoff        *retry.Backoff
	Logger         *util.Logger
	Metrics        *metrics.Collector

	// Probe reports the transport stack state; nil means atp.ProbeStackFor.
	Probe func() atp.StackState

	// Stdin/Stdout default to os.Stdin/os.Stdout when nil.
	// Override in tests for deterministic I/O.
	Stdin  io.Reader
	Stdout io.Writer
}

func (m *PrintMode) stdin() io.Reader {
	if m.Stdin != nil {
		return m.Stdin
	}
	return os.Stdin
}

func (m *PrintMode) stdout() io.Writer {
	if m.Stdout != nil {
		return m.Stdout
	}
	return os.Stdout
}

func (m *PrintMode) probe() atp.StackState {
	if m.Probe != nil {
		return m.Probe()
	}
	host, _, err := util.ParsePrinterAddr(m.Address, 0)
	if err != nil {
		return atp.ProbeStack()
	}
	return atp.ProbeStackFor(host)
}

// Run opens the job, waits for the printer to accept a session, sends
// the job and closes the session.  The dialer is closed when Run
// returns.
func (m *PrintMode) Run(ctx context.Context) error {
	defer m.Dialer.Close()

	input, closeInput, err := m.openJob()
	if err != nil {
		return err
	}
	defer closeInput()

	var control <-chan sidechannel.Request
	if m.ControlSocket != "" {
		srv, err := sidechannel.Listen(m.ControlSocket, m.Logger)
		if err != nil {
			return err
		}
		defer srv.Close()
		go srv.Serve(ctx) //nolint:errcheck
		control = srv.Requests()
		m.Logger.Verbose("side channel on %s", srv.Addr())
	}

	m.Logger.Info("connecting to %s", m.Address)
	sess, err := m.connect(ctx)
	if err != nil {
		return err
	}
	m.Logger.Info("connected to %s", sess.Addr())

	err = sess.Run(ctx, pap.Job{Input: input, Back: m.stdout(), Control: control})
	if m.Logger.Enabled(util.LogDebug) {
		m.Logger.Debug("metrics: %s", m.Metrics.JSON())
	}
	return err
}

func (m *PrintMode) openJob() (io.Reader, func(), error) {
	if m.JobFile == "" || m.JobFile == "-" {
		return m.stdin(), func() {}, nil
	}
	f, err := os.Open(m.JobFile)
	if err != nil {
		return nil, nil, fmt.Errorf("open job: %w", err)
	}
	return f, func() { f.Close() }, nil
}

// connect retries until a session is open or the connect timeout runs
// out.  An unavailable stack or a lost link waits out the backoff; a
// refused or malformed handshake does not.  Each Open handshake runs
// detached from ctx's cancellation, bounded only by the connect
// timeout, so a half-open session is never abandoned.
func (m *PrintMode) connect(ctx context.Context) (*pap.Session, error) {
	if m.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.ConnectTimeout)
		defer cancel()
	}

	b := m.Backoff
	if b == nil {
		b = retry.ConnectBackoff()
	}
	backoff := *b
	backoff.OnRetry = func(attempt int, wait time.Duration, err error) {
		m.Logger.Warn("%v; retrying in %s", err, wait.Round(time.Second))
	}

	var sess *pap.Session
	recovering := false
	err := backoff.Do(ctx, func(attempt int) error {
		if st := m.probe(); !st.Available() {
			recovering = true
			return fmt.Errorf("transport stack %s", st)
		}

		ep, err := atp.Dial(ctx, m.Dialer, m.Network, m.Address, 0, m.Logger)
		if err != nil {
			if isPermanent(err) {
				return retry.Permanent(err)
			}
			recovering = true
			return err
		}

		host, _, _ := util.ParsePrinterAddr(m.Address, 0)
		s := pap.NewSession(ep, atp.Addr{Host: host, Socket: m.Socket}, m.Session, m.Logger, m.Metrics)
		hctx, cancel := pap.ConnectContext(ctx, remaining(ctx))
		err = s.Open(hctx)
		cancel()
		if err == nil {
			sess = s
			return nil
		}
		s.Close()
		if errors.Is(err, paperr.ErrTransport) && ctx.Err() == nil {
			recovering = true
			return err
		}
		return retry.Permanent(err)
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", m.Address, err)
	}
	if recovering {
		m.Logger.Info("recovered")
	}
	return sess, nil
}

// isPermanent reports dial failures no amount of waiting will fix.
func isPermanent(err error) bool {
	var sshErr *paperr.SSHError
	return errors.As(err, &sshErr) || errors.Is(err, paperr.ErrAuthFailed)
}

// remaining is the time left before ctx's deadline, or 0 without one.
func remaining(ctx context.Context) time.Duration {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 0
	}
	if d := time.Until(deadline); d > 0 {
		return d
	}
	return time.Nanosecond
}
