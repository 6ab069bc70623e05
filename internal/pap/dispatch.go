package pap

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gopap/internal/atp"
	paperr "gopap/internal/errors"
	"gopap/internal/sidechannel"
)

// Job is one print job's I/O.
type Job struct {
	Input   io.Reader                  // the job's bytes
	Back    io.Writer                  // printer output; nil discards
	Control <-chan sidechannel.Request // nil when there is no side channel
}

// dispatcher is the single loop that owns the session, the flow
// controller and the job stream while a job runs.
type dispatcher struct {
	sess *Session
	flow *Flow
	job  *JobStream
	keep *keepalive
	back *BackChannel
	ctrl <-chan sidechannel.Request

	sendDataTID  atp.TID
	sendDataBusy bool
	peerEOF      bool
}

// Run streams job to the open session and closes the session when the
// job is done, the printer stops answering, or ctx is cancelled.
func (s *Session) Run(ctx context.Context, job Job) error {
	if s.state != Open {
		return fmt.Errorf("pap: run in state %s: %w", s.state, paperr.ErrNotConnected)
	}

	flow := NewFlow(s.ep, s.connID, s.quantum, s.cfg.MaxFragment, s.logger, s.metrics)
	d := &dispatcher{
		sess: s,
		flow: flow,
		job:  NewJobStream(job.Input, flow.Window()),
		keep: newKeepalive(s),
		back: NewBackChannel(job.Back, s.logger, s.metrics),
		ctrl: job.Control,
	}
	defer d.job.Close()
	defer d.keep.stop()

	err := d.loop(ctx)
	if err != nil {
		s.metrics.RecordError(err.Error())
	}
	if cerr := s.Close(); cerr != nil && err == nil {
		s.logger.Debug("close endpoint: %v", cerr)
	}
	if err == nil && !d.back.ErrorLogged() {
		// Clear the last status line.
		s.logger.Info("")
	}
	return err
}

func (d *dispatcher) loop(ctx context.Context) error {
	s := d.sess
	s.logger.Info("Sending data")

	if err := d.keep.start(); err != nil {
		return fmt.Errorf("unable to send PAP tickle request: %w", err)
	}
	if err := d.requestData(); err != nil {
		return fmt.Errorf("unable to send initial PAP send data request: %w", err)
	}

	for {
		if d.finished() {
			return d.result()
		}

		var ready <-chan *chunk
		if !d.flow.Buffered() && !d.job.EOFRead() {
			ready = d.job.Request()
		}

		select {
		case <-ctx.Done():
			s.logger.Warn("job cancelled")
			return ctx.Err()

		case <-d.keep.expired():
			s.logger.Error("Printer not responding")
			return paperr.ErrPeerTimeout

		case <-d.keep.pollDue():
			d.keep.pollStatus()

		case req := <-d.ctrl:
			req.Reply <- d.control(req.Command)

		case c := <-ready:
			if err := d.onChunk(c); err != nil {
				return err
			}

		case ev := <-s.ep.Events():
			if err := d.onEvent(ev); err != nil {
				return err
			}
		}
	}
}

// finished reports whether the loop should stop without error.
func (d *dispatcher) finished() bool {
	if d.sess.peerClosed {
		return true
	}
	if !d.flow.EOFSent() {
		return false
	}
	return !d.sess.cfg.WaitEOF || d.peerEOF || d.flow.Sent() == 0
}

func (d *dispatcher) result() error {
	if d.sess.peerClosed && !d.flow.EOFSent() {
		return paperr.ErrUnexpectedPeerClose
	}
	return nil
}

// requestData grants the printer credit to send us its output.
func (d *dispatcher) requestData() error {
	s := d.sess
	s.logger.Debug("-> %s", SendData)
	tid, err := s.ep.Post(s.addr, atp.Request{
		UserData:    Header{ConnID: s.connID, Type: SendData, Seq: s.seq.Next()}.Encode(),
		ExactlyOnce: true,
		Bitmap:      byte(1<<s.cfg.Quantum - 1),
	}, atp.RetryPolicy{Interval: s.cfg.TickleInterval, MaxRetries: atp.Infinite})
	if err != nil {
		return err
	}
	d.sendDataTID = tid
	d.sendDataBusy = true
	s.track(tid, "send data")
	return nil
}

func (d *dispatcher) onChunk(c *chunk) error {
	d.job.received(c)
	if c.err != nil {
		c.release()
		return fmt.Errorf("read job: %w", c.err)
	}
	pending := d.flow.Pending()
	sent, err := d.flow.OnDataAvailable(c)
	if err != nil {
		return err
	}
	if sent && pending != nil {
		d.sess.untrackCredit(pending.TID)
	}
	if d.flow.Sent() > 0 || c.eof {
		d.sess.logger.Verbose("Sending print file, %d bytes", d.flow.Sent())
	}
	return nil
}

func (d *dispatcher) onEvent(ev atp.Event) error {
	s := d.sess
	switch {
	case ev.Request != nil:
		return d.onRequest(ev.Request)
	case ev.TID == 0 && ev.Err != nil:
		return fmt.Errorf("transport: %w", ev.Err)
	case ev.TID == d.keep.statusTID && d.keep.statusBusy:
		d.keep.statusDone(ev)
		return nil
	case ev.TID == d.sendDataTID && d.sendDataBusy:
		return d.onData(ev)
	case ev.TID == d.keep.tickleTID:
		s.untrack(ev.TID)
		if ev.Err != nil {
			s.logger.Warn("tickle: %v", ev.Err)
		}
		return nil
	}
	s.logger.Debug("completion for unknown tid %d", ev.TID)
	return nil
}

func (d *dispatcher) onRequest(req *atp.Request) error {
	s := d.sess
	h := Decode(req.UserData)
	s.logger.Debug("<- %s", h.Type)
	if h.ConnID != s.connID {
		s.logger.Warn("PAP packet for connection %d, ours is %d", h.ConnID, s.connID)
		return nil
	}
	d.keep.rearm()

	switch h.Type {
	case SendData:
		c := PendingCredit{TID: req.TID, Dest: req.Src, ExactlyOnce: req.ExactlyOnce}
		if prev := d.flow.Pending(); prev != nil {
			s.untrackCredit(prev.TID)
		}
		sent, err := d.flow.OnCreditGranted(c)
		if err != nil {
			return err
		}
		if !sent && d.flow.Pending() != nil {
			s.trackCredit(c.TID)
		}
	case Tickle:
	case CloseConn:
		s.peerClose(req, d.flow.EOFSent())
	case OpenConn, OpenConnReply, SendStatus, CloseConnReply, Data, SendStatusReply:
		s.logger.Warn("Unexpected PAP packet of type %d", h.Type)
	default:
		s.logger.Warn("Unknown PAP packet of type %d", h.Type)
	}
	return nil
}

// onData handles the printer's answer to our SendData.
func (d *dispatcher) onData(ev atp.Event) error {
	s := d.sess
	d.sendDataBusy = false
	s.untrack(ev.TID)
	if ev.Err != nil {
		if errors.Is(ev.Err, atp.ErrClosed) {
			return fmt.Errorf("transport: %w", ev.Err)
		}
		s.logger.Warn("send data request: %v", ev.Err)
		return d.requestData()
	}

	frags := ev.Response.Fragments
	var eof bool
	if len(frags) > 0 {
		last := Decode(frags[len(frags)-1].UserData)
		if last.ConnID == s.connID {
			d.keep.rearm()
		}
		eof = last.EOF
	}
	data := ev.Response.Data()
	if eof {
		s.logger.Debug("<- %s %d bytes with EOF", Data, len(data))
	} else {
		s.logger.Debug("<- %s %d bytes", Data, len(data))
	}
	if err := d.back.Write(data); err != nil {
		s.logger.Warn("back channel: %v", err)
	}

	if eof {
		if d.flow.EOFSent() {
			d.peerEOF = true
			return nil
		}
		s.logger.Warn("Printer sent unexpected EOF")
	}
	return d.requestData()
}

// control answers one side-channel query.
func (d *dispatcher) control(cmd sidechannel.Command) sidechannel.Response {
	switch cmd {
	case sidechannel.GetBidi:
		return sidechannel.Response{Status: sidechannel.StatusOK, Data: "1"}
	case sidechannel.GetState:
		state := d.sess.state.String()
		if last := d.sess.status.Last(); last != "" {
			state += " " + last
		}
		return sidechannel.Response{Status: sidechannel.StatusOK, Data: state}
	}
	return sidechannel.Response{Status: sidechannel.StatusNotImplemented}
}
