package pap

import (
	"time"

	"gopap/internal/atp"
	"gopap/internal/retry"
)

var statusPolicy = atp.RetryPolicy{Interval: 2 * time.Second, MaxRetries: 2}

// keepalive runs the Tickle transaction, the watchdog that fires when
// the printer goes quiet, and the status poll timer.
type keepalive struct {
	sess     *Session
	watchdog *time.Timer
	poll     *time.Timer // nil when polling is off
	breaker  *retry.CircuitBreaker

	tickleTID  atp.TID
	statusTID  atp.TID
	statusBusy bool
}

func newKeepalive(s *Session) *keepalive {
	return &keepalive{
		sess: s,
		breaker: retry.NewCircuitBreaker(&retry.CircuitBreakerConfig{
			MaxFailures:  3,
			ResetTimeout: 30 * time.Second,
			HalfOpenMax:  1,
			OnStateChange: func(from, to retry.State) {
				s.logger.Debug("status poll breaker %s -> %s", from, to)
			},
		}),
	}
}

// start posts the Tickle and arms both timers.
func (k *keepalive) start() error {
	s := k.sess
	s.logger.Debug("-> %s", Tickle)
	tid, err := s.ep.Post(s.addr, atp.Request{
		UserData: Header{ConnID: s.connID, Type: Tickle, Seq: s.seq.Next()}.Encode(),
	}, atp.RetryPolicy{Interval: s.cfg.TickleInterval, MaxRetries: atp.Infinite})
	if err != nil {
		return err
	}
	k.tickleTID = tid
	s.track(tid, "tickle")
	s.metrics.TickleSent()

	k.watchdog = time.NewTimer(s.cfg.Watchdog)
	if s.cfg.StatusInterval > 0 {
		k.poll = time.NewTimer(s.cfg.StatusInterval)
	}
	return nil
}

func (k *keepalive) stop() {
	if k.watchdog != nil {
		k.watchdog.Stop()
	}
	if k.poll != nil {
		k.poll.Stop()
	}
}

// rearm pushes the watchdog deadline out by a full period.
func (k *keepalive) rearm() {
	resetTimer(k.watchdog, k.sess.cfg.Watchdog)
}

func (k *keepalive) expired() <-chan time.Time { return k.watchdog.C }

func (k *keepalive) pollDue() <-chan time.Time {
	if k.poll == nil {
		return nil
	}
	return k.poll.C
}

// pollStatus sends a SendStatus to the printer's base address unless
// one is still outstanding or the breaker is open.  Failures only log.
func (k *keepalive) pollStatus() {
	s := k.sess
	k.poll.Reset(s.cfg.StatusInterval)

	if k.statusBusy {
		return
	}
	if err := k.breaker.Allow(); err != nil {
		s.logger.Debug("status poll skipped: %v", err)
		return
	}

	s.logger.Debug("-> %s", SendStatus)
	tid, err := s.ep.Post(s.printer, atp.Request{
		UserData: Header{ConnID: 0, Type: SendStatus, Seq: s.seq.Next()}.Encode(),
		Bitmap:   0x01,
	}, statusPolicy)
	if err != nil {
		s.logger.Warn("Unable to send PAP status request: %v", err)
		k.breaker.Record(err)
		return
	}
	k.statusTID = tid
	k.statusBusy = true
	s.track(tid, "status")
}

// statusDone handles the outcome of a status poll.
func (k *keepalive) statusDone(ev atp.Event) {
	s := k.sess
	k.statusBusy = false
	s.untrack(ev.TID)
	k.breaker.Record(ev.Err)
	if ev.Err != nil {
		s.logger.Debug("status poll: %v", ev.Err)
		return
	}

	h := Decode(ev.Response.UserData())
	if h.Type != SendStatusReply {
		s.logger.Warn("Unexpected PAP packet of type %d", h.Type)
		return
	}
	text, err := ParseStatusReply(ev.Response.Data())
	if err != nil {
		s.logger.Debug("status reply: %v", err)
		return
	}
	s.status.Update(text)
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
