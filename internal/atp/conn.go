package atp

import (
	"bufio"
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"sync"
	"time"

	paperr "gopap/internal/errors"
	"gopap/internal/transport"
	"gopap/util"
)

// releaseTimeout is how long an exactly-once response is kept for
// retransmission when the requester never sends its release.
const releaseTimeout = 30 * time.Second

type txResult struct {
	resp *Response
	err  error
}

// pendingTx is one of our outstanding requests.
type pendingTx struct {
	tid    TID
	dest   Addr
	req    Request
	policy RetryPolicy
	bitmap uint8 // response slots still missing
	frags  [MaxFragments]*Fragment
	tries  int
	timer  *time.Timer
	wait   chan txResult // Transact only
}

type xoKey struct {
	socket uint8
	tid    TID
}

// xoEntry remembers an exactly-once request we have delivered, and
// once answered, the frames to resend if the request is repeated.
type xoEntry struct {
	frames [][]byte
	timer  *time.Timer
}

// Conn is an [Endpoint] over a single net.Conn to an ATP gateway.
type Conn struct {
	conn     net.Conn
	datagram bool
	peerHost string
	local    uint8
	logger   *util.Logger

	mu      sync.Mutex
	nextTID uint16
	pending map[TID]*pendingTx
	xo      map[xoKey]*xoEntry
	closed  bool

	out    chan []byte
	events chan Event
	done   chan struct{}
}

var _ Endpoint = (*Conn)(nil)

// Dial opens a link to address with d and starts an endpoint on it.
// A zero localSocket picks a dynamic socket number.
func Dial(ctx context.Context, d transport.Dialer, network, address string, localSocket uint8, logger *util.Logger) (*Conn, error) {
	nc, err := d.Dial(ctx, network, address)
	if err != nil {
		return nil, paperr.Wrap("dial", address, err)
	}
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		host = address
	}
	return New(nc, host, localSocket, logger), nil
}

// New starts an endpoint on an established link.  The Conn owns nc
// from here on.
func New(nc net.Conn, peerHost string, localSocket uint8, logger *util.Logger) *Conn {
	if localSocket == 0 {
		localSocket = uint8(128 + rand.Intn(127))
	}
	if logger == nil {
		logger = util.Discard()
	}
	c := &Conn{
		conn:     nc,
		datagram: transport.IsDatagram(nc),
		peerHost: peerHost,
		local:    localSocket,
		logger:   logger,
		nextTID:  uint16(rand.Intn(1 << 16)),
		pending:  make(map[TID]*pendingTx),
		xo:       make(map[xoKey]*xoEntry),
		out:      make(chan []byte, 128),
		events:   make(chan Event, 64),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	go c.writeLoop()
	return c
}

// LocalSocket implements [Endpoint].
func (c *Conn) LocalSocket() uint8 { return c.local }

// Events implements [Endpoint].
func (c *Conn) Events() <-chan Event { return c.events }

// Transact implements [Endpoint].
func (c *Conn) Transact(ctx context.Context, dest Addr, req Request, policy RetryPolicy) (*Response, error) {
	wait := make(chan txResult, 1)
	tid, err := c.start(dest, req, policy, wait)
	if err != nil {
		return nil, err
	}
	select {
	case r := <-wait:
		return r.resp, r.err
	case <-ctx.Done():
		c.Abort(tid) //nolint:errcheck
		return nil, ctx.Err()
	case <-c.done:
		return nil, ErrClosed
	}
}

// Post implements [Endpoint].
func (c *Conn) Post(dest Addr, req Request, policy RetryPolicy) (TID, error) {
	return c.start(dest, req, policy, nil)
}

func (c *Conn) start(dest Addr, req Request, policy RetryPolicy, wait chan txResult) (TID, error) {
	if len(req.Data) > MaxData {
		return 0, ErrTooLarge
	}
	if req.Bitmap == 0 {
		req.Bitmap = 1
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	tid := c.allocTID()
	tx := &pendingTx{
		tid:    tid,
		dest:   dest,
		req:    req,
		policy: policy,
		bitmap: req.Bitmap,
		wait:   wait,
	}
	c.pending[tid] = tx
	f := c.requestFrame(tx)
	tx.timer = time.AfterFunc(policy.interval(), func() { c.retry(tx) })
	c.mu.Unlock()

	return tid, c.send(f)
}

// allocTID returns the next nonzero TID not in use.  Caller holds c.mu.
func (c *Conn) allocTID() TID {
	for {
		c.nextTID++
		tid := TID(c.nextTID)
		if _, busy := c.pending[tid]; !busy && tid != 0 {
			return tid
		}
	}
}

// requestFrame encodes tx asking only for the slots still missing.
// Caller holds c.mu.
func (c *Conn) requestFrame(tx *pendingTx) []byte {
	f := frame{
		dst:  tx.dest.Socket,
		src:  c.local,
		fn:   funcTReq,
		xo:   tx.req.ExactlyOnce,
		seq:  tx.bitmap,
		tid:  tx.tid,
		user: tx.req.UserData,
		data: tx.req.Data,
	}
	return f.marshal()
}

func (c *Conn) retry(tx *pendingTx) {
	c.mu.Lock()
	if c.pending[tx.tid] != tx {
		c.mu.Unlock()
		return
	}
	if tx.policy.MaxRetries != Infinite && tx.tries >= tx.policy.MaxRetries {
		delete(c.pending, tx.tid)
		c.mu.Unlock()
		c.logger.Debug("atp: tid %d to %s: retries exhausted", tx.tid, tx.dest)
		c.finish(tx, nil, ErrRetriesExhausted)
		return
	}
	tx.tries++
	f := c.requestFrame(tx)
	tx.timer.Reset(tx.policy.interval())
	c.mu.Unlock()

	c.send(f) //nolint:errcheck
}

func (c *Conn) finish(tx *pendingTx, resp *Response, err error) {
	if tx.wait != nil {
		select {
		case tx.wait <- txResult{resp: resp, err: err}:
		default:
		}
		return
	}
	c.deliver(Event{TID: tx.tid, Response: resp, Err: err})
}

// Respond implements [Endpoint].
func (c *Conn) Respond(dest Addr, tid TID, exactlyOnce bool, frags []Fragment) error {
	if len(frags) == 0 || len(frags) > MaxFragments {
		return ErrFragmentCount
	}
	frames := make([][]byte, len(frags))
	for i, fr := range frags {
		if len(fr.Data) > MaxData {
			return ErrTooLarge
		}
		f := frame{
			dst:  dest.Socket,
			src:  c.local,
			fn:   funcTResp,
			xo:   exactlyOnce,
			eom:  i == len(frags)-1,
			seq:  uint8(i),
			tid:  tid,
			user: fr.UserData,
			data: fr.Data,
		}
		frames[i] = f.marshal()
	}

	if exactlyOnce {
		c.mu.Lock()
		if ent, ok := c.xo[xoKey{dest.Socket, tid}]; ok {
			ent.frames = frames
		}
		c.mu.Unlock()
	}

	for _, f := range frames {
		if err := c.send(f); err != nil {
			return err
		}
	}
	return nil
}

// Abort implements [Endpoint].
func (c *Conn) Abort(tid TID) error {
	c.mu.Lock()
	tx, ok := c.pending[tid]
	if ok {
		delete(c.pending, tid)
		tx.timer.Stop()
	}
	c.mu.Unlock()

	if !ok {
		return ErrUnknownTransaction
	}
	if tx.wait != nil {
		select {
		case tx.wait <- txResult{err: ErrAborted}:
		default:
		}
	}
	return nil
}

// Close implements [Endpoint].  It is safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for _, tx := range c.pending {
		tx.timer.Stop()
	}
	for _, ent := range c.xo {
		ent.timer.Stop()
	}
	c.mu.Unlock()

	close(c.done)
	return c.conn.Close()
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ── I/O loops ────────────────────────────────────────────────────────

func (c *Conn) send(frame []byte) error {
	if !c.datagram {
		frame = appendLength(frame)
	}
	select {
	case c.out <- frame:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func (c *Conn) deliver(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// writeLoop owns every write so no caller blocks on the link while
// holding c.mu.
func (c *Conn) writeLoop() {
	for {
		select {
		case f := <-c.out:
			if _, err := c.conn.Write(f); err != nil {
				if c.isClosed() {
					return
				}
				c.deliver(Event{Err: paperr.Wrap("write", c.conn.RemoteAddr().String(), err)})
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) readLoop() {
	var r io.Reader
	if !c.datagram {
		r = bufio.NewReader(c.conn)
	}
	// One spare byte so an oversized datagram is seen, not truncated.
	buf := make([]byte, maxFrameLen+1)

	for {
		var b []byte
		var err error
		if c.datagram {
			var n int
			n, err = c.conn.Read(buf)
			if err == nil && n > maxFrameLen {
				c.logger.Debug("atp: dropping oversized datagram")
				continue
			}
			b = buf[:n]
		} else {
			b, err = readStreamFrame(r, buf[:maxFrameLen])
		}
		if err != nil {
			if c.isClosed() {
				return
			}
			// ICMP errors surface on the next read of a UDP socket;
			// the request timers deal with the lost packet.
			if c.datagram && !errors.Is(err, net.ErrClosed) {
				c.logger.Debug("atp: read: %v", err)
				time.Sleep(50 * time.Millisecond)
				continue
			}
			c.deliver(Event{Err: paperr.Wrap("read", c.conn.RemoteAddr().String(), err)})
			return
		}

		f, err := parseFrame(b)
		if err != nil {
			c.logger.Debug("atp: dropping frame: %v", err)
			continue
		}
		if f.dst != c.local {
			c.logger.Debug("atp: dropping %s for socket %d", f.fn, f.dst)
			continue
		}

		switch f.fn {
		case funcTReq:
			c.handleRequest(f)
		case funcTResp:
			c.handleResponse(f)
		case funcTRel:
			c.handleRelease(f)
		}
	}
}

func (c *Conn) handleRequest(f *frame) {
	if f.xo {
		key := xoKey{f.src, f.tid}
		c.mu.Lock()
		if ent, dup := c.xo[key]; dup {
			frames := ent.frames
			ent.timer.Reset(releaseTimeout)
			c.mu.Unlock()
			c.logger.Debug("atp: duplicate XO tid %d from socket %d", f.tid, f.src)
			for _, fr := range frames {
				c.send(fr) //nolint:errcheck
			}
			return
		}
		ent := &xoEntry{}
		ent.timer = time.AfterFunc(releaseTimeout, func() { c.release(key, ent) })
		c.xo[key] = ent
		c.mu.Unlock()
	}

	c.deliver(Event{
		TID: f.tid,
		Request: &Request{
			Src:         Addr{Host: c.peerHost, Socket: f.src},
			TID:         f.tid,
			UserData:    f.user,
			Data:        f.data,
			ExactlyOnce: f.xo,
			Bitmap:      f.seq,
		},
	})
}

func (c *Conn) handleResponse(f *frame) {
	if f.seq >= MaxFragments {
		return
	}

	c.mu.Lock()
	tx, ok := c.pending[f.tid]
	if !ok || tx.dest.Socket != f.src {
		c.mu.Unlock()
		c.logger.Debug("atp: stray response tid %d from socket %d", f.tid, f.src)
		return
	}
	bit := uint8(1) << f.seq
	if tx.bitmap&bit != 0 {
		tx.frags[f.seq] = &Fragment{UserData: f.user, Data: f.data}
		tx.bitmap &^= bit
	}
	if f.eom {
		tx.bitmap &= (bit << 1) - 1
	}
	if tx.bitmap != 0 {
		c.mu.Unlock()
		return
	}

	delete(c.pending, f.tid)
	tx.timer.Stop()
	resp := &Response{TID: f.tid}
	for _, fr := range tx.frags {
		if fr != nil {
			resp.Fragments = append(resp.Fragments, *fr)
		}
	}
	c.mu.Unlock()

	if tx.req.ExactlyOnce {
		rel := frame{dst: f.src, src: c.local, fn: funcTRel, tid: f.tid}
		c.send(rel.marshal()) //nolint:errcheck
	}
	c.finish(tx, resp, nil)
}

func (c *Conn) handleRelease(f *frame) {
	key := xoKey{f.src, f.tid}
	c.mu.Lock()
	if ent, ok := c.xo[key]; ok {
		ent.timer.Stop()
		delete(c.xo, key)
	}
	c.mu.Unlock()
}

func (c *Conn) release(key xoKey, ent *xoEntry) {
	c.mu.Lock()
	if c.xo[key] == ent {
		delete(c.xo, key)
	}
	c.mu.Unlock()
}
