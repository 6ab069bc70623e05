package pap

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"gopap/internal/atp"
	"gopap/util"
)

var testPrinter = atp.Addr{Host: "printer", Socket: 8}

type postCall struct {
	dest   atp.Addr
	tid    atp.TID
	req    atp.Request
	policy atp.RetryPolicy
}

type respondCall struct {
	dest  atp.Addr
	tid   atp.TID
	xo    bool
	frags []atp.Fragment
}

// fakeEndpoint is a scripted atp.Endpoint.  Transact calls go to
// onTransact; everything else is recorded.
type fakeEndpoint struct {
	mu       sync.Mutex
	ops      []string
	posts    []postCall
	responds []respondCall
	aborts   []atp.TID
	closed   bool
	nextTID  atp.TID

	onTransact func(dest atp.Addr, req atp.Request) (*atp.Response, error)
	postErr    map[PacketType]error
	respondErr error

	events chan atp.Event
}

func newFakeEndpoint() *fakeEndpoint {
	return &fakeEndpoint{
		events:  make(chan atp.Event, 16),
		postErr: make(map[PacketType]error),
		nextTID: 100,
	}
}

func (f *fakeEndpoint) LocalSocket() uint8 { return 0x81 }

func (f *fakeEndpoint) Events() <-chan atp.Event { return f.events }

func (f *fakeEndpoint) Transact(ctx context.Context, dest atp.Addr, req atp.Request, _ atp.RetryPolicy) (*atp.Response, error) {
	h := Decode(req.UserData)
	f.mu.Lock()
	f.ops = append(f.ops, "transact "+h.Type.String())
	script := f.onTransact
	f.mu.Unlock()

	if h.Type == CloseConn {
		return &atp.Response{Fragments: []atp.Fragment{
			{UserData: Header{ConnID: h.ConnID, Type: CloseConnReply}.Encode()},
		}}, nil
	}
	if script == nil {
		return nil, atp.ErrRetriesExhausted
	}
	return script(dest, req)
}

func (f *fakeEndpoint) Post(dest atp.Addr, req atp.Request, policy atp.RetryPolicy) (atp.TID, error) {
	h := Decode(req.UserData)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "post "+h.Type.String())
	if err := f.postErr[h.Type]; err != nil {
		return 0, err
	}
	f.nextTID++
	f.posts = append(f.posts, postCall{dest: dest, tid: f.nextTID, req: req, policy: policy})
	return f.nextTID, nil
}

func (f *fakeEndpoint) Respond(dest atp.Addr, tid atp.TID, xo bool, frags []atp.Fragment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, fmt.Sprintf("respond %d", tid))
	if f.respondErr != nil {
		return f.respondErr
	}
	// Fragment data may live in a pooled buffer.
	cp := make([]atp.Fragment, len(frags))
	for i, fr := range frags {
		cp[i] = atp.Fragment{UserData: fr.UserData, Data: append([]byte(nil), fr.Data...)}
	}
	f.responds = append(f.responds, respondCall{dest: dest, tid: tid, xo: xo, frags: cp})
	return nil
}

func (f *fakeEndpoint) Abort(tid atp.TID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, fmt.Sprintf("abort %d", tid))
	f.aborts = append(f.aborts, tid)
	return nil
}

func (f *fakeEndpoint) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = append(f.ops, "close")
	f.closed = true
	return nil
}

func (f *fakeEndpoint) opLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *fakeEndpoint) respondCalls() []respondCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]respondCall(nil), f.responds...)
}

// postOf returns the latest post of type t.
func (f *fakeEndpoint) postOf(t PacketType) (postCall, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.posts) - 1; i >= 0; i-- {
		if Decode(f.posts[i].req.UserData).Type == t {
			return f.posts[i], true
		}
	}
	return postCall{}, false
}

func (f *fakeEndpoint) countPosts(t PacketType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.posts {
		if Decode(p.req.UserData).Type == t {
			n++
		}
	}
	return n
}

// acceptOpen answers OpenConn with an accepting reply.
func acceptOpen(socket, quantum uint8, status string) func(atp.Addr, atp.Request) (*atp.Response, error) {
	return func(_ atp.Addr, req atp.Request) (*atp.Response, error) {
		return openReply(Decode(req.UserData).ConnID, socket, quantum, 0, status), nil
	}
}

func openReply(connID, socket, quantum uint8, result uint16, status string) *atp.Response {
	data := []byte{socket, quantum, byte(result >> 8), byte(result), byte(len(status))}
	data = append(data, status...)
	return &atp.Response{Fragments: []atp.Fragment{{
		UserData: Header{ConnID: connID, Type: OpenConnReply}.Encode(),
		Data:     data,
	}}}
}

// syncBuffer is a bytes.Buffer safe for a logger goroutine and a test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger(verbosity int) (*util.Logger, *syncBuffer) {
	out := &syncBuffer{}
	l := util.NewLogger(verbosity)
	l.SetOutput(out)
	l.SetTimestamps(false)
	return l, out
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// noSleep records requested sleeps without waiting.
type noSleep struct {
	mu    sync.Mutex
	calls []time.Duration
}

func (n *noSleep) sleep(ctx context.Context, d time.Duration) error {
	n.mu.Lock()
	n.calls = append(n.calls, d)
	n.mu.Unlock()
	return ctx.Err()
}
