package pap

import (
	"errors"
	"testing"

	"gopap/internal/atp"
	paperr "gopap/internal/errors"
)

func TestFragments_Counts(t *testing.T) {
	tests := []struct {
		size   int
		want   int
		tooBig bool
	}{
		{0, 1, false},
		{1, 1, false},
		{512, 1, false},
		{513, 2, false},
		{1500, 3, false},
		{4096, 8, false},
		{4097, 0, true},
	}
	for _, tt := range tests {
		frags, err := Fragments(0x11, make([]byte, tt.size), true, 8, 512)
		if tt.tooBig {
			if !errors.Is(err, paperr.ErrFragmentTooLarge) {
				t.Errorf("%d bytes: err = %v, want ErrFragmentTooLarge", tt.size, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%d bytes: %v", tt.size, err)
		}
		if len(frags) != tt.want {
			t.Errorf("%d bytes: %d fragments, want %d", tt.size, len(frags), tt.want)
		}
		if fragBytes(frags) != tt.size {
			t.Errorf("%d bytes: fragments hold %d", tt.size, fragBytes(frags))
		}
		for i, fr := range frags {
			h := Decode(fr.UserData)
			if h.ConnID != 0x11 || h.Type != Data {
				t.Errorf("fragment %d header %+v", i, h)
			}
			if h.EOF != (i == len(frags)-1) {
				t.Errorf("%d bytes: fragment %d EOF = %v", tt.size, i, h.EOF)
			}
		}
	}
}

func TestFragments_NoEOF(t *testing.T) {
	frags, err := Fragments(1, make([]byte, 1024), false, 8, 512)
	if err != nil {
		t.Fatal(err)
	}
	for i, fr := range frags {
		if Decode(fr.UserData).EOF {
			t.Errorf("fragment %d has EOF", i)
		}
	}
}

func TestFlow_CreditThenData(t *testing.T) {
	f := newFakeEndpoint()
	fl := NewFlow(f, 0x11, 8, 512, nil, nil)
	grantor := atp.Addr{Host: "printer", Socket: 0x99}

	sent, err := fl.OnCreditGranted(PendingCredit{TID: 5, Dest: grantor, ExactlyOnce: true})
	if err != nil || sent {
		t.Fatalf("credit alone: sent=%v err=%v", sent, err)
	}
	if p := fl.Pending(); p == nil || p.TID != 5 {
		t.Fatalf("Pending = %+v", p)
	}

	sent, err = fl.OnDataAvailable(&chunk{data: []byte("hi")})
	if err != nil || !sent {
		t.Fatalf("data with credit: sent=%v err=%v", sent, err)
	}
	rs := f.respondCalls()
	if len(rs) != 1 || rs[0].dest != grantor || rs[0].tid != 5 || !rs[0].xo {
		t.Fatalf("responds = %+v", rs)
	}
	if fl.Pending() != nil || fl.Buffered() || fl.EOFSent() || fl.Sent() != 2 {
		t.Errorf("after send: pending=%v buffered=%v eof=%v sent=%d",
			fl.Pending(), fl.Buffered(), fl.EOFSent(), fl.Sent())
	}
}

func TestFlow_DataThenCredit(t *testing.T) {
	f := newFakeEndpoint()
	fl := NewFlow(f, 0x11, 8, 512, nil, nil)

	sent, err := fl.OnDataAvailable(&chunk{data: []byte("job"), eof: true})
	if err != nil || sent {
		t.Fatalf("data alone: sent=%v err=%v", sent, err)
	}
	if !fl.Buffered() {
		t.Fatal("chunk not buffered")
	}
	if len(f.respondCalls()) != 0 {
		t.Fatal("responded without credit")
	}

	sent, err = fl.OnCreditGranted(PendingCredit{TID: 6, Dest: sessionAddr})
	if err != nil || !sent {
		t.Fatalf("credit with data: sent=%v err=%v", sent, err)
	}
	if !fl.EOFSent() {
		t.Error("EOF not recorded")
	}

	// Further credit is ignored.
	sent, err = fl.OnCreditGranted(PendingCredit{TID: 7, Dest: sessionAddr})
	if err != nil || sent || fl.Pending() != nil {
		t.Errorf("credit after EOF: sent=%v err=%v pending=%v", sent, err, fl.Pending())
	}
	if n := len(f.respondCalls()); n != 1 {
		t.Errorf("responds = %d, want 1", n)
	}
}

func TestFlow_CreditReplaced(t *testing.T) {
	fl := NewFlow(newFakeEndpoint(), 1, 8, 512, nil, nil)
	fl.OnCreditGranted(PendingCredit{TID: 1})
	fl.OnCreditGranted(PendingCredit{TID: 2})
	if p := fl.Pending(); p == nil || p.TID != 2 {
		t.Errorf("Pending = %+v, want tid 2", p)
	}
}

func TestFlow_SecondChunkRejected(t *testing.T) {
	fl := NewFlow(newFakeEndpoint(), 1, 8, 512, nil, nil)
	if _, err := fl.OnDataAvailable(&chunk{data: []byte("a")}); err != nil {
		t.Fatal(err)
	}
	if _, err := fl.OnDataAvailable(&chunk{data: []byte("b")}); err == nil {
		t.Error("second buffered chunk accepted")
	}
}

func TestFlow_RespondError(t *testing.T) {
	f := newFakeEndpoint()
	f.respondErr = atp.ErrClosed
	fl := NewFlow(f, 1, 8, 512, nil, nil)
	fl.OnCreditGranted(PendingCredit{TID: 1, Dest: sessionAddr})
	_, err := fl.OnDataAvailable(&chunk{data: []byte("a")})
	if !errors.Is(err, paperr.ErrTransport) || !errors.Is(err, atp.ErrClosed) {
		t.Fatalf("err = %v", err)
	}
	if fl.Sent() != 0 {
		t.Errorf("Sent = %d after failure", fl.Sent())
	}
}

func TestFlow_Window(t *testing.T) {
	if w := NewFlow(nil, 1, 4, 512, nil, nil).Window(); w != 2048 {
		t.Errorf("Window = %d, want 2048", w)
	}
}
