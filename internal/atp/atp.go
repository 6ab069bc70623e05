// Package atp is the transaction transport the PAP session engine runs
// on: requests carrying four user bytes and a payload, retried on a
// fixed interval until the peer answers with up to eight response
// fragments, with optional exactly-once delivery.
//
// The session engine depends only on [Endpoint].  [Conn] implements it
// by framing transactions over a net.Conn obtained from a
// transport.Dialer.
package atp

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// TID identifies a transaction between one requester socket and its
// responder.
type TID uint16

// UserBytes is the four-byte tag every ATP packet carries alongside its
// payload.  PAP keeps its whole header here.
type UserBytes [4]byte

// Addr names a transport socket on a host.
type Addr struct {
	Host   string
	Socket uint8
}

func (a Addr) String() string {
	return fmt.Sprintf("%s#%d", a.Host, a.Socket)
}

// WithSocket returns a copy of a that targets socket s.
func (a Addr) WithSocket(s uint8) Addr {
	a.Socket = s
	return a
}

// Infinite retries a request until it is answered or aborted.
const Infinite = -1

// RetryPolicy controls request retransmission.
type RetryPolicy struct {
	Interval   time.Duration
	MaxRetries int // Infinite, or retransmissions after the first send
}

func (p RetryPolicy) interval() time.Duration {
	if p.Interval <= 0 {
		return 2 * time.Second
	}
	return p.Interval
}

// Request is an outbound or inbound transaction request.
type Request struct {
	Src         Addr // filled in on inbound requests
	TID         TID  // filled in on inbound requests
	UserData    UserBytes
	Data        []byte
	ExactlyOnce bool
	Bitmap      uint8 // response slots wanted; 0 means one
}

// Fragment is one packet of a transaction response.
type Fragment struct {
	UserData UserBytes
	Data     []byte
}

// Response is a completed transaction.
type Response struct {
	TID       TID
	Fragments []Fragment
}

// UserData returns the first fragment's user bytes.
func (r *Response) UserData() UserBytes {
	if r == nil || len(r.Fragments) == 0 {
		return UserBytes{}
	}
	return r.Fragments[0].UserData
}

// Data concatenates every fragment's payload.
func (r *Response) Data() []byte {
	if r == nil {
		return nil
	}
	var n int
	for _, f := range r.Fragments {
		n += len(f.Data)
	}
	out := make([]byte, 0, n)
	for _, f := range r.Fragments {
		out = append(out, f.Data...)
	}
	return out
}

// Event is one item from [Endpoint.Events]: an inbound request, the
// completion of a posted request, or a link failure (Err set, TID 0).
type Event struct {
	Request  *Request
	Response *Response
	TID      TID
	Err      error
}

// Endpoint is an open transport socket.
type Endpoint interface {
	// LocalSocket is the socket number peers address us by.
	LocalSocket() uint8

	// Transact sends req and blocks until it is answered, retries run
	// out, or ctx ends (which aborts the transaction).
	Transact(ctx context.Context, dest Addr, req Request, policy RetryPolicy) (*Response, error)

	// Post sends req and returns at once; its outcome arrives on
	// Events tagged with the returned TID.
	Post(dest Addr, req Request, policy RetryPolicy) (TID, error)

	// Respond answers the inbound request tid received from dest.
	Respond(dest Addr, tid TID, exactlyOnce bool, frags []Fragment) error

	// Events delivers inbound requests and posted-request outcomes.
	Events() <-chan Event

	// Abort stops retransmitting tid and forgets it.
	Abort(tid TID) error

	// Close releases the socket.
	Close() error
}

var (
	ErrClosed             = errors.New("atp: endpoint closed")
	ErrRetriesExhausted   = errors.New("atp: no response after retries")
	ErrAborted            = errors.New("atp: transaction aborted")
	ErrUnknownTransaction = errors.New("atp: no such transaction")
	ErrTooLarge           = errors.New("atp: payload exceeds one packet")
	ErrFragmentCount      = errors.New("atp: response needs one to eight fragments")
)
