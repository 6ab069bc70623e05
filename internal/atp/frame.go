package atp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Wire layout of one frame:
//
//	[0]    destination socket
//	[1]    source socket
//	[2]    control: function<<6 | XO | EOM | STS | release timer
//	[3]    TReq bitmap or TResp sequence number
//	[4:6]  TID, big-endian
//	[6:10] user bytes
//	[10:]  data
//
// Stream links prefix each frame with its length as a big-endian uint16.
const (
	HeaderLen    = 10
	MaxData      = 578
	MaxFragments = 8
	maxFrameLen  = HeaderLen + MaxData
)

type function uint8

const (
	funcTReq  function = 1
	funcTResp function = 2
	funcTRel  function = 3
)

func (f function) String() string {
	switch f {
	case funcTReq:
		return "TReq"
	case funcTResp:
		return "TResp"
	case funcTRel:
		return "TRel"
	}
	return fmt.Sprintf("func(%d)", uint8(f))
}

const (
	ctlXO  = 0x20
	ctlEOM = 0x10
	ctlSTS = 0x08
)

var errShortFrame = errors.New("atp: short frame")

type frame struct {
	dst, src uint8
	fn       function
	xo       bool
	eom      bool
	sts      bool
	seq      uint8 // bitmap on TReq
	tid      TID
	user     UserBytes
	data     []byte
}

func (f *frame) marshal() []byte {
	b := make([]byte, HeaderLen+len(f.data))
	b[0] = f.dst
	b[1] = f.src
	ctl := byte(f.fn) << 6
	if f.xo {
		ctl |= ctlXO
	}
	if f.eom {
		ctl |= ctlEOM
	}
	if f.sts {
		ctl |= ctlSTS
	}
	b[2] = ctl
	b[3] = f.seq
	binary.BigEndian.PutUint16(b[4:6], uint16(f.tid))
	copy(b[6:10], f.user[:])
	copy(b[HeaderLen:], f.data)
	return b
}

// parseFrame decodes b.  The payload is copied; b may be reused.
func parseFrame(b []byte) (*frame, error) {
	if len(b) < HeaderLen {
		return nil, errShortFrame
	}
	if len(b) > maxFrameLen {
		return nil, ErrTooLarge
	}
	f := &frame{
		dst: b[0],
		src: b[1],
		fn:  function(b[2] >> 6),
		xo:  b[2]&ctlXO != 0,
		eom: b[2]&ctlEOM != 0,
		sts: b[2]&ctlSTS != 0,
		seq: b[3],
		tid: TID(binary.BigEndian.Uint16(b[4:6])),
	}
	copy(f.user[:], b[6:10])
	if len(b) > HeaderLen {
		f.data = append([]byte(nil), b[HeaderLen:]...)
	}
	if f.fn == 0 {
		return nil, fmt.Errorf("atp: bad control byte %#02x", b[2])
	}
	return f, nil
}

// appendLength prefixes a frame for a stream link.
func appendLength(frame []byte) []byte {
	out := make([]byte, 2, 2+len(frame))
	binary.BigEndian.PutUint16(out, uint16(len(frame)))
	return append(out, frame...)
}

// readStreamFrame reads one length-prefixed frame into buf.
func readStreamFrame(r io.Reader, buf []byte) ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint16(hdr[:]))
	if n > len(buf) {
		return nil, fmt.Errorf("atp: frame of %d bytes exceeds %d", n, len(buf))
	}
	if _, err := io.ReadFull(r, buf[:n]); err != nil {
		return nil, err
	}
	return buf[:n], nil
}
