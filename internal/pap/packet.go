// Package pap is the Printer Access Protocol session engine: it opens a
// connection to a printer over an [atp.Endpoint], streams a print job
// under printer-granted flow credit, keeps the session alive, polls
// printer status and closes cleanly.
package pap

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"

	"gopap/internal/atp"
)

// PacketType is the PAP function carried in user byte 1.
type PacketType uint8

const (
	OpenConn        PacketType = 1
	OpenConnReply   PacketType = 2
	SendData        PacketType = 3
	Data            PacketType = 4
	Tickle          PacketType = 5
	CloseConn       PacketType = 6
	CloseConnReply  PacketType = 7
	SendStatus      PacketType = 8
	SendStatusReply PacketType = 9
)

var packetNames = [...]string{
	OpenConn:        "PAP_OPEN_CONN",
	OpenConnReply:   "PAP_OPEN_CONN_REPLY",
	SendData:        "PAP_SEND_DATA",
	Data:            "PAP_DATA",
	Tickle:          "PAP_TICKLE",
	CloseConn:       "PAP_CLOSE_CONN",
	CloseConnReply:  "PAP_CLOSE_CONN_REPLY",
	SendStatus:      "PAP_SEND_STATUS",
	SendStatusReply: "PAP_SEND_STATUS_REPLY",
}

func (t PacketType) String() string {
	if int(t) < len(packetNames) && packetNames[t] != "" {
		return packetNames[t]
	}
	return fmt.Sprintf("PAP_UNKNOWN(%d)", uint8(t))
}

// Header is the PAP header packed into the ATP user bytes:
//
//	[0] connection id
//	[1] packet type
//	[2:4] sequence number, big-endian; for Data, [2] is the EOF flag
type Header struct {
	ConnID uint8
	Type   PacketType
	Seq    uint16
	EOF    bool
}

// Encode packs h into ATP user bytes.
func (h Header) Encode() atp.UserBytes {
	var u atp.UserBytes
	u[0] = h.ConnID
	u[1] = byte(h.Type)
	if h.Type == Data {
		if h.EOF {
			u[2] = 1
		}
		return u
	}
	binary.BigEndian.PutUint16(u[2:4], h.Seq)
	return u
}

// Decode unpacks ATP user bytes.
func Decode(u atp.UserBytes) Header {
	h := Header{ConnID: u[0], Type: PacketType(u[1])}
	if h.Type == Data {
		h.EOF = u[2] != 0
		return h
	}
	h.Seq = binary.BigEndian.Uint16(u[2:4])
	return h
}

// Sequence numbers Tickle, SendData and SendStatus requests.  It skips
// zero on wraparound.
type Sequence uint16

// Next advances s and returns the new value, never 0.
func (s *Sequence) Next() uint16 {
	*s++
	if *s == 0 {
		*s = 1
	}
	return uint16(*s)
}

// NewConnID returns a random connection id with the low bit set.
func NewConnID(r *rand.Rand) uint8 {
	return uint8(r.Intn(256)) | 0x01
}

// ── payloads ─────────────────────────────────────────────────────────

// OpenRequest is the OpenConn payload.
type OpenRequest struct {
	Socket   uint8 // our responding socket
	Quantum  uint8 // fragments we accept per SendData
	WaitTime uint16
}

// Marshal encodes r.
func (r OpenRequest) Marshal() []byte {
	b := []byte{r.Socket, r.Quantum, 0, 0}
	binary.BigEndian.PutUint16(b[2:], r.WaitTime)
	return b
}

// OpenReply is the OpenConnReply payload.
type OpenReply struct {
	Socket  uint8
	Quantum uint8
	Result  uint16 // 0 means the connection is open
	Status  []byte
}

var errShortPayload = errors.New("pap: short payload")

// ParseOpenReply decodes an OpenConnReply payload.
func ParseOpenReply(b []byte) (OpenReply, error) {
	if len(b) < 4 {
		return OpenReply{}, errShortPayload
	}
	r := OpenReply{
		Socket:  b[0],
		Quantum: b[1],
		Result:  binary.BigEndian.Uint16(b[2:4]),
	}
	if len(b) > 4 {
		r.Status = pascalString(b[4:])
	}
	return r, nil
}

// ParseStatusReply extracts the status text from a SendStatusReply
// payload: four reserved bytes, then a length-prefixed string.
func ParseStatusReply(b []byte) ([]byte, error) {
	if len(b) < 5 {
		return nil, errShortPayload
	}
	return pascalString(b[4:]), nil
}

// pascalString reads a length-prefixed string, clamped to what is there.
func pascalString(b []byte) []byte {
	n := int(b[0])
	if n > len(b)-1 {
		n = len(b) - 1
	}
	return b[1 : 1+n]
}
