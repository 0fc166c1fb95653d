package proto

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// Version tracks the wire-protocol revision expected by clients.
const Version = 1

// MaxDatagram is the packet size ceiling chosen to stay below common path
// MTUs and avoid IP fragmentation.
const MaxDatagram = 1200

// HeaderSize is the fixed length of the binary packet header.
const HeaderSize = 28

// MaxPayload is the payload budget left after the header.
const MaxPayload = MaxDatagram - HeaderSize

var magic = [4]byte{'E', 'C', 'H', '1'}

// MsgType identifies a wire message.
type MsgType uint8

const (
	MsgJoin MsgType = iota + 1
	MsgJoinAck
	MsgInput
	MsgSnapshot
	MsgSnapshotAck
	MsgHeartbeat
	MsgListRooms
	MsgRoomList
	MsgLeave
)

func (t MsgType) String() string {
	switch t {
	case MsgJoin:
		return "join"
	case MsgJoinAck:
		return "joinAck"
	case MsgInput:
		return "input"
	case MsgSnapshot:
		return "snapshot"
	case MsgSnapshotAck:
		return "snapshotAck"
	case MsgHeartbeat:
		return "heartbeat"
	case MsgListRooms:
		return "listRooms"
	case MsgRoomList:
		return "roomList"
	case MsgLeave:
		return "leave"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

func (t MsgType) valid() bool {
	return t >= MsgJoin && t <= MsgLeave
}

// ErrDecode wraps every malformed-datagram condition. Receivers drop the
// packet and keep serving; nothing under this error is fatal.
var ErrDecode = errors.New("echosync: decode error")

// ErrPayloadTooLarge reports a body that would not fit the datagram budget.
var ErrPayloadTooLarge = errors.New("echosync: payload exceeds datagram budget")

// Packet is a decoded datagram header plus its raw payload bytes.
type Packet struct {
	Type      MsgType
	PacketID  uint32
	Seq       uint32
	Timestamp int64 // sender clock, unix milliseconds
	Payload   []byte
}

// Header layout, big-endian:
//
//	magic      [4]byte "ECH1"
//	version    uint8
//	type       uint8
//	packetID   uint32
//	seq        uint32
//	timestamp  uint64 unix milliseconds
//	payloadLen uint16
//	checksum   uint32 crc32 over header-with-zero-checksum then payload
func packHeader(dst []byte, t MsgType, packetID, seq uint32, ts int64, payloadLen int) {
	copy(dst[0:4], magic[:])
	dst[4] = Version
	dst[5] = byte(t)
	binary.BigEndian.PutUint32(dst[6:10], packetID)
	binary.BigEndian.PutUint32(dst[10:14], seq)
	binary.BigEndian.PutUint64(dst[14:22], uint64(ts))
	binary.BigEndian.PutUint16(dst[22:24], uint16(payloadLen))
	binary.BigEndian.PutUint32(dst[24:28], 0)
}

// Seal assembles a datagram from the header fields and an already-encoded
// payload body.
func Seal(t MsgType, packetID, seq uint32, ts int64, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}
	buf := make([]byte, HeaderSize+len(payload))
	packHeader(buf, t, packetID, seq, ts, len(payload))
	copy(buf[HeaderSize:], payload)
	sum := crc32.ChecksumIEEE(buf)
	binary.BigEndian.PutUint32(buf[24:28], sum)
	return buf, nil
}

// Open validates a received datagram and returns the decoded packet. The
// returned payload aliases data; callers that retain it must copy. Bytes
// past the declared payload length are ignored for forward compatibility.
func Open(data []byte) (Packet, error) {
	if len(data) < HeaderSize {
		return Packet{}, fmt.Errorf("%w: short datagram (%d bytes)", ErrDecode, len(data))
	}
	if [4]byte(data[0:4]) != magic {
		return Packet{}, fmt.Errorf("%w: bad magic", ErrDecode)
	}
	if data[4] != Version {
		return Packet{}, fmt.Errorf("%w: unsupported version %d", ErrDecode, data[4])
	}
	t := MsgType(data[5])
	if !t.valid() {
		return Packet{}, fmt.Errorf("%w: unknown message type %d", ErrDecode, data[5])
	}
	payloadLen := int(binary.BigEndian.Uint16(data[22:24]))
	if len(data) < HeaderSize+payloadLen {
		return Packet{}, fmt.Errorf("%w: truncated payload (%d of %d bytes)", ErrDecode, len(data)-HeaderSize, payloadLen)
	}
	want := binary.BigEndian.Uint32(data[24:28])

	scratch := make([]byte, HeaderSize+payloadLen)
	copy(scratch, data[:HeaderSize+payloadLen])
	binary.BigEndian.PutUint32(scratch[24:28], 0)
	if crc32.ChecksumIEEE(scratch) != want {
		return Packet{}, fmt.Errorf("%w: checksum mismatch", ErrDecode)
	}

	return Packet{
		Type:      t,
		PacketID:  binary.BigEndian.Uint32(data[6:10]),
		Seq:       binary.BigEndian.Uint32(data[10:14]),
		Timestamp: int64(binary.BigEndian.Uint64(data[14:22])),
		Payload:   data[HeaderSize : HeaderSize+payloadLen],
	}, nil
}
