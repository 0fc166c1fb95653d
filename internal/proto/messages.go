package proto

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// JoinResult reports the outcome of a JOIN attempt.
type JoinResult uint8

const (
	JoinOK JoinResult = iota
	JoinRoomFull
	JoinRoomClosed
)

func (r JoinResult) String() string {
	switch r {
	case JoinOK:
		return "OK"
	case JoinRoomFull:
		return "ROOM_FULL"
	case JoinRoomClosed:
		return "ROOM_CLOSED"
	default:
		return fmt.Sprintf("result(%d)", uint8(r))
	}
}

// Phase mirrors the room lifecycle on the wire.
type Phase uint8

const (
	PhaseWaiting Phase = iota
	PhaseRunning
	PhaseFinished
)

func (p Phase) String() string {
	switch p {
	case PhaseWaiting:
		return "waiting"
	case PhaseRunning:
		return "running"
	case PhaseFinished:
		return "finished"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// Join asks the server for a seat. An empty room name requests a freshly
// created room with a generated name. ResumeToken, when present, reclaims a
// previous identity in the named room.
type Join struct {
	RoomName    string `msgpack:"r"`
	ResumeToken string `msgpack:"t,omitempty"`
}

// JoinAck answers a Join. Snapshot is only set on JoinOK, except that a
// FINISHED room answers JoinRoomClosed with its final snapshot attached.
type JoinAck struct {
	Result      JoinResult `msgpack:"res"`
	RoomID      string     `msgpack:"room,omitempty"`
	PlayerID    uint8      `msgpack:"pid,omitempty"`
	Capacity    uint8      `msgpack:"cap,omitempty"`
	ResumeToken string     `msgpack:"tok,omitempty"`
	Snapshot    *Snapshot  `msgpack:"snap,omitempty"`
}

// Input claims a grid cell. ClientSeq also rides in the header seq field;
// the body copy is authoritative for deduplication.
type Input struct {
	RoomID     string `msgpack:"room"`
	PlayerID   uint8  `msgpack:"pid"`
	ClientSeq  uint32 `msgpack:"seq"`
	Cell       uint16 `msgpack:"cell"`
	ClientTime int64  `msgpack:"ct"`
}

// PlayerScore pairs a room-local player id with its score.
type PlayerScore struct {
	PlayerID uint8  `msgpack:"pid"`
	Score    uint16 `msgpack:"s"`
}

// Snapshot is a full replication of authoritative room state. Grid holds one
// byte per cell: the owning player's room-local id, zero when unclaimed.
type Snapshot struct {
	RoomID     string        `msgpack:"room"`
	Seq        uint32        `msgpack:"seq"`
	Phase      Phase         `msgpack:"ph"`
	Grid       []byte        `msgpack:"g"`
	Scores     []PlayerScore `msgpack:"sc"`
	Closed     bool          `msgpack:"cl,omitempty"`
	ServerTime int64         `msgpack:"st"`
}

// SnapshotAck confirms the highest snapshot seq a client has applied.
type SnapshotAck struct {
	RoomID   string `msgpack:"room"`
	PlayerID uint8  `msgpack:"pid"`
	Seq      uint32 `msgpack:"seq"`
}

// Heartbeat keeps a session alive. The server echoes it back with ServerTime
// and the RTT it measured, so both sides can sample latency from one
// exchange.
type Heartbeat struct {
	RoomID     string `msgpack:"room"`
	PlayerID   uint8  `msgpack:"pid"`
	ClientTime int64  `msgpack:"ct"`
	ServerTime int64  `msgpack:"st,omitempty"`
	RTTMillis  int64  `msgpack:"rtt,omitempty"`
}

// RoomInfo is one entry of a RoomList reply.
type RoomInfo struct {
	RoomID   string `msgpack:"room"`
	Phase    Phase  `msgpack:"ph"`
	Players  uint8  `msgpack:"n"`
	Capacity uint8  `msgpack:"cap"`
}

// RoomList answers a MsgListRooms probe.
type RoomList struct {
	Rooms []RoomInfo `msgpack:"rooms"`
}

// Leave announces a voluntary departure so the server can free the seat
// without waiting for the liveness timeout.
type Leave struct {
	RoomID   string `msgpack:"room"`
	PlayerID uint8  `msgpack:"pid"`
}

// EncodeBody renders a message body for transport.
func EncodeBody(body any) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	data, err := msgpack.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	return data, nil
}

// DecodeBody parses a packet payload into the message struct for its type.
func DecodeBody[T any](pkt Packet) (T, error) {
	var out T
	if len(pkt.Payload) == 0 {
		return out, fmt.Errorf("%w: empty %s payload", ErrDecode, pkt.Type)
	}
	if err := msgpack.Unmarshal(pkt.Payload, &out); err != nil {
		return out, fmt.Errorf("%w: %s body: %v", ErrDecode, pkt.Type, err)
	}
	return out, nil
}
