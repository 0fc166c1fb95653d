package proto

import (
	"bytes"
	"errors"
	"testing"
)

func mustSeal(t *testing.T, msgType MsgType, seq uint32, body any) []byte {
	t.Helper()
	payload, err := EncodeBody(body)
	if err != nil {
		t.Fatalf("encode body: %v", err)
	}
	pkt, err := Seal(msgType, 7, seq, 1700000000123, payload)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	return pkt
}

func TestHeaderRoundTrip(t *testing.T) {
	pkt := mustSeal(t, MsgHeartbeat, 42, Heartbeat{RoomID: "alpha", PlayerID: 3, ClientTime: 99})

	decoded, err := Open(pkt)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if decoded.Type != MsgHeartbeat {
		t.Fatalf("expected type %v, got %v", MsgHeartbeat, decoded.Type)
	}
	if decoded.PacketID != 7 {
		t.Fatalf("expected packet id 7, got %d", decoded.PacketID)
	}
	if decoded.Seq != 42 {
		t.Fatalf("expected seq 42, got %d", decoded.Seq)
	}
	if decoded.Timestamp != 1700000000123 {
		t.Fatalf("expected timestamp 1700000000123, got %d", decoded.Timestamp)
	}

	hb, err := DecodeBody[Heartbeat](decoded)
	if err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if hb.RoomID != "alpha" || hb.PlayerID != 3 || hb.ClientTime != 99 {
		t.Fatalf("heartbeat did not round-trip: %+v", hb)
	}
}

func TestMessageBodiesRoundTrip(t *testing.T) {
	snapshot := Snapshot{
		RoomID:     "room-1",
		Seq:        9,
		Phase:      PhaseRunning,
		Grid:       []byte{0, 1, 0, 2},
		Scores:     []PlayerScore{{PlayerID: 1, Score: 1}, {PlayerID: 2, Score: 1}},
		ServerTime: 555,
	}

	cases := []struct {
		name    string
		msgType MsgType
		body    any
	}{
		{"join", MsgJoin, Join{RoomName: "room-1", ResumeToken: "tok"}},
		{"joinAck", MsgJoinAck, JoinAck{Result: JoinOK, RoomID: "room-1", PlayerID: 2, Capacity: 4, ResumeToken: "tok", Snapshot: &snapshot}},
		{"input", MsgInput, Input{RoomID: "room-1", PlayerID: 2, ClientSeq: 11, Cell: 5, ClientTime: 123}},
		{"snapshot", MsgSnapshot, snapshot},
		{"snapshotAck", MsgSnapshotAck, SnapshotAck{RoomID: "room-1", PlayerID: 2, Seq: 9}},
		{"heartbeat", MsgHeartbeat, Heartbeat{RoomID: "room-1", PlayerID: 2, ClientTime: 1, ServerTime: 2, RTTMillis: 3}},
		{"roomList", MsgRoomList, RoomList{Rooms: []RoomInfo{{RoomID: "room-1", Phase: PhaseWaiting, Players: 2, Capacity: 4}}}},
		{"leave", MsgLeave, Leave{RoomID: "room-1", PlayerID: 2}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pkt := mustSeal(t, tc.msgType, 1, tc.body)
			decoded, err := Open(pkt)
			if err != nil {
				t.Fatalf("open %s: %v", tc.name, err)
			}
			if decoded.Type != tc.msgType {
				t.Fatalf("expected type %v, got %v", tc.msgType, decoded.Type)
			}
		})
	}
}

func TestSnapshotBodyRoundTripExact(t *testing.T) {
	grid := make([]byte, 400)
	grid[5] = 1
	grid[399] = 4
	in := Snapshot{
		RoomID:     "room-x",
		Seq:        77,
		Phase:      PhaseFinished,
		Grid:       grid,
		Scores:     []PlayerScore{{1, 10}, {2, 3}, {3, 0}, {4, 7}},
		Closed:     true,
		ServerTime: 42,
	}
	pkt := mustSeal(t, MsgSnapshot, in.Seq, in)
	decoded, err := Open(pkt)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	out, err := DecodeBody[Snapshot](decoded)
	if err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if out.RoomID != in.RoomID || out.Seq != in.Seq || out.Phase != in.Phase ||
		out.Closed != in.Closed || out.ServerTime != in.ServerTime {
		t.Fatalf("snapshot fields did not round-trip: %+v", out)
	}
	if !bytes.Equal(out.Grid, in.Grid) {
		t.Fatalf("grid did not round-trip")
	}
	if len(out.Scores) != len(in.Scores) {
		t.Fatalf("expected %d scores, got %d", len(in.Scores), len(out.Scores))
	}
}

func TestFullGridSnapshotFitsDatagram(t *testing.T) {
	grid := make([]byte, 400)
	for i := range grid {
		grid[i] = uint8(i%4) + 1
	}
	scores := make([]PlayerScore, 0, 16)
	for i := 1; i <= 16; i++ {
		scores = append(scores, PlayerScore{PlayerID: uint8(i), Score: 400})
	}
	body, err := EncodeBody(Snapshot{
		RoomID:     "a-rather-long-room-name-from-a-user",
		Seq:        ^uint32(0),
		Phase:      PhaseRunning,
		Grid:       grid,
		Scores:     scores,
		ServerTime: 1700000000123,
	})
	if err != nil {
		t.Fatalf("encode body: %v", err)
	}
	pkt, err := Seal(MsgSnapshot, 1, 1, 1, body)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if len(pkt) > MaxDatagram {
		t.Fatalf("full snapshot datagram is %d bytes, limit %d", len(pkt), MaxDatagram)
	}
}

func TestOpenRejectsMalformed(t *testing.T) {
	good := mustSeal(t, MsgInput, 1, Input{RoomID: "r", PlayerID: 1, ClientSeq: 1, Cell: 0})

	cases := []struct {
		name   string
		mutate func([]byte) []byte
	}{
		{"short", func(b []byte) []byte { return b[:HeaderSize-1] }},
		{"badMagic", func(b []byte) []byte { b[0] = 'X'; return b }},
		{"badVersion", func(b []byte) []byte { b[4] = 99; return b }},
		{"unknownType", func(b []byte) []byte { b[5] = 200; return b }},
		{"truncatedPayload", func(b []byte) []byte { return b[:len(b)-3] }},
		{"flippedPayloadBit", func(b []byte) []byte { b[HeaderSize] ^= 0xFF; return b }},
		{"flippedChecksum", func(b []byte) []byte { b[25] ^= 0xFF; return b }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pkt := make([]byte, len(good))
			copy(pkt, good)
			if _, err := Open(tc.mutate(pkt)); !errors.Is(err, ErrDecode) {
				t.Fatalf("expected ErrDecode, got %v", err)
			}
		})
	}
}

func TestOpenIgnoresTrailingBytes(t *testing.T) {
	pkt := mustSeal(t, MsgLeave, 0, Leave{RoomID: "r", PlayerID: 1})
	extended := append(append([]byte{}, pkt...), 0xAA, 0xBB, 0xCC)

	decoded, err := Open(extended)
	if err != nil {
		t.Fatalf("expected trailing bytes to be ignored, got %v", err)
	}
	msg, err := DecodeBody[Leave](decoded)
	if err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if msg.RoomID != "r" || msg.PlayerID != 1 {
		t.Fatalf("leave did not round-trip: %+v", msg)
	}
}

func TestSealRejectsOversizedPayload(t *testing.T) {
	payload := make([]byte, MaxPayload+1)
	if _, err := Seal(MsgSnapshot, 1, 1, 1, payload); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestDecodeBodyRejectsEmptyPayload(t *testing.T) {
	pkt, err := Seal(MsgListRooms, 1, 0, 1, nil)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	decoded, err := Open(pkt)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := DecodeBody[Join](decoded); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected ErrDecode for empty payload, got %v", err)
	}
}
