package server

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/game"
	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/proto"
	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/telemetry"
)

// finishedLinger is how long a FINISHED room keeps answering before the hub
// tears it down. Late joiners inside the window still get the final snapshot
// with the closed flag.
const finishedLinger = 10 * time.Second

// member is the transport-side view of a seat: the endpoint behind a player
// id plus its liveness bookkeeping. game.Room never sees addresses.
type member struct {
	addr     *net.UDPAddr
	lastSeen time.Time
	lastRTT  time.Duration
	lastAck  uint32
}

// Commands delivered to a room actor's inbox. The dispatcher goroutine
// produces them; only the actor goroutine touches room state, so the room
// needs no lock at all.
type joinCmd struct {
	addr   *net.UDPAddr
	msg    proto.Join
	recvAt time.Time
}

type inputCmd struct {
	addr   *net.UDPAddr
	msg    proto.Input
	recvAt time.Time
}

type heartbeatCmd struct {
	addr   *net.UDPAddr
	msg    proto.Heartbeat
	recvAt time.Time
}

type ackCmd struct {
	msg    proto.SnapshotAck
	recvAt time.Time
}

type leaveCmd struct {
	msg    proto.Leave
	recvAt time.Time
}

// roomActor owns one game.Room. It drains its inbox and runs the broadcast
// ticker on a single goroutine; a slow endpoint only ever costs it one
// fire-and-forget WriteToUDP.
type roomActor struct {
	hub  *Hub
	room *game.Room

	inbox chan any
	quit  chan struct{}

	members       map[uint8]*member
	everConnected bool

	// published for lock-free reads by the hub (room list, diagnostics)
	pubPhase   atomic.Uint32
	pubPlayers atomic.Uint32
}

func newRoomActor(hub *Hub, room *game.Room) *roomActor {
	a := &roomActor{
		hub:     hub,
		room:    room,
		inbox:   make(chan any, 256),
		quit:    make(chan struct{}),
		members: make(map[uint8]*member),
	}
	a.publish()
	return a
}

// deliver hands a command to the actor without ever blocking the dispatcher.
// A full inbox drops the command; the next snapshot or client retry covers
// the loss the same way the network dropping the datagram would have.
func (a *roomActor) deliver(cmd any) {
	select {
	case a.inbox <- cmd:
	case <-a.quit:
	default:
		a.hub.log.Warnw("room inbox full, dropping command", "room", a.room.ID)
	}
}

func (a *roomActor) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.quit:
			return
		case cmd := <-a.inbox:
			a.handle(cmd, time.Now())
		case now := <-ticker.C:
			if done := a.tick(now); done {
				a.hub.removeRoom(a.room.ID)
				return
			}
		}
	}
}

func (a *roomActor) stop() {
	select {
	case <-a.quit:
	default:
		close(a.quit)
	}
}

func (a *roomActor) handle(cmd any, now time.Time) {
	switch c := cmd.(type) {
	case joinCmd:
		a.handleJoin(c, now)
	case inputCmd:
		a.handleInput(c, now)
	case heartbeatCmd:
		a.handleHeartbeat(c, now)
	case ackCmd:
		a.handleAck(c, now)
	case leaveCmd:
		a.handleLeave(c, now)
	}
}

func (a *roomActor) handleJoin(c joinCmd, now time.Time) {
	phaseBefore := a.room.Phase()

	var (
		player *game.Player
		token  string
	)
	if a.hub.cfg.SessionResume && c.msg.ResumeToken != "" {
		if p, ok := a.room.Resume(c.msg.ResumeToken, now); ok {
			player, token = p, p.Token
			a.hub.log.Infow("session resumed", "room", a.room.ID, "player", p.ID)
		}
	}
	if player == nil {
		token = uuid.NewString()
		p, err := a.room.Join(token, now)
		switch {
		case err == game.ErrRoomClosed:
			snap := a.protoSnapshot(a.room.Snapshot(), now)
			a.sendTo(c.addr, proto.MsgJoinAck, snap.Seq, proto.JoinAck{
				Result:   proto.JoinRoomClosed,
				RoomID:   a.room.ID,
				Snapshot: &snap,
			})
			return
		case err == game.ErrRoomFull:
			a.sendTo(c.addr, proto.MsgJoinAck, 0, proto.JoinAck{
				Result: proto.JoinRoomFull,
				RoomID: a.room.ID,
			})
			return
		case err != nil:
			a.hub.log.Errorw("join failed", "room", a.room.ID, "err", err)
			return
		}
		player = p
	}

	a.members[player.ID] = &member{addr: c.addr, lastSeen: now}
	a.everConnected = true

	snap := a.protoSnapshot(a.room.Snapshot(), now)
	a.sendTo(c.addr, proto.MsgJoinAck, snap.Seq, proto.JoinAck{
		Result:      proto.JoinOK,
		RoomID:      a.room.ID,
		PlayerID:    player.ID,
		Capacity:    uint8(a.room.Capacity()),
		ResumeToken: token,
		Snapshot:    &snap,
	})

	a.hub.log.Infow("player joined", "room", a.room.ID, "player", player.ID,
		"players", a.room.PlayerCount(), "capacity", a.room.Capacity())
	a.notePhaseChange(phaseBefore, now)
	a.publish()
}

func (a *roomActor) handleInput(c inputCmd, now time.Time) {
	if m, ok := a.members[c.msg.PlayerID]; ok {
		m.lastSeen = now
		m.addr = c.addr
	}
	phaseBefore := a.room.Phase()
	status := a.room.ApplyInput(c.msg.PlayerID, c.msg.ClientSeq, int(c.msg.Cell), now)
	if status == game.InputApplied {
		a.hub.counters.RecordInputApplied()
		a.hub.recorder.Record(telemetry.Record{
			TimestampMS: now.UnixMilli(),
			Event:       telemetry.EventInputApplied,
			Room:        a.room.ID,
			Player:      c.msg.PlayerID,
			Seq:         c.msg.ClientSeq,
			ValueA:      float64(c.msg.Cell),
		})
	} else {
		a.hub.counters.RecordInputRejected()
		a.hub.recorder.Record(telemetry.Record{
			TimestampMS: now.UnixMilli(),
			Event:       telemetry.EventInputRejected,
			Room:        a.room.ID,
			Player:      c.msg.PlayerID,
			Seq:         c.msg.ClientSeq,
			ValueA:      float64(c.msg.Cell),
			ValueB:      float64(status),
		})
		a.hub.log.Debugw("input rejected", "room", a.room.ID,
			"player", c.msg.PlayerID, "cell", c.msg.Cell, "reason", status.String())
	}
	a.notePhaseChange(phaseBefore, now)
}

func (a *roomActor) handleHeartbeat(c heartbeatCmd, now time.Time) {
	m, ok := a.members[c.msg.PlayerID]
	if !ok {
		a.hub.log.Debugw("heartbeat for unknown player", "room", a.room.ID, "player", c.msg.PlayerID)
		return
	}
	m.lastSeen = now
	m.addr = c.addr

	if c.msg.ClientTime > 0 {
		clientTime := time.UnixMilli(c.msg.ClientTime)
		if clientTime.Before(now.Add(5 * time.Second)) {
			rtt := now.Sub(clientTime)
			if rtt < 0 {
				rtt = 0
			}
			m.lastRTT = rtt
		}
	}

	a.sendTo(c.addr, proto.MsgHeartbeat, 0, proto.Heartbeat{
		RoomID:     a.room.ID,
		PlayerID:   c.msg.PlayerID,
		ClientTime: c.msg.ClientTime,
		ServerTime: now.UnixMilli(),
		RTTMillis:  m.lastRTT.Milliseconds(),
	})
}

func (a *roomActor) handleAck(c ackCmd, now time.Time) {
	m, ok := a.members[c.msg.PlayerID]
	if !ok {
		return
	}
	m.lastSeen = c.recvAt
	if c.msg.Seq > m.lastAck {
		m.lastAck = c.msg.Seq
	}
}

func (a *roomActor) handleLeave(c leaveCmd, now time.Time) {
	phaseBefore := a.room.Phase()
	if a.room.Leave(c.msg.PlayerID, now) {
		a.hub.log.Infow("player left", "room", a.room.ID, "player", c.msg.PlayerID)
	}
	delete(a.members, c.msg.PlayerID)
	a.notePhaseChange(phaseBefore, now)
	a.publish()
}

// tick runs one broadcast interval: time transitions, liveness sweep, and
// the snapshot emission. Every interval sends the current state whether or
// not anything changed, so a lost snapshot is always superseded by the next
// one. It reports true when the room is done and should be torn down.
func (a *roomActor) tick(now time.Time) bool {
	phaseBefore := a.room.Phase()
	a.room.Advance(now)

	a.sweepSilent(now)

	if len(a.members) > 0 {
		a.broadcastSnapshot(now)
	}

	a.notePhaseChange(phaseBefore, now)
	a.publish()

	if a.everConnected && len(a.members) == 0 {
		if a.room.Phase() != game.PhaseFinished {
			return true
		}
		return now.Sub(a.room.FinishedAt()) > finishedLinger
	}
	return false
}

// sweepSilent removes sessions past the liveness timeout. Firing again for a
// seat that is already gone is harmless: Leave is idempotent and the member
// entry is deleted on the first pass.
func (a *roomActor) sweepSilent(now time.Time) {
	cutoff := a.hub.cfg.DisconnectAfter()
	for id, m := range a.members {
		if now.Sub(m.lastSeen) <= cutoff {
			continue
		}
		delete(a.members, id)
		a.room.Leave(id, now)
		a.hub.counters.RecordDisconnect()
		a.hub.recorder.Record(telemetry.Record{
			TimestampMS: now.UnixMilli(),
			Event:       telemetry.EventDisconnect,
			Room:        a.room.ID,
			Player:      id,
		})
		a.hub.log.Infow("disconnecting player on liveness timeout", "room", a.room.ID, "player", id)
	}
}

func (a *roomActor) broadcastSnapshot(now time.Time) {
	snap := a.protoSnapshot(a.room.EmitSnapshot(), now)
	body, err := proto.EncodeBody(snap)
	if err != nil {
		a.hub.log.Errorw("encode snapshot", "room", a.room.ID, "err", err)
		return
	}
	pkt, err := proto.Seal(proto.MsgSnapshot, a.hub.nextPacketID(), snap.Seq, now.UnixMilli(), body)
	if err != nil {
		a.hub.log.Errorw("seal snapshot", "room", a.room.ID, "err", err)
		return
	}
	for _, m := range a.members {
		a.hub.write(pkt, m.addr)
	}
	a.hub.counters.RecordSnapshotSent()
	a.hub.recorder.Record(telemetry.Record{
		TimestampMS: now.UnixMilli(),
		Event:       telemetry.EventBroadcast,
		Room:        a.room.ID,
		Seq:         snap.Seq,
		ValueA:      float64(len(pkt) * len(a.members)),
	})
}

func (a *roomActor) protoSnapshot(s game.Snapshot, now time.Time) proto.Snapshot {
	scores := make([]proto.PlayerScore, 0, len(s.Scores))
	for _, sc := range s.Scores {
		scores = append(scores, proto.PlayerScore{PlayerID: sc.PlayerID, Score: sc.Score})
	}
	return proto.Snapshot{
		RoomID:     a.room.ID,
		Seq:        s.Seq,
		Phase:      proto.Phase(s.Phase),
		Grid:       s.Grid,
		Scores:     scores,
		Closed:     s.Closed,
		ServerTime: now.UnixMilli(),
	}
}

func (a *roomActor) sendTo(addr *net.UDPAddr, t proto.MsgType, seq uint32, msg any) {
	a.hub.send(addr, t, seq, msg)
}

func (a *roomActor) notePhaseChange(before game.Phase, now time.Time) {
	after := a.room.Phase()
	if after == before {
		return
	}
	a.hub.log.Infow("room phase transition", "room", a.room.ID,
		"from", before.String(), "to", after.String())
	a.hub.recorder.Record(telemetry.Record{
		TimestampMS: now.UnixMilli(),
		Event:       telemetry.EventTransition,
		Room:        a.room.ID,
		ValueA:      float64(after),
	})
	a.hub.publishEvent(roomEvent{
		Type:    "transition",
		Room:    a.room.ID,
		Phase:   after.String(),
		Players: a.room.PlayerCount(),
		Time:    now.UnixMilli(),
	})
}

// publish refreshes the atomics other goroutines read for room listings.
func (a *roomActor) publish() {
	a.pubPhase.Store(uint32(a.room.Phase()))
	a.pubPlayers.Store(uint32(a.room.PlayerCount()))
}

// info is safe to call from any goroutine.
func (a *roomActor) info() proto.RoomInfo {
	return proto.RoomInfo{
		RoomID:   a.room.ID,
		Phase:    proto.Phase(a.pubPhase.Load()),
		Players:  uint8(a.pubPlayers.Load()),
		Capacity: uint8(a.room.Capacity()),
	}
}
