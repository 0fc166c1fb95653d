package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/config"
	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/proto"
	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/telemetry"
)

// State is the engine lifecycle, mirroring the room one step behind.
type State uint8

const (
	StateConnecting State = iota
	StateSynced
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSynced:
		return "synced"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// ErrNotSynced rejects input while no session is established.
var ErrNotSynced = errors.New("echosync: not synced to a room")

// ErrRejected reports a terminal join rejection (room full).
var ErrRejected = errors.New("echosync: join rejected")

// tickInterval paces the engine's housekeeping loop (join retries,
// heartbeats, liveness checks). Wire traffic rates are governed separately
// by the configured intervals.
const tickInterval = 250 * time.Millisecond

// Engine is the client synchronization core: it drives the JOIN handshake,
// keeps the Mirror reconciled against incoming snapshots, sends heartbeats
// and inputs, and detects a dead link by snapshot silence. One goroutine
// reads the socket, the housekeeping loop runs in Run; the Mirror and Stats
// carry their own synchronization.
type Engine struct {
	cfg    config.Client
	log    *zap.SugaredLogger
	rec    *telemetry.Recorder
	conn   net.PacketConn
	server net.Addr

	mirror *Mirror
	stats  *Stats

	packetID  atomic.Uint32
	clientSeq atomic.Uint32

	mu             sync.Mutex
	state          State
	roomID         string
	playerID       uint8
	capacity       uint8
	resumeToken    string
	rejected       error
	lastJoinSent   time.Time
	lastHeartbeat  time.Time
	lastSnapshotAt time.Time
}

// New wires an engine. conn is an opened UDP socket (tests pass an
// in-memory PacketConn); server is the address datagrams go to.
func New(cfg config.Client, conn net.PacketConn, server net.Addr, log *zap.SugaredLogger, rec *telemetry.Recorder) *Engine {
	return &Engine{
		cfg:    cfg,
		log:    log,
		rec:    rec,
		conn:   conn,
		server: server,
		mirror: NewMirror(),
		stats:  NewStats(),
		state:  StateConnecting,
	}
}

// Mirror exposes the local state copy.
func (e *Engine) Mirror() *Mirror { return e.mirror }

// Stats exposes the link quality estimators.
func (e *Engine) Stats() *Stats { return e.stats }

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Session returns the established identity, valid once synced.
func (e *Engine) Session() (roomID string, playerID uint8) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.roomID, e.playerID
}

// Capacity is the room seat count announced in the join ack.
func (e *Engine) Capacity() uint8 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.capacity
}

// Err reports a terminal rejection, if any.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rejected
}

// Run drives the engine until ctx ends. It owns the socket lifetime: the
// socket is closed on the way out, which also stops the read loop.
func (e *Engine) Run(ctx context.Context) {
	go e.readLoop()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	e.sendJoin(time.Now())

	for {
		select {
		case <-ctx.Done():
			e.sendLeave(time.Now())
			e.conn.Close()
			return
		case now := <-ticker.C:
			e.housekeep(now)
		}
	}
}

func (e *Engine) housekeep(now time.Time) {
	e.mu.Lock()
	state := e.state
	rejected := e.rejected
	lastJoin := e.lastJoinSent
	lastBeat := e.lastHeartbeat
	lastSnap := e.lastSnapshotAt
	e.mu.Unlock()

	switch state {
	case StateConnecting:
		if rejected == nil && now.Sub(lastJoin) >= e.cfg.JoinRetry {
			e.sendJoin(now)
		}
	case StateSynced:
		if now.Sub(lastSnap) > e.cfg.SnapshotTimeout {
			e.onSnapshotSilence(now)
			return
		}
		if now.Sub(lastBeat) >= e.cfg.HeartbeatInterval {
			e.sendHeartbeat(now)
		}
	case StateDisconnected:
		// Reconnection was already initiated; the join retry path takes over.
		if rejected == nil && now.Sub(lastJoin) >= e.cfg.JoinRetry {
			e.sendJoin(now)
		}
	}
}

// onSnapshotSilence handles a liveness timeout on the inbound snapshot
// stream: drop to DISCONNECTED and start rejoining, with the resume token
// when session resumption is on.
func (e *Engine) onSnapshotSilence(now time.Time) {
	e.mu.Lock()
	if e.state != StateSynced {
		e.mu.Unlock()
		return
	}
	e.state = StateDisconnected
	room := e.roomID
	e.mu.Unlock()

	e.log.Warnw("snapshot silence, reconnecting", "room", room,
		"timeout", e.cfg.SnapshotTimeout)
	e.recordState(now, StateDisconnected)
	e.sendJoin(now)
}

func (e *Engine) sendJoin(now time.Time) {
	e.mu.Lock()
	msg := proto.Join{RoomName: e.cfg.RoomName}
	if e.cfg.SessionResume && e.resumeToken != "" {
		// Rejoin the room we were in, not a fresh generated one.
		msg.RoomName = e.roomID
		msg.ResumeToken = e.resumeToken
	} else if e.roomID != "" && e.cfg.RoomName == "" {
		msg.RoomName = e.roomID
	}
	e.lastJoinSent = now
	if e.state == StateDisconnected {
		e.state = StateConnecting
	}
	e.mu.Unlock()

	e.send(proto.MsgJoin, 0, msg, now)
}

func (e *Engine) sendHeartbeat(now time.Time) {
	e.mu.Lock()
	msg := proto.Heartbeat{RoomID: e.roomID, PlayerID: e.playerID, ClientTime: now.UnixMilli()}
	e.lastHeartbeat = now
	e.mu.Unlock()
	e.send(proto.MsgHeartbeat, 0, msg, now)
}

func (e *Engine) sendLeave(now time.Time) {
	e.mu.Lock()
	synced := e.state == StateSynced
	msg := proto.Leave{RoomID: e.roomID, PlayerID: e.playerID}
	e.mu.Unlock()
	if synced {
		e.send(proto.MsgLeave, 0, msg, now)
	}
}

// Claim sends an InputEvent for a cell and applies the optimistic local
// prediction. The server confirms (or silently refuses) via a later
// snapshot; there is no per-input ack.
func (e *Engine) Claim(cell uint16) error {
	e.mu.Lock()
	if e.state != StateSynced {
		e.mu.Unlock()
		return ErrNotSynced
	}
	room, player := e.roomID, e.playerID
	e.mu.Unlock()

	now := time.Now()
	seq := e.clientSeq.Add(1)
	e.mirror.Predict(cell, player, now)
	e.send(proto.MsgInput, seq, proto.Input{
		RoomID:     room,
		PlayerID:   player,
		ClientSeq:  seq,
		Cell:       cell,
		ClientTime: now.UnixMilli(),
	}, now)
	e.rec.Record(telemetry.Record{
		TimestampMS: now.UnixMilli(),
		Event:       telemetry.EventInputSent,
		Room:        room,
		Player:      player,
		Seq:         seq,
		ValueA:      float64(cell),
	})
	return nil
}

func (e *Engine) readLoop() {
	buf := make([]byte, proto.MaxDatagram+256)
	for {
		n, _, err := e.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		e.handleDatagram(data, time.Now())
	}
}

func (e *Engine) handleDatagram(data []byte, now time.Time) {
	pkt, err := proto.Open(data)
	if err != nil {
		e.log.Debugw("dropping malformed datagram", "err", err)
		return
	}
	switch pkt.Type {
	case proto.MsgJoinAck:
		msg, err := proto.DecodeBody[proto.JoinAck](pkt)
		if err != nil {
			e.log.Debugw("dropping undecodable join ack", "err", err)
			return
		}
		e.handleJoinAck(msg, now)
	case proto.MsgSnapshot:
		msg, err := proto.DecodeBody[proto.Snapshot](pkt)
		if err != nil {
			e.log.Debugw("dropping undecodable snapshot", "err", err)
			return
		}
		e.handleSnapshot(msg, now)
	case proto.MsgHeartbeat:
		msg, err := proto.DecodeBody[proto.Heartbeat](pkt)
		if err != nil {
			return
		}
		e.handleHeartbeatEcho(msg, now)
	case proto.MsgRoomList:
		// Room browsing is driven by the binary's flags, not the engine.
	default:
		e.log.Debugw("unexpected message type", "type", pkt.Type.String())
	}
}

func (e *Engine) handleJoinAck(msg proto.JoinAck, now time.Time) {
	switch msg.Result {
	case proto.JoinOK:
		e.mu.Lock()
		// A different room or a different token means the server issued a new
		// identity, not a resume: the old mirror belongs to a dead stream.
		fresh := msg.RoomID != e.roomID ||
			(msg.ResumeToken != "" && msg.ResumeToken != e.resumeToken)
		e.state = StateSynced
		e.roomID = msg.RoomID
		e.playerID = msg.PlayerID
		e.capacity = msg.Capacity
		if msg.ResumeToken != "" {
			e.resumeToken = msg.ResumeToken
		}
		e.lastSnapshotAt = now
		e.mu.Unlock()

		if fresh {
			e.mirror.Reset()
		}
		if msg.Snapshot != nil {
			e.applySnapshot(*msg.Snapshot, now)
		}
		e.log.Infow("joined room", "room", msg.RoomID, "player", msg.PlayerID,
			"capacity", msg.Capacity)
		e.recordJoin(now, msg.Result)
		e.recordState(now, StateSynced)

	case proto.JoinRoomFull:
		e.mu.Lock()
		e.state = StateDisconnected
		e.rejected = fmt.Errorf("%w: %s", ErrRejected, msg.Result)
		e.mu.Unlock()
		e.log.Warnw("join rejected", "room", msg.RoomID, "result", msg.Result.String())
		e.recordJoin(now, msg.Result)

	case proto.JoinRoomClosed:
		// The final snapshot still tells us how the match ended.
		if msg.Snapshot != nil {
			e.applySnapshot(*msg.Snapshot, now)
		}
		e.mu.Lock()
		e.state = StateDisconnected
		e.rejected = fmt.Errorf("%w: %s", ErrRejected, msg.Result)
		e.mu.Unlock()
		e.log.Warnw("join rejected, room closed", "room", msg.RoomID)
		e.recordJoin(now, msg.Result)
	}
}

func (e *Engine) handleSnapshot(msg proto.Snapshot, now time.Time) {
	e.mu.Lock()
	if e.state != StateSynced || msg.RoomID != e.roomID {
		e.mu.Unlock()
		return
	}
	room, player := e.roomID, e.playerID
	e.mu.Unlock()

	applied, gap := e.mirror.Apply(msg, now)
	if !applied {
		return
	}
	// Only applied snapshots count as liveness: a stream stuck on stale seqs
	// must still trip the silence timeout and force a rejoin.
	e.mu.Lock()
	e.lastSnapshotAt = now
	e.mu.Unlock()
	oneWay := now.Sub(time.UnixMilli(msg.ServerTime))
	e.stats.NoteSnapshot(now, oneWay, gap)
	if gap > 0 {
		e.log.Debugw("snapshot gap healed", "room", room, "seq", msg.Seq, "lost", gap)
	}
	e.rec.Record(telemetry.Record{
		TimestampMS: now.UnixMilli(),
		Event:       telemetry.EventSnapshot,
		Room:        room,
		Player:      player,
		Seq:         msg.Seq,
		ValueA:      float64(oneWay.Milliseconds()),
		ValueB:      float64(gap),
	})

	e.send(proto.MsgSnapshotAck, msg.Seq, proto.SnapshotAck{
		RoomID:   room,
		PlayerID: player,
		Seq:      msg.Seq,
	}, now)
}

// applySnapshot handles the initial snapshot carried by a join ack.
func (e *Engine) applySnapshot(snap proto.Snapshot, now time.Time) {
	if applied, gap := e.mirror.Apply(snap, now); applied {
		oneWay := now.Sub(time.UnixMilli(snap.ServerTime))
		e.stats.NoteSnapshot(now, oneWay, gap)
	}
}

func (e *Engine) handleHeartbeatEcho(msg proto.Heartbeat, now time.Time) {
	if msg.ClientTime <= 0 {
		return
	}
	rtt := now.Sub(time.UnixMilli(msg.ClientTime))
	e.stats.AddRTT(rtt)

	e.mu.Lock()
	room, player := e.roomID, e.playerID
	e.mu.Unlock()
	e.rec.Record(telemetry.Record{
		TimestampMS: now.UnixMilli(),
		Event:       telemetry.EventRTT,
		Room:        room,
		Player:      player,
		ValueA:      float64(rtt.Milliseconds()),
		ValueB:      float64(e.stats.Jitter().Milliseconds()),
	})
}

func (e *Engine) send(t proto.MsgType, seq uint32, msg any, now time.Time) {
	body, err := proto.EncodeBody(msg)
	if err != nil {
		e.log.Errorw("encode message", "type", t.String(), "err", err)
		return
	}
	pkt, err := proto.Seal(t, e.packetID.Add(1), seq, now.UnixMilli(), body)
	if err != nil {
		e.log.Errorw("seal message", "type", t.String(), "err", err)
		return
	}
	if _, err := e.conn.WriteTo(pkt, e.server); err != nil {
		e.log.Debugw("send failed", "type", t.String(), "err", err)
	}
}

func (e *Engine) recordJoin(now time.Time, result proto.JoinResult) {
	room, player := e.Session()
	e.rec.Record(telemetry.Record{
		TimestampMS: now.UnixMilli(),
		Event:       telemetry.EventJoin,
		Room:        room,
		Player:      player,
		ValueA:      float64(result),
	})
}

func (e *Engine) recordState(now time.Time, s State) {
	room, player := e.Session()
	e.rec.Record(telemetry.Record{
		TimestampMS: now.UnixMilli(),
		Event:       telemetry.EventState,
		Room:        room,
		Player:      player,
		ValueA:      float64(s),
	})
}
