package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/config"
	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/game"
	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/proto"
	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/telemetry"
)

// PacketWriter is the outbound half of the UDP socket. Tests substitute an
// in-memory implementation.
type PacketWriter interface {
	WriteToUDP(b []byte, addr *net.UDPAddr) (int, error)
}

// Hub owns the room table and the socket. One dispatcher goroutine reads the
// socket and routes decoded messages to per-room actors; rooms never share
// state, so a fault or a stall in one cannot reach another.
type Hub struct {
	cfg      config.Server
	log      *zap.SugaredLogger
	counters *telemetry.Counters
	recorder *telemetry.Recorder

	conn     PacketWriter
	packetID atomic.Uint32

	mu    sync.RWMutex
	rooms map[string]*roomActor

	events   chan roomEvent
	done     chan struct{}
	stopOnce sync.Once
	watchers *watcherSet
}

// NewHub wires a hub. recorder may be nil, which disables CSV metrics.
func NewHub(cfg config.Server, conn PacketWriter, log *zap.SugaredLogger, rec *telemetry.Recorder) *Hub {
	h := &Hub{
		cfg:      cfg,
		log:      log,
		counters: &telemetry.Counters{},
		recorder: rec,
		conn:     conn,
		rooms:    make(map[string]*roomActor),
		events:   make(chan roomEvent, 64),
		done:     make(chan struct{}),
		watchers: newWatcherSet(log),
	}
	go h.watchers.run(h.events, h.done)
	return h
}

// Counters exposes the protocol counters for diagnostics.
func (h *Hub) Counters() *telemetry.Counters { return h.counters }

// Serve reads datagrams until the context ends or the socket closes. Socket
// read errors are logged and absorbed; only a closed socket ends the loop.
func (h *Hub) Serve(ctx context.Context, conn *net.UDPConn) error {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, proto.MaxDatagram+256)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			h.log.Warnw("socket read error", "err", err)
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		h.HandleDatagram(data, addr, time.Now())
	}
}

// HandleDatagram decodes and routes one inbound datagram. Malformed packets
// and protocol violations are dropped with a log entry; nothing in here can
// take the server down.
func (h *Hub) HandleDatagram(data []byte, addr *net.UDPAddr, now time.Time) {
	h.counters.RecordRecv(len(data))

	pkt, err := proto.Open(data)
	if err != nil {
		h.counters.RecordDecodeError()
		h.log.Debugw("dropping malformed datagram", "from", addr.String(), "err", err)
		return
	}

	switch pkt.Type {
	case proto.MsgJoin:
		msg, err := proto.DecodeBody[proto.Join](pkt)
		if err != nil {
			h.noteBodyError(addr, err)
			return
		}
		h.routeJoin(msg, addr, now)

	case proto.MsgInput:
		msg, err := proto.DecodeBody[proto.Input](pkt)
		if err != nil {
			h.noteBodyError(addr, err)
			return
		}
		if actor, ok := h.lookup(msg.RoomID); ok {
			actor.deliver(inputCmd{addr: addr, msg: msg, recvAt: now})
		} else {
			h.noteViolation(addr, "input for unknown room "+msg.RoomID)
		}

	case proto.MsgHeartbeat:
		msg, err := proto.DecodeBody[proto.Heartbeat](pkt)
		if err != nil {
			h.noteBodyError(addr, err)
			return
		}
		if actor, ok := h.lookup(msg.RoomID); ok {
			actor.deliver(heartbeatCmd{addr: addr, msg: msg, recvAt: now})
		} else {
			h.noteViolation(addr, "heartbeat for unknown room "+msg.RoomID)
		}

	case proto.MsgSnapshotAck:
		msg, err := proto.DecodeBody[proto.SnapshotAck](pkt)
		if err != nil {
			h.noteBodyError(addr, err)
			return
		}
		if actor, ok := h.lookup(msg.RoomID); ok {
			actor.deliver(ackCmd{msg: msg, recvAt: now})
		}

	case proto.MsgLeave:
		msg, err := proto.DecodeBody[proto.Leave](pkt)
		if err != nil {
			h.noteBodyError(addr, err)
			return
		}
		if actor, ok := h.lookup(msg.RoomID); ok {
			actor.deliver(leaveCmd{msg: msg, recvAt: now})
		}

	case proto.MsgListRooms:
		h.send(addr, proto.MsgRoomList, 0, proto.RoomList{Rooms: h.ListRooms()})

	default:
		// Server-to-client types arriving at the server.
		h.noteViolation(addr, "unexpected "+pkt.Type.String())
	}
}

// routeJoin finds or creates the target room. An empty room name always
// creates a fresh room with a generated name.
func (h *Hub) routeJoin(msg proto.Join, addr *net.UDPAddr, now time.Time) {
	name := msg.RoomName
	if name == "" {
		name = "room-" + uuid.NewString()[:8]
	}
	actor := h.getOrCreateRoom(name)
	actor.deliver(joinCmd{addr: addr, msg: msg, recvAt: now})
}

func (h *Hub) lookup(roomID string) (*roomActor, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	a, ok := h.rooms[roomID]
	return a, ok
}

func (h *Hub) getOrCreateRoom(name string) *roomActor {
	h.mu.Lock()
	defer h.mu.Unlock()
	if a, ok := h.rooms[name]; ok {
		return a
	}
	room := game.NewRoom(name, h.cfg.GridSize, h.cfg.RoomCapacity, 0)
	room.SetDuration(h.cfg.MatchDuration)
	a := newRoomActor(h, room)
	h.rooms[name] = a
	go a.run(h.cfg.BroadcastInterval())
	h.log.Infow("room created", "room", name,
		"grid", h.cfg.GridSize, "capacity", h.cfg.RoomCapacity)
	return a
}

func (h *Hub) removeRoom(name string) {
	h.mu.Lock()
	a, ok := h.rooms[name]
	if ok {
		delete(h.rooms, name)
	}
	h.mu.Unlock()
	if ok {
		a.stop()
		h.log.Infow("room removed", "room", name)
	}
}

// ListRooms snapshots the room table for MsgListRooms and diagnostics.
func (h *Hub) ListRooms() []proto.RoomInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]proto.RoomInfo, 0, len(h.rooms))
	for _, a := range h.rooms {
		out = append(out, a.info())
	}
	return out
}

// Shutdown stops every room actor and the watcher feed. Safe to call more
// than once; the events channel is never closed because a room actor
// finishing its last command may still publish after this returns.
func (h *Hub) Shutdown() {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		actors := make([]*roomActor, 0, len(h.rooms))
		for name, a := range h.rooms {
			actors = append(actors, a)
			delete(h.rooms, name)
		}
		h.mu.Unlock()
		for _, a := range actors {
			a.stop()
		}
		close(h.done)
	})
}

func (h *Hub) nextPacketID() uint32 {
	return h.packetID.Add(1)
}

// send encodes and transmits one message. Fire and forget: an error is
// counted and logged at debug, never retried and never allowed to stall the
// caller.
func (h *Hub) send(addr *net.UDPAddr, t proto.MsgType, seq uint32, msg any) {
	body, err := proto.EncodeBody(msg)
	if err != nil {
		h.log.Errorw("encode message", "type", t.String(), "err", err)
		return
	}
	pkt, err := proto.Seal(t, h.nextPacketID(), seq, time.Now().UnixMilli(), body)
	if err != nil {
		h.log.Errorw("seal message", "type", t.String(), "err", err)
		return
	}
	h.write(pkt, addr)
}

func (h *Hub) write(pkt []byte, addr *net.UDPAddr) {
	n, err := h.conn.WriteToUDP(pkt, addr)
	if err != nil {
		h.counters.RecordSendError()
		h.log.Debugw("send failed", "to", addr.String(), "err", err)
		return
	}
	h.counters.RecordSend(n)
}

func (h *Hub) noteBodyError(addr *net.UDPAddr, err error) {
	h.counters.RecordDecodeError()
	h.log.Debugw("dropping undecodable body", "from", addr.String(), "err", err)
}

func (h *Hub) noteViolation(addr *net.UDPAddr, what string) {
	h.counters.RecordInputRejected()
	h.log.Debugw("protocol violation", "from", addr.String(), "what", what)
}

func (h *Hub) publishEvent(ev roomEvent) {
	select {
	case <-h.done:
	case h.events <- ev:
	default:
		// feed is best-effort; observers miss an event rather than slow a room
	}
}

// Bind opens the UDP socket. Failure here is one of the two fatal startup
// conditions.
func Bind(listenAddr string) (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", listenAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", listenAddr, err)
	}
	return conn, nil
}
