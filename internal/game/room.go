package game

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// Phase is the room lifecycle state.
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

// ErrRoomFull rejects a join when every seat is taken.
var ErrRoomFull = errors.New("echosync: room full")

// ErrRoomClosed rejects a join to a FINISHED room.
var ErrRoomClosed = errors.New("echosync: room closed")

// InputStatus classifies the outcome of applying an InputEvent.
type InputStatus uint8

const (
	InputApplied InputStatus = iota
	InputNotRunning
	InputUnknownPlayer
	InputStale
	InputCellOwned
)

func (s InputStatus) String() string {
	switch s {
	case InputApplied:
		return "applied"
	case InputNotRunning:
		return "notRunning"
	case InputUnknownPlayer:
		return "unknownPlayer"
	case InputStale:
		return "staleSeq"
	case InputCellOwned:
		return "cellOwned"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Player is one seat in a room. LastSeq is the highest client input sequence
// the room has accepted for this player; anything at or below it is a
// duplicate or a reorder and is dropped.
type Player struct {
	ID        uint8
	Token     string
	Score     uint16
	Connected bool
	LastSeq   uint32
}

// PlayerScore pairs a room-local player id with its score for snapshots.
type PlayerScore struct {
	PlayerID uint8
	Score    uint16
}

// Snapshot is an immutable copy of room state at a point in time. Seq is
// strictly increasing per room across emitted snapshots.
type Snapshot struct {
	Seq    uint32
	Phase  Phase
	Grid   []byte
	Scores []PlayerScore
	Closed bool
}

// Room owns one grid match. It is not safe for concurrent use: the owning
// actor goroutine is the only caller (see internal/server).
type Room struct {
	ID       string
	capacity int

	phase      Phase
	grid       *Grid
	players    map[uint8]*Player
	nextLocal  uint8
	nextSeq    uint32
	duration   time.Duration
	startedAt  time.Time
	finishedAt time.Time
}

// NewRoom creates a WAITING room. A zero duration disables the time limit;
// the match then only ends when the grid fills.
func NewRoom(id string, gridSize, capacity int, duration time.Duration) *Room {
	if capacity <= 0 || capacity > 255 {
		panic(fmt.Sprintf("room capacity out of range: %d", capacity))
	}
	return &Room{
		ID:       id,
		capacity: capacity,
		grid:     NewGrid(gridSize),
		players:  make(map[uint8]*Player),
	}
}

// Phase returns the current lifecycle state.
func (r *Room) Phase() Phase { return r.phase }

// Capacity returns the configured seat count.
func (r *Room) Capacity() int { return r.capacity }

// Grid exposes the board for read-only inspection.
func (r *Room) Grid() *Grid { return r.grid }

// PlayerCount returns the number of seats ever assigned and still held.
func (r *Room) PlayerCount() int { return len(r.players) }

// ConnectedCount returns how many seats have a live endpoint behind them.
func (r *Room) ConnectedCount() int {
	n := 0
	for _, p := range r.players {
		if p.Connected {
			n++
		}
	}
	return n
}

// Player looks up a seat by room-local id.
func (r *Room) Player(id uint8) (*Player, bool) {
	p, ok := r.players[id]
	return p, ok
}

// FinishedAt reports when the room reached FINISHED (zero before that).
func (r *Room) FinishedAt() time.Time { return r.finishedAt }

// Join assigns the next free seat and returns the new player. The WAITING to
// RUNNING transition happens here, atomically with the join that fills the
// last seat. token becomes the player's resume credential.
func (r *Room) Join(token string, now time.Time) (*Player, error) {
	if r.phase == PhaseFinished {
		return nil, ErrRoomClosed
	}
	if len(r.players) >= r.capacity {
		return nil, ErrRoomFull
	}
	r.nextLocal++
	p := &Player{ID: r.nextLocal, Token: token, Connected: true}
	r.players[p.ID] = p
	if len(r.players) == r.capacity && r.phase == PhaseWaiting {
		r.phase = PhaseRunning
		r.startedAt = now
	}
	return p, nil
}

// Resume reclaims the seat previously issued with token. It succeeds for
// disconnected and still-connected seats alike, so a client rejoining after
// an address change does not need the timeout to fire first.
func (r *Room) Resume(token string, now time.Time) (*Player, bool) {
	if token == "" {
		return nil, false
	}
	for _, p := range r.players {
		if p.Token == token {
			p.Connected = true
			return p, true
		}
	}
	return nil, false
}

// Leave releases a seat. In WAITING the seat is freed for a later joiner. In
// RUNNING play continues with the remaining players and the departed
// player's cells keep their owner; the seat is only marked disconnected so a
// resume can reclaim it. Calling Leave for an unknown or already departed id
// is a no-op, which keeps repeated timeout firings harmless.
func (r *Room) Leave(id uint8, now time.Time) bool {
	p, ok := r.players[id]
	if !ok {
		return false
	}
	switch r.phase {
	case PhaseWaiting:
		delete(r.players, id)
		return true
	default:
		if !p.Connected {
			return false
		}
		p.Connected = false
		return true
	}
}

// ApplyInput processes one claim attempt. Duplicate and out-of-order events
// (clientSeq at or below the player's watermark) are dropped without
// touching state, which makes redelivery idempotent. First applied wins a
// same-tick race on a cell; there is no rollback.
func (r *Room) ApplyInput(playerID uint8, clientSeq uint32, cell int, now time.Time) InputStatus {
	if r.phase != PhaseRunning {
		return InputNotRunning
	}
	p, ok := r.players[playerID]
	if !ok {
		return InputUnknownPlayer
	}
	if clientSeq <= p.LastSeq {
		return InputStale
	}
	p.LastSeq = clientSeq
	if !r.grid.Claim(cell, playerID) {
		return InputCellOwned
	}
	p.Score++
	if r.grid.Full() {
		r.finish(now)
	}
	return InputApplied
}

// Advance applies time-driven transitions and reports whether the phase
// changed. The broadcast loop calls it once per tick.
func (r *Room) Advance(now time.Time) bool {
	if r.phase == PhaseRunning && r.duration > 0 && now.Sub(r.startedAt) >= r.duration {
		r.finish(now)
		return true
	}
	return false
}

// SetDuration installs the match time limit. Effective only before RUNNING.
func (r *Room) SetDuration(d time.Duration) {
	if r.phase == PhaseWaiting {
		r.duration = d
	}
}

func (r *Room) finish(now time.Time) {
	if r.phase == PhaseFinished {
		return
	}
	r.phase = PhaseFinished
	r.finishedAt = now
}

// Snapshot builds a copy of the current state carrying the seq the next
// emitted snapshot would use. Join acks send this peek so a fresh client and
// the next broadcast agree on ordering.
func (r *Room) Snapshot() Snapshot {
	return r.buildSnapshot(r.nextSeq)
}

// EmitSnapshot allocates the next seq and builds the snapshot for it. The
// server's own emission order is gapless; gaps are something only a lossy
// network manufactures.
func (r *Room) EmitSnapshot() Snapshot {
	r.nextSeq++
	return r.buildSnapshot(r.nextSeq)
}

func (r *Room) buildSnapshot(seq uint32) Snapshot {
	scores := make([]PlayerScore, 0, len(r.players))
	for _, p := range r.players {
		scores = append(scores, PlayerScore{PlayerID: p.ID, Score: p.Score})
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].PlayerID < scores[j].PlayerID })
	return Snapshot{
		Seq:    seq,
		Phase:  r.phase,
		Grid:   r.grid.Bytes(),
		Scores: scores,
		Closed: r.phase == PhaseFinished,
	}
}
