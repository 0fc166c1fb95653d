package client

import (
	"sync"
	"time"

	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/proto"
)

// predictTTL bounds how long an unconfirmed optimistic claim may shade the
// view. A lost INPUT datagram would otherwise pin the prediction forever.
const predictTTL = 2 * time.Second

type predictedClaim struct {
	owner uint8
	at    time.Time
}

// Mirror is the client's local copy of room state: the last applied
// authoritative snapshot plus a separate optimistic overlay. Snapshots are
// full replications, so reconciliation is always a wholesale overwrite,
// never a merge.
type Mirror struct {
	mu        sync.RWMutex
	lastSeq   int64 // -1 until the first snapshot lands
	phase     proto.Phase
	grid      []byte
	scores    map[uint8]uint16
	closed    bool
	predicted map[uint16]predictedClaim
}

// NewMirror returns an empty mirror awaiting its first snapshot.
func NewMirror() *Mirror {
	return &Mirror{
		lastSeq:   -1,
		scores:    make(map[uint8]uint16),
		predicted: make(map[uint16]predictedClaim),
	}
}

// Reset drops all replicated state and the seq watermark. A new session
// starts a new snapshot stream whose seqs restart from zero, so carrying the
// old watermark across would discard every snapshot of the new stream.
func (m *Mirror) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSeq = -1
	m.phase = 0
	m.grid = nil
	m.closed = false
	for k := range m.scores {
		delete(m.scores, k)
	}
	for k := range m.predicted {
		delete(m.predicted, k)
	}
}

// Apply reconciles one incoming snapshot. Stale and duplicate snapshots
// (seq at or below the last applied) are discarded. A gap means the network
// lost snapshots in between; the newer state is applied unconditionally and
// the gap size is reported for metrics. Predictions the snapshot confirms or
// contradicts are cleared either way: the authoritative grid wins.
func (m *Mirror) Apply(snap proto.Snapshot, now time.Time) (applied bool, gap int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seq := int64(snap.Seq)
	if seq <= m.lastSeq {
		return false, 0
	}
	if m.lastSeq >= 0 {
		gap = int(seq - m.lastSeq - 1)
	}
	m.lastSeq = seq
	m.phase = snap.Phase
	m.closed = snap.Closed

	if len(m.grid) != len(snap.Grid) {
		m.grid = make([]byte, len(snap.Grid))
	}
	copy(m.grid, snap.Grid)

	for k := range m.scores {
		delete(m.scores, k)
	}
	for _, sc := range snap.Scores {
		m.scores[sc.PlayerID] = sc.Score
	}

	for cell, pc := range m.predicted {
		if int(cell) < len(m.grid) && m.grid[cell] != 0 {
			delete(m.predicted, cell)
			continue
		}
		if now.Sub(pc.at) > predictTTL {
			delete(m.predicted, cell)
		}
	}

	return true, gap
}

// Predict records an optimistic local claim ahead of server confirmation.
// It refuses cells that are already owned in the authoritative grid or
// already predicted.
func (m *Mirror) Predict(cell uint16, owner uint8, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(cell) >= len(m.grid) || m.grid[cell] != 0 {
		return false
	}
	if _, ok := m.predicted[cell]; ok {
		return false
	}
	m.predicted[cell] = predictedClaim{owner: owner, at: now}
	return true
}

// Cell returns the displayed owner of a cell: the optimistic overlay when
// present, the authoritative grid otherwise.
func (m *Mirror) Cell(cell uint16) uint8 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if pc, ok := m.predicted[cell]; ok {
		return pc.owner
	}
	if int(cell) >= len(m.grid) {
		return 0
	}
	return m.grid[cell]
}

// AuthoritativeCell bypasses the overlay.
func (m *Mirror) AuthoritativeCell(cell uint16) uint8 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if int(cell) >= len(m.grid) {
		return 0
	}
	return m.grid[cell]
}

// Grid copies the authoritative board.
func (m *Mirror) Grid() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]byte, len(m.grid))
	copy(out, m.grid)
	return out
}

// FreeCells lists authoritative unclaimed cells not shadowed by a
// prediction. Bot drivers pick targets from it.
func (m *Mirror) FreeCells() []uint16 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uint16, 0, len(m.grid))
	for i, owner := range m.grid {
		if owner != 0 {
			continue
		}
		if _, ok := m.predicted[uint16(i)]; ok {
			continue
		}
		out = append(out, uint16(i))
	}
	return out
}

// LastSeq is the seq of the last applied snapshot, -1 before the first.
func (m *Mirror) LastSeq() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSeq
}

// Phase is the room phase as of the last applied snapshot.
func (m *Mirror) Phase() proto.Phase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.phase
}

// Closed reports whether the room announced itself finished.
func (m *Mirror) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// Score returns a player's score as of the last applied snapshot.
func (m *Mirror) Score(playerID uint8) uint16 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scores[playerID]
}

// PendingPredictions counts unconfirmed optimistic claims.
func (m *Mirror) PendingPredictions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.predicted)
}
