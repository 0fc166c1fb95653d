package client

import (
	"testing"
	"time"

	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/game"
	"github.com/shehab06/EchoSync-Multiplayer-Game-Protocol/internal/proto"
)

var t0 = time.Unix(1700000000, 0)

func snapWithSeq(seq uint32, grid []byte) proto.Snapshot {
	return proto.Snapshot{
		RoomID: "alpha",
		Seq:    seq,
		Phase:  proto.PhaseRunning,
		Grid:   grid,
	}
}

func TestMirrorAppliesFirstSnapshot(t *testing.T) {
	m := NewMirror()
	if m.LastSeq() != -1 {
		t.Fatalf("expected -1 before the first snapshot, got %d", m.LastSeq())
	}

	applied, gap := m.Apply(snapWithSeq(0, []byte{0, 1, 0, 0}), t0)
	if !applied || gap != 0 {
		t.Fatalf("expected first snapshot applied with no gap, got applied=%v gap=%d", applied, gap)
	}
	if m.LastSeq() != 0 {
		t.Fatalf("expected last seq 0, got %d", m.LastSeq())
	}
	if m.AuthoritativeCell(1) != 1 {
		t.Fatalf("expected cell 1 owned by 1")
	}
}

func TestMirrorDiscardsStaleAndDuplicate(t *testing.T) {
	m := NewMirror()
	m.Apply(snapWithSeq(5, []byte{1, 0, 0, 0}), t0)

	if applied, _ := m.Apply(snapWithSeq(5, []byte{0, 0, 0, 0}), t0); applied {
		t.Fatalf("expected duplicate seq discarded")
	}
	if applied, _ := m.Apply(snapWithSeq(3, []byte{0, 0, 0, 0}), t0); applied {
		t.Fatalf("expected out-of-order seq discarded")
	}
	if m.AuthoritativeCell(0) != 1 {
		t.Fatalf("expected stale snapshots to leave state untouched")
	}
	if m.LastSeq() != 5 {
		t.Fatalf("expected last seq 5, got %d", m.LastSeq())
	}
}

func TestMirrorHealsAcrossGap(t *testing.T) {
	m := NewMirror()
	m.Apply(snapWithSeq(1, []byte{1, 0, 0, 0}), t0)

	// Seqs 2..4 never arrive; 5 carries the cumulative state.
	applied, gap := m.Apply(snapWithSeq(5, []byte{1, 2, 2, 1}), t0)
	if !applied {
		t.Fatalf("expected newer snapshot applied despite the gap")
	}
	if gap != 3 {
		t.Fatalf("expected gap 3, got %d", gap)
	}
	for cell, want := range []uint8{1, 2, 2, 1} {
		if got := m.AuthoritativeCell(uint16(cell)); got != want {
			t.Fatalf("cell %d: expected %d, got %d", cell, want, got)
		}
	}
}

func TestMirrorTracksScoresAndPhase(t *testing.T) {
	m := NewMirror()
	snap := snapWithSeq(1, []byte{1, 2, 0, 0})
	snap.Scores = []proto.PlayerScore{{PlayerID: 1, Score: 1}, {PlayerID: 2, Score: 1}}
	m.Apply(snap, t0)

	if m.Score(1) != 1 || m.Score(2) != 1 {
		t.Fatalf("expected both scores 1, got %d/%d", m.Score(1), m.Score(2))
	}
	if m.Phase() != proto.PhaseRunning {
		t.Fatalf("expected RUNNING, got %s", m.Phase())
	}

	final := snapWithSeq(2, []byte{1, 2, 1, 2})
	final.Phase = proto.PhaseFinished
	final.Closed = true
	final.Scores = []proto.PlayerScore{{PlayerID: 1, Score: 2}, {PlayerID: 2, Score: 2}}
	m.Apply(final, t0)

	if !m.Closed() {
		t.Fatalf("expected closed after final snapshot")
	}
	if m.Score(1) != 2 {
		t.Fatalf("expected score replaced wholesale, got %d", m.Score(1))
	}
}

func TestPredictionConfirmedBySnapshot(t *testing.T) {
	m := NewMirror()
	m.Apply(snapWithSeq(1, []byte{0, 0, 0, 0}), t0)

	if !m.Predict(2, 1, t0) {
		t.Fatalf("expected prediction on a free cell to register")
	}
	if m.Cell(2) != 1 {
		t.Fatalf("expected overlay to show the predicted owner")
	}
	if m.AuthoritativeCell(2) != 0 {
		t.Fatalf("expected authoritative grid untouched by prediction")
	}

	m.Apply(snapWithSeq(2, []byte{0, 0, 1, 0}), t0.Add(50*time.Millisecond))
	if m.PendingPredictions() != 0 {
		t.Fatalf("expected confirmed prediction cleared")
	}
	if m.Cell(2) != 1 {
		t.Fatalf("expected cell 2 still shown as owned")
	}
}

func TestPredictionRolledBackWhenContradicted(t *testing.T) {
	m := NewMirror()
	m.Apply(snapWithSeq(1, []byte{0, 0, 0, 0}), t0)
	m.Predict(2, 1, t0)

	// The server awarded the race to player 2.
	m.Apply(snapWithSeq(2, []byte{0, 0, 2, 0}), t0.Add(50*time.Millisecond))
	if m.PendingPredictions() != 0 {
		t.Fatalf("expected contradicted prediction cleared")
	}
	if m.Cell(2) != 2 {
		t.Fatalf("expected the authoritative owner to win, got %d", m.Cell(2))
	}
}

func TestPredictionExpiresAfterTTL(t *testing.T) {
	m := NewMirror()
	m.Apply(snapWithSeq(1, []byte{0, 0, 0, 0}), t0)
	m.Predict(2, 1, t0)

	// Snapshots keep arriving but never confirm the claim.
	m.Apply(snapWithSeq(2, []byte{0, 0, 0, 0}), t0.Add(time.Second))
	if m.PendingPredictions() != 1 {
		t.Fatalf("expected the prediction to survive inside the TTL")
	}
	m.Apply(snapWithSeq(3, []byte{0, 0, 0, 0}), t0.Add(3*time.Second))
	if m.PendingPredictions() != 0 {
		t.Fatalf("expected the prediction to expire")
	}
	if m.Cell(2) != 0 {
		t.Fatalf("expected the cell to read free again, got %d", m.Cell(2))
	}
}

func TestPredictRefusesOwnedAndShadowedCells(t *testing.T) {
	m := NewMirror()
	m.Apply(snapWithSeq(1, []byte{2, 0, 0, 0}), t0)

	if m.Predict(0, 1, t0) {
		t.Fatalf("expected prediction on an owned cell refused")
	}
	if !m.Predict(1, 1, t0) {
		t.Fatalf("expected first prediction accepted")
	}
	if m.Predict(1, 1, t0) {
		t.Fatalf("expected double prediction refused")
	}
	if m.Predict(9, 1, t0) {
		t.Fatalf("expected out-of-range prediction refused")
	}
}

func TestFreeCellsSkipsOwnedAndPredicted(t *testing.T) {
	m := NewMirror()
	m.Apply(snapWithSeq(1, []byte{1, 0, 0, 0}), t0)
	m.Predict(1, 2, t0)

	free := m.FreeCells()
	if len(free) != 2 {
		t.Fatalf("expected 2 free cells, got %v", free)
	}
	if free[0] != 2 || free[1] != 3 {
		t.Fatalf("expected cells 2 and 3 free, got %v", free)
	}
}

// The mirror converges to server state no matter which subset of snapshots
// the network delivers, as long as the latest one lands.
func TestMirrorConvergesUnderLoss(t *testing.T) {
	room := game.NewRoom("alpha", 3, 2, 0)
	if _, err := room.Join("a", t0); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := room.Join("b", t0); err != nil {
		t.Fatalf("join: %v", err)
	}

	m := NewMirror()
	seq := uint32(0)
	for cell := 0; cell < 9; cell++ {
		seq++
		room.ApplyInput(uint8(cell%2)+1, seq, cell, t0)
		snap := room.EmitSnapshot()
		// Drop two of every three broadcasts.
		if snap.Seq%3 != 0 {
			continue
		}
		m.Apply(proto.Snapshot{
			RoomID: "alpha",
			Seq:    snap.Seq,
			Phase:  proto.Phase(snap.Phase),
			Grid:   snap.Grid,
			Closed: snap.Closed,
		}, t0)
	}

	// Deliver the latest state regardless of the drop pattern.
	final := room.Snapshot()
	m.Apply(proto.Snapshot{
		RoomID: "alpha",
		Seq:    final.Seq,
		Phase:  proto.Phase(final.Phase),
		Grid:   final.Grid,
		Closed: final.Closed,
	}, t0)

	want := room.Grid().Bytes()
	got := m.Grid()
	if len(got) != len(want) {
		t.Fatalf("grid length mismatch: %d vs %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("cell %d: expected %d, got %d", i, want[i], got[i])
		}
	}
	if !m.Closed() {
		t.Fatalf("expected the mirror to see the finished room")
	}
}
