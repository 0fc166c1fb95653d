package game

import "testing"

func TestGridClaimWriteOnce(t *testing.T) {
	g := NewGrid(4)

	if !g.Claim(5, 1) {
		t.Fatalf("expected first claim to succeed")
	}
	if g.Claim(5, 2) {
		t.Fatalf("expected claim on owned cell to fail")
	}
	if got := g.Owner(5); got != 1 {
		t.Fatalf("expected owner 1, got %d", got)
	}
}

func TestGridClaimRejectsBadArguments(t *testing.T) {
	g := NewGrid(4)

	if g.Claim(-1, 1) {
		t.Fatalf("expected negative index claim to fail")
	}
	if g.Claim(16, 1) {
		t.Fatalf("expected out-of-range claim to fail")
	}
	if g.Claim(0, 0) {
		t.Fatalf("expected zero owner claim to fail")
	}
	if g.Free() != 16 {
		t.Fatalf("expected 16 free cells after rejected claims, got %d", g.Free())
	}
}

func TestGridFull(t *testing.T) {
	g := NewGrid(2)
	for i := 0; i < 4; i++ {
		if !g.Claim(i, uint8(i%2)+1) {
			t.Fatalf("claim %d failed", i)
		}
	}
	if !g.Full() {
		t.Fatalf("expected grid to be full")
	}

	g.Reset()
	if g.Full() || g.Free() != 4 {
		t.Fatalf("expected reset grid to be empty, free=%d", g.Free())
	}
	if got := g.Owner(0); got != 0 {
		t.Fatalf("expected owner 0 after reset, got %d", got)
	}
}

func TestGridBytesCopies(t *testing.T) {
	g := NewGrid(2)
	g.Claim(0, 1)
	b := g.Bytes()
	b[1] = 9
	if got := g.Owner(1); got != 0 {
		t.Fatalf("expected Bytes to copy, cell 1 owner is %d", got)
	}
}
