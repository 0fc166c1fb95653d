package client

import (
	"testing"
	"time"
)

func TestStatsFirstRTTSampleSetsNoJitter(t *testing.T) {
	s := NewStats()
	s.AddRTT(40 * time.Millisecond)
	if s.RTT() != 40*time.Millisecond {
		t.Fatalf("expected 40ms RTT, got %v", s.RTT())
	}
	if s.Jitter() != 0 {
		t.Fatalf("expected no jitter after one sample, got %v", s.Jitter())
	}
}

func TestStatsJitterSmoothsRTTDeltas(t *testing.T) {
	s := NewStats()
	s.AddRTT(40 * time.Millisecond)
	s.AddRTT(56 * time.Millisecond)

	// One sixteenth of the 16ms delta.
	if got := s.Jitter(); got != time.Millisecond {
		t.Fatalf("expected 1ms jitter, got %v", got)
	}

	// A steady link decays the estimate instead of holding it.
	for i := 0; i < 50; i++ {
		s.AddRTT(56 * time.Millisecond)
	}
	if got := s.Jitter(); got > 100*time.Microsecond {
		t.Fatalf("expected jitter to decay on a steady link, got %v", got)
	}
}

func TestStatsNegativeRTTClamped(t *testing.T) {
	s := NewStats()
	s.AddRTT(-5 * time.Millisecond)
	if s.RTT() != 0 {
		t.Fatalf("expected negative sample clamped to zero, got %v", s.RTT())
	}
}

func TestStatsSnapshotRateOverWindow(t *testing.T) {
	s := NewStats()
	now := t0
	for i := 0; i < 20; i++ {
		s.NoteSnapshot(now, 10*time.Millisecond, 0)
		now = now.Add(100 * time.Millisecond)
	}

	rate := s.SnapshotsPerSec(now)
	if rate < 9 || rate > 11 {
		t.Fatalf("expected roughly 10/s, got %.2f", rate)
	}
	if s.Snapshots() != 20 {
		t.Fatalf("expected 20 snapshots counted, got %d", s.Snapshots())
	}
}

func TestStatsRateWindowForgetsOldArrivals(t *testing.T) {
	s := NewStats()
	for i := 0; i < 10; i++ {
		s.NoteSnapshot(t0.Add(time.Duration(i)*100*time.Millisecond), 0, 0)
	}
	if got := s.SnapshotsPerSec(t0.Add(time.Minute)); got != 0 {
		t.Fatalf("expected a long-quiet link to read 0/s, got %.2f", got)
	}
}

func TestStatsAccumulatesLossGaps(t *testing.T) {
	s := NewStats()
	s.NoteSnapshot(t0, 0, 0)
	s.NoteSnapshot(t0.Add(50*time.Millisecond), 0, 3)
	s.NoteSnapshot(t0.Add(100*time.Millisecond), 0, 1)

	if got := s.LostSnapshots(); got != 4 {
		t.Fatalf("expected 4 lost snapshots, got %d", got)
	}
}

func TestStatsOneWayTracksLatestSample(t *testing.T) {
	s := NewStats()
	s.NoteSnapshot(t0, 12*time.Millisecond, 0)
	s.NoteSnapshot(t0.Add(50*time.Millisecond), 18*time.Millisecond, 0)
	if got := s.OneWay(); got != 18*time.Millisecond {
		t.Fatalf("expected 18ms one-way, got %v", got)
	}
	s.NoteSnapshot(t0.Add(100*time.Millisecond), -3*time.Millisecond, 0)
	if got := s.OneWay(); got != 0 {
		t.Fatalf("expected clock-skewed sample clamped to zero, got %v", got)
	}
}
