package client

import (
	"sync"
	"time"
)

// jitterGain is the EWMA gain for the smoothed absolute RTT delta,
// one-sixteenth per sample as in RFC 3550 interarrival jitter.
const jitterGain = 16

// rateWindow is the sliding window for the snapshots-per-second rate.
const rateWindow = 5 * time.Second

// Stats accumulates the client-side link quality estimates: RTT from
// heartbeat echoes, jitter as the smoothed delta between consecutive RTT
// samples, one-way latency from snapshot server timestamps, and the
// snapshot arrival rate.
type Stats struct {
	mu        sync.Mutex
	rtt       time.Duration
	jitter    time.Duration
	haveRTT   bool
	oneWay    time.Duration
	arrivals  []time.Time
	gapTotal  uint64
	snapshots uint64
}

// NewStats returns zeroed estimators.
func NewStats() *Stats {
	return &Stats{}
}

// AddRTT folds in one round-trip sample.
func (s *Stats) AddRTT(rtt time.Duration) {
	if rtt < 0 {
		rtt = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.haveRTT {
		d := rtt - s.rtt
		if d < 0 {
			d = -d
		}
		s.jitter += (d - s.jitter) / jitterGain
	}
	s.rtt = rtt
	s.haveRTT = true
}

// NoteSnapshot records one applied snapshot: its arrival time, the one-way
// latency computed from the echoed server timestamp, and the loss gap it
// exposed.
func (s *Stats) NoteSnapshot(now time.Time, oneWay time.Duration, gap int) {
	if oneWay < 0 {
		oneWay = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots++
	s.oneWay = oneWay
	if gap > 0 {
		s.gapTotal += uint64(gap)
	}
	s.arrivals = append(s.arrivals, now)
	s.pruneLocked(now)
}

func (s *Stats) pruneLocked(now time.Time) {
	cut := now.Add(-rateWindow)
	i := 0
	for i < len(s.arrivals) && s.arrivals[i].Before(cut) {
		i++
	}
	if i > 0 {
		s.arrivals = append(s.arrivals[:0], s.arrivals[i:]...)
	}
}

// RTT returns the latest round-trip sample.
func (s *Stats) RTT() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rtt
}

// Jitter returns the smoothed RTT delta.
func (s *Stats) Jitter() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jitter
}

// OneWay returns the latest snapshot one-way latency sample.
func (s *Stats) OneWay() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.oneWay
}

// SnapshotsPerSec reports the arrival rate over the sliding window.
func (s *Stats) SnapshotsPerSec(now time.Time) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneLocked(now)
	if len(s.arrivals) == 0 {
		return 0
	}
	span := now.Sub(s.arrivals[0])
	if span <= 0 {
		return float64(len(s.arrivals))
	}
	return float64(len(s.arrivals)) / span.Seconds()
}

// LostSnapshots is the total gap size observed so far.
func (s *Stats) LostSnapshots() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gapTotal
}

// Snapshots is the total applied snapshot count.
func (s *Stats) Snapshots() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshots
}
