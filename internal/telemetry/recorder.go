package telemetry

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
)

// Record is one metrics row. The column set is an external contract: the
// harness aggregates these files across runs, so the schema must stay stable
// across protocol versions (cmd/schema pins it as JSON schema).
type Record struct {
	TimestampMS int64   `json:"ts_ms" csv:"ts_ms"`
	Event       string  `json:"event" csv:"event"`
	Room        string  `json:"room" csv:"room"`
	Player      uint8   `json:"player" csv:"player"`
	Seq         uint32  `json:"seq" csv:"seq"`
	ValueA      float64 `json:"value_a" csv:"value_a"`
	ValueB      float64 `json:"value_b" csv:"value_b"`
}

// Event names used in Record rows.
const (
	EventSnapshot      = "snapshot"       // client: value_a latency_ms, value_b gap
	EventRTT           = "rtt"            // client: value_a rtt_ms, value_b jitter_ms
	EventInputSent     = "input_sent"     // client
	EventJoin          = "join"           // client: value_a result code
	EventState         = "state"          // client: value_a engine state code
	EventBroadcast     = "broadcast"      // server: value_a bytes
	EventInputApplied  = "input_applied"  // server: value_a cell
	EventInputRejected = "input_rejected" // server: value_a cell, value_b reason code
	EventTransition    = "transition"     // server: value_a phase code
	EventDisconnect    = "disconnect"     // server
)

var header = []string{"ts_ms", "event", "room", "player", "seq", "value_a", "value_b"}

// Recorder appends Records to a CSV file. A nil *Recorder is valid and drops
// everything, so callers never branch on whether metrics are enabled. Rows
// are flushed as they are written: the harness reads the file while the
// process is still running.
type Recorder struct {
	mu   sync.Mutex
	file *os.File
	w    *csv.Writer
}

// NewRecorder opens (or creates) the CSV at path, writing the header only
// when the file is fresh.
func NewRecorder(path string) (*Recorder, error) {
	if path == "" {
		return nil, nil
	}
	info, statErr := os.Stat(path)
	fresh := statErr != nil || info.Size() == 0

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open metrics file: %w", err)
	}
	r := &Recorder{file: f, w: csv.NewWriter(f)}
	if fresh {
		if err := r.w.Write(header); err != nil {
			f.Close()
			return nil, fmt.Errorf("write metrics header: %w", err)
		}
		r.w.Flush()
	}
	return r, nil
}

// Record appends one row.
func (r *Recorder) Record(rec Record) {
	if r == nil {
		return
	}
	row := []string{
		strconv.FormatInt(rec.TimestampMS, 10),
		rec.Event,
		rec.Room,
		strconv.FormatUint(uint64(rec.Player), 10),
		strconv.FormatUint(uint64(rec.Seq), 10),
		strconv.FormatFloat(rec.ValueA, 'f', -1, 64),
		strconv.FormatFloat(rec.ValueB, 'f', -1, 64),
	}
	r.mu.Lock()
	_ = r.w.Write(row)
	r.w.Flush()
	r.mu.Unlock()
}

// Close flushes and releases the file.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.w.Flush()
	return r.file.Close()
}
