package telemetry

import "sync/atomic"

// Counters aggregates process-wide protocol counters. Every field is atomic
// so the hot paths never take a lock to bump one.
type Counters struct {
	packetsSent    atomic.Uint64
	packetsRecv    atomic.Uint64
	bytesSent      atomic.Uint64
	bytesRecv      atomic.Uint64
	snapshotsSent  atomic.Uint64
	inputsApplied  atomic.Uint64
	inputsRejected atomic.Uint64
	decodeErrors   atomic.Uint64
	disconnects    atomic.Uint64
	sendErrors     atomic.Uint64
}

// Snapshot is the JSON view served by the diagnostics endpoint.
type Snapshot struct {
	PacketsSent    uint64 `json:"packetsSent"`
	PacketsRecv    uint64 `json:"packetsRecv"`
	BytesSent      uint64 `json:"bytesSent"`
	BytesRecv      uint64 `json:"bytesRecv"`
	SnapshotsSent  uint64 `json:"snapshotsSent"`
	InputsApplied  uint64 `json:"inputsApplied"`
	InputsRejected uint64 `json:"inputsRejected"`
	DecodeErrors   uint64 `json:"decodeErrors"`
	Disconnects    uint64 `json:"disconnects"`
	SendErrors     uint64 `json:"sendErrors"`
}

func (c *Counters) RecordSend(bytes int) {
	if c == nil {
		return
	}
	c.packetsSent.Add(1)
	if bytes > 0 {
		c.bytesSent.Add(uint64(bytes))
	}
}

func (c *Counters) RecordRecv(bytes int) {
	if c == nil {
		return
	}
	c.packetsRecv.Add(1)
	if bytes > 0 {
		c.bytesRecv.Add(uint64(bytes))
	}
}

func (c *Counters) RecordSnapshotSent() {
	if c != nil {
		c.snapshotsSent.Add(1)
	}
}

func (c *Counters) RecordInputApplied() {
	if c != nil {
		c.inputsApplied.Add(1)
	}
}

func (c *Counters) RecordInputRejected() {
	if c != nil {
		c.inputsRejected.Add(1)
	}
}

func (c *Counters) RecordDecodeError() {
	if c != nil {
		c.decodeErrors.Add(1)
	}
}

func (c *Counters) RecordDisconnect() {
	if c != nil {
		c.disconnects.Add(1)
	}
}

func (c *Counters) RecordSendError() {
	if c != nil {
		c.sendErrors.Add(1)
	}
}

// Read copies the counters into a snapshot.
func (c *Counters) Read() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	return Snapshot{
		PacketsSent:    c.packetsSent.Load(),
		PacketsRecv:    c.packetsRecv.Load(),
		BytesSent:      c.bytesSent.Load(),
		BytesRecv:      c.bytesRecv.Load(),
		SnapshotsSent:  c.snapshotsSent.Load(),
		InputsApplied:  c.inputsApplied.Load(),
		InputsRejected: c.inputsRejected.Load(),
		DecodeErrors:   c.decodeErrors.Load(),
		Disconnects:    c.disconnects.Load(),
		SendErrors:     c.sendErrors.Load(),
	}
}
