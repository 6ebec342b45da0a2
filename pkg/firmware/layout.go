package firmware

import "time"

// Wire layout constants from spec §6.
const (
	// UpdateHeaderBytes is the firmware update buffer's fixed preamble:
	// a 64-bit timestamp at byte offset 8 and a sequence number at byte
	// offset 16.
	UpdateHeaderBytes = 16

	// PCChangeRecordBytes is one power-class-change telemetry record:
	// tag(4) + flags(2) + pad(2) + timestamp(8) + powerClass(8).
	PCChangeRecordBytes = 24

	// PCChangeFlagNotReady is bit 0 of a power-class-change record's
	// flags: "monitor ready" must be zero for the packet to count.
	PCChangeFlagNotReady = 1 << 0
)

const (
	// ReadUpdateTimeout bounds a steady-state update-stream read.
	ReadUpdateTimeout = 3500 * time.Microsecond
	// FirstReadTimeout is used only for the very first read after
	// startup, giving firmware time to produce its first packet.
	FirstReadTimeout = 10 * time.Millisecond
	// PCChangePollInterval is the poll period for the power-class-change
	// stream.
	PCChangePollInterval = 100 * time.Microsecond
)

// Real-time scheduling priorities for the firmware plane's worker
// threads (SCHED_FIFO range 85-87, spec §4.5).
const (
	PriorityPCChangeReader = 85
	PriorityUpdateReader   = 86
	PriorityMitigationWriter = 86
	PriorityUpdateInputs   = 87
)
