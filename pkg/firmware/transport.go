// Package firmware wraps the hardware interlock fabric behind a
// Transport interface (the §9 "FirmwareIO trait"), and runs four of the
// five long-running goroutines (the fifth, the heartbeat, lives in
// pkg/heartbeat) that move update/mitigation/power-class-change data
// between it and the evaluation engine.
package firmware

import "context"

// Transport is the thin boundary between this process and the
// interlock fabric. A register/stream-backed production implementation
// is an external collaborator (CPSW, per spec §1); this module ships
// one concrete in-memory Transport, pkg/firmware/simtransport, for
// tests and `cmd/mps-central -transport=sim`, grounded the same way the
// teacher ships pkg/can/virtual alongside the abstract can.Bus
// interface.
type Transport interface {
	// ReadUpdate blocks for one firmware update packet (header + every
	// card's was-low/was-high slice) up to ctx's deadline, copying it
	// into buf and returning the number of bytes written.
	ReadUpdate(ctx context.Context, buf []byte) (int, error)

	// ReadPowerClassChange blocks for one power-class-change telemetry
	// record, copying it into buf.
	ReadPowerClassChange(ctx context.Context, buf []byte) (int, error)

	// WriteConfig writes one card's configuration slice.
	WriteConfig(card int, slice []byte) error

	// WriteTimeoutMask writes the per-card application-timeout-enable
	// mask.
	WriteTimeoutMask(mask []byte) error

	// WriteBeamTiming writes the three per-beam-class timing registers.
	WriteBeamTiming(intTime, minPeriod, intCharge [16]uint32) error

	// SwitchConfig atomically flips the hardware from the old
	// configuration buffer to the one just written.
	SwitchConfig() error

	// WriteMitigation writes one cycle's software mitigation buffer.
	WriteMitigation(buf [2]uint32) error

	// AppTimeoutStatus reports whether card's application-timeout
	// status bit is set (used as decode's "online" input, inverted).
	AppTimeoutStatus(card int) (bool, error)

	// AppTimeoutEnable reports whether card's application-timeout-enable
	// bit is set ("active").
	AppTimeoutEnable(card int) (bool, error)
}
