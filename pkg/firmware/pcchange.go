package firmware

import "encoding/binary"

// pcChangeRecord is one power-class-change telemetry record (spec
// §6): tag is a monotonically incrementing counter, flags bit 0 is
// "monitor ready" (must be zero for the packet to count), powerClass
// packs 16 4-bit fields, one per destination.
type pcChangeRecord struct {
	Tag        uint32
	Flags      uint16
	Timestamp  uint64
	PowerClass uint64
}

func parsePCChangeRecord(buf []byte) pcChangeRecord {
	return pcChangeRecord{
		Tag:        binary.LittleEndian.Uint32(buf[0:4]),
		Flags:      binary.LittleEndian.Uint16(buf[4:6]),
		Timestamp:  binary.LittleEndian.Uint64(buf[8:16]),
		PowerClass: binary.LittleEndian.Uint64(buf[16:24]),
	}
}

// destinationClass returns the power class reported for destination i
// (0-15) in this record's packed powerClass word.
func (r pcChangeRecord) destinationClass(i int) uint8 {
	return uint8((r.PowerClass >> uint(4*i)) & 0xF)
}
