// Package history emits one UDP datagram per observable state transition
// in the evaluation engine, without ever blocking the evaluation path
// itself (spec §4.7).
package history

import (
	"encoding/binary"
	"log/slog"
	"net"
	"sync"
)

// EventType names the kind of transition a history record describes.
type EventType uint32

const (
	EventFaultState EventType = iota
	EventBypassState
	EventBypassValue
	EventMitigation
	EventDeviceInput
	EventAnalogDevice
)

func (t EventType) String() string {
	switch t {
	case EventFaultState:
		return "FaultState"
	case EventBypassState:
		return "BypassState"
	case EventBypassValue:
		return "BypassValue"
	case EventMitigation:
		return "Mitigation"
	case EventDeviceInput:
		return "DeviceInput"
	case EventAnalogDevice:
		return "AnalogDevice"
	default:
		return "Unknown"
	}
}

// record is the fixed 20-byte wire layout of spec §4.7/§6.
type record struct {
	Type     uint32
	ID       uint32
	OldValue uint32
	NewValue uint32
	Aux      uint32
}

func (r record) marshal() [20]byte {
	var buf [20]byte
	binary.LittleEndian.PutUint32(buf[0:4], r.Type)
	binary.LittleEndian.PutUint32(buf[4:8], r.ID)
	binary.LittleEndian.PutUint32(buf[8:12], r.OldValue)
	binary.LittleEndian.PutUint32(buf[12:16], r.NewValue)
	binary.LittleEndian.PutUint32(buf[16:20], r.Aux)
	return buf
}

// DefaultCollector is the default history collector address.
const DefaultCollector = "lcls-dev3:3356"

// DefaultSoftCap bounds the in-process queue; once full, the
// incoming record is discarded and every already-queued record is
// preserved, matching the original's O_NONBLOCK mqueue: mq_send fails
// immediately on a full queue rather than evicting what is already
// queued (spec §4.7's "the source drops on overflow" names the source
// as what gets dropped, not the backlog).
const DefaultSoftCap = 100

// Emitter drains an in-process queue of history records to a UDP
// collector on a background goroutine.
type Emitter struct {
	logger *slog.Logger
	conn   *net.UDPConn

	mu       sync.Mutex
	queue    []record
	softCap  int
	notEmpty chan struct{}

	done chan struct{}
}

// New dials collector (host:port, UDP) and starts the background
// sender. It never blocks the caller's evaluation path: Log enqueues
// and returns immediately.
func New(collector string, logger *slog.Logger) (*Emitter, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if collector == "" {
		collector = DefaultCollector
	}
	addr, err := net.ResolveUDPAddr("udp", collector)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, err
	}
	e := &Emitter{
		logger:   logger.With("service", "history"),
		conn:     conn,
		softCap:  DefaultSoftCap,
		notEmpty: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go e.run()
	return e, nil
}

// Log enqueues one history record. Never blocks; if the soft cap is
// already full, the incoming record itself is discarded (the already
// -queued records are left alone) and Log returns false.
func (e *Emitter) Log(eventType EventType, id, oldValue, newValue, aux uint32) bool {
	e.mu.Lock()
	if len(e.queue) >= e.softCap {
		e.mu.Unlock()
		e.logger.Warn("history queue overflow, dropping incoming record",
			"dropped_type", eventType, "dropped_id", id, "cap", e.softCap)
		return false
	}
	e.queue = append(e.queue, record{
		Type: uint32(eventType), ID: id, OldValue: oldValue, NewValue: newValue, Aux: aux,
	})
	e.mu.Unlock()

	select {
	case e.notEmpty <- struct{}{}:
	default:
	}
	return true
}

// LogFaultState records a FaultState.faulted transition.
func (e *Emitter) LogFaultState(id uint32, old, new bool) {
	e.Log(EventFaultState, id, boolToUint32(old), boolToUint32(new), 0)
}

// LogBypassState records an InputBypass.status transition.
func (e *Emitter) LogBypassState(id uint32, old, new uint32) {
	e.Log(EventBypassState, id, old, new, 0)
}

// LogBypassValue records an InputBypass.value change.
func (e *Emitter) LogBypassValue(id uint32, old, new uint32) {
	e.Log(EventBypassValue, id, old, new, 0)
}

// LogMitigation records a destination's allowedBeamClass transition.
func (e *Emitter) LogMitigation(destinationID uint32, old, new uint32) {
	e.Log(EventMitigation, destinationID, old, new, 0)
}

// LogDeviceInput records a DigitalChannel.value transition.
func (e *Emitter) LogDeviceInput(channelID uint32, old, new uint32) {
	e.Log(EventDeviceInput, channelID, old, new, 0)
}

// LogAnalogDevice records an AnalogChannel.value transition; aux carries
// the integrator index that changed.
func (e *Emitter) LogAnalogDevice(channelID uint32, old, new, integrator uint32) {
	e.Log(EventAnalogDevice, channelID, old, new, integrator)
}

func boolToUint32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func (e *Emitter) run() {
	for {
		select {
		case <-e.done:
			return
		case <-e.notEmpty:
		}
		for {
			e.mu.Lock()
			if len(e.queue) == 0 {
				e.mu.Unlock()
				break
			}
			rec := e.queue[0]
			e.queue = e.queue[1:]
			e.mu.Unlock()

			buf := rec.marshal()
			if _, err := e.conn.Write(buf[:]); err != nil {
				e.logger.Error("history datagram send failed", "error", err, "type", EventType(rec.Type), "id", rec.ID)
			}
		}
	}
}

// Close stops the background sender and closes the UDP socket.
func (e *Emitter) Close() error {
	close(e.done)
	return e.conn.Close()
}
