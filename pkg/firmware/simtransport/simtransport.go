// Package simtransport is an in-memory fake of pkg/firmware.Transport,
// for tests and cmd/mps-central's "-transport=sim" mode. Grounded on
// the teacher's pkg/can/virtual, the in-memory Bus the abstract can.Bus
// interface ships alongside for tests.
package simtransport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pcds-mps/central-node/pkg/firmware"
	"github.com/pcds-mps/central-node/pkg/heartbeat"
)

var _ firmware.Transport = (*Transport)(nil)
var _ heartbeat.Transport = (*Transport)(nil)

// Transport is a fully in-process fake: update packets and power-class
// -change records are fed by test code via Push*, and every write
// method just records its last argument. It also satisfies
// heartbeat.Transport, since in the real system both sit on the same
// register file.
type Transport struct {
	mu sync.Mutex

	updates      [][]byte
	pcChanges    [][]byte
	cardOnline   map[int]bool
	cardActive   map[int]bool

	LastConfig       map[int][]byte
	LastTimeoutMask  []byte
	LastBeamTiming   [3][16]uint32
	LastMitigation   [2]uint32
	SwitchCount      int

	WatchdogTimeoutUs uint32
	WatchdogErrorSet  bool
	BeatCount         int
	MaxObservedPeriodValue time.Duration
}

// New returns an empty Transport; every card reads online=true,
// active=true until overridden via SetCardStatus.
func New() *Transport {
	return &Transport{
		cardOnline: make(map[int]bool),
		cardActive: make(map[int]bool),
		LastConfig: make(map[int][]byte),
	}
}

// PushUpdate queues one update packet to be returned by the next
// ReadUpdate call.
func (t *Transport) PushUpdate(buf []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.updates = append(t.updates, append([]byte(nil), buf...))
}

// PushPowerClassChange queues one telemetry record.
func (t *Transport) PushPowerClassChange(buf []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pcChanges = append(t.pcChanges, append([]byte(nil), buf...))
}

// SetCardStatus overrides a card's online/active bits.
func (t *Transport) SetCardStatus(card int, online, active bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cardOnline[card] = online
	t.cardActive[card] = active
}

var errNoData = errors.New("simtransport: no data queued")

func (t *Transport) ReadUpdate(ctx context.Context, buf []byte) (int, error) {
	t.mu.Lock()
	if len(t.updates) > 0 {
		n := copy(buf, t.updates[0])
		t.updates = t.updates[1:]
		t.mu.Unlock()
		return n, nil
	}
	t.mu.Unlock()

	<-ctx.Done()
	return 0, ctx.Err()
}

func (t *Transport) ReadPowerClassChange(ctx context.Context, buf []byte) (int, error) {
	t.mu.Lock()
	if len(t.pcChanges) > 0 {
		n := copy(buf, t.pcChanges[0])
		t.pcChanges = t.pcChanges[1:]
		t.mu.Unlock()
		return n, nil
	}
	t.mu.Unlock()
	return 0, errNoData
}

func (t *Transport) WriteConfig(card int, slice []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.LastConfig[card] = append([]byte(nil), slice...)
	return nil
}

func (t *Transport) WriteTimeoutMask(mask []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.LastTimeoutMask = append([]byte(nil), mask...)
	return nil
}

func (t *Transport) WriteBeamTiming(intTime, minPeriod, intCharge [16]uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.LastBeamTiming = [3][16]uint32{intTime, minPeriod, intCharge}
	return nil
}

func (t *Transport) SwitchConfig() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.SwitchCount++
	return nil
}

func (t *Transport) WriteMitigation(buf [2]uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.LastMitigation = buf
	return nil
}

func (t *Transport) AppTimeoutStatus(card int) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	// The status bit reports an application timeout, i.e. not online.
	online, ok := t.cardOnline[card]
	if !ok {
		return false, nil
	}
	return !online, nil
}

func (t *Transport) AppTimeoutEnable(card int) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	active, ok := t.cardActive[card]
	if !ok {
		return true, nil
	}
	return active, nil
}

// SetWatchdogTimeout, WatchdogError, SendBeat and MaxObservedPeriod
// satisfy heartbeat.Transport.

func (t *Transport) SetWatchdogTimeout(us uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.WatchdogTimeoutUs = us
	return nil
}

// SetWatchdogError lets tests simulate a firmware-side watchdog error
// latch; the next WatchdogError call reports and clears it.
func (t *Transport) SetWatchdogError(set bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.WatchdogErrorSet = set
}

func (t *Transport) WatchdogError() (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	werr := t.WatchdogErrorSet
	t.WatchdogErrorSet = false
	return werr, nil
}

func (t *Transport) SendBeat() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.BeatCount++
	return nil
}

func (t *Transport) MaxObservedPeriod() (time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.MaxObservedPeriodValue, nil
}
