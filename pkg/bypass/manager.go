package bypass

import (
	"container/heap"
	"fmt"
	"sort"

	"github.com/pcds-mps/central-node/pkg/model"
)

// CreateBypassMap allocates one bypass record per digital FaultInput
// channel and, per AnalogChannel, one per integrator (spec §4.2). It
// must run exactly once, on the first configuration load — the bypass
// map outlives any single *model.Database and is never recreated on
// reload.
func (m *Manager) CreateBypassMap(db *model.Database) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, ch := range db.Digital {
		rec := &Record{
			ID: m.allocID(), DeviceID: ch.ID, Kind: KindDigital,
			State: &model.BypassState{Status: model.BypassExpired},
		}
		m.byID[rec.ID] = rec
		m.digitalByDevice[ch.ID] = rec
	}
	for _, ch := range db.Analog {
		n := ch.IntegratorCount
		if n <= 0 || n > model.AnalogMaxIntegratorsPerChannel {
			n = model.AnalogMaxIntegratorsPerChannel
		}
		byIndex := make(map[int]*Record, n)
		for i := 0; i < n; i++ {
			rec := &Record{
				ID: m.allocID(), DeviceID: ch.ID, Kind: KindAnalog, Index: i,
				State: &model.BypassState{Status: model.BypassExpired},
			}
			m.byID[rec.ID] = rec
			byIndex[i] = rec
		}
		m.analogByDevice[ch.ID] = byIndex
	}
}

// AssignBypass walks the bypass map and points each channel (or
// integrator) at its bypass record, called on every load including the
// first. It fails if any channel lacks a bypass record or any record's
// device id does not resolve.
func (m *Manager) AssignBypass(db *model.Database) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	assignedDigital := make(map[model.ID]bool, len(db.Digital))
	assignedAnalog := make(map[model.ID]int, len(db.Analog))

	for _, rec := range m.byID {
		switch rec.Kind {
		case KindDigital:
			ch, ok := db.Digital[rec.DeviceID]
			if !ok {
				return fmt.Errorf("bypass record %d: unresolved digital channel id %d", rec.ID, rec.DeviceID)
			}
			rec.Digital = ch
			rec.Analog = nil
			ch.Bypass = rec.State
			assignedDigital[ch.ID] = true
		case KindAnalog:
			ch, ok := db.Analog[rec.DeviceID]
			if !ok {
				return fmt.Errorf("bypass record %d: unresolved analog channel id %d", rec.ID, rec.DeviceID)
			}
			if rec.Index < 0 || rec.Index >= model.AnalogMaxIntegratorsPerChannel {
				return fmt.Errorf("bypass record %d: integrator index %d out of range", rec.ID, rec.Index)
			}
			rec.Analog = ch
			rec.Digital = nil
			ch.Bypass[rec.Index] = rec.State
			assignedAnalog[ch.ID]++
		}
	}

	for id := range db.Digital {
		if !assignedDigital[id] {
			return fmt.Errorf("digital channel %d: no bypass record assigned", id)
		}
	}
	for id, ch := range db.Analog {
		want := ch.IntegratorCount
		if want <= 0 || want > model.AnalogMaxIntegratorsPerChannel {
			want = model.AnalogMaxIntegratorsPerChannel
		}
		if assignedAnalog[id] != want {
			return fmt.Errorf("analog channel %d: expected %d bypass records, got %d", id, want, assignedAnalog[id])
		}
	}
	return nil
}

// SetBypass sets or cancels a digital channel's bypass. bypassUntil==0
// cancels immediately; testMode substitutes now := bypassUntil-1 so
// tests can exercise the extend/shorten laws deterministically.
func (m *Manager) SetBypass(deviceID model.ID, value uint32, bypassUntil int64, testMode bool) error {
	rec, err := m.findDigital(deviceID)
	if err != nil {
		return err
	}
	m.applyBypass(rec, value, bypassUntil, testMode, func() {})
	return nil
}

// SetThresholdBypass sets or cancels one integrator's bypass on an
// analog channel.
func (m *Manager) SetThresholdBypass(deviceID model.ID, intIndex int, value uint32, bypassUntil int64, testMode bool) error {
	rec, err := m.findAnalog(deviceID, intIndex)
	if err != nil {
		return err
	}
	m.applyBypass(rec, value, bypassUntil, testMode, func() {
		if bypassUntil == 0 {
			rec.Analog.BypassMask |= 1 << uint(intIndex)
		} else {
			rec.Analog.BypassMask &^= 1 << uint(intIndex)
		}
	})
	return nil
}

func (m *Manager) findDigital(deviceID model.ID) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.digitalByDevice[deviceID]
	if !ok {
		return nil, fmt.Errorf("no bypass record for digital channel %d", deviceID)
	}
	return rec, nil
}

func (m *Manager) findAnalog(deviceID model.ID, index int) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byIndex, ok := m.analogByDevice[deviceID]
	if !ok {
		return nil, fmt.Errorf("no bypass record for analog channel %d", deviceID)
	}
	rec, ok := byIndex[index]
	if !ok {
		return nil, fmt.Errorf("no bypass record for analog channel %d integrator %d", deviceID, index)
	}
	return rec, nil
}

// applyBypass implements the cancel/insert branches of spec §4.2's
// setBypass, shared by the digital and analog entry points. maskUpdate
// is called with m held, after the state transition, to let the analog
// caller flip its integrator's mask bit.
func (m *Manager) applyBypass(rec *Record, value uint32, bypassUntil int64, testMode bool, maskUpdate func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := realNow()
	if testMode {
		now = bypassUntil - 1
	}

	if bypassUntil != 0 && bypassUntil <= now {
		// Already-past, non-zero expiry: the original's
		// `if (bypassUntil > now)` guard means this is a pure
		// no-op, not a cancel.
		return
	}

	oldStatus := rec.State.Status
	oldValue := rec.State.Value

	if bypassUntil == 0 {
		rec.State.Status = model.BypassExpired
		rec.State.Until = 0
		maskUpdate()
		if rec.State.ConfigUpdate {
			m.RefreshFirmwareConfiguration.Store(true)
		}
		m.emitTransition(rec, oldStatus, model.BypassExpired, oldValue, rec.State.Value)
		return
	}

	heap.Push(&m.queue, &queueEntry{expiresAt: bypassUntil, record: rec})
	rec.State.Until = bypassUntil
	rec.State.Status = model.BypassValid
	rec.State.Value = value
	maskUpdate()
	m.emitTransition(rec, oldStatus, model.BypassValid, oldValue, value)
}

// CheckBypassQueue pops every entry whose expiry has passed as of now,
// accepting or rejecting each at pop time per spec §4.2's "Rationale":
// a popped entry is stale (and a no-op) if the record has since been
// extended past the entry's own timestamp.
func (m *Manager) CheckBypassQueue(now int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for {
		top := m.queue.peekTop()
		if top == nil || top.expiresAt > now {
			return
		}
		entry := heap.Pop(&m.queue).(*queueEntry)
		rec := entry.record

		if rec.State.Until > entry.expiresAt {
			// Stale entry: the bypass was extended after this entry
			// was queued. An out-of-order insertion may have left the
			// record Expired even though it should be Valid again.
			if rec.State.Status == model.BypassExpired {
				rec.State.Status = model.BypassValid
			}
			continue
		}

		oldStatus := rec.State.Status
		rec.State.Status = model.BypassExpired
		restoreMask(rec)
		if rec.State.ConfigUpdate {
			m.RefreshFirmwareConfiguration.Store(true)
		}
		m.emitTransition(rec, oldStatus, model.BypassExpired, rec.State.Value, rec.State.Value)
	}
}

func restoreMask(rec *Record) {
	if rec.Kind == KindAnalog && rec.Analog != nil {
		rec.Analog.BypassMask |= 1 << uint(rec.Index)
	}
}

func (m *Manager) emitTransition(rec *Record, oldStatus, newStatus model.BypassStatus, oldValue, newValue uint32) {
	if m.history == nil || oldStatus == newStatus {
		if m.history != nil && oldValue != newValue {
			m.history.LogBypassValue(uint32(rec.ID), oldValue, newValue)
		}
		return
	}
	m.history.LogBypassState(uint32(rec.ID), uint32(oldStatus), uint32(newStatus))
	if oldValue != newValue {
		m.history.LogBypassValue(uint32(rec.ID), oldValue, newValue)
	}
}

// Snapshot is a point-in-time copy of one bypass record, for status
// reporting (the original's printBypassQueue).
type Snapshot struct {
	ID        model.ID
	DeviceID  model.ID
	Kind      Kind
	Index     int
	Status    model.BypassStatus
	Value     uint32
	Until     int64
}

// PrintBypassQueue returns every currently Valid bypass, sorted by
// expiry, copying state under the lock and formatting without it.
func (m *Manager) PrintBypassQueue() []Snapshot {
	m.mu.Lock()
	out := make([]Snapshot, 0, len(m.byID))
	for _, rec := range m.byID {
		if rec.State.Status != model.BypassValid {
			continue
		}
		out = append(out, Snapshot{
			ID: rec.ID, DeviceID: rec.DeviceID, Kind: rec.Kind, Index: rec.Index,
			Status: rec.State.Status, Value: rec.State.Value, Until: rec.State.Until,
		})
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Until < out[j].Until })
	return out
}
