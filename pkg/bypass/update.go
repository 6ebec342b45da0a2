package bypass

import "github.com/pcds-mps/central-node/pkg/model"

// Update is an asynchronous bypass change request: an API goroutine
// sends one on the engine's bypassUpdates channel, and the engine's
// single owning goroutine applies it by calling Manager.Apply while
// draining that channel at the top of Cycle (spec §9's message-passing
// redesign — the bypass mutex still serializes it against a concurrent
// CheckBypassQueue, but no goroutine but the engine's ever touches the
// channel/integrator it targets).
type Update struct {
	DeviceID    model.ID
	Kind        Kind
	Index       int // integrator, only meaningful for KindAnalog
	Value       uint32
	BypassUntil int64
}

// Apply dispatches u to SetBypass or SetThresholdBypass depending on
// its Kind.
func (m *Manager) Apply(u Update) error {
	switch u.Kind {
	case KindDigital:
		return m.SetBypass(u.DeviceID, u.Value, u.BypassUntil, false)
	case KindAnalog:
		return m.SetThresholdBypass(u.DeviceID, u.Index, u.Value, u.BypassUntil, false)
	default:
		return nil
	}
}
