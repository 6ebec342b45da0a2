// Package bypass implements the expiring per-input override manager of
// spec §4.2: a priority-queue-driven expiration system with at-most-one
// active bypass per input and deferred firmware reconfiguration on
// expiry.
package bypass

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pcds-mps/central-node/pkg/history"
	"github.com/pcds-mps/central-node/pkg/model"
)

// Kind distinguishes a digital bypass (whole channel) from an analog
// one (single integrator of a channel).
type Kind uint8

const (
	KindDigital Kind = iota
	KindAnalog
)

// Record is one InputBypass entry (spec §3). Channels/integrators hold
// a pointer to their record's embedded *model.BypassState; Manager
// holds the Record itself for the fields the engine never needs
// (device identity, analog index, the config-update flag).
type Record struct {
	ID       model.ID
	DeviceID model.ID
	Kind     Kind
	Index    int // integrator, only meaningful for KindAnalog

	State *model.BypassState

	// Digital/Analog are populated by AssignBypass so SetBypass can
	// reach the channel's live mask bits without a second lookup.
	Digital *model.DigitalChannel
	Analog  *model.AnalogChannel
}

// Manager owns every InputBypass record, the expiration queue, and the
// deferred-reconfiguration flag the engine polls once per cycle.
type Manager struct {
	logger  *slog.Logger
	history *history.Emitter

	mu     sync.Mutex
	byID   map[model.ID]*Record
	queue  bypassQueue
	nextID uint32

	// digitalByDevice/analogByDevice index byID's records by the
	// channel they bypass, for O(1) SetBypass/SetThresholdBypass
	// lookups instead of a linear scan over byID.
	digitalByDevice map[model.ID]*Record
	analogByDevice  map[model.ID]map[int]*Record

	// RefreshFirmwareConfiguration is read by the engine without
	// taking mu; only CAS-cleared by the engine after it acts on it.
	RefreshFirmwareConfiguration atomic.Bool
}

// New constructs an empty Manager. CreateBypassMap must be called once
// after the first configuration load before any SetBypass call.
func New(h *history.Emitter, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:          logger.With("service", "bypass"),
		history:         h,
		byID:            make(map[model.ID]*Record),
		digitalByDevice: make(map[model.ID]*Record),
		analogByDevice:  make(map[model.ID]map[int]*Record),
	}
}

func (m *Manager) allocID() model.ID {
	m.nextID++
	return model.ID(m.nextID)
}
