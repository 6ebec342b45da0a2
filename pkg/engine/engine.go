// Package engine implements the 360 Hz evaluation pipeline of spec
// §4.4: decode, fault evaluation, ignore conditions, the monotone
// beam-class fold, and mitigation emission. Engine owns the single
// *model.Database exclusively; every other goroutine reaches it only by
// sending on bypassUpdates or commands, both drained at the top of
// Cycle (spec §9's message-passing redesign — no field of *model.Database
// is ever written from two goroutines).
package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/pcds-mps/central-node/internal/queue"
	"github.com/pcds-mps/central-node/pkg/bypass"
	"github.com/pcds-mps/central-node/pkg/decode"
	"github.com/pcds-mps/central-node/pkg/history"
	"github.com/pcds-mps/central-node/pkg/model"
)

// updateHeaderBytes is the firmware update buffer's fixed preamble
// (timestamp at offset 8, sequence number at offset 16) preceding the
// per-card slices (spec §6).
const updateHeaderBytes = 16

// Engine runs one Cycle per firmware update packet. It is not safe for
// concurrent use: Cycle must only ever be called from one goroutine.
type Engine struct {
	logger *slog.Logger

	db        *model.Database
	bypass    *bypass.Manager
	history   *history.Emitter
	transport decode.Transport

	bypassUpdates chan bypass.Update
	commands      chan Command

	// mitigation is the outbound queue phase 7 pushes onto; pkg/firmware's
	// mitigationWriter goroutine drains it.
	mitigation *queue.Queue[[2]uint32]

	// reloadRequests receives one non-blocking signal whenever phase 8
	// decides firmware configuration must be reloaded; cmd/mps-central's
	// config-reloader goroutine drains it.
	reloadRequests chan struct{}

	// now defaults to time.Now().Unix but is overridden in tests so the
	// bypass queue's time-dependent laws are deterministic.
	now func() int64
}

// Config bundles Engine's collaborators.
type Config struct {
	Database  *model.Database
	Bypass    *bypass.Manager
	History   *history.Emitter
	Transport decode.Transport

	BypassUpdatesBuffer int
	CommandsBuffer      int
}

// New constructs an Engine over db. Other goroutines feed it through
// the channels returned by BypassUpdates and Commands.
func New(cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BypassUpdatesBuffer <= 0 {
		cfg.BypassUpdatesBuffer = 64
	}
	if cfg.CommandsBuffer <= 0 {
		cfg.CommandsBuffer = 64
	}
	return &Engine{
		logger:         logger.With("service", "engine"),
		db:             cfg.Database,
		bypass:         cfg.Bypass,
		history:        cfg.History,
		transport:      cfg.Transport,
		bypassUpdates:  make(chan bypass.Update, cfg.BypassUpdatesBuffer),
		commands:       make(chan Command, cfg.CommandsBuffer),
		mitigation:     queue.New[[2]uint32](),
		reloadRequests: make(chan struct{}, 1),
		now:            func() int64 { return time.Now().Unix() },
	}
}

// BypassUpdates returns the channel other goroutines send bypass
// change requests on.
func (e *Engine) BypassUpdates() chan<- bypass.Update { return e.bypassUpdates }

// Commands returns the channel other goroutines send operator commands
// on.
func (e *Engine) Commands() chan<- Command { return e.commands }

// Mitigation returns the outbound mitigation-buffer queue.
func (e *Engine) Mitigation() *queue.Queue[[2]uint32] { return e.mitigation }

// ReloadRequests returns the channel signaled whenever a cycle decides
// firmware configuration must be reloaded.
func (e *Engine) ReloadRequests() <-chan struct{} { return e.reloadRequests }

// SetDatabase swaps in a freshly linked-up database, e.g. after a
// configuration reload. Only safe to call between cycles.
func (e *Engine) SetDatabase(db *model.Database) { e.db = db }

// Database returns the database currently owned by the engine. Callers
// outside the engine's goroutine must treat it as read-only.
func (e *Engine) Database() *model.Database { return e.db }

// Cycle runs the eight phases of spec §4.4 against update, the current
// firmware update buffer, in order.
func (e *Engine) Cycle(update []byte) error {
	cyclesTotal.Inc()
	e.drainChannels()
	if e.bypass != nil {
		e.bypass.CheckBypassQueue(e.now())
	}

	e.prepareDestinations()

	reload, err := e.decodeInputs(update)
	if err != nil {
		return err
	}

	e.evaluateFaults()
	e.evaluateIgnoreConditions()
	e.mitigate()
	buf := e.applyOverridesAndEmit()

	e.mitigation.Push(buf)

	if e.bypass != nil && e.bypass.RefreshFirmwareConfiguration.CompareAndSwap(true, false) {
		reload = true
	}
	if reload {
		reloadRequestsTotal.Inc()
		e.requestReload()
	}
	return nil
}

// drainChannels applies every pending bypass update and command before
// the cycle's phases run, per spec §9.
func (e *Engine) drainChannels() {
	for {
		select {
		case u := <-e.bypassUpdates:
			if e.bypass == nil {
				continue
			}
			if err := e.bypass.Apply(u); err != nil {
				e.logger.Warn("bypass update rejected", "device", u.DeviceID, "error", err)
			}
		case cmd := <-e.commands:
			e.applyCommand(cmd)
		default:
			return
		}
	}
}

func (e *Engine) applyCommand(cmd Command) {
	switch cmd.Kind {
	case CmdSetSoftPermit:
		if d, ok := e.db.Destinations[cmd.DestinationID]; ok {
			d.SoftPermit = e.db.BeamClasses[cmd.BeamClassID]
		}
	case CmdSetMaxPermit:
		if d, ok := e.db.Destinations[cmd.DestinationID]; ok {
			d.MaxPermit = e.db.BeamClasses[cmd.BeamClassID]
		}
	case CmdSetForcePermit:
		if d, ok := e.db.Destinations[cmd.DestinationID]; ok {
			d.ForceBeamClass = e.db.BeamClasses[cmd.BeamClassID]
		}
	case CmdClearForcePermit:
		if d, ok := e.db.Destinations[cmd.DestinationID]; ok {
			d.ForceBeamClass = nil
		}
	case CmdSetCardBypassed:
		if c, ok := e.db.Cards[cmd.CardID]; ok {
			c.Bypassed = cmd.Bool
		}
	case CmdSetCardIgnored:
		if c, ok := e.db.Cards[cmd.CardID]; ok {
			c.Ignored = cmd.Bool
		}
	}
}

// requestReload signals reloadRequests without blocking; a request
// already pending is sufficient, a second signal would be redundant.
func (e *Engine) requestReload() {
	select {
	case e.reloadRequests <- struct{}{}:
	default:
	}
}

// prepareDestinations is phase 1. The previous cycle's allowed class is
// preserved in PreviousAllowedBeamClass before AllowedBeamClass is
// reset, so phase 6 can still detect the transition for history.
func (e *Engine) prepareDestinations() {
	for _, d := range e.db.DestinationsOrdered {
		d.TentativeBeamClass = e.db.HighestBeamClass
		d.PreviousAllowedBeamClass = d.AllowedBeamClass
		d.AllowedBeamClass = e.db.LowestBeamClass
	}
}

// decodeInputs is phase 2: run the per-card input update over this
// cycle's slice of update, returning whether any card's active flag
// flipped.
func (e *Engine) decodeInputs(update []byte) (reload bool, err error) {
	for _, card := range e.db.CardsOrdered {
		offset := updateHeaderBytes + card.UpdateSliceBits/8
		end := offset + model.UpdateSliceBits/8
		if end > len(update) {
			return reload, fmt.Errorf("engine: update buffer too short for card %d (need %d bytes, have %d)", card.ID, end, len(update))
		}
		changed, err := decode.UpdateCard(card, update[offset:end], e.transport, e.history)
		if err != nil {
			return reload, fmt.Errorf("engine: decode card %d: %w", card.ID, err)
		}
		if changed {
			reload = true
		}
	}
	return reload, nil
}

// evaluateFaults is phase 3.
func (e *Engine) evaluateFaults() {
	for _, f := range e.db.Faults {
		var faultValue uint32
		for _, fi := range f.OrderedInputs() {
			faultValue |= fi.EffectiveValue() << uint(fi.BitPosition)
		}
		f.Value = faultValue

		anyMatched := false
		for _, st := range f.States {
			if st.DefaultState {
				continue
			}
			oldFaulted := st.Faulted
			masked := faultValue & st.Mask
			st.Faulted = st.Value == masked
			if st.Faulted {
				anyMatched = true
			}
			e.emitFaultStateTransition(st, oldFaulted)
		}

		if f.DefaultState != nil {
			oldFaulted := f.DefaultState.Faulted
			f.DefaultState.Faulted = !anyMatched
			e.emitFaultStateTransition(f.DefaultState, oldFaulted)
		}

		oldFaulted := f.Faulted
		f.Faulted = anyMatched || (f.DefaultState != nil && f.DefaultState.Faulted)
		if oldFaulted != f.Faulted {
			faultTransitionsTotal.WithLabelValues(f.Name).Inc()
			if e.history != nil {
				e.history.LogFaultState(uint32(f.ID), oldFaulted, f.Faulted)
			}
		}
	}
}

func (e *Engine) emitFaultStateTransition(st *model.FaultState, oldFaulted bool) {
	if e.history != nil && oldFaulted != st.Faulted {
		e.history.LogFaultState(uint32(st.ID), oldFaulted, st.Faulted)
	}
}

// evaluateIgnoreConditions is phase 4.
func (e *Engine) evaluateIgnoreConditions() {
	for _, ic := range e.db.Conditions {
		ic.State = ic.ConditionValue() == ic.Mask

		for _, faultID := range ic.Faults.ToSlice() {
			f, ok := e.db.Faults[faultID]
			if !ok {
				continue
			}
			for _, st := range f.States {
				st.Ignored = ic.State
			}
		}

		for _, fiID := range ic.FaultInputs.ToSlice() {
			fi, ok := e.db.FaultInputs[fiID]
			if !ok || fi.ChannelKind != model.ChannelAnalog || fi.AnalogChannel == nil {
				continue
			}
			fi.AnalogChannel.IgnoredIntegrator[fi.AnalogIntegrator] = ic.State
		}
	}
}

// mitigate is phase 5: fold every faulted, un-ignored FaultState's
// AllowedClasses into its destinations' tentative beam class.
func (e *Engine) mitigate() {
	for _, f := range e.db.Faults {
		for _, st := range f.States {
			if !st.Faulted || st.Ignored {
				continue
			}
			for _, ac := range st.AllowedClasses {
				d, b := ac.Destination, ac.Class
				if d == nil || b == nil {
					continue
				}
				if d.TentativeBeamClass.Number > b.Number {
					d.TentativeBeamClass = b
				}
			}
		}
	}
}

// applyOverridesAndEmit is phase 6: the override lattice, followed by
// nibble replication into the two mitigation words.
func (e *Engine) applyOverridesAndEmit() [2]uint32 {
	var buf0, buf1 uint32

	for _, d := range e.db.DestinationsOrdered {
		tentative := d.TentativeBeamClass
		if d.ForceBeamClass != nil {
			tentative = minClass(tentative, d.ForceBeamClass)
		}
		if d.MaxPermit != nil && d.Name != "LASER" {
			tentative = minClass(tentative, d.MaxPermit)
		}
		allowed := tentative
		if d.SoftPermit != nil {
			allowed = minClass(tentative, d.SoftPermit)
		}

		old := d.PreviousAllowedBeamClass
		d.AllowedBeamClass = allowed
		destinationAllowedClass.WithLabelValues(d.Name).Set(float64(allowed.Number))
		if e.history != nil && old != nil && old.Number != allowed.Number {
			e.history.LogMitigation(uint32(d.ID), uint32(old.Number), uint32(allowed.Number))
		}

		nibble := uint32(allowed.Number) & 0xF
		var replicated uint32
		for i := 0; i < 8; i++ {
			replicated |= nibble << uint(4*i)
		}
		buf0 |= replicated & d.Buffer0DestinationMask
		buf1 |= replicated & d.Buffer1DestinationMask
	}

	return [2]uint32{buf0, buf1}
}

// minClass returns whichever of a, b is more restrictive (smaller
// Number); either may be nil, meaning "no override".
func minClass(a, b *model.BeamClass) *model.BeamClass {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if b.Number < a.Number {
		return b
	}
	return a
}
