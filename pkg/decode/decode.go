// Package decode implements the per-cycle input update of spec §4.3:
// decoding was-low/was-high bits from a firmware update slice into
// channel values, with latching and auto-reset.
package decode

import (
	"math/bits"

	"github.com/pcds-mps/central-node/pkg/history"
	"github.com/pcds-mps/central-node/pkg/model"
)

// Transport is the minimal per-card status surface the preamble needs;
// pkg/firmware.Transport satisfies it.
type Transport interface {
	AppTimeoutStatus(card int) (bool, error)
	AppTimeoutEnable(card int) (bool, error)
}

// faultValue is substituted for a channel's live value whenever the
// firmware tick reports neither-low-nor-high or both (spec §4.3's
// decode table): no good reading arrived within the 2.7 ms window, so
// the channel is treated as faulted.
const faultValue uint32 = 1

// UpdateCard runs the per-card preamble and then decodes every one of
// its channels from slice, the card's region of the firmware update
// buffer. It returns true if the card's active flag flipped this
// cycle (the engine must request a firmware config reload when so).
func UpdateCard(card *model.ApplicationCard, slice []byte, fw Transport, h *history.Emitter) (activeChanged bool, err error) {
	online, err := fw.AppTimeoutStatus(card.Number)
	if err != nil {
		return false, err
	}
	active, err := fw.AppTimeoutEnable(card.Number)
	if err != nil {
		return false, err
	}

	// card.Bypassed/card.Ignored are not derived here: they are
	// human-/mode-initiated flags toggled by engine commands, not a
	// function of this cycle's firmware read (spec §4.3).
	wasActive := card.Active
	card.Online = !online
	card.Active = active

	if card.IsDigital() {
		decodeDigitalCard(card, slice, h)
	} else {
		decodeAnalogCard(card, slice, h)
	}

	return wasActive != card.Active, nil
}

// decodeDigitalCard reads two bits per channel (was-low at bit 2*n,
// was-high at bit 2*n+1) from slice's leading 128 bits.
func decodeDigitalCard(card *model.ApplicationCard, slice []byte, h *history.Emitter) {
	for _, ch := range card.Digital {
		wasLow := bitAt(slice, 2*ch.Number)
		wasHigh := bitAt(slice, 2*ch.Number+1)

		ch.PreviousValue = ch.Value
		ch.Value = decodeBit(wasLow, wasHigh, &ch.InvalidValueCount)

		if ch.AutoReset {
			ch.LatchedValue = ch.Value
		} else if ch.Value != 0 {
			ch.LatchedValue = 1
		}

		if h != nil && ch.Value != ch.PreviousValue {
			h.LogDeviceInput(uint32(ch.ID), ch.PreviousValue, ch.Value)
		}
	}
}

// decodeAnalogCard reads 2*thresholds*integrators bits per channel,
// integrator-major then threshold-minor, starting at bit 0 of slice with
// channel n's bits following channel n-1's (analog cards never share a
// card with digital channels, so each card's slice is entirely one layout).
func decodeAnalogCard(card *model.ApplicationCard, slice []byte, h *history.Emitter) {
	const thresholds = model.AnalogThresholdsPerIntegrator
	for _, ch := range card.Analog {
		ch.PreviousValue = ch.Value
		var newValue uint32
		var crossed uint32

		for integrator := 0; integrator < model.AnalogMaxIntegratorsPerChannel; integrator++ {
			base := (ch.Number*model.AnalogMaxIntegratorsPerChannel + integrator) * thresholds * 2
			for threshold := 0; threshold < thresholds; threshold++ {
				wasLow := bitAt(slice, base+2*threshold)
				wasHigh := bitAt(slice, base+2*threshold+1)
				var invalid uint64
				bit := decodeBit(wasLow, wasHigh, &invalid)
				ch.InvalidValueCount += invalid
				if bit != 0 {
					bitIndex := integrator*thresholds + threshold
					newValue |= 1 << uint(bitIndex)
					crossed |= 1 << uint(bitIndex)
				}
			}
		}
		ch.Value = newValue

		// Intended form of the original's latch expression (spec §9):
		// OR the new crossings into the latch, parenthesized so the
		// comparison is never mistaken for an operator-precedence
		// accident. Unlike digital channels, analog latching ignores
		// auto_reset entirely — it only ever accumulates.
		if (crossed | ch.LatchedValue) != ch.LatchedValue {
			ch.LatchedValue |= crossed
		}

		if h != nil && ch.Value != ch.PreviousValue {
			integrator := bits.TrailingZeros32(ch.Value^ch.PreviousValue) / thresholds
			h.LogAnalogDevice(uint32(ch.ID), ch.PreviousValue, ch.Value, uint32(integrator))
		}
	}
}

// decodeBit applies the was-low/was-high truth table of spec §4.3.
func decodeBit(wasLow, wasHigh bool, invalidCount *uint64) uint32 {
	switch {
	case !wasLow && !wasHigh:
		*invalidCount++
		return faultValue
	case wasLow && wasHigh:
		return faultValue
	case wasLow:
		return 0
	default: // wasHigh only
		return 1
	}
}

func bitAt(slice []byte, bit int) bool {
	byteIdx := bit / 8
	if byteIdx >= len(slice) {
		return false
	}
	return slice[byteIdx]&(1<<uint(bit%8)) != 0
}
