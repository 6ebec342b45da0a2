package firmware

import "github.com/pcds-mps/central-node/pkg/model"

// setBits writes the low numBits of value into slice starting at
// bitOffset, LSB-first. Writes past slice's length are silently
// dropped (a card's configured channel count never exceeds its slice's
// budget once link-up validation has run).
func setBits(slice []byte, bitOffset, numBits int, value uint32) {
	for i := 0; i < numBits; i++ {
		if (value>>uint(i))&1 == 0 {
			continue
		}
		bit := bitOffset + i
		byteIdx := bit / 8
		if byteIdx >= len(slice) {
			return
		}
		slice[byteIdx] |= 1 << uint(bit%8)
	}
}

// buildCardConfigSlice packs one card's FAST-evaluation fields into its
// firmware configuration slice, per spec §6's digital/analog layouts.
func buildCardConfigSlice(card *model.ApplicationCard) []byte {
	slice := make([]byte, model.ConfigSliceBits/8)

	if card.IsDigital() {
		for _, ch := range card.Digital {
			base := ch.Number * model.DigitalConfigBitsPerChannel
			setBits(slice, base, model.PowerClassBits, uint32(ch.FastPowerClass))
			setBits(slice, base+model.PowerClassBits, model.DestinationMaskBits, uint32(ch.FastDestinationMask))
			setBits(slice, base+model.PowerClassBits+model.DestinationMaskBits, 1, uint32(ch.FastExpectedState))
		}
		return slice
	}

	const slotsPerChannel = model.AnalogMaxIntegratorsPerChannel * model.AnalogThresholdsPerIntegrator
	for _, ch := range card.Analog {
		for integrator := 0; integrator < model.AnalogMaxIntegratorsPerChannel; integrator++ {
			for threshold := 0; threshold < model.AnalogThresholdsPerIntegrator; threshold++ {
				slot := ch.Number*slotsPerChannel + integrator*model.AnalogThresholdsPerIntegrator + threshold
				powerClass := ch.FastPowerClass[integrator*model.AnalogThresholdsPerIntegrator+threshold]
				setBits(slice, slot*model.PowerClassBits, model.PowerClassBits, uint32(powerClass))
			}
			destSlot := ch.Number*model.AnalogMaxIntegratorsPerChannel + integrator
			base := model.AnalogConfigPowerClassWords*model.PowerClassBits + destSlot*model.DestinationMaskBits
			setBits(slice, base, model.DestinationMaskBits, uint32(ch.FastDestinationMask[integrator]))
		}
	}
	return slice
}

// buildTimeoutMask sets one bit per card, in card-number order, marking
// which cards have inputs wired and so must be timeout-monitored.
func buildTimeoutMask(db *model.Database) []byte {
	mask := make([]byte, model.NumApplications/8)
	for _, card := range db.CardsOrdered {
		if !card.HasInputs {
			continue
		}
		mask[card.Number/8] |= 1 << uint(card.Number%8)
	}
	return mask
}

// buildBeamTiming packs every BeamClass's timing parameters into the
// three fixed-length registers spec §6 names.
func buildBeamTiming(db *model.Database) (intTime, minPeriod, intCharge [model.NumBeamClasses]uint32) {
	for _, bc := range db.BeamClasses {
		if bc.Number < 0 || bc.Number >= model.NumBeamClasses {
			continue
		}
		intTime[bc.Number] = bc.IntegrationWindow
		minPeriod[bc.Number] = bc.MinPeriod
		intCharge[bc.Number] = bc.TotalCharge
	}
	return intTime, minPeriod, intCharge
}

// ReloadConfig writes every card's configuration slice, the timeout
// mask, and the beam-timing registers, then switches the hardware to
// the new configuration atomically (spec §4.5's "on configuration
// change" sequence).
func (p *Plane) ReloadConfig(db *model.Database) error {
	for _, card := range db.CardsOrdered {
		slice := buildCardConfigSlice(card)
		if err := p.transport.WriteConfig(card.Number, slice); err != nil {
			return err
		}
	}
	if err := p.transport.WriteTimeoutMask(buildTimeoutMask(db)); err != nil {
		return err
	}
	intTime, minPeriod, intCharge := buildBeamTiming(db)
	if err := p.transport.WriteBeamTiming(intTime, minPeriod, intCharge); err != nil {
		return err
	}
	return p.transport.SwitchConfig()
}
