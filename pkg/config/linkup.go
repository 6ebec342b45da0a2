package config

import (
	"log/slog"
	"math/bits"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/pcds-mps/central-node/pkg/model"
)

// linkUp performs the nine ordered steps of spec §4.1 over a decoded
// rawDocument, producing a fully resolved *model.Database or a
// *LinkError naming every violation found.
func linkUp(doc *rawDocument, logger *slog.Logger) (*model.Database, error) {
	c := &collector{}
	db := model.New()

	// Crates, application types: no cross-references yet.
	for _, rc := range doc.Crates {
		db.Crates[model.ID(rc.ID)] = &model.Crate{
			ID: model.ID(rc.ID), NumSlots: rc.NumSlots,
			Location: rc.Location, Rack: rc.Rack, Elevation: rc.Elevation,
		}
	}
	for _, rt := range doc.ApplicationTypes {
		db.ApplicationTypes[model.ID(rt.ID)] = &model.ApplicationType{
			ID: model.ID(rt.ID), Name: rt.Name,
			NumIntegrators: rt.NumIntegrators,
			AnalogChannelCount: rt.AnalogChannelCount,
			DigitalChannelCount: rt.DigitalChannelCount,
		}
	}

	for _, rc := range doc.ApplicationCards {
		card := &model.ApplicationCard{
			ID: model.ID(rc.ID), Number: rc.Number,
			CrateID: model.ID(rc.CrateID), TypeID: model.ID(rc.TypeID),
		}
		if crate, ok := db.Crates[card.CrateID]; ok {
			card.Crate = crate
			crate.Cards = append(crate.Cards, card)
		} else {
			c.addf("application card %d: unresolved crate id %d", card.ID, card.CrateID)
		}
		if at, ok := db.ApplicationTypes[card.TypeID]; ok {
			card.Type = at
		} else {
			c.addf("application card %d: unresolved application type id %d", card.ID, card.TypeID)
		}
		card.ConfigSliceBits = card.Number * model.ConfigSliceBits
		card.UpdateSliceBits = card.Number * model.UpdateSliceBits
		db.Cards[card.ID] = card
	}

	for _, rd := range doc.DigitalChannels {
		ch := &model.DigitalChannel{
			ID: model.ID(rd.ID), Number: rd.Number, Name: rd.Name,
			CardID: model.ID(rd.CardID), Debounce: rd.Debounce,
			AutoReset: rd.AutoReset, Mode: parseEvaluationMode(rd.Mode),
			Inputs: mapset.NewThreadUnsafeSet[model.ID](),
		}
		if card, ok := db.Cards[ch.CardID]; ok {
			ch.Card = card
			card.Digital = append(card.Digital, ch)
		} else {
			c.addf("digital channel %d: unresolved card id %d", ch.ID, ch.CardID)
		}
		db.Digital[ch.ID] = ch
	}

	for _, ra := range doc.AnalogChannels {
		ch := &model.AnalogChannel{
			ID: model.ID(ra.ID), Number: ra.Number, Name: ra.Name,
			CardID: model.ID(ra.CardID), Offset: ra.Offset, Slope: ra.Slope,
			Units: ra.Units, IntegratorCount: ra.IntegratorCount,
			AutoReset: ra.AutoReset, BypassMask: 0xFFFFFFFF,
			Inputs: mapset.NewThreadUnsafeSet[model.ID](),
		}
		if card, ok := db.Cards[ch.CardID]; ok {
			ch.Card = card
			card.Analog = append(card.Analog, ch)
		} else {
			c.addf("analog channel %d: unresolved card id %d", ch.ID, ch.CardID)
		}
		db.Analog[ch.ID] = ch
	}

	for _, rb := range doc.BeamClasses {
		db.BeamClasses[model.ID(rb.ID)] = &model.BeamClass{
			ID: model.ID(rb.ID), Number: rb.Number, Name: rb.Name,
			IntegrationWindow: rb.IntegrationWindow, MinPeriod: rb.MinPeriod,
			TotalCharge: rb.TotalCharge,
		}
	}
	for _, rd := range doc.BeamDestinations {
		dest := &model.BeamDestination{
			ID: model.ID(rd.ID), Name: rd.Name,
			DestinationMask: rd.DestinationMask, DisplayOrder: rd.DisplayOrder,
			Buffer0DestinationMask: rd.Buffer0DestinationMask,
			Buffer1DestinationMask: rd.Buffer1DestinationMask,
		}
		db.Destinations[dest.ID] = dest
	}
	computeBeamClassBounds(db)

	for _, rf := range doc.Faults {
		db.Faults[model.ID(rf.ID)] = &model.Fault{
			ID: model.ID(rf.ID), Name: rf.Name, Description: rf.Description,
			Inputs: mapset.NewThreadUnsafeSet[model.ID](),
		}
	}
	for _, rs := range doc.FaultStates {
		fs := &model.FaultState{
			ID: model.ID(rs.ID), FaultID: model.ID(rs.FaultID), Name: rs.Name,
			Mask: rs.Mask, Value: rs.Value, DefaultState: rs.DefaultState,
			AllowedClasses: make(map[model.ID]*model.AllowedClass),
		}
		for _, mid := range rs.MitigationIDs {
			fs.AllowedClassIDs = append(fs.AllowedClassIDs, model.ID(mid))
		}
		db.FaultStates[fs.ID] = fs
	}

	// Step (a): AllowedClass -> BeamClass, BeamDestination; FaultState
	// collects the AllowedClasses named in its MitigationIDs.
	linkAllowedClasses(doc, db, c)

	// Step (b): back-reference sets for channels already allocated above.

	// Step (c): FaultInput -> Channel, fastEvaluation flag.
	linkFaultInputs(doc, db, c)

	// Step (d): integrator/threshold index for analog FaultStates.
	decodeAnalogFaultStateIndices(db)

	// Step (e): Fault.Evaluation = FAST iff every input is FAST.
	computeFaultEvaluation(db)

	// Step (f): register FaultStates under their Fault; default state.
	registerFaultStates(db, c)

	// Step (g): sort cards into digital/analog; slice offsets.
	validateCardKind(db, c)

	// Step (h): IgnoreConditions resolve channel + back-sets.
	linkIgnoreConditions(doc, db, c)

	// Step (i): bit-position contiguity per Fault.
	validateBitPositions(db, c)

	// FAST-evaluation invariants (auto-reset, exactly-one-state) and
	// fast-field folding for the firmware config writer.
	computeFastFields(db, c)

	if err := c.err(); err != nil {
		return nil, err
	}

	for _, card := range db.Cards {
		db.CardsOrdered = append(db.CardsOrdered, card)
	}
	sort.Slice(db.CardsOrdered, func(i, j int) bool { return db.CardsOrdered[i].Number < db.CardsOrdered[j].Number })
	for _, dest := range db.Destinations {
		db.DestinationsOrdered = append(db.DestinationsOrdered, dest)
	}
	sort.Slice(db.DestinationsOrdered, func(i, j int) bool {
		return db.DestinationsOrdered[i].DisplayOrder < db.DestinationsOrdered[j].DisplayOrder
	})

	logger.Info("link-up complete",
		"crates", len(db.Crates), "cards", len(db.Cards),
		"digital", len(db.Digital), "analog", len(db.Analog),
		"faults", len(db.Faults), "destinations", len(db.Destinations))

	return db, nil
}

func parseEvaluationMode(s string) model.EvaluationMode {
	switch s {
	case "FAST":
		return model.EvalFast
	case "SLOW":
		return model.EvalSlow
	default:
		return model.EvalNone
	}
}

func computeBeamClassBounds(db *model.Database) {
	for _, bc := range db.BeamClasses {
		if db.LowestBeamClass == nil || bc.Number < db.LowestBeamClass.Number {
			db.LowestBeamClass = bc
		}
		if db.HighestBeamClass == nil || bc.Number > db.HighestBeamClass.Number {
			db.HighestBeamClass = bc
		}
	}
}

func linkAllowedClasses(doc *rawDocument, db *model.Database, c *collector) {
	for _, ra := range doc.AllowedClasses {
		ac := &model.AllowedClass{ID: model.ID(ra.ID),
			FaultStateID: model.ID(ra.FaultStateID),
			BeamDestinationID: model.ID(ra.BeamDestinationID),
			BeamClassID: model.ID(ra.BeamClassID),
		}
		cls, okCls := db.BeamClasses[ac.BeamClassID]
		dest, okDest := db.Destinations[ac.BeamDestinationID]
		if !okCls {
			c.addf("allowed class %d: unresolved beam class id %d", ac.ID, ac.BeamClassID)
		}
		if !okDest {
			c.addf("allowed class %d: unresolved beam destination id %d", ac.ID, ac.BeamDestinationID)
		}
		ac.Class, ac.Destination = cls, dest
		db.AllowedClasses[ac.ID] = ac
	}
	for _, fs := range db.FaultStates {
		for _, acID := range fs.AllowedClassIDs {
			ac, ok := db.AllowedClasses[acID]
			if !ok {
				c.addf("fault state %d: unresolved allowed class id %d", fs.ID, acID)
				continue
			}
			ac.FaultState = fs
			if ac.Destination != nil {
				fs.AllowedClasses[ac.BeamDestinationID] = ac
			}
		}
	}
}

func linkFaultInputs(doc *rawDocument, db *model.Database, c *collector) {
	for _, ri := range doc.FaultInputs {
		fi := &model.FaultInput{
			ID: model.ID(ri.ID), FaultID: model.ID(ri.FaultID),
			ChannelID: model.ID(ri.ChannelID), BitPosition: ri.BitPosition,
			AnalogIntegrator: ri.Integrator,
		}
		fault, ok := db.Faults[fi.FaultID]
		if !ok {
			c.addf("fault input %d: unresolved fault id %d", fi.ID, fi.FaultID)
		}
		fi.Fault = fault

		dch, isDigital := db.Digital[fi.ChannelID]
		ach, isAnalog := db.Analog[fi.ChannelID]
		switch {
		case isDigital && isAnalog:
			c.addf("fault input %d: channel id %d resolves to both a digital and an analog channel", fi.ID, fi.ChannelID)
		case isDigital:
			fi.ChannelKind = model.ChannelDigital
			fi.DigitalChannel = dch
			fi.FastEvaluation = dch.Mode == model.EvalFast
			dch.Inputs.Add(fi.ID)
		case isAnalog:
			fi.ChannelKind = model.ChannelAnalog
			fi.AnalogChannel = ach
			ach.Inputs.Add(fi.ID)
		default:
			c.addf("fault input %d: channel id %d does not resolve to any digital or analog channel", fi.ID, fi.ChannelID)
		}

		if fault != nil {
			fault.Inputs.Add(fi.ID)
		}
		db.FaultInputs[fi.ID] = fi
	}

	// Fill FaultState.Fault back-pointers. FaultInput.FaultStateID and
	// FaultInput.FaultState are not resolved here or by any other step;
	// they stay zero/nil.
	for _, fs := range db.FaultStates {
		fault, ok := db.Faults[fs.FaultID]
		if !ok {
			c.addf("fault state %d: unresolved fault id %d", fs.ID, fs.FaultID)
			continue
		}
		fs.Fault = fault
	}
}

func decodeAnalogFaultStateIndices(db *model.Database) {
	for _, fs := range db.FaultStates {
		if fs.Fault == nil {
			continue
		}
		analog := false
		for _, inID := range fs.Fault.Inputs.ToSlice() {
			if fi, ok := db.FaultInputs[inID]; ok && fi.ChannelKind == model.ChannelAnalog {
				analog = true
				break
			}
		}
		if !analog {
			continue
		}
		fs.IntegratorIndex = firstNonZeroByte(fs.Value)
		octet := byte(fs.Value >> (8 * uint(fs.IntegratorIndex)))
		fs.ThresholdIndex = bits.TrailingZeros8(octet)
		if fs.ThresholdIndex == 8 {
			fs.ThresholdIndex = 0
		}
	}
}

func firstNonZeroByte(v uint32) int {
	for i := 0; i < 4; i++ {
		if (v>>(8*uint(i)))&0xFF != 0 {
			return i
		}
	}
	return 0
}

func computeFaultEvaluation(db *model.Database) {
	for _, f := range db.Faults {
		if f.Inputs.Cardinality() == 0 {
			f.Evaluation = model.EvalNone
			continue
		}
		allFast := true
		for _, inID := range f.Inputs.ToSlice() {
			fi, ok := db.FaultInputs[inID]
			if !ok || !fi.FastEvaluation {
				allFast = false
				break
			}
		}
		if allFast {
			f.Evaluation = model.EvalFast
		} else {
			f.Evaluation = model.EvalSlow
		}
	}
}

func registerFaultStates(db *model.Database, c *collector) {
	for _, fs := range db.FaultStates {
		if fs.Fault == nil {
			continue
		}
		fs.Fault.States = append(fs.Fault.States, fs)
		if fs.DefaultState {
			if fs.Fault.DefaultState != nil {
				c.addf("fault %d: more than one default fault state (%d and %d)",
					fs.Fault.ID, fs.Fault.DefaultState.ID, fs.ID)
			}
			fs.Fault.DefaultState = fs
		}
	}
}

func validateCardKind(db *model.Database, c *collector) {
	for _, card := range db.Cards {
		if len(card.Digital) > 0 && len(card.Analog) > 0 {
			c.addf("application card %d: has both digital and analog channels", card.ID)
			continue
		}
		card.HasInputs = len(card.Digital) > 0 || len(card.Analog) > 0
	}
}

func linkIgnoreConditions(doc *rawDocument, db *model.Database, c *collector) {
	for _, rc := range doc.IgnoreConditions {
		ic := &model.IgnoreCondition{
			ID: model.ID(rc.ID), Name: rc.Name, Description: rc.Description,
			Mask: rc.Mask,
			Faults: mapset.NewThreadUnsafeSet[model.ID](),
			FaultInputs: mapset.NewThreadUnsafeSet[model.ID](),
		}
		for _, ri := range rc.Inputs {
			dch, ok := db.Digital[model.ID(ri.ChannelID)]
			if !ok {
				c.addf("ignore condition %d: unresolved digital channel id %d", ic.ID, ri.ChannelID)
				continue
			}
			ic.Inputs = append(ic.Inputs, model.ConditionInput{
				ChannelID: model.ID(ri.ChannelID), DigitalChannel: dch, BitPosition: ri.BitPosition,
			})
		}
		for _, fid := range rc.FaultIDs {
			if _, ok := db.Faults[model.ID(fid)]; !ok {
				c.addf("ignore condition %d: unresolved fault id %d", ic.ID, fid)
				continue
			}
			ic.Faults.Add(model.ID(fid))
		}
		for _, fiid := range rc.FaultInputIDs {
			if _, ok := db.FaultInputs[model.ID(fiid)]; !ok {
				c.addf("ignore condition %d: unresolved fault input id %d", ic.ID, fiid)
				continue
			}
			ic.FaultInputs.Add(model.ID(fiid))
		}
		db.Conditions[ic.ID] = ic
	}
}

func validateBitPositions(db *model.Database, c *collector) {
	for _, f := range db.Faults {
		ids := f.Inputs.ToSlice()
		if len(ids) == 0 {
			continue
		}
		inputs := make([]*model.FaultInput, 0, len(ids))
		maxPos := 0
		seen := map[int]bool{}
		for _, id := range ids {
			fi, ok := db.FaultInputs[id]
			if !ok {
				continue
			}
			inputs = append(inputs, fi)
			if fi.BitPosition > maxPos {
				maxPos = fi.BitPosition
			}
			if seen[fi.BitPosition] {
				c.addf("fault %d: duplicate bit position %d", f.ID, fi.BitPosition)
			}
			seen[fi.BitPosition] = true
		}
		if maxPos > 0 {
			for pos := 0; pos <= maxPos; pos++ {
				if !seen[pos] {
					c.addf("fault %d: missing bit position %d (max observed %d)", f.ID, pos, maxPos)
				}
			}
		}
		sort.Slice(inputs, func(i, j int) bool { return inputs[i].BitPosition < inputs[j].BitPosition })
		f.SetOrderedInputs(inputs)
	}
}

// computeFastFields folds the AllowedClasses of every FAST fault's
// FaultStates into the compact per-channel fields firmware actually
// consumes (spec §4.1 step c), and checks the two invariants FAST
// evaluation depends on: auto-reset must be off, and a FAST digital
// channel's Fault must carry exactly one FaultState.
func computeFastFields(db *model.Database, c *collector) {
	for _, f := range db.Faults {
		if f.Evaluation != model.EvalFast {
			continue
		}
		for _, inID := range f.Inputs.ToSlice() {
			fi, ok := db.FaultInputs[inID]
			if !ok {
				continue
			}
			switch fi.ChannelKind {
			case model.ChannelDigital:
				ch := fi.DigitalChannel
				if ch.AutoReset {
					c.addf("digital channel %d: FAST evaluation requires auto_reset=false", ch.ID)
				}
				if len(f.States) != 1 {
					c.addf("fault %d: FAST digital fault must have exactly one fault state, has %d", f.ID, len(f.States))
					continue
				}
				state := f.States[0]
				mask, value := foldAllowedClasses(state)
				ch.FastDestinationMask = mask
				ch.FastPowerClass = value
				ch.FastExpectedState = uint8((^state.Value) & state.Mask & 1)
			case model.ChannelAnalog:
				ch := fi.AnalogChannel
				if ch.AutoReset {
					c.addf("analog channel %d: FAST evaluation requires auto_reset=false", ch.ID)
				}
				for _, state := range f.States {
					if state.IntegratorIndex < 0 || state.IntegratorIndex >= model.AnalogMaxIntegratorsPerChannel {
						continue
					}
					destMask, powerClass := foldAllowedClasses(state)
					ch.FastDestinationMask[state.IntegratorIndex] |= destMask
					idx := state.IntegratorIndex*model.AnalogIntegratorSize + state.ThresholdIndex
					if idx >= 0 && idx < len(ch.FastPowerClass) {
						ch.FastPowerClass[idx] = powerClass
					}
				}
			}
		}
	}
}

// foldAllowedClasses ORs together the destination masks and takes the
// most restrictive (lowest-numbered) beam class across one FaultState's
// AllowedClasses, per spec §4.1 step c's folding rule.
func foldAllowedClasses(state *model.FaultState) (destMask uint16, powerClass uint8) {
	minNumber := -1
	for _, ac := range state.AllowedClasses {
		if ac.Destination != nil {
			destMask |= ac.Destination.DestinationMask
		}
		if ac.Class != nil && (minNumber == -1 || ac.Class.Number < minNumber) {
			minNumber = ac.Class.Number
		}
	}
	if minNumber == -1 {
		minNumber = 0
	}
	return destMask, uint8(minNumber)
}
