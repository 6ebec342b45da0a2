package engine

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/pcds-mps/central-node/pkg/bypass"
	"github.com/pcds-mps/central-node/pkg/model"
)

// world is a small, fully-linked fixture built by hand (bypassing
// pkg/config entirely) so engine tests can drive Cycle deterministically
// without a YAML fixture file.
type world struct {
	db      *model.Database
	chans   map[string]*model.DigitalChannel
	faults  map[string]*model.Fault
	dests   map[string]*model.BeamDestination
	classes map[int]*model.BeamClass
	card    *model.ApplicationCard

	bypassMgr *bypass.Manager
}

// newWorld builds eight beam classes (0..7), one card hosting six
// single-bit digital channels (C1, Gate, G2, C2, C3, C4), two
// destinations (D0 at displayOrder 0, D1 at displayOrder 1), and no
// faults/conditions yet — callers wire those up per scenario.
func newWorld() *world {
	db := model.New()
	w := &world{
		db:      db,
		chans:   make(map[string]*model.DigitalChannel),
		faults:  make(map[string]*model.Fault),
		dests:   make(map[string]*model.BeamDestination),
		classes: make(map[int]*model.BeamClass),
	}

	for n := 0; n <= 7; n++ {
		bc := &model.BeamClass{ID: model.ID(n + 1), Number: n}
		db.BeamClasses[bc.ID] = bc
		w.classes[n] = bc
		if db.LowestBeamClass == nil || n < db.LowestBeamClass.Number {
			db.LowestBeamClass = bc
		}
		if db.HighestBeamClass == nil || n > db.HighestBeamClass.Number {
			db.HighestBeamClass = bc
		}
	}

	card := &model.ApplicationCard{ID: 1, Number: 0, UpdateSliceBits: 0}
	w.card = card
	db.Cards[card.ID] = card

	names := []string{"C1", "Gate", "G2", "C2", "C3", "C4"}
	for i, name := range names {
		ch := &model.DigitalChannel{
			ID: model.ID(i + 1), Number: i, Name: name, Card: card,
			Inputs: mapset.NewThreadUnsafeSet[model.ID](),
		}
		db.Digital[ch.ID] = ch
		card.Digital = append(card.Digital, ch)
		w.chans[name] = ch
	}
	db.CardsOrdered = []*model.ApplicationCard{card}

	d0 := &model.BeamDestination{ID: 1, Name: "D0", DisplayOrder: 0, Buffer0DestinationMask: 0xF}
	d1 := &model.BeamDestination{ID: 2, Name: "D1", DisplayOrder: 1, Buffer0DestinationMask: 0xF0}
	db.Destinations[d0.ID] = d0
	db.Destinations[d1.ID] = d1
	db.DestinationsOrdered = []*model.BeamDestination{d0, d1}
	w.dests["D0"] = d0
	w.dests["D1"] = d1

	return w
}

// addFault wires a single-bit Fault whose one FaultInput is chName at
// bitPos 0, with one non-default FaultState (value=1, mask=1) allowing
// destName no higher than class allowedNumber.
func (w *world) addFault(name string, chName string, destName string, allowedNumber int) *model.Fault {
	ch := w.chans[chName]
	dest := w.dests[destName]
	class := w.classes[allowedNumber]

	fID := model.ID(len(w.faults) + 1)
	f := &model.Fault{ID: fID, Name: name, Evaluation: model.EvalSlow, Inputs: mapset.NewThreadUnsafeSet[model.ID]()}

	fi := &model.FaultInput{
		ID: fID, FaultID: f.ID, Fault: f,
		ChannelKind: model.ChannelDigital, ChannelID: ch.ID, DigitalChannel: ch,
		BitPosition: 0,
	}
	w.db.FaultInputs[fi.ID] = fi
	f.Inputs.Add(fi.ID)
	f.SetOrderedInputs([]*model.FaultInput{fi})

	st := &model.FaultState{ID: fID, FaultID: f.ID, Fault: f, Name: name + "_S1", Mask: 1, Value: 1}
	st.AllowedClasses = map[model.ID]*model.AllowedClass{
		dest.ID: {ID: fID, FaultStateID: st.ID, BeamDestinationID: dest.ID, Destination: dest, BeamClassID: class.ID, Class: class},
	}
	f.States = []*model.FaultState{st}

	w.db.Faults[f.ID] = f
	w.faults[name] = f
	return f
}

// addFaultWithDefault wires a single-bit Fault the same way addFault
// does, but also attaches a DefaultState whose AllowedClasses apply
// whenever no explicit state's mask/value matches (f.DefaultState.Faulted
// = !anyMatched).
func (w *world) addFaultWithDefault(name string, chName string, destName string, explicitAllowed, defaultAllowed int) *model.Fault {
	f := w.addFault(name, chName, destName, explicitAllowed)
	dest := w.dests[destName]
	class := w.classes[defaultAllowed]

	def := &model.FaultState{
		ID: model.ID(10000 + int(f.ID)), FaultID: f.ID, Fault: f,
		Name: name + "_default", DefaultState: true,
	}
	def.AllowedClasses = map[model.ID]*model.AllowedClass{
		dest.ID: {ID: def.ID, FaultStateID: def.ID, BeamDestinationID: dest.ID, Destination: dest, BeamClassID: class.ID, Class: class},
	}
	f.States = append(f.States, def)
	f.DefaultState = def
	return f
}

// setChannel sets chName's decoded value for the next Cycle's update
// buffer: high encodes 1 (wasHigh only), low encodes 0 (wasLow only).
func (w *world) setChannel(buf []byte, chName string, high bool) {
	ch := w.chans[chName]
	bit := updateHeaderBytes*8 + w.card.UpdateSliceBits + 2*ch.Number
	byteIdx := bit / 8
	if high {
		byteIdx = (bit + 1) / 8
		buf[byteIdx] |= 1 << uint((bit+1)%8)
	} else {
		buf[byteIdx] |= 1 << uint(bit%8)
	}
}

// newUpdateBuffer allocates a header + single-card-slice update buffer
// sized for this world's one card.
func (w *world) newUpdateBuffer() []byte {
	return make([]byte, updateHeaderBytes+model.UpdateSliceBits/8)
}

type fakeTransport struct{}

func (fakeTransport) AppTimeoutStatus(card int) (bool, error) { return false, nil }
func (fakeTransport) AppTimeoutEnable(card int) (bool, error) { return true, nil }

func (w *world) newEngine() *Engine {
	return New(Config{Database: w.db, Transport: fakeTransport{}}, nil)
}

func (w *world) newEngineWithBypass() *Engine {
	w.bypassMgr = bypass.New(nil, nil)
	w.bypassMgr.CreateBypassMap(w.db)
	_ = w.bypassMgr.AssignBypass(w.db)
	return New(Config{Database: w.db, Bypass: w.bypassMgr, Transport: fakeTransport{}}, nil)
}
