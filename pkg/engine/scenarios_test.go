package engine

import (
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcds-mps/central-node/pkg/model"
)

func classNumber(d *model.BeamDestination) int { return d.AllowedBeamClass.Number }

// Scenario A — baseline, no faults: every destination settles at
// highestBeamClass after the first cycle.
func TestScenarioA_Baseline(t *testing.T) {
	w := newWorld()
	eng := w.newEngine()

	require.NoError(t, eng.Cycle(w.newUpdateBuffer()))

	assert.Equal(t, 7, classNumber(w.dests["D0"]))
	assert.Equal(t, 7, classNumber(w.dests["D1"]))
}

// Scenario B — single fault lowers class, and clears when the input
// returns to nominal.
func TestScenarioB_SingleFaultLowersClass(t *testing.T) {
	w := newWorld()
	w.addFault("F1", "C1", "D0", 2)
	eng := w.newEngine()

	buf := w.newUpdateBuffer()
	w.setChannel(buf, "C1", false)
	require.NoError(t, eng.Cycle(buf))
	assert.Equal(t, 7, classNumber(w.dests["D0"]), "cycle 1: nominal input, no fault")

	buf = w.newUpdateBuffer()
	w.setChannel(buf, "C1", true)
	require.NoError(t, eng.Cycle(buf))
	assert.Equal(t, 2, classNumber(w.dests["D0"]), "cycle 2: faulted input, S1 applies")

	buf = w.newUpdateBuffer()
	w.setChannel(buf, "C1", false)
	require.NoError(t, eng.Cycle(buf))
	assert.Equal(t, 7, classNumber(w.dests["D0"]), "cycle 3: back to nominal, no default state")
}

// Scenario C — a bypass at the current time blocks the fault from
// reaching mitigation until it expires.
func TestScenarioC_BypassBlocksFaultUntilExpiry(t *testing.T) {
	w := newWorld()
	w.addFault("F1", "C1", "D0", 2)
	eng := w.newEngineWithBypass()
	eng.now = func() int64 { return 0 }

	buf := w.newUpdateBuffer()
	w.setChannel(buf, "C1", true)
	require.NoError(t, eng.Cycle(buf))
	require.Equal(t, 2, classNumber(w.dests["D0"]), "cycle 2 baseline: faulted")

	require.NoError(t, w.bypassMgr.SetBypass(w.chans["C1"].ID, 0, 100, true))

	eng.now = func() int64 { return 50 }
	buf = w.newUpdateBuffer()
	w.setChannel(buf, "C1", true)
	require.NoError(t, eng.Cycle(buf))
	assert.Equal(t, 7, classNumber(w.dests["D0"]), "cycle 4: bypass substitutes value 0")

	eng.now = func() int64 { return 101 }
	buf = w.newUpdateBuffer()
	w.setChannel(buf, "C1", true)
	require.NoError(t, eng.Cycle(buf))
	assert.Equal(t, 2, classNumber(w.dests["D0"]), "cycle 5: bypass expired, live value faults again")
}

// Scenario D — an ignore condition suppresses a fault's mitigation
// while its gate channel is in the expected state.
func TestScenarioD_IgnoreConditionSuppressesFault(t *testing.T) {
	w := newWorld()
	f2 := w.addFault("F2", "G2", "D1", 3)

	ic := &model.IgnoreCondition{
		ID: 1, Name: "IC", Mask: 1,
		Inputs:      []model.ConditionInput{{ChannelID: w.chans["Gate"].ID, DigitalChannel: w.chans["Gate"], BitPosition: 0}},
		Faults:      mapset.NewThreadUnsafeSet[model.ID](),
		FaultInputs: mapset.NewThreadUnsafeSet[model.ID](),
	}
	ic.Faults.Add(f2.ID)
	w.db.Conditions[ic.ID] = ic

	eng := w.newEngine()

	buf := w.newUpdateBuffer()
	w.setChannel(buf, "Gate", false)
	w.setChannel(buf, "G2", true)
	require.NoError(t, eng.Cycle(buf))
	assert.Equal(t, 3, classNumber(w.dests["D1"]), "gate low: fault mitigates normally")

	buf = w.newUpdateBuffer()
	w.setChannel(buf, "Gate", true)
	w.setChannel(buf, "G2", true)
	require.NoError(t, eng.Cycle(buf))
	assert.Equal(t, 7, classNumber(w.dests["D1"]), "gate high: fault's state is ignored")
}

// Scenario E — multiple simultaneous faults fold to the minimum
// (most restrictive) allowed class for a shared destination.
func TestScenarioE_MultiFaultFold(t *testing.T) {
	w := newWorld()
	w.addFault("F3", "C2", "D0", 5)
	w.addFault("F4", "C3", "D0", 2)
	w.addFault("F5", "C4", "D0", 6)
	eng := w.newEngine()

	buf := w.newUpdateBuffer()
	w.setChannel(buf, "C2", true)
	w.setChannel(buf, "C3", true)
	w.setChannel(buf, "C4", true)
	require.NoError(t, eng.Cycle(buf))

	assert.Equal(t, 2, classNumber(w.dests["D0"]))
}

// Scenario F — softPermit overrides tentative downward but never
// raises it.
func TestScenarioF_SoftPermitNeverRaises(t *testing.T) {
	w := newWorld()
	eng := w.newEngine()

	w.dests["D0"].SoftPermit = w.classes[3]
	require.NoError(t, eng.Cycle(w.newUpdateBuffer()))
	assert.Equal(t, 3, classNumber(w.dests["D0"]), "tentative=7, softPermit=3 -> 3")

	w.addFault("F1", "C1", "D0", 2)
	w.dests["D0"].SoftPermit = w.classes[5]
	buf := w.newUpdateBuffer()
	w.setChannel(buf, "C1", true)
	require.NoError(t, eng.Cycle(buf))
	assert.Equal(t, 2, classNumber(w.dests["D0"]), "tentative=2, softPermit=5 -> softPermit never raises")
}

// Scenario G — a fault's DefaultState applies its own AllowedClasses
// exactly when no explicit state's mask/value matches, and the
// explicit state's AllowedClasses win whenever it does match.
func TestScenarioG_DefaultStateAppliesWhenNoExplicitStateMatches(t *testing.T) {
	w := newWorld()
	f := w.addFaultWithDefault("F1", "C1", "D0", 2, 5)
	eng := w.newEngine()

	buf := w.newUpdateBuffer()
	w.setChannel(buf, "C1", true)
	require.NoError(t, eng.Cycle(buf))
	assert.True(t, f.States[0].Faulted, "explicit state must match when its value/mask condition holds")
	assert.False(t, f.DefaultState.Faulted, "default state must not fault while an explicit state matches")
	assert.Equal(t, 2, classNumber(w.dests["D0"]), "explicit state's allowed class applies")

	buf = w.newUpdateBuffer()
	w.setChannel(buf, "C1", false)
	require.NoError(t, eng.Cycle(buf))
	assert.False(t, f.States[0].Faulted, "explicit state must not match once its condition no longer holds")
	assert.True(t, f.DefaultState.Faulted, "default state must fault when no explicit state matches")
	assert.Equal(t, 5, classNumber(w.dests["D0"]), "default state's allowed class applies")
}

// Commands channel drives softPermit the same way an operator API
// would, exercising Engine.Commands()/applyCommand.
func TestCommandSetSoftPermit(t *testing.T) {
	w := newWorld()
	eng := w.newEngine()

	eng.Commands() <- Command{Kind: CmdSetSoftPermit, DestinationID: w.dests["D0"].ID, BeamClassID: w.classes[4].ID}
	require.NoError(t, eng.Cycle(w.newUpdateBuffer()))

	assert.Equal(t, 4, classNumber(w.dests["D0"]))
}
