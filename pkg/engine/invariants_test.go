package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestInvariantRangeAndMonotoneOverride exercises spec §8's first two
// universal invariants across several cycles with varying inputs:
// allowed always sits inside [lowest, highest] and never exceeds
// tentative.
func TestInvariantRangeAndMonotoneOverride(t *testing.T) {
	w := newWorld()
	w.addFault("F1", "C1", "D0", 2)
	w.addFault("F4", "C3", "D0", 5)
	eng := w.newEngine()

	inputs := [][2]bool{{false, false}, {true, false}, {false, true}, {true, true}, {false, false}}
	for i, in := range inputs {
		buf := w.newUpdateBuffer()
		w.setChannel(buf, "C1", in[0])
		w.setChannel(buf, "C3", in[1])
		require.NoError(t, eng.Cycle(buf))

		for _, d := range w.db.DestinationsOrdered {
			assert.GreaterOrEqualf(t, d.AllowedBeamClass.Number, w.db.LowestBeamClass.Number, "cycle %d dest %s below lowest", i, d.Name)
			assert.LessOrEqualf(t, d.AllowedBeamClass.Number, w.db.HighestBeamClass.Number, "cycle %d dest %s above highest", i, d.Name)
			assert.LessOrEqualf(t, d.AllowedBeamClass.Number, d.TentativeBeamClass.Number, "cycle %d dest %s allowed exceeds tentative", i, d.Name)
		}
	}
}

// TestInvariantIdempotent: evaluating the same inputs twice, from the
// same starting configuration, yields identical destination beam
// classes (spec §8).
func TestInvariantIdempotent(t *testing.T) {
	run := func() int {
		w := newWorld()
		w.addFault("F1", "C1", "D0", 2)
		eng := w.newEngine()
		buf := w.newUpdateBuffer()
		w.setChannel(buf, "C1", true)
		require.NoError(t, eng.Cycle(buf))
		return w.dests["D0"].AllowedBeamClass.Number
	}

	first := run()
	second := run()
	assert.Equal(t, first, second)
}

// TestInvariantMonotoneInFaults: adding a faulted, non-ignored
// FaultState can only lower a destination's allowed class, never raise
// it (spec §8).
func TestInvariantMonotoneInFaults(t *testing.T) {
	w := newWorld()
	eng := w.newEngine()
	require.NoError(t, eng.Cycle(w.newUpdateBuffer()))
	baseline := w.dests["D0"].AllowedBeamClass.Number

	w.addFault("F1", "C1", "D0", 3)
	buf := w.newUpdateBuffer()
	w.setChannel(buf, "C1", true)
	require.NoError(t, eng.Cycle(buf))
	withFault := w.dests["D0"].AllowedBeamClass.Number

	assert.LessOrEqual(t, withFault, baseline, "adding a faulted state must not raise the allowed class")
	assert.Equal(t, 3, withFault)
}
