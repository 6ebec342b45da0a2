package decode

import (
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pcds-mps/central-node/pkg/model"
)

type fakeTransport struct {
	online bool
	active bool
}

func (f *fakeTransport) AppTimeoutStatus(card int) (bool, error) { return f.online, nil }
func (f *fakeTransport) AppTimeoutEnable(card int) (bool, error) { return f.active, nil }

func newDigitalCard() (*model.ApplicationCard, *model.DigitalChannel) {
	ch := &model.DigitalChannel{ID: 1, Number: 0, Inputs: mapset.NewThreadUnsafeSet[model.ID]()}
	card := &model.ApplicationCard{ID: 1, Number: 0, Digital: []*model.DigitalChannel{ch}}
	ch.Card = card
	return card, ch
}

func setBits(wasLow, wasHigh bool, bitOffset int) []byte {
	buf := make([]byte, 32)
	if wasLow {
		buf[bitOffset/8] |= 1 << uint(bitOffset%8)
	}
	if wasHigh {
		buf[(bitOffset+1)/8] |= 1 << uint((bitOffset+1)%8)
	}
	return buf
}

func TestDecodeLawBothZeroIsFaultAndCountsInvalid(t *testing.T) {
	card, ch := newDigitalCard()
	slice := setBits(false, false, 0)

	_, err := UpdateCard(card, slice, &fakeTransport{}, nil)
	require.NoError(t, err)

	assert.EqualValues(t, faultValue, ch.Value)
	assert.EqualValues(t, 1, ch.InvalidValueCount)
}

func TestDecodeLawBothOneIsFault(t *testing.T) {
	card, ch := newDigitalCard()
	slice := setBits(true, true, 0)

	_, err := UpdateCard(card, slice, &fakeTransport{}, nil)
	require.NoError(t, err)

	assert.EqualValues(t, faultValue, ch.Value)
}

func TestDecodeLawAutoResetTracksValueEveryCycle(t *testing.T) {
	card, ch := newDigitalCard()
	ch.AutoReset = true

	_, err := UpdateCard(card, setBits(false, true, 0), &fakeTransport{}, nil)
	require.NoError(t, err)
	assert.Equal(t, ch.Value, ch.LatchedValue)

	_, err = UpdateCard(card, setBits(true, false, 0), &fakeTransport{}, nil)
	require.NoError(t, err)
	assert.Equal(t, ch.Value, ch.LatchedValue)
}

func TestDecodeNormalLowAndHigh(t *testing.T) {
	card, ch := newDigitalCard()

	_, err := UpdateCard(card, setBits(true, false, 0), &fakeTransport{}, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 0, ch.Value)

	_, err = UpdateCard(card, setBits(false, true, 0), &fakeTransport{}, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, ch.Value)
}

func TestActiveFlagChangeReported(t *testing.T) {
	card, _ := newDigitalCard()
	card.Active = false

	changed, err := UpdateCard(card, setBits(true, false, 0), &fakeTransport{active: true}, nil)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, card.Active)
}
