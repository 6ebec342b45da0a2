package firmware

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pcds-mps/central-node/pkg/model"
)

func TestBuildCardConfigSliceDigitalLayout(t *testing.T) {
	ch := &model.DigitalChannel{Number: 2, FastPowerClass: 5, FastDestinationMask: 0b1010, FastExpectedState: 1}
	card := &model.ApplicationCard{Digital: []*model.DigitalChannel{ch}}

	slice := buildCardConfigSlice(card)

	base := ch.Number * model.DigitalConfigBitsPerChannel
	var powerClass uint32
	for i := 0; i < 4; i++ {
		bit := base + i
		if slice[bit/8]&(1<<uint(bit%8)) != 0 {
			powerClass |= 1 << uint(i)
		}
	}
	assert.EqualValues(t, 5, powerClass)

	var destMask uint32
	for i := 0; i < 16; i++ {
		bit := base + 4 + i
		if slice[bit/8]&(1<<uint(bit%8)) != 0 {
			destMask |= 1 << uint(i)
		}
	}
	assert.EqualValues(t, 0b1010, destMask)

	expectedBit := base + 20
	assert.NotZero(t, slice[expectedBit/8]&(1<<uint(expectedBit%8)))
}

func TestBuildTimeoutMaskMarksOnlyCardsWithInputs(t *testing.T) {
	db := model.New()
	c1 := &model.ApplicationCard{ID: 1, Number: 0, HasInputs: true}
	c2 := &model.ApplicationCard{ID: 2, Number: 1, HasInputs: false}
	db.CardsOrdered = []*model.ApplicationCard{c1, c2}

	mask := buildTimeoutMask(db)

	assert.NotZero(t, mask[0]&1, "card 0 has inputs, bit must be set")
	assert.Zero(t, mask[0]&2, "card 1 has no inputs, bit must be clear")
}

func TestBuildBeamTimingOrdersByClassNumber(t *testing.T) {
	db := model.New()
	db.BeamClasses[1] = &model.BeamClass{ID: 1, Number: 0, IntegrationWindow: 10, MinPeriod: 20, TotalCharge: 30}
	db.BeamClasses[2] = &model.BeamClass{ID: 2, Number: 7, IntegrationWindow: 40, MinPeriod: 50, TotalCharge: 60}

	intTime, minPeriod, intCharge := buildBeamTiming(db)

	assert.EqualValues(t, 10, intTime[0])
	assert.EqualValues(t, 40, intTime[7])
	assert.EqualValues(t, 20, minPeriod[0])
	assert.EqualValues(t, 60, intCharge[7])
}
