// Package model holds the linked, runtime-mutated object graph produced
// by pkg/config's link-up phase: crates, application cards, channels,
// faults, fault states, conditions, beam classes/destinations and their
// resolved cross-references. Entities are created once at load and
// never structurally mutated afterwards; only their scalar per-cycle
// fields change.
package model

import mapset "github.com/deckarep/golang-set/v2"

// ID is the identifier space used by the YAML configuration and by
// every cross-reference between entities.
type ID uint32

// EvaluationMode classifies whether a channel/fault is evaluated by
// firmware directly (FAST) or by software each cycle (SLOW), or not
// evaluated at all (NONE).
type EvaluationMode uint8

const (
	EvalNone EvaluationMode = iota
	EvalSlow
	EvalFast
)

// ChannelKind distinguishes a digital channel from an analog one.
type ChannelKind uint8

const (
	ChannelDigital ChannelKind = iota
	ChannelAnalog
)

// BypassStatus is the live state of a BypassState slot, shared between
// pkg/model (read by decode/engine) and pkg/bypass (sole writer).
type BypassStatus uint8

const (
	BypassExpired BypassStatus = iota
	BypassValid
)

// BypassState is a mutable slot owned and written exclusively by
// pkg/bypass, read by pkg/decode and pkg/engine through a channel's or
// integrator's pointer to it. Keeping this type in pkg/model (rather
// than in pkg/bypass, which would create an import cycle) lets
// channels carry a typed pointer to their own bypass state without
// pkg/model depending on pkg/bypass.
type BypassState struct {
	Status       BypassStatus
	Value        uint32 // effective value substituted while Valid, SLOW evaluation only
	Until        int64  // seconds since epoch
	ConfigUpdate bool   // true if a status change here must trigger a firmware config reload
}

// Crate is a physical chassis hosting application cards.
type Crate struct {
	ID        ID
	NumSlots  int
	Location  string
	Rack      string
	Elevation int
	Cards     []*ApplicationCard
}

// ApplicationType describes a class of application card.
type ApplicationType struct {
	ID                 ID
	Name               string
	NumIntegrators     int
	AnalogChannelCount int
	DigitalChannelCount int
}

// ApplicationCard is a physical card hosting either digital or analog
// channels, never both.
type ApplicationCard struct {
	ID     ID
	Number int // also the index used for firmware slice offsets

	CrateID ID
	Crate   *Crate

	TypeID ID
	Type   *ApplicationType

	Digital []*DigitalChannel
	Analog  []*AnalogChannel

	// ConfigSliceBits / UpdateSliceBits are this card's bit offsets
	// into the shared firmware configuration/update buffers, computed
	// in link-up step (g) as Number * sliceSize.
	ConfigSliceBits int
	UpdateSliceBits int

	Online    bool
	Active    bool
	Bypassed  bool
	Ignored   bool
	HasInputs bool
}

func (c *ApplicationCard) IsDigital() bool { return len(c.Digital) > 0 }
func (c *ApplicationCard) IsAnalog() bool  { return len(c.Analog) > 0 }

// DigitalChannel is one logical digital input of a card.
type DigitalChannel struct {
	ID     ID
	Number int // channel number within the card
	Name   string

	CardID ID
	Card   *ApplicationCard

	Debounce  int
	AutoReset bool
	Mode      EvaluationMode

	Value             uint32
	PreviousValue     uint32
	LatchedValue      uint32
	InvalidValueCount uint64

	// FAST-evaluation fields, computed once at link-up.
	FastExpectedState   uint8
	FastDestinationMask uint16
	FastPowerClass      uint8

	Inputs mapset.Set[ID] // FaultInput IDs this channel participates in

	Bypass *BypassState
}

// AnalogChannel is one analog input, whose value is a bitfield of up
// to AnalogMaxIntegratorsPerChannel 8-bit comparator states.
type AnalogChannel struct {
	ID     ID
	Number int
	Name   string

	CardID ID
	Card   *ApplicationCard

	Offset           float64
	Slope            float64
	Units            string
	IntegratorCount  int
	AutoReset        bool

	Value         uint32
	PreviousValue uint32
	LatchedValue  uint32

	InvalidValueCount uint64

	// BypassMask: bit set = integrator NOT bypassed (matches the
	// original's "1 otherwise" convention).
	BypassMask uint32
	IgnoredIntegrator [AnalogMaxIntegratorsPerChannel]bool

	FastDestinationMask [AnalogMaxIntegratorsPerChannel]uint16
	FastPowerClass      [AnalogMaxIntegratorsPerChannel * AnalogIntegratorSize]uint8

	Bypass [AnalogMaxIntegratorsPerChannel]*BypassState

	Inputs mapset.Set[ID]
}

// FaultInput is one bit contribution to a Fault.
type FaultInput struct {
	ID      ID
	FaultID ID
	Fault   *Fault

	ChannelKind     ChannelKind
	ChannelID       ID
	DigitalChannel  *DigitalChannel
	AnalogChannel   *AnalogChannel
	AnalogIntegrator int // only meaningful when ChannelKind == ChannelAnalog

	BitPosition int

	FaultStateID ID
	FaultState   *FaultState

	FastEvaluation bool
}

// EffectiveValue returns the bit this input contributes to its
// Fault's composite value for the current cycle: the bypass value if
// a SLOW-evaluation bypass is Valid, otherwise the channel's live
// value (spec §4.4 step 3).
func (fi *FaultInput) EffectiveValue() uint32 {
	switch fi.ChannelKind {
	case ChannelDigital:
		ch := fi.DigitalChannel
		if ch.Bypass != nil && ch.Bypass.Status == BypassValid && fi.Fault.Evaluation == EvalSlow {
			return ch.Bypass.Value & 1
		}
		return ch.Value & 1
	case ChannelAnalog:
		ch := fi.AnalogChannel
		bit := (ch.Value >> uint(fi.AnalogIntegrator)) & 1
		bp := ch.Bypass[fi.AnalogIntegrator]
		if bp != nil && bp.Status == BypassValid && fi.Fault.Evaluation == EvalSlow {
			return bp.Value & 1
		}
		return bit
	default:
		return 0
	}
}

// Fault is a named rule mapping a composite of inputs to one of
// several FaultStates.
type Fault struct {
	ID          ID
	Name        string
	Description string

	Inputs mapset.Set[ID] // FaultInput IDs (unordered; inputsOrdered holds the BitPosition order)
	inputsOrdered []*FaultInput

	States       []*FaultState
	DefaultState *FaultState

	Value          uint32
	Faulted        bool
	Ignored        bool
	Bypassed       bool
	FaultedOffline bool
	Evaluation     EvaluationMode
}

// OrderedInputs returns this fault's inputs sorted by BitPosition,
// populated once during link-up step (i).
func (f *Fault) OrderedInputs() []*FaultInput { return f.inputsOrdered }

// SetOrderedInputs is called once by pkg/config's link-up.
func (f *Fault) SetOrderedInputs(inputs []*FaultInput) { f.inputsOrdered = inputs }

// FaultState identifies one concrete failure mode of a Fault via a
// mask/value pattern.
type FaultState struct {
	ID      ID
	FaultID ID
	Fault   *Fault

	Name         string
	Mask         uint32
	Value        uint32
	DefaultState bool

	// AllowedClassIDs are the raw YAML "mitigationIds" — AllowedClass
	// entries, despite the historical field name.
	AllowedClassIDs []ID
	AllowedClasses  map[ID]*AllowedClass // keyed by BeamDestination ID

	Faulted bool
	Ignored bool

	// Populated at link-up for analog FaultStates (step d).
	IntegratorIndex int
	ThresholdIndex  int
}

// BeamClass is an ordinal power level: lower Number is more restrictive.
type BeamClass struct {
	ID     ID
	Number int
	Name   string

	IntegrationWindow uint32
	MinPeriod         uint32
	TotalCharge       uint32
}

// BeamDestination is one of up to NumDestinations physical targets.
type BeamDestination struct {
	ID   ID
	Name string

	DestinationMask uint16
	DisplayOrder    int

	Buffer0DestinationMask uint32
	Buffer1DestinationMask uint32

	TentativeBeamClass      *BeamClass
	AllowedBeamClass        *BeamClass
	PreviousAllowedBeamClass *BeamClass

	ForceBeamClass *BeamClass
	SoftPermit     *BeamClass
	MaxPermit      *BeamClass
}

// AllowedClass reads as: when FaultState is active, Destination may
// run no higher than Class.
type AllowedClass struct {
	ID ID

	FaultStateID ID
	FaultState   *FaultState

	BeamDestinationID ID
	Destination       *BeamDestination

	BeamClassID ID
	Class       *BeamClass
}

// ConditionInput is one bit contribution to an IgnoreCondition's
// composite conditionValue.
type ConditionInput struct {
	ChannelID      ID
	DigitalChannel *DigitalChannel
	BitPosition    int
}

// IgnoreCondition suppresses a set of Faults and/or FaultInputs
// whenever its composite conditionValue equals Mask.
type IgnoreCondition struct {
	ID          ID
	Name        string
	Description string

	Inputs []ConditionInput
	Mask   uint32

	State bool // true when the condition is currently met

	Faults      mapset.Set[ID]
	FaultInputs mapset.Set[ID]
}

// ConditionValue composes this condition's live value from its inputs.
func (ic *IgnoreCondition) ConditionValue() uint32 {
	var v uint32
	for _, in := range ic.Inputs {
		v |= (in.DigitalChannel.Value & 1) << uint(in.BitPosition)
	}
	return v
}
