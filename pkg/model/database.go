package model

// Database is the fully linked object graph produced by pkg/config.
// It is replaced atomically on reload (the evaluation engine swaps in
// a new *Database between cycles); bypass records outlive any single
// Database instance and are reattached by pkg/bypass.AssignBypass.
type Database struct {
	Crates           map[ID]*Crate
	ApplicationTypes map[ID]*ApplicationType
	Cards            map[ID]*ApplicationCard
	Digital          map[ID]*DigitalChannel
	Analog           map[ID]*AnalogChannel
	FaultInputs      map[ID]*FaultInput
	Faults           map[ID]*Fault
	FaultStates      map[ID]*FaultState
	BeamClasses      map[ID]*BeamClass
	Destinations     map[ID]*BeamDestination
	AllowedClasses   map[ID]*AllowedClass
	Conditions       map[ID]*IgnoreCondition

	LowestBeamClass  *BeamClass
	HighestBeamClass *BeamClass

	// CardsOrdered/DestinationsOrdered give deterministic iteration
	// order (cards by Number, destinations by DisplayOrder) for cycle
	// phases and for the firmware config
	// writer, which needs a stable card-number -> slice-offset mapping.
	CardsOrdered        []*ApplicationCard
	DestinationsOrdered []*BeamDestination
}

// New returns an empty Database with all tables allocated, ready to be
// populated by pkg/config's decode+link-up pass.
func New() *Database {
	return &Database{
		Crates:           make(map[ID]*Crate),
		ApplicationTypes: make(map[ID]*ApplicationType),
		Cards:            make(map[ID]*ApplicationCard),
		Digital:          make(map[ID]*DigitalChannel),
		Analog:           make(map[ID]*AnalogChannel),
		FaultInputs:      make(map[ID]*FaultInput),
		Faults:           make(map[ID]*Fault),
		FaultStates:      make(map[ID]*FaultState),
		BeamClasses:      make(map[ID]*BeamClass),
		Destinations:     make(map[ID]*BeamDestination),
		AllowedClasses:   make(map[ID]*AllowedClass),
		Conditions:       make(map[ID]*IgnoreCondition),
	}
}
