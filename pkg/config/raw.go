// Package config decodes the YAML-described relational MPS database
// (spec §3) and links it into a pkg/model.Database graph (spec §4.1).
// Decoding and linking are kept as two distinct passes, mirroring the
// teacher's pkg/od.Parse front-end over its raw EDS sections: the raw
// types here are a direct, unresolved reflection of the YAML document;
// pkg/model holds only the resolved, pointer-linked result.
package config

// rawDocument is the top-level shape of the YAML configuration file.
type rawDocument struct {
	Crates           []rawCrate           `yaml:"crates"`
	ApplicationTypes []rawApplicationType `yaml:"application_types"`
	ApplicationCards []rawApplicationCard `yaml:"application_cards"`
	DigitalChannels  []rawDigitalChannel  `yaml:"digital_channels"`
	AnalogChannels   []rawAnalogChannel   `yaml:"analog_channels"`
	FaultInputs      []rawFaultInput      `yaml:"fault_inputs"`
	Faults           []rawFault           `yaml:"faults"`
	FaultStates      []rawFaultState      `yaml:"fault_states"`
	BeamClasses      []rawBeamClass       `yaml:"beam_classes"`
	BeamDestinations []rawBeamDestination `yaml:"beam_destinations"`
	AllowedClasses   []rawAllowedClass    `yaml:"allowed_classes"`
	IgnoreConditions []rawIgnoreCondition `yaml:"ignore_conditions"`
}

type rawCrate struct {
	ID        uint32 `yaml:"id"`
	NumSlots  int    `yaml:"num_slots"`
	Location  string `yaml:"location"`
	Rack      string `yaml:"rack"`
	Elevation int    `yaml:"elevation"`
}

type rawApplicationType struct {
	ID                  uint32 `yaml:"id"`
	Name                string `yaml:"name"`
	NumIntegrators      int    `yaml:"num_integrators"`
	AnalogChannelCount  int    `yaml:"analog_channel_count"`
	DigitalChannelCount int    `yaml:"digital_channel_count"`
}

type rawApplicationCard struct {
	ID      uint32 `yaml:"id"`
	Number  int    `yaml:"number"`
	CrateID uint32 `yaml:"crate_id"`
	TypeID  uint32 `yaml:"type_id"`
}

type rawDigitalChannel struct {
	ID        uint32 `yaml:"id"`
	CardID    uint32 `yaml:"card_id"`
	Number    int    `yaml:"number"`
	Name      string `yaml:"name"`
	Debounce  int    `yaml:"debounce"`
	AutoReset bool   `yaml:"auto_reset"`
	Mode      string `yaml:"evaluation"` // "SLOW" | "FAST" | "NONE"
}

type rawAnalogChannel struct {
	ID              uint32  `yaml:"id"`
	CardID          uint32  `yaml:"card_id"`
	Number          int     `yaml:"number"`
	Name            string  `yaml:"name"`
	Offset          float64 `yaml:"offset"`
	Slope           float64 `yaml:"slope"`
	Units           string  `yaml:"egu"`
	IntegratorCount int     `yaml:"integrator_count"`
	AutoReset       bool    `yaml:"auto_reset"`
}

type rawFaultInput struct {
	ID          uint32 `yaml:"id"`
	FaultID     uint32 `yaml:"fault_id"`
	ChannelID   uint32 `yaml:"channel_id"`
	BitPosition int    `yaml:"bit_position"`
	// Integrator selects which integrator bit of an analog channel
	// this input reads; ignored for digital channels.
	Integrator int `yaml:"integrator"`
}

type rawFault struct {
	ID          uint32 `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type rawFaultState struct {
	ID              uint32   `yaml:"id"`
	FaultID         uint32   `yaml:"fault_id"`
	Name            string   `yaml:"name"`
	Mask            uint32   `yaml:"mask"`
	Value           uint32   `yaml:"value"`
	DefaultState    bool     `yaml:"default_state"`
	MitigationIDs   []uint32 `yaml:"mitigation_ids"`
}

type rawBeamClass struct {
	ID                uint32 `yaml:"id"`
	Number            int    `yaml:"number"`
	Name              string `yaml:"name"`
	IntegrationWindow uint32 `yaml:"integration_window"`
	MinPeriod         uint32 `yaml:"min_period"`
	TotalCharge       uint32 `yaml:"total_charge"`
}

type rawBeamDestination struct {
	ID                     uint32 `yaml:"id"`
	Name                   string `yaml:"name"`
	DestinationMask        uint16 `yaml:"destination_mask"`
	DisplayOrder           int    `yaml:"display_order"`
	Buffer0DestinationMask uint32 `yaml:"buffer0_destination_mask"`
	Buffer1DestinationMask uint32 `yaml:"buffer1_destination_mask"`
}

type rawAllowedClass struct {
	ID                uint32 `yaml:"id"`
	FaultStateID      uint32 `yaml:"fault_state_id"`
	BeamDestinationID uint32 `yaml:"beam_destination_id"`
	BeamClassID       uint32 `yaml:"beam_class_id"`
}

type rawConditionInput struct {
	ChannelID   uint32 `yaml:"channel_id"`
	BitPosition int    `yaml:"bit_position"`
}

type rawIgnoreCondition struct {
	ID          uint32              `yaml:"id"`
	Name        string              `yaml:"name"`
	Description string              `yaml:"description"`
	Mask        uint32              `yaml:"mask"`
	Inputs      []rawConditionInput `yaml:"inputs"`
	FaultIDs    []uint32            `yaml:"fault_ids"`
	FaultInputIDs []uint32          `yaml:"fault_input_ids"`
}
