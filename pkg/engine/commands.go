package engine

import "github.com/pcds-mps/central-node/pkg/model"

// CommandKind names one kind of operator command Cycle applies while
// draining its commands channel.
type CommandKind uint8

const (
	CmdSetSoftPermit CommandKind = iota
	CmdSetMaxPermit
	CmdSetForcePermit
	CmdClearForcePermit
	CmdSetCardBypassed
	CmdSetCardIgnored
)

// Command is one operator-initiated change: a destination permit
// (soft/max/force) or a manual card bypass/ignore toggle. Commands
// never touch *model.Database directly — only Engine.Cycle applies
// them, from its single owning goroutine (spec §9).
type Command struct {
	Kind CommandKind

	DestinationID model.ID
	BeamClassID   model.ID // zero clears the permit/force class

	CardID model.ID
	Bool   bool
}
